package jobq

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueEnqueueReturnsGeneratedID(t *testing.T) {
	q, _ := newTestQueue(t, 1)
	auto := false
	id, err := q.Enqueue(context.Background(), "x", nil, EnqueueOptions{AutoStart: &auto})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
}

func TestQueueEnqueueWrapsAdapterErrorAsEnqueueError(t *testing.T) {
	q := NewQueue(QueueOptions{Adapter: &rejectingAdapter{}, Logger: silentLogger()})
	_, err := q.Enqueue(context.Background(), "x", nil, EnqueueOptions{})

	var enqueueErr *EnqueueError
	require.ErrorAs(t, err, &enqueueErr)
}

type rejectingAdapter struct{ fakeAdapter }

func (r *rejectingAdapter) AddJob(ctx context.Context, job *Job) error {
	return assertErr
}

func TestQueueGetJobReturnsDefensiveCopy(t *testing.T) {
	q, _ := newTestQueue(t, 1)
	ctx := context.Background()
	auto := false
	id, err := q.Enqueue(ctx, "x", nil, EnqueueOptions{AutoStart: &auto})
	require.NoError(t, err)

	got, ok, err := q.GetJob(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)

	got.Priority = 999
	again, _, _ := q.GetJob(ctx, id)
	assert.NotEqual(t, 999, again.Priority)
}

func TestQueueStartRecoversGhostJobsOnce(t *testing.T) {
	a := NewMemoryAdapter()
	ctx := context.Background()
	ghost := newJob("ghost", "x", nil, EnqueueOptions{})
	ghost.Active = true
	require.NoError(t, a.AddJob(ctx, ghost))

	q := NewQueue(QueueOptions{Adapter: a, Logger: silentLogger()})
	require.NoError(t, q.Start(ctx))

	job, ok, err := a.GetJob(ctx, "ghost")
	require.NoError(t, err)
	require.True(t, ok)
	assert.False(t, job.Active)

	q.Shutdown()
}

// blockingRecoverAdapter lets a test pause Start mid-recovery so it can
// race a concurrent Stop against it.
type blockingRecoverAdapter struct {
	fakeAdapter
	recoverStarted chan struct{}
	proceed        chan struct{}
}

func (a *blockingRecoverAdapter) Recover(ctx context.Context) error {
	close(a.recoverStarted)
	<-a.proceed
	return nil
}

func TestQueueStartAbortsWhenStopRacesRecovery(t *testing.T) {
	a := &blockingRecoverAdapter{recoverStarted: make(chan struct{}), proceed: make(chan struct{})}
	q := NewQueue(QueueOptions{Adapter: a, Logger: silentLogger()})

	startErr := make(chan error, 1)
	go func() { startErr <- q.Start(context.Background()) }()

	<-a.recoverStarted
	q.Stop()
	close(a.proceed)

	assert.ErrorIs(t, <-startErr, errStoppedDuringRecovery)
}

func TestQueueOnDeliversEventsAcrossLifecycle(t *testing.T) {
	q, _ := newTestQueue(t, 1)
	ctx := context.Background()

	var seen []EventName
	q.On(EventStart, func(job *Job, err error) { seen = append(seen, EventStart) })
	q.On(EventSuccess, func(job *Job, err error) { seen = append(seen, EventSuccess) })

	q.AddWorker("x", func(ctx context.Context, jobID string, payload any) error { return nil }, WorkerOptions{})
	_, err := q.Enqueue(ctx, "x", nil, EnqueueOptions{})
	require.NoError(t, err)

	waitFor(t, time.Second, func() bool { return len(seen) == 2 })
	assert.Equal(t, []EventName{EventStart, EventSuccess}, seen)
}

func TestQueueDeleteAll(t *testing.T) {
	q, a := newTestQueue(t, 1)
	ctx := context.Background()
	auto := false
	_, err := q.Enqueue(ctx, "x", nil, EnqueueOptions{AutoStart: &auto})
	require.NoError(t, err)

	require.NoError(t, q.DeleteAll(ctx))
	jobs, _ := a.GetJobs(ctx)
	assert.Empty(t, jobs)
}
