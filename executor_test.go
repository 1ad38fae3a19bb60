package jobq

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAdapter is a minimal, single-job-aware Adapter stand-in for
// exercising the executor without a real store.
type fakeAdapter struct {
	mu         sync.Mutex
	updated    []*Job
	removed    []string
	updateErr  error
	removeErr  error
	dlq        []*Job
	supportDLQ bool
}

func (f *fakeAdapter) AddJob(ctx context.Context, job *Job) error { return nil }

func (f *fakeAdapter) UpdateJob(ctx context.Context, job *Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updated = append(f.updated, job.clone())
	return f.updateErr
}

func (f *fakeAdapter) RemoveJob(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, id)
	return f.removeErr
}

func (f *fakeAdapter) GetJob(ctx context.Context, id string) (*Job, bool, error) { return nil, false, nil }
func (f *fakeAdapter) GetJobs(ctx context.Context) ([]*Job, error)               { return nil, nil }
func (f *fakeAdapter) DeleteAll(ctx context.Context) error                      { return nil }
func (f *fakeAdapter) ClaimConcurrentJobs(ctx context.Context, limit int) ([]*Job, error) {
	return nil, nil
}

func (f *fakeAdapter) MoveToDLQ(ctx context.Context, job *Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dlq = append(f.dlq, job.clone())
	return nil
}

type dlqAdapter struct{ fakeAdapter }

func newExec(a Adapter) (*executor, *eventSink) {
	events := newEventSink(silentLogger())
	return newExecutor(a, events, silentLogger()), events
}

func TestExecuteSuccessRemovesJobAndFiresEvents(t *testing.T) {
	a := &fakeAdapter{}
	exec, events := newExec(a)

	var startFired, successFired bool
	events.on(EventStart, func(job *Job, err error) { startFired = true })
	events.on(EventSuccess, func(job *Job, err error) { successFired = true })

	hookOrder := []string{}
	hooks := WorkerHooks{
		OnStart:    func(job *Job) { hookOrder = append(hookOrder, "start") },
		OnSuccess:  func(job *Job) { hookOrder = append(hookOrder, "success") },
		OnComplete: func(job *Job) { hookOrder = append(hookOrder, "complete") },
	}

	j := newJob("id", "x", nil, EnqueueOptions{})
	result := exec.execute(context.Background(), j, "x", func(ctx context.Context, jobID string, payload any) error {
		return nil
	}, hooks)

	require.NoError(t, result.err)
	assert.True(t, startFired)
	assert.True(t, successFired)
	assert.Equal(t, []string{"start", "success", "complete"}, hookOrder)
	assert.Equal(t, []string{"id"}, a.removed)
}

func TestExecuteNonTerminalFailureRetains(t *testing.T) {
	a := &fakeAdapter{}
	exec, events := newExec(a)

	var failureErr error
	events.on(EventFailure, func(job *Job, err error) { failureErr = err })
	failedFired := false
	events.on(EventFailed, func(job *Job, err error) { failedFired = true })

	j := newJob("id", "x", nil, EnqueueOptions{Retries: 2})
	result := exec.execute(context.Background(), j, "x", func(ctx context.Context, jobID string, payload any) error {
		return errors.New("transient")
	}, WorkerHooks{})

	require.Error(t, result.err)
	assert.False(t, j.isTerminal())
	assert.Equal(t, 1, j.Attempts)
	assert.NotNil(t, j.Failed)
	assert.False(t, failedFired, "non-terminal failure must not fire the failed event")
	require.Error(t, failureErr)
	assert.Empty(t, a.removed)
}

func TestExecuteTerminalFailureFiresFailedExactlyOnce(t *testing.T) {
	a := &fakeAdapter{}
	exec, events := newExec(a)

	failedCount := 0
	failureCount := 0
	events.on(EventFailed, func(job *Job, err error) { failedCount++ })
	events.on(EventFailure, func(job *Job, err error) { failureCount++ })

	j := newJob("id", "x", nil, EnqueueOptions{Attempts: 1})
	result := exec.execute(context.Background(), j, "x", func(ctx context.Context, jobID string, payload any) error {
		return errors.New("fatal")
	}, WorkerHooks{})

	require.Error(t, result.err)
	assert.True(t, j.isTerminal())
	assert.Equal(t, 1, failedCount)
	assert.Equal(t, 0, failureCount)
}

func TestExecuteTerminalFailureMovesToDLQWhenSupported(t *testing.T) {
	a := &dlqAdapter{}
	exec, _ := newExec(a)

	j := newJob("id", "x", nil, EnqueueOptions{Attempts: 1})
	exec.execute(context.Background(), j, "x", func(ctx context.Context, jobID string, payload any) error {
		return errors.New("fatal")
	}, WorkerHooks{})

	require.Len(t, a.dlq, 1)
	assert.Equal(t, "id", a.dlq[0].ID)
}

func TestExecuteWorkerTimeout(t *testing.T) {
	a := &fakeAdapter{}
	exec, _ := newExec(a)

	j := newJob("id", "x", nil, EnqueueOptions{Timeout: 10 * time.Millisecond})
	result := exec.execute(context.Background(), j, "x", func(ctx context.Context, jobID string, payload any) error {
		<-ctx.Done()
		return ctx.Err()
	}, WorkerHooks{})

	require.Error(t, result.err)
	var workerErr *WorkerError
	require.ErrorAs(t, result.err, &workerErr)
	var timeoutErr *TimeoutError
	assert.ErrorAs(t, result.err, &timeoutErr)
}

func TestExecuteWorkerPanicIsConvertedToError(t *testing.T) {
	a := &fakeAdapter{}
	exec, _ := newExec(a)

	j := newJob("id", "x", nil, EnqueueOptions{})
	result := exec.execute(context.Background(), j, "x", func(ctx context.Context, jobID string, payload any) error {
		panic("kaboom")
	}, WorkerHooks{})

	require.Error(t, result.err)
	assert.Contains(t, result.err.Error(), "kaboom")
}

func TestExecuteHookPanicDoesNotPropagate(t *testing.T) {
	a := &fakeAdapter{}
	exec, _ := newExec(a)

	j := newJob("id", "x", nil, EnqueueOptions{})
	assert.NotPanics(t, func() {
		exec.execute(context.Background(), j, "x", func(ctx context.Context, jobID string, payload any) error {
			return nil
		}, WorkerHooks{OnSuccess: func(job *Job) { panic("listener exploded") }})
	})
}
