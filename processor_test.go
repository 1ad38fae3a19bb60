package jobq

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQueue(t *testing.T, concurrency int) (*Queue, *MemoryAdapter) {
	a := NewMemoryAdapter()
	q := NewQueue(QueueOptions{
		Adapter:     a,
		Concurrency: concurrency,
		Logger:      silentLogger(),
	})
	return q, a
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.True(t, cond(), "condition not met within %s", timeout)
}

func TestProcessorDispatchesAndRemovesOnSuccess(t *testing.T) {
	q, a := newTestQueue(t, 2)
	ctx := context.Background()

	done := make(chan struct{})
	q.AddWorker("greet", func(ctx context.Context, jobID string, payload any) error {
		close(done)
		return nil
	}, WorkerOptions{})

	_, err := q.Enqueue(ctx, "greet", nil, EnqueueOptions{})
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker never ran")
	}

	waitFor(t, time.Second, func() bool {
		jobs, _ := a.GetJobs(ctx)
		return len(jobs) == 0
	})
}

func TestProcessorRespectsConcurrencyLimit(t *testing.T) {
	q, _ := newTestQueue(t, 2)
	ctx := context.Background()

	release := make(chan struct{})
	var running int32
	var maxSeen int32

	q.AddWorker("slow", func(ctx context.Context, jobID string, payload any) error {
		n := atomic.AddInt32(&running, 1)
		for {
			cur := atomic.LoadInt32(&maxSeen)
			if n <= cur || atomic.CompareAndSwapInt32(&maxSeen, cur, n) {
				break
			}
		}
		<-release
		atomic.AddInt32(&running, -1)
		return nil
	}, WorkerOptions{})

	for i := 0; i < 5; i++ {
		_, err := q.Enqueue(ctx, "slow", nil, EnqueueOptions{})
		require.NoError(t, err)
	}

	waitFor(t, 2*time.Second, func() bool { return atomic.LoadInt32(&running) == 2 })
	assert.LessOrEqual(t, atomic.LoadInt32(&maxSeen), int32(2))
	close(release)
}

func TestProcessorMissingWorkerMarksFailedWithoutDispatch(t *testing.T) {
	q, a := newTestQueue(t, 1)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, "no-such-worker", nil, EnqueueOptions{})
	require.NoError(t, err)

	waitFor(t, time.Second, func() bool {
		jobs, _ := a.GetJobs(ctx)
		return len(jobs) == 1 && jobs[0].Failed != nil
	})

	jobs, _ := a.GetJobs(ctx)
	assert.Contains(t, jobs[0].MetaData["lastError"], "no worker registered")
	assert.False(t, jobs[0].Active)
}

func TestProcessorPauseJobUnclaims(t *testing.T) {
	q, a := newTestQueue(t, 1)
	ctx := context.Background()

	called := false
	q.AddWorker("paused-name", func(ctx context.Context, jobID string, payload any) error {
		called = true
		return nil
	}, WorkerOptions{})

	q.PauseJob("paused-name")
	_, err := q.Enqueue(ctx, "paused-name", nil, EnqueueOptions{})
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)
	assert.False(t, called)

	jobs, _ := a.GetJobs(ctx)
	require.Len(t, jobs, 1)
	assert.False(t, jobs[0].Active)

	q.ResumeJob("paused-name")
	waitFor(t, time.Second, func() bool { return called })
}

func TestProcessorExpiredJobIsRemovedNotDispatched(t *testing.T) {
	q, a := newTestQueue(t, 1)
	ctx := context.Background()

	dispatched := false
	q.AddWorker("ttl-job", func(ctx context.Context, jobID string, payload any) error {
		dispatched = true
		return nil
	}, WorkerOptions{})

	auto := false
	id, err := q.Enqueue(ctx, "ttl-job", nil, EnqueueOptions{TTL: time.Millisecond, AutoStart: &auto})
	require.NoError(t, err)

	job, ok, err := a.GetJob(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	job.Created = time.Now().Add(-time.Hour)
	require.NoError(t, a.UpdateJob(ctx, job))

	require.NoError(t, q.Start(ctx))

	waitFor(t, time.Second, func() bool {
		jobs, _ := a.GetJobs(ctx)
		return len(jobs) == 0
	})
	assert.False(t, dispatched)
}

func TestProcessorOnlineOnlyJobSkippedWhenOffline(t *testing.T) {
	a := NewMemoryAdapter()
	q := NewQueue(QueueOptions{
		Adapter: a,
		Logger:  silentLogger(),
		Network: NewStaticMonitor(false),
	})
	ctx := context.Background()

	dispatched := false
	q.AddWorker("net-job", func(ctx context.Context, jobID string, payload any) error {
		dispatched = true
		return nil
	}, WorkerOptions{})

	_, err := q.Enqueue(ctx, "net-job", nil, EnqueueOptions{OnlineOnly: true})
	require.NoError(t, err)

	time.Sleep(150 * time.Millisecond)
	assert.False(t, dispatched)

	jobs, _ := a.GetJobs(ctx)
	require.Len(t, jobs, 1)
	assert.False(t, jobs[0].Active)
}

// fakeNetworkMonitor lets a test drive connectivity transitions
// directly instead of waiting on a real TCP probe.
type fakeNetworkMonitor struct {
	mu        sync.Mutex
	connected bool
	subs      []func(bool)
}

func (m *fakeNetworkMonitor) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *fakeNetworkMonitor) Subscribe(fn func(bool)) func() {
	m.mu.Lock()
	m.subs = append(m.subs, fn)
	m.mu.Unlock()
	return func() {}
}

func (m *fakeNetworkMonitor) setConnected(connected bool) {
	m.mu.Lock()
	m.connected = connected
	subs := append([]func(bool){}, m.subs...)
	m.mu.Unlock()
	for _, fn := range subs {
		fn(connected)
	}
}

// TestProcessorDispatchesOnlineOnlyJobAfterReconnect covers the second
// half of the online-gated scenario: a job parked while offline must
// run once connectivity transitions back to true, even though the
// loop had already gone inactive for lack of anything to dispatch.
func TestProcessorDispatchesOnlineOnlyJobAfterReconnect(t *testing.T) {
	net := &fakeNetworkMonitor{connected: false}
	a := NewMemoryAdapter()
	q := NewQueue(QueueOptions{
		Adapter:        a,
		Logger:         silentLogger(),
		MonitorNetwork: true,
		Network:        net,
	})
	ctx := context.Background()

	done := make(chan struct{})
	q.AddWorker("net-job", func(ctx context.Context, jobID string, payload any) error {
		close(done)
		return nil
	}, WorkerOptions{})

	_, err := q.Enqueue(ctx, "net-job", nil, EnqueueOptions{OnlineOnly: true})
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)

	net.setConnected(true)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("job was never dispatched after reconnect")
	}
}
