package jobq

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryAdapterAddGetRemove(t *testing.T) {
	ctx := context.Background()
	a := NewMemoryAdapter()

	j := newJob("id-1", "x", "payload", EnqueueOptions{})
	require.NoError(t, a.AddJob(ctx, j))

	got, ok, err := a.GetJob(ctx, "id-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "payload", got.Payload)
	assert.NotSame(t, j, got, "GetJob must return a defensive copy")

	require.NoError(t, a.RemoveJob(ctx, "id-1"))
	_, ok, err = a.GetJob(ctx, "id-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryAdapterUpdateUnknownIsNoop(t *testing.T) {
	ctx := context.Background()
	a := NewMemoryAdapter()
	assert.NoError(t, a.UpdateJob(ctx, newJob("ghost", "x", nil, EnqueueOptions{})))
}

func TestMemoryAdapterClaimOrdersByPriorityThenCreated(t *testing.T) {
	ctx := context.Background()
	a := NewMemoryAdapter()

	base := time.Now()
	low := newJob("low", "x", nil, EnqueueOptions{Priority: 0})
	low.Created = base
	high := newJob("high", "x", nil, EnqueueOptions{Priority: 5})
	high.Created = base.Add(time.Second)
	older := newJob("older", "x", nil, EnqueueOptions{Priority: 5})
	older.Created = base.Add(-time.Second)

	for _, j := range []*Job{low, high, older} {
		require.NoError(t, a.AddJob(ctx, j))
	}

	claimed, err := a.ClaimConcurrentJobs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 3)
	assert.Equal(t, "older", claimed[0].ID)
	assert.Equal(t, "high", claimed[1].ID)
	assert.Equal(t, "low", claimed[2].ID)
}

func TestMemoryAdapterClaimSkipsActiveAndTerminal(t *testing.T) {
	ctx := context.Background()
	a := NewMemoryAdapter()

	active := newJob("active", "x", nil, EnqueueOptions{})
	active.Active = true
	terminal := newJob("terminal", "x", nil, EnqueueOptions{})
	terminal.Attempts = terminal.MaxAttempts
	eligible := newJob("eligible", "x", nil, EnqueueOptions{})

	for _, j := range []*Job{active, terminal, eligible} {
		require.NoError(t, a.AddJob(ctx, j))
	}

	claimed, err := a.ClaimConcurrentJobs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, "eligible", claimed[0].ID)
}

func TestMemoryAdapterClaimRespectsLimit(t *testing.T) {
	ctx := context.Background()
	a := NewMemoryAdapter()
	for i := 0; i < 5; i++ {
		require.NoError(t, a.AddJob(ctx, newJob(string(rune('a'+i)), "x", nil, EnqueueOptions{})))
	}

	claimed, err := a.ClaimConcurrentJobs(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, claimed, 2)

	remaining, err := a.ClaimConcurrentJobs(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, remaining, 3, "already-claimed jobs must not be claimed twice")
}

// TestMemoryAdapterClaimIsAtomicUnderConcurrency exercises Testable
// Property 6: concurrent ClaimConcurrentJobs callers must never
// observe the same record twice.
func TestMemoryAdapterClaimIsAtomicUnderConcurrency(t *testing.T) {
	ctx := context.Background()
	a := NewMemoryAdapter()

	const total = 200
	for i := 0; i < total; i++ {
		require.NoError(t, a.AddJob(ctx, newJob(randomID(i), "x", nil, EnqueueOptions{})))
	}

	var mu sync.Mutex
	seen := make(map[string]bool)
	duplicate := false

	var wg sync.WaitGroup
	for w := 0; w < 20; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			claimed, err := a.ClaimConcurrentJobs(ctx, 7)
			require.NoError(t, err)
			mu.Lock()
			for _, j := range claimed {
				if seen[j.ID] {
					duplicate = true
				}
				seen[j.ID] = true
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.False(t, duplicate, "no job should ever be claimed by two callers")
	assert.LessOrEqual(t, len(seen), total)
}

func randomID(i int) string {
	return "job-" + time.Duration(i).String()
}

func TestMemoryAdapterRecoverClearsActive(t *testing.T) {
	ctx := context.Background()
	a := NewMemoryAdapter()
	ghost := newJob("ghost", "x", nil, EnqueueOptions{})
	ghost.Active = true
	require.NoError(t, a.AddJob(ctx, ghost))

	require.NoError(t, a.Recover(ctx))

	got, _, err := a.GetJob(ctx, "ghost")
	require.NoError(t, err)
	assert.False(t, got.Active)
}

func TestMemoryAdapterDeleteAll(t *testing.T) {
	ctx := context.Background()
	a := NewMemoryAdapter()
	require.NoError(t, a.AddJob(ctx, newJob("a", "x", nil, EnqueueOptions{})))
	require.NoError(t, a.DeleteAll(ctx))

	jobs, err := a.GetJobs(ctx)
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

var _ Recoverer = (*MemoryAdapter)(nil)
var _ Adapter = (*MemoryAdapter)(nil)
