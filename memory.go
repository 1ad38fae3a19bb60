package jobq

import (
	"context"
	"sort"
	"sync"
)

// MemoryAdapter is the default Adapter: an in-process map guarded by a
// mutex. It implements Recoverer trivially (nothing survives a
// restart) and does not implement DeadLetterer, so terminal jobs stay
// in the live map per spec §9's open question (a).
//
// The teacher has no in-memory adapter of its own; this is built
// directly from the claim-atomicity contract in spec §4.1, using a
// single mutex as the "shared-memory map" strategy spec §9 names
// explicitly.
type MemoryAdapter struct {
	mu   sync.Mutex
	jobs map[string]*Job
}

// NewMemoryAdapter returns an empty MemoryAdapter.
func NewMemoryAdapter() *MemoryAdapter {
	return &MemoryAdapter{jobs: make(map[string]*Job)}
}

func (a *MemoryAdapter) AddJob(_ context.Context, job *Job) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.jobs[job.ID] = job.clone()
	return nil
}

func (a *MemoryAdapter) UpdateJob(_ context.Context, job *Job) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.jobs[job.ID]; !ok {
		return nil
	}
	a.jobs[job.ID] = job.clone()
	return nil
}

func (a *MemoryAdapter) RemoveJob(_ context.Context, id string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.jobs, id)
	return nil
}

func (a *MemoryAdapter) GetJob(_ context.Context, id string) (*Job, bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	job, ok := a.jobs[id]
	if !ok {
		return nil, false, nil
	}
	return job.clone(), true, nil
}

func (a *MemoryAdapter) GetJobs(_ context.Context) ([]*Job, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]*Job, 0, len(a.jobs))
	for _, j := range a.jobs {
		out = append(out, j.clone())
	}
	return out, nil
}

func (a *MemoryAdapter) DeleteAll(_ context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.jobs = make(map[string]*Job)
	return nil
}

// ClaimConcurrentJobs selects, marks, and returns up to limit eligible
// records. The mutex makes selection-and-mark atomic: no caller can
// observe the map between selection and the active=true write.
func (a *MemoryAdapter) ClaimConcurrentJobs(_ context.Context, limit int) ([]*Job, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	candidates := make([]*Job, 0, len(a.jobs))
	for _, j := range a.jobs {
		if j.Active || j.isTerminal() {
			continue
		}
		candidates = append(candidates, j)
	}

	sort.Slice(candidates, func(i, k int) bool {
		if candidates[i].Priority != candidates[k].Priority {
			return candidates[i].Priority > candidates[k].Priority
		}
		return candidates[i].Created.Before(candidates[k].Created)
	})

	if limit > len(candidates) {
		limit = len(candidates)
	}

	out := make([]*Job, 0, limit)
	for i := 0; i < limit; i++ {
		candidates[i].Active = true
		out = append(out, candidates[i].clone())
	}
	return out, nil
}

// Recover resets every active record to inactive. MemoryAdapter never
// survives a process restart on its own, but implementing Recoverer
// keeps the crash-then-resume test scenario (spec §8 scenario 7)
// exercisable against an adapter seeded with a ghost record directly.
func (a *MemoryAdapter) Recover(_ context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, j := range a.jobs {
		j.Active = false
	}
	return nil
}
