package jobq

import "context"

// Adapter is the durable key/record store the core claims work
// through. Implementations must honour the invariants in spec §4.1;
// claimConcurrentJobs in particular must serialize selection-and-mark
// against concurrent callers so no record is ever returned twice.
type Adapter interface {
	AddJob(ctx context.Context, job *Job) error
	UpdateJob(ctx context.Context, job *Job) error
	RemoveJob(ctx context.Context, id string) error
	GetJob(ctx context.Context, id string) (*Job, bool, error)
	GetJobs(ctx context.Context) ([]*Job, error)
	DeleteAll(ctx context.Context) error

	// ClaimConcurrentJobs atomically selects up to limit pending,
	// non-terminal jobs ordered by priority desc, created asc, marks
	// them active, and returns copies of the selected records.
	ClaimConcurrentJobs(ctx context.Context, limit int) ([]*Job, error)
}

// Recoverer is an optional adapter capability: resetting every
// active=true record to active=false once at process start.
type Recoverer interface {
	Recover(ctx context.Context) error
}

// DeadLetterer is an optional adapter capability: moving a terminal
// job to a dead-letter sink and removing it from the live set.
type DeadLetterer interface {
	MoveToDLQ(ctx context.Context, job *Job) error
}

// recoverIfSupported feature-detects Recoverer without requiring every
// adapter to implement a no-op method.
func recoverIfSupported(ctx context.Context, a Adapter) error {
	if r, ok := a.(Recoverer); ok {
		return r.Recover(ctx)
	}
	return nil
}

// moveToDLQIfSupported feature-detects DeadLetterer. It reports
// whether the capability exists so callers know whether they still owe
// the job an UpdateJob call.
func moveToDLQIfSupported(ctx context.Context, a Adapter, job *Job) (handled bool, err error) {
	if d, ok := a.(DeadLetterer); ok {
		return true, d.MoveToDLQ(ctx, job)
	}
	return false, nil
}
