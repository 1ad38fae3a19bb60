package jobq

import (
	"errors"
	"fmt"
)

// EnqueueError wraps a storage failure encountered while persisting a
// new job. It is returned synchronously from Enqueue.
type EnqueueError struct {
	Name string
	Err  error
}

func (e *EnqueueError) Error() string {
	return fmt.Sprintf("jobq: enqueue %q failed: %v", e.Name, e.Err)
}

func (e *EnqueueError) Unwrap() error { return e.Err }

// WorkerError wraps any failure returned by a worker invocation,
// including a TimeoutError when the worker exceeds its time budget.
type WorkerError struct {
	JobID string
	Name  string
	Err   error
}

func (e *WorkerError) Error() string {
	return fmt.Sprintf("jobq: worker %q failed on job %s: %v", e.Name, e.JobID, e.Err)
}

func (e *WorkerError) Unwrap() error { return e.Err }

// TimeoutError is returned when a worker invocation exceeds job.Timeout.
type TimeoutError struct {
	JobID   string
	Timeout int64 // milliseconds
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("jobq: job %s exceeded timeout of %dms", e.JobID, e.Timeout)
}

// StorageError wraps a transient failure from an adapter method. The
// processor logs it and retries on the next tick; the offending job is
// left in its previous state.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("jobq: storage op %q failed: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// MissingWorkerError is recorded on a job record (not returned to a
// caller) when a claimed job names a worker that is not registered.
type MissingWorkerError struct {
	Name string
}

func (e *MissingWorkerError) Error() string {
	return fmt.Sprintf("jobq: no worker registered for %q", e.Name)
}

// errStoppedDuringRecovery is returned by Start when a concurrent Stop
// raced ghost recovery; Start aborts rather than starting the
// processor out from under the Stop.
var errStoppedDuringRecovery = errors.New("jobq: stop invoked during recovery")

// ErrUnknownWorker is returned by AddWorker/RemoveWorker callers who
// look the name up afterwards and find nothing (helper, not used by
// the core itself).
var ErrUnknownWorker = errors.New("jobq: unknown worker name")
