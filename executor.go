package jobq

import (
	"context"
	"fmt"
	"log/slog"
)

// executor runs a single claimed job through its worker and persists
// the outcome, grounded on the teacher's processJob/ack-nack split in
// internal/worker/processor.go and internal/worker/pool.go, generalized
// from a single fixed RabbitMQ consumer to the adapter-agnostic
// lifecycle spec §4.3 describes.
type executor struct {
	adapter Adapter
	events  *eventSink
	logger  *slog.Logger
}

func newExecutor(adapter Adapter, events *eventSink, logger *slog.Logger) *executor {
	return &executor{adapter: adapter, events: events, logger: logger}
}

// runResult is handed back to the processor so it can decrement its
// running-job counter and re-tick; it carries nothing the processor
// needs to act on beyond "this slot is free now".
type runResult struct {
	job *Job
	err error
}

// execute implements spec §4.3 in order: mark active, emit start, run
// the worker under its timeout budget, then branch into the success or
// failure path.
func (e *executor) execute(ctx context.Context, job *Job, name string, fn WorkerFunc, hooks WorkerHooks) runResult {
	job.Active = true
	job.Failed = nil
	if err := e.adapter.UpdateJob(ctx, job); err != nil {
		e.logger.Error("jobq: failed to persist active state", slog.String("job_id", job.ID), slog.Any("error", err))
	}

	e.events.emit(EventStart, job.clone(), nil)
	if hooks.OnStart != nil {
		e.safeHook(func() { hooks.OnStart(job.clone()) })
	}

	runErr := e.runWithTimeout(ctx, job, name, fn)

	if runErr == nil {
		return e.succeed(ctx, job, hooks)
	}
	return e.fail(ctx, job, name, runErr, hooks)
}

// runWithTimeout races fn against job.Timeout, matching spec §9's
// "race the invocation against a timer that resolves the outer promise
// with TimeoutError"; the worker goroutine itself is not killed, only
// abandoned, since it is opaque to the core.
func (e *executor) runWithTimeout(ctx context.Context, job *Job, name string, fn WorkerFunc) error {
	runCtx, cancel := context.WithTimeout(ctx, job.Timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- &WorkerError{JobID: job.ID, Name: name, Err: newPanicError(r)}
			}
		}()
		done <- fn(runCtx, job.ID, job.Payload)
	}()

	select {
	case err := <-done:
		if err == nil {
			return nil
		}
		return &WorkerError{JobID: job.ID, Name: name, Err: err}
	case <-runCtx.Done():
		// done is buffered, so the abandoned goroutine's late send never blocks.
		return &WorkerError{JobID: job.ID, Name: name, Err: &TimeoutError{JobID: job.ID, Timeout: job.Timeout.Milliseconds()}}
	}
}

func (e *executor) succeed(ctx context.Context, job *Job, hooks WorkerHooks) runResult {
	if err := e.adapter.RemoveJob(ctx, job.ID); err != nil {
		e.logger.Error("jobq: failed to remove completed job", slog.String("job_id", job.ID), slog.Any("error", err))
	}

	e.events.emit(EventSuccess, job.clone(), nil)
	if hooks.OnSuccess != nil {
		e.safeHook(func() { hooks.OnSuccess(job.clone()) })
	}
	e.complete(job, hooks)
	return runResult{job: job}
}

func (e *executor) fail(ctx context.Context, job *Job, name string, runErr error, hooks WorkerHooks) runResult {
	job.markFailed(now(), runErr.Error())

	if job.isTerminal() {
		e.events.emit(EventFailed, job.clone(), runErr)
		if hooks.OnFailed != nil {
			e.safeHook(func() { hooks.OnFailed(job.clone(), runErr) })
		}

		handled, err := moveToDLQIfSupported(ctx, e.adapter, job)
		if err != nil {
			e.logger.Error("jobq: failed to move job to dead letter queue", slog.String("job_id", job.ID), slog.Any("error", err))
		}
		if !handled {
			if err := e.adapter.UpdateJob(ctx, job); err != nil {
				e.logger.Error("jobq: failed to persist terminal job", slog.String("job_id", job.ID), slog.Any("error", err))
			}
		}
		e.complete(job, hooks)
		return runResult{job: job, err: runErr}
	}

	e.events.emit(EventFailure, job.clone(), runErr)
	if hooks.OnFailure != nil {
		e.safeHook(func() { hooks.OnFailure(job.clone(), runErr) })
	}
	if err := e.adapter.UpdateJob(ctx, job); err != nil {
		e.logger.Error("jobq: failed to persist retry state", slog.String("job_id", job.ID), slog.Any("error", err))
	}
	e.complete(job, hooks)
	return runResult{job: job, err: runErr}
}

func (e *executor) complete(job *Job, hooks WorkerHooks) {
	if hooks.OnComplete != nil {
		e.safeHook(func() { hooks.OnComplete(job.clone()) })
	}
}

func (e *executor) safeHook(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("jobq: worker hook panicked", slog.Any("recover", r))
		}
	}()
	fn()
}

type panicError struct {
	v any
}

func newPanicError(v any) error { return &panicError{v: v} }

func (p *panicError) Error() string { return "jobq: worker panicked: " + stringifyPanic(p.v) }

func stringifyPanic(v any) string {
	if err, ok := v.(error); ok {
		return err.Error()
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
