package jobq

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"github.com/lmittmann/tint"
)

// QueueOptions configures NewQueue. An unset Adapter falls back to a
// MemoryAdapter; an unset IDGenerator defaults to UUIDGenerator.
type QueueOptions struct {
	Adapter        Adapter
	Concurrency    int
	MonitorNetwork bool
	Network        NetworkMonitor
	IDGenerator    IDGenerator
	Logger         *slog.Logger
}

// Queue is the composition root spec §4.5 describes: it wires
// registry, executor, and processor over one adapter, exposes the
// producer API, and owns ghost recovery on Start. Grounded on the
// teacher's cmd/worker-service main.go, which performs the same
// wire-everything-then-run role for a single fixed consumer.
type Queue struct {
	adapter     Adapter
	registry    *Registry
	events      *eventSink
	exec        *executor
	proc        *processor
	idGen       IDGenerator
	logger      *slog.Logger

	startMu   sync.Mutex
	recovered bool
	stopEpoch int64 // incremented by Stop; lets Start detect a Stop that raced ghost recovery
}

// NewQueue builds a Queue ready for AddWorker/Enqueue/Start.
func NewQueue(opts QueueOptions) *Queue {
	adapter := opts.Adapter
	if adapter == nil {
		adapter = NewMemoryAdapter()
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(tint.NewHandler(os.Stderr, &tint.Options{Level: slog.LevelInfo}))
	}

	idGen := opts.IDGenerator
	if idGen == nil {
		idGen = UUIDGenerator{}
	}

	registry := NewRegistry()
	events := newEventSink(logger)
	exec := newExecutor(adapter, events, logger)
	proc := newProcessor(adapter, registry, exec, logger, ProcessorOptions{
		Concurrency:    opts.Concurrency,
		MonitorNetwork: opts.MonitorNetwork,
		Network:        opts.Network,
	})

	return &Queue{
		adapter:  adapter,
		registry: registry,
		events:   events,
		exec:     exec,
		proc:     proc,
		idGen:    idGen,
		logger:   logger,
	}
}

// AddWorker registers fn under name.
func (q *Queue) AddWorker(name string, fn WorkerFunc, opts WorkerOptions) {
	q.registry.AddWorker(name, fn, opts)
}

// RemoveWorker unregisters name.
func (q *Queue) RemoveWorker(name string) {
	q.registry.RemoveWorker(name)
}

// Enqueue persists a new job and, unless options.AutoStart is false,
// starts the processor. It returns the new job's id, or an
// *EnqueueError if the adapter rejected the write.
func (q *Queue) Enqueue(ctx context.Context, name string, payload any, opts EnqueueOptions) (string, error) {
	id := q.idGen.NewID()
	job := newJob(id, name, payload, opts)

	if err := q.adapter.AddJob(ctx, job); err != nil {
		return "", &EnqueueError{Name: name, Err: err}
	}

	autoStart := opts.AutoStart == nil || *opts.AutoStart
	if autoStart {
		go q.Start(ctx)
	}
	return id, nil
}

// Start recovers ghost-active records once, then starts the
// processor. It is idempotent with respect to the processor: a second
// concurrent call observes the already-active processor and returns.
// If Stop is invoked while recovery is still in flight, Start aborts
// without starting the processor rather than undoing the Stop.
func (q *Queue) Start(ctx context.Context) error {
	q.startMu.Lock()
	if !q.recovered {
		epoch := atomic.LoadInt64(&q.stopEpoch)
		if err := recoverIfSupported(ctx, q.adapter); err != nil {
			q.startMu.Unlock()
			q.logger.Error("jobq: ghost recovery failed", slog.Any("error", err))
			return &StorageError{Op: "recover", Err: err}
		}
		if atomic.LoadInt64(&q.stopEpoch) != epoch {
			q.startMu.Unlock()
			return errStoppedDuringRecovery
		}
		q.recovered = true
	}
	q.startMu.Unlock()

	q.proc.start()
	return nil
}

// Stop halts claiming new work; in-flight executions finish.
func (q *Queue) Stop() {
	atomic.AddInt64(&q.stopEpoch, 1)
	q.proc.stop()
}

// Shutdown stops the processor and releases its background resources.
// Use this instead of Stop when the Queue itself is being discarded.
func (q *Queue) Shutdown() {
	q.proc.shutdown()
}

// PauseJob suspends dispatch of jobs named name.
func (q *Queue) PauseJob(name string) {
	q.proc.pauseJob(name)
}

// ResumeJob re-admits jobs named name to dispatch.
func (q *Queue) ResumeJob(name string) {
	q.proc.resumeJob(name)
}

// On subscribes listener to event. Events fire synchronously on the
// caller's or worker's goroutine; see eventSink for the panic-safety
// guarantee.
func (q *Queue) On(event EventName, listener EventListener) {
	q.events.on(event, listener)
}

// GetJob is a thin passthrough to the adapter, returning a defensive
// copy.
func (q *Queue) GetJob(ctx context.Context, id string) (*Job, bool, error) {
	job, ok, err := q.adapter.GetJob(ctx, id)
	if err != nil || !ok {
		return nil, ok, err
	}
	return job.clone(), true, nil
}

// GetJobs enumerates all jobs, defensively copied.
func (q *Queue) GetJobs(ctx context.Context) ([]*Job, error) {
	jobs, err := q.adapter.GetJobs(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*Job, len(jobs))
	for i, j := range jobs {
		out[i] = j.clone()
	}
	return out, nil
}

// DeleteAll wipes every job from the adapter's namespace.
func (q *Queue) DeleteAll(ctx context.Context) error {
	return q.adapter.DeleteAll(ctx)
}
