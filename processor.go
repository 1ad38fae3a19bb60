package jobq

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// processorStatus mirrors spec §4.4's status ∈ {active, inactive}.
type processorStatus int32

const (
	statusInactive processorStatus = iota
	statusActive
)

// ProcessorOptions configures a processor instance. Concurrency is the
// hard cap on in-flight executor.execute calls.
type ProcessorOptions struct {
	Concurrency    int
	MonitorNetwork bool
	Network        NetworkMonitor
}

// processor is the main scheduling loop: spec §2 attributes roughly
// half the core's weight to this component. It is grounded on the
// teacher's worker pool in internal/worker/pool.go — a semaphore-gated
// dispatch loop feeding a fixed consumer — generalized here from a
// single AMQP queue to the adapter's claimConcurrentJobs contract, and
// from a blocking channel-read loop to a self-re-arming tick().
type processor struct {
	adapter  Adapter
	registry *Registry
	exec     *executor
	logger   *slog.Logger

	concurrency int
	sem         *semaphore.Weighted

	network       NetworkMonitor
	networkUnsub  func()
	monitorOnline bool

	mu          sync.Mutex
	status      processorStatus
	runningJobs int
	pausedNames map[string]struct{}
	tickPending bool
	tickRunning bool
	wakeTimer   *time.Timer

	ctx    context.Context
	cancel context.CancelFunc
}

func newProcessor(adapter Adapter, registry *Registry, exec *executor, logger *slog.Logger, opts ProcessorOptions) *processor {
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	net := opts.Network
	if net == nil {
		net = NewStaticMonitor(true)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &processor{
		adapter:       adapter,
		registry:      registry,
		exec:          exec,
		logger:        logger,
		concurrency:   concurrency,
		sem:           semaphore.NewWeighted(int64(concurrency)),
		network:       net,
		monitorOnline: opts.MonitorNetwork,
		pausedNames:   make(map[string]struct{}),
		ctx:           ctx,
		cancel:        cancel,
	}
}

// start is idempotent; see spec §4.4.
func (p *processor) start() {
	p.mu.Lock()
	if p.status == statusActive {
		p.mu.Unlock()
		return
	}
	p.status = statusActive
	if p.monitorOnline {
		p.networkUnsub = p.network.Subscribe(p.onNetworkChange)
	}
	p.mu.Unlock()

	p.tick()
}

// stop flips to inactive and detaches the network source; in-flight
// executions are allowed to finish (spec §5 cancellation policy).
func (p *processor) stop() {
	p.mu.Lock()
	p.status = statusInactive
	unsub := p.networkUnsub
	p.networkUnsub = nil
	if p.wakeTimer != nil {
		p.wakeTimer.Stop()
		p.wakeTimer = nil
	}
	p.mu.Unlock()

	if unsub != nil {
		unsub()
	}
}

func (p *processor) pauseJob(name string) {
	p.mu.Lock()
	p.pausedNames[name] = struct{}{}
	p.mu.Unlock()
}

func (p *processor) resumeJob(name string) {
	p.mu.Lock()
	delete(p.pausedNames, name)
	active := p.status == statusActive
	p.mu.Unlock()

	if active {
		p.tick()
	}
}

func (p *processor) isPaused(name string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.pausedNames[name]
	return ok
}

// onNetworkChange re-arms the loop on a false→true transition even if
// runTick had already gone inactive for lack of dispatchable work — an
// onlineOnly job parked by the offline filter leaves runningJobs at 0,
// which would otherwise strand it until a fresh Enqueue/Start.
func (p *processor) onNetworkChange(connected bool) {
	if !connected {
		return
	}
	p.mu.Lock()
	p.status = statusActive
	p.mu.Unlock()
	p.tick()
}

// tick implements the re-entry guard spec §5 requires: a single
// in-flight tick plus a pending-tick flag, so a tick() called while
// another is suspended on the adapter is coalesced rather than
// interleaved.
func (p *processor) tick() {
	p.mu.Lock()
	if p.tickRunning {
		p.tickPending = true
		p.mu.Unlock()
		return
	}
	p.tickRunning = true
	p.mu.Unlock()

	p.runTick()

	p.mu.Lock()
	p.tickRunning = false
	pending := p.tickPending
	p.tickPending = false
	p.mu.Unlock()

	if pending {
		p.tick()
	}
}

func (p *processor) runTick() {
	p.mu.Lock()
	status := p.status
	running := p.runningJobs
	p.mu.Unlock()

	if status != statusActive || running >= p.concurrency {
		return
	}

	slots := p.concurrency - running
	jobs, err := p.adapter.ClaimConcurrentJobs(p.ctx, slots)
	if err != nil {
		p.logger.Error("jobq: claim failed, will retry next tick", slog.Any("error", err))
		return
	}

	if len(jobs) == 0 {
		p.mu.Lock()
		if p.runningJobs == 0 {
			p.status = statusInactive
		}
		p.mu.Unlock()
		return
	}

	var (
		startedThisBatch int
		hasBackoff       bool
		nextWake         time.Duration
	)

	isConnected := p.network.IsConnected()

	for _, job := range jobs {
		p.mu.Lock()
		status = p.status
		running = p.runningJobs
		paused := false
		if _, ok := p.pausedNames[job.Name]; ok {
			paused = true
		}
		p.mu.Unlock()

		if status != statusActive || running >= p.concurrency || paused {
			p.unclaim(job)
			continue
		}

		if job.isExpired(now()) {
			if err := p.adapter.RemoveJob(p.ctx, job.ID); err != nil {
				p.logger.Error("jobq: failed to remove expired job", slog.String("job_id", job.ID), slog.Any("error", err))
			}
			continue
		}

		if skip, remaining := shouldSkipByBackoff(job, now(), defaultJitter); skip {
			hasBackoff = true
			if nextWake == 0 || remaining < nextWake {
				nextWake = remaining
			}
			p.unclaim(job)
			continue
		}

		if job.OnlineOnly && !isConnected {
			p.unclaim(job)
			continue
		}

		if job.isTerminal() {
			p.unclaim(job)
			continue
		}

		if !p.sem.TryAcquire(1) {
			p.unclaim(job)
			continue
		}

		fn, workerOpts, ok := p.registry.GetWorker(job.Name)
		if !ok {
			p.sem.Release(1)
			job.Failed = ptrTime(now())
			job.Active = false
			if job.MetaData == nil {
				job.MetaData = map[string]any{}
			}
			job.MetaData["lastError"] = (&MissingWorkerError{Name: job.Name}).Error()
			if err := p.adapter.UpdateJob(p.ctx, job); err != nil {
				p.logger.Error("jobq: failed to persist missing-worker job", slog.String("job_id", job.ID), slog.Any("error", err))
			}
			continue
		}

		p.mu.Lock()
		p.runningJobs++
		p.mu.Unlock()
		startedThisBatch++

		go p.dispatch(job, job.Name, fn, workerOpts.Hooks)
	}

	p.mu.Lock()
	running = p.runningJobs
	p.mu.Unlock()

	switch {
	case startedThisBatch > 0:
		p.tick()
	case hasBackoff:
		p.scheduleWake(nextWake)
	case running == 0:
		p.mu.Lock()
		p.status = statusInactive
		p.mu.Unlock()
	}
}

func (p *processor) dispatch(job *Job, name string, fn WorkerFunc, hooks WorkerHooks) {
	p.exec.execute(p.ctx, job, name, fn, hooks)

	p.sem.Release(1)
	p.mu.Lock()
	p.runningJobs--
	p.mu.Unlock()

	p.tick()
}

func (p *processor) unclaim(job *Job) {
	job.Active = false
	if err := p.adapter.UpdateJob(p.ctx, job); err != nil {
		p.logger.Error("jobq: failed to unclaim job", slog.String("job_id", job.ID), slog.Any("error", err))
	}
}

func (p *processor) scheduleWake(d time.Duration) {
	p.mu.Lock()
	if p.wakeTimer != nil {
		p.wakeTimer.Stop()
	}
	p.wakeTimer = time.AfterFunc(d, p.tick)
	p.mu.Unlock()
}

func (p *processor) shutdown() {
	p.stop()
	p.cancel()
}

func ptrTime(t time.Time) *time.Time { return &t }
