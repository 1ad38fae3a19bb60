package jobq

import (
	"math/rand"
	"time"
)

// DefaultTTL is the job time-to-live applied when an enqueue option
// leaves TTL unset: seven days.
const DefaultTTL = 7 * 24 * time.Hour

// DefaultTimeout is the per-run worker time budget applied when an
// enqueue option leaves Timeout unset.
const DefaultTimeout = 25 * time.Second

// Job is the immutable-after-creation descriptor plus the small
// mutable state block the core persists through one Adapter record.
type Job struct {
	ID           string
	Name         string
	Payload      any
	MetaData     map[string]any
	Priority     int
	Attempts     int
	MaxAttempts  int
	TimeInterval time.Duration
	TTL          time.Duration
	OnlineOnly   bool
	Active       bool
	Timeout      time.Duration
	Created      time.Time
	Failed       *time.Time
	WorkerName   string
}

// EnqueueOptions configures a single Enqueue call. Zero values fall
// back to the defaults named in spec §6.
type EnqueueOptions struct {
	Priority     int
	Attempts     int // absolute max attempts; ignored if zero and Retries is set
	Retries      int // alias: MaxAttempts = Retries + 1 when Attempts is unset
	TimeInterval time.Duration
	TTL          time.Duration
	OnlineOnly   bool
	Timeout      time.Duration
	MetaData     map[string]any
	WorkerName   string
	AutoStart    *bool // nil defaults to true
}

// newJob builds a Job record from enqueue inputs, applying every
// default from spec §6: priority 0, maxAttempts 1, timeInterval 0,
// ttl 7 days, timeout 25s.
func newJob(id, name string, payload any, opts EnqueueOptions) *Job {
	maxAttempts := opts.Attempts
	if maxAttempts <= 0 {
		if opts.Retries > 0 {
			maxAttempts = opts.Retries + 1
		} else {
			maxAttempts = 1
		}
	}

	ttl := opts.TTL
	if ttl == 0 {
		ttl = DefaultTTL
	}

	timeout := opts.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	meta := opts.MetaData
	if meta == nil {
		meta = map[string]any{}
	}

	return &Job{
		ID:           id,
		Name:         name,
		Payload:      payload,
		MetaData:     meta,
		Priority:     opts.Priority,
		Attempts:     0,
		MaxAttempts:  maxAttempts,
		TimeInterval: opts.TimeInterval,
		TTL:          ttl,
		OnlineOnly:   opts.OnlineOnly,
		Active:       false,
		Timeout:      timeout,
		Created:      now(),
		Failed:       nil,
		WorkerName:   opts.WorkerName,
	}
}

// isTerminal reports whether the job has exhausted its attempt budget
// and must never again be visible to the claim path (invariant 1).
func (j *Job) isTerminal() bool {
	return j.Attempts >= j.MaxAttempts
}

// isExpired implements spec §4.4: ttl > 0 && now-created > ttl.
func (j *Job) isExpired(at time.Time) bool {
	return j.TTL > 0 && at.Sub(j.Created) > j.TTL
}

// backoffDelay computes the exponential-backoff-with-jitter delay for
// the given attempt count, per spec §4.4:
// delay = timeInterval * 2^attempts + Uniform(0, timeInterval).
func backoffDelay(timeInterval time.Duration, attempts int, jitter func(time.Duration) time.Duration) time.Duration {
	if timeInterval <= 0 {
		return 0
	}
	base := timeInterval << uint(attempts) // timeInterval * 2^attempts
	return base + jitter(timeInterval)
}

func defaultJitter(bound time.Duration) time.Duration {
	if bound <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(bound) + 1))
}

// shouldSkipByBackoff implements spec §4.4's shouldSkipByBackoff
// helper. It returns whether the job must wait longer, and if so, how
// much longer from "now".
func shouldSkipByBackoff(j *Job, at time.Time, jitter func(time.Duration) time.Duration) (skip bool, remaining time.Duration) {
	if j.Failed == nil || j.isTerminal() {
		return false, 0
	}
	delay := backoffDelay(j.TimeInterval, j.Attempts, jitter)
	elapsed := at.Sub(*j.Failed)
	if elapsed < delay {
		return true, delay - elapsed
	}
	return false, 0
}

// markFailed applies the non-terminal failure transition from
// invariant 3: attempts++, active=false, failed=now, lastError set.
func (j *Job) markFailed(at time.Time, errMsg string) {
	j.Attempts++
	j.Active = false
	j.Failed = &at
	if j.MetaData == nil {
		j.MetaData = map[string]any{}
	}
	j.MetaData["lastError"] = errMsg
}

// clone returns a shallow copy suitable for returning to callers
// without handing out the core's internal pointer.
func (j *Job) clone() *Job {
	c := *j
	meta := make(map[string]any, len(j.MetaData))
	for k, v := range j.MetaData {
		meta[k] = v
	}
	c.MetaData = meta
	if j.Failed != nil {
		f := *j.Failed
		c.Failed = &f
	}
	return &c
}

// now is overridden in tests that need deterministic clocks.
var now = time.Now
