// Package redisadapter implements jobq.Adapter over Redis, grounded on
// SirClappington-enq's internal/queue/redisq.go sorted-set delay-queue
// pattern, generalized from a single score (run-at unix time) to a
// composite priority/created score and from LPUSH/BRPOP dequeue to a
// Lua EVAL claim that makes select-then-mark atomic across concurrent
// callers (spec §4.1's mutual-exclusion-on-claim contract), since two
// separate Redis commands would otherwise race.
package redisadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jobq-go/jobq"
)

// keyspace groups the Redis keys one Adapter owns under a prefix, so
// multiple queues can share one Redis instance.
type keyspace struct {
	prefix string
}

func (k keyspace) jobs() string      { return k.prefix + ":jobs" }      // hash: id -> json record
func (k keyspace) pending() string   { return k.prefix + ":pending" }   // zset: id -> claim score
func (k keyspace) dead() string      { return k.prefix + ":dead" }      // hash: id -> json record

// Adapter is a jobq.Adapter, jobq.Recoverer, and jobq.DeadLetterer
// backed by Redis.
type Adapter struct {
	rdb *redis.Client
	ks  keyspace
}

// New wraps an existing *redis.Client. Keys are namespaced under
// prefix so one Redis instance can host multiple independent queues.
func New(rdb *redis.Client, prefix string) *Adapter {
	return &Adapter{rdb: rdb, ks: keyspace{prefix: prefix}}
}

// record is the JSON wire shape stored in the jobs hash.
type record struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Payload      any            `json:"payload"`
	MetaData     map[string]any `json:"metaData"`
	Priority     int            `json:"priority"`
	Attempts     int            `json:"attempts"`
	MaxAttempts  int            `json:"maxAttempts"`
	TimeInterval int64          `json:"timeIntervalMs"`
	TTL          int64          `json:"ttlMs"`
	OnlineOnly   bool           `json:"onlineOnly"`
	Active       bool           `json:"active"`
	Timeout      int64          `json:"timeoutMs"`
	Created      int64          `json:"createdUnixMs"`
	Failed       *int64         `json:"failedUnixMs,omitempty"`
	WorkerName   string         `json:"workerName"`
}

func toRecord(job *jobq.Job) *record {
	r := &record{
		ID: job.ID, Name: job.Name, Payload: job.Payload, MetaData: job.MetaData,
		Priority: job.Priority, Attempts: job.Attempts, MaxAttempts: job.MaxAttempts,
		TimeInterval: job.TimeInterval.Milliseconds(), TTL: job.TTL.Milliseconds(),
		OnlineOnly: job.OnlineOnly, Active: job.Active, Timeout: job.Timeout.Milliseconds(),
		Created: job.Created.UnixMilli(), WorkerName: job.WorkerName,
	}
	if job.Failed != nil {
		ms := job.Failed.UnixMilli()
		r.Failed = &ms
	}
	return r
}

func (r *record) toJob() *jobq.Job {
	job := &jobq.Job{
		ID: r.ID, Name: r.Name, Payload: r.Payload, MetaData: r.MetaData,
		Priority: r.Priority, Attempts: r.Attempts, MaxAttempts: r.MaxAttempts,
		TimeInterval: time.Duration(r.TimeInterval) * time.Millisecond,
		TTL:          time.Duration(r.TTL) * time.Millisecond,
		OnlineOnly:   r.OnlineOnly, Active: r.Active,
		Timeout: time.Duration(r.Timeout) * time.Millisecond,
		Created: time.UnixMilli(r.Created), WorkerName: r.WorkerName,
	}
	if job.MetaData == nil {
		job.MetaData = map[string]any{}
	}
	if r.Failed != nil {
		t := time.UnixMilli(*r.Failed)
		job.Failed = &t
	}
	return job
}

// claimScore orders pending candidates by priority desc then created
// asc using one float64: a large priority-weighted term dominates a
// smaller time-based term, matching ZRANGE's ascending sort. Bounded:
// float64 only represents integers exactly up to 2^53 (~9e15), so once
// |priority| climbs past roughly 800 the priority term alone approaches
// that ceiling and the created-ms term starts getting rounded away,
// degrading the created-asc tiebreak into ties. Fine for the small
// hand-assigned priority values jobq expects.
func claimScore(priority int, created time.Time) float64 {
	const priorityWeight = 1e13
	return float64(-priority)*priorityWeight + float64(created.UnixMilli())
}

func (a *Adapter) AddJob(ctx context.Context, job *jobq.Job) error {
	data, err := json.Marshal(toRecord(job))
	if err != nil {
		return fmt.Errorf("redisadapter: marshal job: %w", err)
	}

	pipe := a.rdb.TxPipeline()
	pipe.HSet(ctx, a.ks.jobs(), job.ID, data)
	if !job.Active {
		pipe.ZAdd(ctx, a.ks.pending(), redis.Z{Score: claimScore(job.Priority, job.Created), Member: job.ID})
	} else {
		pipe.ZRem(ctx, a.ks.pending(), job.ID)
	}
	_, err = pipe.Exec(ctx)
	return err
}

func (a *Adapter) UpdateJob(ctx context.Context, job *jobq.Job) error {
	existing, err := a.rdb.HExists(ctx, a.ks.jobs(), job.ID).Result()
	if err != nil {
		return err
	}
	if !existing {
		return nil
	}
	return a.AddJob(ctx, job)
}

func (a *Adapter) RemoveJob(ctx context.Context, id string) error {
	pipe := a.rdb.TxPipeline()
	pipe.HDel(ctx, a.ks.jobs(), id)
	pipe.ZRem(ctx, a.ks.pending(), id)
	_, err := pipe.Exec(ctx)
	return err
}

func (a *Adapter) GetJob(ctx context.Context, id string) (*jobq.Job, bool, error) {
	data, err := a.rdb.HGet(ctx, a.ks.jobs(), id).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var r record
	if err := json.Unmarshal([]byte(data), &r); err != nil {
		return nil, false, err
	}
	return r.toJob(), true, nil
}

func (a *Adapter) GetJobs(ctx context.Context) ([]*jobq.Job, error) {
	all, err := a.rdb.HGetAll(ctx, a.ks.jobs()).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*jobq.Job, 0, len(all))
	for _, data := range all {
		var r record
		if err := json.Unmarshal([]byte(data), &r); err != nil {
			return nil, err
		}
		out = append(out, r.toJob())
	}
	return out, nil
}

func (a *Adapter) DeleteAll(ctx context.Context) error {
	pipe := a.rdb.TxPipeline()
	pipe.Del(ctx, a.ks.jobs())
	pipe.Del(ctx, a.ks.pending())
	_, err := pipe.Exec(ctx)
	return err
}

// claimScript atomically pops up to ARGV[1] lowest-score members from
// the pending zset, filters out any whose attempts have reached
// maxAttempts (a safety net mirroring spec §4.4 step 4's belt-and-
// suspenders check), marks them active in the jobs hash, and returns
// their JSON records. Running this as one EVAL is what makes
// selection-and-mark atomic across concurrent Redis clients.
var claimScript = redis.NewScript(`
local pendingKey = KEYS[1]
local jobsKey = KEYS[2]
local limit = tonumber(ARGV[1])

local ids = redis.call('ZRANGE', pendingKey, 0, limit - 1)
local out = {}
for _, id in ipairs(ids) do
	local data = redis.call('HGET', jobsKey, id)
	if data then
		local job = cjson.decode(data)
		if job.attempts < job.maxAttempts then
			job.active = true
			local encoded = cjson.encode(job)
			redis.call('HSET', jobsKey, id, encoded)
			redis.call('ZREM', pendingKey, id)
			table.insert(out, encoded)
		else
			redis.call('ZREM', pendingKey, id)
		end
	else
		redis.call('ZREM', pendingKey, id)
	end
end
return out
`)

// ClaimConcurrentJobs runs claimScript, which holds Redis's
// single-threaded command execution to do the select-and-mark step
// atomically — the "single-writer key-value" strategy spec §9 names,
// applied through Lua rather than relying on the caller to serialize.
func (a *Adapter) ClaimConcurrentJobs(ctx context.Context, limit int) ([]*jobq.Job, error) {
	if limit <= 0 {
		return nil, nil
	}

	res, err := claimScript.Run(ctx, a.rdb, []string{a.ks.pending(), a.ks.jobs()}, limit).Result()
	if err != nil {
		return nil, fmt.Errorf("redisadapter: claim: %w", err)
	}

	items, ok := res.([]interface{})
	if !ok {
		return nil, fmt.Errorf("redisadapter: unexpected claim result type %T", res)
	}

	out := make([]*jobq.Job, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			continue
		}
		var r record
		if err := json.Unmarshal([]byte(s), &r); err != nil {
			return nil, err
		}
		out = append(out, r.toJob())
	}
	return out, nil
}

// Recover re-seeds the pending zset with every job currently marked
// active, since a Redis restart (or process crash) leaves active=true
// hash entries with no corresponding pending-zset membership.
func (a *Adapter) Recover(ctx context.Context) error {
	jobs, err := a.GetJobs(ctx)
	if err != nil {
		return err
	}
	pipe := a.rdb.TxPipeline()
	for _, job := range jobs {
		if !job.Active {
			continue
		}
		job.Active = false
		data, err := json.Marshal(toRecord(job))
		if err != nil {
			return err
		}
		pipe.HSet(ctx, a.ks.jobs(), job.ID, data)
		pipe.ZAdd(ctx, a.ks.pending(), redis.Z{Score: claimScore(job.Priority, job.Created), Member: job.ID})
	}
	_, err = pipe.Exec(ctx)
	return err
}

// MoveToDLQ relocates a terminal job into the dead hash.
func (a *Adapter) MoveToDLQ(ctx context.Context, job *jobq.Job) error {
	data, err := json.Marshal(toRecord(job))
	if err != nil {
		return err
	}
	pipe := a.rdb.TxPipeline()
	pipe.HSet(ctx, a.ks.dead(), job.ID, data)
	pipe.HDel(ctx, a.ks.jobs(), job.ID)
	pipe.ZRem(ctx, a.ks.pending(), job.ID)
	_, err = pipe.Exec(ctx)
	return err
}

// ListDeadLetters satisfies adminapi.DeadLetterLister.
func (a *Adapter) ListDeadLetters(ctx context.Context) ([]*jobq.Job, error) {
	all, err := a.rdb.HGetAll(ctx, a.ks.dead()).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*jobq.Job, 0, len(all))
	for _, data := range all {
		var r record
		if err := json.Unmarshal([]byte(data), &r); err != nil {
			return nil, err
		}
		out = append(out, r.toJob())
	}
	return out, nil
}

// RetryDeadLetter moves a dead-letter record back into the live set
// with attempts reset to 0, satisfying adminapi.DeadLetterLister.
func (a *Adapter) RetryDeadLetter(ctx context.Context, id string) error {
	data, err := a.rdb.HGet(ctx, a.ks.dead(), id).Result()
	if err != nil {
		return err
	}
	var r record
	if err := json.Unmarshal([]byte(data), &r); err != nil {
		return err
	}
	r.Attempts = 0
	r.Active = false
	r.Failed = nil
	job := r.toJob()

	pipe := a.rdb.TxPipeline()
	encoded, err := json.Marshal(toRecord(job))
	if err != nil {
		return err
	}
	pipe.HSet(ctx, a.ks.jobs(), job.ID, encoded)
	pipe.ZAdd(ctx, a.ks.pending(), redis.Z{Score: claimScore(job.Priority, job.Created), Member: job.ID})
	pipe.HDel(ctx, a.ks.dead(), id)
	_, err = pipe.Exec(ctx)
	return err
}
