package jobq

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJobDefaults(t *testing.T) {
	j := newJob("id-1", "send-email", map[string]any{"to": "a@b.com"}, EnqueueOptions{})

	assert.Equal(t, "id-1", j.ID)
	assert.Equal(t, "send-email", j.Name)
	assert.Equal(t, 0, j.Priority)
	assert.Equal(t, 1, j.MaxAttempts)
	assert.Equal(t, DefaultTTL, j.TTL)
	assert.Equal(t, DefaultTimeout, j.Timeout)
	assert.False(t, j.Active)
	assert.Nil(t, j.Failed)
	assert.NotNil(t, j.MetaData)
}

func TestNewJobRetriesAlias(t *testing.T) {
	j := newJob("id-2", "x", nil, EnqueueOptions{Retries: 3})
	assert.Equal(t, 4, j.MaxAttempts)
}

func TestNewJobAttemptsOverridesRetries(t *testing.T) {
	j := newJob("id-3", "x", nil, EnqueueOptions{Attempts: 5, Retries: 9})
	assert.Equal(t, 5, j.MaxAttempts)
}

func TestIsTerminal(t *testing.T) {
	j := newJob("id", "x", nil, EnqueueOptions{Retries: 1})
	require.Equal(t, 2, j.MaxAttempts)
	assert.False(t, j.isTerminal())
	j.Attempts = 2
	assert.True(t, j.isTerminal())
}

func TestIsExpired(t *testing.T) {
	created := time.Now()
	j := &Job{Created: created, TTL: time.Hour}
	assert.False(t, j.isExpired(created.Add(30*time.Minute)))
	assert.True(t, j.isExpired(created.Add(2*time.Hour)))

	j.TTL = 0
	assert.False(t, j.isExpired(created.Add(365*24*time.Hour)))
}

func TestBackoffDelay(t *testing.T) {
	noJitter := func(time.Duration) time.Duration { return 0 }
	assert.Equal(t, time.Duration(0), backoffDelay(0, 5, noJitter))
	assert.Equal(t, 10*time.Second, backoffDelay(10*time.Second, 0, noJitter))
	assert.Equal(t, 40*time.Second, backoffDelay(10*time.Second, 2, noJitter))

	fixedJitter := func(time.Duration) time.Duration { return 3 * time.Second }
	assert.Equal(t, 43*time.Second, backoffDelay(10*time.Second, 2, fixedJitter))
}

func TestDefaultJitterBounded(t *testing.T) {
	for i := 0; i < 50; i++ {
		d := defaultJitter(5 * time.Second)
		assert.GreaterOrEqual(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, 5*time.Second)
	}
	assert.Equal(t, time.Duration(0), defaultJitter(0))
}

func TestShouldSkipByBackoff(t *testing.T) {
	noJitter := func(time.Duration) time.Duration { return 0 }
	failedAt := time.Now()
	j := &Job{TimeInterval: 10 * time.Second, Attempts: 1, MaxAttempts: 5, Failed: &failedAt}

	skip, remaining := shouldSkipByBackoff(j, failedAt.Add(5*time.Second), noJitter)
	assert.True(t, skip)
	assert.Greater(t, remaining, time.Duration(0))

	skip, _ = shouldSkipByBackoff(j, failedAt.Add(time.Hour), noJitter)
	assert.False(t, skip)

	j.Failed = nil
	skip, _ = shouldSkipByBackoff(j, time.Now(), noJitter)
	assert.False(t, skip)

	j.Failed = &failedAt
	j.Attempts = j.MaxAttempts
	skip, _ = shouldSkipByBackoff(j, failedAt, noJitter)
	assert.False(t, skip, "a terminal job is never subject to backoff")
}

func TestMarkFailed(t *testing.T) {
	j := newJob("id", "x", nil, EnqueueOptions{})
	j.Active = true
	at := time.Now()

	j.markFailed(at, "boom")

	assert.Equal(t, 1, j.Attempts)
	assert.False(t, j.Active)
	require.NotNil(t, j.Failed)
	assert.Equal(t, at, *j.Failed)
	assert.Equal(t, "boom", j.MetaData["lastError"])
}

func TestCloneIsIndependent(t *testing.T) {
	failedAt := time.Now()
	j := &Job{ID: "id", MetaData: map[string]any{"k": "v"}, Failed: &failedAt}

	c := j.clone()
	c.MetaData["k"] = "changed"
	*c.Failed = failedAt.Add(time.Hour)

	assert.Equal(t, "v", j.MetaData["k"])
	assert.Equal(t, failedAt, *j.Failed)
}
