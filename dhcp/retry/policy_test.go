package retry

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
)

func TestDefaultPolicy(t *testing.T) {
	p := DefaultPolicy()
	require.NoError(t, p.Validate())

	var got []time.Duration
	for attempt := 0; attempt < 7; attempt++ {
		got = append(got, p.Timeout(attempt))
	}
	assert.Equal(t, []time.Duration{
		4 * time.Second, 8 * time.Second, 16 * time.Second, 32 * time.Second,
		64 * time.Second, 64 * time.Second, 64 * time.Second,
	}, got)
}

func TestTimeoutNonDecreasingAndBounded(t *testing.T) {
	for name, p := range map[string]Policy{
		"default":       DefaultPolicy(),
		"constant":      {Base: time.Second, Multiplier: 1, MaxTimeout: time.Second},
		"fractional":    {Base: 300 * time.Millisecond, Multiplier: 1.5, MaxTimeout: 10 * time.Second},
		"base over max": {Base: time.Minute, Multiplier: 3, MaxTimeout: 10 * time.Second},
		"huge":          {Base: time.Second, Multiplier: 1000, MaxTimeout: time.Hour},
	} {
		t.Run(name, func(t *testing.T) {
			prev := time.Duration(0)
			for attempt := 0; attempt < 200; attempt++ {
				d := p.Timeout(attempt)
				require.GreaterOrEqual(t, int64(d), int64(prev), "attempt %d", attempt)
				require.LessOrEqual(t, int64(d), int64(p.MaxTimeout), "attempt %d", attempt)
				prev = d
			}
		})
	}
}

func TestBackoffJitter(t *testing.T) {
	p := DefaultPolicy()

	assert.Equal(t, 3*time.Second, p.Backoff(0, 0))
	assert.Equal(t, 4*time.Second, p.Backoff(0, 0.5))
	assert.Equal(t, 64*time.Second, p.Backoff(10, 0.99))

	r := rand.New(rand.NewSource(7))
	for attempt := 0; attempt < 20; attempt++ {
		d := p.Backoff(attempt, r.Float64())
		assert.LessOrEqual(t, int64(d), int64(p.MaxTimeout))
		assert.GreaterOrEqual(t, int64(d), int64(p.Timeout(attempt)-p.Jitter))
	}
}

func TestBackoffNonDecreasing(t *testing.T) {
	for name, p := range map[string]Policy{
		"default":  DefaultPolicy(),
		"slow":     {Base: 10 * time.Second, Multiplier: 1.1, MaxTimeout: time.Minute, Jitter: time.Second},
		"constant": {Base: 4 * time.Second, Multiplier: 1, MaxTimeout: 4 * time.Second, Jitter: time.Second},
	} {
		t.Run(name, func(t *testing.T) {
			for attempt := 1; attempt < 30; attempt++ {
				highest := p.Backoff(attempt-1, 0.999999)
				lowest := p.Backoff(attempt, 0)
				require.GreaterOrEqual(t, int64(lowest), int64(highest), "attempt %d", attempt)
			}
		})
	}

	p := DefaultPolicy()
	assert.Equal(t, p.MaxTimeout, p.Backoff(4, 0.99))
	assert.Equal(t, p.MaxTimeout, p.Backoff(5, 0))
}

func TestExhausted(t *testing.T) {
	p := Policy{MaxAttempts: 3}
	assert.False(t, p.Exhausted(2))
	assert.True(t, p.Exhausted(3))
	assert.False(t, Policy{}.Exhausted(1000))
}

func TestValidate(t *testing.T) {
	err := Policy{Base: 0, Multiplier: 0.5, MaxTimeout: -1, MaxAttempts: -1, Jitter: -1}.Validate()
	assert.Len(t, multierr.Errors(err), 5)
}

func TestScheduleLease(t *testing.T) {
	acquired := time.Date(2018, 11, 23, 0, 0, 0, 0, time.UTC)
	lt := ScheduleLease(acquired, time.Hour, 1800*time.Second, 3150*time.Second)

	assert.Equal(t, acquired.Add(1800*time.Second), lt.Renew)
	assert.Equal(t, acquired.Add(3150*time.Second), lt.Rebind)
	assert.Equal(t, acquired.Add(time.Hour), lt.Expire)
	assert.True(t, lt.Renew.Before(lt.Rebind))
}

func TestUntil(t *testing.T) {
	now := time.Unix(1000, 0)
	assert.Equal(t, now.Add(time.Second), Until(now, time.Second, now.Add(time.Minute)))
	assert.Equal(t, now.Add(time.Minute), Until(now, time.Hour, now.Add(time.Minute)))
}
