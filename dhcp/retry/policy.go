// Package retry computes DHCP retransmission intervals and lease wake times.
package retry

import (
	"math"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// Policy describes how an exchange is retransmitted. The timeout before
// attempt n (counting from zero) is min(Base * Multiplier^n, MaxTimeout),
// shifted by up to +/- Jitter.
type Policy struct {
	Base        time.Duration
	Multiplier  float64
	MaxTimeout  time.Duration
	MaxAttempts int
	Jitter      time.Duration
}

// DefaultPolicy follows RFC 2131 section 4.1: 4s, doubling up to 64s,
// randomized by one second.
func DefaultPolicy() Policy {
	return Policy{
		Base:        4 * time.Second,
		Multiplier:  2,
		MaxTimeout:  64 * time.Second,
		MaxAttempts: 4,
		Jitter:      time.Second,
	}
}

// Validate reports every inconsistency of p.
func (p Policy) Validate() error {
	var err error
	if p.Base <= 0 {
		err = multierr.Append(err, errors.Errorf("base timeout %s must be positive", p.Base))
	}
	if p.Multiplier < 1 {
		err = multierr.Append(err, errors.Errorf("multiplier %g must be at least 1", p.Multiplier))
	}
	if p.MaxTimeout < p.Base {
		err = multierr.Append(err, errors.Errorf("max timeout %s is below the base timeout %s", p.MaxTimeout, p.Base))
	}
	if p.MaxAttempts < 0 {
		err = multierr.Append(err, errors.Errorf("max attempts %d must not be negative", p.MaxAttempts))
	}
	if p.Jitter < 0 || (p.Base > 0 && p.Jitter >= p.Base) {
		err = multierr.Append(err, errors.Errorf("jitter %s must be within [0, %s)", p.Jitter, p.Base))
	}
	return err
}

// Timeout returns the unjittered timeout before the given attempt. It never
// decreases with attempt and never exceeds MaxTimeout.
func (p Policy) Timeout(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := float64(p.Base) * math.Pow(p.Multiplier, float64(attempt))
	if math.IsNaN(d) || d >= float64(p.MaxTimeout) {
		return p.MaxTimeout
	}
	return time.Duration(d)
}

// Backoff returns the timeout before the given attempt with jitter applied.
// sample is a uniform random number in [0, 1); the result stays within
// [0, MaxTimeout] and never falls below the largest value the previous
// attempt can yield, so intervals don't decrease whatever the samples.
func (p Policy) Backoff(attempt int, sample float64) time.Duration {
	d := p.Timeout(attempt) + time.Duration((2*sample-1)*float64(p.Jitter))
	if attempt > 0 {
		if floor := p.Timeout(attempt-1) + p.Jitter; d < floor {
			d = floor
		}
	}
	if d > p.MaxTimeout {
		return p.MaxTimeout
	}
	if d < 0 {
		return 0
	}
	return d
}

// Exhausted reports whether attempt has used up the policy. A policy without
// MaxAttempts is never exhausted.
func (p Policy) Exhausted(attempt int) bool {
	return p.MaxAttempts > 0 && attempt >= p.MaxAttempts
}
