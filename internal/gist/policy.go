package gist

import (
	"math/rand/v2"
	"time"
)

const (
	DefaultMinDelay   = 5 * time.Second
	DefaultMaxBackoff = 15 * time.Minute
)

// Policy decides when a queued job runs next. It is pure apart from the
// jitter source, which tests replace.
type Policy struct {
	MinDelay   time.Duration
	MaxBackoff time.Duration
	// Jitter returns a value in [0, n). Defaults to math/rand.
	Jitter func(n int64) int64
}

// DefaultPolicy returns the production retry policy.
func DefaultPolicy() Policy {
	return Policy{MinDelay: DefaultMinDelay, MaxBackoff: DefaultMaxBackoff}
}

// NotBefore clamps t to at least MinDelay after now. It gives both the
// first due instant of a freshly queued job and every queue wake-up.
func (p Policy) NotBefore(t, now time.Time) time.Time {
	return latest(t, now.Add(p.minDelay()))
}

// NextAttempt records one more rate-limited attempt on job and moves its
// NextAttemptAt past the reset instant by a jittered exponential window.
// The jitter never drops below half the window, so successive attempts
// are strictly later and never more than MaxBackoff past their base.
func (p Policy) NextAttempt(job Job, resetAt, now time.Time) Job {
	job.Attempts++
	window := p.window(job.Attempts)
	base := latest(resetAt, now, job.NextAttemptAt)

	half := int64(window / 2)
	delay := time.Duration(half)
	if half > 0 {
		delay += time.Duration(p.jitter(half))
	}
	job.NextAttemptAt = base.Add(delay)
	return job
}

func (p Policy) window(attempts int) time.Duration {
	maxBackoff := p.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = DefaultMaxBackoff
	}
	if attempts > 30 {
		return maxBackoff
	}
	return min(maxBackoff, time.Duration(1<<attempts)*time.Second)
}

func (p Policy) jitter(n int64) int64 {
	if p.Jitter != nil {
		return p.Jitter(n)
	}
	return rand.Int64N(n)
}

func (p Policy) minDelay() time.Duration {
	if p.MinDelay <= 0 {
		return DefaultMinDelay
	}
	return p.MinDelay
}

func latest(t time.Time, others ...time.Time) time.Time {
	for _, o := range others {
		if o.After(t) {
			t = o
		}
	}
	return t
}
