// Package backoff computes retry delays for failed job attempts.
package backoff

import (
	"math"
	"math/rand/v2"
	"time"

	"github.com/joshu-sajeev/jobqueue/internal/models"
)

// maxDelay is the largest representable delay. Exponential delays that
// would overflow time.Duration saturate here.
const maxDelay = time.Duration(math.MaxInt64)

// NextDelay returns the delay before the attempt following attemptsMade.
// Fixed policies always return the base delay; exponential policies return
// base * 2^(attemptsMade-1), saturating at maxDelay once that product no
// longer fits in a time.Duration. attemptsMade below 1 is treated as 1.
func NextDelay(policy models.BackoffPolicy, attemptsMade int) time.Duration {
	base := time.Duration(policy.BaseDelayMs) * time.Millisecond
	if base <= 0 {
		return 0
	}

	if policy.Kind != models.BackoffExponential {
		return base
	}

	shift := max(attemptsMade-1, 0)
	if shift >= 63 || base > maxDelay>>uint(shift) {
		return maxDelay
	}
	return base << uint(shift)
}

// Engine applies the retry decision on top of NextDelay.
type Engine struct {
	jitter float64
}

type Option func(*Engine)

// WithJitter adds a random extra delay of up to ratio*delay. The extra is
// never negative and ratio is clamped to 1, so a jittered exponential delay
// never exceeds the un-jittered delay of the next attempt.
func WithJitter(ratio float64) Option {
	return func(e *Engine) {
		if ratio > 0 {
			e.jitter = min(ratio, 1)
		}
	}
}

func New(opts ...Option) *Engine {
	e := &Engine{}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Decision is the outcome of a failed attempt.
type Decision struct {
	Retry      bool
	Delay      time.Duration
	DelayUntil time.Time
}

// Decide reports whether the job gets another attempt and when.
func (e *Engine) Decide(job *models.Job, now time.Time) Decision {
	if job.AttemptsMade >= job.MaxAttempts {
		return Decision{}
	}

	d := NextDelay(job.Backoff, job.AttemptsMade)
	if e.jitter > 0 && d > 0 {
		extra := time.Duration(rand.Float64() * e.jitter * float64(d)) //nolint:gosec // jitter does not need crypto rand
		if extra > maxDelay-d {
			d = maxDelay
		} else {
			d += extra
		}
	}

	return Decision{Retry: true, Delay: d, DelayUntil: now.Add(d)}
}
