package retrieve

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RetryPolicy is the backoff schedule applied around each fetch. The
// delays start at InitialDelay and multiply by Multiplier after every
// failed attempt, with no randomization, so the schedule is exact and
// independently testable.
type RetryPolicy struct {
	// MaxAttempts is the total attempt budget, first try included.
	MaxAttempts uint
	// InitialDelay is the wait after the first failed attempt.
	InitialDelay time.Duration
	// Multiplier scales the delay after each subsequent failure.
	Multiplier float64
}

// DefaultRetryPolicy matches the pipeline contract: ten total attempts
// with delays doubling from one second.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 10, InitialDelay: time.Second, Multiplier: 2}
}

// Do runs op under the policy and reports how many attempts ran. Attempts
// are strictly sequential; the next attempt starts only after the previous
// outcome is known and its backoff delay has elapsed. Wrapping an error
// with backoff.Permanent stops the sequence early. Context cancellation is
// honoured between attempts.
func (p RetryPolicy) Do(ctx context.Context, op func() error) (int, error) {
	policy := p.normalized()

	// MaxInterval must stay above any delay the attempt budget can reach,
	// otherwise the doubling schedule would flatten at the cap.
	schedule := &backoff.ExponentialBackOff{
		InitialInterval:     policy.InitialDelay,
		RandomizationFactor: 0,
		Multiplier:          policy.Multiplier,
		MaxInterval:         24 * time.Hour,
	}

	attempts := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempts++
		return struct{}{}, op()
	}, backoff.WithBackOff(schedule), backoff.WithMaxTries(policy.MaxAttempts))
	return attempts, err
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxAttempts == 0 {
		p.MaxAttempts = 1
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = time.Second
	}
	if p.Multiplier < 1 {
		p.Multiplier = 2
	}
	return p
}
