// Package readiness polls a workload until it reports ready or a retry budget runs out.
package readiness

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

// ErrNotReady is returned when the retry budget is exhausted without a ready answer.
var ErrNotReady = errors.New("workload not ready")

// Default retry budget.
const (
	DefaultMaxAttempts     = 10
	DefaultInitialInterval = 2 * time.Second
	DefaultMaxInterval     = 30 * time.Second
)

// Check reports whether the workload is ready.
type Check func(ctx context.Context) (bool, error)

// BackoffFactory returns a fresh wait schedule for one poll.
type BackoffFactory func() backoff.BackOff

// RetryPolicy bounds polling.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     BackoffFactory
}

// DefaultRetryPolicy returns 10 attempts with exponential waits between 2s and 30s.
func DefaultRetryPolicy() RetryPolicy {
	return ExponentialPolicy(DefaultMaxAttempts, DefaultInitialInterval, DefaultMaxInterval)
}

// ExponentialPolicy builds a policy with exponential waits growing from initial up to maxInterval.
func ExponentialPolicy(attempts int, initial, maxInterval time.Duration) RetryPolicy {
	return RetryPolicy{
		MaxAttempts: attempts,
		Backoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = initial
			b.MaxInterval = maxInterval
			b.MaxElapsedTime = 0
			return b
		},
	}
}

// ConstantPolicy builds a policy waiting interval between attempts.
func ConstantPolicy(attempts int, interval time.Duration) RetryPolicy {
	return RetryPolicy{
		MaxAttempts: attempts,
		Backoff: func() backoff.BackOff {
			return backoff.NewConstantBackOff(interval)
		},
	}
}

// Outcome summarizes a finished poll.
type Outcome struct {
	Ready    bool
	Attempts int
	LastErr  error
}

// Poller runs checks under a RetryPolicy.
type Poller struct {
	policy RetryPolicy
	logger zerolog.Logger
}

// NewPoller constructs a Poller. A zero MaxAttempts means the default; a nil Backoff means the
// default exponential schedule. Each Poll gets its own schedule, so a Poller is safe for concurrent use.
func NewPoller(policy RetryPolicy, logger zerolog.Logger) *Poller {
	defaults := DefaultRetryPolicy()
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = defaults.MaxAttempts
	}
	if policy.Backoff == nil {
		policy.Backoff = defaults.Backoff
	}
	return &Poller{policy: policy, logger: logger}
}

// Policy returns the effective policy.
func (p *Poller) Policy() RetryPolicy {
	return p.policy
}

type terminalError struct {
	err error
}

func (e *terminalError) Error() string { return e.err.Error() }
func (e *terminalError) Unwrap() error { return e.err }

// Terminal marks a check error as not worth retrying.
func Terminal(err error) error {
	if err == nil {
		return nil
	}
	return &terminalError{err: err}
}

// IsTerminal reports whether err was marked with Terminal.
func IsTerminal(err error) bool {
	var t *terminalError
	return errors.As(err, &t)
}

// Poll runs check until it reports ready, returns a terminal error, the attempts are exhausted or ctx
// is done. Transient check errors count as not-ready attempts.
func (p *Poller) Poll(ctx context.Context, check Check) (Outcome, error) {
	var outcome Outcome
	b := backoff.WithContext(backoff.WithMaxRetries(p.policy.Backoff(), uint64(p.policy.MaxAttempts-1)), ctx)

	op := func() error {
		outcome.Attempts++
		ready, err := check(ctx)
		if err != nil {
			outcome.LastErr = err
			if IsTerminal(err) {
				return backoff.Permanent(err)
			}
			p.logger.Debug().Err(err).Int("attempt", outcome.Attempts).Msg("readiness check failed, retrying")
			return err
		}
		if !ready {
			p.logger.Debug().Int("attempt", outcome.Attempts).Msg("workload not ready yet")
			return ErrNotReady
		}
		outcome.Ready = true
		return nil
	}

	err := backoff.Retry(op, b)
	if err == nil {
		return outcome, nil
	}
	if IsTerminal(err) {
		return outcome, err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return outcome, ctxErr
	}
	if outcome.LastErr != nil && !errors.Is(err, ErrNotReady) {
		return outcome, fmt.Errorf("%w after %d attempts: %w", ErrNotReady, outcome.Attempts, err)
	}
	return outcome, fmt.Errorf("%w after %d attempts", ErrNotReady, outcome.Attempts)
}
