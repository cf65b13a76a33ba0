// Package retry holds the single backoff policy shared by the document
// source, the chat source, the reasoning backend and the notifier.
package retry

import (
	"context"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"

	"github.com/agenthands/driftwatch/internal/fault"
	"github.com/agenthands/driftwatch/internal/logging"
)

// Config bounds a retry sequence. Delays double from BaseDelay up to MaxDelay.
type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultConfig returns the defaults used when a collaborator has no
// explicit retry settings.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 4,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    10 * time.Second,
	}
}

func normalize(cfg Config) Config {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 500 * time.Millisecond
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = cfg.BaseDelay
	}
	return cfg
}

// Policy retries operations whose error is fault.RateLimited or
// fault.Transient. Anything else is returned on the first attempt.
type Policy struct {
	name   string
	cfg    Config
	logger logging.Logger
}

// New creates a named policy. The name only shows up in logs.
func New(name string, cfg Config, logger logging.Logger) *Policy {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Policy{name: name, cfg: normalize(cfg), logger: logger}
}

// Config returns the normalized configuration.
func (p *Policy) Config() Config {
	return p.cfg
}

// Do runs fn under the policy.
func (p *Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := Get(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Get runs fn under the policy and returns its result. Once attempts are
// exhausted the last error is returned unchanged so callers keep its kind.
// Cancellation of ctx interrupts the backoff wait. A provider's requested
// wait (fault.RetryAfter) is honored as the minimum delay before the next
// attempt. If the final attempt succeeded its result wins even when ctx
// expired while it ran.
func Get[T any](ctx context.Context, p *Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	policy := retrypolicy.NewBuilder[T]().
		WithBackoff(p.cfg.BaseDelay, p.cfg.MaxDelay).
		WithMaxAttempts(p.cfg.MaxAttempts).
		WithJitterFactor(0.1).
		WithDelayFunc(func(e failsafe.ExecutionAttempt[T]) time.Duration {
			after := fault.RetryAfter(e.LastError())
			if after <= 0 {
				return -1
			}
			return max(after, p.backoff(e.Retries()))
		}).
		HandleIf(func(_ T, err error) bool {
			return fault.IsRetryable(err)
		}).
		ReturnLastFailure().
		OnRetry(func(e failsafe.ExecutionEvent[T]) {
			p.logger.WithFields(logging.Fields{
				"policy":  p.name,
				"attempt": e.Attempts(),
				"kind":    fault.KindOf(e.LastError()),
			}).WithError(e.LastError()).Warn("retrying after backoff")
		}).
		Build()

	// failsafe runs attempts on this goroutine, so the captures need no lock.
	var (
		succeeded bool
		last      T
	)
	result, err := failsafe.With[T](policy).WithContext(ctx).Get(func() (T, error) {
		r, err := fn(ctx)
		succeeded, last = err == nil, r
		return r, err
	})
	if err != nil && succeeded {
		return last, nil
	}
	if err != nil && ctx.Err() != nil && !fault.Is(err, fault.Timeout) {
		return result, fault.New(fault.Timeout, p.name, ctx.Err())
	}
	return result, err
}

// backoff is the exponential delay before retry n+1, capped at MaxDelay.
func (p *Policy) backoff(retries int) time.Duration {
	d := p.cfg.BaseDelay
	for i := 0; i < retries && d < p.cfg.MaxDelay; i++ {
		d *= 2
	}
	return min(d, p.cfg.MaxDelay)
}
