// Package retry wraps single engine operations with timeouts and bounded
// retry with exponential backoff.
//
// Every attempt runs under its own operation timeout. Transient failures
// (see engine.IsTransient) are retried up to RetryAttempts times; the delay
// before retry n is RetryDelay * Multiplier^(n-1), capped at MaxDelay. Any
// other failure is returned immediately without consuming a retry. When the
// retry budget is spent the last error is returned wrapped in a
// models.ConnectionError.
package retry

import (
	"context"
	"errors"
	"time"

	"evalgo.org/anchor/internal/engine"
	"evalgo.org/anchor/models"
	"github.com/cenkalti/backoff/v4"
)

// Default policy values.
const (
	DefaultOperationTimeout  = 300 * time.Second
	DefaultConnectionTimeout = 10 * time.Second
	DefaultRetryAttempts     = 3
	DefaultRetryDelay        = 1 * time.Second
	DefaultMultiplier        = 2.0
	DefaultMaxDelay          = 30 * time.Second
)

// Policy configures timeouts and retries for engine operations.
type Policy struct {
	OperationTimeout  time.Duration // Budget for one attempt
	ConnectionTimeout time.Duration // Budget for one liveness probe
	RetryAttempts     int           // Retries after the first attempt
	RetryDelay        time.Duration // Delay before the first retry
	Multiplier        float64       // Growth factor between retries; 1 means fixed delay
	MaxDelay          time.Duration // Upper bound on any single delay

	// OnRetry, when set, is called before each wait with the attempt that
	// failed (1-based), its error and the delay about to be slept.
	OnRetry func(op string, attempt int, err error, wait time.Duration)
}

// DefaultPolicy returns the default policy.
func DefaultPolicy() Policy {
	return Policy{
		OperationTimeout:  DefaultOperationTimeout,
		ConnectionTimeout: DefaultConnectionTimeout,
		RetryAttempts:     DefaultRetryAttempts,
		RetryDelay:        DefaultRetryDelay,
		Multiplier:        DefaultMultiplier,
		MaxDelay:          DefaultMaxDelay,
	}
}

// WithDefaults returns p with every unset duration and the multiplier filled
// from the defaults. RetryAttempts is kept as is, since zero is meaningful.
func (p Policy) WithDefaults() Policy {
	if p.OperationTimeout <= 0 {
		p.OperationTimeout = DefaultOperationTimeout
	}
	if p.ConnectionTimeout <= 0 {
		p.ConnectionTimeout = DefaultConnectionTimeout
	}
	if p.RetryDelay <= 0 {
		p.RetryDelay = DefaultRetryDelay
	}
	if p.Multiplier <= 0 {
		p.Multiplier = DefaultMultiplier
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = DefaultMaxDelay
	}
	return p
}

// newBackOff builds the backoff schedule for one Execute call.
func (p Policy) newBackOff(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.RetryDelay
	exp.RandomizationFactor = 0
	exp.Multiplier = p.Multiplier
	if exp.Multiplier < 1 {
		exp.Multiplier = 1
	}
	exp.MaxInterval = p.MaxDelay
	if exp.MaxInterval < exp.InitialInterval {
		exp.MaxInterval = exp.InitialInterval
	}
	exp.MaxElapsedTime = 0

	attempts := p.RetryAttempts
	if attempts < 0 {
		attempts = 0
	}
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(attempts)), ctx)
}

// Execute runs op under p. op receives a context bounded by the operation
// timeout and must honour it.
func Execute[T any](ctx context.Context, p Policy, name string, op func(ctx context.Context) (T, error)) (T, error) {
	attempt := 0

	result, err := backoff.RetryNotifyWithData(func() (T, error) {
		attempt++
		res, err := runAttempt(ctx, p.OperationTimeout, name, op)
		if err != nil && !engine.IsTransient(err) {
			return res, backoff.Permanent(err)
		}
		return res, err
	}, p.newBackOff(ctx), func(err error, wait time.Duration) {
		if p.OnRetry != nil {
			p.OnRetry(name, attempt, err, wait)
		}
	})

	if err != nil && engine.IsTransient(err) && ctx.Err() == nil {
		var connErr *models.ConnectionError
		if errors.As(err, &connErr) && connErr.Attempts > 0 {
			return result, err
		}
		return result, &models.ConnectionError{Op: name, Attempts: attempt, Err: err}
	}
	return result, err
}

// Do is Execute for operations without a result.
func Do(ctx context.Context, p Policy, name string, op func(ctx context.Context) error) error {
	_, err := Execute(ctx, p, name, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// Probe runs a single liveness check bounded by the connection timeout. It is not retried.
func Probe(ctx context.Context, p Policy, name string, op func(ctx context.Context) error) error {
	_, err := runAttempt(ctx, p.ConnectionTimeout, name, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	if err != nil && engine.IsTransient(err) {
		var connErr *models.ConnectionError
		if !errors.As(err, &connErr) {
			return &models.ConnectionError{Op: name, Err: err}
		}
	}
	return err
}

// runAttempt runs op once with its own deadline. Exceeding the deadline while
// the parent context is still live is reported as a TimeoutError.
func runAttempt[T any](ctx context.Context, timeout time.Duration, name string, op func(ctx context.Context) (T, error)) (T, error) {
	attemptCtx := ctx
	cancel := func() {}
	if timeout > 0 {
		attemptCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	res, err := op(attemptCtx)
	if err != nil && ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		return res, &models.TimeoutError{Op: name, Timeout: timeout}
	}
	return res, err
}
