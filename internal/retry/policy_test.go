package retry

import (
	"context"
	"errors"
	"fmt"
	"syscall"
	"testing"
	"time"

	"evalgo.org/anchor/models"
	cerrdefs "github.com/containerd/errdefs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPolicy() Policy {
	p := DefaultPolicy()
	p.RetryDelay = time.Millisecond
	p.MaxDelay = 4 * time.Millisecond
	p.OperationTimeout = time.Second
	return p
}

func TestExecute_Success(t *testing.T) {
	calls := 0
	got, err := Execute(context.Background(), testPolicy(), "op", func(ctx context.Context) (string, error) {
		calls++
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 1, calls)
}

func TestExecute_TransientExhaustsBudget(t *testing.T) {
	for _, attempts := range []int{0, 1, 3} {
		t.Run(fmt.Sprintf("retry_attempts=%d", attempts), func(t *testing.T) {
			p := testPolicy()
			p.RetryAttempts = attempts

			calls := 0
			err := Do(context.Background(), p, "pull", func(ctx context.Context) error {
				calls++
				return fmt.Errorf("dial unix: %w", syscall.ECONNREFUSED)
			})

			assert.Equal(t, attempts+1, calls)

			var connErr *models.ConnectionError
			require.ErrorAs(t, err, &connErr)
			assert.Equal(t, "pull", connErr.Op)
			assert.Equal(t, attempts+1, connErr.Attempts)
			assert.ErrorIs(t, err, syscall.ECONNREFUSED)
		})
	}
}

func TestExecute_NonTransientFailsImmediately(t *testing.T) {
	imageErr := &models.ImageError{Image: "nginx:nope", Message: "manifest unknown"}

	tests := []struct {
		name string
		err  error
	}{
		{"image error", imageErr},
		{"not found", fmt.Errorf("no such container: %w", cerrdefs.ErrNotFound)},
		{"conflict", fmt.Errorf("name in use: %w", cerrdefs.ErrConflict)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := Do(context.Background(), testPolicy(), "op", func(ctx context.Context) error {
				calls++
				return tt.err
			})

			assert.Equal(t, 1, calls)
			assert.ErrorIs(t, err, tt.err)

			var connErr *models.ConnectionError
			assert.False(t, errors.As(err, &connErr))
		})
	}
}

func TestExecute_RecoversAfterTransientFailure(t *testing.T) {
	var waits []time.Duration
	p := testPolicy()
	p.OnRetry = func(op string, attempt int, err error, wait time.Duration) {
		waits = append(waits, wait)
	}

	calls := 0
	got, err := Execute(context.Background(), p, "start", func(ctx context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, cerrdefs.ErrUnavailable
		}
		return 42, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 42, got)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{time.Millisecond, 2 * time.Millisecond}, waits)
}

func TestExecute_BackoffIsCapped(t *testing.T) {
	var waits []time.Duration
	p := testPolicy()
	p.RetryAttempts = 5
	p.OnRetry = func(op string, attempt int, err error, wait time.Duration) {
		waits = append(waits, wait)
	}

	_ = Do(context.Background(), p, "op", func(ctx context.Context) error {
		return cerrdefs.ErrUnavailable
	})

	assert.Equal(t, []time.Duration{
		time.Millisecond, 2 * time.Millisecond, 4 * time.Millisecond, 4 * time.Millisecond, 4 * time.Millisecond,
	}, waits)
}

func TestExecute_FixedDelay(t *testing.T) {
	var waits []time.Duration
	p := testPolicy()
	p.Multiplier = 1
	p.RetryAttempts = 3
	p.OnRetry = func(op string, attempt int, err error, wait time.Duration) {
		waits = append(waits, wait)
	}

	_ = Do(context.Background(), p, "op", func(ctx context.Context) error {
		return cerrdefs.ErrUnavailable
	})

	assert.Equal(t, []time.Duration{time.Millisecond, time.Millisecond, time.Millisecond}, waits)
}

func TestExecute_AttemptTimeout(t *testing.T) {
	p := testPolicy()
	p.OperationTimeout = 10 * time.Millisecond
	p.RetryAttempts = 1

	calls := 0
	err := Do(context.Background(), p, "pull", func(ctx context.Context) error {
		calls++
		<-ctx.Done()
		return ctx.Err()
	})

	assert.Equal(t, 2, calls)

	var timeoutErr *models.TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, 10*time.Millisecond, timeoutErr.Timeout)

	var connErr *models.ConnectionError
	assert.ErrorAs(t, err, &connErr)
}

func TestExecute_ParentCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := testPolicy()
	p.RetryDelay = time.Hour
	p.MaxDelay = time.Hour

	calls := 0
	err := Do(ctx, p, "op", func(ctx context.Context) error {
		calls++
		cancel()
		return cerrdefs.ErrUnavailable
	})

	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestProbe(t *testing.T) {
	p := testPolicy()
	p.ConnectionTimeout = 5 * time.Millisecond

	err := Probe(context.Background(), p, "ping", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	var timeoutErr *models.TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, 5*time.Millisecond, timeoutErr.Timeout)

	err = Probe(context.Background(), p, "ping", func(ctx context.Context) error {
		return syscall.ECONNREFUSED
	})
	var connErr *models.ConnectionError
	assert.ErrorAs(t, err, &connErr)

	assert.NoError(t, Probe(context.Background(), p, "ping", func(ctx context.Context) error { return nil }))
}

func TestWithDefaults(t *testing.T) {
	p := Policy{RetryAttempts: 0, RetryDelay: 5 * time.Millisecond}.WithDefaults()

	assert.Equal(t, DefaultOperationTimeout, p.OperationTimeout)
	assert.Equal(t, DefaultConnectionTimeout, p.ConnectionTimeout)
	assert.Equal(t, 5*time.Millisecond, p.RetryDelay)
	assert.Equal(t, DefaultMultiplier, p.Multiplier)
	assert.Equal(t, DefaultMaxDelay, p.MaxDelay)
	assert.Zero(t, p.RetryAttempts)
}
