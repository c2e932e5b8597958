package errors_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ecerrors "github.com/randalmurphal/eventcore/pkg/eventcore/errors"
)

func TestCategorize(t *testing.T) {
	base := errors.New("boom")

	tests := []struct {
		name string
		err  error
		want ecerrors.Category
	}{
		{"nil", nil, ecerrors.CategoryPermanent},
		{"plain", base, ecerrors.CategoryPermanent},
		{"transient", ecerrors.Transient(base, "redis"), ecerrors.CategoryTransient},
		{"wrapped transient", errors.Join(errors.New("outer"), ecerrors.Transient(base, "redis")), ecerrors.CategoryTransient},
		{"deadline", context.DeadlineExceeded, ecerrors.CategoryTransient},
		{"permanent", ecerrors.Permanent(base, "decode"), ecerrors.CategoryPermanent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ecerrors.Categorize(tt.err))
		})
	}
}

func TestCategorizedError_Message(t *testing.T) {
	err := ecerrors.Transient(errors.New("refused"), "redis write snapshot")
	assert.Equal(t, "redis write snapshot: refused", err.Error())

	err.Attempts = 3
	assert.Contains(t, err.Error(), "attempts: 3")
	assert.Contains(t, err.Error(), "transient")
}

var fastRetry = ecerrors.RetryConfig{
	MaxAttempts:    3,
	InitialBackoff: time.Millisecond,
	MaxBackoff:     5 * time.Millisecond,
	BackoffFactor:  2,
}

func TestWithRetryContext_RetriesTransient(t *testing.T) {
	calls := 0
	res := ecerrors.WithRetryContext(context.Background(), fastRetry, func(context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, ecerrors.Transient(errors.New("blip"), "op")
		}
		return 42, nil
	})

	require.NoError(t, res.Err)
	assert.Equal(t, 42, res.Value)
	assert.Equal(t, 3, res.Attempts)
}

func TestWithRetryContext_StopsOnPermanent(t *testing.T) {
	calls := 0
	base := errors.New("bad input")
	res := ecerrors.WithRetryContext(context.Background(), fastRetry, func(context.Context) (int, error) {
		calls++
		return 0, base
	})

	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, res.Err, base)
}

func TestWithRetryContext_ExhaustsAttempts(t *testing.T) {
	attempts, err := ecerrors.Retry(context.Background(), fastRetry, func(context.Context) error {
		return ecerrors.Transient(errors.New("down"), "op")
	})

	assert.Equal(t, 3, attempts)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max retries exceeded")
}

func TestWithRetryContext_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	attempts, err := ecerrors.Retry(ctx, fastRetry, func(context.Context) error {
		t.Fatal("fn must not run")
		return nil
	})

	assert.Zero(t, attempts)
	assert.ErrorIs(t, err, context.Canceled)
}
