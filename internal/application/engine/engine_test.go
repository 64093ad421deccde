package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alejandrodnm/sentibot/internal/application/engine"
	"github.com/alejandrodnm/sentibot/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fastRetry = engine.RetryPolicy{Attempts: 3, BaseWait: time.Millisecond, MaxWait: 2 * time.Millisecond}

func TestRetry_SucceedsAfterFailures(t *testing.T) {
	calls := 0
	got, err := engine.Retry(context.Background(), fastRetry, func(context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, errors.New("boom")
		}
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, got)
	assert.Equal(t, 3, calls)
}

func TestRetry_ExhaustedWrapsExternalCall(t *testing.T) {
	cause := errors.New("unreachable")
	calls := 0
	_, err := engine.Retry(context.Background(), fastRetry, func(context.Context) (string, error) {
		calls++
		return "", cause
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrExternalCall)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, 3, calls)
}

func TestRetry_StopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	slow := engine.RetryPolicy{Attempts: 5, BaseWait: time.Hour}
	_, err := engine.Retry(ctx, slow, func(context.Context) (int, error) {
		calls++
		return 0, errors.New("boom")
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestRetry_PermanentStopsImmediately(t *testing.T) {
	cause := errors.New("refused")
	calls := 0
	_, err := engine.Retry(context.Background(), fastRetry, func(context.Context) (int, error) {
		calls++
		return 0, engine.Permanent(cause)
	})
	assert.Equal(t, cause, err)
	assert.NotErrorIs(t, err, domain.ErrExternalCall)
	assert.Equal(t, 1, calls)
	assert.NoError(t, engine.Permanent(nil))
}

func TestTruncateStr(t *testing.T) {
	assert.Equal(t, "short", engine.TruncateStr("short", 10))
	assert.Equal(t, "abcdefg...", engine.TruncateStr("abcdefghijklmnop", 10))
}
