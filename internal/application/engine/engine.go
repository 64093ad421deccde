package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/alejandrodnm/sentibot/internal/domain"
)

// RetryPolicy bounds retries of external calls (ingestion, LLM, broker).
type RetryPolicy struct {
	Attempts int
	BaseWait time.Duration
	MaxWait  time.Duration
}

// DefaultRetry is three attempts with 250ms exponential backoff.
var DefaultRetry = RetryPolicy{Attempts: 3, BaseWait: 250 * time.Millisecond, MaxWait: 5 * time.Second}

// permanentError stops Retry without further attempts.
type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. Retry returns the inner error
// as is, without the domain.ErrExternalCall wrapping.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

// Retry runs fn up to p.Attempts times with exponential backoff and jitter.
// The final error is wrapped in domain.ErrExternalCall.
func Retry[T any](ctx context.Context, p RetryPolicy, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if p.Attempts <= 0 {
		p.Attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < p.Attempts; attempt++ {
		res, err := fn(ctx)
		if err == nil {
			return res, nil
		}
		var perm permanentError
		if errors.As(err, &perm) {
			return zero, perm.err
		}
		lastErr = err
		if attempt == p.Attempts-1 {
			break
		}
		if err := sleep(ctx, backoff(p, attempt)); err != nil {
			return zero, fmt.Errorf("%w: %w", domain.ErrExternalCall, err)
		}
	}
	return zero, fmt.Errorf("%w after %d attempts: %w", domain.ErrExternalCall, p.Attempts, lastErr)
}

// backoff = min(max, base × 2^attempt), jittered in [d/2, d].
func backoff(p RetryPolicy, attempt int) time.Duration {
	d := time.Duration(math.Pow(2, float64(attempt))) * p.BaseWait
	if p.MaxWait > 0 && d > p.MaxWait {
		d = p.MaxWait
	}
	half := d / 2
	if half <= 0 {
		return d
	}
	return half + time.Duration(rand.Int64N(int64(half)+1))
}

// sleep espera respetando el contexto.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TruncateStr trunca un string a maxLen bytes añadiendo "..." si es necesario.
func TruncateStr(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
