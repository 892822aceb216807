package resilience

import (
	"context"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"
)

// Backoff controls how a failed call is retried.
type Backoff struct {
	// Attempts is the total number of tries, including the first. Default: 3.
	Attempts int
	// Base is the delay before the first retry. Default: 500ms.
	Base time.Duration
	// Cap bounds any single delay. Default: 10s.
	Cap time.Duration
	// Jitter is the random spread applied to each delay as a fraction (0.2 = ±20%).
	Jitter float64
	// Retryable decides whether an error is worth another try. Nil means IsTransient.
	Retryable func(error) bool
}

// DefaultBackoff is used for every external lead source.
func DefaultBackoff() Backoff {
	return Backoff{
		Attempts: 3,
		Base:     500 * time.Millisecond,
		Cap:      10 * time.Second,
		Jitter:   0.2,
	}
}

func (b Backoff) normalized() Backoff {
	if b.Attempts <= 0 {
		b.Attempts = 3
	}
	if b.Base <= 0 {
		b.Base = 500 * time.Millisecond
	}
	if b.Cap <= 0 {
		b.Cap = 10 * time.Second
	}
	if b.Jitter < 0 {
		b.Jitter = 0
	}
	if b.Retryable == nil {
		b.Retryable = IsTransient
	}
	return b
}

// delay returns the wait before retry n (0-based): Base * 2^n, capped, jittered.
func (b Backoff) delay(n int) time.Duration {
	d := float64(b.Base) * math.Pow(2, float64(n))
	d = math.Min(d, float64(b.Cap))
	if b.Jitter > 0 {
		d += (rand.Float64()*2 - 1) * d * b.Jitter
	}
	return time.Duration(math.Max(d, 0))
}

// Retry runs fn until it succeeds, returns a non-retryable error, exhausts
// the attempt budget, or ctx is done. The last error is returned.
// op labels the retry warnings in the log.
func Retry[T any](ctx context.Context, b Backoff, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	b = b.normalized()
	log := zap.L().With(zap.String("component", "resilience"), zap.String("operation", op))

	var zero T
	var err error
	for n := 0; n < b.Attempts; n++ {
		var v T
		v, err = fn(ctx)
		if err == nil {
			return v, nil
		}
		if ctx.Err() != nil || !b.Retryable(err) || n == b.Attempts-1 {
			return zero, err
		}

		wait := b.delay(n)
		log.Warn("retrying after transient failure",
			zap.Int("attempt", n+1),
			zap.Duration("wait", wait),
			zap.Error(err),
		)

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return zero, err
		case <-t.C:
		}
	}
	return zero, err
}

// Do is Retry for calls without a result.
func Do(ctx context.Context, b Backoff, op string, fn func(ctx context.Context) error) error {
	_, err := Retry(ctx, b, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}
