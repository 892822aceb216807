package resilience

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func fastBackoff() Backoff {
	return Backoff{Attempts: 3, Base: time.Millisecond, Cap: 5 * time.Millisecond}
}

func TestRetry_SucceedsFirstTry(t *testing.T) {
	calls := 0
	v, err := Retry(context.Background(), fastBackoff(), "test", func(context.Context) (int, error) {
		calls++
		return 7, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 7, v)
	assert.Equal(t, 1, calls)
}

func TestRetry_RecoversFromTransient(t *testing.T) {
	calls := 0
	v, err := Retry(context.Background(), fastBackoff(), "test", func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", &StatusError{Code: http.StatusServiceUnavailable, URL: "http://x"}
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, 3, calls)
}

func TestRetry_ExhaustsAttempts(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastBackoff(), "test", func(context.Context) error {
		calls++
		return &StatusError{Code: http.StatusTooManyRequests}
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetry_PermanentErrorStopsImmediately(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastBackoff(), "test", func(context.Context) error {
		calls++
		return &StatusError{Code: http.StatusUnauthorized}
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetry_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	b := Backoff{Attempts: 5, Base: time.Hour, Cap: time.Hour}
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	err := Do(ctx, b, "test", func(context.Context) error {
		calls++
		return errors.New("i/o timeout")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetry_CustomRetryable(t *testing.T) {
	calls := 0
	b := fastBackoff()
	b.Retryable = func(error) bool { return true }
	_ = Do(context.Background(), b, "test", func(context.Context) error {
		calls++
		return errors.New("anything")
	})
	assert.Equal(t, 3, calls)
}

func TestBackoff_DelayCapped(t *testing.T) {
	b := Backoff{Base: time.Second, Cap: 3 * time.Second}.normalized()
	assert.Equal(t, time.Second, b.delay(0))
	assert.Equal(t, 2*time.Second, b.delay(1))
	assert.Equal(t, 3*time.Second, b.delay(5))
}

func TestIsTransient(t *testing.T) {
	assert.False(t, IsTransient(nil))
	assert.True(t, IsTransient(&StatusError{Code: 502}))
	assert.True(t, IsTransient(eris.Wrap(&StatusError{Code: 504}, "wrapped")))
	assert.False(t, IsTransient(&StatusError{Code: 404}))
	assert.True(t, IsTransient(errors.New("read tcp: connection reset by peer")))
	assert.False(t, IsTransient(errors.New("invalid json")))
}

func TestIsTransientStatus(t *testing.T) {
	for _, c := range []int{408, 429, 500, 502, 503, 504} {
		assert.True(t, IsTransientStatus(c), c)
	}
	for _, c := range []int{200, 400, 401, 403, 404, 422} {
		assert.False(t, IsTransientStatus(c), c)
	}
}

func TestStatusError_TruncatesBody(t *testing.T) {
	e := &StatusError{Code: 500, URL: "http://x", Body: string(make([]byte, 500))}
	assert.Less(t, len(e.Error()), 300)
}

func failing(context.Context) (int, error) { return 0, errors.New("boom") }
func passing(context.Context) (int, error) { return 1, nil }

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b := NewBreaker("strapi_loan", BreakerConfig{Threshold: 2, Cooldown: time.Minute})
	ctx := context.Background()

	_, _ = Guard(ctx, b, failing)
	assert.Equal(t, Closed, b.State())
	_, _ = Guard(ctx, b, failing)
	assert.Equal(t, Open, b.State())

	called := false
	_, err := Guard(ctx, b, func(context.Context) (int, error) {
		called = true
		return 0, nil
	})
	assert.False(t, called)
	assert.True(t, errors.Is(err, ErrOpen))
}

func TestBreaker_HalfOpenProbe(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	b := NewBreaker("beehiiv", BreakerConfig{Threshold: 1, Cooldown: time.Minute})
	b.now = func() time.Time { return now }
	ctx := context.Background()

	_, _ = Guard(ctx, b, failing)
	assert.Equal(t, Open, b.State())

	now = now.Add(2 * time.Minute)
	assert.Equal(t, HalfOpen, b.State())

	// failed half-open call reopens
	_, _ = Guard(ctx, b, failing)
	assert.Equal(t, Open, b.State())

	now = now.Add(2 * time.Minute)
	v, err := Guard(ctx, b, passing)
	require.NoError(t, err)
	assert.Equal(t, 1, v)
	assert.Equal(t, Closed, b.State())
}

func TestBreaker_SuccessResetsFailures(t *testing.T) {
	b := NewBreaker("x", BreakerConfig{Threshold: 2})
	ctx := context.Background()
	_, _ = Guard(ctx, b, failing)
	_, _ = Guard(ctx, b, passing)
	_, _ = Guard(ctx, b, failing)
	assert.Equal(t, Closed, b.State())
}

func TestBreaker_CallerCancellationIgnored(t *testing.T) {
	b := NewBreaker("x", BreakerConfig{Threshold: 1})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Guard(ctx, b, func(ctx context.Context) (int, error) { return 0, ctx.Err() })
	require.Error(t, err)
	assert.Equal(t, Closed, b.State())
}

func TestBreaker_CancelledHalfOpenCallKeepsState(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	b := NewBreaker("strapi_cibil", BreakerConfig{Threshold: 2, Cooldown: time.Minute})
	b.now = func() time.Time { return now }

	_, _ = Guard(context.Background(), b, failing)
	_, _ = Guard(context.Background(), b, failing)
	require.Equal(t, Open, b.State())

	now = now.Add(2 * time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Guard(ctx, b, func(ctx context.Context) (int, error) { return 0, ctx.Err() })
	require.Error(t, err)
	assert.Equal(t, HalfOpen, b.State())
	assert.Equal(t, 2, b.failures)

	// the half-open slot is free again, and one more failure reopens
	called := false
	_, _ = Guard(context.Background(), b, func(context.Context) (int, error) {
		called = true
		return 0, errors.New("boom")
	})
	assert.True(t, called)
	assert.Equal(t, Open, b.State())
}

func TestBreaker_CancelledCallKeepsFailureCount(t *testing.T) {
	b := NewBreaker("x", BreakerConfig{Threshold: 2})
	_, _ = Guard(context.Background(), b, failing)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _ = Guard(ctx, b, func(ctx context.Context) (int, error) { return 0, ctx.Err() })
	assert.Equal(t, 1, b.failures)

	_, _ = Guard(context.Background(), b, failing)
	assert.Equal(t, Open, b.State())
}

func TestBreakers_Registry(t *testing.T) {
	r := NewBreakers(BreakerConfig{Threshold: 1})
	a := r.For("strapi_loan")
	assert.Same(t, a, r.For("strapi_loan"))
	assert.NotSame(t, a, r.For("beehiiv"))

	_, _ = Guard(context.Background(), a, failing)
	states := r.States()
	assert.Equal(t, "open", states["strapi_loan"])
	assert.Equal(t, "closed", states["beehiiv"])
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "closed", Closed.String())
	assert.Equal(t, "half-open", HalfOpen.String())
	assert.Equal(t, "unknown", State(9).String())
}
