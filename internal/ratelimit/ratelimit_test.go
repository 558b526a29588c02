package ratelimit

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLimiter(t *testing.T, limit int, window time.Duration) (*RedisLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	l, err := NewRedisLimiter(context.Background(), "redis://"+mr.Addr(), limit, window)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l, mr
}

func TestRedisLimiter_FixedWindow(t *testing.T) {
	l, mr := newLimiter(t, 2, time.Minute)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		d, err := l.Allow(ctx, "10.0.0.1")
		require.NoError(t, err)
		assert.True(t, d.Allowed, "request %d", i+1)
	}

	d, err := l.Allow(ctx, "10.0.0.1")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Greater(t, d.RetryAfter, time.Duration(0))
	assert.LessOrEqual(t, d.RetryAfter, time.Minute)

	// Other clients have their own budget.
	d, err = l.Allow(ctx, "10.0.0.2")
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	mr.FastForward(time.Minute)

	d, err = l.Allow(ctx, "10.0.0.1")
	require.NoError(t, err)
	assert.True(t, d.Allowed, "a new window starts after expiry")
}

func TestRedisLimiter_KeyHasTTL(t *testing.T) {
	l, mr := newLimiter(t, 5, 30*time.Second)

	_, err := l.Allow(context.Background(), "10.0.0.1")
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, mr.TTL("reseply:ratelimit:10.0.0.1"))
}

func TestNewRedisLimiter_Errors(t *testing.T) {
	ctx := context.Background()

	_, err := NewRedisLimiter(ctx, "", 1, time.Second)
	assert.Error(t, err)

	_, err = NewRedisLimiter(ctx, "redis://localhost:6379", 0, time.Second)
	assert.Error(t, err)

	_, err = NewRedisLimiter(ctx, "http://not-redis", 1, time.Second)
	assert.ErrorContains(t, err, "parse redis url")

	_, err = NewRedisLimiter(ctx, "redis://127.0.0.1:1", 1, time.Second)
	assert.ErrorContains(t, err, "redis ping failed")
}

// ---------------------------------------------------------------------------
// Middleware
// ---------------------------------------------------------------------------

type stubLimiter struct {
	decision Decision
	err      error
	keys     []string
}

func (s *stubLimiter) Allow(_ context.Context, key string) (Decision, error) {
	s.keys = append(s.keys, key)
	return s.decision, s.err
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestMiddleware(t *testing.T) {
	t.Run("allowed passes through", func(t *testing.T) {
		lim := &stubLimiter{decision: Decision{Allowed: true}}
		h := Middleware(lim, zerolog.Nop(), nil)(okHandler())

		req := httptest.NewRequest(http.MethodPost, "/api/chat", nil)
		req.RemoteAddr = "192.0.2.7:51234"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, []string{"192.0.2.7"}, lim.keys)
	})

	t.Run("limited gets 429", func(t *testing.T) {
		lim := &stubLimiter{decision: Decision{Allowed: false, RetryAfter: 1500 * time.Millisecond}}
		limited := 0
		h := Middleware(lim, zerolog.Nop(), func() { limited++ })(okHandler())

		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/chat", nil))

		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
		assert.Equal(t, "2", rec.Header().Get("Retry-After"))
		assert.JSONEq(t, `{"success":false,"message":"too many requests, please slow down"}`, rec.Body.String())
		assert.Equal(t, 1, limited)
	})

	t.Run("limiter failure fails open", func(t *testing.T) {
		var logs bytes.Buffer
		lim := &stubLimiter{err: errors.New("dial tcp: connection refused")}
		h := Middleware(lim, zerolog.New(&logs), nil)(okHandler())

		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/chat", nil))

		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Contains(t, logs.String(), "rate limiter unavailable")
	})

	t.Run("address without port", func(t *testing.T) {
		lim := &stubLimiter{decision: Decision{Allowed: true}}
		h := Middleware(lim, zerolog.Nop(), nil)(okHandler())

		req := httptest.NewRequest(http.MethodPost, "/api/chat", nil)
		req.RemoteAddr = "203.0.113.9"
		h.ServeHTTP(httptest.NewRecorder(), req)

		assert.Equal(t, []string{"203.0.113.9"}, lim.keys)
	})
}

func TestRedisLimiter_WithMiddleware(t *testing.T) {
	l, _ := newLimiter(t, 1, time.Minute)
	h := Middleware(l, zerolog.Nop(), nil)(okHandler())

	first := httptest.NewRecorder()
	h.ServeHTTP(first, httptest.NewRequest(http.MethodPost, "/api/chat", nil))
	second := httptest.NewRecorder()
	h.ServeHTTP(second, httptest.NewRequest(http.MethodPost, "/api/chat", nil))

	assert.Equal(t, http.StatusNoContent, first.Code)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
}
