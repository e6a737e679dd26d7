package ratelimit

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"didvault/pkg/requestcontext"
)

func TestInMemoryStoreSlidingWindow(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	for i := range 3 {
		res, err := store.Allow(ctx, "k", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
		assert.Equal(t, 2-i, res.Remaining)
	}

	res, err := store.Allow(ctx, "k", 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, 60, res.RetryAfter)

	now = now.Add(30 * time.Second)
	res, _ = store.Allow(ctx, "k", 3, time.Minute)
	assert.False(t, res.Allowed)
	assert.Equal(t, 30, res.RetryAfter)

	now = now.Add(31 * time.Second)
	res, _ = store.Allow(ctx, "k", 3, time.Minute)
	assert.True(t, res.Allowed)

	other, _ := store.Allow(ctx, "other", 3, time.Minute)
	assert.Equal(t, 2, other.Remaining)
}

type failingStore struct{}

func (failingStore) Allow(context.Context, string, int, time.Duration) (Result, error) {
	return Result{}, errors.New("redis down")
}

type countingMetrics struct{ allowed, limited int }

func (c *countingMetrics) ObserveRateLimit(_ string, allowed bool) {
	if allowed {
		c.allowed++
	} else {
		c.limited++
	}
}

func serve(h http.Handler, ip string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/credentials", nil)
	req = req.WithContext(requestcontext.WithClientMetadata(req.Context(), ip, "test", "test"))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestMiddleware(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })
	limits := map[Class]Limit{ClassPrompt: {Requests: 1, Window: time.Minute}}

	t.Run("limits per ip", func(t *testing.T) {
		metrics := &countingMetrics{}
		h := New(NewInMemoryStore(), logger, WithLimits(limits), WithMetrics(metrics)).Limit(ClassPrompt)(ok)

		first := serve(h, "10.0.0.1")
		assert.Equal(t, http.StatusNoContent, first.Code)
		assert.Equal(t, "1", first.Header().Get("X-RateLimit-Limit"))
		assert.Equal(t, "0", first.Header().Get("X-RateLimit-Remaining"))

		second := serve(h, "10.0.0.1")
		assert.Equal(t, http.StatusTooManyRequests, second.Code)
		assert.NotEmpty(t, second.Header().Get("Retry-After"))
		assert.Contains(t, second.Body.String(), "rate_limit_exceeded")

		assert.Equal(t, http.StatusNoContent, serve(h, "10.0.0.2").Code)
		assert.Equal(t, 2, metrics.allowed)
		assert.Equal(t, 1, metrics.limited)
	})

	t.Run("store failure fails open", func(t *testing.T) {
		h := New(failingStore{}, logger, WithLimits(limits)).Limit(ClassPrompt)(ok)
		assert.Equal(t, http.StatusNoContent, serve(h, "10.0.0.1").Code)
	})

	t.Run("disabled", func(t *testing.T) {
		h := New(NewInMemoryStore(), logger, WithLimits(limits), WithDisabled(true)).Limit(ClassPrompt)(ok)
		serve(h, "10.0.0.1")
		assert.Equal(t, http.StatusNoContent, serve(h, "10.0.0.1").Code)
	})

	t.Run("unknown class passes", func(t *testing.T) {
		h := New(NewInMemoryStore(), logger, WithLimits(limits)).Limit(ClassRead)(ok)
		assert.Equal(t, http.StatusNoContent, serve(h, "10.0.0.1").Code)
	})

	t.Run("nil middleware passes", func(t *testing.T) {
		var m *Middleware
		assert.Equal(t, http.StatusNoContent, serve(m.Limit(ClassPrompt)(ok), "10.0.0.1").Code)
	})
}
