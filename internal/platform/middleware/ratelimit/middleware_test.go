package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"bulwark/internal/platform/cache"
	"bulwark/internal/platform/middleware/ratelimit/application"
	"bulwark/internal/platform/middleware/ratelimit/domain"
	"bulwark/internal/platform/middleware/ratelimit/infra"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMiddlewareRejectsSixthRequestInWindow(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	client := cache.NewClient(cache.Config{Addr: mr.Addr()}, nil)
	defer client.Close()

	handler := newHandler(t, client)
	for i := 1; i <= 10; i++ {
		rr := send(handler, "/auth/login")
		assert.Equal(t, "5", rr.Header().Get(HeaderLimit), "request %d", i)
		assert.Equal(t, "60", rr.Header().Get(HeaderWindow), "request %d", i)
		if i <= 5 {
			require.Equal(t, http.StatusOK, rr.Code, "request %d", i)
			continue
		}
		require.Equal(t, http.StatusTooManyRequests, rr.Code, "request %d", i)
		assert.Equal(t, "Too Many Requests\n", rr.Body.String())
		assert.NotEmpty(t, rr.Header().Get("Retry-After"))
		assert.Equal(t, "0", rr.Header().Get(HeaderRemaining))
	}
}

func TestMiddlewareFallsBackWhenStoreIsDown(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	client := cache.NewClient(cache.Config{Addr: mr.Addr(), Timeout: 50 * time.Millisecond}, nil)
	defer client.Close()
	mr.Close()

	handler := newHandler(t, client)
	var admitted, rejected int
	for i := 0; i < 8; i++ {
		rr := send(handler, "/auth/login")
		switch rr.Code {
		case http.StatusOK:
			admitted++
		case http.StatusTooManyRequests:
			rejected++
		default:
			t.Fatalf("unexpected status %d", rr.Code)
		}
		assert.Equal(t, "5", rr.Header().Get(HeaderLimit))
	}
	assert.Equal(t, 5, admitted)
	assert.Equal(t, 3, rejected)
}

func TestMiddlewareAppliesDefaultPolicyToOtherRoutes(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	client := cache.NewClient(cache.Config{Addr: mr.Addr()}, nil)
	defer client.Close()

	rr := send(newHandler(t, client), "/orders")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "100", rr.Header().Get(HeaderLimit))
	assert.Equal(t, "99", rr.Header().Get(HeaderRemaining))
}

func TestFormatSecondsRoundsUp(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "60", formatSeconds(time.Minute))
	assert.Equal(t, "2", formatSeconds(1500*time.Millisecond))
}

func newHandler(t *testing.T, client *cache.Client) http.Handler {
	t.Helper()
	table, err := domain.NewPolicyTable(
		domain.Policy{Limit: 100, Window: time.Minute},
		domain.Policy{Class: "auth", Prefixes: []string{"/auth/"}, Limit: 5, Window: time.Minute},
	)
	require.NoError(t, err)

	now := time.Date(2026, time.March, 2, 9, 0, 0, 0, time.UTC)
	mw := Middleware(Options{
		Service: application.Service{
			Policies: table,
			Primary:  infra.RedisCounter{Client: client},
			Fallback: infra.NewLocalCounter(100),
			Now:      func() time.Time { return now },
		},
	})
	return mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
}

func send(handler http.Handler, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, nil)
	req.RemoteAddr = "203.0.113.7:4711"
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}
