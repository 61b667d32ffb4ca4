package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	outboxservice "bulwark/contexts/platform-reliability/outbox-service"
	"bulwark/contexts/platform-reliability/outbox-service/adapters/memory"
	"bulwark/contexts/platform-reliability/outbox-service/ports"
	"bulwark/internal/platform/cache"
	"bulwark/internal/platform/middleware/correlation"
	"bulwark/internal/platform/middleware/idempotency"
	ratelimitapp "bulwark/internal/platform/middleware/ratelimit/application"
	"bulwark/internal/platform/middleware/ratelimit/domain"
	"bulwark/internal/platform/middleware/ratelimit/infra"

	"github.com/alicebob/miniredis/v2"
)

func newTestModule() outboxservice.Module {
	store := memory.NewStore()
	module := outboxservice.NewModule(outboxservice.Dependencies{
		Repository:  store,
		Clock:       store,
		IDGenerator: store,
		Correlation: correlation.Resolver{},
		MaxAttempts: 5,
		Logger:      slog.Default(),
	})
	module.Store = store
	return module
}

func newTestServer(t *testing.T, module outboxservice.Module, opts Options) *Server {
	t.Helper()
	mr := miniredis.RunT(t)
	client := cache.NewClient(cache.Config{Addr: mr.Addr()}, nil)
	t.Cleanup(func() { _ = client.Close() })

	opts.Outbox = module
	opts.Idempotency = idempotency.RedisStore{Client: client}
	opts.Logger = slog.Default()
	opts.Addr = ":0"
	return New(opts)
}

func postJSON(server *Server, path string, body string, key string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer admin-token")
	req.Header.Set(correlation.HeaderName, "corr-admin-1")
	if key != "" {
		req.Header.Set(idempotency.HeaderName, key)
	}
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)
	return rr
}

func get(server *Server, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)
	return rr
}

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, ports.EventEnvelope) error {
	return errors.New("broker unavailable")
}

func TestEnqueueThenInspectEvent(t *testing.T) {
	module := newTestModule()
	server := newTestServer(t, module, Options{})

	rr := postJSON(server, "/admin/outbox/events", `{"event_type":"user.registered","payload":{"user_id":"u-1"}}`, "")
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d body=%s", rr.Code, rr.Body.String())
	}
	if got := rr.Header().Get(correlation.HeaderName); got != "corr-admin-1" {
		t.Fatalf("expected correlation id to be echoed, got %q", got)
	}
	var created enqueueResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode enqueue response: %v", err)
	}

	rr = get(server, "/admin/outbox/events/"+created.EventID)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	var event eventResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &event); err != nil {
		t.Fatalf("decode event response: %v", err)
	}
	if event.Status != "pending" || event.Attempts != 0 {
		t.Fatalf("expected pending event with no attempts, got %+v", event)
	}
	if event.CorrelationID != "corr-admin-1" {
		t.Fatalf("expected request correlation id on event, got %q", event.CorrelationID)
	}
}

func TestEnqueueRejectsInvalidEvent(t *testing.T) {
	server := newTestServer(t, newTestModule(), Options{})

	rr := postJSON(server, "/admin/outbox/events", `{"event_type":"","payload":{}}`, "")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d body=%s", rr.Code, rr.Body.String())
	}
	rr = postJSON(server, "/admin/outbox/events", `{not json`, "")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestUnknownEventReturnsNotFound(t *testing.T) {
	server := newTestServer(t, newTestModule(), Options{})

	rr := get(server, "/admin/outbox/events/evt-missing")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestRepeatedIdempotentEnqueueCreatesOneEvent(t *testing.T) {
	module := newTestModule()
	server := newTestServer(t, module, Options{})

	body := `{"event_type":"order.placed","payload":{"order_id":"o-1"}}`
	first := postJSON(server, "/admin/outbox/events", body, "enqueue-1")
	second := postJSON(server, "/admin/outbox/events", body, "enqueue-1")

	if first.Code != http.StatusCreated || second.Code != http.StatusCreated {
		t.Fatalf("expected both responses to be 201, got %d and %d", first.Code, second.Code)
	}
	if first.Body.String() != second.Body.String() {
		t.Fatalf("expected identical replayed body, got %q and %q", first.Body.String(), second.Body.String())
	}
	if module.Store.Len() != 1 {
		t.Fatalf("expected one stored event, got %d", module.Store.Len())
	}
}

func TestDeadLetterListAndReplay(t *testing.T) {
	module := newTestModule()
	server := newTestServer(t, module, Options{})

	rr := postJSON(server, "/admin/outbox/events", `{"event_type":"invoice.issued","payload":{}}`, "")
	var created enqueueResponse
	_ = json.Unmarshal(rr.Body.Bytes(), &created)

	relay := module.Relay(outboxservice.RelayOptions{Publisher: failingPublisher{}, BatchSize: 10})
	for i := 0; i < 5; i++ {
		if err := relay.RunOnce(context.Background()); err != nil {
			t.Fatalf("relay tick %d failed: %v", i, err)
		}
	}

	rr = get(server, "/admin/outbox/dead-letters?limit=10")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	var listed deadLettersResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &listed); err != nil {
		t.Fatalf("decode dead letters: %v", err)
	}
	if len(listed.Items) != 1 || listed.Items[0].EventID != created.EventID || !listed.Items[0].DeadLettered {
		t.Fatalf("expected the exhausted event in dead letters, got %+v", listed.Items)
	}
	if listed.Items[0].Attempts != 5 || listed.Items[0].LastError == "" {
		t.Fatalf("expected five attempts and a last error, got %+v", listed.Items[0])
	}

	rr = postJSON(server, "/admin/outbox/dead-letters/"+created.EventID+"/replay", "", "")
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d body=%s", rr.Code, rr.Body.String())
	}
	var replayed enqueueResponse
	_ = json.Unmarshal(rr.Body.Bytes(), &replayed)
	if replayed.EventID == "" || replayed.EventID == created.EventID || replayed.ReplayedFrom != created.EventID {
		t.Fatalf("expected a fresh replay id, got %+v", replayed)
	}

	original, err := module.Service.Get(context.Background(), created.EventID)
	if err != nil {
		t.Fatalf("get original: %v", err)
	}
	if original.Attempts != 5 {
		t.Fatalf("expected original attempts to stay at 5, got %d", original.Attempts)
	}

	rr = postJSON(server, "/admin/outbox/dead-letters/"+replayed.EventID+"/replay", "", "")
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409 for a pending event, got %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestDeadLettersRejectsInvalidLimit(t *testing.T) {
	server := newTestServer(t, newTestModule(), Options{})

	rr := get(server, "/admin/outbox/dead-letters?limit=many")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestRateLimitAppliesBeforeRoutes(t *testing.T) {
	table, err := domain.NewPolicyTable(domain.Policy{Class: "default", Limit: 2, Window: time.Minute})
	if err != nil {
		t.Fatalf("policy table: %v", err)
	}
	limiter := &ratelimitapp.Service{Policies: table, Fallback: infra.NewLocalCounter(100)}
	server := newTestServer(t, newTestModule(), Options{RateLimit: limiter})

	for i := 0; i < 2; i++ {
		if rr := get(server, "/healthz"); rr.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, rr.Code)
		}
	}
	rr := get(server, "/healthz")
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
	if rr.Header().Get(correlation.HeaderName) == "" {
		t.Fatal("expected correlation id on rejected response")
	}
}

func TestHealthReportsDegradedAndUnavailable(t *testing.T) {
	down := func(context.Context) error { return errors.New("down") }
	up := func(context.Context) error { return nil }

	server := newTestServer(t, newTestModule(), Options{HealthChecks: []HealthCheck{
		{Name: "postgres", Check: up},
		{Name: "redis", Optional: true, Check: down},
	}})
	rr := get(server, "/healthz")
	var health healthResponse
	_ = json.Unmarshal(rr.Body.Bytes(), &health)
	if rr.Code != http.StatusOK || health.Status != "degraded" {
		t.Fatalf("expected degraded 200, got %d %+v", rr.Code, health)
	}

	server = newTestServer(t, newTestModule(), Options{HealthChecks: []HealthCheck{
		{Name: "postgres", Check: down},
	}})
	rr = get(server, "/healthz")
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestRouteRegistrarMountsBehindMiddleware(t *testing.T) {
	server := newTestServer(t, newTestModule(), Options{Routes: []RouteRegistrar{
		func(mux *http.ServeMux) {
			mux.HandleFunc("GET /api/ping", func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, http.StatusOK, map[string]string{"correlation_id": correlation.FromContext(r.Context())})
			})
		},
	}})

	req := httptest.NewRequest(http.MethodGet, "/api/ping", nil)
	req.Header.Set("X-Request-Id", "legacy-7")
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var body map[string]string
	_ = json.Unmarshal(rr.Body.Bytes(), &body)
	if body["correlation_id"] != "legacy-7" {
		t.Fatalf("expected legacy request id to become the correlation id, got %q", body["correlation_id"])
	}
}

func TestRunShutsDownWhenContextIsCancelled(t *testing.T) {
	server := newTestServer(t, newTestModule(), Options{})
	server.addr = "127.0.0.1:0"

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Run(ctx, time.Second) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected clean shutdown, got %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("server did not stop after cancellation")
	}
}
