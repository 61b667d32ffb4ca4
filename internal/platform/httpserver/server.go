package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	outboxservice "bulwark/contexts/platform-reliability/outbox-service"
	"bulwark/contexts/platform-reliability/outbox-service/application"
	"bulwark/contexts/platform-reliability/outbox-service/domain/entities"
	outboxerrors "bulwark/contexts/platform-reliability/outbox-service/domain/errors"
	"bulwark/contexts/platform-reliability/outbox-service/ports"
	"bulwark/internal/platform/middleware/correlation"
	"bulwark/internal/platform/middleware/idempotency"
	"bulwark/internal/platform/middleware/ratelimit"
	ratelimitapp "bulwark/internal/platform/middleware/ratelimit/application"

	httpSwagger "github.com/swaggo/http-swagger"
	_ "bulwark/internal/platform/httpserver/docs"
)

const maxAdminBodyBytes = 1 << 20

// RouteRegistrar mounts business routes behind the shared middleware chain.
type RouteRegistrar func(mux *http.ServeMux)

// HealthCheck is one dependency check behind /healthz. A failing optional check
// reports degraded without failing the endpoint.
type HealthCheck struct {
	Name     string
	Optional bool
	Check    func(ctx context.Context) error
}

type Options struct {
	Addr   string
	Outbox outboxservice.Module

	// RateLimit is nil when admission control is disabled.
	RateLimit          *ratelimitapp.Service
	TrustXForwardedFor bool

	// Idempotency is nil when no response cache is configured.
	Idempotency       idempotency.Store
	IdempotencyTTL    time.Duration
	IdempotencyStrict bool

	HealthChecks []HealthCheck
	Routes       []RouteRegistrar
	Logger       *slog.Logger
}

type Server struct {
	mux     *http.ServeMux
	handler http.Handler
	logger  *slog.Logger
	addr    string
	outbox  outboxservice.Module
	checks  []HealthCheck
}

func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	addr := opts.Addr
	if addr == "" {
		addr = ":8080"
	}

	s := &Server{
		mux:    http.NewServeMux(),
		logger: logger,
		addr:   addr,
		outbox: opts.Outbox,
		checks: opts.HealthChecks,
	}
	s.registerRoutes()
	for _, register := range opts.Routes {
		if register != nil {
			register(s.mux)
		}
	}

	// Outermost first: correlation, rate limit, idempotency, routes.
	var handler http.Handler = s.mux
	if opts.Idempotency != nil {
		handler = idempotency.Middleware(idempotency.Options{
			Store:  opts.Idempotency,
			TTL:    opts.IdempotencyTTL,
			Strict: opts.IdempotencyStrict,
			Logger: logger,
		})(handler)
	}
	if opts.RateLimit != nil {
		handler = ratelimit.Middleware(ratelimit.Options{
			Service:            *opts.RateLimit,
			TrustXForwardedFor: opts.TrustXForwardedFor,
			Logger:             logger,
		})(handler)
	}
	s.handler = correlation.Middleware(handler)
	return s
}

// Handler returns the mux wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Run serves until ctx is cancelled, then drains in-flight requests for at
// most grace.
func (s *Server) Run(ctx context.Context, grace time.Duration) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	serveErr := make(chan error, 1)
	go func() {
		s.logger.Info("http server starting",
			"event", "http_server_starting",
			"module", "internal/platform/httpserver",
			"layer", "platform",
			"addr", s.addr,
		)
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	if grace <= 0 {
		grace = 15 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()

	s.logger.Info("http server draining",
		"event", "http_server_draining",
		"module", "internal/platform/httpserver",
		"layer", "platform",
		"grace", grace.String(),
	)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		_ = srv.Close()
		return err
	}
	if err := <-serveErr; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) registerRoutes() {
	s.mux.Handle("/swagger/", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))

	s.mux.HandleFunc("GET /healthz", s.handleHealth)

	s.mux.HandleFunc("GET /admin/outbox/events/{event_id}", s.handleGetEvent)
	s.mux.HandleFunc("POST /admin/outbox/events", s.handleEnqueueEvent)
	s.mux.HandleFunc("GET /admin/outbox/dead-letters", s.handleListDeadLetters)
	s.mux.HandleFunc("POST /admin/outbox/dead-letters/{event_id}/replay", s.handleReplayDeadLetter)
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// handleHealth godoc
// @Summary Liveness and dependency health
// @Tags health
// @Produce json
// @Success 200 {object} healthResponse
// @Failure 503 {object} healthResponse
// @Router /healthz [get]
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := healthResponse{Status: "ok"}
	status := http.StatusOK
	for _, check := range s.checks {
		if check.Check == nil {
			continue
		}
		if resp.Checks == nil {
			resp.Checks = make(map[string]string, len(s.checks))
		}
		if err := check.Check(ctx); err != nil {
			resp.Checks[check.Name] = "unavailable"
			if check.Optional {
				if resp.Status == "ok" {
					resp.Status = "degraded"
				}
				continue
			}
			resp.Status = "unavailable"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[check.Name] = "ok"
	}
	writeJSON(w, status, resp)
}

type eventResponse struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	ActorID       string          `json:"actor_id,omitempty"`
	Status        string          `json:"status"`
	Attempts      int             `json:"attempts"`
	CreatedAt     time.Time       `json:"created_at"`
	LastAttemptAt *time.Time      `json:"last_attempt_at,omitempty"`
	ProcessedAt   *time.Time      `json:"processed_at,omitempty"`
	LastError     string          `json:"last_error,omitempty"`
	DeadLettered  bool            `json:"dead_lettered"`
}

type deadLettersResponse struct {
	Items []eventResponse `json:"items"`
}

type enqueueRequest struct {
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	ActorID       string          `json:"actor_id,omitempty"`
}

type enqueueResponse struct {
	EventID      string `json:"event_id"`
	ReplayedFrom string `json:"replayed_from,omitempty"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// handleGetEvent godoc
// @Summary Inspect one outbox event
// @Tags outbox
// @Produce json
// @Param event_id path string true "Event ID"
// @Success 200 {object} eventResponse
// @Failure 404 {object} errorResponse
// @Router /admin/outbox/events/{event_id} [get]
func (s *Server) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	event, err := s.outbox.Service.Get(r.Context(), r.PathValue("event_id"))
	if err != nil {
		s.writeOutboxError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.toEventResponse(event))
}

// handleEnqueueEvent godoc
// @Summary Enqueue an event for publishing
// @Tags outbox
// @Accept json
// @Produce json
// @Param Idempotency-Key header string false "Idempotency key"
// @Param request body enqueueRequest true "Event"
// @Success 201 {object} enqueueResponse
// @Failure 400 {object} errorResponse
// @Router /admin/outbox/events [post]
func (s *Server) handleEnqueueEvent(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxAdminBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON")
		return
	}

	var eventID string
	err := s.outbox.Service.WithinUnitOfWork(r.Context(), func(ctx context.Context) error {
		id, err := s.outbox.Service.Enqueue(ctx, ports.EnqueueInput{
			EventType:     req.EventType,
			Payload:       req.Payload,
			CorrelationID: req.CorrelationID,
			ActorID:       req.ActorID,
		})
		eventID = id
		return err
	})
	if err != nil {
		s.writeOutboxError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, enqueueResponse{EventID: eventID})
}

// handleListDeadLetters godoc
// @Summary List events whose attempt budget is exhausted
// @Tags outbox
// @Produce json
// @Param limit query int false "Max items (1-1000)"
// @Success 200 {object} deadLettersResponse
// @Failure 400 {object} errorResponse
// @Router /admin/outbox/dead-letters [get]
func (s *Server) handleListDeadLetters(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be a non-negative integer")
			return
		}
		limit = parsed
	}

	items, err := s.outbox.Service.ListDeadLetters(r.Context(), limit)
	if err != nil {
		s.writeOutboxError(w, r, err)
		return
	}
	resp := deadLettersResponse{Items: make([]eventResponse, 0, len(items))}
	for _, item := range items {
		resp.Items = append(resp.Items, s.toEventResponse(item))
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleReplayDeadLetter godoc
// @Summary Re-enqueue a dead-lettered event as a fresh pending copy
// @Tags outbox
// @Produce json
// @Param event_id path string true "Event ID"
// @Param Idempotency-Key header string false "Idempotency key"
// @Success 201 {object} enqueueResponse
// @Failure 404 {object} errorResponse
// @Failure 409 {object} errorResponse
// @Router /admin/outbox/dead-letters/{event_id}/replay [post]
func (s *Server) handleReplayDeadLetter(w http.ResponseWriter, r *http.Request) {
	eventID := r.PathValue("event_id")
	var replayID string
	err := s.outbox.Service.WithinUnitOfWork(r.Context(), func(ctx context.Context) error {
		id, err := s.outbox.Service.ReplayDeadLetter(ctx, eventID)
		replayID = id
		return err
	})
	if err != nil {
		s.writeOutboxError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, enqueueResponse{EventID: replayID, ReplayedFrom: eventID})
}

func (s *Server) toEventResponse(event entities.Event) eventResponse {
	return eventResponse{
		EventID:       event.ID,
		EventType:     event.EventType,
		Payload:       event.Payload,
		CorrelationID: event.CorrelationID,
		ActorID:       event.ActorID,
		Status:        string(event.Status),
		Attempts:      event.Attempts,
		CreatedAt:     event.CreatedAt,
		LastAttemptAt: event.LastAttemptAt,
		ProcessedAt:   event.ProcessedAt,
		LastError:     event.LastError,
		DeadLettered:  event.DeadLettered(s.outbox.Service.AttemptBudget()),
	}
}

func (s *Server) writeOutboxError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, outboxerrors.ErrEventNotFound):
		writeError(w, http.StatusNotFound, "event_not_found", err.Error())
	case errors.Is(err, outboxerrors.ErrInvalidEvent):
		writeError(w, http.StatusBadRequest, "invalid_event", err.Error())
	case errors.Is(err, outboxerrors.ErrEventNotDeadLettered):
		writeError(w, http.StatusConflict, "event_not_dead_lettered", err.Error())
	case errors.Is(err, outboxerrors.ErrDuplicateEvent), application.IsConflict(err):
		writeError(w, http.StatusConflict, "conflict", err.Error())
	default:
		correlation.Logger(r.Context(), s.logger).Error("outbox admin request failed",
			"event", "outbox_admin_request_failed",
			"module", "internal/platform/httpserver",
			"layer", "platform",
			"path", r.URL.Path,
			"error", err.Error(),
		)
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

func writeError(w http.ResponseWriter, status int, code string, message string) {
	writeJSON(w, status, errorResponse{
		Code:    code,
		Message: message,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
