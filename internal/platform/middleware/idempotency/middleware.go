// Package idempotency replays the stored response of a mutating request whose
// Idempotency-Key was already seen for the same caller.
package idempotency

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"bulwark/internal/platform/middleware/correlation"
	"bulwark/internal/platform/middleware/identity"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/singleflight"
)

const (
	HeaderName   = "Idempotency-Key"
	DefaultTTL   = 24 * time.Hour
	maxKeyLength = 255
	maxBodyBytes = 4 << 20
	keyPrefix    = "idempotency"
)

type Options struct {
	Store Store
	TTL   time.Duration
	// Strict rejects a reused key whose request differs from the stored one
	// with 409 instead of replaying.
	Strict bool
	Meter  metric.Meter
	Logger *slog.Logger
}

type middleware struct {
	opts     Options
	logger   *slog.Logger
	inflight singleflight.Group
	replays  metric.Int64Counter
	bypassed metric.Int64Counter
}

func Middleware(opts Options) func(next http.Handler) http.Handler {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	m := &middleware{opts: opts, logger: opts.Logger}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	meter := opts.Meter
	if meter == nil {
		meter = otel.GetMeterProvider().Meter("bulwark/idempotency")
	}
	m.replays, _ = meter.Int64Counter("idempotency.responses.replayed",
		metric.WithDescription("Responses replayed from the idempotency cache"),
		metric.WithUnit("{response}"))
	m.bypassed, _ = meter.Int64Counter("idempotency.requests.unprotected",
		metric.WithDescription("Keyed requests served without protection because the store was unavailable"),
		metric.WithUnit("{request}"))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			m.serve(w, r, next)
		})
	}
}

func (m *middleware) serve(w http.ResponseWriter, r *http.Request, next http.Handler) {
	key := strings.TrimSpace(r.Header.Get(HeaderName))
	if key == "" || !mutating(r.Method) || m.opts.Store == nil {
		next.ServeHTTP(w, r)
		return
	}
	logger := correlation.Logger(r.Context(), m.logger)
	if len(key) > maxKeyLength {
		http.Error(w, "invalid Idempotency-Key", http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
		return
	}
	r.Body = io.NopCloser(bytes.NewReader(body))
	requestHash := hashRequest(r, body)
	storeKey := keyPrefix + ":" + identity.Fingerprint(r) + ":" + key

	record, found, err := m.opts.Store.Get(r.Context(), storeKey)
	if err != nil {
		m.unprotected(r, logger, err)
		next.ServeHTTP(w, r)
		return
	}
	if found {
		m.replay(w, r, logger, record, requestHash)
		return
	}

	result, _, shared := m.inflight.Do(storeKey, func() (any, error) {
		capture := newRecorder()
		next.ServeHTTP(capture, r)
		snapshot := capture.record(requestHash)
		if snapshot.Status >= 200 && snapshot.Status < 300 {
			stored, err := m.opts.Store.PutIfAbsent(r.Context(), storeKey, snapshot, m.opts.TTL)
			if err != nil {
				m.unprotected(r, logger, err)
			} else if !stored {
				logger.Warn("idempotency record already present",
					"event", "idempotency_record_exists",
					"module", "internal/platform/middleware/idempotency",
					"layer", "platform",
					"path", r.URL.Path,
				)
			}
		}
		return snapshot, nil
	})
	snapshot := result.(Record)
	if shared && snapshot.RequestHash != requestHash {
		m.replay(w, r, logger, snapshot, requestHash)
		return
	}
	write(w, snapshot)
}

func (m *middleware) replay(w http.ResponseWriter, r *http.Request, logger *slog.Logger, record Record, requestHash string) {
	if record.RequestHash != "" && record.RequestHash != requestHash {
		logger.Warn("idempotency key reused with a different request",
			"event", "idempotency_payload_mismatch",
			"module", "internal/platform/middleware/idempotency",
			"layer", "platform",
			"path", r.URL.Path,
			"strict", m.opts.Strict,
		)
		if m.opts.Strict {
			http.Error(w, "Idempotency-Key reused with a different request", http.StatusConflict)
			return
		}
	}
	if m.replays != nil {
		m.replays.Add(r.Context(), 1)
	}
	logger.Info("idempotent response replayed",
		"event", "idempotency_replayed",
		"module", "internal/platform/middleware/idempotency",
		"layer", "platform",
		"path", r.URL.Path,
		"status", record.Status,
	)
	write(w, record)
}

func (m *middleware) unprotected(r *http.Request, logger *slog.Logger, err error) {
	if m.bypassed != nil {
		m.bypassed.Add(r.Context(), 1)
	}
	logger.Warn("idempotency store unavailable, serving without protection",
		"event", "idempotency_store_unavailable",
		"module", "internal/platform/middleware/idempotency",
		"layer", "platform",
		"path", r.URL.Path,
		"error", err.Error(),
	)
}

func write(w http.ResponseWriter, record Record) {
	header := w.Header()
	for name, values := range record.Header {
		header[name] = append([]string(nil), values...)
	}
	if record.ContentType != "" {
		header.Set("Content-Type", record.ContentType)
	}
	status := record.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write(record.Body)
}

func mutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	default:
		return false
	}
}

func hashRequest(r *http.Request, body []byte) string {
	h := sha256.New()
	_, _ = io.WriteString(h, r.Method)
	_, _ = io.WriteString(h, "\n")
	_, _ = io.WriteString(h, r.URL.RequestURI())
	_, _ = io.WriteString(h, "\n")
	_, _ = h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}
