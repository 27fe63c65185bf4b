// Package api provides the HTTP endpoints of the validation service.
package api

import (
	"context"
	"errors"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"bitaqa/internal/apikey"
	"bitaqa/internal/audit"
	bitaqahttp "bitaqa/internal/httputil"
	"bitaqa/internal/limiter"
	"bitaqa/internal/metrics"
	"bitaqa/internal/nid"
)

// APIKeyHeader carries the caller's credential.
const APIKeyHeader = "X-API-KEY"

// IdentityResolver resolves a presented credential to a caller identity.
type IdentityResolver interface {
	Resolve(ctx context.Context, presented string) (apikey.Identity, error)
}

// RateLimiter defines the limiter behavior required by the gate.
type RateLimiter interface {
	Check(ctx context.Context, key string) (limiter.Decision, error)
	CheckWithLimit(ctx context.Context, key string, limit int64, window time.Duration) (limiter.Decision, error)
}

// validateRequest is the only accepted request payload. Unknown fields
// are rejected at the boundary before the parser ever sees the value.
type validateRequest struct {
	NationalID string `json:"national_id"`
}

// validateResponse is the success payload.
type validateResponse struct {
	BirthDate    string `json:"birth_date"`
	Governorate  string `json:"governorate"`
	Gender       string `json:"gender"`
	SerialNumber string `json:"serial_number"`
	Checksum     int    `json:"checksum"`
}

// ValidateHandler gates and serves national ID validation calls:
// credential resolution, rate limiting, then parsing.
type ValidateHandler struct {
	parser     *nid.Parser
	resolver   IdentityResolver
	limiter    RateLimiter
	auditSink  func(audit.Event)
	metrics    *metrics.Metrics
	trustProxy bool
}

// ValidateOption configures optional ValidateHandler behavior.
type ValidateOption func(*ValidateHandler)

// WithAuditSink configures a callback receiving one event per call.
func WithAuditSink(sink func(audit.Event)) ValidateOption {
	return func(h *ValidateHandler) {
		h.auditSink = sink
	}
}

// WithMetrics wires Prometheus counters into the handler.
func WithMetrics(m *metrics.Metrics) ValidateOption {
	return func(h *ValidateHandler) {
		h.metrics = m
	}
}

// WithTrustProxy enables trusting X-Forwarded-For headers when
// recording client IPs. Only enable this when the service sits behind a
// trusted reverse proxy that sets the header.
func WithTrustProxy(trust bool) ValidateOption {
	return func(h *ValidateHandler) {
		h.trustProxy = trust
	}
}

// NewValidateHandler creates the validation endpoint handler.
func NewValidateHandler(parser *nid.Parser, resolver IdentityResolver, lim RateLimiter, opts ...ValidateOption) *ValidateHandler {
	h := &ValidateHandler{
		parser:   parser,
		resolver: resolver,
		limiter:  lim,
	}
	for _, opt := range opts {
		opt(h)
	}

	return h
}

// ServeHTTP handles POST /api/v1/validate-id.
func (h *ValidateHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		bitaqahttp.WriteJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	started := time.Now()

	identity, err := h.resolver.Resolve(r.Context(), r.Header.Get(APIKeyHeader))
	if err != nil {
		switch {
		case errors.Is(err, apikey.ErrMissing):
			h.countAuthFailure("missing")
			bitaqahttp.WriteJSON(w, http.StatusUnauthorized, map[string]string{"error": "API key is missing."})
		case errors.Is(err, apikey.ErrInvalid):
			h.countAuthFailure("invalid")
			bitaqahttp.WriteJSON(w, http.StatusForbidden, map[string]string{"error": "Invalid or inactive API key."})
		default:
			h.countAuthFailure("store_error")
			bitaqahttp.WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		}
		return
	}

	var req validateRequest
	if err := decodeJSON(r, &req); err != nil || strings.TrimSpace(req.NationalID) == "" {
		h.finish(w, r, identity, req.NationalID, started, http.StatusBadRequest, string(nid.MalformedFormat), map[string]string{
			"error": "request must contain a single national_id field",
			"kind":  string(nid.MalformedFormat),
		})
		return
	}

	decision, err := h.check(r.Context(), identity)
	if err != nil {
		bitaqahttp.WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(decision.Limit, 10))
	w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(decision.Remaining, 10))
	if !decision.ResetAt.IsZero() {
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(decision.ResetAt.Unix(), 10))
	}

	if h.metrics != nil {
		if decision.Degraded {
			h.metrics.LimiterDegraded.Inc()
		}
		result := "allowed"
		if !decision.Allowed {
			result = "rejected"
		}
		h.metrics.LimiterDecisions.WithLabelValues(result).Inc()
	}

	if !decision.Allowed {
		retryAfter := int64(math.Ceil(decision.RetryAfter.Seconds()))
		w.Header().Set("Retry-After", strconv.FormatInt(retryAfter, 10))
		h.finish(w, r, identity, req.NationalID, started, http.StatusTooManyRequests, audit.OutcomeRateLimited, map[string]any{
			"error":               "Too many requests. Please try again later.",
			"retry_after_seconds": retryAfter,
		})
		return
	}

	id, err := h.parser.Parse(req.NationalID)
	if err != nil {
		var verr *nid.ValidationError
		if errors.As(err, &verr) {
			h.finish(w, r, identity, req.NationalID, started, http.StatusBadRequest, string(verr.Kind), map[string]string{
				"error": verr.Message,
				"kind":  string(verr.Kind),
			})
			return
		}
		bitaqahttp.WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	h.finish(w, r, identity, req.NationalID, started, http.StatusOK, audit.OutcomeOK, validateResponse{
		BirthDate:    id.BirthDate.Format("2006-01-02"),
		Governorate:  id.Governorate,
		Gender:       id.Gender,
		SerialNumber: id.SerialNumber,
		Checksum:     id.Checksum,
	})
}

// check runs the rate limit decision, honoring a per-key override.
func (h *ValidateHandler) check(ctx context.Context, identity apikey.Identity) (limiter.Decision, error) {
	if identity.Limit > 0 && identity.Window > 0 {
		return h.limiter.CheckWithLimit(ctx, identity.ServiceName, identity.Limit, identity.Window)
	}
	return h.limiter.Check(ctx, identity.ServiceName)
}

// finish writes the response and records the call's audit event and metrics.
func (h *ValidateHandler) finish(w http.ResponseWriter, r *http.Request, identity apikey.Identity, nationalID string, started time.Time, status int, outcome string, body any) {
	bitaqahttp.WriteJSON(w, status, body)

	if h.metrics != nil {
		h.metrics.Validations.WithLabelValues(outcome).Inc()
	}

	if h.auditSink != nil {
		h.auditSink(audit.Event{
			Timestamp:  started.UTC(),
			NationalID: nationalID,
			Service:    identity.ServiceName,
			ClientIP:   h.clientIP(r),
			UserAgent:  r.UserAgent(),
			Outcome:    outcome,
			DurationMS: time.Since(started).Milliseconds(),
		})
	}
}

func (h *ValidateHandler) countAuthFailure(reason string) {
	if h.metrics != nil {
		h.metrics.AuthFailures.WithLabelValues(reason).Inc()
	}
}

func (h *ValidateHandler) clientIP(r *http.Request) string {
	if h.trustProxy {
		xff := strings.TrimSpace(r.Header.Get("X-Forwarded-For"))
		if xff != "" {
			parts := strings.Split(xff, ",")
			if candidate := strings.TrimSpace(parts[0]); candidate != "" {
				return candidate
			}
		}
	}

	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil && host != "" {
		return host
	}

	return strings.TrimSpace(r.RemoteAddr)
}
