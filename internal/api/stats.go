package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"bitaqa/internal/audit"
)

const (
	defaultWindow = 24 * time.Hour
	defaultLimit  = 10
	maxLimit      = 100
	defaultBucket = 5 * time.Minute
	minBucket     = 1 * time.Minute
	maxBucket     = 24 * time.Hour
)

// StatsProvider exposes audit read models required by the stats API.
type StatsProvider interface {
	GetOverview(ctx context.Context, window time.Duration) (audit.Overview, error)
	GetTopThrottled(ctx context.Context, window time.Duration, limit int) ([]audit.TopThrottledService, error)
	GetTimeline(ctx context.Context, window, bucket time.Duration) ([]audit.TimelinePoint, error)
}

// StatsHandler serves call-audit statistics endpoints.
type StatsHandler struct {
	provider StatsProvider
}

// NewStatsHandler creates a stats API handler.
func NewStatsHandler(provider StatsProvider) *StatsHandler {
	return &StatsHandler{provider: provider}
}

// ServeHTTP handles:
// - GET /api/stats/overview
// - GET /api/stats/top-throttled
// - GET /api/stats/timeline
func (h *StatsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	if path == "/api/stats" || path == "/api/stats/" {
		http.NotFound(w, r)
		return
	}

	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	if h.provider == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "audit service unavailable"})
		return
	}

	window, err := parseDurationQuery(r, "window", defaultWindow)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	switch path {
	case "/api/stats/overview":
		h.handleOverview(w, r, window)
	case "/api/stats/top-throttled":
		h.handleTopThrottled(w, r, window)
	case "/api/stats/timeline":
		h.handleTimeline(w, r, window)
	default:
		http.NotFound(w, r)
	}
}

func (h *StatsHandler) handleOverview(w http.ResponseWriter, r *http.Request, window time.Duration) {
	overview, err := h.provider.GetOverview(r.Context(), window)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load overview"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"data": overview})
}

func (h *StatsHandler) handleTopThrottled(w http.ResponseWriter, r *http.Request, window time.Duration) {
	limit, err := parseIntQuery(r, "limit", defaultLimit, 1, maxLimit)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	top, err := h.provider.GetTopThrottled(r.Context(), window, limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load top throttled"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"data": top})
}

func (h *StatsHandler) handleTimeline(w http.ResponseWriter, r *http.Request, window time.Duration) {
	bucket, err := parseDurationQuery(r, "bucket", defaultBucket)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if bucket < minBucket || bucket > maxBucket {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bucket must be between 1m and 24h"})
		return
	}

	points, err := h.provider.GetTimeline(r.Context(), window, bucket)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load timeline"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"data": points})
}

// parseDurationQuery reads a query parameter accepting Go duration
// syntax ("15m") or a bare number of seconds ("900").
func parseDurationQuery(r *http.Request, name string, fallback time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return fallback, nil
	}

	if seconds, err := strconv.ParseInt(raw, 10, 64); err == nil {
		if seconds <= 0 {
			return 0, fmt.Errorf("%s must be greater than zero", name)
		}
		return time.Duration(seconds) * time.Second, nil
	}

	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s duration %q", name, raw)
	}
	return d, nil
}

func parseIntQuery(r *http.Request, name string, fallback, minV, maxV int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return fallback, nil
	}

	v, err := strconv.Atoi(raw)
	if err != nil || v < minV || v > maxV {
		return 0, fmt.Errorf("%s must be an integer between %d and %d", name, minV, maxV)
	}
	return v, nil
}
