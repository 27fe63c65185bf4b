package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"bitaqa/internal/apikey"
)

// KeyRequest is the request payload for create/update operations on
// API key records.
type KeyRequest struct {
	Key               string `json:"key"`
	ServiceName       string `json:"service_name"`
	IsActive          *bool  `json:"is_active,omitempty"`
	RateLimit         int64  `json:"rate_limit,omitempty"`
	RateWindowSeconds int64  `json:"rate_window_seconds,omitempty"`
}

// KeysHandler provides REST CRUD endpoints for API key records.
type KeysHandler struct {
	store apikey.Store
}

// NewKeysHandler creates a keys REST API handler.
func NewKeysHandler(store apikey.Store) *KeysHandler {
	return &KeysHandler{store: store}
}

// ServeHTTP handles /api/keys and /api/keys/:id.
func (h *KeysHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	switch {
	case path == "/api/keys":
		h.handleCollection(w, r)
	case strings.HasPrefix(path, "/api/keys/"):
		id := strings.TrimPrefix(path, "/api/keys/")
		if id == "" {
			h.handleCollection(w, r)
			return
		}
		if strings.Contains(id, "/") {
			http.NotFound(w, r)
			return
		}
		h.handleItem(w, r, id)
	default:
		http.NotFound(w, r)
	}
}

func (h *KeysHandler) handleCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		keys, err := h.store.List(r.Context())
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list keys"})
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{"data": keys})
	case http.MethodPost:
		var req KeyRequest
		if err := decodeJSON(r, &req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}

		record, err := validateAndBuildKey(req)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}

		created, err := h.store.Create(r.Context(), record)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to create key"})
			return
		}

		writeJSON(w, http.StatusCreated, map[string]any{"data": created})
	default:
		w.Header().Set("Allow", "GET, POST")
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
	}
}

func (h *KeysHandler) handleItem(w http.ResponseWriter, r *http.Request, id string) {
	switch r.Method {
	case http.MethodGet:
		record, err := h.store.GetByID(r.Context(), id)
		if err != nil {
			if errors.Is(err, apikey.ErrNotFound) {
				writeJSON(w, http.StatusNotFound, map[string]string{"error": "key not found"})
				return
			}

			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to get key"})
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{"data": record})
	case http.MethodPut:
		var req KeyRequest
		if err := decodeJSON(r, &req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}

		record, err := validateAndBuildKey(req)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}

		updated, err := h.store.Update(r.Context(), id, record)
		if err != nil {
			if errors.Is(err, apikey.ErrNotFound) {
				writeJSON(w, http.StatusNotFound, map[string]string{"error": "key not found"})
				return
			}

			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to update key"})
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{"data": updated})
	case http.MethodDelete:
		if err := h.store.Delete(r.Context(), id); err != nil {
			if errors.Is(err, apikey.ErrNotFound) {
				writeJSON(w, http.StatusNotFound, map[string]string{"error": "key not found"})
				return
			}

			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to delete key"})
			return
		}

		w.WriteHeader(http.StatusNoContent)
	default:
		w.Header().Set("Allow", "GET, PUT, DELETE")
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
	}
}

func validateAndBuildKey(req KeyRequest) (apikey.Key, error) {
	key := strings.TrimSpace(req.Key)
	if key == "" {
		return apikey.Key{}, fmt.Errorf("key is required")
	}

	serviceName := strings.TrimSpace(req.ServiceName)
	if serviceName == "" {
		return apikey.Key{}, fmt.Errorf("service_name is required")
	}

	if req.RateLimit < 0 {
		return apikey.Key{}, fmt.Errorf("rate_limit must not be negative")
	}
	if req.RateWindowSeconds < 0 {
		return apikey.Key{}, fmt.Errorf("rate_window_seconds must not be negative")
	}
	if (req.RateLimit > 0) != (req.RateWindowSeconds > 0) {
		return apikey.Key{}, fmt.Errorf("rate_limit and rate_window_seconds must be set together")
	}

	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}

	return apikey.Key{
		Key:               key,
		ServiceName:       serviceName,
		IsActive:          active,
		RateLimit:         req.RateLimit,
		RateWindowSeconds: req.RateWindowSeconds,
	}, nil
}

func decodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return fmt.Errorf("request body is required")
	}

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}

	if err := dec.Decode(&struct{}{}); err == nil {
		return fmt.Errorf("request body must contain a single JSON object")
	} else if !errors.Is(err, io.EOF) {
		return fmt.Errorf("request body must contain a single JSON object")
	}

	return nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	payload, err := json.Marshal(body)
	if err != nil {
		slog.Error("api: failed to encode JSON response", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if _, err := w.Write(append(payload, '\n')); err != nil {
		slog.Error("api: failed to write JSON response", "error", err)
	}
}
