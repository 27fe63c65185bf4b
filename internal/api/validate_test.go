package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"bitaqa/internal/apikey"
	"bitaqa/internal/audit"
	"bitaqa/internal/limiter"
	"bitaqa/internal/nid"
)

type fakeResolver struct {
	identity apikey.Identity
	err      error

	mu        sync.Mutex
	presented []string
}

func (f *fakeResolver) Resolve(_ context.Context, presented string) (apikey.Identity, error) {
	f.mu.Lock()
	f.presented = append(f.presented, presented)
	f.mu.Unlock()

	if f.err != nil {
		return apikey.Identity{}, f.err
	}
	return f.identity, nil
}

type fakeLimiter struct {
	decision limiter.Decision
	err      error

	mu            sync.Mutex
	checkedKeys   []string
	checkedLimits []int64
}

func (f *fakeLimiter) Check(_ context.Context, key string) (limiter.Decision, error) {
	f.mu.Lock()
	f.checkedKeys = append(f.checkedKeys, key)
	f.mu.Unlock()
	return f.decision, f.err
}

func (f *fakeLimiter) CheckWithLimit(_ context.Context, key string, limit int64, _ time.Duration) (limiter.Decision, error) {
	f.mu.Lock()
	f.checkedKeys = append(f.checkedKeys, key)
	f.checkedLimits = append(f.checkedLimits, limit)
	f.mu.Unlock()
	return f.decision, f.err
}

func allowAll() *fakeLimiter {
	return &fakeLimiter{decision: limiter.Decision{
		Allowed:   true,
		Count:     1,
		Limit:     10,
		Remaining: 9,
		ResetAt:   time.Now().Add(time.Minute),
	}}
}

func newTestHandler(resolver *fakeResolver, lim *fakeLimiter, opts ...ValidateOption) *ValidateHandler {
	return NewValidateHandler(nid.NewParser(nid.Strict), resolver, lim, opts...)
}

func postValidate(t *testing.T, h http.Handler, body string, key string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/validate-id", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set(APIKeyHeader, key)
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response body: %v (body %q)", err, rec.Body.String())
	}
	return body
}

func TestValidateHandler_MissingKey(t *testing.T) {
	resolver := &fakeResolver{err: apikey.ErrMissing}
	h := newTestHandler(resolver, allowAll())

	rec := postValidate(t, h, `{"national_id":"29801130102345"}`, "")

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
	body := decodeBody(t, rec)
	if body["error"] != "API key is missing." {
		t.Errorf("error = %q, want %q", body["error"], "API key is missing.")
	}
}

func TestValidateHandler_InvalidKey(t *testing.T) {
	resolver := &fakeResolver{err: apikey.ErrInvalid}
	h := newTestHandler(resolver, allowAll())

	rec := postValidate(t, h, `{"national_id":"29801130102345"}`, "bogus")

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusForbidden)
	}
	body := decodeBody(t, rec)
	if body["error"] != "Invalid or inactive API key." {
		t.Errorf("error = %q, want %q", body["error"], "Invalid or inactive API key.")
	}
}

func TestValidateHandler_ResolverFailure(t *testing.T) {
	resolver := &fakeResolver{err: errors.New("connection refused")}
	h := newTestHandler(resolver, allowAll())

	rec := postValidate(t, h, `{"national_id":"29801130102345"}`, "some-key")

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusInternalServerError)
	}
}

func TestValidateHandler_Success(t *testing.T) {
	resolver := &fakeResolver{identity: apikey.Identity{ServiceName: "billing"}}
	lim := allowAll()
	h := newTestHandler(resolver, lim)

	rec := postValidate(t, h, `{"national_id":"29801130102345"}`, "good-key")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (body %q)", rec.Code, http.StatusOK, rec.Body.String())
	}

	var got validateResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	want := validateResponse{
		BirthDate:    "1998-01-13",
		Governorate:  "Cairo",
		Gender:       "Female",
		SerialNumber: "0234",
		Checksum:     5,
	}
	if got != want {
		t.Errorf("response = %+v, want %+v", got, want)
	}

	if got := rec.Header().Get("X-RateLimit-Limit"); got != "10" {
		t.Errorf("X-RateLimit-Limit = %q, want %q", got, "10")
	}
	if got := rec.Header().Get("X-RateLimit-Remaining"); got != "9" {
		t.Errorf("X-RateLimit-Remaining = %q, want %q", got, "9")
	}

	if len(lim.checkedKeys) != 1 || lim.checkedKeys[0] != "billing" {
		t.Errorf("limiter keys = %v, want [billing]", lim.checkedKeys)
	}
}

func TestValidateHandler_PerKeyOverride(t *testing.T) {
	resolver := &fakeResolver{identity: apikey.Identity{
		ServiceName: "vip",
		Limit:       500,
		Window:      time.Minute,
	}}
	lim := allowAll()
	h := newTestHandler(resolver, lim)

	rec := postValidate(t, h, `{"national_id":"29801130102345"}`, "vip-key")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if len(lim.checkedLimits) != 1 || lim.checkedLimits[0] != 500 {
		t.Errorf("override limits = %v, want [500]", lim.checkedLimits)
	}
}

func TestValidateHandler_RateLimited(t *testing.T) {
	resolver := &fakeResolver{identity: apikey.Identity{ServiceName: "billing"}}
	lim := &fakeLimiter{decision: limiter.Decision{
		Allowed:    false,
		Count:      11,
		Limit:      10,
		Remaining:  0,
		RetryAfter: 42500 * time.Millisecond,
		ResetAt:    time.Now().Add(42 * time.Second),
	}}
	h := newTestHandler(resolver, lim)

	rec := postValidate(t, h, `{"national_id":"29801130102345"}`, "good-key")

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusTooManyRequests)
	}
	if got := rec.Header().Get("Retry-After"); got != "43" {
		t.Errorf("Retry-After = %q, want %q (rounded up)", got, "43")
	}

	body := decodeBody(t, rec)
	if body["error"] != "Too many requests. Please try again later." {
		t.Errorf("error = %q, want throttle message", body["error"])
	}
	if secs, ok := body["retry_after_seconds"].(float64); !ok || int64(secs) != 43 {
		t.Errorf("retry_after_seconds = %v, want 43", body["retry_after_seconds"])
	}
}

func TestValidateHandler_LimiterFailure(t *testing.T) {
	resolver := &fakeResolver{identity: apikey.Identity{ServiceName: "billing"}}
	lim := &fakeLimiter{err: errors.New("store unreachable")}
	h := newTestHandler(resolver, lim)

	rec := postValidate(t, h, `{"national_id":"29801130102345"}`, "good-key")

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusInternalServerError)
	}
}

func TestValidateHandler_BadRequests(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"empty body", ``},
		{"not json", `national_id=123`},
		{"missing field", `{}`},
		{"empty id", `{"national_id":""}`},
		{"whitespace id", `{"national_id":"   "}`},
		{"unknown field", `{"national_id":"29801130102345","extra":true}`},
		{"two documents", `{"national_id":"29801130102345"}{"national_id":"29801130102345"}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resolver := &fakeResolver{identity: apikey.Identity{ServiceName: "billing"}}
			h := newTestHandler(resolver, allowAll())

			rec := postValidate(t, h, tc.body, "good-key")

			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want %d (body %q)", rec.Code, http.StatusBadRequest, rec.Body.String())
			}
			body := decodeBody(t, rec)
			if body["kind"] != string(nid.MalformedFormat) {
				t.Errorf("kind = %q, want %q", body["kind"], nid.MalformedFormat)
			}
		})
	}
}

func TestValidateHandler_ParseErrors(t *testing.T) {
	cases := []struct {
		name     string
		id       string
		wantKind nid.ErrorKind
	}{
		{"too short", "2980113010234", nid.MalformedFormat},
		{"bad century", "49801130102345", nid.InvalidCentury},
		{"bad date", "29813130102345", nid.InvalidDate},
		{"unknown governorate", "29801139902345", nid.UnknownGovernorate},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resolver := &fakeResolver{identity: apikey.Identity{ServiceName: "billing"}}
			h := newTestHandler(resolver, allowAll())

			rec := postValidate(t, h, `{"national_id":"`+tc.id+`"}`, "good-key")

			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want %d (body %q)", rec.Code, http.StatusBadRequest, rec.Body.String())
			}
			body := decodeBody(t, rec)
			if body["kind"] != string(tc.wantKind) {
				t.Errorf("kind = %q, want %q", body["kind"], tc.wantKind)
			}
		})
	}
}

func TestValidateHandler_MethodNotAllowed(t *testing.T) {
	resolver := &fakeResolver{identity: apikey.Identity{ServiceName: "billing"}}
	h := newTestHandler(resolver, allowAll())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/validate-id", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusMethodNotAllowed)
	}
	if got := rec.Header().Get("Allow"); got != http.MethodPost {
		t.Errorf("Allow = %q, want %q", got, http.MethodPost)
	}
}

func TestValidateHandler_AuditEvents(t *testing.T) {
	var mu sync.Mutex
	var events []audit.Event
	sink := func(e audit.Event) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
	}

	resolver := &fakeResolver{identity: apikey.Identity{ServiceName: "billing"}}
	h := newTestHandler(resolver, allowAll(), WithAuditSink(sink))

	postValidate(t, h, `{"national_id":"29801130102345"}`, "good-key")
	postValidate(t, h, `{"national_id":"49801130102345"}`, "good-key")

	if len(events) != 2 {
		t.Fatalf("got %d audit events, want 2", len(events))
	}
	if events[0].Outcome != audit.OutcomeOK {
		t.Errorf("first outcome = %q, want %q", events[0].Outcome, audit.OutcomeOK)
	}
	if events[0].Service != "billing" {
		t.Errorf("service = %q, want %q", events[0].Service, "billing")
	}
	if events[1].Outcome != string(nid.InvalidCentury) {
		t.Errorf("second outcome = %q, want %q", events[1].Outcome, nid.InvalidCentury)
	}
}

func TestValidateHandler_ClientIP(t *testing.T) {
	cases := []struct {
		name       string
		trustProxy bool
		remoteAddr string
		forwarded  string
		want       string
	}{
		{"direct", false, "203.0.113.7:51234", "", "203.0.113.7"},
		{"ignores forwarded by default", false, "10.0.0.1:443", "203.0.113.7", "10.0.0.1"},
		{"trusted proxy", true, "10.0.0.1:443", "203.0.113.7", "203.0.113.7"},
		{"trusted proxy chain", true, "10.0.0.1:443", "203.0.113.7, 10.0.0.2", "203.0.113.7"},
		{"trusted proxy empty header", true, "10.0.0.1:443", "", "10.0.0.1"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var got string
			sink := func(e audit.Event) { got = e.ClientIP }

			resolver := &fakeResolver{identity: apikey.Identity{ServiceName: "billing"}}
			h := newTestHandler(resolver, allowAll(), WithAuditSink(sink), WithTrustProxy(tc.trustProxy))

			req := httptest.NewRequest(http.MethodPost, "/api/v1/validate-id", strings.NewReader(`{"national_id":"29801130102345"}`))
			req.RemoteAddr = tc.remoteAddr
			if tc.forwarded != "" {
				req.Header.Set("X-Forwarded-For", tc.forwarded)
			}
			req.Header.Set(APIKeyHeader, "good-key")

			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if got != tc.want {
				t.Errorf("client IP = %q, want %q", got, tc.want)
			}
		})
	}
}
