//go:build e2e

package e2e

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

const (
	serviceURL   = "http://localhost:3000"
	validatePath = "/api/v1/validate-id"
)

// apiKey must identify an active key seeded with cmd/seedkeys before the
// suite runs.
var apiKey = os.Getenv("E2E_API_KEY")

// TestMain sets up the test environment
func TestMain(m *testing.M) {
	if !checkService(serviceURL+"/health", 5*time.Second) {
		fmt.Fprintf(os.Stderr, "Error: bitaqa not available at %s\n", serviceURL)
		fmt.Fprintf(os.Stderr, "Please start the service with: go run ./cmd/bitaqa\n")
		os.Exit(1)
	}

	if apiKey == "" {
		fmt.Fprintln(os.Stderr, "Error: E2E_API_KEY is required (seed one with: go run ./cmd/seedkeys e2e)")
		os.Exit(1)
	}

	code := m.Run()
	os.Exit(code)
}

// checkService verifies a service is available
func checkService(url string, timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusOK
}

func validate(t *testing.T, nationalID, key string) *http.Response {
	t.Helper()

	body := fmt.Sprintf(`{"national_id":%q}`, nationalID)
	req, err := http.NewRequest(http.MethodPost, serviceURL+validatePath, strings.NewReader(body))
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("X-API-KEY", key)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	return resp
}

// TestHealth verifies the health endpoint
func TestHealth(t *testing.T) {
	resp, err := http.Get(serviceURL + "/health")
	if err != nil {
		t.Fatalf("Failed to get health endpoint: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read response body: %v", err)
	}

	t.Logf("Health check response: %s", body)
}

// TestValidateSuccess verifies a well-formed ID parses end to end
func TestValidateSuccess(t *testing.T) {
	resp := validate(t, "29801130102345", apiKey)
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		t.Skip("key is currently throttled; rerun after the window resets")
	}
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		t.Fatalf("Expected status 200, got %d (body %s)", resp.StatusCode, raw)
	}

	var payload struct {
		BirthDate    string `json:"birth_date"`
		Governorate  string `json:"governorate"`
		Gender       string `json:"gender"`
		SerialNumber string `json:"serial_number"`
		Checksum     int    `json:"checksum"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if payload.BirthDate != "1998-01-13" || payload.Governorate != "Cairo" {
		t.Errorf("Unexpected payload: %+v", payload)
	}

	for _, header := range []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"} {
		if value := resp.Header.Get(header); value == "" {
			t.Errorf("Missing required header: %s", header)
		} else {
			t.Logf("Header %s: %s", header, value)
		}
	}
}

// TestAuthFailures verifies the missing/invalid key split
func TestAuthFailures(t *testing.T) {
	resp := validate(t, "29801130102345", "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("Missing key: expected status 401, got %d", resp.StatusCode)
	}

	resp = validate(t, "29801130102345", "definitely-not-a-real-key")
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("Invalid key: expected status 403, got %d", resp.StatusCode)
	}
}

// TestValidationErrors verifies malformed IDs are rejected with a kind
func TestValidationErrors(t *testing.T) {
	tests := []struct {
		name       string
		nationalID string
		wantKind   string
	}{
		{"too short", "123", "malformed_format"},
		{"bad century", "49801130102345", "invalid_century"},
		{"bad date", "29813130102345", "invalid_date"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := validate(t, tt.nationalID, apiKey)
			defer resp.Body.Close()

			if resp.StatusCode == http.StatusTooManyRequests {
				t.Skip("key is currently throttled; rerun after the window resets")
			}
			if resp.StatusCode != http.StatusBadRequest {
				t.Fatalf("Expected status 400, got %d", resp.StatusCode)
			}

			var payload struct {
				Kind string `json:"kind"`
			}
			if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
				t.Fatalf("Failed to decode response: %v", err)
			}
			if payload.Kind != tt.wantKind {
				t.Errorf("Expected kind %q, got %q", tt.wantKind, payload.Kind)
			}
		})
	}
}

// TestRateLimitEnforce tests that the rate limiter blocks excess requests
func TestRateLimitEnforce(t *testing.T) {
	const numRequests = 30 // Should exceed default limit of 10
	var blocked atomic.Int32
	var allowed atomic.Int32

	client := &http.Client{Timeout: 5 * time.Second}

	for i := 0; i < numRequests; i++ {
		body := strings.NewReader(`{"national_id":"29801130102345"}`)
		req, err := http.NewRequest(http.MethodPost, serviceURL+validatePath, body)
		if err != nil {
			t.Fatalf("Failed to create request: %v", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-API-KEY", apiKey)

		resp, err := client.Do(req)
		if err != nil {
			t.Fatalf("Request %d failed: %v", i+1, err)
		}

		switch resp.StatusCode {
		case http.StatusOK:
			allowed.Add(1)
		case http.StatusTooManyRequests:
			blocked.Add(1)
			if retryAfter := resp.Header.Get("Retry-After"); retryAfter == "" {
				t.Error("429 response missing Retry-After header")
			}
		default:
			_ = resp.Body.Close()
			t.Fatalf("Request %d returned unexpected status code: %d", i+1, resp.StatusCode)
		}

		resp.Body.Close()
	}

	t.Logf("Results: %d allowed, %d blocked out of %d requests", allowed.Load(), blocked.Load(), numRequests)

	if blocked.Load() == 0 {
		t.Error("Expected some requests to be blocked by rate limiter, but none were")
	}
}

// TestConcurrentCallers tests concurrent requests against one key
func TestConcurrentCallers(t *testing.T) {
	const numCallers = 8

	var wg sync.WaitGroup
	var errorCount atomic.Int32

	for callerID := 0; callerID < numCallers; callerID++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()

			client := &http.Client{Timeout: 5 * time.Second}
			body := strings.NewReader(`{"national_id":"29801130102345"}`)
			req, err := http.NewRequest(http.MethodPost, serviceURL+validatePath, body)
			if err != nil {
				errorCount.Add(1)
				return
			}
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("X-API-KEY", apiKey)

			resp, err := client.Do(req)
			if err != nil {
				errorCount.Add(1)
				return
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusTooManyRequests {
				t.Errorf("Caller %d got unexpected status code: %d", id, resp.StatusCode)
			}
		}(callerID)
	}

	wg.Wait()

	if errorCount.Load() > 0 {
		t.Errorf("%d concurrent requests failed", errorCount.Load())
	}
}
