package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestCORSHandler(t *testing.T, cfg CORSConfig) http.Handler {
	t.Helper()
	policy, err := newCORSPolicy(cfg)
	if err != nil {
		t.Fatalf("newCORSPolicy: %v", err)
	}
	return corsMiddleware(policy, nil, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
}

func TestCORSMiddlewareAllowsConfiguredOrigin(t *testing.T) {
	t.Parallel()

	handler := newTestCORSHandler(t, CORSConfig{AllowedOrigins: []string{"https://academy.example.com"}})

	req := httptest.NewRequest(http.MethodGet, "/api/lessons/abc/playback", nil)
	req.Header.Set("Origin", "https://academy.example.com")

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "https://academy.example.com" {
		t.Fatalf("expected allow-origin header, got %q", got)
	}
	if rr.Header().Get("Vary") != "Origin" {
		t.Fatalf("expected Vary: Origin header")
	}
}

func TestCORSMiddlewareBlocksUnknownOrigin(t *testing.T) {
	t.Parallel()

	handler := newTestCORSHandler(t, CORSConfig{AllowedOrigins: []string{"https://academy.example.com"}})

	req := httptest.NewRequest(http.MethodGet, "/api/lessons/abc/playback", nil)
	req.Header.Set("Origin", "https://evil.example.com")

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
}

func TestCORSMiddlewarePermitsSameOrigin(t *testing.T) {
	t.Parallel()

	handler := newTestCORSHandler(t, CORSConfig{})

	req := httptest.NewRequest(http.MethodGet, "/api/lessons/abc/playback", nil)
	req.Host = "courses.example.com"
	req.Header.Set("Origin", "http://courses.example.com")

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected same-origin request to pass, got %d", rr.Code)
	}
}

func TestCORSMiddlewareHandlesPreflight(t *testing.T) {
	t.Parallel()

	handler := newTestCORSHandler(t, CORSConfig{AllowedOrigins: []string{"https://academy.example.com"}})

	req := httptest.NewRequest(http.MethodOptions, "/api/convert-video", nil)
	req.Header.Set("Origin", "https://academy.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204 for preflight, got %d", rr.Code)
	}
	if got := rr.Header().Get("Access-Control-Allow-Methods"); got == "" {
		t.Fatalf("expected allow-methods header on preflight")
	}
}

func TestNewCORSPolicyRejectsBareHost(t *testing.T) {
	t.Parallel()

	if _, err := newCORSPolicy(CORSConfig{AllowedOrigins: []string{"academy.example.com"}}); err == nil {
		t.Fatalf("expected error for origin without scheme")
	}
}
