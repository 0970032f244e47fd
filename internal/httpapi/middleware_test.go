package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRequestIDEchoesHeader(t *testing.T) {
	h := RequestID(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-Id", "req-42")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-Id"); got != "req-42" {
		t.Fatalf("expected echoed request id, got %q", got)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Header().Get("X-Request-Id") == "" {
		t.Fatalf("expected a generated request id")
	}
}

func TestSecurityHeaders(t *testing.T) {
	h := SecurityHeaders(okHandler())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if got := rec.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Fatalf("missing nosniff header, got %q", got)
	}
	if rec.Header().Get("Content-Security-Policy") == "" {
		t.Fatalf("missing content security policy")
	}
}

func TestRateLimitRejectsBursts(t *testing.T) {
	h := RateLimit(okHandler(), 2, 1)

	var last int
	for i := 0; i < 4; i++ {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		h.ServeHTTP(rec, req)
		last = rec.Code
	}
	if last != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after burst, got %d", last)
	}

	// A different client keeps its own bucket.
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.2:1234"
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected fresh client to pass, got %d", rec.Code)
	}
}

func TestExtractBearerToken(t *testing.T) {
	if _, err := extractBearerToken(""); err == nil {
		t.Fatalf("expected error for empty header")
	}
	if _, err := extractBearerToken("Basic abc"); err == nil {
		t.Fatalf("expected error for wrong scheme")
	}
	tok, err := extractBearerToken("Bearer abc.def")
	if err != nil || tok != "abc.def" {
		t.Fatalf("unexpected result: %q %v", tok, err)
	}
	tok, err = extractBearerToken("bearer abc.def")
	if err != nil || tok != "abc.def" {
		t.Fatalf("case-insensitive scheme: %q %v", tok, err)
	}
}
