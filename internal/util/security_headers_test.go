package util

import (
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestWithSecurityHeadersDisablesCaching(t *testing.T) {
	h := WithSecurityHeaders(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeTestJSON(w)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/exams", nil))

	want := map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"Referrer-Policy":        "no-referrer",
		"Cache-Control":          "no-store",
		"Pragma":                 "no-cache",
	}
	for header, value := range want {
		if got := rec.Header().Get(header); got != value {
			t.Fatalf("%s = %q, want %q", header, got, value)
		}
	}
	if rec.Header().Get("Content-Security-Policy") == "" || rec.Header().Get("Permissions-Policy") == "" {
		t.Fatalf("policy headers missing: %v", rec.Header())
	}
	if got := rec.Header().Get("Strict-Transport-Security"); got != "" {
		t.Fatalf("plain http must not get HSTS, got %q", got)
	}
}

func TestWithSecurityHeadersHSTS(t *testing.T) {
	h := WithSecurityHeaders(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {}))

	forwarded := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	forwarded.Header.Set("X-Forwarded-Proto", " HTTPS ")
	direct := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	direct.TLS = &tls.ConnectionState{}

	for name, req := range map[string]*http.Request{"forwarded": forwarded, "direct": direct} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Header().Get("Strict-Transport-Security") == "" {
			t.Fatalf("%s https request must get HSTS", name)
		}
	}
}

func writeTestJSON(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"ok":true}`))
}
