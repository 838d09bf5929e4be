package middleware

import (
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestSecurityMiddleware_AllHeaders(t *testing.T) {
	security := NewSecurity(&SecurityConfig{
		Enabled:                 true,
		XFrameOptions:           "DENY",
		XContentTypeOptions:     "nosniff",
		XXSSProtection:          "1; mode=block",
		ContentSecurityPolicy:   "default-src 'none'",
		ReferrerPolicy:          "no-referrer",
		StrictTransportSecurity: "max-age=31536000",
		PermissionsPolicy:       "geolocation=()",
		CacheControl:            "no-store",
	})

	rr := httptest.NewRecorder()
	security.Middleware(okHandler()).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/ads/load", nil))

	tests := []struct {
		header   string
		expected string
	}{
		{"X-Frame-Options", "DENY"},
		{"X-Content-Type-Options", "nosniff"},
		{"X-XSS-Protection", "1; mode=block"},
		{"Content-Security-Policy", "default-src 'none'"},
		{"Referrer-Policy", "no-referrer"},
		{"Strict-Transport-Security", "max-age=31536000"},
		{"Permissions-Policy", "geolocation=()"},
		{"Cache-Control", "no-store"},
	}
	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			if got := rr.Header().Get(tt.header); got != tt.expected {
				t.Errorf("%s = %q, want %q", tt.header, got, tt.expected)
			}
		})
	}
}

func TestSecurityMiddleware_DefaultConfig(t *testing.T) {
	os.Unsetenv("SECURITY_HEADERS_ENABLED")
	os.Unsetenv("SECURITY_HSTS")

	rr := httptest.NewRecorder()
	NewSecurity(nil).Middleware(okHandler()).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/events", nil))

	if got := rr.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Errorf("X-Frame-Options = %q, want DENY", got)
	}
	if got := rr.Header().Get("Strict-Transport-Security"); got != "" {
		t.Errorf("HSTS should be off by default, got %q", got)
	}
}

func TestSecurityMiddleware_MetricsPathNoCacheControl(t *testing.T) {
	handler := NewSecurity(&SecurityConfig{Enabled: true, CacheControl: "no-store"}).Middleware(okHandler())

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if got := rr.Header().Get("Cache-Control"); got != "" {
		t.Errorf("Cache-Control should be empty for /metrics, got %q", got)
	}

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/ads/abc/show", nil))
	if got := rr.Header().Get("Cache-Control"); got != "no-store" {
		t.Errorf("Cache-Control = %q, want no-store", got)
	}
}

func TestSecurityMiddleware_RuntimeChanges(t *testing.T) {
	security := NewSecurity(&SecurityConfig{Enabled: true, XFrameOptions: "DENY"})
	handler := security.Middleware(okHandler())
	req := httptest.NewRequest(http.MethodGet, "/status", nil)

	security.SetHSTS("max-age=600")
	security.SetCSP("default-src 'self'")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if got := rr.Header().Get("Strict-Transport-Security"); got != "max-age=600" {
		t.Errorf("HSTS = %q, want max-age=600", got)
	}
	if got := rr.Header().Get("Content-Security-Policy"); got != "default-src 'self'" {
		t.Errorf("CSP = %q", got)
	}

	security.SetEnabled(false)
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if got := rr.Header().Get("X-Frame-Options"); got != "" {
		t.Errorf("expected no headers when disabled, got X-Frame-Options %q", got)
	}
	if security.GetConfig().Enabled {
		t.Error("expected config copy to report disabled")
	}
}

func TestEnvOrDefault(t *testing.T) {
	t.Setenv("TEST_SECURITY_VAR", "custom")
	if got := envOrDefault("TEST_SECURITY_VAR", "default"); got != "custom" {
		t.Errorf("expected custom, got %s", got)
	}
	t.Setenv("TEST_SECURITY_VAR", "")
	if got := envOrDefault("TEST_SECURITY_VAR", "default"); got != "default" {
		t.Errorf("expected default for empty value, got %s", got)
	}
}
