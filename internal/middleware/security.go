package middleware

import (
	"net/http"
	"os"
	"sync"
)

// SecurityConfig holds the response security headers
type SecurityConfig struct {
	Enabled                 bool
	XFrameOptions           string
	XContentTypeOptions     string
	XXSSProtection          string
	ContentSecurityPolicy   string
	ReferrerPolicy          string
	StrictTransportSecurity string // Empty unless served over TLS
	PermissionsPolicy       string
	CacheControl            string // Not applied to /metrics
}

// DefaultSecurityConfig returns headers suitable for a JSON API. Creative
// markup is returned as data, never rendered by this server.
func DefaultSecurityConfig() *SecurityConfig {
	return &SecurityConfig{
		Enabled:                 os.Getenv("SECURITY_HEADERS_ENABLED") != "false",
		XFrameOptions:           envOrDefault("SECURITY_X_FRAME_OPTIONS", "DENY"),
		XContentTypeOptions:     "nosniff",
		XXSSProtection:          "1; mode=block",
		ContentSecurityPolicy:   envOrDefault("SECURITY_CSP", "default-src 'none'; frame-ancestors 'none'"),
		ReferrerPolicy:          envOrDefault("SECURITY_REFERRER_POLICY", "no-referrer"),
		StrictTransportSecurity: os.Getenv("SECURITY_HSTS"),
		PermissionsPolicy:       "geolocation=(), camera=(), microphone=()",
		CacheControl:            "no-store",
	}
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// Security sets security headers on every response
type Security struct {
	config *SecurityConfig
	mu     sync.RWMutex
}

// NewSecurity creates the security headers middleware
func NewSecurity(config *SecurityConfig) *Security {
	if config == nil {
		config = DefaultSecurityConfig()
	}
	return &Security{config: config}
}

// Middleware returns the security headers middleware handler
func (s *Security) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cfg := s.GetConfig()
		if !cfg.Enabled {
			next.ServeHTTP(w, r)
			return
		}

		h := w.Header()
		setIfNotEmpty(h, "X-Frame-Options", cfg.XFrameOptions)
		setIfNotEmpty(h, "X-Content-Type-Options", cfg.XContentTypeOptions)
		setIfNotEmpty(h, "X-XSS-Protection", cfg.XXSSProtection)
		setIfNotEmpty(h, "Content-Security-Policy", cfg.ContentSecurityPolicy)
		setIfNotEmpty(h, "Referrer-Policy", cfg.ReferrerPolicy)
		setIfNotEmpty(h, "Strict-Transport-Security", cfg.StrictTransportSecurity)
		setIfNotEmpty(h, "Permissions-Policy", cfg.PermissionsPolicy)
		if r.URL.Path != "/metrics" {
			setIfNotEmpty(h, "Cache-Control", cfg.CacheControl)
		}

		next.ServeHTTP(w, r)
	})
}

func setIfNotEmpty(h http.Header, key, value string) {
	if value != "" {
		h.Set(key, value)
	}
}

// SetEnabled enables or disables the headers
func (s *Security) SetEnabled(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.config.Enabled = enabled
}

// SetHSTS sets the Strict-Transport-Security value
func (s *Security) SetHSTS(value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.config.StrictTransportSecurity = value
}

// SetCSP sets the Content-Security-Policy value
func (s *Security) SetCSP(value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.config.ContentSecurityPolicy = value
}

// GetConfig returns a copy of the current configuration
func (s *Security) GetConfig() SecurityConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return *s.config
}
