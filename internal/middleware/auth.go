// Package middleware provides HTTP middleware for the mediation server
package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/googleads/googleads-mobile-android-mediation-sub001/internal/config"
	"github.com/googleads/googleads-mobile-android-mediation-sub001/pkg/logger"
)

// AppIDHeader carries the authenticated app ID to downstream handlers
const AppIDHeader = "X-App-ID"

// RedisAPIKeysHash maps API keys to app IDs
// #nosec G101 -- Redis key name, not a credential
const RedisAPIKeysHash = "mediation:api_keys"

// KeyLookup resolves API keys from a shared store
type KeyLookup interface {
	HGet(ctx context.Context, key, field string) (string, error)
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	Enabled     bool
	APIKeys     map[string]string // key -> app ID, checked after Redis
	HeaderName  string
	BypassPaths []string
}

// DefaultAuthConfig returns default auth configuration
func DefaultAuthConfig() *AuthConfig {
	return &AuthConfig{
		Enabled:     os.Getenv("AUTH_ENABLED") == "true",
		APIKeys:     parseAPIKeys(os.Getenv("API_KEYS")),
		HeaderName:  "X-API-Key",
		BypassPaths: []string{"/health", "/status", "/metrics", "/info/networks"},
	}
}

// parseAPIKeys parses "key1:app1,key2:app2"
func parseAPIKeys(envValue string) map[string]string {
	keys := make(map[string]string)
	for _, pair := range strings.Split(envValue, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		key, app, found := strings.Cut(pair, ":")
		if !found {
			app = "default"
		}
		keys[strings.TrimSpace(key)] = strings.TrimSpace(app)
	}
	return keys
}

// AuthMetrics defines the metrics interface for auth middleware
type AuthMetrics interface {
	IncAuthFailures()
}

type cachedKey struct {
	appID     string
	expiresAt time.Time
}

// Auth authenticates apps by API key
type Auth struct {
	config  *AuthConfig
	lookup  KeyLookup
	metrics AuthMetrics
	mu      sync.RWMutex

	keyCache map[string]cachedKey
	cacheMu  sync.Mutex
}

// NewAuth creates a new Auth middleware
func NewAuth(config *AuthConfig) *Auth {
	if config == nil {
		config = DefaultAuthConfig()
	}
	return &Auth{
		config:   config,
		keyCache: make(map[string]cachedKey),
	}
}

// SetKeyLookup sets the shared API key store
func (a *Auth) SetKeyLookup(lookup KeyLookup) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lookup = lookup
}

// SetMetrics sets the metrics interface for auth middleware
func (a *Auth) SetMetrics(m AuthMetrics) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.metrics = m
}

// SetEnabled enables or disables authentication
func (a *Auth) SetEnabled(enabled bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.config.Enabled = enabled
}

// IsEnabled returns whether authentication is enabled
func (a *Auth) IsEnabled() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.config.Enabled
}

// Middleware returns the authentication middleware handler
func (a *Auth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		a.mu.RLock()
		enabled := a.config.Enabled
		bypassPaths := a.config.BypassPaths
		headerName := a.config.HeaderName
		a.mu.RUnlock()

		// Never trust a client-supplied app ID
		r.Header.Del(AppIDHeader)

		if !enabled {
			next.ServeHTTP(w, r)
			return
		}
		for _, path := range bypassPaths {
			if strings.HasPrefix(r.URL.Path, path) {
				next.ServeHTTP(w, r)
				return
			}
		}

		apiKey := r.Header.Get(headerName)
		if apiKey == "" {
			if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
				apiKey = token
			}
		}
		if apiKey == "" {
			a.recordFailure()
			http.Error(w, `{"error":"missing API key"}`, http.StatusUnauthorized)
			return
		}

		appID, ok := a.validateKey(r.Context(), apiKey)
		if !ok {
			a.recordFailure()
			http.Error(w, `{"error":"invalid API key"}`, http.StatusForbidden)
			return
		}

		r.Header.Set(AppIDHeader, appID)
		next.ServeHTTP(w, r)
	})
}

// validateKey returns the app ID of key, checking the cache, then Redis, then local keys
func (a *Auth) validateKey(ctx context.Context, key string) (string, bool) {
	if appID, found := a.checkCache(key); found {
		return appID, appID != ""
	}

	a.mu.RLock()
	lookup := a.lookup
	a.mu.RUnlock()

	if lookup != nil {
		appID, err := lookup.HGet(ctx, RedisAPIKeysHash, key)
		if err != nil {
			logger.Log.Debug().Err(err).Msg("redis API key lookup failed, falling back to local keys")
		} else if appID != "" {
			a.updateCache(key, appID)
			return appID, true
		}
	}

	var appID string
	a.mu.RLock()
	for validKey, id := range a.config.APIKeys {
		if subtle.ConstantTimeCompare([]byte(key), []byte(validKey)) == 1 {
			appID = id
			break
		}
	}
	a.mu.RUnlock()

	a.updateCache(key, appID)
	return appID, appID != ""
}

func (a *Auth) checkCache(key string) (string, bool) {
	a.cacheMu.Lock()
	defer a.cacheMu.Unlock()

	cached, ok := a.keyCache[key]
	if !ok || time.Now().After(cached.expiresAt) {
		return "", false
	}
	return cached.appID, true
}

// updateCache caches a lookup result; misses are cached briefly
func (a *Auth) updateCache(key, appID string) {
	ttl := config.AuthCacheTimeout
	if appID == "" {
		ttl = config.AuthNegativeCacheTimeout
	}

	a.cacheMu.Lock()
	defer a.cacheMu.Unlock()
	a.keyCache[key] = cachedKey{appID: appID, expiresAt: time.Now().Add(ttl)}
}

// ClearCache forgets every cached lookup
func (a *Auth) ClearCache() {
	a.cacheMu.Lock()
	defer a.cacheMu.Unlock()
	a.keyCache = make(map[string]cachedKey)
}

func (a *Auth) recordFailure() {
	a.mu.RLock()
	m := a.metrics
	a.mu.RUnlock()
	if m != nil {
		m.IncAuthFailures()
	}
}
