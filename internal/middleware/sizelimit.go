package middleware

import (
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/googleads/googleads-mobile-android-mediation-sub001/internal/config"
	"github.com/googleads/googleads-mobile-android-mediation-sub001/pkg/logger"
)

// Routes with their own body caps
const (
	RouteLoad   = "load"
	RouteShow   = "show"
	RouteEvents = "events"
	RouteOther  = "other"
)

// SizeLimitMetrics receives size limiter rejections
type SizeLimitMetrics interface {
	RecordOversizeRejected(route, reason string)
}

// SizeLimitConfig holds request size limits. RouteBodySizes overrides
// MaxBodySize for the mediation routes.
type SizeLimitConfig struct {
	Enabled        bool
	MaxBodySize    int64
	MaxURLLength   int
	RouteBodySizes map[string]int64
}

// DefaultSizeLimitConfig reads limits from MAX_REQUEST_SIZE, MAX_URL_LENGTH
// and SIZE_LIMIT_LOAD_BYTES, SIZE_LIMIT_SHOW_BYTES, SIZE_LIMIT_EVENTS_BYTES
func DefaultSizeLimitConfig() *SizeLimitConfig {
	maxURL, err := strconv.Atoi(os.Getenv("MAX_URL_LENGTH"))
	if err != nil || maxURL <= 0 {
		maxURL = config.DefaultMaxURLLength
	}

	return &SizeLimitConfig{
		Enabled:      os.Getenv("SIZE_LIMIT_ENABLED") != "false",
		MaxBodySize:  envBytes("MAX_REQUEST_SIZE", config.DefaultMaxBodySize),
		MaxURLLength: maxURL,
		RouteBodySizes: map[string]int64{
			RouteLoad:   envBytes("SIZE_LIMIT_LOAD_BYTES", config.DefaultMaxLoadBodySize),
			RouteShow:   envBytes("SIZE_LIMIT_SHOW_BYTES", config.DefaultMaxShowBodySize),
			RouteEvents: envBytes("SIZE_LIMIT_EVENTS_BYTES", config.DefaultMaxEventBodySize),
		},
	}
}

func envBytes(key string, fallback int64) int64 {
	n, err := strconv.ParseInt(os.Getenv(key), 10, 64)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

// RouteOf classifies a request path into one of the mediation routes.
// The limiter runs ahead of the mux, so the path is matched by hand.
func RouteOf(path string) string {
	switch {
	case path == "/v1/ads/load":
		return RouteLoad
	case path == "/v1/events":
		return RouteEvents
	case strings.HasPrefix(path, "/v1/ads/") && strings.HasSuffix(path, "/show") && len(path) > len("/v1/ads//show"):
		return RouteShow
	}
	return RouteOther
}

// SizeLimiter rejects oversized load and event requests before they are decoded
type SizeLimiter struct {
	config  *SizeLimitConfig
	metrics SizeLimitMetrics
	mu      sync.RWMutex
}

// NewSizeLimiter creates a new size limiter
func NewSizeLimiter(config *SizeLimitConfig) *SizeLimiter {
	if config == nil {
		config = DefaultSizeLimitConfig()
	}
	if config.RouteBodySizes == nil {
		config.RouteBodySizes = make(map[string]int64)
	}
	return &SizeLimiter{config: config}
}

// SetMetrics sets the metrics interface for the size limiter
func (sl *SizeLimiter) SetMetrics(m SizeLimitMetrics) {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	sl.metrics = m
}

// limitFor must be called with mu held
func (sl *SizeLimiter) limitFor(route string) int64 {
	if n, ok := sl.config.RouteBodySizes[route]; ok && n > 0 {
		return n
	}
	return sl.config.MaxBodySize
}

// Middleware returns the size limiting middleware handler
func (sl *SizeLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := RouteOf(r.URL.Path)

		sl.mu.RLock()
		enabled := sl.config.Enabled
		maxURLLength := sl.config.MaxURLLength
		maxBodySize := sl.limitFor(route)
		metrics := sl.metrics
		sl.mu.RUnlock()

		if !enabled {
			next.ServeHTTP(w, r)
			return
		}

		reject := func(reason string, status int, msg string) {
			if metrics != nil {
				metrics.RecordOversizeRejected(route, reason)
			}
			logger.FromContext(r.Context()).Debug().
				Str("route", route).
				Str("reason", reason).
				Int64("limit", maxBodySize).
				Msg("request rejected by size limiter")
			http.Error(w, msg, status)
		}

		if len(r.URL.String()) > maxURLLength {
			reject("url", http.StatusRequestURITooLong, `{"error":"URL too long"}`)
			return
		}

		if r.ContentLength > maxBodySize {
			reject("body", http.StatusRequestEntityTooLarge, `{"error":"request body too large"}`)
			return
		}

		// Chunked bodies are cut off while reading
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
		}

		next.ServeHTTP(w, r)
	})
}

// SetMaxBodySize sets the body cap for routes without their own
func (sl *SizeLimiter) SetMaxBodySize(size int64) {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	sl.config.MaxBodySize = size
}

// SetRouteBodySize sets the body cap of one route
func (sl *SizeLimiter) SetRouteBodySize(route string, size int64) {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	sl.config.RouteBodySizes[route] = size
}

// SetMaxURLLength sets the max URL length
func (sl *SizeLimiter) SetMaxURLLength(length int) {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	sl.config.MaxURLLength = length
}

// SetEnabled enables or disables size limiting
func (sl *SizeLimiter) SetEnabled(enabled bool) {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	sl.config.Enabled = enabled
}

// GetConfig returns a copy of the current configuration
func (sl *SizeLimiter) GetConfig() SizeLimitConfig {
	sl.mu.RLock()
	defer sl.mu.RUnlock()
	cfg := *sl.config
	cfg.RouteBodySizes = make(map[string]int64, len(sl.config.RouteBodySizes))
	for k, v := range sl.config.RouteBodySizes {
		cfg.RouteBodySizes[k] = v
	}
	return cfg
}
