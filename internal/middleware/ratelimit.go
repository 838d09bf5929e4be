package middleware

import (
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/googleads/googleads-mobile-android-mediation-sub001/internal/config"
)

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	Enabled           bool
	RequestsPerSecond int           // Sustained requests per second per client
	BurstSize         int           // Max burst size
	CleanupInterval   time.Duration // How often idle clients are forgotten
	IdleTimeout       time.Duration // Clients unseen this long are dropped
	TrustedProxies    []*net.IPNet  // CIDR ranges of trusted proxies
	TrustXFF          bool          // Whether to trust X-Forwarded-For at all
}

// DefaultRateLimitConfig returns default rate limit configuration
func DefaultRateLimitConfig() *RateLimitConfig {
	rps, err := strconv.Atoi(os.Getenv("RATE_LIMIT_RPS"))
	if err != nil || rps <= 0 {
		rps = config.DefaultRPS
	}

	burst, err := strconv.Atoi(os.Getenv("RATE_LIMIT_BURST"))
	if err != nil || burst <= 0 {
		burst = config.DefaultBurstSize
	}

	// TRUSTED_PROXIES=10.0.0.0/8,127.0.0.1
	trustedProxies := ParseTrustedProxies(os.Getenv("TRUSTED_PROXIES"))

	return &RateLimitConfig{
		Enabled:           os.Getenv("RATE_LIMIT_ENABLED") != "false",
		RequestsPerSecond: rps,
		BurstSize:         burst,
		CleanupInterval:   time.Minute,
		IdleTimeout:       3 * time.Minute,
		TrustedProxies:    trustedProxies,
		TrustXFF:          len(trustedProxies) > 0,
	}
}

// ParseTrustedProxies parses a comma-separated list of CIDRs or single IPs
func ParseTrustedProxies(value string) []*net.IPNet {
	var nets []*net.IPNet
	for _, cidr := range strings.Split(value, ",") {
		cidr = strings.TrimSpace(cidr)
		if cidr == "" {
			continue
		}
		if !strings.Contains(cidr, "/") {
			if strings.Contains(cidr, ":") {
				cidr += "/128"
			} else {
				cidr += "/32"
			}
		}
		if _, network, err := net.ParseCIDR(cidr); err == nil {
			nets = append(nets, network)
		}
	}
	return nets
}

// RateLimitMetrics defines the metrics interface for rate limiter
type RateLimitMetrics interface {
	IncRateLimitRejected()
}

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter throttles each app (or IP when unauthenticated) with its own token bucket
type RateLimiter struct {
	config  *RateLimitConfig
	clients map[string]*client
	mu      sync.Mutex
	stopCh  chan struct{}
	metrics RateLimitMetrics
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(config *RateLimitConfig) *RateLimiter {
	if config == nil {
		config = DefaultRateLimitConfig()
	}

	rl := &RateLimiter{
		config:  config,
		clients: make(map[string]*client),
		stopCh:  make(chan struct{}),
	}

	if config.CleanupInterval > 0 {
		go rl.cleanup()
	}

	return rl
}

// cleanup periodically removes idle clients
func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.evictIdle(time.Now())
		case <-rl.stopCh:
			return
		}
	}
}

func (rl *RateLimiter) evictIdle(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, c := range rl.clients {
		if now.Sub(c.lastSeen) > rl.config.IdleTimeout {
			delete(rl.clients, key)
		}
	}
}

// Stop stops the cleanup goroutine
func (rl *RateLimiter) Stop() {
	close(rl.stopCh)
}

// Middleware returns the rate limiting middleware handler
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rl.mu.Lock()
		enabled := rl.config.Enabled
		limit := rl.config.RequestsPerSecond
		metrics := rl.metrics
		rl.mu.Unlock()

		if !enabled {
			next.ServeHTTP(w, r)
			return
		}

		// Authenticated apps are limited by app ID, everyone else by IP
		clientID := r.Header.Get(AppIDHeader)
		if clientID == "" {
			clientID = rl.getClientIP(r)
		}

		if !rl.allow(clientID) {
			if metrics != nil {
				metrics.IncRateLimitRejected()
			}
			w.Header().Set("Retry-After", "1")
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
			w.Header().Set("X-RateLimit-Remaining", "0")
			http.Error(w, `{"error":"rate limit exceeded"}`, http.StatusTooManyRequests)
			return
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
		next.ServeHTTP(w, r)
	})
}

// allow reports whether clientID may make a request now
func (rl *RateLimiter) allow(clientID string) bool {
	rl.mu.Lock()
	c, ok := rl.clients[clientID]
	if !ok {
		c = &client{limiter: rate.NewLimiter(rate.Limit(rl.config.RequestsPerSecond), rl.config.BurstSize)}
		rl.clients[clientID] = c
	}
	c.lastSeen = time.Now()
	rl.mu.Unlock()

	return c.limiter.Allow()
}

// getClientIP extracts the client IP, honoring X-Forwarded-For only from trusted proxies
func (rl *RateLimiter) getClientIP(r *http.Request) string {
	remoteIP := extractIP(r.RemoteAddr)

	if rl.config.TrustXFF && rl.isTrustedProxy(remoteIP) {
		// Rightmost untrusted hop is the client
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			ips := strings.Split(xff, ",")
			for i := len(ips) - 1; i >= 0; i-- {
				ip := strings.TrimSpace(ips[i])
				if ip != "" && !rl.isTrustedProxy(ip) {
					return ip
				}
			}
		}
		if xri := r.Header.Get("X-Real-IP"); xri != "" {
			return strings.TrimSpace(xri)
		}
	}

	return remoteIP
}

func (rl *RateLimiter) isTrustedProxy(ipStr string) bool {
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return false
	}
	for _, network := range rl.config.TrustedProxies {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

// extractIP strips the port from an address
func extractIP(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

// SetEnabled enables or disables rate limiting
func (rl *RateLimiter) SetEnabled(enabled bool) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.config.Enabled = enabled
}

// SetLimit changes the rate and burst of every client
func (rl *RateLimiter) SetLimit(rps, burst int) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.config.RequestsPerSecond = rps
	rl.config.BurstSize = burst
	for _, c := range rl.clients {
		c.limiter.SetLimit(rate.Limit(rps))
		c.limiter.SetBurst(burst)
	}
}

// SetMetrics sets the metrics interface for the rate limiter
func (rl *RateLimiter) SetMetrics(m RateLimitMetrics) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.metrics = m
}
