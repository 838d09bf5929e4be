// Package config provides shared configuration constants for the mediation service
package config

import "time"

// Server timeout defaults
const (
	// ServerReadTimeout is the maximum duration for reading the entire request
	ServerReadTimeout = 5 * time.Second

	// ServerWriteTimeout is the maximum duration before timing out writes of the response
	ServerWriteTimeout = 15 * time.Second

	// ServerIdleTimeout is the maximum time to wait for the next request when keep-alives are enabled
	ServerIdleTimeout = 120 * time.Second

	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout = 30 * time.Second
)

// Rate limiting defaults
const (
	// DefaultRPS is the default requests per second limit per client
	DefaultRPS = 100

	// DefaultBurstSize is the default burst size for rate limiting
	DefaultBurstSize = 200
)

// Authentication defaults
const (
	// AuthCacheTimeout is how long a resolved API key is cached
	AuthCacheTimeout = 5 * time.Minute

	// AuthNegativeCacheTimeout is how long an unknown API key is cached
	AuthNegativeCacheTimeout = 30 * time.Second
)

// Size limiting defaults
const (
	// DefaultMaxBodySize is the default maximum request body size (256KB)
	DefaultMaxBodySize = 256 * 1024

	// DefaultMaxURLLength is the default maximum URL length (8KB)
	DefaultMaxURLLength = 8192

	// DefaultMaxLoadBodySize caps ad load requests, which carry server parameters and extras (64KB)
	DefaultMaxLoadBodySize = 64 * 1024

	// DefaultMaxEventBodySize caps forwarded network callbacks (8KB)
	DefaultMaxEventBodySize = 8 * 1024

	// DefaultMaxShowBodySize caps show requests, which carry no payload (1KB)
	DefaultMaxShowBodySize = 1024
)

// Network call defaults
const (
	// DefaultLoadTimeout bounds a single ad load against a network
	DefaultLoadTimeout = 3 * time.Second

	// MaxNetworkResponseSize caps a network response body (1MB)
	MaxNetworkResponseSize = 1024 * 1024

	// DefaultAdTTL is how long a loaded ad stays showable
	DefaultAdTTL = 55 * time.Minute

	// PlacementLockTTL bounds how long a placement stays reserved if the ad is never shown or closed
	PlacementLockTTL = time.Hour
)

// Native image download defaults
const (
	// ImageDownloadTimeout bounds each image download
	ImageDownloadTimeout = 10 * time.Second

	// ImageDownloadConcurrency is the number of images fetched in parallel
	ImageDownloadConcurrency = 4
)

// Redis defaults
const (
	// RedisPoolSize is the default connection pool size
	RedisPoolSize = 100

	// EventStreamKey is the Redis stream host events are appended to
	EventStreamKey = "mediation:events"

	// EventStreamMaxLen caps the event stream length (approximate trimming)
	EventStreamMaxLen = 100000
)
