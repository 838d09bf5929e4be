package main

import (
	"flag"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/googleads/googleads-mobile-android-mediation-sub001/internal/config"
	"github.com/googleads/googleads-mobile-android-mediation-sub001/internal/mediation"
)

// endpointEnvSuffix marks per-network endpoint overrides, e.g. VUNGLE_ENDPOINT
const endpointEnvSuffix = "_ENDPOINT"

// ServerConfig holds all server configuration
type ServerConfig struct {
	// Server
	Port string

	// Mediation
	LoadTimeout      time.Duration
	AdTTL            time.Duration
	PlacementLockTTL time.Duration

	// Network endpoint overrides keyed by network code
	NetworkEndpoints map[string]string

	// Initialize networks from the ad unit table at startup
	InitializeNetworks bool

	// Database
	DatabaseConfig *DatabaseConfig

	// Redis
	RedisURL string

	// Batched event delivery to an external collector
	EventWebhookURL string

	// Metrics namespace
	MetricsNamespace string
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
}

// ParseConfig parses configuration from flags and environment variables.
// A .env file in the working directory is loaded first if present.
func ParseConfig() *ServerConfig {
	_ = godotenv.Load()

	port := flag.String("port", getEnvOrDefault("MEDIATION_PORT", "8000"), "Server port")
	loadTimeout := flag.Duration("load-timeout", getEnvDurationOrDefault("LOAD_TIMEOUT", config.DefaultLoadTimeout), "Per-network ad load timeout")
	adTTL := flag.Duration("ad-ttl", getEnvDurationOrDefault("AD_TTL", config.DefaultAdTTL), "How long a loaded ad stays showable")
	initNetworks := flag.Bool("init-networks", getEnvBoolOrDefault("INIT_NETWORKS", true), "Initialize networks from ad units at startup")
	flag.Parse()

	cfg := &ServerConfig{
		Port:               *port,
		LoadTimeout:        *loadTimeout,
		AdTTL:              *adTTL,
		PlacementLockTTL:   getEnvDurationOrDefault("PLACEMENT_LOCK_TTL", config.PlacementLockTTL),
		NetworkEndpoints:   networkEndpointsFromEnv(os.Environ()),
		InitializeNetworks: *initNetworks,
		RedisURL:           os.Getenv("REDIS_URL"),
		EventWebhookURL:    os.Getenv("EVENT_WEBHOOK_URL"),
		MetricsNamespace:   getEnvOrDefault("METRICS_NAMESPACE", "mediation"),
	}

	// Parse database config if DB_HOST is set
	if dbHost := os.Getenv("DB_HOST"); dbHost != "" {
		cfg.DatabaseConfig = &DatabaseConfig{
			Host:     dbHost,
			Port:     getEnvOrDefault("DB_PORT", "5432"),
			User:     getEnvOrDefault("DB_USER", "mediation"),
			Password: getEnvOrDefault("DB_PASSWORD", ""),
			Name:     getEnvOrDefault("DB_NAME", "mediation"),
			SSLMode:  getEnvOrDefault("DB_SSL_MODE", "disable"),
		}
	}

	return cfg
}

// ToMediationConfig converts ServerConfig to mediation.Config
func (c *ServerConfig) ToMediationConfig() *mediation.Config {
	cfg := mediation.DefaultConfig()
	cfg.LoadTimeout = c.LoadTimeout
	cfg.AdTTL = c.AdTTL
	cfg.PlacementLockTTL = c.PlacementLockTTL
	return cfg
}

// networkEndpointsFromEnv collects <NETWORK>_ENDPOINT variables from KEY=VALUE pairs
func networkEndpointsFromEnv(environ []string) map[string]string {
	endpoints := make(map[string]string)
	for _, kv := range environ {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || value == "" || !strings.HasSuffix(key, endpointEnvSuffix) {
			continue
		}
		network := strings.ToLower(strings.TrimSuffix(key, endpointEnvSuffix))
		if network == "" {
			continue
		}
		endpoints[network] = value
	}
	return endpoints
}

// getEnvOrDefault returns the environment variable value or a default
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBoolOrDefault returns the environment variable as bool or a default
func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value == "true" || value == "1" || value == "yes"
}

// getEnvDurationOrDefault returns the environment variable as a duration or a default
func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return defaultValue
	}
	return d
}
