package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/googleads/googleads-mobile-android-mediation-sub001/internal/adapters"
	_ "github.com/googleads/googleads-mobile-android-mediation-sub001/internal/adapters/facebook"
	_ "github.com/googleads/googleads-mobile-android-mediation-sub001/internal/adapters/nend"
	_ "github.com/googleads/googleads-mobile-android-mediation-sub001/internal/adapters/sample"
	_ "github.com/googleads/googleads-mobile-android-mediation-sub001/internal/adapters/vungle"
	_ "github.com/googleads/googleads-mobile-android-mediation-sub001/internal/adapters/yahoo"
	_ "github.com/googleads/googleads-mobile-android-mediation-sub001/internal/adapters/yandex"
	srvconfig "github.com/googleads/googleads-mobile-android-mediation-sub001/internal/config"
	"github.com/googleads/googleads-mobile-android-mediation-sub001/internal/endpoints"
	"github.com/googleads/googleads-mobile-android-mediation-sub001/internal/mediation"
	"github.com/googleads/googleads-mobile-android-mediation-sub001/internal/metrics"
	"github.com/googleads/googleads-mobile-android-mediation-sub001/internal/middleware"
	"github.com/googleads/googleads-mobile-android-mediation-sub001/internal/storage"
	"github.com/googleads/googleads-mobile-android-mediation-sub001/internal/store"
	"github.com/googleads/googleads-mobile-android-mediation-sub001/pkg/logger"
	"github.com/googleads/googleads-mobile-android-mediation-sub001/pkg/redis"
)

// Server represents the mediation server
type Server struct {
	config      *ServerConfig
	httpServer  *http.Server
	metrics     *metrics.Metrics
	registry    *adapters.Registry
	mediator    *mediation.Mediator
	webhook     *mediation.WebhookSink
	rateLimiter *middleware.RateLimiter
	db          *sql.DB
	adUnits     *storage.AdUnitStore
	redisClient *redis.Client
}

// NewServer creates a new mediation server instance
func NewServer(cfg *ServerConfig) (*Server, error) {
	s := &Server{
		config:   cfg,
		registry: adapters.DefaultRegistry,
	}

	if err := s.initialize(); err != nil {
		return nil, err
	}

	return s, nil
}

// initialize sets up all server components
func (s *Server) initialize() error {
	log := logger.Log

	log.Info().
		Str("port", s.config.Port).
		Dur("load_timeout", s.config.LoadTimeout).
		Dur("ad_ttl", s.config.AdTTL).
		Msg("Initializing mediation server")

	s.metrics = metrics.NewMetrics(s.config.MetricsNamespace)
	log.Info().Msg("Prometheus metrics enabled")

	if err := s.initDatabase(); err != nil {
		// Database failures are non-fatal, log and continue
		log.Warn().Err(err).Msg("Database initialization failed, ad units must be sent inline")
	}

	if err := s.initRedis(); err != nil {
		// Redis failures are non-fatal, fall back to in-memory stores
		log.Warn().Err(err).Msg("Redis initialization failed, using in-memory stores")
	}

	s.initMiddleware()
	s.applyEndpointOverrides()
	s.initMediator()

	networks := s.registry.ListEnabledNetworks()
	log.Info().
		Int("count", len(networks)).
		Strs("networks", networks).
		Msg("Mediation networks registered")

	if s.config.InitializeNetworks {
		s.initNetworks()
	}

	s.initHandlers()

	return nil
}

// initDatabase connects to PostgreSQL for ad unit configuration
func (s *Server) initDatabase() error {
	log := logger.Log

	if s.config.DatabaseConfig == nil {
		log.Info().Msg("DB_HOST not set, database-backed ad units disabled")
		return nil
	}

	dbCfg := s.config.DatabaseConfig
	dbConn, err := storage.NewDBConnection(
		dbCfg.Host,
		dbCfg.Port,
		dbCfg.User,
		dbCfg.Password,
		dbCfg.Name,
		dbCfg.SSLMode,
	)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to connect to PostgreSQL, database-backed ad units disabled")
		return err
	}

	s.db = dbConn
	s.adUnits = storage.NewAdUnitStore(dbConn)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	units, err := s.adUnits.ListActive(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to load ad units from database")
	} else {
		log.Info().
			Int("count", len(units)).
			Msg("Ad units loaded from PostgreSQL")
	}

	return nil
}

// initRedis initializes the Redis client
func (s *Server) initRedis() error {
	log := logger.Log

	if s.config.RedisURL == "" {
		log.Info().Msg("REDIS_URL not set, Redis-backed features disabled")
		return nil
	}

	var err error
	s.redisClient, err = redis.New(s.config.RedisURL)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to connect to Redis")
		s.redisClient = nil
		return err
	}

	log.Info().Msg("Redis client initialized")
	return nil
}

// initMiddleware initializes middleware that needs shutdown handling
func (s *Server) initMiddleware() {
	s.rateLimiter = middleware.NewRateLimiter(middleware.DefaultRateLimitConfig())
	s.rateLimiter.SetMetrics(s.metrics)
	logger.Log.Info().Msg("Middleware initialized")
}

// applyEndpointOverrides points networks at configured endpoints
func (s *Server) applyEndpointOverrides() {
	log := logger.Log
	for network, endpoint := range s.config.NetworkEndpoints {
		if !s.registry.SetEndpoint(network, endpoint) {
			log.Warn().Str("network", network).Msg("Endpoint override for unknown network ignored")
			continue
		}
		log.Info().Str("network", network).Str("endpoint", endpoint).Msg("Network endpoint overridden")
	}
}

// initMediator builds the mediator with Redis-backed or in-memory state
func (s *Server) initMediator() {
	log := logger.Log

	var (
		ads    store.AdStore
		locks  store.PlacementLocker
		status store.StatusStore
		sink   mediation.EventSink = mediation.NewLogSink()
	)

	if s.redisClient != nil {
		ads = store.NewRedisAdStore(s.redisClient)
		locks = store.NewRedisPlacementLocker(s.redisClient)
		status = store.NewRedisStatusStore(s.redisClient)
		sink = mediation.MultiSink{sink, mediation.NewRedisSink(s.redisClient)}
		log.Info().Msg("Ad state stored in Redis, events streamed to " + srvconfig.EventStreamKey)
	} else {
		ads = store.NewMemoryAdStore()
		locks = store.NewMemoryPlacementLocker()
		status = store.NewMemoryStatusStore()
		log.Info().Msg("Ad state stored in memory")
	}

	if s.config.EventWebhookURL != "" {
		s.webhook = mediation.NewWebhookSink(mediation.WebhookConfig{URL: s.config.EventWebhookURL})
		sink = mediation.MultiSink{sink, s.webhook}
		log.Info().Str("url", s.config.EventWebhookURL).Msg("Events delivered to webhook")
	}

	s.mediator = mediation.New(s.registry, ads, locks, s.config.ToMediationConfig())
	s.mediator.SetMetrics(s.metrics)
	s.mediator.SetEventSink(sink)
	s.mediator.SetStatusStore(status)

	if s.adUnits != nil {
		s.mediator.SetAdUnitSource(s.adUnits)
		log.Info().Msg("Ad unit store connected to mediator")
	}
}

// initNetworks initializes every network that has ad units configured
func (s *Server) initNetworks() {
	log := logger.Log

	if s.adUnits == nil {
		log.Info().Msg("No ad unit store, network initialization deferred to first load")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	results, err := s.mediator.InitializeFromAdUnits(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to read ad units for network initialization")
		return
	}
	for network, initErr := range results {
		if initErr != nil {
			log.Warn().Err(initErr).Str("network", network).Msg("Network initialization failed")
			continue
		}
		log.Info().Str("network", network).Msg("Network initialized")
	}
}

// initHandlers initializes HTTP handlers and builds the handler chain
func (s *Server) initHandlers() {
	mux := http.NewServeMux()
	mux.Handle("/v1/ads/load", endpoints.NewLoadHandler(s.mediator))
	mux.Handle("/v1/ads/{id}/show", endpoints.NewShowHandler(s.mediator))
	mux.Handle("/v1/events", endpoints.NewEventsHandler(s.mediator))
	mux.Handle("/status", endpoints.NewStatusHandler(s.mediator))
	mux.Handle("/info/networks", endpoints.NewInfoNetworksHandler(s.registry))
	mux.Handle("/health", healthHandler())
	mux.Handle("/health/ready", readyHandler(s.redisClient, s.db))
	mux.Handle("/metrics", s.metrics.Handler())

	// Admin endpoints
	mux.HandleFunc("/admin/circuit-breaker", s.circuitBreakerHandler)

	handler := s.buildHandler(mux)

	s.httpServer = &http.Server{
		Addr:         ":" + s.config.Port,
		Handler:      handler,
		ReadTimeout:  srvconfig.ServerReadTimeout,
		WriteTimeout: srvconfig.ServerWriteTimeout,
		IdleTimeout:  srvconfig.ServerIdleTimeout,
	}
}

// buildHandler builds the middleware chain
func (s *Server) buildHandler(mux *http.ServeMux) http.Handler {
	log := logger.Log

	security := middleware.NewSecurity(nil)
	auth := middleware.NewAuth(middleware.DefaultAuthConfig())
	sizeLimiter := middleware.NewSizeLimiter(middleware.DefaultSizeLimitConfig())

	auth.SetMetrics(s.metrics)
	sizeLimiter.SetMetrics(s.metrics)
	if s.redisClient != nil {
		auth.SetKeyLookup(s.redisClient)
		log.Info().Msg("Redis client set for API key lookup")
	}

	log.Info().
		Bool("security_headers_enabled", security.GetConfig().Enabled).
		Bool("auth_enabled", auth.IsEnabled()).
		Bool("rate_limiting_enabled", s.rateLimiter != nil).
		Msg("Middleware chain built")

	// Security -> Logging -> Size Limit -> Auth -> Rate Limit -> Metrics -> Handler
	handler := http.Handler(mux)
	handler = s.metrics.Middleware(handler)
	handler = s.rateLimiter.Middleware(handler)
	handler = auth.Middleware(handler)
	handler = sizeLimiter.Middleware(handler)
	handler = loggingMiddleware(handler)
	handler = security.Middleware(handler)

	return handler
}

// circuitBreakerHandler returns per-network circuit breaker stats
func (s *Server) circuitBreakerHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	response := map[string]interface{}{
		"networks": s.mediator.BreakerStats(),
	}
	if s.webhook != nil {
		response["event_webhook"] = s.webhook.Stats()
	}

	if err := json.NewEncoder(w).Encode(response); err != nil {
		logger.Log.Error().Err(err).Msg("failed to encode circuit breaker stats")
	}
}

// Start starts the HTTP server
func (s *Server) Start() error {
	log := logger.Log
	log.Info().Str("addr", s.httpServer.Addr).Msg("Server listening")

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown performs graceful shutdown
func (s *Server) Shutdown(ctx context.Context) error {
	log := logger.Log
	log.Info().Msg("Starting graceful shutdown")

	// Stop rate limiter cleanup goroutine
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}

	// Stop accepting requests before tearing down state
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return err
	}

	if s.mediator != nil {
		s.mediator.Close()
	}

	if s.webhook != nil {
		if err := s.webhook.Close(); err != nil {
			log.Warn().Err(err).Msg("Error flushing event webhook")
		} else {
			log.Info().Msg("Event webhook flushed")
		}
	}

	if s.redisClient != nil {
		if err := s.redisClient.Close(); err != nil {
			log.Warn().Err(err).Msg("Error closing Redis client")
		}
	}

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			log.Warn().Err(err).Msg("Error closing database")
		}
	}

	log.Info().Msg("Server stopped gracefully")
	return nil
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// loggingMiddleware logs HTTP requests with structured logging
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
			r.Header.Set("X-Request-ID", requestID)
		}

		w.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(wrapped, r.WithContext(logger.WithRequestID(r.Context(), requestID)))

		duration := time.Since(start)

		event := logger.Log.Info()
		if wrapped.statusCode >= 400 {
			event = logger.Log.Warn()
		}
		if wrapped.statusCode >= 500 {
			event = logger.Log.Error()
		}

		event.
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", wrapped.statusCode).
			Dur("duration_ms", duration).
			Str("remote_addr", r.RemoteAddr).
			Str("app_id", r.Header.Get(middleware.AppIDHeader)).
			Msg("HTTP request")
	})
}

// healthHandler returns a simple liveness check
func healthHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		health := map[string]interface{}{
			"status":    "healthy",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"version":   "1.0.0",
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(health); err != nil {
			logger.Log.Error().Err(err).Msg("failed to encode health response")
		}
	})
}

// readyHandler returns a readiness check with dependency verification
func readyHandler(redisClient *redis.Client, db *sql.DB) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		checks := make(map[string]interface{})
		allHealthy := true

		if redisClient != nil {
			if err := redisClient.Ping(ctx); err != nil {
				checks["redis"] = map[string]interface{}{
					"status": "unhealthy",
					"error":  err.Error(),
				}
				allHealthy = false
			} else {
				checks["redis"] = map[string]interface{}{"status": "healthy"}
			}
		} else {
			checks["redis"] = map[string]interface{}{"status": "disabled"}
		}

		if db != nil {
			if err := db.PingContext(ctx); err != nil {
				checks["database"] = map[string]interface{}{
					"status": "unhealthy",
					"error":  err.Error(),
				}
				allHealthy = false
			} else {
				checks["database"] = map[string]interface{}{"status": "healthy"}
			}
		} else {
			checks["database"] = map[string]interface{}{"status": "disabled"}
		}

		status := http.StatusOK
		if !allHealthy {
			status = http.StatusServiceUnavailable
		}

		response := map[string]interface{}{
			"ready":     allHealthy,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"checks":    checks,
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if err := json.NewEncoder(w).Encode(response); err != nil {
			logger.Log.Error().Err(err).Msg("failed to encode ready response")
		}
	})
}

// generateRequestID returns a fresh request ID
func generateRequestID() string {
	return uuid.NewString()
}
