package rest

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/arjunrao/atlasfuse/pkg/api/rest/middleware"
	"github.com/arjunrao/atlasfuse/pkg/fusion"
	"github.com/arjunrao/atlasfuse/pkg/observability"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config holds the REST server configuration. There is no GRPCAddress
// field: the control plane calls fusion.Driver in-process rather than
// proxying to a separate backend (see SPEC_FULL.md §12).
type Config struct {
	Host            string
	Port            int
	FusionDefaults  fusion.Config
	JobHistory      int // ring-buffer capacity for completed jobs
	CORSEnabled     bool
	CORSOrigins     []string
	Auth            middleware.AuthConfig
	RateLimit       middleware.RateLimitConfig
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
}

// Server represents the REST API server
type Server struct {
	config     Config
	handler    *Handler
	httpServer *http.Server
	mux        *http.ServeMux
}

// NewServer creates a new REST API server backed by an in-process fusion
// engine and metrics registry.
func NewServer(config Config, metrics *observability.Metrics) (*Server, error) {
	if config.JobHistory <= 0 {
		config.JobHistory = 64
	}

	store := NewJobStore(config.JobHistory)
	handler := NewHandler(config.FusionDefaults, store, metrics)

	server := &Server{
		config:  config,
		handler: handler,
		mux:     http.NewServeMux(),
	}

	server.setupRoutes()

	server.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", config.Host, config.Port),
		Handler:      server.withMiddleware(server.mux),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return server, nil
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/v1/health", s.handler.HealthCheck)
	s.mux.HandleFunc("/v1/stats", s.handler.GetStats)

	s.mux.HandleFunc("/v1/jobs", s.routeJobs)
	s.mux.HandleFunc("/v1/jobs/", s.handler.GetJob)

	s.mux.Handle("/v1/metrics", promhttp.Handler())
}

// routeJobs handles /v1/jobs (job submission only; individual job lookup
// lives under /v1/jobs/{id})
func (s *Server) routeJobs(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPost {
		s.handler.SubmitJob(w, r)
	} else {
		writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// withMiddleware wraps the handler with all middleware
func (s *Server) withMiddleware(handler http.Handler) http.Handler {
	// Each wrap encloses the previous one, so the last middleware applied
	// is the outermost and runs first on a request.

	// 1. Logging middleware (innermost, runs last)
	handler = loggingMiddleware(handler)

	// 2. CORS middleware
	if s.config.CORSEnabled {
		handler = corsMiddleware(s.config.CORSOrigins)(handler)
	}

	// 3. Rate limiting — fusion jobs are CPU-heavy, so the default rate
	// is far lower than a typical query endpoint's.
	rateLimiter := middleware.NewRateLimiter(s.config.RateLimit)
	handler = middleware.RateLimitMiddleware(rateLimiter)(handler)

	// 4. Authentication (outermost, runs first)
	handler = middleware.AuthMiddleware(s.config.Auth)(handler)

	return handler
}

// Start starts the REST API server
func (s *Server) Start() error {
	observability.Infof("Starting REST control plane on %s:%d", s.config.Host, s.config.Port)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return nil
}

// Stop gracefully stops the server
func (s *Server) Stop(ctx context.Context) error {
	observability.Info("Shutting down REST control plane...")
	return s.httpServer.Shutdown(ctx)
}

// loggingMiddleware logs all HTTP requests
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)
		observability.GetGlobalLogger().Info("request", map[string]interface{}{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   wrapped.statusCode,
			"duration": duration,
		})
	})
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

// corsMiddleware adds CORS headers
func corsMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			allowed := false
			if len(allowedOrigins) == 0 || (len(allowedOrigins) == 1 && allowedOrigins[0] == "*") {
				allowed = true
				origin = "*"
			} else {
				for _, allowedOrigin := range allowedOrigins {
					if allowedOrigin == origin {
						allowed = true
						break
					}
				}
			}

			if allowed {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
				w.Header().Set("Access-Control-Max-Age", "3600")
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
