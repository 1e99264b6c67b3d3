package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"salescoach-server/pkg/config"
	"salescoach-server/pkg/metrics"
	"salescoach-server/pkg/session"
)

// HealthChecker reports the health of a dependency.
type HealthChecker interface {
	Health() error
}

// ConnectionStatus reports whether a dependency is connected.
type ConnectionStatus interface {
	IsConnected() bool
}

// Server hosts the REST API, the live call WebSocket endpoint, and the
// health and metrics endpoints.
type Server struct {
	config     config.HTTPConfig
	logger     *logrus.Logger
	httpServer *http.Server
	mux        *http.ServeMux
	registry   *session.Registry
	startTime  time.Time

	authMiddleware *AuthMiddleware
	database       HealthChecker
	amqpClient     ConnectionStatus
}

// NewServer creates a new HTTP server instance
func NewServer(logger *logrus.Logger, cfg config.HTTPConfig, registry *session.Registry) *Server {
	server := &Server{
		config:    cfg,
		logger:    logger,
		registry:  registry,
		startTime: time.Now(),
	}

	mux := http.NewServeMux()
	server.mux = mux

	rootHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handler := http.Handler(mux)
		if server.authMiddleware != nil {
			handler = server.authMiddleware.Middleware(handler)
		}
		handler.ServeHTTP(w, r)
	})

	mux.HandleFunc("/health", server.HealthHandler)
	mux.HandleFunc("/health/live", server.LivenessHandler)
	mux.HandleFunc("/health/ready", server.ReadinessHandler)
	mux.HandleFunc("/status", server.statusHandler)

	if cfg.EnableMetrics {
		metrics.RegisterHandler(mux)
		logger.Info("Prometheus metrics endpoint enabled at /metrics")
	} else {
		logger.Info("Metrics endpoint disabled")
	}

	server.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      rootHandler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return server
}

// SetAuthMiddleware sets the authentication middleware for the server.
func (s *Server) SetAuthMiddleware(middleware *AuthMiddleware) {
	s.authMiddleware = middleware
}

// SetDatabase sets the database reference for readiness checks
func (s *Server) SetDatabase(db HealthChecker) {
	s.database = db
}

// SetAMQPClient sets the AMQP client reference for health reporting
func (s *Server) SetAMQPClient(client ConnectionStatus) {
	s.amqpClient = client
}

// Handle registers a handler on the server mux
func (s *Server) Handle(pattern string, handler http.HandlerFunc) {
	s.mux.HandleFunc(pattern, handler)
}

// Start starts the HTTP server in a goroutine
func (s *Server) Start() {
	s.logger.WithField("port", s.config.Port).Info("Starting HTTP server")

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.WithError(err).Error("HTTP server failed")
		}
	}()
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server...")
	return s.httpServer.Shutdown(ctx)
}

// statusHandler handles the /status endpoint
func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"status":       "ok",
		"uptime":       time.Since(s.startTime).String(),
		"active_calls": 0,
		"started_at":   s.startTime.Format(time.RFC3339),
	}

	if s.registry != nil {
		status["active_calls"] = s.registry.Count()
	}

	writeJSON(w, http.StatusOK, status)
}

// writeJSON writes a JSON response with the given status code
func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// writeError writes a standardized error response
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
