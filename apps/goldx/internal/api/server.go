package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"goldexchange/apps/goldx/internal/config"
)

// RequestMetrics records one observation per served request.
type RequestMetrics interface {
	ObserveRequest(route, method string, status int, elapsed time.Duration)
}

type Options struct {
	Port int
	// AdminToken guards the admin routes; they are not served when empty.
	AdminToken string
	// WriteTimeout must outlast a confirm; defaultWriteTimeout when zero.
	WriteTimeout   time.Duration
	RateLimit      config.RateLimitConfig
	Metrics        RequestMetrics
	MetricsHandler http.Handler
}

const defaultWriteTimeout = 160 * time.Second

// Server represents the API server
type Server struct {
	responder
	exchangeHandler *ExchangeHandler
	balanceHandler  *BalanceHandler
	adminHandler    *AdminHandler
	opts            Options
	limiter         *rateLimiter
	server          *http.Server
}

// NewServer creates a new API server
func NewServer(opts Options, exchangeHandler *ExchangeHandler, balanceHandler *BalanceHandler, adminHandler *AdminHandler, logger *zap.Logger) *Server {
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	s := &Server{
		responder:       responder{logger: logger},
		exchangeHandler: exchangeHandler,
		balanceHandler:  balanceHandler,
		adminHandler:    adminHandler,
		opts:            opts,
		limiter:         newRateLimiter(opts.RateLimit),
		server: &http.Server{
			Addr:         fmt.Sprintf(":%d", opts.Port),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: opts.WriteTimeout, // confirm waits for both legs to land
			IdleTimeout:  60 * time.Second,
		},
	}
	s.server.Handler = s.setupRoutes()
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start starts the API server
func (s *Server) Start() error {
	s.logger.Info("Starting API server", zap.String("address", s.server.Addr))

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start API server: %w", err)
	}

	return nil
}

// Stop stops the API server gracefully
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping API server")
	return s.server.Shutdown(ctx)
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() *mux.Router {
	router := mux.NewRouter()

	router.Use(s.loggingMiddleware)
	router.Use(s.corsMiddleware)
	router.Use(s.metricsMiddleware)

	router.HandleFunc("/api/health", s.healthCheck).Methods("GET")
	if s.opts.MetricsHandler != nil {
		router.Handle("/metrics", s.opts.MetricsHandler).Methods("GET")
	}

	gold := router.PathPrefix("/api/v1/gold").Subrouter()

	// Read-only endpoints
	gold.HandleFunc("/price", s.balanceHandler.GetPrice).Methods("GET")
	gold.HandleFunc("/balance/{wallet}", s.balanceHandler.GetBalance).Methods("GET")
	gold.HandleFunc("/transactions/{id:[0-9]+}", s.exchangeHandler.GetTransaction).Methods("GET")

	// Exchange endpoints, rate limited per client
	exchange := gold.NewRoute().Subrouter()
	exchange.Use(s.rateLimitMiddleware)
	exchange.HandleFunc("/quote", s.exchangeHandler.CreateQuote).Methods("POST", "OPTIONS")
	exchange.HandleFunc("/initiate", s.exchangeHandler.Initiate).Methods("POST", "OPTIONS")
	exchange.HandleFunc("/{action:buy|sell}/initiate", s.exchangeHandler.Initiate).Methods("POST", "OPTIONS")
	exchange.HandleFunc("/confirm", s.exchangeHandler.Confirm).Methods("POST", "OPTIONS")
	exchange.HandleFunc("/{action:buy|sell}/confirm", s.exchangeHandler.Confirm).Methods("POST", "OPTIONS")

	// Operator endpoints
	if s.opts.AdminToken != "" && s.adminHandler != nil {
		admin := gold.PathPrefix("/admin").Subrouter()
		admin.Use(s.adminHandler.requireAdmin(s.opts.AdminToken))
		admin.HandleFunc("/dashboard", s.adminHandler.Dashboard).Methods("GET")
		admin.HandleFunc("/reconciliation", s.adminHandler.ReconciliationCases).Methods("GET")
	}

	return router
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		next.ServeHTTP(w, r)

		s.logger.Info("HTTP request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("remote_addr", r.RemoteAddr),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

// corsMiddleware handles CORS headers
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// metricsMiddleware records request counts and latency per route template.
func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.opts.Metrics == nil {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		route := "unmatched"
		if current := mux.CurrentRoute(r); current != nil {
			if tpl, err := current.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		s.opts.Metrics.ObserveRequest(route, r.Method, recorder.status, time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// healthCheck handles the health check endpoint
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	response := map[string]string{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	if err := json.NewEncoder(w).Encode(response); err != nil {
		s.logger.Error("Failed to encode health check response", zap.Error(err))
	}
}
