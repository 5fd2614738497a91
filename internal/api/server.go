// Package api provides the HTTP server for TalPay.
// Every service operation is one route; the caller identity comes from
// the auth middleware.
package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/tutu-network/talpay/internal/app/payroll"
	"github.com/tutu-network/talpay/internal/infra/logger"
	"github.com/tutu-network/talpay/internal/infra/observability"
)

// Version is reported by /api/version.
const Version = "0.1.0"

// Options configures the server.
type Options struct {
	Auth           AuthConfig
	RequestTimeout time.Duration
	EnableMetrics  bool
}

// Server is the TalPay HTTP API server.
type Server struct {
	svc      *payroll.Service
	auth     AuthConfig
	timeout  time.Duration
	metrics  bool
	validate *validator.Validate
}

// NewServer creates a new API server over svc.
func NewServer(svc *payroll.Service, opts Options) *Server {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	return &Server{
		svc:      svc,
		auth:     opts.Auth,
		timeout:  opts.RequestTimeout,
		metrics:  opts.EnableMetrics,
		validate: newValidator(),
	}
}

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(s.timeout))
	r.Use(corsMiddleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		status := "ok"
		if err := s.svc.Ping(); err != nil {
			status = "degraded"
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": status})
	})

	r.Get("/api/version", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"version": Version})
	})

	if s.metrics {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.authenticate)

		r.Get("/me", s.handleWhoAmI)
		r.Get("/stats", s.handleStats)

		r.Route("/admins", func(r chi.Router) {
			r.Get("/", s.handleListAdmins)
			r.Post("/", s.handleAddAdmin)
			r.Delete("/{identity}", s.handleRemoveAdmin)
		})

		r.Route("/employees", func(r chi.Router) {
			r.Get("/", s.handleListEmployees)
			r.Post("/", s.handleAddEmployee)
			r.Get("/{id}", s.handleGetEmployee)
			r.Patch("/{id}", s.handleUpdateEmployee)
			r.Put("/{id}/status", s.handleSetEmployeeStatus)
			r.Delete("/{id}", s.handleDeleteEmployee)
			r.Get("/{id}/payments", s.handleEmployeePayments)
		})

		r.Route("/escrows", func(r chi.Router) {
			r.Get("/", s.handleListEscrows)
			r.Post("/", s.handleCreateEscrow)
			r.Get("/overdue", s.handleOverdueEscrows)
			r.Get("/{id}", s.handleGetEscrow)
			r.Post("/{id}/fund", s.handleFundEscrow)
			r.Post("/{id}/approve", s.handleApproveEscrow)
			r.Post("/{id}/release", s.handleReleaseEscrow)
			r.Post("/{id}/cancel", s.handleCancelEscrow)
			r.Get("/{id}/payments", s.handleEscrowPayments)
		})

		r.Get("/payments", s.handleListPayments)

		r.Route("/ledger", func(r chi.Router) {
			r.Get("/accounts/{identity}", s.handleBalance)
			r.Get("/accounts/{identity}/transactions", s.handleTransactions)
			r.Post("/mint", s.handleMint)
			r.Post("/burn", s.handleBurn)
			r.Post("/transfer", s.handleTransfer)
			r.Post("/convert/to-payroll", s.handleConvertToPayroll)
			r.Post("/convert/to-native", s.handleConvertToNative)
			r.Get("/rate", s.handleGetRate)
			r.Put("/rate", s.handleSetRate)
		})
	})

	return r
}

// requestLogger logs each request through zap and counts it by route.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		r = r.WithContext(observability.WithTraceID(r.Context(), middleware.GetReqID(r.Context())))
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		observability.APIRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
		logger.DebugCtx(r.Context(), "request",
			zap.String("method", r.Method),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Duration("took", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

// corsMiddleware adds CORS headers for local development.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Talpay-Identity")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
