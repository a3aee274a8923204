package rest

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/shieldcustody/withdrawal-backend/internal/infrastructure/config"
	"github.com/shieldcustody/withdrawal-backend/internal/metrics"
	"github.com/shieldcustody/withdrawal-backend/internal/service/ratelimit"
	"github.com/shieldcustody/withdrawal-backend/internal/service/withdrawal"
)

// Server is the thin HTTP binding over the withdrawal core. All
// business decisions live below it; handlers translate to and from
// JSON only.
type Server struct {
	httpServer *http.Server
	service    *withdrawal.Service
	limiter    *ratelimit.Limiter
	metrics    *metrics.Metrics
	logger     *zap.Logger
}

// NewServer wires routes and middleware
func NewServer(cfg config.ServerConfig, service *withdrawal.Service, limiter *ratelimit.Limiter, m *metrics.Metrics, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		service: service,
		limiter: limiter,
		metrics: m,
		logger:  logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", m.Handler())
	mux.HandleFunc("POST /api/v1/withdrawals", s.handleProcessWithdrawal)
	mux.HandleFunc("GET /api/v1/withdrawals/{txid}/status", s.handleWithdrawalStatus)
	mux.HandleFunc("GET /api/v1/users/{userID}/limits", s.handleUserLimits)
	mux.HandleFunc("GET /api/v1/users/{userID}/velocity", s.handleVelocityProbe)
	mux.HandleFunc("GET /api/v1/compliance/report", s.handleComplianceReport)
	mux.HandleFunc("POST /api/v1/compliance/viewing-keys/export", s.handleExportViewingKeys)
	mux.HandleFunc("GET /api/v1/audit/integrity", s.handleAuditIntegrity)

	throttle := newClientThrottle(cfg.ThrottlePerSecond, cfg.ThrottleBurst)
	var handler http.Handler = mux
	handler = throttleMiddleware(throttle)(handler)
	handler = loggingMiddleware(logger, m)(handler)
	handler = recoveryMiddleware(logger)(handler)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// Start serves until the listener fails or Shutdown is called
func (s *Server) Start() error {
	s.logger.Info("http server listening", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

