package rest

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/shiftmarket/fraud-engine/internal/infrastructure/config"
)

// Server hosts the engine's HTTP surface: the activity ingestion endpoint,
// the authenticated admin API, health, and metrics.
type Server struct {
	cfg     *config.Config
	handler *Handler
	auth    *AuthMiddleware
	logger  *zap.Logger
	httpSrv *http.Server
	limiter *rateLimiters
}

// NewServer assembles the HTTP server.
func NewServer(cfg *config.Config, handler *Handler, auth *AuthMiddleware, logger *zap.Logger) *Server {
	s := &Server{
		cfg:     cfg,
		handler: handler,
		auth:    auth,
		logger:  logger,
		limiter: newRateLimiters(
			cfg.Security.RateLimit.RequestsPerSecond,
			cfg.Security.RateLimit.BurstSize,
			time.Minute, 5*time.Minute),
	}
	s.httpSrv = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      s.routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	return s
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("POST /api/v1/activity", s.handler.ReportActivity)

	requireAdmin := s.auth.Middleware()
	admin := func(h http.HandlerFunc) http.Handler {
		return requireAdmin(h)
	}

	mux.Handle("GET /api/v1/admin/rules", admin(s.handler.ListRules))
	mux.Handle("PUT /api/v1/admin/rules", admin(s.handler.UpsertRule))
	mux.Handle("POST /api/v1/admin/rules/{code}/activate", admin(s.handler.SetRuleActive(true)))
	mux.Handle("POST /api/v1/admin/rules/{code}/deactivate", admin(s.handler.SetRuleActive(false)))

	mux.Handle("GET /api/v1/admin/signals", admin(s.handler.SignalsBySeverity))
	mux.Handle("POST /api/v1/admin/signals/{id}/resolve", admin(s.handler.ResolveSignal))

	mux.Handle("GET /api/v1/admin/users/{id}/signals", admin(s.handler.UserSignals))
	mux.Handle("GET /api/v1/admin/users/{id}/risk", admin(s.handler.UserRisk))
	mux.Handle("POST /api/v1/admin/users/{id}/risk/recalculate", admin(s.handler.RecalculateRisk))
	mux.Handle("POST /api/v1/admin/users/{id}/block", admin(s.handler.BlockUser))
	mux.Handle("POST /api/v1/admin/users/{id}/unblock", admin(s.handler.UnblockUser))

	mux.Handle("GET /api/v1/admin/devices/{hash}", admin(s.handler.GetDevice))
	mux.Handle("POST /api/v1/admin/devices/{hash}/block", admin(s.handler.BlockDevice))
	mux.Handle("POST /api/v1/admin/devices/{hash}/unblock", admin(s.handler.UnblockDevice))
	mux.Handle("POST /api/v1/admin/devices/{hash}/trust", admin(s.handler.TrustDevice))

	mux.Handle("GET /api/v1/admin/evaluation-errors", admin(s.handler.EvaluationErrors))

	return Chain(mux,
		RecoverMiddleware(s.logger),
		LoggingMiddleware(s.logger),
		RateLimitMiddleware(s.limiter, s.logger),
	)
}

// Start serves until the context is cancelled, then drains connections within
// the configured shutdown timeout.
func (s *Server) Start(ctx context.Context) error {
	defer s.limiter.close()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", zap.String("addr", s.httpSrv.Addr))
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	s.logger.Info("http server stopped")
	return nil
}
