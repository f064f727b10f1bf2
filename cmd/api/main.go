package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/shiftmarket/fraud-engine/internal/api/rest"
	"github.com/shiftmarket/fraud-engine/internal/infrastructure/cache"
	"github.com/shiftmarket/fraud-engine/internal/infrastructure/config"
	"github.com/shiftmarket/fraud-engine/internal/infrastructure/database"
	"github.com/shiftmarket/fraud-engine/internal/infrastructure/repository"
	"github.com/shiftmarket/fraud-engine/internal/infrastructure/telemetry"
	"github.com/shiftmarket/fraud-engine/internal/service/fraud"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger, err := telemetry.NewLogger(cfg.LogLevel, cfg.Environment)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := telemetry.InitTracer(ctx, telemetry.TracerConfig{
		ServiceName:    "fraud-engine",
		ServiceVersion: cfg.Version,
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		SampleRate:     cfg.Telemetry.SampleRate,
	})
	if err != nil {
		logger.Fatal("failed to initialize tracing", zap.Error(err))
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}()

	pool, err := database.NewPool(ctx, &cfg.Database, logger)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer pool.Close()

	redisClient, err := cache.NewRedisClient(&cfg.Redis, logger)
	if err != nil {
		logger.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer redisClient.Close()

	ruleRepo := repository.NewRuleRepository(pool)
	signalRepo := repository.NewSignalRepository(pool)
	scoreRepo := repository.NewRiskScoreRepository(pool)
	deviceRepo := repository.NewDeviceRepository(pool)
	userBlockRepo := repository.NewUserBlockRepository(pool)
	auditRepo := repository.NewAuditRepository(pool)
	evalErrRepo := repository.NewEvaluationErrorRepository(pool)

	velocity := cache.NewRedisVelocityCounter(redisClient, cfg.Engine.EventRetention, logger)

	rules := fraud.NewRuleStore(ruleRepo, logger, cfg.Engine.RuleCacheTTL)
	if seeded, err := rules.Seed(ctx, fraud.DefaultCatalog()); err != nil {
		logger.Fatal("failed to seed rule catalog", zap.Error(err))
	} else if seeded > 0 {
		logger.Info("seeded default rule catalog", zap.Int("rules", seeded))
	}

	evaluator := fraud.NewEvaluator(velocity, signalRepo, evalErrRepo, logger)
	recorder := fraud.NewSignalRecorder(signalRepo, logger)
	scorer := fraud.NewScorer(scoreRepo, signalRepo, cfg.RiskPolicy(), cfg.Engine.ScoreConflictRetries, logger)
	dispatcher := fraud.NewDispatcher(deviceRepo, userBlockRepo, signalRepo, fraud.NewLogNotifier(logger), logger)

	engine := fraud.NewService(
		rules, evaluator, recorder, scorer, dispatcher,
		velocity, deviceRepo, userBlockRepo, auditRepo, evalErrRepo,
		logger,
		fraud.Options{TrustedDeviceSkipsVelocity: cfg.Engine.TrustedDeviceSkipsVelocity},
	)

	auth := rest.NewAuthMiddleware(cfg.Security.JWTSecret)
	server := rest.NewServer(cfg, rest.NewHandler(engine, logger), auth, logger)

	if err := server.Start(ctx); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}
