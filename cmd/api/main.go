package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/shieldcustody/withdrawal-backend/internal/api/rest"
	"github.com/shieldcustody/withdrawal-backend/internal/domain/audit"
	"github.com/shieldcustody/withdrawal-backend/internal/domain/values"
	"github.com/shieldcustody/withdrawal-backend/internal/infrastructure/cache"
	"github.com/shieldcustody/withdrawal-backend/internal/infrastructure/config"
	"github.com/shieldcustody/withdrawal-backend/internal/infrastructure/telemetry"
	"github.com/shieldcustody/withdrawal-backend/internal/metrics"
	auditsvc "github.com/shieldcustody/withdrawal-backend/internal/service/audit"
	"github.com/shieldcustody/withdrawal-backend/internal/service/compliance"
	"github.com/shieldcustody/withdrawal-backend/internal/service/ratelimit"
	"github.com/shieldcustody/withdrawal-backend/internal/service/withdrawal"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := telemetry.SetupLogger(cfg.LogLevel, cfg.Environment)
	if err != nil {
		log.Fatalf("Failed to set up logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	m := metrics.New()

	// Stores default to in-process memory; redis backs them when a URL
	// is configured so multiple instances can share counters.
	rateLimitStore := ratelimit.NewMemoryStore()
	var idempotencyStore withdrawal.IdempotencyStore
	if cfg.Redis.URL != "" {
		client, err := cache.NewRedisClient(&cfg.Redis, logger)
		if err != nil {
			return err
		}
		defer func() { _ = client.Close() }()
		rateLimitStore = cache.NewRedisRateLimitStore(client, logger)
		idempotencyStore = cache.NewRedisIdempotencyStore(client, logger)
	}

	minSeverity, err := audit.ParseSeverity(cfg.Audit.MinSeverity)
	if err != nil {
		return err
	}
	ledger := auditsvc.NewLedger(auditsvc.Config{
		MinSeverity: minSeverity,
		MaxEvents:   cfg.Audit.MaxEvents,
	}, logger)

	limiter := ratelimit.NewLimiter(ratelimit.Config{
		MaxPerHour:             cfg.RateLimit.MaxPerHour,
		MaxPerDay:              cfg.RateLimit.MaxPerDay,
		MaxAmountPerWithdrawal: values.MustNewAmount(cfg.RateLimit.MaxZatoshisPerWithdrawal),
		MaxAmountPerDay:        values.MustNewAmount(cfg.RateLimit.MaxZatoshisPerDay),
		Cooldown:               cfg.RateLimit.Cooldown,
		HourlyWindow:           ratelimit.WindowMode(cfg.RateLimit.HourlyWindow),
	}, rateLimitStore, logger)

	comp := compliance.NewService(compliance.Config{
		Thresholds: compliance.Thresholds{
			MaxTxPerHour:     cfg.Velocity.MaxTxPerHour,
			MaxTxPerDay:      cfg.Velocity.MaxTxPerDay,
			MaxAmountPerHour: values.MustNewAmount(cfg.Velocity.MaxZatoshisPerHour),
			MaxAmountPerDay:  values.MustNewAmount(cfg.Velocity.MaxZatoshisPerDay),
		},
		KeyValidity: cfg.Velocity.ViewingKeyValidity,
	}, ledger, logger)

	submitter := withdrawal.NewPollingSubmitter(nodeSubmitter{}, cfg.Withdrawal.PollInterval)

	orch, err := withdrawal.NewOrchestrator(withdrawal.Config{
		SubmitTimeout: cfg.Withdrawal.SubmitTimeout,
		ResultTTL:     cfg.Withdrawal.ResultTTL,
	}, withdrawal.NewZcashAddressValidator(), submitter, limiter, comp, ledger,
		idempotencyStore, logger, withdrawal.WithMetrics(m))
	if err != nil {
		return err
	}

	service := withdrawal.NewService(orch, limiter, comp, ledger, submitter, logger)
	server := rest.NewServer(cfg.Server, service, limiter, m, logger)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return server.Shutdown(ctx)
}
