package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"steward/internal/handlers"
	"steward/internal/replenish"
	"steward/pkg/config"
	"steward/pkg/logging"
	"steward/pkg/monitoring"
	"steward/pkg/server"
	"steward/pkg/version"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the cron trigger, Stripe webhook and reconciliation API",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := logging.NewLoggerWithService(serviceName)
			config.LoadEnv(logger)
			logger.WithField("version", version.String()).Info("Starting steward")
			return serve(cmd.Context(), logger)
		},
	}
}

func serve(ctx context.Context, logger logging.Logger) error {
	cronSecret := config.GetEnv("CRON_SECRET", "")
	serviceToken := config.GetEnv("SERVICE_TOKEN", "")

	healthChecker := monitoring.NewHealthChecker(serviceName, version.Version)
	metricsCollector := monitoring.NewMetricsCollector(serviceName, version.Version, version.GitCommit)

	a, err := newApp(ctx, logger, metricsCollector)
	if err != nil {
		return err
	}
	defer a.Close()

	healthChecker.AddCheck("database", monitoring.DatabaseHealthCheck(a.db))
	healthChecker.AddCheck("config", monitoring.ConfigurationHealthCheck(map[string]string{
		"DATABASE_URL":      config.GetEnv("DATABASE_URL", ""),
		"STRIPE_SECRET_KEY": config.GetEnv("STRIPE_SECRET_KEY", ""),
		"CRON_SECRET":       cronSecret,
	}))
	healthChecker.AddCheck("stripe", monitoring.BreakerHealthCheck("stripe", a.stripe.BreakerState))
	if a.producer != nil {
		healthChecker.AddCheck("kafka", monitoring.PingHealthCheck("kafka", a.producer.Ping))
	}

	if interval := config.GetEnvDuration("REPLENISH_INTERVAL", 0); interval > 0 {
		scheduler := replenish.NewScheduler(a.job, interval, logger)
		scheduler.Start(ctx)
		defer scheduler.Stop()
	}

	var verifier handlers.WebhookVerifier
	if config.GetEnv("STRIPE_WEBHOOK_SECRET", "") != "" {
		verifier = a.stripe
	} else {
		logger.Warn("STRIPE_WEBHOOK_SECRET not set, Stripe webhook route disabled")
	}

	router := server.SetupServiceRouter(logger, serviceName, healthChecker, metricsCollector)
	handlers.New(a.job, verifier, a.db, logger).Register(router, handlers.Config{
		CronSecret:   cronSecret,
		ServiceToken: serviceToken,
	})

	if err := server.Start(ctx, server.DefaultConfig(serviceName, "8080"), router, logger); err != nil {
		return fmt.Errorf("server exited: %w", err)
	}
	return nil
}
