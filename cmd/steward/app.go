package main

import (
	"context"
	"database/sql"
	"fmt"

	"steward/internal/bundles"
	"steward/internal/events"
	"steward/internal/notify"
	"steward/internal/payments"
	"steward/internal/replenish"
	stripeclient "steward/internal/stripe"
	"steward/pkg/billing"
	"steward/pkg/config"
	"steward/pkg/database"
	"steward/pkg/email"
	"steward/pkg/kafka"
	"steward/pkg/logging"
	"steward/pkg/monitoring"
)

const defaultEventsTopic = "billing.replenish"

// app holds the wired dependencies shared by serve and run.
type app struct {
	db       *sql.DB
	stripe   *stripeclient.Client
	producer *kafka.Producer
	job      *replenish.Job
	logger   logging.Logger
}

func connect(ctx context.Context, logger logging.Logger) (*sql.DB, error) {
	dbConfig := database.DefaultConfig()
	dbConfig.URL = config.RequireEnv("DATABASE_URL")
	dbConfig.MaxOpenConns = config.GetEnvInt("DB_MAX_OPEN_CONNS", dbConfig.MaxOpenConns)
	return database.Connect(ctx, dbConfig, logger)
}

func loadCatalog(logger logging.Logger) (*bundles.Catalog, error) {
	currency := billing.DefaultCurrency()
	path := config.GetEnv("BUNDLES_FILE", "")
	if path == "" {
		return bundles.Default(currency), nil
	}
	catalog, err := bundles.LoadFile(path, currency)
	if err != nil {
		return nil, err
	}
	logger.WithField("path", path).Info("Loaded bundle catalog")
	return catalog, nil
}

// newApp connects every collaborator of the job. mc may be nil, in which
// case no job metrics are registered.
func newApp(ctx context.Context, logger logging.Logger, mc *monitoring.MetricsCollector) (*app, error) {
	catalog, err := loadCatalog(logger)
	if err != nil {
		return nil, fmt.Errorf("failed to load bundles: %w", err)
	}

	db, err := connect(ctx, logger)
	if err != nil {
		return nil, err
	}

	a := &app{db: db, logger: logger}
	a.stripe = stripeclient.NewClient(stripeclient.Config{
		SecretKey:     config.RequireEnv("STRIPE_SECRET_KEY"),
		WebhookSecret: config.GetEnv("STRIPE_WEBHOOK_SECRET", ""),
		Logger:        logger,
	})
	charger := payments.NewDirectCharger(db, a.stripe, logger)

	opts := replenish.Options{
		DB:         db,
		Catalog:    catalog,
		Charger:    charger,
		Logger:     logger,
		Cooldown:   config.GetEnvDuration("REPLENISH_COOLDOWN", replenish.DefaultCooldown),
		StaleAfter: config.GetEnvDuration("REPLENISH_STALE_AFTER", replenish.DefaultStaleAfter),
	}
	if mc != nil {
		opts.Metrics = replenish.NewMetrics(mc)
	}

	if brokers := config.GetEnvList("KAFKA_BROKERS"); len(brokers) > 0 {
		producer, err := kafka.NewProducer(brokers, config.GetEnv("KAFKA_CLUSTER_ID", "local"), serviceName, logger)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to create kafka producer: %w", err)
		}
		a.producer = producer
		opts.Publisher = events.NewKafkaPublisher(producer, config.GetEnv("REPLENISH_EVENTS_TOPIC", defaultEventsTopic))
	} else {
		logger.Info("KAFKA_BROKERS not set, replenish events are not published")
	}

	sender := email.NewSender(email.Config{
		Host:     config.GetEnv("SMTP_HOST", ""),
		Port:     config.GetEnv("SMTP_PORT", "587"),
		User:     config.GetEnv("SMTP_USER", ""),
		Password: config.GetEnv("SMTP_PASSWORD", ""),
		From:     config.GetEnv("FROM_EMAIL", ""),
		FromName: config.GetEnv("FROM_NAME", "Billing"),
	})
	if sender.IsConfigured() {
		opts.Notifier = notify.NewEmailNotifier(sender, charger, config.GetEnv("BASE_URL", ""), logger)
	} else {
		logger.Info("SMTP not configured, charge notifications are disabled")
	}

	a.job = replenish.NewJob(opts)
	return a, nil
}

func (a *app) Close() {
	if a.producer != nil {
		a.producer.Close()
	}
	if err := a.db.Close(); err != nil {
		a.logger.WithError(err).Warn("Failed to close database")
	}
}
