package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"yakkl-background/internal/config"
	"yakkl-background/internal/domain"
	"yakkl-background/internal/messaging"
	"yakkl-background/internal/observability"
	"yakkl-background/internal/repository/postgres"
)

func main() {
	cfg := config.Load()
	observability.InitLogger(cfg.LogLevel, cfg.LogFormat)

	slog.Info("starting activity auditor")

	if cfg.RabbitMQURL == "" {
		slog.Error("RABBITMQ_URL must be set for the activity auditor")
		os.Exit(1)
	}

	db, err := config.NewPostgresConnection(cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to connect to database", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer db.Close()

	if err := postgres.RunMigrations(cfg.DatabaseURL); err != nil {
		slog.Error("failed to run migrations", slog.String("error", err.Error()))
		os.Exit(1)
	}
	slog.Info("connected to postgresql")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rmqCtx, rmqCancel := context.WithTimeout(ctx, 60*time.Second)
	rmq, err := messaging.NewRabbitMQWithRetry(rmqCtx, cfg.RabbitMQURL)
	rmqCancel()
	if err != nil {
		slog.Error("failed to connect to rabbitmq", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer rmq.Close()

	slog.Info("connected to rabbitmq")

	activity := postgres.NewActivityRepository(db)

	consumer := messaging.NewAuditConsumer(rmq, func(ctx context.Context, event *domain.ActivityEvent) error {
		if err := activity.Record(ctx, event); err != nil {
			return err
		}
		slog.Debug("activity recorded",
			slog.String("id", event.ID),
			slog.String("method", event.Method),
			slog.String("domain", event.Domain),
			slog.String("outcome", event.Outcome))
		return nil
	})
	if err := consumer.Start(ctx); err != nil {
		slog.Error("failed to start audit consumer", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("activity auditor is ready")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	slog.Info("shutting down activity auditor")
	cancel()
	time.Sleep(1 * time.Second)
	slog.Info("activity auditor stopped")
}
