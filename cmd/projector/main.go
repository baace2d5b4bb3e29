package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/example/komodo-checkout/internal/config"
	"github.com/example/komodo-checkout/internal/infrastructure/kafka"
	"github.com/example/komodo-checkout/internal/infrastructure/store"
	"github.com/example/komodo-checkout/internal/logging"
	"github.com/example/komodo-checkout/internal/projection"
	"go.uber.org/zap"
)

// The projector folds checkout events from Kafka into the Postgres
// checkout_attempts table read by the API's history endpoints.
func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "[Projector] %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.LogEnv, "checkout-projector")
	if err != nil {
		fmt.Fprintf(os.Stderr, "[Projector] failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if !cfg.KafkaEnabled() {
		logger.Fatal("KAFKA_BROKERS is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger.Info("starting",
		zap.Strings("kafka_brokers", cfg.KafkaBrokers),
		zap.String("kafka_topic", cfg.KafkaTopic),
		zap.String("consumer_group", cfg.KafkaConsumerGroup),
	)

	// Initialize PostgreSQL connection
	db, err := store.ConnectPostgres(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("failed to connect to PostgreSQL", zap.Error(err))
	}
	defer db.Close()
	if err := store.EnsureSchema(ctx, db); err != nil {
		logger.Fatal("failed to prepare schema", zap.Error(err))
	}
	logger.Info("connected to PostgreSQL (read DB)")

	readStore := store.NewPostgresReadStore(db)
	projector := projection.NewProjector(readStore, logger)

	consumer := kafka.NewConsumer(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.KafkaConsumerGroup, logger)
	defer consumer.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		logger.Info("starting event consumer")
		if err := consumer.Consume(ctx, projector.HandleEvent); err != nil && ctx.Err() == nil {
			logger.Error("consumer error", zap.Error(err))
		}
	}()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
	case <-done:
	}

	logger.Info("shutting down")
	cancel()
	<-done
}
