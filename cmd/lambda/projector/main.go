package main

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/example/komodo-checkout/internal/config"
	"github.com/example/komodo-checkout/internal/infrastructure/kinesis"
	"github.com/example/komodo-checkout/internal/infrastructure/store"
	"github.com/example/komodo-checkout/internal/logging"
	"github.com/example/komodo-checkout/internal/projection"
	"go.uber.org/zap"
)

// The Lambda projector folds checkout events written to the DynamoDB
// journal into the Postgres checkout_attempts table. The table's changes
// reach it through a Kinesis data stream.
func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "[Lambda Projector] %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.LogEnv, "checkout-lambda-projector")
	if err != nil {
		fmt.Fprintf(os.Stderr, "[Lambda Projector] failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	db, err := store.ConnectPostgres(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("failed to connect to PostgreSQL", zap.Error(err))
	}
	if err := store.EnsureSchema(context.Background(), db); err != nil {
		logger.Fatal("failed to prepare schema", zap.Error(err))
	}

	projector := projection.NewProjector(store.NewPostgresReadStore(db), logger)
	logger.Info("initialized")

	lambda.Start(func(ctx context.Context, batch events.KinesisEvent) (events.KinesisEventResponse, error) {
		return kinesis.Project(ctx, batch, projector.HandleEvent, logger), nil
	})
}
