package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/example/komodo-checkout/internal/api"
	"github.com/example/komodo-checkout/internal/api/middleware"
	"github.com/example/komodo-checkout/internal/auth"
	"github.com/example/komodo-checkout/internal/checkout"
	"github.com/example/komodo-checkout/internal/command"
	"github.com/example/komodo-checkout/internal/config"
	"github.com/example/komodo-checkout/internal/infrastructure/kafka"
	"github.com/example/komodo-checkout/internal/infrastructure/store"
	"github.com/example/komodo-checkout/internal/komodo"
	"github.com/example/komodo-checkout/internal/logging"
	"github.com/example/komodo-checkout/internal/metrics"
	"github.com/example/komodo-checkout/internal/projection"
	"github.com/example/komodo-checkout/internal/query"
	"github.com/example/komodo-checkout/internal/session"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err == nil {
		err = cfg.ValidateAPI()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "[API] %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.LogEnv, "checkout-api")
	if err != nil {
		fmt.Fprintf(os.Stderr, "[API] failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("api stopped", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger.Info("starting",
		zap.String("addr", cfg.HTTPAddr),
		zap.String("komodo_api", cfg.KomodoAPIURL),
		zap.String("journal_backend", cfg.JournalBackend),
		zap.Strings("kafka_brokers", cfg.KafkaBrokers),
		zap.String("kafka_topic", cfg.KafkaTopic),
		zap.String("wallet_policy", cfg.WalletPolicy.String()),
	)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	serverMetrics := metrics.NewServerMetrics(reg)
	checkoutMetrics := metrics.NewCheckoutMetrics(reg)

	// Read side
	var (
		db        *sql.DB
		readStore store.ReadStoreInterface
	)
	if cfg.JournalBackend == config.BackendPostgres {
		var err error
		db, err = store.ConnectPostgres(cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to connect to PostgreSQL: %w", err)
		}
		defer db.Close()
		if err := store.EnsureSchema(ctx, db); err != nil {
			return err
		}
		readStore = store.NewPostgresReadStore(db)
		logger.Info("connected to PostgreSQL")
	} else {
		readStore = store.NewReadStore()
	}
	projector := projection.NewProjector(readStore, logger)

	// Without a broker, events are projected in-process
	var publisher store.Publisher = projector
	if cfg.KafkaEnabled() {
		producer := kafka.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer producer.Close()
		publisher = producer
	}

	eventStore, err := newEventStore(ctx, cfg, db, publisher, logger)
	if err != nil {
		return err
	}

	// An in-memory read side is rebuilt from the event store on every start
	if cfg.JournalBackend != config.BackendPostgres {
		events := eventStore.GetAllEvents()
		projected := projector.Replay(ctx, events)
		logger.Info("event replay completed", zap.Int("events", len(events)), zap.Int("projected", projected))
	}

	var wg sync.WaitGroup
	if cfg.KafkaEnabled() && cfg.JournalBackend != config.BackendPostgres {
		consumer := kafka.NewConsumer(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.KafkaConsumerGroup+"-api", logger)
		defer consumer.Close()

		wg.Add(1)
		go func() {
			defer wg.Done()
			logger.Info("starting Kafka consumer (async projection)")
			if err := consumer.Consume(ctx, projector.HandleEvent); err != nil && ctx.Err() == nil {
				logger.Error("projector error", zap.Error(err))
			}
		}()
	}

	client := komodo.NewClient(cfg.KomodoAPIURL, cfg.HTTPTimeout, logger)
	jwtService := auth.NewJWTService(cfg.JWTSecret, cfg.AccessExpiry, cfg.RefreshExpiry)
	roles := middleware.NewRoleResolver(client, cfg.RoleCacheTTL, logger)

	checkoutSvc := checkout.NewService(client, eventStore, checkout.Config{RedirectDelay: cfg.RedirectDelay}, logger, checkoutMetrics)
	sessions := session.NewRegistry(checkoutSvc, client, session.Config{
		WalletRoles:    cfg.WalletRoles,
		UnknownBalance: cfg.WalletPolicy,
		IdleTimeout:    cfg.SessionIdle,
	}, logger, checkoutMetrics)

	wg.Add(1)
	go func() {
		defer wg.Done()
		sweepSessions(ctx, sessions, cfg.SweepInterval)
	}()

	router := api.NewRouter(api.RouterConfig{
		Handlers:      api.NewHandlers(command.NewHandler(sessions, client, logger), query.NewHandler(readStore), sessions, logger),
		AuthHandlers:  api.NewAuthHandlers(client, jwtService, roles, sessions, logger),
		StandHandlers: api.NewStandHandlers(client, logger),
		JWTService:    jwtService,
		Roles:         roles,
		Metrics:       serverMetrics,
		Gatherer:      reg,
		Logger:        logger,
	})

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server started", zap.String("addr", cfg.HTTPAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
	case err := <-serverErr:
		cancel()
		wg.Wait()
		return fmt.Errorf("server error: %w", err)
	}

	logger.Info("shutting down")
	cancel() // Cancel context to stop consumer and sweeper

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownPeriod)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown", zap.Error(err))
	}

	wg.Wait()
	return nil
}

func newEventStore(ctx context.Context, cfg config.Config, db *sql.DB, publisher store.Publisher, logger *zap.Logger) (store.EventStoreInterface, error) {
	switch cfg.JournalBackend {
	case config.BackendPostgres:
		return store.NewPostgresEventStore(db, publisher, logger), nil
	case config.BackendDynamoDB:
		client, err := store.ConnectDynamo(ctx, cfg.AWSRegion, cfg.DynamoEndpoint)
		if err != nil {
			return nil, err
		}
		return store.NewDynamoEventStore(client, cfg.JournalTable, publisher, logger), nil
	}
	return store.NewEventStore(publisher), nil
}

func sweepSessions(ctx context.Context, sessions *session.Registry, every time.Duration) {
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sessions.Sweep()
		}
	}
}
