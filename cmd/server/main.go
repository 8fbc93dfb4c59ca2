/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the POS sale engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse flags (each defaults to an environment variable)
  2. Build the zap logger
  3. Install OpenTelemetry tracing and log export (no-op without an endpoint)
  4. Open and migrate the SQLite store
  5. Build the sale Coordinator, API handler and router
  6. Start the outbox publisher if Kafka brokers are configured
  7. Serve HTTP until SIGINT/SIGTERM

COMMAND-LINE FLAGS:
  -port             HTTP server port (PORT, default 8080)
  -db               SQLite database path (DATABASE_PATH, default pos.db)
  -tax-rate         Tax rate as a fraction (TAX_RATE, default 0.1)
  -kafka-brokers    Kafka brokers (KAFKA_BROKERS, default none)
  -kafka-topic      Sale event topic (KAFKA_TOPIC)
  -outbox-interval  Outbox polling interval (OUTBOX_INTERVAL, default 1s)
  -otlp-endpoint    Trace collector host:port (OTLP_ENDPOINT, default none)
  -cors-origins     Allowed CORS origins (CORS_ORIGINS)
  -dev              Development logging (DEV)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the outbox publisher and flush traces and logs
  4. Close database connection

EXAMPLES:
  ./server -db="./data/pos.db"
  ./server -db=":memory:" -dev
  KAFKA_BROKERS=localhost:9092 ./server
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/warp/sale-engine/api"
	"github.com/warp/sale-engine/publisher"
	"github.com/warp/sale-engine/sale"
	"github.com/warp/sale-engine/store/sqlite"
	"github.com/warp/sale-engine/telemetry"
	"go.uber.org/zap"
)

func main() {
	cfg, err := parseConfig(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := newLogger(cfg.Dev)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func newLogger(dev bool) (*zap.Logger, error) {
	if dev {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func run(cfg config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.SetupTracing(ctx, cfg.OTLPEndpoint, cfg.OTLPInsecure)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	shutdownLogging, err := telemetry.SetupLogging(ctx, cfg.OTLPEndpoint, cfg.OTLPInsecure)
	if err != nil {
		return fmt.Errorf("log export: %w", err)
	}
	if cfg.OTLPEndpoint != "" {
		logger = telemetry.WithOTelBridge(logger)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("trace flush failed", zap.Error(err))
		}
		if err := shutdownLogging(flushCtx); err != nil {
			logger.Warn("log flush failed", zap.Error(err))
		}
	}()

	// Initialize store
	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer store.Close()

	coordinator, err := sale.NewCoordinator(store, sale.Config{
		TaxRate: cfg.TaxRate,
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	handler := api.NewHandler(coordinator, store, logger)
	router := api.NewRouter(handler, cfg.AllowedOrigins)

	// Outbox publisher
	var wg sync.WaitGroup
	pollCtx, stopPolling := context.WithCancel(context.Background())
	defer stopPolling()
	if len(cfg.KafkaBrokers) > 0 {
		writer := publisher.NewKafkaWriter(cfg.KafkaTopic, cfg.KafkaBrokers...)
		defer writer.Close()

		pcfg := publisher.DefaultConfig()
		pcfg.Interval = cfg.OutboxInterval
		poller := publisher.NewOutboxPoller(store, writer, pcfg, logger)

		wg.Add(1)
		go func() {
			defer wg.Done()
			poller.Run(pollCtx)
		}()
	} else {
		logger.Info("no kafka brokers configured, sale events stay in the outbox")
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.Int("port", cfg.Port),
			zap.String("db", cfg.DBPath),
			zap.String("tax_rate", cfg.TaxRate.String()),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	stopPolling()
	wg.Wait()

	logger.Info("server stopped")
	return nil
}
