// Command jobq-service is the long-running process that wires config,
// logging, an adapter, the admin API, and an optional event bridge
// around a jobq.Queue. Grounded on the teacher's cmd/worker-service
// main.go: same flag/env config load, component init helpers, and
// signal-driven graceful shutdown shape, generalized from a single
// fixed Postgres+RabbitMQ pairing to jobq's pluggable adapter choice.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jobq-go/jobq"
	"github.com/jobq-go/jobq/adminapi"
	"github.com/jobq-go/jobq/config"
	"github.com/jobq-go/jobq/eventbridge"
	"github.com/jobq-go/jobq/logging"
	"github.com/jobq-go/jobq/pgadapter"
	"github.com/jobq-go/jobq/redisadapter"
	"github.com/jobq-go/jobq/sqliteadapter"

	"github.com/redis/go-redis/v9"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	configPath := flag.String("config", os.Getenv("JOBQ_CONFIG_PATH"), "path to a YAML config file")
	envPath := flag.String("env", ".env", "path to a dotenv file")
	flag.Parse()

	cfg, err := config.Load(*configPath, *envPath)
	if err != nil {
		return fmt.Errorf("jobq-service: load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("jobq-service: invalid config: %w", err)
	}

	logger := logging.New(logging.Config{
		Level:        cfg.Logging.Level,
		Format:       cfg.Logging.Format,
		Output:       cfg.Logging.Output,
		EnableSource: cfg.Logging.EnableSource,
	})

	logger.Info("starting jobq-service",
		slog.String("app", cfg.App.Name),
		slog.String("environment", cfg.App.Environment),
		slog.String("adapter", cfg.Queue.Adapter),
	)

	adapter, closeAdapter, dlq, err := initAdapter(context.Background(), cfg, logger)
	if err != nil {
		return fmt.Errorf("jobq-service: init adapter: %w", err)
	}
	defer closeAdapter()

	var idGen jobq.IDGenerator = jobq.UUIDGenerator{}
	if cfg.Queue.IDGenerator == "ulid" {
		idGen = jobq.ULIDGenerator{}
	}

	q := jobq.NewQueue(jobq.QueueOptions{
		Adapter:        adapter,
		Concurrency:    cfg.Queue.Concurrency,
		MonitorNetwork: cfg.Queue.MonitorNetwork,
		IDGenerator:    idGen,
		Logger:         logger,
	})

	var bridge *eventbridge.Bridge
	if cfg.AMQP.Enabled {
		bridge, err = initEventBridge(cfg, logger)
		if err != nil {
			return fmt.Errorf("jobq-service: init event bridge: %w", err)
		}
		bridge.Attach(q)
		logger.Info("event bridge attached", slog.String("exchange", cfg.AMQP.ExchangeName))
		defer bridge.Close()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := q.Start(ctx); err != nil {
		return fmt.Errorf("jobq-service: start queue: %w", err)
	}
	logger.Info("queue started")

	var adminServer *http.Server
	if cfg.Admin.Enabled {
		router := adminapi.NewRouter(adminapi.Dependencies{Queue: q, Logger: logger, DLQ: dlq})
		adminServer = &http.Server{Addr: cfg.Admin.Addr, Handler: router}
		go func() {
			logger.Info("admin API listening", slog.String("addr", cfg.Admin.Addr))
			if err := adminServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("admin API stopped unexpectedly", slog.Any("error", err))
			}
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	logger.Info("received signal, shutting down gracefully", slog.String("signal", sig.String()))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if adminServer != nil {
		if err := adminServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("admin API shutdown error", slog.Any("error", err))
		}
	}

	q.Shutdown()
	logger.Info("jobq-service shutdown complete")
	return nil
}

func initEventBridge(cfg *config.Config, logger *slog.Logger) (*eventbridge.Bridge, error) {
	return eventbridge.Connect(eventbridge.Config{
		Host:              cfg.AMQP.Host,
		Port:              cfg.AMQP.Port,
		User:              cfg.AMQP.User,
		Password:          cfg.AMQP.Password,
		VHost:             cfg.AMQP.VHost,
		ExchangeName:      cfg.AMQP.ExchangeName,
		ExchangeType:      cfg.AMQP.ExchangeType,
		RoutingKeyPrefix:  cfg.AMQP.RoutingKeyPrefix,
		RetryAttempts:     cfg.AMQP.RetryAttempts,
		RetryInterval:     cfg.AMQP.RetryInterval,
		Heartbeat:         cfg.AMQP.Heartbeat,
		PublishRetries:    cfg.AMQP.PublishRetries,
		PublishRetryDelay: cfg.AMQP.PublishRetryDelay,
	}, logger)
}

// initAdapter selects and constructs the configured Adapter, plus its
// DeadLetterLister view for adminapi if it has one.
func initAdapter(ctx context.Context, cfg *config.Config, logger *slog.Logger) (jobq.Adapter, func(), adminapi.DeadLetterLister, error) {
	switch cfg.Queue.Adapter {
	case "sqlite":
		a, err := sqliteadapter.Open(cfg.Database.DSN)
		if err != nil {
			return nil, nil, nil, err
		}
		return a, func() { a.Close() }, a, nil

	case "postgres":
		a, err := pgadapter.Connect(ctx, pgadapter.Config{
			Host:            cfg.Database.Host,
			Port:            cfg.Database.Port,
			User:            cfg.Database.User,
			Password:        cfg.Database.Password,
			Database:        cfg.Database.Database,
			SSLMode:         cfg.Database.SSLMode,
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		}, logger)
		if err != nil {
			return nil, nil, nil, err
		}
		return a, func() { a.Close() }, a, nil

	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		a := redisadapter.New(rdb, cfg.Redis.Key)
		return a, func() { rdb.Close() }, a, nil

	default:
		return jobq.NewMemoryAdapter(), func() {}, nil, nil
	}
}
