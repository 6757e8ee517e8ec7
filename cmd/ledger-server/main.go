package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/a3emond/FortisBankSystem/internal/archive"
	"github.com/a3emond/FortisBankSystem/internal/config"
	"github.com/a3emond/FortisBankSystem/internal/db"
	"github.com/a3emond/FortisBankSystem/internal/domain"
	"github.com/a3emond/FortisBankSystem/internal/events"
	grpcserver "github.com/a3emond/FortisBankSystem/internal/grpc"
	"github.com/a3emond/FortisBankSystem/internal/httpapi"
	"github.com/a3emond/FortisBankSystem/internal/logging"
	"github.com/a3emond/FortisBankSystem/internal/memstore"
	promcollector "github.com/a3emond/FortisBankSystem/internal/metrics/prometheus"
)

const metricsNamespace = "ledger"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(logging.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		Development: cfg.Log.Development,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Error("ledger server failed", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
	logger.Info("ledger server stopped gracefully")
}

func run(cfg *config.Config, logger *zap.Logger) error {
	logger.Info("starting ledger server",
		zap.String("storage", cfg.StorageBackend),
		zap.String("http_port", cfg.HTTPPort),
		zap.String("grpc_port", cfg.GRPCPort),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := promcollector.NewCollector(metricsNamespace)
	if err := collector.Register(registry); err != nil {
		return fmt.Errorf("register ledger metrics: %w", err)
	}
	httpMetrics := httpapi.NewMetrics(metricsNamespace)
	if err := httpMetrics.Register(registry); err != nil {
		return fmt.Errorf("register http metrics: %w", err)
	}

	// Storage
	var (
		accounts     domain.AccountRepository
		transactions domain.TransactionRepository
		txManager    domain.TransactionManager
	)
	switch cfg.StorageBackend {
	case config.StoragePostgres:
		pool, err := db.NewPool(ctx, cfg.Database.URL, cfg.Database.MaxConns)
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		defer pool.Close()
		logger.Info("connected to PostgreSQL")

		if cfg.Database.Migrate {
			applied, err := db.Migrate(ctx, pool.Pool, logger)
			if err != nil {
				return fmt.Errorf("run migrations: %w", err)
			}
			logger.Info("database schema up to date", zap.Int("applied", len(applied)))
		}
		accounts = db.NewAccountRepository(pool.Pool)
		transactions = db.NewTransactionRepository(pool.Pool)
		txManager = db.NewTransactionManager(pool.Pool, cfg.LockTimeout, logger)
	default:
		store := memstore.New(cfg.LockTimeout)
		accounts = memstore.NewAccountRepository(store)
		transactions = memstore.NewTransactionRepository(store)
		txManager = memstore.NewTransactionManager(store)
		logger.Warn("using in-memory storage; state is lost on restart")
	}

	// Event sinks
	breakerCfg := events.DefaultBreakerConfig()
	var sinks []events.Sink
	if cfg.RabbitMQ.URL != "" {
		publisher, err := events.NewRabbitMQPublisher(cfg.RabbitMQ, logger)
		if err != nil {
			return fmt.Errorf("connect to RabbitMQ: %w", err)
		}
		defer publisher.Close()
		sinks = append(sinks, events.NewBreakerSink(publisher, breakerCfg, collector, logger))
		logger.Info("publishing transaction events to RabbitMQ", zap.String("exchange", cfg.RabbitMQ.Exchange))
	}
	if cfg.ClickHouse.Host != "" {
		arch, err := archive.Open(ctx, cfg.ClickHouse, logger)
		if err != nil {
			return fmt.Errorf("connect to ClickHouse: %w", err)
		}
		defer arch.Close()
		sinks = append(sinks, events.NewBreakerSink(arch, breakerCfg, collector, logger))
		logger.Info("archiving transaction events to ClickHouse", zap.String("database", cfg.ClickHouse.Database))
	}

	dispatcherCfg := events.DefaultDispatcherConfig()
	dispatcherCfg.QueueSize = cfg.Events.QueueSize
	dispatcherCfg.Workers = cfg.Events.Workers
	dispatcherCfg.MaxWaitTime = cfg.Events.MaxWaitTime
	dispatcher := events.NewDispatcher(dispatcherCfg, collector, logger, sinks...)

	ledger := domain.NewLedgerService(accounts, transactions, txManager,
		domain.WithEventPublisher(dispatcher),
		domain.WithLogger(logger),
		domain.WithMetrics(collector),
		domain.WithHistoryPageSize(cfg.HistoryPageSize),
	)

	// Servers
	grpcListener, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		return fmt.Errorf("failed to listen on port %s: %w", cfg.GRPCPort, err)
	}
	grpcSrv := grpcserver.NewGRPCServer(logger)
	grpcserver.RegisterLedgerServiceServer(grpcSrv, grpcserver.NewLedgerServer(ledger))

	httpSrv := &http.Server{
		Addr: ":" + cfg.HTTPPort,
		Handler: httpapi.NewRouter(httpapi.NewHandlers(ledger, logger), httpapi.RouterConfig{
			MaxInFlight:    cfg.HTTPMaxInFlight,
			Metrics:        httpMetrics,
			MetricsHandler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		}),
	}

	serveErr := make(chan error, 2)
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		logger.Info("gRPC server listening", zap.String("port", cfg.GRPCPort))
		if err := grpcSrv.Serve(grpcListener); err != nil {
			serveErr <- fmt.Errorf("gRPC server failed: %w", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		logger.Info("HTTP server listening", zap.String("port", cfg.HTTPPort))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- fmt.Errorf("HTTP server failed: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	case runErr = <-serveErr:
		logger.Error("server error, initiating shutdown", zap.Error(runErr))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	// Stop accepting requests before draining events, so every committed
	// record has been handed to the dispatcher.
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown incomplete", zap.Error(err))
	}
	grpcStopped := make(chan struct{})
	go func() {
		grpcSrv.GracefulStop()
		close(grpcStopped)
	}()
	select {
	case <-grpcStopped:
	case <-shutdownCtx.Done():
		grpcSrv.Stop()
	}
	wg.Wait()

	if err := dispatcher.Close(shutdownCtx); err != nil {
		logger.Warn("event dispatcher did not drain", zap.Error(err))
	}
	stats := dispatcher.Stats()
	logger.Info("event dispatcher stopped",
		zap.Int64("published", stats.Published),
		zap.Int64("delivered", stats.Delivered),
		zap.Int64("dropped", stats.Dropped),
		zap.Int64("failed", stats.Failed),
	)

	return runErr
}
