package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/safar/go-order-lifecycle/internal/api"
	"github.com/safar/go-order-lifecycle/internal/config"
	"github.com/safar/go-order-lifecycle/internal/database"
	"github.com/safar/go-order-lifecycle/internal/gateway"
	"github.com/safar/go-order-lifecycle/internal/service"
	"github.com/safar/go-order-lifecycle/internal/store"
	"github.com/safar/go-order-lifecycle/internal/store/memory"
	"github.com/safar/go-order-lifecycle/internal/worker"
	"github.com/safar/go-order-lifecycle/pkg/kafka"
	"github.com/safar/go-order-lifecycle/pkg/metrics"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(cfg.LogLevel))); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.IsProduction() {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func openStore(cfg *config.Config, logger *slog.Logger) (store.Store, func(), error) {
	if cfg.Store == "memory" {
		logger.Warn("using in-memory store; data is lost on restart")
		return memory.New(), func() {}, nil
	}

	db, err := database.NewConnection(&cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("connected to database", "driver", cfg.Database.Driver)
	return store.NewPostgres(db, cfg.Database.MaxRetries), func() { db.Close() }, nil
}

func newPublisher(cfg *config.Config, logger *slog.Logger) (worker.Publisher, func()) {
	client := kafka.NewClient(cfg.Kafka.Brokers)
	if !client.Enabled() {
		logger.Info("no kafka brokers configured, domain events are logged")
		return worker.NewLogPublisher(logger), func() {}
	}

	w := client.NewWriter(cfg.Kafka.Topic)
	logger.Info("publishing domain events to kafka", "brokers", cfg.Kafka.Brokers, "topic", cfg.Kafka.Topic)
	return worker.NewKafkaPublisher(w), func() {
		if err := w.Close(); err != nil {
			logger.Error("close kafka writer", "error", err)
		}
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	st, closeStore, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	domainMetrics := metrics.NewDomainMetrics(reg)

	gw := gateway.NewMock(cfg.Gateway.SuccessRate, cfg.Gateway.TimeoutRate, cfg.Gateway.Latency)
	svc := service.New(st, gw, cfg.Gateway.Provider, logger, domainMetrics)

	publisher, closePublisher := newPublisher(cfg, logger)
	defer closePublisher()

	router := api.NewRouter(api.NewHandler(svc, logger), api.RouterConfig{
		AllowOrigins: cfg.Server.CORSAllowOrigins,
		Metrics:      metrics.NewServerMetrics(reg, "api"),
		Gatherer:     reg,
	}, logger)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	reconciler := worker.NewReconciliationWorker(st, svc, cfg.Reconciler.Interval, cfg.Reconciler.StaleAfter, cfg.Reconciler.BatchSize, logger)
	relay := worker.NewOutboxRelay(st, publisher, cfg.Outbox.PollInterval, cfg.Outbox.BatchSize, logger, domainMetrics)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server starting", "port", cfg.Server.Port, "store", cfg.Store)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error { return reconciler.Run(gctx) })
	g.Go(func() error { return relay.Run(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
