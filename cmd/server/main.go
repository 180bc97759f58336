package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hamicek/noex-rules-sub007/internal/api"
	"github.com/hamicek/noex-rules-sub007/internal/config"
	"github.com/hamicek/noex-rules-sub007/internal/engine"
	"github.com/hamicek/noex-rules-sub007/internal/event"
	"github.com/hamicek/noex-rules-sub007/internal/fact"
	"github.com/hamicek/noex-rules-sub007/internal/ingress"
	"github.com/hamicek/noex-rules-sub007/internal/metrics"
	"github.com/hamicek/noex-rules-sub007/internal/notify"
	"github.com/hamicek/noex-rules-sub007/internal/reload"
	"github.com/hamicek/noex-rules-sub007/internal/rule"
	"github.com/hamicek/noex-rules-sub007/internal/ruleio"
	"github.com/hamicek/noex-rules-sub007/internal/storage/postgres"
	"github.com/hamicek/noex-rules-sub007/internal/trace"
)

const (
	serviceName = "noex-rules"
	version     = "1.0.0"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := setupLogging(cfg)
	logger.Info("starting rule engine",
		"service", serviceName,
		"version", version,
		"environment", cfg.Environment)

	// Core components (C1, C2, C4, C8), constructed by the caller so the engine can
	// be wired to either real or fake collaborators.
	facts := fact.New(logger)
	events := event.New(10000)
	tracer := trace.New(logger, cfg.Trace.BufferSize)
	registry := rule.New(ruleio.StructValidator{})

	eng := engine.New(logger, engine.Config{
		Workers:           cfg.Engine.Workers,
		QueueSize:         cfg.Engine.QueueSize,
		MaxChainDepth:     cfg.Engine.MaxChainDepth,
		ProcessingTimeout: cfg.Engine.ProcessingTimeout,
		DedupWindow:       cfg.Engine.DedupWindow,
	}, facts, events, tracer, registry, nil)

	// Notification/escalation services, reachable from call_service actions.
	notifier, err := notify.New(cfg.Notifications, logger)
	if err != nil {
		logger.Error("failed to construct notification manager", "error", err)
		os.Exit(1)
	}
	escalation := notify.NewHandler(logger, notifier, nil)
	eng.Actions.RegisterService("notify", notifier)
	eng.Actions.RegisterService("escalation", escalation)

	// Optional Postgres-backed audit/state storage.
	var storageAdapter *postgres.Adapter
	if cfg.Database.Host != "" {
		db, err := postgres.Connect(cfg.Database)
		if err != nil {
			logger.Error("failed to connect to postgres", "error", err)
			os.Exit(1)
		}
		defer func() {
			if err := db.Close(); err != nil {
				logger.Error("failed to close postgres connection", "error", err)
			}
		}()
		storageAdapter = postgres.New(db, logger, serviceName)
	}

	// Rule source: a directory of JSON/YAML rule files, loaded at startup
	// and re-polled by the hot-reload watcher when enabled.
	var reloadWatcher *reload.Watcher
	if cfg.Rules.Directory != "" {
		source := ruleio.NewDirSource(cfg.Rules.Directory)
		initial, err := source.Load()
		if err != nil {
			logger.Error("failed to load initial rule set", "error", err)
			os.Exit(1)
		}
		for _, r := range initial {
			if _, err := registry.Register(r, rule.RegisterOptions{}); err != nil {
				logger.Error("failed to register rule", "rule_id", r.ID, "error", err)
			}
		}
		logger.Info("loaded rules", "count", len(initial), "directory", cfg.Rules.Directory)

		if cfg.Rules.ReloadEnabled {
			reloadWatcher = reload.New(logger, source, registry, tracer, eng, cfg.Rules.ReloadInterval, true, ruleio.StructValidator{})
		}
	}

	// Metrics collector: counters/histograms via trace subscription, gauges
	// via polling the live component state.
	metricsCollector := metrics.NewCollector(logger, metrics.GaugeSource{
		ActiveRules:            registry.EnabledLen,
		ActiveFacts:            facts.Len,
		ActiveTimers:           eng.Timers.Len,
		TraceBufferUtilization: tracer.Utilization,
	}, prometheus.DefaultRegisterer)

	// Optional Kafka ingress/egress.
	var kafkaConsumer *ingress.Consumer
	var kafkaProducer *ingress.Producer
	if cfg.Kafka.Enabled {
		kafkaConsumer = ingress.NewConsumer(cfg, logger, eng)
		kafkaProducer = ingress.NewProducer(cfg, logger)
	}

	apiKeys := api.NewAPIKeyStore()
	httpServer := api.New(api.Deps{
		Logger:     logger,
		Config:     cfg,
		Engine:     eng,
		Facts:      facts,
		Events:     events,
		Timers:     eng.Timers,
		Tracer:     tracer,
		Registry:   registry,
		Storage:    storageAdapter,
		Notifier:   notifier,
		Escalation: escalation,
		Gatherer:   prometheus.DefaultGatherer,
		APIKeys:    apiKeys,
	})

	router := httpServer.Router()
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eng.Start()
	notifier.Start(ctx)
	unsubscribeMetrics := metricsCollector.ObserveTrace(tracer)
	go metricsCollector.Start(ctx)
	if reloadWatcher != nil {
		reloadWatcher.Start(ctx)
	}
	if kafkaConsumer != nil {
		kafkaConsumer.Start(ctx)
	}
	var unsubscribeTrace func()
	if kafkaProducer != nil {
		unsubscribeTrace = kafkaProducer.Subscribe(ctx, tracer)
	}

	go func() {
		logger.Info("starting HTTP server", "port", cfg.Server.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server failed", "error", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info("received shutdown signal", "signal", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown HTTP server gracefully", "error", err)
	}

	if unsubscribeTrace != nil {
		unsubscribeTrace()
	}
	unsubscribeMetrics()
	if kafkaConsumer != nil {
		kafkaConsumer.Stop()
	}
	if kafkaProducer != nil {
		kafkaProducer.Close()
	}
	if reloadWatcher != nil {
		reloadWatcher.Stop()
	}
	notifier.Stop()
	if err := eng.Stop(shutdownCtx, cfg.Server.ShutdownTimeout); err != nil {
		logger.Error("engine did not shut down cleanly", "error", err)
	}
	cancel()

	logger.Info("shutdown complete")
}

// setupLogging configures structured logging per cfg.Logging.
func setupLogging(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Logging.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level, AddSource: cfg.Debug}

	var handler slog.Handler
	if cfg.Logging.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	logger := slog.New(handler).With(
		"service", serviceName,
		"version", version,
		"environment", cfg.Environment,
	)
	slog.SetDefault(logger)
	return logger
}
