package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/audioforge/orchestrator/internal/allocator"
	"github.com/audioforge/orchestrator/internal/analyzer"
	"github.com/audioforge/orchestrator/internal/backend"
	"github.com/audioforge/orchestrator/internal/config"
	"github.com/audioforge/orchestrator/internal/degradation"
	"github.com/audioforge/orchestrator/internal/events"
	"github.com/audioforge/orchestrator/internal/orchestrator"
	"github.com/audioforge/orchestrator/internal/probe"
	"github.com/audioforge/orchestrator/internal/scoring"
	"github.com/audioforge/orchestrator/internal/storage"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to configuration file")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Warn("Failed to read config file, using defaults",
			zap.String("path", *configPath),
			zap.Error(err))
		cfg, err = config.Default()
		if err != nil {
			logger.Fatal("Failed to build default config", zap.Error(err))
		}
	}

	// Event publisher: NATS when configured, in-memory otherwise
	var publisher events.Publisher = events.NewMemoryPublisher(1024)
	if cfg.NATS.URL != "" {
		nc := connectNATS(cfg, logger)
		defer nc.Close()

		js, err := nc.JetStream()
		if err != nil {
			logger.Fatal("Failed to create JetStream context", zap.Error(err))
		}

		publisher, err = events.NewNATSPublisher(js, logger)
		if err != nil {
			logger.Fatal("Failed to create event publisher", zap.Error(err))
		}
	}

	history, err := storage.NewSQLitePerformanceHistory(logger, cfg.HistoryDBPath)
	if err != nil {
		logger.Fatal("Failed to open performance history", zap.Error(err))
	}
	defer history.Close()

	scorer := scoring.NewScorer(scoring.Config{
		TimeWindow:  cfg.Scorer.TimeWindow,
		MinSamples:  cfg.Scorer.MinSamples,
		DecayFactor: cfg.Scorer.DecayFactor,
		Weights: scoring.Weights{
			SuccessRate:   cfg.Scorer.WeightSuccess,
			Latency:       cfg.Scorer.WeightLatency,
			ResourceUsage: cfg.Scorer.WeightUsage,
		},
	}, history, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := scorer.WarmStart(ctx); err != nil {
		logger.Warn("Failed to warm-start scorer", zap.Error(err))
	}

	registry := cfg.Registry()
	taskAnalyzer := analyzer.NewTaskAnalyzer(scorer, registry, logger)

	alloc := allocator.NewResourceAllocator(allocator.Config{
		MaxMemoryMB:        cfg.Pool.MaxMemoryMB,
		MaxCPU:             cfg.Pool.MaxCPU,
		MaxTokensPerSecond: cfg.Pool.MaxTokensPerSecond,
		DefaultTimeout:     cfg.Pool.DefaultTimeout,
		MinTimeout:         cfg.Pool.MinTimeout,
		MaxTimeout:         cfg.Pool.MaxTimeout,
	}, publisher, logger)

	controller := degradation.NewController(degradation.Config{
		MonitoringInterval: cfg.Degradation.MonitoringInterval,
		MemoryThreshold:    cfg.Degradation.MemoryThreshold,
		CriticalThreshold:  cfg.Degradation.CriticalThreshold,
	}, probe.NewSystem(), alloc, publisher, logger)

	workers := backend.NewSubprocessBackend(backend.SubprocessConfig{
		Python:    cfg.Backend.Python,
		ScriptDir: cfg.Backend.ScriptDir,
		Scripts:   cfg.Scripts(),
		Timeout:   cfg.Backend.Timeout,
	}, logger)

	core := orchestrator.NewSequentialOrchestrator(orchestrator.Config{
		MemoryLimit: cfg.MemoryLimitMB * 1024 * 1024,
	}, workers, scorer, taskAnalyzer, alloc, controller, logger)

	if err := controller.Start(ctx); err != nil {
		logger.Fatal("Failed to start degradation controller", zap.Error(err))
	}

	// Daily retention job for persisted performance records
	retention := cron.New()
	if _, err := retention.AddFunc("0 3 * * *", func() {
		cutoff := time.Now().Add(-cfg.Scorer.TimeWindow)
		if err := history.DeleteBefore(context.Background(), cutoff); err != nil {
			logger.Error("Failed to prune performance history", zap.Error(err))
		}
	}); err != nil {
		logger.Fatal("Failed to schedule retention job", zap.Error(err))
	}
	retention.Start()
	defer retention.Stop()

	logger.Info("Orchestrator started",
		zap.String("app", cfg.AppName),
		zap.Int("models", len(registry)),
		zap.Int64("memory_limit_mb", cfg.MemoryLimitMB))

	// Periodic status report
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				available := alloc.Available()
				logger.Info("Status",
					zap.String("degradation_level", controller.Level().String()),
					zap.Float64("available_memory_mb", available.MemoryMB),
					zap.Int("active_reservations", alloc.ActiveReservations()))
			}
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	controller.Shutdown()
	alloc.ExpireReservations(time.Now().Add(cfg.Pool.MaxTimeout))
	if err := core.UnloadModel(shutdownCtx); err != nil {
		logger.Warn("Failed to unload model during shutdown", zap.Error(err))
	}

	logger.Info("Orchestrator shut down gracefully")
}

// connectNATS dials the event-stream broker with retry, mirroring the
// reconnect settings from config
func connectNATS(cfg *config.Config, logger *zap.Logger) *nats.Conn {
	opts := []nats.Option{
		nats.Name(cfg.AppName),
		nats.MaxReconnects(cfg.NATS.MaxReconnects),
		nats.ReconnectWait(cfg.NATS.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	}

	var (
		nc  *nats.Conn
		err error
	)
	maxRetries := 5
	for i := 0; i < maxRetries; i++ {
		nc, err = nats.Connect(cfg.NATS.URL, opts...)
		if err == nil {
			break
		}
		logger.Warn("Failed to connect to NATS, retrying...",
			zap.Int("attempt", i+1),
			zap.Error(err))
		time.Sleep(time.Second * time.Duration(i+1))
	}
	if err != nil {
		logger.Fatal("Failed to connect to NATS after retries", zap.Error(err))
	}

	logger.Info("Connected to NATS", zap.String("url", nc.ConnectedUrl()))
	return nc
}
