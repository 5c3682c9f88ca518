package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ollystack/correlation-engine/internal/anomaly"
	"github.com/ollystack/correlation-engine/internal/api"
	"github.com/ollystack/correlation-engine/internal/cache"
	"github.com/ollystack/correlation-engine/internal/config"
	"github.com/ollystack/correlation-engine/internal/engine"
	"github.com/ollystack/correlation-engine/internal/llm"
	"github.com/ollystack/correlation-engine/internal/metrics"
	"github.com/ollystack/correlation-engine/internal/rca"
	"github.com/ollystack/correlation-engine/internal/repo"
	"github.com/ollystack/correlation-engine/internal/utils"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", configPath), slog.Any("error", err))
		os.Exit(1)
	}

	logger := utils.NewLogger("correlation-engine", cfg.Logging.Level, cfg.Logging.JSON)
	logger.Info("starting correlation engine", slog.String("address", cfg.Server.Address))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		os.Exit(1)
	}

	cacheProvider := buildCache(cfg.Cache, logger)
	defer cacheProvider.Close()

	storeClient := repo.NewSignalStoreClient(
		cfg.Store.BaseURL,
		cfg.Store.SpansPath,
		cfg.Store.LogsPath,
		cfg.Store.MetricsPath,
		cfg.Store.SeriesPath,
		cfg.Store.Timeout,
	)

	fetcher := engine.NewFetcher(logger, storeClient, cfg.Store.FetchTimeout)
	eng := engine.NewEngine(logger, fetcher, cacheProvider, cfg.Cache.ContextTTL)

	baselineStore := anomaly.NewBaselineStore(cfg.Anomaly.MaxBaselineAge)
	detector := anomaly.NewDetector(logger, baselineStore, storeClient, nil, anomaly.DetectorOptions{
		StatThreshold:     cfg.Anomaly.StatThreshold,
		SeasonalThreshold: cfg.Anomaly.SeasonalThreshold,
		ModelThreshold:    cfg.Anomaly.ModelThreshold,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if len(cfg.Anomaly.Watch) > 0 {
		watch := make([]anomaly.Pair, 0, len(cfg.Anomaly.Watch))
		for _, pair := range cfg.Anomaly.Watch {
			watch = append(watch, anomaly.Pair{Service: pair.Service, Metric: pair.Metric})
		}
		learner := anomaly.NewLearner(logger, storeClient, baselineStore, watch, anomaly.LearnerOptions{
			MinHistory:      cfg.Anomaly.MinHistory,
			Lookback:        cfg.Anomaly.Lookback,
			FullInterval:    cfg.Anomaly.FullInterval,
			RefreshInterval: cfg.Anomaly.RefreshInterval,
		})
		go learner.Run(ctx)
	}

	orchestrator, err := buildOrchestrator(cfg, logger, detector)
	if err != nil {
		logger.Error("failed to build analysis chain", slog.Any("error", err))
		os.Exit(1)
	}

	handler := api.NewHandler(logger, eng, orchestrator, detector)
	server, err := api.NewServer(cfg.Server, handler.Routes())
	if err != nil {
		logger.Error("failed to create server", slog.Any("error", err))
		os.Exit(1)
	}

	var metricsServer *http.Server
	if cfg.Server.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		go func() {
			logger.Info("metrics server listening", slog.String("address", cfg.Server.MetricsAddress))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server exited", slog.Any("error", err))
				stop()
			}
		}()
	}

	go func() {
		if serveErr := server.Start(); serveErr != nil {
			logger.Error("server exited", slog.Any("error", serveErr))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()
	server.Shutdown(shutdownCtx)

	if metricsServer != nil {
		metricsCtx, cancelMetrics := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(metricsCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server shutdown", slog.Any("error", err))
		}
		cancelMetrics()
	}

	// Give remaining goroutines time to finish logging
	time.Sleep(100 * time.Millisecond)
	logger.Info("correlation engine stopped")
}

func buildCache(cfg config.CacheConfig, logger *slog.Logger) cache.Provider {
	switch {
	case cfg.Backend == "none":
		return cache.NoopProvider{}
	case cfg.Enabled && cfg.Addr != "":
		provider, err := cache.NewRedisProvider(cache.RedisConfig{
			Addr:         cfg.Addr,
			Username:     cfg.Username,
			Password:     cfg.Password,
			DB:           cfg.DB,
			DialTimeout:  cfg.DialTimeout,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			MaxRetries:   cfg.MaxRetries,
			TLS:          cfg.TLS,
		})
		if err != nil {
			logger.Warn("redis cache unavailable, using in-process cache", slog.Any("error", err))
			return cache.NewMemoryProvider()
		}
		return provider
	default:
		return cache.NewMemoryProvider()
	}
}

func buildOrchestrator(cfg *config.Config, logger *slog.Logger, detector *anomaly.Detector) (*rca.Orchestrator, error) {
	patterns, err := rca.LoadPatterns(cfg.RCA.PatternsPath)
	if err != nil {
		return nil, err
	}

	provider, err := llm.NewProvider(cfg.LLM, logger)
	if err != nil {
		return nil, err
	}

	strategies := []rca.Strategy{
		rca.NewDeterministicStrategy(logger, patterns),
		rca.NewStatisticalStrategy(logger, detector),
		rca.NewCausalStrategy(logger),
		rca.NewGenerativeStrategy(logger, provider),
	}

	var archive rca.IncidentArchive
	var embed rca.EvidenceEmbedder
	if cfg.Incidents.Endpoint != "" {
		archive = repo.NewIncidentStore(cfg.Incidents.Endpoint, cfg.Incidents.APIKey, cfg.Incidents.Timeout)
		embed = repo.EmbedEvidence
	}

	budgets := map[string]time.Duration{
		rca.StageDeterministic: cfg.RCA.DeterministicBudget,
		rca.StageStatistical:   cfg.RCA.StatisticalBudget,
		rca.StageCausal:        cfg.RCA.CausalBudget,
		rca.StageGenerative:    cfg.RCA.GenerativeBudget,
	}
	return rca.NewOrchestrator(logger, strategies, budgets, archive, embed), nil
}
