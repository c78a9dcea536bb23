package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/miradorstack/mirador-sentinel/internal/api"
	"github.com/miradorstack/mirador-sentinel/internal/cache"
	"github.com/miradorstack/mirador-sentinel/internal/config"
	"github.com/miradorstack/mirador-sentinel/internal/detection"
	"github.com/miradorstack/mirador-sentinel/internal/engine"
	"github.com/miradorstack/mirador-sentinel/internal/ingest"
	"github.com/miradorstack/mirador-sentinel/internal/metrics"
	"github.com/miradorstack/mirador-sentinel/internal/patterns"
	"github.com/miradorstack/mirador-sentinel/internal/publish"
	"github.com/miradorstack/mirador-sentinel/internal/remediation"
	"github.com/miradorstack/mirador-sentinel/internal/repo"
	"github.com/miradorstack/mirador-sentinel/internal/services"
	"github.com/miradorstack/mirador-sentinel/internal/telemetry"
	"github.com/miradorstack/mirador-sentinel/internal/utils"
)

const serviceName = "mirador-sentinel"

const (
	formatJSON = "json"
	formatText = "text"
)

var version = "dev"

func main() {
	var configPath, batchPath, format string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.StringVar(&batchPath, "batch", "", "Analyse one JSONL batch (.jsonl, .gz or .zst), print the result and exit")
	flag.StringVar(&format, "format", formatJSON, "Output of -batch: json or text")
	flag.Parse()

	if format != formatJSON && format != formatText {
		slog.Error("unknown output format", slog.String("format", format))
		os.Exit(2)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", configPath), slog.Any("error", err))
		os.Exit(1)
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	slog.SetDefault(logger)

	if err := run(cfg, logger, batchPath, format); err != nil {
		logger.Error("sentinel engine failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger, batchPath, format string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return err
	}

	shutdownTracing, err := telemetry.Init(serviceName, version, telemetry.Config{
		Exporter:     cfg.Telemetry.Exporter,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure: cfg.Telemetry.OTLPInsecure,
	})
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("trace exporter shutdown", slog.Any("error", err))
		}
	}()

	catalog, err := loadCatalog(cfg.Remediation.CatalogPath)
	if err != nil {
		return err
	}
	matcher := remediation.NewMatcher(catalog)
	logger.Info("remediation catalog loaded", slog.Int("categories", catalog.Len()))

	policy, err := detection.ParsePolicy(cfg.Detection.Policy)
	if err != nil {
		return err
	}
	classifier, err := detection.NewClassifier(policy, cfg.Detection.Percentile)
	if err != nil {
		return err
	}
	metric, err := detection.ParseMetric(cfg.Detection.ErrorMetric)
	if err != nil {
		return err
	}
	strategy, err := engine.ParseStrategy(cfg.Correlation.Strategy)
	if err != nil {
		return err
	}
	correlator, err := engine.NewCorrelator(engine.CorrelatorConfig{
		TimeWindow:          cfg.Correlation.TimeWindow,
		Strategy:            strategy,
		SimilarityThreshold: cfg.Correlation.SimilarityThreshold,
		Workers:             cfg.Correlation.Workers,
	}, logger)
	if err != nil {
		return err
	}

	var cacheProvider cache.Provider = cache.NoopProvider{}
	if cfg.Cache.Enabled {
		cacheProvider = cache.NewLRUProvider(cache.LRUConfig{Size: cfg.Cache.Size, TTL: cfg.Cache.TTL})
	}
	defer cacheProvider.Close()

	store, err := repo.Open(ctx, repo.Options{
		Driver:   cfg.Store.Driver,
		DSN:      cfg.Store.DSN,
		Cache:    cacheProvider,
		CacheTTL: cfg.Cache.TTL,
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	defer store.Close()

	deps := engine.PipelineDeps{
		Classifier: classifier,
		Correlator: correlator,
		Miner:      patterns.NewMiner(logger, cfg.Patterns.MinSupport),
		Matcher:    matcher,
		Store:      store,
		Metric:     metric,
	}
	if cfg.Model.Endpoint != "" {
		deps.Source = ingest.NewModelClient(cfg.Model.Endpoint, metric, cfg.Model.Timeout)
	}
	deps.Publisher = publish.NoopPublisher{}
	if cfg.Publisher.URL != "" {
		publisher, err := publish.Connect(logger, cfg.Publisher.URL, cfg.Publisher.Subject, cfg.Publisher.Timeout)
		if err != nil {
			logger.Warn("nats publisher unavailable, findings will not be published", slog.String("url", cfg.Publisher.URL), slog.Any("error", err))
		} else {
			deps.Publisher = publisher
			defer publisher.Close()
		}
	}

	pipeline, err := engine.NewPipeline(logger, deps)
	if err != nil {
		return err
	}
	svc := services.NewSentinelService(logger, store, matcher, pipeline)

	if batchPath != "" {
		return analyzeFile(ctx, svc, batchPath, format)
	}
	return serve(ctx, stop, cfg, logger, svc)
}

func loadCatalog(path string) (*remediation.Catalog, error) {
	if path == "" {
		return remediation.DefaultCatalog()
	}
	return remediation.LoadCatalog(path)
}

func analyzeFile(ctx context.Context, svc *services.SentinelService, path, format string) error {
	batch, err := ingest.ReadBatch(path)
	if err != nil {
		return err
	}
	result, err := svc.Analyze(ctx, batch)
	if err != nil {
		return err
	}
	if format == formatText {
		fmt.Fprintf(os.Stdout, "run %s: %d events, %d anomalies, threshold %.4f\n",
			result.RunID, result.Summary.TotalEvents, result.Summary.AnomalyCount, result.Threshold)
		for _, rc := range result.RootCauses {
			fmt.Fprint(os.Stdout, engine.Report(rc))
		}
		return nil
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

func serve(ctx context.Context, stop context.CancelFunc, cfg *config.Config, logger *slog.Logger, svc *services.SentinelService) error {
	server, err := api.NewServer(cfg.Server, api.NewQueryServer(svc, logger))
	if err != nil {
		return err
	}
	logger.Info("starting mirador-sentinel",
		slog.String("grpc_address", server.Address()),
		slog.String("http_address", cfg.Server.HTTPAddress),
	)

	var httpServer *http.Server
	if cfg.Server.HTTPAddress != "" {
		httpServer = &http.Server{
			Addr:         cfg.Server.HTTPAddress,
			Handler:      api.NewRouter(svc, logger, prometheus.DefaultGatherer),
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		go func() {
			logger.Info("http server listening", slog.String("address", cfg.Server.HTTPAddress))
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http server exited", slog.Any("error", err))
				stop()
			}
		}()
	}

	go func() {
		if serveErr := server.Start(); serveErr != nil {
			logger.Error("gRPC server exited", slog.Any("error", serveErr))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), server.GracefulTimeout())
	defer cancel()
	server.Shutdown(shutdownCtx)

	if httpServer != nil {
		if err := httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("http server shutdown", slog.Any("error", err))
		}
	}

	logger.Info("mirador-sentinel stopped")
	return nil
}
