package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/grabarr/grabarr/internal/alerts"
	"github.com/grabarr/grabarr/internal/blocklist"
	"github.com/grabarr/grabarr/internal/breaker"
	"github.com/grabarr/grabarr/internal/config"
	"github.com/grabarr/grabarr/internal/download"
	"github.com/grabarr/grabarr/internal/indexer"
	"github.com/grabarr/grabarr/internal/lifecycle"
	"github.com/grabarr/grabarr/internal/metrics"
	"github.com/grabarr/grabarr/internal/qbit"
	"github.com/grabarr/grabarr/internal/queue"
	"github.com/grabarr/grabarr/internal/torznab"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the grabarr daemon",
		Long: `Run the background loops: queue admission, download-client sync,
failed-download retry, blocklist maintenance, and monitoring. A Prometheus
metrics endpoint is served when enabled in the config.`,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	logger, err := setupLogger()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if cfg.DownloadClient.URL == "" {
		return fmt.Errorf("download_client.url must be configured")
	}

	db, err := sql.Open("sqlite3", cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	queueStore, err := queue.NewSQLStore(db)
	if err != nil {
		return fmt.Errorf("queue store: %w", err)
	}
	blocklistStore, err := blocklist.NewSQLStore(db)
	if err != nil {
		return fmt.Errorf("blocklist store: %w", err)
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	client, err := buildDownloadClient(cfg)
	if err != nil {
		return err
	}

	indexerClients, err := buildIndexerClients(cfg)
	if err != nil {
		return err
	}

	blocklistSvc := blocklist.NewService(blocklistStore, logger)
	aggregator := indexer.NewAggregator(indexerClients,
		cfg.Breaker.For(""), cfg.RateLimit.LimiterConfig(), logger)

	clientBreaker := breaker.New(cfg.Breaker.For(client.Name()), logger)
	processor := queue.NewProcessor(
		cfg.Queue.ProcessorConfig(cfg.Retry.Policy()),
		queueStore, client, clientBreaker, blocklistSvc, m, logger)

	alertManager := alerts.NewManager(m, logger)
	for _, rule := range alerts.DefaultRules() {
		alertManager.AddRule(rule)
	}
	alertManager.AddHandler(alerts.NewLogHandler(logger))

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting grabarr",
		zap.String("version", version),
		zap.Int("indexers", len(indexerClients)),
		zap.String("downloadClient", client.Name()),
		zap.String("database", cfg.Database.Path))

	processor.Start(ctx)

	manager := lifecycle.New(ctx)
	manager.RunTicker(time.Minute, func(ctx context.Context) {
		observe(ctx, queueStore, aggregator, clientBreaker, m, alertManager, logger)
	})
	manager.RunTicker(time.Hour, func(ctx context.Context) {
		if _, err := blocklistSvc.CleanupExpired(ctx, cfg.Blocklist.CleanupOlderThanDays); err != nil {
			logger.Error("blocklist cleanup failed", zap.Error(err))
		}
		alertManager.CleanupResolved(24 * time.Hour)
	})

	var metricsServer *http.Server
	if m != nil {
		mux := http.NewServeMux()
		mux.Handle("/metrics", m.Handler())
		metricsServer = &http.Server{
			Addr:    fmt.Sprintf("%s:%d", cfg.Metrics.Bind, cfg.Metrics.Port),
			Handler: mux,
		}
		go func() {
			logger.Info("metrics endpoint listening", zap.String("addr", metricsServer.Addr))
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server failed", zap.Error(err))
			}
		}()
	}

	<-ctx.Done()
	logger.Info("shutting down")

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = metricsServer.Shutdown(shutdownCtx)
		cancel()
	}
	if err := processor.Stop(10 * time.Second); err != nil {
		logger.Warn("queue processor did not stop cleanly", zap.Error(err))
	}
	if err := manager.StopWithTimeout(10 * time.Second); err != nil {
		logger.Warn("background loops did not stop cleanly", zap.Error(err))
	}
	return nil
}

// observe publishes queue and breaker state to metrics and the alert rules.
func observe(ctx context.Context, store queue.Store, aggregator *indexer.Aggregator, clientBreaker *breaker.Breaker, m *metrics.Metrics, alertManager *alerts.Manager, logger *zap.Logger) {
	stats, err := store.Stats(ctx)
	if err != nil {
		logger.Error("queue stats failed", zap.Error(err))
		return
	}

	for status, count := range stats.Counts {
		m.SetQueueDepth(string(status), count)
	}
	m.SetSpeeds(stats.TotalDownloadSpeed, stats.TotalUploadSpeed)
	alertManager.CheckQueueDepth(ctx, "download", stats.Counts[queue.StatusQueued])

	cb := clientBreaker.Metrics()
	m.SetBreakerState(clientBreaker.Name(), int(cb.State))
	alertManager.CheckCircuitBreaker(ctx, clientBreaker.Name(), cb.State == breaker.StateOpen)
	alertManager.CheckServiceHealth(ctx, clientBreaker.Name(), cb.State != breaker.StateOpen)
	alertManager.CheckConsecutiveFailures(ctx, clientBreaker.Name(), cb.ConsecutiveFailures)

	for name, bm := range aggregator.BreakerMetrics() {
		m.SetBreakerState(name, int(bm.State))
		alertManager.CheckCircuitBreaker(ctx, name, bm.State == breaker.StateOpen)
		alertManager.CheckConsecutiveFailures(ctx, name, bm.ConsecutiveFailures)
	}
}

func buildDownloadClient(cfg *config.Config) (download.Client, error) {
	switch cfg.DownloadClient.Type {
	case "", "qbittorrent":
		return qbit.New(qbit.Config{
			URL:      cfg.DownloadClient.URL,
			Username: cfg.DownloadClient.Username,
			Password: cfg.DownloadClient.Password,
		})
	default:
		return nil, fmt.Errorf("unknown download client type %q", cfg.DownloadClient.Type)
	}
}

func buildIndexerClients(cfg *config.Config) ([]indexer.Client, error) {
	clients := make([]indexer.Client, 0, len(cfg.Indexers))
	for _, ic := range cfg.Indexers {
		client, err := torznab.New(torznab.Config{
			ID:     ic.ID,
			Name:   ic.Name,
			URL:    ic.URL,
			APIKey: ic.APIKey,
		})
		if err != nil {
			return nil, fmt.Errorf("indexer %s: %w", ic.Name, err)
		}
		clients = append(clients, client)
	}
	return clients, nil
}
