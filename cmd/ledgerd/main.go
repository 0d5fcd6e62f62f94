// Command ledgerd serves a development ledger over HTTP. It keeps state in
// memory and produces a block every block_interval, so grant expiry can be
// exercised without a chain.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kenneth/chart-vault/internal/api"
	"github.com/kenneth/chart-vault/internal/config"
	"github.com/kenneth/chart-vault/internal/debug"
	"github.com/kenneth/chart-vault/internal/ledger"
	"github.com/kenneth/chart-vault/internal/metrics"
	"github.com/kenneth/chart-vault/internal/tracing"
	"github.com/sirupsen/logrus"
)

var version = "dev"

func main() {
	var (
		configPath = flag.String("config", "", "Path to YAML config file")
		listenAddr = flag.String("listen", "", "Listen address (overrides server.listen_addr)")
		watch      = flag.Bool("watch", true, "Reload log level when the config file changes")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *listenAddr != "" {
		cfg.Server.ListenAddr = *listenAddr
	}

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(config.ParseLogLevel(cfg.LogLevel))
	debug.InitFromEnv()
	debug.InitFromLogLevel(cfg.LogLevel)
	metrics.SetVersion(version)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Setup(ctx, cfg.Tracing, os.Stderr)
	if err != nil {
		logger.WithError(err).Fatal("Failed to set up tracing")
	}
	defer func() {
		tctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(tctx); err != nil {
			logger.WithError(err).Warn("Failed to flush traces")
		}
	}()

	mem := ledger.NewMemory(
		ledger.WithMaxGrants(cfg.Ledger.MaxGrants),
		ledger.WithLogger(logger),
	)
	m := metrics.NewMetrics()
	handler := api.NewHandler(mem, logger, m)

	srv := &http.Server{
		Addr:         cfg.Server.ListenAddr,
		Handler:      api.NewRouter(handler, cfg.Server.MetricsPath),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	if cfg.Ledger.BlockInterval > 0 {
		go produceBlocks(ctx, mem, m, cfg.Ledger.BlockInterval, logger)
	}
	if *watch && *configPath != "" {
		go func() {
			err := config.Watch(ctx, *configPath, logger, func(c *config.Config) {
				logger.SetLevel(config.ParseLogLevel(c.LogLevel))
				debug.InitFromLogLevel(c.LogLevel)
			})
			if err != nil {
				logger.WithError(err).Warn("Config watcher stopped")
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		logger.WithFields(logrus.Fields{
			"addr":       cfg.Server.ListenAddr,
			"max_grants": cfg.Ledger.MaxGrants,
			"block":      cfg.Ledger.BlockInterval,
			"version":    version,
		}).Info("Starting ledgerd")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Server failed")
		}
	case <-ctx.Done():
		logger.Info("Shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			logger.WithError(err).Warn("Graceful shutdown failed")
		}
	}
}

// produceBlocks advances the ledger by one height per interval.
func produceBlocks(ctx context.Context, mem *ledger.Memory, m *metrics.Metrics, interval time.Duration, logger *logrus.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h := mem.Advance(1)
			m.SetLedgerHeight(uint64(h))
			logger.WithField("height", h).Debug("Block produced")
		}
	}
}
