// Swapgate - risk-gated swap authorization service
package main

import (
	"context"
	"os"
	"time"

	"github.com/mbd888/swapgate/internal/config"
	"github.com/mbd888/swapgate/internal/logging"
	"github.com/mbd888/swapgate/internal/server"
	"github.com/mbd888/swapgate/internal/traces"
)

// Build info - set by ldflags
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	// Create logger
	logger := logging.New("info", "text")

	logger.Info("starting swapgate",
		"version", Version,
		"commit", Commit,
		"build_time", BuildTime,
	)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger = logging.New(cfg.LogLevel, cfg.LogFormat)

	logger.Info("configuration loaded",
		"env", cfg.Env,
		"chain_id", cfg.ChainID,
		"executor", cfg.ExecutorAddress,
		"fee_rate_bps", cfg.FeeRateBps,
		"sanctions_policy", cfg.SanctionsPolicy,
	)

	ctx := context.Background()

	// Tracing (no-op without OTEL_EXPORTER_OTLP_ENDPOINT)
	shutdownTraces, err := traces.Init(ctx, traces.Config{
		Endpoint:    cfg.OTLPEndpoint,
		Version:     Version,
		SampleRatio: cfg.TraceSampleRatio,
	}, logger)
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTraces(flushCtx); err != nil {
			logger.Warn("trace flush failed", "error", err)
		}
	}()

	// Create and run server
	server.Version = Version
	srv, err := server.New(cfg, server.WithLogger(logger))
	if err != nil {
		logger.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	if err := srv.Run(ctx); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
