package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	goutils "github.com/jkaninda/go-utils"
	"github.com/spf13/cobra"

	"github.com/jkaninda/sauti/internal/config"
	"github.com/jkaninda/sauti/internal/httpapi"
	"github.com/jkaninda/sauti/internal/ratelimit"
	"github.com/jkaninda/sauti/internal/reaper"
)

var (
	serveConfigPath string
	serveAddr       string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the orchestrator server",
	RunE:  runServe,
}

func init() {
	// Register flags on both root and serve so that
	// `sauti --config path` and `sauti serve --config path` both work.
	for _, cmd := range []*cobra.Command{rootCmd, serveCmd} {
		cmd.Flags().StringVar(&serveConfigPath, "config", config.DefaultConfigPath(), "path to config file")
		cmd.Flags().StringVar(&serveAddr, "addr", "", "override HTTP listen address (e.g. :8080)")
	}
}

// runServe starts the orchestrator: HTTP API, voice pipeline, and reaper.
func runServe(_ *cobra.Command, _ []string) error {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	cfg, err := config.Load(goutils.Env("SAUTI_CONFIG", serveConfigPath))
	if err != nil {
		return err
	}

	// Apply CLI overrides.
	if serveAddr != "" {
		cfg.Server.Addr = serveAddr
	}

	logger.Info("starting orchestrator", slog.String("config", serveConfigPath))

	sc, err := initShared(cfg, logger)
	if err != nil {
		return err
	}
	defer sc.Cleanup()

	// Signal-aware context.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Reaper with scheduled sweeps (optional).
	var rp *reaper.Reaper
	if cfg.Reaper != nil {
		rp = reaper.New(sc.Store.ReapCandidates(), sc.Lifecycle, sc.Registry, reaper.Policy{
			FreeThresholdDays: cfg.Reaper.FreeThresholdDays,
			PaidThresholdDays: cfg.Reaper.PaidThresholdDays,
		}, logger)

		runner, err := reaper.NewRunner(rp, cfg.Reaper.Schedule, logger)
		if err != nil {
			return err
		}
		cancelRunner := runner.Start(ctx)
		defer cancelRunner()
		logger.Debug("reaper runner started", slog.String("schedule", cfg.Reaper.Schedule))
	}

	// Rate limiter (optional).
	var limiter *ratelimit.Limiter
	if cfg.Server.RateLimit != nil {
		limiter = ratelimit.NewLimiter(ratelimit.Config{
			RequestsPerMinute: cfg.Server.RateLimit.PerMinute(),
			BurstSize:         cfg.Server.RateLimit.BurstSize(),
		})
	}

	// HTTP API server.
	apiCfg := httpapi.Config{
		ListenAddr: cfg.Server.ListenAddr(),
		APIKeys:    cfg.Server.APIKeys,
	}
	if sc.Obs != nil {
		if sc.Obs.Metrics != nil {
			apiCfg.Metrics = sc.Obs.Metrics
			apiCfg.MetricsRegistry = sc.Obs.Metrics.Registry
		}
		if sc.Obs.Tracer != nil {
			apiCfg.Tracer = sc.Obs.Tracer.Tracer()
		}
		if sc.Obs.Health != nil {
			sc.Obs.Health.AddCheck("registry", func(ctx context.Context) error {
				_, err := sc.Registry.List()
				return err
			})
			apiCfg.HealthChecker = sc.Obs.Health
		}
	}

	server := httpapi.NewServer(apiCfg, sc.Lifecycle, sc.Gateway, sc.Credits, sc.Store.AgentRecords(), limiter, logger)
	if sc.Voice != nil {
		server.WithVoice(sc.Voice)
	}
	if rp != nil {
		server.WithReaper(rp)
	}

	errs := make(chan error, 1)
	go func() {
		errs <- server.Start(ctx)
	}()

	// Wait for signal or server error.
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errs:
		if err != nil {
			logger.Error("server exited with error", slog.String("error", err.Error()))
		}
	}

	// Graceful shutdown with deadline.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return server.Stop(shutdownCtx)
}
