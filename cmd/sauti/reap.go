package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	goutils "github.com/jkaninda/go-utils"
	"github.com/spf13/cobra"

	"github.com/jkaninda/sauti/internal/config"
	"github.com/jkaninda/sauti/internal/reaper"
)

var reapConfigPath string

var reapCmd = &cobra.Command{
	Use:   "reap",
	Short: "Run one inactivity sweep and exit",
	RunE:  runReap,
}

func init() {
	reapCmd.Flags().StringVar(&reapConfigPath, "config", config.DefaultConfigPath(), "path to config file")
}

func runReap(_ *cobra.Command, _ []string) error {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	cfg, err := config.Load(goutils.Env("SAUTI_CONFIG", reapConfigPath))
	if err != nil {
		return err
	}

	sc, err := initShared(cfg, logger)
	if err != nil {
		return err
	}
	defer sc.Cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	policy := reaper.DefaultPolicy()
	if cfg.Reaper != nil {
		policy = reaper.Policy{
			FreeThresholdDays: cfg.Reaper.FreeThresholdDays,
			PaidThresholdDays: cfg.Reaper.PaidThresholdDays,
		}
	}

	rp := reaper.New(sc.Store.ReapCandidates(), sc.Lifecycle, sc.Registry, policy, logger)
	report, err := rp.Sweep(ctx)
	if err != nil {
		return fmt.Errorf("sweep failed: %w", err)
	}

	out, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
