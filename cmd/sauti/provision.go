package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	goutils "github.com/jkaninda/go-utils"
	"github.com/spf13/cobra"

	"github.com/jkaninda/sauti/internal/config"
)

var provisionConfigPath string

var provisionCmd = &cobra.Command{
	Use:   "provision <user-id>",
	Short: "Provision a user's sandbox and bind its routing",
	Args:  cobra.ExactArgs(1),
	RunE:  runProvision,
}

func init() {
	provisionCmd.Flags().StringVar(&provisionConfigPath, "config", config.DefaultConfigPath(), "path to config file")
}

func runProvision(_ *cobra.Command, args []string) error {
	userID := args[0]

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	cfg, err := config.Load(goutils.Env("SAUTI_CONFIG", provisionConfigPath))
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

	if _, err := sc.Lifecycle.Provision(ctx, userID); err != nil {
		return fmt.Errorf("provisioning %s: %w", userID, err)
	}

	fmt.Printf("agent provisioned for %s\n", userID)
	return nil
}
