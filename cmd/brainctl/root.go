package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"docbrain/internal/bootstrap"
	"docbrain/internal/config"
	"docbrain/internal/pkg/logger"
)

type rootOptions struct {
	configFile string
	debug      bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "brainctl",
		Short:         "Manage the docbrain chunk index",
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configFile, "config", "", "config file (toml or yaml), overrides CONFIG_FILE")
	cmd.PersistentFlags().BoolVar(&opts.debug, "debug", false, "verbose logging")

	cmd.AddCommand(
		newMigrateCmd(opts),
		newIndexCmd(opts),
		newSearchCmd(opts),
		newDeleteCmd(opts),
		newStatsCmd(opts),
	)
	return cmd
}

// withApp wires the application for one command and tears it down afterwards.
// The CLI never consumes the ingest queue.
func withApp(cmd *cobra.Command, opts *rootOptions, migrate bool, fn func(ctx context.Context, a *bootstrap.App) error) error {
	if opts.configFile != "" {
		if err := os.Setenv("CONFIG_FILE", opts.configFile); err != nil {
			return err
		}
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config failed: %w", err)
	}
	zl, err := logger.New(opts.debug || cfg.App.Debug)
	if err != nil {
		return fmt.Errorf("init logger failed: %w", err)
	}
	defer func() { _ = zl.Sync() }()

	ctx := cmd.Context()
	a, err := bootstrap.New(ctx, cfg, zl, bootstrap.Options{Migrate: migrate})
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			zl.Warn("close resources failed", zap.Error(err))
		}
	}()
	return fn(ctx, a)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output failed: %w", err)
	}
	return nil
}
