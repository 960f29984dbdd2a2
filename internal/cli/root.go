package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/KlistenesLima/krt-bank-sub000/internal/config"
	"github.com/KlistenesLima/krt-bank-sub000/internal/logger"
)

type rootOptions struct {
	configPath string
}

// NewRootCommand builds the krt-payments command tree
func NewRootCommand(version string) *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:   "krt-payments",
		Short: "KRT Bank instant payment service",
		Long: `krt-payments accepts instant transfers, drives them through fraud analysis
and the debit/credit saga, and runs the notification, receipt and reconciliation workers.

Configuration comes from an optional file (--config) and KRT_* environment variables.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Path to a config file (yaml, toml or json)")

	rootCmd.AddCommand(newServeCommand(opts))
	rootCmd.AddCommand(newMigrateCommand(opts))
	rootCmd.AddCommand(newReplayCommand(opts))
	rootCmd.AddCommand(newTokenCommand(opts))

	return rootCmd
}

// Execute runs the root command until it finishes or the process is signalled
func Execute(version string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := NewRootCommand(version).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	return nil
}

// load reads the configuration and builds the process logger
func (o *rootOptions) load() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, nil, err
	}
	log, err := logger.NewZapLog(cfg.Log)
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}
