// Package cmd defines and implements the CLI commands for the fetchgate executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/fetchgate/internal/config"
	"github.com/JakeFAU/fetchgate/internal/gateway"
	"github.com/JakeFAU/fetchgate/internal/logging"
	"github.com/JakeFAU/fetchgate/internal/server"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App defines what the subcommands need from the application.
type App interface {
	Run(ctx context.Context) error
	Gateway() *gateway.Gateway
	Close(ctx context.Context) error
}

// newApp is the application factory. It's a variable so tests can replace it.
var newApp = func(ctx context.Context, cfg *config.Config, logger *zap.Logger) (App, error) {
	return server.Build(ctx, cfg, logger)
}

// newRootCmd creates and configures the root command. The returned shutdown
// func releases what PersistentPreRunE built; call it after execution whether
// or not the command failed, since cobra skips post-run hooks on error.
func newRootCmd() (*cobra.Command, func(context.Context)) {
	var (
		cfgFile     string
		appInstance App
		logger      *zap.Logger
	)

	cmd := &cobra.Command{
		Use:   "fetchgate",
		Short: "An SSRF-safe fetch gateway.",
		Long: `fetchgate fetches caller-supplied URLs on their behalf. Every request is
checked against local and private address ranges, the target's robots.txt is
honored, and each outbound fetch is bounded by an explicit timeout.`,
		SilenceUsage: true,

		// Config, logger and app are built once here, before any subcommand runs.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err = logging.New(cfg.Logging.Development)
			if err != nil {
				return fmt.Errorf("logger init failed: %w", err)
			}
			zap.ReplaceGlobals(logger)

			appInstance, err = newApp(cmd.Context(), &cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}

			ctx := context.WithValue(cmd.Context(), appKey, appInstance)
			cmd.SetContext(logging.IntoContext(ctx, logger))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML); FETCHGATE_* env vars override it")

	cmd.AddCommand(newServeCmd(), newFetchCmd())

	shutdown := func(ctx context.Context) {
		if logger == nil {
			return
		}
		if appInstance != nil {
			if err := appInstance.Close(context.WithoutCancel(ctx)); err != nil {
				logger.Warn("application close failed", zap.Error(err))
			}
		}
		// Sync on stderr returns EINVAL on some platforms.
		_ = logger.Sync()
	}
	return cmd, shutdown
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute is the main entry point.
func Execute() {
	ctx := context.Background()
	cmd, shutdown := newRootCmd()
	err := cmd.ExecuteContext(ctx)
	shutdown(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
