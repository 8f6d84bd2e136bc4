// Command goldctl is the operator tool for the gold exchange: price checks,
// reconciliation case handling and one-shot recovery sweeps.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"goldexchange/apps/goldx/internal/app"
	"goldexchange/apps/goldx/internal/config"
)

var (
	version = "dev"
	commit  = "none"

	rootCmd = &cobra.Command{
		Use:           "goldctl",
		Short:         "gold exchange operator tool",
		Long:          "goldctl reads the same environment as the goldx server and operates on its database and ledger",
		Version:       fmt.Sprintf("%s (%s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func init() {
	rootCmd.AddCommand(newPriceCmd(), newReconcileCmd(), newSweepCmd())
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// environment is what every subcommand needs: configuration, a logger and
// the stores.
type environment struct {
	cfg    *config.Config
	logger *zap.Logger
	stores *app.Stores
}

func loadEnvironment(ctx context.Context) (*environment, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger, err := app.NewLogger(cfg)
	if err != nil {
		return nil, err
	}

	stores, err := app.OpenStores(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	return &environment{cfg: cfg, logger: logger, stores: stores}, nil
}

func (e *environment) Close() {
	e.stores.Close()
	e.logger.Sync()
}
