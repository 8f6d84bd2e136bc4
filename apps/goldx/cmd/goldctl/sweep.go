package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"goldexchange/apps/goldx/internal/app"
	"goldexchange/apps/goldx/internal/sweeper"
)

func newSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one recovery sweep over stale transactions",
		Long:  "sweep fails transactions stuck in processing and cancels abandoned pending ones, using the server's sweeper settings.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := loadEnvironment(cmd.Context())
			if err != nil {
				return err
			}
			defer env.Close()

			core, err := newCore(cmd.Context(), env)
			if err != nil {
				return err
			}
			defer core.Close()

			result, err := sweeper.New(env.cfg.Sweeper, env.stores.Transactions, core.Exchange, env.logger).Sweep(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "failed %d stuck, cancelled %d abandoned\n", result.Failed, result.Cancelled)
			return nil
		},
	}
}

func newCore(ctx context.Context, env *environment) (*app.Core, error) {
	return app.NewCore(ctx, env.cfg, env.stores, nil, env.logger)
}
