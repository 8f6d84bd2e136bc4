package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"goldexchange/apps/goldx/internal/model"
	"goldexchange/apps/goldx/internal/pricing"
)

type priceSource interface {
	GetPrices(ctx context.Context) model.PriceSnapshot
}

func newPriceCmd() *cobra.Command {
	var (
		action string
		amount string
	)

	cmd := &cobra.Command{
		Use:   "price",
		Short: "Fetch current prices and optionally preview a quote",
		Long:  "price queries the configured oracle sources. With --amount it also prices a buy or sell without issuing a quote.",
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

			var preview *decimal.Decimal
			if amount != "" {
				value, err := decimal.NewFromString(amount)
				if err != nil {
					return fmt.Errorf("invalid --amount: %w", err)
				}
				preview = &value
			}

			return printPrices(cmd.Context(), cmd.OutOrStdout(), core.Oracle, env.cfg.Policy, model.Action(strings.ToLower(action)), preview)
		},
	}

	cmd.Flags().StringVar(&action, "action", string(model.ActionBuy), "action to preview: buy or sell")
	cmd.Flags().StringVar(&amount, "amount", "", "settlement amount to preview")
	return cmd
}

func printPrices(ctx context.Context, out io.Writer, prices priceSource, policy pricing.Policy, action model.Action, amount *decimal.Decimal) error {
	snapshot := prices.GetPrices(ctx)

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "gold price\t%s\n", snapshot.Gold.StringFixed(2))
	fmt.Fprintf(w, "settlement price\t%s\n", snapshot.Settlement.StringFixed(2))
	fmt.Fprintf(w, "token value (settlement)\t%s\n", policy.TokenValueInSettlement(snapshot.Settlement))

	if amount != nil {
		var tokens decimal.Decimal
		switch action {
		case model.ActionBuy:
			tokens = policy.TokenAmountForBuy(*amount, snapshot.Settlement)
		case model.ActionSell:
			tokens = policy.TokenAmountForSell(*amount, snapshot.Settlement)
		default:
			return fmt.Errorf("unknown action %q", action)
		}
		fees := policy.FeeSplit(*amount, action)

		fmt.Fprintf(w, "%s %s\t%s tokens\n", action, amount, tokens.StringFixed(2))
		fmt.Fprintf(w, "  liquidity\t%s\n", fees.Liquidity)
		fmt.Fprintf(w, "  treasury\t%s\n", fees.Treasury)
		fmt.Fprintf(w, "  profit\t%s\n", fees.Profit)
		fmt.Fprintf(w, "  transaction\t%s\n", fees.Transaction)
	}

	return w.Flush()
}
