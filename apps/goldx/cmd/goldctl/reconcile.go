package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"goldexchange/apps/goldx/internal/model"
	"goldexchange/apps/goldx/internal/repository"
)

func newReconcileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Inspect and resolve settlements that need manual reconciliation",
	}

	var (
		status string
		limit  int
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "List reconciliation cases",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := loadEnvironment(cmd.Context())
			if err != nil {
				return err
			}
			defer env.Close()

			return listCases(cmd.Context(), cmd.OutOrStdout(), env.stores.Cases, status, limit)
		},
	}
	list.Flags().StringVar(&status, "status", model.CaseOpen, "case status: open or resolved")
	list.Flags().IntVar(&limit, "limit", 50, "maximum number of cases")

	var note string
	resolve := &cobra.Command{
		Use:   "resolve <transaction-id>",
		Short: "Mark a reconciliation case as resolved",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid transaction id %q", args[0])
			}

			env, err := loadEnvironment(cmd.Context())
			if err != nil {
				return err
			}
			defer env.Close()

			return resolveCase(cmd.Context(), cmd.OutOrStdout(), env.stores.Cases, id, note)
		},
	}
	resolve.Flags().StringVar(&note, "note", "", "what was done to settle the case (required)")
	_ = resolve.MarkFlagRequired("note")

	cmd.AddCommand(list, resolve)
	return cmd
}

func listCases(ctx context.Context, out io.Writer, cases repository.ReconciliationStore, status string, limit int) error {
	if status != model.CaseOpen && status != model.CaseResolved {
		return fmt.Errorf("unknown status %q", status)
	}

	found, err := cases.ListCases(ctx, status, limit)
	if err != nil {
		return err
	}
	if len(found) == 0 {
		fmt.Fprintf(out, "no %s cases\n", status)
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TRANSACTION\tTYPE\tWALLET\tSETTLEMENT\tTOKENS\tOPENED\tREASON")
	for _, c := range found {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			c.TransactionID,
			c.TransactionType,
			c.WalletAddress,
			c.SettlementAmount,
			c.TokenAmount,
			c.CreatedAt.UTC().Format(time.RFC3339),
			c.Reason)
	}
	return w.Flush()
}

func resolveCase(ctx context.Context, out io.Writer, cases repository.ReconciliationStore, transactionID int64, note string) error {
	if note == "" {
		return errors.New("a resolution note is required")
	}

	if err := cases.ResolveCase(ctx, transactionID, note); err != nil {
		if errors.Is(err, repository.ErrCaseNotOpen) {
			return fmt.Errorf("no open case for transaction %d", transactionID)
		}
		return err
	}

	fmt.Fprintf(out, "resolved case for transaction %d\n", transactionID)
	return nil
}
