package exchange

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"goldexchange/apps/goldx/internal/events"
	"goldexchange/apps/goldx/internal/model"
	"goldexchange/apps/goldx/internal/repository"
)

// CancelAbandoned cancels a transaction that is still pending after its
// quote expired. It reports whether the transaction was cancelled.
func (s *Service) CancelAbandoned(ctx context.Context, id int64) (bool, error) {
	cancelled := false
	tx, err := s.store.Transition(ctx, id, func(current model.ExchangeTransaction) (*repository.StatusChange, error) {
		now := s.now()
		if current.Status != model.StatusPending || !now.After(current.QuoteExpiresAt) {
			return nil, nil
		}

		event, err := events.NewOutboxEvent(events.TypeCancelled, current, model.StatusCancelled, "quote expired without confirmation", now)
		if err != nil {
			return nil, err
		}
		cancelled = true
		return &repository.StatusChange{
			Status:  model.StatusCancelled,
			Message: "Cancelled: quote expired without a signed transaction",
			Event:   event,
		}, nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to cancel transaction %d: %w", id, err)
	}
	if cancelled {
		s.observe(tx.Type, OutcomeCancelled)
		s.logger.Info("Cancelled abandoned transaction", zap.Int64("transaction_id", id))
	}
	return cancelled, nil
}

// FailStuck fails a transaction that has been processing for longer than
// timeout. Its first leg may have landed, so it is flagged for
// reconciliation.
func (s *Service) FailStuck(ctx context.Context, tx model.ExchangeTransaction, timeout time.Duration) (bool, error) {
	reason := fmt.Sprintf("settlement did not finish within %s", timeout)
	event, err := events.NewOutboxEvent(events.TypeReconciliationRequired, tx, model.StatusFailed, reason, s.now())
	if err != nil {
		return false, err
	}

	err = s.store.Settle(ctx, tx.ID, model.StatusProcessing, repository.Settlement{
		Status:              model.StatusFailed,
		Message:             "Settlement timed out: " + reason,
		NeedsReconciliation: true,
		Event:               event,
	})
	if errors.Is(err, repository.ErrStatusConflict) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to fail stuck transaction %d: %w", tx.ID, err)
	}

	s.observe(tx.Type, OutcomeReconciliation)
	s.logger.Error("Stuck settlement failed; manual reconciliation required",
		zap.Bool("reconciliation", true),
		zap.Int64("transaction_id", tx.ID),
		zap.String("action", string(tx.Type)),
		zap.String("wallet_address", tx.WalletAddress),
		zap.Time("last_update", tx.UpdatedAt))
	return true, nil
}
