package exchange

import (
	"context"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"goldexchange/apps/goldx/internal/events"
	"goldexchange/apps/goldx/internal/model"
	"goldexchange/apps/goldx/internal/repository"
)

// Confirm settles a pending transaction whose first leg the user signed and
// submitted as signature. At most one call per transaction gets past the
// pending check; that call drives the transaction to completed or failed
// even if ctx is cancelled midway.
func (s *Service) Confirm(ctx context.Context, transactionID int64, signature string) (*model.ExchangeTransaction, error) {
	sig, err := solana.SignatureFromBase58(signature)
	if err != nil || sig.IsZero() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSignature, signature)
	}

	tx, err := s.claim(ctx, transactionID, sig)
	if err != nil {
		return tx, err
	}

	work := context.WithoutCancel(ctx)
	if err := s.settle(work, *tx, sig); err != nil {
		final, loadErr := s.store.GetTransaction(work, transactionID)
		if loadErr != nil {
			s.logger.Error("Failed to reload transaction after settlement", zap.Int64("transaction_id", transactionID), zap.Error(loadErr))
		}
		return final, err
	}
	return s.GetTransaction(work, transactionID)
}

// claim moves the transaction from pending to processing under the row lock,
// recording the first-leg signature. An expired quote fails the transaction
// instead.
func (s *Service) claim(ctx context.Context, id int64, sig solana.Signature) (*model.ExchangeTransaction, error) {
	signature := sig.String()

	tx, err := s.store.Transition(ctx, id, func(current model.ExchangeTransaction) (*repository.StatusChange, error) {
		if current.Status != model.StatusPending {
			return nil, fmt.Errorf("%w: status is %s", ErrTransactionNotPending, current.Status)
		}

		now := s.now()
		if now.After(current.QuoteExpiresAt) {
			event, err := events.NewOutboxEvent(events.TypeFailed, current, model.StatusFailed, "quote expired", now)
			if err != nil {
				return nil, err
			}
			return &repository.StatusChange{
				Status:  model.StatusFailed,
				Message: "Quote expired before the transaction was confirmed",
				Event:   event,
			}, ErrQuoteExpired
		}

		current.TxSignature = &signature
		event, err := events.NewOutboxEvent(events.TypeSubmitted, current, model.StatusProcessing, "", now)
		if err != nil {
			return nil, err
		}
		return &repository.StatusChange{
			Status:      model.StatusProcessing,
			Message:     "Verifying ledger transaction",
			TxSignature: &signature,
			Event:       event,
		}, nil
	})

	switch {
	case errors.Is(err, repository.ErrDuplicateSignature):
		return nil, ErrSignatureReused
	case errors.Is(err, ErrQuoteExpired):
		s.logger.Info("Rejected confirmation of expired quote", zap.Int64("transaction_id", id))
		if tx != nil {
			s.observe(tx.Type, OutcomeFailed)
		}
		return tx, err
	case errors.Is(err, ErrTransactionNotPending):
		return tx, err
	case err != nil:
		return nil, fmt.Errorf("failed to claim transaction: %w", err)
	case tx == nil:
		return nil, ErrTransactionNotFound
	}

	s.logger.Info("Claimed transaction for settlement",
		zap.Int64("transaction_id", id),
		zap.String("action", string(tx.Type)),
		zap.String("signature", signature))
	return tx, nil
}

// settlement carries the obligation to leave a claimed transaction in a
// terminal state. Until discharged, finish writes failed, flagging the
// transaction for reconciliation once the first leg was verified.
type settlement struct {
	svc        *Service
	tx         model.ExchangeTransaction
	verified   bool
	discharged bool
	secondLeg  *string
}

func (s *Service) settle(ctx context.Context, tx model.ExchangeTransaction, sig solana.Signature) (err error) {
	guard := &settlement{svc: s, tx: tx}
	defer guard.finish(ctx, &err)

	if err := s.verifyFirstLeg(ctx, tx, sig); err != nil {
		return err
	}
	guard.verified = true

	leg, err := s.secondLeg(ctx, tx, func(sig solana.Signature) {
		str := sig.String()
		guard.secondLeg = &str
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSecondLegFailed, err)
	}

	tx.SecondLegSignature = guard.secondLeg
	event, err := events.NewOutboxEvent(events.TypeCompleted, tx, model.StatusCompleted, "", s.now())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSecondLegFailed, err)
	}

	err = s.store.Settle(ctx, tx.ID, model.StatusProcessing, repository.Settlement{
		Status:              model.StatusCompleted,
		Message:             leg.message,
		SecondLegSignature:  guard.secondLeg,
		CounterpartyAccount: leg.counterparty,
		MarkQuoteUsed:       true,
		Event:               event,
	})
	if err != nil {
		return fmt.Errorf("%w: second leg landed but completion was not recorded: %v", ErrSecondLegFailed, err)
	}
	guard.discharged = true

	s.observe(tx.Type, OutcomeCompleted)
	s.logger.Info("Completed exchange transaction",
		zap.Int64("transaction_id", tx.ID),
		zap.String("action", string(tx.Type)),
		zap.String("second_leg_signature", *guard.secondLeg),
		zap.String("message", leg.message))
	return nil
}

func (g *settlement) finish(ctx context.Context, errp *error) {
	if r := recover(); r != nil {
		g.svc.logger.Error("Panic during settlement",
			zap.Int64("transaction_id", g.tx.ID),
			zap.Any("panic", r))
		*errp = fmt.Errorf("%w: %v", ErrSettlementAborted, r)
	}
	if g.discharged {
		return
	}

	cause := *errp
	if cause == nil {
		cause = ErrSettlementAborted
	}
	if g.verified && !errors.Is(cause, ErrSecondLegFailed) {
		cause = fmt.Errorf("%w: %v", ErrSecondLegFailed, cause)
	}
	*errp = cause

	eventType, outcome := events.TypeFailed, OutcomeFailed
	if g.verified {
		eventType, outcome = events.TypeReconciliationRequired, OutcomeReconciliation
	}

	tx := g.tx
	tx.SecondLegSignature = g.secondLeg
	reason := cause.Error()
	event, err := events.NewOutboxEvent(eventType, tx, model.StatusFailed, reason, g.svc.now())
	if err != nil {
		g.svc.logger.Error("Failed to encode failure event", zap.Int64("transaction_id", tx.ID), zap.Error(err))
		event = nil
	}

	err = g.svc.store.Settle(ctx, tx.ID, model.StatusProcessing, repository.Settlement{
		Status:              model.StatusFailed,
		Message:             reason,
		SecondLegSignature:  g.secondLeg,
		NeedsReconciliation: g.verified,
		Event:               event,
	})
	if err != nil {
		g.svc.logger.Error("Failed to record settlement failure; left for the sweeper",
			zap.Int64("transaction_id", tx.ID),
			zap.Error(err))
	}

	g.svc.observe(tx.Type, outcome)
	if g.verified {
		fields := []zap.Field{
			zap.Bool("reconciliation", true),
			zap.Int64("transaction_id", tx.ID),
			zap.String("action", string(tx.Type)),
			zap.String("wallet_address", tx.WalletAddress),
			zap.String("settlement_amount", tx.SettlementAmount.String()),
			zap.String("token_amount", tx.TokenAmount.String()),
			zap.Error(cause),
		}
		if tx.TxSignature != nil {
			fields = append(fields, zap.String("first_leg_signature", *tx.TxSignature))
		}
		if g.secondLeg != nil {
			fields = append(fields, zap.String("second_leg_signature", *g.secondLeg))
		}
		g.svc.logger.Error("Second leg failed after first leg was verified; manual reconciliation required", fields...)
		return
	}
	g.svc.logger.Warn("Exchange transaction failed",
		zap.Int64("transaction_id", tx.ID),
		zap.String("action", string(tx.Type)),
		zap.Error(cause))
}
