// Package sweeper periodically moves transactions that can no longer make
// progress on their own into a terminal state.
package sweeper

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"goldexchange/apps/goldx/internal/config"
	"goldexchange/apps/goldx/internal/model"
	"goldexchange/apps/goldx/internal/repository"
)

const batchSize = 100

// Exchange performs the terminal transitions; the sweeper only finds
// candidates.
type Exchange interface {
	CancelAbandoned(ctx context.Context, id int64) (bool, error)
	FailStuck(ctx context.Context, tx model.ExchangeTransaction, timeout time.Duration) (bool, error)
}

type Result struct {
	Cancelled int
	Failed    int
}

type Sweeper struct {
	cfg      config.SweeperConfig
	store    repository.TransactionStore
	exchange Exchange
	logger   *zap.Logger
	now      func() time.Time
}

func New(cfg config.SweeperConfig, store repository.TransactionStore, exchange Exchange, logger *zap.Logger) *Sweeper {
	return &Sweeper{
		cfg:      cfg,
		store:    store,
		exchange: exchange,
		logger:   logger,
		now:      time.Now,
	}
}

func (s *Sweeper) Start(ctx context.Context) error {
	s.logger.Info("Starting transaction sweeper...",
		zap.Duration("interval", s.cfg.Interval),
		zap.Duration("processing_timeout", s.cfg.ProcessingTimeout),
		zap.Duration("pending_grace", s.cfg.PendingGrace))

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				s.logger.Error("Error sweeping transactions", zap.Error(err))
			}
		}
	}
}

// Sweep fails transactions stuck in processing and cancels pending ones
// whose quote expired more than the grace period ago.
func (s *Sweeper) Sweep(ctx context.Context) (Result, error) {
	var result Result
	now := s.now()

	stuck, err := s.store.ListStuckProcessing(ctx, now.Add(-s.cfg.ProcessingTimeout), batchSize)
	if err != nil {
		return result, fmt.Errorf("failed to list stuck transactions: %w", err)
	}
	for _, tx := range stuck {
		failed, err := s.exchange.FailStuck(ctx, tx, s.cfg.ProcessingTimeout)
		if err != nil {
			s.logger.Error("Failed to fail stuck transaction", zap.Int64("transaction_id", tx.ID), zap.Error(err))
			continue
		}
		if failed {
			result.Failed++
		}
	}

	abandoned, err := s.store.ListAbandonedPending(ctx, now.Add(-s.cfg.PendingGrace), batchSize)
	if err != nil {
		return result, fmt.Errorf("failed to list abandoned transactions: %w", err)
	}
	for _, tx := range abandoned {
		cancelled, err := s.exchange.CancelAbandoned(ctx, tx.ID)
		if err != nil {
			s.logger.Error("Failed to cancel abandoned transaction", zap.Int64("transaction_id", tx.ID), zap.Error(err))
			continue
		}
		if cancelled {
			result.Cancelled++
		}
	}

	if result.Failed > 0 || result.Cancelled > 0 {
		s.logger.Info("Swept transactions", zap.Int("failed", result.Failed), zap.Int("cancelled", result.Cancelled))
	}
	return result, nil
}
