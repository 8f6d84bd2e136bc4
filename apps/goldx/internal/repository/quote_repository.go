package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"goldexchange/apps/goldx/internal/model"
)

type QuoteRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

var _ QuoteStore = (*QuoteRepository)(nil)

func NewQuoteRepository(db *sql.DB, logger *zap.Logger) *QuoteRepository {
	return &QuoteRepository{db: db, logger: logger}
}

func (r *QuoteRepository) CreateQuote(ctx context.Context, q model.Quote) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO exchange_quotes (quote_id, action, denomination, settlement_amount, token_amount, gold_price, settlement_price,
			liquidity_amount, treasury_fee, profit_fee, transaction_fee, user_wallet, created_at, expires_at, used)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`, q.QuoteID, q.Action, q.Denomination, q.SettlementAmount, q.TokenAmount, q.Prices.Gold, q.Prices.Settlement,
		q.Fees.Liquidity, q.Fees.Treasury, q.Fees.Profit, q.Fees.Transaction, q.WalletAddress, q.CreatedAt, q.ExpiresAt, q.Used)
	if err != nil {
		return fmt.Errorf("failed to create quote: %w", err)
	}

	r.logger.Debug("Created quote",
		zap.String("quote_id", q.QuoteID),
		zap.String("action", string(q.Action)),
		zap.String("settlement_amount", q.SettlementAmount.String()))
	return nil
}

func (r *QuoteRepository) GetQuote(ctx context.Context, quoteID string) (*model.Quote, error) {
	var q model.Quote
	err := r.db.QueryRowContext(ctx, `
		SELECT quote_id, action, denomination, settlement_amount, token_amount, gold_price, settlement_price,
			liquidity_amount, treasury_fee, profit_fee, transaction_fee, user_wallet, created_at, expires_at, used
		FROM exchange_quotes
		WHERE quote_id = $1
	`, quoteID).Scan(&q.QuoteID, &q.Action, &q.Denomination, &q.SettlementAmount, &q.TokenAmount, &q.Prices.Gold, &q.Prices.Settlement,
		&q.Fees.Liquidity, &q.Fees.Treasury, &q.Fees.Profit, &q.Fees.Transaction, &q.WalletAddress, &q.CreatedAt, &q.ExpiresAt, &q.Used)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get quote: %w", err)
	}

	return &q, nil
}

// BindWallet records the consuming wallet. The expiry and price snapshot are
// never touched.
func (r *QuoteRepository) BindWallet(ctx context.Context, quoteID, walletAddress string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE exchange_quotes SET user_wallet = $1
		WHERE quote_id = $2 AND (user_wallet = '' OR user_wallet = $1)
	`, walletAddress, quoteID)
	if err != nil {
		return fmt.Errorf("failed to bind quote wallet: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil || n > 0 {
		return nil
	}

	var exists bool
	if err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM exchange_quotes WHERE quote_id = $1)
	`, quoteID).Scan(&exists); err != nil {
		return fmt.Errorf("failed to look up quote: %w", err)
	}
	if !exists {
		return ErrQuoteMissing
	}
	return ErrQuoteBound
}
