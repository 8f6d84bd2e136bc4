package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"goldexchange/apps/goldx/internal/model"
)

const transactionColumns = `id, wallet_address, transaction_type, settlement_amount, token_amount, gold_price, settlement_price,
	liquidity_amount, treasury_fee, profit_fee, transaction_fee, status, tx_signature, second_leg_signature,
	counterparty_account, status_message, needs_reconciliation, quote_id, quote_expires_at, created_at, updated_at, completed_at`

const uniqueViolation = "23505"

type TransactionRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

var _ TransactionStore = (*TransactionRepository)(nil)

func NewTransactionRepository(db *sql.DB, logger *zap.Logger) *TransactionRepository {
	return &TransactionRepository{db: db, logger: logger}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (*model.ExchangeTransaction, error) {
	var t model.ExchangeTransaction
	err := row.Scan(&t.ID, &t.WalletAddress, &t.Type, &t.SettlementAmount, &t.TokenAmount, &t.Prices.Gold, &t.Prices.Settlement,
		&t.Fees.Liquidity, &t.Fees.Treasury, &t.Fees.Profit, &t.Fees.Transaction, &t.Status, &t.TxSignature, &t.SecondLegSignature,
		&t.CounterpartyAccount, &t.StatusMessage, &t.NeedsReconciliation, &t.QuoteID, &t.QuoteExpiresAt, &t.CreatedAt, &t.UpdatedAt, &t.CompletedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// mapUniqueViolation converts unique-constraint failures into store errors.
func mapUniqueViolation(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || pqErr.Code != uniqueViolation {
		return err
	}
	switch pqErr.Constraint {
	case "uq_exchange_transactions_quote":
		return ErrDuplicateQuote
	case "uq_exchange_transactions_signature":
		return ErrDuplicateSignature
	default:
		return err
	}
}

func (r *TransactionRepository) CreateTransaction(ctx context.Context, t *model.ExchangeTransaction) error {
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO exchange_transactions (wallet_address, transaction_type, settlement_amount, token_amount, gold_price, settlement_price,
			liquidity_amount, treasury_fee, profit_fee, transaction_fee, status, quote_id, quote_expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id, created_at, updated_at
	`, t.WalletAddress, t.Type, t.SettlementAmount, t.TokenAmount, t.Prices.Gold, t.Prices.Settlement,
		t.Fees.Liquidity, t.Fees.Treasury, t.Fees.Profit, t.Fees.Transaction, t.Status, t.QuoteID, t.QuoteExpiresAt,
	).Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if mapped := mapUniqueViolation(err); mapped != err {
			return mapped
		}
		return fmt.Errorf("failed to create transaction: %w", err)
	}

	r.logger.Info("Created exchange transaction",
		zap.Int64("transaction_id", t.ID),
		zap.String("transaction_type", string(t.Type)),
		zap.String("wallet_address", t.WalletAddress),
		zap.String("quote_id", t.QuoteID))
	return nil
}

func (r *TransactionRepository) GetTransaction(ctx context.Context, id int64) (*model.ExchangeTransaction, error) {
	t, err := scanTransaction(r.db.QueryRowContext(ctx, `SELECT `+transactionColumns+` FROM exchange_transactions WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return t, nil
}

func (r *TransactionRepository) GetTransactionByQuoteID(ctx context.Context, quoteID string) (*model.ExchangeTransaction, error) {
	t, err := scanTransaction(r.db.QueryRowContext(ctx, `SELECT `+transactionColumns+` FROM exchange_transactions WHERE quote_id = $1`, quoteID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get transaction by quote: %w", err)
	}
	return t, nil
}

func (r *TransactionRepository) Transition(ctx context.Context, id int64, decide Decide) (*model.ExchangeTransaction, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() // Will be ignored if tx.Commit() succeeds

	current, err := scanTransaction(tx.QueryRowContext(ctx, `SELECT `+transactionColumns+` FROM exchange_transactions WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to lock transaction: %w", err)
	}

	change, decideErr := decide(*current)
	if change == nil {
		return current, decideErr
	}

	err = tx.QueryRowContext(ctx, `
		UPDATE exchange_transactions
		SET status = $1, status_message = $2, tx_signature = COALESCE($3, tx_signature), updated_at = NOW()
		WHERE id = $4
		RETURNING updated_at
	`, change.Status, change.Message, change.TxSignature, id).Scan(&current.UpdatedAt)
	if err != nil {
		if mapped := mapUniqueViolation(err); mapped != err {
			return nil, mapped
		}
		return nil, fmt.Errorf("failed to update transaction status: %w", err)
	}

	if change.Event != nil {
		if err := insertOutboxEvent(ctx, tx, change.Event); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit status change: %w", err)
	}

	current.Status = change.Status
	current.StatusMessage = change.Message
	if change.TxSignature != nil {
		current.TxSignature = change.TxSignature
	}

	r.logger.Info("Transitioned exchange transaction",
		zap.Int64("transaction_id", id),
		zap.String("status", string(change.Status)))
	return current, decideErr
}

func (r *TransactionRepository) Settle(ctx context.Context, id int64, from model.Status, s Settlement) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var quoteID string
	err = tx.QueryRowContext(ctx, `
		UPDATE exchange_transactions
		SET status = $1, status_message = $2, second_leg_signature = COALESCE($3, second_leg_signature),
			counterparty_account = CASE WHEN $4 = '' THEN counterparty_account ELSE $4 END,
			needs_reconciliation = $5, updated_at = NOW(),
			completed_at = CASE WHEN $1 = 'completed' THEN NOW() ELSE completed_at END
		WHERE id = $6 AND status = $7
		RETURNING quote_id
	`, s.Status, s.Message, s.SecondLegSignature, s.CounterpartyAccount, s.NeedsReconciliation, id, from).Scan(&quoteID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrStatusConflict
		}
		return fmt.Errorf("failed to settle transaction: %w", err)
	}

	if s.MarkQuoteUsed {
		if _, err := tx.ExecContext(ctx, `UPDATE exchange_quotes SET used = TRUE WHERE quote_id = $1`, quoteID); err != nil {
			return fmt.Errorf("failed to mark quote used: %w", err)
		}
	}

	if s.Event != nil {
		if err := insertOutboxEvent(ctx, tx, s.Event); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit settlement: %w", err)
	}

	r.logger.Info("Settled exchange transaction",
		zap.Int64("transaction_id", id),
		zap.String("from_status", string(from)),
		zap.String("status", string(s.Status)),
		zap.Bool("needs_reconciliation", s.NeedsReconciliation))
	return nil
}

func (r *TransactionRepository) ListByWallet(ctx context.Context, walletAddress string, limit int) ([]model.ExchangeTransaction, error) {
	return r.list(ctx, `SELECT `+transactionColumns+` FROM exchange_transactions WHERE wallet_address = $1 ORDER BY created_at DESC, id DESC LIMIT $2`, walletAddress, limit)
}

func (r *TransactionRepository) ListRecent(ctx context.Context, limit int) ([]model.ExchangeTransaction, error) {
	return r.list(ctx, `SELECT `+transactionColumns+` FROM exchange_transactions ORDER BY created_at DESC, id DESC LIMIT $1`, limit)
}

func (r *TransactionRepository) ListStuckProcessing(ctx context.Context, updatedBefore time.Time, limit int) ([]model.ExchangeTransaction, error) {
	return r.list(ctx, `SELECT `+transactionColumns+` FROM exchange_transactions WHERE status = 'processing' AND updated_at < $1 ORDER BY updated_at LIMIT $2`, updatedBefore, limit)
}

func (r *TransactionRepository) ListAbandonedPending(ctx context.Context, quoteExpiredBefore time.Time, limit int) ([]model.ExchangeTransaction, error) {
	return r.list(ctx, `SELECT `+transactionColumns+` FROM exchange_transactions WHERE status = 'pending' AND quote_expires_at < $1 ORDER BY quote_expires_at LIMIT $2`, quoteExpiredBefore, limit)
}

func (r *TransactionRepository) list(ctx context.Context, query string, args ...any) ([]model.ExchangeTransaction, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var transactions []model.ExchangeTransaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		transactions = append(transactions, *t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transactions: %w", err)
	}

	return transactions, nil
}

func (r *TransactionRepository) Stats(ctx context.Context) (*model.Stats, error) {
	stats := &model.Stats{CountsByStatus: make(map[model.Status]int64)}

	rows, err := r.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM exchange_transactions GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count transactions: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status model.Status
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan status count: %w", err)
		}
		stats.CountsByStatus[status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating status counts: %w", err)
	}

	err = r.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(settlement_amount) FILTER (WHERE status = 'completed' AND transaction_type = 'buy'), 0),
			COALESCE(SUM(settlement_amount) FILTER (WHERE status = 'completed' AND transaction_type = 'sell'), 0),
			COALESCE(SUM(token_amount) FILTER (WHERE status = 'completed' AND transaction_type = 'buy'), 0),
			COALESCE(SUM(token_amount) FILTER (WHERE status = 'completed' AND transaction_type = 'sell'), 0),
			COALESCE(SUM(treasury_fee + profit_fee + transaction_fee) FILTER (WHERE status = 'completed' AND transaction_type = 'buy'), 0),
			COUNT(*) FILTER (WHERE needs_reconciliation)
		FROM exchange_transactions
	`).Scan(&stats.SettlementIn, &stats.SettlementOut, &stats.TokensMinted, &stats.TokensBurned, &stats.FeesCollected, &stats.Flagged)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate transactions: %w", err)
	}

	return stats, nil
}
