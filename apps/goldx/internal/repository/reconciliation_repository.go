package repository

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"goldexchange/apps/goldx/internal/model"
)

type ReconciliationRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

var _ ReconciliationStore = (*ReconciliationRepository)(nil)

func NewReconciliationRepository(db *sql.DB, logger *zap.Logger) *ReconciliationRepository {
	return &ReconciliationRepository{db: db, logger: logger}
}

func (r *ReconciliationRepository) UpsertCase(ctx context.Context, c model.ReconciliationCase) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO reconciliation_cases (transaction_id, wallet_address, transaction_type, reason, first_leg_signature,
			settlement_amount, token_amount, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 'open')
		ON CONFLICT (transaction_id) DO UPDATE SET
			reason = EXCLUDED.reason,
			first_leg_signature = EXCLUDED.first_leg_signature
		WHERE reconciliation_cases.status = 'open'
	`, c.TransactionID, c.WalletAddress, c.TransactionType, c.Reason, c.FirstLegSignature, c.SettlementAmount, c.TokenAmount)
	if err != nil {
		return fmt.Errorf("failed to upsert reconciliation case: %w", err)
	}

	r.logger.Info("Upserted reconciliation case",
		zap.Int64("transaction_id", c.TransactionID),
		zap.String("wallet_address", c.WalletAddress))
	return nil
}

func (r *ReconciliationRepository) ListCases(ctx context.Context, status string, limit int) ([]model.ReconciliationCase, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT transaction_id, wallet_address, transaction_type, reason, first_leg_signature, settlement_amount, token_amount,
			status, resolution_note, created_at, resolved_at
		FROM reconciliation_cases
		WHERE status = $1
		ORDER BY created_at
		LIMIT $2
	`, status, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list reconciliation cases: %w", err)
	}
	defer rows.Close()

	var cases []model.ReconciliationCase
	for rows.Next() {
		var c model.ReconciliationCase
		if err := rows.Scan(&c.TransactionID, &c.WalletAddress, &c.TransactionType, &c.Reason, &c.FirstLegSignature,
			&c.SettlementAmount, &c.TokenAmount, &c.Status, &c.ResolutionNote, &c.CreatedAt, &c.ResolvedAt); err != nil {
			return nil, fmt.Errorf("failed to scan reconciliation case: %w", err)
		}
		cases = append(cases, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating reconciliation cases: %w", err)
	}

	return cases, nil
}

func (r *ReconciliationRepository) ResolveCase(ctx context.Context, transactionID int64, note string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE reconciliation_cases
		SET status = 'resolved', resolution_note = $1, resolved_at = NOW()
		WHERE transaction_id = $2 AND status = 'open'
	`, note, transactionID)
	if err != nil {
		return fmt.Errorf("failed to resolve reconciliation case: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrCaseNotOpen
	}

	r.logger.Info("Resolved reconciliation case", zap.Int64("transaction_id", transactionID))
	return nil
}
