package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"goldexchange/apps/goldx/internal/model"
)

type OutboxRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

var _ OutboxStore = (*OutboxRepository)(nil)

func NewOutboxRepository(db *sql.DB, logger *zap.Logger) *OutboxRepository {
	return &OutboxRepository{db: db, logger: logger}
}

// insertOutboxEvent writes an event inside the caller's transaction so it
// commits or rolls back together with the state change it describes.
func insertOutboxEvent(ctx context.Context, tx *sql.Tx, event *model.OutboxEvent) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO exchange_events (event_id, event_type, status, transaction_id, wallet_address, payload)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, event.EventID, event.EventType, model.OutboxUnsent, event.TransactionID, event.WalletAddress, []byte(event.Payload))
	if err != nil {
		return fmt.Errorf("failed to store outbox event: %w", err)
	}
	return nil
}

func (r *OutboxRepository) ClaimUnsentEvents(ctx context.Context, limit int, lease time.Duration) ([]model.OutboxEvent, error) {
	// Use a transaction to ensure atomicity
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback() // Will be ignored if tx.Commit() succeeds

	// Select and lock unsent events, plus claims a crashed publisher left behind
	rows, err := tx.QueryContext(ctx, `
		SELECT event_id, event_type, status, transaction_id, wallet_address, payload, created_at
		FROM exchange_events
		WHERE status = 'unsent'
		   OR (status = 'processing' AND (claimed_at IS NULL OR claimed_at < NOW() - make_interval(secs => $2)))
		ORDER BY created_at
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, limit, lease.Seconds())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []model.OutboxEvent
	for rows.Next() {
		var event model.OutboxEvent
		var payload []byte
		if err := rows.Scan(&event.EventID, &event.EventType, &event.Status, &event.TransactionID,
			&event.WalletAddress, &payload, &event.CreatedAt); err != nil {
			return nil, err
		}
		event.Payload = payload
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	for i := range events {
		if events[i].Status == model.OutboxProcessing {
			r.logger.Warn("Reclaiming stale outbox event", zap.String("event_id", events[i].EventID))
		}
		// Mark selected events as 'processing' to prevent other publishers from picking them up
		if err := tx.QueryRowContext(ctx, `
			UPDATE exchange_events SET status = 'processing', claimed_at = NOW()
			WHERE event_id = $1
			RETURNING claimed_at
		`, events[i].EventID).Scan(&events[i].ClaimedAt); err != nil {
			return nil, err
		}
		events[i].Status = model.OutboxProcessing
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return events, nil
}

func (r *OutboxRepository) MarkEventSent(ctx context.Context, eventID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE exchange_events SET status = 'sent' WHERE event_id = $1
	`, eventID)
	return err
}

// MarkEventUnsent returns a claimed event to the queue for another attempt.
func (r *OutboxRepository) MarkEventUnsent(ctx context.Context, eventID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE exchange_events SET status = 'unsent' WHERE event_id = $1 AND status = 'processing'
	`, eventID)
	return err
}
