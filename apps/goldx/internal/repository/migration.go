package repository

import (
	"context"
	"database/sql"
	"fmt"
)

// InitMigration creates the exchange tables. In production, this would use a
// proper migration library like go-migrate
func InitMigration(ctx context.Context, db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS exchange_quotes (
			quote_id VARCHAR(64) PRIMARY KEY,
			action VARCHAR(10) NOT NULL,
			denomination VARCHAR(20) NOT NULL DEFAULT 'settlement',
			settlement_amount NUMERIC(30,9) NOT NULL,
			token_amount NUMERIC(30,2) NOT NULL,
			gold_price NUMERIC(20,8) NOT NULL,
			settlement_price NUMERIC(20,8) NOT NULL,
			liquidity_amount NUMERIC(30,9) NOT NULL DEFAULT 0,
			treasury_fee NUMERIC(30,9) NOT NULL DEFAULT 0,
			profit_fee NUMERIC(30,9) NOT NULL DEFAULT 0,
			transaction_fee NUMERIC(30,9) NOT NULL DEFAULT 0,
			user_wallet VARCHAR(44) NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			expires_at TIMESTAMPTZ NOT NULL,
			used BOOLEAN NOT NULL DEFAULT FALSE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_exchange_quotes_expires ON exchange_quotes (expires_at)`,
		`CREATE TABLE IF NOT EXISTS exchange_transactions (
			id BIGSERIAL PRIMARY KEY,
			wallet_address VARCHAR(44) NOT NULL,
			transaction_type VARCHAR(10) NOT NULL,
			settlement_amount NUMERIC(30,9) NOT NULL,
			token_amount NUMERIC(30,2) NOT NULL,
			gold_price NUMERIC(20,8) NOT NULL,
			settlement_price NUMERIC(20,8) NOT NULL,
			liquidity_amount NUMERIC(30,9) NOT NULL DEFAULT 0,
			treasury_fee NUMERIC(30,9) NOT NULL DEFAULT 0,
			profit_fee NUMERIC(30,9) NOT NULL DEFAULT 0,
			transaction_fee NUMERIC(30,9) NOT NULL DEFAULT 0,
			status VARCHAR(20) NOT NULL DEFAULT 'pending',
			tx_signature VARCHAR(100),
			second_leg_signature VARCHAR(100),
			counterparty_account VARCHAR(44) NOT NULL DEFAULT '',
			status_message TEXT NOT NULL DEFAULT '',
			needs_reconciliation BOOLEAN NOT NULL DEFAULT FALSE,
			quote_id VARCHAR(64) NOT NULL REFERENCES exchange_quotes (quote_id),
			quote_expires_at TIMESTAMPTZ NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			completed_at TIMESTAMPTZ,
			CONSTRAINT uq_exchange_transactions_quote UNIQUE (quote_id),
			CONSTRAINT uq_exchange_transactions_signature UNIQUE (tx_signature)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_exchange_transactions_wallet ON exchange_transactions (wallet_address, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_exchange_transactions_status ON exchange_transactions (status, updated_at)`,
		`CREATE TABLE IF NOT EXISTS exchange_events (
			event_id UUID PRIMARY KEY,
			event_type VARCHAR(50) NOT NULL,
			status VARCHAR(20) NOT NULL DEFAULT 'unsent',
			transaction_id BIGINT NOT NULL,
			wallet_address VARCHAR(44) NOT NULL,
			payload JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			claimed_at TIMESTAMPTZ
		)`,
		`ALTER TABLE exchange_events ADD COLUMN IF NOT EXISTS claimed_at TIMESTAMPTZ`,
		`CREATE INDEX IF NOT EXISTS idx_exchange_events_status ON exchange_events (status, created_at)`,
		`CREATE TABLE IF NOT EXISTS reconciliation_cases (
			transaction_id BIGINT PRIMARY KEY,
			wallet_address VARCHAR(44) NOT NULL,
			transaction_type VARCHAR(10) NOT NULL,
			reason TEXT NOT NULL,
			first_leg_signature VARCHAR(100) NOT NULL DEFAULT '',
			settlement_amount NUMERIC(30,9) NOT NULL,
			token_amount NUMERIC(30,2) NOT NULL,
			status VARCHAR(20) NOT NULL DEFAULT 'open',
			resolution_note TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			resolved_at TIMESTAMPTZ
		)`,
	}

	for _, query := range queries {
		if _, err := db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to execute query %s: %w", query, err)
		}
	}

	return nil
}
