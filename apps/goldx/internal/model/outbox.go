package model

import (
	"encoding/json"
	"time"
)

const (
	OutboxUnsent     = "unsent"
	OutboxProcessing = "processing"
	OutboxSent       = "sent"
)

type OutboxEvent struct {
	EventID       string          `db:"event_id"`
	EventType     string          `db:"event_type"`
	Status        string          `db:"status"`
	TransactionID int64           `db:"transaction_id"`
	WalletAddress string          `db:"wallet_address"`
	Payload       json.RawMessage `db:"payload"`
	CreatedAt     time.Time       `db:"created_at"`
	// ClaimedAt is when a publisher last took the event; zero until then.
	ClaimedAt time.Time `db:"claimed_at"`
}
