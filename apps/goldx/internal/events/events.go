package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"goldexchange/apps/goldx/internal/model"
)

const (
	TypeSubmitted              = "exchange.submitted"
	TypeCompleted              = "exchange.completed"
	TypeFailed                 = "exchange.failed"
	TypeCancelled              = "exchange.cancelled"
	TypeReconciliationRequired = "exchange.reconciliation_required"
)

// ExchangeEvent is the message published for every exchange status change.
type ExchangeEvent struct {
	EventID            string          `json:"event_id"`
	EventType          string          `json:"event_type"`
	TransactionID      int64           `json:"transaction_id"`
	WalletAddress      string          `json:"wallet_address"`
	TransactionType    model.Action    `json:"transaction_type"`
	Status             model.Status    `json:"status"`
	SettlementAmount   decimal.Decimal `json:"settlement_amount"`
	TokenAmount        decimal.Decimal `json:"token_amount"`
	FirstLegSignature  string          `json:"first_leg_signature,omitempty"`
	SecondLegSignature string          `json:"second_leg_signature,omitempty"`
	Reason             string          `json:"reason,omitempty"`
	Timestamp          time.Time       `json:"timestamp"`
}

// NewOutboxEvent renders the event for tx after it moves to status, ready to
// be written in the same database transaction as the status change.
func NewOutboxEvent(eventType string, tx model.ExchangeTransaction, status model.Status, reason string, at time.Time) (*model.OutboxEvent, error) {
	msg := ExchangeEvent{
		EventID:          uuid.New().String(),
		EventType:        eventType,
		TransactionID:    tx.ID,
		WalletAddress:    tx.WalletAddress,
		TransactionType:  tx.Type,
		Status:           status,
		SettlementAmount: tx.SettlementAmount,
		TokenAmount:      tx.TokenAmount,
		Reason:           reason,
		Timestamp:        at,
	}
	if tx.TxSignature != nil {
		msg.FirstLegSignature = *tx.TxSignature
	}
	if tx.SecondLegSignature != nil {
		msg.SecondLegSignature = *tx.SecondLegSignature
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s event: %w", eventType, err)
	}

	return &model.OutboxEvent{
		EventID:       msg.EventID,
		EventType:     eventType,
		TransactionID: tx.ID,
		WalletAddress: tx.WalletAddress,
		Payload:       payload,
		CreatedAt:     at,
	}, nil
}

// Decode parses a published message.
func Decode(data []byte) (*ExchangeEvent, error) {
	var e ExchangeEvent
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("failed to decode exchange event: %w", err)
	}
	if e.EventType == "" || e.TransactionID == 0 {
		return nil, fmt.Errorf("exchange event is missing type or transaction id")
	}
	return &e, nil
}
