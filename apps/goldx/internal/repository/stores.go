package repository

import (
	"context"
	"errors"
	"time"

	"goldexchange/apps/goldx/internal/model"
)

var (
	ErrDuplicateQuote     = errors.New("a transaction already exists for this quote")
	ErrDuplicateSignature = errors.New("signature already recorded on another transaction")
	ErrStatusConflict     = errors.New("transaction is not in the expected status")
	ErrQuoteMissing       = errors.New("quote does not exist")
	ErrQuoteBound         = errors.New("quote is bound to another wallet")
	ErrCaseNotOpen        = errors.New("reconciliation case is not open")
)

// QuoteStore persists quotes. Lookups return nil, nil when nothing matches.
type QuoteStore interface {
	CreateQuote(ctx context.Context, quote model.Quote) error
	GetQuote(ctx context.Context, quoteID string) (*model.Quote, error)
	// BindWallet records walletAddress on an unbound quote. Rebinding the
	// same wallet succeeds; another wallet gets ErrQuoteBound.
	BindWallet(ctx context.Context, quoteID, walletAddress string) error
}

// StatusChange is applied to a transaction while its row lock is held.
type StatusChange struct {
	Status      model.Status
	Message     string
	TxSignature *string
	Event       *model.OutboxEvent
}

// Settlement is a terminal write, applied only if the row is still in the
// expected source status.
type Settlement struct {
	Status              model.Status
	Message             string
	SecondLegSignature  *string
	CounterpartyAccount string
	NeedsReconciliation bool
	MarkQuoteUsed       bool
	Event               *model.OutboxEvent
}

// Decide inspects the locked row and returns the change to apply, if any.
// A non-nil error is returned to the caller after the change is committed.
type Decide func(current model.ExchangeTransaction) (*StatusChange, error)

type TransactionStore interface {
	// CreateTransaction inserts tx and fills in its ID and timestamps.
	CreateTransaction(ctx context.Context, tx *model.ExchangeTransaction) error
	GetTransaction(ctx context.Context, id int64) (*model.ExchangeTransaction, error)
	GetTransactionByQuoteID(ctx context.Context, quoteID string) (*model.ExchangeTransaction, error)
	// Transition locks the row, hands it to decide and applies the returned
	// change atomically. A missing row yields nil, nil without calling decide.
	Transition(ctx context.Context, id int64, decide Decide) (*model.ExchangeTransaction, error)
	// Settle moves a transaction from one status to a terminal one. It returns
	// ErrStatusConflict when the row is no longer in from.
	Settle(ctx context.Context, id int64, from model.Status, settlement Settlement) error
	ListByWallet(ctx context.Context, walletAddress string, limit int) ([]model.ExchangeTransaction, error)
	ListRecent(ctx context.Context, limit int) ([]model.ExchangeTransaction, error)
	ListStuckProcessing(ctx context.Context, updatedBefore time.Time, limit int) ([]model.ExchangeTransaction, error)
	ListAbandonedPending(ctx context.Context, quoteExpiredBefore time.Time, limit int) ([]model.ExchangeTransaction, error)
	Stats(ctx context.Context) (*model.Stats, error)
}

type OutboxStore interface {
	// ClaimUnsentEvents marks up to limit events processing and returns them.
	// Events left processing for longer than lease are claimed again.
	ClaimUnsentEvents(ctx context.Context, limit int, lease time.Duration) ([]model.OutboxEvent, error)
	MarkEventSent(ctx context.Context, eventID string) error
	MarkEventUnsent(ctx context.Context, eventID string) error
}

type ReconciliationStore interface {
	// UpsertCase records a case once per transaction; a resolved case is not
	// reopened by a redelivered event.
	UpsertCase(ctx context.Context, c model.ReconciliationCase) error
	ListCases(ctx context.Context, status string, limit int) ([]model.ReconciliationCase, error)
	ResolveCase(ctx context.Context, transactionID int64, note string) error
}
