// Package exchange runs the buy and sell state machine: it turns a quote into
// an unsigned first leg for the user to sign, verifies the signed leg on the
// ledger and performs the system's second leg.
package exchange

import (
	"context"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"goldexchange/apps/goldx/internal/assets"
	"goldexchange/apps/goldx/internal/config"
	"goldexchange/apps/goldx/internal/ledger"
	"goldexchange/apps/goldx/internal/model"
	"goldexchange/apps/goldx/internal/quotes"
	"goldexchange/apps/goldx/internal/repository"
)

// Ledger is the subset of the cluster client the orchestrator drives.
type Ledger interface {
	LatestBlockhash(ctx context.Context) (solana.Hash, error)
	AccountExists(ctx context.Context, account solana.PublicKey) (bool, error)
	SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error)
	GetTransaction(ctx context.Context, sig solana.Signature) (*ledger.TransactionResult, error)
	GetSignatureStatus(ctx context.Context, sig solana.Signature) (*ledger.SignatureStatus, error)
	Commitment() string
}

// Signers hands out the keys of system-owned accounts.
type Signers interface {
	Signer(role ledger.Role) (solana.PrivateKey, error)
}

// Metrics receives settlement outcomes. A nil Metrics is allowed.
type Metrics interface {
	Settlement(action, outcome string)
}

const (
	OutcomeCompleted      = "completed"
	OutcomeFailed         = "failed"
	OutcomeReconciliation = "reconciliation"
	OutcomeCancelled      = "cancelled"
)

// Wallets are the fee destinations of a buy.
type Wallets struct {
	Liquidity      solana.PublicKey
	Treasury       solana.PublicKey
	Profit         solana.PublicKey
	TransactionFee solana.PublicKey
}

// WalletsFromConfig decodes the configured destinations. An unset liquidity
// wallet falls back to liquidityDefault.
func WalletsFromConfig(cfg config.WalletConfig, liquidityDefault solana.PublicKey) (Wallets, error) {
	var w Wallets
	var err error

	w.Liquidity = liquidityDefault
	if cfg.Liquidity != "" {
		if w.Liquidity, err = ledger.ParseAddress(cfg.Liquidity); err != nil {
			return Wallets{}, fmt.Errorf("liquidity wallet: %w", err)
		}
	}
	if w.Treasury, err = ledger.ParseAddress(cfg.Treasury); err != nil {
		return Wallets{}, fmt.Errorf("treasury wallet: %w", err)
	}
	if w.Profit, err = ledger.ParseAddress(cfg.Profit); err != nil {
		return Wallets{}, fmt.Errorf("profit wallet: %w", err)
	}
	if w.TransactionFee, err = ledger.ParseAddress(cfg.TransactionFee); err != nil {
		return Wallets{}, fmt.Errorf("transaction fee wallet: %w", err)
	}
	return w, nil
}

type Service struct {
	quotes   *quotes.Ledger
	store    repository.TransactionStore
	ledger   Ledger
	signers  Signers
	registry *assets.Registry
	wallets  Wallets
	verify   PollPolicy
	logger   *zap.Logger
	metrics  Metrics
	now      func() time.Time
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithMetrics(m Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func NewService(
	quoteLedger *quotes.Ledger,
	store repository.TransactionStore,
	ledgerClient Ledger,
	signers Signers,
	registry *assets.Registry,
	wallets Wallets,
	verify PollPolicy,
	logger *zap.Logger,
	opts ...Option,
) *Service {
	s := &Service{
		quotes:   quoteLedger,
		store:    store,
		ledger:   ledgerClient,
		signers:  signers,
		registry: registry,
		wallets:  wallets,
		verify:   verify,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetTransaction returns the stored record or ErrTransactionNotFound.
func (s *Service) GetTransaction(ctx context.Context, id int64) (*model.ExchangeTransaction, error) {
	tx, err := s.store.GetTransaction(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load transaction: %w", err)
	}
	if tx == nil {
		return nil, ErrTransactionNotFound
	}
	return tx, nil
}

func (s *Service) observe(action model.Action, outcome string) {
	if s.metrics != nil {
		s.metrics.Settlement(string(action), outcome)
	}
}

// buyTransfers converts a buy's fee split into lamport transfers, one per
// destination, in a fixed order. Zero components are kept here and dropped
// by the instruction builder.
func (s *Service) buyTransfers(fees model.Fees) ([]ledger.Transfer, error) {
	settlement := s.registry.Settlement()
	parts := []struct {
		to     solana.PublicKey
		amount decimal.Decimal
	}{
		{s.wallets.Liquidity, fees.Liquidity},
		{s.wallets.Treasury, fees.Treasury},
		{s.wallets.Profit, fees.Profit},
		{s.wallets.TransactionFee, fees.Transaction},
	}

	transfers := make([]ledger.Transfer, 0, len(parts))
	for _, p := range parts {
		lamports, err := settlement.ToBaseUnits(p.amount)
		if err != nil {
			return nil, fmt.Errorf("failed to convert fee to lamports: %w", err)
		}
		transfers = append(transfers, ledger.Transfer{To: p.to, Lamports: lamports})
	}
	return transfers, nil
}
