package exchange

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"goldexchange/apps/goldx/internal/ledger"
	"goldexchange/apps/goldx/internal/model"
	"goldexchange/apps/goldx/internal/repository"
)

// Initiation is what the client needs to sign and submit the first leg.
type Initiation struct {
	Transaction         model.ExchangeTransaction
	UnsignedTransaction string // base64 wire format, signature slots empty
	ExpiresAt           time.Time
}

// Initiate consumes a quote for walletAddress, builds the unsigned first leg
// and records the transaction as pending. A non-empty expected action must
// match the quote's.
func (s *Service) Initiate(ctx context.Context, quoteID, walletAddress string, expected model.Action) (*Initiation, error) {
	if !s.registry.TokenDeployed() {
		return nil, ErrSystemNotInitialized
	}

	wallet, err := ledger.ParseAddress(walletAddress)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidWalletAddress, err)
	}

	existing, err := s.store.GetTransactionByQuoteID(ctx, quoteID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up transaction for quote: %w", err)
	}
	if existing != nil {
		return nil, ErrQuoteAlreadyUsed
	}

	quote, err := s.quotes.ConsumeQuote(ctx, quoteID, wallet.String(), expected)
	if err != nil {
		return nil, err
	}

	blockhash, err := s.ledger.LatestBlockhash(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLedgerUnavailable, err)
	}

	firstLeg, tokenAccount, err := s.buildFirstLeg(quote, wallet, blockhash)
	if err != nil {
		return nil, err
	}
	unsigned, err := ledger.EncodeUnsigned(firstLeg)
	if err != nil {
		return nil, err
	}

	tx := &model.ExchangeTransaction{
		WalletAddress:       wallet.String(),
		Type:                quote.Action,
		SettlementAmount:    quote.SettlementAmount,
		TokenAmount:         quote.TokenAmount,
		Prices:              quote.Prices,
		Fees:                quote.Fees,
		Status:              model.StatusPending,
		CounterpartyAccount: tokenAccount.String(),
		StatusMessage:       "Awaiting signed transaction",
		QuoteID:             quote.QuoteID,
		QuoteExpiresAt:      quote.ExpiresAt,
	}
	if err := s.store.CreateTransaction(ctx, tx); err != nil {
		if errors.Is(err, repository.ErrDuplicateQuote) {
			return nil, ErrQuoteAlreadyUsed
		}
		return nil, fmt.Errorf("failed to create transaction: %w", err)
	}

	s.logger.Info("Initiated exchange transaction",
		zap.Int64("transaction_id", tx.ID),
		zap.String("action", string(tx.Type)),
		zap.String("wallet_address", tx.WalletAddress),
		zap.String("quote_id", quote.QuoteID),
		zap.String("settlement_amount", tx.SettlementAmount.String()),
		zap.String("token_amount", tx.TokenAmount.String()))

	return &Initiation{
		Transaction:         *tx,
		UnsignedTransaction: unsigned,
		ExpiresAt:           quote.ExpiresAt,
	}, nil
}

// buildFirstLeg returns the user-signed transaction and the user's token
// account. A buy pays every fee destination; a sell burns the quoted tokens.
func (s *Service) buildFirstLeg(quote *model.Quote, wallet solana.PublicKey, blockhash solana.Hash) (*solana.Transaction, solana.PublicKey, error) {
	token := s.registry.Token()
	tokenAccount, err := ledger.TokenAccount(wallet, token.Mint)
	if err != nil {
		return nil, solana.PublicKey{}, err
	}

	switch quote.Action {
	case model.ActionBuy:
		transfers, err := s.buyTransfers(quote.Fees)
		if err != nil {
			return nil, solana.PublicKey{}, err
		}
		tx, err := ledger.BuildTransfers(wallet, transfers, blockhash)
		return tx, tokenAccount, err

	case model.ActionSell:
		units, err := token.ToBaseUnits(quote.TokenAmount)
		if err != nil {
			return nil, solana.PublicKey{}, fmt.Errorf("failed to convert token amount: %w", err)
		}
		tx, err := ledger.BuildBurn(wallet, token.Mint, units, blockhash)
		return tx, tokenAccount, err
	}
	return nil, solana.PublicKey{}, fmt.Errorf("unsupported action %q", quote.Action)
}
