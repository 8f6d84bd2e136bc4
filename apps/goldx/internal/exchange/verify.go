package exchange

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"goldexchange/apps/goldx/internal/ledger"
	"goldexchange/apps/goldx/internal/model"
)

// verifyFirstLeg waits for the user's transaction to reach the client's
// commitment and checks that it had the effect the quote requires.
func (s *Service) verifyFirstLeg(ctx context.Context, tx model.ExchangeTransaction, sig solana.Signature) error {
	var result *ledger.TransactionResult
	err := poll(ctx, s.verify, func(ctx context.Context) (bool, error) {
		r, err := s.ledger.GetTransaction(ctx, sig)
		if err != nil {
			s.logger.Warn("Ledger lookup failed, retrying",
				zap.Int64("transaction_id", tx.ID),
				zap.String("signature", sig.String()),
				zap.Error(err))
			return false, err
		}
		if r == nil {
			return false, nil
		}
		result = r
		return true, nil
	})
	if err != nil {
		return fmt.Errorf("%w: transaction %s not found on ledger: %v", ErrVerificationFailed, sig, err)
	}

	if !result.Succeeded() {
		return fmt.Errorf("%w: transaction failed on ledger: %s", ErrVerificationFailed, string(result.Err))
	}

	wallet, err := ledger.ParseAddress(tx.WalletAddress)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrVerificationFailed, err)
	}

	switch tx.Type {
	case model.ActionBuy:
		return s.checkPayment(tx, wallet, result)
	case model.ActionSell:
		return s.checkBurn(tx, wallet, result)
	}
	return fmt.Errorf("%w: unsupported action %q", ErrVerificationFailed, tx.Type)
}

// checkPayment requires the wallet to have paid for the transaction and every
// fee destination to have received at least its share.
func (s *Service) checkPayment(tx model.ExchangeTransaction, wallet solana.PublicKey, result *ledger.TransactionResult) error {
	if !result.FeePayer().Equals(wallet) {
		return fmt.Errorf("%w: transaction was not paid by %s", ErrVerificationFailed, wallet)
	}

	transfers, err := s.buyTransfers(tx.Fees)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrVerificationFailed, err)
	}

	expected := make(map[solana.PublicKey]uint64, len(transfers))
	for _, t := range transfers {
		expected[t.To] += t.Lamports
	}

	for destination, lamports := range expected {
		if lamports == 0 {
			continue
		}
		delta, ok := result.LamportDelta(destination)
		if !ok || delta < int64(lamports) {
			return fmt.Errorf("%w: %s received %d lamports, expected %d", ErrVerificationFailed, destination, delta, lamports)
		}
	}
	return nil
}

// checkBurn requires the wallet's token account and the token supply to have
// shrunk by at least the quoted token amount. A transfer out of the account
// leaves the supply unchanged.
func (s *Service) checkBurn(tx model.ExchangeTransaction, wallet solana.PublicKey, result *ledger.TransactionResult) error {
	token := s.registry.Token()
	account, err := ledger.TokenAccount(wallet, token.Mint)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrVerificationFailed, err)
	}
	units, err := token.ToBaseUnits(tx.TokenAmount)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrVerificationFailed, err)
	}

	delta, ok, err := result.TokenDelta(account, token.Mint)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrVerificationFailed, err)
	}
	if !ok || -delta < int64(units) {
		return fmt.Errorf("%w: token account %s changed by %d, expected a burn of %d", ErrVerificationFailed, account, delta, units)
	}

	supply, err := result.SupplyDelta(token.Mint)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrVerificationFailed, err)
	}
	if -supply < int64(units) {
		return fmt.Errorf("%w: %s supply changed by %d, expected a burn of %d", ErrVerificationFailed, token.Symbol, supply, units)
	}
	return nil
}
