package exchange

import (
	"context"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"goldexchange/apps/goldx/internal/ledger"
	"goldexchange/apps/goldx/internal/model"
)

type legResult struct {
	message      string
	counterparty string
}

// secondLeg performs the system side of a verified transaction: a mint for a
// buy, a payout for a sell. onSubmit is called as soon as the ledger accepts
// the transaction, before it has landed.
func (s *Service) secondLeg(ctx context.Context, tx model.ExchangeTransaction, onSubmit func(solana.Signature)) (*legResult, error) {
	wallet, err := ledger.ParseAddress(tx.WalletAddress)
	if err != nil {
		return nil, err
	}

	switch tx.Type {
	case model.ActionBuy:
		return s.mint(ctx, tx, wallet, onSubmit)
	case model.ActionSell:
		return s.payout(ctx, tx, wallet, onSubmit)
	}
	return nil, fmt.Errorf("unsupported action %q", tx.Type)
}

func (s *Service) mint(ctx context.Context, tx model.ExchangeTransaction, wallet solana.PublicKey, onSubmit func(solana.Signature)) (*legResult, error) {
	authority, err := s.signers.Signer(ledger.RoleMintAuthority)
	if err != nil {
		return nil, err
	}

	token := s.registry.Token()
	units, err := token.ToBaseUnits(tx.TokenAmount)
	if err != nil {
		return nil, fmt.Errorf("failed to convert token amount: %w", err)
	}

	account, err := ledger.TokenAccount(wallet, token.Mint)
	if err != nil {
		return nil, err
	}
	exists, err := s.ledger.AccountExists(ctx, account)
	if err != nil {
		return nil, err
	}

	blockhash, err := s.ledger.LatestBlockhash(ctx)
	if err != nil {
		return nil, err
	}
	mintTx, destination, err := ledger.BuildMint(authority.PublicKey(), token.Mint, wallet, units, !exists, blockhash)
	if err != nil {
		return nil, err
	}
	if err := ledger.Sign(mintTx, authority); err != nil {
		return nil, err
	}

	if !exists {
		s.logger.Info("Creating token account for wallet",
			zap.Int64("transaction_id", tx.ID),
			zap.String("token_account", destination.String()))
	}
	if err := s.submit(ctx, tx.ID, mintTx, onSubmit); err != nil {
		return nil, err
	}

	return &legResult{
		message:      fmt.Sprintf("Minted %s %s tokens", tx.TokenAmount.StringFixed(token.Decimals), token.Symbol),
		counterparty: destination.String(),
	}, nil
}

func (s *Service) payout(ctx context.Context, tx model.ExchangeTransaction, wallet solana.PublicKey, onSubmit func(solana.Signature)) (*legResult, error) {
	liquidity, err := s.signers.Signer(ledger.RoleLiquidity)
	if err != nil {
		return nil, err
	}

	settlement := s.registry.Settlement()
	lamports, err := settlement.ToBaseUnits(tx.SettlementAmount)
	if err != nil {
		return nil, fmt.Errorf("failed to convert payout amount: %w", err)
	}

	blockhash, err := s.ledger.LatestBlockhash(ctx)
	if err != nil {
		return nil, err
	}
	payoutTx, err := ledger.BuildTransfers(liquidity.PublicKey(), []ledger.Transfer{{To: wallet, Lamports: lamports}}, blockhash)
	if err != nil {
		return nil, err
	}
	if err := ledger.Sign(payoutTx, liquidity); err != nil {
		return nil, err
	}
	if err := s.submit(ctx, tx.ID, payoutTx, onSubmit); err != nil {
		return nil, err
	}

	return &legResult{
		message:      fmt.Sprintf("Sent %s %s to wallet", tx.SettlementAmount.String(), settlement.Symbol),
		counterparty: wallet.String(),
	}, nil
}

var errLandedWithError = errors.New("transaction landed with an error")

// submit sends a signed system transaction and waits for it to land at the
// client's commitment.
func (s *Service) submit(ctx context.Context, transactionID int64, signed *solana.Transaction, onSubmit func(solana.Signature)) error {
	sig, err := s.ledger.SendTransaction(ctx, signed)
	if err != nil {
		return err
	}
	onSubmit(sig)

	commitment := s.ledger.Commitment()
	err = poll(ctx, s.verify, func(ctx context.Context) (bool, error) {
		status, err := s.ledger.GetSignatureStatus(ctx, sig)
		if err != nil {
			s.logger.Warn("Signature status lookup failed, retrying",
				zap.Int64("transaction_id", transactionID),
				zap.String("signature", sig.String()),
				zap.Error(err))
			return false, err
		}
		if status == nil {
			return false, nil
		}
		if status.Failed() {
			return false, permanent(fmt.Errorf("%w: %s", errLandedWithError, string(status.Err)))
		}
		return status.Landed(commitment), nil
	})
	if err != nil {
		return fmt.Errorf("second leg %s did not land: %w", sig, err)
	}
	return nil
}
