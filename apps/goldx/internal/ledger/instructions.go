package ledger

import (
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	associatedtokenaccount "github.com/gagliardetto/solana-go/programs/associated-token-account"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/programs/token"
)

var ErrNothingToTransfer = errors.New("every transfer amount is zero")

// Transfer moves lamports from the transaction payer to To.
type Transfer struct {
	To       solana.PublicKey
	Lamports uint64
}

// BuildTransfers creates one system transfer per non-zero entry, all paid
// and signed by payer.
func BuildTransfers(payer solana.PublicKey, transfers []Transfer, blockhash solana.Hash) (*solana.Transaction, error) {
	instructions := make([]solana.Instruction, 0, len(transfers))
	for _, t := range transfers {
		if t.Lamports == 0 {
			continue
		}
		instructions = append(instructions, system.NewTransferInstruction(t.Lamports, payer, t.To).Build())
	}
	if len(instructions) == 0 {
		return nil, ErrNothingToTransfer
	}

	tx, err := solana.NewTransaction(instructions, blockhash, solana.TransactionPayer(payer))
	if err != nil {
		return nil, fmt.Errorf("failed to build transfer transaction: %w", err)
	}
	return tx, nil
}

// TokenAccount derives the associated token account of owner for mint.
func TokenAccount(owner, mint solana.PublicKey) (solana.PublicKey, error) {
	ata, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("failed to derive token account: %w", err)
	}
	return ata, nil
}

// BuildBurn burns amount base units from owner's associated token account.
// The owner signs and pays.
func BuildBurn(owner, mint solana.PublicKey, amount uint64, blockhash solana.Hash) (*solana.Transaction, error) {
	source, err := TokenAccount(owner, mint)
	if err != nil {
		return nil, err
	}

	burn := token.NewBurnInstruction(amount, source, mint, owner, nil).Build()
	tx, err := solana.NewTransaction([]solana.Instruction{burn}, blockhash, solana.TransactionPayer(owner))
	if err != nil {
		return nil, fmt.Errorf("failed to build burn transaction: %w", err)
	}
	return tx, nil
}

// BuildMint mints amount base units to recipient's associated token account,
// creating it first when createAccount is set. The mint authority signs and
// pays for both.
func BuildMint(authority, mint, recipient solana.PublicKey, amount uint64, createAccount bool, blockhash solana.Hash) (*solana.Transaction, solana.PublicKey, error) {
	destination, err := TokenAccount(recipient, mint)
	if err != nil {
		return nil, solana.PublicKey{}, err
	}

	var instructions []solana.Instruction
	if createAccount {
		instructions = append(instructions, associatedtokenaccount.NewCreateInstruction(authority, recipient, mint).Build())
	}
	instructions = append(instructions, token.NewMintToInstruction(amount, mint, destination, authority, nil).Build())

	tx, err := solana.NewTransaction(instructions, blockhash, solana.TransactionPayer(authority))
	if err != nil {
		return nil, solana.PublicKey{}, fmt.Errorf("failed to build mint transaction: %w", err)
	}
	return tx, destination, nil
}

// EncodeUnsigned serializes tx in wire format with empty signature slots,
// ready for a client wallet to sign.
func EncodeUnsigned(tx *solana.Transaction) (string, error) {
	unsigned := *tx
	unsigned.Signatures = make([]solana.Signature, tx.Message.Header.NumRequiredSignatures)
	raw, err := unsigned.MarshalBinary()
	if err != nil {
		return "", fmt.Errorf("failed to serialize unsigned transaction: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// Sign signs tx with every signer whose key the message requires.
func Sign(tx *solana.Transaction, signers ...solana.PrivateKey) error {
	_, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		for i := range signers {
			if signers[i].PublicKey().Equals(key) {
				return &signers[i]
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to sign transaction: %w", err)
	}
	return nil
}
