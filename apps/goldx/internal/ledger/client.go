// Package ledger talks to the Solana cluster: JSON-RPC reads and submissions,
// instruction building for both settlement legs, and system signers.
package ledger

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"
)

var ErrInvalidAddress = errors.New("address is not a 32-byte base58 account key")

// ParseAddress decodes a wallet address. Anything that does not decode to
// exactly 32 bytes is rejected.
func ParseAddress(address string) (solana.PublicKey, error) {
	pk, err := solana.PublicKeyFromBase58(address)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	return pk, nil
}

// Client is a thin Solana JSON-RPC client. The go-ethereum rpc package
// speaks plain JSON-RPC 2.0 over HTTP, which is all the cluster needs.
type Client struct {
	rpc        *rpc.Client
	commitment string
	logger     *zap.Logger
}

func Dial(ctx context.Context, url, commitment string, logger *zap.Logger) (*Client, error) {
	c, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ledger rpc: %w", err)
	}
	return NewClient(c, commitment, logger), nil
}

func NewClient(c *rpc.Client, commitment string, logger *zap.Logger) *Client {
	if commitment == "" {
		commitment = "finalized"
	}
	return &Client{rpc: c, commitment: commitment, logger: logger}
}

func (c *Client) Close() {
	c.rpc.Close()
}

type rpcContext struct {
	Slot uint64 `json:"slot"`
}

func (c *Client) commitmentOpts() map[string]any {
	return map[string]any{"commitment": c.commitment}
}

// LatestBlockhash returns the recent blockhash new transactions are built on.
func (c *Client) LatestBlockhash(ctx context.Context) (solana.Hash, error) {
	var out struct {
		Context rpcContext `json:"context"`
		Value   struct {
			Blockhash            string `json:"blockhash"`
			LastValidBlockHeight uint64 `json:"lastValidBlockHeight"`
		} `json:"value"`
	}
	if err := c.rpc.CallContext(ctx, &out, "getLatestBlockhash", c.commitmentOpts()); err != nil {
		return solana.Hash{}, fmt.Errorf("failed to get latest blockhash: %w", err)
	}
	hash, err := solana.HashFromBase58(out.Value.Blockhash)
	if err != nil {
		return solana.Hash{}, fmt.Errorf("failed to decode blockhash: %w", err)
	}
	return hash, nil
}

// GetBalance returns the lamport balance of account.
func (c *Client) GetBalance(ctx context.Context, account solana.PublicKey) (uint64, error) {
	var out struct {
		Context rpcContext `json:"context"`
		Value   uint64     `json:"value"`
	}
	if err := c.rpc.CallContext(ctx, &out, "getBalance", account.String(), c.commitmentOpts()); err != nil {
		return 0, fmt.Errorf("failed to get balance: %w", err)
	}
	return out.Value, nil
}

// AccountExists reports whether account has been created on the cluster.
func (c *Client) AccountExists(ctx context.Context, account solana.PublicKey) (bool, error) {
	var out struct {
		Context rpcContext       `json:"context"`
		Value   *json.RawMessage `json:"value"`
	}
	opts := map[string]any{"commitment": c.commitment, "encoding": "base64"}
	if err := c.rpc.CallContext(ctx, &out, "getAccountInfo", account.String(), opts); err != nil {
		return false, fmt.Errorf("failed to get account info: %w", err)
	}
	return out.Value != nil, nil
}

// GetTokenBalance returns the base-unit balance of a token account. A token
// account that does not exist holds zero.
func (c *Client) GetTokenBalance(ctx context.Context, tokenAccount solana.PublicKey) (uint64, error) {
	exists, err := c.AccountExists(ctx, tokenAccount)
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, nil
	}

	var out struct {
		Context rpcContext  `json:"context"`
		Value   TokenAmount `json:"value"`
	}
	if err := c.rpc.CallContext(ctx, &out, "getTokenAccountBalance", tokenAccount.String(), c.commitmentOpts()); err != nil {
		return 0, fmt.Errorf("failed to get token account balance: %w", err)
	}
	return out.Value.Units()
}

// SendTransaction submits a fully signed transaction.
func (c *Client) SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	raw, err := tx.MarshalBinary()
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to serialize transaction: %w", err)
	}

	var sig string
	opts := map[string]any{"encoding": "base64", "preflightCommitment": c.commitment}
	if err := c.rpc.CallContext(ctx, &sig, "sendTransaction", base64.StdEncoding.EncodeToString(raw), opts); err != nil {
		return solana.Signature{}, fmt.Errorf("failed to send transaction: %w", err)
	}

	signature, err := solana.SignatureFromBase58(sig)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to decode returned signature: %w", err)
	}
	c.logger.Info("Submitted ledger transaction", zap.String("signature", sig))
	return signature, nil
}

// SignatureStatus is the cluster's view of a submitted signature.
type SignatureStatus struct {
	ConfirmationStatus string          `json:"confirmationStatus"`
	Err                json.RawMessage `json:"err"`
}

// Landed reports whether the transaction reached at least commitment.
func (s *SignatureStatus) Landed(commitment string) bool {
	switch commitment {
	case "processed":
		return s.ConfirmationStatus != ""
	case "confirmed":
		return s.ConfirmationStatus == "confirmed" || s.ConfirmationStatus == "finalized"
	default:
		return s.ConfirmationStatus == "finalized"
	}
}

func (s *SignatureStatus) Failed() bool {
	return len(s.Err) > 0 && string(s.Err) != "null"
}

// GetSignatureStatus returns nil, nil while the cluster has not seen sig.
func (c *Client) GetSignatureStatus(ctx context.Context, sig solana.Signature) (*SignatureStatus, error) {
	var out struct {
		Context rpcContext         `json:"context"`
		Value   []*SignatureStatus `json:"value"`
	}
	opts := map[string]any{"searchTransactionHistory": true}
	if err := c.rpc.CallContext(ctx, &out, "getSignatureStatuses", []string{sig.String()}, opts); err != nil {
		return nil, fmt.Errorf("failed to get signature status: %w", err)
	}
	if len(out.Value) == 0 {
		return nil, nil
	}
	return out.Value[0], nil
}

// Commitment is the level reads and confirmations are performed at.
func (c *Client) Commitment() string {
	return c.commitment
}

// TokenAmount is the RPC representation of a token quantity.
type TokenAmount struct {
	Amount   string `json:"amount"`
	Decimals int32  `json:"decimals"`
}

// Units parses the base-unit amount.
func (t TokenAmount) Units() (uint64, error) {
	if t.Amount == "" {
		return 0, nil
	}
	v, err := strconv.ParseUint(t.Amount, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse token amount %q: %w", t.Amount, err)
	}
	return v, nil
}
