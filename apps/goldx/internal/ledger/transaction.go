package ledger

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// TokenBalance is one entry of a transaction's pre/post token balances.
type TokenBalance struct {
	AccountIndex  int         `json:"accountIndex"`
	Mint          string      `json:"mint"`
	Owner         string      `json:"owner"`
	UITokenAmount TokenAmount `json:"uiTokenAmount"`
}

type transactionMeta struct {
	Err               json.RawMessage `json:"err"`
	Fee               uint64          `json:"fee"`
	PreBalances       []uint64        `json:"preBalances"`
	PostBalances      []uint64        `json:"postBalances"`
	PreTokenBalances  []TokenBalance  `json:"preTokenBalances"`
	PostTokenBalances []TokenBalance  `json:"postTokenBalances"`
	LoadedAddresses   *struct {
		Writable []string `json:"writable"`
		Readonly []string `json:"readonly"`
	} `json:"loadedAddresses"`
}

type transactionResponse struct {
	Slot uint64           `json:"slot"`
	Meta *transactionMeta `json:"meta"`
	Transaction struct {
		Signatures []string `json:"signatures"`
		Message    struct {
			AccountKeys []string `json:"accountKeys"`
		} `json:"message"`
	} `json:"transaction"`
}

// TransactionResult is a confirmed transaction reduced to the parts needed
// to check its effect: outcome, signers and balance movements.
type TransactionResult struct {
	Slot              uint64
	Err               json.RawMessage
	AccountKeys       []solana.PublicKey
	PreBalances       []uint64
	PostBalances      []uint64
	PreTokenBalances  []TokenBalance
	PostTokenBalances []TokenBalance
}

// Succeeded reports whether the transaction executed without error.
func (r *TransactionResult) Succeeded() bool {
	return len(r.Err) == 0 || string(r.Err) == "null"
}

// FeePayer is the first account key, which always signs and pays.
func (r *TransactionResult) FeePayer() solana.PublicKey {
	if len(r.AccountKeys) == 0 {
		return solana.PublicKey{}
	}
	return r.AccountKeys[0]
}

func (r *TransactionResult) indexOf(account solana.PublicKey) int {
	for i, key := range r.AccountKeys {
		if key.Equals(account) {
			return i
		}
	}
	return -1
}

// LamportDelta returns post minus pre lamports for account, and false if the
// account did not take part in the transaction.
func (r *TransactionResult) LamportDelta(account solana.PublicKey) (int64, bool) {
	i := r.indexOf(account)
	if i < 0 || i >= len(r.PreBalances) || i >= len(r.PostBalances) {
		return 0, false
	}
	return int64(r.PostBalances[i]) - int64(r.PreBalances[i]), true
}

// TokenDelta returns post minus pre base units held by tokenAccount for mint.
// An account missing from a side counts as zero on that side.
func (r *TransactionResult) TokenDelta(tokenAccount, mint solana.PublicKey) (int64, bool, error) {
	i := r.indexOf(tokenAccount)
	if i < 0 {
		return 0, false, nil
	}
	pre, preFound, err := tokenUnits(r.PreTokenBalances, i, mint)
	if err != nil {
		return 0, false, err
	}
	post, postFound, err := tokenUnits(r.PostTokenBalances, i, mint)
	if err != nil {
		return 0, false, err
	}
	if !preFound && !postFound {
		return 0, false, nil
	}
	return int64(post) - int64(pre), true, nil
}

// SupplyDelta returns post minus pre base units of mint summed over every
// token account in the transaction. Transfers net to zero; only burns and
// mints change it.
func (r *TransactionResult) SupplyDelta(mint solana.PublicKey) (int64, error) {
	pre, err := totalUnits(r.PreTokenBalances, mint)
	if err != nil {
		return 0, err
	}
	post, err := totalUnits(r.PostTokenBalances, mint)
	if err != nil {
		return 0, err
	}
	return int64(post) - int64(pre), nil
}

func totalUnits(balances []TokenBalance, mint solana.PublicKey) (uint64, error) {
	var total uint64
	for _, b := range balances {
		if b.Mint != mint.String() {
			continue
		}
		v, err := b.UITokenAmount.Units()
		if err != nil {
			return 0, err
		}
		total += v
	}
	return total, nil
}

func tokenUnits(balances []TokenBalance, index int, mint solana.PublicKey) (uint64, bool, error) {
	for _, b := range balances {
		if b.AccountIndex == index && b.Mint == mint.String() {
			v, err := b.UITokenAmount.Units()
			return v, true, err
		}
	}
	return 0, false, nil
}

// GetTransaction fetches a transaction at the client's commitment. It returns
// nil, nil while the cluster does not yet report it.
func (c *Client) GetTransaction(ctx context.Context, sig solana.Signature) (*TransactionResult, error) {
	var out *transactionResponse
	opts := map[string]any{
		"encoding":                       "json",
		"commitment":                     c.commitment,
		"maxSupportedTransactionVersion": 0,
	}
	if err := c.rpc.CallContext(ctx, &out, "getTransaction", sig.String(), opts); err != nil {
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	if out == nil {
		return nil, nil
	}
	return out.toResult()
}

func (t *transactionResponse) toResult() (*TransactionResult, error) {
	if t.Meta == nil {
		return nil, fmt.Errorf("transaction at slot %d has no status meta", t.Slot)
	}

	keys := append([]string(nil), t.Transaction.Message.AccountKeys...)
	if loaded := t.Meta.LoadedAddresses; loaded != nil {
		keys = append(keys, loaded.Writable...)
		keys = append(keys, loaded.Readonly...)
	}

	accountKeys := make([]solana.PublicKey, 0, len(keys))
	for _, k := range keys {
		pk, err := solana.PublicKeyFromBase58(k)
		if err != nil {
			return nil, fmt.Errorf("failed to decode account key %q: %w", k, err)
		}
		accountKeys = append(accountKeys, pk)
	}

	return &TransactionResult{
		Slot:              t.Slot,
		Err:               t.Meta.Err,
		AccountKeys:       accountKeys,
		PreBalances:       t.Meta.PreBalances,
		PostBalances:      t.Meta.PostBalances,
		PreTokenBalances:  t.Meta.PreTokenBalances,
		PostTokenBalances: t.Meta.PostTokenBalances,
	}, nil
}
