package test

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"testing"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

type rpcRequest struct {
	ID     json.RawMessage   `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

// fakeCluster is an in-process Solana JSON-RPC node. It keeps just enough
// state for the exchange to build, verify and submit transactions.
type fakeCluster struct {
	mu            sync.Mutex
	slot          uint64
	lamports      map[string]uint64
	tokenAccounts map[string]uint64
	transactions  map[string]map[string]any
	statuses      map[string]string
	sent          []*solana.Transaction
	sendErr       string
}

func newFakeCluster() *fakeCluster {
	return &fakeCluster{
		slot:          1,
		lamports:      make(map[string]uint64),
		tokenAccounts: make(map[string]uint64),
		transactions:  make(map[string]map[string]any),
		statuses:      make(map[string]string),
	}
}

func (c *fakeCluster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	result, rpcErr := c.handle(req)
	resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
	if rpcErr != "" {
		resp["error"] = map[string]any{"code": -32002, "message": rpcErr}
	} else {
		resp["result"] = result
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (c *fakeCluster) handle(req rpcRequest) (any, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.slot++

	var first string
	if len(req.Params) > 0 {
		_ = json.Unmarshal(req.Params[0], &first)
	}
	withContext := func(value any) any {
		return map[string]any{"context": map[string]any{"slot": c.slot}, "value": value}
	}

	switch req.Method {
	case "getLatestBlockhash":
		hash := solana.HashFromBytes(make([]byte, 32))
		return withContext(map[string]any{"blockhash": hash.String(), "lastValidBlockHeight": c.slot + 150}), ""

	case "getBalance":
		return withContext(c.lamports[first]), ""

	case "getAccountInfo":
		if _, ok := c.tokenAccounts[first]; !ok {
			return withContext(nil), ""
		}
		return withContext(map[string]any{
			"data":       []string{"", "base64"},
			"executable": false,
			"lamports":   2039280,
			"owner":      solana.TokenProgramID.String(),
			"rentEpoch":  0,
		}), ""

	case "getTokenAccountBalance":
		units, ok := c.tokenAccounts[first]
		if !ok {
			return nil, "could not find account"
		}
		return withContext(map[string]any{"amount": strconv.FormatUint(units, 10), "decimals": 2}), ""

	case "sendTransaction":
		if c.sendErr != "" {
			return nil, c.sendErr
		}
		raw, err := base64.StdEncoding.DecodeString(first)
		if err != nil {
			return nil, "invalid base64 transaction"
		}
		tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(raw))
		if err != nil || len(tx.Signatures) == 0 {
			return nil, "invalid transaction"
		}
		if err := tx.VerifySignatures(); err != nil {
			return nil, "signature verification failed"
		}
		sig := tx.Signatures[0].String()
		c.sent = append(c.sent, tx)
		c.statuses[sig] = "finalized"
		return sig, ""

	case "getSignatureStatuses":
		var sigs []string
		_ = json.Unmarshal(req.Params[0], &sigs)
		statuses := make([]any, len(sigs))
		for i, sig := range sigs {
			if status, ok := c.statuses[sig]; ok {
				statuses[i] = map[string]any{"confirmationStatus": status, "err": nil, "slot": c.slot}
			}
		}
		return withContext(statuses), ""

	case "getTransaction":
		if tx, ok := c.transactions[first]; ok {
			return tx, ""
		}
		return nil, ""
	}
	return nil, "method not found: " + req.Method
}

// firstLeg describes how a user-signed transaction should appear to have
// executed.
type firstLeg struct {
	failed       bool
	tokenAccount solana.PublicKey
	mint         solana.PublicKey
	burnedUnits  uint64
}

// land records signed as executed at finalized commitment. The fee payer
// pays and every other account is credited simulatedCredit lamports.
func (c *fakeCluster) land(t *testing.T, signed *solana.Transaction, leg firstLeg) solana.Signature {
	t.Helper()
	if len(signed.Signatures) == 0 || signed.Signatures[0].IsZero() {
		t.Fatal("Transaction must be signed before it lands")
	}

	keys := signed.Message.AccountKeys
	accountKeys := make([]string, len(keys))
	pre := make([]uint64, len(keys))
	post := make([]uint64, len(keys))
	tokenIndex := -1
	for i, key := range keys {
		accountKeys[i] = key.String()
		pre[i] = 50_000_000_000
		post[i] = pre[i] + simulatedCredit
		if !leg.tokenAccount.IsZero() && key.Equals(leg.tokenAccount) {
			tokenIndex = i
		}
	}
	post[0] = pre[0] - simulatedCredit

	var preTokens, postTokens []map[string]any
	if tokenIndex >= 0 {
		tokenBalance := func(units uint64) map[string]any {
			return map[string]any{
				"accountIndex":  tokenIndex,
				"mint":          leg.mint.String(),
				"owner":         keys[0].String(),
				"uiTokenAmount": map[string]any{"amount": strconv.FormatUint(units, 10), "decimals": 2},
			}
		}
		preTokens = []map[string]any{tokenBalance(leg.burnedUnits)}
		postTokens = []map[string]any{tokenBalance(0)}
	}

	var txErr any
	if leg.failed {
		txErr = map[string]any{"InstructionError": []any{0, "InsufficientFunds"}}
	}

	sig := signed.Signatures[0]
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transactions[sig.String()] = map[string]any{
		"slot": c.slot,
		"meta": map[string]any{
			"err":               txErr,
			"fee":               5000,
			"preBalances":       pre,
			"postBalances":      post,
			"preTokenBalances":  preTokens,
			"postTokenBalances": postTokens,
		},
		"transaction": map[string]any{
			"signatures": []string{sig.String()},
			"message":    map[string]any{"accountKeys": accountKeys},
		},
	}
	return sig
}

func (c *fakeCluster) setLamports(account solana.PublicKey, lamports uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lamports[account.String()] = lamports
}

func (c *fakeCluster) setTokenAccount(account solana.PublicKey, units uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokenAccounts[account.String()] = units
}

func (c *fakeCluster) failSends(message string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendErr = message
}

func (c *fakeCluster) sentTransactions() []*solana.Transaction {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*solana.Transaction(nil), c.sent...)
}

// priceFeed answers CoinGecko /simple/price requests with fixed USD prices.
func priceFeed(prices map[string]string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query, _ := url.ParseQuery(r.URL.RawQuery)
		id := query.Get("ids")
		price, ok := prices[id]
		if !ok {
			http.Error(w, "unknown coin", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"` + id + `":{"usd":` + price + `}}`))
	})
}
