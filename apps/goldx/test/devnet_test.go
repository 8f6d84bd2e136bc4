package test

import (
	"context"
	"encoding/base64"
	"log"
	"os"
	"strings"
	"testing"
	"time"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"goldexchange/apps/goldx/internal/api"
	"goldexchange/apps/goldx/internal/ledger"
)

// loadEnvConfig loads environment variables from .env file if it exists
func loadEnvConfig() {
	if err := godotenv.Load(".env"); err == nil {
		log.Printf("✅ Loaded environment variables from .env")
		return
	}
	log.Println("ℹ️ No .env file found, using system environment variables")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// TestBuyDevnet runs a real buy against a goldx server connected to devnet,
// signing and submitting the first leg with TEST_WALLET_KEYPAIR.
func TestBuyDevnet(t *testing.T) {
	loadEnvConfig()

	encodedKey := os.Getenv("TEST_WALLET_KEYPAIR")
	if encodedKey == "" {
		t.Skip("Skipping devnet test: TEST_WALLET_KEYPAIR environment variable not set")
	}
	baseURL := envOr("GOLDX_BASE_URL", BaseURL) + "/api/v1/gold"

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	client, err := ledger.Dial(ctx, envOr("SOLANA_RPC_URL", DevnetRPCURL), "confirmed", zap.NewNop())
	if err != nil {
		t.Fatalf("Failed to connect to devnet: %v", err)
	}
	defer client.Close()

	wallet, err := ledger.ParsePrivateKey(encodedKey)
	if err != nil {
		t.Fatalf("Failed to parse wallet keypair: %v", err)
	}
	t.Logf("Using wallet address: %s", wallet.PublicKey())

	// Step 1: Initial balances as the server sees them
	var before api.BalanceResponse
	if err := getJSON(baseURL+"/balance/"+wallet.PublicKey().String(), &before); err != nil {
		t.Fatalf("Failed to get initial balance: %v", err)
	}
	if !before.SystemInitialized {
		t.Skip("Skipping devnet test: server has no token mint configured")
	}
	t.Logf("Initial balance: %s SOL, %s tokens", before.SettlementBalance, before.TokenBalance)

	// Step 2: Quote and initiate
	var quote api.QuoteResponse
	quoteReq := api.QuoteRequest{Amount: decimal.RequireFromString(DevnetBuyAmount), Action: "buy"}
	if err := postJSON(baseURL+"/quote", quoteReq, &quote); err != nil {
		t.Fatalf("Failed to create quote: %v", err)
	}
	t.Logf("✅ Quote %s: %s SOL for %s tokens", quote.QuoteID, quote.SettlementAmount, quote.TokenAmount)

	var initiated api.InitiateResponse
	initReq := api.InitiateRequest{QuoteID: quote.QuoteID, WalletAddress: wallet.PublicKey().String()}
	if err := postJSON(baseURL+"/buy/initiate", initReq, &initiated); err != nil {
		t.Fatalf("Failed to initiate buy: %v", err)
	}
	t.Logf("✅ Created transaction %d", initiated.TransactionID)

	// Step 3: Sign and submit the first leg
	raw, err := base64.StdEncoding.DecodeString(initiated.UnsignedTransaction)
	if err != nil {
		t.Fatalf("Failed to decode unsigned transaction: %v", err)
	}
	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(raw))
	if err != nil {
		t.Fatalf("Failed to parse unsigned transaction: %v", err)
	}
	if err := ledger.Sign(tx, wallet); err != nil {
		t.Fatalf("Failed to sign transaction: %v", err)
	}

	sig, err := client.SendTransaction(ctx, tx)
	if err != nil {
		t.Logf("⚠️ Transaction submission failed: %v", err)
		if strings.Contains(err.Error(), "insufficient") || strings.Contains(err.Error(), "no record of a prior credit") {
			t.Logf("✅ Transaction properly formatted (rejected for lack of funds)")
			return
		}
		t.Fatalf("❌ Transaction malformed or unexpected error: %v", err)
	}
	t.Logf("✅ Submitted first leg: %s", sig)

	// Step 4: Confirm; the server waits for the first leg and mints
	var confirmed api.ConfirmResponse
	confirmReq := api.ConfirmRequest{TransactionID: initiated.TransactionID, Signature: sig.String()}
	if err := postJSON(baseURL+"/buy/confirm", confirmReq, &confirmed); err != nil {
		t.Fatalf("Failed to confirm buy: %v", err)
	}
	if confirmed.Status != "completed" {
		t.Fatalf("Expected completed transaction, got %s: %s", confirmed.Status, confirmed.Message)
	}
	t.Logf("✅ %s (mint %s)", confirmed.Message, confirmed.SecondLegSignature)

	// Step 5: Final balance
	var after api.BalanceResponse
	if err := getJSON(baseURL+"/balance/"+wallet.PublicKey().String(), &after); err != nil {
		t.Logf("Warning: Failed to get final balance: %v", err)
		return
	}
	t.Logf("Final balance: %s SOL, %s tokens", after.SettlementBalance, after.TokenBalance)
	if after.TokenBalance.LessThan(before.TokenBalance.Add(quote.TokenAmount)) {
		t.Logf("⚠️ Token balance not yet updated at the server's commitment")
	}
}
