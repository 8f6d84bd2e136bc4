package ledger

import (
	"encoding/base64"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func programOf(tx *solana.Transaction, i int) solana.PublicKey {
	return tx.Message.AccountKeys[tx.Message.Instructions[i].ProgramIDIndex]
}

func TestBuildTransfers_OmitsZeroAmounts(t *testing.T) {
	payer := newKey(t).PublicKey()
	blockhash := solana.HashFromBytes(make([]byte, 32))

	tx, err := BuildTransfers(payer, []Transfer{
		{To: newKey(t).PublicKey(), Lamports: 837_600_000},
		{To: newKey(t).PublicKey(), Lamports: 0},
		{To: newKey(t).PublicKey(), Lamports: 80_000_000},
	}, blockhash)
	require.NoError(t, err)

	require.Len(t, tx.Message.Instructions, 2)
	for i := range tx.Message.Instructions {
		assert.Equal(t, solana.SystemProgramID, programOf(tx, i))
	}
	assert.Equal(t, payer, tx.Message.AccountKeys[0])
	assert.Equal(t, uint8(1), tx.Message.Header.NumRequiredSignatures)
}

func TestBuildTransfers_AllZero(t *testing.T) {
	_, err := BuildTransfers(newKey(t).PublicKey(), []Transfer{{To: newKey(t).PublicKey()}}, solana.Hash{})
	assert.ErrorIs(t, err, ErrNothingToTransfer)
}

func TestBuildBurn(t *testing.T) {
	owner := newKey(t).PublicKey()
	mint := newKey(t).PublicKey()

	tx, err := BuildBurn(owner, mint, 200, solana.Hash{})
	require.NoError(t, err)

	require.Len(t, tx.Message.Instructions, 1)
	assert.Equal(t, solana.TokenProgramID, programOf(tx, 0))
	assert.Equal(t, owner, tx.Message.AccountKeys[0])

	ata, err := TokenAccount(owner, mint)
	require.NoError(t, err)
	assert.Contains(t, tx.Message.AccountKeys, ata)
}

func TestBuildMint(t *testing.T) {
	authority := newKey(t).PublicKey()
	mint := newKey(t).PublicKey()
	recipient := newKey(t).PublicKey()

	tx, ata, err := BuildMint(authority, mint, recipient, 250, true, solana.Hash{})
	require.NoError(t, err)
	require.Len(t, tx.Message.Instructions, 2)
	assert.Equal(t, solana.SPLAssociatedTokenAccountProgramID, programOf(tx, 0))
	assert.Equal(t, solana.TokenProgramID, programOf(tx, 1))

	expected, err := TokenAccount(recipient, mint)
	require.NoError(t, err)
	assert.Equal(t, expected, ata)

	tx, _, err = BuildMint(authority, mint, recipient, 250, false, solana.Hash{})
	require.NoError(t, err)
	require.Len(t, tx.Message.Instructions, 1)
	assert.Equal(t, solana.TokenProgramID, programOf(tx, 0))
}

func TestEncodeUnsigned(t *testing.T) {
	payer := newKey(t).PublicKey()
	tx, err := BuildTransfers(payer, []Transfer{{To: newKey(t).PublicKey(), Lamports: 1}}, solana.Hash{})
	require.NoError(t, err)

	encoded, err := EncodeUnsigned(tx)
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(encoded)
	require.NoError(t, err)
	require.Greater(t, len(raw), 65)
	assert.Equal(t, byte(1), raw[0], "one signature slot")
	assert.Equal(t, make([]byte, 64), raw[1:65], "slot left empty for the wallet")
	assert.Empty(t, tx.Signatures, "original transaction untouched")
}

func TestSign(t *testing.T) {
	authority := newKey(t)
	tx, _, err := BuildMint(authority.PublicKey(), newKey(t).PublicKey(), newKey(t).PublicKey(), 1, true, solana.Hash{})
	require.NoError(t, err)

	require.NoError(t, Sign(tx, authority))
	require.Len(t, tx.Signatures, 1)
	assert.False(t, tx.Signatures[0].IsZero())

	other, _, err := BuildMint(authority.PublicKey(), newKey(t).PublicKey(), newKey(t).PublicKey(), 1, true, solana.Hash{})
	require.NoError(t, err)
	assert.Error(t, Sign(other, newKey(t)))
}
