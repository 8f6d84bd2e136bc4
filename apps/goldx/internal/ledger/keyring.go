package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go"
)

// Role names a system wallet that the exchange signs for.
type Role string

const (
	RoleMintAuthority Role = "mint_authority"
	RoleLiquidity     Role = "liquidity"
)

var ErrNoSigner = errors.New("no signer configured for role")

// Keyring maps system roles to their signing keys. It is read-only after
// construction.
type Keyring struct {
	signers map[Role]solana.PrivateKey
}

// NewKeyring builds a keyring from encoded keypairs. An empty liquidity key
// falls back to the mint authority.
func NewKeyring(mintAuthority, liquidity string) (*Keyring, error) {
	k := &Keyring{signers: make(map[Role]solana.PrivateKey)}
	if mintAuthority == "" {
		return k, nil
	}

	authority, err := ParsePrivateKey(mintAuthority)
	if err != nil {
		return nil, fmt.Errorf("invalid mint authority keypair: %w", err)
	}
	k.signers[RoleMintAuthority] = authority
	k.signers[RoleLiquidity] = authority

	if liquidity != "" {
		key, err := ParsePrivateKey(liquidity)
		if err != nil {
			return nil, fmt.Errorf("invalid liquidity keypair: %w", err)
		}
		k.signers[RoleLiquidity] = key
	}
	return k, nil
}

func (k *Keyring) Signer(role Role) (solana.PrivateKey, error) {
	key, ok := k.signers[role]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoSigner, role)
	}
	return key, nil
}

// Address returns the public key of role, or the zero key when unset.
func (k *Keyring) Address(role Role) solana.PublicKey {
	key, ok := k.signers[role]
	if !ok {
		return solana.PublicKey{}
	}
	return key.PublicKey()
}

// ParsePrivateKey accepts a base58 keypair or the JSON byte array written by
// solana-keygen.
func ParsePrivateKey(encoded string) (solana.PrivateKey, error) {
	encoded = strings.TrimSpace(encoded)
	if strings.HasPrefix(encoded, "[") {
		var raw []byte
		var ints []int
		if err := json.Unmarshal([]byte(encoded), &ints); err != nil {
			return nil, fmt.Errorf("failed to parse keypair array: %w", err)
		}
		for _, v := range ints {
			if v < 0 || v > 255 {
				return nil, fmt.Errorf("keypair byte %d out of range", v)
			}
			raw = append(raw, byte(v))
		}
		if len(raw) != 64 {
			return nil, fmt.Errorf("keypair must be 64 bytes, got %d", len(raw))
		}
		return solana.PrivateKey(raw), nil
	}

	key, err := solana.PrivateKeyFromBase58(encoded)
	if err != nil {
		return nil, err
	}
	if len(key) != 64 {
		return nil, fmt.Errorf("keypair must be 64 bytes, got %d", len(key))
	}
	return key, nil
}
