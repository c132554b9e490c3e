package wallet

import (
	"bytes"
	"crypto/ed25519"
	"fmt"
)

// Wallet is a derived ledger account: the seed it came from, its signing
// family, the account keypair, and the classic address. Private key
// material stays in memory only; persistence goes through the credential
// store as the seed string.
type Wallet struct {
	Seed       string
	KeyType    KeyType
	PrivateKey string
	PublicKey  string
	Address    string
}

// FromSeed derives the wallet behind a family seed.
func FromSeed(seed string) (*Wallet, error) {
	entropy, keyType, err := DecodeSeed(seed)
	if err != nil {
		return nil, err
	}

	priv, pub, err := DeriveKeypair(entropy, keyType)
	if err != nil {
		return nil, fmt.Errorf("failed to derive keypair: %w", err)
	}

	address, err := EncodeClassicAddressFromPublicKeyHex(pub)
	if err != nil {
		return nil, err
	}

	return &Wallet{
		Seed:       seed,
		KeyType:    keyType,
		PrivateKey: priv,
		PublicKey:  pub,
		Address:    address,
	}, nil
}

// Ed25519Keys returns the raw Ed25519 keypair derived from the seed's
// entropy. This derivation is used for the memo channel's key agreement
// regardless of the seed's signing family.
func Ed25519Keys(seed string) (ed25519.PublicKey, ed25519.PrivateKey, error) {
	entropy, _, err := DecodeSeed(seed)
	if err != nil {
		return nil, nil, err
	}
	keyMaterial := Sha512Half(entropy)
	pub, priv, err := ed25519.GenerateKey(bytes.NewReader(keyMaterial[:]))
	if err != nil {
		return nil, nil, err
	}
	return pub, priv, nil
}
