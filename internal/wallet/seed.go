package wallet

import (
	"crypto/rand"
	"errors"
	"fmt"
)

// KeyType identifies the signing family a seed derives.
type KeyType int

const (
	// SECP256K1 is the ledger's original signing family.
	SECP256K1 KeyType = iota
	// ED25519 seeds are encoded with the sEd prefix.
	ED25519
)

func (k KeyType) String() string {
	switch k {
	case SECP256K1:
		return "secp256k1"
	case ED25519:
		return "ed25519"
	default:
		return fmt.Sprintf("KeyType(%d)", int(k))
	}
}

// SeedEntropySize is the entropy carried by a family seed.
const SeedEntropySize = 16

var (
	// ErrInvalidSeed indicates the string is not a valid family seed.
	ErrInvalidSeed = errors.New("invalid seed")

	// ErrInvalidAddress indicates the string is not a valid classic address.
	ErrInvalidAddress = errors.New("invalid address")
)

// Version prefixes from the ledger's address codec.
var (
	prefixClassicAddress = []byte{0x00}
	prefixSeedSecp256k1  = []byte{0x21}
	prefixSeedEd25519    = []byte{0x01, 0xE1, 0x4B}
	prefixAccountPublic  = []byte{0x23}
	prefixNodePublic     = []byte{0x1C}
)

// EncodeSeed encodes 16 bytes of entropy as a family seed for the given
// signing family.
func EncodeSeed(entropy []byte, keyType KeyType) (string, error) {
	if len(entropy) != SeedEntropySize {
		return "", fmt.Errorf("%w: entropy must be %d bytes, got %d", ErrInvalidSeed, SeedEntropySize, len(entropy))
	}
	switch keyType {
	case SECP256K1:
		return base58CheckEncode(prefixSeedSecp256k1, entropy), nil
	case ED25519:
		return base58CheckEncode(prefixSeedEd25519, entropy), nil
	default:
		return "", fmt.Errorf("%w: unknown key type %d", ErrInvalidSeed, int(keyType))
	}
}

// DecodeSeed decodes a family seed, returning its entropy and family.
func DecodeSeed(seed string) ([]byte, KeyType, error) {
	if entropy, ok := base58CheckDecode(seed, prefixSeedEd25519); ok && len(entropy) == SeedEntropySize {
		return entropy, ED25519, nil
	}
	if entropy, ok := base58CheckDecode(seed, prefixSeedSecp256k1); ok && len(entropy) == SeedEntropySize {
		return entropy, SECP256K1, nil
	}
	return nil, 0, ErrInvalidSeed
}

// GenerateSeed creates a random family seed for the given family.
func GenerateSeed(keyType KeyType) (string, error) {
	entropy := make([]byte, SeedEntropySize)
	if _, err := rand.Read(entropy); err != nil {
		return "", fmt.Errorf("failed to gather seed entropy: %w", err)
	}
	return EncodeSeed(entropy, keyType)
}

// SeedFromPassphrase derives a deterministic secp256k1 family seed from a
// passphrase, the way the ledger's reference implementation does.
func SeedFromPassphrase(passphrase string) (string, error) {
	h := Sha512Half([]byte(passphrase))
	return EncodeSeed(h[:SeedEntropySize], SECP256K1)
}
