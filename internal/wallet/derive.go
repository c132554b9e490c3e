package wallet

import (
	"bytes"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/decred/dcrd/crypto/ripemd160"
)

// Key prefixes distinguishing the families in serialized key material.
const (
	ed25519KeyPrefix   = 0xED
	secp256k1KeyPrefix = 0x00
)

// DeriveKeypair derives the account keypair from seed entropy. Keys are
// returned as upper-case hex with the family prefix byte, matching the
// ledger's canonical presentation.
func DeriveKeypair(entropy []byte, keyType KeyType) (privateKey, publicKey string, err error) {
	switch keyType {
	case ED25519:
		return deriveEd25519(entropy)
	case SECP256K1:
		return deriveSecp256k1(entropy)
	default:
		return "", "", fmt.Errorf("unknown key type %d", int(keyType))
	}
}

func deriveEd25519(entropy []byte) (string, string, error) {
	keyMaterial := Sha512Half(entropy)
	pubKey, privKey, err := ed25519.GenerateKey(bytes.NewReader(keyMaterial[:]))
	if err != nil {
		return "", "", err
	}

	prefixedPub := append([]byte{ed25519KeyPrefix}, pubKey...)
	prefixedPriv := append([]byte{ed25519KeyPrefix}, privKey.Seed()...)

	return strings.ToUpper(hex.EncodeToString(prefixedPriv)),
		strings.ToUpper(hex.EncodeToString(prefixedPub)), nil
}

// deriveSecp256k1 performs the ledger's two-step account derivation: a
// root keypair from the seed, then an intermediate scalar from the root
// public key, summed modulo the curve order.
func deriveSecp256k1(entropy []byte) (string, string, error) {
	rootScalar := secpScalar(entropy, nil)
	rootBytes := rootScalar.Bytes()
	rootPub := btcec.PrivKeyFromBytes(rootBytes[:]).PubKey().SerializeCompressed()

	// Account family 0.
	family := make([]byte, 4)
	interScalar := secpScalar(rootPub, family)

	accountScalar := new(btcec.ModNScalar).Set(rootScalar)
	accountScalar.Add(interScalar)
	if accountScalar.IsZero() {
		return "", "", fmt.Errorf("derived zero account key")
	}

	accountBytes := accountScalar.Bytes()
	accountPriv := btcec.PrivKeyFromBytes(accountBytes[:])

	prefixedPriv := append([]byte{secp256k1KeyPrefix}, accountBytes[:]...)
	return strings.ToUpper(hex.EncodeToString(prefixedPriv)),
		strings.ToUpper(hex.EncodeToString(accountPriv.PubKey().SerializeCompressed())), nil
}

// secpScalar hashes seed||middle||counter with SHA512-half, incrementing
// the counter until the result is a valid non-zero scalar.
func secpScalar(seed, middle []byte) *btcec.ModNScalar {
	buf := make([]byte, 0, len(seed)+len(middle)+4)
	buf = append(buf, seed...)
	buf = append(buf, middle...)
	for counter := uint32(0); ; counter++ {
		attempt := binary.BigEndian.AppendUint32(buf, counter)
		h := Sha512Half(attempt)

		var s btcec.ModNScalar
		if overflow := s.SetByteSlice(h[:]); !overflow && !s.IsZero() {
			return &s
		}
	}
}

// AccountID computes the 160-bit account identifier from a serialized
// public key: RIPEMD160(SHA256(publicKey)).
func AccountID(publicKey []byte) [20]byte {
	sha := sha256.Sum256(publicKey)
	r := ripemd160.New()
	r.Write(sha[:])

	var id [20]byte
	copy(id[:], r.Sum(nil))
	return id
}

// EncodeClassicAddress renders an account ID as a classic r-address.
func EncodeClassicAddress(accountID [20]byte) string {
	return base58CheckEncode(prefixClassicAddress, accountID[:])
}

// EncodeClassicAddressFromPublicKeyHex derives the classic address of a
// hex-encoded public key (with family prefix byte).
func EncodeClassicAddressFromPublicKeyHex(publicKeyHex string) (string, error) {
	pub, err := hex.DecodeString(publicKeyHex)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	return EncodeClassicAddress(AccountID(pub)), nil
}

// DecodeClassicAddress returns the account ID behind a classic address.
func DecodeClassicAddress(address string) ([20]byte, error) {
	payload, ok := base58CheckDecode(address, prefixClassicAddress)
	if !ok || len(payload) != 20 {
		return [20]byte{}, ErrInvalidAddress
	}
	var id [20]byte
	copy(id[:], payload)
	return id, nil
}

// EncodeAccountPublicKey renders a public key in the aB... presentation.
func EncodeAccountPublicKey(publicKey []byte) (string, error) {
	if len(publicKey) != 33 {
		return "", fmt.Errorf("account public key must be 33 bytes, got %d", len(publicKey))
	}
	return base58CheckEncode(prefixAccountPublic, publicKey), nil
}

// EncodeNodePublicKey renders a public key in the n... presentation.
func EncodeNodePublicKey(publicKey []byte) (string, error) {
	if len(publicKey) != 33 {
		return "", fmt.Errorf("node public key must be 33 bytes, got %d", len(publicKey))
	}
	return base58CheckEncode(prefixNodePublic, publicKey), nil
}
