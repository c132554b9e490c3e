// Package wallet implements ledger key and address handling: family-seed
// decoding, keypair derivation for both signing families, and classic
// address encoding. It backs the submitter's signing wallets and the memo
// codec's encryption channels.
package wallet

import "crypto/sha512"

// Sha512Half computes the first 256 bits of SHA-512, the ledger's
// standard hash.
func Sha512Half(msg []byte) [32]byte {
	h := sha512.Sum512(msg)
	var out [32]byte
	copy(out[:], h[:32])
	return out
}
