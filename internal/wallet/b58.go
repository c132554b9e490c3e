package wallet

import (
	"bytes"
	"crypto/sha256"
	"math/big"
)

// rippleAlphabet is the base58 dictionary used by the ledger. It differs
// from Bitcoin's ordering so that account addresses start with 'r'.
const rippleAlphabet = "rpshnaf39wBUDNEGHJKLM4PQRST7VWXYZ2bcdeCg65jkm8oFqi1tuvAxyz"

var b58Index = func() [128]int8 {
	var idx [128]int8
	for i := range idx {
		idx[i] = -1
	}
	for i := 0; i < len(rippleAlphabet); i++ {
		idx[rippleAlphabet[i]] = int8(i)
	}
	return idx
}()

var b58Radix = big.NewInt(58)

func base58Encode(input []byte) string {
	num := new(big.Int).SetBytes(input)
	mod := new(big.Int)

	var out []byte
	for num.Sign() > 0 {
		num.DivMod(num, b58Radix, mod)
		out = append(out, rippleAlphabet[mod.Int64()])
	}
	// Leading zero bytes map to the zero digit.
	for _, b := range input {
		if b != 0 {
			break
		}
		out = append(out, rippleAlphabet[0])
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return string(out)
}

func base58Decode(s string) ([]byte, bool) {
	num := big.NewInt(0)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 128 || b58Index[c] < 0 {
			return nil, false
		}
		num.Mul(num, b58Radix)
		num.Add(num, big.NewInt(int64(b58Index[c])))
	}

	decoded := num.Bytes()
	var leading int
	for leading = 0; leading < len(s) && s[leading] == rippleAlphabet[0]; leading++ {
	}
	out := make([]byte, leading+len(decoded))
	copy(out[leading:], decoded)
	return out, true
}

func checksum(payload []byte) []byte {
	first := sha256.Sum256(payload)
	second := sha256.Sum256(first[:])
	return second[:4]
}

// base58CheckEncode prepends the version prefix and appends a 4-byte
// double-SHA256 checksum before encoding.
func base58CheckEncode(prefix, payload []byte) string {
	body := make([]byte, 0, len(prefix)+len(payload)+4)
	body = append(body, prefix...)
	body = append(body, payload...)
	body = append(body, checksum(body)...)
	return base58Encode(body)
}

// base58CheckDecode verifies the checksum and the expected prefix,
// returning the payload between them.
func base58CheckDecode(s string, prefix []byte) ([]byte, bool) {
	raw, ok := base58Decode(s)
	if !ok || len(raw) < len(prefix)+5 {
		return nil, false
	}
	body, sum := raw[:len(raw)-4], raw[len(raw)-4:]
	if !bytes.Equal(checksum(body), sum) {
		return nil, false
	}
	if !bytes.Equal(body[:len(prefix)], prefix) {
		return nil, false
	}
	return body[len(prefix):], true
}
