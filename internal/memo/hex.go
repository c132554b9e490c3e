package memo

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// ToHex encodes a UTF-8 memo field for the ledger.
func ToHex(s string) string {
	return strings.ToUpper(hex.EncodeToString([]byte(s)))
}

// FromHex decodes a ledger memo field back to UTF-8.
func FromHex(h string) (string, error) {
	b, err := hex.DecodeString(h)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedMemo, err)
	}
	return string(b), nil
}
