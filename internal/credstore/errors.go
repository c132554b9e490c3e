package credstore

import "errors"

var (
	// ErrInvalidPassword indicates the password does not unlock the store.
	ErrInvalidPassword = errors.New("invalid credential store password")

	// ErrCredentialNotFound indicates no credential exists under the key.
	ErrCredentialNotFound = errors.New("credential not found")

	// ErrStoreClosed indicates the store has been closed.
	ErrStoreClosed = errors.New("credential store is closed")

	// ErrReservedKey indicates the key collides with internal bookkeeping.
	ErrReservedKey = errors.New("credential key is reserved")

	// ErrCorrupted indicates a stored record failed to decode or verify.
	ErrCorrupted = errors.New("credential store data corrupted")
)

// errDecryptFailed distinguishes an AEAD authentication failure from a
// decode failure; Open maps it to ErrInvalidPassword for the canary and
// Get maps it to ErrCorrupted for ordinary records.
var errDecryptFailed = errors.New("record decryption failed")

// IsNotFound checks if an error indicates a missing credential.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrCredentialNotFound)
}

// IsInvalidPassword checks if an error indicates a bad password.
func IsInvalidPassword(err error) bool {
	return errors.Is(err, ErrInvalidPassword)
}
