package xrpl

import "errors"

var (
	// ErrLedgerUnavailable indicates the ledger endpoint could not be
	// reached or returned a malformed response.
	ErrLedgerUnavailable = errors.New("ledger unavailable")

	// ErrAccountNotFound indicates the queried account does not exist on
	// the ledger.
	ErrAccountNotFound = errors.New("account not found")

	// ErrSubmissionRejected indicates the ledger refused a submitted
	// transaction with a non-success engine result.
	ErrSubmissionRejected = errors.New("transaction submission rejected")

	// ErrNotValidated indicates a submitted transaction was not observed
	// in a validated ledger before its LastLedgerSequence passed.
	ErrNotValidated = errors.New("transaction not validated")

	// ErrSubscriberClosed indicates the subscription stream has shut down.
	ErrSubscriberClosed = errors.New("subscriber closed")
)

// IsAccountNotFound checks whether err indicates a missing account.
func IsAccountNotFound(err error) bool {
	return errors.Is(err, ErrAccountNotFound)
}
