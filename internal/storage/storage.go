// Package storage defines the transaction cache: the records the ledger
// monitor writes, the decoded-memo projection the queues read, and the
// processing results that make queue work idempotent across restarts.
package storage

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/postfiatorg/pftnoded/internal/memo"
	"github.com/postfiatorg/pftnoded/internal/xrpl"
)

// TxRecord is one cached ledger transaction. The cache is append-only keyed
// by Hash; re-inserting an existing hash is a no-op.
type TxRecord struct {
	Hash        string
	Account     string
	Destination string
	LedgerIndex int64
	CloseTime   time.Time
	TxJSON      []byte
	MetaJSON    []byte
	Validated   bool
}

// DecodedMemo is a memo-bearing cache row projected for one reference
// account: hex fields decoded, amount direction signed from the reference
// account's point of view.
type DecodedMemo struct {
	Hash              string
	Account           string
	Destination       string
	UserAccount       string
	Datetime          time.Time
	LedgerIndex       int64
	MemoType          string
	MemoFormat        string
	MemoData          string
	DirectionalPFT    float64
	PFTAbsoluteAmount float64
	TransactionResult string
}

// Accepted reports whether the ledger applied the transaction.
func (d DecodedMemo) Accepted() bool {
	return d.TransactionResult == xrpl.TesSuccess
}

// ProcessingResult marks a cached transaction as handled by a queue. A row
// is written only after the queue observed its reply on-ledger.
type ProcessingResult struct {
	TxHash         string
	Processed      bool
	RuleName       string
	ResponseTxHash string
	Notes          string
	Timestamp      time.Time
}

// Order selects the scan direction for unprocessed-transaction queries.
type Order int

const (
	OrderOldestFirst Order = iota
	OrderNewestFirst
)

// Extension contributes schema objects applied after the core schema. The
// core tables and the decoded_memos view are invariant; extensions only add
// tables, indices, views, triggers or grants of their own.
type Extension struct {
	Name       string
	Statements []string
}

var (
	extMu       sync.RWMutex
	extRegistry = make(map[string]Extension)
)

// RegisterExtension makes a schema extension resolvable by name, so config
// can enable it by ID. Plug-in packages call this from init; registering
// the same name twice panics, matching database/sql driver semantics.
func RegisterExtension(ext Extension) {
	extMu.Lock()
	defer extMu.Unlock()
	if ext.Name == "" {
		panic("storage: extension with empty name")
	}
	if _, dup := extRegistry[ext.Name]; dup {
		panic("storage: RegisterExtension called twice for " + ext.Name)
	}
	extRegistry[ext.Name] = ext
}

// ExtensionFor looks up a registered schema extension by name.
func ExtensionFor(name string) (Extension, bool) {
	extMu.RLock()
	defer extMu.RUnlock()
	ext, ok := extRegistry[name]
	return ext, ok
}

// Store is the transaction cache shared by the monitor and the queues.
type Store interface {
	// BatchInsert upserts records in one transaction and returns how many
	// were new. Conflicting hashes are left untouched.
	BatchInsert(ctx context.Context, records []TxRecord) (int, error)

	// History returns the decoded memos in which account appears as sender
	// or destination, ordered by (datetime, ledger_index, hash) ascending.
	// Direction is computed against the queried account.
	History(ctx context.Context, account string, pftOnly bool) ([]DecodedMemo, error)

	// UnprocessedTransactions returns memo-bearing rows with no processing
	// result yet, decoded against the store's reference account.
	UnprocessedTransactions(ctx context.Context, orderBy Order, limit int) ([]DecodedMemo, error)

	// RecordResult upserts the processing result for one transaction.
	RecordResult(ctx context.Context, result ProcessingResult) error

	// ResultExists reports whether a processing result was recorded.
	ResultExists(ctx context.Context, txHash string) (bool, error)

	// MaxLedgerIndex returns the highest cached ledger index involving
	// account, or zero when nothing is cached.
	MaxLedgerIndex(ctx context.Context, account string) (int64, error)
}

// RecordFromEnvelope converts a validated ledger envelope into a cache
// record.
func RecordFromEnvelope(env xrpl.TxEnvelope) (TxRecord, error) {
	var tx xrpl.Transaction
	if err := json.Unmarshal(env.TxJSON, &tx); err != nil {
		return TxRecord{}, NewDataError("record_from_envelope", "undecodable tx_json", err)
	}

	hash := env.Hash
	if hash == "" {
		hash = tx.Hash
	}
	if hash == "" {
		return TxRecord{}, NewDataError("record_from_envelope", "envelope carries no hash", nil)
	}

	closeTime, err := time.Parse(time.RFC3339, env.CloseTimeISO)
	if err != nil {
		closeTime = xrpl.RippleTime(tx.Date)
	}

	return TxRecord{
		Hash:        hash,
		Account:     tx.Account,
		Destination: tx.Destination,
		LedgerIndex: env.LedgerIndex,
		CloseTime:   closeTime.UTC(),
		TxJSON:      env.TxJSON,
		MetaJSON:    env.MetaJSON,
		Validated:   env.Validated,
	}, nil
}

// DecodeRecord projects a cache record into a decoded memo for the given
// reference account. ok is false for rows without a memo or with
// undecodable tx_json. Memo fields that fail hex decoding are kept raw.
func DecodeRecord(rec TxRecord, reference string) (DecodedMemo, bool) {
	var tx xrpl.Transaction
	if err := json.Unmarshal(rec.TxJSON, &tx); err != nil {
		return DecodedMemo{}, false
	}

	m, ok := tx.FirstMemo()
	if !ok {
		return DecodedMemo{}, false
	}

	decoded := DecodedMemo{
		Hash:        rec.Hash,
		Account:     rec.Account,
		Destination: rec.Destination,
		Datetime:    rec.CloseTime,
		LedgerIndex: rec.LedgerIndex,
		MemoType:    hexFieldOrRaw(m.MemoType),
		MemoFormat:  hexFieldOrRaw(m.MemoFormat),
		MemoData:    hexFieldOrRaw(m.MemoData),
	}

	if amount := tx.PaymentAmount(); amount != nil && amount.Currency == xrpl.PFTCurrency {
		value := amount.Float()
		decoded.PFTAbsoluteAmount = value
		if rec.Destination == reference {
			decoded.DirectionalPFT = value
		} else {
			decoded.DirectionalPFT = -value
		}
	}

	if rec.Destination == reference {
		decoded.UserAccount = rec.Account
	} else {
		decoded.UserAccount = rec.Destination
	}

	if len(rec.MetaJSON) > 0 {
		var meta xrpl.Meta
		if err := json.Unmarshal(rec.MetaJSON, &meta); err == nil {
			decoded.TransactionResult = meta.TransactionResult
		}
	}

	return decoded, true
}

func hexFieldOrRaw(field string) string {
	s, err := memo.FromHex(field)
	if err != nil {
		return field
	}
	return s
}
