// Package xrpl provides the node's view of the ledger: wire types for
// memo-bearing payments, a JSON-RPC client for one-shot queries and
// submission, and a WebSocket subscriber for the validated-transaction
// stream.
package xrpl

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// PFTCurrency is the currency code of the Post Fiat token.
const PFTCurrency = "PFT"

// rippleEpochOffset converts ledger close times (seconds since
// 2000-01-01T00:00:00Z) to Unix time.
const rippleEpochOffset = 946684800

// RippleTime converts a ledger timestamp to UTC time.
func RippleTime(secs int64) time.Time {
	return time.Unix(secs+rippleEpochOffset, 0).UTC()
}

// Amount is a payment amount: either native XRP expressed in drops or an
// issued currency {currency, issuer, value}. The ledger serializes the
// former as a bare string and the latter as an object.
type Amount struct {
	// Native is set when the amount is XRP; Drops then holds the value.
	Native bool
	Drops  int64

	Currency string
	Issuer   string
	Value    string
}

// IssuedAmount builds an issued-currency amount.
func IssuedAmount(currency, issuer, value string) Amount {
	return Amount{Currency: currency, Issuer: issuer, Value: value}
}

// DropsAmount builds a native amount.
func DropsAmount(drops int64) Amount {
	return Amount{Native: true, Drops: drops}
}

// IsPFT reports whether the amount is PFT issued by the given issuer.
func (a Amount) IsPFT(issuer string) bool {
	return !a.Native && a.Currency == PFTCurrency && a.Issuer == issuer
}

// Float returns the issued-currency value as a float, or the XRP value
// for native amounts.
func (a Amount) Float() float64 {
	if a.Native {
		return float64(a.Drops) / 1e6
	}
	v, err := strconv.ParseFloat(a.Value, 64)
	if err != nil {
		return 0
	}
	return v
}

// UnmarshalJSON accepts both the bare-string (drops) and object forms.
func (a *Amount) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		drops, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid drops amount %q: %w", s, err)
		}
		a.Native = true
		a.Drops = drops
		return nil
	}

	var obj struct {
		Currency string `json:"currency"`
		Issuer   string `json:"issuer"`
		Value    string `json:"value"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	a.Native = false
	a.Currency = obj.Currency
	a.Issuer = obj.Issuer
	a.Value = obj.Value
	return nil
}

// MarshalJSON emits the wire form expected by the ledger.
func (a Amount) MarshalJSON() ([]byte, error) {
	if a.Native {
		return json.Marshal(strconv.FormatInt(a.Drops, 10))
	}
	return json.Marshal(struct {
		Currency string `json:"currency"`
		Issuer   string `json:"issuer"`
		Value    string `json:"value"`
	}{a.Currency, a.Issuer, a.Value})
}

// Memo is the hex-encoded memo triple carried by a payment.
type Memo struct {
	MemoType   string `json:"MemoType,omitempty"`
	MemoFormat string `json:"MemoFormat,omitempty"`
	MemoData   string `json:"MemoData,omitempty"`
}

// MemoWrapper matches the ledger's nesting of memos.
type MemoWrapper struct {
	Memo Memo `json:"Memo"`
}

// Transaction is the decoded tx_json of a ledger transaction. Only the
// fields the engine reads are mapped; the full JSON is preserved in the
// cache row.
type Transaction struct {
	Account         string        `json:"Account"`
	Destination     string        `json:"Destination,omitempty"`
	TransactionType string        `json:"TransactionType"`
	Amount          *Amount       `json:"Amount,omitempty"`
	DeliverMax      *Amount       `json:"DeliverMax,omitempty"`
	Memos           []MemoWrapper `json:"Memos,omitempty"`
	Fee             string        `json:"Fee,omitempty"`
	Sequence        uint32        `json:"Sequence,omitempty"`
	DestinationTag  *uint32       `json:"DestinationTag,omitempty"`
	Date            int64         `json:"date,omitempty"`
	Hash            string        `json:"hash,omitempty"`
	LedgerIndex     int64         `json:"ledger_index,omitempty"`
}

// FirstMemo returns the transaction's memo. The ledger permits several
// but the protocol uses at most one per transaction.
func (t *Transaction) FirstMemo() (Memo, bool) {
	if len(t.Memos) == 0 {
		return Memo{}, false
	}
	return t.Memos[0].Memo, true
}

// PaymentAmount resolves the amount field across API versions: recent
// rippled releases report DeliverMax instead of Amount.
func (t *Transaction) PaymentAmount() *Amount {
	if t.Amount != nil {
		return t.Amount
	}
	return t.DeliverMax
}

// Meta is the transaction metadata the engine inspects.
type Meta struct {
	TransactionResult string `json:"TransactionResult"`
}

// TxEnvelope is one entry of an account_tx page or a subscription event:
// the transaction JSON plus its metadata and placement.
type TxEnvelope struct {
	Hash         string
	LedgerIndex  int64
	CloseTimeISO string
	Validated    bool
	TxJSON       json.RawMessage
	MetaJSON     json.RawMessage
}

// Tx decodes the transaction JSON.
func (e *TxEnvelope) Tx() (*Transaction, error) {
	var tx Transaction
	if err := json.Unmarshal(e.TxJSON, &tx); err != nil {
		return nil, fmt.Errorf("failed to decode tx_json: %w", err)
	}
	return &tx, nil
}

// Meta decodes the metadata JSON.
func (e *TxEnvelope) Meta() (*Meta, error) {
	var m Meta
	if err := json.Unmarshal(e.MetaJSON, &m); err != nil {
		return nil, fmt.Errorf("failed to decode meta: %w", err)
	}
	return &m, nil
}

// CloseTime parses the envelope's close time. When the server did not
// include close_time_iso (API v1), the ripple-epoch date field of the
// transaction is used instead.
func (e *TxEnvelope) CloseTime() (time.Time, error) {
	if e.CloseTimeISO != "" {
		t, err := time.Parse(time.RFC3339, e.CloseTimeISO)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid close_time_iso %q: %w", e.CloseTimeISO, err)
		}
		return t.UTC(), nil
	}
	tx, err := e.Tx()
	if err != nil {
		return time.Time{}, err
	}
	if tx.Date == 0 {
		return time.Time{}, fmt.Errorf("transaction %s carries no close time", e.Hash)
	}
	return RippleTime(tx.Date), nil
}

// envelopeJSON is the wire shape shared by account_tx entries and
// subscription events across API versions.
type envelopeJSON struct {
	Hash         string          `json:"hash"`
	LedgerIndex  int64           `json:"ledger_index"`
	CloseTimeISO string          `json:"close_time_iso"`
	Validated    bool            `json:"validated"`
	Meta         json.RawMessage `json:"meta"`
	MetaBlob     json.RawMessage `json:"metaData"`
	TxJSON       json.RawMessage `json:"tx_json"`
	Tx           json.RawMessage `json:"tx"`
	Transaction  json.RawMessage `json:"transaction"`
}

func (raw *envelopeJSON) envelope() (TxEnvelope, error) {
	env := TxEnvelope{
		Hash:         raw.Hash,
		LedgerIndex:  raw.LedgerIndex,
		CloseTimeISO: raw.CloseTimeISO,
		Validated:    raw.Validated,
		MetaJSON:     raw.Meta,
	}
	if env.MetaJSON == nil {
		env.MetaJSON = raw.MetaBlob
	}
	switch {
	case raw.TxJSON != nil:
		env.TxJSON = raw.TxJSON
	case raw.Tx != nil:
		env.TxJSON = raw.Tx
	case raw.Transaction != nil:
		env.TxJSON = raw.Transaction
	default:
		return env, fmt.Errorf("entry carries no transaction JSON")
	}

	// API v1 keeps hash and ledger_index inside the transaction object.
	if env.Hash == "" || env.LedgerIndex == 0 {
		var tx Transaction
		if err := json.Unmarshal(env.TxJSON, &tx); err == nil {
			if env.Hash == "" {
				env.Hash = tx.Hash
			}
			if env.LedgerIndex == 0 {
				env.LedgerIndex = tx.LedgerIndex
			}
		}
	}
	return env, nil
}

// AccountInfo is the subset of account_info the engine uses.
type AccountInfo struct {
	Account  string
	Sequence uint32
	Balance  int64 // drops
	Flags    uint32
}

// XRP returns the account's spendable balance in XRP.
func (i *AccountInfo) XRP() float64 {
	return float64(i.Balance) / 1e6
}

// TrustLine is one account_lines entry.
type TrustLine struct {
	Account  string `json:"account"`
	Currency string `json:"currency"`
	Balance  string `json:"balance"`
	Limit    string `json:"limit"`
}

// BalanceFloat parses the line's balance.
func (l *TrustLine) BalanceFloat() float64 {
	v, err := strconv.ParseFloat(l.Balance, 64)
	if err != nil {
		return 0
	}
	return v
}

// SubmitResult is the outcome of a submit call.
type SubmitResult struct {
	EngineResult        string
	EngineResultMessage string
	Accepted            bool
	TxHash              string
}

// TesSuccess is the engine result code of an accepted transaction.
const TesSuccess = "tesSUCCESS"

// Succeeded reports whether the transaction was accepted for inclusion.
func (r *SubmitResult) Succeeded() bool {
	return r.EngineResult == TesSuccess
}
