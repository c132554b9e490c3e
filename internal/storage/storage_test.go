package storage

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/postfiatorg/pftnoded/internal/memo"
	"github.com/postfiatorg/pftnoded/internal/xrpl"
)

const (
	nodeAddr  = "rNodeXXXXXXXXXXXXXXXXXXXXXXXXXXXXX"
	userAddr  = "rUserXXXXXXXXXXXXXXXXXXXXXXXXXXXXX"
	pftIssuer = "rIssuerXXXXXXXXXXXXXXXXXXXXXXXXXXX"
)

func paymentJSON(t *testing.T, from, to string, amount xrpl.Amount, memoType, memoFormat, memoData string) []byte {
	t.Helper()

	tx := xrpl.Transaction{
		Account:         from,
		Destination:     to,
		TransactionType: "Payment",
		Amount:          &amount,
	}
	if memoType != "" || memoData != "" {
		tx.Memos = []xrpl.MemoWrapper{{Memo: xrpl.Memo{
			MemoType:   memo.ToHex(memoType),
			MemoFormat: memo.ToHex(memoFormat),
			MemoData:   memo.ToHex(memoData),
		}}}
	}

	raw, err := json.Marshal(&tx)
	require.NoError(t, err)
	return raw
}

func pftRecord(t *testing.T, hash, from, to, memoType, memoData string, value string, at time.Time, ledger int64) TxRecord {
	t.Helper()
	return TxRecord{
		Hash:        hash,
		Account:     from,
		Destination: to,
		LedgerIndex: ledger,
		CloseTime:   at,
		TxJSON:      paymentJSON(t, from, to, xrpl.IssuedAmount(xrpl.PFTCurrency, pftIssuer, value), memoType, "node", memoData),
		MetaJSON:    []byte(`{"TransactionResult":"tesSUCCESS"}`),
		Validated:   true,
	}
}

func TestRecordFromEnvelope(t *testing.T) {
	txJSON := paymentJSON(t, userAddr, nodeAddr, xrpl.IssuedAmount(xrpl.PFTCurrency, pftIssuer, "1"), "2024-01-15_14:30", "user", "REQUEST_POST_FIAT ___ do a thing")

	env := xrpl.TxEnvelope{
		Hash:         "ABC123",
		LedgerIndex:  777,
		CloseTimeISO: "2024-01-15T14:30:00Z",
		Validated:    true,
		TxJSON:       txJSON,
		MetaJSON:     []byte(`{"TransactionResult":"tesSUCCESS"}`),
	}

	rec, err := RecordFromEnvelope(env)
	require.NoError(t, err)
	require.Equal(t, "ABC123", rec.Hash)
	require.Equal(t, userAddr, rec.Account)
	require.Equal(t, nodeAddr, rec.Destination)
	require.Equal(t, int64(777), rec.LedgerIndex)
	require.Equal(t, time.Date(2024, 1, 15, 14, 30, 0, 0, time.UTC), rec.CloseTime)
	require.True(t, rec.Validated)
}

func TestRecordFromEnvelopeRippleDateFallback(t *testing.T) {
	// API v1 entries carry no close_time_iso; the ripple-epoch date inside
	// the transaction stands in.
	txJSON := []byte(`{"Account":"` + userAddr + `","Destination":"` + nodeAddr + `","TransactionType":"Payment","date":757791600,"hash":"DEF456"}`)

	env := xrpl.TxEnvelope{
		LedgerIndex: 42,
		Validated:   true,
		TxJSON:      txJSON,
		MetaJSON:    []byte(`{"TransactionResult":"tesSUCCESS"}`),
	}

	rec, err := RecordFromEnvelope(env)
	require.NoError(t, err)
	require.Equal(t, "DEF456", rec.Hash)
	require.Equal(t, xrpl.RippleTime(757791600), rec.CloseTime)
}

func TestRecordFromEnvelopeRejectsHashless(t *testing.T) {
	env := xrpl.TxEnvelope{
		TxJSON:   []byte(`{"Account":"` + userAddr + `"}`),
		MetaJSON: []byte(`{}`),
	}
	_, err := RecordFromEnvelope(env)
	require.Error(t, err)
	require.True(t, IsDataError(err))
}

func TestDecodeRecordDirection(t *testing.T) {
	at := time.Date(2024, 1, 15, 14, 30, 0, 0, time.UTC)
	rec := pftRecord(t, "H1", userAddr, nodeAddr, "2024-01-15_14:30", "REQUEST_POST_FIAT ___ task please", "35", at, 100)

	// Node's point of view: incoming.
	decoded, ok := DecodeRecord(rec, nodeAddr)
	require.True(t, ok)
	require.Equal(t, "2024-01-15_14:30", decoded.MemoType)
	require.Equal(t, "REQUEST_POST_FIAT ___ task please", decoded.MemoData)
	require.Equal(t, "node", decoded.MemoFormat)
	require.Equal(t, 35.0, decoded.DirectionalPFT)
	require.Equal(t, 35.0, decoded.PFTAbsoluteAmount)
	require.Equal(t, userAddr, decoded.UserAccount)
	require.Equal(t, at, decoded.Datetime)
	require.Equal(t, int64(100), decoded.LedgerIndex)
	require.True(t, decoded.Accepted())

	// Sender's point of view: outgoing.
	decoded, ok = DecodeRecord(rec, userAddr)
	require.True(t, ok)
	require.Equal(t, -35.0, decoded.DirectionalPFT)
	require.Equal(t, 35.0, decoded.PFTAbsoluteAmount)
	require.Equal(t, nodeAddr, decoded.UserAccount)
}

func TestDecodeRecordXRPPayment(t *testing.T) {
	rec := TxRecord{
		Hash:        "H2",
		Account:     nodeAddr,
		Destination: userAddr,
		CloseTime:   time.Now().UTC(),
		TxJSON:      paymentJSON(t, nodeAddr, userAddr, xrpl.DropsAmount(1000000), "discord_wallet_funding", "node", "funding"),
		MetaJSON:    []byte(`{"TransactionResult":"tesSUCCESS"}`),
	}

	decoded, ok := DecodeRecord(rec, nodeAddr)
	require.True(t, ok)
	require.Zero(t, decoded.DirectionalPFT)
	require.Zero(t, decoded.PFTAbsoluteAmount)
	require.Equal(t, "discord_wallet_funding", decoded.MemoType)
}

func TestDecodeRecordKeepsRawOnBadHex(t *testing.T) {
	rec := TxRecord{
		Hash:        "H3",
		Account:     userAddr,
		Destination: nodeAddr,
		CloseTime:   time.Now().UTC(),
		TxJSON:      []byte(`{"Account":"` + userAddr + `","Destination":"` + nodeAddr + `","TransactionType":"Payment","Memos":[{"Memo":{"MemoType":"ZZNOTHEX","MemoData":"also not hex"}}]}`),
		MetaJSON:    []byte(`{}`),
	}

	decoded, ok := DecodeRecord(rec, nodeAddr)
	require.True(t, ok)
	require.Equal(t, "ZZNOTHEX", decoded.MemoType)
	require.Equal(t, "also not hex", decoded.MemoData)
}

func TestDecodeRecordSkipsMemolessRows(t *testing.T) {
	rec := TxRecord{
		Hash:      "H4",
		Account:   userAddr,
		CloseTime: time.Now().UTC(),
		TxJSON:    []byte(`{"Account":"` + userAddr + `","TransactionType":"Payment"}`),
	}
	_, ok := DecodeRecord(rec, nodeAddr)
	require.False(t, ok)

	rec.TxJSON = []byte(`{broken`)
	_, ok = DecodeRecord(rec, nodeAddr)
	require.False(t, ok)
}

func TestMemoryStoreBatchInsertIdempotent(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(nodeAddr)
	at := time.Date(2024, 1, 15, 14, 30, 0, 0, time.UTC)

	batch := []TxRecord{
		pftRecord(t, "A", userAddr, nodeAddr, "2024-01-15_14:30", "REQUEST_POST_FIAT ___ one", "1", at, 100),
		pftRecord(t, "B", userAddr, nodeAddr, "2024-01-15_14:31", "REQUEST_POST_FIAT ___ two", "1", at.Add(time.Minute), 101),
	}

	n, err := store.BatchInsert(ctx, batch)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	// Same batch again is a no-op.
	n, err = store.BatchInsert(ctx, batch)
	require.NoError(t, err)
	require.Zero(t, n)
	require.Equal(t, 2, store.Len())
}

func TestMemoryStoreHistoryOrderAndFilter(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(nodeAddr)
	base := time.Date(2024, 1, 15, 14, 0, 0, 0, time.UTC)

	other := "rOtherXXXXXXXXXXXXXXXXXXXXXXXXXXXX"
	records := []TxRecord{
		pftRecord(t, "C2", userAddr, nodeAddr, "2024-01-15_14:02", "ACCEPTANCE REASON ___ ok", "1", base.Add(2*time.Minute), 102),
		pftRecord(t, "C1", userAddr, nodeAddr, "2024-01-15_14:01", "REQUEST_POST_FIAT ___ one", "1", base.Add(time.Minute), 101),
		pftRecord(t, "C3", other, userAddr, "2024-01-15_14:03", "unrelated pair", "1", base.Add(3*time.Minute), 103),
		// Same close time as C2: ledger index breaks the tie.
		pftRecord(t, "C0", nodeAddr, userAddr, "2024-01-15_14:02", "PROPOSED PF ___ t .. 10", "1", base.Add(2*time.Minute), 101),
	}
	// An XRP-only row involving the node.
	records = append(records, TxRecord{
		Hash:        "X1",
		Account:     nodeAddr,
		Destination: userAddr,
		LedgerIndex: 104,
		CloseTime:   base.Add(4 * time.Minute),
		TxJSON:      paymentJSON(t, nodeAddr, userAddr, xrpl.DropsAmount(5000000), "discord_wallet_funding", "node", "funding"),
		MetaJSON:    []byte(`{"TransactionResult":"tesSUCCESS"}`),
	})

	_, err := store.BatchInsert(ctx, records)
	require.NoError(t, err)

	history, err := store.History(ctx, nodeAddr, false)
	require.NoError(t, err)
	require.Len(t, history, 4)
	require.Equal(t, []string{"C1", "C0", "C2", "X1"}, hashes(history))

	// PFT-only drops the XRP funding row.
	history, err = store.History(ctx, nodeAddr, true)
	require.NoError(t, err)
	require.Equal(t, []string{"C1", "C0", "C2"}, hashes(history))

	// The unrelated pair only shows in its own parties' history.
	history, err = store.History(ctx, other, false)
	require.NoError(t, err)
	require.Equal(t, []string{"C3"}, hashes(history))
}

func TestMemoryStoreUnprocessed(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(nodeAddr)
	base := time.Date(2024, 1, 15, 14, 0, 0, 0, time.UTC)

	_, err := store.BatchInsert(ctx, []TxRecord{
		pftRecord(t, "U1", userAddr, nodeAddr, "2024-01-15_14:01", "REQUEST_POST_FIAT ___ one", "1", base.Add(time.Minute), 101),
		pftRecord(t, "U2", userAddr, nodeAddr, "2024-01-15_14:02", "REQUEST_POST_FIAT ___ two", "1", base.Add(2*time.Minute), 102),
		pftRecord(t, "U3", userAddr, nodeAddr, "2024-01-15_14:03", "REQUEST_POST_FIAT ___ three", "1", base.Add(3*time.Minute), 103),
	})
	require.NoError(t, err)

	rows, err := store.UnprocessedTransactions(ctx, OrderNewestFirst, 10)
	require.NoError(t, err)
	require.Equal(t, []string{"U3", "U2", "U1"}, hashes(rows))

	rows, err = store.UnprocessedTransactions(ctx, OrderOldestFirst, 2)
	require.NoError(t, err)
	require.Equal(t, []string{"U1", "U2"}, hashes(rows))

	// A recorded result removes the row from the scan.
	err = store.RecordResult(ctx, ProcessingResult{
		TxHash:         "U2",
		Processed:      true,
		RuleName:       "proposal_queue",
		ResponseTxHash: "R2",
		Timestamp:      time.Now().UTC(),
	})
	require.NoError(t, err)

	rows, err = store.UnprocessedTransactions(ctx, OrderOldestFirst, 10)
	require.NoError(t, err)
	require.Equal(t, []string{"U1", "U3"}, hashes(rows))

	exists, err := store.ResultExists(ctx, "U2")
	require.NoError(t, err)
	require.True(t, exists)
	exists, err = store.ResultExists(ctx, "U1")
	require.NoError(t, err)
	require.False(t, exists)

	_, err = store.UnprocessedTransactions(ctx, OrderOldestFirst, 0)
	require.ErrorIs(t, err, ErrInvalidLimit)
}

func TestMemoryStoreMaxLedgerIndex(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(nodeAddr)
	base := time.Date(2024, 1, 15, 14, 0, 0, 0, time.UTC)

	max, err := store.MaxLedgerIndex(ctx, nodeAddr)
	require.NoError(t, err)
	require.Zero(t, max)

	_, err = store.BatchInsert(ctx, []TxRecord{
		pftRecord(t, "M1", userAddr, nodeAddr, "2024-01-15_14:01", "a", "1", base, 1500),
		pftRecord(t, "M2", nodeAddr, userAddr, "2024-01-15_14:02", "b", "1", base, 2500),
		pftRecord(t, "M3", "rSomeoneElseXXXXXXXXXXXXXXXXXXXXXX", userAddr, "x", "c", "1", base, 9000),
	})
	require.NoError(t, err)

	max, err = store.MaxLedgerIndex(ctx, nodeAddr)
	require.NoError(t, err)
	require.Equal(t, int64(2500), max)
}

func TestExtensionRegistry(t *testing.T) {
	ext := Extension{
		Name:       "discord_bridge",
		Statements: []string{"CREATE TABLE IF NOT EXISTS discord_links (account TEXT PRIMARY KEY, discord_id TEXT)"},
	}
	RegisterExtension(ext)

	got, ok := ExtensionFor("discord_bridge")
	require.True(t, ok)
	require.Equal(t, ext.Statements, got.Statements)

	_, ok = ExtensionFor("never_registered")
	require.False(t, ok)

	require.Panics(t, func() { RegisterExtension(ext) })
	require.Panics(t, func() { RegisterExtension(Extension{}) })
}

func hashes(memos []DecodedMemo) []string {
	out := make([]string, len(memos))
	for i, m := range memos {
		out[i] = m.Hash
	}
	return out
}
