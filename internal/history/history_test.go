package history

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/postfiatorg/pftnoded/internal/logging"
	"github.com/postfiatorg/pftnoded/internal/memo"
	"github.com/postfiatorg/pftnoded/internal/storage"
	"github.com/postfiatorg/pftnoded/internal/wallet"
	"github.com/postfiatorg/pftnoded/internal/xrpl"
)

const (
	nodeAddr = "rNodeXXXXXXXXXXXXXXXXXXXXXXXXXXXXX"
	userAddr = "rUserXXXXXXXXXXXXXXXXXXXXXXXXXXXXX"
	issuer   = "rIssuerXXXXXXXXXXXXXXXXXXXXXXXXXXX"
)

func record(t *testing.T, hash, from, to, memoType, memoData string, at time.Time, ledger int64) storage.TxRecord {
	t.Helper()

	amount := xrpl.IssuedAmount(xrpl.PFTCurrency, issuer, "1")
	tx := xrpl.Transaction{
		Account:         from,
		Destination:     to,
		TransactionType: "Payment",
		Amount:          &amount,
		Memos: []xrpl.MemoWrapper{{Memo: xrpl.Memo{
			MemoType:   memo.ToHex(memoType),
			MemoFormat: memo.ToHex("tester"),
			MemoData:   memo.ToHex(memoData),
		}}},
	}
	raw, err := json.Marshal(&tx)
	require.NoError(t, err)

	return storage.TxRecord{
		Hash:        hash,
		Account:     from,
		Destination: to,
		LedgerIndex: ledger,
		CloseTime:   at,
		TxJSON:      raw,
		MetaJSON:    []byte(`{"TransactionResult":"tesSUCCESS"}`),
		Validated:   true,
	}
}

func seed(t *testing.T, records ...storage.TxRecord) *storage.MemoryStore {
	t.Helper()
	store := storage.NewMemoryStore(nodeAddr)
	_, err := store.BatchInsert(context.Background(), records)
	require.NoError(t, err)
	return store
}

// A large memo split across three transactions must come back as one
// logical entry that downstream classification treats as a single memo.
func TestMemoHistoryReassemblesChunks(t *testing.T) {
	taskID := "2024-01-15_14:30__AB12"
	payload := memo.TaskOutputSentinel + " " + strings.Repeat("deliverable detail. ", 120) // ~2500 bytes
	chunks := memo.SplitChunks(payload)
	require.Len(t, chunks, 3)

	base := time.Date(2024, 1, 15, 14, 30, 0, 0, time.UTC)
	var records []storage.TxRecord
	for i, chunk := range chunks {
		records = append(records, record(t, "CH"+string(rune('1'+i)), userAddr, nodeAddr,
			taskID, chunk, base.Add(time.Duration(i)*time.Minute), int64(100+i)))
	}

	builder := NewBuilder(seed(t, records...), WithLogger(logging.NopLogger{}))
	entries, err := builder.MemoHistory(context.Background(), nodeAddr, false)
	require.NoError(t, err)

	require.Len(t, entries, 1)
	entry := entries[0]
	require.Equal(t, payload, entry.MemoData)
	require.Equal(t, taskID, entry.MemoType)
	require.Equal(t, memo.StageTaskOutput, memo.ClassifyMemoData(entry.MemoData))

	// The last chunk's row represents the group.
	require.Equal(t, "CH3", entry.Hash)
	require.Equal(t, int64(102), entry.LedgerIndex)
}

func TestMemoHistoryLeavesPlainRowsAlone(t *testing.T) {
	base := time.Date(2024, 1, 15, 14, 0, 0, 0, time.UTC)
	store := seed(t,
		record(t, "P1", userAddr, nodeAddr, "2024-01-15_14:01", "REQUEST_POST_FIAT ___ one", base.Add(time.Minute), 101),
		record(t, "P2", nodeAddr, userAddr, "2024-01-15_14:01", "PROPOSED PF ___ t .. 10", base.Add(2*time.Minute), 102),
	)

	builder := NewBuilder(store, WithLogger(logging.NopLogger{}))
	entries, err := builder.MemoHistory(context.Background(), nodeAddr, false)
	require.NoError(t, err)

	require.Len(t, entries, 2)
	require.Equal(t, "P1", entries[0].Hash)
	require.Equal(t, "REQUEST_POST_FIAT ___ one", entries[0].MemoData)
	require.Equal(t, "P2", entries[1].Hash)
}

func TestMemoHistorySkipsFailedTransactions(t *testing.T) {
	base := time.Date(2024, 1, 15, 14, 0, 0, 0, time.UTC)
	failed := record(t, "F1", userAddr, nodeAddr, "2024-01-15_14:01", "REQUEST_POST_FIAT ___ broke", base, 100)
	failed.MetaJSON = []byte(`{"TransactionResult":"tecPATH_DRY"}`)

	store := seed(t, failed,
		record(t, "F2", userAddr, nodeAddr, "2024-01-15_14:02", "REQUEST_POST_FIAT ___ fine", base.Add(time.Minute), 101))

	builder := NewBuilder(store, WithLogger(logging.NopLogger{}))
	entries, err := builder.MemoHistory(context.Background(), nodeAddr, false)
	require.NoError(t, err)

	require.Len(t, entries, 1)
	require.Equal(t, "F2", entries[0].Hash)
}

func TestMemoHistorySeparatesCounterparties(t *testing.T) {
	// Two users chunking under the same memo_type must not interleave.
	other := "rOtherXXXXXXXXXXXXXXXXXXXXXXXXXXXX"
	base := time.Date(2024, 1, 15, 14, 0, 0, 0, time.UTC)

	store := seed(t,
		record(t, "A1", userAddr, nodeAddr, memo.GoogleDocLinkType, "chunk_1__https://docs.goo", base, 100),
		record(t, "B1", other, nodeAddr, memo.GoogleDocLinkType, "chunk_1__https://docs.els", base.Add(time.Second), 100),
		record(t, "A2", userAddr, nodeAddr, memo.GoogleDocLinkType, "chunk_2__gle.com/a", base.Add(2*time.Second), 101),
		record(t, "B2", other, nodeAddr, memo.GoogleDocLinkType, "chunk_2__ewhere.com/b", base.Add(3*time.Second), 101),
	)

	builder := NewBuilder(store, WithLogger(logging.NopLogger{}))
	entries, err := builder.MemoHistory(context.Background(), nodeAddr, false)
	require.NoError(t, err)

	require.Len(t, entries, 2)
	byUser := map[string]string{}
	for _, e := range entries {
		byUser[e.UserAccount] = e.MemoData
	}
	require.Equal(t, "https://docs.google.com/a", byUser[userAddr])
	require.Equal(t, "https://docs.elsewhere.com/b", byUser[other])
}

func TestMemoHistoryToleratesChunkGaps(t *testing.T) {
	base := time.Date(2024, 1, 15, 14, 0, 0, 0, time.UTC)
	store := seed(t,
		record(t, "G3", userAddr, nodeAddr, "2024-01-15_14:01", "chunk_3__tail", base.Add(time.Minute), 102),
		record(t, "G1", userAddr, nodeAddr, "2024-01-15_14:01", "chunk_1__head-", base, 101),
	)

	builder := NewBuilder(store, WithLogger(logging.NopLogger{}))
	entries, err := builder.MemoHistory(context.Background(), nodeAddr, false)
	require.NoError(t, err)

	require.Len(t, entries, 1)
	require.Equal(t, "head-tail", entries[0].MemoData)
	require.Equal(t, "G3", entries[0].Hash)
}

type staticDecryptor struct {
	ch *memo.Channel
}

func (d staticDecryptor) Channel(counterparty string) *memo.Channel {
	return d.ch
}

func TestMemoHistoryDecryptsWithChannel(t *testing.T) {
	nodeSeed, err := wallet.SeedFromPassphrase("history node")
	require.NoError(t, err)
	userSeed, err := wallet.SeedFromPassphrase("history user")
	require.NoError(t, err)

	nodePub, err := memo.ChannelPublicKey(nodeSeed)
	require.NoError(t, err)
	userPub, err := memo.ChannelPublicKey(userSeed)
	require.NoError(t, err)

	userCh, err := memo.NewChannel(userSeed, nodePub)
	require.NoError(t, err)
	nodeCh, err := memo.NewChannel(nodeSeed, userPub)
	require.NoError(t, err)

	sealed, err := userCh.Encrypt("ACCEPTANCE REASON ___私はこの仕事を受けます")
	require.NoError(t, err)

	base := time.Date(2024, 1, 15, 14, 0, 0, 0, time.UTC)
	store := seed(t, record(t, "E1", userAddr, nodeAddr, "2024-01-15_14:01", sealed, base, 100))

	// Without a decryptor the payload stays sealed.
	builder := NewBuilder(store, WithLogger(logging.NopLogger{}))
	entries, err := builder.MemoHistory(context.Background(), nodeAddr, false)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.True(t, memo.IsEncrypted(entries[0].MemoData))

	// With one it opens.
	builder = NewBuilder(store, WithLogger(logging.NopLogger{}), WithDecryptor(staticDecryptor{ch: nodeCh}))
	entries, err = builder.MemoHistory(context.Background(), nodeAddr, false)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "ACCEPTANCE REASON ___私はこの仕事を受けます", entries[0].MemoData)
	require.Equal(t, memo.StageAcceptance, memo.ClassifyMemoData(entries[0].MemoData))
}

func TestMemoHistoryDecompresses(t *testing.T) {
	plain := "VERIFICATION RESPONSE ___ " + strings.Repeat("evidence ", 50)
	wrapped, err := memo.Compress(plain)
	require.NoError(t, err)

	base := time.Date(2024, 1, 15, 14, 0, 0, 0, time.UTC)
	store := seed(t, record(t, "Z1", userAddr, nodeAddr, "2024-01-15_14:01", wrapped, base, 100))

	builder := NewBuilder(store, WithLogger(logging.NopLogger{}))
	entries, err := builder.MemoHistory(context.Background(), nodeAddr, false)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, plain, entries[0].MemoData)
}
