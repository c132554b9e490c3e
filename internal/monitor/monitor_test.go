package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/postfiatorg/pftnoded/internal/memo"
	"github.com/postfiatorg/pftnoded/internal/storage"
	"github.com/postfiatorg/pftnoded/internal/xrpl"
)

const (
	nodeAddr  = "rNodeXXXXXXXXXXXXXXXXXXXXXXXXXXXXX"
	remAddr   = "rRememberXXXXXXXXXXXXXXXXXXXXXXXXX"
	userAddr  = "rUserXXXXXXXXXXXXXXXXXXXXXXXXXXXXX"
	whaleA = "rWhaleAXXXXXXXXXXXXXXXXXXXXXXXXXXX"
	whaleB = "rWhaleBXXXXXXXXXXXXXXXXXXXXXXXXXXX"
	pftIssuer = "rIssuerXXXXXXXXXXXXXXXXXXXXXXXXXXX"
)

func envOf(t *testing.T, hash, from, to, memoData string, ledger int64, minute int) xrpl.TxEnvelope {
	t.Helper()

	amount := xrpl.IssuedAmount(xrpl.PFTCurrency, pftIssuer, "1")
	tx := xrpl.Transaction{
		Account:         from,
		Destination:     to,
		TransactionType: "Payment",
		Amount:          &amount,
		Memos: []xrpl.MemoWrapper{{Memo: xrpl.Memo{
			MemoType:   memo.ToHex(fmt.Sprintf("2024-01-15_14:%02d", minute)),
			MemoFormat: memo.ToHex("user"),
			MemoData:   memo.ToHex(memoData),
		}}},
	}
	raw, err := json.Marshal(&tx)
	require.NoError(t, err)

	return xrpl.TxEnvelope{
		Hash:         hash,
		LedgerIndex:  ledger,
		CloseTimeISO: fmt.Sprintf("2024-01-15T14:%02d:00Z", minute),
		Validated:    true,
		TxJSON:       raw,
		MetaJSON:     []byte(`{"TransactionResult":"tesSUCCESS"}`),
	}
}

type txCall struct {
	account   string
	minLedger int64
	maxLedger int64
}

type fakeLedger struct {
	mu        sync.Mutex
	envs      map[string][]xrpl.TxEnvelope
	lines     []xrpl.TrustLine
	calls     []txCall
	lineCalls int
}

func (f *fakeLedger) AccountTxAll(_ context.Context, account string, minLedger, maxLedger int64, _ int) ([]xrpl.TxEnvelope, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, txCall{account, minLedger, maxLedger})
	return append([]xrpl.TxEnvelope(nil), f.envs[account]...), nil
}

func (f *fakeLedger) AccountLines(_ context.Context, _ string) ([]xrpl.TrustLine, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lineCalls++
	return append([]xrpl.TrustLine(nil), f.lines...), nil
}

func (f *fakeLedger) txCalls() []txCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]txCall(nil), f.calls...)
}

func (f *fakeLedger) lineCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lineCalls
}

type fakeStream struct {
	mu     sync.Mutex
	events chan xrpl.TxEnvelope
	sets   [][]string
}

func newFakeStream() *fakeStream {
	return &fakeStream{events: make(chan xrpl.TxEnvelope, 16)}
}

func (f *fakeStream) Run(ctx context.Context) { <-ctx.Done() }

func (f *fakeStream) Events() <-chan xrpl.TxEnvelope { return f.events }

func (f *fakeStream) SetAccounts(accounts []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sets = append(f.sets, append([]string(nil), accounts...))
}

func (f *fakeStream) setCalls() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]string(nil), f.sets...)
}

func newMonitor(t *testing.T, ledger *fakeLedger, options ...Option) (*Monitor, *fakeStream, storage.Store) {
	t.Helper()

	store := storage.NewMemoryStore(nodeAddr)
	stream := newFakeStream()
	options = append([]Option{WithSubscription(stream)}, options...)
	mon, err := New(ledger, store, nodeAddr, nil, options...)
	require.NoError(t, err)
	return mon, stream, store
}

func TestNewValidatesInputs(t *testing.T) {
	ledger := &fakeLedger{}
	store := storage.NewMemoryStore(nodeAddr)

	_, err := New(nil, store, nodeAddr, nil, WithSubscription(newFakeStream()))
	require.ErrorIs(t, err, ErrNilLedger)

	_, err = New(ledger, nil, nodeAddr, nil, WithSubscription(newFakeStream()))
	require.ErrorIs(t, err, ErrNilStore)

	_, err = New(ledger, store, "", nil, WithSubscription(newFakeStream()))
	require.Error(t, err)

	_, err = New(ledger, store, nodeAddr, nil)
	require.ErrorIs(t, err, ErrNoStream)
}

func TestTrackedAccountsDeduplicates(t *testing.T) {
	mon, _, _ := newMonitor(t, &fakeLedger{}, WithAccounts(remAddr, remAddr, nodeAddr, ""))
	require.Equal(t, []string{nodeAddr, remAddr}, mon.TrackedAccounts())
}

func TestBackfillCachesFullHistory(t *testing.T) {
	ctx := context.Background()

	// The node-to-remembrancer payment shows up in both accounts' history;
	// it must be cached exactly once.
	shared := envOf(t, "H2", nodeAddr, remAddr, "REQUEST_POST_FIAT ___ shared row", 1002, 2)
	ledger := &fakeLedger{envs: map[string][]xrpl.TxEnvelope{
		nodeAddr: {
			envOf(t, "H1", userAddr, nodeAddr, "REQUEST_POST_FIAT ___ first", 1001, 1),
			shared,
		},
		remAddr: {shared},
	}}

	mon, _, store := newMonitor(t, ledger, WithAccounts(remAddr))
	require.NoError(t, mon.Backfill(ctx))

	require.Equal(t, []txCall{
		{nodeAddr, -1, -1},
		{remAddr, -1, -1},
	}, ledger.txCalls())

	rows, err := store.History(ctx, nodeAddr, false)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, "H1", rows[0].Hash)
	require.Equal(t, "H2", rows[1].Hash)
}

func TestDeltaPollStartsFromLastCachedLedger(t *testing.T) {
	ctx := context.Background()

	ledger := &fakeLedger{envs: map[string][]xrpl.TxEnvelope{
		nodeAddr: {envOf(t, "H9", userAddr, nodeAddr, "REQUEST_POST_FIAT ___ new work", 5007, 9)},
	}}
	mon, _, store := newMonitor(t, ledger, WithAccounts(remAddr))

	seed, err := storage.RecordFromEnvelope(envOf(t, "H0", userAddr, nodeAddr, "REQUEST_POST_FIAT ___ old work", 5000, 0))
	require.NoError(t, err)
	_, err = store.BatchInsert(ctx, []storage.TxRecord{seed})
	require.NoError(t, err)

	require.NoError(t, mon.DeltaPoll(ctx))

	// The boundary ledger is re-read; accounts with no cache start from
	// the beginning.
	require.Equal(t, []txCall{
		{nodeAddr, 5000, -1},
		{remAddr, -1, -1},
	}, ledger.txCalls())

	max, err := store.MaxLedgerIndex(ctx, nodeAddr)
	require.NoError(t, err)
	require.Equal(t, int64(5007), max)
}

func TestRefreshHoldersTracksLargeBalances(t *testing.T) {
	ctx := context.Background()

	// Holder balances read off the issuer are negative debt; a positive
	// sign must not change the outcome. Foreign currencies never count.
	ledger := &fakeLedger{lines: []xrpl.TrustLine{
		{Account: whaleA, Currency: xrpl.PFTCurrency, Balance: "-12000"},
		{Account: userAddr, Currency: xrpl.PFTCurrency, Balance: "-3"},
		{Account: whaleB, Currency: xrpl.PFTCurrency, Balance: "8000"},
		{Account: "rRichInUSDXXXXXXXXXXXXXXXXXXXXXXXX", Currency: "USD", Balance: "-90000"},
	}}

	mon, stream, _ := newMonitor(t, ledger,
		WithAccounts(remAddr),
		WithPFTHolders(pftIssuer, 5000))

	require.NoError(t, mon.RefreshHolders(ctx))
	require.Equal(t, []string{nodeAddr, remAddr, whaleA, whaleB}, mon.TrackedAccounts())

	sets := stream.setCalls()
	require.Len(t, sets, 1)
	require.Equal(t, mon.TrackedAccounts(), sets[0])

	// A shrinking holder set replaces the old one.
	ledger.mu.Lock()
	ledger.lines = []xrpl.TrustLine{
		{Account: whaleB, Currency: xrpl.PFTCurrency, Balance: "-9000"},
	}
	ledger.mu.Unlock()

	require.NoError(t, mon.RefreshHolders(ctx))
	require.Equal(t, []string{nodeAddr, remAddr, whaleB}, mon.TrackedAccounts())
}

func TestRefreshHoldersDisabledWithoutIssuer(t *testing.T) {
	ledger := &fakeLedger{}
	mon, stream, _ := newMonitor(t, ledger)

	require.NoError(t, mon.RefreshHolders(context.Background()))
	require.Zero(t, ledger.lineCallCount())
	require.Empty(t, stream.setCalls())
}

func TestBackfillSkipsUndecodableEnvelopes(t *testing.T) {
	ctx := context.Background()

	broken := xrpl.TxEnvelope{
		Hash:        "BAD",
		LedgerIndex: 1003,
		Validated:   true,
		TxJSON:      []byte(`{"Account":`),
		MetaJSON:    []byte(`{}`),
	}
	ledger := &fakeLedger{envs: map[string][]xrpl.TxEnvelope{
		nodeAddr: {
			broken,
			envOf(t, "H1", userAddr, nodeAddr, "REQUEST_POST_FIAT ___ still fine", 1004, 4),
		},
	}}

	mon, _, store := newMonitor(t, ledger)
	require.NoError(t, mon.Backfill(ctx))

	rows, err := store.History(ctx, nodeAddr, false)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "H1", rows[0].Hash)
}

func TestRunIngestsStreamAndGapFills(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ledger := &fakeLedger{}
	mon, stream, store := newMonitor(t, ledger)

	done := make(chan error, 1)
	go func() { done <- mon.Run(ctx) }()

	stream.events <- envOf(t, "E1", userAddr, nodeAddr, "REQUEST_POST_FIAT ___ from stream", 2001, 5)
	require.Eventually(t, func() bool {
		rows, err := store.History(context.Background(), nodeAddr, false)
		return err == nil && len(rows) == 1
	}, 2*time.Second, 10*time.Millisecond)

	// A reconnect hook schedules a delta poll over account_tx.
	before := len(ledger.txCalls())
	mon.RequestGapFill()
	require.Eventually(t, func() bool {
		return len(ledger.txCalls()) > before
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("monitor did not stop")
	}
}
