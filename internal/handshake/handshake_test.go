package handshake

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/postfiatorg/pftnoded/internal/memo"
	"github.com/postfiatorg/pftnoded/internal/storage"
	"github.com/postfiatorg/pftnoded/internal/wallet"
	"github.com/postfiatorg/pftnoded/internal/xrpl"
)

const (
	nodeAddr = "rNodeNodeNodeNodeNodeNodeNodeNode1"
	remAddr  = "rRememberRememberRememberRemember1"
	userAddr = "rUserUserUserUserUserUserUserUser1"
	issuer   = "rIssuerIssuerIssuerIssuerIssuerIs1"
)

var base = time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)

func seedFor(t *testing.T, passphrase string) string {
	t.Helper()
	seed, err := wallet.SeedFromPassphrase(passphrase)
	require.NoError(t, err)
	return seed
}

func channelKey(t *testing.T, seed string) string {
	t.Helper()
	key, err := memo.ChannelPublicKey(seed)
	require.NoError(t, err)
	return key
}

func handshakeTx(t *testing.T, hash, from, to, key string, minute int) storage.TxRecord {
	t.Helper()
	return memoTx(t, hash, from, to, memo.HandshakeType, key, minute, xrpl.TesSuccess)
}

func memoTx(t *testing.T, hash, from, to, memoType, data string, minute int, result string) storage.TxRecord {
	t.Helper()
	amount := xrpl.IssuedAmount(xrpl.PFTCurrency, issuer, "1")
	tx := xrpl.Transaction{
		Account:         from,
		Destination:     to,
		TransactionType: "Payment",
		Amount:          &amount,
		Memos: []xrpl.MemoWrapper{{Memo: xrpl.Memo{
			MemoType:   memo.ToHex(memoType),
			MemoFormat: memo.ToHex("test wallet"),
			MemoData:   memo.ToHex(data),
		}}},
	}
	raw, err := json.Marshal(tx)
	require.NoError(t, err)
	meta, err := json.Marshal(xrpl.Meta{TransactionResult: result})
	require.NoError(t, err)

	return storage.TxRecord{
		Hash:        hash,
		Account:     from,
		Destination: to,
		LedgerIndex: int64(5000 + minute),
		CloseTime:   base.Add(time.Duration(minute) * time.Minute),
		TxJSON:      raw,
		MetaJSON:    meta,
		Validated:   true,
	}
}

func newRegistry(t *testing.T, records ...storage.TxRecord) (*Registry, string) {
	t.Helper()
	store := storage.NewMemoryStore(nodeAddr)
	if len(records) > 0 {
		_, err := store.BatchInsert(context.Background(), records)
		require.NoError(t, err)
	}

	reg, err := New(store)
	require.NoError(t, err)

	nodeSeed := seedFor(t, "node channel test")
	require.NoError(t, reg.RegisterWallet(nodeAddr, "postfiat node", nodeSeed))
	require.NoError(t, reg.Refresh(context.Background()))
	return reg, nodeSeed
}

func TestNewRequiresStore(t *testing.T) {
	_, err := New(nil)
	require.ErrorIs(t, err, ErrNilStore)
}

func TestRegisterWalletDerivesKey(t *testing.T) {
	reg, nodeSeed := newRegistry(t)

	key, err := reg.PublicKey(nodeAddr)
	require.NoError(t, err)
	require.Equal(t, channelKey(t, nodeSeed), key)

	name, err := reg.Name(nodeAddr)
	require.NoError(t, err)
	require.Equal(t, "postfiat node", name)

	_, err = reg.PublicKey(userAddr)
	require.ErrorIs(t, err, ErrUnknownAddress)

	require.Equal(t, []string{nodeAddr}, reg.AutoAddresses())
}

func TestPendingAndEstablished(t *testing.T) {
	userSeed := seedFor(t, "user channel test")
	userKey := channelKey(t, userSeed)

	reg, nodeSeed := newRegistry(t,
		handshakeTx(t, "HS1", userAddr, nodeAddr, userKey, 0),
	)

	st, ok := reg.Keys(nodeAddr, userAddr)
	require.True(t, ok)
	require.True(t, st.Pending())
	require.False(t, st.Established())
	require.Equal(t, userKey, st.PeerKey)
	require.Empty(t, st.LocalKey)
	require.Equal(t, []string{userAddr}, reg.PendingFor(nodeAddr))

	// The node answers; the pair is established and leaves the pending set.
	nodeKey := channelKey(t, nodeSeed)
	store := storage.NewMemoryStore(nodeAddr)
	_, err := store.BatchInsert(context.Background(), []storage.TxRecord{
		handshakeTx(t, "HS1", userAddr, nodeAddr, userKey, 0),
		handshakeTx(t, "HS2", nodeAddr, userAddr, nodeKey, 1),
	})
	require.NoError(t, err)

	reg, err = New(store)
	require.NoError(t, err)
	require.NoError(t, reg.RegisterWallet(nodeAddr, "postfiat node", nodeSeed))
	require.NoError(t, reg.Refresh(context.Background()))

	st, ok = reg.Keys(nodeAddr, userAddr)
	require.True(t, ok)
	require.True(t, st.Established())
	require.Equal(t, nodeKey, st.LocalKey)
	require.Empty(t, reg.PendingFor(nodeAddr))
	require.True(t, reg.Established(nodeAddr, userAddr))
}

func TestRefreshIgnoresRejectedAndForeignMemos(t *testing.T) {
	userKey := channelKey(t, seedFor(t, "user channel test"))

	reg, _ := newRegistry(t,
		memoTx(t, "HS1", userAddr, nodeAddr, memo.HandshakeType, userKey, 0, "tecPATH_DRY"),
		memoTx(t, "M1", userAddr, nodeAddr, "google_doc_context_link", "https://docs.google.com/d/x", 1, xrpl.TesSuccess),
	)

	_, ok := reg.Keys(nodeAddr, userAddr)
	require.False(t, ok, "rejected handshakes and other memo types carry no keys")
	require.Empty(t, reg.PendingFor(nodeAddr))
}

func TestLatestKeyWinsPerDirection(t *testing.T) {
	oldKey := channelKey(t, seedFor(t, "user channel test"))
	newKey := channelKey(t, seedFor(t, "user channel rotated"))

	reg, _ := newRegistry(t,
		handshakeTx(t, "HS1", userAddr, nodeAddr, oldKey, 0),
		handshakeTx(t, "HS2", userAddr, nodeAddr, newKey, 5),
	)

	st, ok := reg.Keys(nodeAddr, userAddr)
	require.True(t, ok)
	require.Equal(t, newKey, st.PeerKey)
	require.Equal(t, base.Add(5*time.Minute), st.ReceivedAt)
}

func TestChannelRoundTrip(t *testing.T) {
	nodeSeed := seedFor(t, "node channel test")
	userSeed := seedFor(t, "user channel test")
	userKey := channelKey(t, userSeed)

	reg, _ := newRegistry(t,
		handshakeTx(t, "HS1", userAddr, nodeAddr, userKey, 0),
	)

	ch, err := reg.Channel(nodeAddr, userAddr)
	require.NoError(t, err)

	// The counterparty seals against the node's key; the registry channel
	// must open it.
	nodeKey := channelKey(t, nodeSeed)
	userChannel, err := memo.NewChannel(userSeed, nodeKey)
	require.NoError(t, err)
	sealed, err := userChannel.Encrypt("meet me on ledger 5000")
	require.NoError(t, err)

	plain, err := ch.Decrypt(sealed)
	require.NoError(t, err)
	require.Equal(t, "meet me on ledger 5000", plain)

	again, err := reg.Channel(nodeAddr, userAddr)
	require.NoError(t, err)
	require.Same(t, ch, again, "channels are cached per peer key")
}

func TestChannelErrors(t *testing.T) {
	reg, _ := newRegistry(t)

	_, err := reg.Channel(remAddr, userAddr)
	require.ErrorIs(t, err, ErrUnknownAddress)

	_, err = reg.Channel(nodeAddr, userAddr)
	require.ErrorIs(t, err, ErrNoHandshake)
}

func TestViewImplementsDecryptor(t *testing.T) {
	userKey := channelKey(t, seedFor(t, "user channel test"))

	reg, _ := newRegistry(t,
		handshakeTx(t, "HS1", userAddr, nodeAddr, userKey, 0),
	)

	view := reg.View(nodeAddr)
	require.NotNil(t, view.Channel(userAddr))
	require.Nil(t, view.Channel(remAddr), "no handshake resolves to no channel")
}

func TestRegistryTracksSecondWallet(t *testing.T) {
	userKey := channelKey(t, seedFor(t, "user channel test"))

	store := storage.NewMemoryStore(nodeAddr)
	_, err := store.BatchInsert(context.Background(), []storage.TxRecord{
		handshakeTx(t, "HS1", userAddr, remAddr, userKey, 0),
	})
	require.NoError(t, err)

	reg, err := New(store)
	require.NoError(t, err)
	require.NoError(t, reg.RegisterWallet(nodeAddr, "postfiat node", seedFor(t, "node channel test")))
	require.NoError(t, reg.RegisterWallet(remAddr, "remembrancer", seedFor(t, "remembrancer channel test")))
	require.NoError(t, reg.Refresh(context.Background()))

	require.Equal(t, []string{nodeAddr, remAddr}, reg.AutoAddresses())
	require.Empty(t, reg.PendingFor(nodeAddr))
	require.Equal(t, []string{userAddr}, reg.PendingFor(remAddr))
}
