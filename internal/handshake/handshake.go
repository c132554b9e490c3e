// Package handshake tracks ECDH public-key exchange state between the
// node's wallets and their counterparties.
//
// A handshake is a 1 PFT payment whose memo_type is HANDSHAKE and whose
// memo_data is the sender's channel public key in hex. The registry replays
// the cached handshake memos of every registered wallet, keeping the latest
// key seen in each direction. A pair with keys in both directions carries
// an encryption channel; a pair with only an inbound key is pending and the
// handshake queue answers it.
package handshake

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/postfiatorg/pftnoded/internal/logging"
	"github.com/postfiatorg/pftnoded/internal/memo"
	"github.com/postfiatorg/pftnoded/internal/storage"
	"github.com/postfiatorg/pftnoded/internal/xrpl"
)

var (
	// ErrNilStore is returned when the registry is built without a cache.
	ErrNilStore = errors.New("handshake: store is nil")

	// ErrUnknownAddress is returned for addresses with no registered wallet.
	ErrUnknownAddress = errors.New("handshake: address has no registered wallet")

	// ErrNoHandshake is returned when a channel is requested before the
	// counterparty's key arrived.
	ErrNoHandshake = errors.New("handshake: no key received from counterparty")
)

// State is the key-exchange status of one ordered (local, counterparty)
// pair.
type State struct {
	Local        string
	Counterparty string

	// LocalKey is the latest key Local sent to Counterparty, PeerKey the
	// latest key received back. Empty means no memo in that direction.
	LocalKey string
	PeerKey  string

	ReceivedAt time.Time
	RepliedAt  time.Time
}

// Established reports whether keys moved in both directions.
func (s State) Established() bool {
	return s.LocalKey != "" && s.PeerKey != ""
}

// Pending reports whether the counterparty's key arrived and was never
// answered.
func (s State) Pending() bool {
	return s.PeerKey != "" && s.LocalKey == ""
}

type wallet struct {
	name      string
	seed      string
	publicKey string
}

// Registry resolves handshake state and encryption channels for the node's
// wallets. The cache rows are the source of truth; Refresh snapshots them
// and the channel cache is a read-through optimization on top.
type Registry struct {
	store  storage.Store
	logger logging.Logger

	mu      sync.RWMutex
	wallets map[string]wallet
	auto    []string
	states  map[string]map[string]State

	channels *lru.Cache[string, *memo.Channel]
}

// Option configures the registry.
type Option func(*Registry)

// WithLogger sets the registry logger.
func WithLogger(logger logging.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// New builds a registry over the transaction cache. Wallets are added with
// RegisterWallet; until the first Refresh every pair reads as unknown.
func New(store storage.Store, options ...Option) (*Registry, error) {
	if store == nil {
		return nil, ErrNilStore
	}

	channels, err := lru.New[string, *memo.Channel](256)
	if err != nil {
		return nil, fmt.Errorf("handshake: channel cache: %w", err)
	}

	r := &Registry{
		store:    store,
		logger:   logging.NopLogger{},
		wallets:  make(map[string]wallet),
		states:   make(map[string]map[string]State),
		channels: channels,
	}
	for _, opt := range options {
		opt(r)
	}
	return r, nil
}

// RegisterWallet adds a node-owned wallet to the auto-respond set. name is
// sent as the MemoFormat of outgoing handshakes.
func (r *Registry) RegisterWallet(address, name, seed string) error {
	if address == "" {
		return ErrUnknownAddress
	}
	publicKey, err := memo.ChannelPublicKey(seed)
	if err != nil {
		return fmt.Errorf("handshake: derive channel key for %s: %w", address, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.wallets[address]; !ok {
		r.auto = append(r.auto, address)
	}
	r.wallets[address] = wallet{name: name, seed: seed, publicKey: publicKey}
	return nil
}

// AutoAddresses returns the registered wallet addresses in registration
// order.
func (r *Registry) AutoAddresses() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.auto))
	copy(out, r.auto)
	return out
}

// PublicKey returns the channel public key of a registered wallet.
func (r *Registry) PublicKey(address string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.wallets[address]
	if !ok {
		return "", ErrUnknownAddress
	}
	return w.publicKey, nil
}

// Name returns the display name a wallet sends as MemoFormat.
func (r *Registry) Name(address string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.wallets[address]
	if !ok {
		return "", ErrUnknownAddress
	}
	return w.name, nil
}

// Refresh rebuilds the per-pair key snapshot from the cache. Handshake
// memos of transactions the ledger rejected are ignored; within a
// direction the newest memo wins, so a counterparty can rotate keys.
func (r *Registry) Refresh(ctx context.Context) error {
	addresses := r.AutoAddresses()

	states := make(map[string]map[string]State, len(addresses))
	for _, address := range addresses {
		rows, err := r.store.History(ctx, address, false)
		if err != nil {
			return fmt.Errorf("handshake: refresh %s: %w", address, err)
		}

		pairs := make(map[string]State)
		for _, row := range rows {
			if row.MemoType != memo.HandshakeType {
				continue
			}
			if row.TransactionResult != "" && row.TransactionResult != xrpl.TesSuccess {
				continue
			}
			key := strings.TrimSpace(row.MemoData)
			if key == "" {
				continue
			}
			switch address {
			case row.Destination:
				st := pairs[row.Account]
				st.Local, st.Counterparty = address, row.Account
				st.PeerKey, st.ReceivedAt = key, row.Datetime
				pairs[row.Account] = st
			case row.Account:
				st := pairs[row.Destination]
				st.Local, st.Counterparty = address, row.Destination
				st.LocalKey, st.RepliedAt = key, row.Datetime
				pairs[row.Destination] = st
			}
		}
		states[address] = pairs
	}

	r.mu.Lock()
	r.states = states
	r.mu.Unlock()

	r.logger.Debug("handshake registry refreshed for %d wallet(s)", len(addresses))
	return nil
}

// Keys returns the snapshot state of the (local, counterparty) pair.
func (r *Registry) Keys(local, counterparty string) (State, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.states[local][counterparty]
	return st, ok
}

// Established reports whether the pair can encrypt in either direction.
func (r *Registry) Established(local, counterparty string) bool {
	st, ok := r.Keys(local, counterparty)
	return ok && st.Established()
}

// PendingFor returns the counterparties whose handshake to address was
// never answered, sorted for deterministic queue order.
func (r *Registry) PendingFor(address string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0)
	for counterparty, st := range r.states[address] {
		if st.Pending() {
			out = append(out, counterparty)
		}
	}
	sort.Strings(out)
	return out
}

// Channel returns the encryption channel between a registered wallet and a
// counterparty. Channels are cached per peer key, so a rotated key builds a
// fresh channel on the next call after Refresh.
func (r *Registry) Channel(local, counterparty string) (*memo.Channel, error) {
	r.mu.RLock()
	w, registered := r.wallets[local]
	st := r.states[local][counterparty]
	r.mu.RUnlock()

	if !registered {
		return nil, ErrUnknownAddress
	}
	if st.PeerKey == "" {
		return nil, fmt.Errorf("%w: %s -> %s", ErrNoHandshake, local, counterparty)
	}

	cacheKey := local + "|" + counterparty + "|" + st.PeerKey
	if ch, ok := r.channels.Get(cacheKey); ok {
		return ch, nil
	}

	ch, err := memo.NewChannel(w.seed, st.PeerKey)
	if err != nil {
		return nil, fmt.Errorf("handshake: channel %s -> %s: %w", local, counterparty, err)
	}
	r.channels.Add(cacheKey, ch)
	return ch, nil
}

// View binds the registry to one wallet for memo decryption. It satisfies
// the history builder's Decryptor interface.
type View struct {
	registry *Registry
	address  string
}

// View returns the decryption view for a wallet address.
func (r *Registry) View(address string) *View {
	return &View{registry: r, address: address}
}

// Channel returns the channel for counterparty, or nil when the pair has
// no usable handshake. Key material that fails to parse is logged and
// treated as no channel.
func (v *View) Channel(counterparty string) *memo.Channel {
	ch, err := v.registry.Channel(v.address, counterparty)
	if err != nil {
		if !errors.Is(err, ErrNoHandshake) {
			v.registry.logger.Warn("handshake channel %s -> %s unavailable: %v", v.address, counterparty, err)
		}
		return nil
	}
	return ch
}
