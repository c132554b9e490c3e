// Package monitor keeps the transaction cache current with the ledger. It
// tails the validated-transaction stream for every tracked account, runs a
// periodic full backfill and a faster delta poll over account_tx, and
// gap-fills from the last cached ledger index whenever the stream
// reconnects. Tracked accounts are the node's wallets plus every holder of
// PFT at or above a configurable threshold.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/postfiatorg/pftnoded/internal/logging"
	"github.com/postfiatorg/pftnoded/internal/storage"
	"github.com/postfiatorg/pftnoded/internal/xrpl"
)

var (
	// ErrNilLedger is returned when the monitor is built without a client.
	ErrNilLedger = errors.New("monitor: ledger client is required")

	// ErrNilStore is returned when the monitor is built without a cache.
	ErrNilStore = errors.New("monitor: store is required")

	// ErrNoStream is returned when neither endpoints nor a subscription
	// are configured.
	ErrNoStream = errors.New("monitor: websocket endpoints or a subscription are required")
)

// Ledger is the slice of the JSON-RPC client the monitor polls with.
type Ledger interface {
	AccountTxAll(ctx context.Context, account string, minLedger, maxLedger int64, pageLimit int) ([]xrpl.TxEnvelope, error)
	AccountLines(ctx context.Context, account string) ([]xrpl.TrustLine, error)
}

// Subscription is the validated-transaction stream the monitor consumes.
type Subscription interface {
	Run(ctx context.Context)
	Events() <-chan xrpl.TxEnvelope
	SetAccounts(accounts []string)
}

// Monitor tails the ledger into the transaction cache.
type Monitor struct {
	ledger      Ledger
	deltaLedger Ledger
	store       storage.Store
	sub         Subscription
	logger      logging.Logger

	node   string
	extras []string

	pftIssuer string
	holderMin float64

	backfillEvery time.Duration
	deltaEvery    time.Duration
	holdersEvery  time.Duration
	pageLimit     int

	mu      sync.RWMutex
	holders []string

	gapFill chan struct{}
}

// Option configures the monitor.
type Option func(*Monitor)

// WithLogger sets the monitor logger.
func WithLogger(logger logging.Logger) Option {
	return func(m *Monitor) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithAccounts adds fixed accounts beyond the node address, e.g. the
// remembrancer.
func WithAccounts(accounts ...string) Option {
	return func(m *Monitor) {
		for _, a := range accounts {
			if a != "" {
				m.extras = append(m.extras, a)
			}
		}
	}
}

// WithPFTHolders tracks every holder of at least min PFT issued by issuer.
func WithPFTHolders(issuer string, min float64) Option {
	return func(m *Monitor) {
		m.pftIssuer = issuer
		m.holderMin = min
	}
}

// WithIntervals sets the backfill and delta poll intervals. A zero delta
// disables the periodic poll; gap-fill requests still run it on demand.
func WithIntervals(backfill, delta time.Duration) Option {
	return func(m *Monitor) {
		if backfill > 0 {
			m.backfillEvery = backfill
		}
		if delta >= 0 {
			m.deltaEvery = delta
		}
	}
}

// WithHolderRefresh sets how often the PFT holder set is re-read.
func WithHolderRefresh(every time.Duration) Option {
	return func(m *Monitor) {
		if every > 0 {
			m.holdersEvery = every
		}
	}
}

// WithPageLimit sets the account_tx page size.
func WithPageLimit(n int) Option {
	return func(m *Monitor) {
		if n > 0 {
			m.pageLimit = n
		}
	}
}

// WithDeltaLedger routes the fast delta poll to a separate client, such as
// a local node. Backfill and holder queries stay on the primary ledger.
func WithDeltaLedger(l Ledger) Option {
	return func(m *Monitor) {
		if l != nil {
			m.deltaLedger = l
		}
	}
}

// WithSubscription injects the stream, replacing the internally built
// subscriber.
func WithSubscription(sub Subscription) Option {
	return func(m *Monitor) {
		if sub != nil {
			m.sub = sub
		}
	}
}

// New builds a monitor for nodeAddress over the given WebSocket endpoints.
// Defaults: backfill every 60 min, delta poll every 30 s, holder refresh
// every 60 min, account_tx pages of 200.
func New(ledger Ledger, store storage.Store, nodeAddress string, endpoints []string, options ...Option) (*Monitor, error) {
	if ledger == nil {
		return nil, ErrNilLedger
	}
	if store == nil {
		return nil, ErrNilStore
	}
	if nodeAddress == "" {
		return nil, errors.New("monitor: node address is required")
	}

	m := &Monitor{
		ledger:        ledger,
		store:         store,
		logger:        logging.NopLogger{},
		node:          nodeAddress,
		backfillEvery: 60 * time.Minute,
		deltaEvery:    30 * time.Second,
		holdersEvery:  60 * time.Minute,
		pageLimit:     200,
		gapFill:       make(chan struct{}, 1),
	}
	for _, opt := range options {
		opt(m)
	}
	if m.deltaLedger == nil {
		m.deltaLedger = m.ledger
	}

	if m.sub == nil {
		if len(endpoints) == 0 {
			return nil, ErrNoStream
		}
		m.sub = xrpl.NewSubscriber(endpoints, m.TrackedAccounts(),
			xrpl.WithSubscriberLogger(m.logger),
			xrpl.WithReconnectHook(m.RequestGapFill))
	}
	return m, nil
}

// TrackedAccounts returns the node wallets plus the current PFT holder set.
func (m *Monitor) TrackedAccounts() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := map[string]bool{m.node: true}
	out := []string{m.node}
	for _, a := range m.extras {
		if !seen[a] {
			seen[a] = true
			out = append(out, a)
		}
	}
	for _, a := range m.holders {
		if !seen[a] {
			seen[a] = true
			out = append(out, a)
		}
	}
	return out
}

// RequestGapFill schedules a delta poll; the stream's reconnect hook calls
// this so missed ledgers are re-read.
func (m *Monitor) RequestGapFill() {
	select {
	case m.gapFill <- struct{}{}:
	default:
	}
}

// RefreshHolders re-reads the issuer's trust lines and replaces the holder
// set with accounts at or above the threshold. The subscription follows the
// new set.
func (m *Monitor) RefreshHolders(ctx context.Context) error {
	if m.pftIssuer == "" || m.holderMin <= 0 {
		return nil
	}

	lines, err := m.ledger.AccountLines(ctx, m.pftIssuer)
	if err != nil {
		return fmt.Errorf("monitor: trust lines of %s: %w", m.pftIssuer, err)
	}

	// From the issuer's side a holder's balance is negative debt, so the
	// magnitude is what clears the threshold.
	holders := make([]string, 0)
	for i := range lines {
		line := &lines[i]
		if line.Currency != xrpl.PFTCurrency {
			continue
		}
		if math.Abs(line.BalanceFloat()) >= m.holderMin {
			holders = append(holders, line.Account)
		}
	}
	sort.Strings(holders)

	m.mu.Lock()
	m.holders = holders
	m.mu.Unlock()

	tracked := m.TrackedAccounts()
	m.sub.SetAccounts(tracked)
	m.logger.Info("tracking %d account(s), %d PFT holder(s)", len(tracked), len(holders))
	return nil
}

// Backfill reads the full history of every tracked account into the cache.
func (m *Monitor) Backfill(ctx context.Context) error {
	total := 0
	for _, account := range m.TrackedAccounts() {
		envs, err := m.ledger.AccountTxAll(ctx, account, -1, -1, m.pageLimit)
		if err != nil {
			return fmt.Errorf("monitor: backfill %s: %w", account, err)
		}
		n, err := m.ingest(ctx, envs)
		if err != nil {
			return err
		}
		total += n
	}
	if total > 0 {
		m.logger.Info("backfill cached %d new transaction(s)", total)
	}
	return nil
}

// DeltaPoll reads each tracked account forward from its last cached ledger
// index. The boundary ledger is re-read on purpose; inserts are idempotent
// and a crash between ledgers loses nothing.
func (m *Monitor) DeltaPoll(ctx context.Context) error {
	total := 0
	for _, account := range m.TrackedAccounts() {
		since, err := m.store.MaxLedgerIndex(ctx, account)
		if err != nil {
			return fmt.Errorf("monitor: last ledger for %s: %w", account, err)
		}
		min := since
		if min == 0 {
			min = -1
		}
		envs, err := m.deltaLedger.AccountTxAll(ctx, account, min, -1, m.pageLimit)
		if err != nil {
			return fmt.Errorf("monitor: delta poll %s: %w", account, err)
		}
		n, err := m.ingest(ctx, envs)
		if err != nil {
			return err
		}
		total += n
	}
	if total > 0 {
		m.logger.Debug("delta poll cached %d new transaction(s)", total)
	}
	return nil
}

// Run drives the monitor until ctx is cancelled: initial holder refresh and
// backfill, then the event stream interleaved with the periodic jobs.
func (m *Monitor) Run(ctx context.Context) error {
	if err := m.RefreshHolders(ctx); err != nil {
		m.logger.Warn("holder refresh failed: %v", err)
	}
	if err := m.Backfill(ctx); err != nil {
		m.logger.Warn("startup backfill failed: %v", err)
	}

	go m.sub.Run(ctx)

	backfill := time.NewTicker(m.backfillEvery)
	defer backfill.Stop()
	holders := time.NewTicker(m.holdersEvery)
	defer holders.Stop()

	// A nil channel blocks forever, so a disabled delta poll never fires.
	var deltaC <-chan time.Time
	if m.deltaEvery > 0 {
		delta := time.NewTicker(m.deltaEvery)
		defer delta.Stop()
		deltaC = delta.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case env, ok := <-m.sub.Events():
			if !ok {
				return ctx.Err()
			}
			if _, err := m.ingest(ctx, []xrpl.TxEnvelope{env}); err != nil {
				m.logger.Error("stream ingest failed: %v", err)
			}

		case <-m.gapFill:
			if err := m.DeltaPoll(ctx); err != nil {
				m.logger.Warn("gap fill failed: %v", err)
			}

		case <-deltaC:
			if err := m.DeltaPoll(ctx); err != nil {
				m.logger.Warn("delta poll failed: %v", err)
			}

		case <-backfill.C:
			if err := m.Backfill(ctx); err != nil {
				m.logger.Warn("backfill failed: %v", err)
			}

		case <-holders.C:
			if err := m.RefreshHolders(ctx); err != nil {
				m.logger.Warn("holder refresh failed: %v", err)
			}
		}
	}
}

// ingest converts envelopes to cache records and batch-inserts them,
// returning how many were new. Undecodable envelopes are skipped.
func (m *Monitor) ingest(ctx context.Context, envs []xrpl.TxEnvelope) (int, error) {
	if len(envs) == 0 {
		return 0, nil
	}
	records := make([]storage.TxRecord, 0, len(envs))
	for i := range envs {
		rec, err := storage.RecordFromEnvelope(envs[i])
		if err != nil {
			m.logger.Warn("skipping undecodable transaction: %v", err)
			continue
		}
		records = append(records, rec)
	}
	if len(records) == 0 {
		return 0, nil
	}
	n, err := m.store.BatchInsert(ctx, records)
	if err != nil {
		return 0, fmt.Errorf("monitor: cache insert: %w", err)
	}
	return n, nil
}
