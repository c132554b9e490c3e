// Package engine runs the node's five processing queues: proposals,
// initiation rewards, verification prompts, task rewards and handshake
// replies. The queues execute sequentially inside one worker so each
// observes the previous queue's effects through the transaction cache,
// and every on-chain reply is confirmed against the cache before its
// processing result is recorded. Re-running a cycle after a crash is
// safe: work is selected purely from cached ledger state.
package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/postfiatorg/pftnoded/internal/handshake"
	"github.com/postfiatorg/pftnoded/internal/history"
	"github.com/postfiatorg/pftnoded/internal/lifecycle"
	"github.com/postfiatorg/pftnoded/internal/llm"
	"github.com/postfiatorg/pftnoded/internal/logging"
	"github.com/postfiatorg/pftnoded/internal/memo"
	"github.com/postfiatorg/pftnoded/internal/storage"
	"github.com/postfiatorg/pftnoded/internal/submit"
)

var (
	// ErrVerificationTimeout is returned when a sent reply never shows up
	// in the cache within the verification budget. The work item stays
	// eligible and is retried on a later cycle.
	ErrVerificationTimeout = errors.New("engine: reply not confirmed in cache")

	errMissingDeps = errors.New("engine: store, registry, completer, docs and sender are all required")
)

// Completer is the slice of the LLM gateway the queues call.
type Completer interface {
	CompleteSync(ctx context.Context, req llm.Request) (string, error)
	CompleteBatch(ctx context.Context, reqs []llm.Request) []llm.Result
}

// DocFetcher resolves a user's context document. Implementations degrade
// to placeholder strings rather than failing.
type DocFetcher interface {
	DocumentText(ctx context.Context, link string) (string, error)
	FetchVerificationText(ctx context.Context, link string) string
}

// Sender submits one memo-bearing payment from one of the node's wallets,
// identified by its classic address. The result reflects the last piece
// when the payload chunks.
type Sender interface {
	SendMemo(ctx context.Context, from, destination string, m submit.Memo, pft float64, flags memo.EncodeFlags, channel *memo.Channel) (submit.Result, error)
}

// Config carries the node identity the queues reply as.
type Config struct {
	NodeName    string
	NodeAddress string

	// Remembrancer fields are empty when the node runs a single wallet.
	RemembrancerName    string
	RemembrancerAddress string
}

// Engine owns the queue worker.
type Engine struct {
	store    storage.Store
	registry *handshake.Registry
	llm      Completer
	docs     DocFetcher
	sender   Sender
	logger   logging.Logger

	cfg Config

	candidates     int
	cycleSleep     time.Duration
	verifyAttempts int
	verifyInterval time.Duration

	minReward    int
	maxReward    int
	dailyCeiling int
	rewardWindow time.Duration

	minProposalValue int
	maxProposalValue int
	maxCommitmentLen int

	reinitiations bool

	contextTasks    int
	contextMessages int
	contextDocChars int
	longFormMin     int

	now func() time.Time

	// builders is touched only by the single queue worker.
	builders map[string]*history.Builder

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// Option configures the engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger logging.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithCycleSleep sets the pause between queue cycles.
func WithCycleSleep(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.cycleSleep = d
		}
	}
}

// WithCandidates sets the proposal fan-out.
func WithCandidates(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.candidates = n
		}
	}
}

// WithVerifyPolicy sets how many cache polls confirm a sent reply and the
// pause between them.
func WithVerifyPolicy(attempts int, interval time.Duration) Option {
	return func(e *Engine) {
		if attempts > 0 {
			e.verifyAttempts = attempts
		}
		if interval > 0 {
			e.verifyInterval = interval
		}
	}
}

// WithRewardBounds sets the clamp applied to every reward amount.
func WithRewardBounds(min, max int) Option {
	return func(e *Engine) {
		if min > 0 {
			e.minReward = min
		}
		if max >= min && max > 0 {
			e.maxReward = max
		}
	}
}

// WithDailyRewardCeiling caps the PFT rewarded to one user across 24 hours.
// Zero disables the ceiling.
func WithDailyRewardCeiling(n int) Option {
	return func(e *Engine) {
		if n >= 0 {
			e.dailyCeiling = n
		}
	}
}

// WithRewardWindow sets how far back the reward history in judging prompts
// reaches.
func WithRewardWindow(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.rewardWindow = d
		}
	}
}

// WithReinitiations allows a user to earn a fresh initiation reward for a
// rite newer than their last one. Meant for test networks.
func WithReinitiations(enabled bool) Option {
	return func(e *Engine) {
		e.reinitiations = enabled
	}
}

// WithContextLimits bounds the user context assembled into prompts: tasks
// quoted per lifecycle section, recent long-form messages, and context
// document characters.
func WithContextLimits(tasksPerSection, messages, docChars int) Option {
	return func(e *Engine) {
		if tasksPerSection > 0 {
			e.contextTasks = tasksPerSection
		}
		if messages > 0 {
			e.contextMessages = messages
		}
		if docChars > 0 {
			e.contextDocChars = docChars
		}
	}
}

// WithClock overrides the engine's time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// New builds the queue worker. Defaults: 3 proposal candidates, 15 s cycle
// sleep, 6 confirmation polls 10 s apart, rewards clamped to [1, 1200] over
// a 35 day history window.
func New(store storage.Store, registry *handshake.Registry, completer Completer, docs DocFetcher, sender Sender, cfg Config, options ...Option) (*Engine, error) {
	if store == nil || registry == nil || completer == nil || docs == nil || sender == nil {
		return nil, errMissingDeps
	}
	if cfg.NodeName == "" || cfg.NodeAddress == "" {
		return nil, errors.New("engine: node name and address are required")
	}

	e := &Engine{
		store:    store,
		registry: registry,
		llm:      completer,
		docs:     docs,
		sender:   sender,
		logger:   logging.NopLogger{},
		cfg:      cfg,

		candidates:     3,
		cycleSleep:     15 * time.Second,
		verifyAttempts: 6,
		verifyInterval: 10 * time.Second,

		minReward:    1,
		maxReward:    1200,
		rewardWindow: 35 * 24 * time.Hour,

		minProposalValue: 10,
		maxProposalValue: 950,
		maxCommitmentLen: 950,

		contextTasks:    8,
		contextMessages: 20,
		contextDocChars: 4000,
		longFormMin:     100,

		now:      time.Now,
		builders: make(map[string]*history.Builder),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range options {
		opt(e)
	}
	return e, nil
}

// Run cycles the queues until Stop is called or ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	defer close(e.done)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.stop:
			return nil
		default:
		}

		if err := e.Cycle(ctx); err != nil {
			e.logger.Error("queue cycle aborted: %v", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.stop:
			return nil
		case <-time.After(e.cycleSleep):
		}
	}
}

// Stop asks the worker to exit once the queue in flight finishes.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stop) })
}

// Join waits for the worker to exit, up to timeout.
func (e *Engine) Join(timeout time.Duration) error {
	select {
	case <-e.done:
		return nil
	case <-time.After(timeout):
		return errors.New("engine: worker did not stop in time")
	}
}

func (e *Engine) stopped() bool {
	select {
	case <-e.stop:
		return true
	default:
		return false
	}
}

// Cycle refreshes the handshake registry and runs the five queues once, in
// order. A queue failure is logged and the cycle moves on; a stop request
// takes effect between queues.
func (e *Engine) Cycle(ctx context.Context) error {
	if err := e.registry.Refresh(ctx); err != nil {
		e.logger.Warn("handshake refresh failed, running on prior state: %v", err)
	}

	queues := []struct {
		name string
		run  func(context.Context) (int, error)
	}{
		{"proposal", e.runProposalQueue},
		{"initiation", e.runInitiationQueue},
		{"verification", e.runVerificationQueue},
		{"reward", e.runRewardQueue},
		{"handshake", e.runHandshakeQueue},
	}

	for _, q := range queues {
		if err := ctx.Err(); err != nil {
			return err
		}
		if e.stopped() {
			e.logger.Info("stop requested, ending cycle before %s queue", q.name)
			return nil
		}

		handled, err := q.run(ctx)
		if err != nil {
			e.logger.Error("%s queue failed: %v", q.name, err)
			continue
		}
		if handled > 0 {
			e.logger.Info("%s queue confirmed %d reply(ies)", q.name, handled)
		}
	}
	return nil
}

// historyFor returns account's logical memo history, decrypting through
// that wallet's handshake channels.
func (e *Engine) historyFor(ctx context.Context, account string) ([]storage.DecodedMemo, error) {
	b := e.builders[account]
	if b == nil {
		b = history.NewBuilder(e.store,
			history.WithLogger(e.logger),
			history.WithDecryptor(e.registry.View(account)))
		e.builders[account] = b
	}
	return b.MemoHistory(ctx, account, false)
}

// nodeView reads the node's history and classifies its task threads.
func (e *Engine) nodeView(ctx context.Context) ([]storage.DecodedMemo, *lifecycle.TaskSet, error) {
	rows, err := e.historyFor(ctx, e.cfg.NodeAddress)
	if err != nil {
		return nil, nil, err
	}
	return rows, lifecycle.NewTaskSet(rows), nil
}

// resultDone reports whether a processing result already covers hash.
// Lookup failures count as not done; the cached state machine is the real
// double-send guard.
func (e *Engine) resultDone(ctx context.Context, hash string) bool {
	done, err := e.store.ResultExists(ctx, hash)
	if err != nil {
		e.logger.Warn("result lookup for %s failed: %v", hash, err)
		return false
	}
	return done
}

// sendAndConfirm submits a reply and polls the sender's cached history
// until confirm matches a row. The confirmed row is the on-ledger truth
// the processing result points at.
func (e *Engine) sendAndConfirm(ctx context.Context, from, to string, m submit.Memo, pft float64, confirm func(storage.DecodedMemo) bool) (storage.DecodedMemo, error) {
	res, err := e.sender.SendMemo(ctx, from, to, m, pft, memo.EncodeFlags{Chunk: true}, nil)
	if err != nil {
		return storage.DecodedMemo{}, err
	}
	e.logger.Debug("submitted %s to %s as %s", m.Type, to, res.TxHash)

	for attempt := 0; attempt < e.verifyAttempts; attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, e.verifyInterval); err != nil {
				return storage.DecodedMemo{}, err
			}
		}
		rows, err := e.historyFor(ctx, from)
		if err != nil {
			e.logger.Warn("confirmation read failed: %v", err)
			continue
		}
		for i := len(rows) - 1; i >= 0; i-- {
			if confirm(rows[i]) {
				return rows[i], nil
			}
		}
	}
	return storage.DecodedMemo{}, ErrVerificationTimeout
}

// recordResult marks the triggering transaction handled.
func (e *Engine) recordResult(ctx context.Context, rule string, trigger storage.DecodedMemo, responseHash, notes string) {
	err := e.store.RecordResult(ctx, storage.ProcessingResult{
		TxHash:         trigger.Hash,
		Processed:      true,
		RuleName:       rule,
		ResponseTxHash: responseHash,
		Notes:          notes,
		Timestamp:      e.now(),
	})
	if err != nil {
		e.logger.Error("recording %s result for %s failed: %v", rule, trigger.Hash, err)
	}
}

// sentinelBody returns the payload after a sentinel marker, trimmed.
func sentinelBody(data, sentinel string) string {
	if i := strings.Index(data, sentinel); i >= 0 {
		return strings.TrimSpace(data[i+len(sentinel):])
	}
	return strings.TrimSpace(data)
}

// firstLine returns the first non-empty line of s, trimmed. It is the
// fallback when a reply skips the pipe-delimited field it was asked for.
func firstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		line = strings.Trim(line, "| \t\r")
		if line != "" {
			return line
		}
	}
	return ""
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

// tail returns the last n elements of in.
func tail[T any](in []T, n int) []T {
	if len(in) <= n {
		return in
	}
	return in[len(in)-n:]
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
