// Package history assembles logical memo histories from the transaction
// cache: chunked memos are stitched back together and wire envelopes are
// removed where a channel is available.
package history

import (
	"context"
	"sort"
	"strings"

	"github.com/postfiatorg/pftnoded/internal/logging"
	"github.com/postfiatorg/pftnoded/internal/memo"
	"github.com/postfiatorg/pftnoded/internal/storage"
	"github.com/postfiatorg/pftnoded/internal/xrpl"
)

// Decryptor resolves the memo channel for a counterparty. Implementations
// return nil when no usable handshake exists, leaving encrypted payloads
// as received.
type Decryptor interface {
	Channel(counterparty string) *memo.Channel
}

// Builder turns cache rows into logical memo entries.
type Builder struct {
	store     storage.Store
	logger    logging.Logger
	decryptor Decryptor
}

// Option configures a Builder.
type Option func(*Builder)

// WithLogger sets the logger.
func WithLogger(logger logging.Logger) Option {
	return func(b *Builder) {
		b.logger = logger
	}
}

// WithDecryptor wires channel resolution for encrypted payloads.
func WithDecryptor(d Decryptor) Option {
	return func(b *Builder) {
		b.decryptor = d
	}
}

// NewBuilder creates a Builder over the given cache.
func NewBuilder(store storage.Store, options ...Option) *Builder {
	b := &Builder{
		store:  store,
		logger: logging.NewDefaultLogger(),
	}
	for _, option := range options {
		option(b)
	}
	return b
}

// MemoHistory returns account's decoded memos ordered by (datetime,
// ledger_index, hash), with chunk groups collapsed into one logical entry
// each and WHISPER/COMPRESSED envelopes removed where possible. Rows whose
// transactions failed on-ledger are dropped.
func (b *Builder) MemoHistory(ctx context.Context, account string, pftOnly bool) ([]storage.DecodedMemo, error) {
	rows, err := b.store.History(ctx, account, pftOnly)
	if err != nil {
		return nil, err
	}

	assembled := assemble(rows)
	for i := range assembled {
		assembled[i].MemoData = b.decode(assembled[i])
	}
	return assembled, nil
}

// chunkGroup accumulates the pieces of one logical memo. The row of the
// highest-numbered chunk represents the group.
type chunkGroup struct {
	parts map[int]string
	rep   storage.DecodedMemo
	maxN  int
}

// assemble collapses chunk rows into logical entries. Chunks group by
// (memo_type, sender, destination) so two counterparties reusing a
// memo_type never interleave.
func assemble(rows []storage.DecodedMemo) []storage.DecodedMemo {
	var out []storage.DecodedMemo
	groups := make(map[string]*chunkGroup)

	for _, row := range rows {
		if row.TransactionResult != "" && row.TransactionResult != xrpl.TesSuccess {
			continue
		}

		n, rest, ok := memo.ChunkIndex(row.MemoData)
		if !ok {
			out = append(out, row)
			continue
		}

		key := row.MemoType + "|" + row.Account + "|" + row.Destination
		g := groups[key]
		if g == nil {
			g = &chunkGroup{parts: make(map[int]string)}
			groups[key] = g
		}
		if _, dup := g.parts[n]; !dup {
			g.parts[n] = rest
		}
		if n >= g.maxN {
			g.maxN = n
			g.rep = row
		}
	}

	for _, g := range groups {
		ns := make([]int, 0, len(g.parts))
		for n := range g.parts {
			ns = append(ns, n)
		}
		sort.Ints(ns)

		var sb strings.Builder
		for _, n := range ns {
			sb.WriteString(g.parts[n])
		}

		rep := g.rep
		rep.MemoData = sb.String()
		out = append(out, rep)
	}

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.Datetime.Equal(b.Datetime) {
			return a.Datetime.Before(b.Datetime)
		}
		if a.LedgerIndex != b.LedgerIndex {
			return a.LedgerIndex < b.LedgerIndex
		}
		return a.Hash < b.Hash
	})
	return out
}

func (b *Builder) decode(row storage.DecodedMemo) string {
	var ch *memo.Channel
	if b.decryptor != nil && memo.IsEncrypted(row.MemoData) {
		ch = b.decryptor.Channel(row.UserAccount)
	}

	out, err := memo.Decode(row.MemoData, ch)
	if err != nil {
		b.logger.Warn("memo %s from %s kept raw, decode failed: %v",
			row.Hash, row.UserAccount, err)
	}
	return out
}
