package engine

import (
	"context"

	"github.com/postfiatorg/pftnoded/internal/memo"
	"github.com/postfiatorg/pftnoded/internal/storage"
	"github.com/postfiatorg/pftnoded/internal/submit"
)

// runHandshakeQueue answers incoming key exchanges for every wallet with
// auto-handshake enabled, publishing the wallet's ECDH public key back to
// the counterparty.
func (e *Engine) runHandshakeQueue(ctx context.Context) (int, error) {
	handled := 0
	for _, local := range e.registry.AutoAddresses() {
		pending := e.registry.PendingFor(local)
		if len(pending) == 0 {
			continue
		}

		rows, err := e.historyFor(ctx, local)
		if err != nil {
			return handled, err
		}
		key, err := e.registry.PublicKey(local)
		if err != nil {
			e.logger.Error("no channel key for %s: %v", local, err)
			continue
		}
		name, err := e.registry.Name(local)
		if err != nil || name == "" {
			name = e.cfg.NodeName
		}

		for _, counterparty := range pending {
			if err := ctx.Err(); err != nil {
				return handled, err
			}

			trigger, found := latestIncomingHandshake(rows, local, counterparty)
			if found && e.resultDone(ctx, trigger.Hash) {
				continue
			}

			cp := counterparty
			confirmed, err := e.sendAndConfirm(ctx, local, cp,
				submit.Memo{Type: memo.HandshakeType, Format: name, Data: key}, 1,
				func(row storage.DecodedMemo) bool {
					return row.MemoType == memo.HandshakeType && row.Account == local && row.Destination == cp
				})
			if err != nil {
				e.logger.Warn("handshake reply from %s to %s not confirmed: %v", local, cp, err)
				continue
			}

			if found {
				e.recordResult(ctx, "handshake_queue", trigger, confirmed.Hash, "key exchange answered")
			} else {
				e.logger.Warn("handshake to %s sent without an incoming trigger on record", cp)
			}
			handled++
		}
	}
	return handled, nil
}

func latestIncomingHandshake(rows []storage.DecodedMemo, local, counterparty string) (storage.DecodedMemo, bool) {
	for i := len(rows) - 1; i >= 0; i-- {
		row := rows[i]
		if row.MemoType == memo.HandshakeType && row.Account == counterparty && row.Destination == local {
			return row, true
		}
	}
	return storage.DecodedMemo{}, false
}
