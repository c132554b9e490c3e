package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/postfiatorg/pftnoded/internal/memo"
	"github.com/postfiatorg/pftnoded/internal/submit"
)

// ErrUnknownWallet is returned when a send names an address no configured
// wallet can sign for.
var ErrUnknownWallet = errors.New("engine: no wallet for sending address")

// WalletSender adapts the transaction submitter to the Sender interface,
// picking the signing wallet by its classic address. When a memo chunks
// into several transactions the last validated result stands for the whole
// send, mirroring how history reassembly treats the final chunk as the
// representative row.
type WalletSender struct {
	submitter *submit.Submitter
	wallets   map[string]*submit.Wallet
}

func NewWalletSender(submitter *submit.Submitter, wallets ...*submit.Wallet) (*WalletSender, error) {
	if submitter == nil {
		return nil, errors.New("engine: submitter is required")
	}
	s := &WalletSender{submitter: submitter, wallets: make(map[string]*submit.Wallet)}
	for _, w := range wallets {
		if w == nil {
			continue
		}
		s.wallets[w.Address()] = w
	}
	if len(s.wallets) == 0 {
		return nil, errors.New("engine: at least one wallet is required")
	}
	return s, nil
}

func (s *WalletSender) SendMemo(ctx context.Context, from, destination string, m submit.Memo, pft float64, flags memo.EncodeFlags, channel *memo.Channel) (submit.Result, error) {
	w, ok := s.wallets[from]
	if !ok {
		return submit.Result{}, fmt.Errorf("%w: %s", ErrUnknownWallet, from)
	}
	results, err := s.submitter.SendMemo(ctx, w, destination, m, pft, flags, channel)
	var last submit.Result
	if len(results) > 0 {
		last = results[len(results)-1]
	}
	return last, err
}
