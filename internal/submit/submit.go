// Package submit signs and sends the node's memo-bearing payments. A send
// encodes the memo (compress, encrypt, chunk), signs one Payment per memo
// piece with the node wallet, submits each and waits for ledger validation
// before the next piece goes out. A failed piece aborts the remainder and
// the partial results are returned alongside the error.
package submit

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/Peersyst/xrpl-go/xrpl/transaction"
	txtypes "github.com/Peersyst/xrpl-go/xrpl/transaction/types"
	xrplwallet "github.com/Peersyst/xrpl-go/xrpl/wallet"

	"github.com/postfiatorg/pftnoded/internal/logging"
	"github.com/postfiatorg/pftnoded/internal/memo"
	"github.com/postfiatorg/pftnoded/internal/xrpl"
)

// DefaultExplorerURL prefixes transaction hashes in user-facing messages.
const DefaultExplorerURL = "https://livenet.xrpl.org/transactions/"

var (
	// ErrHandshakeRequired is returned when an encrypted send has no
	// completed handshake to derive a channel from.
	ErrHandshakeRequired = errors.New("submit: encryption requires a completed handshake")

	// ErrInsufficientXRPBalance is returned when a native send would leave
	// the wallet under its operating reserve.
	ErrInsufficientXRPBalance = errors.New("submit: xrp balance below operating minimum")

	// ErrNonPositiveAmount is returned for sends without a signalling
	// amount.
	ErrNonPositiveAmount = errors.New("submit: amount must be positive")

	// ErrMissingIssuer is returned when the submitter is built without the
	// PFT issuer address.
	ErrMissingIssuer = errors.New("submit: pft issuer is required")
)

// Wallet wraps a signing wallet derived from a family seed.
type Wallet struct {
	seed  string
	inner xrplwallet.Wallet
}

// NewWallet derives the signing wallet for a seed.
func NewWallet(seed string) (*Wallet, error) {
	w, err := xrplwallet.FromSeed(seed, "")
	if err != nil {
		return nil, fmt.Errorf("submit: derive wallet: %w", err)
	}
	return &Wallet{seed: seed, inner: w}, nil
}

// Address returns the wallet's classic address.
func (w *Wallet) Address() string { return string(w.inner.ClassicAddress) }

// Seed returns the wallet's family seed, shared read-only with the memo
// channel derivation.
func (w *Wallet) Seed() string { return w.seed }

// Memo is the plaintext memo triple of one send; Data is encoded per the
// flags before it reaches the wire.
type Memo struct {
	Type   string
	Format string
	Data   string
}

// Result is the validated outcome of one payment.
type Result struct {
	TxHash       string
	EngineResult string
	Validated    bool
	ExplorerURL  string
}

// Message renders the operator-facing summary of the send.
func (r Result) Message() string {
	return fmt.Sprintf("Transaction result: %s\n%s", r.EngineResult, r.ExplorerURL)
}

// Ledger is the slice of the JSON-RPC client the submitter drives.
type Ledger interface {
	AccountInfo(ctx context.Context, account string) (*xrpl.AccountInfo, error)
	ValidatedLedgerIndex(ctx context.Context) (int64, error)
	SubmitAndWait(ctx context.Context, txBlob string, lastLedger int64) (*xrpl.SubmitResult, error)
}

// Submitter composes, signs and submits payments.
type Submitter struct {
	ledger    Ledger
	logger    logging.Logger
	pftIssuer string
	explorer  string

	feeDrops     uint64
	ledgerOffset int64
	minXRP       float64
}

// Option configures the submitter.
type Option func(*Submitter)

// WithLogger sets the submitter logger.
func WithLogger(logger logging.Logger) Option {
	return func(s *Submitter) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithFee sets the per-transaction fee in drops.
func WithFee(drops uint64) Option {
	return func(s *Submitter) {
		if drops > 0 {
			s.feeDrops = drops
		}
	}
}

// WithLedgerOffset sets how many ledgers past the current validated index a
// transaction stays submittable.
func WithLedgerOffset(n int64) Option {
	return func(s *Submitter) {
		if n > 0 {
			s.ledgerOffset = n
		}
	}
}

// WithExplorerURL changes the explorer link prefix, e.g. for testnet.
func WithExplorerURL(prefix string) Option {
	return func(s *Submitter) {
		if prefix != "" {
			s.explorer = prefix
		}
	}
}

// WithMinXRP sets the operating reserve a native send must not break.
func WithMinXRP(xrp float64) Option {
	return func(s *Submitter) {
		if xrp >= 0 {
			s.minXRP = xrp
		}
	}
}

// New builds a submitter. Defaults: 12 drop fee, LastLedgerSequence 20
// ledgers out, 12 XRP operating reserve.
func New(ledger Ledger, pftIssuer string, options ...Option) (*Submitter, error) {
	if ledger == nil {
		return nil, errors.New("submit: ledger client is required")
	}
	if pftIssuer == "" {
		return nil, ErrMissingIssuer
	}
	s := &Submitter{
		ledger:       ledger,
		logger:       logging.NopLogger{},
		pftIssuer:    pftIssuer,
		explorer:     DefaultExplorerURL,
		feeDrops:     12,
		ledgerOffset: 20,
		minXRP:       12,
	}
	for _, opt := range options {
		opt(s)
	}
	return s, nil
}

// SendMemo encodes m.Data per flags, then sends one PFT payment per encoded
// piece. Every piece carries the full pft amount and the memo type/format of
// m. Pieces are validated in order; on failure the remaining pieces are
// aborted and the validated prefix is returned with the error.
func (s *Submitter) SendMemo(ctx context.Context, w *Wallet, destination string, m Memo, pft float64, flags memo.EncodeFlags, ch *memo.Channel) ([]Result, error) {
	if pft <= 0 {
		return nil, ErrNonPositiveAmount
	}

	pieces, err := memo.Encode(m.Data, flags, ch)
	if err != nil {
		if errors.Is(err, memo.ErrNoChannel) {
			return nil, fmt.Errorf("%w: %s -> %s", ErrHandshakeRequired, w.Address(), destination)
		}
		return nil, fmt.Errorf("submit: encode memo: %w", err)
	}

	info, err := s.ledger.AccountInfo(ctx, w.Address())
	if err != nil {
		return nil, fmt.Errorf("submit: account state for %s: %w", w.Address(), err)
	}
	validated, err := s.ledger.ValidatedLedgerIndex(ctx)
	if err != nil {
		return nil, fmt.Errorf("submit: validated ledger: %w", err)
	}
	lastLedger := validated + s.ledgerOffset

	amount := txtypes.IssuedCurrencyAmount{
		Issuer:   txtypes.Address(s.pftIssuer),
		Currency: xrpl.PFTCurrency,
		Value:    strconv.FormatFloat(pft, 'f', -1, 64),
	}

	results := make([]Result, 0, len(pieces))
	for i, piece := range pieces {
		payment := &transaction.Payment{
			BaseTx: transaction.BaseTx{
				Account:            w.inner.ClassicAddress,
				Fee:                txtypes.XRPCurrencyAmount(s.feeDrops),
				Sequence:           info.Sequence + uint32(i),
				LastLedgerSequence: uint32(lastLedger),
				Memos: []txtypes.MemoWrapper{{Memo: txtypes.Memo{
					MemoType:   memo.ToHex(m.Type),
					MemoFormat: memo.ToHex(m.Format),
					MemoData:   memo.ToHex(piece),
				}}},
			},
			Destination: txtypes.Address(destination),
			Amount:      amount,
		}

		res, err := s.submitOne(ctx, w, payment.Flatten(), lastLedger)
		if err != nil {
			return results, fmt.Errorf("submit: piece %d/%d to %s: %w", i+1, len(pieces), destination, err)
		}
		results = append(results, res)
	}

	s.logger.Info("sent %d memo piece(s) type=%s to %s", len(results), m.Type, destination)
	return results, nil
}

// SendXRP sends a native payment, refusing to dip under the operating
// reserve. The memo, when present, goes out unencoded.
func (s *Submitter) SendXRP(ctx context.Context, w *Wallet, destination string, drops int64, m Memo, destinationTag *uint32) (*Result, error) {
	if drops <= 0 {
		return nil, ErrNonPositiveAmount
	}

	info, err := s.ledger.AccountInfo(ctx, w.Address())
	if err != nil {
		return nil, fmt.Errorf("submit: account state for %s: %w", w.Address(), err)
	}
	remaining := float64(info.Balance-drops-int64(s.feeDrops)) / 1e6
	if remaining < s.minXRP {
		return nil, fmt.Errorf("%w: %.6f XRP would remain, minimum %.0f", ErrInsufficientXRPBalance, remaining, s.minXRP)
	}
	validated, err := s.ledger.ValidatedLedgerIndex(ctx)
	if err != nil {
		return nil, fmt.Errorf("submit: validated ledger: %w", err)
	}
	lastLedger := validated + s.ledgerOffset

	payment := &transaction.Payment{
		BaseTx: transaction.BaseTx{
			Account:            w.inner.ClassicAddress,
			Fee:                txtypes.XRPCurrencyAmount(s.feeDrops),
			Sequence:           info.Sequence,
			LastLedgerSequence: uint32(lastLedger),
		},
		Destination: txtypes.Address(destination),
		Amount:      txtypes.XRPCurrencyAmount(uint64(drops)),
	}
	if m.Type != "" || m.Data != "" {
		payment.Memos = []txtypes.MemoWrapper{{Memo: txtypes.Memo{
			MemoType:   memo.ToHex(m.Type),
			MemoFormat: memo.ToHex(m.Format),
			MemoData:   memo.ToHex(m.Data),
		}}}
	}

	flat := payment.Flatten()
	if destinationTag != nil {
		flat["DestinationTag"] = *destinationTag
	}

	res, err := s.submitOne(ctx, w, flat, lastLedger)
	if err != nil {
		return nil, fmt.Errorf("submit: xrp to %s: %w", destination, err)
	}
	return &res, nil
}

func (s *Submitter) submitOne(ctx context.Context, w *Wallet, flat transaction.FlatTransaction, lastLedger int64) (Result, error) {
	blob, hash, err := w.inner.Sign(flat)
	if err != nil {
		return Result{}, fmt.Errorf("sign: %w", err)
	}

	sub, err := s.ledger.SubmitAndWait(ctx, blob, lastLedger)
	if err != nil {
		return Result{}, err
	}
	if sub.TxHash != "" {
		hash = sub.TxHash
	}

	result := Result{
		TxHash:       hash,
		EngineResult: sub.EngineResult,
		Validated:    sub.EngineResult == xrpl.TesSuccess,
		ExplorerURL:  s.explorer + hash,
	}
	if !result.Validated {
		return result, fmt.Errorf("%w: %s", xrpl.ErrSubmissionRejected, sub.EngineResult)
	}
	return result, nil
}
