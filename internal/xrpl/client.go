package xrpl

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/postfiatorg/pftnoded/internal/logging"
)

// Client is a JSON-RPC client for one-shot ledger queries and transaction
// submission. Requests follow the public rippled HTTP format:
// {"method": <name>, "params": [{...}]}.
type Client struct {
	endpoint string
	http     *http.Client
	log      logging.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(h *http.Client) ClientOption {
	return func(c *Client) { c.http = h }
}

// WithClientLogger sets the logger.
func WithClientLogger(l logging.Logger) ClientOption {
	return func(c *Client) { c.log = l }
}

// NewClient returns a client for the given JSON-RPC endpoint.
func NewClient(endpoint string, opts ...ClientOption) *Client {
	c := &Client{
		endpoint: endpoint,
		http:     &http.Client{Timeout: 30 * time.Second},
		log:      logging.NopLogger{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Endpoint returns the configured JSON-RPC endpoint.
func (c *Client) Endpoint() string { return c.endpoint }

type rpcRequest struct {
	Method string        `json:"method"`
	Params []interface{} `json:"params,omitempty"`
}

type rpcEnvelope struct {
	Result json.RawMessage `json:"result"`
}

type rpcStatus struct {
	Status       string `json:"status"`
	Error        string `json:"error"`
	ErrorMessage string `json:"error_message"`
}

// call performs one JSON-RPC request and decodes result into out.
func (c *Client) call(ctx context.Context, method string, params interface{}, out interface{}) error {
	req := rpcRequest{Method: method}
	if params != nil {
		req.Params = []interface{}{params}
	}
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to encode %s request: %w", method, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build %s request: %w", method, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrLedgerUnavailable, method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %s returned HTTP %d", ErrLedgerUnavailable, method, resp.StatusCode)
	}

	var env rpcEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("%w: failed to decode %s response: %v", ErrLedgerUnavailable, method, err)
	}

	var status rpcStatus
	if err := json.Unmarshal(env.Result, &status); err != nil {
		return fmt.Errorf("%w: malformed %s result: %v", ErrLedgerUnavailable, method, err)
	}
	if status.Status == "error" {
		if status.Error == "actNotFound" {
			return ErrAccountNotFound
		}
		msg := status.ErrorMessage
		if msg == "" {
			msg = status.Error
		}
		return fmt.Errorf("%s failed: %s", method, msg)
	}

	if out != nil {
		if err := json.Unmarshal(env.Result, out); err != nil {
			return fmt.Errorf("%w: failed to decode %s result: %v", ErrLedgerUnavailable, method, err)
		}
	}
	return nil
}

// AccountTxPage is one page of an account's transaction history.
type AccountTxPage struct {
	Transactions []TxEnvelope
	Marker       json.RawMessage
}

// HasMore reports whether another page follows.
func (p *AccountTxPage) HasMore() bool { return len(p.Marker) > 0 && string(p.Marker) != "null" }

type accountTxParams struct {
	Account        string          `json:"account"`
	LedgerIndexMin int64           `json:"ledger_index_min"`
	LedgerIndexMax int64           `json:"ledger_index_max"`
	Limit          int             `json:"limit,omitempty"`
	Marker         json.RawMessage `json:"marker,omitempty"`
	Forward        bool            `json:"forward"`
	APIVersion     int             `json:"api_version,omitempty"`
}

type accountTxResult struct {
	Account      string          `json:"account"`
	Transactions []envelopeJSON  `json:"transactions"`
	Marker       json.RawMessage `json:"marker"`
}

// AccountTx fetches one page of account history between the given ledger
// bounds (-1 means earliest/latest validated). Pass the returned marker to
// continue; a nil marker on return means the history is exhausted.
func (c *Client) AccountTx(ctx context.Context, account string, minLedger, maxLedger int64, limit int, marker json.RawMessage) (*AccountTxPage, error) {
	params := accountTxParams{
		Account:        account,
		LedgerIndexMin: minLedger,
		LedgerIndexMax: maxLedger,
		Limit:          limit,
		Marker:         marker,
		Forward:        true,
		APIVersion:     2,
	}

	var res accountTxResult
	if err := c.call(ctx, "account_tx", params, &res); err != nil {
		return nil, err
	}

	page := &AccountTxPage{Marker: res.Marker}
	for i := range res.Transactions {
		env, err := res.Transactions[i].envelope()
		if err != nil {
			c.log.Warn("skipping malformed account_tx entry for %s: %v", account, err)
			continue
		}
		page.Transactions = append(page.Transactions, env)
	}
	return page, nil
}

// AccountTxAll walks every page of an account's history within the bounds.
func (c *Client) AccountTxAll(ctx context.Context, account string, minLedger, maxLedger int64, pageLimit int) ([]TxEnvelope, error) {
	var all []TxEnvelope
	var marker json.RawMessage
	for {
		page, err := c.AccountTx(ctx, account, minLedger, maxLedger, pageLimit, marker)
		if err != nil {
			return all, err
		}
		all = append(all, page.Transactions...)
		if !page.HasMore() {
			return all, nil
		}
		marker = page.Marker
	}
}

type accountInfoParams struct {
	Account     string `json:"account"`
	LedgerIndex string `json:"ledger_index"`
}

type accountInfoResult struct {
	AccountData struct {
		Account  string `json:"Account"`
		Balance  string `json:"Balance"`
		Sequence uint32 `json:"Sequence"`
		Flags    uint32 `json:"Flags"`
	} `json:"account_data"`
}

// AccountInfo returns the validated state of an account.
func (c *Client) AccountInfo(ctx context.Context, account string) (*AccountInfo, error) {
	var res accountInfoResult
	err := c.call(ctx, "account_info", accountInfoParams{Account: account, LedgerIndex: "validated"}, &res)
	if err != nil {
		return nil, err
	}

	var balance int64
	fmt.Sscanf(res.AccountData.Balance, "%d", &balance)
	return &AccountInfo{
		Account:  res.AccountData.Account,
		Sequence: res.AccountData.Sequence,
		Balance:  balance,
		Flags:    res.AccountData.Flags,
	}, nil
}

type accountLinesParams struct {
	Account     string          `json:"account"`
	LedgerIndex string          `json:"ledger_index"`
	Limit       int             `json:"limit,omitempty"`
	Marker      json.RawMessage `json:"marker,omitempty"`
}

type accountLinesResult struct {
	Lines  []TrustLine     `json:"lines"`
	Marker json.RawMessage `json:"marker"`
}

// AccountLines returns every trust line of an account, following markers.
func (c *Client) AccountLines(ctx context.Context, account string) ([]TrustLine, error) {
	var all []TrustLine
	var marker json.RawMessage
	for {
		var res accountLinesResult
		params := accountLinesParams{Account: account, LedgerIndex: "validated", Limit: 400, Marker: marker}
		if err := c.call(ctx, "account_lines", params, &res); err != nil {
			return nil, err
		}
		all = append(all, res.Lines...)
		if len(res.Marker) == 0 || string(res.Marker) == "null" {
			return all, nil
		}
		marker = res.Marker
	}
}

type ledgerParams struct {
	LedgerIndex string `json:"ledger_index"`
}

type ledgerResult struct {
	LedgerIndex int64 `json:"ledger_index"`
	Ledger      struct {
		LedgerIndex string `json:"ledger_index"`
	} `json:"ledger"`
}

// ValidatedLedgerIndex returns the index of the latest validated ledger.
func (c *Client) ValidatedLedgerIndex(ctx context.Context) (int64, error) {
	var res ledgerResult
	if err := c.call(ctx, "ledger", ledgerParams{LedgerIndex: "validated"}, &res); err != nil {
		return 0, err
	}
	if res.LedgerIndex > 0 {
		return res.LedgerIndex, nil
	}
	var idx int64
	fmt.Sscanf(res.Ledger.LedgerIndex, "%d", &idx)
	if idx == 0 {
		return 0, fmt.Errorf("%w: ledger result carries no index", ErrLedgerUnavailable)
	}
	return idx, nil
}

type submitParams struct {
	TxBlob string `json:"tx_blob"`
}

type submitResult struct {
	EngineResult        string `json:"engine_result"`
	EngineResultMessage string `json:"engine_result_message"`
	Accepted            bool   `json:"accepted"`
	TxJSON              struct {
		Hash string `json:"hash"`
	} `json:"tx_json"`
}

// Submit sends a signed transaction blob to the ledger.
func (c *Client) Submit(ctx context.Context, txBlob string) (*SubmitResult, error) {
	var res submitResult
	if err := c.call(ctx, "submit", submitParams{TxBlob: txBlob}, &res); err != nil {
		return nil, err
	}
	return &SubmitResult{
		EngineResult:        res.EngineResult,
		EngineResultMessage: res.EngineResultMessage,
		Accepted:            res.Accepted,
		TxHash:              res.TxJSON.Hash,
	}, nil
}

type txParams struct {
	Transaction string `json:"transaction"`
	Binary      bool   `json:"binary"`
}

type txResult struct {
	Hash        string          `json:"hash"`
	LedgerIndex int64           `json:"ledger_index"`
	Validated   bool            `json:"validated"`
	Meta        json.RawMessage `json:"meta"`
	MetaBlob    json.RawMessage `json:"metaData"`
}

// TxValidated reports whether the transaction has been included in a
// validated ledger, and if so with which result code.
func (c *Client) TxValidated(ctx context.Context, hash string) (validated bool, result string, err error) {
	var res txResult
	if err := c.call(ctx, "tx", txParams{Transaction: hash}, &res); err != nil {
		return false, "", err
	}
	if !res.Validated {
		return false, "", nil
	}
	metaJSON := res.Meta
	if metaJSON == nil {
		metaJSON = res.MetaBlob
	}
	var meta Meta
	if err := json.Unmarshal(metaJSON, &meta); err != nil {
		return true, "", fmt.Errorf("failed to decode meta for %s: %w", hash, err)
	}
	return true, meta.TransactionResult, nil
}

// SubmitAndWait submits a signed blob and polls until the transaction
// appears in a validated ledger or lastLedger passes. The returned result
// carries the final TransactionResult code from the validated metadata.
func (c *Client) SubmitAndWait(ctx context.Context, txBlob string, lastLedger int64) (*SubmitResult, error) {
	sub, err := c.Submit(ctx, txBlob)
	if err != nil {
		return nil, err
	}
	// Terminal rejections (tem/tef class) never validate; queued and
	// success results are worth waiting on.
	if !sub.Accepted && sub.EngineResult != TesSuccess && sub.EngineResult != "terQUEUED" {
		return sub, fmt.Errorf("%w: %s (%s)", ErrSubmissionRejected, sub.EngineResult, sub.EngineResultMessage)
	}

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return sub, ctx.Err()
		case <-ticker.C:
		}

		validated, result, err := c.TxValidated(ctx, sub.TxHash)
		if err != nil {
			c.log.Debug("tx poll for %s: %v", sub.TxHash, err)
		} else if validated {
			sub.EngineResult = result
			return sub, nil
		}

		current, err := c.ValidatedLedgerIndex(ctx)
		if err == nil && lastLedger > 0 && current > lastLedger {
			return sub, fmt.Errorf("%w: ledger %d passed LastLedgerSequence %d",
				ErrNotValidated, current, lastLedger)
		}
	}
}
