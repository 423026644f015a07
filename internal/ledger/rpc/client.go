// Package rpc talks to a ledger gateway over JSON-RPC 2.0 on HTTP.
//
// Methods used:
//
//	system_accountNextIndex(account)  -> nonce
//	author_submitSignedCall(call)     -> tx hash
//	author_transactionStatus(txHash)  -> {status, blockHash, blockNumber, events, reason}
package rpc

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/drewstone/edgeware-watcher/internal/ledger"
	id "github.com/drewstone/edgeware-watcher/pkg/domain"
	"github.com/drewstone/edgeware-watcher/pkg/platform/sentinel"
)

const (
	defaultPollInterval = 2 * time.Second
	maxResponseBytes    = 4 << 20
)

type Client struct {
	endpoint     string
	http         *http.Client
	pollInterval time.Duration
	logger       *slog.Logger
	nextID       atomic.Uint64
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		if c != nil {
			cl.http = c
		}
	}
}

// WithPollInterval sets how often Await asks for the transaction status.
func WithPollInterval(d time.Duration) Option {
	return func(cl *Client) {
		if d > 0 {
			cl.pollInterval = d
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(cl *Client) {
		cl.logger = logger
	}
}

func New(endpoint string, opts ...Option) (*Client, error) {
	u, err := url.Parse(endpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("ledger endpoint must be an http(s) URL, got %q", endpoint)
	}
	c := &Client{
		endpoint:     endpoint,
		http:         &http.Client{Timeout: 30 * time.Second},
		pollInterval: defaultPollInterval,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type request struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
	ID      uint64 `json:"id"`
}

type response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *Error          `json:"error"`
}

// Error is a JSON-RPC error object returned by the gateway.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

func (c *Client) call(ctx context.Context, method string, out any, params ...any) error {
	reqID := c.nextID.Add(1)
	body, err := json.Marshal(request{JSONRPC: "2.0", Method: method, Params: params, ID: reqID})
	if err != nil {
		return fmt.Errorf("%s: encode request: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%s: build request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("%s: status %d: %w", method, resp.StatusCode, sentinel.ErrUnavailable)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: unexpected status %d", method, resp.StatusCode)
	}

	var rpcResp response
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&rpcResp); err != nil {
		return fmt.Errorf("%s: decode response: %w", method, err)
	}
	if rpcResp.Error != nil {
		return fmt.Errorf("%s: %w", method, rpcResp.Error)
	}
	if rpcResp.ID != reqID {
		return fmt.Errorf("%s: response id %d does not match request id %d", method, rpcResp.ID, reqID)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(rpcResp.Result, out); err != nil {
		return fmt.Errorf("%s: decode result: %w", method, err)
	}
	return nil
}

func (c *Client) AccountNonce(ctx context.Context, account id.AccountID) (uint64, error) {
	var nonce uint64
	if err := c.call(ctx, "system_accountNextIndex", &nonce, account.String()); err != nil {
		return 0, err
	}
	return nonce, nil
}

type wireSignedCall struct {
	Call      ledger.Call  `json:"call"`
	Signer    id.AccountID `json:"signer"`
	Nonce     uint64       `json:"nonce"`
	Signature string       `json:"signature"`
}

func (c *Client) Submit(ctx context.Context, call ledger.SignedCall) (ledger.Pending, error) {
	wire := wireSignedCall{
		Call:      call.Call,
		Signer:    call.Signer,
		Nonce:     call.Nonce,
		Signature: "0x" + hex.EncodeToString(call.Signature),
	}
	var txHash id.Hash
	if err := c.call(ctx, "author_submitSignedCall", &txHash, wire); err != nil {
		return nil, err
	}
	c.logger.DebugContext(ctx, "signed call accepted by gateway",
		"tx_hash", txHash.String(),
		"call", string(call.Call.Name),
		"nonce", call.Nonce,
	)
	return &pending{client: c, txHash: txHash}, nil
}

type transactionStatus struct {
	Status      ledger.Status  `json:"status"`
	BlockHash   *id.Hash       `json:"blockHash"`
	BlockNumber uint64         `json:"blockNumber"`
	Events      []ledger.Event `json:"events"`
	Reason      string         `json:"reason"`
}

type pending struct {
	client *Client
	txHash id.Hash
}

func (p *pending) TxHash() id.Hash {
	return p.txHash
}

// Await polls the gateway until the transaction reaches a terminal status.
func (p *pending) Await(ctx context.Context) (*ledger.Receipt, error) {
	ticker := time.NewTicker(p.client.pollInterval)
	defer ticker.Stop()

	for {
		var st transactionStatus
		if err := p.client.call(ctx, "author_transactionStatus", &st, p.txHash.String()); err != nil {
			return nil, err
		}

		switch st.Status {
		case ledger.StatusFinalized:
			return p.receipt(st), nil
		case ledger.StatusRejected:
			return p.receipt(st), &ledger.RejectedError{TxHash: p.txHash, Reason: st.Reason}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (p *pending) receipt(st transactionStatus) *ledger.Receipt {
	r := &ledger.Receipt{
		TxHash:      p.txHash,
		BlockNumber: st.BlockNumber,
		Status:      st.Status,
		Events:      st.Events,
	}
	if st.BlockHash != nil {
		r.BlockHash = *st.BlockHash
	}
	return r
}

var _ ledger.Client = (*Client)(nil)
