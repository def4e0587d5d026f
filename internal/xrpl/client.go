// Package xrpl is the gateway to an XRP Ledger node over JSON-RPC.
//
// It reads validated account, trust line and ledger state, signs
// transactions through the node, submits them, and waits for a validated
// result. Only tesSUCCESS in a validated ledger counts as success.
package xrpl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/sein12/BlockSmith-2025-XRPL-Hackathon/internal/circuitbreaker"
	"github.com/sein12/BlockSmith-2025-XRPL-Hackathon/internal/retry"
	"github.com/sein12/BlockSmith-2025-XRPL-Hackathon/internal/syncutil"
	"github.com/sein12/BlockSmith-2025-XRPL-Hackathon/internal/traces"
)

// -----------------------------------------------------------------------------
// Constants
// -----------------------------------------------------------------------------

const (
	// DefaultConfirmationTimeout bounds the wait for a validated result.
	DefaultConfirmationTimeout = 60 * time.Second

	// ConfirmationPollInterval between tx lookups.
	ConfirmationPollInterval = time.Second

	// DefaultLedgerOffset is added to the validated index to form LastLedgerSequence.
	DefaultLedgerOffset = 20

	// DefaultMaxFeeMultiplier caps the fee the node may pick when signing.
	DefaultMaxFeeMultiplier = 1000

	maxResponseBytes = 4 << 20
	linesPageLimit   = 400
)

// -----------------------------------------------------------------------------
// Types
// -----------------------------------------------------------------------------

// Config for creating a new client.
type Config struct {
	RPCURL           string
	ConfirmTimeout   time.Duration
	PollInterval     time.Duration
	LedgerOffset     uint32
	MaxQueryAttempts int
	RetryBaseDelay   time.Duration
	BreakerThreshold int
	BreakerCooldown  time.Duration
	MaxFeeMultiplier int
	RequestTimeout   time.Duration
}

// Option configures the client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client (useful for testing).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithLogger sets the client's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// Client talks to one rippled JSON-RPC endpoint.
type Client struct {
	url     string
	cfg     Config
	http    *http.Client
	logger  *slog.Logger
	breaker *circuitbreaker.Breaker

	// Per-account sequence allocation. Submissions from one account are
	// serialized from sequence assignment through signing.
	seqLocks *syncutil.KeyedMutex
	seqMu    sync.Mutex
	nextSeq  map[string]uint32
}

// New creates a client for cfg.RPCURL.
func New(cfg Config, opts ...Option) (*Client, error) {
	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("%w: RPC URL required", ErrTransport)
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = DefaultConfirmationTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = ConfirmationPollInterval
	}
	if cfg.LedgerOffset == 0 {
		cfg.LedgerOffset = DefaultLedgerOffset
	}
	if cfg.MaxQueryAttempts <= 0 {
		cfg.MaxQueryAttempts = retry.Default.Attempts
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = retry.Default.BaseDelay
	}
	if cfg.MaxFeeMultiplier <= 0 {
		cfg.MaxFeeMultiplier = DefaultMaxFeeMultiplier
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 15 * time.Second
	}

	c := &Client{
		url:      cfg.RPCURL,
		cfg:      cfg,
		logger:   slog.Default(),
		breaker:  circuitbreaker.New(cfg.RPCURL, cfg.BreakerThreshold, cfg.BreakerCooldown),
		seqLocks: syncutil.NewKeyedMutex(),
		nextSeq:  make(map[string]uint32),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: cfg.RequestTimeout}
	}
	return c, nil
}

// ConfirmTimeout is how long SubmitAndWait waits for validation.
func (c *Client) ConfirmTimeout() time.Duration { return c.cfg.ConfirmTimeout }

// -----------------------------------------------------------------------------
// JSON-RPC transport
// -----------------------------------------------------------------------------

type rpcRequest struct {
	Method string `json:"method"`
	Params []any  `json:"params"`
}

type rpcStatus struct {
	Status       string `json:"status"`
	Error        string `json:"error"`
	ErrorMessage string `json:"error_message"`
}

// call performs one JSON-RPC round trip and decodes result into out.
func (c *Client) call(ctx context.Context, method string, params any, out any) error {
	ctx, span := traces.StartSpan(ctx, "xrpl."+method, traces.RPCMethod(method))
	defer span.End()

	if !c.breaker.Allow() {
		rpcRequests.WithLabelValues(method, "circuit_open").Inc()
		return ErrCircuitOpen
	}

	start := time.Now()
	raw, err := c.roundTrip(ctx, method, params)
	rpcDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
	if err != nil {
		// A caller giving up says nothing about the node.
		if ctx.Err() == nil {
			c.breaker.Failure()
		}
		rpcRequests.WithLabelValues(method, "transport_error").Inc()
		traces.Fail(span, err)
		return fmt.Errorf("%w: %s: %v", ErrTransport, method, err)
	}
	c.breaker.Success()

	var st rpcStatus
	if err := json.Unmarshal(raw, &st); err != nil {
		rpcRequests.WithLabelValues(method, "decode_error").Inc()
		return fmt.Errorf("%w: %s: decode result: %v", ErrTransport, method, err)
	}
	if st.Status == "error" || st.Error != "" {
		rpcRequests.WithLabelValues(method, "rpc_error").Inc()
		return &RPCError{Method: method, Code: st.Error, Message: st.ErrorMessage}
	}
	rpcRequests.WithLabelValues(method, "ok").Inc()

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: %s: decode result: %v", ErrTransport, method, err)
	}
	return nil
}

func (c *Client) roundTrip(ctx context.Context, method string, params any) (json.RawMessage, error) {
	body, err := json.Marshal(rpcRequest{Method: method, Params: []any{params}})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("http %d", resp.StatusCode)
	}

	var env struct {
		Result json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if len(env.Result) == 0 {
		return nil, errors.New("response has no result")
	}
	return env.Result, nil
}

// query is call with retries. Server errors other than load shedding are final.
func (c *Client) query(ctx context.Context, method string, params any, out any) error {
	policy := retry.Policy{Attempts: c.cfg.MaxQueryAttempts, BaseDelay: c.cfg.RetryBaseDelay, MaxDelay: retry.Default.MaxDelay}
	return retry.Do(ctx, policy, func(ctx context.Context) error {
		err := c.call(ctx, method, params, out)
		if err == nil {
			return nil
		}
		var rpcErr *RPCError
		if errors.As(err, &rpcErr) && !rpcErr.transient() {
			return retry.Permanent(err)
		}
		if errors.Is(err, ErrCircuitOpen) {
			return retry.Permanent(err)
		}
		return err
	})
}

// -----------------------------------------------------------------------------
// Reads
// -----------------------------------------------------------------------------

// AccountInfo returns the validated root state of address.
func (c *Client) AccountInfo(ctx context.Context, address string) (*AccountInfo, error) {
	return c.accountInfo(ctx, address, "validated")
}

func (c *Client) accountInfo(ctx context.Context, address, ledger string) (*AccountInfo, error) {
	var res struct {
		AccountData AccountInfo `json:"account_data"`
	}
	params := map[string]any{"account": address, "ledger_index": ledger, "strict": true}
	if err := c.query(ctx, "account_info", params, &res); err != nil {
		if isRPCCode(err, "actNotFound") {
			return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, address)
		}
		return nil, err
	}
	return &res.AccountData, nil
}

// AccountLines returns every validated trust line of account, optionally
// restricted to lines with peer.
func (c *Client) AccountLines(ctx context.Context, account, peer string) ([]TrustLine, error) {
	var (
		lines  []TrustLine
		marker json.RawMessage
	)
	for {
		params := map[string]any{
			"account":      account,
			"ledger_index": "validated",
			"limit":        linesPageLimit,
		}
		if peer != "" {
			params["peer"] = peer
		}
		if len(marker) > 0 {
			params["marker"] = marker
		}

		var page struct {
			Lines  []TrustLine     `json:"lines"`
			Marker json.RawMessage `json:"marker"`
		}
		if err := c.query(ctx, "account_lines", params, &page); err != nil {
			if isRPCCode(err, "actNotFound") {
				return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, account)
			}
			return nil, err
		}
		lines = append(lines, page.Lines...)
		if len(page.Marker) == 0 || string(page.Marker) == "null" {
			return lines, nil
		}
		marker = page.Marker
	}
}

// ValidatedLedger returns the index and close time of the latest validated ledger.
func (c *Client) ValidatedLedger(ctx context.Context) (*LedgerInfo, error) {
	var res struct {
		LedgerIndex uint32 `json:"ledger_index"`
		Ledger      struct {
			CloseTime uint32 `json:"close_time"`
		} `json:"ledger"`
	}
	params := map[string]any{"ledger_index": "validated"}
	if err := c.query(ctx, "ledger", params, &res); err != nil {
		return nil, err
	}
	return &LedgerInfo{Index: res.LedgerIndex, CloseTime: res.Ledger.CloseTime}, nil
}

// ServerInfo reports the node's version and sync state.
func (c *Client) ServerInfo(ctx context.Context) (*ServerInfo, error) {
	var res struct {
		Info ServerInfo `json:"info"`
	}
	if err := c.query(ctx, "server_info", map[string]any{}, &res); err != nil {
		return nil, err
	}
	return &res.Info, nil
}

// Ping reports whether the node answers. Used by readiness checks.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.ServerInfo(ctx)
	return err
}

// CircuitState reports the circuit breaker state of the RPC endpoint.
func (c *Client) CircuitState() circuitbreaker.State {
	return c.breaker.State()
}

// XRPBalance returns the validated XRP balance of address in drops.
func (c *Client) XRPBalance(ctx context.Context, address string) (string, error) {
	info, err := c.AccountInfo(ctx, address)
	if err != nil {
		return "", err
	}
	return info.Balance, nil
}

// -----------------------------------------------------------------------------
// Sequence cache
// -----------------------------------------------------------------------------

func (c *Client) cachedSequence(account string) uint32 {
	c.seqMu.Lock()
	defer c.seqMu.Unlock()
	return c.nextSeq[account]
}

func (c *Client) storeSequence(account string, next uint32) {
	c.seqMu.Lock()
	c.nextSeq[account] = next
	c.seqMu.Unlock()
}

// resetSequence drops the cached sequence so the next Prepare re-reads it.
func (c *Client) resetSequence(account string) {
	c.seqMu.Lock()
	delete(c.nextSeq, account)
	c.seqMu.Unlock()
}
