// Package apiclient is an HTTP client for the escrow API, shared by the MCP
// server and escrowctl.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

// HeaderToken carries the session token.
const HeaderToken = "X-Session-Token"

const maxResponseBytes = 1 << 20

// Config holds the configuration for connecting to the escrow API.
type Config struct {
	BaseURL    string // e.g. "http://localhost:8080"
	Token      string // session token from Login; may be empty
	HTTPClient *http.Client
}

// Client is a pure HTTP client for the escrow API.
type Client struct {
	baseURL    string
	httpClient *http.Client

	mu    sync.RWMutex
	token string
}

// New creates a new client.
func New(cfg Config) *Client {
	hc := cfg.HTTPClient
	if hc == nil {
		// Lock and settle calls wait for ledger validation.
		hc = &http.Client{Timeout: 2 * time.Minute}
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: hc,
		token:      cfg.Token,
	}
}

// SetToken replaces the session token sent with each request.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// Token returns the current session token.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// Error is a non-2xx response from the API.
type Error struct {
	Status       int    `json:"-"`
	Code         string `json:"error"`
	Message      string `json:"message"`
	EngineResult string `json:"engine_result,omitempty"`
	TxHash       string `json:"txHash,omitempty"`
	Kind         string `json:"kind,omitempty"`
	EscrowID     string `json:"escrowId,omitempty"`
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Code
	}
	if e.EngineResult != "" {
		msg += " (" + e.EngineResult + ")"
	}
	return fmt.Sprintf("API error (%d): %s", e.Status, msg)
}

// IsStatus reports whether err is an API error with the given HTTP status.
func IsStatus(err error, status int) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.Status == status
}

// do makes an HTTP request and decodes a successful response into out.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if token := c.Token(); token != "" {
		req.Header.Set(HeaderToken, token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		apiErr := &Error{Status: resp.StatusCode}
		if json.Unmarshal(respBody, apiErr) != nil || (apiErr.Code == "" && apiErr.Message == "") {
			apiErr.Code = http.StatusText(resp.StatusCode)
			apiErr.Message = strings.TrimSpace(string(respBody))
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// -----------------------------------------------------------------------------
// Sessions
// -----------------------------------------------------------------------------

// Login asks for a session bound to role ("client" or "owner") and keeps
// the returned token for later calls.
func (c *Client) Login(ctx context.Context, role string) (*LoginResponse, error) {
	var body any
	if role != "" {
		body = map[string]string{"role": role}
	}
	var out LoginResponse
	if err := c.do(ctx, http.MethodPost, "/v1/auth/login", nil, body, &out); err != nil {
		return nil, err
	}
	c.SetToken(out.Token)
	return &out, nil
}

// Logout revokes the current session.
func (c *Client) Logout(ctx context.Context) error {
	if err := c.do(ctx, http.MethodDelete, "/v1/auth/session", nil, nil, nil); err != nil {
		return err
	}
	c.SetToken("")
	return nil
}

// -----------------------------------------------------------------------------
// Escrows
// -----------------------------------------------------------------------------

// CreateEscrow locks amount of the service's token for the session principal.
func (c *Client) CreateEscrow(ctx context.Context, amount string) (*ActionResponse, error) {
	var out ActionResponse
	if err := c.do(ctx, http.MethodPost, "/v1/escrow", nil, map[string]string{"amount": amount}, &out); err != nil {
		return nil, err
	}
	out.Done = true
	return &out, nil
}

// GetEscrow returns one escrow.
func (c *Client) GetEscrow(ctx context.Context, id string) (*Escrow, error) {
	var out struct {
		Escrow *Escrow `json:"escrow"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/escrow/"+url.PathEscape(id), nil, nil, &out); err != nil {
		return nil, err
	}
	if out.Escrow == nil {
		return nil, fmt.Errorf("decode response: no escrow")
	}
	return out.Escrow, nil
}

// ListEscrows returns the session principal's escrows, newest first.
func (c *Client) ListEscrows(ctx context.Context, limit int) ([]Escrow, error) {
	var q url.Values
	if limit > 0 {
		q = url.Values{"limit": {strconv.Itoa(limit)}}
	}
	var out struct {
		Escrows []Escrow `json:"escrows"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/escrows", q, nil, &out); err != nil {
		return nil, err
	}
	return out.Escrows, nil
}

// FinishEscrow releases an escrow to its destination.
func (c *Client) FinishEscrow(ctx context.Context, id string) (*ActionResponse, error) {
	var out ActionResponse
	if err := c.do(ctx, http.MethodPost, "/v1/escrow/"+url.PathEscape(id)+"/finish", nil, nil, &out); err != nil {
		return nil, err
	}
	out.Done = out.Finished
	return &out, nil
}

// CancelEscrow returns an expired escrow to its owner.
func (c *Client) CancelEscrow(ctx context.Context, id string) (*ActionResponse, error) {
	var out ActionResponse
	if err := c.do(ctx, http.MethodPost, "/v1/escrow/"+url.PathEscape(id)+"/cancel", nil, nil, &out); err != nil {
		return nil, err
	}
	out.Done = out.Canceled
	return &out, nil
}

// SubmitDecision submits a claim decision token such as "Accepted".
func (c *Client) SubmitDecision(ctx context.Context, decision string) (*DecisionResponse, error) {
	var out DecisionResponse
	if err := c.do(ctx, http.MethodPost, "/v1/claims/decision", nil, map[string]string{"decision": decision}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// -----------------------------------------------------------------------------
// Balances
// -----------------------------------------------------------------------------

// OwnerBalance returns the escrow owner's balances.
func (c *Client) OwnerBalance(ctx context.Context) (*Balance, error) {
	var out Balance
	if err := c.do(ctx, http.MethodGet, "/v1/balances/owner", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// MyBalance returns the session principal's balances.
func (c *Client) MyBalance(ctx context.Context) (*Balance, error) {
	var out Balance
	if err := c.do(ctx, http.MethodGet, "/v1/balances/me", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
