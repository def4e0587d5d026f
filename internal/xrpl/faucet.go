package xrpl

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Faucet creates and funds accounts on a test network.
type Faucet struct {
	url  string
	http *http.Client
}

// NewFaucet returns a faucet client for baseURL (e.g. https://faucet.altnet.rippletest.net).
func NewFaucet(baseURL string, hc *http.Client) *Faucet {
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	return &Faucet{url: strings.TrimRight(baseURL, "/"), http: hc}
}

type faucetResponse struct {
	Account struct {
		ClassicAddress string `json:"classicAddress"`
		Address        string `json:"address"`
	} `json:"account"`
	Seed string `json:"seed"`
}

// NewAccount asks the faucet for a fresh funded account.
func (f *Faucet) NewAccount(ctx context.Context) (Credential, error) {
	var res faucetResponse
	if err := f.post(ctx, map[string]any{}, &res); err != nil {
		return Credential{}, err
	}
	addr := res.Account.ClassicAddress
	if addr == "" {
		addr = res.Account.Address
	}
	if addr == "" || res.Seed == "" {
		return Credential{}, fmt.Errorf("%w: response missing address or seed", ErrFaucet)
	}
	return Credential{Address: addr, Seed: res.Seed}, nil
}

// Fund tops up an existing account with test XRP.
func (f *Faucet) Fund(ctx context.Context, address string) error {
	return f.post(ctx, map[string]any{"destination": address}, nil)
}

func (f *Faucet) post(ctx context.Context, body any, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.url+"/accounts", bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFaucet, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFaucet, err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: http %d: %s", ErrFaucet, resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: decode: %v", ErrFaucet, err)
	}
	return nil
}
