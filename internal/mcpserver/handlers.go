package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/sein12/BlockSmith-2025-XRPL-Hackathon/internal/apiclient"
)

// Config holds the configuration for connecting to the escrow API.
type Config struct {
	APIURL      string // Base URL, e.g. "http://localhost:8080"
	ClientToken string // optional; otherwise the server logs in as the client
	OwnerToken  string // optional; otherwise the server logs in as the owner
	HTTPClient  *http.Client
}

const (
	roleClient = "client"
	roleOwner  = "owner"
)

// Handlers holds the handler functions for each MCP tool. Each role gets
// its own API session, opened on first use.
type Handlers struct {
	cfg Config

	mu       sync.Mutex
	sessions map[string]*apiclient.Client
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(cfg Config) *Handlers {
	return &Handlers{cfg: cfg, sessions: make(map[string]*apiclient.Client)}
}

func (h *Handlers) session(ctx context.Context, role string) (*apiclient.Client, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if c, ok := h.sessions[role]; ok {
		return c, nil
	}
	token := h.cfg.ClientToken
	if role == roleOwner {
		token = h.cfg.OwnerToken
	}
	c := apiclient.New(apiclient.Config{BaseURL: h.cfg.APIURL, Token: token, HTTPClient: h.cfg.HTTPClient})
	if token == "" {
		if _, err := c.Login(ctx, role); err != nil {
			return nil, fmt.Errorf("login as %s: %w", role, err)
		}
	}
	h.sessions[role] = c
	return c, nil
}

// forget drops a session the API no longer accepts so the next call logs in again.
func (h *Handlers) forget(role string, err error) {
	if apiclient.IsStatus(err, http.StatusUnauthorized) {
		h.mu.Lock()
		delete(h.sessions, role)
		h.mu.Unlock()
	}
}

// HandleCreateEscrow locks tokens for the client.
func (h *Handlers) HandleCreateEscrow(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	amount := strings.TrimSpace(req.GetString("amount", ""))
	if amount == "" {
		return mcp.NewToolResultError("amount is required"), nil
	}

	c, err := h.session(ctx, roleClient)
	if err != nil {
		return toolError("Failed to open session", err), nil
	}
	resp, err := c.CreateEscrow(ctx, amount)
	if err != nil {
		h.forget(roleClient, err)
		return toolError("Failed to create escrow", err), nil
	}
	return mcp.NewToolResultText(formatAction(resp)), nil
}

// HandleFinishEscrow pays an escrow out to the client.
func (h *Handlers) HandleFinishEscrow(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := strings.TrimSpace(req.GetString("escrow_id", ""))
	if id == "" {
		return mcp.NewToolResultError("escrow_id is required"), nil
	}

	c, err := h.session(ctx, roleClient)
	if err != nil {
		return toolError("Failed to open session", err), nil
	}
	resp, err := c.FinishEscrow(ctx, id)
	if err != nil {
		h.forget(roleClient, err)
		return toolError("Failed to finish escrow", err), nil
	}
	return mcp.NewToolResultText(formatAction(resp)), nil
}

// HandleCancelEscrow returns an expired escrow to the owner.
func (h *Handlers) HandleCancelEscrow(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := strings.TrimSpace(req.GetString("escrow_id", ""))
	if id == "" {
		return mcp.NewToolResultError("escrow_id is required"), nil
	}

	c, err := h.session(ctx, roleOwner)
	if err != nil {
		return toolError("Failed to open owner session", err), nil
	}
	resp, err := c.CancelEscrow(ctx, id)
	if err != nil {
		h.forget(roleOwner, err)
		return toolError("Failed to cancel escrow", err), nil
	}
	return mcp.NewToolResultText(formatAction(resp)), nil
}

// HandleGetEscrow shows one escrow, or lists the client's escrows.
func (h *Handlers) HandleGetEscrow(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	c, err := h.session(ctx, roleClient)
	if err != nil {
		return toolError("Failed to open session", err), nil
	}

	if id := strings.TrimSpace(req.GetString("escrow_id", "")); id != "" {
		e, err := c.GetEscrow(ctx, id)
		if err != nil {
			h.forget(roleClient, err)
			return toolError("Failed to get escrow", err), nil
		}
		return mcp.NewToolResultText(formatEscrow(e)), nil
	}

	limit := req.GetInt("limit", 20)
	escrows, err := c.ListEscrows(ctx, limit)
	if err != nil {
		h.forget(roleClient, err)
		return toolError("Failed to list escrows", err), nil
	}
	return mcp.NewToolResultText(formatEscrowList(escrows)), nil
}

// HandleSubmitClaimDecision settles a claim verdict for the client.
func (h *Handlers) HandleSubmitClaimDecision(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	decision := req.GetString("decision", "")
	if strings.TrimSpace(decision) == "" {
		return mcp.NewToolResultError("decision is required"), nil
	}

	c, err := h.session(ctx, roleClient)
	if err != nil {
		return toolError("Failed to open session", err), nil
	}
	resp, err := c.SubmitDecision(ctx, decision)
	if err != nil {
		h.forget(roleClient, err)
		return toolError("Failed to submit decision", err), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Decision: %s\n", resp.Decision)
	fmt.Fprintf(&sb, "%s\n", resp.Message)
	if resp.EscrowID != "" {
		fmt.Fprintf(&sb, "Escrow: %s\n", resp.EscrowID)
	}
	if resp.TxHash != "" {
		fmt.Fprintf(&sb, "Transaction: %s\n", resp.TxHash)
	}
	return mcp.NewToolResultText(sb.String()), nil
}

// HandleCheckBalance reads ledger balances for the client or the owner.
func (h *Handlers) HandleCheckBalance(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	account := req.GetString("account", "me")

	var (
		bal *apiclient.Balance
		err error
	)
	switch account {
	case "owner":
		c := apiclient.New(apiclient.Config{BaseURL: h.cfg.APIURL, HTTPClient: h.cfg.HTTPClient})
		bal, err = c.OwnerBalance(ctx)
	case "me", "":
		c, serr := h.session(ctx, roleClient)
		if serr != nil {
			return toolError("Failed to open session", serr), nil
		}
		bal, err = c.MyBalance(ctx)
		h.forget(roleClient, err)
	default:
		return mcp.NewToolResultError("account must be 'me' or 'owner'"), nil
	}
	if err != nil {
		return toolError("Failed to check balance", err), nil
	}
	return mcp.NewToolResultText(formatBalance(bal)), nil
}

// -----------------------------------------------------------------------------
// Formatting
// -----------------------------------------------------------------------------

func toolError(prefix string, err error) *mcp.CallToolResult {
	var apiErr *apiclient.Error
	if errors.As(err, &apiErr) {
		msg := fmt.Sprintf("%s: %s", prefix, apiErr.Message)
		switch {
		case apiErr.EngineResult != "":
			msg += fmt.Sprintf("\nLedger result: %s", apiErr.EngineResult)
		case apiErr.Code == "gateway_timeout" && apiErr.Kind == "create" && apiErr.EscrowID != "":
			msg += fmt.Sprintf("\nThe lock may still validate. Do not create again; check escrow %s with get_escrow.", apiErr.EscrowID)
		case apiErr.Code == "gateway_timeout":
			msg += "\nThe transaction may still validate. Retry the same call to resolve it."
		}
		if apiErr.TxHash != "" {
			msg += fmt.Sprintf("\nTransaction: %s", apiErr.TxHash)
		}
		return mcp.NewToolResultError(msg)
	}
	return mcp.NewToolResultError(fmt.Sprintf("%s: %v", prefix, err))
}

func formatAction(resp *apiclient.ActionResponse) string {
	var sb strings.Builder
	sb.WriteString(resp.Message)
	sb.WriteString("\n")
	if resp.TxHash != "" {
		fmt.Fprintf(&sb, "Transaction: %s\n", resp.TxHash)
	}
	if resp.Escrow != nil {
		sb.WriteString("\n")
		sb.WriteString(formatEscrow(resp.Escrow))
	}
	return sb.String()
}

func formatEscrow(e *apiclient.Escrow) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Escrow %s\n", e.ID)
	fmt.Fprintf(&sb, "  State:        %s\n", e.State)
	fmt.Fprintf(&sb, "  Amount:       %s %s\n", e.Amount, e.Currency)
	fmt.Fprintf(&sb, "  Owner:        %s\n", e.Owner)
	fmt.Fprintf(&sb, "  Destination:  %s\n", e.Destination)
	fmt.Fprintf(&sb, "  Sequence:     %d\n", e.OfferSequence)
	fmt.Fprintf(&sb, "  Cancel after: %s\n", e.CancelAfter.UTC().Format(time.RFC3339))
	if e.FinishTxID != "" {
		fmt.Fprintf(&sb, "  Finished by:  %s\n", e.FinishTxID)
	}
	if e.CancelTxID != "" {
		fmt.Fprintf(&sb, "  Canceled by:  %s\n", e.CancelTxID)
	}
	return sb.String()
}

func formatEscrowList(escrows []apiclient.Escrow) string {
	if len(escrows) == 0 {
		return "No escrows found."
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d escrow(s):\n\n", len(escrows))
	for i, e := range escrows {
		fmt.Fprintf(&sb, "%d. %s  %s %s  [%s]\n", i+1, e.ID, e.Amount, e.Currency, e.State)
	}
	return sb.String()
}

func formatBalance(b *apiclient.Balance) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Balances for %s:\n", b.Address)
	fmt.Fprintf(&sb, "  XRP: %s\n", b.XRP)
	fmt.Fprintf(&sb, "  %s: %s (issuer %s)\n", b.Currency, b.Token, b.Issuer)
	return sb.String()
}
