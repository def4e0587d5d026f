package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sein12/BlockSmith-2025-XRPL-Hackathon/internal/iou"
	"github.com/sein12/BlockSmith-2025-XRPL-Hackathon/internal/logging"
	"github.com/sein12/BlockSmith-2025-XRPL-Hackathon/internal/session"
	"github.com/sein12/BlockSmith-2025-XRPL-Hackathon/internal/xrpl"
)

// BalanceResponse reports an account's XRP and token holdings.
type BalanceResponse struct {
	Address  string     `json:"address"`
	XRP      iou.Amount `json:"xrp"`
	Currency string     `json:"currency"`
	Issuer   string     `json:"issuer"`
	Token    iou.Amount `json:"token"`
}

// ownerBalanceHandler handles GET /v1/balances/owner
func (s *Server) ownerBalanceHandler(c *gin.Context) {
	s.writeBalance(c, s.keys.Owner().Address)
}

// myBalanceHandler handles GET /v1/balances/me
func (s *Server) myBalanceHandler(c *gin.Context) {
	principal, _ := session.Principal(c)
	s.writeBalance(c, principal)
}

func (s *Server) writeBalance(c *gin.Context, address string) {
	resp, err := s.balance(c.Request.Context(), address)
	if err != nil {
		switch {
		case errors.Is(err, xrpl.ErrAccountNotFound):
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "account_not_found",
				"message": "Account is not activated on the ledger",
			})
		case errors.Is(err, xrpl.ErrCircuitOpen), errors.Is(err, xrpl.ErrTransport):
			c.JSON(http.StatusBadGateway, gin.H{
				"error":   "ledger_unavailable",
				"message": "The ledger node could not be reached",
			})
		default:
			logging.L(c.Request.Context()).Error("balance lookup failed", "address", address, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "internal_error",
				"message": "Failed to read balances",
			})
		}
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) balance(ctx context.Context, address string) (*BalanceResponse, error) {
	drops, err := s.ledger.XRPBalance(ctx, address)
	if err != nil {
		return nil, err
	}
	xrp, err := iou.FromDrops(drops)
	if err != nil {
		return nil, err
	}
	token, err := s.trust.TokenBalance(ctx, address)
	if err != nil {
		return nil, err
	}
	return &BalanceResponse{
		Address:  address,
		XRP:      xrp,
		Currency: s.trust.Currency(),
		Issuer:   s.trust.Issuer(),
		Token:    token,
	}, nil
}
