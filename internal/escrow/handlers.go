package escrow

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/sein12/BlockSmith-2025-XRPL-Hackathon/internal/session"
	"github.com/sein12/BlockSmith-2025-XRPL-Hackathon/internal/trustline"
	"github.com/sein12/BlockSmith-2025-XRPL-Hackathon/internal/validation"
	"github.com/sein12/BlockSmith-2025-XRPL-Hackathon/internal/xrpl"
)

// Handler provides HTTP endpoints for escrow operations.
type Handler struct {
	service *Service
}

// NewHandler creates a new escrow handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up escrow routes. Every route resolves the caller's
// session itself, so no auth middleware is required in front.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/escrow", h.CreateEscrow)
	r.GET("/escrows", h.ListEscrows)

	byID := r.Group("/escrow/:id", validation.EscrowIDParamMiddleware())
	byID.GET("", h.GetEscrow)
	byID.POST("/finish", h.FinishEscrow)
	byID.POST("/cancel", h.CancelEscrow)

	r.POST("/claims/decision", h.SettleDecision)
}

// CreateRequest is the body of POST /v1/escrow. The amount may also be
// given as the amount query parameter.
type CreateRequest struct {
	Amount string `json:"amount"`
}

// DecisionRequest is the body of POST /v1/claims/decision.
type DecisionRequest struct {
	Decision string `json:"decision" binding:"required"`
}

// CreateEscrow handles POST /v1/escrow
func (h *Handler) CreateEscrow(c *gin.Context) {
	var req CreateRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_request",
				"message": "Invalid request body",
			})
			return
		}
	}
	if req.Amount == "" {
		req.Amount = c.Query("amount")
	}

	res, err := h.service.Create(c.Request.Context(), session.TokenFrom(c), req.Amount)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"escrowId": res.Escrow.ID,
		"txHash":   res.TxHash,
		"message":  res.Message,
		"escrow":   res.Escrow,
	})
}

// GetEscrow handles GET /v1/escrow/:id
func (h *Handler) GetEscrow(c *gin.Context) {
	e, err := h.service.Get(c.Request.Context(), session.TokenFrom(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"escrow": e})
}

// ListEscrows handles GET /v1/escrows
func (h *Handler) ListEscrows(c *gin.Context) {
	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	page, err := h.service.ListPage(c.Request.Context(), session.TokenFrom(c), limit, c.Query("cursor"))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, page)
}

// FinishEscrow handles POST /v1/escrow/:id/finish
func (h *Handler) FinishEscrow(c *gin.Context) {
	res, err := h.service.Finish(c.Request.Context(), session.TokenFrom(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"escrowId": res.Escrow.ID,
		"finished": res.Done,
		"txHash":   res.TxHash,
		"message":  res.Message,
		"escrow":   res.Escrow,
	})
}

// CancelEscrow handles POST /v1/escrow/:id/cancel
func (h *Handler) CancelEscrow(c *gin.Context) {
	res, err := h.service.Cancel(c.Request.Context(), session.TokenFrom(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"escrowId": res.Escrow.ID,
		"canceled": res.Done,
		"txHash":   res.TxHash,
		"message":  res.Message,
		"escrow":   res.Escrow,
	})
}

// SettleDecision handles POST /v1/claims/decision
func (h *Handler) SettleDecision(c *gin.Context) {
	var req DecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "decision is required",
		})
		return
	}

	res, err := h.service.SettleDecision(c.Request.Context(), session.TokenFrom(c), req.Decision)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// writeError maps lifecycle errors to HTTP responses. Condition material
// never reaches an error message, so messages are passed through.
func writeError(c *gin.Context, err error) {
	var (
		pe      *trustline.PreconditionError
		pending *PendingError
		rej     *xrpl.RejectionError
	)
	switch {
	case session.IsAuthError(err):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "message": err.Error()})

	case errors.Is(err, ErrInvalidAmount):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "invalid_amount", "message": err.Error()})

	case errors.Is(err, ErrInvalidCursor):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_cursor", "message": err.Error()})

	case errors.Is(err, ErrUnknownDecision):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "unknown_decision", "message": err.Error()})

	case errors.Is(err, ErrEscrowNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "escrow_not_found", "message": "Escrow not found"})

	case errors.Is(err, ErrEscrowVoid):
		c.JSON(http.StatusConflict, gin.H{"error": "escrow_void", "message": "Escrow lock never validated on the ledger"})

	case errors.Is(err, ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "forbidden",
			"message": "This escrow does not belong to the logged-in address",
		})

	case errors.As(err, &pe):
		c.JSON(pe.Status, gin.H{
			"error":    pe.Code,
			"message":  pe.Message,
			"holder":   pe.Holder,
			"issuer":   pe.Issuer,
			"currency": pe.Currency,
		})

	case errors.As(err, &pending):
		c.JSON(http.StatusGatewayTimeout, gin.H{
			"error":    "gateway_timeout",
			"message":  "Ledger confirmation not observed yet; retry to resolve it.",
			"kind":     pending.Kind,
			"txHash":   pending.TxHash,
			"escrowId": pending.EscrowID,
		})

	case errors.As(err, &rej):
		c.JSON(http.StatusBadGateway, gin.H{
			"error":         "ledger_rejection",
			"message":       err.Error(),
			"engine_result": rej.Code,
			"txHash":        rej.TxHash,
		})

	case errors.Is(err, xrpl.ErrExpired):
		c.JSON(http.StatusBadGateway, gin.H{
			"error":         "ledger_rejection",
			"message":       err.Error(),
			"engine_result": "expired",
			"txHash":        xrpl.HashOf(err),
		})

	case errors.Is(err, xrpl.ErrTransport), errors.Is(err, xrpl.ErrCircuitOpen), errors.Is(err, xrpl.ErrTimeout):
		c.JSON(http.StatusBadGateway, gin.H{"error": "ledger_unavailable", "message": err.Error()})

	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "Internal error"})
	}
}
