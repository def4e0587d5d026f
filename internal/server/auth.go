package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sein12/BlockSmith-2025-XRPL-Hackathon/internal/keyring"
	"github.com/sein12/BlockSmith-2025-XRPL-Hackathon/internal/logging"
	"github.com/sein12/BlockSmith-2025-XRPL-Hackathon/internal/session"
)

// LoginRequest is the body of POST /v1/auth/login. Role defaults to client.
type LoginRequest struct {
	Role string `json:"role"`
}

// LoginResponse carries the raw token. It is shown only once.
type LoginResponse struct {
	Token     string     `json:"token"`
	Principal string     `json:"principal"`
	Role      string     `json:"role"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

// loginHandler issues a session bound to one of the wallets this service
// holds keys for. The issuer wallet cannot log in.
func (s *Server) loginHandler(c *gin.Context) {
	var req LoginRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_request",
				"message": "Invalid request body",
			})
			return
		}
	}

	role := keyring.RoleClient
	if req.Role != "" {
		role = keyring.Role(req.Role)
	}
	if role != keyring.RoleClient && role != keyring.RoleOwner {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":   "invalid_role",
			"message": "role must be client or owner",
		})
		return
	}

	cred, ok := s.keys.Get(role)
	if !ok {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "wallet_unavailable",
			"message": "No wallet configured for role " + string(role),
		})
		return
	}

	token, sess, err := s.sessions.Issue(c.Request.Context(), cred.Address)
	if err != nil {
		logging.L(c.Request.Context()).Error("failed to issue session", "role", role, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to issue session",
		})
		return
	}

	logging.L(c.Request.Context()).Info("session issued", "role", role, "principal", cred.Address, "session_id", sess.ID)
	c.JSON(http.StatusCreated, LoginResponse{
		Token:     token,
		Principal: cred.Address,
		Role:      string(role),
		ExpiresAt: sess.ExpiresAt,
	})
}

// logoutHandler revokes the presented session.
func (s *Server) logoutHandler(c *gin.Context) {
	if err := s.sessions.Revoke(c.Request.Context(), session.Token(c)); err != nil {
		if session.IsAuthError(err) {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": err.Error(),
			})
			return
		}
		logging.L(c.Request.Context()).Error("failed to revoke session", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to revoke session",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"revoked": true})
}
