package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/sein12/BlockSmith-2025-XRPL-Hackathon/internal/escrow"
	"github.com/sein12/BlockSmith-2025-XRPL-Hackathon/internal/logging"
	"github.com/sein12/BlockSmith-2025-XRPL-Hackathon/internal/metrics"
	"github.com/sein12/BlockSmith-2025-XRPL-Hackathon/internal/ratelimit"
	"github.com/sein12/BlockSmith-2025-XRPL-Hackathon/internal/security"
	"github.com/sein12/BlockSmith-2025-XRPL-Hackathon/internal/session"
	"github.com/sein12/BlockSmith-2025-XRPL-Hackathon/internal/validation"
)

// Paths the access log skips.
var quietPaths = map[string]bool{"/health/live": true, "/metrics": true}

func (s *Server) setupMiddleware() {
	s.limiter = ratelimit.New(ratelimit.ConfigFor(s.cfg.RateLimitRPM))

	s.router.Use(
		gin.CustomRecovery(s.recoverPanic),
		security.HeadersMiddleware(),
		security.CORSMiddleware(s.cfg.AllowedOrigins),
		validation.RequestSizeMiddleware(validation.MaxRequestSize),
		s.limiter.Middleware(),
		metrics.Middleware(),
		s.requestID,
		s.accessLog,
	)
}

func (s *Server) setupRoutes() {
	r := s.router
	r.GET("/health", s.healthHandler)
	r.GET("/health/live", s.livenessHandler)
	r.GET("/health/ready", s.readinessHandler)
	r.GET("/metrics", metrics.Handler())

	v1 := r.Group("/v1", session.Middleware(s.sessions))
	v1.POST("/auth/login", s.loginHandler)
	v1.DELETE("/auth/session", session.RequireSession(), s.logoutHandler)

	escrow.NewHandler(s.escrows).RegisterRoutes(v1)

	v1.GET("/balances/owner", s.ownerBalanceHandler)
	v1.GET("/balances/me", session.RequireSession(), s.myBalanceHandler)
	v1.GET("/ws", session.RequireSession(), s.streamHandler)
}

func (s *Server) recoverPanic(c *gin.Context, recovered any) {
	logging.L(c.Request.Context()).Error("panic recovered", "error", recovered, "path", c.Request.URL.Path)
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
		"error":   "internal_error",
		"message": "An unexpected error occurred",
	})
}

// requestID tags each request with an id, reusing the caller's
// X-Request-ID when it is a sane length.
func (s *Server) requestID(c *gin.Context) {
	id := c.GetHeader("X-Request-ID")
	if id == "" || len(id) > 64 {
		id = uuid.NewString()
	}
	ctx := logging.WithLogger(logging.WithRequestID(c.Request.Context(), id), s.logger)
	c.Request = c.Request.WithContext(ctx)
	c.Header("X-Request-ID", id)
	c.Next()
}

func (s *Server) accessLog(c *gin.Context) {
	start := time.Now()
	path := c.Request.URL.Path
	c.Next()

	if quietPaths[path] {
		return
	}
	status := c.Writer.Status()
	attrs := []any{
		"method", c.Request.Method,
		"path", path,
		"status", status,
		"latency_ms", time.Since(start).Milliseconds(),
		"client_ip", c.ClientIP(),
	}
	if principal, ok := session.Principal(c); ok {
		attrs = append(attrs, "principal", principal)
	}

	logger := logging.L(c.Request.Context())
	switch {
	case status >= http.StatusInternalServerError:
		logger.Error("request completed", attrs...)
	case status >= http.StatusBadRequest:
		logger.Warn("request completed", attrs...)
	default:
		logger.Info("request completed", attrs...)
	}
}

// streamHandler upgrades to the event stream scoped to the caller.
func (s *Server) streamHandler(c *gin.Context) {
	principal, _ := session.Principal(c)
	s.hub.HandleWebSocket(c.Writer, c.Request, principal)
}
