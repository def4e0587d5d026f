package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sein12/BlockSmith-2025-XRPL-Hackathon/internal/health"
	"github.com/sein12/BlockSmith-2025-XRPL-Hackathon/internal/realtime"
	"github.com/sein12/BlockSmith-2025-XRPL-Hackathon/internal/reconciliation"
)

// HealthResponse is the body of /health.
type HealthResponse struct {
	Status    string                 `json:"status"`
	Version   string                 `json:"version"`
	Checks    []health.Status        `json:"checks,omitempty"`
	Stream    realtime.Stats         `json:"stream"`
	Reconcile *reconciliation.Report `json:"reconcile,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	ok, checks := s.health.CheckAll(c.Request.Context())

	resp := HealthResponse{
		Status:    "healthy",
		Version:   Version,
		Checks:    checks,
		Stream:    s.hub.Stats(),
		Reconcile: s.reconciler.Last(),
		Timestamp: time.Now().UTC(),
	}
	code := http.StatusOK
	if !ok || !s.healthy.Load() {
		resp.Status = "degraded"
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, resp)
}

// livenessHandler answers as long as the process serves requests.
func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

// readinessHandler reports ready once Run is serving and every dependency
// answers.
func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	if ok, checks := s.health.CheckAll(c.Request.Context()); !ok {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "checks": checks})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}
