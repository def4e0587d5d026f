package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sein12/BlockSmith-2025-XRPL-Hackathon/internal/config"
	"github.com/sein12/BlockSmith-2025-XRPL-Hackathon/internal/iou"
	"github.com/sein12/BlockSmith-2025-XRPL-Hackathon/internal/session"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const (
	ownerAddr  = "rLHzPsX6oXkzU2qL12kHCH8G8cnZv1rBJh"
	issuerAddr = "r3kmLJN5D28dHuH8vZNUZpMC43pEHpaocV"
	clientAddr = "rHb9CJAWyB4rj91VRWn96DkukG4bwdtyTh"
)

// fakeRippled answers the read-only JSON-RPC methods the server uses.
type fakeRippled struct {
	mu   sync.Mutex
	down bool
}

func (f *fakeRippled) setDown(down bool) {
	f.mu.Lock()
	f.down = down
	f.mu.Unlock()
}

func (f *fakeRippled) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	down := f.down
	f.mu.Unlock()
	if down {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}

	var req struct {
		Method string           `json:"method"`
		Params []map[string]any `json:"params"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var params map[string]any
	if len(req.Params) > 0 {
		params = req.Params[0]
	}

	var result map[string]any
	switch req.Method {
	case "server_info":
		result = map[string]any{"info": map[string]any{"build_version": "2.3.0", "server_state": "full"}}
	case "account_info":
		result = map[string]any{"account_data": map[string]any{
			"Account": params["account"], "Balance": "25000000", "Sequence": 7,
		}}
	case "account_lines":
		result = map[string]any{"lines": []map[string]any{{
			"account": issuerAddr, "currency": "KRW", "balance": "150", "limit": "1000000000",
		}}}
	default:
		result = map[string]any{"status": "error", "error": "unknownCmd"}
	}
	if _, ok := result["status"]; !ok {
		result["status"] = "success"
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"result": result})
}

func testConfig(rpcURL string) *config.Config {
	return &config.Config{
		Port:                 "0",
		Env:                  "development",
		LogLevel:             "error",
		RPCURL:               rpcURL,
		ConfirmTimeout:       2 * time.Second,
		OwnerAddress:         ownerAddr,
		OwnerSeed:            "sOwnerSeed",
		IssuerAddress:        issuerAddr,
		IssuerSeed:           "sIssuerSeed",
		ClientAddress:        clientAddr,
		ClientSeed:           "sClientSeed",
		Currency:             "KRW",
		TrustLimit:           "1000000000",
		StartupOwnerBalance:  "1000",
		StartupClientBalance: "0",
		EscrowCancelAfter:    time.Hour,
		ReconcileInterval:    time.Minute,
		SessionTTL:           time.Hour,
		RateLimitRPM:         6000,
	}
}

func newTestServer(t *testing.T) (*Server, *fakeRippled) {
	t.Helper()
	node := &fakeRippled{}
	srv := httptest.NewServer(node)
	t.Cleanup(srv.Close)

	s, err := New(testConfig(srv.URL))
	require.NoError(t, err)
	t.Cleanup(s.limiter.Stop)
	return s, node
}

func do(t *testing.T, s *Server, method, path, token, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set(session.HeaderToken, token)
	}
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	var out map[string]interface{}
	if w.Body.Len() > 0 && strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	}
	return w, out
}

func login(t *testing.T, s *Server, role string) string {
	t.Helper()
	body := ""
	if role != "" {
		body = `{"role":"` + role + `"}`
	}
	w, out := do(t, s, http.MethodPost, "/v1/auth/login", "", body)
	require.Equal(t, http.StatusCreated, w.Code, out)
	token, _ := out["token"].(string)
	require.NotEmpty(t, token)
	return token
}

func TestLiveness(t *testing.T) {
	s, _ := newTestServer(t)

	w, out := do(t, s, http.MethodGet, "/health/live", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "alive", out["status"])
}

func TestReadiness(t *testing.T) {
	s, node := newTestServer(t)

	w, _ := do(t, s, http.MethodGet, "/health/ready", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code, "not ready before Run")

	s.ready.Store(true)
	w, out := do(t, s, http.MethodGet, "/health/ready", "", "")
	assert.Equal(t, http.StatusOK, w.Code, out)

	node.setDown(true)
	w, out = do(t, s, http.MethodGet, "/health/ready", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "not_ready", out["status"])
}

func TestHealth(t *testing.T) {
	s, node := newTestServer(t)

	w, out := do(t, s, http.MethodGet, "/health", "", "")
	require.Equal(t, http.StatusOK, w.Code, out)
	assert.Equal(t, "healthy", out["status"])
	checks, _ := out["checks"].([]interface{})
	require.Len(t, checks, 1)
	assert.Equal(t, "ledger", checks[0].(map[string]interface{})["name"])
	stream, _ := out["stream"].(map[string]interface{})
	assert.Equal(t, float64(0), stream["connected"])

	node.setDown(true)
	w, out = do(t, s, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "degraded", out["status"])
}

func TestSecurityHeadersAndRequestID(t *testing.T) {
	s, _ := newTestServer(t)

	w, _ := do(t, s, http.MethodGet, "/health/live", "", "")
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	req.Header.Set("X-Request-ID", "req-abc")
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	assert.Equal(t, "req-abc", rec.Header().Get("X-Request-ID"))
}

func TestLoginListLogout(t *testing.T) {
	s, _ := newTestServer(t)

	w, out := do(t, s, http.MethodPost, "/v1/auth/login", "", "")
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, clientAddr, out["principal"])
	assert.Equal(t, "client", out["role"])
	assert.NotEmpty(t, out["expiresAt"])
	token := out["token"].(string)

	w, out = do(t, s, http.MethodGet, "/v1/escrows", token, "")
	require.Equal(t, http.StatusOK, w.Code, out)
	assert.Equal(t, float64(0), out["count"])

	w, out = do(t, s, http.MethodDelete, "/v1/auth/session", token, "")
	require.Equal(t, http.StatusOK, w.Code, out)
	assert.Equal(t, true, out["revoked"])

	w, out = do(t, s, http.MethodGet, "/v1/escrows", token, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "unauthorized", out["error"])
}

func TestLogin_OwnerAndInvalidRole(t *testing.T) {
	s, _ := newTestServer(t)

	w, out := do(t, s, http.MethodPost, "/v1/auth/login", "", `{"role":"owner"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, ownerAddr, out["principal"])

	w, out = do(t, s, http.MethodPost, "/v1/auth/login", "", `{"role":"issuer"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "invalid_role", out["error"])

	w, _ = do(t, s, http.MethodPost, "/v1/auth/login", "", `{"role":`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLogout_RequiresSession(t *testing.T) {
	s, _ := newTestServer(t)

	w, _ := do(t, s, http.MethodDelete, "/v1/auth/session", "", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestBalances(t *testing.T) {
	s, node := newTestServer(t)

	w, out := do(t, s, http.MethodGet, "/v1/balances/owner", "", "")
	require.Equal(t, http.StatusOK, w.Code, out)
	assert.Equal(t, ownerAddr, out["address"])
	assert.Equal(t, "KRW", out["currency"])
	assert.Equal(t, issuerAddr, out["issuer"])
	assertAmount(t, "25", out["xrp"])
	assertAmount(t, "150", out["token"])

	w, _ = do(t, s, http.MethodGet, "/v1/balances/me", "", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	token := login(t, s, "")
	w, out = do(t, s, http.MethodGet, "/v1/balances/me", token, "")
	require.Equal(t, http.StatusOK, w.Code, out)
	assert.Equal(t, clientAddr, out["address"])

	node.setDown(true)
	w, out = do(t, s, http.MethodGet, "/v1/balances/owner", "", "")
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, "ledger_unavailable", out["error"])
}

func assertAmount(t *testing.T, want string, got interface{}) {
	t.Helper()
	s, ok := got.(string)
	require.True(t, ok, "amount should be a JSON string, got %T", got)
	a, err := iou.Parse(s)
	require.NoError(t, err)
	assert.Zero(t, a.Cmp(iou.MustParse(want)), "want %s, got %s", want, s)
}

func TestCreateRequiresSession(t *testing.T) {
	s, _ := newTestServer(t)

	w, out := do(t, s, http.MethodPost, "/v1/escrow", "", `{"amount":"10"}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "unauthorized", out["error"])
}

func TestWebSocketRequiresSession(t *testing.T) {
	s, _ := newTestServer(t)

	w, _ := do(t, s, http.MethodGet, "/v1/ws", "", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

func TestMaskDSN(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"postgres://escrow:hunter2@db:5432/escrow?sslmode=disable", "postgres://escrow:xxxxx@db:5432/escrow?sslmode=disable"},
		{"postgres://db:5432/escrow", "postgres://db:5432/escrow"},
		{"://missing-scheme", "[unparseable]"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, maskDSN(tt.in))
	}
}

func TestServeAndShutdown(t *testing.T) {
	s, _ := newTestServer(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.serve(ctx, ln, 0) }()

	url := "http://" + ln.Addr().String() + "/health/live"
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)
	assert.True(t, s.ready.Load())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return after cancel")
	}
	assert.False(t, s.ready.Load())
	assert.Eventually(t, func() bool { return !s.reconciler.Running() }, time.Second, 10*time.Millisecond)
}
