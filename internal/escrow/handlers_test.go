package escrow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sein12/BlockSmith-2025-XRPL-Hackathon/internal/session"
	"github.com/sein12/BlockSmith-2025-XRPL-Hackathon/internal/trustline"
	"github.com/sein12/BlockSmith-2025-XRPL-Hackathon/internal/xrpl"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestRouter(h *harness) *gin.Engine {
	r := gin.New()
	NewHandler(h.svc).RegisterRoutes(r.Group("/v1"))
	return r
}

func doRequest(t *testing.T, r http.Handler, method, path, token string, body interface{}) (int, map[string]interface{}) {
	t.Helper()

	var buf *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		buf = bytes.NewReader(b)
	} else {
		buf = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set(session.HeaderToken, token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var out map[string]interface{}
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	}
	return w.Code, out
}

func TestHandler_CreateFinishFlow(t *testing.T) {
	h := newHarness(t)
	r := newTestRouter(h)

	code, body := doRequest(t, r, http.MethodPost, "/v1/escrow", clientToken, gin.H{"amount": "1000"})
	require.Equal(t, http.StatusCreated, code, body)
	assert.Equal(t, "An IOU (USD) TokenEscrow has been created", body["message"])
	assert.Equal(t, "EscrowCreate-100", body["txHash"])
	id, _ := body["escrowId"].(string)
	require.NotEmpty(t, id)

	escrowJSON, _ := body["escrow"].(map[string]interface{})
	require.NotNil(t, escrowJSON)
	assert.Equal(t, "created", escrowJSON["state"])
	assert.NotContains(t, escrowJSON, "fulfillment")
	assert.NotContains(t, escrowJSON, "secret")
	assert.NotContains(t, escrowJSON, "Fulfillment")

	code, body = doRequest(t, r, http.MethodGet, "/v1/escrow/"+id, clientToken, nil)
	require.Equal(t, http.StatusOK, code)

	code, body = doRequest(t, r, http.MethodPost, "/v1/escrow/"+id+"/finish", clientToken, nil)
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, true, body["finished"])
	assert.Equal(t, MsgFinished, body["message"])

	code, body = doRequest(t, r, http.MethodPost, "/v1/escrow/"+id+"/finish", clientToken, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, MsgAlreadyFinished, body["message"])

	code, body = doRequest(t, r, http.MethodPost, "/v1/escrow/"+id+"/cancel", ownerToken, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, body["canceled"])
	assert.Equal(t, MsgAlreadySettled, body["message"])

	code, body = doRequest(t, r, http.MethodGet, "/v1/escrows", clientToken, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(1), body["count"])
	assert.Equal(t, false, body["hasMore"])
}

func TestHandler_CreateAmountFromQuery(t *testing.T) {
	h := newHarness(t)
	r := newTestRouter(h)

	code, body := doRequest(t, r, http.MethodPost, "/v1/escrow?amount=25", clientToken, nil)
	require.Equal(t, http.StatusCreated, code, body)

	escrowJSON := body["escrow"].(map[string]interface{})
	assert.Equal(t, "25", escrowJSON["amount"])
}

func TestHandler_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		setup      func(t *testing.T, h *harness) (method, path, token string, body interface{})
		wantStatus int
		wantCode   string
	}{
		{
			name: "missing session",
			setup: func(t *testing.T, h *harness) (string, string, string, interface{}) {
				return http.MethodPost, "/v1/escrow", "", gin.H{"amount": "10"}
			},
			wantStatus: http.StatusUnauthorized,
			wantCode:   "unauthorized",
		},
		{
			name: "unknown session",
			setup: func(t *testing.T, h *harness) (string, string, string, interface{}) {
				return http.MethodGet, "/v1/escrows", "st_nope", nil
			},
			wantStatus: http.StatusUnauthorized,
			wantCode:   "unauthorized",
		},
		{
			name: "invalid amount",
			setup: func(t *testing.T, h *harness) (string, string, string, interface{}) {
				return http.MethodPost, "/v1/escrow", clientToken, gin.H{"amount": "-3"}
			},
			wantStatus: http.StatusUnprocessableEntity,
			wantCode:   "invalid_amount",
		},
		{
			name: "missing trust line",
			setup: func(t *testing.T, h *harness) (string, string, string, interface{}) {
				h.preflight.err = &trustline.PreconditionError{
					Status: http.StatusPreconditionFailed, Code: trustline.CodeTrustLineMissing,
					Message: "open a trust line", Holder: clientAddr, Issuer: issuerAddr, Currency: "USD",
				}
				return http.MethodPost, "/v1/escrow", clientToken, gin.H{"amount": "10"}
			},
			wantStatus: http.StatusPreconditionFailed,
			wantCode:   trustline.CodeTrustLineMissing,
		},
		{
			name: "insufficient balance",
			setup: func(t *testing.T, h *harness) (string, string, string, interface{}) {
				h.preflight.err = &trustline.PreconditionError{
					Status: http.StatusConflict, Code: trustline.CodeInsufficientBalance,
					Message: "Owner IOU balance 1 < escrow amount 10.",
				}
				return http.MethodPost, "/v1/escrow", clientToken, gin.H{"amount": "10"}
			},
			wantStatus: http.StatusConflict,
			wantCode:   trustline.CodeInsufficientBalance,
		},
		{
			name: "ledger rejection",
			setup: func(t *testing.T, h *harness) (string, string, string, interface{}) {
				h.ledger.failNext("EscrowCreate", &xrpl.RejectionError{Code: "tecUNFUNDED", Validated: true})
				return http.MethodPost, "/v1/escrow", clientToken, gin.H{"amount": "10"}
			},
			wantStatus: http.StatusBadGateway,
			wantCode:   "ledger_rejection",
		},
		{
			name: "confirmation timeout",
			setup: func(t *testing.T, h *harness) (string, string, string, interface{}) {
				h.ledger.failNext("EscrowCreate", timeoutErr(""))
				return http.MethodPost, "/v1/escrow", clientToken, gin.H{"amount": "10"}
			},
			wantStatus: http.StatusGatewayTimeout,
			wantCode:   "gateway_timeout",
		},
		{
			name: "malformed escrow id",
			setup: func(t *testing.T, h *harness) (string, string, string, interface{}) {
				return http.MethodGet, "/v1/escrow/not-a-uuid", clientToken, nil
			},
			wantStatus: http.StatusNotFound,
			wantCode:   "escrow_not_found",
		},
		{
			name: "unknown escrow id",
			setup: func(t *testing.T, h *harness) (string, string, string, interface{}) {
				return http.MethodPost, "/v1/escrow/" + uuid.NewString() + "/finish", clientToken, nil
			},
			wantStatus: http.StatusNotFound,
			wantCode:   "escrow_not_found",
		},
		{
			name: "finish by non-destination",
			setup: func(t *testing.T, h *harness) (string, string, string, interface{}) {
				e := h.create(t, "10")
				return http.MethodPost, "/v1/escrow/" + e.ID + "/finish", ownerToken, nil
			},
			wantStatus: http.StatusForbidden,
			wantCode:   "forbidden",
		},
		{
			name: "invalid cursor",
			setup: func(t *testing.T, h *harness) (string, string, string, interface{}) {
				return http.MethodGet, "/v1/escrows?cursor=!!!", clientToken, nil
			},
			wantStatus: http.StatusBadRequest,
			wantCode:   "invalid_cursor",
		},
		{
			name: "unknown decision",
			setup: func(t *testing.T, h *harness) (string, string, string, interface{}) {
				return http.MethodPost, "/v1/claims/decision", clientToken, gin.H{"decision": "Maybe"}
			},
			wantStatus: http.StatusUnprocessableEntity,
			wantCode:   "unknown_decision",
		},
		{
			name: "unknown decision without a valid session",
			setup: func(t *testing.T, h *harness) (string, string, string, interface{}) {
				return http.MethodPost, "/v1/claims/decision", "st_nope", gin.H{"decision": "Maybe"}
			},
			wantStatus: http.StatusUnauthorized,
			wantCode:   "unauthorized",
		},
		{
			name: "void escrow",
			setup: func(t *testing.T, h *harness) (string, string, string, interface{}) {
				h.ledger.failNext("EscrowCreate", timeoutErr("EscrowCreate-100"))
				_, err := h.svc.Create(context.Background(), clientToken, "10")
				var pe *PendingError
				require.True(t, errors.As(err, &pe))
				h.ledger.setOutcome("EscrowCreate-100", xrpl.OutcomeFailed)
				return http.MethodPost, "/v1/escrow/" + pe.EscrowID + "/finish", clientToken, nil
			},
			wantStatus: http.StatusConflict,
			wantCode:   "escrow_void",
		},
		{
			name: "missing decision",
			setup: func(t *testing.T, h *harness) (string, string, string, interface{}) {
				return http.MethodPost, "/v1/claims/decision", clientToken, gin.H{}
			},
			wantStatus: http.StatusBadRequest,
			wantCode:   "invalid_request",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			r := newTestRouter(h)
			method, path, token, body := tt.setup(t, h)

			code, resp := doRequest(t, r, method, path, token, body)
			assert.Equal(t, tt.wantStatus, code, resp)
			assert.Equal(t, tt.wantCode, resp["error"])
		})
	}
}

func TestHandler_RejectionCarriesEngineResult(t *testing.T) {
	h := newHarness(t)
	r := newTestRouter(h)
	h.ledger.failNext("EscrowCreate", &xrpl.RejectionError{Code: "tecNO_LINE", TxHash: "ABC", Validated: true})

	code, body := doRequest(t, r, http.MethodPost, "/v1/escrow", clientToken, gin.H{"amount": "10"})
	require.Equal(t, http.StatusBadGateway, code)
	assert.Equal(t, "tecNO_LINE", body["engine_result"])
	assert.Equal(t, "ABC", body["txHash"])
}

func TestHandler_UnconfirmedCreateNamesEscrow(t *testing.T) {
	h := newHarness(t)
	r := newTestRouter(h)
	h.ledger.failNext("EscrowCreate", timeoutErr("EscrowCreate-100"))

	code, body := doRequest(t, r, http.MethodPost, "/v1/escrow", clientToken, gin.H{"amount": "10"})
	require.Equal(t, http.StatusGatewayTimeout, code, body)
	assert.Equal(t, "create", body["kind"])
	assert.Equal(t, "EscrowCreate-100", body["txHash"])
	id, _ := body["escrowId"].(string)
	require.NotEmpty(t, id)

	h.ledger.setOutcome("EscrowCreate-100", xrpl.OutcomeSucceeded)
	code, body = doRequest(t, r, http.MethodPost, "/v1/escrow/"+id+"/finish", clientToken, nil)
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, true, body["finished"])
}

func TestHandler_Decision(t *testing.T) {
	h := newHarness(t)
	r := newTestRouter(h)
	e := h.create(t, "10")

	code, body := doRequest(t, r, http.MethodPost, "/v1/claims/decision", clientToken, gin.H{"decision": "Accepted"})
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "Accepted", body["decision"])
	assert.Equal(t, e.ID, body["escrowId"])
	assert.Equal(t, true, body["finished"])
}

func TestHandler_InvalidJSON(t *testing.T) {
	h := newHarness(t)
	r := newTestRouter(h)

	req := httptest.NewRequest(http.MethodPost, "/v1/escrow", strings.NewReader("{"))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(session.HeaderToken, clientToken)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}
