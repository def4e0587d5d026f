package cli

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testEscrowID  = "5b0d3c1e-8f2a-4c6b-9d7e-1a2b3c4d5e6f"
	testCondition = "A0258020630DCD2966C4336691125448BBB25B4FF412A49C732DB2C8ABC1B8581BD710DD810120"
	testSecret    = "000102030405060708090A0B0C0D0E0F101112131415161718191A1B1C1D1E1F"
)

// --- Test helpers ---

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func assertGolden(t *testing.T, name, got string) {
	t.Helper()
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, []byte(got))
}

func fixtureEscrow(state string) map[string]any {
	e := map[string]any{
		"id": testEscrowID, "owner": "rOwner", "destination": "rClient", "offerSequence": 42,
		"amount": "1000", "currency": "KRW", "issuer": "rIssuer", "condition": testCondition,
		"state": state, "createTxId": "CREATEHASH", "cancelAfter": "2025-06-01T13:00:00Z",
		"createdAt": "2025-06-01T12:00:00Z", "updatedAt": "2025-06-01T12:00:00Z",
	}
	switch state {
	case "finished":
		e["finishTxId"] = "FINISHHASH"
	case "canceled":
		e["cancelTxId"] = "CANCELHASH"
	}
	return e
}

type fakeAPI struct {
	mu        sync.Mutex
	decisions []string
	tokens    []string
}

func (f *fakeAPI) handler() http.Handler {
	mux := http.NewServeMux()
	reply := func(w http.ResponseWriter, status int, v any) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(v)
	}
	record := func(r *http.Request) {
		f.mu.Lock()
		f.tokens = append(f.tokens, r.Header.Get("X-Session-Token"))
		f.mu.Unlock()
	}

	mux.HandleFunc("POST /v1/auth/login", func(w http.ResponseWriter, r *http.Request) {
		var req struct{ Role string }
		_ = json.NewDecoder(r.Body).Decode(&req)
		reply(w, http.StatusCreated, map[string]any{"token": "st_" + req.Role, "principal": "rOwner", "role": req.Role})
	})
	mux.HandleFunc("DELETE /v1/auth/session", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		reply(w, http.StatusOK, map[string]any{"revoked": true})
	})
	mux.HandleFunc("POST /v1/escrow", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		var req struct{ Amount string }
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Amount == "777" {
			reply(w, http.StatusGatewayTimeout, map[string]any{
				"error": "gateway_timeout", "message": "Ledger confirmation not observed yet.",
				"kind": "create", "txHash": "LOCKHASH", "escrowId": testEscrowID,
			})
			return
		}
		if req.Amount == "999999" {
			reply(w, http.StatusBadGateway, map[string]any{
				"error": "ledger_rejection", "message": "ledger rejected EscrowCreate",
				"engine_result": "tecUNFUNDED", "txHash": "BADHASH",
			})
			return
		}
		reply(w, http.StatusCreated, map[string]any{
			"escrowId": testEscrowID, "txHash": "CREATEHASH",
			"message": "An IOU (KRW) TokenEscrow has been created", "escrow": fixtureEscrow("created"),
		})
	})
	mux.HandleFunc("GET /v1/escrow/{id}", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		if r.PathValue("id") != testEscrowID {
			reply(w, http.StatusNotFound, map[string]any{"error": "escrow_not_found", "message": "Escrow not found"})
			return
		}
		reply(w, http.StatusOK, map[string]any{"escrow": fixtureEscrow("finished")})
	})
	mux.HandleFunc("POST /v1/escrow/{id}/finish", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		reply(w, http.StatusGatewayTimeout, map[string]any{
			"error": "gateway_timeout", "message": "Ledger confirmation not observed yet.", "txHash": "SLOWHASH",
		})
	})
	mux.HandleFunc("POST /v1/escrow/{id}/cancel", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		reply(w, http.StatusOK, map[string]any{
			"escrowId": testEscrowID, "canceled": true, "txHash": "CANCELHASH",
			"message": "The escrow has been canceled.", "escrow": fixtureEscrow("canceled"),
		})
	})
	mux.HandleFunc("GET /v1/escrows", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		if r.URL.Query().Get("limit") == "0" || r.URL.Query().Get("limit") == "" {
			reply(w, http.StatusOK, map[string]any{"escrows": []any{}, "count": 0})
			return
		}
		second := fixtureEscrow("finished")
		second["id"] = "9c1f0e2d-3b4a-4c5d-8e6f-7a8b9c0d1e2f"
		second["amount"] = "250"
		reply(w, http.StatusOK, map[string]any{"escrows": []any{fixtureEscrow("created"), second}, "count": 2})
	})
	mux.HandleFunc("POST /v1/claims/decision", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		var req struct{ Decision string }
		_ = json.NewDecoder(r.Body).Decode(&req)
		f.mu.Lock()
		f.decisions = append(f.decisions, req.Decision)
		f.mu.Unlock()
		if req.Decision != "Accepted" {
			reply(w, http.StatusOK, map[string]any{"decision": req.Decision, "finished": false,
				"message": "Decision recorded; no ledger action taken."})
			return
		}
		reply(w, http.StatusOK, map[string]any{"decision": "Accepted", "escrowId": testEscrowID, "finished": true,
			"txHash": "FINISHHASH", "message": "The insurance benefit you requested has been paid"})
	})
	mux.HandleFunc("GET /v1/balances/owner", func(w http.ResponseWriter, r *http.Request) {
		reply(w, http.StatusOK, map[string]any{"address": "rOwner", "xrp": "95.5", "currency": "KRW", "issuer": "rIssuer", "token": "9000"})
	})
	mux.HandleFunc("GET /v1/balances/me", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		reply(w, http.StatusOK, map[string]any{"address": "rClient", "xrp": "12", "currency": "KRW", "issuer": "rIssuer", "token": "1000"})
	})
	return mux
}

func newFakeAPI(t *testing.T) (*fakeAPI, string) {
	t.Helper()
	f := &fakeAPI{}
	ts := httptest.NewServer(f.handler())
	t.Cleanup(ts.Close)
	return f, ts.URL
}

// --- Command tree ---

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "escrowctl", cmd.Use)

	for _, path := range [][]string{
		{"condition", "generate"}, {"condition", "derive"}, {"condition", "verify"},
		{"login"}, {"logout"},
		{"escrow", "create"}, {"escrow", "get"}, {"escrow", "finish"}, {"escrow", "cancel"}, {"escrow", "list"},
		{"decide"}, {"balance"},
	} {
		sub, _, err := cmd.Find(path)
		require.NoError(t, err, "command %v should exist", path)
		assert.Equal(t, path[len(path)-1], sub.Name())
	}

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)
}

func TestInvalidFormat(t *testing.T) {
	_, err := execute(t, "--format", "yaml", "condition", "generate")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

// --- Conditions ---

func TestConditionDerive(t *testing.T) {
	out, err := execute(t, "condition", "derive", testSecret)
	require.NoError(t, err)
	assertGolden(t, "condition_derive", out)

	out, err = execute(t, "--format", "json", "condition", "derive", testSecret)
	require.NoError(t, err)
	assertGolden(t, "condition_derive_json", out)
}

func TestConditionGenerateAndVerify(t *testing.T) {
	out, err := execute(t, "--format", "json", "condition", "generate")
	require.NoError(t, err)
	var hidden ConditionResult
	require.NoError(t, json.Unmarshal([]byte(out), &hidden))
	assert.NotEmpty(t, hidden.Condition)
	assert.Empty(t, hidden.Secret, "secret must not be printed without --reveal")
	assert.Empty(t, hidden.Fulfillment)

	out, err = execute(t, "--format", "json", "condition", "generate", "--reveal")
	require.NoError(t, err)
	var revealed ConditionResult
	require.NoError(t, json.Unmarshal([]byte(out), &revealed))
	require.NotEmpty(t, revealed.Fulfillment)

	out, err = execute(t, "condition", "verify", revealed.Condition, revealed.Fulfillment)
	require.NoError(t, err)
	assert.Equal(t, "Fulfillment satisfies condition.\n", out)

	_, err = execute(t, "condition", "verify", testCondition, revealed.Fulfillment)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	_, err = execute(t, "condition", "verify", "zz", revealed.Fulfillment)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestConditionDerive_BadSecret(t *testing.T) {
	_, err := execute(t, "condition", "derive", "ABCD")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

// --- Service commands ---

func TestLogin(t *testing.T) {
	_, url := newFakeAPI(t)

	out, err := execute(t, "--api", url, "login", "--role", "owner")
	require.NoError(t, err)
	assertGolden(t, "login", out)
}

func TestLogout(t *testing.T) {
	api, url := newFakeAPI(t)

	out, err := execute(t, "--api", url, "--token", "st_client", "logout")
	require.NoError(t, err)
	assert.Equal(t, "Session revoked.\n", out)
	assert.Equal(t, []string{"st_client"}, api.tokens)
}

func TestEscrowCreate(t *testing.T) {
	api, url := newFakeAPI(t)

	out, err := execute(t, "--api", url, "--token", "st_client", "escrow", "create", "1000")
	require.NoError(t, err)
	assertGolden(t, "escrow_create", out)
	assert.Equal(t, []string{"st_client"}, api.tokens)
}

func TestEscrowCreate_RequiresSession(t *testing.T) {
	_, url := newFakeAPI(t)

	_, err := execute(t, "--api", url, "--token", "", "escrow", "create", "1000")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "escrowctl login")
}

func TestEscrowCreate_LedgerRejection(t *testing.T) {
	_, url := newFakeAPI(t)

	_, err := execute(t, "--api", url, "--token", "st_client", "escrow", "create", "999999")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Equal(t, "create escrow: ledger rejected EscrowCreate [tecUNFUNDED] (tx BADHASH)", err.Error())
}

func TestEscrowCreate_UnconfirmedPointsAtRecord(t *testing.T) {
	_, url := newFakeAPI(t)

	_, err := execute(t, "--api", url, "--token", "st_client", "escrow", "create", "777")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "(tx LOCKHASH)")
	assert.Contains(t, err.Error(), "escrowctl escrow get "+testEscrowID)
	assert.NotContains(t, err.Error(), "rerun")
}

func TestEscrowGet(t *testing.T) {
	_, url := newFakeAPI(t)

	out, err := execute(t, "--api", url, "--token", "st_client", "escrow", "get", testEscrowID)
	require.NoError(t, err)
	assertGolden(t, "escrow_get", out)

	_, err = execute(t, "--api", url, "--token", "st_client", "escrow", "get", "missing")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "Escrow not found")
}

func TestEscrowFinish_TimeoutSuggestsRerun(t *testing.T) {
	_, url := newFakeAPI(t)

	_, err := execute(t, "--api", url, "--token", "st_client", "escrow", "finish", testEscrowID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "(tx SLOWHASH)")
	assert.Contains(t, err.Error(), "rerun the same command")
}

func TestEscrowCancel(t *testing.T) {
	_, url := newFakeAPI(t)

	out, err := execute(t, "--api", url, "--token", "st_owner", "escrow", "cancel", testEscrowID)
	require.NoError(t, err)
	assertGolden(t, "escrow_cancel", out)
}

func TestEscrowList(t *testing.T) {
	_, url := newFakeAPI(t)

	out, err := execute(t, "--api", url, "--token", "st_client", "escrow", "list")
	require.NoError(t, err)
	assertGolden(t, "escrow_list", out)

	out, err = execute(t, "--api", url, "--token", "st_client", "escrow", "list", "--limit", "0")
	require.NoError(t, err)
	assert.Equal(t, "No escrows found.\n", out)

	out, err = execute(t, "--api", url, "--token", "st_client", "--format", "json", "escrow", "list", "--limit", "0")
	require.NoError(t, err)
	assert.Equal(t, "[]\n", out)
}

func TestDecide(t *testing.T) {
	api, url := newFakeAPI(t)

	out, err := execute(t, "--api", url, "--token", "st_client", "decide", "Accepted")
	require.NoError(t, err)
	assertGolden(t, "decide_accepted", out)

	out, err = execute(t, "--api", url, "--token", "st_client", "decide", "Escalate", "to", "human")
	require.NoError(t, err)
	assert.Contains(t, out, "no ledger action")
	assert.NotContains(t, out, "Transaction:")
	assert.Equal(t, []string{"Accepted", "Escalate to human"}, api.decisions)
}

func TestBalance(t *testing.T) {
	api, url := newFakeAPI(t)

	out, err := execute(t, "--api", url, "--token", "", "balance", "--owner")
	require.NoError(t, err)
	assertGolden(t, "balance_owner", out)

	out, err = execute(t, "--api", url, "--token", "st_client", "--format", "json", "balance")
	require.NoError(t, err)
	assertGolden(t, "balance_me_json", out)
	assert.Equal(t, []string{"st_client"}, api.tokens)
}

func TestServiceUnreachable(t *testing.T) {
	_, err := execute(t, "--api", "http://127.0.0.1:1", "--token", "st_client", "balance")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
