package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"mocha-rewards/services"
	"mocha-rewards/testutil"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const (
	creator  = "0x00000000000000000000000000000000000000aa"
	minter   = "0x0000000000000000000000000000000000000abc"
	contract = "0x00000000000000000000000000000000000000c0"
)

type testServer struct {
	app      *fiber.App
	db       *gorm.DB
	verifier *services.TokenVerifier
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	db := testutil.OpenDB(t)
	hub := services.NewHub(4)
	ledger := services.NewLedger(db)
	memoryService := services.NewMemoryService(db, ledger, services.NewQRGenerator(nil), services.NewRedemptionEngine(db, hub))
	verifier := services.NewTokenVerifier("test-secret")

	app := fiber.New()
	SetupHealthRoutes(app, db)
	SetupMemoryRoutes(app, memoryService, hub, verifier)
	return &testServer{app: app, db: db, verifier: verifier}
}

func (s *testServer) do(t *testing.T, method, path, wallet, body string) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if wallet != "" {
		token, err := s.verifier.Issue(wallet, time.Hour)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	out := map[string]any{}
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp.StatusCode, out
}

func TestMemoryRoutes_RequireAuth(t *testing.T) {
	s := newTestServer(t)

	status, body := s.do(t, http.MethodGet, "/memory/user", "", "")
	require.Equal(t, http.StatusUnauthorized, status)
	require.Equal(t, "NO_TOKEN", body["code"])

	req := httptest.NewRequest(http.MethodGet, "/memory/user", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	resp, err := s.app.Test(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRedeemFlow(t *testing.T) {
	s := newTestServer(t)
	mem := testutil.SeedMemory(t, s.db, testutil.MemoryFixture{Contract: contract, Creator: creator})
	testutil.SeedToken(t, s.db, mem, 42, minter, 3)
	body := `{"minter_wallet":"0x0000000000000000000000000000000000000ABC","token_id":42,"contract_address":"` + contract + `"}`

	for i := 1; i <= 3; i++ {
		status, out := s.do(t, http.MethodPatch, "/memory/redeem", creator, body)
		require.Equal(t, http.StatusOK, status)
		require.Equal(t, true, out["success"])
		require.Equal(t, "redeemed", out["status"])
		require.EqualValues(t, i, out["redemption_count"])
		require.EqualValues(t, 3, out["max_redemptions"])
	}

	status, out := s.do(t, http.MethodPatch, "/memory/redeem", creator, body)
	require.Equal(t, http.StatusConflict, status)
	require.Equal(t, "CONFLICT", out["code"])
	require.Equal(t, "already redeemed", out["reason"])

	status, out = s.do(t, http.MethodPatch, "/memory/redeem", minter, body)
	require.Equal(t, http.StatusNotFound, status)
	require.Equal(t, "NOT_FOUND", out["code"])

	status, _ = s.do(t, http.MethodPatch, "/memory/redeem", creator, `{`)
	require.Equal(t, http.StatusBadRequest, status)
}

func TestCreateAndListMemories(t *testing.T) {
	s := newTestServer(t)

	status, out := s.do(t, http.MethodPost, "/memory", creator, `{"title":"Espresso Night","max_mints":25}`)
	require.Equal(t, http.StatusCreated, status)
	created := out["memory"].(map[string]any)
	id := created["id"].(string)
	require.EqualValues(t, 25, created["max_mints"])
	require.EqualValues(t, 0, created["current_mints"])
	require.Equal(t, "memory:"+id, created["qr_code"])

	status, _ = s.do(t, http.MethodPost, "/memory", creator, `{"description":"no title"}`)
	require.Equal(t, http.StatusBadRequest, status)

	status, out = s.do(t, http.MethodGet, "/memory/created", creator, "")
	require.Equal(t, http.StatusOK, status)
	require.Len(t, out["memories"], 1)

	status, out = s.do(t, http.MethodGet, "/memory/"+id, minter, "")
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "Espresso Night", out["title"])
	require.Nil(t, out["user_status"])

	status, _ = s.do(t, http.MethodGet, "/memory/"+id+"/minters", minter, "")
	require.Equal(t, http.StatusNotFound, status)

	status, out = s.do(t, http.MethodGet, "/memory/"+id+"/minters", creator, "")
	require.Equal(t, http.StatusOK, status)
	require.EqualValues(t, 0, out["count"])

	status, out = s.do(t, http.MethodPatch, "/memory/"+id+"/expire", creator, "")
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "expired", out["memory"].(map[string]any)["status"])

	status, _ = s.do(t, http.MethodPatch, "/memory/"+id+"/expire", creator, "")
	require.Equal(t, http.StatusConflict, status)
}

func TestTokenOwnershipAndUserMemories(t *testing.T) {
	s := newTestServer(t)
	mem := testutil.SeedMemory(t, s.db, testutil.MemoryFixture{Contract: contract, Creator: creator})
	testutil.SeedToken(t, s.db, mem, 7, minter, 2)

	status, out := s.do(t, http.MethodGet, "/memory/tokenId", minter, "")
	require.Equal(t, http.StatusOK, status)
	require.EqualValues(t, 7, out["token_id"])
	require.Equal(t, "0xseed", out["tx_hash"])
	require.EqualValues(t, 0, out["redemption_count"])
	require.EqualValues(t, 2, out["max_redemptions"])

	status, out = s.do(t, http.MethodGet, "/memory/tokenId", creator, "")
	require.Equal(t, http.StatusNotFound, status)
	require.Equal(t, "No token ID found", out["error"])

	status, out = s.do(t, http.MethodGet, "/memory/user", minter, "")
	require.Equal(t, http.StatusOK, status)
	owned := out["memories"].([]any)
	require.Len(t, owned, 1)
	require.EqualValues(t, 7, owned[0].(map[string]any)["token_id"])
}

func TestRealtimeRoutes_RejectWithoutToken(t *testing.T) {
	s := newTestServer(t)

	status, out := s.do(t, http.MethodGet, "/memory/events/stream", "", "")
	require.Equal(t, http.StatusUnauthorized, status)
	require.Equal(t, "NO_TOKEN", out["code"])

	status, _ = s.do(t, http.MethodGet, "/ws", "", "")
	require.Equal(t, http.StatusUpgradeRequired, status)
}

func TestHealthRoutes(t *testing.T) {
	s := newTestServer(t)

	status, out := s.do(t, http.MethodGet, "/healthz", "", "")
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "ok", out["status"])

	status, out = s.do(t, http.MethodGet, "/readyz", "", "")
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "ready", out["status"])
}
