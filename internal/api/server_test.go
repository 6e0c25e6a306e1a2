package api

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tycoon/internal/config"
	"tycoon/internal/game"
	"tycoon/internal/save"
)

func newTestServer(t *testing.T, store save.Store) *httptest.Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc, err := game.NewService(game.Options{
		Balance:   config.DefaultBalance(),
		Seed:      7,
		TickEvery: time.Hour,
		Store:     store,
		Logger:    logger,
	})
	require.NoError(t, err)
	srv, err := New(logger, svc)
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.Close()
		ts.Close()
		svc.Stop()
	})
	return ts
}

func do(t *testing.T, ts *httptest.Server, method, path, body string, headers ...string) (int, map[string]any) {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = bytes.NewBufferString(body)
	}
	req, err := http.NewRequest(method, ts.URL+path, rd)
	require.NoError(t, err)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := map[string]any{}
	if len(bytes.TrimSpace(raw)) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp.StatusCode, out
}

func TestHealthAndClock(t *testing.T) {
	ts := newTestServer(t, nil)
	status, body := do(t, ts, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["ok"])

	status, body = do(t, ts, http.MethodPost, "/v1/clock/advance", `{"ticks": 12}`)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(12), body["tick"])
	assert.Equal(t, "stopped", body["state"])

	status, _ = do(t, ts, http.MethodPost, "/v1/clock/advance", `{"ticks": -3}`)
	assert.Equal(t, http.StatusBadRequest, status)
	status, _ = do(t, ts, http.MethodPost, "/v1/clock/advance", `{"ticks": 1, "extra": true}`)
	assert.Equal(t, http.StatusBadRequest, status)

	status, body = do(t, ts, http.MethodPost, "/v1/clock/pause", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["paused"])

	status, body = do(t, ts, http.MethodPost, "/v1/clock/catch-up", `{"elapsed": "10h"}`)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(10), body["ticks"])
	status, _ = do(t, ts, http.MethodPost, "/v1/clock/catch-up", `{"elapsed": "soon"}`)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestAssetsAndOrders(t *testing.T) {
	ts := newTestServer(t, nil)
	status, body := do(t, ts, http.MethodGet, "/v1/assets", "")
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["assets"], 5)

	status, body = do(t, ts, http.MethodGet, "/v1/assets/cobolt", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "COBOLT", body["id"])
	assert.Equal(t, "130", body["price"])

	status, _ = do(t, ts, http.MethodGet, "/v1/assets/ZZZZ", "")
	assert.Equal(t, http.StatusNotFound, status)
	status, _ = do(t, ts, http.MethodGet, "/v1/assets/a", "")
	assert.Equal(t, http.StatusBadRequest, status)

	order := `{"asset_id": "COBOLT", "side": "buy", "amount": "10"}`
	status, body = do(t, ts, http.MethodPost, "/v1/orders", order, "Idempotency-Key", "order-1")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "1300", body["notional"])
	assert.Equal(t, "23700", body["cash"])

	status, _ = do(t, ts, http.MethodPost, "/v1/orders", order, "Idempotency-Key", "order-1")
	assert.Equal(t, http.StatusConflict, status)

	status, _ = do(t, ts, http.MethodPost, "/v1/orders", `{"asset_id": "BITCRN", "side": "buy", "amount": "1000"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	status, _ = do(t, ts, http.MethodPost, "/v1/orders", `{"asset_id": "COBOLT", "side": "hold", "amount": "1"}`)
	assert.Equal(t, http.StatusBadRequest, status)

	status, body = do(t, ts, http.MethodGet, "/v1/portfolio", "")
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["positions"], 1)
	assert.Equal(t, "25000", body["net_worth"])
}

func TestMultipliersAndPrestige(t *testing.T) {
	ts := newTestServer(t, nil)
	status, body := do(t, ts, http.MethodPost, "/v1/contributions",
		`{"source": "skill_tree", "kind": "skill", "category": "stock_returns", "value": "0.1"}`)
	require.Equal(t, http.StatusCreated, status)
	id, _ := body["id"].(string)
	require.NotEmpty(t, id)
	assert.Equal(t, "1.1", body["multiplier"])

	status, body = do(t, ts, http.MethodGet, "/v1/multipliers/stock_returns", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "1.1", body["value"])
	assert.Len(t, body["breakdown"], 1)

	status, _ = do(t, ts, http.MethodGet, "/v1/multipliers/nope", "")
	assert.Equal(t, http.StatusNotFound, status)
	status, _ = do(t, ts, http.MethodPost, "/v1/contributions",
		`{"source": "x", "kind": "skill", "category": "nope", "value": "1"}`)
	assert.Equal(t, http.StatusNotFound, status)

	status, body = do(t, ts, http.MethodPost, "/v1/prestige/reset", `{"points": "100"}`)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "100", body["points"])
	assert.Equal(t, float64(1), body["cleared"])
	assert.Equal(t, "1.03", body["all_income_multiplier"])

	status, _ = do(t, ts, http.MethodDelete, "/v1/contributions/"+id, "")
	assert.Equal(t, http.StatusNotFound, status, "the skill was cleared by prestige")

	status, _ = do(t, ts, http.MethodPost, "/v1/prestige/reset", `{"points": "-1"}`)
	assert.Equal(t, http.StatusBadRequest, status)

	status, body = do(t, ts, http.MethodPost, "/v1/reset", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(0), body["tick"])
	_, body = do(t, ts, http.MethodGet, "/v1/prestige", "")
	assert.Equal(t, "0", body["points"])
}

func TestInvalidContributionIsClientError(t *testing.T) {
	ts := newTestServer(t, nil)
	status, body := do(t, ts, http.MethodPost, "/v1/contributions",
		`{"kind": "skill", "category": "all_income", "value": "0.1"}`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, body["error"], "source is required")

	status, _ = do(t, ts, http.MethodPost, "/v1/contributions",
		`{"source": "event:crash", "kind": "event", "category": "all_income", "value": "-1.5"}`)
	assert.Equal(t, http.StatusBadRequest, status)

	status, body = do(t, ts, http.MethodGet, "/v1/multipliers/all_income", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "1", body["value"])
}

func TestSavesRoundTrip(t *testing.T) {
	noStore := newTestServer(t, nil)
	status, _ := do(t, noStore, http.MethodPost, "/v1/saves/main", "")
	assert.Equal(t, http.StatusServiceUnavailable, status)

	store, err := save.NewFileStore(t.TempDir())
	require.NoError(t, err)
	ts := newTestServer(t, store)

	_, _ = do(t, ts, http.MethodPost, "/v1/clock/advance", `{"ticks": 20}`)
	status, body := do(t, ts, http.MethodPost, "/v1/saves/main", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(20), body["tick"])

	_, _ = do(t, ts, http.MethodPost, "/v1/clock/advance", `{"ticks": 5}`)
	status, body = do(t, ts, http.MethodPost, "/v1/saves/main/load", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(20), body["tick"])

	status, body = do(t, ts, http.MethodGet, "/v1/saves", "")
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["saves"], 1)

	status, _ = do(t, ts, http.MethodPost, "/v1/saves/Bad%20Slot", "")
	assert.Equal(t, http.StatusBadRequest, status)
	status, _ = do(t, ts, http.MethodPost, "/v1/saves/other/load", "")
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = do(t, ts, http.MethodDelete, "/v1/saves/main", "")
	assert.Equal(t, http.StatusNoContent, status)
}

func TestStreamDeliversTicks(t *testing.T) {
	ts := newTestServer(t, nil)
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var frame struct {
		Tick   uint64 `json:"tick"`
		Manual bool   `json:"manual"`
		Quotes []struct {
			ID string `json:"id"`
		} `json:"quotes"`
	}
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &frame))
	assert.Equal(t, uint64(0), frame.Tick)
	assert.Len(t, frame.Quotes, 5)

	status, _ := do(t, ts, http.MethodPost, "/v1/clock/advance", `{"ticks": 2}`)
	require.Equal(t, http.StatusOK, status)
	for want := uint64(1); want <= 2; want++ {
		_, raw, err = conn.ReadMessage()
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(raw, &frame))
		assert.Equal(t, want, frame.Tick)
		assert.True(t, frame.Manual)
	}
}
