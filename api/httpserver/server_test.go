package httpserver

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"baldr/infra/outbox"
	"baldr/infra/wal"
	"baldr/service"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	dir := t.TempDir()

	w, err := wal.Open(wal.Config{Dir: filepath.Join(dir, "wal")})
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })

	box, err := outbox.Open(filepath.Join(dir, "outbox"))
	require.NoError(t, err)
	t.Cleanup(func() { box.Close() })

	dist := service.NewDistributor(zerolog.Nop())
	engine := service.NewEngine(service.Config{MaxDepthLevels: 50}, zerolog.Nop(), w, box, dist)
	require.NoError(t, engine.Recover(filepath.Join(dir, "snap")))

	return New(zerolog.Nop(), engine, dist)
}

func doJSON(t *testing.T, s *Server, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func authenticate(t *testing.T, s *Server, user uuid.UUID) string {
	t.Helper()
	rec := doJSON(t, s, "POST", "/api/v1/auth", "", AuthRequest{User: user.String()})
	require.Equal(t, http.StatusOK, rec.Code)
	var resp AuthResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp.Token
}

func TestAuthRequired(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, "POST", "/api/v1/orders", "", OrderRequest{
		Symbol: "BTCUSD", Side: "buy", Price: "100", Quantity: 1,
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "notAuthenticated", resp.Error)
}

func TestSubmitCancelFlow(t *testing.T) {
	s := newTestServer(t)
	token := authenticate(t, s, uuid.New())

	rec := doJSON(t, s, "POST", "/api/v1/orders", token, OrderRequest{
		Symbol: "BTCUSD", Side: "buy", Price: "100.25", Quantity: 5,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var submitted SubmitResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&submitted))
	assert.Equal(t, "100.25", submitted.Order.Price)
	assert.EqualValues(t, 5, submitted.Order.Remaining)
	assert.Empty(t, submitted.Executions)

	rec = doJSON(t, s, "GET", "/api/v1/orders", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var open []OrderInfo
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&open))
	require.Len(t, open, 1)

	rec = doJSON(t, s, "POST", "/api/v1/orders/cancel", token, CancelRequest{OrderID: submitted.Order.ID})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, "POST", "/api/v1/orders/cancel", token, CancelRequest{OrderID: submitted.Order.ID})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSubmitRejectsBadInput(t *testing.T) {
	s := newTestServer(t)
	token := authenticate(t, s, uuid.New())

	cases := []OrderRequest{
		{Symbol: "BTCUSD", Side: "hold", Price: "100", Quantity: 1},
		{Symbol: "BTCUSD", Side: "buy", Price: "100.00001", Quantity: 1},
		{Symbol: "BTCUSD", Side: "buy", Price: "-5", Quantity: 1},
		{Symbol: "", Side: "buy", Price: "100", Quantity: 1},
		{Symbol: "BTCUSD", Side: "buy", Price: "100", Quantity: 0},
	}
	for _, c := range cases {
		rec := doJSON(t, s, "POST", "/api/v1/orders", token, c)
		assert.Equalf(t, http.StatusBadRequest, rec.Code, "request %+v", c)
	}
}

func TestOrderbookDepthEndpoint(t *testing.T) {
	s := newTestServer(t)
	token := authenticate(t, s, uuid.New())

	for _, req := range []OrderRequest{
		{Symbol: "BTCUSD", Side: "buy", Price: "100", Quantity: 2},
		{Symbol: "BTCUSD", Side: "buy", Price: "100", Quantity: 3},
		{Symbol: "BTCUSD", Side: "sell", Price: "101", Quantity: 4},
	} {
		rec := doJSON(t, s, "POST", "/api/v1/orders", token, req)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := doJSON(t, s, "GET", "/api/v1/orderbook/BTCUSD?depth=5", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var snap OrderbookSnapshot
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&snap))
	require.Len(t, snap.Bids, 1)
	require.Len(t, snap.Asks, 1)
	assert.Equal(t, "100", snap.Bids[0].Price)
	assert.EqualValues(t, 5, snap.Bids[0].Quantity)
	assert.Equal(t, "101", snap.Asks[0].Price)
}

func TestWebSocketExecutionFeed(t *testing.T) {
	s := newTestServer(t)
	buyer, seller := uuid.New(), uuid.New()
	buyerToken := authenticate(t, s, buyer)
	sellerToken := authenticate(t, s, seller)

	ts := httptest.NewServer(s.router)
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?token=" + buyerToken
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	// Second feed for the same user is refused.
	conn2, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	conn2.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn2.ReadMessage()
	require.NoError(t, err)
	var errResp ErrorResponse
	require.NoError(t, json.Unmarshal(msg, &errResp))
	assert.Equal(t, "alreadySubscribed", errResp.Error)
	conn2.Close()

	rec := doJSON(t, s, "POST", "/api/v1/orders", sellerToken, OrderRequest{
		Symbol: "BTCUSD", Side: "sell", Price: "100", Quantity: 5,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = doJSON(t, s, "POST", "/api/v1/orders", buyerToken, OrderRequest{
		Symbol: "BTCUSD", Side: "buy", Price: "100", Quantity: 5,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err = conn.ReadMessage()
	require.NoError(t, err)

	var event WSEvent
	require.NoError(t, json.Unmarshal(msg, &event))
	assert.Equal(t, "execution", event.Type)
	assert.Equal(t, "buy", event.Data.Side)
	assert.Equal(t, "100", event.Data.Price)
	assert.EqualValues(t, 5, event.Data.Quantity)
}
