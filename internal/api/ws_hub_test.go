package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetshare/finance-engine/internal/model"
)

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestWSHub_FiltersByAircraft(t *testing.T) {
	hub := NewWSHub()
	go hub.Run()
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	abc := dial(t, srv, "?aircraft_id=PR-ABC")
	all := dial(t, srv, "")

	require.Eventually(t, func() bool {
		hub.mu.RLock()
		defer hub.mu.RUnlock()
		return len(hub.subs) == 2
	}, time.Second, 10*time.Millisecond)

	r := model.MarginReserve{AircraftID: "PR-XYZ", CurrentBalance: decimal.NewFromInt(1000), RequiredMinimum: decimal.NewFromInt(200000)}
	hub.ReserveChanged(r, model.ReserveMovement{Type: model.MovementContribution, Amount: decimal.NewFromInt(1000), Sequence: 1}, model.ReserveLiquidityRisk)
	r.AircraftID = "PR-ABC"
	hub.ReserveChanged(r, model.ReserveMovement{Type: model.MovementContribution, Amount: decimal.NewFromInt(1000), Sequence: 1}, model.ReserveLiquidityRisk)

	var msg WSMessage
	all.SetReadDeadline(time.Now().Add(time.Second))
	require.NoError(t, all.ReadJSON(&msg))
	assert.Equal(t, "PR-XYZ", msg.AircraftID)
	require.NoError(t, all.ReadJSON(&msg))
	assert.Equal(t, "PR-ABC", msg.AircraftID)

	abc.SetReadDeadline(time.Now().Add(time.Second))
	require.NoError(t, abc.ReadJSON(&msg))
	assert.Equal(t, "PR-ABC", msg.AircraftID)
	assert.Equal(t, "reserve_movement", msg.Type)
	assert.Equal(t, string(model.ReserveLiquidityRisk), msg.Status)
}
