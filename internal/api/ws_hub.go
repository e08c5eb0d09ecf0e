package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fleetshare/finance-engine/internal/metrics"
	"github.com/fleetshare/finance-engine/internal/model"
	"github.com/fleetshare/finance-engine/internal/reserve"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	writeWait  = 5 * time.Second
)

// WSMessage is a reserve event pushed to subscribers.
type WSMessage struct {
	Type            string `json:"type"` // reserve_movement | reserve_alert
	AircraftID      string `json:"aircraft_id"`
	Status          string `json:"status"`
	Balance         string `json:"balance"`
	RequiredMinimum string `json:"required_minimum"`
	MovementType    string `json:"movement_type,omitempty"`
	Amount          string `json:"amount,omitempty"`
	Sequence        int64  `json:"sequence,omitempty"`
}

// subscriber is one connection and the aircraft it follows ("" = all).
type subscriber struct {
	conn       *websocket.Conn
	aircraftID string
}

type event struct {
	aircraftID string
	data       []byte
}

// WSHub fans reserve events out to websocket subscribers. A client picks
// an aircraft with ?aircraft_id=; without it every event is delivered.
type WSHub struct {
	subs       map[*websocket.Conn]subscriber
	events     chan event
	register   chan subscriber
	unregister chan *websocket.Conn
	mu         sync.RWMutex
}

// NewWSHub creates a hub. Run must be started before clients connect.
func NewWSHub() *WSHub {
	return &WSHub{
		subs:       make(map[*websocket.Conn]subscriber),
		events:     make(chan event, 256),
		register:   make(chan subscriber),
		unregister: make(chan *websocket.Conn),
	}
}

// Run is the hub's event loop.
func (h *WSHub) Run() {
	for {
		select {
		case s := <-h.register:
			h.mu.Lock()
			h.subs[s.conn] = s
			n := len(h.subs)
			h.mu.Unlock()
			metrics.WebSocketClients.Set(float64(n))
			slog.Info("ws client subscribed", "aircraft", s.aircraftID, "total", n)

		case conn := <-h.unregister:
			h.drop(conn)

		case ev := <-h.events:
			h.mu.RLock()
			var failed []*websocket.Conn
			for conn, s := range h.subs {
				if s.aircraftID != "" && s.aircraftID != ev.aircraftID {
					continue
				}
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.TextMessage, ev.data); err != nil {
					failed = append(failed, conn)
				}
			}
			h.mu.RUnlock()
			for _, conn := range failed {
				h.drop(conn)
			}
		}
	}
}

func (h *WSHub) drop(conn *websocket.Conn) {
	h.mu.Lock()
	if _, ok := h.subs[conn]; ok {
		delete(h.subs, conn)
		conn.Close()
	}
	n := len(h.subs)
	h.mu.Unlock()
	metrics.WebSocketClients.Set(float64(n))
}

func (h *WSHub) subscribed(conn *websocket.Conn) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.subs[conn]
	return ok
}

// publish queues msg without blocking; events are dropped when the queue
// is full so a movement never waits on a slow client.
func (h *WSHub) publish(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case h.events <- event{aircraftID: msg.AircraftID, data: data}:
	default:
		slog.Warn("ws event dropped", "type", msg.Type, "aircraft", msg.AircraftID)
	}
}

// ReserveChanged publishes an applied movement.
func (h *WSHub) ReserveChanged(r model.MarginReserve, m model.ReserveMovement, status model.ReserveStatus) {
	h.publish(WSMessage{
		Type:            "reserve_movement",
		AircraftID:      r.AircraftID,
		Status:          string(status),
		Balance:         r.CurrentBalance.String(),
		RequiredMinimum: r.RequiredMinimum.String(),
		MovementType:    string(m.Type),
		Amount:          m.Amount.String(),
		Sequence:        m.Sequence,
	})
}

// ReserveAtRisk publishes a liquidity alert.
func (h *WSHub) ReserveAtRisk(s reserve.Snapshot) {
	h.publish(WSMessage{
		Type:            "reserve_alert",
		AircraftID:      s.AircraftID,
		Status:          string(s.Status),
		Balance:         s.CurrentBalance.String(),
		RequiredMinimum: s.RequiredMinimum.String(),
	})
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// HandleWS upgrades GET /api/v1/ws[?aircraft_id=...].
func (h *WSHub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("ws upgrade failed", "err", err)
		return
	}
	h.register <- subscriber{conn: conn, aircraftID: r.URL.Query().Get("aircraft_id")}

	// Clients only send pongs; reads detect disconnects.
	go func() {
		defer func() { h.unregister <- conn }()
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for range ticker.C {
			if !h.subscribed(conn) {
				return
			}
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}()
}
