// Package realtime streams gateway events to WebSocket subscribers.
package realtime

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/sableline/wagate/internal/event"
	"github.com/sableline/wagate/internal/session"
)

// RoomGlobal receives every event regardless of session.
const RoomGlobal = "global"

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// frame is the wire format pushed to subscribers.
type frame struct {
	Kind      string `json:"kind"`
	SessionID string `json:"session_id,omitempty"`
	Payload   any    `json:"payload,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

// Lister supplies the session snapshot sent to a client when it joins.
type Lister interface {
	List() []session.Info
}

// Hub fans gateway events out to WebSocket clients grouped into rooms: one
// room per session id plus a global room that observes everything. A joining
// client first receives a snapshot of the live sessions; there is no event
// replay beyond that.
type Hub struct {
	logger *slog.Logger
	lister Lister

	mu     sync.RWMutex
	rooms  map[string]map[*client]struct{}
	closed bool

	cancel func()
}

func NewHub(log *slog.Logger, lister Lister) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		logger: log.With(slog.String("component", "realtime")),
		lister: lister,
		rooms:  make(map[string]map[*client]struct{}),
	}
}

// Attach subscribes the hub to the bus.
func (h *Hub) Attach(bus *event.Bus) {
	h.cancel = bus.Subscribe(h.broadcast)
}

// Close detaches from the bus and disconnects every client.
func (h *Hub) Close() {
	if h.cancel != nil {
		h.cancel()
	}
	h.mu.Lock()
	h.closed = true
	for _, room := range h.rooms {
		for c := range room {
			close(c.send)
		}
	}
	h.rooms = make(map[string]map[*client]struct{})
	h.mu.Unlock()
}

// Serve upgrades the request and attaches the connection to room until the
// peer disconnects.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, room string) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	c := &client{
		hub:  h,
		room: room,
		conn: conn,
		send: make(chan []byte, clientBuffer),
	}

	// Joining clients get a snapshot of the live sessions, never a replay
	// of past events.
	var snapshot []byte
	if h.lister != nil {
		data, err := json.Marshal(frame{Kind: "sessions", Payload: h.lister.List()})
		if err != nil {
			h.logger.Error("snapshot marshal failed", slog.Any("error", err))
		} else {
			snapshot = data
		}
	}

	// The snapshot is queued under the same lock that registers the client,
	// so a concurrent Close cannot close the send channel in between.
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return nil
	}
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[*client]struct{})
	}
	h.rooms[room][c] = struct{}{}
	if snapshot != nil {
		c.push(snapshot)
	}
	h.mu.Unlock()

	h.logger.Info("client joined", slog.String("room", room))
	go c.writePump()
	c.readPump()
	return nil
}

func (h *Hub) detach(c *client) {
	h.mu.Lock()
	if room, ok := h.rooms[c.room]; ok {
		if _, ok := room[c]; ok {
			delete(room, c)
			close(c.send)
			if len(room) == 0 {
				delete(h.rooms, c.room)
			}
		}
	}
	h.mu.Unlock()
}

func (h *Hub) broadcast(ev event.Event) {
	data, err := json.Marshal(frame{
		Kind:      string(ev.Kind),
		SessionID: ev.SessionID,
		Payload:   ev.Payload,
		Timestamp: ev.Timestamp.Format("2006-01-02T15:04:05.000Z07:00"),
	})
	if err != nil {
		h.logger.Error("event marshal failed", slog.Any("error", err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.rooms[RoomGlobal] {
		c.push(data)
	}
	if ev.SessionID != "" {
		for c := range h.rooms[ev.SessionID] {
			c.push(data)
		}
	}
}
