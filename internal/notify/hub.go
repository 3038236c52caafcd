// Package notify fans instance events out to admin browsers over
// websockets and to operators over email.
package notify

import (
	"net/http"
	"sync"

	"github.com/asaskevich/EventBus"
	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Bus topics.
const (
	// TopicClientUpdate carries Update values on every status change.
	TopicClientUpdate = "client.update"
	// TopicClientEvent carries lifecycle Event values for the mailer.
	TopicClientEvent = "client.event"
)

// Update is the payload pushed to admin dashboards.
type Update struct {
	ClientID  int64  `json:"clientId,string"`
	Status    string `json:"status"`
	Connected bool   `json:"connected"`
	Phone     string `json:"phone,omitempty"`
	QRCode    string `json:"qrcode,omitempty"`
}

// Event lifecycle kinds.
const (
	EventCreated      = "created"
	EventConnected    = "connected"
	EventDisconnected = "disconnected"
	EventDeleted      = "deleted"
	EventQRGenerated  = "qr_generated"
	EventPaused       = "paused"
	EventResumed      = "reactivated"
	EventPausedAll    = "paused_all"
	EventResumedAll   = "reactivated_all"
	EventRestarted    = "restarted"
)

// Event is a coarse lifecycle notification.
type Event struct {
	Kind       string
	ClientID   int64
	ClientName string
	Email      string
	Phone      string
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub broadcasts Update payloads to every connected websocket.
type Hub struct {
	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
}

func NewHub(bus EventBus.Bus) *Hub {
	h := &Hub{conns: make(map[*websocket.Conn]struct{})}
	if bus != nil {
		_ = bus.Subscribe(TopicClientUpdate, h.Broadcast)
	}
	return h
}

// Serve upgrades the request and keeps the connection until the peer
// goes away. Inbound frames are drained and discarded.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	h.mu.Lock()
	h.conns[conn] = struct{}{}
	h.mu.Unlock()

	go func() {
		defer h.drop(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
	return nil
}

func (h *Hub) drop(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.conns, conn)
	h.mu.Unlock()
	_ = conn.Close()
}

// Broadcast sends the update to every peer, dropping the ones that
// fail to write.
func (h *Hub) Broadcast(update Update) {
	payload, err := json.Marshal(update)
	if err != nil {
		zap.L().Error("notify marshal failed", zap.Error(err))
		return
	}
	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		if err := c.WriteMessage(websocket.TextMessage, payload); err != nil {
			h.drop(c)
		}
	}
}

func (h *Hub) Peers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}
