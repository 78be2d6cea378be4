// Package ws is the duplex push transport. Each browser keeps one
// websocket open; the hub tracks live connections, feeds lifecycle
// signals into the session registry, and implements the Push side of
// the notification fan-out.
package ws

import (
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"secure-file-share/internal/notify"
	"secure-file-share/internal/session"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// sendQueueSize bounds the per-connection outbound queue. A full
	// queue means a slow consumer; frames are dropped rather than
	// letting one connection stall the fan-out.
	sendQueueSize = 32

	maxMessageSize = 4096
)

var errUnknownConnection = errors.New("ws: unknown connection")

// frame is one outbound event message.
type frame struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// inbound is the superset of client message shapes; Type selects which
// fields are meaningful.
type inbound struct {
	Type       string `json:"type"`
	Token      string `json:"token"`
	FileID     string `json:"fileId"`
	FileName   string `json:"fileName"`
	Size       int64  `json:"size"`
	UploadedBy string `json:"uploadedBy"`
	SharedBy   string `json:"sharedBy"`
	SharedWith string `json:"sharedWith"`
}

// Announcer is the slice of the notifier the transport needs for
// client-originated events.
type Announcer interface {
	Announce(event notify.Event, exclude string)
}

type client struct {
	id   string
	sock *websocket.Conn
	send chan frame
	done chan struct{}
}

// Hub owns the live connection table and serves /ws.
type Hub struct {
	registry  *session.Registry
	announcer Announcer
	upgrader  websocket.Upgrader

	mu      sync.RWMutex
	clients map[string]*client
}

func NewHub(registry *session.Registry) *Hub {
	return &Hub{
		registry: registry,
		clients:  make(map[string]*client),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Browsers send Origin; same-origin is enforced upstream
			// by the deployment, so accept here.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// SetAnnouncer wires the notifier in after construction; the notifier
// itself pushes through this hub, so the two reference each other.
func (h *Hub) SetAnnouncer(a Announcer) {
	h.announcer = a
}

// Push delivers one event frame to one connection. Never blocks: a
// full send queue or a gone connection returns an error for the
// notifier to log.
func (h *Hub) Push(connID, event string, payload any) error {
	h.mu.RLock()
	c, ok := h.clients[connID]
	h.mu.RUnlock()
	if !ok {
		return errUnknownConnection
	}
	select {
	case c.send <- frame{Event: event, Data: payload}:
		return nil
	default:
		return errors.New("ws: send queue full, frame dropped")
	}
}

// Handler upgrades GET /ws and runs the connection until it closes.
func (h *Hub) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sock, err := h.upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade already wrote the error response.
			log.Printf("ws: upgrade failed err=%v", err)
			return
		}

		c := &client{
			id:   uuid.NewString(),
			sock: sock,
			send: make(chan frame, sendQueueSize),
			done: make(chan struct{}),
		}

		h.mu.Lock()
		h.clients[c.id] = c
		h.mu.Unlock()
		h.registry.OnConnect(c.id)
		log.Printf("ws: connected conn=%s", c.id)

		go c.writePump()
		h.readPump(c)
	})
}

// readPump consumes client messages until the connection drops, then
// tears the connection down. Runs on the handler goroutine.
func (h *Hub) readPump(c *client) {
	defer h.drop(c)

	c.sock.SetReadLimit(maxMessageSize)
	_ = c.sock.SetReadDeadline(time.Now().Add(pongWait))
	c.sock.SetPongHandler(func(string) error {
		return c.sock.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg inbound
		if err := c.sock.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("ws: read error conn=%s err=%v", c.id, err)
			}
			return
		}
		h.handleMessage(c, msg)
	}
}

func (h *Hub) handleMessage(c *client, msg inbound) {
	switch msg.Type {
	case "authenticate":
		id, err := h.registry.OnAuthenticate(c.id, msg.Token)
		if err != nil {
			log.Printf("ws: authenticate failed conn=%s err=%v", c.id, err)
			_ = h.Push(c.id, "authentication_failed", map[string]string{"error": "invalid credential"})
			return
		}
		log.Printf("ws: authenticated conn=%s user=%s", c.id, id.UserID)
		_ = h.Push(c.id, "authentication_success", map[string]string{"user_id": id.UserID})

	case "start_upload":
		if _, ok := h.registry.IdentityOf(c.id); ok {
			log.Printf("ws: upload started conn=%s file=%q", c.id, msg.FileName)
		}

	case "file_uploaded":
		id, ok := h.registry.IdentityOf(c.id)
		if !ok || h.announcer == nil {
			return
		}
		uploadedBy := msg.UploadedBy
		if uploadedBy == "" {
			uploadedBy = id.DisplayName
		}
		h.announcer.Announce(notify.UploadActivity{
			FileName:   msg.FileName,
			Size:       msg.Size,
			UploadedBy: uploadedBy,
		}, c.id)

	case "share_file":
		id, ok := h.registry.IdentityOf(c.id)
		if !ok || h.announcer == nil {
			return
		}
		sharedBy := msg.SharedBy
		if sharedBy == "" {
			sharedBy = id.DisplayName
		}
		h.announcer.Announce(notify.ShareNotice{
			FileID:         msg.FileID,
			FileName:       msg.FileName,
			SharedBy:       sharedBy,
			RecipientEmail: msg.SharedWith,
		}, c.id)

	default:
		log.Printf("ws: unknown message type=%q conn=%s", msg.Type, c.id)
	}
}

// drop removes the connection from the hub and registry. Safe to call
// once per connection; duplicate disconnect signals are absorbed by
// the registry.
func (h *Hub) drop(c *client) {
	h.mu.Lock()
	delete(h.clients, c.id)
	h.mu.Unlock()

	h.registry.OnDisconnect(c.id)
	close(c.done)
	_ = c.sock.Close()
	log.Printf("ws: disconnected conn=%s", c.id)
}

// writePump serializes all writes to the socket: queued frames plus
// keepalive pings.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case f := <-c.send:
			_ = c.sock.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.sock.WriteJSON(f); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.sock.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.sock.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// Len reports the number of open websocket connections.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
