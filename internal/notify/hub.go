package notify

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"storefront/register/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	clientBuffer   = 16
	broadcastQueue = 64
)

// Hub pushes notices to register screens over websockets. Each connection
// belongs to one register session and only receives that session's notices;
// notices without a session go to everyone.
type Hub struct {
	upgrader websocket.Upgrader
	logger   *zap.Logger

	broadcast  chan domain.Notice
	register   chan *client
	unregister chan *client
	done       chan struct{}

	mu      sync.Mutex
	clients map[string]map[*client]struct{}
}

type client struct {
	sessionID string
	conn      *websocket.Conn
	send      chan domain.Notice
}

func NewHub(allowedOrigin string, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	allowedOrigin = strings.TrimSpace(allowedOrigin)
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || allowedOrigin == "*" || origin == allowedOrigin
			},
		},
		logger:     logger,
		broadcast:  make(chan domain.Notice, broadcastQueue),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
		clients:    make(map[string]map[*client]struct{}),
	}
}

// Run dispatches registrations and notices until ctx is done, then closes
// every open connection.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for sessionID, set := range h.clients {
				for c := range set {
					close(c.send)
				}
				delete(h.clients, sessionID)
			}
			h.mu.Unlock()
			return

		case c := <-h.register:
			h.mu.Lock()
			if h.clients[c.sessionID] == nil {
				h.clients[c.sessionID] = make(map[*client]struct{})
			}
			h.clients[c.sessionID][c] = struct{}{}
			h.mu.Unlock()

		case c := <-h.unregister:
			h.mu.Lock()
			h.dropLocked(c)
			h.mu.Unlock()

		case n := <-h.broadcast:
			h.mu.Lock()
			for sessionID, set := range h.clients {
				if n.SessionID != "" && n.SessionID != sessionID {
					continue
				}
				for c := range set {
					select {
					case c.send <- n:
					default:
						h.logger.Warn("notice client too slow, dropping", zap.String("session", sessionID))
						h.dropLocked(c)
					}
				}
			}
			h.mu.Unlock()
		}
	}
}

func (h *Hub) dropLocked(c *client) {
	set, ok := h.clients[c.sessionID]
	if !ok {
		return
	}
	if _, ok := set[c]; !ok {
		return
	}
	delete(set, c)
	close(c.send)
	if len(set) == 0 {
		delete(h.clients, c.sessionID)
	}
}

// Notify queues n for delivery. When the queue is full the notice is dropped.
func (h *Hub) Notify(n domain.Notice) {
	select {
	case h.broadcast <- n:
	default:
		h.logger.Warn("notice queue full, dropping", zap.String("title", n.Title))
	}
}

// Clients reports how many connections are subscribed to a session.
func (h *Hub) Clients(sessionID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients[sessionID])
}

// Serve upgrades the request and streams notices for sessionID until the
// connection closes. Hub.Run must be running.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, sessionID string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &client{sessionID: sessionID, conn: conn, send: make(chan domain.Notice, clientBuffer)}
	select {
	case h.register <- c:
	case <-h.done:
		_ = conn.Close()
		return
	case <-r.Context().Done():
		_ = conn.Close()
		return
	}

	go h.writePump(c)
	h.readPump(c)
}

// readPump only watches for the peer going away; register screens never send.
func (h *Hub) readPump(c *client) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.done:
		}
	}()
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case n, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(n); err != nil {
				h.logger.Debug("notice write failed", zap.String("session", c.sessionID), zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
