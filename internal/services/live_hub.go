package services

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/adedejiosvaldo/safetour/backend/internal/logger"
	"github.com/adedejiosvaldo/safetour/backend/internal/metrics"
)

const (
	liveWriteWait  = 10 * time.Second
	livePongWait   = 60 * time.Second
	livePingPeriod = livePongWait * 9 / 10
	liveSendBuffer = 64
	liveReadLimit  = 512
)

// Broadcaster pushes emergency updates to connected dashboards.
type Broadcaster interface {
	Broadcast(u EmergencyUpdate)
}

type liveClient struct {
	id      string
	officer uuid.UUID
	conn    *websocket.Conn
	send    chan []byte
	hub     *LiveHub
}

// LiveHub fans emergency updates out to police dashboard websockets.
type LiveHub struct {
	upgrader   websocket.Upgrader
	register   chan *liveClient
	unregister chan *liveClient
	broadcast  chan []byte
	done       chan struct{}

	mu      sync.RWMutex
	clients map[*liveClient]struct{}

	metrics *metrics.Metrics
	log     *zap.Logger
}

func NewLiveHub(m *metrics.Metrics) *LiveHub {
	return &LiveHub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// callers are authenticated before the upgrade
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		register:   make(chan *liveClient),
		unregister: make(chan *liveClient),
		broadcast:  make(chan []byte, 256),
		done:       make(chan struct{}),
		clients:    make(map[*liveClient]struct{}),
		metrics:    m,
		log:        logger.Named("live"),
	}
}

// Run owns client registration until ctx is done, then closes every client.
func (h *LiveHub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			h.metrics.SetLiveConnections(0)
			return
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			h.metrics.SetLiveConnections(n)
			h.log.Info("dashboard connected", zap.String("conn_id", c.id), zap.String("officer_id", c.officer.String()))
		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.metrics.SetLiveConnections(n)
		case msg := <-h.broadcast:
			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					// slow consumer
					delete(h.clients, c)
					close(c.send)
					h.log.Warn("dropping slow dashboard", zap.String("conn_id", c.id))
				}
			}
			h.mu.Unlock()
		}
	}
}

func (h *LiveHub) Broadcast(u EmergencyUpdate) {
	data, err := json.Marshal(u)
	if err != nil {
		h.log.Error("encode live update", zap.Error(err))
		return
	}
	select {
	case h.broadcast <- data:
	default:
		h.log.Warn("live broadcast queue full, update dropped", zap.String("type", u.Type))
	}
}

func (h *LiveHub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Serve upgrades the request and attaches the connection to the hub.
func (h *LiveHub) Serve(w http.ResponseWriter, r *http.Request, officer uuid.UUID) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	c := &liveClient{
		id:      uuid.NewString(),
		officer: officer,
		conn:    conn,
		send:    make(chan []byte, liveSendBuffer),
		hub:     h,
	}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return nil
	}

	go c.writePump()
	go c.readPump()
	return nil
}

// readPump only services control frames; dashboards do not send data.
func (c *liveClient) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(liveReadLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(livePongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(livePongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.log.Debug("dashboard read error", zap.String("conn_id", c.id), zap.Error(err))
			}
			return
		}
	}
}

func (c *liveClient) writePump() {
	ticker := time.NewTicker(livePingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(liveWriteWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(liveWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
