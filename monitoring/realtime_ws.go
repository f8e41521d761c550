// Package monitoring pushes live dashboard updates over websockets.
package monitoring

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"churnsight/risk"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// MessageType names the payload carried by a Message.
type MessageType string

const (
	RiskDistribution MessageType = "risk_distribution"
	PredictionMade   MessageType = "prediction"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 64
)

// Message is the envelope written to every client.
type Message struct {
	ID        string          `json:"id"`
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// DistributionUpdate is sent after each prediction of a session.
type DistributionUpdate struct {
	Counts      risk.Distribution `json:"counts"`
	Slices      []risk.Slice      `json:"slices"`
	Predictions int               `json:"predictions"`
}

// PredictionUpdate describes the newest prediction of a session.
type PredictionUpdate struct {
	Probability   float64    `json:"probability"`
	Percent       float64    `json:"percent"`
	Level         risk.Level `json:"level"`
	RevenueAtRisk float64    `json:"revenue_at_risk"`
}

// Client is one websocket connection bound to a dashboard session.
type Client struct {
	hub       *Hub
	conn      *websocket.Conn
	send      chan []byte
	clientID  string
	sessionID string
}

// Hub fans messages out to the clients of a session.
type Hub struct {
	clients    map[string]map[*Client]bool
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
	upgrader   websocket.Upgrader
	ctx        context.Context
	cancel     context.CancelFunc
	logger     *zap.Logger
	done       chan struct{}
}

// NewHub returns a hub ready for Run. A nil logger discards output.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:    make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		ctx:    ctx,
		cancel: cancel,
		logger: logger,
		done:   make(chan struct{}),
	}
}

// SetCheckOrigin replaces the upgrader's origin check.
func (h *Hub) SetCheckOrigin(check func(r *http.Request) bool) {
	h.upgrader.CheckOrigin = check
}

// Run processes registrations until Stop is called.
func (h *Hub) Run() {
	defer close(h.done)
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			set, ok := h.clients[client.sessionID]
			if !ok {
				set = make(map[*Client]bool)
				h.clients[client.sessionID] = set
			}
			set[client] = true
			h.mu.Unlock()
			h.logger.Debug("dashboard client connected",
				zap.String("client_id", client.clientID),
				zap.String("session_id", client.sessionID))

		case client := <-h.unregister:
			h.remove(client)
			h.logger.Debug("dashboard client disconnected", zap.String("client_id", client.clientID))

		case <-h.ctx.Done():
			h.mu.Lock()
			for sessionID, set := range h.clients {
				for client := range set {
					close(client.send)
				}
				delete(h.clients, sessionID)
			}
			h.mu.Unlock()
			return
		}
	}
}

// Stop disconnects every client and ends Run.
func (h *Hub) Stop() {
	h.cancel()
	<-h.done
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.clients[client.sessionID]
	if !ok || !set[client] {
		return
	}
	delete(set, client)
	close(client.send)
	if len(set) == 0 {
		delete(h.clients, client.sessionID)
	}
}

// ClientCount returns the number of connections of a session.
func (h *Hub) ClientCount(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[sessionID])
}

// ServeSession upgrades the request and binds the connection to sessionID.
// responseHeader is sent with the upgrade response and may be nil.
func (h *Hub) ServeSession(w http.ResponseWriter, r *http.Request, sessionID string, responseHeader http.Header) {
	conn, err := h.upgrader.Upgrade(w, r, responseHeader)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	client := &Client{
		hub:       h,
		conn:      conn,
		send:      make(chan []byte, sendBuffer),
		clientID:  uuid.NewString(),
		sessionID: sessionID,
	}
	select {
	case h.register <- client:
	case <-h.ctx.Done():
		conn.Close()
		return
	}
	go client.writePump()
	go client.readPump()
}

// Publish sends a typed payload to every client of the session.
func (h *Hub) Publish(sessionID string, msgType MessageType, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", msgType, err)
	}
	message, err := json.Marshal(Message{
		ID:        uuid.NewString(),
		Type:      msgType,
		Timestamp: time.Now(),
		Data:      data,
	})
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	h.mu.RLock()
	var slow []*Client
	for client := range h.clients[sessionID] {
		select {
		case client.send <- message:
		default:
			slow = append(slow, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range slow {
		h.logger.Warn("dropping slow dashboard client", zap.String("client_id", client.clientID))
		h.remove(client)
	}
	return nil
}

// PublishDistribution sends the session's current risk distribution.
func (h *Hub) PublishDistribution(sessionID string, d risk.Distribution) error {
	return h.Publish(sessionID, RiskDistribution, DistributionUpdate{
		Counts:      d,
		Slices:      d.Slices(),
		Predictions: d.Total(),
	})
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.hub.logger.Debug("websocket write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump only drains control frames; the dashboard never sends data.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.ctx.Done():
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Debug("websocket closed", zap.Error(err))
			}
			return
		}
	}
}
