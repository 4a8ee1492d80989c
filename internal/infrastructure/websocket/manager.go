package websocket

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"swapmarket/internal/domain/repository"
	"swapmarket/pkg/logger"
	"swapmarket/pkg/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBuffer     = 256
)

// Client is one WebSocket connection and the live subscriptions it opened.
type Client struct {
	UserID string
	Conn   *websocket.Conn
	Send   chan []byte

	ctx    context.Context
	cancel context.CancelFunc

	mu            sync.Mutex
	closed        bool
	subscriptions map[string]repository.Unsubscribe
}

func NewClient(ctx context.Context, userID string, conn *websocket.Conn) *Client {
	ctx, cancel := context.WithCancel(ctx)
	return &Client{
		UserID:        userID,
		Conn:          conn,
		Send:          make(chan []byte, sendBuffer),
		ctx:           ctx,
		cancel:        cancel,
		subscriptions: make(map[string]repository.Unsubscribe),
	}
}

// enqueue never blocks: a client that cannot keep up loses frames.
func (c *Client) enqueue(frame []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.Send <- frame:
		return true
	default:
		logger.Warn("WebSocket: send buffer full for %s, dropping frame", c.UserID)
		return false
	}
}

// track keeps unsubscribe under id, replacing a previous subscription with
// the same id.
func (c *Client) track(id string, unsubscribe repository.Unsubscribe) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		unsubscribe()
		return
	}
	previous := c.subscriptions[id]
	c.subscriptions[id] = unsubscribe
	c.mu.Unlock()

	if previous != nil {
		previous()
	}
}

func (c *Client) untrack(id string) bool {
	c.mu.Lock()
	unsubscribe, ok := c.subscriptions[id]
	delete(c.subscriptions, id)
	c.mu.Unlock()

	if ok {
		unsubscribe()
	}
	return ok
}

func (c *Client) SubscriptionCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subscriptions)
}

// close releases every subscription and closes Send. Safe to call twice.
func (c *Client) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	subscriptions := c.subscriptions
	c.subscriptions = nil
	close(c.Send)
	c.mu.Unlock()

	c.cancel()
	for _, unsubscribe := range subscriptions {
		unsubscribe()
	}
}

// Manager tracks connected clients per user and serves their live queries.
type Manager struct {
	clients    map[string]map[*Client]bool
	Register   chan *Client
	Unregister chan *Client
	mutex      sync.RWMutex
	queries    LiveQueries
	done       chan struct{}
}

func NewManager(queries LiveQueries) *Manager {
	return &Manager{
		clients:    make(map[string]map[*Client]bool),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		queries:    queries,
		done:       make(chan struct{}),
	}
}

// Start runs the registration loop until ctx is done, then disconnects
// every client. Registrations arriving after that are refused.
func (m *Manager) Start(ctx context.Context) {
	go func() {
		defer close(m.done)
		for {
			select {
			case client := <-m.Register:
				m.add(client)

			case client := <-m.Unregister:
				m.remove(client)

			case <-ctx.Done():
				m.mutex.Lock()
				var all []*Client
				for _, set := range m.clients {
					for client := range set {
						all = append(all, client)
					}
				}
				m.clients = make(map[string]map[*Client]bool)
				m.mutex.Unlock()
				for _, client := range all {
					client.close()
					metrics.WebSocketConnections.Dec()
				}
				return
			}
		}
	}()
}

// RegisterClient hands client to the registration loop. It returns false and
// closes the client when the manager has shut down.
func (m *Manager) RegisterClient(client *Client) bool {
	select {
	case m.Register <- client:
		return true
	case <-m.done:
		client.close()
		return false
	}
}

// UnregisterClient hands client to the registration loop, or just closes it
// when the manager has shut down.
func (m *Manager) UnregisterClient(client *Client) {
	select {
	case m.Unregister <- client:
	case <-m.done:
		client.close()
	}
}

func (m *Manager) add(client *Client) {
	m.mutex.Lock()
	set, ok := m.clients[client.UserID]
	if !ok {
		set = make(map[*Client]bool)
		m.clients[client.UserID] = set
	}
	set[client] = true
	m.mutex.Unlock()

	metrics.WebSocketConnections.Inc()
	logger.Debug("WebSocket: client registered for %s", client.UserID)
}

func (m *Manager) remove(client *Client) {
	m.mutex.Lock()
	set, ok := m.clients[client.UserID]
	if ok && set[client] {
		delete(set, client)
		if len(set) == 0 {
			delete(m.clients, client.UserID)
		}
	} else {
		ok = false
	}
	m.mutex.Unlock()

	if ok {
		client.close()
		metrics.WebSocketConnections.Dec()
		logger.Debug("WebSocket: client unregistered for %s", client.UserID)
	}
}

// SendToUser queues message on every connection of userID.
func (m *Manager) SendToUser(userID string, message []byte) {
	m.mutex.RLock()
	clients := make([]*Client, 0, len(m.clients[userID]))
	for client := range m.clients[userID] {
		clients = append(clients, client)
	}
	m.mutex.RUnlock()

	for _, client := range clients {
		client.enqueue(message)
	}
}

func (m *Manager) ConnectedUsers() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.clients)
}

// ReadPump reads frames until the connection fails, then unregisters.
func (c *Client) ReadPump(m *Manager) {
	defer func() {
		m.UnregisterClient(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	_ = c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Warn("WebSocket: read error for %s: %v", c.UserID, err)
			}
			break
		}
		m.HandleClientMessage(c, message)
	}
}

// WritePump drains Send and keeps the connection alive with pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				logger.Warn("WebSocket: write error for %s: %v", c.UserID, err)
				return
			}

		case <-ticker.C:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
