package websocket

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/satriahrh/arunika/transcriber/internal/session"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Buffered outbound messages per client.
	sendBufferSize = 256
)

// HubConfig holds the transport settings
type HubConfig struct {
	AllowedOrigins    []string
	KeepAliveInterval time.Duration
	QuickCloseWindow  time.Duration
}

// Hub maintains the set of active clients and their sessions.
type Hub struct {
	// Registered clients, keyed by session ID.
	clients map[string]*Client

	// Register requests from the clients.
	register chan *Client

	// Unregister requests from clients.
	unregister chan *Client

	// Closed once Shutdown has drained every client.
	quit chan struct{}

	// Mutex for thread-safe access to clients map and closing
	mu      sync.RWMutex
	closing bool

	// Tracks session owners and read pumps so Shutdown can wait for cleanup
	wg sync.WaitGroup

	engine   *session.Engine
	upgrader websocket.Upgrader
	config   HubConfig
	logger   *zap.Logger
}

// NewHub creates a new WebSocket hub
func NewHub(engine *session.Engine, config HubConfig, logger *zap.Logger) *Hub {
	if config.KeepAliveInterval <= 0 {
		config.KeepAliveInterval = 30 * time.Second
	}

	h := &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		quit:       make(chan struct{}),
		engine:     engine,
		config:     config,
		logger:     logger,
	}
	h.upgrader = websocket.Upgrader{
		CheckOrigin:     h.checkOrigin,
		ReadBufferSize:  4096,
		WriteBufferSize: 1024,
	}
	return h
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.config.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	h.logger.Warn("Rejected WebSocket origin", zap.String("origin", origin))
	return false
}

// Run starts the hub's main loop. It returns after Shutdown.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			closing := h.closing
			if !closing {
				h.clients[client.id] = client
			}
			h.mu.Unlock()

			if closing {
				client.close(websocket.CloseNormalClosure, closeReasonShutdown)
				continue
			}
			h.logger.Info("Client registered", zap.String("sessionID", client.id))

		case client := <-h.unregister:
			h.mu.Lock()
			delete(h.clients, client.id)
			h.mu.Unlock()
			h.logger.Info("Client unregistered", zap.String("sessionID", client.id))

		case <-h.quit:
			return
		}
	}
}

// ActiveSessions returns the number of registered clients
func (h *Hub) ActiveSessions() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// IsActive reports whether a session with this ID is registered
func (h *Hub) IsActive(sessionID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.clients[sessionID]
	return ok
}

// Shutdown sends a normal closure to every client and waits until all
// sessions have released their resources or ctx expires.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.closing = true
	clients := make([]*Client, 0, len(h.clients))
	for _, client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.Unlock()

	h.logger.Info("Closing client connections", zap.Int("clients", len(clients)))
	for _, client := range clients {
		client.close(websocket.CloseNormalClosure, closeReasonShutdown)
	}

	drained := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(drained)
	}()

	var err error
	select {
	case <-drained:
	case <-ctx.Done():
		err = ctx.Err()
		h.logger.Warn("Timed out waiting for sessions to close", zap.Error(err))
	}

	close(h.quit)
	return err
}

// Client is a middleman between the websocket connection and its session.
type Client struct {
	hub *Hub

	// The websocket connection.
	conn *websocket.Conn

	// Buffered channel of outbound messages. Never closed; writers select
	// on ctx instead.
	send chan WriteData

	// Session ID for this client
	id string

	session *session.Session

	// Cancelled when the connection ends for any reason
	ctx    context.Context
	cancel context.CancelFunc

	connectedAt time.Time

	// Logger
	logger *zap.Logger
}

// HandleWebSocket handles websocket requests from the peer.
func HandleWebSocket(hub *Hub, c echo.Context) error {
	hub.mu.Lock()
	if hub.closing {
		hub.mu.Unlock()
		return echo.NewHTTPError(http.StatusServiceUnavailable, "server shutting down")
	}
	hub.wg.Add(2)
	hub.mu.Unlock()

	conn, err := hub.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		hub.wg.Add(-2)
		hub.logger.Error("WebSocket upgrade failed", zap.Error(err))
		return err
	}

	id := uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())
	client := &Client{
		hub:         hub,
		conn:        conn,
		send:        make(chan WriteData, sendBufferSize),
		id:          id,
		ctx:         ctx,
		cancel:      cancel,
		connectedAt: time.Now(),
		logger:      hub.logger.With(zap.String("sessionID", id)),
	}

	sess, err := hub.engine.NewSession(id, client.enqueue)
	if err != nil {
		hub.wg.Add(-2)
		cancel()
		client.logger.Error("Failed to create session", zap.Error(err))
		client.close(websocket.CloseInternalServerErr, closeReasonInternal)
		return nil
	}
	client.session = sess

	select {
	case hub.register <- client:
	case <-hub.quit:
		cancel()
		conn.Close()
	}

	go func() {
		defer hub.wg.Done()
		sess.Run(ctx)
	}()

	// Allow collection of memory referenced by the caller by doing all work in
	// new goroutines.
	go client.writePump()
	go client.readPump()

	return nil
}

// enqueue is the session's emitter
func (c *Client) enqueue(payload []byte) {
	select {
	case c.send <- WriteData{Type: websocket.TextMessage, Payload: payload}:
	case <-c.ctx.Done():
	}
}

// close sends a close frame and drops the connection, which ends readPump
func (c *Client) close(code int, reason string) {
	deadline := time.Now().Add(writeWait)
	if err := c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline); err != nil {
		c.logger.Debug("Failed to send close frame", zap.Error(err))
	}
	c.conn.Close()
}

// readPump pumps messages from the websocket connection to the session.
func (c *Client) readPump() {
	defer func() {
		c.cancel()
		select {
		case c.hub.unregister <- c:
		case <-c.hub.quit:
		}
		c.conn.Close()
		c.hub.wg.Done()
	}()

	pongWait := 2 * c.hub.config.KeepAliveInterval
	if limit := c.hub.engine.Policy().MaxFrameBytes(); limit > 0 {
		c.conn.SetReadLimit(int64(limit) * 2)
	}
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			c.logClose(err)
			return
		}

		if !c.session.Deliver(c.ctx, message) {
			return
		}
	}
}

// logClose grades the end of a connection. Cleanup is the same either way.
func (c *Client) logClose(err error) {
	lifetime := time.Since(c.connectedAt)
	fields := []zap.Field{zap.Duration("lifetime", lifetime), zap.Error(err)}

	switch {
	case lifetime < c.hub.config.QuickCloseWindow:
		c.logger.Debug("WebSocket closed shortly after connecting", fields...)
	case websocket.IsUnexpectedCloseError(err,
		websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
		c.logger.Warn("WebSocket closed unexpectedly", fields...)
	default:
		c.logger.Info("WebSocket closed", fields...)
	}
}

// writePump pumps messages from the session to the websocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(c.hub.config.KeepAliveInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(message.Type, message.Payload); err != nil {
				c.logger.Debug("Failed to write message", zap.Error(err))
				c.cancel()
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.cancel()
				return
			}

		case <-c.ctx.Done():
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
