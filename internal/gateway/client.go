package gateway

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/soyeahso/supportchat/internal/domain"
	"github.com/soyeahso/supportchat/internal/logging"
)

const writeWait = 10 * time.Second

// Client is one widget or operator console connected over /ws.
type Client struct {
	ConnID      string
	Info        ClientInfo
	Socket      *websocket.Conn
	Principal   domain.Principal
	ConnectedAt time.Time

	mu     sync.Mutex
	closed bool
	subs   map[string]struct{}
	log    *logging.Logger
}

// NewClient creates a Client for a connection that completed the handshake.
func NewClient(conn *websocket.Conn, info ClientInfo, p domain.Principal, log *logging.Logger) *Client {
	return &Client{
		ConnID:      uuid.New().String(),
		Info:        info,
		Socket:      conn,
		Principal:   p,
		ConnectedAt: time.Now(),
		subs:        make(map[string]struct{}),
		log:         log,
	}
}

// Send writes a frame. Thread-safe.
func (c *Client) Send(frame Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClientClosed
	}
	_ = c.Socket.SetWriteDeadline(time.Now().Add(writeWait))
	return c.Socket.WriteJSON(frame)
}

// SendEvent sends a named event with payload.
func (c *Client) SendEvent(event string, payload any, seq int64) error {
	f, err := NewEvent(event, payload, seq)
	if err != nil {
		return err
	}
	return c.Send(f)
}

// Respond sends a success response for the given request ID.
func (c *Client) Respond(reqID string, payload any) error {
	f, err := NewResponse(reqID, payload)
	if err != nil {
		return err
	}
	return c.Send(f)
}

// RespondError sends an error response for the given request ID.
func (c *Client) RespondError(reqID string, errShape ErrorShape) error {
	return c.Send(NewErrorResponse(reqID, errShape))
}

// ReadFrame reads the next frame from the WebSocket.
func (c *Client) ReadFrame() (Frame, error) {
	_, msg, err := c.Socket.ReadMessage()
	if err != nil {
		return Frame{}, err
	}
	var f Frame
	if err := json.Unmarshal(msg, &f); err != nil {
		return Frame{}, err
	}
	return f, nil
}

// Subscribe adds a session to the client's event feed. Only admins may
// subscribe to every session.
func (c *Client) Subscribe(sessionID string) bool {
	if sessionID == SubscribeAllTarget && !c.Principal.Admin {
		return false
	}
	c.mu.Lock()
	c.subs[sessionID] = struct{}{}
	c.mu.Unlock()
	return true
}

// Subscribed reports whether events of sessionID go to this client.
func (c *Client) Subscribed(sessionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.subs[SubscribeAllTarget]; ok {
		return true
	}
	_, ok := c.subs[sessionID]
	return ok
}

// Sessions returns the sessions this client follows.
func (c *Client) Sessions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.subs))
	for id := range c.subs {
		if id != SubscribeAllTarget {
			out = append(out, id)
		}
	}
	return out
}

// Close closes the WebSocket connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.Socket.Close()
}

// ClientRegistry manages connected clients.
type ClientRegistry struct {
	mu      sync.RWMutex
	clients map[string]*Client // connID → Client
	log     *logging.Logger
}

// NewClientRegistry creates an empty client registry.
func NewClientRegistry(log *logging.Logger) *ClientRegistry {
	return &ClientRegistry{
		clients: make(map[string]*Client),
		log:     log,
	}
}

// Add registers a connected client.
func (r *ClientRegistry) Add(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[c.ConnID] = c
	r.log.Info().Str("connId", c.ConnID).Str("client", c.Info.ID).Bool("admin", c.Principal.Admin).Msg("client connected")
}

// Remove unregisters a client by connection ID.
func (r *ClientRegistry) Remove(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clients, connID)
	r.log.Info().Str("connId", connID).Msg("client disconnected")
}

// Get returns a client by connection ID.
func (r *ClientRegistry) Get(connID string) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[connID]
	return c, ok
}

// Count returns the number of connected clients.
func (r *ClientRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// Publish sends an event to every client subscribed to sessionID and
// returns how many received it.
func (r *ClientRegistry) Publish(sessionID, event string, payload any, seq int64) int {
	r.mu.RLock()
	targets := make([]*Client, 0, len(r.clients))
	for _, c := range r.clients {
		if c.Subscribed(sessionID) {
			targets = append(targets, c)
		}
	}
	r.mu.RUnlock()

	sent := 0
	for _, c := range targets {
		if err := c.SendEvent(event, payload, seq); err != nil {
			r.log.Warn().Err(err).Str("connId", c.ConnID).Str("event", event).Msg("event send failed")
			continue
		}
		sent++
	}
	return sent
}

// CloseAll closes all connected clients.
func (r *ClientRegistry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, c := range r.clients {
		c.Close()
		delete(r.clients, id)
	}
}
