// ABOUTME: Websocket relay hub: presence announcements and message forwarding
// ABOUTME: One read and one write goroutine per connection with bounded send buffers

package relay

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/halfattire/inbox/internal/auth"
	"github.com/halfattire/inbox/internal/chat"
	"github.com/halfattire/inbox/internal/presence"
	"github.com/halfattire/inbox/internal/realtime"
)

const (
	// sendBufferSize is the per-connection outbound frame buffer.
	sendBufferSize = 64

	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	mirrorTimeout  = 2 * time.Second
)

// Config configures a Hub.
type Config struct {
	// Verifier enables token authentication when set.
	Verifier *auth.JWTVerifier
	// Mirror receives presence changes when set.
	Mirror presence.Mirror
	// Bus forwards messages between relay nodes when set.
	Bus    Bus
	NodeID string
	Logger *slog.Logger
	// AllowedOrigins restricts browser origins; empty allows all.
	AllowedOrigins []string
}

type client struct {
	id      string
	subject string // authenticated principal, empty without auth
	conn    *websocket.Conn
	send    chan []byte
}

// Hub relays realtime frames between connected principals.
type Hub struct {
	registry *presence.Registry
	verifier *auth.JWTVerifier
	mirror   presence.Mirror
	bus      Bus
	nodeID   string
	logger   *slog.Logger
	upgrader websocket.Upgrader
	now      func() time.Time

	mu      sync.RWMutex
	clients map[string]*client
	closed  bool

	unsubscribe func()
}

// NewHub creates a hub. When cfg.Bus is set the hub subscribes to it immediately.
func NewHub(cfg Config) (*Hub, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	nodeID := cfg.NodeID
	if nodeID == "" {
		nodeID = uuid.NewString()
	}

	h := &Hub{
		registry: presence.NewRegistry(),
		verifier: cfg.Verifier,
		mirror:   cfg.Mirror,
		bus:      cfg.Bus,
		nodeID:   nodeID,
		logger:   logger.With("component", "relay"),
		now:      time.Now,
		clients:  make(map[string]*client),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(cfg.AllowedOrigins),
	}

	if h.bus != nil {
		unsub, err := h.bus.Subscribe(h.handleEnvelope)
		if err != nil {
			return nil, err
		}
		h.unsubscribe = unsub
	}

	return h, nil
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(r *http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

// Registry exposes the hub's presence registry.
func (h *Hub) Registry() *presence.Registry {
	return h.registry
}

// ServeHTTP upgrades the request and runs the connection until it closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var subject string
	if h.verifier != nil {
		token, errMsg := auth.TokenFromRequest(r)
		if errMsg != "" {
			http.Error(w, `{"error":"`+errMsg+`"}`, http.StatusUnauthorized)
			return
		}
		id, err := h.verifier.Verify(token)
		if err != nil {
			http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
			return
		}
		subject = id
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &client{
		id:      uuid.NewString(),
		subject: subject,
		conn:    conn,
		send:    make(chan []byte, sendBufferSize),
	}

	if !h.register(c) {
		conn.Close()
		return
	}
	h.logger.Debug("connection opened", "conn", c.id, "remote", r.RemoteAddr)

	go h.writePump(c)
	h.readPump(c)
}

func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c.id] = c
	return true
}

// unregister removes c and broadcasts presence when its principal was registered.
func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c.id]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c.id)
	close(c.send)
	h.mu.Unlock()

	principalID, removed := h.registry.Remove(c.id)
	h.logger.Debug("connection closed", "conn", c.id, "principal", principalID)
	if !removed {
		return
	}

	h.mirrorUnregister(chat.PresenceEntry{PrincipalID: principalID, ConnectionID: c.id})
	h.broadcastPresence()
}

func (h *Hub) readPump(c *client) {
	defer func() {
		h.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var f realtime.Frame
		if err := c.conn.ReadJSON(&f); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("websocket read error", "conn", c.id, "error", err)
			}
			return
		}
		h.handleFrame(c, f)
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.logger.Debug("websocket write failed", "conn", c.id, "error", err)
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

func (h *Hub) handleFrame(c *client, f realtime.Frame) {
	switch f.Event {
	case realtime.EventAddUser:
		var principalID string
		if err := f.Decode(&principalID); err != nil || principalID == "" {
			h.reject(c, f.Event, "addUser requires a principal id")
			return
		}
		if c.subject != "" && principalID != c.subject {
			h.reject(c, f.Event, "cannot announce another principal")
			return
		}
		h.addUser(c, principalID)

	case realtime.EventSendMessage:
		var msg realtime.SendMessage
		if err := f.Decode(&msg); err != nil {
			h.reject(c, f.Event, "malformed sendMessage")
			return
		}
		sender, ok := h.registry.PrincipalOf(c.id)
		if !ok {
			h.reject(c, f.Event, "announce with addUser before sending")
			return
		}
		if msg.SenderID != sender {
			h.reject(c, f.Event, "senderId does not match announced principal")
			return
		}
		if msg.ReceiverID == "" {
			h.reject(c, f.Event, "receiverId is required")
			return
		}
		h.Deliver(msg.ReceiverID, msg.Deliverable(h.now().UTC()))

	default:
		h.reject(c, f.Event, "unknown event")
	}
}

func (h *Hub) addUser(c *client, principalID string) {
	if !h.registry.Add(principalID, c.id) {
		// Re-announce: still answer with the current presence set.
		h.sendTo(c, realtime.EventGetUsers, h.registry.Snapshot())
		return
	}
	h.logger.Info("principal online", "principal", principalID, "conn", c.id)
	h.mirrorRegister(chat.PresenceEntry{PrincipalID: principalID, ConnectionID: c.id})
	h.broadcastPresence()
}

// Deliver forwards msg to every local connection of receiverID. When the
// receiver has no local connection and a bus is configured, the message is
// published for other nodes.
func (h *Hub) Deliver(receiverID string, msg realtime.GetMessage) {
	if h.deliverLocal(receiverID, msg) > 0 || h.bus == nil {
		return
	}
	env := Envelope{Origin: h.nodeID, ReceiverID: receiverID, Message: msg}
	if err := h.bus.Publish(env); err != nil {
		h.logger.Warn("bus publish failed", "receiver", receiverID, "error", err)
	}
}

func (h *Hub) deliverLocal(receiverID string, msg realtime.GetMessage) int {
	conns := h.registry.Connections(receiverID)
	if len(conns) == 0 {
		h.logger.Debug("receiver offline", "receiver", receiverID)
		return 0
	}

	data, err := encode(realtime.EventGetMessage, msg)
	if err != nil {
		h.logger.Error("encode getMessage", "error", err)
		return 0
	}

	delivered := 0
	h.mu.RLock()
	for _, id := range conns {
		if c, ok := h.clients[id]; ok && h.enqueueLocked(c, data) {
			delivered++
		}
	}
	h.mu.RUnlock()
	return delivered
}

func (h *Hub) handleEnvelope(env Envelope) {
	if env.Origin == h.nodeID {
		return
	}
	h.deliverLocal(env.ReceiverID, env.Message)
}

func (h *Hub) broadcastPresence() {
	data, err := encode(realtime.EventGetUsers, h.registry.Snapshot())
	if err != nil {
		h.logger.Error("encode getUsers", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		h.enqueueLocked(c, data)
	}
}

func (h *Hub) sendTo(c *client, event string, payload any) {
	data, err := encode(event, payload)
	if err != nil {
		h.logger.Error("encode frame", "event", event, "error", err)
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.clients[c.id]; ok {
		h.enqueueLocked(c, data)
	}
}

func (h *Hub) reject(c *client, event, msg string) {
	h.logger.Debug("rejected frame", "conn", c.id, "event", event, "reason", msg)
	h.sendTo(c, realtime.EventError, realtime.ErrorPayload{Event: event, Message: msg})
}

// enqueueLocked must be called with mu read-locked so send is not closed underneath it.
func (h *Hub) enqueueLocked(c *client, data []byte) bool {
	select {
	case c.send <- data:
		return true
	default:
		h.logger.Warn("dropped frame for slow connection", "conn", c.id)
		return false
	}
}

func (h *Hub) mirrorRegister(entry chat.PresenceEntry) {
	if h.mirror == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
	defer cancel()
	if err := h.mirror.Register(ctx, entry); err != nil {
		h.logger.Warn("presence mirror register failed", "principal", entry.PrincipalID, "error", err)
	}
}

func (h *Hub) mirrorUnregister(entry chat.PresenceEntry) {
	if h.mirror == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
	defer cancel()
	if err := h.mirror.Unregister(ctx, entry); err != nil {
		h.logger.Warn("presence mirror unregister failed", "principal", entry.PrincipalID, "error", err)
	}
}

// Close disconnects every client and stops the bus subscription.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	clients := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.conn.Close()
	}
	if h.unsubscribe != nil {
		h.unsubscribe()
	}
	h.logger.Debug("relay closed")
}

func encode(event string, payload any) ([]byte, error) {
	f, err := realtime.NewFrame(event, payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(f)
}
