// Package ws provides WebSocket connection handling and message routing.
package ws

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/remote-chat/backend/internal/events"
	"github.com/remote-chat/backend/internal/model"
)

// MessageType represents the type of bridge message.
type MessageType string

const (
	// Client -> Server commands
	MessageTypeSend       MessageType = "send"
	MessageTypeTyping     MessageType = "typing"
	MessageTypeStopTyping MessageType = "stop_typing"
	MessageTypePresence   MessageType = "presence"
	MessageTypeMarkRead   MessageType = "mark_read"
	MessageTypeVisibility MessageType = "visibility"
	MessageTypeOnline     MessageType = "online"
	MessageTypePing       MessageType = "ping"

	// Server -> Client message types
	MessageTypeEvent    MessageType = "event"
	MessageTypeSnapshot MessageType = "snapshot"
	MessageTypeResult   MessageType = "result"
	MessageTypePong     MessageType = "pong"
	MessageTypeError    MessageType = "error"
)

// Message is one bridge frame. Events are sent as {"type":"event","event":kind,"data":...}.
type Message struct {
	Type  MessageType     `json:"type"`
	Event events.Kind     `json:"event,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`

	// Ref is echoed back on the result of a command.
	Ref string `json:"ref,omitempty"`
	// Ack requests an acknowledged send.
	Ack bool `json:"ack,omitempty"`

	ChatID     string               `json:"chat_id,omitempty"`
	MessageIDs []string             `json:"message_ids,omitempty"`
	Status     model.PresenceStatus `json:"status,omitempty"`
	Visible    *bool                `json:"visible,omitempty"`
	Online     *bool                `json:"online,omitempty"`

	Error string `json:"error,omitempty"`
}

// NewEventMessage wraps a session event for the bridge.
func NewEventMessage(e events.Event) (*Message, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	return &Message{Type: MessageTypeEvent, Event: e.Kind(), Data: data}, nil
}

// Client is one attached UI connection.
type Client struct {
	hub       *Hub
	conn      *websocket.Conn
	sessionID string
	send      chan []byte
	mu        sync.Mutex
	closed    bool
}

// NewClient creates a new bridge client.
func NewClient(hub *Hub, conn *websocket.Conn, sessionID string) *Client {
	return &Client{
		hub:       hub,
		conn:      conn,
		sessionID: sessionID,
		send:      make(chan []byte, 256),
	}
}

// Send queues data for the client. A client that cannot keep up is closed.
func (c *Client) Send(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	select {
	case c.send <- data:
	default:
		c.closeLocked()
	}
}

// SendMessage marshals msg and queues it.
func (c *Client) SendMessage(msg *Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	c.Send(data)
	return nil
}

// Close closes the client's send channel.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
}

func (c *Client) closeLocked() {
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// IsClosed returns true if the client is closed.
func (c *Client) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// SessionID returns the chat session the client is attached to.
func (c *Client) SessionID() string {
	return c.sessionID
}

// Conn returns the underlying WebSocket connection.
func (c *Client) Conn() *websocket.Conn {
	return c.conn
}

// SendChan returns the send channel for the client.
func (c *Client) SendChan() <-chan []byte {
	return c.send
}

// Hub fans session events out to every client attached to one chat session.
type Hub struct {
	sessionID string
	clients   map[*Client]bool
	mu        sync.RWMutex
	logger    *slog.Logger

	onMessage func(client *Client, msg *Message)
}

// NewHub creates a new Hub for the given session.
func NewHub(sessionID string, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		sessionID: sessionID,
		clients:   make(map[*Client]bool),
		logger:    logger,
	}
}

// SessionID returns the session ID for this hub.
func (h *Hub) SessionID() string {
	return h.sessionID
}

// SetOnMessage sets the callback for client commands.
func (h *Hub) SetOnMessage(callback func(client *Client, msg *Message)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onMessage = callback
}

// Register adds a client to the hub.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	h.clients[client] = true
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("bridge client attached", "clients", n)
}

// Unregister removes a client from the hub.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	delete(h.clients, client)
	n := len(h.clients)
	h.mu.Unlock()

	client.Close()
	h.logger.Debug("bridge client detached", "clients", n)
}

// Broadcast sends data to all connected clients.
func (h *Hub) Broadcast(data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients {
		client.Send(data)
	}
}

// BroadcastMessage sends a Message to all connected clients.
func (h *Hub) BroadcastMessage(msg *Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	h.Broadcast(data)
	return nil
}

// BroadcastEvent sends a session event to all connected clients.
func (h *Hub) BroadcastEvent(e events.Event) {
	msg, err := NewEventMessage(e)
	if err != nil {
		h.logger.Warn("failed to encode event", "event", e.Kind(), "error", err)
		return
	}
	h.BroadcastMessage(msg)
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HasClients returns true if there are connected clients.
func (h *Hub) HasClients() bool {
	return h.ClientCount() > 0
}

// HandleMessage processes a command from a client.
func (h *Hub) HandleMessage(client *Client, msg *Message) {
	h.mu.RLock()
	callback := h.onMessage
	h.mu.RUnlock()

	if callback != nil {
		callback(client, msg)
	}
}

// Close closes all client connections.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.clients = make(map[*Client]bool)
	h.mu.Unlock()

	for _, client := range clients {
		client.Close()
	}
}

// HubManager manages one hub per chat session.
type HubManager struct {
	hubs   map[string]*Hub
	mu     sync.RWMutex
	logger *slog.Logger
}

// NewHubManager creates a new HubManager.
func NewHubManager(logger *slog.Logger) *HubManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &HubManager{
		hubs:   make(map[string]*Hub),
		logger: logger,
	}
}

// GetOrCreate returns an existing hub or creates a new one for the session.
func (m *HubManager) GetOrCreate(sessionID string) *Hub {
	m.mu.Lock()
	defer m.mu.Unlock()

	if hub, ok := m.hubs[sessionID]; ok {
		return hub
	}

	hub := NewHub(sessionID, m.logger.With("session_id", sessionID))
	m.hubs[sessionID] = hub
	return hub
}

// Get returns the hub for the session, or nil if not found.
func (m *HubManager) Get(sessionID string) *Hub {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.hubs[sessionID]
}

// Remove closes and removes the hub for the session.
func (m *HubManager) Remove(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if hub, ok := m.hubs[sessionID]; ok {
		hub.Close()
		delete(m.hubs, sessionID)
	}
}

// Close closes all hubs.
func (m *HubManager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, hub := range m.hubs {
		hub.Close()
	}
	m.hubs = make(map[string]*Hub)
}
