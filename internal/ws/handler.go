package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/remote-chat/backend/internal/model"
	"github.com/remote-chat/backend/internal/session"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 64 * 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ErrSessionNotFound is returned when a client attaches to an unknown session.
var ErrSessionNotFound = errors.New("session not found")

// SessionLookup resolves a chat session by id.
type SessionLookup func(sessionID string) (*session.Session, bool)

// Handler handles bridge connections.
type Handler struct {
	hubManager *HubManager
	lookup     SessionLookup
	logger     *slog.Logger
}

// NewHandler creates a new bridge handler.
func NewHandler(hubManager *HubManager, lookup SessionLookup, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		hubManager: hubManager,
		lookup:     lookup,
		logger:     logger,
	}
}

// HandleConnection upgrades the request and attaches the client to the session's hub.
func (h *Handler) HandleConnection(w http.ResponseWriter, r *http.Request, sessionID string) error {
	s, ok := h.lookup(sessionID)
	if !ok {
		http.Error(w, "Session not found", http.StatusNotFound)
		return ErrSessionNotFound
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	hub := h.hubManager.GetOrCreate(sessionID)
	client := NewClient(hub, conn, sessionID)
	hub.SetOnMessage(func(c *Client, msg *Message) {
		h.handleMessage(c, msg, s)
	})

	// The snapshot is queued before registering so it precedes every event.
	h.sendSnapshot(client, s)
	hub.Register(client)

	go h.writePump(client)
	go h.readPump(client, hub)

	return nil
}

// sendSnapshot sends the current session state to a newly attached client.
func (h *Handler) sendSnapshot(client *Client, s *session.Session) {
	data, err := json.Marshal(struct {
		Stats    session.Stats          `json:"stats"`
		Presence []model.PresenceRecord `json:"presence"`
	}{
		Stats:    s.Stats(),
		Presence: s.Presence().Snapshot(),
	})
	if err != nil {
		h.logger.Error("failed to marshal snapshot", "error", err)
		return
	}
	client.SendMessage(&Message{Type: MessageTypeSnapshot, Data: data})
}

// handleMessage turns one client command into a session call.
func (h *Handler) handleMessage(client *Client, msg *Message, s *session.Session) {
	var err error
	switch msg.Type {
	case MessageTypeSend:
		h.handleSend(client, msg, s)
		return
	case MessageTypeTyping, MessageTypeStopTyping:
		if msg.ChatID == "" {
			err = errors.New("chat_id is required")
			break
		}
		if msg.Type == MessageTypeTyping {
			err = s.Typing().NotifyTyping(msg.ChatID)
		} else {
			err = s.Typing().StopTyping(msg.ChatID)
		}
	case MessageTypePresence:
		if !msg.Status.Valid() {
			err = fmt.Errorf("invalid presence status %q", msg.Status)
			break
		}
		_, err = s.Presence().SetMyStatus(msg.Status)
	case MessageTypeMarkRead:
		if msg.ChatID == "" {
			err = errors.New("chat_id is required")
			break
		}
		err = s.Receipts().MarkRead(msg.ChatID, msg.MessageIDs...)
	case MessageTypeVisibility:
		if msg.Visible == nil {
			err = errors.New("visible is required")
			break
		}
		err = s.SetVisible(*msg.Visible)
	case MessageTypeOnline:
		if msg.Online == nil {
			err = errors.New("online is required")
			break
		}
		s.SetOnline(*msg.Online)
	case MessageTypePing:
		client.SendMessage(&Message{Type: MessageTypePong, Ref: msg.Ref})
		return
	default:
		err = fmt.Errorf("unknown command %q", msg.Type)
	}

	if err != nil {
		h.logger.Debug("bridge command failed", "command", msg.Type, "error", err)
		client.SendMessage(&Message{Type: MessageTypeError, Ref: msg.Ref, Error: err.Error()})
	}
}

// handleSend forwards a wire message. Acknowledged sends report their
// outcome asynchronously so the read pump is never blocked on the server.
func (h *Handler) handleSend(client *Client, msg *Message, s *session.Session) {
	var out model.Message
	if err := json.Unmarshal(msg.Data, &out); err != nil || out.Type == "" {
		client.SendMessage(&Message{Type: MessageTypeError, Ref: msg.Ref, Error: "data must be a wire message with a type"})
		return
	}

	if !msg.Ack {
		res, err := s.Send(&out)
		h.reply(client, msg.Ref, map[string]any{"id": out.ID, "result": res.String()}, err)
		return
	}

	go func() {
		ackMsg, err := s.Request(context.Background(), &out, 0)
		h.reply(client, msg.Ref, map[string]any{"id": out.ID, "ack": ackMsg}, err)
	}()
}

func (h *Handler) reply(client *Client, ref string, result any, err error) {
	if err != nil {
		client.SendMessage(&Message{Type: MessageTypeError, Ref: ref, Error: err.Error()})
		return
	}
	data, err := json.Marshal(result)
	if err != nil {
		h.logger.Error("failed to marshal command result", "error", err)
		return
	}
	client.SendMessage(&Message{Type: MessageTypeResult, Ref: ref, Data: data})
}

// readPump pumps commands from the WebSocket connection to the hub.
func (h *Handler) readPump(client *Client, hub *Hub) {
	defer func() {
		hub.Unregister(client)
		client.Conn().Close()
	}()

	client.Conn().SetReadLimit(maxMessageSize)
	client.Conn().SetReadDeadline(time.Now().Add(pongWait))
	client.Conn().SetPongHandler(func(string) error {
		client.Conn().SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := client.Conn().ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn("bridge connection error", "error", err)
			}
			break
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			h.logger.Debug("dropped malformed bridge command", "error", err)
			client.SendMessage(&Message{Type: MessageTypeError, Error: "malformed command"})
			continue
		}

		hub.HandleMessage(client, &msg)
	}
}

// writePump pumps messages from the hub to the WebSocket connection.
func (h *Handler) writePump(client *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.Conn().Close()
	}()

	for {
		select {
		case message, ok := <-client.SendChan():
			client.Conn().SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				client.Conn().WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			// One JSON document per frame.
			if err := client.Conn().WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			client.Conn().SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.Conn().WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// SetCheckOrigin sets a custom origin checker for the upgrader.
func SetCheckOrigin(fn func(r *http.Request) bool) {
	upgrader.CheckOrigin = fn
}

// AllowOrigins returns an origin checker that accepts requests without an
// Origin header and those whose Origin is listed. "*" accepts any origin.
func AllowOrigins(origins ...string) func(r *http.Request) bool {
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		allowed[strings.ToLower(strings.TrimSpace(o))] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		if _, ok := allowed["*"]; ok {
			return true
		}
		_, ok := allowed[strings.ToLower(origin)]
		return ok
	}
}
