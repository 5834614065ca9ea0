package session

import (
	"time"

	"github.com/remote-chat/backend/internal/dispatch"
	"github.com/remote-chat/backend/internal/events"
	"github.com/remote-chat/backend/internal/model"
	"github.com/remote-chat/backend/internal/presence"
	"github.com/remote-chat/backend/internal/receipts"
	"github.com/remote-chat/backend/internal/typing"
)

// Stats is a point-in-time view of the session.
type Stats struct {
	SessionID   string                 `json:"sessionId"`
	Status      model.ConnectionStatus `json:"status"`
	RetryCount  int                    `json:"retryCount"`
	QueueDepth  int                    `json:"queueDepth"`
	PendingAcks int                    `json:"pendingAcks"`
	Online      bool                   `json:"online"`
	LastRTT     time.Duration          `json:"lastRttNs"`
	Duplicates  uint64                 `json:"duplicates"`
	ConnectedAt *time.Time             `json:"connectedAt,omitempty"`
	MyPresence  model.PresenceStatus   `json:"myPresence"`
}

// On registers handler for inbound messages of type t, or all types with dispatch.Wildcard.
func (s *Session) On(t model.MessageType, handler dispatch.Handler) dispatch.Subscription {
	return s.dispatcher.On(t, handler)
}

// Off removes a handler registered with On.
func (s *Session) Off(sub dispatch.Subscription) bool {
	return s.dispatcher.Off(sub)
}

// Subscribe registers fn for session events of kind, or all with events.KindAll.
func (s *Session) Subscribe(kind events.Kind, fn events.Handler) (cancel func()) {
	return s.bus.Subscribe(kind, fn)
}

// SessionID returns the id sent on every connect attempt.
func (s *Session) SessionID() string {
	return s.id
}

// Status returns the current connection status.
func (s *Session) Status() model.ConnectionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// RetryCount returns the retries since the last successful open.
func (s *Session) RetryCount() int {
	return s.reconnector.RetryCount()
}

// QueueDepth returns the number of queued outbound messages.
func (s *Session) QueueDepth() int {
	return s.queue.Len()
}

// QueuedMessages returns the queued outbound messages, oldest first.
func (s *Session) QueuedMessages() []*model.Message {
	return s.queue.Snapshot()
}

// PendingAcks returns the number of acknowledged sends in flight.
func (s *Session) PendingAcks() int {
	return s.acks.Len()
}

// Stats returns a snapshot of the session state.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	status := s.status
	var connectedAt *time.Time
	if !s.connectedAt.IsZero() {
		t := s.connectedAt
		connectedAt = &t
	}
	s.mu.Unlock()

	return Stats{
		SessionID:   s.id,
		Status:      status,
		RetryCount:  s.reconnector.RetryCount(),
		QueueDepth:  s.queue.Len(),
		PendingAcks: s.acks.Len(),
		Online:      s.reconnector.Online(),
		LastRTT:     s.heartbeat.LastRTT(),
		Duplicates:  s.dispatcher.Duplicates(),
		ConnectedAt: connectedAt,
		MyPresence:  s.presence.MyStatus(),
	}
}

// Presence returns the presence sub-protocol.
func (s *Session) Presence() *presence.Tracker {
	return s.presence
}

// Typing returns the typing sub-protocol.
func (s *Session) Typing() *typing.Tracker {
	return s.typing
}

// Receipts returns the read-receipt sub-protocol.
func (s *Session) Receipts() *receipts.Batcher {
	return s.receipts
}
