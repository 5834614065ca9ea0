// Package events publishes semantic session events to subscribers.
package events

import (
	"log/slog"
	"sync"
	"time"

	"github.com/remote-chat/backend/internal/model"
)

// Kind identifies an event variant.
type Kind string

const (
	KindStatusChanged   Kind = "status_changed"
	KindUnauthorized    Kind = "unauthorized"
	KindReconnecting    Kind = "reconnecting"
	KindMessageReceived Kind = "message_received"
	KindPresenceChanged Kind = "presence_changed"
	KindTypingChanged   Kind = "typing_changed"
	KindReceiptUpdated  Kind = "receipt_updated"

	// KindAll subscribes to every event.
	KindAll Kind = "*"
)

// Event is one of the concrete event types below.
type Event interface {
	Kind() Kind
}

// StatusChanged is published on every connection status transition.
type StatusChanged struct {
	From       model.ConnectionStatus `json:"from"`
	To         model.ConnectionStatus `json:"to"`
	RetryCount int                    `json:"retry_count"`
	CloseCode  int                    `json:"close_code,omitempty"`
	Reason     string                 `json:"reason,omitempty"`
}

func (StatusChanged) Kind() Kind { return KindStatusChanged }

// Unauthorized is published when the server rejects the credential. No reconnect follows.
type Unauthorized struct {
	CloseCode int    `json:"close_code"`
	Reason    string `json:"reason,omitempty"`
}

func (Unauthorized) Kind() Kind { return KindUnauthorized }

// Reconnecting is published when a retry is scheduled.
type Reconnecting struct {
	RetryCount int           `json:"retry_count"`
	Delay      time.Duration `json:"delay_ns"`
}

func (Reconnecting) Kind() Kind { return KindReconnecting }

// MessageReceived carries an inbound message that reached the end of dispatch.
type MessageReceived struct {
	// Name is "ws:<type>".
	Name    string         `json:"name"`
	Message *model.Message `json:"message"`
}

func (MessageReceived) Kind() Kind { return KindMessageReceived }

// TopicName returns the MessageReceived name for a message type.
func TopicName(t model.MessageType) string {
	return "ws:" + string(t)
}

// PresenceChanged is published when a user's presence status actually changes.
type PresenceChanged struct {
	Record   model.PresenceRecord `json:"record"`
	Previous model.PresenceStatus `json:"previous,omitempty"`
}

func (PresenceChanged) Kind() Kind { return KindPresenceChanged }

// TypingChanged carries the full set of typists in a chat after any change.
type TypingChanged struct {
	ChatID  string   `json:"chat_id"`
	Typists []string `json:"typists"`
}

func (TypingChanged) Kind() Kind { return KindTypingChanged }

// ReceiptUpdated carries an inbound message_read or message_delivered notice.
type ReceiptUpdated struct {
	Type   model.MessageType   `json:"type"`
	Notice model.ReceiptNotice `json:"notice"`
}

func (ReceiptUpdated) Kind() Kind { return KindReceiptUpdated }

// Handler receives published events.
type Handler func(Event)

type subscription struct {
	id      uint64
	kind    Kind
	handler Handler
}

// Bus is a synchronous fan-out of events. Handlers run on the publisher's
// goroutine in subscription order; a panicking handler is logged and skipped.
type Bus struct {
	mu     sync.RWMutex
	nextID uint64
	subs   []subscription
	logger *slog.Logger
}

// NewBus creates a new Bus.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{logger: logger}
}

// Subscribe registers fn for events of kind and returns a function that removes it.
func (b *Bus) Subscribe(kind Kind, fn Handler) (cancel func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscription{id: id, kind: kind, handler: fn})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(id) })
	}
}

// SubscribeMessage registers fn for MessageReceived events of one message type.
func (b *Bus) SubscribeMessage(t model.MessageType, fn func(*model.Message)) (cancel func()) {
	name := TopicName(t)
	return b.Subscribe(KindMessageReceived, func(e Event) {
		if mr, ok := e.(MessageReceived); ok && mr.Name == name {
			fn(mr.Message)
		}
	})
}

func (b *Bus) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s.id == id {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			return
		}
	}
}

// Publish delivers e to every matching subscriber.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	matched := make([]Handler, 0, len(b.subs))
	for _, s := range b.subs {
		if s.kind == KindAll || s.kind == e.Kind() {
			matched = append(matched, s.handler)
		}
	}
	b.mu.RUnlock()

	for _, h := range matched {
		b.deliver(h, e)
	}
}

func (b *Bus) deliver(h Handler, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked", "kind", e.Kind(), "panic", r)
		}
	}()
	h(e)
}

// Len returns the number of subscriptions.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
