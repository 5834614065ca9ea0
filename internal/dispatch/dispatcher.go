// Package dispatch routes decoded inbound messages to internal hooks, registered
// handlers and the event bus.
package dispatch

import (
	"log/slog"
	"sync"

	"github.com/remote-chat/backend/internal/buffer"
	"github.com/remote-chat/backend/internal/events"
	"github.com/remote-chat/backend/internal/model"
)

// Wildcard registers a handler for every message type.
const Wildcard model.MessageType = "*"

// DefaultDedupWindow is how many recent inbound ids are remembered.
const DefaultDedupWindow = 512

// Handler processes one inbound message.
type Handler func(*model.Message)

// Subscription identifies a registered handler for Off.
type Subscription struct {
	id  uint64
	typ model.MessageType
}

// Settler is the part of the ack correlator the dispatcher drives.
type Settler interface {
	Resolve(id string, ackMsg *model.Message) bool
	Reject(id string, err error) bool
}

type entry struct {
	id      uint64
	handler Handler
}

// Dispatcher delivers inbound messages in this order: pong to the heartbeat,
// ack and error frames to the correlator, then wildcard handlers, type
// handlers and finally the bus. Messages already seen by id are dropped.
type Dispatcher struct {
	bus    *events.Bus
	acks   Settler
	logger *slog.Logger

	mu       sync.RWMutex
	nextID   uint64
	handlers map[model.MessageType][]entry
	onPong   func(*model.Message)

	seenMu   sync.Mutex
	seen     *buffer.RingBuffer[string]
	seenKeys map[string]struct{}

	dropped uint64
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// WithDedupWindow sets how many inbound ids are remembered; zero disables de-duplication.
func WithDedupWindow(n int) Option {
	return func(d *Dispatcher) {
		if n <= 0 {
			d.seen = nil
			return
		}
		d.seen = buffer.NewRingBuffer[string](n)
	}
}

// New creates a Dispatcher publishing to bus and settling acks through acks.
func New(bus *events.Bus, acks Settler, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		bus:      bus,
		acks:     acks,
		logger:   slog.Default(),
		handlers: make(map[model.MessageType][]entry),
		seen:     buffer.NewRingBuffer[string](DefaultDedupWindow),
		seenKeys: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// SetPongHandler sets the hook that consumes pong frames.
func (d *Dispatcher) SetPongHandler(fn func(*model.Message)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onPong = fn
}

// On registers h for messages of type t, or every type when t is Wildcard.
func (d *Dispatcher) On(t model.MessageType, h Handler) Subscription {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	d.handlers[t] = append(d.handlers[t], entry{id: d.nextID, handler: h})
	return Subscription{id: d.nextID, typ: t}
}

// Off removes a handler. It reports whether the subscription was still registered.
func (d *Dispatcher) Off(sub Subscription) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	list := d.handlers[sub.typ]
	for i, e := range list {
		if e.id == sub.id {
			list = append(list[:i:i], list[i+1:]...)
			if len(list) == 0 {
				delete(d.handlers, sub.typ)
			} else {
				d.handlers[sub.typ] = list
			}
			return true
		}
	}
	return false
}

// Dispatch processes one inbound message. It must be called from a single
// goroutine to keep arrival order.
func (d *Dispatcher) Dispatch(msg *model.Message) {
	switch msg.Type {
	case model.MessageTypePong:
		d.mu.RLock()
		onPong := d.onPong
		d.mu.RUnlock()
		if onPong != nil {
			onPong(msg)
		}
		return

	case model.MessageTypeAck:
		if msg.ID == "" {
			d.logger.Warn("ack frame without id")
			return
		}
		if !d.acks.Resolve(msg.ID, msg) {
			d.logger.Debug("ack for unknown message", "id", msg.ID)
		}
		return

	case model.MessageTypeError:
		if ref := msg.RefID(); ref != "" {
			text := msg.String("message")
			if !d.acks.Reject(ref, &model.ServerError{RefID: ref, Message: text}) {
				d.logger.Warn("server error for unknown message", "ref_id", ref, "message", text)
			}
			return
		}
	}

	if d.isDuplicate(msg) {
		d.mu.Lock()
		d.dropped++
		d.mu.Unlock()
		d.logger.Debug("dropped duplicate inbound message", "type", msg.Type, "id", msg.ID)
		return
	}

	d.mu.RLock()
	wildcard := append([]entry(nil), d.handlers[Wildcard]...)
	typed := append([]entry(nil), d.handlers[msg.Type]...)
	d.mu.RUnlock()

	for _, e := range wildcard {
		d.invoke(e.handler, msg)
	}
	for _, e := range typed {
		d.invoke(e.handler, msg)
	}

	d.bus.Publish(events.MessageReceived{Name: events.TopicName(msg.Type), Message: msg})
}

func (d *Dispatcher) invoke(h Handler, msg *model.Message) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("message handler panicked", "type", msg.Type, "id", msg.ID, "panic", r)
		}
	}()
	h(msg)
}

func (d *Dispatcher) isDuplicate(msg *model.Message) bool {
	if msg.ID == "" || d.seen == nil {
		return false
	}
	key := string(msg.Type) + ":" + msg.ID

	d.seenMu.Lock()
	defer d.seenMu.Unlock()

	if _, ok := d.seenKeys[key]; ok {
		return true
	}
	if evicted, ok := d.seen.Push(key); ok {
		delete(d.seenKeys, evicted)
	}
	d.seenKeys[key] = struct{}{}
	return false
}

// Duplicates returns how many inbound messages were dropped as duplicates.
func (d *Dispatcher) Duplicates() uint64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.dropped
}
