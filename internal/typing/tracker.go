// Package typing implements typing indicators in both directions.
package typing

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/remote-chat/backend/internal/events"
	"github.com/remote-chat/backend/internal/model"
)

// DefaultTimeout is both the local auto-stop delay and the remote typist expiry.
const DefaultTimeout = 5 * time.Second

// Sender transmits an outbound message.
type Sender func(*model.Message) (model.SendResult, error)

// timerEntry is an owned timer. Refreshing replaces the entry, and callbacks
// compare pointers, so a timer that fired just before its refresh does nothing.
type timerEntry struct {
	timer *time.Timer
}

// Tracker is the typing sub-protocol.
type Tracker struct {
	send    Sender
	bus     *events.Bus
	logger  *slog.Logger
	timeout time.Duration

	mu       sync.Mutex
	selfID   string
	outgoing map[string]*timerEntry
	typists  map[string]map[string]*timerEntry
}

// NewTracker creates a Tracker. A non-positive timeout uses DefaultTimeout.
func NewTracker(send Sender, bus *events.Bus, timeout time.Duration, logger *slog.Logger) *Tracker {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		send:     send,
		bus:      bus,
		logger:   logger,
		timeout:  timeout,
		outgoing: make(map[string]*timerEntry),
		typists:  make(map[string]map[string]*timerEntry),
	}
}

// SetSelfUserID sets the local user id; inbound typing from it is ignored.
func (t *Tracker) SetSelfUserID(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.selfID = id
}

// NotifyTyping reports local typing in chatID. The start frame is sent once per
// burst; every call pushes the auto-stop back.
func (t *Tracker) NotifyTyping(chatID string) error {
	if chatID == "" {
		return fmt.Errorf("chat id is required")
	}

	t.mu.Lock()
	prev, active := t.outgoing[chatID]
	if active {
		prev.timer.Stop()
	}
	e := &timerEntry{}
	e.timer = time.AfterFunc(t.timeout, func() {
		t.autoStop(chatID, e)
	})
	t.outgoing[chatID] = e
	t.mu.Unlock()

	if active {
		return nil
	}
	return t.sendTyping(chatID, true)
}

func (t *Tracker) autoStop(chatID string, e *timerEntry) {
	t.mu.Lock()
	if t.outgoing[chatID] != e {
		t.mu.Unlock()
		return
	}
	delete(t.outgoing, chatID)
	t.mu.Unlock()

	if err := t.sendTyping(chatID, false); err != nil {
		t.logger.Warn("failed to send typing stop", "chat_id", chatID, "error", err)
	}
}

// StopTyping ends local typing in chatID. A stop frame is only sent if a start was.
func (t *Tracker) StopTyping(chatID string) error {
	t.mu.Lock()
	e, ok := t.outgoing[chatID]
	if !ok {
		t.mu.Unlock()
		return nil
	}
	e.timer.Stop()
	delete(t.outgoing, chatID)
	t.mu.Unlock()

	return t.sendTyping(chatID, false)
}

// IsTyping reports whether a local typing burst is active in chatID.
func (t *Tracker) IsTyping(chatID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.outgoing[chatID]
	return ok
}

func (t *Tracker) sendTyping(chatID string, typing bool) error {
	msg, err := model.NewMessage(model.MessageTypeTyping, model.TypingPayload{ChatID: chatID, Typing: typing})
	if err != nil {
		return err
	}
	if _, err := t.send(msg); err != nil {
		return fmt.Errorf("failed to send typing: %w", err)
	}
	return nil
}

// HandleTyping processes an inbound typing frame.
func (t *Tracker) HandleTyping(msg *model.Message) {
	var p model.TypingPayload
	if err := msg.Decode(&p); err != nil {
		t.logger.Warn("failed to decode typing", "error", err)
		return
	}
	if p.ChatID == "" || p.UserID == "" {
		return
	}

	t.mu.Lock()
	if p.UserID == t.selfID {
		t.mu.Unlock()
		return
	}

	users := t.typists[p.ChatID]
	existing, wasTyping := users[p.UserID]

	if !p.Typing {
		if !wasTyping {
			t.mu.Unlock()
			return
		}
		existing.timer.Stop()
		t.removeLocked(p.ChatID, p.UserID)
		list := t.listLocked(p.ChatID)
		t.mu.Unlock()
		t.publish(p.ChatID, list)
		return
	}

	if wasTyping {
		existing.timer.Stop()
	}
	if users == nil {
		users = make(map[string]*timerEntry)
		t.typists[p.ChatID] = users
	}
	e := &timerEntry{}
	chatID, userID := p.ChatID, p.UserID
	e.timer = time.AfterFunc(t.timeout, func() {
		t.expire(chatID, userID, e)
	})
	users[userID] = e
	if wasTyping {
		t.mu.Unlock()
		return
	}
	list := t.listLocked(chatID)
	t.mu.Unlock()

	t.publish(chatID, list)
}

func (t *Tracker) expire(chatID, userID string, e *timerEntry) {
	t.mu.Lock()
	if t.typists[chatID][userID] != e {
		t.mu.Unlock()
		return
	}
	t.removeLocked(chatID, userID)
	list := t.listLocked(chatID)
	t.mu.Unlock()

	t.publish(chatID, list)
}

func (t *Tracker) removeLocked(chatID, userID string) {
	delete(t.typists[chatID], userID)
	if len(t.typists[chatID]) == 0 {
		delete(t.typists, chatID)
	}
}

func (t *Tracker) listLocked(chatID string) []string {
	users := t.typists[chatID]
	list := make([]string, 0, len(users))
	for id := range users {
		list = append(list, id)
	}
	sort.Strings(list)
	return list
}

func (t *Tracker) publish(chatID string, typists []string) {
	t.bus.Publish(events.TypingChanged{ChatID: chatID, Typists: typists})
}

// Typists returns the remote users currently typing in chatID, sorted.
func (t *Tracker) Typists(chatID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.listLocked(chatID)
}

// Reset stops every timer and forgets all state without sending anything.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, e := range t.outgoing {
		e.timer.Stop()
	}
	for _, users := range t.typists {
		for _, e := range users {
			e.timer.Stop()
		}
	}
	t.outgoing = make(map[string]*timerEntry)
	t.typists = make(map[string]map[string]*timerEntry)
}
