// Package presence tracks the local user's availability and the last known
// presence of remote users.
package presence

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/remote-chat/backend/internal/events"
	"github.com/remote-chat/backend/internal/model"
)

// Sender transmits an outbound message.
type Sender func(*model.Message) (model.SendResult, error)

// Watcher is notified when a watched user's status changes.
type Watcher func(model.PresenceRecord)

// Tracker is the presence sub-protocol.
type Tracker struct {
	send   Sender
	bus    *events.Bus
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	records  map[string]model.PresenceRecord
	watchers map[string]map[uint64]Watcher
	nextID   uint64
	myStatus model.PresenceStatus
	autoAway bool
}

// NewTracker creates a Tracker. The local status starts as online.
func NewTracker(send Sender, bus *events.Bus, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		send:     send,
		bus:      bus,
		logger:   logger,
		now:      time.Now,
		records:  make(map[string]model.PresenceRecord),
		watchers: make(map[string]map[uint64]Watcher),
		myStatus: model.PresenceOnline,
	}
}

// SetMyStatus changes the local status and sends it when it differs from the
// current one. It reports whether a frame was sent.
func (t *Tracker) SetMyStatus(status model.PresenceStatus) (bool, error) {
	if !status.Valid() {
		return false, fmt.Errorf("invalid presence status %q", status)
	}

	t.mu.Lock()
	if t.myStatus == status {
		t.mu.Unlock()
		return false, nil
	}
	t.myStatus = status
	t.autoAway = false
	t.mu.Unlock()

	return true, t.announce(status)
}

// SetVisible reflects application visibility: hidden turns online into away,
// and visible restores online only if away was set automatically.
func (t *Tracker) SetVisible(visible bool) error {
	t.mu.Lock()
	var next model.PresenceStatus
	switch {
	case !visible && t.myStatus == model.PresenceOnline:
		next = model.PresenceAway
		t.autoAway = true
	case visible && t.autoAway:
		next = model.PresenceOnline
		t.autoAway = false
	default:
		t.mu.Unlock()
		return nil
	}
	t.myStatus = next
	t.mu.Unlock()

	return t.announce(next)
}

// MyStatus returns the local status.
func (t *Tracker) MyStatus() model.PresenceStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.myStatus
}

// Announce re-sends the current local status. Called after every successful open.
func (t *Tracker) Announce() error {
	return t.announce(t.MyStatus())
}

func (t *Tracker) announce(status model.PresenceStatus) error {
	msg, err := model.NewMessage(model.MessageTypePresence, model.PresencePayload{Status: status})
	if err != nil {
		return err
	}
	if _, err := t.send(msg); err != nil {
		return fmt.Errorf("failed to send presence: %w", err)
	}
	return nil
}

// wireRecord accepts last_seen as unix milliseconds or an RFC 3339 string.
type wireRecord struct {
	UserID   string               `json:"user_id"`
	Status   model.PresenceStatus `json:"status"`
	LastSeen json.RawMessage      `json:"last_seen"`
}

func (w wireRecord) record(now time.Time) (model.PresenceRecord, bool) {
	if w.UserID == "" || !w.Status.Valid() {
		return model.PresenceRecord{}, false
	}
	rec := model.PresenceRecord{UserID: w.UserID, Status: w.Status, LastSeen: now}
	if len(w.LastSeen) == 0 {
		return rec, true
	}
	var ms int64
	if err := json.Unmarshal(w.LastSeen, &ms); err == nil && ms > 0 {
		rec.LastSeen = time.UnixMilli(ms)
		return rec, true
	}
	var s string
	if err := json.Unmarshal(w.LastSeen, &s); err == nil {
		if ts, err := time.Parse(time.RFC3339, s); err == nil {
			rec.LastSeen = ts
		}
	}
	return rec, true
}

// HandlePresence processes an inbound presence frame. Watchers and the bus are
// only notified when the user's status actually changed.
func (t *Tracker) HandlePresence(msg *model.Message) {
	var w wireRecord
	if err := msg.Decode(&w); err != nil {
		t.logger.Warn("failed to decode presence", "error", err)
		return
	}
	rec, ok := w.record(t.now())
	if !ok {
		t.logger.Warn("ignoring invalid presence", "user_id", w.UserID, "status", w.Status)
		return
	}

	t.mu.Lock()
	prev, existed := t.records[rec.UserID]
	t.records[rec.UserID] = rec
	changed := !existed || prev.Status != rec.Status
	var watchers []Watcher
	if changed {
		for _, fn := range t.watchers[rec.UserID] {
			watchers = append(watchers, fn)
		}
	}
	t.mu.Unlock()

	if !changed {
		return
	}
	for _, fn := range watchers {
		fn(rec)
	}
	t.bus.Publish(events.PresenceChanged{Record: rec, Previous: prev.Status})
}

// HandleBatch processes an inbound presence_batch frame.
func (t *Tracker) HandleBatch(msg *model.Message) {
	var batch struct {
		Users []wireRecord `json:"users"`
	}
	if err := msg.Decode(&batch); err != nil {
		t.logger.Warn("failed to decode presence batch", "error", err)
		return
	}

	now := t.now()
	records := make([]model.PresenceRecord, 0, len(batch.Users))
	for _, w := range batch.Users {
		if rec, ok := w.record(now); ok {
			records = append(records, rec)
		}
	}
	t.Seed(records)
}

// Seed overwrites records in bulk without change notification.
func (t *Tracker) Seed(records []model.PresenceRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, rec := range records {
		if rec.UserID == "" {
			continue
		}
		t.records[rec.UserID] = rec
	}
}

// Get returns the last known presence of userID.
func (t *Tracker) Get(userID string) (model.PresenceRecord, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.records[userID]
	return rec, ok
}

// Snapshot returns every known record ordered by user id.
func (t *Tracker) Snapshot() []model.PresenceRecord {
	t.mu.Lock()
	out := make([]model.PresenceRecord, 0, len(t.records))
	for _, rec := range t.records {
		out = append(out, rec)
	}
	t.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// Watch calls fn whenever userID's status changes and returns a function that stops watching.
func (t *Tracker) Watch(userID string, fn Watcher) (cancel func()) {
	t.mu.Lock()
	t.nextID++
	id := t.nextID
	if t.watchers[userID] == nil {
		t.watchers[userID] = make(map[uint64]Watcher)
	}
	t.watchers[userID][id] = fn
	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		delete(t.watchers[userID], id)
		if len(t.watchers[userID]) == 0 {
			delete(t.watchers, userID)
		}
	}
}
