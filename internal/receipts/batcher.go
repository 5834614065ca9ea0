// Package receipts coalesces outbound read receipts and surfaces inbound ones.
package receipts

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/remote-chat/backend/internal/events"
	"github.com/remote-chat/backend/internal/model"
)

// DefaultDebounce is how long MarkRead waits for more ids before sending.
const DefaultDebounce = 800 * time.Millisecond

// Sender transmits an outbound message.
type Sender func(*model.Message) (model.SendResult, error)

type chatBatch struct {
	ids  []string
	seen map[string]struct{}
}

// Batcher is the read-receipt sub-protocol. All chats share one debounce timer.
type Batcher struct {
	send     Sender
	bus      *events.Bus
	logger   *slog.Logger
	debounce time.Duration
	now      func() time.Time

	mu      sync.Mutex
	order   []string
	batches map[string]*chatBatch
	timer   *time.Timer
	gen     uint64
}

// NewBatcher creates a Batcher. A non-positive debounce uses DefaultDebounce.
func NewBatcher(send Sender, bus *events.Bus, debounce time.Duration, logger *slog.Logger) *Batcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Batcher{
		send:     send,
		bus:      bus,
		logger:   logger,
		debounce: debounce,
		now:      time.Now,
		batches:  make(map[string]*chatBatch),
	}
}

// MarkRead adds ids to chatID's pending batch and restarts the debounce.
func (b *Batcher) MarkRead(chatID string, ids ...string) error {
	if chatID == "" {
		return fmt.Errorf("chat id is required")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	batch, ok := b.batches[chatID]
	if !ok {
		batch = &chatBatch{seen: make(map[string]struct{})}
		b.batches[chatID] = batch
		b.order = append(b.order, chatID)
	}
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, dup := batch.seen[id]; dup {
			continue
		}
		batch.seen[id] = struct{}{}
		batch.ids = append(batch.ids, id)
	}

	if b.timer != nil {
		b.timer.Stop()
	}
	b.gen++
	gen := b.gen
	b.timer = time.AfterFunc(b.debounce, func() {
		b.fire(gen)
	})
	return nil
}

func (b *Batcher) fire(gen uint64) {
	b.mu.Lock()
	if gen != b.gen {
		b.mu.Unlock()
		return
	}
	b.mu.Unlock()
	b.Flush()
}

// Flush sends one read_receipt per chat with pending ids, in the order chats
// were first marked, and clears every batch.
func (b *Batcher) Flush() int {
	b.mu.Lock()
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	b.gen++
	order, batches := b.order, b.batches
	b.order = nil
	b.batches = make(map[string]*chatBatch)
	b.mu.Unlock()

	readAt := b.now().UnixMilli()
	sent := 0
	for _, chatID := range order {
		batch := batches[chatID]
		if len(batch.ids) == 0 {
			continue
		}
		msg, err := model.NewMessage(model.MessageTypeReadReceipt, model.ReadReceiptPayload{
			ChatID:     chatID,
			MessageIDs: batch.ids,
			ReadAt:     readAt,
		})
		if err != nil {
			b.logger.Error("failed to build read receipt", "chat_id", chatID, "error", err)
			continue
		}
		if _, err := b.send(msg); err != nil {
			b.logger.Warn("failed to send read receipt", "chat_id", chatID, "error", err)
			continue
		}
		sent++
	}
	return sent
}

// Pending returns the ids waiting to be sent for chatID.
func (b *Batcher) Pending(chatID string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	batch, ok := b.batches[chatID]
	if !ok {
		return nil
	}
	return append([]string(nil), batch.ids...)
}

// Reset drops every pending batch without sending.
func (b *Batcher) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	b.gen++
	b.order = nil
	b.batches = make(map[string]*chatBatch)
}

// HandleReceipt publishes an inbound message_read or message_delivered frame.
func (b *Batcher) HandleReceipt(msg *model.Message) {
	var notice model.ReceiptNotice
	if err := msg.Decode(&notice); err != nil {
		b.logger.Warn("failed to decode receipt", "type", msg.Type, "error", err)
		return
	}
	b.bus.Publish(events.ReceiptUpdated{Type: msg.Type, Notice: notice})
}
