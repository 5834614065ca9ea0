// Package outbox buffers non-transient messages produced while the session is disconnected.
package outbox

import (
	"log/slog"
	"time"

	"github.com/remote-chat/backend/internal/buffer"
	"github.com/remote-chat/backend/internal/model"
)

const (
	// DefaultCapacity bounds the queue; the oldest entry is dropped on overflow.
	DefaultCapacity = 200

	// DefaultStaleAfter is the age past which a queued message is discarded on flush.
	DefaultStaleAfter = 60 * time.Second
)

// Config holds configuration for the outbound queue.
type Config struct {
	Capacity   int
	StaleAfter time.Duration
	Logger     *slog.Logger
}

// FlushResult summarizes one flush.
type FlushResult struct {
	Sent  int
	Stale int
	// Failed holds messages the transmit function rejected; they were put back in order.
	Failed int
}

// Queue is the outbound queue. It is safe for concurrent use.
type Queue struct {
	ring       *buffer.RingBuffer[*model.Message]
	staleAfter time.Duration
	logger     *slog.Logger
	now        func() time.Time
}

// New creates a new Queue.
func New(config Config) *Queue {
	if config.Capacity <= 0 {
		config.Capacity = DefaultCapacity
	}
	if config.StaleAfter <= 0 {
		config.StaleAfter = DefaultStaleAfter
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	return &Queue{
		ring:       buffer.NewRingBuffer[*model.Message](config.Capacity),
		staleAfter: config.StaleAfter,
		logger:     config.Logger,
		now:        time.Now,
	}
}

// Enqueue stores msg for the next successful open. Transient messages are refused
// and false is returned.
func (q *Queue) Enqueue(msg *model.Message) bool {
	if model.IsTransient(msg.Type) {
		return false
	}

	msg.QueuedAt = q.now()
	if dropped, evicted := q.ring.Push(msg); evicted {
		q.logger.Warn("outbound queue full, dropped oldest message",
			"dropped_id", dropped.ID, "dropped_type", dropped.Type, "capacity", q.ring.Cap())
	}
	return true
}

// Flush drains the queue in arrival order. Entries older than the staleness threshold
// are discarded without calling transmit. If transmit fails, that message and all
// later ones are put back so the next open retries them in the same order.
func (q *Queue) Flush(transmit func(*model.Message) error) FlushResult {
	var result FlushResult
	entries := q.ring.Drain()
	now := q.now()

	for i, msg := range entries {
		if age := now.Sub(msg.QueuedAt); age > q.staleAfter {
			result.Stale++
			q.logger.Info("discarding stale queued message",
				"id", msg.ID, "type", msg.Type, "age", age.String())
			continue
		}

		if err := transmit(msg); err != nil {
			q.logger.Warn("failed to flush queued message, requeueing remainder",
				"id", msg.ID, "type", msg.Type, "error", err)
			for _, rest := range entries[i:] {
				q.ring.Push(rest)
				result.Failed++
			}
			return result
		}

		msg.QueuedAt = time.Time{}
		result.Sent++
	}

	return result
}

// Len returns the number of queued messages.
func (q *Queue) Len() int {
	return q.ring.Len()
}

// Snapshot returns the queued messages, oldest first, without removing them.
func (q *Queue) Snapshot() []*model.Message {
	return q.ring.ReadAll()
}
