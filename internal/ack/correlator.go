// Package ack correlates acknowledged sends with the server's ack or error frames.
package ack

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/remote-chat/backend/internal/model"
)

// DefaultTimeout is used when Register is called with a non-positive timeout.
const DefaultTimeout = 10 * time.Second

// Outcome labels how a pending ack was settled.
type Outcome string

const (
	OutcomeAcked    Outcome = "acked"
	OutcomeRejected Outcome = "rejected"
	OutcomeTimeout  Outcome = "timeout"
	OutcomeClosed   Outcome = "closed"
)

// Future is the eventual result of an acknowledged send.
type Future struct {
	id     string
	done   chan struct{}
	result *model.Message
	err    error
}

// ID returns the message id the future is waiting on.
func (f *Future) ID() string {
	return f.id
}

// Done is closed once the future is settled.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the future settles or ctx is done. Cancelling ctx does not
// remove the pending entry; the ack timeout still owns it.
func (f *Future) Wait(ctx context.Context) (*model.Message, error) {
	select {
	case <-f.done:
		return f.result, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Result returns the settled value. It must only be called after Done is closed.
func (f *Future) Result() (*model.Message, error) {
	return f.result, f.err
}

type pendingAck struct {
	future *Future
	timer  *time.Timer
}

// Correlator holds one PendingAck per in-flight message id.
type Correlator struct {
	mu             sync.Mutex
	pending        map[string]*pendingAck
	defaultTimeout time.Duration

	// onSettle observes every settlement; used for metrics.
	onSettle func(id string, outcome Outcome)
}

// NewCorrelator creates a new Correlator.
func NewCorrelator(defaultTimeout time.Duration) *Correlator {
	if defaultTimeout <= 0 {
		defaultTimeout = DefaultTimeout
	}
	return &Correlator{
		pending:        make(map[string]*pendingAck),
		defaultTimeout: defaultTimeout,
	}
}

// SetOnSettle sets the settlement observer.
func (c *Correlator) SetOnSettle(fn func(id string, outcome Outcome)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onSettle = fn
}

// Register creates a pending ack for msg, which must already carry an id.
func (c *Correlator) Register(msg *model.Message, timeout time.Duration) (*Future, error) {
	if msg.ID == "" {
		return nil, fmt.Errorf("ack: message %s has no id", msg.Type)
	}
	if timeout <= 0 {
		timeout = c.defaultTimeout
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.pending[msg.ID]; exists {
		return nil, fmt.Errorf("%w: %s", model.ErrDuplicatePending, msg.ID)
	}

	p := &pendingAck{
		future: &Future{id: msg.ID, done: make(chan struct{})},
	}
	id := msg.ID
	p.timer = time.AfterFunc(timeout, func() {
		c.settle(id, p, nil, fmt.Errorf("%w: no response to %s after %s", model.ErrAckTimeout, id, timeout), OutcomeTimeout)
	})
	c.pending[id] = p

	return p.future, nil
}

// Resolve settles the pending ack for id with the server's ack frame.
func (c *Correlator) Resolve(id string, ackMsg *model.Message) bool {
	return c.settle(id, nil, ackMsg, nil, OutcomeAcked)
}

// Reject settles the pending ack for id with err.
func (c *Correlator) Reject(id string, err error) bool {
	return c.settle(id, nil, nil, err, OutcomeRejected)
}

// RejectAll settles every pending ack with a connection-closed error and
// returns how many were rejected.
func (c *Correlator) RejectAll(reason string) int {
	return c.RejectAllWith(fmt.Errorf("%w: %s", model.ErrConnectionClosed, reason))
}

// RejectAllWith settles every pending ack with err.
func (c *Correlator) RejectAllWith(err error) int {
	c.mu.Lock()
	ids := make([]string, 0, len(c.pending))
	for id := range c.pending {
		ids = append(ids, id)
	}
	c.mu.Unlock()

	n := 0
	for _, id := range ids {
		if c.settle(id, nil, nil, err, OutcomeClosed) {
			n++
		}
	}
	return n
}

// settle removes the pending entry and completes its future. When match is set,
// the entry is only settled if it is still that exact entry, so a late timer
// never touches a newer registration that reused the id.
func (c *Correlator) settle(id string, match *pendingAck, result *model.Message, err error, outcome Outcome) bool {
	c.mu.Lock()
	p, ok := c.pending[id]
	if !ok || (match != nil && p != match) {
		c.mu.Unlock()
		return false
	}
	delete(c.pending, id)
	onSettle := c.onSettle
	c.mu.Unlock()

	p.timer.Stop()
	p.future.result = result
	p.future.err = err
	close(p.future.done)

	if onSettle != nil {
		onSettle(id, outcome)
	}
	return true
}

// Len returns the number of pending acks.
func (c *Correlator) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
