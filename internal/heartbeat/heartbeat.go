// Package heartbeat detects dead connections with an application-level ping and pong deadline.
package heartbeat

import (
	"log/slog"
	"sync"
	"time"
)

const (
	// DefaultInterval is the time between pings.
	DefaultInterval = 25 * time.Second

	// DefaultTimeout is how long a ping may go unanswered before the connection is considered dead.
	DefaultTimeout = 8 * time.Second
)

// Config holds heartbeat timing.
type Config struct {
	Interval time.Duration
	Timeout  time.Duration
	Logger   *slog.Logger
}

// Heartbeat sends ping frames on an interval and fires onTimeout when a pong
// does not arrive within the deadline.
//
// Every armed timer carries the generation it was armed in; Stop bumps the
// generation so timers left over from a previous connection are no-ops.
type Heartbeat struct {
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger
	now      func() time.Time

	ping      func(ts int64) error
	onTimeout func()
	onRTT     func(time.Duration)

	mu       sync.Mutex
	gen      uint64
	running  bool
	ticker   *time.Timer
	deadline *time.Timer
	lastPing int64
	lastRTT  time.Duration
}

// New creates a Heartbeat. ping transmits a ping frame carrying ts (unix
// milliseconds); onTimeout is called once per missed deadline.
func New(cfg Config, ping func(ts int64) error, onTimeout func()) *Heartbeat {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Heartbeat{
		interval:  cfg.Interval,
		timeout:   cfg.Timeout,
		logger:    cfg.Logger,
		now:       time.Now,
		ping:      ping,
		onTimeout: onTimeout,
	}
}

// SetOnRTT sets a callback invoked with every measured round trip.
func (h *Heartbeat) SetOnRTT(fn func(time.Duration)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onRTT = fn
}

// Start begins pinging. Calling Start while running restarts the schedule.
func (h *Heartbeat) Start() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.stopLocked()
	h.gen++
	h.running = true
	h.armTickLocked(h.gen)
}

// Stop cancels the ping schedule and any pending deadline.
func (h *Heartbeat) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.stopLocked()
	h.gen++
	h.running = false
}

func (h *Heartbeat) stopLocked() {
	if h.ticker != nil {
		h.ticker.Stop()
		h.ticker = nil
	}
	if h.deadline != nil {
		h.deadline.Stop()
		h.deadline = nil
	}
}

func (h *Heartbeat) armTickLocked(gen uint64) {
	h.ticker = time.AfterFunc(h.interval, func() {
		h.tick(gen)
	})
}

func (h *Heartbeat) tick(gen uint64) {
	h.mu.Lock()
	if gen != h.gen || !h.running {
		h.mu.Unlock()
		return
	}

	ts := h.now().UnixMilli()
	h.lastPing = ts
	if h.deadline == nil {
		h.deadline = time.AfterFunc(h.timeout, func() {
			h.expire(gen)
		})
	}
	h.armTickLocked(gen)
	h.mu.Unlock()

	if err := h.ping(ts); err != nil {
		h.logger.Warn("heartbeat ping failed", "error", err)
	}
}

func (h *Heartbeat) expire(gen uint64) {
	h.mu.Lock()
	if gen != h.gen || !h.running {
		h.mu.Unlock()
		return
	}
	h.stopLocked()
	h.gen++
	h.running = false
	h.mu.Unlock()

	h.logger.Warn("pong deadline exceeded", "timeout", h.timeout.String())
	h.onTimeout()
}

// HandlePong clears the pong deadline. ts is the timestamp echoed by the
// server; zero falls back to the time of the last ping sent.
func (h *Heartbeat) HandlePong(ts int64) {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return
	}
	if h.deadline != nil {
		h.deadline.Stop()
		h.deadline = nil
	}
	if ts <= 0 {
		ts = h.lastPing
	}
	var rtt time.Duration
	if ts > 0 {
		rtt = time.Duration(h.now().UnixMilli()-ts) * time.Millisecond
		if rtt < 0 {
			rtt = 0
		}
		h.lastRTT = rtt
	}
	onRTT := h.onRTT
	h.mu.Unlock()

	if ts > 0 && onRTT != nil {
		onRTT(rtt)
	}
}

// LastRTT returns the most recent measured round trip.
func (h *Heartbeat) LastRTT() time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastRTT
}

// Running reports whether the heartbeat is active.
func (h *Heartbeat) Running() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.running
}

// AwaitingPong reports whether a pong deadline is armed.
func (h *Heartbeat) AwaitingPong() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.deadline != nil
}
