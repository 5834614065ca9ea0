package reconnect

import (
	"log/slog"
	"math/rand"
	"sync"
	"time"
)

// Reconnector schedules connection attempts after non-intentional closes.
//
// It owns at most one retry timer. While the host reports itself offline,
// Schedule defers instead of arming a timer, and the deferred attempt runs
// as soon as SetOnline(true) is called.
type Reconnector struct {
	policy  Policy
	rand    func() float64
	logger  *slog.Logger
	attempt func()

	mu         sync.Mutex
	retryCount int
	timer      *time.Timer
	gen        uint64
	online     bool
	deferred   bool
}

// Option configures a Reconnector.
type Option func(*Reconnector)

// WithRand sets the jitter source; values must be in [0.0, 1.0).
func WithRand(fn func() float64) Option {
	return func(r *Reconnector) {
		r.rand = fn
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Reconnector) {
		r.logger = logger
	}
}

// New creates a Reconnector that calls attempt when a retry is due.
func New(policy Policy, attempt func(), opts ...Option) *Reconnector {
	r := &Reconnector{
		policy:  policy.withDefaults(),
		rand:    rand.Float64, // #nosec G404 -- jitter does not require cryptographic randomness
		logger:  slog.Default(),
		attempt: attempt,
		online:  true,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Schedule arms the retry timer and returns the chosen delay. If the host is
// offline, nothing is armed and scheduled is false.
func (r *Reconnector) Schedule() (delay time.Duration, scheduled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.stopTimerLocked()

	if !r.online {
		r.deferred = true
		r.logger.Info("host offline, deferring reconnect", "retry_count", r.retryCount)
		return 0, false
	}

	delay = r.policy.Delay(r.retryCount, r.rand())
	r.retryCount++
	r.gen++
	gen := r.gen
	r.timer = time.AfterFunc(delay, func() {
		r.fire(gen)
	})

	r.logger.Info("reconnect scheduled", "retry_count", r.retryCount, "delay", delay.String())
	return delay, true
}

func (r *Reconnector) fire(gen uint64) {
	r.mu.Lock()
	if gen != r.gen {
		r.mu.Unlock()
		return
	}
	r.timer = nil
	r.mu.Unlock()

	r.attempt()
}

// SetOnline records the host network state. Coming back online runs a deferred
// attempt immediately and reports true.
func (r *Reconnector) SetOnline(online bool) bool {
	r.mu.Lock()
	r.online = online
	if !online || !r.deferred {
		r.mu.Unlock()
		return false
	}
	r.deferred = false
	r.gen++
	r.mu.Unlock()

	r.logger.Info("host back online, reconnecting")
	r.attempt()
	return true
}

// Reset zeroes the retry count and cancels anything scheduled. Called on a successful open.
func (r *Reconnector) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.retryCount = 0
	r.cancelLocked()
}

// Cancel drops any armed timer or deferred attempt without touching the retry count.
func (r *Reconnector) Cancel() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancelLocked()
}

func (r *Reconnector) cancelLocked() {
	r.stopTimerLocked()
	r.deferred = false
	r.gen++
}

func (r *Reconnector) stopTimerLocked() {
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
}

// RetryCount returns the number of retries scheduled since the last successful open.
func (r *Reconnector) RetryCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.retryCount
}

// Online reports the last known host network state.
func (r *Reconnector) Online() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.online
}

// Pending reports whether a retry timer is armed or an attempt is deferred.
func (r *Reconnector) Pending() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.timer != nil || r.deferred
}
