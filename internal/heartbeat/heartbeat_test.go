package heartbeat

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type pingRecorder struct {
	mu  sync.Mutex
	ts  []int64
	err error
}

func (p *pingRecorder) ping(ts int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ts = append(p.ts, ts)
	return p.err
}

func (p *pingRecorder) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.ts)
}

func (p *pingRecorder) last() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.ts) == 0 {
		return 0
	}
	return p.ts[len(p.ts)-1]
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestHeartbeatPingsOnInterval(t *testing.T) {
	rec := &pingRecorder{}
	var timeouts int32
	h := New(Config{Interval: 20 * time.Millisecond, Timeout: time.Second}, rec.ping, func() {
		atomic.AddInt32(&timeouts, 1)
	})
	h.Start()
	defer h.Stop()

	waitFor(t, func() bool { return rec.count() >= 1 }, "no ping sent")
	if !h.AwaitingPong() {
		t.Error("pong deadline should be armed after a ping")
	}
	h.HandlePong(rec.last())
	if h.AwaitingPong() {
		t.Error("pong should clear the deadline")
	}

	waitFor(t, func() bool { return rec.count() >= 3 }, "pings should keep flowing")
	if atomic.LoadInt32(&timeouts) != 0 {
		t.Error("no timeout expected")
	}
}

func TestHeartbeatTimeoutFiresOnce(t *testing.T) {
	rec := &pingRecorder{}
	var timeouts int32
	h := New(Config{Interval: 10 * time.Millisecond, Timeout: 30 * time.Millisecond}, rec.ping, func() {
		atomic.AddInt32(&timeouts, 1)
	})
	h.Start()

	waitFor(t, func() bool { return atomic.LoadInt32(&timeouts) == 1 }, "timeout never fired")
	time.Sleep(60 * time.Millisecond)

	if n := atomic.LoadInt32(&timeouts); n != 1 {
		t.Errorf("expected exactly 1 timeout, got %d", n)
	}
	if h.Running() {
		t.Error("heartbeat should stop itself after a timeout")
	}
}

func TestHeartbeatStopCancelsDeadline(t *testing.T) {
	rec := &pingRecorder{}
	var timeouts int32
	h := New(Config{Interval: 10 * time.Millisecond, Timeout: 40 * time.Millisecond}, rec.ping, func() {
		atomic.AddInt32(&timeouts, 1)
	})
	h.Start()
	waitFor(t, func() bool { return rec.count() >= 1 }, "no ping sent")

	h.Stop()
	sent := rec.count()
	time.Sleep(80 * time.Millisecond)

	if atomic.LoadInt32(&timeouts) != 0 {
		t.Error("a stopped heartbeat must not time out")
	}
	if rec.count() != sent {
		t.Error("a stopped heartbeat must not ping")
	}
}

func TestHeartbeatRecordsRTT(t *testing.T) {
	rec := &pingRecorder{}
	h := New(Config{Interval: time.Hour, Timeout: time.Hour}, rec.ping, func() {})

	base := time.UnixMilli(1_700_000_000_000)
	h.now = func() time.Time { return base.Add(120 * time.Millisecond) }

	var observed time.Duration
	h.SetOnRTT(func(d time.Duration) { observed = d })

	h.Start()
	defer h.Stop()
	h.HandlePong(base.UnixMilli())

	if h.LastRTT() != 120*time.Millisecond || observed != 120*time.Millisecond {
		t.Errorf("expected 120ms rtt, got %s / %s", h.LastRTT(), observed)
	}
}

func TestHeartbeatPongIgnoredWhenStopped(t *testing.T) {
	h := New(Config{}, func(int64) error { return nil }, func() {})
	h.HandlePong(time.Now().UnixMilli())
	if h.LastRTT() != 0 {
		t.Error("pong while stopped must be ignored")
	}
}

func TestHeartbeatPingErrorKeepsSchedule(t *testing.T) {
	rec := &pingRecorder{err: errors.New("write failed")}
	h := New(Config{Interval: 10 * time.Millisecond, Timeout: time.Second}, rec.ping, func() {})
	h.Start()
	defer h.Stop()

	waitFor(t, func() bool { return rec.count() >= 2 }, "ping errors should not stop the schedule")
}
