// Package session keeps one logical chat stream alive over an unreliable
// WebSocket and exposes reliable delivery, presence, typing and read receipts.
//
// A Session is an explicit object: several may coexist in one process, each
// with its own transport, queue, correlator and event bus.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/remote-chat/backend/internal/ack"
	"github.com/remote-chat/backend/internal/codec"
	"github.com/remote-chat/backend/internal/dispatch"
	"github.com/remote-chat/backend/internal/events"
	"github.com/remote-chat/backend/internal/heartbeat"
	"github.com/remote-chat/backend/internal/metrics"
	"github.com/remote-chat/backend/internal/model"
	"github.com/remote-chat/backend/internal/outbox"
	"github.com/remote-chat/backend/internal/presence"
	"github.com/remote-chat/backend/internal/receipts"
	"github.com/remote-chat/backend/internal/reconnect"
	"github.com/remote-chat/backend/internal/transport"
	"github.com/remote-chat/backend/internal/typing"
)

// journalTimeout bounds one journal write.
const journalTimeout = 2 * time.Second

// Session is one client connection to the chat server.
type Session struct {
	cfg      Config
	id       string
	logger   *slog.Logger
	metrics  *metrics.Metrics
	journal  Journal
	recorder Recorder
	dialer   *websocket.Dialer
	rand     func() float64

	bus         *events.Bus
	queue       *outbox.Queue
	acks        *ack.Correlator
	dispatcher  *dispatch.Dispatcher
	heartbeat   *heartbeat.Heartbeat
	reconnector *reconnect.Reconnector
	presence    *presence.Tracker
	typing      *typing.Tracker
	receipts    *receipts.Batcher

	mu          sync.Mutex
	status      model.ConnectionStatus
	credential  string
	rejectedBy  int
	transport   *transport.Transport
	intentional bool
	connectedAt time.Time

	// sendMu serializes every write so queue flushes and new sends keep order.
	sendMu sync.Mutex
}

// New creates a Session. Nothing is dialed until Connect.
func New(cfg Config, opts ...Option) *Session {
	s := &Session{
		cfg:    cfg,
		logger: slog.Default(),
		status: model.StatusIdle,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.id == "" {
		s.id = uuid.New().String()
	}
	s.logger = s.logger.With("session_id", s.id)

	s.bus = events.NewBus(s.logger)
	s.queue = outbox.New(outbox.Config{
		Capacity:   cfg.QueueCapacity,
		StaleAfter: cfg.QueueStaleAfter,
		Logger:     s.logger,
	})

	s.acks = ack.NewCorrelator(cfg.AckTimeout)
	s.acks.SetOnSettle(func(id string, outcome ack.Outcome) {
		s.metrics.RecordAckOutcome(string(outcome))
		s.metrics.SetPendingAcks(s.acks.Len())
		if outcome == ack.OutcomeTimeout {
			s.logger.Warn("ack timed out", "id", id)
		}
	})

	dispatchOpts := []dispatch.Option{dispatch.WithLogger(s.logger)}
	if cfg.DedupWindow != 0 {
		dispatchOpts = append(dispatchOpts, dispatch.WithDedupWindow(cfg.DedupWindow))
	}
	s.dispatcher = dispatch.New(s.bus, s.acks, dispatchOpts...)

	s.heartbeat = heartbeat.New(heartbeat.Config{
		Interval: cfg.HeartbeatInterval,
		Timeout:  cfg.HeartbeatTimeout,
		Logger:   s.logger,
	}, s.sendPing, s.handlePongTimeout)
	s.heartbeat.SetOnRTT(s.metrics.ObserveRTT)
	s.dispatcher.SetPongHandler(func(msg *model.Message) {
		s.heartbeat.HandlePong(msg.TS)
	})

	reconnectOpts := []reconnect.Option{reconnect.WithLogger(s.logger)}
	if s.rand != nil {
		reconnectOpts = append(reconnectOpts, reconnect.WithRand(s.rand))
	}
	s.reconnector = reconnect.New(cfg.Backoff, s.attemptReconnect, reconnectOpts...)

	s.presence = presence.NewTracker(s.Send, s.bus, s.logger)
	s.typing = typing.NewTracker(s.Send, s.bus, cfg.TypingTimeout, s.logger)
	s.typing.SetSelfUserID(cfg.UserID)
	s.receipts = receipts.NewBatcher(s.Send, s.bus, cfg.ReceiptDebounce, s.logger)

	s.dispatcher.On(model.MessageTypePresence, s.presence.HandlePresence)
	s.dispatcher.On(model.MessageTypePresenceBatch, s.presence.HandleBatch)
	s.dispatcher.On(model.MessageTypeTyping, s.typing.HandleTyping)
	s.dispatcher.On(model.MessageTypeMessageRead, s.receipts.HandleReceipt)
	s.dispatcher.On(model.MessageTypeMessageDelivered, s.receipts.HandleReceipt)

	s.metrics.SetStatus(string(model.StatusIdle))
	return s
}

// Connect starts connecting with credential. It returns immediately; progress
// is reported through StatusChanged events.
func (s *Session) Connect(credential string) error {
	if credential == "" {
		return model.ErrCredentialRequired
	}

	s.mu.Lock()
	if s.transport != nil {
		s.mu.Unlock()
		return model.ErrAlreadyOpen
	}
	s.credential = credential
	s.rejectedBy = 0
	s.intentional = false
	s.mu.Unlock()

	s.reconnector.Cancel()
	return s.open(model.StatusConnecting)
}

// open builds a new transport and dials it in the background.
func (s *Session) open(status model.ConnectionStatus) error {
	s.mu.Lock()
	if s.intentional || s.transport != nil || s.credential == "" {
		s.mu.Unlock()
		return nil
	}
	url, err := transport.BuildURL(s.cfg.URL, s.credential, s.id)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("invalid server url: %w", err)
	}
	tr := transport.New(transport.Config{
		URL:            url,
		ConnectTimeout: s.cfg.ConnectTimeout,
		Header:         s.cfg.Header,
		Dialer:         s.dialer,
		Logger:         s.logger,
	}, transportListener{s: s})
	s.transport = tr
	ev, changed := s.setStatusLocked(status, 0, "")
	s.mu.Unlock()

	if changed {
		s.announceStatus(ev)
	}

	go func() {
		if err := tr.Open(context.Background()); err != nil {
			s.logger.Debug("connection attempt failed", "error", err)
		}
	}()
	return nil
}

func (s *Session) attemptReconnect() {
	if !s.reconnector.Online() {
		s.mu.Lock()
		ev, changed := s.setStatusLocked(model.StatusOffline, 0, "")
		s.mu.Unlock()
		if changed {
			s.announceStatus(ev)
		}
		s.reconnector.Schedule()
		return
	}
	if err := s.open(model.StatusReconnecting); err != nil {
		s.logger.Error("reconnect failed", "error", err)
	}
}

// Disconnect closes the connection intentionally. No reconnect follows, pending
// acks are rejected and the outbound queue is kept for the next Connect.
func (s *Session) Disconnect(code int, reason string) {
	if code == 0 {
		code = model.CloseNormal
	}

	s.mu.Lock()
	s.intentional = true
	tr := s.transport
	s.transport = nil
	ev, changed := s.setStatusLocked(model.StatusDisconnected, code, reason)
	s.mu.Unlock()

	s.reconnector.Reset()
	s.heartbeat.Stop()
	s.typing.Reset()
	if tr != nil {
		tr.Close(code, reason)
	}
	if n := s.acks.RejectAll("disconnected"); n > 0 {
		s.logger.Info("rejected pending acks on disconnect", "count", n)
	}

	if changed {
		s.announceStatus(ev)
	}
}

// SetOnline reports the host network state. Going offline defers reconnects;
// coming back online resumes a deferred reconnect immediately.
func (s *Session) SetOnline(online bool) {
	if online {
		s.reconnector.SetOnline(true)
		return
	}

	s.reconnector.SetOnline(false)
	s.mu.Lock()
	var ev events.StatusChanged
	changed := false
	if s.transport == nil && s.status == model.StatusReconnecting {
		ev, changed = s.setStatusLocked(model.StatusOffline, 0, "")
	}
	s.mu.Unlock()
	if changed {
		s.announceStatus(ev)
	}
}

// SetVisible reports application visibility to the presence tracker.
func (s *Session) SetVisible(visible bool) error {
	return s.presence.SetVisible(visible)
}

// transportListener adapts transport callbacks onto the session.
type transportListener struct {
	s *Session
}

func (l transportListener) OnOpen(tr *transport.Transport) { l.s.handleOpen(tr) }

func (l transportListener) OnMessage(tr *transport.Transport, frameType int, data []byte) {
	l.s.handleFrame(tr, frameType, data)
}

func (l transportListener) OnClose(tr *transport.Transport, code int, reason string) {
	l.s.handleClose(tr, code, reason)
}

func (l transportListener) OnError(tr *transport.Transport, err error) {
	l.s.logger.Warn("transport error", "error", err)
}

func (s *Session) handleOpen(tr *transport.Transport) {
	// sendMu is taken before the status turns connected so no send can reach
	// the wire ahead of the queued messages.
	s.sendMu.Lock()
	s.mu.Lock()
	if tr != s.transport {
		s.mu.Unlock()
		s.sendMu.Unlock()
		tr.Close(model.CloseNormal, "superseded")
		return
	}
	s.connectedAt = time.Now()
	ev, changed := s.setStatusLocked(model.StatusConnected, 0, "")
	s.mu.Unlock()

	s.flushLocked(tr)
	s.sendMu.Unlock()

	s.reconnector.Reset()

	s.mu.Lock()
	current := tr == s.transport
	if current {
		s.heartbeat.Start()
	}
	s.mu.Unlock()
	if !current {
		return
	}

	if changed {
		s.announceStatus(ev)
	}

	if err := s.presence.Announce(); err != nil {
		s.logger.Warn("failed to announce presence", "error", err)
	}
}

// flushLocked drains the outbound queue onto tr. Callers hold sendMu.
func (s *Session) flushLocked(tr *transport.Transport) {
	result := s.queue.Flush(func(msg *model.Message) error {
		return s.writeFrame(tr, msg)
	})

	s.metrics.SetQueueDepth(s.queue.Len())
	if result.Sent > 0 || result.Stale > 0 || result.Failed > 0 {
		s.logger.Info("flushed outbound queue", "sent", result.Sent, "stale", result.Stale, "requeued", result.Failed)
	}
}

func (s *Session) handleFrame(tr *transport.Transport, frameType int, data []byte) {
	s.mu.Lock()
	current := tr == s.transport
	s.mu.Unlock()
	if !current {
		return
	}

	if s.recorder != nil {
		if err := s.recorder.RecordInbound(data); err != nil {
			s.logger.Debug("failed to record inbound frame", "error", err)
		}
	}

	msg, err := codec.Decode(frameType, data)
	if err != nil {
		s.metrics.RecordMalformed()
		s.logger.Warn("dropped malformed frame", "error", err, "size", len(data))
		return
	}
	s.metrics.RecordFrameIn(string(msg.Type))
	s.dispatcher.Dispatch(msg)
}

func (s *Session) handleClose(tr *transport.Transport, code int, reason string) {
	s.mu.Lock()
	if tr != s.transport {
		s.mu.Unlock()
		return
	}
	s.transport = nil

	var ev events.StatusChanged
	var changed, retry bool
	terminal := model.IsTerminalClose(code)
	switch {
	case s.intentional:
		ev, changed = s.setStatusLocked(model.StatusDisconnected, code, reason)
	case terminal:
		s.credential = ""
		s.rejectedBy = code
		ev, changed = s.setStatusLocked(model.StatusDisconnected, code, reason)
	case !s.reconnector.Online():
		ev, changed = s.setStatusLocked(model.StatusOffline, code, reason)
		retry = true
	default:
		ev, changed = s.setStatusLocked(model.StatusReconnecting, code, reason)
		retry = true
	}
	s.mu.Unlock()

	s.heartbeat.Stop()
	closeErr := fmt.Errorf("%w: closed with code %d", model.ErrConnectionClosed, code)
	if terminal {
		closeErr = fmt.Errorf("%w: closed with code %d", model.ErrUnauthorized, code)
	}
	if n := s.acks.RejectAllWith(closeErr); n > 0 {
		s.logger.Info("rejected pending acks on close", "count", n, "code", code)
	}
	s.metrics.SetPendingAcks(0)

	if changed {
		s.announceStatus(ev)
	}

	if terminal {
		s.logger.Warn("server rejected credential", "code", code, "reason", reason)
		s.bus.Publish(events.Unauthorized{CloseCode: code, Reason: reason})
		return
	}
	if !retry {
		return
	}

	delay, scheduled := s.reconnector.Schedule()
	if scheduled {
		s.metrics.RecordReconnect()
		s.bus.Publish(events.Reconnecting{RetryCount: s.reconnector.RetryCount(), Delay: delay})
	}
}

func (s *Session) sendPing(ts int64) error {
	s.mu.Lock()
	tr := s.transport
	s.mu.Unlock()
	if tr == nil {
		return model.ErrNotConnected
	}

	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	return s.writeFrame(tr, &model.Message{Type: model.MessageTypePing, TS: ts})
}

func (s *Session) handlePongTimeout() {
	s.mu.Lock()
	tr := s.transport
	s.mu.Unlock()
	if tr != nil {
		tr.Close(model.ClosePongTimeout, "pong timeout")
	}
}

// setStatusLocked must be called with s.mu held.
func (s *Session) setStatusLocked(to model.ConnectionStatus, code int, reason string) (events.StatusChanged, bool) {
	from := s.status
	if from == to {
		return events.StatusChanged{}, false
	}
	s.status = to
	if to != model.StatusConnected {
		s.connectedAt = time.Time{}
	}
	return events.StatusChanged{
		From:       from,
		To:         to,
		RetryCount: s.reconnector.RetryCount(),
		CloseCode:  code,
		Reason:     reason,
	}, true
}

func (s *Session) announceStatus(ev events.StatusChanged) {
	s.metrics.SetStatus(string(ev.To))
	s.logger.Info("connection status changed", "from", ev.From, "to", ev.To, "retry_count", ev.RetryCount, "code", ev.CloseCode)

	if s.journal != nil {
		entry := &model.ConnectionEvent{
			SessionID:  s.id,
			Status:     ev.To,
			RetryCount: ev.RetryCount,
			Reason:     ev.Reason,
		}
		if ev.CloseCode != 0 {
			code := ev.CloseCode
			entry.CloseCode = &code
		}
		ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
		if err := s.journal.Record(ctx, entry); err != nil {
			s.logger.Warn("failed to journal status change", "error", err)
		}
		cancel()
	}

	s.bus.Publish(ev)
}
