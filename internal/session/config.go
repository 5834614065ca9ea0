package session

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/remote-chat/backend/internal/ack"
	"github.com/remote-chat/backend/internal/metrics"
	"github.com/remote-chat/backend/internal/model"
	"github.com/remote-chat/backend/internal/reconnect"
)

// Config holds configuration for a Session.
type Config struct {
	// URL is the chat server WebSocket endpoint; token and session_id are appended.
	URL string
	// UserID is the local user; inbound typing from it is ignored.
	UserID string
	Header http.Header

	ConnectTimeout time.Duration
	AckTimeout     time.Duration

	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration

	Backoff reconnect.Policy

	QueueCapacity   int
	QueueStaleAfter time.Duration

	TypingTimeout   time.Duration
	ReceiptDebounce time.Duration
	DedupWindow     int
}

// ackTimeouts overrides the default ack timeout for slower operations.
var ackTimeouts = map[model.MessageType]time.Duration{
	model.MessageTypeForwardMessage: 15 * time.Second,
	model.MessageTypeCallJoin:       15 * time.Second,
}

func (c Config) ackTimeoutFor(t model.MessageType) time.Duration {
	if d, ok := ackTimeouts[t]; ok {
		return d
	}
	if c.AckTimeout > 0 {
		return c.AckTimeout
	}
	return ack.DefaultTimeout
}

// Journal persists connection status transitions.
type Journal interface {
	Record(ctx context.Context, event *model.ConnectionEvent) error
}

// Recorder receives a copy of every frame on the wire.
type Recorder interface {
	RecordInbound(frame []byte) error
	RecordOutbound(frame []byte) error
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the logger for the session and its components.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) {
		s.logger = logger
	}
}

// WithMetrics sets the prometheus collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Session) {
		s.metrics = m
	}
}

// WithJournal records every status transition.
func WithJournal(j Journal) Option {
	return func(s *Session) {
		s.journal = j
	}
}

// WithRecorder records every inbound and outbound frame.
func WithRecorder(r Recorder) Option {
	return func(s *Session) {
		s.recorder = r
	}
}

// WithDialer sets the WebSocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(s *Session) {
		s.dialer = d
	}
}

// WithRand sets the backoff jitter source.
func WithRand(fn func() float64) Option {
	return func(s *Session) {
		s.rand = fn
	}
}

// WithSessionID overrides the generated session id.
func WithSessionID(id string) Option {
	return func(s *Session) {
		s.id = id
	}
}
