// Package chatclient exposes the chat session core for embedding in other programs.
package chatclient

import (
	"github.com/remote-chat/backend/internal/ack"
	"github.com/remote-chat/backend/internal/dispatch"
	"github.com/remote-chat/backend/internal/events"
	"github.com/remote-chat/backend/internal/model"
	"github.com/remote-chat/backend/internal/reconnect"
	"github.com/remote-chat/backend/internal/session"
)

// Re-export types from the internal packages for external use
type (
	Session      = session.Session
	Config       = session.Config
	Option       = session.Option
	Stats        = session.Stats
	Journal      = session.Journal
	Recorder     = session.Recorder
	Policy       = reconnect.Policy
	Message      = model.Message
	MessageType  = model.MessageType
	SendResult   = model.SendResult
	Status       = model.ConnectionStatus
	ServerError  = model.ServerError
	Future       = ack.Future
	Handler      = dispatch.Handler
	Subscription = dispatch.Subscription
	Event        = events.Event
	EventKind    = events.Kind
)

// Option constructors.
var (
	WithLogger    = session.WithLogger
	WithMetrics   = session.WithMetrics
	WithJournal   = session.WithJournal
	WithRecorder  = session.WithRecorder
	WithDialer    = session.WithDialer
	WithSessionID = session.WithSessionID
)

// Errors callers are expected to match with errors.Is.
var (
	ErrNotConnected       = model.ErrNotConnected
	ErrAckTimeout         = model.ErrAckTimeout
	ErrConnectionClosed   = model.ErrConnectionClosed
	ErrCredentialRequired = model.ErrCredentialRequired
	ErrUnauthorized       = model.ErrUnauthorized
)

// NoJitter disables reconnect jitter when set as Policy.JitterRatio.
const NoJitter = reconnect.NoJitter

// New creates a Session. Nothing is dialed until Connect.
func New(cfg Config, opts ...Option) *Session {
	return session.New(cfg, opts...)
}

// NewMessage builds a wire message of type t from payload's JSON object encoding.
func NewMessage(t MessageType, payload any) (*Message, error) {
	return model.NewMessage(t, payload)
}

// DefaultPolicy returns the default reconnect backoff.
func DefaultPolicy() Policy {
	return reconnect.DefaultPolicy()
}
