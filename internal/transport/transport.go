// Package transport owns one WebSocket connection to the chat server.
//
// A Transport is single use: it dials once, reports OnOpen, delivers frames on
// its read pump goroutine in arrival order and reports OnClose exactly once.
// Reconnecting means building a new Transport.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/remote-chat/backend/internal/model"
)

const (
	// DefaultConnectTimeout bounds the dial and handshake.
	DefaultConnectTimeout = 10 * time.Second

	// Time allowed to write a frame to the peer.
	writeWait = 10 * time.Second

	// Maximum message size allowed from peer.
	maxMessageSize = 1 << 20

	// Frames buffered between Send and the write pump.
	sendBufferSize = 256
)

// Listener receives transport lifecycle callbacks. Every callback carries the
// Transport so a listener can ignore events from a connection it has replaced.
type Listener interface {
	OnOpen(t *Transport)
	OnMessage(t *Transport, frameType int, data []byte)
	OnClose(t *Transport, code int, reason string)
	OnError(t *Transport, err error)
}

// Config holds dial configuration.
type Config struct {
	URL            string
	ConnectTimeout time.Duration
	Header         http.Header
	Dialer         *websocket.Dialer
	Logger         *slog.Logger
}

type state int

const (
	stateIdle state = iota
	stateOpening
	stateOpen
	stateClosed
)

type frame struct {
	frameType int
	data      []byte
}

// Transport is one duplex WebSocket channel.
type Transport struct {
	cfg      Config
	listener Listener
	logger   *slog.Logger

	mu          sync.Mutex
	state       state
	conn        *websocket.Conn
	cancelDial  context.CancelFunc
	localClose  bool
	localCode   int
	localReason string

	send      chan frame
	done      chan struct{}
	closeOnce sync.Once
}

// New creates a Transport for cfg. Nothing is dialed until Open.
func New(cfg Config, listener Listener) *Transport {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Transport{
		cfg:      cfg,
		listener: listener,
		logger:   cfg.Logger,
		send:     make(chan frame, sendBufferSize),
		done:     make(chan struct{}),
	}
}

// Open dials the server and blocks until the handshake completes or fails.
// On failure OnClose is reported with 4000 for a timeout, 4001/4003 for a
// rejected handshake and 1006 otherwise, and the error is returned.
func (t *Transport) Open(ctx context.Context) error {
	t.mu.Lock()
	switch t.state {
	case stateOpening, stateOpen:
		t.mu.Unlock()
		return model.ErrAlreadyOpen
	case stateClosed:
		t.mu.Unlock()
		return model.ErrConnectionClosed
	}
	t.state = stateOpening
	dialCtx, cancel := context.WithTimeout(ctx, t.cfg.ConnectTimeout)
	t.cancelDial = cancel
	t.mu.Unlock()
	defer cancel()

	conn, resp, err := t.cfg.Dialer.DialContext(dialCtx, t.cfg.URL, t.cfg.Header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		code, reason := dialFailure(dialCtx, resp, err)
		t.mu.Lock()
		if t.localClose {
			code, reason = t.localCode, t.localReason
		}
		t.state = stateClosed
		t.mu.Unlock()

		t.logger.Warn("websocket dial failed", "url", redact(t.cfg.URL), "code", code, "error", err)
		t.finish(code, reason)
		return fmt.Errorf("failed to dial: %w", err)
	}

	t.mu.Lock()
	if t.localClose {
		code, reason := t.localCode, t.localReason
		t.state = stateClosed
		t.mu.Unlock()
		conn.Close()
		t.finish(code, reason)
		return model.ErrConnectionClosed
	}
	t.conn = conn
	t.state = stateOpen
	t.mu.Unlock()

	conn.SetReadLimit(maxMessageSize)

	go t.writePump(conn)
	t.listener.OnOpen(t)
	go t.readPump(conn)

	return nil
}

func dialFailure(ctx context.Context, resp *http.Response, err error) (int, string) {
	if resp != nil {
		switch resp.StatusCode {
		case http.StatusUnauthorized:
			return model.CloseUnauthorized, "handshake rejected: unauthorized"
		case http.StatusForbidden:
			return model.CloseForbidden, "handshake rejected: forbidden"
		}
	}
	var netErr net.Error
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) ||
		(errors.As(err, &netErr) && netErr.Timeout()) {
		return model.CloseConnectTimeout, "connect timeout"
	}
	return model.CloseAbnormal, err.Error()
}

// readPump delivers inbound frames until the connection fails or is closed.
func (t *Transport) readPump(conn *websocket.Conn) {
	defer conn.Close()

	for {
		frameType, data, err := conn.ReadMessage()
		if err != nil {
			code, reason := model.CloseAbnormal, err.Error()
			var ce *websocket.CloseError
			isClose := errors.As(err, &ce)
			if isClose {
				code, reason = ce.Code, ce.Text
			}

			t.mu.Lock()
			local := t.localClose
			if local {
				code, reason = t.localCode, t.localReason
			}
			t.state = stateClosed
			t.mu.Unlock()

			if !isClose && !local {
				t.listener.OnError(t, err)
			}

			t.finish(code, reason)
			return
		}

		switch frameType {
		case websocket.TextMessage, websocket.BinaryMessage:
			t.listener.OnMessage(t, frameType, data)
		}
	}
}

// writePump serializes every outbound frame onto the connection.
func (t *Transport) writePump(conn *websocket.Conn) {
	for {
		select {
		case f := <-t.send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(f.frameType, f.data); err != nil {
				t.listener.OnError(t, fmt.Errorf("failed to write frame: %w", err))
				conn.Close()
				return
			}
		case <-t.done:
			return
		}
	}
}

// Send queues one frame for the write pump.
func (t *Transport) Send(frameType int, data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != stateOpen {
		return model.ErrNotConnected
	}
	select {
	case t.send <- frame{frameType: frameType, data: data}:
		return nil
	default:
		return model.ErrSendBufferFull
	}
}

// Close closes the connection with code and reason. It is idempotent, and the
// code given here is the one reported to OnClose.
func (t *Transport) Close(code int, reason string) {
	t.mu.Lock()
	if t.localClose || t.state == stateClosed {
		t.mu.Unlock()
		return
	}
	t.localClose = true
	t.localCode = code
	t.localReason = reason

	switch t.state {
	case stateIdle:
		t.state = stateClosed
		t.mu.Unlock()
		t.finish(code, reason)
		return
	case stateOpening:
		cancel := t.cancelDial
		t.mu.Unlock()
		cancel()
		return
	}

	conn := t.conn
	t.mu.Unlock()

	wireCode := code
	if wireCode >= 1004 && wireCode <= 1006 {
		wireCode = model.CloseNormal
	}
	msg := websocket.FormatCloseMessage(wireCode, reason)
	if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait)); err != nil {
		t.logger.Debug("failed to write close frame", "error", err)
	}
	conn.Close()
}

func (t *Transport) finish(code int, reason string) {
	t.closeOnce.Do(func() {
		t.listener.OnClose(t, code, reason)
		close(t.done)
	})
}
