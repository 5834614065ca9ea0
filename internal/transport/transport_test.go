package transport

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/remote-chat/backend/internal/model"
)

type closeInfo struct {
	code   int
	reason string
}

type recordingListener struct {
	mu       sync.Mutex
	opened   int
	messages []string
	closes   []closeInfo
	errs     []error
	closed   chan closeInfo
	received chan string
}

func newRecordingListener() *recordingListener {
	return &recordingListener{
		closed:   make(chan closeInfo, 4),
		received: make(chan string, 16),
	}
}

func (l *recordingListener) OnOpen(*Transport) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.opened++
}

func (l *recordingListener) OnMessage(_ *Transport, _ int, data []byte) {
	l.mu.Lock()
	l.messages = append(l.messages, string(data))
	l.mu.Unlock()
	l.received <- string(data)
}

func (l *recordingListener) OnClose(_ *Transport, code int, reason string) {
	l.mu.Lock()
	l.closes = append(l.closes, closeInfo{code, reason})
	l.mu.Unlock()
	l.closed <- closeInfo{code, reason}
}

func (l *recordingListener) OnError(_ *Transport, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errs = append(l.errs, err)
}

func (l *recordingListener) closeCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.closes)
}

func waitClose(t *testing.T, l *recordingListener) closeInfo {
	t.Helper()
	select {
	case c := <-l.closed:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("OnClose was never called")
		return closeInfo{}
	}
}

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// echoServer echoes every frame back to the client.
func echoServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(mt, data); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestTransportOpenSendReceive(t *testing.T) {
	srv := echoServer(t)
	l := newRecordingListener()
	tr := New(Config{URL: wsURL(srv)}, l)

	if err := tr.Open(context.Background()); err != nil {
		t.Fatalf("open failed: %v", err)
	}
	for _, text := range []string{`{"type":"a"}`, `{"type":"b"}`} {
		if err := tr.Send(websocket.TextMessage, []byte(text)); err != nil {
			t.Fatalf("send failed: %v", err)
		}
	}
	for _, want := range []string{`{"type":"a"}`, `{"type":"b"}`} {
		select {
		case got := <-l.received:
			if got != want {
				t.Errorf("expected %s, got %s", want, got)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("echo never arrived")
		}
	}

	tr.Close(model.CloseNormal, "bye")
	tr.Close(model.CloseNormal, "again")

	c := waitClose(t, l)
	if c.code != model.CloseNormal || c.reason != "bye" {
		t.Errorf("expected local close code, got %+v", c)
	}
	select {
	case extra := <-l.closed:
		t.Errorf("OnClose must fire exactly once, got a second close %+v", extra)
	case <-time.After(50 * time.Millisecond):
	}
	if l.closeCount() != 1 {
		t.Errorf("OnClose must fire exactly once, got %d", l.closeCount())
	}
	if err := tr.Send(websocket.TextMessage, []byte("x")); !errors.Is(err, model.ErrNotConnected) {
		t.Errorf("expected ErrNotConnected after close, got %v", err)
	}
}

func TestTransportOpenTwice(t *testing.T) {
	srv := echoServer(t)
	tr := New(Config{URL: wsURL(srv)}, newRecordingListener())

	if err := tr.Open(context.Background()); err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer tr.Close(model.CloseNormal, "")

	if err := tr.Open(context.Background()); !errors.Is(err, model.ErrAlreadyOpen) {
		t.Errorf("expected ErrAlreadyOpen, got %v", err)
	}
}

func TestTransportServerCloseCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(model.CloseUnauthorized, "bad token"))
		conn.ReadMessage()
	}))
	defer srv.Close()

	l := newRecordingListener()
	tr := New(Config{URL: wsURL(srv)}, l)
	if err := tr.Open(context.Background()); err != nil {
		t.Fatalf("open failed: %v", err)
	}

	c := waitClose(t, l)
	if c.code != model.CloseUnauthorized || c.reason != "bad token" {
		t.Errorf("expected server close code, got %+v", c)
	}
}

func TestTransportHandshakeRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer srv.Close()

	l := newRecordingListener()
	tr := New(Config{URL: wsURL(srv)}, l)

	if err := tr.Open(context.Background()); err == nil {
		t.Fatal("expected dial error")
	}
	if c := waitClose(t, l); c.code != model.CloseForbidden {
		t.Errorf("expected %d, got %+v", model.CloseForbidden, c)
	}
}

func TestTransportConnectTimeout(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	defer ln.Close()

	var conns []net.Conn
	var mu sync.Mutex
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			conns = append(conns, c)
			mu.Unlock()
		}
	}()
	defer func() {
		mu.Lock()
		defer mu.Unlock()
		for _, c := range conns {
			c.Close()
		}
	}()

	l := newRecordingListener()
	tr := New(Config{URL: "ws://" + ln.Addr().String(), ConnectTimeout: 50 * time.Millisecond}, l)

	if err := tr.Open(context.Background()); err == nil {
		t.Fatal("expected timeout error")
	}
	if c := waitClose(t, l); c.code != model.CloseConnectTimeout {
		t.Errorf("expected %d, got %+v", model.CloseConnectTimeout, c)
	}
}

func TestTransportAbnormalDrop(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.UnderlyingConn().Close()
	}))
	defer srv.Close()

	l := newRecordingListener()
	tr := New(Config{URL: wsURL(srv)}, l)
	if err := tr.Open(context.Background()); err != nil {
		t.Fatalf("open failed: %v", err)
	}

	if c := waitClose(t, l); c.code != model.CloseAbnormal {
		t.Errorf("expected %d, got %+v", model.CloseAbnormal, c)
	}
}

func TestCloseBeforeOpen(t *testing.T) {
	l := newRecordingListener()
	tr := New(Config{URL: "ws://127.0.0.1:1"}, l)

	tr.Close(model.CloseNormal, "never mind")
	if c := waitClose(t, l); c.code != model.CloseNormal {
		t.Errorf("unexpected close %+v", c)
	}
	if err := tr.Open(context.Background()); !errors.Is(err, model.ErrConnectionClosed) {
		t.Errorf("closed transport must not reopen, got %v", err)
	}
}

func TestBuildURL(t *testing.T) {
	got, err := BuildURL("wss://chat.example.com/ws?v=2", "tok en", "s-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(got, "token=tok+en") || !strings.Contains(got, "session_id=s-1") || !strings.Contains(got, "v=2") {
		t.Errorf("unexpected url %s", got)
	}
	if strings.Contains(redact(got), "tok") {
		t.Errorf("token should be redacted: %s", redact(got))
	}
}
