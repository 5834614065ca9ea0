package ws

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/remote-chat/backend/internal/events"
	"github.com/remote-chat/backend/internal/model"
	"github.com/remote-chat/backend/internal/session"
)

// bridgeFixture is a bridge service with one attached, never-connected session.
type bridgeFixture struct {
	svc     *Service
	session *session.Session
	srv     *httptest.Server
}

func newBridgeFixture(t *testing.T) *bridgeFixture {
	t.Helper()

	svc := NewService(nil)
	sess := session.New(session.Config{URL: "ws://127.0.0.1:1/ws", UserID: "me"})
	svc.Attach(sess)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		svc.Handler().HandleConnection(w, r, r.URL.Query().Get("session"))
	}))

	t.Cleanup(func() {
		srv.Close()
		svc.Close()
		sess.Disconnect(model.CloseNormal, "test done")
	})
	return &bridgeFixture{svc: svc, session: sess, srv: srv}
}

func (f *bridgeFixture) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/?session=" + f.session.SessionID()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func writeCommand(t *testing.T, conn *websocket.Conn, cmd string) {
	t.Helper()
	if err := conn.WriteMessage(websocket.TextMessage, []byte(cmd)); err != nil {
		t.Fatalf("write failed: %v", err)
	}
}

// readUntil reads bridge messages until one satisfies match.
func readUntil(t *testing.T, conn *websocket.Conn, match func(*Message) bool) *Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read failed: %v", err)
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("bridge sent invalid JSON %q: %v", data, err)
		}
		if match(&msg) {
			return &msg
		}
	}
}

func withRef(ref string) func(*Message) bool {
	return func(m *Message) bool { return m.Ref == ref }
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestBridgeSendsSnapshotFirst(t *testing.T) {
	f := newBridgeFixture(t)
	conn := f.dial(t)

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("invalid snapshot: %v", err)
	}
	if msg.Type != MessageTypeSnapshot {
		t.Fatalf("expected snapshot first, got %s", msg.Type)
	}

	var snap struct {
		Stats session.Stats `json:"stats"`
	}
	if err := json.Unmarshal(msg.Data, &snap); err != nil {
		t.Fatalf("invalid snapshot data: %v", err)
	}
	if snap.Stats.SessionID != f.session.SessionID() || snap.Stats.Status != model.StatusIdle {
		t.Errorf("unexpected snapshot %+v", snap.Stats)
	}

	waitFor(t, "client registration", func() bool { return f.svc.ClientCount(f.session.SessionID()) == 1 })
}

func TestBridgeForwardsSessionEvents(t *testing.T) {
	f := newBridgeFixture(t)
	conn := f.dial(t)
	readUntil(t, conn, func(m *Message) bool { return m.Type == MessageTypeSnapshot })
	waitFor(t, "client registration", func() bool { return f.svc.ClientCount(f.session.SessionID()) == 1 })

	f.session.Disconnect(model.CloseNormal, "bye")

	msg := readUntil(t, conn, func(m *Message) bool { return m.Type == MessageTypeEvent })
	if msg.Event != events.KindStatusChanged {
		t.Fatalf("expected status_changed, got %s", msg.Event)
	}
	var ev events.StatusChanged
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		t.Fatalf("invalid event data: %v", err)
	}
	if ev.To != model.StatusDisconnected || ev.Reason != "bye" {
		t.Errorf("unexpected event %+v", ev)
	}
}

func TestBridgeSendCommand(t *testing.T) {
	f := newBridgeFixture(t)
	conn := f.dial(t)

	writeCommand(t, conn, `{"type":"send","ref":"r1","data":{"type":"send_message","chat_id":"c1","text":"hi"}}`)
	msg := readUntil(t, conn, withRef("r1"))
	if msg.Type != MessageTypeResult {
		t.Fatalf("expected result, got %s (%s)", msg.Type, msg.Error)
	}
	var res struct {
		ID     string `json:"id"`
		Result string `json:"result"`
	}
	json.Unmarshal(msg.Data, &res)
	if res.Result != "queued" || res.ID == "" {
		t.Errorf("unexpected result %+v", res)
	}
	if f.session.QueueDepth() != 1 {
		t.Errorf("expected 1 queued message, got %d", f.session.QueueDepth())
	}

	writeCommand(t, conn, `{"type":"send","ack":true,"ref":"r2","data":{"type":"send_message","chat_id":"c1","text":"hi"}}`)
	msg = readUntil(t, conn, withRef("r2"))
	if msg.Type != MessageTypeError || msg.Error != model.ErrNotConnected.Error() {
		t.Errorf("expected not connected error, got %+v", msg)
	}

	writeCommand(t, conn, `{"type":"send","ref":"r3","data":{"chat_id":"c1"}}`)
	msg = readUntil(t, conn, withRef("r3"))
	if msg.Type != MessageTypeError {
		t.Errorf("a send without a wire type must fail, got %s", msg.Type)
	}
}

func TestBridgeStateCommands(t *testing.T) {
	f := newBridgeFixture(t)
	conn := f.dial(t)

	writeCommand(t, conn, `{"type":"presence","status":"away"}`)
	writeCommand(t, conn, `{"type":"typing","chat_id":"c1"}`)
	writeCommand(t, conn, `{"type":"mark_read","chat_id":"c1","message_ids":["m1","m2"]}`)
	writeCommand(t, conn, `{"type":"online","online":false}`)

	waitFor(t, "presence", func() bool { return f.session.Presence().MyStatus() == model.PresenceAway })
	waitFor(t, "typing", func() bool { return f.session.Typing().IsTyping("c1") })
	waitFor(t, "offline", func() bool { return !f.session.Stats().Online })
	if pending := f.session.Receipts().Pending("c1"); len(pending) != 2 {
		t.Errorf("expected 2 pending receipts, got %v", pending)
	}

	writeCommand(t, conn, `{"type":"stop_typing","chat_id":"c1"}`)
	waitFor(t, "typing stop", func() bool { return !f.session.Typing().IsTyping("c1") })
}

func TestBridgeRejectsBadCommands(t *testing.T) {
	f := newBridgeFixture(t)
	conn := f.dial(t)

	cases := map[string]string{
		"p1": `{"type":"presence","status":"busy","ref":"p1"}`,
		"v1": `{"type":"visibility","ref":"v1"}`,
		"u1": `{"type":"resize","ref":"u1"}`,
		"t1": `{"type":"typing","ref":"t1"}`,
	}
	for ref, cmd := range cases {
		writeCommand(t, conn, cmd)
		msg := readUntil(t, conn, withRef(ref))
		if msg.Type != MessageTypeError || msg.Error == "" {
			t.Errorf("%s: expected error, got %+v", ref, msg)
		}
	}

	writeCommand(t, conn, `{"type":"ping","ref":"k1"}`)
	if msg := readUntil(t, conn, withRef("k1")); msg.Type != MessageTypePong {
		t.Errorf("expected pong, got %s", msg.Type)
	}
}

func TestBridgeUnknownSession(t *testing.T) {
	f := newBridgeFixture(t)

	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/?session=missing"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("expected handshake failure")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %v", resp)
	}
}

func TestBridgeOriginAllowList(t *testing.T) {
	SetCheckOrigin(AllowOrigins("http://localhost:5173"))
	t.Cleanup(func() { SetCheckOrigin(AllowOrigins("*")) })
	f := newBridgeFixture(t)

	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/?session=" + f.session.SessionID()

	header := http.Header{"Origin": {"http://evil.example.com"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	if err == nil {
		t.Fatal("expected handshake failure for unlisted origin")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Errorf("expected 403, got %v", resp)
	}

	header = http.Header{"Origin": {"http://localhost:5173"}}
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("listed origin rejected: %v", err)
	}
	conn.Close()
}

func TestAllowOrigins(t *testing.T) {
	check := AllowOrigins("https://UI.example.com")
	testCases := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"https://ui.example.com", true},
		{"https://other.example.com", false},
	}
	for _, tc := range testCases {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		if tc.origin != "" {
			r.Header.Set("Origin", tc.origin)
		}
		if got := check(r); got != tc.want {
			t.Errorf("origin %q: expected %v, got %v", tc.origin, tc.want, got)
		}
	}
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Origin", "https://anything.example.com")
	if !AllowOrigins("*")(r) {
		t.Error("wildcard must allow requests")
	}
}

func TestBridgeDetachClosesClients(t *testing.T) {
	f := newBridgeFixture(t)
	conn := f.dial(t)
	readUntil(t, conn, func(m *Message) bool { return m.Type == MessageTypeSnapshot })
	waitFor(t, "client registration", func() bool { return f.svc.ClientCount(f.session.SessionID()) == 1 })

	f.svc.Detach(f.session.SessionID())

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	if _, ok := f.svc.Session(f.session.SessionID()); ok {
		t.Error("detached session is still reachable")
	}
	if f.svc.ClientCount(f.session.SessionID()) != 0 {
		t.Error("detached session still has clients")
	}
}
