package chatclient

import (
	"errors"
	"testing"
	"time"
)

func TestEmbeddedSessionQueuesOffline(t *testing.T) {
	s := New(Config{URL: "ws://127.0.0.1:1/ws"}, WithSessionID("embedded"))
	defer s.Disconnect(1000, "done")

	if s.SessionID() != "embedded" {
		t.Errorf("unexpected session id %s", s.SessionID())
	}

	msg, err := NewMessage("send_message", map[string]string{"chat_id": "c1", "text": "hi"})
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if res, err := s.Send(msg); err != nil || res.String() != "queued" {
		t.Errorf("expected queued, got %s (%v)", res, err)
	}
	if _, err := s.SendAck(msg, time.Second); !errors.Is(err, ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
	if err := s.Connect(""); !errors.Is(err, ErrCredentialRequired) {
		t.Errorf("expected ErrCredentialRequired, got %v", err)
	}
}

func TestDefaultPolicy(t *testing.T) {
	p := DefaultPolicy()
	if p.Base != time.Second || p.Max != 30*time.Second {
		t.Errorf("unexpected default policy %+v", p)
	}

	var unset Policy
	if unset.Delay(0, 0) == unset.Delay(0, 0.99) {
		t.Error("an unset policy must still apply jitter")
	}
	off := Policy{JitterRatio: NoJitter}
	if off.Delay(0, 0) != off.Delay(0, 0.99) {
		t.Error("NoJitter must disable jitter")
	}
}
