package receipts

import (
	"sync"
	"testing"
	"time"

	"github.com/remote-chat/backend/internal/events"
	"github.com/remote-chat/backend/internal/model"
)

type recorder struct {
	mu       sync.Mutex
	receipts []model.ReadReceiptPayload
}

func (r *recorder) send(m *model.Message) (model.SendResult, error) {
	var p model.ReadReceiptPayload
	if err := m.Decode(&p); err != nil {
		return model.SendDropped, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.receipts = append(r.receipts, p)
	return model.SendTransmitted, nil
}

func (r *recorder) snapshot() []model.ReadReceiptPayload {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.ReadReceiptPayload(nil), r.receipts...)
}

func TestMarkReadCoalesces(t *testing.T) {
	rec := &recorder{}
	b := NewBatcher(rec.send, events.NewBus(nil), 40*time.Millisecond, nil)

	b.MarkRead("c1", "m1")
	b.MarkRead("c1", "m2", "m1")
	b.MarkRead("c2", "x")
	b.MarkRead("c1", "m3")

	if len(rec.snapshot()) != 0 {
		t.Fatal("nothing should be sent before the debounce")
	}

	time.Sleep(120 * time.Millisecond)

	got := rec.snapshot()
	if len(got) != 2 {
		t.Fatalf("expected one receipt per chat, got %d", len(got))
	}
	if got[0].ChatID != "c1" || len(got[0].MessageIDs) != 3 || got[0].MessageIDs[2] != "m3" {
		t.Errorf("unexpected first receipt %+v", got[0])
	}
	if got[1].ChatID != "c2" || got[1].MessageIDs[0] != "x" {
		t.Errorf("unexpected second receipt %+v", got[1])
	}
	if got[0].ReadAt == 0 {
		t.Error("read_at should be set")
	}
	if len(b.Pending("c1")) != 0 {
		t.Error("batches should be cleared after flush")
	}
}

func TestMarkReadRestartsDebounce(t *testing.T) {
	rec := &recorder{}
	b := NewBatcher(rec.send, events.NewBus(nil), 60*time.Millisecond, nil)

	b.MarkRead("c1", "m1")
	time.Sleep(35 * time.Millisecond)
	b.MarkRead("c1", "m2")
	time.Sleep(35 * time.Millisecond)

	if len(rec.snapshot()) != 0 {
		t.Fatal("debounce should have been pushed back")
	}

	time.Sleep(80 * time.Millisecond)
	if got := rec.snapshot(); len(got) != 1 || len(got[0].MessageIDs) != 2 {
		t.Errorf("expected one coalesced receipt, got %+v", got)
	}
}

func TestFlushSkipsEmptyChats(t *testing.T) {
	rec := &recorder{}
	b := NewBatcher(rec.send, events.NewBus(nil), time.Hour, nil)

	b.MarkRead("empty")
	b.MarkRead("c1", "m1")

	if n := b.Flush(); n != 1 {
		t.Errorf("expected 1 receipt, got %d", n)
	}
	if got := rec.snapshot(); len(got) != 1 || got[0].ChatID != "c1" {
		t.Errorf("unexpected receipts %+v", got)
	}
}

func TestResetDropsPending(t *testing.T) {
	rec := &recorder{}
	b := NewBatcher(rec.send, events.NewBus(nil), 20*time.Millisecond, nil)

	b.MarkRead("c1", "m1")
	b.Reset()
	time.Sleep(50 * time.Millisecond)

	if len(rec.snapshot()) != 0 {
		t.Error("reset batches must not be sent")
	}
}

func TestHandleReceiptPublishes(t *testing.T) {
	bus := events.NewBus(nil)
	b := NewBatcher((&recorder{}).send, bus, 0, nil)

	var got events.ReceiptUpdated
	bus.Subscribe(events.KindReceiptUpdated, func(e events.Event) {
		got = e.(events.ReceiptUpdated)
	})

	msg, _ := model.NewMessage(model.MessageTypeMessageRead, model.ReceiptNotice{ChatID: "c1", UserID: "bob", MessageIDs: []string{"m1"}})
	b.HandleReceipt(msg)

	if got.Type != model.MessageTypeMessageRead || got.Notice.UserID != "bob" || got.Notice.MessageIDs[0] != "m1" {
		t.Errorf("unexpected event %+v", got)
	}
}
