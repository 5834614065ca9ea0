package codec

import (
	"errors"
	"testing"

	"github.com/gorilla/websocket"

	"github.com/remote-chat/backend/internal/model"
)

func TestDecodeText(t *testing.T) {
	msg, err := Decode(websocket.TextMessage, []byte(`{"type":"new_message","id":"m1","chat_id":"c1","text":"hi"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if msg.Type != model.MessageTypeNewMessage {
		t.Errorf("expected type new_message, got %s", msg.Type)
	}
	if msg.ID != "m1" {
		t.Errorf("expected id m1, got %s", msg.ID)
	}
	if msg.String("chat_id") != "c1" || msg.String("text") != "hi" {
		t.Errorf("fields not preserved: %v", msg.Fields)
	}
	if msg.Tag != nil {
		t.Errorf("text frame should not carry a tag")
	}
}

func TestDecodeBinary(t *testing.T) {
	frame := append([]byte{0x01, 0x02}, []byte(`{"type":"call_ice","call_id":"k"}`)...)

	msg, err := Decode(websocket.BinaryMessage, frame)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if msg.Tag == nil || *msg.Tag != 0x0102 {
		t.Fatalf("expected big-endian tag 0x0102, got %v", msg.Tag)
	}
	if msg.Type != model.MessageTypeCallICE {
		t.Errorf("expected type call_ice, got %s", msg.Type)
	}
}

func TestDecodeMalformed(t *testing.T) {
	testCases := []struct {
		name      string
		frameType int
		input     []byte
	}{
		{name: "invalid json", frameType: websocket.TextMessage, input: []byte(`{"type":`)},
		{name: "missing type", frameType: websocket.TextMessage, input: []byte(`{"id":"x"}`)},
		{name: "empty type", frameType: websocket.TextMessage, input: []byte(`{"type":""}`)},
		{name: "json array", frameType: websocket.TextMessage, input: []byte(`[1,2]`)},
		{name: "short binary", frameType: websocket.BinaryMessage, input: []byte{0x01}},
		{name: "binary bad json", frameType: websocket.BinaryMessage, input: []byte{0x00, 0x01, '{'}},
		{name: "invalid utf8", frameType: websocket.TextMessage, input: []byte{'{', 0xff, '}'}},
		{name: "unknown frame type", frameType: websocket.PingMessage, input: []byte(`{"type":"ping"}`)},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode(tc.frameType, tc.input)
			if !errors.Is(err, model.ErrMalformedFrame) {
				t.Errorf("expected ErrMalformedFrame, got %v", err)
			}
		})
	}
}

func TestEncodeBinaryLayout(t *testing.T) {
	msg, err := model.NewMessage(model.MessageTypeCallSignal, map[string]string{"call_id": "c"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	frame, err := EncodeBinary(0xABCD, msg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if frame[0] != 0xAB || frame[1] != 0xCD {
		t.Errorf("expected tag bytes AB CD, got %X %X", frame[0], frame[1])
	}

	decoded, err := DecodeBinary(frame)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decoded.String("call_id") != "c" || *decoded.Tag != 0xABCD {
		t.Errorf("binary frame did not decode back: %+v", decoded)
	}
}

func TestEncodePicksFrameType(t *testing.T) {
	msg, _ := model.NewMessage(model.MessageTypeSendMessage, nil)

	frameType, _, err := Encode(msg)
	if err != nil || frameType != websocket.TextMessage {
		t.Errorf("untagged message should encode as text, got %d (%v)", frameType, err)
	}

	tag := uint16(7)
	msg.Tag = &tag
	frameType, data, err := Encode(msg)
	if err != nil || frameType != websocket.BinaryMessage {
		t.Errorf("tagged message should encode as binary, got %d (%v)", frameType, err)
	}
	if data[0] != 0 || data[1] != 7 {
		t.Errorf("unexpected tag bytes %v", data[:2])
	}
}
