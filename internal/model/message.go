package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// MessageType is the `type` discriminator carried by every wire message.
type MessageType string

const (
	// Connection control
	MessageTypePing MessageType = "ping"
	MessageTypePong MessageType = "pong"

	// Correlation
	MessageTypeAck   MessageType = "ack"
	MessageTypeError MessageType = "error"

	// Chat, client -> server
	MessageTypeSendMessage    MessageType = "send_message"
	MessageTypeEditMessage    MessageType = "edit_message"
	MessageTypeDeleteMessage  MessageType = "delete_message"
	MessageTypeReactMessage   MessageType = "react_message"
	MessageTypeForwardMessage MessageType = "forward_message"
	MessageTypePinMessage     MessageType = "pin_message"
	MessageTypeUnpinMessage   MessageType = "unpin_message"

	// Chat, server -> client
	MessageTypeNewMessage      MessageType = "new_message"
	MessageTypeMessageEdited   MessageType = "message_edited"
	MessageTypeMessageDeleted  MessageType = "message_deleted"
	MessageTypeMessageReaction MessageType = "message_reaction"
	MessageTypeMessagePinned   MessageType = "message_pinned"
	MessageTypeMessageUnpinned MessageType = "message_unpinned"

	// Presence
	MessageTypePresence      MessageType = "presence"
	MessageTypePresenceBatch MessageType = "presence_batch"

	// Typing
	MessageTypeTyping MessageType = "typing"

	// Read receipts
	MessageTypeReadReceipt      MessageType = "read_receipt"
	MessageTypeMessageRead      MessageType = "message_read"
	MessageTypeMessageDelivered MessageType = "message_delivered"

	// Calls, payloads are passed through untouched
	MessageTypeCallJoin   MessageType = "call_join"
	MessageTypeCallLeave  MessageType = "call_leave"
	MessageTypeCallSignal MessageType = "call_signal"
	MessageTypeCallOffer  MessageType = "call_offer"
	MessageTypeCallAnswer MessageType = "call_answer"
	MessageTypeCallICE    MessageType = "call_ice"
	MessageTypeCallEnd    MessageType = "call_end"
)

// transientTypes lose their meaning once stale and are never queued while offline.
var transientTypes = map[MessageType]bool{
	MessageTypePing:        true,
	MessageTypePong:        true,
	MessageTypeTyping:      true,
	MessageTypePresence:    true,
	MessageTypeReadReceipt: true,
}

// IsTransient reports whether messages of type t must be dropped rather than queued.
func IsTransient(t MessageType) bool {
	return transientTypes[t]
}

// Reserved top-level keys handled by Message itself.
const (
	keyType = "type"
	keyID   = "id"
	keyTS   = "ts"
)

// Message is a flat JSON wire object: {"type": ..., "id": ..., "ts": ..., <fields>}.
//
// Tag and QueuedAt are local metadata and never serialized.
type Message struct {
	Type MessageType
	ID   string
	// TS is a unix timestamp in milliseconds; zero means absent.
	TS int64

	Fields map[string]json.RawMessage

	// Tag is the numeric type tag of a binary frame, nil for text frames.
	Tag *uint16
	// QueuedAt is set while the message sits in the outbound queue.
	QueuedAt time.Time
}

// NewMessage builds a message of type t whose fields are the JSON object encoding of payload.
// A nil payload yields a message with no extra fields.
func NewMessage(t MessageType, payload any) (*Message, error) {
	msg := &Message{Type: t, Fields: make(map[string]json.RawMessage)}
	if payload == nil {
		return msg, nil
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", t, err)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("%s payload must encode to a JSON object: %w", t, err)
	}

	for k, v := range fields {
		switch k {
		case keyType:
			continue
		case keyID:
			var id string
			if json.Unmarshal(v, &id) == nil {
				msg.ID = id
			}
		case keyTS:
			var ts int64
			if json.Unmarshal(v, &ts) == nil {
				msg.TS = ts
			}
		default:
			msg.Fields[k] = v
		}
	}

	return msg, nil
}

// MarshalJSON flattens the message into a single JSON object.
func (m Message) MarshalJSON() ([]byte, error) {
	obj := make(map[string]json.RawMessage, len(m.Fields)+3)
	for k, v := range m.Fields {
		obj[k] = v
	}

	typ, err := json.Marshal(m.Type)
	if err != nil {
		return nil, err
	}
	obj[keyType] = typ

	if m.ID != "" {
		id, err := json.Marshal(m.ID)
		if err != nil {
			return nil, err
		}
		obj[keyID] = id
	}

	if m.TS != 0 {
		obj[keyTS] = json.RawMessage(fmt.Sprintf("%d", m.TS))
	}

	return json.Marshal(obj)
}

// UnmarshalJSON parses a flat JSON object. A missing or empty type is an error.
func (m *Message) UnmarshalJSON(data []byte) error {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}

	raw, ok := obj[keyType]
	if !ok {
		return fmt.Errorf("%w: missing type", ErrMalformedFrame)
	}
	var typ string
	if err := json.Unmarshal(raw, &typ); err != nil || typ == "" {
		return fmt.Errorf("%w: invalid type", ErrMalformedFrame)
	}
	delete(obj, keyType)

	m.Type = MessageType(typ)
	m.ID = ""
	m.TS = 0

	if raw, ok := obj[keyID]; ok {
		m.ID = rawIdentifier(raw)
		delete(obj, keyID)
	}

	if raw, ok := obj[keyTS]; ok {
		var ts float64
		if err := json.Unmarshal(raw, &ts); err == nil {
			m.TS = int64(ts)
		}
		delete(obj, keyTS)
	}

	m.Fields = obj
	return nil
}

// rawIdentifier accepts string or numeric ids; servers are not consistent about either.
func rawIdentifier(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return ""
	}
	return string(trimmed)
}

// Set stores v under key, replacing any previous value.
func (m *Message) Set(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal field %s: %w", key, err)
	}
	if m.Fields == nil {
		m.Fields = make(map[string]json.RawMessage)
	}
	m.Fields[key] = data
	return nil
}

// String returns the string field key, or "" when absent or not a string.
func (m *Message) String(key string) string {
	raw, ok := m.Fields[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

// Bool returns the boolean field key and whether it was present and boolean.
func (m *Message) Bool(key string) (bool, bool) {
	raw, ok := m.Fields[key]
	if !ok {
		return false, false
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err != nil {
		return false, false
	}
	return b, true
}

// RefID returns the correlation id of an error frame.
func (m *Message) RefID() string {
	raw, ok := m.Fields["ref_id"]
	if !ok {
		return ""
	}
	return rawIdentifier(raw)
}

// Decode unmarshals the whole message (type, id, ts and fields) into v.
func (m *Message) Decode(v any) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// Clone returns a copy that shares no mutable state with m.
func (m *Message) Clone() *Message {
	c := *m
	if m.Fields != nil {
		c.Fields = make(map[string]json.RawMessage, len(m.Fields))
		for k, v := range m.Fields {
			c.Fields[k] = append(json.RawMessage(nil), v...)
		}
	}
	if m.Tag != nil {
		tag := *m.Tag
		c.Tag = &tag
	}
	return &c
}

// SendResult reports what happened to a fire-and-forget send.
type SendResult int

const (
	// SendDropped means the message was transient and the connection was down.
	SendDropped SendResult = iota
	// SendTransmitted means the frame was handed to the transport.
	SendTransmitted
	// SendQueued means the message waits in the outbound queue for the next open.
	SendQueued
)

func (r SendResult) String() string {
	switch r {
	case SendTransmitted:
		return "sent"
	case SendQueued:
		return "queued"
	default:
		return "dropped"
	}
}
