package model

import "encoding/json"

// Outbound chat payloads. Field names follow the wire catalog.

type SendMessagePayload struct {
	ChatID  string `json:"chat_id"`
	Text    string `json:"text"`
	ReplyTo string `json:"reply_to,omitempty"`
}

type EditMessagePayload struct {
	ChatID    string `json:"chat_id"`
	MessageID string `json:"message_id"`
	Text      string `json:"text"`
}

type DeleteMessagePayload struct {
	ChatID    string `json:"chat_id"`
	MessageID string `json:"message_id"`
	ForAll    bool   `json:"for_all,omitempty"`
}

type ReactMessagePayload struct {
	ChatID    string `json:"chat_id"`
	MessageID string `json:"message_id"`
	Emoji     string `json:"emoji"`
}

type ForwardMessagePayload struct {
	FromChatID string   `json:"from_chat_id"`
	ToChatIDs  []string `json:"to_chat_ids"`
	MessageIDs []string `json:"message_ids"`
}

type PinMessagePayload struct {
	ChatID    string `json:"chat_id"`
	MessageID string `json:"message_id"`
}

// CallPayload carries call routing data; Signal is opaque to the core.
type CallPayload struct {
	CallID string          `json:"call_id"`
	ChatID string          `json:"chat_id,omitempty"`
	Signal json.RawMessage `json:"signal,omitempty"`
}

// PingPayload is sent by the heartbeat and echoed by the server.
type PingPayload struct {
	TS int64 `json:"ts"`
}

// PresencePayload is the outbound "my status" update.
type PresencePayload struct {
	Status PresenceStatus `json:"status"`
}

// PresenceBatchPayload is the inbound multi-record presence snapshot.
type PresenceBatchPayload struct {
	Users []PresenceRecord `json:"users"`
}

// TypingPayload travels in both directions; UserID is only set on inbound frames.
type TypingPayload struct {
	ChatID string `json:"chat_id"`
	UserID string `json:"user_id,omitempty"`
	Typing bool   `json:"typing"`
}

// ReadReceiptPayload is the outbound coalesced read receipt.
type ReadReceiptPayload struct {
	ChatID     string   `json:"chat_id"`
	MessageIDs []string `json:"message_ids"`
	ReadAt     int64    `json:"read_at"`
}

// ReceiptNotice is an inbound message_read / message_delivered notification.
type ReceiptNotice struct {
	ChatID     string   `json:"chat_id"`
	UserID     string   `json:"user_id,omitempty"`
	MessageID  string   `json:"message_id,omitempty"`
	MessageIDs []string `json:"message_ids,omitempty"`
	At         int64    `json:"at,omitempty"`
}

// ErrorPayload is the inbound server error frame.
type ErrorPayload struct {
	RefID   string `json:"ref_id,omitempty"`
	Message string `json:"message"`
}
