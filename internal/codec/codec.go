// Package codec converts between websocket frames and wire messages.
//
// Text frames carry a UTF-8 JSON object. Binary frames carry a 2-byte
// big-endian type tag followed by a UTF-8 JSON object:
//
//	┌──────────────────────┬───────────────────────────────┐
//	│ Type tag             │ JSON payload                  │
//	│ (2 bytes, big-endian)│ (remaining bytes, UTF-8)      │
//	└──────────────────────┴───────────────────────────────┘
//
// The tag is attached to the decoded message as metadata (Message.Tag).
package codec

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"github.com/gorilla/websocket"

	"github.com/remote-chat/backend/internal/model"
)

// TagSize is the length of the binary frame type tag.
const TagSize = 2

// Decode decodes a frame of the given websocket frame type.
func Decode(frameType int, data []byte) (*model.Message, error) {
	switch frameType {
	case websocket.TextMessage:
		return DecodeText(data)
	case websocket.BinaryMessage:
		return DecodeBinary(data)
	default:
		return nil, fmt.Errorf("%w: unsupported frame type %d", model.ErrMalformedFrame, frameType)
	}
}

// DecodeText decodes a JSON text frame.
func DecodeText(data []byte) (*model.Message, error) {
	return decodeJSON(data)
}

// DecodeBinary decodes a tagged binary frame.
func DecodeBinary(data []byte) (*model.Message, error) {
	if len(data) < TagSize {
		return nil, fmt.Errorf("%w: binary frame shorter than tag (%d bytes)", model.ErrMalformedFrame, len(data))
	}

	tag := binary.BigEndian.Uint16(data[:TagSize])
	msg, err := decodeJSON(data[TagSize:])
	if err != nil {
		return nil, err
	}
	msg.Tag = &tag
	return msg, nil
}

func decodeJSON(data []byte) (*model.Message, error) {
	if !utf8.Valid(data) {
		return nil, fmt.Errorf("%w: payload is not valid UTF-8", model.ErrMalformedFrame)
	}

	var msg model.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrMalformedFrame, err)
	}
	return &msg, nil
}

// EncodeText encodes msg as a JSON text frame payload.
func EncodeText(msg *model.Message) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s message: %w", msg.Type, err)
	}
	return data, nil
}

// EncodeBinary encodes msg as a tagged binary frame payload.
func EncodeBinary(tag uint16, msg *model.Message) ([]byte, error) {
	body, err := EncodeText(msg)
	if err != nil {
		return nil, err
	}

	frame := make([]byte, TagSize+len(body))
	binary.BigEndian.PutUint16(frame[:TagSize], tag)
	copy(frame[TagSize:], body)
	return frame, nil
}

// Encode picks the frame type for msg: binary when it carries a tag, text otherwise.
func Encode(msg *model.Message) (int, []byte, error) {
	if msg.Tag != nil {
		data, err := EncodeBinary(*msg.Tag, msg)
		return websocket.BinaryMessage, data, err
	}
	data, err := EncodeText(msg)
	return websocket.TextMessage, data, err
}
