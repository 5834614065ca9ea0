package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// Frame directions.
const (
	DirectionInbound  = "i"
	DirectionOutbound = "o"
)

// TranscriptHeader is the first line of a frame transcript.
type TranscriptHeader struct {
	Version   int    `json:"version"`
	SessionID string `json:"session_id"`
	URL       string `json:"url,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// FrameEvent is one recorded frame.
// Format: [time_offset, direction, frame]
type FrameEvent struct {
	TimeOffset float64
	Direction  string // "i" for inbound, "o" for outbound
	Frame      string
}

// MarshalJSON implements custom JSON marshaling for FrameEvent.
func (e FrameEvent) MarshalJSON() ([]byte, error) {
	return json.Marshal([]interface{}{e.TimeOffset, e.Direction, e.Frame})
}

// UnmarshalJSON implements custom JSON unmarshaling for FrameEvent.
func (e *FrameEvent) UnmarshalJSON(data []byte) error {
	var arr []interface{}
	if err := json.Unmarshal(data, &arr); err != nil {
		return err
	}
	if len(arr) != 3 {
		return fmt.Errorf("invalid event format: expected 3 elements, got %d", len(arr))
	}

	timeOffset, ok := arr[0].(float64)
	if !ok {
		return fmt.Errorf("invalid time offset type")
	}
	e.TimeOffset = timeOffset

	direction, ok := arr[1].(string)
	if !ok || (direction != DirectionInbound && direction != DirectionOutbound) {
		return fmt.Errorf("invalid direction")
	}
	e.Direction = direction

	frame, ok := arr[2].(string)
	if !ok {
		return fmt.Errorf("invalid frame data type")
	}
	e.Frame = frame

	return nil
}

// FrameRecorder writes every inbound and outbound frame of a session as JSON lines.
type FrameRecorder struct {
	writer    io.Writer
	file      *os.File // only set if we own the file
	startTime time.Time
	mu        sync.Mutex
}

// NewFrameRecorder creates a FrameRecorder that writes to the given file path.
func NewFrameRecorder(filePath string) (*FrameRecorder, error) {
	file, err := os.Create(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to create transcript file: %w", err)
	}

	return &FrameRecorder{
		writer:    file,
		file:      file,
		startTime: time.Now(),
	}, nil
}

// NewFrameRecorderWithWriter creates a FrameRecorder that writes to w.
func NewFrameRecorderWithWriter(w io.Writer) *FrameRecorder {
	return &FrameRecorder{
		writer:    w,
		startTime: time.Now(),
	}
}

// WriteHeader writes the transcript header. Call once before any frame.
func (r *FrameRecorder) WriteHeader(sessionID, url string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	header := TranscriptHeader{
		Version:   1,
		SessionID: sessionID,
		URL:       url,
		Timestamp: r.startTime.Unix(),
	}

	data, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("failed to marshal header: %w", err)
	}

	if _, err := r.writer.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	return nil
}

// RecordInbound records a frame received from the server.
func (r *FrameRecorder) RecordInbound(frame []byte) error {
	return r.writeEvent(DirectionInbound, frame)
}

// RecordOutbound records a frame sent to the server.
func (r *FrameRecorder) RecordOutbound(frame []byte) error {
	return r.writeEvent(DirectionOutbound, frame)
}

func (r *FrameRecorder) writeEvent(direction string, frame []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	event := FrameEvent{
		TimeOffset: time.Since(r.startTime).Seconds(),
		Direction:  direction,
		Frame:      string(frame),
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if _, err := r.writer.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}

	return nil
}

// Close closes the transcript file if the recorder owns it.
func (r *FrameRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file != nil {
		return r.file.Close()
	}
	return nil
}

// StartTime returns the start time of the recording.
func (r *FrameRecorder) StartTime() time.Time {
	return r.startTime
}
