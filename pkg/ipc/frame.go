package ipc

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/cccc-dev/cccc/pkg/types"
)

// FrameType discriminates wire frames.
type FrameType string

const (
	FrameRequest   FrameType = "request"
	FrameResponse  FrameType = "response"
	FrameSubscribe FrameType = "subscribe"
	FrameEvent     FrameType = "event"
	FrameComplete  FrameType = "complete"
	FrameCancel    FrameType = "cancel"
)

// Frame is the single wire envelope: a 4-byte big-endian length prefix
// followed by one JSON object. Which fields are set depends on Type.
type Frame struct {
	Type FrameType `json:"type"`
	ID   string    `json:"id"`

	// request
	Op        string          `json:"op,omitempty"`
	Args      json.RawMessage `json:"args,omitempty"`
	Token     string          `json:"token,omitempty"`
	TimeoutMS int             `json:"timeout_ms,omitempty"`

	// response / complete
	OK     bool            `json:"ok,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *types.Error    `json:"error,omitempty"`

	// subscribe / event
	Topic  string          `json:"topic,omitempty"`
	Filter json.RawMessage `json:"filter,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// maxFrameBytes bounds a single frame; attachments travel through the
// blob store, so frames stay small.
const maxFrameBytes = 8 << 20

// WriteFrame encodes one frame with its length prefix.
func WriteFrame(w io.Writer, f *Frame) error {
	payload, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("failed to encode frame: %w", err)
	}
	if len(payload) > maxFrameBytes {
		return fmt.Errorf("frame of %d bytes exceeds limit", len(payload))
	}
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(payload)))
	if _, err := w.Write(hdr[:]); err != nil {
		return fmt.Errorf("failed to write frame header: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("failed to write frame body: %w", err)
	}
	return nil
}

// ReadFrame decodes one length-prefixed frame.
func ReadFrame(r io.Reader) (*Frame, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n == 0 || n > maxFrameBytes {
		return nil, fmt.Errorf("invalid frame length %d", n)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("failed to read frame body: %w", err)
	}
	var f Frame
	if err := json.Unmarshal(payload, &f); err != nil {
		return nil, fmt.Errorf("malformed frame: %w", err)
	}
	return &f, nil
}
