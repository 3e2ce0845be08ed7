package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Message types carried in the "type" field of control frames.
const (
	TypeStart   = "START"
	TypeStarted = "STARTED"
	TypeStop    = "STOP"
	TypeStopped = "STOPPED"
	TypeGet     = "GET"
	TypeError   = "ERROR"
)

// ErrInvalidJSON indicates a control frame that is not valid JSON.
var ErrInvalidJSON = errors.New("invalid JSON")

// Message is a control message exchanged on text frames. Optional
// numeric fields are pointers so absence is distinguishable from zero.
type Message struct {
	Type     string  `json:"type"`
	StreamID string  `json:"streamId,omitempty"`
	Offset   *uint64 `json:"offset,omitempty"`
	Length   *uint64 `json:"length,omitempty"`
	Message  string  `json:"message,omitempty"`
}

// Started builds the server acknowledgement for a START.
func Started(streamID string) Message {
	return Message{
		Type:     TypeStarted,
		StreamID: streamID,
		Message:  "Stream started successfully",
	}
}

// Stopped builds the server acknowledgement for a STOP.
func Stopped(streamID string) Message {
	return Message{
		Type:     TypeStopped,
		StreamID: streamID,
		Message:  "Stream stopped successfully",
	}
}

// ErrorMessage builds an ERROR response with a human-readable text.
func ErrorMessage(text string) Message {
	return Message{
		Type:    TypeError,
		Message: text,
	}
}

// Parse decodes a control frame. A frame that is not valid JSON returns
// ErrInvalidJSON; structural validation is per-type via Validate.
func Parse(payload []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	return msg, nil
}

// Encode serializes the message for a text frame.
func (m Message) Encode() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}
	return data, nil
}

// Validate checks the presence of the fields the message type requires.
func (m Message) Validate() error {
	if m.Type == "" {
		return errors.New("missing 'type' field in message")
	}

	switch m.Type {
	case TypeStart:
		if m.StreamID == "" {
			return errors.New("missing 'streamId' field in START message")
		}
	case TypeStop:
		if m.StreamID == "" {
			return errors.New("missing 'streamId' field in STOP message")
		}
	case TypeGet:
		if m.StreamID == "" || m.Offset == nil || m.Length == nil {
			return errors.New("missing required fields in GET message (streamId, offset, length)")
		}
	case TypeStarted, TypeStopped, TypeError:
		// Server-to-client types carry no required client fields.
	default:
		return fmt.Errorf("unknown message type: %s", m.Type)
	}

	return nil
}
