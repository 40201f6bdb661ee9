package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Frame is the JSON envelope carried by every websocket message in both directions.
type Frame struct {
	Event  string          `json:"event"`
	RoomID string          `json:"roomId,omitempty"`
	TS     int64           `json:"ts,omitempty"` // server clock, unix millis
	Ack    string          `json:"ack,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// NewFrame marshals data into a frame for event.
func NewFrame(event, roomID string, data any) (Frame, error) {
	f := Frame{Event: event, RoomID: roomID}
	if data == nil {
		return f, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return Frame{}, fmt.Errorf("marshal %s: %w", event, err)
	}
	f.Data = raw
	return f, nil
}

// Decode unmarshals the frame payload into v. An empty payload leaves v untouched.
func (f Frame) Decode(v any) error {
	if len(f.Data) == 0 || string(f.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(f.Data, v); err != nil {
		return fmt.Errorf("decode %s: %w", f.Event, err)
	}
	return nil
}

// AckResult is the payload of an ack frame.
type AckResult struct {
	Status  string          `json:"status"`
	Message string          `json:"message,omitempty"`
	Code    int             `json:"code,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (a AckResult) OK() bool { return strings.EqualFold(a.Status, StatusSuccess) }

const (
	StatusSuccess = "success"
	StatusError   = "error"
)
