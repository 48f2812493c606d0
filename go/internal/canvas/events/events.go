package events

import (
	"encoding/json"
	"fmt"
)

// Name identifies a realtime event on the wire.
type Name string

// Client to server events.
const (
	RoomJoin     Name = "room:join"
	StrokeEvent  Name = "stroke:event"
	HistoryUndo  Name = "history:undo"
	HistoryRedo  Name = "history:redo"
	CanvasClear  Name = "canvas:clear"
	CursorUpdate Name = "cursor:update"
)

// Server to client events. CursorUpdate is shared by both directions.
const (
	RoomJoined    Name = "room:joined"
	UsersUpdate   Name = "users:update"
	StrokeApply   Name = "stroke:apply"
	HistoryReset  Name = "history:reset"
	CanvasCleared Name = "canvas:cleared"
)

// Reliable reports whether the event needs ordered, lossless delivery.
// Cursor updates are best-effort and may be dropped under backpressure.
func (n Name) Reliable() bool {
	return n != CursorUpdate
}

// Envelope is the frame exchanged over the websocket.
type Envelope struct {
	Event Name            `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope marshals payload into an envelope. A nil payload produces an
// envelope without data.
func NewEnvelope(name Name, payload interface{}) (Envelope, error) {
	env := Envelope{Event: name}
	if payload == nil {
		return env, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", name, err)
	}
	env.Data = data
	return env, nil
}

// MustEnvelope is NewEnvelope for payloads that cannot fail to marshal.
func MustEnvelope(name Name, payload interface{}) Envelope {
	env, err := NewEnvelope(name, payload)
	if err != nil {
		panic(err)
	}
	return env
}

// Decode unmarshals the envelope data into v. Missing data leaves v untouched
// so absent payloads fall back to zero values.
func (e Envelope) Decode(v interface{}) error {
	if len(e.Data) == 0 || string(e.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Event, err)
	}
	return nil
}

// Marshal encodes the envelope as a websocket text frame.
func (e Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// Parse decodes a websocket frame into an envelope.
func Parse(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("unmarshal envelope: %w", err)
	}
	if env.Event == "" {
		return Envelope{}, fmt.Errorf("envelope has no event name")
	}
	return env, nil
}
