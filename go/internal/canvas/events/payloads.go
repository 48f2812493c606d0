package events

import (
	"github.com/mcdev12/canvas/go/internal/models"
)

// Event payload types shared between the gateway and the client packages.

// JoinPayload is the payload for a room:join request.
type JoinPayload struct {
	Room string `json:"room"`
	Name string `json:"name"`
}

// StrokeEventType is the phase carried by a stroke:event.
type StrokeEventType string

const (
	StrokeStart  StrokeEventType = "start"
	StrokeAppend StrokeEventType = "append"
	StrokeEnd    StrokeEventType = "end"
)

// StrokeDraft is the stroke a client opens with a start event.
type StrokeDraft struct {
	ID     string         `json:"id"`
	Tool   models.Tool    `json:"tool,omitempty"`
	Color  string         `json:"color,omitempty"`
	Width  float64        `json:"width,omitempty"`
	Points []models.Point `json:"points,omitempty"`
}

// StrokeEventPayload is the payload for a stroke:event request. Start events
// carry Stroke; append and end events carry ID, and append adds Points.
type StrokeEventPayload struct {
	Type   StrokeEventType `json:"type"`
	Stroke *StrokeDraft    `json:"stroke,omitempty"`
	ID     string          `json:"id,omitempty"`
	Points []models.Point  `json:"points,omitempty"`
}

// StrokeID returns the id the event refers to regardless of phase.
func (p StrokeEventPayload) StrokeID() string {
	if p.Type == StrokeStart && p.Stroke != nil {
		return p.Stroke.ID
	}
	return p.ID
}

// JoinedPayload is the payload for room:joined, sent only to the joiner.
type JoinedPayload struct {
	Room    string          `json:"room"`
	Users   models.Roster   `json:"users"`
	Self    models.Self     `json:"self"`
	Strokes []models.Stroke `json:"strokes"`
}

// CursorPayload is the payload of a client cursor:update.
type CursorPayload = models.Point

// CursorBroadcastPayload is the payload of a server cursor:update.
type CursorBroadcastPayload struct {
	UserID string       `json:"userId"`
	Pos    models.Point `json:"pos"`
}

// StrokePatch is a stroke:apply as seen by a client. Every field except ID is
// optional so the reconciler can tell an absent field from a zero value.
type StrokePatch struct {
	ID     string         `json:"id"`
	UserID *string        `json:"userId,omitempty"`
	Tool   *models.Tool   `json:"tool,omitempty"`
	Color  *string        `json:"color,omitempty"`
	Width  *float64       `json:"width,omitempty"`
	Points []models.Point `json:"points"`
	Active *bool          `json:"active,omitempty"`
}

// PatchFromStroke builds a fully populated patch from an authoritative stroke.
func PatchFromStroke(s models.Stroke) StrokePatch {
	s = s.Clone()
	return StrokePatch{
		ID:     s.ID,
		UserID: &s.UserID,
		Tool:   &s.Tool,
		Color:  &s.Color,
		Width:  &s.Width,
		Points: s.Points,
		Active: &s.Active,
	}
}
