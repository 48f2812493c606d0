package client

import (
	"github.com/mcdev12/canvas/go/internal/canvas/events"
	"github.com/mcdev12/canvas/go/internal/canvas/history"
	"github.com/mcdev12/canvas/go/internal/models"
)

// Mirror is a client's local copy of a room's stroke list.
//
// Known holds ids this client has seen since its last clear. Blocked holds
// ids that existed before a clear; updates for them are stale and dropped.
type Mirror struct {
	Strokes []models.Stroke
	Known   map[string]struct{}
	Blocked map[string]struct{}
}

// NewMirror returns an empty mirror.
func NewMirror() Mirror {
	return Mirror{
		Strokes: make([]models.Stroke, 0),
		Known:   make(map[string]struct{}),
		Blocked: make(map[string]struct{}),
	}
}

// Clone returns a deep copy.
func (m Mirror) Clone() Mirror {
	out := Mirror{
		Strokes: models.CloneStrokes(m.Strokes),
		Known:   make(map[string]struct{}, len(m.Known)),
		Blocked: make(map[string]struct{}, len(m.Blocked)),
	}
	for id := range m.Known {
		out.Known[id] = struct{}{}
	}
	for id := range m.Blocked {
		out.Blocked[id] = struct{}{}
	}
	return out
}

// Stroke looks up a stroke by id.
func (m Mirror) Stroke(id string) (models.Stroke, bool) {
	if i := m.indexOf(id); i >= 0 {
		return m.Strokes[i], true
	}
	return models.Stroke{}, false
}

// IsBlocked reports whether updates for id are discarded.
func (m Mirror) IsBlocked(id string) bool {
	_, ok := m.Blocked[id]
	return ok
}

func (m Mirror) indexOf(id string) int {
	for i := range m.Strokes {
		if m.Strokes[i].ID == id {
			return i
		}
	}
	return -1
}

// Action is an input to Reduce.
type Action interface {
	isAction()
}

// Joined replaces the mirror with the snapshot received on join.
type Joined struct{ Strokes []models.Stroke }

// Applied merges one stroke:apply.
type Applied struct{ Patch events.StrokePatch }

// Reset replaces the mirror after undo or redo.
type Reset struct{ Strokes []models.Stroke }

// Cleared replaces the mirror after a clear and blocks every known id.
type Cleared struct{ Strokes []models.Stroke }

// LocalStart adds this client's own stroke before the server echoes it. The
// id only becomes known once the echo arrives, so a clear that the server
// sequenced ahead of the start does not block it.
type LocalStart struct{ Stroke models.Stroke }

// LocalAppend extends this client's own stroke before the server echoes it.
type LocalAppend struct {
	ID    string
	Point models.Point
}

func (Joined) isAction()      {}
func (Applied) isAction()     {}
func (Reset) isAction()       {}
func (Cleared) isAction()     {}
func (LocalStart) isAction()  {}
func (LocalAppend) isAction() {}

// Reduce returns the mirror that results from applying a to m. m is not
// modified.
func Reduce(m Mirror, a Action) Mirror {
	switch a := a.(type) {
	case Joined:
		out := NewMirror()
		out.Strokes = models.CloneStrokes(a.Strokes)
		for _, s := range out.Strokes {
			out.Known[s.ID] = struct{}{}
		}
		return out

	case Applied:
		if m.IsBlocked(a.Patch.ID) {
			return m
		}
		out := m.Clone()
		if i := out.indexOf(a.Patch.ID); i >= 0 {
			out.Strokes[i] = MergeStroke(&out.Strokes[i], a.Patch)
		} else {
			out.Strokes = append(out.Strokes, MergeStroke(nil, a.Patch))
		}
		out.Known[a.Patch.ID] = struct{}{}
		return out

	case Reset:
		out := m.Clone()
		out.Strokes = models.CloneStrokes(a.Strokes)
		out.Known = make(map[string]struct{}, len(a.Strokes))
		for _, s := range out.Strokes {
			out.Known[s.ID] = struct{}{}
		}
		return out

	case Cleared:
		out := m.Clone()
		for id := range out.Known {
			out.Blocked[id] = struct{}{}
		}
		out.Strokes = models.CloneStrokes(a.Strokes)
		out.Known = make(map[string]struct{})
		return out

	case LocalStart:
		if m.IsBlocked(a.Stroke.ID) || m.indexOf(a.Stroke.ID) >= 0 {
			return m
		}
		out := m.Clone()
		s := a.Stroke.Clone()
		s.Active = true
		out.Strokes = append(out.Strokes, s)
		return out

	case LocalAppend:
		i := m.indexOf(a.ID)
		if i < 0 {
			return m
		}
		if last, ok := m.Strokes[i].LastPoint(); ok && last.Distance(a.Point) < history.MinPointDistance {
			return m
		}
		out := m.Clone()
		out.Strokes[i].Points = append(out.Strokes[i].Points, a.Point)
		return out
	}
	return m
}

// MergeStroke folds an authoritative patch into a local stroke. A nil local
// stroke yields a new stroke with defaults for absent fields. Points are only
// replaced when the patch has at least as many as the local copy, so a local
// preview that is ahead of the server never rewinds.
func MergeStroke(local *models.Stroke, patch events.StrokePatch) models.Stroke {
	var out models.Stroke
	if local == nil {
		out = models.Stroke{
			ID:     patch.ID,
			Tool:   models.ToolBrush,
			Points: make([]models.Point, 0),
			Active: true,
		}
		if patch.Points != nil {
			out.Points = append(out.Points, patch.Points...)
		}
	} else {
		out = local.Clone()
		if patch.Points != nil && len(patch.Points) >= len(out.Points) {
			out.Points = append(make([]models.Point, 0, len(patch.Points)), patch.Points...)
		}
	}

	if patch.UserID != nil {
		out.UserID = *patch.UserID
	}
	if patch.Tool != nil {
		out.Tool = models.NormalizeTool(*patch.Tool)
	}
	if patch.Color != nil {
		out.Color = *patch.Color
	}
	if patch.Width != nil {
		out.Width = *patch.Width
	}
	if patch.Active != nil {
		out.Active = *patch.Active
	}
	return out
}

// Visible returns the strokes a renderer draws, in arrival order: active
// strokes with at least one point.
func Visible(m Mirror) []models.Stroke {
	out := make([]models.Stroke, 0, len(m.Strokes))
	for _, s := range m.Strokes {
		if !s.Active || len(s.Points) == 0 {
			continue
		}
		out = append(out, s.Clone())
	}
	return out
}
