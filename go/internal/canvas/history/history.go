package history

import (
	"github.com/mcdev12/canvas/go/internal/models"
)

// MinPointDistance is the server-side downsampling threshold. A point closer
// than this to the stroke's last point is dropped.
const MinPointDistance = 0.5

// StartParams describes a stroke being opened.
type StartParams struct {
	ID         string
	AuthorID   string
	Tool       models.Tool
	Color      string
	Width      float64
	FirstPoint *models.Point
}

// History is the authoritative ordered stroke list of one room.
//
// History is not safe for concurrent use. Callers serialize access through
// the owning room so every participant observes mutations in arrival order.
type History struct {
	strokes []*models.Stroke
	index   map[string]*models.Stroke
	redo    []*models.Stroke
}

// New creates an empty history.
func New() *History {
	return &History{
		strokes: make([]*models.Stroke, 0),
		index:   make(map[string]*models.Stroke),
	}
}

// StartStroke opens a new active stroke. Starting an id that is already
// indexed returns the existing stroke untouched and reports created=false.
func (h *History) StartStroke(p StartParams) (models.Stroke, bool) {
	if s, ok := h.index[p.ID]; ok {
		return s.Clone(), false
	}

	s := &models.Stroke{
		ID:     p.ID,
		UserID: p.AuthorID,
		Tool:   models.NormalizeTool(p.Tool),
		Color:  p.Color,
		Width:  p.Width,
		Points: make([]models.Point, 0, 16),
		Active: true,
	}
	if p.FirstPoint != nil {
		s.Points = append(s.Points, *p.FirstPoint)
	}

	h.strokes = append(h.strokes, s)
	h.index[s.ID] = s
	// a new action truncates forward history
	h.redo = h.redo[:0]

	return s.Clone(), true
}

// AppendPoints extends an open stroke. Points closer than MinPointDistance to
// the current last point are skipped. ok is false when the id is unknown,
// which callers treat as a benign drop.
func (h *History) AppendPoints(id string, points []models.Point) (models.Stroke, bool) {
	s, ok := h.index[id]
	if !ok {
		return models.Stroke{}, false
	}

	for _, p := range points {
		last, has := s.LastPoint()
		if !has || p.Distance(last) >= MinPointDistance {
			s.Points = append(s.Points, p)
		}
	}
	return s.Clone(), true
}

// EndStroke marks a stroke settled. It never mutates state.
func (h *History) EndStroke(id string) (models.Stroke, bool) {
	s, ok := h.index[id]
	if !ok {
		return models.Stroke{}, false
	}
	return s.Clone(), true
}

// Undo deactivates the most recent active stroke regardless of author.
func (h *History) Undo() bool {
	for i := len(h.strokes) - 1; i >= 0; i-- {
		s := h.strokes[i]
		if s.Active {
			s.Active = false
			h.redo = append(h.redo, s)
			return true
		}
	}
	return false
}

// Redo reactivates the stroke most recently deactivated by Undo.
func (h *History) Redo() bool {
	n := len(h.redo)
	if n == 0 {
		return false
	}
	s := h.redo[n-1]
	h.redo[n-1] = nil
	h.redo = h.redo[:n-1]
	s.Active = true
	return true
}

// Clear discards every stroke, the index and the redo stack. It is not
// undoable. Clearing an empty history reports false.
func (h *History) Clear() bool {
	if len(h.strokes) == 0 {
		return false
	}
	h.strokes = make([]*models.Stroke, 0)
	h.index = make(map[string]*models.Stroke)
	h.redo = nil
	return true
}

// Snapshot returns a deep copy of the ordered stroke list.
func (h *History) Snapshot() []models.Stroke {
	out := make([]models.Stroke, len(h.strokes))
	for i, s := range h.strokes {
		out[i] = s.Clone()
	}
	return out
}

// Stroke returns a copy of the stroke with the given id.
func (h *History) Stroke(id string) (models.Stroke, bool) {
	s, ok := h.index[id]
	if !ok {
		return models.Stroke{}, false
	}
	return s.Clone(), true
}

// Len returns the number of strokes, active or not.
func (h *History) Len() int {
	return len(h.strokes)
}

// ActiveCount returns the number of strokes currently visible.
func (h *History) ActiveCount() int {
	n := 0
	for _, s := range h.strokes {
		if s.Active {
			n++
		}
	}
	return n
}

// RedoDepth returns how many strokes can currently be redone.
func (h *History) RedoDepth() int {
	return len(h.redo)
}
