package history

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/canvas/go/internal/models"
)

func pt(x, y float64) *models.Point {
	return &models.Point{X: x, Y: y}
}

func start(t *testing.T, h *History, id string) models.Stroke {
	t.Helper()
	s, created := h.StartStroke(StartParams{
		ID:         id,
		AuthorID:   "author-" + id,
		Tool:       models.ToolBrush,
		Color:      "#2b6cb0",
		Width:      6,
		FirstPoint: pt(0, 0),
	})
	require.True(t, created)
	return s
}

func activeSet(h *History) map[string]bool {
	out := make(map[string]bool)
	for _, s := range h.Snapshot() {
		out[s.ID] = s.Active
	}
	return out
}

func TestStartStroke_CreatesActiveStroke(t *testing.T) {
	h := New()
	s := start(t, h, "s1")

	assert.Equal(t, "s1", s.ID)
	assert.True(t, s.Active)
	assert.Equal(t, []models.Point{{X: 0, Y: 0}}, s.Points)
	assert.Equal(t, 1, h.Len())
}

func TestStartStroke_IsIdempotent(t *testing.T) {
	h := New()
	first := start(t, h, "s1")
	_, ok := h.AppendPoints("s1", []models.Point{{X: 5, Y: 5}})
	require.True(t, ok)

	again, created := h.StartStroke(StartParams{
		ID:         "s1",
		AuthorID:   "someone-else",
		Tool:       models.ToolEraser,
		Color:      "#000000",
		Width:      40,
		FirstPoint: pt(99, 99),
	})
	assert.False(t, created)
	assert.Equal(t, first.UserID, again.UserID)
	assert.Equal(t, models.ToolBrush, again.Tool)
	assert.Len(t, again.Points, 2, "second start must not reset or extend points")
	assert.Equal(t, 1, h.Len())
}

func TestStartStroke_UnknownToolNormalizesToBrush(t *testing.T) {
	h := New()
	s, _ := h.StartStroke(StartParams{ID: "s1", Tool: "spray"})
	assert.Equal(t, models.ToolBrush, s.Tool)
	assert.Empty(t, s.Points)
}

func TestAppendPoints_UnknownIDIsDropped(t *testing.T) {
	h := New()
	_, ok := h.AppendPoints("missing", []models.Point{{X: 1, Y: 1}})
	assert.False(t, ok)
	assert.Equal(t, 0, h.Len())
}

func TestAppendPoints_Downsamples(t *testing.T) {
	h := New()
	start(t, h, "s1")

	s, ok := h.AppendPoints("s1", []models.Point{
		{X: 0.1, Y: 0.1}, // too close to (0,0)
		{X: 0.5, Y: 0},   // exactly at threshold
		{X: 0.6, Y: 0},   // too close to (0.5,0)
		{X: 3, Y: 4},
	})
	require.True(t, ok)
	assert.Equal(t, []models.Point{{X: 0, Y: 0}, {X: 0.5, Y: 0}, {X: 3, Y: 4}}, s.Points)
}

func TestAppendPoints_FirstPointOnEmptyStrokeAlwaysAccepted(t *testing.T) {
	h := New()
	h.StartStroke(StartParams{ID: "s1"})
	s, ok := h.AppendPoints("s1", []models.Point{{X: 0, Y: 0}, {X: 0.1, Y: 0}})
	require.True(t, ok)
	assert.Equal(t, []models.Point{{X: 0, Y: 0}}, s.Points)
}

func TestAppendPoints_Monotonic(t *testing.T) {
	h := New()
	start(t, h, "s1")

	prev := 1
	for i := 0; i < 50; i++ {
		// alternate between far and near points
		x := float64(i) * 0.3
		s, ok := h.AppendPoints("s1", []models.Point{{X: x, Y: 0}})
		require.True(t, ok)
		require.GreaterOrEqual(t, len(s.Points), prev)
		prev = len(s.Points)

		for j := 1; j < len(s.Points); j++ {
			require.GreaterOrEqual(t, s.Points[j].Distance(s.Points[j-1]), MinPointDistance)
		}
	}
}

func TestEndStroke_DoesNotMutate(t *testing.T) {
	h := New()
	start(t, h, "s1")
	before := h.Snapshot()

	s, ok := h.EndStroke("s1")
	require.True(t, ok)
	assert.Equal(t, "s1", s.ID)
	assert.Equal(t, before, h.Snapshot())

	_, ok = h.EndStroke("missing")
	assert.False(t, ok)
}

func TestUndo_TargetsMostRecentActiveStrokeAcrossAuthors(t *testing.T) {
	h := New()
	start(t, h, "a")
	start(t, h, "b")
	start(t, h, "c")

	require.True(t, h.Undo())
	assert.Equal(t, map[string]bool{"a": true, "b": true, "c": false}, activeSet(h))

	require.True(t, h.Undo())
	assert.Equal(t, map[string]bool{"a": true, "b": false, "c": false}, activeSet(h))
	assert.Equal(t, 2, h.RedoDepth())
	assert.Equal(t, 3, h.Len(), "undo never removes strokes")
}

func TestUndo_EmptyReturnsFalse(t *testing.T) {
	h := New()
	assert.False(t, h.Undo())
	start(t, h, "a")
	require.True(t, h.Undo())
	assert.False(t, h.Undo())
}

func TestUndoRedo_Duality(t *testing.T) {
	for n := 1; n <= 4; n++ {
		t.Run(fmt.Sprintf("n=%d", n), func(t *testing.T) {
			h := New()
			for i := 0; i < 4; i++ {
				start(t, h, fmt.Sprintf("s%d", i))
			}
			before := activeSet(h)

			for i := 0; i < n; i++ {
				require.True(t, h.Undo())
			}
			for i := 0; i < n; i++ {
				require.True(t, h.Redo())
			}
			assert.Equal(t, before, activeSet(h))
			assert.False(t, h.Redo())
		})
	}
}

func TestRedo_InvalidatedByNewStroke(t *testing.T) {
	h := New()
	start(t, h, "a")
	require.True(t, h.Undo())
	require.Equal(t, 1, h.RedoDepth())

	start(t, h, "b")
	assert.Equal(t, 0, h.RedoDepth())
	assert.False(t, h.Redo())
	assert.Equal(t, map[string]bool{"a": false, "b": true}, activeSet(h))
}

func TestRedo_SurvivesAppendToExistingStroke(t *testing.T) {
	h := New()
	start(t, h, "a")
	start(t, h, "b")
	require.True(t, h.Undo())

	_, ok := h.AppendPoints("a", []models.Point{{X: 10, Y: 10}})
	require.True(t, ok)
	assert.True(t, h.Redo())
}

func TestClear_IsIrreversible(t *testing.T) {
	h := New()
	start(t, h, "a")
	start(t, h, "b")
	require.True(t, h.Undo())

	require.True(t, h.Clear())
	assert.Empty(t, h.Snapshot())
	assert.False(t, h.Undo())
	assert.False(t, h.Redo())

	_, ok := h.AppendPoints("a", []models.Point{{X: 1, Y: 1}})
	assert.False(t, ok, "ids are invalidated by clear")
}

func TestClear_EmptyHistoryIsNoop(t *testing.T) {
	h := New()
	assert.False(t, h.Clear())
}

func TestSnapshot_IsDeepCopy(t *testing.T) {
	h := New()
	start(t, h, "a")

	snap := h.Snapshot()
	snap[0].Points[0] = models.Point{X: 42, Y: 42}
	snap[0].Active = false

	fresh := h.Snapshot()
	assert.Equal(t, models.Point{X: 0, Y: 0}, fresh[0].Points[0])
	assert.True(t, fresh[0].Active)
}

func TestSnapshot_EmptyIsNonNil(t *testing.T) {
	h := New()
	assert.NotNil(t, h.Snapshot())
}

func TestActiveCount(t *testing.T) {
	h := New()
	start(t, h, "a")
	start(t, h, "b")
	h.Undo()
	assert.Equal(t, 1, h.ActiveCount())
}
