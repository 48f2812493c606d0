package client

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/canvas/go/internal/canvas/events"
	"github.com/mcdev12/canvas/go/internal/models"
)

func stroke(id string, active bool, pts ...models.Point) models.Stroke {
	return models.Stroke{
		ID:     id,
		UserID: "u1",
		Tool:   models.ToolBrush,
		Color:  "#000000",
		Width:  2,
		Points: append([]models.Point{}, pts...),
		Active: active,
	}
}

func apply(s models.Stroke) Applied {
	return Applied{Patch: events.PatchFromStroke(s)}
}

func TestReduce_JoinedReplacesEverything(t *testing.T) {
	m := NewMirror()
	m.Blocked["old"] = struct{}{}
	m = Reduce(m, apply(stroke("x", true, models.Point{X: 1, Y: 1})))

	m = Reduce(m, Joined{Strokes: []models.Stroke{stroke("s1", true, models.Point{})}})

	require.Len(t, m.Strokes, 1)
	assert.Equal(t, "s1", m.Strokes[0].ID)
	assert.Contains(t, m.Known, "s1")
	assert.NotContains(t, m.Known, "x")
	assert.Empty(t, m.Blocked)
}

func TestReduce_IsPure(t *testing.T) {
	m := Reduce(NewMirror(), Joined{Strokes: []models.Stroke{stroke("s1", true, models.Point{})}})
	before := m.Clone()

	Reduce(m, apply(stroke("s1", false, models.Point{}, models.Point{X: 3, Y: 3})))
	Reduce(m, apply(stroke("s2", true)))
	Reduce(m, Cleared{Strokes: []models.Stroke{}})
	Reduce(m, LocalAppend{ID: "s1", Point: models.Point{X: 8, Y: 8}})

	assert.Equal(t, before, m)
}

func TestReduce_ApplyInsertsUnknownWithDefaults(t *testing.T) {
	m := Reduce(NewMirror(), Applied{Patch: events.StrokePatch{ID: "s9"}})

	s, ok := m.Stroke("s9")
	require.True(t, ok)
	assert.True(t, s.Active)
	assert.NotNil(t, s.Points)
	assert.Empty(t, s.Points)
	assert.Equal(t, models.ToolBrush, s.Tool)
	assert.Contains(t, m.Known, "s9")
}

func TestReduce_ApplyNeverShrinksLocalPreview(t *testing.T) {
	local := stroke("s1", true, models.Point{X: 0, Y: 0}, models.Point{X: 1, Y: 1}, models.Point{X: 2, Y: 2})
	m := Reduce(NewMirror(), LocalStart{Stroke: local})

	// the server is behind: points are kept, attributes still follow it
	behind := stroke("s1", true, models.Point{X: 0, Y: 0})
	behind.Color = "#ff0000"
	m = Reduce(m, apply(behind))
	s, _ := m.Stroke("s1")
	assert.Len(t, s.Points, 3)
	assert.Equal(t, "#ff0000", s.Color)

	// the server caught up
	ahead := stroke("s1", true, models.Point{X: 0, Y: 0}, models.Point{X: 1, Y: 1}, models.Point{X: 2, Y: 2}, models.Point{X: 3, Y: 3})
	m = Reduce(m, apply(ahead))
	s, _ = m.Stroke("s1")
	assert.Equal(t, ahead.Points, s.Points)
}

func TestMergeStroke_AbsentFieldsKeepLocal(t *testing.T) {
	local := stroke("s1", false, models.Point{X: 1, Y: 1})
	local.Tool = models.ToolEraser

	merged := MergeStroke(&local, events.StrokePatch{ID: "s1"})
	assert.Equal(t, local, merged)

	active := true
	merged = MergeStroke(&local, events.StrokePatch{ID: "s1", Active: &active, Points: []models.Point{}})
	assert.True(t, merged.Active)
	assert.Len(t, merged.Points, 1)
}

func TestReduce_ResetKeepsBlocked(t *testing.T) {
	m := Reduce(NewMirror(), Joined{Strokes: []models.Stroke{stroke("s1", true, models.Point{})}})
	m = Reduce(m, Cleared{Strokes: []models.Stroke{}})
	m = Reduce(m, Reset{Strokes: []models.Stroke{stroke("s2", false, models.Point{})}})

	assert.True(t, m.IsBlocked("s1"))
	assert.Contains(t, m.Known, "s2")
	require.Len(t, m.Strokes, 1)
	assert.False(t, m.Strokes[0].Active)
}

func TestReduce_StaleAfterClear(t *testing.T) {
	m := Reduce(NewMirror(), Joined{})
	m = Reduce(m, apply(stroke("s1", true, models.Point{X: 0, Y: 0})))
	m = Reduce(m, Cleared{Strokes: []models.Stroke{}})

	m = Reduce(m, apply(stroke("s1", true, models.Point{X: 0, Y: 0}, models.Point{X: 5, Y: 5})))

	assert.Empty(t, m.Strokes)
	assert.True(t, m.IsBlocked("s1"))
	assert.Empty(t, m.Known)

	// strokes started after the clear are unaffected
	m = Reduce(m, apply(stroke("s2", true, models.Point{X: 1, Y: 1})))
	assert.Len(t, m.Strokes, 1)
}

func TestReduce_LocalStrokeSurvivesEarlierClear(t *testing.T) {
	// the server sequenced another client's clear ahead of our start
	joined := Joined{Strokes: []models.Stroke{stroke("s0", false, models.Point{X: 1, Y: 1})}}
	s2 := stroke("s2", true, models.Point{X: 3, Y: 3})

	author := Reduce(NewMirror(), joined)
	author = Reduce(author, LocalStart{Stroke: s2})
	assert.NotContains(t, author.Known, "s2")
	peer := Reduce(NewMirror(), joined)

	for _, a := range []Action{
		Cleared{Strokes: []models.Stroke{}},
		Reset{Strokes: []models.Stroke{}},
		apply(s2),
	} {
		author = Reduce(author, a)
		peer = Reduce(peer, a)
	}

	assert.False(t, author.IsBlocked("s2"))
	assert.True(t, author.IsBlocked("s0"))
	require.Len(t, Visible(author), 1)
	assert.Equal(t, Visible(peer), Visible(author))
}

func TestReduce_LocalActions(t *testing.T) {
	m := Reduce(NewMirror(), LocalStart{Stroke: stroke("s1", false, models.Point{X: 0, Y: 0})})
	s, ok := m.Stroke("s1")
	require.True(t, ok)
	assert.True(t, s.Active)

	// starting twice does nothing
	again := Reduce(m, LocalStart{Stroke: stroke("s1", true, models.Point{X: 9, Y: 9})})
	assert.Equal(t, m, again)

	m = Reduce(m, LocalAppend{ID: "s1", Point: models.Point{X: 0.3, Y: 0}})
	m = Reduce(m, LocalAppend{ID: "s1", Point: models.Point{X: 0.6, Y: 0}})
	m = Reduce(m, LocalAppend{ID: "missing", Point: models.Point{X: 1, Y: 1}})
	s, _ = m.Stroke("s1")
	assert.Equal(t, []models.Point{{X: 0, Y: 0}, {X: 0.6, Y: 0}}, s.Points)
}

func TestVisible_FiltersAndKeepsOrder(t *testing.T) {
	m := Reduce(NewMirror(), Joined{Strokes: []models.Stroke{
		stroke("a", true, models.Point{X: 1, Y: 1}),
		stroke("b", false, models.Point{X: 1, Y: 1}),
		stroke("c", true),
		stroke("d", true, models.Point{X: 2, Y: 2}),
	}})

	visible := Visible(m)
	require.Len(t, visible, 2)
	assert.Equal(t, "a", visible[0].ID)
	assert.Equal(t, "d", visible[1].ID)
}

func TestReduce_ConvergesOnSameSequence(t *testing.T) {
	// two clients with different local previews converge once they process
	// the same authoritative broadcast sequence
	seq := []Action{
		apply(stroke("s1", true, models.Point{X: 0, Y: 0})),
		apply(stroke("s2", true, models.Point{X: 1, Y: 1})),
		apply(stroke("s1", true, models.Point{X: 0, Y: 0}, models.Point{X: 4, Y: 4})),
		Reset{Strokes: []models.Stroke{
			stroke("s1", true, models.Point{X: 0, Y: 0}, models.Point{X: 4, Y: 4}),
			stroke("s2", false, models.Point{X: 1, Y: 1}),
		}},
		apply(stroke("s3", true, models.Point{X: 7, Y: 7})),
	}

	author := Reduce(NewMirror(), Joined{})
	author = Reduce(author, LocalStart{Stroke: stroke("s1", true, models.Point{X: 0, Y: 0})})
	author = Reduce(author, LocalAppend{ID: "s1", Point: models.Point{X: 4, Y: 4}})
	peer := Reduce(NewMirror(), Joined{})

	for _, a := range seq {
		author = Reduce(author, a)
		peer = Reduce(peer, a)
	}

	assert.Equal(t, peer.Strokes, author.Strokes)
	assert.Equal(t, Visible(peer), Visible(author))
}
