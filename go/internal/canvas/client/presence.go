package client

import (
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/mcdev12/canvas/go/internal/models"
)

// CursorStaleAfter hides cursors that have not moved for this long.
const CursorStaleAfter = 2 * time.Second

// Cursor is a peer's pointer as shown to the user.
type Cursor struct {
	UserID    string
	Name      string
	Color     string
	Pos       models.Point
	UpdatedAt time.Time
}

type cursorEntry struct {
	pos models.Point
	at  time.Time
}

// PresenceTracker keeps the room roster and the latest cursor of every peer.
type PresenceTracker struct {
	mu      sync.RWMutex
	clock   clockwork.Clock
	selfID  string
	roster  models.Roster
	cursors map[string]cursorEntry
}

// NewPresenceTracker creates an empty tracker.
func NewPresenceTracker(clock clockwork.Clock) *PresenceTracker {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &PresenceTracker{
		clock:   clock,
		roster:  make(models.Roster),
		cursors: make(map[string]cursorEntry),
	}
}

// SetSelf records this client's own connection id so it is never shown.
func (p *PresenceTracker) SetSelf(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.selfID = id
}

// SetRoster replaces the roster.
func (p *PresenceTracker) SetRoster(roster models.Roster) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.roster = roster.Clone()
}

// Roster returns a copy of the roster.
func (p *PresenceTracker) Roster() models.Roster {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.roster.Clone()
}

// Update records a cursor position. The latest update wins.
func (p *PresenceTracker) Update(userID string, pos models.Point) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cursors[userID] = cursorEntry{pos: pos, at: p.clock.Now()}
}

// Cursors returns the fresh cursors of every peer, ordered by user id.
func (p *PresenceTracker) Cursors() []Cursor {
	p.mu.RLock()
	defer p.mu.RUnlock()

	now := p.clock.Now()
	out := make([]Cursor, 0, len(p.cursors))
	for id, c := range p.cursors {
		if id == p.selfID || now.Sub(c.at) > CursorStaleAfter {
			continue
		}
		cur := Cursor{UserID: id, Name: "user", Color: "#999", Pos: c.pos, UpdatedAt: c.at}
		if u, ok := p.roster[id]; ok {
			cur.Name = u.Name
			cur.Color = u.Color
		}
		out = append(out, cur)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}
