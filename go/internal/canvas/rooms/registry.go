package rooms

import (
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/canvas/go/internal/canvas/history"
	"github.com/mcdev12/canvas/go/internal/models"
)

// DefaultRoomID is used when a join names no room.
const DefaultRoomID = "default"

// DefaultPalette holds the participant colors handed out on join.
var DefaultPalette = []string{
	"#e11d48", "#f59e0b", "#84cc16", "#22c55e", "#06b6d4",
	"#3b82f6", "#8b5cf6", "#ec4899", "#14b8a6", "#f97316",
}

// Config holds registry settings.
type Config struct {
	Palette []string
	Clock   clockwork.Clock
	// PickColor returns an index in [0, n). Defaults to a uniform random pick.
	PickColor func(n int) int
}

// DefaultConfig returns the registry defaults.
func DefaultConfig() Config {
	return Config{
		Palette:   DefaultPalette,
		Clock:     clockwork.NewRealClock(),
		PickColor: rand.IntN,
	}
}

// Registry owns every room of the process. Rooms are created lazily and live
// until the process exits.
type Registry struct {
	mu     sync.RWMutex
	rooms  map[string]*Room
	config Config
}

// NewRegistry creates an empty registry.
func NewRegistry(config Config) *Registry {
	def := DefaultConfig()
	if len(config.Palette) == 0 {
		config.Palette = def.Palette
	}
	if config.Clock == nil {
		config.Clock = def.Clock
	}
	if config.PickColor == nil {
		config.PickColor = def.PickColor
	}
	return &Registry{
		rooms:  make(map[string]*Room),
		config: config,
	}
}

// Ensure returns the room with the given id, creating it on first use.
func (r *Registry) Ensure(roomID string) *Room {
	if roomID == "" {
		roomID = DefaultRoomID
	}

	r.mu.RLock()
	room, ok := r.rooms[roomID]
	r.mu.RUnlock()
	if ok {
		return room
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if room, ok := r.rooms[roomID]; ok {
		return room
	}

	room = newRoom(roomID, r.config.Clock)
	r.rooms[roomID] = room

	log.Info().
		Str("room_id", roomID).
		Int("total_rooms", len(r.rooms)).
		Msg("room created")

	return room
}

// Get returns an existing room without creating it.
func (r *Registry) Get(roomID string) (*Room, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room, ok := r.rooms[roomID]
	return room, ok
}

// AddParticipant registers a connection in a room under a palette color.
func (r *Registry) AddParticipant(roomID, connID, name string) models.Self {
	room := r.Ensure(roomID)
	color := r.config.Palette[r.config.PickColor(len(r.config.Palette))]
	room.addParticipant(connID, models.Participant{Name: name, Color: color})
	return models.Self{ID: connID, Name: name, Color: color}
}

// RemoveParticipant deregisters a connection. The room itself is kept even
// when its roster becomes empty.
func (r *Registry) RemoveParticipant(roomID, connID string) {
	room, ok := r.Get(roomID)
	if !ok {
		return
	}
	room.removeParticipant(connID)
}

// Roster returns a copy of the room's roster.
func (r *Registry) Roster(roomID string) models.Roster {
	room, ok := r.Get(roomID)
	if !ok {
		return models.Roster{}
	}
	return room.Roster()
}

// RoomIDs returns every room id in lexical order.
func (r *Registry) RoomIDs() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.rooms))
	for id := range r.rooms {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

// Count returns the number of rooms.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// Stats summarizes every room.
func (r *Registry) Stats() []RoomStats {
	ids := r.RoomIDs()
	out := make([]RoomStats, 0, len(ids))
	for _, id := range ids {
		if room, ok := r.Get(id); ok {
			out = append(out, room.Stats())
		}
	}
	return out
}

// RoomStats describes one room for diagnostics.
type RoomStats struct {
	ID           string    `json:"id"`
	Participants int       `json:"participants"`
	Strokes      int       `json:"strokes"`
	ActiveStroke int       `json:"active_strokes"`
	RedoDepth    int       `json:"redo_depth"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
}

// Room is an isolated collaboration namespace with its own roster and
// authoritative history.
type Room struct {
	ID string

	// writer serializes history mutations together with their broadcasts
	writer  sync.Mutex
	history *history.History

	mu           sync.RWMutex
	roster       models.Roster
	createdAt    time.Time
	lastActivity time.Time
	clock        clockwork.Clock
}

func newRoom(id string, clock clockwork.Clock) *Room {
	now := clock.Now()
	return &Room{
		ID:           id,
		history:      history.New(),
		roster:       make(models.Roster),
		createdAt:    now,
		lastActivity: now,
		clock:        clock,
	}
}

// Sequence runs fn as the room's single writer. A history mutation and the
// broadcast it produces must happen inside one call so every member receives
// updates in the order they were applied.
func (r *Room) Sequence(fn func(h *history.History)) {
	r.writer.Lock()
	defer r.writer.Unlock()

	fn(r.history)

	r.mu.Lock()
	r.lastActivity = r.clock.Now()
	r.mu.Unlock()
}

// Snapshot returns the room's current ordered stroke list.
func (r *Room) Snapshot() []models.Stroke {
	r.writer.Lock()
	defer r.writer.Unlock()
	return r.history.Snapshot()
}

// Roster returns a copy of the room's roster.
func (r *Room) Roster() models.Roster {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.roster.Clone()
}

// Stats summarizes the room.
func (r *Room) Stats() RoomStats {
	r.writer.Lock()
	strokes := r.history.Len()
	active := r.history.ActiveCount()
	redo := r.history.RedoDepth()
	r.writer.Unlock()

	r.mu.RLock()
	defer r.mu.RUnlock()
	return RoomStats{
		ID:           r.ID,
		Participants: len(r.roster),
		Strokes:      strokes,
		ActiveStroke: active,
		RedoDepth:    redo,
		CreatedAt:    r.createdAt,
		LastActivity: r.lastActivity,
	}
}

func (r *Room) addParticipant(connID string, p models.Participant) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.roster[connID] = p
	r.lastActivity = r.clock.Now()
}

func (r *Room) removeParticipant(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.roster, connID)
	r.lastActivity = r.clock.Now()
}
