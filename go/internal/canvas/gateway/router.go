package gateway

import (
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/canvas/go/internal/canvas/events"
	"github.com/mcdev12/canvas/go/internal/canvas/history"
	"github.com/mcdev12/canvas/go/internal/canvas/rooms"
	"github.com/mcdev12/canvas/go/internal/models"
)

// EventSink observes authoritative room events, e.g. the outbox relay.
type EventSink interface {
	Enqueue(roomID, eventType string, payload interface{})
}

type noopSink struct{}

func (noopSink) Enqueue(string, string, interface{}) {}

// Session is the per-connection protocol state. It is only touched from the
// connection's read goroutine.
type Session struct {
	peer   Peer
	roomID string
	joined bool
}

// NewSession creates an unjoined session for a peer.
func NewSession(peer Peer) *Session {
	return &Session{peer: peer}
}

// RoomID returns the joined room, or "" while unjoined.
func (s *Session) RoomID() string {
	return s.roomID
}

// Joined reports whether the session has joined a room.
func (s *Session) Joined() bool {
	return s.joined
}

// Router applies client events to room state and fans out the results.
type Router struct {
	registry *rooms.Registry
	hub      Hub
	sink     EventSink
	metrics  *Metrics
}

// NewRouter creates a router. sink and metrics may be nil.
func NewRouter(registry *rooms.Registry, hub Hub, sink EventSink, metrics *Metrics) *Router {
	if sink == nil {
		sink = noopSink{}
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Router{
		registry: registry,
		hub:      hub,
		sink:     sink,
		metrics:  metrics,
	}
}

// HandleFrame decodes a raw frame and dispatches it. Undecodable frames are
// dropped; they never close the connection.
func (rt *Router) HandleFrame(s *Session, frame []byte) {
	env, err := events.Parse(frame)
	if err != nil {
		rt.Reject(s, err)
		return
	}
	rt.Handle(s, env)
}

// Reject records a frame that could not be decoded.
func (rt *Router) Reject(s *Session, err error) {
	log.Warn().
		Err(err).
		Str("connection_id", s.peer.ConnectionID()).
		Msg("dropping undecodable frame")
	rt.drop("undecodable")
}

// Handle dispatches one decoded client event.
func (rt *Router) Handle(s *Session, env events.Envelope) {
	rt.metrics.inbound.WithLabelValues(string(env.Event)).Inc()

	if env.Event == events.RoomJoin {
		var p events.JoinPayload
		if err := env.Decode(&p); err != nil {
			log.Warn().Err(err).Str("connection_id", s.peer.ConnectionID()).Msg("malformed join payload, using defaults")
		}
		rt.Join(s, p)
		return
	}

	if !s.joined {
		log.Debug().
			Str("connection_id", s.peer.ConnectionID()).
			Str("event", string(env.Event)).
			Msg("ignoring event before join")
		rt.drop("not_joined")
		return
	}

	switch env.Event {
	case events.StrokeEvent:
		var p events.StrokeEventPayload
		if err := env.Decode(&p); err != nil {
			rt.dropMalformed(s, env, err)
			return
		}
		rt.stroke(s, p)
	case events.HistoryUndo:
		rt.undoRedo(s, true)
	case events.HistoryRedo:
		rt.undoRedo(s, false)
	case events.CanvasClear:
		rt.clear(s)
	case events.CursorUpdate:
		var pos events.CursorPayload
		if err := env.Decode(&pos); err != nil {
			rt.dropMalformed(s, env, err)
			return
		}
		rt.hub.Broadcast(s.roomID, events.MustEnvelope(events.CursorUpdate, events.CursorBroadcastPayload{
			UserID: s.peer.ConnectionID(),
			Pos:    pos,
		}), s.peer)
	default:
		log.Debug().
			Str("connection_id", s.peer.ConnectionID()).
			Str("event", string(env.Event)).
			Msg("ignoring unknown event")
		rt.drop("unknown_event")
	}
}

// Join registers the session's peer in a room. A session that is already
// joined leaves its previous room first.
func (rt *Router) Join(s *Session, p events.JoinPayload) {
	if s.joined {
		rt.leave(s)
	}

	roomID := p.Room
	if roomID == "" {
		roomID = rooms.DefaultRoomID
	}
	name := p.Name
	if name == "" {
		name = DefaultName(s.peer.ConnectionID())
	}

	room := rt.registry.Ensure(roomID)
	room.Sequence(func(h *history.History) {
		self := rt.registry.AddParticipant(roomID, s.peer.ConnectionID(), name)
		rt.hub.Subscribe(roomID, s.peer)
		s.roomID = roomID
		s.joined = true
		rt.metrics.joins.Inc()

		roster := room.Roster()
		rt.hub.SendTo(s.peer, events.MustEnvelope(events.RoomJoined, events.JoinedPayload{
			Room:    roomID,
			Users:   roster,
			Self:    self,
			Strokes: h.Snapshot(),
		}))
		rt.hub.Broadcast(roomID, events.MustEnvelope(events.UsersUpdate, roster), nil)
	})

	log.Info().
		Str("connection_id", s.peer.ConnectionID()).
		Str("room_id", roomID).
		Str("name", name).
		Msg("participant joined room")
}

// Disconnect removes the session from its room, if any. History is kept.
func (rt *Router) Disconnect(s *Session) {
	if !s.joined {
		return
	}
	rt.leave(s)
}

func (rt *Router) leave(s *Session) {
	roomID := s.roomID
	room := rt.registry.Ensure(roomID)
	room.Sequence(func(*history.History) {
		rt.hub.Unsubscribe(roomID, s.peer)
		rt.registry.RemoveParticipant(roomID, s.peer.ConnectionID())
		rt.hub.Broadcast(roomID, events.MustEnvelope(events.UsersUpdate, room.Roster()), nil)
	})
	s.roomID = ""
	s.joined = false

	log.Info().
		Str("connection_id", s.peer.ConnectionID()).
		Str("room_id", roomID).
		Msg("participant left room")
}

func (rt *Router) stroke(s *Session, p events.StrokeEventPayload) {
	room := rt.registry.Ensure(s.roomID)

	switch p.Type {
	case events.StrokeStart:
		if p.Stroke == nil || p.Stroke.ID == "" {
			log.Debug().Str("connection_id", s.peer.ConnectionID()).Msg("ignoring stroke start without id")
			rt.drop("malformed")
			return
		}
		params := history.StartParams{
			ID:       p.Stroke.ID,
			AuthorID: s.peer.ConnectionID(),
			Tool:     p.Stroke.Tool,
			Color:    p.Stroke.Color,
			Width:    p.Stroke.Width,
		}
		if len(p.Stroke.Points) > 0 {
			first := p.Stroke.Points[0]
			params.FirstPoint = &first
		}
		room.Sequence(func(h *history.History) {
			stroke, _ := h.StartStroke(params)
			rt.broadcastStroke(s.roomID, stroke)
		})

	case events.StrokeAppend, events.StrokeEnd:
		room.Sequence(func(h *history.History) {
			var (
				stroke models.Stroke
				ok     bool
			)
			if p.Type == events.StrokeAppend {
				stroke, ok = h.AppendPoints(p.ID, p.Points)
			} else {
				stroke, ok = h.EndStroke(p.ID)
			}
			if !ok {
				log.Debug().
					Str("room_id", s.roomID).
					Str("stroke_id", p.ID).
					Str("type", string(p.Type)).
					Msg("ignoring event for unknown stroke")
				rt.drop("unknown_stroke")
				return
			}
			rt.broadcastStroke(s.roomID, stroke)
		})

	default:
		log.Debug().
			Str("connection_id", s.peer.ConnectionID()).
			Str("type", string(p.Type)).
			Msg("ignoring unknown stroke event type")
		rt.drop("malformed")
	}
}

func (rt *Router) broadcastStroke(roomID string, stroke models.Stroke) {
	rt.hub.Broadcast(roomID, events.MustEnvelope(events.StrokeApply, stroke), nil)
	rt.sink.Enqueue(roomID, string(events.StrokeApply), stroke)
}

func (rt *Router) undoRedo(s *Session, undo bool) {
	room := rt.registry.Ensure(s.roomID)
	room.Sequence(func(h *history.History) {
		changed := h.Redo
		if undo {
			changed = h.Undo
		}
		if !changed() {
			return
		}
		snapshot := h.Snapshot()
		rt.hub.Broadcast(s.roomID, events.MustEnvelope(events.HistoryReset, snapshot), nil)
		rt.sink.Enqueue(s.roomID, string(events.HistoryReset), snapshot)
	})
}

func (rt *Router) clear(s *Session) {
	room := rt.registry.Ensure(s.roomID)
	room.Sequence(func(h *history.History) {
		if !h.Clear() {
			return
		}
		snapshot := h.Snapshot()
		rt.hub.Broadcast(s.roomID, events.MustEnvelope(events.CanvasCleared, snapshot), nil)
		rt.hub.Broadcast(s.roomID, events.MustEnvelope(events.HistoryReset, snapshot), nil)
		rt.sink.Enqueue(s.roomID, string(events.CanvasCleared), snapshot)
		rt.sink.Enqueue(s.roomID, string(events.HistoryReset), snapshot)
	})

	log.Info().
		Str("connection_id", s.peer.ConnectionID()).
		Str("room_id", s.roomID).
		Msg("canvas clear requested")
}

func (rt *Router) dropMalformed(s *Session, env events.Envelope, err error) {
	log.Warn().
		Err(err).
		Str("connection_id", s.peer.ConnectionID()).
		Str("event", string(env.Event)).
		Msg("dropping malformed payload")
	rt.drop("malformed")
}

func (rt *Router) drop(reason string) {
	rt.metrics.dropped.WithLabelValues(reason).Inc()
}

// DefaultName is the display name of a participant that joined without one.
func DefaultName(connID string) string {
	if len(connID) > 4 {
		connID = connID[len(connID)-4:]
	}
	return "user-" + connID
}
