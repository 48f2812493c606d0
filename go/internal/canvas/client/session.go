package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/canvas/go/internal/canvas/events"
	"github.com/mcdev12/canvas/go/internal/canvas/history"
	"github.com/mcdev12/canvas/go/internal/models"
)

// State is the connection state of a Session.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateJoined
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateJoined:
		return "joined"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Options configures a Session.
type Options struct {
	URL       string
	Transport Transport
	Clock     clockwork.Clock

	// Connection attempts per (re)connect, spaced RetryInterval apart.
	MaxAttempts   uint
	RetryInterval time.Duration

	// OnError is called once connecting has finally failed.
	OnError func(error)
	// OnStateChange is called after every state transition.
	OnStateChange func(State)
	// OnEvent is called after a server event has been applied locally.
	OnEvent func(events.Envelope)
}

// DefaultOptions returns options for url with the default retry policy.
func DefaultOptions(url string) Options {
	return Options{
		URL:           url,
		Transport:     NewWebSocketTransport(),
		Clock:         clockwork.NewRealClock(),
		MaxAttempts:   5,
		RetryInterval: time.Second,
	}
}

// Session is one client's connection to a canvas room. It owns the local
// mirror and presence, latches the join request across reconnects, and
// queues reliable requests until the join is acknowledged.
type Session struct {
	opts     Options
	presence *PresenceTracker

	mu      sync.Mutex
	state   State
	link    Link
	join    *events.JoinPayload
	queue   []events.Envelope
	mirror  Mirror
	self    models.Self
	room    string
	drawing map[string]models.Point
	closed  bool
	cancel  context.CancelFunc
}

// NewSession creates a disconnected session. Call Run to connect.
func NewSession(opts Options) *Session {
	def := DefaultOptions(opts.URL)
	if opts.Transport == nil {
		opts.Transport = def.Transport
	}
	if opts.Clock == nil {
		opts.Clock = def.Clock
	}
	if opts.MaxAttempts == 0 {
		opts.MaxAttempts = def.MaxAttempts
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = def.RetryInterval
	}
	return &Session{
		opts:     opts,
		presence: NewPresenceTracker(opts.Clock),
		mirror:   NewMirror(),
		drawing:  make(map[string]models.Point),
	}
}

// Run connects and processes server events until ctx is cancelled, the
// session is closed, or connecting fails MaxAttempts times in a row. In the
// last case the error wraps ErrTransportUnavailable, OnError is called, and
// the session keeps accepting calls against a stand-in link.
func (s *Session) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.cancel = cancel
	s.mu.Unlock()

	for {
		link, err := s.connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				s.setState(StateDisconnected)
				return s.exitErr(ctx)
			}
			err = fmt.Errorf("connect %s: %w: %w", s.opts.URL, ErrTransportUnavailable, err)

			s.mu.Lock()
			s.link = nullLink{}
			s.mu.Unlock()
			s.setState(StateDisconnected)

			log.Error().Err(err).Uint("attempts", s.opts.MaxAttempts).Msg("giving up on canvas server")
			if s.opts.OnError != nil {
				s.opts.OnError(err)
			}
			return err
		}

		s.attach(link)
		err = s.readLoop(ctx, link)
		s.detach(link)

		if ctx.Err() != nil {
			return s.exitErr(ctx)
		}
		log.Warn().Err(err).Msg("connection to canvas server lost, reconnecting")
	}
}

func (s *Session) exitErr(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	return ctx.Err()
}

func (s *Session) connect(ctx context.Context) (Link, error) {
	s.setState(StateConnecting)

	attempt := 0
	return backoff.Retry(ctx, func() (Link, error) {
		attempt++
		link, err := s.opts.Transport.Dial(ctx, s.opts.URL)
		if err != nil {
			log.Warn().
				Err(err).
				Int("attempt", attempt).
				Str("url", s.opts.URL).
				Msg("failed to connect to canvas server")
			return nil, err
		}
		return link, nil
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(s.opts.RetryInterval)),
		backoff.WithMaxTries(s.opts.MaxAttempts),
	)
}

// attach installs a fresh link and replays the latched join, if any.
func (s *Session) attach(link Link) {
	s.mu.Lock()
	s.link = link
	s.state = StateConnected
	if s.join != nil {
		if err := link.Send(events.MustEnvelope(events.RoomJoin, *s.join)); err != nil {
			log.Warn().Err(err).Msg("failed to send join")
		}
	}
	s.mu.Unlock()

	log.Info().Str("url", s.opts.URL).Msg("connected to canvas server")
	s.notifyState(StateConnected)
}

func (s *Session) detach(link Link) {
	link.Close()

	s.mu.Lock()
	if s.link == link {
		s.link = nil
	}
	s.mu.Unlock()
	s.setState(StateDisconnected)
}

func (s *Session) readLoop(ctx context.Context, link Link) error {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			link.Close()
		case <-stop:
		}
	}()

	for {
		env, err := link.Receive()
		if err != nil {
			return err
		}
		s.handle(env)
	}
}

var errMissingStrokeID = errors.New("stroke:apply without stroke id")

// handle applies one server event.
func (s *Session) handle(env events.Envelope) {
	switch env.Event {
	case events.RoomJoined:
		var p events.JoinedPayload
		if err := env.Decode(&p); err != nil {
			s.dropMalformed(env, err)
			return
		}
		s.presence.SetSelf(p.Self.ID)
		s.presence.SetRoster(p.Users)

		s.mu.Lock()
		s.mirror = Reduce(s.mirror, Joined{Strokes: p.Strokes})
		s.self = p.Self
		s.room = p.Room
		s.state = StateJoined
		s.flushLocked()
		s.mu.Unlock()

		log.Info().
			Str("room_id", p.Room).
			Str("self_id", p.Self.ID).
			Int("strokes", len(p.Strokes)).
			Msg("joined room")
		s.notifyState(StateJoined)

	case events.UsersUpdate:
		var roster models.Roster
		if err := env.Decode(&roster); err != nil {
			s.dropMalformed(env, err)
			return
		}
		s.presence.SetRoster(roster)

	case events.StrokeApply:
		var patch events.StrokePatch
		if err := env.Decode(&patch); err != nil {
			s.dropMalformed(env, err)
			return
		}
		if patch.ID == "" {
			s.dropMalformed(env, errMissingStrokeID)
			return
		}
		s.reduce(Applied{Patch: patch})

	case events.HistoryReset, events.CanvasCleared:
		strokes := make([]models.Stroke, 0)
		if err := env.Decode(&strokes); err != nil {
			s.dropMalformed(env, err)
			return
		}
		if env.Event == events.HistoryReset {
			s.reduce(Reset{Strokes: strokes})
		} else {
			s.reduce(Cleared{Strokes: strokes})
		}

	case events.CursorUpdate:
		var p events.CursorBroadcastPayload
		if err := env.Decode(&p); err != nil {
			s.dropMalformed(env, err)
			return
		}
		s.presence.Update(p.UserID, p.Pos)

	default:
		log.Debug().Str("event", string(env.Event)).Msg("ignoring unknown server event")
		return
	}

	if s.opts.OnEvent != nil {
		s.opts.OnEvent(env)
	}
}

func (s *Session) dropMalformed(env events.Envelope, err error) {
	log.Warn().Err(err).Str("event", string(env.Event)).Msg("dropping malformed server event")
}

func (s *Session) reduce(a Action) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mirror = Reduce(s.mirror, a)
}

// flushLocked sends queued requests in order. Requests that cannot be sent
// stay queued for the next join.
func (s *Session) flushLocked() {
	for len(s.queue) > 0 {
		if err := s.link.Send(s.queue[0]); err != nil {
			log.Warn().Err(err).Int("pending", len(s.queue)).Msg("failed to flush queued requests")
			return
		}
		s.queue = s.queue[1:]
	}
	s.queue = nil
}

// dispatch sends a reliable request, or queues it until the session is joined.
func (s *Session) dispatch(env events.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSessionClosed
	}
	if s.state == StateJoined && s.link != nil && len(s.queue) == 0 {
		err := s.link.Send(env)
		if err == nil {
			return nil
		}
		log.Warn().Err(err).Str("event", string(env.Event)).Msg("send failed, queueing request")
	}
	s.queue = append(s.queue, env)
	return nil
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
	s.notifyState(state)
}

func (s *Session) notifyState(state State) {
	if s.opts.OnStateChange != nil {
		s.opts.OnStateChange(state)
	}
}

// Join latches a join request. It is sent as soon as the session is
// connected and sent again after every reconnect.
func (s *Session) Join(room, name string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	p := events.JoinPayload{Room: room, Name: name}
	s.join = &p

	var err error
	rejoin := s.state == StateJoined
	if s.link != nil && (s.state == StateConnected || rejoin) {
		// requests issued from now on wait for the new room's snapshot
		s.state = StateConnected
		err = s.link.Send(events.MustEnvelope(events.RoomJoin, p))
	}
	s.mu.Unlock()

	if rejoin {
		s.notifyState(StateConnected)
	}
	return err
}

// StartStroke opens a new stroke, shows it locally at once and returns its id.
func (s *Session) StartStroke(tool models.Tool, color string, width float64, first models.Point) (string, error) {
	id := uuid.New().String()
	tool = models.NormalizeTool(tool)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", ErrSessionClosed
	}
	s.mirror = Reduce(s.mirror, LocalStart{Stroke: models.Stroke{
		ID:     id,
		UserID: s.self.ID,
		Tool:   tool,
		Color:  color,
		Width:  width,
		Points: []models.Point{first},
		Active: true,
	}})
	s.drawing[id] = first
	s.mu.Unlock()

	return id, s.dispatch(events.MustEnvelope(events.StrokeEvent, events.StrokeEventPayload{
		Type: events.StrokeStart,
		Stroke: &events.StrokeDraft{
			ID:     id,
			Tool:   tool,
			Color:  color,
			Width:  width,
			Points: []models.Point{first},
		},
	}))
}

// AppendPoint extends one of this client's open strokes. Points closer than
// the downsampling threshold to the previous one are skipped.
func (s *Session) AppendPoint(id string, p models.Point) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	last, ok := s.drawing[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("stroke %s is not open", id)
	}
	if last.Distance(p) < history.MinPointDistance {
		s.mu.Unlock()
		return nil
	}
	s.drawing[id] = p
	s.mirror = Reduce(s.mirror, LocalAppend{ID: id, Point: p})
	s.mu.Unlock()

	return s.dispatch(events.MustEnvelope(events.StrokeEvent, events.StrokeEventPayload{
		Type:   events.StrokeAppend,
		ID:     id,
		Points: []models.Point{p},
	}))
}

// EndStroke closes one of this client's strokes.
func (s *Session) EndStroke(id string) error {
	s.mu.Lock()
	delete(s.drawing, id)
	s.mu.Unlock()

	return s.dispatch(events.MustEnvelope(events.StrokeEvent, events.StrokeEventPayload{
		Type: events.StrokeEnd,
		ID:   id,
	}))
}

// Undo asks the server to deactivate the room's most recent active stroke.
func (s *Session) Undo() error {
	return s.dispatch(events.MustEnvelope(events.HistoryUndo, nil))
}

// Redo asks the server to reactivate the most recently undone stroke.
func (s *Session) Redo() error {
	return s.dispatch(events.MustEnvelope(events.HistoryRedo, nil))
}

// Clear asks the server to wipe the room's canvas.
func (s *Session) Clear() error {
	return s.dispatch(events.MustEnvelope(events.CanvasClear, nil))
}

// SendCursor shares the pointer position. Cursor updates are never queued:
// before the session has joined they fail with ErrNotJoined.
func (s *Session) SendCursor(p models.Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSessionClosed
	}
	if s.state != StateJoined || s.link == nil {
		return ErrNotJoined
	}
	return s.link.Send(events.MustEnvelope(events.CursorUpdate, p))
}

// Close ends the session. Run returns ErrSessionClosed.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.queue = nil
	if s.cancel != nil {
		s.cancel()
	}
	link := s.link
	s.mu.Unlock()

	if link != nil {
		return link.Close()
	}
	return nil
}

// State returns the current connection state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Mirror returns a copy of the local stroke mirror.
func (s *Session) Mirror() Mirror {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mirror.Clone()
}

// Visible returns the strokes to render.
func (s *Session) Visible() []models.Stroke {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Visible(s.mirror)
}

// Self returns this client's roster entry once joined.
func (s *Session) Self() models.Self {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.self
}

// Room returns the joined room id.
func (s *Session) Room() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.room
}

// Pending returns the number of queued requests.
func (s *Session) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Presence returns the session's roster and cursor tracker.
func (s *Session) Presence() *PresenceTracker {
	return s.presence
}
