package main

import (
	"context"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/canvas/go/internal/canvas/client"
	"github.com/mcdev12/canvas/go/internal/canvas/events"
	"github.com/mcdev12/canvas/go/internal/canvasconfig"
	"github.com/mcdev12/canvas/go/internal/models"
)

// botConfig is what sketchbot needs on top of the shared canvas settings.
type botConfig struct {
	ServerURL   string        `env:"SKETCHBOT_SERVER" envDefault:"http://localhost:3000"`
	Room        string        `env:"SKETCHBOT_ROOM" envDefault:"default"`
	Name        string        `env:"SKETCHBOT_NAME" envDefault:"sketchbot"`
	Draw        bool          `env:"SKETCHBOT_DRAW" envDefault:"true"`
	Color       string        `env:"SKETCHBOT_COLOR" envDefault:"#e11d48"`
	StrokeDelay time.Duration `env:"SKETCHBOT_STROKE_DELAY" envDefault:"20ms"`
}

func main() {
	cfg, err := canvasconfig.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	cfg.SetupLogging()

	var bot botConfig
	if err := env.Parse(&bot); err != nil {
		log.Fatal().Err(err).Msg("failed to parse sketchbot configuration")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// WS_URL wins over asking the server
	wsURL := cfg.WSURL
	if wsURL == "" {
		resolveCtx, resolveCancel := context.WithTimeout(ctx, 10*time.Second)
		wsURL, err = client.ResolveServerURL(resolveCtx, nil, bot.ServerURL)
		resolveCancel()
		if err != nil {
			log.Fatal().Err(err).Str("server", bot.ServerURL).Msg("failed to resolve websocket url")
		}
	}

	log.Info().
		Str("ws_url", wsURL).
		Str("room", bot.Room).
		Str("name", bot.Name).
		Msg("starting sketchbot")

	opts := client.DefaultOptions(wsURL)
	joined := make(chan struct{}, 1)
	opts.OnStateChange = func(state client.State) {
		log.Info().Str("state", state.String()).Msg("session state changed")
		if state == client.StateJoined {
			select {
			case joined <- struct{}{}:
			default:
			}
		}
	}
	opts.OnError = func(err error) {
		log.Error().Err(err).Msg("session error")
	}

	var session *client.Session
	opts.OnEvent = func(e events.Envelope) {
		switch e.Event {
		case events.UsersUpdate, events.RoomJoined:
			logRoster(session.Presence().Roster())
		case events.StrokeApply, events.HistoryReset, events.CanvasCleared:
			m := session.Mirror()
			log.Debug().
				Str("event", string(e.Event)).
				Int("strokes", len(m.Strokes)).
				Int("visible", len(client.Visible(m))).
				Int("blocked", len(m.Blocked)).
				Msg("mirror changed")
		}
	}
	session = client.NewSession(opts)

	if err := session.Join(bot.Room, bot.Name); err != nil {
		log.Fatal().Err(err).Msg("failed to join")
	}

	runDone := make(chan error, 1)
	go func() { runDone <- session.Run(ctx) }()

	if bot.Draw {
		go func() {
			select {
			case <-joined:
			case <-ctx.Done():
				return
			}
			if err := drawCircle(ctx, session, bot); err != nil {
				log.Warn().Err(err).Msg("test stroke interrupted")
			}
		}()
	}

	select {
	case err := <-runDone:
		if err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("session ended")
			os.Exit(1)
		}
	case <-ctx.Done():
		log.Info().Msg("shutting down sketchbot")
		session.Close()
		<-runDone
	}
}

// drawCircle draws one test stroke, a circle around the middle of a
// 800x600 canvas, one point at a time.
func drawCircle(ctx context.Context, s *client.Session, bot botConfig) error {
	const (
		cx, cy = 400.0, 300.0
		radius = 120.0
		steps  = 64
	)
	at := func(i int) models.Point {
		a := 2 * math.Pi * float64(i) / steps
		return models.Point{X: cx + radius*math.Cos(a), Y: cy + radius*math.Sin(a)}
	}

	id, err := s.StartStroke(models.ToolBrush, bot.Color, 4, at(0))
	if err != nil {
		return err
	}
	defer s.EndStroke(id)

	ticker := time.NewTicker(bot.StrokeDelay)
	defer ticker.Stop()
	for i := 1; i <= steps; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		if err := s.AppendPoint(id, at(i)); err != nil {
			return err
		}
	}
	log.Info().Str("stroke_id", id).Msg("test stroke drawn")
	return nil
}

func logRoster(roster models.Roster) {
	names := make([]string, 0, len(roster))
	for _, p := range roster {
		names = append(names, p.Name)
	}
	log.Info().Strs("participants", names).Int("count", len(roster)).Msg("roster updated")
}
