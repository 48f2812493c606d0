package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/canvas/go/internal/canvas/outbox"
	"github.com/mcdev12/canvas/go/internal/canvasconfig"
)

type tailConfig struct {
	Room     string `env:"TAIL_ROOM"`
	Consumer string `env:"TAIL_CONSUMER" envDefault:"canvas-tail"`
}

// canvas-tail follows the relayed room events and keeps a per-room count.
func main() {
	cfg, err := canvasconfig.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	cfg.SetupLogging()

	var tail tailConfig
	if err := env.Parse(&tail); err != nil {
		log.Fatal().Err(err).Msg("failed to parse tail configuration")
	}
	if cfg.NATSURL == "" {
		log.Fatal().Msg("NATS_URL is required")
	}

	consumerConfig := outbox.DefaultJetStreamConsumerConfig()
	consumerConfig.URL = cfg.NATSURL
	consumerConfig.ConsumerName = tail.Consumer
	if tail.Room != "" {
		// room ids are not part of the subject, filter in the handler
		log.Info().Str("room", tail.Room).Msg("tailing a single room")
	}

	var (
		mu     sync.Mutex
		counts = make(map[string]int)
	)
	handler := func(ctx context.Context, event outbox.RoomEvent) error {
		if tail.Room != "" && event.RoomID != tail.Room {
			return nil
		}
		mu.Lock()
		counts[event.RoomID]++
		n := counts[event.RoomID]
		mu.Unlock()

		log.Info().
			Str("room_id", event.RoomID).
			Str("event", event.EventType).
			Str("event_id", event.ID.String()).
			Time("at", event.OccurredAt).
			Int("room_events", n).
			Int("payload_bytes", len(event.Payload)).
			Msg("room event")
		return nil
	}

	consumer, err := outbox.NewEventConsumer(consumerConfig, handler)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create event consumer")
	}
	defer consumer.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := consumer.Start(ctx); err != nil {
		log.Error().Err(err).Msg("event consumer failed")
	}

	mu.Lock()
	for room, n := range counts {
		log.Info().Str("room_id", room).Int("events", n).Msg("tail summary")
	}
	mu.Unlock()
}
