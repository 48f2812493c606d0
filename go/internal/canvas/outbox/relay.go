package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

type Config struct {
	QueueSize      int
	PublishTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		QueueSize:      1024,
		PublishTimeout: 5 * time.Second,
	}
}

// Relay hands authoritative room events to a publisher off the hot path.
// Enqueue never blocks: the relay observes the room, it never gates it.
type Relay struct {
	publisher EventPublisher
	metrics   MetricsCollector
	config    Config
	queue     chan RoomEvent

	mu        sync.Mutex
	running   bool
	published uint64
	dropped   uint64
	lastEvent time.Time
	done      chan struct{}
}

func NewRelay(publisher EventPublisher, metrics MetricsCollector, cfg Config) *Relay {
	if publisher == nil {
		publisher = NoOpPublisher{}
	}
	if metrics == nil {
		metrics = &NoOpMetricsCollector{}
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = DefaultConfig().PublishTimeout
	}
	return &Relay{
		publisher: NewMetricPublisher(publisher, metrics),
		metrics:   metrics,
		config:    cfg,
		queue:     make(chan RoomEvent, cfg.QueueSize),
		done:      make(chan struct{}),
	}
}

// Enqueue schedules an event for publishing. The payload is marshaled
// immediately so later mutations cannot leak into it.
func (r *Relay) Enqueue(roomID, eventType string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Str("event_type", eventType).Msg("failed to marshal relay payload")
		r.drop("marshal")
		return
	}

	event := RoomEvent{
		ID:         uuid.New(),
		RoomID:     roomID,
		EventType:  eventType,
		Payload:    data,
		OccurredAt: time.Now().UTC(),
	}

	select {
	case r.queue <- event:
		r.metrics.RecordQueueDepth(len(r.queue))
	default:
		log.Warn().
			Str("room_id", roomID).
			Str("event_type", eventType).
			Msg("relay queue full, dropping event")
		r.drop("queue_full")
	}
}

// Start runs the publish loop until ctx is cancelled.
func (r *Relay) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("relay already running")
	}
	r.running = true
	r.mu.Unlock()

	defer close(r.done)

	log.Info().Int("queue_size", r.config.QueueSize).Msg("event relay started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("event relay shutting down")
			return nil
		case event := <-r.queue:
			r.metrics.RecordQueueDepth(len(r.queue))
			r.publish(ctx, event)
		}
	}
}

// Done is closed once Start returns.
func (r *Relay) Done() <-chan struct{} {
	return r.done
}

// Stats returns relay counters.
func (r *Relay) Stats() (published, dropped uint64, lastEvent time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.published, r.dropped, r.lastEvent
}

func (r *Relay) publish(ctx context.Context, event RoomEvent) {
	pubCtx, cancel := context.WithTimeout(ctx, r.config.PublishTimeout)
	defer cancel()

	if err := r.publisher.Publish(pubCtx, event); err != nil {
		log.Error().
			Err(err).
			Str("room_id", event.RoomID).
			Str("event_type", event.EventType).
			Str("event_id", event.ID.String()).
			Msg("failed to relay room event")
		r.drop("publish_error")
		return
	}

	r.mu.Lock()
	r.published++
	r.lastEvent = event.OccurredAt
	r.mu.Unlock()
}

func (r *Relay) drop(reason string) {
	r.metrics.RecordEventDropped(reason)
	r.mu.Lock()
	r.dropped++
	r.mu.Unlock()
}
