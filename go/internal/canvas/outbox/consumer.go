package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"
)

// JetStreamConsumerConfig holds configuration for a relay consumer
type JetStreamConsumerConfig struct {
	URL           string
	StreamName    string
	ConsumerName  string
	SubjectFilter string // e.g., "canvas.events.>"
	MaxDeliver    int
	AckWait       time.Duration
	MaxAckPending int
	MaxReconnects int
	ReconnectWait time.Duration
}

// DefaultJetStreamConsumerConfig returns defaults matching DefaultJetStreamConfig.
func DefaultJetStreamConsumerConfig() JetStreamConsumerConfig {
	return JetStreamConsumerConfig{
		URL:           nats.DefaultURL,
		StreamName:    "CANVAS_EVENTS",
		ConsumerName:  "canvas-tail",
		SubjectFilter: "canvas.events.>",
		MaxDeliver:    5,
		AckWait:       30 * time.Second,
		MaxAckPending: 100,
		MaxReconnects: -1, // Infinite
		ReconnectWait: 2 * time.Second,
	}
}

// Handler processes one relayed event. A returned error naks the message so
// it is redelivered.
type Handler func(ctx context.Context, event RoomEvent) error

// EventConsumer reads relayed room events back from JetStream.
type EventConsumer struct {
	nc       *nats.Conn
	js       jetstream.JetStream
	consumer jetstream.Consumer
	config   JetStreamConsumerConfig
	handler  Handler
}

// NewEventConsumer connects to NATS and binds a durable consumer to the
// canvas event stream.
func NewEventConsumer(config JetStreamConsumerConfig, handler Handler) (*EventConsumer, error) {
	opts := []nats.Option{
		nats.Name(config.ConsumerName),
		nats.MaxReconnects(config.MaxReconnects),
		nats.ReconnectWait(config.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	ec := &EventConsumer{nc: nc, js: js, config: config, handler: handler}
	if err := ec.ensureConsumer(context.Background()); err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure consumer: %w", err)
	}
	return ec, nil
}

func (ec *EventConsumer) ensureConsumer(ctx context.Context) error {
	stream, err := ec.js.Stream(ctx, ec.config.StreamName)
	if err != nil {
		return fmt.Errorf("get stream: %w", err)
	}

	consumer, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Name:          ec.config.ConsumerName,
		Durable:       ec.config.ConsumerName,
		Description:   "Canvas room event tail",
		FilterSubject: ec.config.SubjectFilter,
		DeliverPolicy: jetstream.DeliverNewPolicy,
		AckPolicy:     jetstream.AckExplicitPolicy,
		MaxDeliver:    ec.config.MaxDeliver,
		AckWait:       ec.config.AckWait,
		MaxAckPending: ec.config.MaxAckPending,
		ReplayPolicy:  jetstream.ReplayInstantPolicy,
	})
	if err != nil {
		return fmt.Errorf("create consumer: %w", err)
	}

	log.Info().
		Str("consumer", ec.config.ConsumerName).
		Str("stream", ec.config.StreamName).
		Msg("bound JetStream consumer")
	ec.consumer = consumer
	return nil
}

// Start consumes until ctx is cancelled.
func (ec *EventConsumer) Start(ctx context.Context) error {
	messageCh := make(chan jetstream.Msg, 100)

	consumeCtx, err := ec.consumer.Consume(func(msg jetstream.Msg) {
		select {
		case messageCh <- msg:
		case <-ctx.Done():
			msg.Nak()
		}
	})
	if err != nil {
		return fmt.Errorf("start consumer: %w", err)
	}
	defer consumeCtx.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("event consumer shutting down")
			return nil
		case msg := <-messageCh:
			ec.process(ctx, msg)
		}
	}
}

func (ec *EventConsumer) process(ctx context.Context, msg jetstream.Msg) {
	event, err := DecodeEnvelope(msg.Data())
	if err != nil {
		// Redelivery cannot fix a bad payload
		log.Error().Err(err).Str("subject", msg.Subject()).Msg("dropping undecodable relay message")
		if termErr := msg.Term(); termErr != nil {
			log.Error().Err(termErr).Msg("failed to TERM message")
		}
		return
	}

	if err := ec.handler(ctx, event); err != nil {
		log.Error().
			Err(err).
			Str("event_id", event.ID.String()).
			Str("subject", msg.Subject()).
			Msg("failed to process relayed event")
		if nakErr := msg.Nak(); nakErr != nil {
			log.Error().Err(nakErr).Msg("failed to NAK message")
		}
		return
	}
	if ackErr := msg.Ack(); ackErr != nil {
		log.Error().Err(ackErr).Msg("failed to ACK message")
	}
}

// Close drops the NATS connection.
func (ec *EventConsumer) Close() error {
	if ec.nc != nil {
		ec.nc.Close()
	}
	return nil
}

// DecodeEnvelope parses a message written by the JetStream publisher.
func DecodeEnvelope(data []byte) (RoomEvent, error) {
	var envelope struct {
		EventID   string          `json:"eventId"`
		EventType string          `json:"eventType"`
		RoomID    string          `json:"roomId"`
		Timestamp time.Time       `json:"timestamp"`
		Payload   json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return RoomEvent{}, fmt.Errorf("unmarshal event envelope: %w", err)
	}

	id, err := uuid.Parse(envelope.EventID)
	if err != nil {
		return RoomEvent{}, fmt.Errorf("parse event ID: %w", err)
	}
	if envelope.RoomID == "" || envelope.EventType == "" {
		return RoomEvent{}, fmt.Errorf("event %s: missing room or type", id)
	}

	return RoomEvent{
		ID:         id,
		RoomID:     envelope.RoomID,
		EventType:  envelope.EventType,
		Payload:    envelope.Payload,
		OccurredAt: envelope.Timestamp,
	}, nil
}
