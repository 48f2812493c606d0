package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []RoomEvent
	err    error
}

func (p *recordingPublisher) Publish(ctx context.Context, event RoomEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) Events() []RoomEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]RoomEvent, len(p.events))
	copy(out, p.events)
	return out
}

func TestRelay_PublishesInOrder(t *testing.T) {
	pub := &recordingPublisher{}
	relay := NewRelay(pub, nil, Config{QueueSize: 8})

	ctx, cancel := context.WithCancel(context.Background())
	go relay.Start(ctx)

	relay.Enqueue("r1", "stroke:apply", map[string]string{"id": "s1"})
	relay.Enqueue("r1", "history:reset", []string{})
	relay.Enqueue("r2", "canvas:cleared", []string{})

	require.Eventually(t, func() bool { return len(pub.Events()) == 3 }, time.Second, 5*time.Millisecond)
	cancel()
	<-relay.Done()

	events := pub.Events()
	assert.Equal(t, "stroke:apply", events[0].EventType)
	assert.Equal(t, "history:reset", events[1].EventType)
	assert.Equal(t, "r2", events[2].RoomID)
	assert.JSONEq(t, `{"id":"s1"}`, string(events[0].Payload))

	published, dropped, last := relay.Stats()
	assert.Equal(t, uint64(3), published)
	assert.Zero(t, dropped)
	assert.False(t, last.IsZero())
}

func TestRelay_DropsWhenQueueFull(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewPrometheusMetrics(reg)
	relay := NewRelay(&recordingPublisher{}, metrics, Config{QueueSize: 1})

	// not started: the second event has nowhere to go
	relay.Enqueue("r1", "stroke:apply", 1)
	relay.Enqueue("r1", "stroke:apply", 2)

	_, dropped, _ := relay.Stats()
	assert.Equal(t, uint64(1), dropped)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.dropCounter.WithLabelValues("queue_full")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.queueDepth))
}

func TestRelay_PublishErrorsAreCountedNotFatal(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewPrometheusMetrics(reg)
	pub := &recordingPublisher{err: errors.New("bus down")}
	relay := NewRelay(pub, metrics, Config{QueueSize: 4})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go relay.Start(ctx)

	relay.Enqueue("r1", "stroke:apply", 1)

	require.Eventually(t, func() bool {
		_, dropped, _ := relay.Stats()
		return dropped == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.eventCounter.WithLabelValues("stroke:apply", "failure")))
}

func TestRelay_StartTwiceFails(t *testing.T) {
	relay := NewRelay(nil, nil, DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())
	go relay.Start(ctx)

	require.Eventually(t, func() bool {
		relay.mu.Lock()
		defer relay.mu.Unlock()
		return relay.running
	}, time.Second, time.Millisecond)

	assert.Error(t, relay.Start(ctx))
	cancel()
	<-relay.Done()
}

func TestRelay_UnmarshalablePayloadIsDropped(t *testing.T) {
	relay := NewRelay(nil, nil, DefaultConfig())
	relay.Enqueue("r1", "stroke:apply", make(chan int))

	_, dropped, _ := relay.Stats()
	assert.Equal(t, uint64(1), dropped)
}

func TestSubject(t *testing.T) {
	assert.Equal(t, "canvas.events.history.reset", Subject("canvas.events", "history:reset"))
	assert.Equal(t, "canvas.events.stroke.apply", Subject("canvas.events", "stroke:apply"))
}

func TestEncodeEnvelope(t *testing.T) {
	relay := NewRelay(nil, nil, Config{QueueSize: 1})
	relay.Enqueue("r1", "canvas:cleared", []int{})
	event := <-relay.queue

	data, err := encodeEnvelope(event)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "r1", decoded["roomId"])
	assert.Equal(t, "canvas:cleared", decoded["eventType"])
	assert.Equal(t, event.ID.String(), decoded["eventId"])
	assert.Equal(t, []interface{}{}, decoded["payload"])
}
