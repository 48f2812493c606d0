package outbox

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsCollector defines the interface for collecting relay metrics
type MetricsCollector interface {
	RecordEventProcessed(eventType string, success bool, duration time.Duration)
	RecordEventDropped(reason string)
	RecordQueueDepth(depth int)
}

// NoOpMetricsCollector is a no-op implementation for when metrics aren't needed
type NoOpMetricsCollector struct{}

func (n *NoOpMetricsCollector) RecordEventProcessed(eventType string, success bool, duration time.Duration) {
}
func (n *NoOpMetricsCollector) RecordEventDropped(reason string) {}
func (n *NoOpMetricsCollector) RecordQueueDepth(depth int)      {}

// MetricPublisher wraps an EventPublisher with metrics collection
type MetricPublisher struct {
	publisher EventPublisher
	metrics   MetricsCollector
}

func NewMetricPublisher(publisher EventPublisher, metrics MetricsCollector) *MetricPublisher {
	return &MetricPublisher{
		publisher: publisher,
		metrics:   metrics,
	}
}

func (p *MetricPublisher) Publish(ctx context.Context, event RoomEvent) error {
	start := time.Now()

	err := p.publisher.Publish(ctx, event)

	p.metrics.RecordEventProcessed(event.EventType, err == nil, time.Since(start))
	return err
}

// PrometheusMetrics implements MetricsCollector using Prometheus
type PrometheusMetrics struct {
	eventCounter  *prometheus.CounterVec
	eventDuration *prometheus.HistogramVec
	dropCounter   *prometheus.CounterVec
	queueDepth    prometheus.Gauge
}

// NewPrometheusMetrics registers the relay collectors on reg.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	factory := promauto.With(reg)
	return &PrometheusMetrics{
		eventCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "canvas_relay_events_total",
			Help: "Room events relayed to the message bus by type and status",
		}, []string{"event_type", "status"}),
		eventDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "canvas_relay_publish_duration_seconds",
			Help:    "Time spent publishing one room event",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		}, []string{"event_type"}),
		dropCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "canvas_relay_dropped_total",
			Help: "Room events dropped before reaching the message bus",
		}, []string{"reason"}),
		queueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "canvas_relay_queue_depth",
			Help: "Room events waiting to be relayed",
		}),
	}
}

func (m *PrometheusMetrics) RecordEventProcessed(eventType string, success bool, duration time.Duration) {
	status := "success"
	if !success {
		status = "failure"
	}
	m.eventCounter.WithLabelValues(eventType, status).Inc()
	m.eventDuration.WithLabelValues(eventType).Observe(duration.Seconds())
}

func (m *PrometheusMetrics) RecordEventDropped(reason string) {
	m.dropCounter.WithLabelValues(reason).Inc()
}

func (m *PrometheusMetrics) RecordQueueDepth(depth int) {
	m.queueDepth.Set(float64(depth))
}
