package gateway

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/canvas/go/internal/canvas/outbox"
	"github.com/mcdev12/canvas/go/internal/canvas/rooms"
)

// Service is the canvas gateway: websocket sessions, room state and the
// event relay.
type Service struct {
	registry          *rooms.Registry
	connectionManager *ConnectionManager
	router            *Router
	relay             *outbox.Relay
	wsHandler         *WebSocketHandler
	stateHandler      *StateHandler
	gatherer          prometheus.Gatherer
}

// NewService creates a new canvas gateway service. publisher may be nil, in
// which case relayed events are discarded.
func NewService(config Config, registry *rooms.Registry, publisher outbox.EventPublisher) *Service {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "canvas_gateway_rooms",
			Help: "Rooms held in memory",
		}, func() float64 { return float64(registry.Count()) }),
	)

	metrics := NewMetrics(reg)
	relay := outbox.NewRelay(publisher, outbox.NewPrometheusMetrics(reg), config.RelayConfig)

	connectionManager := NewConnectionManager(config.ConnectionConfig, metrics)
	router := NewRouter(registry, connectionManager, relay, metrics)
	connectionManager.SetRouter(router)

	return &Service{
		registry:          registry,
		connectionManager: connectionManager,
		router:            router,
		relay:             relay,
		wsHandler:         NewWebSocketHandler(connectionManager),
		stateHandler:      NewStateHandler(registry, config.PublicWSURL),
		gatherer:          reg,
	}
}

// Start runs the event relay until ctx is cancelled.
func (s *Service) Start(ctx context.Context) error {
	log.Info().Msg("starting canvas gateway service")

	go func() {
		if err := s.relay.Start(ctx); err != nil {
			log.Error().Err(err).Msg("event relay failed")
		}
	}()

	<-ctx.Done()

	log.Info().Msg("canvas gateway service shutting down")
	return s.Stop()
}

// Stop closes every connection.
func (s *Service) Stop() error {
	s.connectionManager.CloseAll()
	log.Info().Msg("canvas gateway service stopped")
	return nil
}

// RegisterRoutes registers the gateway's HTTP routes
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	s.wsHandler.RegisterRoutes(mux)
	s.stateHandler.RegisterStateRoutes(mux)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	log.Info().Msg("canvas gateway routes registered")
}

// GetStats returns statistics about the gateway service
func (s *Service) GetStats() map[string]interface{} {
	stats := s.connectionManager.GetConnectionStats()
	published, dropped, _ := s.relay.Stats()
	stats["service"] = "canvas_gateway"
	stats["rooms"] = s.registry.Count()
	stats["relay_published"] = published
	stats["relay_dropped"] = dropped
	return stats
}
