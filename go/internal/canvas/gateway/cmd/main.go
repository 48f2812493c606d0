package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/canvas/go/internal/canvas/gateway"
	"github.com/mcdev12/canvas/go/internal/canvas/outbox"
	"github.com/mcdev12/canvas/go/internal/canvas/rooms"
	"github.com/mcdev12/canvas/go/internal/canvasconfig"
)

func main() {
	cfg, err := canvasconfig.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	// Setup logging
	cfg.SetupLogging()

	log.Info().
		Str("port", cfg.Port).
		Str("nats_url", cfg.NATSURL).
		Str("config_file", cfg.ConfigFile).
		Msg("starting canvas gateway")

	// Room registry
	roomConfig := rooms.DefaultConfig()
	if len(cfg.Palette) > 0 {
		roomConfig.Palette = cfg.Palette
	}
	registry := rooms.NewRegistry(roomConfig)

	// Event relay publisher: JetStream when a NATS URL is configured
	var publisher outbox.EventPublisher = outbox.NoOpPublisher{}
	if cfg.NATSURL != "" {
		jsConfig := outbox.DefaultJetStreamConfig()
		jsConfig.URL = cfg.NATSURL
		jsPublisher, err := outbox.NewJetStreamPublisher(jsConfig)
		if err != nil {
			// The relay is an observer; the canvas works without it
			log.Error().Err(err).Msg("failed to connect to NATS, relaying disabled")
		} else {
			defer jsPublisher.Close()
			publisher = jsPublisher
		}
	}

	// Create gateway configuration
	gatewayConfig := gateway.DefaultConfig()
	gatewayConfig.PublicWSURL = cfg.AdvertisedWSURL()
	gatewayConfig.ConnectionConfig.MessagesPerSecond = cfg.Limits.MessagesPerSecond
	gatewayConfig.ConnectionConfig.MessageBurst = cfg.Limits.MessageBurst
	gatewayConfig.ConnectionConfig.MaxMessageSize = cfg.Limits.MaxMessageSize
	gatewayConfig.ConnectionConfig.SendBufferSize = cfg.Limits.SendBufferSize

	gatewayService := gateway.NewService(gatewayConfig, registry, publisher)
	server := setupServer(cfg.Port, gatewayService)

	// Context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serviceDone := make(chan struct{})
	go func() {
		defer close(serviceDone)
		if err := gatewayService.Start(ctx); err != nil {
			log.Error().Err(err).Msg("gateway service failed")
		}
	}()

	// Start HTTP server
	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan

	log.Info().Str("signal", sig.String()).Msg("received shutdown signal")

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	// Cancel service context to stop the relay and close sockets
	cancel()
	select {
	case <-serviceDone:
	case <-shutdownCtx.Done():
	}

	log.Info().Msg("canvas gateway shutdown complete")
}
