package gateway

import (
	"net/http"
	"time"

	"github.com/mcdev12/canvas/go/internal/canvas/outbox"
)

// ConnectionConfig holds configuration for WebSocket connections
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	SendBufferSize  int
	CheckOrigin     func(r *http.Request) bool

	// Inbound rate limiting per connection
	MessagesPerSecond float64
	MessageBurst      int
	MaxViolations     int
}

// DefaultConnectionConfig returns default WebSocket configuration
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  64 * 1024,
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		SendBufferSize:  512,
		CheckOrigin: func(r *http.Request) bool {
			// Allow all origins in development - restrict in production
			return true
		},
		MessagesPerSecond: 200,
		MessageBurst:      400,
		MaxViolations:     1000,
	}
}

// Config holds configuration for the canvas gateway service
type Config struct {
	ConnectionConfig ConnectionConfig
	RelayConfig      outbox.Config
	// PublicWSURL is advertised by /api/config. Empty derives it from the request.
	PublicWSURL string
}

// DefaultConfig returns default configuration for the canvas gateway
func DefaultConfig() Config {
	return Config{
		ConnectionConfig: DefaultConnectionConfig(),
		RelayConfig:      outbox.DefaultConfig(),
	}
}
