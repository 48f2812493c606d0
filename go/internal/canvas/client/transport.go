package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/canvas/go/internal/canvas/events"
)

var (
	// ErrNotJoined is returned for events that are dropped rather than queued
	// while the session has not joined a room.
	ErrNotJoined = errors.New("session has not joined a room")
	// ErrSessionClosed is returned once Close has been called.
	ErrSessionClosed = errors.New("session closed")
	// ErrTransportUnavailable is returned by the stand-in link used after the
	// connection could not be established.
	ErrTransportUnavailable = errors.New("transport unavailable")
)

// Transport opens links to the canvas server.
type Transport interface {
	Dial(ctx context.Context, url string) (Link, error)
}

// Link is one established connection. Send and Receive may be called from
// different goroutines, but each only from one at a time.
type Link interface {
	Send(env events.Envelope) error
	// Receive blocks for the next event. Any error means the link is gone.
	Receive() (events.Envelope, error)
	Close() error
}

// nullLink stands in for a link that could not be established.
type nullLink struct{}

func (nullLink) Send(events.Envelope) error          { return ErrTransportUnavailable }
func (nullLink) Receive() (events.Envelope, error) { return events.Envelope{}, ErrTransportUnavailable }
func (nullLink) Close() error                       { return nil }

// WebSocketTransport dials the gateway with gorilla/websocket.
type WebSocketTransport struct {
	Dialer       *websocket.Dialer
	WriteTimeout time.Duration
}

// NewWebSocketTransport returns a transport with default settings.
func NewWebSocketTransport() *WebSocketTransport {
	return &WebSocketTransport{
		Dialer:       websocket.DefaultDialer,
		WriteTimeout: 10 * time.Second,
	}
}

// Dial implements Transport.
func (t *WebSocketTransport) Dial(ctx context.Context, url string) (Link, error) {
	conn, _, err := t.Dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return &wsLink{conn: conn, writeTimeout: t.WriteTimeout}, nil
}

type wsLink struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
}

func (l *wsLink) Send(env events.Envelope) error {
	frame, err := env.Marshal()
	if err != nil {
		return fmt.Errorf("marshal %s: %w", env.Event, err)
	}
	if l.writeTimeout > 0 {
		l.conn.SetWriteDeadline(time.Now().Add(l.writeTimeout))
	}
	if err := l.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("write %s: %w", env.Event, err)
	}
	return nil
}

// Receive skips frames that do not decode; only transport errors end it.
func (l *wsLink) Receive() (events.Envelope, error) {
	for {
		_, frame, err := l.conn.ReadMessage()
		if err != nil {
			return events.Envelope{}, err
		}
		env, err := events.Parse(frame)
		if err != nil {
			log.Warn().Err(err).Msg("dropping undecodable frame from server")
			continue
		}
		return env, nil
	}
}

func (l *wsLink) Close() error {
	return l.conn.Close()
}

// ResolveServerURL asks a canvas server's /api/config for the websocket
// address clients should use. When the server does not advertise one, the
// address is derived from baseURL.
func ResolveServerURL(ctx context.Context, httpClient *http.Client, baseURL string) (string, error) {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base.String()+"/api/config", nil)
	if err != nil {
		return "", fmt.Errorf("build config request: %w", err)
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch config: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch config: unexpected status %d", resp.StatusCode)
	}

	var cfg struct {
		WSURL string `json:"wsUrl"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&cfg); err != nil {
		return "", fmt.Errorf("decode config: %w", err)
	}
	if cfg.WSURL != "" {
		return cfg.WSURL, nil
	}

	ws := *base
	ws.Scheme = "ws"
	if base.Scheme == "https" {
		ws.Scheme = "wss"
	}
	ws.Path = strings.TrimRight(base.Path, "/") + "/ws"
	return ws.String(), nil
}
