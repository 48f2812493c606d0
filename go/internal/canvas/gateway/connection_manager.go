package gateway

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/mcdev12/canvas/go/internal/canvas/events"
)

// Peer is one room member as seen by the fan-out.
type Peer interface {
	ConnectionID() string
	// Deliver queues a frame. Reliable frames that cannot be queued close the
	// peer; unreliable frames are simply dropped. It reports whether the frame
	// was queued.
	Deliver(frame []byte, reliable bool) bool
}

// Hub fans events out to room members.
type Hub interface {
	Subscribe(roomID string, peer Peer)
	Unsubscribe(roomID string, peer Peer)
	SendTo(peer Peer, env events.Envelope)
	Broadcast(roomID string, env events.Envelope, except Peer)
}

// ConnectionManager manages WebSocket connections and per-room fan-out
type ConnectionManager struct {
	// Room member pools, keyed by room ID then connection ID
	roomPeers   map[string]map[string]Peer
	connections map[string]*Connection
	mu          sync.RWMutex

	// Upgrader for WebSocket connections
	upgrader websocket.Upgrader

	config  ConnectionConfig
	router  *Router
	metrics *Metrics
}

// Connection represents a WebSocket connection to a client
type Connection struct {
	ID      string
	Conn    *websocket.Conn
	Send    chan []byte
	Manager *ConnectionManager

	session *Session
	limiter *rate.Limiter

	// Connection metadata
	ConnectedAt time.Time
	lastPing    atomic.Int64

	// ctx is cancelled by Close; it bounds rate limit waits
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

// NewConnectionManager creates a new WebSocket connection manager
func NewConnectionManager(config ConnectionConfig, metrics *Metrics) *ConnectionManager {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &ConnectionManager{
		roomPeers:   make(map[string]map[string]Peer),
		connections: make(map[string]*Connection),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:  config,
		metrics: metrics,
	}
}

// SetRouter attaches the router inbound frames are dispatched to.
func (cm *ConnectionManager) SetRouter(router *Router) {
	cm.router = router
}

// UpgradeConnection upgrades an HTTP connection to WebSocket
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request) (*Connection, error) {
	if cm.router == nil {
		return nil, fmt.Errorf("connection manager has no router")
	}

	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to upgrade connection: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	connection := &Connection{
		ID:          uuid.New().String(),
		Conn:        conn,
		Send:        make(chan []byte, cm.config.SendBufferSize),
		Manager:     cm,
		ConnectedAt: time.Now(),
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
	}
	connection.touch()
	if cm.config.MessagesPerSecond > 0 {
		connection.limiter = rate.NewLimiter(rate.Limit(cm.config.MessagesPerSecond), max(cm.config.MessageBurst, 1))
	}
	connection.session = NewSession(connection)

	cm.registerConnection(connection)

	go connection.writePump()
	go connection.readPump()

	log.Info().
		Str("connection_id", connection.ID).
		Str("remote_addr", r.RemoteAddr).
		Msg("WebSocket connection established")

	return connection, nil
}

func (cm *ConnectionManager) registerConnection(conn *Connection) {
	cm.mu.Lock()
	cm.connections[conn.ID] = conn
	total := len(cm.connections)
	cm.mu.Unlock()

	cm.metrics.connectionsActive.Inc()

	log.Debug().
		Str("connection_id", conn.ID).
		Int("total_connections", total).
		Msg("connection registered")
}

func (cm *ConnectionManager) unregisterConnection(conn *Connection) {
	cm.mu.Lock()
	_, exists := cm.connections[conn.ID]
	delete(cm.connections, conn.ID)
	cm.mu.Unlock()

	if !exists {
		return
	}

	cm.metrics.connectionsActive.Dec()

	log.Info().
		Str("connection_id", conn.ID).
		Str("room_id", conn.session.RoomID()).
		Msg("connection unregistered")
}

// Subscribe adds a peer to a room's fan-out pool.
func (cm *ConnectionManager) Subscribe(roomID string, peer Peer) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.roomPeers[roomID] == nil {
		cm.roomPeers[roomID] = make(map[string]Peer)
	}
	cm.roomPeers[roomID][peer.ConnectionID()] = peer

	log.Debug().
		Str("connection_id", peer.ConnectionID()).
		Str("room_id", roomID).
		Int("room_connections", len(cm.roomPeers[roomID])).
		Msg("peer subscribed")
}

// Unsubscribe removes a peer from a room's fan-out pool. Empty pools are
// released; the room's history is owned by the registry and is unaffected.
func (cm *ConnectionManager) Unsubscribe(roomID string, peer Peer) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	peers, ok := cm.roomPeers[roomID]
	if !ok {
		return
	}
	delete(peers, peer.ConnectionID())
	if len(peers) == 0 {
		delete(cm.roomPeers, roomID)
	}
}

// SendTo delivers an event to a single peer.
func (cm *ConnectionManager) SendTo(peer Peer, env events.Envelope) {
	frame, err := env.Marshal()
	if err != nil {
		log.Error().Err(err).Str("event", string(env.Event)).Msg("failed to marshal event")
		return
	}
	if !peer.Deliver(frame, env.Event.Reliable()) {
		cm.metrics.dropped.WithLabelValues("send_buffer_full").Inc()
	}
	cm.metrics.broadcasts.WithLabelValues(string(env.Event)).Inc()
}

// Broadcast delivers an event to every peer in a room except the given one.
func (cm *ConnectionManager) Broadcast(roomID string, env events.Envelope, except Peer) {
	cm.mu.RLock()
	pool := cm.roomPeers[roomID]
	targets := make([]Peer, 0, len(pool))
	for id, peer := range pool {
		if except != nil && id == except.ConnectionID() {
			continue
		}
		targets = append(targets, peer)
	}
	cm.mu.RUnlock()

	if len(targets) == 0 {
		return
	}

	// Marshal the event once
	frame, err := env.Marshal()
	if err != nil {
		log.Error().Err(err).Str("event", string(env.Event)).Msg("failed to marshal event for broadcast")
		return
	}

	reliable := env.Event.Reliable()
	for _, peer := range targets {
		if !peer.Deliver(frame, reliable) {
			cm.metrics.dropped.WithLabelValues("send_buffer_full").Inc()
		}
	}
	cm.metrics.broadcasts.WithLabelValues(string(env.Event)).Inc()

	log.Debug().
		Str("event", string(env.Event)).
		Str("room_id", roomID).
		Int("connections", len(targets)).
		Msg("event broadcasted")
}

// RoomConnections returns the number of subscribed peers in a room.
func (cm *ConnectionManager) RoomConnections(roomID string) int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.roomPeers[roomID])
}

// GetConnectionStats returns statistics about active connections
func (cm *ConnectionManager) GetConnectionStats() map[string]interface{} {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	roomCounts := make(map[string]int, len(cm.roomPeers))
	for roomID, peers := range cm.roomPeers {
		roomCounts[roomID] = len(peers)
	}

	return map[string]interface{}{
		"total_connections": len(cm.connections),
		"active_rooms":      len(cm.roomPeers),
		"room_connections":  roomCounts,
	}
}

// CloseAll closes every open connection.
func (cm *ConnectionManager) CloseAll() {
	cm.mu.RLock()
	conns := make([]*Connection, 0, len(cm.connections))
	for _, c := range cm.connections {
		conns = append(conns, c)
	}
	cm.mu.RUnlock()

	for _, c := range conns {
		c.Close()
	}
}

// LastPing returns when the connection last sent a ping or received a pong.
func (c *Connection) LastPing() time.Time {
	return time.Unix(0, c.lastPing.Load())
}

func (c *Connection) touch() {
	c.lastPing.Store(time.Now().UnixNano())
}

// ConnectionID implements Peer.
func (c *Connection) ConnectionID() string {
	return c.ID
}
