package gateway

import (
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/canvas/go/internal/canvas/events"
)

// Deliver implements Peer. It never blocks: a full send buffer drops cursor
// frames and closes the connection for anything else.
func (c *Connection) Deliver(frame []byte, reliable bool) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.Send <- frame:
		return true
	default:
	}

	if reliable {
		log.Warn().
			Str("connection_id", c.ID).
			Msg("send buffer full, closing slow connection")
		c.Close()
	}
	return false
}

// Close terminates the connection. It is safe to call more than once.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
		close(c.done)
		c.Conn.Close()
	})
}

// readPump pumps messages from the WebSocket connection to the router.
// Frames of one connection are handled strictly in arrival order. Over the
// rate limit, cursor updates are dropped while every other event waits for
// its turn, which pushes back on the client through TCP.
func (c *Connection) readPump() {
	defer func() {
		c.Manager.router.Disconnect(c.session)
		c.Manager.unregisterConnection(c)
		c.Close()
	}()

	c.Conn.SetReadLimit(c.Manager.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
		c.touch()
		return nil
	})

	violations := 0
	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("unexpected WebSocket close error")
			}
			break
		}
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))

		env, err := events.Parse(message)
		if err != nil {
			c.Manager.router.Reject(c.session, err)
			continue
		}

		if !env.Event.Reliable() {
			if c.limiter != nil && !c.limiter.Allow() {
				violations++
				c.Manager.metrics.dropped.WithLabelValues("rate_limited").Inc()
				if violations%100 == 1 {
					log.Warn().
						Str("connection_id", c.ID).
						Int("violations", violations).
						Msg("rate limit exceeded, dropping cursor update")
				}
				if limit := c.Manager.config.MaxViolations; limit > 0 && violations > limit {
					log.Warn().
						Str("connection_id", c.ID).
						Msg("too many rate limit violations, disconnecting")
					break
				}
				continue
			}
		} else if c.limiter != nil && !c.limiter.Allow() {
			// reliable events are never shed: stop reading until a token frees up
			c.Manager.metrics.throttled.Inc()
			if err := c.limiter.Wait(c.ctx); err != nil {
				log.Warn().
					Err(err).
					Str("connection_id", c.ID).
					Msg("rate limit wait aborted, disconnecting")
				break
			}
		}

		c.Manager.router.Handle(c.session, env)
	}
}

// writePump pumps queued frames to the WebSocket connection and keeps it
// alive with pings.
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.Manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-c.done:
			return

		case message := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to write message to WebSocket")
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to send ping")
				return
			}
			c.touch()
		}
	}
}
