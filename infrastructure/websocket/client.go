package websocket

import (
	"chat-relay/domain"
	"chat-relay/domain/event"
	"chat-relay/sink"
	"context"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
)

type client struct {
	server   *Server
	conn     *websocket.Conn
	handle   *sink.ConnectionSink
	identity domain.Identity
	log      *slog.Logger
}

func newClient(s *Server, conn *websocket.Conn, handle *sink.ConnectionSink, identity domain.Identity, remote string) *client {
	return &client{
		server:   s,
		conn:     conn,
		handle:   handle,
		identity: identity,
		log: s.log.With(
			"user_id", identity.ID,
			"conn_id", handle.ID(),
			"remote", remote),
	}
}

// readPump owns all reads on the connection. Frames are dispatched in the
// order they arrive. It returns when the peer goes away or a read fails.
func (c *client) readPump(ctx context.Context) {
	cfg := c.server.cfg
	_ = c.conn.SetReadDeadline(time.Now().Add(cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(cfg.PongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Warn("Websocket read failed", "error", err)
			} else {
				c.log.Debug("Websocket closed", "error", err)
			}
			return
		}
		c.server.dispatch(ctx, c, raw)
	}
}

// writePump owns all writes on the connection. It exits when the handle is
// closed or a write fails, closing the socket so the read pump unblocks.
func (c *client) writePump() {
	cfg := c.server.cfg
	ticker := time.NewTicker(cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case evt, ok := <-c.handle.Events():
			_ = c.conn.SetWriteDeadline(time.Now().Add(cfg.WriteWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.write(evt); err != nil {
				c.log.Debug("Websocket write failed", "kind", evt.Kind, "error", err)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *client) write(evt event.Event) error {
	data, err := event.Encode(evt)
	if err != nil {
		c.log.Error("Unable to encode event", "kind", evt.Kind, "error", err)
		return nil
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}
