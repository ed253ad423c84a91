package websocket

import (
	"context"
	"time"

	"sportbook-be/internal/service"

	"github.com/gofiber/websocket/v2"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8192
)

// FrameHandler is the part of the chat coordinator a socket drives.
type FrameHandler interface {
	Connected(conn *service.Connection)
	HandleFrame(ctx context.Context, conn *service.Connection, raw []byte) error
	Heartbeat(ctx context.Context, conn *service.Connection)
	Disconnect(conn *service.Connection)
}

// Client is a middleman between the websocket connection and the hub.
type Client struct {
	Hub *Hub

	// The websocket connection.
	Socket *websocket.Conn

	// Chat connection state bound to this socket
	Conn *service.Connection

	// Buffered channel of outbound messages.
	Send chan []byte

	handler FrameHandler
	inbound chan []byte
	ctx     context.Context
	cancel  context.CancelFunc
}

func (c *Client) ID() string { return c.Conn.ID }

// readPump pumps frames from the websocket connection into the inbound
// queue. Frames of one connection are handled strictly in arrival order.
func (c *Client) readPump() {
	defer func() {
		close(c.inbound)
		c.Socket.Close()
	}()
	c.Socket.SetReadLimit(maxMessageSize)
	c.Socket.SetReadDeadline(time.Now().Add(pongWait))
	c.Socket.SetPongHandler(func(string) error {
		c.Socket.SetReadDeadline(time.Now().Add(pongWait))
		c.handler.Heartbeat(c.ctx, c.Conn)
		return nil
	})

	for {
		msgType, data, err := c.Socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.Hub.logger.Warn("Client", "Unexpected close", map[string]interface{}{
					"connection_id": c.ID(),
					"error":         err.Error(),
				})
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		select {
		case c.inbound <- data:
		case <-c.ctx.Done():
			return
		}
	}
}

// processInbound handles queued frames one at a time, then runs the
// disconnect cleanup once the socket is gone and the queue is drained.
func (c *Client) processInbound() {
	defer func() {
		c.handler.Disconnect(c.Conn)
		c.cancel()
		c.Hub.requestRemoval(c)
	}()
	for data := range c.inbound {
		_ = c.handler.HandleFrame(c.ctx, c.Conn, data)
	}
}

// writePump pumps messages from the hub to the websocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Socket.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Socket.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.Socket.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			// One event per frame; clients parse each frame as a single JSON document.
			if err := c.Socket.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.Socket.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Socket.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
