package websocket

import (
	"context"

	"sportbook-be/internal/service"

	"github.com/gofiber/websocket/v2"
)

// ServeWs runs an authenticated chat socket until it closes.
func ServeWs(hub *Hub, handler FrameHandler, socket *websocket.Conn, conn *service.Connection, queueSize int) {
	if queueSize <= 0 {
		queueSize = 64
	}
	ctx, cancel := context.WithCancel(context.Background())
	client := &Client{
		Hub:     hub,
		Socket:  socket,
		Conn:    conn,
		Send:    make(chan []byte, 256),
		handler: handler,
		inbound: make(chan []byte, queueSize),
		ctx:     ctx,
		cancel:  cancel,
	}
	handler.Connected(conn)
	hub.register(client)

	// Allow collection of memory referenced by the caller by doing all work in
	// new goroutines.
	go client.writePump()
	go client.processInbound()
	client.readPump() // Run readPump in current goroutine (handler)
}
