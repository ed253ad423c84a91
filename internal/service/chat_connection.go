package service

import (
	"context"
	"sync"
	"time"

	"sportbook-be/internal/dto"

	"github.com/google/uuid"
)

// ChatDelivery fans events out to attached connections. Implemented by the
// websocket hub, which also relays across instances in distributed mode.
type ChatDelivery interface {
	Attach(ctx context.Context, roomID uuid.UUID, connID string) error
	Detach(roomID uuid.UUID, connID string)
	// Broadcast reaches every connection in the room except those owned by
	// exclude (uuid.Nil excludes nobody).
	Broadcast(ctx context.Context, roomID uuid.UUID, event dto.ChatEvent, exclude uuid.UUID)
	SendToParticipant(ctx context.Context, roomID, participantID uuid.UUID, event dto.ChatEvent)
	SendToConnection(connID string, event dto.ChatEvent)
}

// Connection is one authenticated client socket. It is bound to at most one
// room at a time.
type Connection struct {
	ID            string
	ParticipantID uuid.UUID
	DisplayName   string

	mu           sync.Mutex
	roomID       uuid.UUID
	sessionToken string
	typingTimer  *time.Timer
	typingGen    uint64
}

func NewConnection(identity Identity) *Connection {
	return &Connection{
		ID:            uuid.NewString(),
		ParticipantID: identity.ParticipantID,
		DisplayName:   identity.DisplayName,
	}
}

// Room returns the bound room, uuid.Nil when not joined.
func (c *Connection) Room() uuid.UUID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomID
}

func (c *Connection) SessionToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionToken
}

func (c *Connection) bind(roomID uuid.UUID, token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.roomID = roomID
	c.sessionToken = token
}

// unbind clears the room and any pending typing timer and returns the room
// the connection was in. Only the first caller gets a non-nil room.
func (c *Connection) unbind() uuid.UUID {
	c.mu.Lock()
	defer c.mu.Unlock()
	room := c.roomID
	c.roomID = uuid.Nil
	c.sessionToken = ""
	c.stopTypingLocked()
	return room
}

// armTyping replaces the typing expiry timer.
func (c *Connection) armTyping(d time.Duration, fire func(gen uint64)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopTypingLocked()
	gen := c.typingGen
	c.typingTimer = time.AfterFunc(d, func() { fire(gen) })
}

// disarmTyping stops the typing timer; it reports whether one was pending.
func (c *Connection) disarmTyping() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	pending := c.typingTimer != nil
	c.stopTypingLocked()
	return pending
}

// typingExpired clears the timer if gen is still current.
func (c *Connection) typingExpired(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.typingGen || c.typingTimer == nil {
		return false
	}
	c.typingTimer = nil
	c.typingGen++
	return true
}

func (c *Connection) stopTypingLocked() {
	if c.typingTimer != nil {
		c.typingTimer.Stop()
		c.typingTimer = nil
	}
	c.typingGen++
}

func chatEvent(eventType string, data interface{}) dto.ChatEvent {
	return dto.ChatEvent{Type: eventType, Data: data}
}
