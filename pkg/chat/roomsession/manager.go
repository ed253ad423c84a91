// Package roomsession hands out one stable session token per chat room.
package roomsession

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"sportbook-be/pkg/sharedstate"
)

const DefaultTTL = 24 * time.Hour

const resolveAttempts = 3

var ErrUnresolved = errors.New("roomsession: could not settle a session token")

// Session is the record stored under a room's session key.
type Session struct {
	RoomID    string    `json:"room_id"`
	Token     string    `json:"token"`
	CreatedAt time.Time `json:"created_at"`
}

type Manager struct {
	store sharedstate.Store
	ttl   time.Duration
	now   func() time.Time
}

func NewManager(store sharedstate.Store, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{store: store, ttl: ttl, now: time.Now}
}

func sessionKey(roomID string) string {
	return fmt.Sprintf("chat:room:%s:session", roomID)
}

// Resolve returns the room's live session, creating it when none exists.
// Concurrent first callers race on a create-if-absent write and the losers
// adopt the winner's token.
func (m *Manager) Resolve(ctx context.Context, roomID string) (Session, error) {
	key := sessionKey(roomID)
	for attempt := 0; attempt < resolveAttempts; attempt++ {
		if s, ok, err := m.load(ctx, key); err != nil {
			return Session{}, err
		} else if ok {
			return s, nil
		}

		candidate := Session{RoomID: roomID, Token: uuid.NewString(), CreatedAt: m.now().UTC()}
		data, err := json.Marshal(candidate)
		if err != nil {
			return Session{}, err
		}
		created, err := m.store.SetNX(ctx, key, string(data), m.ttl)
		if err != nil {
			return Session{}, err
		}
		if created {
			return candidate, nil
		}
		// Lost the race; the next pass reads the winner. A winner that
		// expires in between just means another round.
	}
	return Session{}, ErrUnresolved
}

// Token is a convenience wrapper around Resolve.
func (m *Manager) Token(ctx context.Context, roomID string) (string, error) {
	s, err := m.Resolve(ctx, roomID)
	if err != nil {
		return "", err
	}
	return s.Token, nil
}

// Current returns the live session without creating one.
func (m *Manager) Current(ctx context.Context, roomID string) (Session, bool, error) {
	return m.load(ctx, sessionKey(roomID))
}

func (m *Manager) load(ctx context.Context, key string) (Session, bool, error) {
	raw, found, err := m.store.Get(ctx, key)
	if err != nil || !found {
		return Session{}, false, err
	}
	var s Session
	if err := json.Unmarshal([]byte(raw), &s); err != nil || s.Token == "" {
		// A corrupt record would block the room forever; replace it.
		_ = m.store.Del(ctx, key)
		return Session{}, false, nil
	}
	return s, true, nil
}
