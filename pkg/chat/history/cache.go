// Package history is the bounded hot cache of recent room messages. Older
// history is served from the durable message store only.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"sportbook-be/pkg/sharedstate"
)

const (
	DefaultLimit     = 50
	DefaultRetention = 24 * time.Hour
)

// Record is one cached message. Data holds the caller's own encoding.
type Record struct {
	ID        string          `json:"id"`
	CreatedAt time.Time       `json:"created_at"`
	Data      json.RawMessage `json:"data"`
}

type Cache struct {
	store     sharedstate.Store
	limit     int
	retention time.Duration
	now       func() time.Time
}

func NewCache(store sharedstate.Store, limit int, retention time.Duration) *Cache {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Cache{store: store, limit: limit, retention: retention, now: time.Now}
}

func (c *Cache) Limit() int { return c.limit }

func roomKey(roomID string) string {
	return fmt.Sprintf("chat:room:%s:history", roomID)
}

// Push appends a record. Callers push in message-id order, which the cache
// preserves.
func (c *Cache) Push(ctx context.Context, roomID string, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode history record: %w", err)
	}
	return c.store.AppendCapped(ctx, roomKey(roomID), string(data), c.limit, c.retention)
}

// Recent returns up to limit records, oldest first, dropping anything older
// than the retention window.
func (c *Cache) Recent(ctx context.Context, roomID string, limit int) ([]Record, error) {
	if limit <= 0 || limit > c.limit {
		limit = c.limit
	}
	raw, err := c.store.Tail(ctx, roomKey(roomID), limit)
	if err != nil {
		return nil, err
	}
	cutoff := c.now().Add(-c.retention)
	out := make([]Record, 0, len(raw))
	for _, r := range raw {
		var rec Record
		if err := json.Unmarshal([]byte(r), &rec); err != nil {
			continue
		}
		if rec.CreatedAt.Before(cutoff) {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}
