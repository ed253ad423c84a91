// Package typing keeps self-expiring "is typing" flags per room participant.
package typing

import (
	"context"
	"fmt"
	"sort"
	"time"

	"sportbook-be/pkg/sharedstate"
)

const DefaultTTL = 5 * time.Second

type Tracker struct {
	store sharedstate.Store
	ttl   time.Duration
}

func NewTracker(store sharedstate.Store, ttl time.Duration) *Tracker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Tracker{store: store, ttl: ttl}
}

func (t *Tracker) TTL() time.Duration { return t.ttl }

func flagKey(roomID, participantID string) string {
	return fmt.Sprintf("chat:room:%s:typing:%s", roomID, participantID)
}

func indexKey(roomID string) string {
	return fmt.Sprintf("chat:room:%s:typing", roomID)
}

// Start writes or refreshes the flag. Every call restarts the TTL window.
func (t *Tracker) Start(ctx context.Context, roomID, participantID string) error {
	if err := t.store.Set(ctx, flagKey(roomID, participantID), "1", t.ttl); err != nil {
		return err
	}
	ik := indexKey(roomID)
	if err := t.store.SAdd(ctx, ik, participantID); err != nil {
		return err
	}
	return t.store.Expire(ctx, ik, 2*t.ttl)
}

// Stop clears the flag and reports whether one was still live.
func (t *Tracker) Stop(ctx context.Context, roomID, participantID string) (bool, error) {
	key := flagKey(roomID, participantID)
	_, found, err := t.store.Get(ctx, key)
	if err != nil {
		return false, err
	}
	if err := t.store.Del(ctx, key); err != nil {
		return false, err
	}
	if err := t.store.SRem(ctx, indexKey(roomID), participantID); err != nil {
		return found, err
	}
	return found, nil
}

func (t *Tracker) IsTyping(ctx context.Context, roomID, participantID string) (bool, error) {
	_, found, err := t.store.Get(ctx, flagKey(roomID, participantID))
	return found, err
}

// Active lists participants whose flag has not expired, sorted by id.
func (t *Tracker) Active(ctx context.Context, roomID string) ([]string, error) {
	ik := indexKey(roomID)
	members, err := t.store.SMembers(ctx, ik)
	if err != nil {
		return nil, err
	}
	active := make([]string, 0, len(members))
	var lapsed []string
	for _, pid := range members {
		ok, err := t.IsTyping(ctx, roomID, pid)
		if err != nil {
			return nil, err
		}
		if ok {
			active = append(active, pid)
		} else {
			lapsed = append(lapsed, pid)
		}
	}
	if len(lapsed) > 0 {
		_ = t.store.SRem(ctx, ik, lapsed...)
	}
	sort.Strings(active)
	return active, nil
}
