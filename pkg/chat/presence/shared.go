package presence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"sportbook-be/pkg/sharedstate"
)

// ErrContention is returned when an optimistic update keeps losing races.
var ErrContention = errors.New("presence: too many concurrent updates")

const casAttempts = 32

// SharedTracker keeps presence in a sharedstate.Store so every instance of
// the fleet sees the same view. Per room it maintains a member set plus one
// JSON record per participant; records carry their own TTL and are updated
// with compare-and-swap only.
type SharedTracker struct {
	store sharedstate.Store
	cfg   Config
	now   func() time.Time
}

func NewSharedTracker(store sharedstate.Store, cfg Config, opts ...Option) *SharedTracker {
	o := buildOptions(opts)
	return &SharedTracker{store: store, cfg: cfg.withDefaults(), now: o.now}
}

func membersKey(roomID string) string {
	return fmt.Sprintf("chat:room:%s:presence", roomID)
}

func recordKey(roomID, participantID string) string {
	return fmt.Sprintf("chat:room:%s:presence:%s", roomID, participantID)
}

func (t *SharedTracker) Join(ctx context.Context, roomID, participantID, connectionID, displayName string) (Entry, error) {
	key := recordKey(roomID, participantID)

	var joined Entry
	err := t.update(ctx, key, func(prev *Entry) (*Entry, time.Duration) {
		joined = applyJoin(prev, roomID, participantID, connectionID, displayName, t.now(), t.cfg.StaleAfter)
		return &joined, t.cfg.EntryTTL
	})
	if err != nil {
		return Entry{}, err
	}
	if err := t.index(ctx, roomID, participantID); err != nil {
		return joined, err
	}
	return joined, nil
}

func (t *SharedTracker) SetStatus(ctx context.Context, roomID, participantID string, status Status) (Entry, error) {
	var updated Entry
	err := t.update(ctx, recordKey(roomID, participantID), func(prev *Entry) (*Entry, time.Duration) {
		updated = Entry{}
		if prev == nil || prev.Connections <= 0 {
			return nil, 0
		}
		updated = *prev
		updated.Status = status
		updated.LastSeen = t.now()
		updated.Version++
		return &updated, t.cfg.EntryTTL
	})
	if err != nil {
		return Entry{}, err
	}
	if updated.ParticipantID == "" {
		return Entry{}, ErrNotPresent
	}
	if err := t.index(ctx, roomID, participantID); err != nil {
		return updated, err
	}
	return updated, nil
}

func (t *SharedTracker) Leave(ctx context.Context, roomID, participantID, connectionID string) (Entry, bool, error) {
	var (
		left        Entry
		wentOffline bool
	)
	err := t.update(ctx, recordKey(roomID, participantID), func(prev *Entry) (*Entry, time.Duration) {
		left, wentOffline = Entry{}, false
		if prev == nil {
			return nil, 0
		}
		if prev.Connections <= 0 {
			left, wentOffline = *prev, false
			return nil, 0
		}
		left, wentOffline = applyLeave(*prev, connectionID, t.now(), t.cfg.StaleAfter)
		if wentOffline {
			return &left, t.cfg.OfflineGrace
		}
		return &left, t.cfg.EntryTTL
	})
	if err != nil {
		return Entry{}, false, err
	}
	return left, wentOffline, nil
}

func (t *SharedTracker) Touch(ctx context.Context, roomID, participantID, connectionID string) error {
	attached := false
	err := t.update(ctx, recordKey(roomID, participantID), func(prev *Entry) (*Entry, time.Duration) {
		attached = false
		if prev == nil {
			return nil, 0
		}
		next, ok := applyTouch(*prev, connectionID, t.now())
		if !ok {
			return nil, 0
		}
		attached = true
		return &next, t.cfg.EntryTTL
	})
	if err != nil || !attached {
		return err
	}
	return t.index(ctx, roomID, participantID)
}

func (t *SharedTracker) List(ctx context.Context, roomID string) ([]Entry, error) {
	mk := membersKey(roomID)
	members, err := t.store.SMembers(ctx, mk)
	if err != nil {
		return nil, err
	}

	now := t.now()
	entries := make([]Entry, 0, len(members))
	for _, pid := range members {
		rk := recordKey(roomID, pid)
		raw, found, err := t.store.Get(ctx, rk)
		if err != nil {
			return nil, err
		}
		if !found {
			// A re-join may have recreated the record since the read.
			_, _ = t.store.SRemIfAbsent(ctx, mk, pid, rk)
			continue
		}
		var e Entry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			continue
		}
		entries = append(entries, visible(e, now, t.cfg))
	}
	sortEntries(entries)
	return entries, nil
}

// index records participantID in the room's member set and extends the set's
// expiry. The member set outlives any single record it indexes.
func (t *SharedTracker) index(ctx context.Context, roomID, participantID string) error {
	mk := membersKey(roomID)
	if err := t.store.SAdd(ctx, mk, participantID); err != nil {
		return err
	}
	return t.store.Expire(ctx, mk, t.cfg.EntryTTL+t.cfg.OfflineGrace)
}

func (t *SharedTracker) OnlineCount(ctx context.Context, roomID string) (int, error) {
	entries, err := t.List(ctx, roomID)
	if err != nil {
		return 0, err
	}
	return countOnline(entries), nil
}

// update runs an optimistic read-modify-write loop on one record. mutate
// returns nil to leave the record untouched.
func (t *SharedTracker) update(ctx context.Context, key string, mutate func(prev *Entry) (*Entry, time.Duration)) error {
	for attempt := 0; attempt < casAttempts; attempt++ {
		raw, found, err := t.store.Get(ctx, key)
		if err != nil {
			return err
		}

		var prev *Entry
		if found {
			var e Entry
			if err := json.Unmarshal([]byte(raw), &e); err == nil {
				prev = &e
			}
		}

		next, ttl := mutate(prev)
		if next == nil {
			return nil
		}
		data, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("encode presence entry: %w", err)
		}

		var ok bool
		if found {
			ok, err = t.store.CompareAndSwap(ctx, key, raw, string(data), ttl)
		} else {
			ok, err = t.store.SetNX(ctx, key, string(data), ttl)
		}
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	return ErrContention
}
