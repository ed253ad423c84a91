package presence

import (
	"context"
	"sync"
	"time"
)

type memoryRecord struct {
	entry     Entry
	expiresAt time.Time
}

// MemoryTracker keeps presence in a per-room map. It is only valid within one
// serving process.
type MemoryTracker struct {
	mu    sync.Mutex
	rooms map[string]map[string]*memoryRecord
	cfg   Config
	now   func() time.Time
}

func NewMemoryTracker(cfg Config, opts ...Option) *MemoryTracker {
	o := buildOptions(opts)
	return &MemoryTracker{
		rooms: make(map[string]map[string]*memoryRecord),
		cfg:   cfg.withDefaults(),
		now:   o.now,
	}
}

func (t *MemoryTracker) Join(_ context.Context, roomID, participantID, connectionID, displayName string) (Entry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	room := t.room(roomID, now, true)
	var prev *Entry
	if rec, ok := room[participantID]; ok {
		prev = &rec.entry
	}
	next := applyJoin(prev, roomID, participantID, connectionID, displayName, now, t.cfg.StaleAfter)
	room[participantID] = &memoryRecord{entry: next, expiresAt: now.Add(t.cfg.EntryTTL)}
	return next, nil
}

func (t *MemoryTracker) SetStatus(_ context.Context, roomID, participantID string, status Status) (Entry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	rec, ok := t.room(roomID, now, false)[participantID]
	if !ok || rec.entry.Connections <= 0 {
		return Entry{}, ErrNotPresent
	}
	rec.entry.Status = status
	rec.entry.LastSeen = now
	rec.entry.Version++
	rec.expiresAt = now.Add(t.cfg.EntryTTL)
	return rec.entry, nil
}

func (t *MemoryTracker) Leave(_ context.Context, roomID, participantID, connectionID string) (Entry, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	rec, ok := t.room(roomID, now, false)[participantID]
	if !ok || rec.entry.Connections <= 0 {
		if ok {
			return rec.entry, false, nil
		}
		return Entry{}, false, nil
	}
	next, wentOffline := applyLeave(rec.entry, connectionID, now, t.cfg.StaleAfter)
	rec.entry = next
	if wentOffline {
		rec.expiresAt = now.Add(t.cfg.OfflineGrace)
	} else {
		rec.expiresAt = now.Add(t.cfg.EntryTTL)
	}
	return next, wentOffline, nil
}

func (t *MemoryTracker) Touch(_ context.Context, roomID, participantID, connectionID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	rec, ok := t.room(roomID, now, false)[participantID]
	if !ok {
		return nil
	}
	next, attached := applyTouch(rec.entry, connectionID, now)
	if !attached {
		return nil
	}
	rec.entry = next
	rec.expiresAt = now.Add(t.cfg.EntryTTL)
	return nil
}

func (t *MemoryTracker) List(_ context.Context, roomID string) ([]Entry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	room := t.room(roomID, now, false)
	entries := make([]Entry, 0, len(room))
	for _, rec := range room {
		entries = append(entries, visible(rec.entry, now, t.cfg))
	}
	sortEntries(entries)
	return entries, nil
}

func (t *MemoryTracker) OnlineCount(ctx context.Context, roomID string) (int, error) {
	entries, err := t.List(ctx, roomID)
	if err != nil {
		return 0, err
	}
	return countOnline(entries), nil
}

// Run purges expired entries every interval until ctx is cancelled.
func (t *MemoryTracker) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.Sweep()
		}
	}
}

// Sweep drops every expired entry and empty room.
func (t *MemoryTracker) Sweep() {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	for roomID := range t.rooms {
		t.room(roomID, now, false)
	}
}

// room returns the live records of a room, evicting expired ones. Caller
// holds t.mu.
func (t *MemoryTracker) room(roomID string, now time.Time, create bool) map[string]*memoryRecord {
	room, ok := t.rooms[roomID]
	if !ok {
		if !create {
			return nil
		}
		room = make(map[string]*memoryRecord)
		t.rooms[roomID] = room
		return room
	}
	for pid, rec := range room {
		if !now.Before(rec.expiresAt) {
			delete(room, pid)
		}
	}
	if len(room) == 0 && !create {
		delete(t.rooms, roomID)
		return nil
	}
	return room
}
