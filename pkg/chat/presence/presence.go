// Package presence tracks who is attached to each chat room and with what
// status. Two backends share one contract: MemoryTracker for a single process
// and SharedTracker for a fleet coordinated through a sharedstate.Store.
package presence

import (
	"context"
	"errors"
	"sort"
	"time"
)

type Status string

const (
	StatusOnline  Status = "online"
	StatusAway    Status = "away"
	StatusOffline Status = "offline"
)

// Valid reports whether a client may request this status.
func (s Status) Valid() bool {
	return s == StatusOnline || s == StatusAway
}

// ErrNotPresent is returned when a status change targets a participant with
// no live connection in the room.
var ErrNotPresent = errors.New("presence: participant is not attached to the room")

// Entry is one participant's presence in one room.
type Entry struct {
	RoomID        string    `json:"room_id"`
	ParticipantID string    `json:"participant_id"`
	DisplayName   string    `json:"display_name"`
	Status        Status    `json:"status"`
	LastSeen      time.Time `json:"last_seen"`
	JoinedAt      time.Time `json:"joined_at"`
	// Connections counts attached connections of this participant (multi-device).
	// It always equals len(Devices).
	Connections int `json:"connections"`
	// Devices maps each attached connection id to when it was last seen, so a
	// connection whose process died ages out instead of pinning the count.
	Devices map[string]time.Time `json:"devices,omitempty"`
	// Version increases on every write and guards compare-and-swap updates.
	Version int64 `json:"version"`
}

// Tracker is the read/write contract the connection coordinator depends on.
type Tracker interface {
	// Join attaches one connection and marks the participant online.
	Join(ctx context.Context, roomID, participantID, connectionID, displayName string) (Entry, error)
	// SetStatus changes the status of an attached participant.
	SetStatus(ctx context.Context, roomID, participantID string, status Status) (Entry, error)
	// Leave detaches one connection. wentOffline is true only when no other
	// live connection remains; the entry is then kept as offline for the
	// grace period instead of being removed. Connections not seen within
	// StaleAfter do not count as live.
	Leave(ctx context.Context, roomID, participantID, connectionID string) (entry Entry, wentOffline bool, err error)
	// Touch refreshes last-seen and liveness expiry for an attached connection.
	Touch(ctx context.Context, roomID, participantID, connectionID string) error
	// List returns every non-expired entry, stale ones surfaced as offline.
	List(ctx context.Context, roomID string) ([]Entry, error)
	OnlineCount(ctx context.Context, roomID string) (int, error)
}

type Config struct {
	// EntryTTL bounds how long an attached entry survives without a Touch.
	EntryTTL time.Duration
	// OfflineGrace is how long a soft-deleted (offline) entry stays visible.
	OfflineGrace time.Duration
	// StaleAfter is the liveness threshold for reads; older attached entries
	// are reported offline.
	StaleAfter time.Duration
}

func DefaultConfig() Config {
	return Config{
		EntryTTL:     2 * time.Minute,
		OfflineGrace: 30 * time.Second,
		StaleAfter:   90 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.EntryTTL <= 0 {
		c.EntryTTL = d.EntryTTL
	}
	if c.OfflineGrace <= 0 {
		c.OfflineGrace = d.OfflineGrace
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = d.StaleAfter
	}
	return c
}

type options struct {
	now func() time.Time
}

type Option func(*options)

// WithClock overrides the time source, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// liveDevices copies devices, dropping those not seen within staleAfter.
func liveDevices(devices map[string]time.Time, now time.Time, staleAfter time.Duration) map[string]time.Time {
	live := make(map[string]time.Time, len(devices)+1)
	for id, seen := range devices {
		if now.Sub(seen) <= staleAfter {
			live[id] = seen
		}
	}
	return live
}

// applyJoin returns the entry after connectionID attaches.
func applyJoin(prev *Entry, roomID, participantID, connectionID, displayName string, now time.Time, staleAfter time.Duration) Entry {
	var devices map[string]time.Time
	if prev != nil && prev.Status != StatusOffline {
		devices = liveDevices(prev.Devices, now, staleAfter)
	}
	if len(devices) == 0 {
		var version int64
		if prev != nil {
			version = prev.Version
		}
		return Entry{
			RoomID:        roomID,
			ParticipantID: participantID,
			DisplayName:   displayName,
			Status:        StatusOnline,
			LastSeen:      now,
			JoinedAt:      now,
			Connections:   1,
			Devices:       map[string]time.Time{connectionID: now},
			Version:       version + 1,
		}
	}
	devices[connectionID] = now
	next := *prev
	next.Devices = devices
	next.Connections = len(devices)
	next.LastSeen = now
	if displayName != "" {
		next.DisplayName = displayName
	}
	// A fresh connection means the participant is back at the keyboard.
	next.Status = StatusOnline
	next.Version++
	return next
}

// applyLeave returns the entry after connectionID detaches.
func applyLeave(prev Entry, connectionID string, now time.Time, staleAfter time.Duration) (Entry, bool) {
	devices := liveDevices(prev.Devices, now, staleAfter)
	delete(devices, connectionID)

	next := prev
	next.Version++
	next.LastSeen = now
	next.Connections = len(devices)
	if len(devices) > 0 {
		next.Devices = devices
		return next, false
	}
	next.Devices = nil
	next.Status = StatusOffline
	return next, true
}

// applyTouch refreshes connectionID. ok is false when that connection is not
// attached, including after it left.
func applyTouch(prev Entry, connectionID string, now time.Time) (Entry, bool) {
	if prev.Status == StatusOffline {
		return prev, false
	}
	if _, ok := prev.Devices[connectionID]; !ok {
		return prev, false
	}
	devices := make(map[string]time.Time, len(prev.Devices))
	for id, seen := range prev.Devices {
		devices[id] = seen
	}
	devices[connectionID] = now

	next := prev
	next.Devices = devices
	next.Connections = len(devices)
	next.LastSeen = now
	next.Version++
	return next, true
}

// visible applies the liveness rule: an attached entry not seen within
// StaleAfter is reported offline but keeps its last-seen time.
func visible(e Entry, now time.Time, cfg Config) Entry {
	if e.Status != StatusOffline && now.Sub(e.LastSeen) > cfg.StaleAfter {
		e.Status = StatusOffline
	}
	return e
}

func sortEntries(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].JoinedAt.Equal(entries[j].JoinedAt) {
			return entries[i].JoinedAt.Before(entries[j].JoinedAt)
		}
		return entries[i].ParticipantID < entries[j].ParticipantID
	})
}

func countOnline(entries []Entry) int {
	n := 0
	for _, e := range entries {
		if e.Status == StatusOnline {
			n++
		}
	}
	return n
}
