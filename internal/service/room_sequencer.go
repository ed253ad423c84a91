package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"sync"
	"time"

	"sportbook-be/pkg/sharedstate"

	"github.com/google/uuid"
	"github.com/oklog/ulid"
)

const (
	sequencerStripes = 64
	leaseTTL         = 5 * time.Second
	leasePoll        = 5 * time.Millisecond
	leaseWait        = 2 * time.Second
	lastIDTTL        = 24 * time.Hour
)

// roomSequencer serialises message id assignment and broadcast per room.
// Within a process a striped mutex is enough; with a shared store a lease
// key extends the critical section across the fleet and the last assigned
// id is fenced so clock skew between instances cannot reorder a room.
type roomSequencer struct {
	stripes [sequencerStripes]sync.Mutex
	store   sharedstate.Store

	idMu    sync.Mutex
	entropy io.Reader
	lastMs  uint64
}

func newRoomSequencer(store sharedstate.Store) *roomSequencer {
	return &roomSequencer{
		store:   store,
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
}

func leaseKey(roomID uuid.UUID) string {
	return fmt.Sprintf("chat:room:%s:seq:lease", roomID)
}

func lastIDKey(roomID uuid.UUID) string {
	return fmt.Sprintf("chat:room:%s:seq:last", roomID)
}

func (s *roomSequencer) stripe(roomID uuid.UUID) *sync.Mutex {
	h := fnv.New32a()
	h.Write(roomID[:])
	return &s.stripes[h.Sum32()%sequencerStripes]
}

// lock enters the room's critical section. The returned func releases it.
func (s *roomSequencer) lock(ctx context.Context, roomID uuid.UUID) (func(), error) {
	mu := s.stripe(roomID)
	mu.Lock()
	if s.store == nil {
		return mu.Unlock, nil
	}

	token := uuid.NewString()
	key := leaseKey(roomID)
	deadline := time.Now().Add(leaseWait)
	for {
		ok, err := s.store.SetNX(ctx, key, token, leaseTTL)
		if err != nil {
			mu.Unlock()
			return nil, err
		}
		if ok {
			break
		}
		if time.Now().After(deadline) {
			mu.Unlock()
			return nil, fmt.Errorf("%w: room sequencer lease busy", ErrUnavailable)
		}
		select {
		case <-ctx.Done():
			mu.Unlock()
			return nil, ctx.Err()
		case <-time.After(leasePoll):
		}
	}

	return func() {
		// Detached so a cancelled request still frees the lease.
		_, _ = s.store.DeleteIfEqual(context.WithoutCancel(ctx), key, token)
		mu.Unlock()
	}, nil
}

// nextID returns a ULID greater than every id this process has produced
// and, with a shared store, greater than the room's last fenced id. Callers
// hold the room lock.
func (s *roomSequencer) nextID(ctx context.Context, roomID uuid.UUID, now time.Time) (string, error) {
	id, err := s.localID(now)
	if err != nil {
		return "", err
	}
	if s.store == nil {
		return id.String(), nil
	}

	last, found, err := s.store.Get(ctx, lastIDKey(roomID))
	if err != nil {
		return "", err
	}
	if found && id.String() <= last {
		prev, perr := ulid.Parse(last)
		if perr == nil {
			id = successor(prev)
		}
	}
	return id.String(), nil
}

// commit records id as the room's last assigned id.
func (s *roomSequencer) commit(ctx context.Context, roomID uuid.UUID, id string) error {
	if s.store == nil {
		return nil
	}
	return s.store.Set(ctx, lastIDKey(roomID), id, lastIDTTL)
}

func (s *roomSequencer) localID(now time.Time) (ulid.ULID, error) {
	s.idMu.Lock()
	defer s.idMu.Unlock()

	ms := ulid.Timestamp(now)
	if ms < s.lastMs {
		ms = s.lastMs
	}
	for {
		id, err := ulid.New(ms, s.entropy)
		if err == nil {
			s.lastMs = ms
			return id, nil
		}
		if !errors.Is(err, ulid.ErrMonotonicOverflow) {
			return ulid.ULID{}, err
		}
		ms++
	}
}

// successor is id+1 read as a 128-bit big-endian integer.
func successor(id ulid.ULID) ulid.ULID {
	for i := len(id) - 1; i >= 0; i-- {
		id[i]++
		if id[i] != 0 {
			break
		}
	}
	return id
}
