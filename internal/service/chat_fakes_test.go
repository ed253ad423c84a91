package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"sportbook-be/internal/dto"
	"sportbook-be/internal/entity"
	"sportbook-be/internal/pkg/logger"
	"sportbook-be/pkg/chat/history"
	"sportbook-be/pkg/chat/presence"
	"sportbook-be/pkg/chat/roomsession"
	"sportbook-be/pkg/chat/typing"
	"sportbook-be/pkg/sharedstate"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

var (
	errStoreDown    = errors.New("store down")
	errDuplicateKey = errors.New("duplicate key value violates unique constraint")
)

type fakeVerifier struct {
	identities map[string]Identity
}

func (v *fakeVerifier) Verify(_ context.Context, credential string) (Identity, error) {
	id, ok := v.identities[credential]
	if !ok {
		return Identity{}, ErrUnauthenticated
	}
	return id, nil
}

type fakeOracle struct {
	mu       sync.Mutex
	members  map[uuid.UUID]map[uuid.UUID]bool
	notReady map[uuid.UUID]bool
	err      error
}

func newFakeOracle() *fakeOracle {
	return &fakeOracle{members: map[uuid.UUID]map[uuid.UUID]bool{}, notReady: map[uuid.UUID]bool{}}
}

func (o *fakeOracle) allow(roomID uuid.UUID, participants ...uuid.UUID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.members[roomID] == nil {
		o.members[roomID] = map[uuid.UUID]bool{}
	}
	for _, p := range participants {
		o.members[roomID][p] = true
	}
}

func (o *fakeOracle) revoke(roomID, participantID uuid.UUID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.members[roomID], participantID)
}

func (o *fakeOracle) IsMember(_ context.Context, roomID, participantID uuid.UUID) (bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return false, o.err
	}
	return o.members[roomID][participantID], nil
}

func (o *fakeOracle) IsReadyForChat(_ context.Context, roomID uuid.UUID) (bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return false, o.err
	}
	return !o.notReady[roomID], nil
}

type fakeMessageStore struct {
	mu             sync.Mutex
	msgs           []*entity.ChatMessage
	receipts       map[string]entity.DeliveryStatus
	appendFailures int
	// lostAcks makes Append store the message and still report an error.
	lostAcks  int
	recentErr error
}

func newFakeMessageStore() *fakeMessageStore {
	return &fakeMessageStore{receipts: map[string]entity.DeliveryStatus{}}
}

func (s *fakeMessageStore) Append(_ context.Context, msg *entity.ChatMessage) (*entity.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.appendFailures > 0 {
		s.appendFailures--
		return nil, errStoreDown
	}
	for _, m := range s.msgs {
		if m.Id == msg.Id {
			return nil, errDuplicateKey
		}
	}
	stored := *msg
	s.msgs = append(s.msgs, &stored)
	if s.lostAcks > 0 {
		s.lostAcks--
		return nil, errStoreDown
	}
	out := stored
	return &out, nil
}

func (s *fakeMessageStore) Recent(_ context.Context, roomID uuid.UUID, limit int) ([]*entity.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.recentErr != nil {
		return nil, s.recentErr
	}
	var room []*entity.ChatMessage
	for _, m := range s.msgs {
		if m.MatchId == roomID {
			cp := *m
			room = append(room, &cp)
		}
	}
	sort.Slice(room, func(i, j int) bool { return room[i].Id < room[j].Id })
	if len(room) > limit {
		room = room[len(room)-limit:]
	}
	return room, nil
}

func (s *fakeMessageStore) RecordDelivery(_ context.Context, messageID string, participantID uuid.UUID, status entity.DeliveryStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := messageID + "|" + participantID.String() + "|" + string(status)
	if _, ok := s.receipts[key]; ok {
		return false, nil
	}
	s.receipts[key] = status
	return true, nil
}

func (s *fakeMessageStore) Find(_ context.Context, roomID uuid.UUID, messageID string) (*entity.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.msgs {
		if m.Id == messageID && m.MatchId == roomID {
			cp := *m
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *fakeMessageStore) receiptCount(status entity.DeliveryStatus) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, st := range s.receipts {
		if st == status {
			n++
		}
	}
	return n
}

// fakeDelivery fans events out synchronously and keeps every event each
// connection received, in order.
type fakeDelivery struct {
	mu       sync.Mutex
	owners   map[string]uuid.UUID
	rooms    map[uuid.UUID]map[string]bool
	received map[string][]dto.ChatEvent
}

func newFakeDelivery() *fakeDelivery {
	return &fakeDelivery{
		owners:   map[string]uuid.UUID{},
		rooms:    map[uuid.UUID]map[string]bool{},
		received: map[string][]dto.ChatEvent{},
	}
}

func (d *fakeDelivery) register(conn *Connection) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.owners[conn.ID] = conn.ParticipantID
}

func (d *fakeDelivery) Attach(_ context.Context, roomID uuid.UUID, connID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.rooms[roomID] == nil {
		d.rooms[roomID] = map[string]bool{}
	}
	d.rooms[roomID][connID] = true
	return nil
}

func (d *fakeDelivery) Detach(roomID uuid.UUID, connID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.rooms[roomID], connID)
}

func (d *fakeDelivery) Broadcast(_ context.Context, roomID uuid.UUID, event dto.ChatEvent, exclude uuid.UUID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for connID := range d.rooms[roomID] {
		if exclude != uuid.Nil && d.owners[connID] == exclude {
			continue
		}
		d.received[connID] = append(d.received[connID], event)
	}
}

func (d *fakeDelivery) SendToParticipant(_ context.Context, roomID, participantID uuid.UUID, event dto.ChatEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for connID := range d.rooms[roomID] {
		if d.owners[connID] == participantID {
			d.received[connID] = append(d.received[connID], event)
		}
	}
}

func (d *fakeDelivery) SendToConnection(connID string, event dto.ChatEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.received[connID] = append(d.received[connID], event)
}

// events returns what conn received, optionally filtered by type.
func (d *fakeDelivery) events(conn *Connection, types ...string) []dto.ChatEvent {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []dto.ChatEvent
	for _, e := range d.received[conn.ID] {
		if len(types) == 0 {
			out = append(out, e)
			continue
		}
		for _, t := range types {
			if e.Type == t {
				out = append(out, e)
				break
			}
		}
	}
	return out
}

func eventTypes(events []dto.ChatEvent) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.Type
	}
	return out
}

type harnessConfig struct {
	typingTTL     time.Duration
	deliveryDelay time.Duration
	distributed   bool
	// presenceClock drives presence liveness when set.
	presenceClock *manualClock
}

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Now()}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type chatHarness struct {
	t        *testing.T
	ctx      context.Context
	oracle   *fakeOracle
	store    *fakeMessageStore
	delivery *fakeDelivery
	shared   *sharedstate.MemoryStore
	tracker  presence.Tracker
	typing   *typing.Tracker
	pipeline *MessagePipeline
	coord    *ChatCoordinator
	verifier *fakeVerifier
}

func newChatHarness(t *testing.T, cfg harnessConfig) *chatHarness {
	t.Helper()
	if cfg.typingTTL == 0 {
		cfg.typingTTL = 5 * time.Second
	}
	if cfg.deliveryDelay == 0 {
		cfg.deliveryDelay = 10 * time.Millisecond
	}

	shared := sharedstate.NewMemoryStore(time.Minute)
	t.Cleanup(func() { shared.Close() })

	log := logger.NewNop()
	h := &chatHarness{
		t:        t,
		ctx:      context.Background(),
		oracle:   newFakeOracle(),
		store:    newFakeMessageStore(),
		delivery: newFakeDelivery(),
		shared:   shared,
		typing:   typing.NewTracker(shared, cfg.typingTTL),
		verifier: &fakeVerifier{identities: map[string]Identity{}},
	}

	var presenceOpts []presence.Option
	if cfg.presenceClock != nil {
		presenceOpts = append(presenceOpts, presence.WithClock(cfg.presenceClock.Now))
	}
	var sequencerStore sharedstate.Store
	if cfg.distributed {
		h.tracker = presence.NewSharedTracker(shared, presence.DefaultConfig(), presenceOpts...)
		sequencerStore = shared
	} else {
		h.tracker = presence.NewMemoryTracker(presence.DefaultConfig(), presenceOpts...)
	}

	h.pipeline = NewMessagePipeline(
		h.oracle,
		h.store,
		history.NewCache(shared, 50, 24*time.Hour),
		h.tracker,
		h.delivery,
		nil,
		sequencerStore,
		PipelineConfig{MaxMessageLength: 200, DeliveryDelay: cfg.deliveryDelay, HistoryLimit: 50},
		log,
	)
	t.Cleanup(h.pipeline.Close)

	h.coord = NewChatCoordinator(
		h.verifier,
		h.oracle,
		h.tracker,
		roomsession.NewManager(shared, time.Hour),
		h.typing,
		h.pipeline,
		h.delivery,
		log,
	)
	return h
}

// connect authenticates a new connection for name, creating the identity
// on first use.
func (h *chatHarness) connect(name string) *Connection {
	h.t.Helper()
	if _, ok := h.verifier.identities[name]; !ok {
		h.verifier.identities[name] = Identity{ParticipantID: uuid.New(), DisplayName: name}
	}
	conn, err := h.coord.Authenticate(h.ctx, name)
	require.NoError(h.t, err)
	h.coord.Connected(conn)
	h.delivery.register(conn)
	return conn
}

func (h *chatHarness) join(conn *Connection, roomID uuid.UUID) *JoinResult {
	h.t.Helper()
	res, err := h.coord.Join(h.ctx, conn, roomID)
	require.NoError(h.t, err)
	return res
}
