package sharedstate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/patrickmn/go-cache"
)

// ErrWrongType mirrors redis' WRONGTYPE error.
var ErrWrongType = errors.New("sharedstate: operation against a key holding the wrong kind of value")

// MemoryStore is an in-process Store. It backs the single-process deployment
// and stands in for Redis in tests. Keys expire through go-cache and pub/sub
// is carried by a watermill go-channel.
type MemoryStore struct {
	mu     sync.Mutex
	items  *cache.Cache
	pubsub *gochannel.GoChannel
	closed bool
}

type memSet map[string]struct{}

// NewMemoryStore creates an empty store whose janitor purges expired keys
// every cleanupInterval.
func NewMemoryStore(cleanupInterval time.Duration) *MemoryStore {
	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}
	return &MemoryStore{
		items: cache.New(cache.NoExpiration, cleanupInterval),
		pubsub: gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer: 256,
			// Keeps publish order per channel; each subscriber acks as soon
			// as the payload is buffered.
			BlockPublishUntilSubscriberAck: true,
		}, watermill.NopLogger{}),
	}
}

func (s *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getString(key)
}

func (s *MemoryStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items.Set(key, value, cacheTTL(ttl))
	return nil
}

func (s *MemoryStore) SetNX(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.items.Add(key, value, cacheTTL(ttl)); err != nil {
		return false, nil
	}
	return true, nil
}

func (s *MemoryStore) CompareAndSwap(_ context.Context, key, old, new string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, found, err := s.getString(key)
	if err != nil {
		return false, err
	}
	if !found || current != old {
		return false, nil
	}
	if ttl > 0 {
		s.items.Set(key, new, ttl)
	} else {
		s.items.Set(key, new, s.remaining(key))
	}
	return true, nil
}

func (s *MemoryStore) DeleteIfEqual(_ context.Context, key, value string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, found, err := s.getString(key)
	if err != nil || !found || current != value {
		return false, err
	}
	s.items.Delete(key)
	return true, nil
}

func (s *MemoryStore) Del(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		s.items.Delete(k)
	}
	return nil
}

func (s *MemoryStore) Expire(_ context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, found := s.items.Get(key)
	if !found {
		return nil
	}
	s.items.Set(key, v, cacheTTL(ttl))
	return nil
}

func (s *MemoryStore) SAdd(_ context.Context, key string, members ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	set, err := s.getSet(key)
	if err != nil {
		return err
	}
	next := make(memSet, len(set)+len(members))
	for m := range set {
		next[m] = struct{}{}
	}
	for _, m := range members {
		next[m] = struct{}{}
	}
	s.items.Set(key, next, s.remaining(key))
	return nil
}

func (s *MemoryStore) SRem(_ context.Context, key string, members ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.removeMembers(key, members...)
	return err
}

func (s *MemoryStore) SRemIfAbsent(_ context.Context, key, member, guard string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, found := s.items.Get(guard); found {
		return false, nil
	}
	return s.removeMembers(key, member)
}

// removeMembers must be called with s.mu held.
func (s *MemoryStore) removeMembers(key string, members ...string) (bool, error) {
	set, err := s.getSet(key)
	if err != nil || len(set) == 0 {
		return false, err
	}
	next := make(memSet, len(set))
	for m := range set {
		next[m] = struct{}{}
	}
	removed := false
	for _, m := range members {
		if _, ok := next[m]; ok {
			delete(next, m)
			removed = true
		}
	}
	if len(next) == 0 {
		s.items.Delete(key)
		return removed, nil
	}
	s.items.Set(key, next, s.remaining(key))
	return removed, nil
}

func (s *MemoryStore) SMembers(_ context.Context, key string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	set, err := s.getSet(key)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(set))
	for m := range set {
		out = append(out, m)
	}
	return out, nil
}

func (s *MemoryStore) AppendCapped(_ context.Context, key, value string, max int, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	list, err := s.getList(key)
	if err != nil {
		return err
	}
	next := make([]string, 0, len(list)+1)
	next = append(next, list...)
	next = append(next, value)
	if max > 0 && len(next) > max {
		next = next[len(next)-max:]
	}
	if ttl > 0 {
		s.items.Set(key, next, ttl)
	} else {
		s.items.Set(key, next, s.remaining(key))
	}
	return nil
}

func (s *MemoryStore) Tail(_ context.Context, key string, n int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list, err := s.getList(key)
	if err != nil {
		return nil, err
	}
	if n <= 0 {
		return []string{}, nil
	}
	if n > len(list) {
		n = len(list)
	}
	out := make([]string, n)
	copy(out, list[len(list)-n:])
	return out, nil
}

func (s *MemoryStore) Publish(_ context.Context, channel string, payload []byte) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrClosed
	}
	return s.pubsub.Publish(channel, message.NewMessage(watermill.NewUUID(), payload))
}

func (s *MemoryStore) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	subCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	msgs, err := s.pubsub.Subscribe(subCtx, channel)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("memory subscribe %s: %w", channel, err)
	}

	sub := &memorySubscription{out: make(chan []byte, 256), cancel: cancel}
	go sub.forward(subCtx, msgs)
	return sub, nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	return s.pubsub.Close()
}

func (s *MemoryStore) getString(key string) (string, bool, error) {
	v, found := s.items.Get(key)
	if !found {
		return "", false, nil
	}
	str, ok := v.(string)
	if !ok {
		return "", false, ErrWrongType
	}
	return str, true, nil
}

func (s *MemoryStore) getSet(key string) (memSet, error) {
	v, found := s.items.Get(key)
	if !found {
		return memSet{}, nil
	}
	set, ok := v.(memSet)
	if !ok {
		return nil, ErrWrongType
	}
	return set, nil
}

func (s *MemoryStore) getList(key string) ([]string, error) {
	v, found := s.items.Get(key)
	if !found {
		return nil, nil
	}
	list, ok := v.([]string)
	if !ok {
		return nil, ErrWrongType
	}
	return list, nil
}

// remaining returns the key's live TTL so rewrites keep the original expiry.
func (s *MemoryStore) remaining(key string) time.Duration {
	_, exp, found := s.items.GetWithExpiration(key)
	if !found || exp.IsZero() {
		return cache.NoExpiration
	}
	d := time.Until(exp)
	if d <= 0 {
		d = time.Nanosecond
	}
	return d
}

func cacheTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return cache.NoExpiration
	}
	return ttl
}

type memorySubscription struct {
	out    chan []byte
	cancel context.CancelFunc
}

func (m *memorySubscription) forward(ctx context.Context, msgs <-chan *message.Message) {
	defer close(m.out)
	for msg := range msgs {
		select {
		case m.out <- msg.Payload:
		case <-ctx.Done():
		}
		msg.Ack()
	}
}

func (m *memorySubscription) Messages() <-chan []byte {
	return m.out
}

func (m *memorySubscription) Close() error {
	m.cancel()
	return nil
}
