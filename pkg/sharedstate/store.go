package sharedstate

import (
	"context"
	"errors"
	"time"
)

// ErrClosed is returned by operations on a store that has been closed.
var ErrClosed = errors.New("sharedstate: store closed")

// Store is the key-value plus pub/sub contract the chat subsystem relies on
// when state must be visible across processes.
//
// Every mutation is a single atomic operation on one key. A ttl <= 0 means
// the key does not expire.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// SetNX stores value only if key is absent. Returns true if it was stored.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	// CompareAndSwap replaces the value of an existing key only if it still
	// equals old. Returns true if the swap happened.
	CompareAndSwap(ctx context.Context, key, old, new string, ttl time.Duration) (bool, error)
	// DeleteIfEqual removes key only if it still holds value.
	DeleteIfEqual(ctx context.Context, key, value string) (bool, error)
	Del(ctx context.Context, keys ...string) error
	Expire(ctx context.Context, key string, ttl time.Duration) error

	SAdd(ctx context.Context, key string, members ...string) error
	SRem(ctx context.Context, key string, members ...string) error
	// SRemIfAbsent removes member from the set at key only while guard does
	// not exist. Returns true if the member was removed.
	SRemIfAbsent(ctx context.Context, key, member, guard string) (bool, error)
	SMembers(ctx context.Context, key string) ([]string, error)

	// AppendCapped pushes value to the tail of a list, trims it to the last
	// max entries and refreshes its expiry, atomically.
	AppendCapped(ctx context.Context, key, value string, max int, ttl time.Duration) error
	// Tail returns up to n entries from the end of a list, oldest first.
	Tail(ctx context.Context, key string, n int) ([]string, error)

	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (Subscription, error)

	Close() error
}

// Subscription delivers payloads published on one channel until closed.
type Subscription interface {
	Messages() <-chan []byte
	Close() error
}
