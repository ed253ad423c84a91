package roomsession

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sportbook-be/pkg/sharedstate"
)

func newManager(t *testing.T, ttl time.Duration) (*Manager, *sharedstate.MemoryStore) {
	t.Helper()
	store := sharedstate.NewMemoryStore(time.Minute)
	t.Cleanup(func() { store.Close() })
	return NewManager(store, ttl), store
}

func TestResolve_ReusesToken(t *testing.T) {
	m, _ := newManager(t, time.Hour)
	ctx := context.Background()

	first, err := m.Resolve(ctx, "R1")
	require.NoError(t, err)
	assert.NotEmpty(t, first.Token)
	assert.Equal(t, "R1", first.RoomID)

	second, err := m.Resolve(ctx, "R1")
	require.NoError(t, err)
	assert.Equal(t, first.Token, second.Token)

	other, err := m.Resolve(ctx, "R2")
	require.NoError(t, err)
	assert.NotEqual(t, first.Token, other.Token)
}

func TestResolve_ConcurrentFirstJoinersAgree(t *testing.T) {
	m, store := newManager(t, time.Hour)
	// A second manager over the same store plays the other instance.
	peer := NewManager(store, time.Hour)
	ctx := context.Background()

	const n = 32
	tokens := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			mgr := m
			if i%2 == 1 {
				mgr = peer
			}
			tok, err := mgr.Token(ctx, "R7")
			assert.NoError(t, err)
			tokens[i] = tok
		}(i)
	}
	wg.Wait()

	for _, tok := range tokens {
		assert.Equal(t, tokens[0], tok)
	}
	assert.NotEmpty(t, tokens[0])
}

func TestResolve_RegeneratesAfterExpiry(t *testing.T) {
	m, _ := newManager(t, 40*time.Millisecond)
	ctx := context.Background()

	first, err := m.Token(ctx, "R1")
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		_, ok, err := m.Current(ctx, "R1")
		return err == nil && !ok
	}, time.Second, 10*time.Millisecond)

	second, err := m.Token(ctx, "R1")
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestResolve_ReplacesCorruptRecord(t *testing.T) {
	m, store := newManager(t, time.Hour)
	ctx := context.Background()
	require.NoError(t, store.Set(ctx, sessionKey("R1"), "{not json", time.Hour))

	s, err := m.Resolve(ctx, "R1")
	require.NoError(t, err)
	assert.NotEmpty(t, s.Token)
}
