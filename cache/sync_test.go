package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSyncedPair(t *testing.T, name string, storeA, storeB DurableStore) (*Cache[payload], *Cache[payload]) {
	t.Helper()
	a, err := New[payload](Options{
		Name:        name,
		Version:     "v1",
		Persist:     storeA != nil,
		Store:       storeA,
		Broadcaster: NewMemoryBroadcaster(name, "v1"),
	})
	require.NoError(t, err)
	t.Cleanup(a.Destroy)

	b, err := New[payload](Options{
		Name:        name,
		Version:     "v1",
		Persist:     storeB != nil,
		Store:       storeB,
		Broadcaster: NewMemoryBroadcaster(name, "v1"),
	})
	require.NoError(t, err)
	t.Cleanup(b.Destroy)
	return a, b
}

func TestSync_StorePropagates(t *testing.T) {
	a, b := newSyncedPair(t, t.Name(), nil, nil)

	require.NoError(t, a.Store("u1", payload{Name: "ada", N: 7}))

	e, ok := b.Get("u1")
	require.True(t, ok, "sibling receives the stored entry")
	assert.Equal(t, payload{Name: "ada", N: 7}, e.Value)
}

func TestSync_InvalidatePropagates(t *testing.T) {
	a, b := newSyncedPair(t, t.Name(), nil, nil)

	require.NoError(t, a.Store("u1", payload{Name: "ada"}))
	require.NoError(t, b.Store("u1", payload{Name: "ada"}))

	a.Invalidate("u1")

	_, ok := b.Get("u1")
	assert.False(t, ok)
}

func TestSync_SelfEchoIgnored(t *testing.T) {
	a, _ := newSyncedPair(t, t.Name(), nil, nil)

	require.NoError(t, a.Store("u1", payload{N: 1}))

	e, ok := a.Get("u1")
	require.True(t, ok)
	// A replayed echo would reset UseCount via entryFromPersisted.
	assert.Equal(t, int64(1), e.UseCount)
}

func TestSync_ReceiverDoesNotRePersist(t *testing.T) {
	storeB := newMemStore()
	a, b := newSyncedPair(t, t.Name(), nil, storeB)

	require.NoError(t, a.Store("u1", payload{Name: "ada"}))

	_, ok := b.Get("u1")
	require.True(t, ok)
	assert.Zero(t, storeB.storeCount(), "synced entries are not written back to the store")
}

func TestSync_ReceiverDoesNotRebroadcast(t *testing.T) {
	name := t.Name()
	a, b := newSyncedPair(t, name, nil, nil)

	c, err := New[payload](Options{
		Name:        name,
		Version:     "v1",
		Broadcaster: NewMemoryBroadcaster(name, "v1"),
	})
	require.NoError(t, err)
	t.Cleanup(c.Destroy)

	require.NoError(t, a.Store("u1", payload{N: 1}))

	// All siblings converge from the single original broadcast.
	_, ok := b.Get("u1")
	assert.True(t, ok)
	_, ok = c.Get("u1")
	assert.True(t, ok)
}

func TestSync_LiveStoreOverwritesLocal(t *testing.T) {
	a, b := newSyncedPair(t, t.Name(), nil, nil)

	require.NoError(t, b.Store("u1", payload{N: 1}))
	require.NoError(t, a.Store("u1", payload{N: 2}))

	e, ok := b.Get("u1")
	require.True(t, ok)
	assert.Equal(t, 2, e.Value.N, "last writer wins across instances")
}

func TestSync_ExpiredEntryNotApplied(t *testing.T) {
	a, b := newSyncedPair(t, t.Name(), nil, nil)

	require.NoError(t, a.Store("u1", payload{N: 1}, WithTTL(time.Nanosecond)))
	time.Sleep(time.Millisecond)

	// The message may have carried a not-yet-expired deadline; either way
	// the entry must not outlive its TTL on the receiver.
	assert.Eventually(t, func() bool {
		_, ok := b.Get("u1")
		return !ok
	}, time.Second, 5*time.Millisecond)
}

func TestSync_MalformedMessagesDropped(t *testing.T) {
	hub := NewMemoryBroadcaster(t.Name(), "v1")
	c, err := New[payload](Options{
		Name:        t.Name(),
		Version:     "v1",
		Broadcaster: NewMemoryBroadcaster(t.Name(), "v1"),
	})
	require.NoError(t, err)
	t.Cleanup(c.Destroy)
	t.Cleanup(func() { _ = hub.Close() })

	require.NoError(t, hub.Publish(SyncMessage{Action: ActionStore, CacheID: "other"}))
	require.NoError(t, hub.Publish(SyncMessage{Action: ActionInvalidate, CacheID: "other"}))
	require.NoError(t, hub.Publish(SyncMessage{Action: Action("drop-table"), CacheID: "other"}))

	assert.Equal(t, 0, c.Size())
}

func TestMemoryBroadcaster_SubscribeCancel(t *testing.T) {
	a := NewMemoryBroadcaster("cancel", "v1")
	b := NewMemoryBroadcaster("cancel", "v1")
	t.Cleanup(func() { _ = a.Close(); _ = b.Close() })

	var got int
	cancel, err := b.Subscribe(func(SyncMessage) { got++ })
	require.NoError(t, err)

	require.NoError(t, a.Publish(SyncMessage{Action: ActionStore, Key: "k"}))
	cancel()
	cancel() // idempotent
	require.NoError(t, a.Publish(SyncMessage{Action: ActionStore, Key: "k"}))

	assert.Equal(t, 1, got)
}

func TestMemoryBroadcaster_ClosedRejectsUse(t *testing.T) {
	b := NewMemoryBroadcaster("closed", "v1")
	require.NoError(t, b.Close())

	assert.ErrorIs(t, b.Publish(SyncMessage{}), ErrDestroyed)
	_, err := b.Subscribe(func(SyncMessage) {})
	assert.ErrorIs(t, err, ErrDestroyed)
	assert.NoError(t, b.Close())
}
