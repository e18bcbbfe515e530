// Package storetest is a conformance suite shared by every store backend.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moneyscripter/copytrade/models"
	"github.com/moneyscripter/copytrade/store"
)

// Clock is a manually advanced time source handed to the backend under test.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock() *Clock {
	return &Clock{now: time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Factory opens a fresh, empty store using clock for timestamps.
type Factory func(t *testing.T, clock func() time.Time) store.Store

// Run executes the suite against the backend built by newStore.
func Run(t *testing.T, newStore Factory) {
	tests := map[string]func(t *testing.T, s store.Store, c *Clock){
		"UpsertAndGet":            testUpsertAndGet,
		"UpsertKeepsSubscribedAt": testUpsertKeepsSubscribedAt,
		"GetMissing":              testGetMissing,
		"SetRisk":                 testSetRisk,
		"ListByScope":             testListByScope,
		"InsertIfAbsent":          testInsertIfAbsent,
		"SharedSignalID":          testSharedSignalID,
		"ListRecentOrderAndCap":   testListRecentOrderAndCap,
		"DeleteOneOwnership":      testDeleteOneOwnership,
		"DeleteCascades":          testDeleteCascades,
		"DeleteAllForSubscriber":  testDeleteAllForSubscriber,
		"ConcurrentInsert":        testConcurrentInsert,
	}
	for name, fn := range tests {
		t.Run(name, func(t *testing.T) {
			c := NewClock()
			s := newStore(t, c.Now)
			t.Cleanup(func() { _ = s.Close() })
			fn(t, s, c)
		})
	}
}

func payload(id string, size float64) models.Payload {
	return models.Payload{
		ID: id, Symbol: "BTCUSDT", Side: models.SideBuy, Size: size, Price: 64000, Leverage: 10,
		Signature: "sig", OriginalSize: size, AdjustedSize: size / 2, AppliedRisk: 0.5,
	}
}

func testUpsertAndGet(t *testing.T, s store.Store, c *Clock) {
	ctx := context.Background()
	require.NoError(t, s.Upsert(ctx, "100", 0.5, "GODSEYE"))

	sub, err := s.Get(ctx, "100")
	require.NoError(t, err)
	assert.Equal(t, "100", sub.ID)
	assert.Equal(t, 0.5, sub.Risk)
	assert.Equal(t, "GODSEYE", sub.ReferralScope)
	assert.True(t, c.Now().Equal(sub.SubscribedAt), "subscribed at %v", sub.SubscribedAt)
}

func testUpsertKeepsSubscribedAt(t *testing.T, s store.Store, c *Clock) {
	ctx := context.Background()
	require.NoError(t, s.Upsert(ctx, "100", 1.5, "GODSEYE"))
	first := c.Now()
	c.Advance(time.Hour)
	require.NoError(t, s.Upsert(ctx, "100", 0.5, "OTHER"))

	sub, err := s.Get(ctx, "100")
	require.NoError(t, err)
	assert.Equal(t, 0.5, sub.Risk)
	assert.Equal(t, "OTHER", sub.ReferralScope)
	assert.True(t, first.Equal(sub.SubscribedAt), "subscribed at %v", sub.SubscribedAt)
}

func testGetMissing(t *testing.T, s store.Store, _ *Clock) {
	_, err := s.Get(context.Background(), "nobody")
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrNotFound))
}

func testSetRisk(t *testing.T, s store.Store, _ *Clock) {
	ctx := context.Background()
	err := s.SetRisk(ctx, "100", 1.0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrNotSubscribed))

	require.NoError(t, s.Upsert(ctx, "100", 0.5, "GODSEYE"))
	require.NoError(t, s.SetRisk(ctx, "100", 1.25))
	require.NoError(t, s.SetRisk(ctx, "100", 1.25))

	sub, err := s.Get(ctx, "100")
	require.NoError(t, err)
	assert.Equal(t, 1.25, sub.Risk)
	assert.Equal(t, "GODSEYE", sub.ReferralScope)
}

func testListByScope(t *testing.T, s store.Store, _ *Clock) {
	ctx := context.Background()
	require.NoError(t, s.Upsert(ctx, "a", 0.5, "GODSEYE"))
	require.NoError(t, s.Upsert(ctx, "b", 1.0, "GODSEYE"))
	require.NoError(t, s.Upsert(ctx, "c", 2.0, "OTHER"))

	members, err := s.ListByScope(ctx, "GODSEYE")
	require.NoError(t, err)
	assert.ElementsMatch(t, []models.Member{
		{SubscriberID: "a", Risk: 0.5},
		{SubscriberID: "b", Risk: 1.0},
	}, members)

	members, err = s.ListByScope(ctx, "NONE")
	require.NoError(t, err)
	assert.Empty(t, members)
}

func testInsertIfAbsent(t *testing.T, s store.Store, c *Clock) {
	ctx := context.Background()
	created, err := s.InsertIfAbsent(ctx, "sig-1", "a", payload("sig-1", 1000))
	require.NoError(t, err)
	assert.True(t, created)

	c.Advance(time.Second)
	created, err = s.InsertIfAbsent(ctx, "sig-1", "a", payload("sig-1", 9999))
	require.NoError(t, err)
	assert.False(t, created)

	n, err := s.CountForSubscriber(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	rows, err := s.ListRecent(ctx, "a", 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 1000.0, rows[0].Payload.Size, "first write wins")
	assert.Equal(t, 500.0, rows[0].Payload.AdjustedSize)
	assert.Equal(t, "sig-1", rows[0].SignalID)
	assert.Equal(t, "a", rows[0].SubscriberID)
}

func testSharedSignalID(t *testing.T, s store.Store, _ *Clock) {
	ctx := context.Background()
	for _, sub := range []string{"a", "b"} {
		created, err := s.InsertIfAbsent(ctx, "sig-1", sub, payload("sig-1", 1000))
		require.NoError(t, err)
		assert.True(t, created)
	}
	for _, sub := range []string{"a", "b"} {
		n, err := s.CountForSubscriber(ctx, sub)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	}
}

func testListRecentOrderAndCap(t *testing.T, s store.Store, c *Clock) {
	ctx := context.Background()
	for i := 0; i < 15; i++ {
		id := fmt.Sprintf("sig-%02d", i)
		_, err := s.InsertIfAbsent(ctx, id, "a", payload(id, float64(i)))
		require.NoError(t, err)
		c.Advance(time.Second)
	}

	rows, err := s.ListRecent(ctx, "a", 100)
	require.NoError(t, err)
	require.Len(t, rows, store.MaxListLimit)
	assert.Equal(t, "sig-14", rows[0].SignalID)
	assert.Equal(t, "sig-05", rows[9].SignalID)
	for i := 1; i < len(rows); i++ {
		assert.True(t, rows[i-1].CreatedAt.After(rows[i].CreatedAt))
	}
	assert.True(t, rows[0].CreatedAt.Equal(rows[0].Payload.CreatedAt))

	rows, err = s.ListRecent(ctx, "a", 3)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "sig-12", rows[2].SignalID)

	rows, err = s.ListRecent(ctx, "nobody", 10)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func testDeleteOneOwnership(t *testing.T, s store.Store, _ *Clock) {
	ctx := context.Background()
	_, err := s.InsertIfAbsent(ctx, "sig-1", "a", payload("sig-1", 1))
	require.NoError(t, err)

	removed, err := s.DeleteOne(ctx, "sig-1", "b")
	require.NoError(t, err)
	assert.False(t, removed)

	removed, err = s.DeleteOne(ctx, "sig-1", "a")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = s.DeleteOne(ctx, "sig-1", "a")
	require.NoError(t, err)
	assert.False(t, removed)

	rows, err := s.ListRecent(ctx, "a", 10)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func testDeleteCascades(t *testing.T, s store.Store, c *Clock) {
	ctx := context.Background()
	require.NoError(t, s.Upsert(ctx, "a", 0.5, "GODSEYE"))
	require.NoError(t, s.Upsert(ctx, "b", 0.5, "GODSEYE"))
	for i := 0; i < 3; i++ {
		id := fmt.Sprintf("sig-%d", i)
		_, err := s.InsertIfAbsent(ctx, id, "a", payload(id, 1))
		require.NoError(t, err)
		_, err = s.InsertIfAbsent(ctx, id, "b", payload(id, 1))
		require.NoError(t, err)
		c.Advance(time.Millisecond)
	}

	existed, err := s.Delete(ctx, "a")
	require.NoError(t, err)
	assert.True(t, existed)

	rows, err := s.ListRecent(ctx, "a", 10)
	require.NoError(t, err)
	assert.Empty(t, rows)
	_, err = s.Get(ctx, "a")
	assert.True(t, errors.Is(err, models.ErrNotFound))

	n, err := s.CountForSubscriber(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, 3, n, "other subscribers untouched")

	existed, err = s.Delete(ctx, "a")
	require.NoError(t, err)
	assert.False(t, existed)
}

func testDeleteAllForSubscriber(t *testing.T, s store.Store, _ *Clock) {
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		id := fmt.Sprintf("sig-%d", i)
		_, err := s.InsertIfAbsent(ctx, id, "a", payload(id, 1))
		require.NoError(t, err)
	}
	n, err := s.DeleteAllForSubscriber(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	n, err = s.DeleteAllForSubscriber(ctx, "a")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func testConcurrentInsert(t *testing.T, s store.Store, _ *Clock) {
	ctx := context.Background()
	const writers = 8

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.InsertIfAbsent(ctx, "sig-1", "a", payload("sig-1", 1))
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, created)
	n, err := s.CountForSubscriber(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
