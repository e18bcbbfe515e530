package broadcaster

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/moneyscripter/copytrade/models"
	"github.com/moneyscripter/copytrade/store/boltstore"
)

var trade = models.Signal{
	Symbol: "BTCUSDT", Side: models.SideBuy, Size: 1000, Price: 64000, Leverage: 10, Signature: "abc123",
}

func openStore(t *testing.T) *boltstore.Store {
	t.Helper()
	s, err := boltstore.Open(filepath.Join(t.TempDir(), "copytrade.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestBroadcastAdjustsPerSubscriber(t *testing.T) {
	for _, concurrency := range []int{1, 4} {
		ctx := context.Background()
		s := openStore(t)
		require.NoError(t, s.Upsert(ctx, "A", 0.5, "GODSEYE"))
		require.NoError(t, s.Upsert(ctx, "B", 1.0, "GODSEYE"))
		require.NoError(t, s.Upsert(ctx, "C", 2.0, "OTHER"))

		b := New(s, "GODSEYE", zaptest.NewLogger(t), WithConcurrency(concurrency))
		res, err := b.Broadcast(ctx, trade, "-100:42")
		require.NoError(t, err)
		assert.Equal(t, 2, res.Targeted)
		assert.Equal(t, 2, res.Inserted)

		want := map[string]float64{"A": 500, "B": 1000}
		for sub, size := range want {
			rows, err := s.ListRecent(ctx, sub, 10)
			require.NoError(t, err)
			require.Len(t, rows, 1)
			assert.Equal(t, res.SignalID, rows[0].SignalID)
			assert.Equal(t, size, rows[0].Payload.AdjustedSize)
			assert.Equal(t, 1000.0, rows[0].Payload.OriginalSize)
		}
		rows, err := s.ListRecent(ctx, "C", 10)
		require.NoError(t, err)
		assert.Empty(t, rows)
	}
}

func TestBroadcastIdempotentOnRedelivery(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	require.NoError(t, s.Upsert(ctx, "A", 0.5, "GODSEYE"))
	b := New(s, "GODSEYE", zaptest.NewLogger(t))

	first, err := b.Broadcast(ctx, trade, "-100:42")
	require.NoError(t, err)
	second, err := b.Broadcast(ctx, trade, "-100:42")
	require.NoError(t, err)

	assert.Equal(t, first.SignalID, second.SignalID)
	assert.Equal(t, 0, second.Inserted)
	assert.Equal(t, 1, second.Duplicates)
	n, err := s.CountForSubscriber(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestBroadcastNoSubscribers(t *testing.T) {
	b := New(openStore(t), "GODSEYE", zaptest.NewLogger(t))
	res, err := b.Broadcast(context.Background(), trade, "")
	require.NoError(t, err)
	assert.Zero(t, res.Targeted)
	assert.Zero(t, res.Inserted)
}

type flakyStore struct {
	mu       sync.Mutex
	members  []models.Member
	failFor  string
	inserted []string
}

func (f *flakyStore) ListByScope(context.Context, string) ([]models.Member, error) {
	return f.members, nil
}

func (f *flakyStore) InsertIfAbsent(_ context.Context, _, subscriberID string, _ models.Payload) (bool, error) {
	if subscriberID == f.failFor {
		return false, errors.New("disk full")
	}
	f.mu.Lock()
	f.inserted = append(f.inserted, subscriberID)
	f.mu.Unlock()
	return true, nil
}

func TestBroadcastIsolatesFailures(t *testing.T) {
	s := &flakyStore{
		members: []models.Member{{SubscriberID: "A", Risk: 1}, {SubscriberID: "B", Risk: 1}, {SubscriberID: "C", Risk: 1}},
		failFor: "B",
	}
	res, err := New(s, "GODSEYE", zaptest.NewLogger(t)).Broadcast(context.Background(), trade, "")
	require.NoError(t, err)
	assert.Equal(t, 3, res.Targeted)
	assert.Equal(t, 2, res.Inserted)
	assert.Equal(t, 1, res.Failed)
	assert.ElementsMatch(t, []string{"A", "C"}, s.inserted)
}

type brokenStore struct{ flakyStore }

func (*brokenStore) ListByScope(context.Context, string) ([]models.Member, error) {
	return nil, errors.New("connection refused")
}

func TestBroadcastListFailure(t *testing.T) {
	_, err := New(&brokenStore{}, "GODSEYE", nil).Broadcast(context.Background(), trade, "")
	require.Error(t, err)
}

func TestSignalID(t *testing.T) {
	id := SignalID("-100:42", trade)
	assert.Equal(t, id, SignalID("-100:42", trade))
	assert.NotEqual(t, id, SignalID("-100:43", trade))

	other := trade
	other.Signature = "def456"
	assert.NotEqual(t, id, SignalID("-100:42", other))

	parsed, err := uuid.Parse(id)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(5), parsed.Version())

	random, err := uuid.Parse(SignalID("", trade))
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(4), random.Version())
	assert.NotEqual(t, SignalID("", trade), SignalID("", trade))
}
