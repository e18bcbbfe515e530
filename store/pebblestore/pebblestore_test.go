package pebblestore

import (
	"testing"
	"time"

	"github.com/cockroachdb/pebble/vfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moneyscripter/copytrade/models"
	"github.com/moneyscripter/copytrade/store"
	"github.com/moneyscripter/copytrade/store/storetest"
)

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T, clock func() time.Time) store.Store {
		s, err := Open("copytrade", WithFS(vfs.NewMem()), WithClock(clock))
		require.NoError(t, err)
		return s
	})
}

func TestUpperBound(t *testing.T) {
	assert.Equal(t, []byte("sig\x00b"), upperBound([]byte("sig\x00a")))
	assert.Equal(t, []byte("b"), upperBound([]byte("a\xff")))
	assert.Nil(t, upperBound([]byte{0xff, 0xff}))
}

func TestSubscriberPrefixesDoNotOverlap(t *testing.T) {
	s, err := Open("copytrade", WithFS(vfs.NewMem()))
	require.NoError(t, err)
	defer s.Close()

	ctx := t.Context()
	for _, id := range []string{"1", "10", "100"} {
		_, err := s.InsertIfAbsent(ctx, "sig-"+id, id, models.Payload{Symbol: "BTCUSDT", Side: models.SideBuy, Size: 1})
		require.NoError(t, err)
	}
	for _, id := range []string{"1", "10", "100"} {
		n, err := s.CountForSubscriber(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, 1, n, id)
	}
}
