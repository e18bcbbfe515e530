package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moneyscripter/copytrade/models"
)

type recordingWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordingWriter) Close() error { return nil }

func event() Broadcast {
	return Broadcast{
		SignalID: "0b8e4c1e-7f0a-5d42-8f7e-5a1c2b3d4e5f",
		Ref:      "-100:42",
		Scope:    "GODSEYE",
		Signal:   models.Signal{Symbol: "BTCUSDT", Side: "BUY", Size: 1000, Price: 64000, Leverage: 10, Signature: "ab"},
		Targeted: 2,
		Inserted: 2,
		At:       time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestEncode(t *testing.T) {
	msg, err := Encode(event())
	require.NoError(t, err)
	assert.Equal(t, "0b8e4c1e-7f0a-5d42-8f7e-5a1c2b3d4e5f", string(msg.Key))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, "GODSEYE", decoded["scope"])
	assert.Equal(t, float64(2), decoded["inserted"])
	assert.Equal(t, "BTCUSDT", decoded["signal"].(map[string]any)["symbol"])
}

func TestKafkaPublisher(t *testing.T) {
	w := &recordingWriter{}
	p := &KafkaPublisher{writer: w, Topic: "copytrade.broadcasts"}
	require.NoError(t, p.Publish(context.Background(), event()))
	require.Len(t, w.msgs, 1)

	w.err = errors.New("leader not available")
	err := p.Publish(context.Background(), event())
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrTransport))
}
