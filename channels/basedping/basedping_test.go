package basedping

import (
	"testing"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moneyscripter/copytrade/channels"
	"github.com/moneyscripter/copytrade/models"
)

const payload = `{"symbol":"BTCUSDT","side":"BUY","size":1000,"price":64000,"leverage":10,"signature":"deadbeef"}`

func TestParseSignal(t *testing.T) {
	p := NewBasedPing(DefaultLeader)

	msg := "🚨 New Trade Alert!\nBTCUSDT long\n<tg-spoiler>SIGNAL: " + payload + "</tg-spoiler>"
	sig, err := p.ParseSignal(DefaultLeader, msg)
	require.NoError(t, err)
	assert.Equal(t, models.Signal{
		Symbol: "BTCUSDT", Side: "BUY", Size: 1000, Price: 64000, Leverage: 10, Signature: "deadbeef",
	}, sig)
}

func TestParseSignalEndOfString(t *testing.T) {
	p := NewBasedPing(DefaultLeader)
	_, err := p.ParseSignal(DefaultLeader, "New Trade Alert!\nSIGNAL: "+payload)
	assert.NoError(t, err)
}

func TestParseSignalNestedAndBracesInStrings(t *testing.T) {
	p := NewBasedPing(DefaultLeader)
	body := `{"symbol":"B}TC","side":"SELL","size":1,"price":2,"leverage":3,"signature":"ab","meta":{"note":"x{y"}}`
	sig, err := p.ParseSignal(DefaultLeader, "New Trade Alert! SIGNAL:\n"+body+" trailing text")
	require.NoError(t, err)
	assert.Equal(t, "B}TC", sig.Symbol)
	assert.Equal(t, "SELL", sig.Side)
}

func TestParseSignalFailsClosed(t *testing.T) {
	p := NewBasedPing(DefaultLeader)
	good := "New Trade Alert!\nSIGNAL: " + payload

	cases := map[string]struct {
		sender, text string
		want         error
	}{
		"wrong sender":      {"someone_else", good, channels.ErrNoSignal},
		"empty sender":      {"", good, channels.ErrNoSignal},
		"sender case":       {"basedping_bot", good, channels.ErrNoSignal},
		"missing marker":    {DefaultLeader, "SIGNAL: " + payload, channels.ErrNoSignal},
		"missing start":     {DefaultLeader, "New Trade Alert! " + payload, channels.ErrMalformed},
		"no block":          {DefaultLeader, "New Trade Alert! SIGNAL: none", channels.ErrMalformed},
		"unbalanced":        {DefaultLeader, `New Trade Alert! SIGNAL: {"symbol":"BTC"`, channels.ErrMalformed},
		"block after end":   {DefaultLeader, "New Trade Alert! SIGNAL: </tg-spoiler>" + payload, channels.ErrMalformed},
		"malformed json":    {DefaultLeader, `New Trade Alert! SIGNAL: {"symbol":BTC}`, channels.ErrMalformed},
		"trailing comma":    {DefaultLeader, `New Trade Alert! SIGNAL: {"symbol":"BTCUSDT","side":"BUY","size":1000,}`, channels.ErrMalformed},
		"string size":       {DefaultLeader, `New Trade Alert! SIGNAL: {"symbol":"BTC","side":"BUY","size":"1","price":1,"leverage":1,"signature":"a"}`, channels.ErrMalformed},
		"bad side":          {DefaultLeader, `New Trade Alert! SIGNAL: {"symbol":"BTC","side":"HOLD","size":1,"price":1,"leverage":1,"signature":"a"}`, channels.ErrMalformed},
		"missing signature": {DefaultLeader, `New Trade Alert! SIGNAL: {"symbol":"BTC","side":"BUY","size":1,"price":1,"leverage":1}`, channels.ErrMalformed},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := p.ParseSignal(tc.sender, tc.text)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tc.want), "got %v", err)
		})
	}
}

func TestMalformedIsAuthenticityFailure(t *testing.T) {
	_, err := NewBasedPing(DefaultLeader).ParseSignal(DefaultLeader, `New Trade Alert! SIGNAL: {"symbol":BTC}`)
	assert.True(t, errors.Is(err, models.ErrAuthenticity))
	assert.False(t, errors.Is(err, models.ErrValidation))
}

func TestParseSignalNoLeaderConfigured(t *testing.T) {
	p := NewBasedPing("")
	_, err := p.ParseSignal("", "New Trade Alert!\nSIGNAL: "+payload)
	assert.True(t, errors.Is(err, channels.ErrNoSignal))
}

func TestWithMarkers(t *testing.T) {
	p := NewBasedPing("lead", WithMarkers("ALERT", "DATA=", ""))
	_, err := p.ParseSignal("lead", "ALERT DATA="+payload+"</tg-spoiler>")
	assert.NoError(t, err)
}

func TestFormatParses(t *testing.T) {
	sig := models.Signal{Symbol: "ETHUSDT", Side: models.SideSell, Size: 2.5, Price: 3100, Leverage: 5, Signature: "cafe"}
	msg, err := Format(sig)
	require.NoError(t, err)

	got, err := NewBasedPing(DefaultLeader).ParseSignal(DefaultLeader, msg)
	require.NoError(t, err)
	assert.Equal(t, sig, got)
}
