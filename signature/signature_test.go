package signature

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moneyscripter/copytrade/models"
)

var secret = []byte("app-secret")

func signed(t *testing.T) models.Signal {
	t.Helper()
	sig := models.Signal{Symbol: "BTCUSDT", Side: models.SideBuy, Size: 1000, Price: 64250.5, Leverage: 10}
	s, err := Sign(sig, secret)
	require.NoError(t, err)
	sig.Signature = s
	return sig
}

func TestCanonicalOrder(t *testing.T) {
	data, err := Canonical(models.Signal{Symbol: "ETH<USDT>", Side: "SELL", Size: 0.5, Price: 3100, Leverage: 5, Signature: "ignored"})
	require.NoError(t, err)
	assert.Equal(t, `{"symbol":"ETH<USDT>","side":"SELL","size":0.5,"price":3100,"leverage":5}`, string(data))
}

func TestCanonicalMatchesJavaScriptNumbers(t *testing.T) {
	data, err := Canonical(models.Signal{Symbol: "X", Side: "BUY", Size: 1e-7, Price: 1e21, Leverage: 1})
	require.NoError(t, err)
	assert.Equal(t, `{"symbol":"X","side":"BUY","size":1e-7,"price":1e+21,"leverage":1}`, string(data))
}

func TestCanonicalNegativeZero(t *testing.T) {
	negZero := math.Copysign(0, -1)
	data, err := Canonical(models.Signal{Symbol: "X", Side: "SELL", Size: negZero, Price: negZero, Leverage: 1})
	require.NoError(t, err)
	assert.Equal(t, `{"symbol":"X","side":"SELL","size":0,"price":0,"leverage":1}`, string(data))

	a := models.Signal{Symbol: "X", Side: "SELL", Size: negZero, Leverage: 1}
	b := models.Signal{Symbol: "X", Side: "SELL", Size: 0, Leverage: 1}
	sa, err := Sign(a, secret)
	require.NoError(t, err)
	sb, err := Sign(b, secret)
	require.NoError(t, err)
	assert.Equal(t, sa, sb)
}

func TestCanonicalLineSeparatorsRaw(t *testing.T) {
	data, err := Canonical(models.Signal{Symbol: "A\u2028B\u2029C", Side: "BUY", Size: 1, Price: 1, Leverage: 1})
	require.NoError(t, err)
	assert.Equal(t, "{\"symbol\":\"A\u2028B\u2029C\",\"side\":\"BUY\",\"size\":1,\"price\":1,\"leverage\":1}", string(data))
	assert.NotContains(t, string(data), `\u2028`)

	// An escaped backslash followed by the text u2028 stays escaped.
	data, err = Canonical(models.Signal{Symbol: `\u2028`, Side: "BUY", Size: 1, Price: 1, Leverage: 1})
	require.NoError(t, err)
	assert.Equal(t, `{"symbol":"\\u2028","side":"BUY","size":1,"price":1,"leverage":1}`, string(data))

	// Other escapes are untouched.
	data, err = Canonical(models.Signal{Symbol: "A\"\\\u0001", Side: "BUY", Size: 1, Price: 1, Leverage: 1})
	require.NoError(t, err)
	assert.Equal(t, `{"symbol":"A\"\\\u0001","side":"BUY","size":1,"price":1,"leverage":1}`, string(data))
}

func TestSignKnownVector(t *testing.T) {
	// echo -n '{"symbol":"BTCUSDT","side":"BUY","size":1000,"price":64250.5,"leverage":10}' | openssl dgst -sha256 -hmac app-secret
	sig := signed(t)
	assert.Equal(t, "3abae126d2ca9093048dadc1873ba9bec1a466b6134010fba31668cb03d5c138", sig.Signature)
	assert.True(t, Verify(sig, secret))
}

func TestVerifyRejectsTampering(t *testing.T) {
	base := signed(t)

	cases := map[string]func(s *models.Signal){
		"symbol":    func(s *models.Signal) { s.Symbol = "BTCUSDU" },
		"side":      func(s *models.Signal) { s.Side = "SELL" },
		"size":      func(s *models.Signal) { s.Size = 1001 },
		"price":     func(s *models.Signal) { s.Price = 64250.6 },
		"leverage":  func(s *models.Signal) { s.Leverage = 11 },
		"signature": func(s *models.Signal) { s.Signature = flip(s.Signature) },
		"case":      func(s *models.Signal) { s.Signature = upperFirstLetter(s.Signature) },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			sig := base
			mutate(&sig)
			assert.False(t, Verify(sig, secret))
		})
	}
}

func TestVerifyWrongSecret(t *testing.T) {
	sig := signed(t)
	assert.False(t, Verify(sig, []byte("other")))
	assert.False(t, Verify(sig, nil))
}

func TestVerifyEmptySignature(t *testing.T) {
	sig := signed(t)
	sig.Signature = ""
	assert.False(t, Verify(sig, secret))
}

func flip(s string) string {
	b := []byte(s)
	if b[0] == '0' {
		b[0] = '1'
	} else {
		b[0] = '0'
	}
	return string(b)
}

func upperFirstLetter(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'a' && c <= 'f' {
			b[i] = c - 'a' + 'A'
			return string(b)
		}
	}
	// all digits: fall back to a flipped digit
	return flip(s)
}
