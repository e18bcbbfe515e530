package risk

import (
	"math"
	"testing"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moneyscripter/copytrade/models"
)

func TestValidate(t *testing.T) {
	for _, r := range []float64{0.1, 0.5, 1, 1.75, 2} {
		assert.NoError(t, Validate(r), "%v", r)
	}
	for _, r := range []float64{0, 0.09, 2.01, -1, math.NaN(), math.Inf(1)} {
		err := Validate(r)
		require.Error(t, err, "%v", r)
		assert.True(t, errors.Is(err, models.ErrValidation))
	}
}

func TestAdjust(t *testing.T) {
	sig := models.Signal{Symbol: "BTCUSDT", Side: models.SideBuy, Size: 1000, Price: 64000, Leverage: 10, Signature: "abc"}

	p := Adjust(sig, "sig-1", 0.5)
	assert.Equal(t, "sig-1", p.ID)
	assert.Equal(t, 500.0, p.AdjustedSize)
	assert.Equal(t, 1000.0, p.OriginalSize)
	assert.Equal(t, 1000.0, p.Size)
	assert.Equal(t, 0.5, p.AppliedRisk)
	assert.Equal(t, "abc", p.Signature)
}

func TestAdjustExactDecimal(t *testing.T) {
	p := Adjust(models.Signal{Size: 0.3}, "x", 0.1)
	assert.Equal(t, 0.03, p.AdjustedSize)
}
