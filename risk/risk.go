package risk

import (
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/moneyscripter/copytrade/models"
)

const (
	Min     = 0.1
	Max     = 2.0
	Default = 0.5
)

// Validate reports whether r is an allowed risk multiplier.
func Validate(r float64) error {
	if r != r || r < Min || r > Max {
		return errors.Wrapf(models.ErrValidation, "risk %v outside [%v, %v]", r, Min, Max)
	}
	return nil
}

// Adjust scales sig by r. The original size and r are kept on the payload.
func Adjust(sig models.Signal, signalID string, r float64) models.Payload {
	adjusted, _ := decimal.NewFromFloat(sig.Size).Mul(decimal.NewFromFloat(r)).Float64()
	return models.Payload{
		ID:           signalID,
		Symbol:       sig.Symbol,
		Side:         sig.Side,
		Size:         sig.Size,
		Price:        sig.Price,
		Leverage:     sig.Leverage,
		Signature:    sig.Signature,
		OriginalSize: sig.Size,
		AdjustedSize: adjusted,
		AppliedRisk:  r,
	}
}
