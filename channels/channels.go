package channels

import (
	"github.com/go-faster/errors"

	"github.com/moneyscripter/copytrade/models"
)

var (
	// ErrNoSignal means the message is not a leader alert.
	ErrNoSignal = errors.Wrap(models.ErrValidation, "no leader signal")
	// ErrMalformed means the leader posted an alert that could not be read.
	ErrMalformed = errors.Wrap(models.ErrAuthenticity, "malformed leader signal")
)

// Channels extracts a leader signal from a chat message. Implementations fail
// closed: anything not recognised yields an error wrapping ErrNoSignal or
// ErrMalformed.
type Channels interface {
	ParseSignal(sender, message string) (models.Signal, error)
}

var AvailableChannels = map[string]string{
	"BasedPing": "https://t.me/BasedPing_bot",
}
