package basedping

import (
	"encoding/json"
	"strings"

	"github.com/go-faster/errors"

	"github.com/moneyscripter/copytrade/channels"
	"github.com/moneyscripter/copytrade/models"
)

const (
	DefaultLeader      = "BasedPing_bot"
	DefaultMarker      = "New Trade Alert!"
	DefaultStartMarker = "SIGNAL:"
	DefaultEndMarker   = "</tg-spoiler>"
)

type Option func(*basedPing)

func WithMarkers(marker, start, end string) Option {
	return func(b *basedPing) {
		if marker != "" {
			b.marker = marker
		}
		if start != "" {
			b.start = start
		}
		if end != "" {
			b.end = end
		}
	}
}

type basedPing struct {
	leader string
	marker string
	start  string
	end    string
}

// NewBasedPing is a constructor for the BasedPing alert parser. Only messages
// sent by leader are considered.
func NewBasedPing(leader string, opts ...Option) channels.Channels {
	b := &basedPing{
		leader: leader,
		marker: DefaultMarker,
		start:  DefaultStartMarker,
		end:    DefaultEndMarker,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// ParseSignal returns channels.ErrNoSignal unless sender is the leader and
// the marker is present. Past that point every failure is
// channels.ErrMalformed.
func (b *basedPing) ParseSignal(sender, message string) (models.Signal, error) {
	if b.leader == "" || sender != b.leader {
		return models.Signal{}, channels.ErrNoSignal
	}
	if !strings.Contains(message, b.marker) {
		return models.Signal{}, channels.ErrNoSignal
	}

	block, ok := b.extract(message)
	if !ok {
		return models.Signal{}, errors.Wrap(channels.ErrMalformed, "no signal block")
	}

	var sig models.Signal
	if err := json.Unmarshal([]byte(block), &sig); err != nil {
		return models.Signal{}, errors.Wrapf(channels.ErrMalformed, "decode: %v", err)
	}
	if sig.Symbol == "" || sig.Signature == "" {
		return models.Signal{}, errors.Wrap(channels.ErrMalformed, "missing symbol or signature")
	}
	if sig.Side != models.SideBuy && sig.Side != models.SideSell {
		return models.Signal{}, errors.Wrapf(channels.ErrMalformed, "side %q", sig.Side)
	}
	return sig, nil
}

// Format renders sig the way the leader posts it, with the default markers.
func Format(sig models.Signal) (string, error) {
	body, err := json.Marshal(sig)
	if err != nil {
		return "", err
	}
	return "🚨 " + DefaultMarker + "\n<tg-spoiler>" + DefaultStartMarker + " " + string(body) + DefaultEndMarker, nil
}

// extract returns the first balanced {...} block between the start marker and
// the end marker, or the end of the message when there is no end marker.
func (b *basedPing) extract(message string) (string, bool) {
	i := strings.Index(message, b.start)
	if i < 0 {
		return "", false
	}
	region := message[i+len(b.start):]
	if j := strings.Index(region, b.end); j >= 0 {
		region = region[:j]
	}

	open := strings.IndexByte(region, '{')
	if open < 0 {
		return "", false
	}

	depth := 0
	inString, escaped := false, false
	for k := open; k < len(region); k++ {
		c := region[k]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return region[open : k+1], true
			}
		}
	}
	return "", false
}
