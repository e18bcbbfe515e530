// Package signature authenticates leader signals with HMAC-SHA256.
package signature

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/go-faster/errors"

	"github.com/moneyscripter/copytrade/models"
)

// canonical fixes the signed fields and their order. It must serialize
// byte-for-byte like the leader's signer, so only these five fields exist.
type canonical struct {
	Symbol   string  `json:"symbol"`
	Side     string  `json:"side"`
	Size     float64 `json:"size"`
	Price    float64 `json:"price"`
	Leverage float64 `json:"leverage"`
}

// Canonical returns the signed representation of sig.
func Canonical(sig models.Signal) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	err := enc.Encode(canonical{
		Symbol:   sig.Symbol,
		Side:     sig.Side,
		Size:     unsignedZero(sig.Size),
		Price:    unsignedZero(sig.Price),
		Leverage: unsignedZero(sig.Leverage),
	})
	if err != nil {
		return nil, errors.Wrap(err, "encode canonical signal")
	}
	out := bytes.TrimSuffix(buf.Bytes(), []byte("\n"))
	if !bytes.Contains(out, []byte(`u202`)) {
		return out, nil
	}
	return rawLineSeparators(out), nil
}

// rawLineSeparators undoes the \u2028 and \u2029 escapes encoding/json adds;
// JSON.stringify writes both characters raw.
func rawLineSeparators(in []byte) []byte {
	out := make([]byte, 0, len(in))
	for i := 0; i < len(in); i++ {
		if in[i] != '\\' || i+1 >= len(in) {
			out = append(out, in[i])
			continue
		}
		if in[i+1] == 'u' && i+6 <= len(in) {
			switch string(in[i : i+6]) {
			case `\u2028`:
				out = append(out, "\u2028"...)
				i += 5
				continue
			case `\u2029`:
				out = append(out, "\u2029"...)
				i += 5
				continue
			}
		}
		// Any other escape is copied whole so an escaped backslash is not
		// mistaken for the start of a new escape.
		out = append(out, in[i], in[i+1])
		i++
	}
	return out
}

// unsignedZero maps -0 to 0; JavaScript prints both as 0.
func unsignedZero(f float64) float64 {
	if f == 0 {
		return 0
	}
	return f
}

// Sign computes the hex digest the leader attaches to sig.
func Sign(sig models.Signal, secret []byte) (string, error) {
	data, err := Canonical(sig)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(digest(secret, data)), nil
}

// Verify reports whether sig carries a valid signature for secret.
func Verify(sig models.Signal, secret []byte) bool {
	if len(secret) == 0 || sig.Signature == "" {
		return false
	}
	data, err := Canonical(sig)
	if err != nil {
		return false
	}
	expected := hex.EncodeToString(digest(secret, data))
	return hmac.Equal([]byte(sig.Signature), []byte(expected))
}

func digest(secret, data []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write(data)
	return mac.Sum(nil)
}
