package models

import (
	"strconv"
	"time"
)

const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

// Signal is the trade payload posted by the leader. It only lives between
// parsing and verification and is never stored as-is.
type Signal struct {
	Symbol    string  `json:"symbol"`
	Side      string  `json:"side"`
	Size      float64 `json:"size"`
	Price     float64 `json:"price"`
	Leverage  float64 `json:"leverage"`
	Signature string  `json:"signature"`
}

// Payload is the per-subscriber, risk adjusted copy of a verified signal.
type Payload struct {
	ID           string    `json:"id"`
	Symbol       string    `json:"symbol"`
	Side         string    `json:"side"`
	Size         float64   `json:"size"`
	Price        float64   `json:"price"`
	Leverage     float64   `json:"leverage"`
	Signature    string    `json:"signature"`
	OriginalSize float64   `json:"originalSize"`
	AdjustedSize float64   `json:"adjustedSize"`
	AppliedRisk  float64   `json:"appliedRisk"`
	CreatedAt    time.Time `json:"createdAt"`
}

type Subscriber struct {
	ID            string    `json:"subscriberId"`
	Risk          float64   `json:"risk"`
	ReferralScope string    `json:"ref"`
	SubscribedAt  time.Time `json:"subscribedSince"`
}

// Member is the fan-out view of a subscriber.
type Member struct {
	SubscriberID string
	Risk         float64
}

// StoredSignal is one row of the signal store.
type StoredSignal struct {
	SignalID     string
	SubscriberID string
	Payload      Payload
	CreatedAt    time.Time
}

// Inbound is a text event delivered by the chat platform.
type Inbound struct {
	UpdateID       int64
	ChatID         int64
	MessageID      int
	SenderID       int64
	SenderUsername string
	Text           string
}

// Ref identifies the inbound message across redeliveries. Empty when the
// transport did not report a message id.
func (i Inbound) Ref() string {
	if i.MessageID == 0 {
		return ""
	}
	return strconv.FormatInt(i.ChatID, 10) + ":" + strconv.Itoa(i.MessageID)
}
