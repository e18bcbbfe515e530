// Package store defines the durable subscriber and signal stores.
package store

import (
	"context"

	"github.com/moneyscripter/copytrade/models"
)

// MaxListLimit caps ListRecent regardless of what the caller asks for.
const MaxListLimit = 10

// SubscriptionStore owns the subscriber lifecycle.
type SubscriptionStore interface {
	// Upsert creates the subscriber or overwrites its risk and scope.
	// SubscribedAt of an existing subscriber is kept.
	Upsert(ctx context.Context, subscriberID string, risk float64, scope string) error
	// Delete removes the subscriber and all of its signals atomically.
	Delete(ctx context.Context, subscriberID string) (bool, error)
	// SetRisk returns models.ErrNotSubscribed when the subscriber is absent.
	SetRisk(ctx context.Context, subscriberID string, risk float64) error
	// Get returns models.ErrNotFound when the subscriber is absent.
	Get(ctx context.Context, subscriberID string) (models.Subscriber, error)
	ListByScope(ctx context.Context, scope string) ([]models.Member, error)
}

// SignalStore owns the per-subscriber signal rows.
type SignalStore interface {
	// InsertIfAbsent stores payload once per (signalID, subscriberID) and
	// reports whether a new row was created.
	InsertIfAbsent(ctx context.Context, signalID, subscriberID string, payload models.Payload) (bool, error)
	// ListRecent returns newest first, at most min(limit, MaxListLimit) rows.
	ListRecent(ctx context.Context, subscriberID string, limit int) ([]models.StoredSignal, error)
	DeleteOne(ctx context.Context, signalID, subscriberID string) (bool, error)
	DeleteAllForSubscriber(ctx context.Context, subscriberID string) (int, error)
	CountForSubscriber(ctx context.Context, subscriberID string) (int, error)
}

// Store is a backend providing both stores over one database.
type Store interface {
	SubscriptionStore
	SignalStore
	Close() error
}

// ClampLimit applies the server side cap to a requested list size.
func ClampLimit(limit int) int {
	if limit <= 0 || limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}
