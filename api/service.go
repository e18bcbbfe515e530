// Package api is the HTTP delivery surface over the signal and subscription
// stores.
package api

import (
	"context"

	"github.com/go-faster/errors"

	"github.com/moneyscripter/copytrade/models"
	"github.com/moneyscripter/copytrade/store"
)

// Service holds the delivery operations independent of HTTP.
type Service struct {
	store store.Store
}

func NewService(st store.Store) *Service {
	return &Service{store: st}
}

// ListSignals returns the newest payloads of a live subscriber. Rows left
// behind by a subscriber that has since unsubscribed are not served.
func (s *Service) ListSignals(ctx context.Context, subscriberID string, limit int) ([]models.Payload, error) {
	if _, err := s.store.Get(ctx, subscriberID); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return []models.Payload{}, nil
		}
		return nil, err
	}
	rows, err := s.store.ListRecent(ctx, subscriberID, limit)
	if err != nil {
		return nil, err
	}
	out := make([]models.Payload, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.Payload)
	}
	return out, nil
}

// DeleteSignal removes one row owned by subscriberID. A row owned by anyone
// else is reported as not found.
func (s *Service) DeleteSignal(ctx context.Context, signalID, subscriberID string) error {
	removed, err := s.store.DeleteOne(ctx, signalID, subscriberID)
	if err != nil {
		return err
	}
	if !removed {
		return errors.Wrapf(models.ErrNotFound, "signal %s", signalID)
	}
	return nil
}

func (s *Service) Risk(ctx context.Context, subscriberID string) (float64, error) {
	sub, err := s.store.Get(ctx, subscriberID)
	if errors.Is(err, models.ErrNotFound) {
		return 0, errors.Wrapf(models.ErrNotSubscribed, "subscriber %s", subscriberID)
	}
	if err != nil {
		return 0, err
	}
	return sub.Risk, nil
}

// Subscription reports the subscriber record and whether it exists.
func (s *Service) Subscription(ctx context.Context, subscriberID string) (models.Subscriber, bool, error) {
	sub, err := s.store.Get(ctx, subscriberID)
	if errors.Is(err, models.ErrNotFound) {
		return models.Subscriber{}, false, nil
	}
	if err != nil {
		return models.Subscriber{}, false, err
	}
	return sub, true, nil
}
