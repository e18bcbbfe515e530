// Package subscription implements the follower lifecycle behind the chat
// commands: subscribe, unsubscribe, risk changes and status.
package subscription

import (
	"context"

	"github.com/go-faster/errors"

	"github.com/moneyscripter/copytrade/models"
	"github.com/moneyscripter/copytrade/risk"
	"github.com/moneyscripter/copytrade/store"
)

// ErrInvalidReferral is returned by Subscribe for a code other than the scope.
var ErrInvalidReferral = errors.Wrap(models.ErrValidation, "invalid referral code")

type Status struct {
	models.Subscriber
	Signals int
}

type Service struct {
	store       store.Store
	scope       string
	defaultRisk float64
}

func NewService(st store.Store, scope string, defaultRisk float64) *Service {
	if risk.Validate(defaultRisk) != nil {
		defaultRisk = risk.Default
	}
	return &Service{store: st, scope: scope, defaultRisk: defaultRisk}
}

func (s *Service) Scope() string { return s.scope }

func (s *Service) DefaultRisk() float64 { return s.defaultRisk }

// Subscribe joins subscriberID to the fan-out group when ref matches the
// configured scope. Re-subscribing resets risk to the default.
func (s *Service) Subscribe(ctx context.Context, subscriberID, ref string) error {
	if ref != s.scope {
		return ErrInvalidReferral
	}
	return s.store.Upsert(ctx, subscriberID, s.defaultRisk, ref)
}

// Unsubscribe removes the subscriber and every stored signal. It reports
// whether the subscriber existed.
func (s *Service) Unsubscribe(ctx context.Context, subscriberID string) (bool, error) {
	return s.store.Delete(ctx, subscriberID)
}

func (s *Service) SetRisk(ctx context.Context, subscriberID string, r float64) error {
	if err := risk.Validate(r); err != nil {
		return err
	}
	return s.store.SetRisk(ctx, subscriberID, r)
}

func (s *Service) Status(ctx context.Context, subscriberID string) (Status, error) {
	sub, err := s.store.Get(ctx, subscriberID)
	if err != nil {
		return Status{}, err
	}
	n, err := s.store.CountForSubscriber(ctx, subscriberID)
	if err != nil {
		return Status{}, err
	}
	return Status{Subscriber: sub, Signals: n}, nil
}
