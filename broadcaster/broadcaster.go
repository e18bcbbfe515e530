// Package broadcaster fans an authenticated signal out to every subscriber of
// the leader's referral scope, storing one risk-adjusted row per subscriber.
package broadcaster

import (
	"context"
	"sync"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/moneyscripter/copytrade/models"
	"github.com/moneyscripter/copytrade/risk"
)

// namespace seeds deterministic signal ids.
var namespace = uuid.MustParse("5b0c6f0e-3d1a-4c57-9a7e-2f4d8c1b6e90")

// Store is the subset of the store the fan-out needs.
type Store interface {
	ListByScope(ctx context.Context, scope string) ([]models.Member, error)
	InsertIfAbsent(ctx context.Context, signalID, subscriberID string, payload models.Payload) (bool, error)
}

// Result summarizes one broadcast.
type Result struct {
	SignalID   string
	Targeted   int
	Inserted   int
	Duplicates int
	Failed     int
}

type Option func(*Broadcaster)

// WithConcurrency enables parallel inserts bounded by n. n <= 1 keeps the
// fan-out sequential.
func WithConcurrency(n int) Option {
	return func(b *Broadcaster) { b.concurrency = n }
}

type Broadcaster struct {
	store       Store
	scope       string
	concurrency int
	log         *zap.Logger
}

func New(store Store, scope string, log *zap.Logger, opts ...Option) *Broadcaster {
	if log == nil {
		log = zap.NewNop()
	}
	b := &Broadcaster{store: store, scope: scope, log: log}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// SignalID derives the id shared by every subscriber's copy of a signal.
// A redelivered message with the same ref maps to the same id; without a ref
// the id is random.
func SignalID(ref string, sig models.Signal) string {
	if ref == "" {
		return uuid.NewString()
	}
	return uuid.NewSHA1(namespace, []byte(ref+"\x00"+sig.Signature)).String()
}

// Broadcast stores sig for every subscriber in scope. Per-subscriber failures
// are logged and counted; only a failure to list subscribers is returned.
func (b *Broadcaster) Broadcast(ctx context.Context, sig models.Signal, ref string) (Result, error) {
	res := Result{SignalID: SignalID(ref, sig)}
	log := b.log.With(zap.String("signal_id", res.SignalID), zap.String("symbol", sig.Symbol))

	members, err := b.store.ListByScope(ctx, b.scope)
	if err != nil {
		return res, errors.Wrap(err, "list subscribers")
	}
	res.Targeted = len(members)
	if len(members) == 0 {
		log.Info("No subscribers for signal", zap.String("scope", b.scope))
		return res, nil
	}

	var mu sync.Mutex
	deliver := func(m models.Member) {
		created, err := b.store.InsertIfAbsent(ctx, res.SignalID, m.SubscriberID, risk.Adjust(sig, res.SignalID, m.Risk))
		mu.Lock()
		defer mu.Unlock()
		switch {
		case err != nil:
			res.Failed++
			log.Warn("Failed to store signal", zap.String("subscriber_id", m.SubscriberID), zap.Error(err))
		case created:
			res.Inserted++
		default:
			res.Duplicates++
		}
	}

	if b.concurrency <= 1 {
		for _, m := range members {
			deliver(m)
		}
	} else {
		var g errgroup.Group
		g.SetLimit(b.concurrency)
		for _, m := range members {
			g.Go(func() error {
				deliver(m)
				return nil
			})
		}
		_ = g.Wait()
	}

	log.Info("Signal broadcast",
		zap.Int("targeted", res.Targeted),
		zap.Int("inserted", res.Inserted),
		zap.Int("duplicates", res.Duplicates),
		zap.Int("failed", res.Failed),
	)
	return res, nil
}
