// Package relay turns inbound leader messages into stored subscriber signals.
package relay

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/moneyscripter/copytrade/broadcaster"
	"github.com/moneyscripter/copytrade/channels"
	"github.com/moneyscripter/copytrade/events"
	"github.com/moneyscripter/copytrade/models"
	"github.com/moneyscripter/copytrade/signature"
	"github.com/moneyscripter/copytrade/telegram_engine/notify"
)

const DefaultTimeout = 30 * time.Second

type Broadcaster interface {
	Broadcast(ctx context.Context, sig models.Signal, ref string) (broadcaster.Result, error)
}

type Option func(*Relay)

func WithNotifier(n notify.Notifier) Option {
	return func(r *Relay) { r.notifier = n }
}

func WithPublisher(p events.Publisher) Option {
	return func(r *Relay) { r.publisher = p }
}

// WithTimeout bounds a single background fan-out.
func WithTimeout(d time.Duration) Option {
	return func(r *Relay) {
		if d > 0 {
			r.timeout = d
		}
	}
}

type Relay struct {
	parser      channels.Channels
	secret      []byte
	scope       string
	broadcaster Broadcaster
	notifier    notify.Notifier
	publisher   events.Publisher
	timeout     time.Duration
	log         *zap.Logger
	now         func() time.Time

	wg sync.WaitGroup
}

func New(parser channels.Channels, secret, scope string, b Broadcaster, log *zap.Logger, opts ...Option) *Relay {
	r := &Relay{
		parser:      parser,
		secret:      []byte(secret),
		scope:       scope,
		broadcaster: b,
		notifier:    notify.Nop{},
		publisher:   events.Nop{},
		timeout:     DefaultTimeout,
		log:         log,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Handle inspects one inbound message. Messages that are not authentic leader
// signals are dropped. An authentic signal is broadcast in the background and
// Handle returns true without waiting for it.
func (r *Relay) Handle(ctx context.Context, in models.Inbound) bool {
	sig, err := r.Authenticate(in)
	if errors.Is(err, models.ErrAuthenticity) {
		r.log.Warn("Leader signal dropped",
			zap.String("ref", in.Ref()),
			zap.String("symbol", sig.Symbol),
			zap.Error(err),
		)
	}
	if err != nil {
		return false
	}

	ref := in.Ref()
	log := r.log.With(zap.String("ref", ref), zap.String("symbol", sig.Symbol))
	bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer cancel()
		r.broadcast(bctx, log, sig, ref)
	}()
	return true
}

// Authenticate extracts the leader signal from in. It returns
// models.ErrValidation when in carries no signal, and models.ErrAuthenticity
// when the leader's block is unreadable or its signature does not match.
func (r *Relay) Authenticate(in models.Inbound) (models.Signal, error) {
	sig, err := r.parser.ParseSignal(in.SenderUsername, in.Text)
	if err != nil {
		return models.Signal{}, err
	}
	if !signature.Verify(sig, r.secret) {
		return sig, errors.Wrapf(models.ErrAuthenticity, "signal %s", sig.Symbol)
	}
	return sig, nil
}

func (r *Relay) broadcast(ctx context.Context, log *zap.Logger, sig models.Signal, ref string) {
	res, err := r.broadcaster.Broadcast(ctx, sig, ref)
	if err != nil {
		log.Error("Broadcast failed", zap.Error(err))
		return
	}
	if res.Targeted == 0 {
		return
	}

	if err := r.publisher.Publish(ctx, events.Broadcast{
		SignalID:   res.SignalID,
		Ref:        ref,
		Scope:      r.scope,
		Signal:     sig,
		Targeted:   res.Targeted,
		Inserted:   res.Inserted,
		Duplicates: res.Duplicates,
		Failed:     res.Failed,
		At:         r.now().UTC(),
	}); err != nil {
		log.Warn("Broadcast event not published", zap.Error(err))
	}
	if res.Inserted > 0 {
		if err := r.notifier.Notify(ctx, notify.Summary(sig, res.SignalID, res.Targeted, res.Inserted, res.Failed)); err != nil {
			log.Debug("Admin summary not sent", zap.Error(err))
		}
	}
}

// Wait blocks until every in-flight broadcast has finished or ctx is done.
func (r *Relay) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
