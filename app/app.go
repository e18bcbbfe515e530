// Package app wires the relay components together and runs them until
// shutdown.
package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/grafana/pyroscope-go"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/moneyscripter/copytrade/api"
	"github.com/moneyscripter/copytrade/broadcaster"
	"github.com/moneyscripter/copytrade/channels/basedping"
	"github.com/moneyscripter/copytrade/config"
	"github.com/moneyscripter/copytrade/events"
	"github.com/moneyscripter/copytrade/ratelimit"
	"github.com/moneyscripter/copytrade/relay"
	"github.com/moneyscripter/copytrade/store"
	"github.com/moneyscripter/copytrade/subscription"
	"github.com/moneyscripter/copytrade/telegram_engine/bot"
	"github.com/moneyscripter/copytrade/telegram_engine/client"
	"github.com/moneyscripter/copytrade/telegram_engine/notify"
)

const (
	shutdownTimeout  = 10 * time.Second
	reconnectBackoff = 2 * time.Second
)

// App centralizes dependency wiring for the relay service.
type App struct {
	cfg *config.Config
	log *zap.Logger

	store     store.Store
	redis     *redis.Client
	limiter   ratelimit.Limiter
	publisher events.Publisher
	notifier  notify.Notifier
	relay     *relay.Relay
	subs      *subscription.Service

	bot    *bot.Engine
	client *client.Engine
}

// New opens every backend named by cfg. Whatever was opened is closed again
// when a later step fails.
func New(cfg *config.Config, log *zap.Logger) (_ *App, err error) {
	a := &App{cfg: cfg, log: log, publisher: events.Nop{}, notifier: notify.Nop{}}
	defer func() {
		if err != nil {
			a.cleanup()
		}
	}()

	if a.store, err = OpenStore(cfg.Store, log.Named("store")); err != nil {
		return nil, err
	}
	if cfg.RateLimit.Backend == "redis" {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}
	a.limiter = NewLimiter(cfg.RateLimit, cfg.Redis.KeyPrefix, a.redis)

	if len(cfg.Kafka.Brokers) > 0 {
		a.publisher = events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
	}
	if cfg.TelegramBot.Token != "" && cfg.TelegramBot.AdminChatID != 0 {
		admin, nerr := notify.NewAdmin(cfg.TelegramBot.Token, cfg.TelegramBot.AdminChatID, log.Named("notify"))
		if nerr != nil {
			log.Warn("Admin notices disabled", zap.Error(nerr))
		} else {
			a.notifier = admin
		}
	}

	parser := basedping.NewBasedPing(cfg.Leader.Username,
		basedping.WithMarkers(cfg.Leader.Marker, cfg.Leader.StartMarker, cfg.Leader.EndMarker))
	fanout := broadcaster.New(a.store, cfg.Leader.ReferralScope, log.Named("broadcaster"),
		broadcaster.WithConcurrency(cfg.Broadcast.Concurrency))
	a.relay = relay.New(parser, cfg.Leader.Secret, cfg.Leader.ReferralScope, fanout, log.Named("relay"),
		relay.WithNotifier(a.notifier),
		relay.WithPublisher(a.publisher),
		relay.WithTimeout(cfg.Broadcast.Timeout),
	)
	a.subs = subscription.NewService(a.store, cfg.Leader.ReferralScope, cfg.Leader.DefaultRisk)

	if cfg.TelegramBot.Enabled {
		a.bot, err = bot.New(bot.Options{
			Token:         cfg.TelegramBot.Token,
			Mode:          cfg.TelegramBot.Mode,
			WebhookURL:    cfg.TelegramBot.WebhookURL,
			WebhookSecret: cfg.TelegramBot.WebhookSecret,
			SendRate:      cfg.TelegramBot.SendRate,
			SendBurst:     cfg.TelegramBot.SendBurst,
		}, a.relay, log.Named("bot"))
		if err != nil {
			return nil, err
		}
		a.bot.SetCommands(bot.NewCommands(a.subs, a.bot, log.Named("commands")))
	}
	if cfg.TelegramClient.Enabled {
		a.client = &client.Engine{
			Phone:       cfg.TelegramClient.Phone,
			AppID:       cfg.TelegramClient.AppID,
			AppHash:     cfg.TelegramClient.AppHash,
			Password:    cfg.TelegramClient.Password,
			SessionPath: cfg.TelegramClient.SessionPath,
			ChannelIDs:  cfg.TelegramClient.ChannelIDs,
			Intake:      a.relay,
			Log:         log.Named("client"),
		}
	}
	return a, nil
}

// Run starts the HTTP server and the enabled chat transports and blocks until
// ctx is canceled or one of them fails. In-flight broadcasts are drained
// before it returns.
func (a *App) Run(ctx context.Context) error {
	defer a.cleanup()

	if a.cfg.Profiling.Enabled {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: a.cfg.Profiling.ApplicationName,
			ServerAddress:   a.cfg.Profiling.ServerAddress,
			Logger:          a.log.Named("pyroscope").Sugar(),
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocObjects,
				pyroscope.ProfileAllocSpace,
				pyroscope.ProfileInuseObjects,
				pyroscope.ProfileInuseSpace,
			},
		})
		if err != nil {
			a.log.Warn("Profiler not started", zap.Error(err))
		} else {
			defer func() { _ = profiler.Stop() }()
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.runHTTPServer(gctx)
	})
	if a.bot != nil {
		g.Go(func() error {
			return a.bot.Run(gctx)
		})
	}
	if a.client != nil {
		g.Go(func() error {
			a.runClient(gctx)
			return nil
		})
	}

	if err := a.notifier.Notify(ctx, notify.Started(a.cfg.Leader.ReferralScope, a.cfg.Leader.Username)); err != nil {
		a.log.Warn("Startup notice failed", zap.Error(err))
	}
	a.log.Info("Relay started",
		zap.String("scope", a.cfg.Leader.ReferralScope),
		zap.String("leader", a.cfg.Leader.Username),
		zap.String("store", a.cfg.Store.Driver),
	)

	err := g.Wait()

	drainCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if werr := a.relay.Wait(drainCtx); werr != nil {
		a.log.Warn("Broadcasts still running at shutdown", zap.Error(werr))
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (a *App) runHTTPServer(ctx context.Context) error {
	opts := api.Options{Addr: a.cfg.HTTP.Addr, BasePath: a.cfg.HTTP.BasePath}
	if a.bot != nil && a.cfg.TelegramBot.Mode == bot.ModeWebhook {
		opts.Webhook = a.bot.WebhookHandler()
	}
	_, srv := api.NewServer(opts, api.NewService(a.store), a.limiter, a.log.Named("api"))

	serverErr := make(chan error, 1)
	go func() {
		a.log.Info("HTTP server started", zap.String("addr", srv.Addr))
		serverErr <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "http server shutdown")
		}
		if err := <-serverErr; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return ctx.Err()
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "http server")
		}
		return nil
	}
}

// runClient keeps the MTProto session alive, reconnecting after failures.
func (a *App) runClient(ctx context.Context) {
	for {
		err := a.client.Run(ctx)
		if ctx.Err() != nil {
			return
		}
		a.log.Error("MTProto client stopped, reconnecting", zap.Error(err))
		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectBackoff):
		}
	}
}

func (a *App) cleanup() {
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.log.Warn("Error closing Kafka publisher", zap.Error(err))
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.Warn("Error closing Redis client", zap.Error(err))
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("Error closing store", zap.Error(err))
		}
	}
}
