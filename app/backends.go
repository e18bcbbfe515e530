package app

import (
	"strconv"

	"github.com/go-faster/errors"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/moneyscripter/copytrade/config"
	"github.com/moneyscripter/copytrade/models"
	"github.com/moneyscripter/copytrade/ratelimit"
	"github.com/moneyscripter/copytrade/store"
	"github.com/moneyscripter/copytrade/store/boltstore"
	"github.com/moneyscripter/copytrade/store/pebblestore"
	"github.com/moneyscripter/copytrade/store/sqlstore"
)

// OpenStore opens the backend named by cfg.Driver. Schemas and buckets are
// created on open.
func OpenStore(cfg config.Store, log *zap.Logger) (store.Store, error) {
	var (
		st  store.Store
		err error
	)
	// Assigned per case so a failed open never yields a typed nil.
	switch cfg.Driver {
	case "bolt":
		var s *boltstore.Store
		if s, err = boltstore.Open(cfg.Path); err == nil {
			st = s
		}
	case "pebble":
		var s *pebblestore.Store
		if s, err = pebblestore.Open(cfg.Path); err == nil {
			st = s
		}
	case sqlstore.DriverPostgres, sqlstore.DriverMySQL:
		var s *sqlstore.Store
		if s, err = sqlstore.Open(cfg.Driver, DSN(cfg), sqlstore.WithLogger(log)); err == nil {
			st = s
		}
	default:
		return nil, errors.Wrapf(models.ErrValidation, "unknown store driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	return st, nil
}

// DSN returns cfg.DSN or builds one from the discrete connection fields.
func DSN(cfg config.Store) string {
	if cfg.DSN != "" {
		return cfg.DSN
	}
	if cfg.Driver == sqlstore.DriverMySQL {
		opt := sqlstore.MySQLOption{
			Host:     cfg.Host,
			User:     cfg.User,
			Password: cfg.Password,
			Database: cfg.Database,
		}
		if cfg.Port != 0 {
			opt.Port = strconv.Itoa(cfg.Port)
		}
		return opt.DSN()
	}
	return sqlstore.PostgresOption{
		Host:     cfg.Host,
		Port:     cfg.Port,
		User:     cfg.User,
		Password: cfg.Password,
		Database: cfg.Database,
		SSLMode:  cfg.SSLMode,
	}.DSN()
}

// NewLimiter picks the shared Redis table when a client is given and the
// in-process table otherwise.
func NewLimiter(cfg config.RateLimit, prefix string, client *redis.Client) ratelimit.Limiter {
	if cfg.Backend == "redis" && client != nil {
		return ratelimit.NewRedis(client, prefix, cfg.Limit, cfg.Window)
	}
	return ratelimit.NewMemory(cfg.Limit, cfg.Window, ratelimit.WithMaxKeys(cfg.MaxKeys))
}
