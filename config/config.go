package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/moneyscripter/copytrade/channels/basedping"
	"github.com/moneyscripter/copytrade/models"
	"github.com/moneyscripter/copytrade/risk"
)

var AppConfig *Config // global app config

type Config struct {
	TelegramBot    TelegramBot    `mapstructure:"telegram_bot"`
	TelegramClient TelegramClient `mapstructure:"telegram_client"`
	Leader         Leader         `mapstructure:"leader"`
	HTTP           HTTP           `mapstructure:"http"`
	Store          Store          `mapstructure:"store"`
	RateLimit      RateLimit      `mapstructure:"rate_limit"`
	Redis          Redis          `mapstructure:"redis"`
	Kafka          Kafka          `mapstructure:"kafka"`
	Broadcast      Broadcast      `mapstructure:"broadcast"`
	Log            Log            `mapstructure:"log"`
	Profiling      Profiling      `mapstructure:"profiling"`
}

type TelegramBot struct {
	Enabled       bool    `mapstructure:"enabled"`
	Token         string  `mapstructure:"token"`
	Mode          string  `mapstructure:"mode"`
	WebhookURL    string  `mapstructure:"webhook_url"`
	WebhookSecret string  `mapstructure:"webhook_secret"`
	AdminChatID   int64   `mapstructure:"admin_chat_id"`
	SendRate      float64 `mapstructure:"send_rate"`
	SendBurst     int     `mapstructure:"send_burst"`
}

type TelegramClient struct {
	Enabled     bool    `mapstructure:"enabled"`
	Phone       string  `mapstructure:"phone"`
	AppID       int     `mapstructure:"app_id"`
	AppHash     string  `mapstructure:"app_hash"`
	Password    string  `mapstructure:"password"`
	SessionPath string  `mapstructure:"session_path"`
	ChannelIDs  []int64 `mapstructure:"channel_ids"`
}

type Leader struct {
	Username      string  `mapstructure:"username"`
	Secret        string  `mapstructure:"secret"`
	ReferralScope string  `mapstructure:"referral_scope"`
	Marker        string  `mapstructure:"marker"`
	StartMarker   string  `mapstructure:"start_marker"`
	EndMarker     string  `mapstructure:"end_marker"`
	DefaultRisk   float64 `mapstructure:"default_risk"`
}

type HTTP struct {
	Addr     string `mapstructure:"addr"`
	BasePath string `mapstructure:"base_path"`
}

type Store struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
	Path   string `mapstructure:"path"`

	// Used to build the DSN for postgres and mysql when dsn is empty.
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"ssl_mode"`
}

type RateLimit struct {
	Backend string        `mapstructure:"backend"`
	Limit   int           `mapstructure:"limit"`
	Window  time.Duration `mapstructure:"window"`
	MaxKeys int           `mapstructure:"max_keys"` // memory backend only
}

type Redis struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

type Kafka struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type Broadcast struct {
	Concurrency int           `mapstructure:"concurrency"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type Log struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

type Profiling struct {
	Enabled         bool   `mapstructure:"enabled"`
	ServerAddress   string `mapstructure:"server_address"`
	ApplicationName string `mapstructure:"application_name"`
}

// defaults also registers every key so AutomaticEnv can override it.
var defaults = map[string]any{
	"telegram_bot.enabled":        true,
	"telegram_bot.token":          "",
	"telegram_bot.mode":           "polling",
	"telegram_bot.webhook_url":    "",
	"telegram_bot.webhook_secret": "",
	"telegram_bot.admin_chat_id":  0,
	"telegram_bot.send_rate":      25.0,
	"telegram_bot.send_burst":     5,

	"telegram_client.enabled":      false,
	"telegram_client.phone":        "",
	"telegram_client.app_id":       0,
	"telegram_client.app_hash":     "",
	"telegram_client.password":     "",
	"telegram_client.session_path": "session.json",
	"telegram_client.channel_ids":  []int64{},

	"leader.username":       basedping.DefaultLeader,
	"leader.secret":         "",
	"leader.referral_scope": "GODSEYE",
	"leader.marker":         basedping.DefaultMarker,
	"leader.start_marker":   basedping.DefaultStartMarker,
	"leader.end_marker":     basedping.DefaultEndMarker,
	"leader.default_risk":   risk.Default,

	"http.addr":      ":3000",
	"http.base_path": "/api",

	"store.driver": "bolt",
	"store.dsn":    "",
	"store.path":   "copytrade.db",

	"store.host":     "",
	"store.port":     0,
	"store.user":     "",
	"store.password": "",
	"store.database": "",
	"store.ssl_mode": "",

	"rate_limit.backend":  "memory",
	"rate_limit.limit":    10,
	"rate_limit.window":   time.Minute,
	"rate_limit.max_keys": 100_000,

	"redis.addr":       "localhost:6379",
	"redis.password":   "",
	"redis.db":         0,
	"redis.key_prefix": "copytrade:ratelimit:",

	"kafka.brokers": []string{},
	"kafka.topic":   "copytrade.broadcasts",

	"broadcast.concurrency": 1,
	"broadcast.timeout":     30 * time.Second,

	"log.level":        "info",
	"log.file":         "",
	"log.max_size_mb":  100,
	"log.max_backups":  3,
	"log.max_age_days": 28,
	"log.compress":     false,

	"profiling.enabled":          false,
	"profiling.server_address":   "http://localhost:4040",
	"profiling.application_name": "copytrade",
}

// legacyEnv are variable names used by earlier deployments.
var legacyEnv = map[string]string{
	"telegram_bot.token": "BOT_TOKEN",
	"leader.secret":      "APP_SECRET",
}

// Load reads .env, the JSON config file and COPYTRADE_* variables. A missing
// config file is not an error unless path names it explicitly.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config") // name of config file (without extension)
	v.SetConfigType("json")
	if path == "" {
		v.AddConfigPath("./app/config")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	} else {
		v.SetConfigFile(path)
	}

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetEnvPrefix("COPYTRADE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range legacyEnv {
		if err := v.BindEnv(key, "COPYTRADE_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env); err != nil {
			return nil, errors.Wrapf(err, "bind %s", env)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, errors.Wrap(err, "read config")
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfig loads the global AppConfig and panics when it is unusable.
func LoadConfig(path string) {
	cfg, err := Load(path)
	if err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}
	AppConfig = cfg
}

func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return errors.Wrapf(models.ErrValidation, "config: "+format, args...)
	}

	if c.Leader.Secret == "" {
		return invalid("leader.secret is required")
	}
	if c.Leader.ReferralScope == "" {
		return invalid("leader.referral_scope is required")
	}
	if err := risk.Validate(c.Leader.DefaultRisk); err != nil {
		return invalid("leader.default_risk: %v", err)
	}

	if c.TelegramBot.Enabled {
		if c.TelegramBot.Token == "" {
			return invalid("telegram_bot.token is required")
		}
		switch c.TelegramBot.Mode {
		case "polling":
		case "webhook":
			if c.TelegramBot.WebhookURL == "" {
				return invalid("telegram_bot.webhook_url is required in webhook mode")
			}
		default:
			return invalid("unknown telegram_bot.mode %q", c.TelegramBot.Mode)
		}
	}
	if c.TelegramClient.Enabled {
		if c.TelegramClient.AppID == 0 || c.TelegramClient.AppHash == "" || c.TelegramClient.Phone == "" {
			return invalid("telegram_client needs app_id, app_hash and phone")
		}
	}

	switch c.Store.Driver {
	case "postgres", "mysql":
		if c.Store.DSN == "" && c.Store.Database == "" {
			return invalid("store.dsn or store.database is required for %s", c.Store.Driver)
		}
	case "bolt", "pebble":
		if c.Store.Path == "" {
			return invalid("store.path is required for %s", c.Store.Driver)
		}
	default:
		return invalid("unknown store.driver %q", c.Store.Driver)
	}

	switch c.RateLimit.Backend {
	case "memory", "redis":
	default:
		return invalid("unknown rate_limit.backend %q", c.RateLimit.Backend)
	}
	return nil
}
