// Package config reads settings from an optional omnic.yml, a .env file and
// OMNIC_ prefixed environment variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"omnic/internal/log"
	"omnic/internal/poller"
)

const envPrefix = "omnic"

var (
	ErrReadConfig    = errors.New("failed to read config file")
	ErrDecodeConfig  = errors.New("invalid config format")
	ErrMissingValue  = errors.New("missing required config value")
	ErrUnknownSink   = errors.New("unknown sink backend")
	ErrInvalidConfig = errors.New("invalid config value")
)

// Sink backend names accepted in sink.backends
const (
	SinkPostgres  = "postgres"
	SinkSQLite    = "sqlite"
	SinkArchive   = "archive"
	SinkKafka     = "kafka"
	SinkNATS      = "nats"
	SinkWebsocket = "websocket"
)

var sinkBackends = []string{SinkPostgres, SinkSQLite, SinkArchive, SinkKafka, SinkNATS, SinkWebsocket}

type Config struct {
	General  General    `mapstructure:"general"`
	PUBG     PUBG       `mapstructure:"pubg"`
	Poller   Poller     `mapstructure:"poller"`
	Sink     Sink       `mapstructure:"sink"`
	Database Database   `mapstructure:"database"`
	SQLite   SQLite     `mapstructure:"sqlite"`
	Archive  Archive    `mapstructure:"archive"`
	Kafka    Kafka      `mapstructure:"kafka"`
	NATS     NATS       `mapstructure:"nats"`
	Redis    Redis      `mapstructure:"redis"`
	Discord  Discord    `mapstructure:"discord"`
	Twitch   Twitch     `mapstructure:"twitch"`
	HTTP     HTTP       `mapstructure:"http"`
	Logging  log.Config `mapstructure:"logging"`
}

type General struct {
	// Subject is the tracked player's in-game name
	Subject   string   `mapstructure:"subject"`
	TriggerID string   `mapstructure:"trigger_id"`
	Shards    []string `mapstructure:"shards"`
}

type PUBG struct {
	APIKey            string        `mapstructure:"api_key"`
	BaseURL           string        `mapstructure:"base_url"`
	RequestsPerMinute int           `mapstructure:"requests_per_minute"`
	Timeout           time.Duration `mapstructure:"timeout"`
}

type Poller struct {
	RequestDelay        time.Duration `mapstructure:"request_delay"`
	MaxBackoff          time.Duration `mapstructure:"max_backoff"`
	NotifyTimeout       time.Duration `mapstructure:"notify_timeout"`
	FilterCapacity      uint          `mapstructure:"filter_capacity"`
	FilterFalsePositive float64       `mapstructure:"filter_false_positive"`
	// AutoStart begins polling at boot without waiting for the stream webhook
	AutoStart bool `mapstructure:"auto_start"`
}

type Sink struct {
	Backends []string `mapstructure:"backends"`
}

type Database struct {
	DSN         string `mapstructure:"dsn"`
	AutoMigrate bool   `mapstructure:"auto_migrate"`
	LogQueries  bool   `mapstructure:"log_queries"`
	MaxConns    int32  `mapstructure:"max_conns"`
}

type SQLite struct {
	Path string `mapstructure:"path"`
}

type Archive struct {
	Dir               string        `mapstructure:"dir"`
	MaxResultsPerFile int           `mapstructure:"max_results_per_file"`
	MaxFileAge        time.Duration `mapstructure:"max_file_age"`
	Compress          bool          `mapstructure:"compress"`
}

type Kafka struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type NATS struct {
	URL     string `mapstructure:"url"`
	Subject string `mapstructure:"subject"`
}

type Redis struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type Discord struct {
	WebhookURL string `mapstructure:"webhook_url"`
	// MuteIngested suppresses the per-match notification
	MuteIngested bool `mapstructure:"mute_ingested"`
}

type Twitch struct {
	Enabled     bool          `mapstructure:"enabled"`
	ClientID    string        `mapstructure:"client_id"`
	Login       string        `mapstructure:"login"`
	CallbackURL string        `mapstructure:"callback_url"`
	BaseURL     string        `mapstructure:"base_url"`
	Lease       time.Duration `mapstructure:"lease"`
	// Secret signs stream notifications; unsigned ones are rejected when set
	Secret string `mapstructure:"secret"`
}

type HTTP struct {
	Enabled bool   `mapstructure:"enabled"`
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
	// Token protects the /api routes when set
	Token string `mapstructure:"token"`
	Mode  string `mapstructure:"mode"`
}

// Addr is the listen address
func (h HTTP) Addr() string {
	return fmt.Sprintf("%s:%d", h.Host, h.Port)
}

// Enabled reports whether the named sink backend is configured
func (c Config) Enabled(backend string) bool {
	return slices.Contains(c.Sink.Backends, backend)
}

// PollerConfig maps the settings onto the tracker configuration
func (c Config) PollerConfig() poller.Config {
	conf := poller.DefaultConfig()
	conf.Subject = c.General.Subject
	if c.General.TriggerID != "" {
		conf.TriggerID = c.General.TriggerID
	}
	if len(c.General.Shards) > 0 {
		conf.Shards = slices.Clone(c.General.Shards)
	}
	if c.Poller.RequestDelay > 0 {
		conf.RequestDelay = c.Poller.RequestDelay
	}
	if c.Poller.MaxBackoff > 0 {
		conf.MaxBackoff = c.Poller.MaxBackoff
	}
	if c.Poller.NotifyTimeout > 0 {
		conf.NotifyTimeout = c.Poller.NotifyTimeout
	}
	if c.Poller.FilterCapacity > 0 {
		conf.FilterCapacity = c.Poller.FilterCapacity
	}
	if c.Poller.FilterFalsePositive > 0 {
		conf.FilterFalsePositive = c.Poller.FilterFalsePositive
	}
	return conf
}

// Validate checks the settings needed to run the tracker
func (c Config) Validate() error {
	var errs []error

	if c.General.Subject == "" {
		errs = append(errs, fmt.Errorf("%w: general.subject", ErrMissingValue))
	}
	if c.PUBG.APIKey == "" {
		errs = append(errs, fmt.Errorf("%w: pubg.api_key", ErrMissingValue))
	}
	if c.PUBG.RequestsPerMinute < 0 {
		errs = append(errs, fmt.Errorf("%w: pubg.requests_per_minute must not be negative", ErrInvalidConfig))
	}
	if c.Poller.FilterFalsePositive < 0 || c.Poller.FilterFalsePositive >= 1 {
		errs = append(errs, fmt.Errorf("%w: poller.filter_false_positive must be in [0, 1)", ErrInvalidConfig))
	}

	for _, backend := range c.Sink.Backends {
		if !slices.Contains(sinkBackends, backend) {
			errs = append(errs, fmt.Errorf("%w: %s", ErrUnknownSink, backend))
		}
	}
	if c.Enabled(SinkPostgres) && c.Database.DSN == "" {
		errs = append(errs, fmt.Errorf("%w: database.dsn", ErrMissingValue))
	}
	if c.Enabled(SinkKafka) && len(c.Kafka.Brokers) == 0 {
		errs = append(errs, fmt.Errorf("%w: kafka.brokers", ErrMissingValue))
	}
	if c.Enabled(SinkNATS) && c.NATS.URL == "" {
		errs = append(errs, fmt.Errorf("%w: nats.url", ErrMissingValue))
	}
	if c.HTTP.Enabled && !slices.Contains([]string{"debug", "release", "test"}, c.HTTP.Mode) {
		errs = append(errs, fmt.Errorf("%w: http.mode must be debug, release or test", ErrInvalidConfig))
	}
	if c.Enabled(SinkWebsocket) && !c.HTTP.Enabled {
		errs = append(errs, fmt.Errorf("%w: the websocket sink needs http.enabled", ErrInvalidConfig))
	}
	if c.Twitch.Enabled {
		if c.Twitch.ClientID == "" {
			errs = append(errs, fmt.Errorf("%w: twitch.client_id", ErrMissingValue))
		}
		if c.Twitch.CallbackURL == "" {
			errs = append(errs, fmt.Errorf("%w: twitch.callback_url", ErrMissingValue))
		}
	}

	return errors.Join(errs...)
}

// LoadDotEnv loads the first .env file found
func LoadDotEnv() {
	for _, path := range []string{".env", "../.env"} {
		if err := godotenv.Load(path); err == nil {
			slog.Debug("Loaded .env", slog.String("path", path))
			return
		}
	}
}

func setDefaults(v *viper.Viper) {
	defaults := map[string]any{
		"general.subject":              "",
		"general.trigger_id":           poller.DefaultTriggerID,
		"general.shards":               poller.DefaultShards(),
		"pubg.api_key":                 "",
		"pubg.base_url":                "https://api.pubg.com",
		"pubg.requests_per_minute":     10,
		"pubg.timeout":                 "30s",
		"poller.request_delay":         "8s",
		"poller.max_backoff":           "10m",
		"poller.notify_timeout":        "10s",
		"poller.filter_capacity":       100000,
		"poller.filter_false_positive": 0.001,
		"poller.auto_start":            false,
		"sink.backends":                []string{SinkSQLite},
		"database.dsn":                 "",
		"database.auto_migrate":        true,
		"database.log_queries":         false,
		"database.max_conns":           4,
		"sqlite.path":                  "omnic.db",
		"archive.dir":                  "data/results",
		"archive.max_results_per_file": 500,
		"archive.max_file_age":         "24h",
		"archive.compress":             true,
		"kafka.brokers":                []string{},
		"kafka.topic":                  "omnic.results",
		"nats.url":                     "",
		"nats.subject":                 "omnic.results",
		"redis.enabled":                false,
		"redis.addr":                   "localhost:6379",
		"redis.password":               "",
		"redis.db":                     0,
		"discord.webhook_url":          "",
		"discord.mute_ingested":        false,
		"twitch.enabled":               false,
		"twitch.client_id":             "",
		"twitch.login":                 "",
		"twitch.callback_url":          "",
		"twitch.base_url":              "https://api.twitch.tv",
		"twitch.lease":                 "24h",
		"twitch.secret":                "",
		"http.enabled":                 true,
		"http.host":                    "127.0.0.1",
		"http.port":                    8008,
		"http.token":                   "",
		"http.mode":                    "release",
		"logging.level":                string(log.Info),
		"logging.file":                 "",
		"logging.http_enabled":         false,
		"logging.http_level":           string(log.Debug),
	}

	for configKey, value := range defaults {
		v.SetDefault(configKey, value)
	}
}

// Read loads the configuration. An empty path searches the working directory
// for omnic.yml and tolerates its absence; an explicit path must exist.
func Read(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// older deployments named the player with PUBG_NAME
	_ = v.BindEnv("general.subject", "OMNIC_GENERAL_SUBJECT", "OMNIC_PUBG_NAME")

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("omnic")
		v.SetConfigType("yml")
	}

	if errRead := v.ReadInConfig(); errRead != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(errRead, &notFound) {
			return Config{}, errors.Join(errRead, ErrReadConfig)
		}
	} else {
		slog.Debug("Using config file", slog.String("path", v.ConfigFileUsed()))
	}

	return decode(v.AllSettings())
}

func decode(settings map[string]any) (Config, error) {
	var conf Config

	decoder, errDecoder := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
		WeaklyTypedInput: true,
		Result:           &conf,
	})
	if errDecoder != nil {
		return Config{}, errors.Join(errDecoder, ErrDecodeConfig)
	}

	if errDecode := decoder.Decode(settings); errDecode != nil {
		return Config{}, errors.Join(errDecode, ErrDecodeConfig)
	}

	return conf, nil
}
