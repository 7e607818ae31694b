// Package config loads the service configuration from defaults, an optional
// YAML file, a .env file, NOTICE_* environment variables and flags, in that
// order of increasing priority.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const EnvPrefix = "NOTICE"

type Config struct {
	Service  ServiceConfig  `mapstructure:"service"`
	Log      LogConfig      `mapstructure:"log"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Delivery DeliveryConfig `mapstructure:"delivery"`
	Store    StoreConfig    `mapstructure:"store"`
	Push     PushConfig     `mapstructure:"push"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Observer ObserverConfig `mapstructure:"observer"`
	Tracing  TracingConfig  `mapstructure:"tracing"`

	v        *viper.Viper
	watchMu  sync.Mutex
	watchers []func(*Config)
}

type ServiceConfig struct {
	ID string `mapstructure:"id" validate:"required"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=json text"`
}

type HTTPConfig struct {
	Addr              string        `mapstructure:"addr" validate:"required"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" validate:"gt=0"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
	PollTimeout       time.Duration `mapstructure:"poll_timeout" validate:"gt=0"`
	AllowedOrigins    []string      `mapstructure:"allowed_origins"`
}

// DeliveryConfig tunes live sessions and the receipt ledger.
type DeliveryConfig struct {
	SendBuffer        int           `mapstructure:"send_buffer" validate:"gt=0"`
	SendTimeout       time.Duration `mapstructure:"send_timeout" validate:"gt=0"`
	// ConfirmTimeout bounds how long a live send waits for the transport to
	// write the frame before it counts as failed.
	ConfirmTimeout    time.Duration `mapstructure:"confirm_timeout" validate:"gt=0"`
	NotifyBuffer      int           `mapstructure:"notify_buffer" validate:"gt=0"`
	PingInterval      time.Duration `mapstructure:"ping_interval" validate:"gt=0"`
	PongWait          time.Duration `mapstructure:"pong_wait" validate:"gtfield=PingInterval"`
	WriteWait         time.Duration `mapstructure:"write_wait" validate:"gt=0"`
	MaxMessageSize    int64         `mapstructure:"max_message_size" validate:"gt=0"`
	AckCacheSize      int           `mapstructure:"ack_cache_size" validate:"gt=0"`
	HistoryLimit      int           `mapstructure:"history_limit" validate:"gt=0"`
	AdminHistoryLimit int           `mapstructure:"admin_history_limit" validate:"gt=0"`
}

type StoreConfig struct {
	Driver      string `mapstructure:"driver" validate:"oneof=badger postgres"`
	BadgerPath  string `mapstructure:"badger_path" validate:"required_if=Driver badger InMemory false"`
	InMemory    bool   `mapstructure:"in_memory"`
	PostgresDSN string `mapstructure:"postgres_dsn" validate:"required_if=Driver postgres"`
	LogSQL      bool   `mapstructure:"log_sql"`
	MaxOpen     int    `mapstructure:"max_open" validate:"gte=0"`
}

type PushConfig struct {
	// Provider is "firebase" or "none"; with "none" every push call fails fast
	// and the live path keeps working.
	Provider        string        `mapstructure:"provider" validate:"oneof=firebase none"`
	ProjectID       string        `mapstructure:"project_id"`
	CredentialsFile string        `mapstructure:"credentials_file"`
	CredentialsJSON string        `mapstructure:"credentials_json"`
	CallTimeout     time.Duration `mapstructure:"call_timeout" validate:"gt=0"`
	Budget          time.Duration `mapstructure:"budget" validate:"gtefield=CallTimeout"`
	RatePerSecond   float64       `mapstructure:"rate_per_second" validate:"gt=0"`
	Burst           int           `mapstructure:"burst" validate:"gt=0"`
	BreakerFailures uint32        `mapstructure:"breaker_failures" validate:"gt=0"`
	BreakerTimeout  time.Duration `mapstructure:"breaker_timeout" validate:"gt=0"`
}

type PubSubConfig struct {
	// AMQPURL selects RabbitMQ; empty keeps the bus in process.
	AMQPURL     string `mapstructure:"amqp_url"`
	QueueSuffix string `mapstructure:"queue_suffix" validate:"required"`
}

type ObserverConfig struct {
	RefreshInterval time.Duration `mapstructure:"refresh_interval" validate:"gt=0"`
}

type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	SampleRatio float64 `mapstructure:"sample_ratio" validate:"gte=0,lte=1"`
	// Exporter is "otlp" (HTTP) or "stdout".
	Exporter    string  `mapstructure:"exporter" validate:"oneof=otlp stdout"`
	// Endpoint is the OTLP collector URL; empty falls back to the
	// OTEL_EXPORTER_OTLP_* variables.
	Endpoint    string  `mapstructure:"endpoint" validate:"omitempty,url"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service.id", "notice-delivery-1")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.read_header_timeout", 5*time.Second)
	v.SetDefault("http.shutdown_timeout", 10*time.Second)
	v.SetDefault("http.poll_timeout", 30*time.Second)
	v.SetDefault("http.allowed_origins", []string{})

	v.SetDefault("delivery.send_buffer", 64)
	v.SetDefault("delivery.send_timeout", 2*time.Second)
	v.SetDefault("delivery.confirm_timeout", 5*time.Second)
	v.SetDefault("delivery.notify_buffer", 256)
	v.SetDefault("delivery.ping_interval", 25*time.Second)
	v.SetDefault("delivery.pong_wait", 60*time.Second)
	v.SetDefault("delivery.write_wait", 10*time.Second)
	v.SetDefault("delivery.max_message_size", 64*1024)
	v.SetDefault("delivery.ack_cache_size", 4096)
	v.SetDefault("delivery.history_limit", 200)
	v.SetDefault("delivery.admin_history_limit", 500)

	v.SetDefault("store.driver", "badger")
	v.SetDefault("store.badger_path", "./data")
	v.SetDefault("store.in_memory", false)
	v.SetDefault("store.postgres_dsn", "")
	v.SetDefault("store.log_sql", false)
	v.SetDefault("store.max_open", 0)

	v.SetDefault("push.provider", "none")
	v.SetDefault("push.project_id", "")
	v.SetDefault("push.credentials_file", "")
	v.SetDefault("push.credentials_json", "")
	v.SetDefault("push.call_timeout", 5*time.Second)
	v.SetDefault("push.budget", 15*time.Second)
	v.SetDefault("push.rate_per_second", 50.0)
	v.SetDefault("push.burst", 10)
	v.SetDefault("push.breaker_failures", 5)
	v.SetDefault("push.breaker_timeout", 30*time.Second)

	v.SetDefault("pubsub.amqp_url", "")
	v.SetDefault("pubsub.queue_suffix", "notice-delivery")

	v.SetDefault("observer.refresh_interval", 30*time.Second)

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.sample_ratio", 1.0)
	v.SetDefault("tracing.exporter", "otlp")
	v.SetDefault("tracing.endpoint", "")
}

// Flags returns the command-line overrides understood by LoadConfig.
func Flags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("config", pflag.ContinueOnError)
	fs.ParseErrorsWhitelist.UnknownFlags = true
	fs.String("http.addr", "", "HTTP listen address")
	fs.String("log.level", "", "log level: debug, info, warn, error")
	fs.String("store.driver", "", "storage driver: badger or postgres")
	fs.String("store.badger_path", "", "badger data directory")
	fs.String("push.provider", "", "push provider: firebase or none")
	fs.String("pubsub.amqp_url", "", "AMQP broker URL; empty keeps the bus in process")
	return fs
}

// LoadConfig builds the configuration. configFile may be empty; args are
// parsed against Flags and only explicitly set flags override other sources.
func LoadConfig(configFile string, args []string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configFile, err)
		}
	}

	flags := Flags()
	if err := flags.Parse(args); err != nil {
		return nil, fmt.Errorf("parse flags: %w", err)
	}
	var bindErr error
	flags.VisitAll(func(f *pflag.Flag) {
		if f.Changed && bindErr == nil {
			bindErr = v.BindPFlag(f.Name, f)
		}
	})
	if bindErr != nil {
		return nil, fmt.Errorf("bind flags: %w", bindErr)
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	cfg.v = v
	return cfg, nil
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// OnReload registers fn to receive the freshly decoded configuration whenever
// the config file changes. Invalid edits are ignored. Without a config file
// this is a no-op.
func (c *Config) OnReload(fn func(*Config)) {
	if c.v == nil || c.v.ConfigFileUsed() == "" {
		return
	}

	c.watchMu.Lock()
	defer c.watchMu.Unlock()

	c.watchers = append(c.watchers, fn)
	if len(c.watchers) > 1 {
		return
	}

	c.v.OnConfigChange(func(fsnotify.Event) {
		next, err := decode(c.v)
		if err != nil {
			return
		}
		c.watchMu.Lock()
		watchers := append([]func(*Config){}, c.watchers...)
		c.watchMu.Unlock()
		for _, w := range watchers {
			w(next)
		}
	})
	c.v.WatchConfig()
}
