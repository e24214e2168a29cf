// Package config loads settings from an optional YAML file, a .env file and the environment.
// Environment variables take precedence over the file.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration values for the controller and worker binaries.
type Config struct {
	// Database connection string. Not required when StoreDriver is "memory".
	DatabaseURL string
	StoreDriver string
	DB          DBConfig

	// HTTP server port for the controller
	HTTPPort int
	LogLevel string

	Queue      QueueConfig
	PubSub     PubSubConfig
	Redis      RedisConfig
	Worker     WorkerConfig
	Sweeper    SweeperConfig
	Generation GenerationConfig
	Webhook    WebhookConfig

	// ClaimStaleAfter is how long a processing claim is honoured without a heartbeat.
	ClaimStaleAfter time.Duration

	OTELEndpoint   string
	TracingEnabled bool
}

type DBConfig struct {
	MaxConns         int32
	MinConns         int32
	MaxConnLifetime  time.Duration
	DialTimeout      time.Duration
	StatementTimeout time.Duration
}

type QueueConfig struct {
	Driver            string
	VisibilityTimeout time.Duration
}

type PubSubConfig struct {
	ProjectID       string
	Topic           string
	Subscription    string
	CredentialsJSON string
}

type RedisConfig struct {
	// Address enables the sweeper leader lock. Empty means a single sweeper is assumed.
	Address  string
	Password string
	DB       int
}

type WorkerConfig struct {
	ID                string
	Concurrency       int
	PollInterval      time.Duration
	MaxBackoff        time.Duration
	HeartbeatInterval time.Duration
	MaxAttempts       int
	MetricsPort       int
}

type SweeperConfig struct {
	Interval        time.Duration
	RedispatchAfter time.Duration
	ReconcileGrace  time.Duration
	BatchSize       int
}

type GenerationConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	Timeout     time.Duration
	RateLimit   float64
	Burst       int
}

type WebhookConfig struct {
	Timeout     time.Duration
	Concurrency int
}

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
	DriverPubSub   = "pubsub"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("store_driver", DriverPostgres)
	v.SetDefault("db.max_conns", 10)
	v.SetDefault("db.min_conns", 1)
	v.SetDefault("db.max_conn_lifetime", 30*time.Minute)
	v.SetDefault("db.dial_timeout", 5*time.Second)
	v.SetDefault("db.statement_timeout", 30*time.Second)

	v.SetDefault("port", 8080)
	v.SetDefault("log_level", "info")

	v.SetDefault("queue.driver", DriverPostgres)
	v.SetDefault("queue.visibility_timeout", 5*time.Minute)
	v.SetDefault("pubsub.topic", "page-dispatch")
	v.SetDefault("pubsub.subscription", "page-dispatch-workers")
	v.SetDefault("redis.db", 0)

	v.SetDefault("worker.concurrency", 4)
	v.SetDefault("worker.poll_interval", time.Second)
	v.SetDefault("worker.max_backoff", 30*time.Second)
	v.SetDefault("worker.heartbeat_interval", time.Minute)
	v.SetDefault("worker.max_attempts", 5)
	v.SetDefault("worker.metrics_port", 8081)

	v.SetDefault("claim.stale_after", 10*time.Minute)

	v.SetDefault("sweeper.interval", time.Minute)
	v.SetDefault("sweeper.redispatch_after", 5*time.Minute)
	v.SetDefault("sweeper.reconcile_grace", 10*time.Minute)
	v.SetDefault("sweeper.batch_size", 200)

	v.SetDefault("generation.base_url", "https://api.openai.com/v1")
	v.SetDefault("generation.model", "gpt-4o-mini")
	v.SetDefault("generation.temperature", 0.7)
	v.SetDefault("generation.timeout", 2*time.Minute)
	v.SetDefault("generation.rate_limit", 5.0)
	v.SetDefault("generation.burst", 5)

	v.SetDefault("webhook.timeout", 10*time.Second)
	v.SetDefault("webhook.concurrency", 4)

	v.SetDefault("otel_endpoint", "localhost:4317")
	v.SetDefault("tracing_enabled", false)
}

func bindEnv(v *viper.Viper) {
	// Well-known names without the PAGEGEN_ prefix.
	v.BindEnv("database_url", "DATABASE_URL")
	v.BindEnv("port", "PORT")
	v.BindEnv("pubsub.project_id", "PUBSUB_PROJECT_ID")
	v.BindEnv("pubsub.credentials_json", "PUBSUB_CREDENTIALS_JSON")
	v.BindEnv("redis.address", "REDIS_ADDRESS")
	v.BindEnv("redis.password", "REDIS_PASSWORD")
	v.BindEnv("generation.api_key", "GENERATION_API_KEY", "OPENAI_API_KEY")
	v.BindEnv("otel_endpoint", "OTEL_EXPORTER_OTLP_ENDPOINT")

	// Everything else as PAGEGEN_<KEY>, e.g. PAGEGEN_WORKER_CONCURRENCY.
	v.SetEnvPrefix("PAGEGEN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Load reads configuration. path may be empty, in which case only the
// environment (and a .env file in the working directory, if present) is used.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	bindEnv(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{
		DatabaseURL: v.GetString("database_url"),
		StoreDriver: v.GetString("store_driver"),
		DB: DBConfig{
			MaxConns:         v.GetInt32("db.max_conns"),
			MinConns:         v.GetInt32("db.min_conns"),
			MaxConnLifetime:  v.GetDuration("db.max_conn_lifetime"),
			DialTimeout:      v.GetDuration("db.dial_timeout"),
			StatementTimeout: v.GetDuration("db.statement_timeout"),
		},
		HTTPPort: v.GetInt("port"),
		LogLevel: v.GetString("log_level"),
		Queue: QueueConfig{
			Driver:            v.GetString("queue.driver"),
			VisibilityTimeout: v.GetDuration("queue.visibility_timeout"),
		},
		PubSub: PubSubConfig{
			ProjectID:       v.GetString("pubsub.project_id"),
			Topic:           v.GetString("pubsub.topic"),
			Subscription:    v.GetString("pubsub.subscription"),
			CredentialsJSON: v.GetString("pubsub.credentials_json"),
		},
		Redis: RedisConfig{
			Address:  v.GetString("redis.address"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Worker: WorkerConfig{
			ID:                v.GetString("worker.id"),
			Concurrency:       v.GetInt("worker.concurrency"),
			PollInterval:      v.GetDuration("worker.poll_interval"),
			MaxBackoff:        v.GetDuration("worker.max_backoff"),
			HeartbeatInterval: v.GetDuration("worker.heartbeat_interval"),
			MaxAttempts:       v.GetInt("worker.max_attempts"),
			MetricsPort:       v.GetInt("worker.metrics_port"),
		},
		Sweeper: SweeperConfig{
			Interval:        v.GetDuration("sweeper.interval"),
			RedispatchAfter: v.GetDuration("sweeper.redispatch_after"),
			ReconcileGrace:  v.GetDuration("sweeper.reconcile_grace"),
			BatchSize:       v.GetInt("sweeper.batch_size"),
		},
		Generation: GenerationConfig{
			BaseURL:     v.GetString("generation.base_url"),
			APIKey:      v.GetString("generation.api_key"),
			Model:       v.GetString("generation.model"),
			Temperature: v.GetFloat64("generation.temperature"),
			Timeout:     v.GetDuration("generation.timeout"),
			RateLimit:   v.GetFloat64("generation.rate_limit"),
			Burst:       v.GetInt("generation.burst"),
		},
		Webhook: WebhookConfig{
			Timeout:     v.GetDuration("webhook.timeout"),
			Concurrency: v.GetInt("webhook.concurrency"),
		},
		ClaimStaleAfter: v.GetDuration("claim.stale_after"),
		OTELEndpoint:    v.GetString("otel_endpoint"),
		TracingEnabled:  v.GetBool("tracing_enabled"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.StoreDriver {
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return errors.New("database_url is required (env: DATABASE_URL)")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("invalid store_driver %q (postgres, memory)", c.StoreDriver)
	}

	switch c.Queue.Driver {
	case DriverPostgres:
		if c.StoreDriver != DriverPostgres {
			return errors.New("queue.driver postgres requires store_driver postgres")
		}
	case DriverPubSub:
		if c.PubSub.ProjectID == "" {
			return errors.New("pubsub.project_id is required (env: PUBSUB_PROJECT_ID)")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("invalid queue.driver %q (postgres, pubsub, memory)", c.Queue.Driver)
	}

	if c.Worker.Concurrency < 1 {
		return fmt.Errorf("worker.concurrency must be at least 1, got %d", c.Worker.Concurrency)
	}
	if c.Worker.MaxAttempts < 1 {
		return fmt.Errorf("worker.max_attempts must be at least 1, got %d", c.Worker.MaxAttempts)
	}
	if c.Worker.HeartbeatInterval >= c.ClaimStaleAfter {
		return fmt.Errorf("worker.heartbeat_interval (%s) must be shorter than claim.stale_after (%s)",
			c.Worker.HeartbeatInterval, c.ClaimStaleAfter)
	}
	return nil
}
