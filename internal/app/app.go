// Package app wires configuration into the stores, queues and agents shared by the binaries.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"pagegen/internal/config"
	"pagegen/internal/finalizer"
	"pagegen/internal/generation"
	"pagegen/internal/generation/openai"
	"pagegen/internal/observability"
	"pagegen/internal/queue"
	"pagegen/internal/queue/pubsub"
	"pagegen/internal/store"
	"pagegen/internal/store/memstore"
	"pagegen/internal/store/postgres"
	"pagegen/internal/webhook"
	"pagegen/internal/worker"

	"github.com/google/uuid"
)

// Store is the Work Item Store plus its lifecycle.
type Store struct {
	store.Store
	// Postgres is set when the store is backed by PostgreSQL.
	Postgres *postgres.Store
	close    func() error
}

func (s *Store) Close() error {
	if s.close == nil {
		return nil
	}
	return s.close()
}

// OpenStore connects the configured store driver. migrate applies pending migrations.
func OpenStore(ctx context.Context, cfg *config.Config, migrate bool, log *slog.Logger) (*Store, error) {
	switch cfg.StoreDriver {
	case config.DriverMemory:
		log.Warn("using in-memory store, state is lost on exit")
		return &Store{Store: memstore.New()}, nil
	case config.DriverPostgres:
		pg, err := postgres.New(ctx, postgres.Config{
			DSN:               cfg.DatabaseURL,
			MaxConns:          cfg.DB.MaxConns,
			MinConns:          cfg.DB.MinConns,
			MaxConnLifetime:   cfg.DB.MaxConnLifetime,
			DialTimeout:       cfg.DB.DialTimeout,
			StatementTimeout:  cfg.DB.StatementTimeout,
			VisibilityTimeout: cfg.Queue.VisibilityTimeout,
		})
		if err != nil {
			return nil, err
		}
		if migrate {
			log.Info("running database migrations")
			res, err := postgres.Migrate(pg.DB())
			if err != nil {
				pg.Close()
				return nil, fmt.Errorf("migrate: %w", err)
			}
			log.Info("migrations completed", "from_version", res.From, "to_version", res.To, "applied", res.Applied)
		}
		return &Store{Store: pg, Postgres: pg, close: pg.Close}, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

// Queue is the Dispatch Queue for one process.
type Queue struct {
	Publisher queue.Publisher
	// NewReceiver starts consuming. The receiver stops when ctx is done.
	NewReceiver func(ctx context.Context) queue.Receiver
	// Depth reports the number of undelivered messages. Nil when the driver cannot tell.
	Depth func(ctx context.Context) (int64, error)
	close func() error
}

func (q *Queue) Close() error {
	if q.close == nil {
		return nil
	}
	return q.close()
}

// OpenQueue connects the configured queue driver. The postgres driver reuses the store's pool.
func OpenQueue(ctx context.Context, cfg *config.Config, s *Store, log *slog.Logger) (*Queue, error) {
	switch cfg.Queue.Driver {
	case config.DriverPostgres:
		if s.Postgres == nil {
			return nil, fmt.Errorf("queue driver postgres requires the postgres store")
		}
		pg := s.Postgres
		return &Queue{
			Publisher:   pg,
			NewReceiver: func(context.Context) queue.Receiver { return pg },
			Depth:       pg.Count,
		}, nil
	case config.DriverPubSub:
		c, err := pubsub.New(ctx, pubsub.Config{
			ProjectID:       cfg.PubSub.ProjectID,
			Topic:           cfg.PubSub.Topic,
			Subscription:    cfg.PubSub.Subscription,
			CredentialsJSON: cfg.PubSub.CredentialsJSON,
			Buffer:          cfg.Worker.Concurrency * 2,
			AckDeadline:     cfg.Queue.VisibilityTimeout,
		}, log)
		if err != nil {
			return nil, err
		}
		return &Queue{
			Publisher:   c,
			NewReceiver: func(ctx context.Context) queue.Receiver { return c.Receiver(ctx) },
			close:       c.Close,
		}, nil
	case config.DriverMemory:
		log.Warn("using in-memory queue, only an in-process worker can consume it")
		m := queue.NewMemory()
		return &Queue{
			Publisher:   m,
			NewReceiver: func(context.Context) queue.Receiver { return m },
			Depth:       m.Count,
			close:       func() error { m.Close(); return nil },
		}, nil
	default:
		return nil, fmt.Errorf("unknown queue driver %q", cfg.Queue.Driver)
	}
}

// NewGenerator returns the OpenAI-compatible client, or the echo generator when no API key is set.
func NewGenerator(cfg *config.Config, log *slog.Logger) generation.Generator {
	if cfg.Generation.APIKey == "" {
		log.Warn("no generation api key configured, using echo generator")
		return generation.Echo{}
	}
	return openai.NewClient(openai.Config{
		APIKey:      cfg.Generation.APIKey,
		BaseURL:     cfg.Generation.BaseURL,
		Model:       cfg.Generation.Model,
		Temperature: cfg.Generation.Temperature,
		Timeout:     cfg.Generation.Timeout,
		RateLimit:   cfg.Generation.RateLimit,
		Burst:       cfg.Generation.Burst,
	}, log)
}

// NewFinalizer builds the job finalizer with webhook notification.
func NewFinalizer(cfg *config.Config, s store.Store, metrics *observability.Pipeline, log *slog.Logger) *finalizer.Finalizer {
	notifier := webhook.NewNotifier(s, webhook.Config{
		Timeout:     cfg.Webhook.Timeout,
		Concurrency: cfg.Webhook.Concurrency,
	}, metrics, log)
	return finalizer.New(s, notifier, metrics, log)
}

// WorkerID returns the configured id or one derived from the hostname.
func WorkerID(cfg *config.Config) string {
	if cfg.Worker.ID != "" {
		return cfg.Worker.ID
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return host + "-" + uuid.NewString()[:8]
}

// NewAgent builds a page worker consuming r.
func NewAgent(cfg *config.Config, s store.Store, r queue.Receiver, gen generation.Generator, fin worker.Finalizer, metrics *observability.Pipeline, log *slog.Logger) *worker.Agent {
	id := WorkerID(cfg)
	log = log.With("worker_id", id)

	engine := worker.NewEngine(s, gen, fin, worker.EngineConfig{
		WorkerID:          id,
		MaxAttempts:       cfg.Worker.MaxAttempts,
		ClaimStaleAfter:   cfg.ClaimStaleAfter,
		HeartbeatInterval: cfg.Worker.HeartbeatInterval,
		GenerationTimeout: cfg.Generation.Timeout,
	}, metrics, log)

	return worker.NewAgent(r, engine, s, worker.AgentConfig{
		ID:                id,
		Concurrency:       cfg.Worker.Concurrency,
		PollInterval:      cfg.Worker.PollInterval,
		MaxBackoff:        cfg.Worker.MaxBackoff,
		HeartbeatInterval: cfg.Worker.HeartbeatInterval,
	}, log)
}
