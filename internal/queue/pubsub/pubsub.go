// Package pubsub carries page dispatch messages over Google Cloud Pub/Sub.
// Trace headers travel as message attributes so the body stays the bare dispatch payload.
package pubsub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"pagegen/internal/queue"

	"cloud.google.com/go/pubsub"
	"google.golang.org/api/option"
)

// Config selects the project, topic and subscription.
type Config struct {
	ProjectID       string
	Topic           string
	Subscription    string
	CredentialsJSON string
	// Buffer bounds how many received messages may wait for a worker slot.
	Buffer int
	// AckDeadline is used when the subscription has to be created.
	AckDeadline time.Duration
}

// Client wraps a Pub/Sub client with the dispatch topic and subscription.
type Client struct {
	client *pubsub.Client
	topic  *pubsub.Topic
	cfg    Config
	logger *slog.Logger
}

// New connects to Pub/Sub and ensures the topic (and subscription, when configured) exist.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.ProjectID == "" {
		return nil, errors.New("pubsub project id is required")
	}
	if cfg.Topic == "" {
		return nil, errors.New("pubsub topic is required")
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 32
	}
	if cfg.AckDeadline <= 0 {
		cfg.AckDeadline = 5 * time.Minute
	}

	var opts []option.ClientOption
	if cfg.CredentialsJSON != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(cfg.CredentialsJSON)))
	}
	c, err := pubsub.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}

	topic, err := ensureTopic(ctx, c, cfg.Topic)
	if err != nil {
		c.Close()
		return nil, err
	}
	// Match the orchestrator's batch size so one dispatch batch is one publish RPC.
	topic.PublishSettings.CountThreshold = queue.MaxBatchSize
	topic.PublishSettings.DelayThreshold = 50 * time.Millisecond

	if cfg.Subscription != "" {
		if err := ensureSubscription(ctx, c, cfg.Subscription, topic, cfg.AckDeadline); err != nil {
			topic.Stop()
			c.Close()
			return nil, err
		}
	}

	logger.Info("pubsub ready", "project_id", cfg.ProjectID, "topic", cfg.Topic, "subscription", cfg.Subscription)
	return &Client{client: c, topic: topic, cfg: cfg, logger: logger}, nil
}

func ensureTopic(ctx context.Context, c *pubsub.Client, name string) (*pubsub.Topic, error) {
	t := c.Topic(name)
	ok, err := t.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("check topic %q: %w", name, err)
	}
	if ok {
		return t, nil
	}
	t, err = c.CreateTopic(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("create topic %q: %w", name, err)
	}
	return t, nil
}

func ensureSubscription(ctx context.Context, c *pubsub.Client, name string, topic *pubsub.Topic, ackDeadline time.Duration) error {
	sub := c.Subscription(name)
	ok, err := sub.Exists(ctx)
	if err != nil {
		return fmt.Errorf("check subscription %q: %w", name, err)
	}
	if ok {
		return nil
	}
	_, err = c.CreateSubscription(ctx, name, pubsub.SubscriptionConfig{
		Topic:       topic,
		AckDeadline: ackDeadline,
	})
	if err != nil {
		return fmt.Errorf("create subscription %q: %w", name, err)
	}
	return nil
}

// PublishBatch implements queue.Publisher.
func (c *Client) PublishBatch(ctx context.Context, batch []queue.Envelope) []error {
	if len(batch) > queue.MaxBatchSize {
		return queue.FailAll(len(batch), queue.ErrBatchTooLarge)
	}

	errs := make([]error, len(batch))
	results := make([]*pubsub.PublishResult, len(batch))
	for i, env := range batch {
		body, err := env.Message.Encode()
		if err != nil {
			errs[i] = err
			continue
		}
		results[i] = c.topic.Publish(ctx, &pubsub.Message{
			Data:       body,
			Attributes: env.Headers,
		})
	}
	for i, res := range results {
		if res == nil {
			continue
		}
		if _, err := res.Get(ctx); err != nil {
			errs[i] = fmt.Errorf("publish page %s: %w", batch[i].Message.PageID, err)
		}
	}
	return errs
}

// Receiver returns a queue.Receiver backed by the configured subscription.
// The streaming pull starts on the first Receive call and stops when ctx is done.
func (c *Client) Receiver(ctx context.Context) *Receiver {
	sub := c.client.Subscription(c.cfg.Subscription)
	sub.ReceiveSettings.MaxOutstandingMessages = c.cfg.Buffer
	return &Receiver{
		sub:    sub,
		ctx:    ctx,
		ch:     make(chan *pubsub.Message, c.cfg.Buffer),
		logger: c.logger,
	}
}

// Close stops the topic's publish goroutines and closes the client.
func (c *Client) Close() error {
	c.topic.Stop()
	return c.client.Close()
}

// Receiver adapts the callback-based streaming pull to the pull-loop interface used by workers.
type Receiver struct {
	sub    *pubsub.Subscription
	ctx    context.Context
	ch     chan *pubsub.Message
	logger *slog.Logger

	once sync.Once
	mu   sync.Mutex
	err  error
}

func (r *Receiver) start() {
	go func() {
		defer close(r.ch)
		err := r.sub.Receive(r.ctx, func(ctx context.Context, m *pubsub.Message) {
			select {
			case r.ch <- m:
			case <-ctx.Done():
				m.Nack()
			}
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			r.logger.Error("pubsub receive stopped", "error", err)
			r.mu.Lock()
			r.err = err
			r.mu.Unlock()
		}
	}()
}

// Receive implements queue.Receiver.
func (r *Receiver) Receive(ctx context.Context, max int) ([]*queue.Delivery, error) {
	r.once.Do(r.start)
	if max <= 0 {
		max = 1
	}

	var out []*queue.Delivery
	for len(out) < max {
		select {
		case m, ok := <-r.ch:
			if !ok {
				r.mu.Lock()
				err := r.err
				r.mu.Unlock()
				if err == nil {
					err = context.Canceled
				}
				return out, err
			}
			out = append(out, toDelivery(m))
		case <-ctx.Done():
			return out, ctx.Err()
		default:
			return out, nil
		}
	}
	return out, nil
}

func toDelivery(m *pubsub.Message) *queue.Delivery {
	attempt := 0
	if m.DeliveryAttempt != nil {
		attempt = *m.DeliveryAttempt
	}
	return queue.NewDelivery(m.Data, m.Attributes, attempt,
		func(context.Context) error { m.Ack(); return nil },
		func(context.Context) error { m.Nack(); return nil },
	)
}
