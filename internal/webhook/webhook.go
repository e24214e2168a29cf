// Package webhook posts job finalization events to subscribers.
// Delivery is best effort: failures are logged and counted, never retried.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"pagegen/internal/observability"
	"pagegen/internal/store"
	"pagegen/pkg/api"

	"golang.org/x/sync/errgroup"
)

// SubscriptionStore lists the subscribers of an event.
type SubscriptionStore interface {
	ListWebhookSubscriptions(ctx context.Context, event string) ([]store.WebhookSubscription, error)
}

type Config struct {
	Timeout     time.Duration
	Concurrency int
}

type Notifier struct {
	store       SubscriptionStore
	client      *http.Client
	concurrency int
	metrics     *observability.Pipeline
	log         *slog.Logger
	now         func() time.Time
}

func NewNotifier(s SubscriptionStore, cfg Config, metrics *observability.Pipeline, logger *slog.Logger) *Notifier {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		store:       s,
		client:      &http.Client{Timeout: cfg.Timeout},
		concurrency: cfg.Concurrency,
		metrics:     metrics,
		log:         logger,
		now:         time.Now,
	}
}

// EventFor maps a terminal job status to its webhook event. Cancelled jobs have none.
func EventFor(status store.JobStatus) (string, bool) {
	switch status {
	case store.JobStatusCompleted:
		return store.EventJobCompleted, true
	case store.JobStatusFailed:
		return store.EventJobFailed, true
	}
	return "", false
}

// Notify delivers the job's terminal event to every subscriber and returns when all
// attempts have finished.
func (n *Notifier) Notify(ctx context.Context, job *store.GenerationJob) {
	event, ok := EventFor(job.Status)
	if !ok {
		return
	}

	subs, err := n.store.ListWebhookSubscriptions(ctx, event)
	if err != nil {
		n.log.Warn("failed to list webhook subscriptions", "job_id", job.ID, "event", event, "error", err)
		return
	}
	if len(subs) == 0 {
		return
	}

	body, err := json.Marshal(Payload(event, job, n.now().UTC()))
	if err != nil {
		n.log.Warn("failed to encode webhook payload", "job_id", job.ID, "error", err)
		return
	}

	// Subscriber errors are handled per delivery, so the group never cancels siblings.
	var g errgroup.Group
	g.SetLimit(n.concurrency)
	for _, sub := range subs {
		g.Go(func() error {
			err := n.deliver(ctx, sub.URL, event, body)
			n.metrics.WebhookDelivered(ctx, err == nil)
			if err != nil {
				n.log.Warn("webhook delivery failed",
					"job_id", job.ID,
					"subscription_id", sub.ID,
					"url", sub.URL,
					"error", err,
				)
				return nil
			}
			n.log.Debug("webhook delivered", "job_id", job.ID, "subscription_id", sub.ID)
			return nil
		})
	}
	_ = g.Wait()
}

// Payload builds the JSON body for a finalized job.
func Payload(event string, job *store.GenerationJob, at time.Time) api.WebhookPayload {
	return api.WebhookPayload{
		Event:          event,
		JobID:          job.ID.String(),
		BusinessID:     job.BusinessID.String(),
		PageType:       job.PageType.String(),
		Status:         string(job.Status),
		TotalPages:     job.TotalPages,
		CompletedPages: job.CompletedPages,
		FailedPages:    job.FailedPages,
		Timestamp:      at,
	}
}

func (n *Notifier) deliver(ctx context.Context, url, event string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "pagegen-webhook/1")
	req.Header.Set("X-Pagegen-Event", event)

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("subscriber returned status %d", resp.StatusCode)
	}
	return nil
}
