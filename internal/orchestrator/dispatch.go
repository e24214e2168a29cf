package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"pagegen/internal/observability"
	"pagegen/internal/queue"
	"pagegen/internal/store"

	"github.com/google/uuid"
)

// DispatchStore stamps pages whose message was accepted by the queue.
type DispatchStore interface {
	MarkPagesDispatched(ctx context.Context, pageIDs []uuid.UUID, at time.Time) error
}

// Dispatcher publishes page messages in batches of at most queue.MaxBatchSize.
type Dispatcher struct {
	pub     queue.Publisher
	store   DispatchStore
	metrics *observability.Pipeline
	log     *slog.Logger
	now     func() time.Time
}

func NewDispatcher(pub queue.Publisher, s DispatchStore, metrics *observability.Pipeline, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{pub: pub, store: s, metrics: metrics, log: logger, now: time.Now}
}

// Dispatch sends one message per page and returns the ids that were not enqueued.
// A failed batch does not stop later batches. Unsent pages stay queued with no
// dispatch stamp so the sweeper can find them.
func (d *Dispatcher) Dispatch(ctx context.Context, pages []store.JobPage) []uuid.UUID {
	headers := observability.InjectHeaders(ctx)
	var undispatched []uuid.UUID

	for start := 0; start < len(pages); start += queue.MaxBatchSize {
		end := start + queue.MaxBatchSize
		if end > len(pages) {
			end = len(pages)
		}
		chunk := pages[start:end]

		batch := make([]queue.Envelope, len(chunk))
		for i, p := range chunk {
			batch[i] = queue.Envelope{
				Message: queue.Message{JobID: p.JobID, PageID: p.ID, BusinessID: p.BusinessID},
				Headers: headers,
			}
		}

		errs := d.pub.PublishBatch(ctx, batch)
		var sent []uuid.UUID
		for i, p := range chunk {
			var err error
			if i < len(errs) {
				err = errs[i]
			}
			if err != nil {
				d.log.Warn("page dispatch failed", "job_id", p.JobID, "page_id", p.ID, "error", err)
				undispatched = append(undispatched, p.ID)
				continue
			}
			sent = append(sent, p.ID)
		}

		if len(sent) > 0 {
			if err := d.store.MarkPagesDispatched(ctx, sent, d.now().UTC()); err != nil {
				// The messages are out; a missing stamp only means the sweeper may send a duplicate.
				d.log.Warn("failed to stamp dispatched pages", "count", len(sent), "error", err)
			}
		}
	}

	d.metrics.DispatchFailed(ctx, len(undispatched))
	return undispatched
}
