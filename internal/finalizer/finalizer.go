// Package finalizer moves a job to its terminal state once every page is accounted for.
package finalizer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"pagegen/internal/observability"
	"pagegen/internal/store"

	"github.com/google/uuid"
)

// Store is the subset of the Work Item Store the finalizer writes through.
type Store interface {
	store.CounterStore
	FinalizeJob(ctx context.Context, id uuid.UUID, status store.JobStatus, at time.Time) (bool, error)
	CountPagesByStatus(ctx context.Context, jobID uuid.UUID) (store.PageCounts, error)
}

// Notifier is told about every job this process finalized.
type Notifier interface {
	Notify(ctx context.Context, job *store.GenerationJob)
}

type Finalizer struct {
	store    Store
	notifier Notifier
	metrics  *observability.Pipeline
	log      *slog.Logger
	now      func() time.Time

	// notifying tracks webhook deliveries still in flight.
	notifying sync.WaitGroup
}

func New(s Store, n Notifier, metrics *observability.Pipeline, logger *slog.Logger) *Finalizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Finalizer{store: s, notifier: n, metrics: metrics, log: logger, now: time.Now}
}

// DecideStatus is failed only when every page failed. Partial failure still completes the job.
func DecideStatus(job *store.GenerationJob) store.JobStatus {
	if job.TotalPages > 0 && job.FailedPages == job.TotalPages {
		return store.JobStatusFailed
	}
	return store.JobStatusCompleted
}

// AfterIncrement runs after every counter increment with the job as the increment wrote it.
// It reports whether this call performed the finalization. Exactly one caller wins per job;
// the others see the guarded update affect nothing and return false.
func (f *Finalizer) AfterIncrement(ctx context.Context, job *store.GenerationJob) (bool, error) {
	if job.Status.Terminal() || job.Accounted() != job.TotalPages {
		return false, nil
	}

	status := DecideStatus(job)
	at := f.now().UTC()
	won, err := f.store.FinalizeJob(ctx, job.ID, status, at)
	if err != nil {
		return false, fmt.Errorf("finalize job %s: %w", job.ID, err)
	}
	if !won {
		f.log.Debug("job already finalized", "job_id", job.ID)
		return false, nil
	}

	job.Status = status
	job.CompletedAt = &at
	f.metrics.JobFinalized(ctx, string(status))
	f.log.Info("generation job finalized",
		"job_id", job.ID,
		"status", status,
		"completed_pages", job.CompletedPages,
		"failed_pages", job.FailedPages,
		"total_pages", job.TotalPages,
	)

	if f.notifier != nil {
		// Delivery runs off the page's ack path and outlives the message context.
		snapshot := *job
		notifyCtx := context.WithoutCancel(ctx)
		f.notifying.Add(1)
		go func() {
			defer f.notifying.Done()
			f.notifier.Notify(notifyCtx, &snapshot)
		}()
	}
	return true, nil
}

// Wait blocks until every notification started by AfterIncrement has returned.
func (f *Finalizer) Wait() {
	f.notifying.Wait()
}

// Reconcile rewrites the job's counters from the page table and finalizes if that
// accounts for every page. Jobs that still have queued or processing pages are left alone.
func (f *Finalizer) Reconcile(ctx context.Context, jobID uuid.UUID) (bool, error) {
	counts, err := f.store.CountPagesByStatus(ctx, jobID)
	if err != nil {
		return false, err
	}
	if counts.Queued > 0 || counts.Processing > 0 {
		return false, nil
	}

	job, err := store.SetJobCounters(ctx, f.store, jobID, counts.Completed, counts.Failed, f.now().UTC())
	if err != nil {
		return false, err
	}
	return f.AfterIncrement(ctx, job)
}
