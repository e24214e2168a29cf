// Package sweeper recovers work the hot path can lose: stale claims of crashed workers,
// pages whose dispatch message never reached the queue, and job counters left behind
// by a crash between a terminal page write and its counter increment.
package sweeper

import (
	"context"
	"log/slog"
	"time"

	"pagegen/internal/observability"
	"pagegen/internal/store"

	"github.com/google/uuid"
)

// LockKey is the distributed lock guarding one sweep.
const LockKey = "pagegen:sweeper"

// Store is the subset of the Work Item Store the sweeper scans.
type Store interface {
	ListStaleClaims(ctx context.Context, claimedBefore time.Time, limit int) ([]store.JobPage, error)
	ListUndispatchedPages(ctx context.Context, createdBefore, dispatchedBefore time.Time, limit int) ([]store.JobPage, error)
	ListReconcileCandidates(ctx context.Context, settledBefore time.Time, limit int) ([]store.GenerationJob, error)
}

// Dispatcher republishes page messages and returns the ids it could not send.
type Dispatcher interface {
	Dispatch(ctx context.Context, pages []store.JobPage) []uuid.UUID
}

// Reconciler resets a job's counters from its pages and finalizes it.
type Reconciler interface {
	Reconcile(ctx context.Context, jobID uuid.UUID) (bool, error)
}

type Config struct {
	Interval        time.Duration
	ClaimStaleAfter time.Duration
	RedispatchAfter time.Duration
	ReconcileGrace  time.Duration
	BatchSize       int
}

type Sweeper struct {
	store      Store
	dispatcher Dispatcher
	reconciler Reconciler
	locker     Locker
	config     Config
	metrics    *observability.Pipeline
	log        *slog.Logger
	now        func() time.Time
}

func New(s Store, d Dispatcher, r Reconciler, locker Locker, cfg Config, metrics *observability.Pipeline, log *slog.Logger) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.ClaimStaleAfter <= 0 {
		cfg.ClaimStaleAfter = 10 * time.Minute
	}
	if cfg.RedispatchAfter <= 0 {
		cfg.RedispatchAfter = 5 * time.Minute
	}
	if cfg.ReconcileGrace <= 0 {
		cfg.ReconcileGrace = 10 * time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 200
	}
	if locker == nil {
		locker = LocalLocker{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Sweeper{
		store:      s,
		dispatcher: d,
		reconciler: r,
		locker:     locker,
		config:     cfg,
		metrics:    metrics,
		log:        log,
		now:        time.Now,
	}
}

// Result counts what one sweep did.
type Result struct {
	StaleRepublished int
	Redispatched     int
	Reconciled       int
	Skipped          bool
}

// Run sweeps every interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	s.log.Info("sweeper starting", "interval", s.config.Interval)
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("sweeper stopped")
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
				s.log.Error("sweep failed", "error", err)
			}
		}
	}
}

// SweepOnce runs the three recovery passes. A failing pass does not stop the others;
// the first error is returned.
func (s *Sweeper) SweepOnce(ctx context.Context) (Result, error) {
	release, ok, err := s.locker.TryLock(ctx, LockKey, s.config.Interval)
	if err != nil {
		// Every pass is idempotent, so a missing lock only risks duplicate messages.
		s.log.Warn("sweeper lock unavailable; sweeping without it", "error", err)
	} else if !ok {
		s.log.Debug("another replica holds the sweeper lock")
		return Result{Skipped: true}, nil
	} else {
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				s.log.Warn("failed to release sweeper lock", "error", err)
			}
		}()
	}

	now := s.now().UTC()
	var res Result
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	var n int
	n, err = s.republishStale(ctx, now)
	res.StaleRepublished = n
	keep(err)

	n, err = s.redispatch(ctx, now)
	res.Redispatched = n
	keep(err)

	n, err = s.reconcile(ctx, now)
	res.Reconciled = n
	keep(err)

	if res.StaleRepublished+res.Redispatched+res.Reconciled > 0 {
		s.log.Info("sweep finished",
			"stale_republished", res.StaleRepublished,
			"redispatched", res.Redispatched,
			"reconciled", res.Reconciled,
		)
	}
	return res, firstErr
}

// republishStale sends a fresh message for pages whose claim went stale.
// The claim protocol's staleness check lets the next worker take them over.
func (s *Sweeper) republishStale(ctx context.Context, now time.Time) (int, error) {
	pages, err := s.store.ListStaleClaims(ctx, now.Add(-s.config.ClaimStaleAfter), s.config.BatchSize)
	if err != nil {
		return 0, err
	}
	return s.send(ctx, "stale_claim", pages), nil
}

// redispatch resends queued pages never dispatched, or dispatched long enough ago that
// the message is presumed lost.
func (s *Sweeper) redispatch(ctx context.Context, now time.Time) (int, error) {
	pages, err := s.store.ListUndispatchedPages(ctx,
		now.Add(-s.config.Interval),
		now.Add(-s.config.RedispatchAfter),
		s.config.BatchSize,
	)
	if err != nil {
		return 0, err
	}
	return s.send(ctx, "undispatched", pages), nil
}

func (s *Sweeper) send(ctx context.Context, reason string, pages []store.JobPage) int {
	if len(pages) == 0 {
		return 0
	}
	failed := s.dispatcher.Dispatch(ctx, pages)
	sent := len(pages) - len(failed)
	s.metrics.SweeperRedispatched(ctx, reason, sent)
	return sent
}

func (s *Sweeper) reconcile(ctx context.Context, now time.Time) (int, error) {
	jobs, err := s.store.ListReconcileCandidates(ctx, now.Add(-s.config.ReconcileGrace), s.config.BatchSize)
	if err != nil {
		return 0, err
	}

	var finalized int
	var firstErr error
	for _, job := range jobs {
		won, err := s.reconciler.Reconcile(ctx, job.ID)
		if err != nil {
			s.log.Warn("failed to reconcile job", "job_id", job.ID, "error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if won {
			finalized++
		}
	}
	return finalized, firstErr
}
