package store

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
)

// CounterField selects which job counter to adjust.
type CounterField string

const (
	CounterCompleted CounterField = "completed_pages"
	CounterFailed    CounterField = "failed_pages"
)

// MaxCounterRetries bounds the compare-and-swap loop. Between rounds the loop sleeps
// a jittered, doubling delay so writers racing on the last pages spread out.
const MaxCounterRetries = 25

const (
	counterBaseBackoff = time.Millisecond
	counterMaxBackoff  = 32 * time.Millisecond
)

// counterBackoff returns a full-jitter delay for the given lost round.
func counterBackoff(round int) time.Duration {
	d := counterBaseBackoff << min(round, 10)
	if d > counterMaxBackoff {
		d = counterMaxBackoff
	}
	return time.Duration(rand.Int64N(int64(d)) + 1)
}

// waitRound sleeps before the next CAS round, or returns ctx's error.
func waitRound(ctx context.Context, round int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t := time.NewTimer(counterBackoff(round))
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// CounterStore is the subset of JobStore needed to adjust counters.
type CounterStore interface {
	GetJob(ctx context.Context, id uuid.UUID) (*GenerationJob, error)
	CompareAndSwapJobCounters(ctx context.Context, id uuid.UUID, expectedVersion int64, completed, failed int, startedAt time.Time) (bool, error)
}

// IncrementJobCounter atomically adds one to field and returns the job as written.
func IncrementJobCounter(ctx context.Context, s CounterStore, jobID uuid.UUID, field CounterField, now time.Time) (*GenerationJob, error) {
	return AdjustJobCounter(ctx, s, jobID, field, 1, now)
}

// AdjustJobCounter applies delta to field with a compare-and-swap retry loop.
// It never lets completed+failed exceed total or either counter drop below zero.
func AdjustJobCounter(ctx context.Context, s CounterStore, jobID uuid.UUID, field CounterField, delta int, now time.Time) (*GenerationJob, error) {
	return adjust(ctx, s, jobID, field, delta, now, false)
}

// AdjustOpenJobCounter is AdjustJobCounter for jobs that must not be terminal.
// Finalization bumps the version, so a job finalized mid-loop is seen on the retry.
func AdjustOpenJobCounter(ctx context.Context, s CounterStore, jobID uuid.UUID, field CounterField, delta int, now time.Time) (*GenerationJob, error) {
	return adjust(ctx, s, jobID, field, delta, now, true)
}

func adjust(ctx context.Context, s CounterStore, jobID uuid.UUID, field CounterField, delta int, now time.Time, requireOpen bool) (*GenerationJob, error) {
	for attempt := 0; attempt < MaxCounterRetries; attempt++ {
		job, err := s.GetJob(ctx, jobID)
		if err != nil {
			return nil, err
		}
		if requireOpen && job.Status.Terminal() {
			return nil, ErrJobTerminal
		}

		completed, failed := job.CompletedPages, job.FailedPages
		switch field {
		case CounterCompleted:
			completed += delta
		case CounterFailed:
			failed += delta
		default:
			return nil, fmt.Errorf("unknown counter field %q", field)
		}

		if completed < 0 || failed < 0 || completed+failed > job.TotalPages {
			return nil, fmt.Errorf("%w: job %s completed=%d failed=%d total=%d",
				ErrCounterOverflow, jobID, completed, failed, job.TotalPages)
		}

		ok, err := s.CompareAndSwapJobCounters(ctx, jobID, job.Version, completed, failed, now)
		if err != nil {
			return nil, err
		}
		if !ok {
			if err := waitRound(ctx, attempt); err != nil {
				return nil, fmt.Errorf("%w: job %s: %w", ErrConflict, jobID, err)
			}
			continue
		}

		job.CompletedPages = completed
		job.FailedPages = failed
		job.Version++
		if job.StartedAt == nil {
			started := now
			job.StartedAt = &started
		}
		return job, nil
	}
	return nil, fmt.Errorf("%w: job %s after %d attempts", ErrConflict, jobID, MaxCounterRetries)
}

// SetJobCounters overwrites both counters with a compare-and-swap retry loop.
// Used when reconciling counters against the page table.
func SetJobCounters(ctx context.Context, s CounterStore, jobID uuid.UUID, completed, failed int, now time.Time) (*GenerationJob, error) {
	for attempt := 0; attempt < MaxCounterRetries; attempt++ {
		job, err := s.GetJob(ctx, jobID)
		if err != nil {
			return nil, err
		}
		if completed+failed > job.TotalPages {
			return nil, fmt.Errorf("%w: job %s completed=%d failed=%d total=%d",
				ErrCounterOverflow, jobID, completed, failed, job.TotalPages)
		}
		if job.CompletedPages == completed && job.FailedPages == failed {
			return job, nil
		}

		ok, err := s.CompareAndSwapJobCounters(ctx, jobID, job.Version, completed, failed, now)
		if err != nil {
			return nil, err
		}
		if !ok {
			if err := waitRound(ctx, attempt); err != nil {
				return nil, fmt.Errorf("%w: job %s: %w", ErrConflict, jobID, err)
			}
			continue
		}

		job.CompletedPages = completed
		job.FailedPages = failed
		job.Version++
		if job.StartedAt == nil {
			started := now
			job.StartedAt = &started
		}
		return job, nil
	}
	return nil, fmt.Errorf("%w: job %s after %d attempts", ErrConflict, jobID, MaxCounterRetries)
}
