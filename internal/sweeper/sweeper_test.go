package sweeper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"pagegen/internal/finalizer"
	"pagegen/internal/orchestrator"
	"pagegen/internal/pagetype"
	"pagegen/internal/queue"
	"pagegen/internal/store"
	"pagegen/internal/store/memstore"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeLocker struct {
	ok       bool
	err      error
	released int
}

func (l *fakeLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, bool, error) {
	if l.err != nil || !l.ok {
		return nil, false, l.err
	}
	return func(context.Context) error { l.released++; return nil }, true, nil
}

type harness struct {
	store   *memstore.Store
	queue   *queue.Memory
	sweeper *Sweeper
	job     *store.GenerationJob
	pages   []store.JobPage
}

func newHarness(t *testing.T, n int, locker Locker) *harness {
	t.Helper()
	s := memstore.New()
	job := &store.GenerationJob{BusinessID: uuid.New(), PageType: pagetype.KeywordLocation}
	pages := make([]store.JobPage, n)
	for i := range pages {
		pages[i] = store.JobPage{LocationID: uuid.New(), URLPath: fmt.Sprintf("/kw/loc-%d", i)}
	}
	if err := s.CreateJobWithPages(context.Background(), job, pages); err != nil {
		t.Fatalf("CreateJobWithPages: %v", err)
	}

	q := queue.NewMemory()
	d := orchestrator.NewDispatcher(q, s, nil, quietLogger())
	fin := finalizer.New(s, nil, nil, quietLogger())
	sw := New(s, d, fin, locker, Config{
		Interval:        time.Minute,
		ClaimStaleAfter: 10 * time.Minute,
		RedispatchAfter: 5 * time.Minute,
		ReconcileGrace:  10 * time.Minute,
	}, nil, quietLogger())
	return &harness{store: s, queue: q, sweeper: sw, job: job, pages: pages}
}

// at moves the sweeper's clock forward.
func (h *harness) at(d time.Duration) {
	h.sweeper.now = func() time.Time { return time.Now().Add(d) }
}

func TestNew_Defaults(t *testing.T) {
	s := New(memstore.New(), nil, nil, nil, Config{}, nil, nil)
	if s.config.Interval != time.Minute || s.config.ClaimStaleAfter != 10*time.Minute ||
		s.config.RedispatchAfter != 5*time.Minute || s.config.ReconcileGrace != 10*time.Minute ||
		s.config.BatchSize != 200 {
		t.Errorf("unexpected defaults: %+v", s.config)
	}
	if _, ok := s.locker.(LocalLocker); !ok {
		t.Errorf("expected LocalLocker when none is given")
	}
}

func TestSweepOnce_RedispatchesUndispatchedPages(t *testing.T) {
	h := newHarness(t, 3, nil)
	ctx := context.Background()

	// Fresh pages are left alone for one interval.
	res, err := h.sweeper.SweepOnce(ctx)
	if err != nil {
		t.Fatalf("SweepOnce: %v", err)
	}
	if res.Redispatched != 0 || h.queue.Len() != 0 {
		t.Fatalf("pages younger than one interval must not be redispatched")
	}

	h.at(2 * time.Minute)
	res, err = h.sweeper.SweepOnce(ctx)
	if err != nil {
		t.Fatalf("SweepOnce: %v", err)
	}
	if res.Redispatched != 3 || h.queue.Len() != 3 {
		t.Fatalf("redispatched=%d queue=%d, want 3/3", res.Redispatched, h.queue.Len())
	}
	p, _ := h.store.GetPage(ctx, h.pages[0].ID)
	if p.DispatchedAt == nil {
		t.Errorf("redispatched page must be stamped")
	}

	// Stamped pages wait for the redispatch window.
	res, _ = h.sweeper.SweepOnce(ctx)
	if res.Redispatched != 0 {
		t.Errorf("recently dispatched pages must not be resent, got %d", res.Redispatched)
	}
	h.at(6 * time.Minute)
	res, _ = h.sweeper.SweepOnce(ctx)
	if res.Redispatched != 3 {
		t.Errorf("pages past the redispatch window must be resent, got %d", res.Redispatched)
	}
}

func TestSweepOnce_RepublishesStaleClaims(t *testing.T) {
	h := newHarness(t, 2, nil)
	ctx := context.Background()
	now := time.Now()
	if err := h.store.MarkPagesDispatched(ctx, []uuid.UUID{h.pages[0].ID, h.pages[1].ID}, now); err != nil {
		t.Fatalf("MarkPagesDispatched: %v", err)
	}
	h.store.ClaimPage(ctx, h.pages[0].ID, "crashed", now.Add(-time.Hour), time.Time{})
	h.store.ClaimPage(ctx, h.pages[1].ID, "alive", now, time.Time{})

	res, err := h.sweeper.SweepOnce(ctx)
	if err != nil {
		t.Fatalf("SweepOnce: %v", err)
	}
	if res.StaleRepublished != 1 || h.queue.Len() != 1 {
		t.Fatalf("stale=%d queue=%d, want 1/1", res.StaleRepublished, h.queue.Len())
	}

	ds, _ := h.queue.Receive(ctx, 1)
	msg, err := queue.Decode(ds[0].Body)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if msg.PageID != h.pages[0].ID || msg.JobID != h.job.ID {
		t.Errorf("republished the wrong page: %+v", msg)
	}
}

func TestSweepOnce_ReconcilesCountersAfterCrash(t *testing.T) {
	h := newHarness(t, 2, nil)
	ctx := context.Background()
	now := time.Now()
	if err := h.store.MarkPagesDispatched(ctx, []uuid.UUID{h.pages[0].ID, h.pages[1].ID}, now); err != nil {
		t.Fatalf("MarkPagesDispatched: %v", err)
	}

	// Both pages reach a terminal state, but only one counter increment lands.
	for i, p := range h.pages {
		h.store.ClaimPage(ctx, p.ID, "w", now, time.Time{})
		if i == 0 {
			h.store.CompletePage(ctx, p.ID, "w", store.PageResult{Content: "ok", CompletedAt: now})
			if _, err := store.IncrementJobCounter(ctx, h.store, h.job.ID, store.CounterCompleted, now); err != nil {
				t.Fatalf("IncrementJobCounter: %v", err)
			}
		} else {
			h.store.FailPage(ctx, p.ID, "w", "boom", now)
		}
	}

	res, _ := h.sweeper.SweepOnce(ctx)
	if res.Reconciled != 0 {
		t.Fatalf("jobs inside the grace window must not be reconciled")
	}

	h.at(11 * time.Minute)
	res, err := h.sweeper.SweepOnce(ctx)
	if err != nil {
		t.Fatalf("SweepOnce: %v", err)
	}
	if res.Reconciled != 1 {
		t.Fatalf("reconciled=%d, want 1", res.Reconciled)
	}
	job, _ := h.store.GetJob(ctx, h.job.ID)
	if job.Status != store.JobStatusCompleted || job.CompletedPages != 1 || job.FailedPages != 1 {
		t.Errorf("job = %s %d/%d, want completed 1/1", job.Status, job.CompletedPages, job.FailedPages)
	}
}

func TestSweepOnce_Lock(t *testing.T) {
	t.Run("held elsewhere skips", func(t *testing.T) {
		h := newHarness(t, 1, &fakeLocker{ok: false})
		h.at(time.Hour)
		res, err := h.sweeper.SweepOnce(context.Background())
		if err != nil || !res.Skipped {
			t.Fatalf("expected skipped sweep, got %+v %v", res, err)
		}
		if h.queue.Len() != 0 {
			t.Errorf("skipped sweep must not dispatch")
		}
	})

	t.Run("obtained is released", func(t *testing.T) {
		l := &fakeLocker{ok: true}
		h := newHarness(t, 1, l)
		h.at(time.Hour)
		res, err := h.sweeper.SweepOnce(context.Background())
		if err != nil || res.Redispatched != 1 {
			t.Fatalf("unexpected result %+v %v", res, err)
		}
		if l.released != 1 {
			t.Errorf("lock released %d times, want 1", l.released)
		}
	})

	t.Run("lock error sweeps anyway", func(t *testing.T) {
		h := newHarness(t, 1, &fakeLocker{err: errors.New("redis down")})
		h.at(time.Hour)
		res, err := h.sweeper.SweepOnce(context.Background())
		if err != nil || res.Skipped || res.Redispatched != 1 {
			t.Fatalf("unexpected result %+v %v", res, err)
		}
	})
}

func TestRedisLocker_UnreachableServer(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 100 * time.Millisecond, MaxRetries: -1})
	defer rdb.Close()

	release, ok, err := NewRedisLocker(rdb).TryLock(context.Background(), LockKey, time.Second)
	if err == nil || ok || release != nil {
		t.Fatalf("expected connection error, got ok=%v err=%v", ok, err)
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	h := newHarness(t, 1, nil)
	h.sweeper.config.Interval = 10 * time.Millisecond
	h.at(time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- h.sweeper.Run(ctx) }()

	deadline := time.Now().Add(time.Second)
	for h.queue.Len() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("sweeper never ran")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}
}
