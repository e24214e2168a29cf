// Package orchestrator admits generation jobs: it fans a business's catalog out into
// page work items, persists them and dispatches one queue message per page.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"pagegen/internal/observability"
	"pagegen/internal/pagetype"
	"pagegen/internal/queue"
	"pagegen/internal/store"

	"github.com/google/uuid"
)

var (
	// ErrUnknownBusiness is returned when the business does not exist.
	ErrUnknownBusiness = errors.New("unknown business")

	// ErrNoPages is returned when the page type's product is empty for the business.
	ErrNoPages = errors.New("page type produces no pages for this business")
)

// Store is the subset of the Work Item Store the orchestrator uses.
type Store interface {
	store.CatalogStore
	store.CounterStore
	CreateJobWithPages(ctx context.Context, job *store.GenerationJob, pages []store.JobPage) error
	CancelJob(ctx context.Context, id uuid.UUID, at time.Time) (*store.GenerationJob, error)
	GetPage(ctx context.Context, id uuid.UUID) (*store.JobPage, error)
	ResetPage(ctx context.Context, pageID uuid.UUID, at time.Time) (*store.JobPage, error)
	DispatchStore
}

type Orchestrator struct {
	store      Store
	dispatcher *Dispatcher
	log        *slog.Logger
	now        func() time.Time
}

type Option func(*Orchestrator)

func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.log = l }
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
		o.dispatcher.now = now
	}
}

func New(s Store, pub queue.Publisher, metrics *observability.Pipeline, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store: s,
		log:   slog.Default(),
		now:   time.Now,
	}
	o.dispatcher = NewDispatcher(pub, s, metrics, nil)
	for _, opt := range opts {
		opt(o)
	}
	o.dispatcher.log = o.log
	return o
}

// Dispatcher exposes the dispatcher so the sweeper republishes through the same path.
func (o *Orchestrator) Dispatcher() *Dispatcher {
	return o.dispatcher
}

// CreateResult is the admitted job and the pages that could not be enqueued.
type CreateResult struct {
	Job          *store.GenerationJob
	Pages        []store.JobPage
	Undispatched []uuid.UUID
}

// CreateJob admits a job. Admission errors (bad page type, unknown business, empty
// product) create nothing. Dispatch failures are reported, not returned as errors.
func (o *Orchestrator) CreateJob(ctx context.Context, businessID uuid.UUID, rawPageType string) (*CreateResult, error) {
	pt, err := pagetype.Parse(rawPageType)
	if err != nil {
		return nil, err
	}

	pages, err := o.explode(ctx, businessID, pt)
	if err != nil {
		return nil, err
	}
	if len(pages) == 0 {
		return nil, ErrNoPages
	}

	job := &store.GenerationJob{
		ID:         uuid.New(),
		BusinessID: businessID,
		PageType:   pt,
		Status:     store.JobStatusPending,
		TotalPages: len(pages),
		CreatedAt:  o.now().UTC(),
	}
	if err := o.store.CreateJobWithPages(ctx, job, pages); err != nil {
		return nil, fmt.Errorf("persist job: %w", err)
	}

	undispatched := o.dispatcher.Dispatch(ctx, pages)

	o.log.Info("generation job created",
		"job_id", job.ID,
		"business_id", businessID,
		"page_type", pt,
		"total_pages", job.TotalPages,
		"undispatched", len(undispatched),
	)

	return &CreateResult{Job: job, Pages: pages, Undispatched: undispatched}, nil
}

func (o *Orchestrator) explode(ctx context.Context, businessID uuid.UUID, pt pagetype.PageType) ([]store.JobPage, error) {
	if _, err := o.store.GetBusiness(ctx, businessID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownBusiness, businessID)
		}
		return nil, err
	}

	var c Catalog
	var err error
	if pt.Content() == pagetype.ContentService {
		c.Services, err = o.store.ListServices(ctx, businessID)
	} else {
		c.Keywords, err = o.store.ListKeywords(ctx, businessID)
	}
	if err != nil {
		return nil, err
	}

	c.Locations, err = o.store.ListLocations(ctx, businessID, pt.Location())
	if err != nil {
		return nil, err
	}
	return Explode(pt, c), nil
}

// PreviewOptions filters and paginates a preview.
type PreviewOptions struct {
	Search string
	Limit  int
	Offset int
}

const (
	defaultPreviewLimit = 50
	maxPreviewLimit     = 500
)

// PreviewResult is a window of the pages CreateJob would produce.
type PreviewResult struct {
	PageType pagetype.PageType
	Total    int
	Limit    int
	Offset   int
	Pages    []store.JobPage
}

// Preview computes the same product as CreateJob without writing anything.
func (o *Orchestrator) Preview(ctx context.Context, businessID uuid.UUID, rawPageType string, opts PreviewOptions) (*PreviewResult, error) {
	pt, err := pagetype.Parse(rawPageType)
	if err != nil {
		return nil, err
	}
	pages, err := o.explode(ctx, businessID, pt)
	if err != nil {
		return nil, err
	}

	if q := strings.ToLower(strings.TrimSpace(opts.Search)); q != "" {
		filtered := pages[:0]
		for _, p := range pages {
			if matches(p, q) {
				filtered = append(filtered, p)
			}
		}
		pages = filtered
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = defaultPreviewLimit
	}
	if limit > maxPreviewLimit {
		limit = maxPreviewLimit
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}

	res := &PreviewResult{PageType: pt, Total: len(pages), Limit: limit, Offset: offset}
	if offset < len(pages) {
		end := offset + limit
		if end > len(pages) {
			end = len(pages)
		}
		res.Pages = pages[offset:end]
	}
	return res, nil
}

func matches(p store.JobPage, q string) bool {
	for _, s := range []*string{p.KeywordText, p.ServiceName, &p.LocationName} {
		if s != nil && strings.Contains(strings.ToLower(*s), q) {
			return true
		}
	}
	return false
}

// CancelJob moves a non-terminal job to cancelled. Pages already in flight finish on
// their own; workers that have not started generation fail their page instead.
func (o *Orchestrator) CancelJob(ctx context.Context, jobID uuid.UUID) (*store.GenerationJob, error) {
	job, err := o.store.CancelJob(ctx, jobID, o.now().UTC())
	if err != nil {
		return nil, err
	}
	o.log.Info("generation job cancelled", "job_id", jobID)
	return job, nil
}

// RetryPage resets a failed page of a still-open job and dispatches it again.
// The job's failed counter is released first so the job cannot finalize while the
// page is back in flight.
func (o *Orchestrator) RetryPage(ctx context.Context, jobID, pageID uuid.UUID) (*store.JobPage, error) {
	page, err := o.store.GetPage(ctx, pageID)
	if err != nil {
		return nil, err
	}
	if page.JobID != jobID {
		return nil, store.ErrNotFound
	}
	if page.Status != store.PageStatusFailed {
		return nil, fmt.Errorf("%w: page is %s", store.ErrInvalidTransition, page.Status)
	}

	now := o.now().UTC()
	if _, err := store.AdjustOpenJobCounter(ctx, o.store, jobID, store.CounterFailed, -1, now); err != nil {
		return nil, err
	}

	reset, err := o.store.ResetPage(ctx, pageID, now)
	if err != nil {
		// Another retry won the reset; give the failure back to the counter.
		if _, cerr := store.AdjustJobCounter(ctx, o.store, jobID, store.CounterFailed, 1, now); cerr != nil {
			o.log.Error("failed to restore failed counter", "job_id", jobID, "page_id", pageID, "error", cerr)
		}
		return nil, err
	}

	if undispatched := o.dispatcher.Dispatch(ctx, []store.JobPage{*reset}); len(undispatched) == 0 {
		stamped := now
		reset.DispatchedAt = &stamped
	}

	o.log.Info("page reset for retry", "job_id", jobID, "page_id", pageID, "url_path", reset.URLPath)
	return reset, nil
}
