package store

import (
	"context"
	"database/sql"
	"time"

	"pagegen/internal/pagetype"

	"github.com/google/uuid"
)

// DBTransaction defines the methods shared by *sql.DB and *sql.Tx
// This allows us to pass either a connection pool or an active transaction to the repository methods.
type DBTransaction interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// CatalogStore reads the business data maintained by the CRUD layer.
type CatalogStore interface {
	GetBusiness(ctx context.Context, id uuid.UUID) (*Business, error)

	// ListKeywords returns the business keywords that carry a language.
	ListKeywords(ctx context.Context, businessID uuid.UUID) ([]Keyword, error)

	// ListLocations returns the active locations of the given kind.
	ListLocations(ctx context.Context, businessID uuid.UUID, kind pagetype.LocationAxis) ([]Location, error)

	GetLocation(ctx context.Context, id uuid.UUID) (*Location, error)

	ListServices(ctx context.Context, businessID uuid.UUID) ([]Service, error)

	// GetQuestionnaire returns the business questionnaire answers keyed by question.
	GetQuestionnaire(ctx context.Context, businessID uuid.UUID) (map[string]string, error)

	// GetActivePromptTemplate prefers a business-specific template over the global one.
	// Returns ErrNotFound when neither is active.
	GetActivePromptTemplate(ctx context.Context, businessID uuid.UUID, pt pagetype.PageType) (*PromptTemplate, error)

	ListWebhookSubscriptions(ctx context.Context, event string) ([]WebhookSubscription, error)
}

// JobStore handles the persistence of generation jobs.
type JobStore interface {
	// CreateJobWithPages persists the job and all of its pages atomically.
	CreateJobWithPages(ctx context.Context, job *GenerationJob, pages []JobPage) error

	GetJob(ctx context.Context, id uuid.UUID) (*GenerationJob, error)

	// MarkJobStarted moves a pending job to processing and sets started_at if unset.
	// It is a no-op for jobs in any other state.
	MarkJobStarted(ctx context.Context, id uuid.UUID, at time.Time) error

	// CompareAndSwapJobCounters writes the counters only if the stored version equals
	// expectedVersion. startedAt is applied only when the stored value is unset.
	CompareAndSwapJobCounters(ctx context.Context, id uuid.UUID, expectedVersion int64, completed, failed int, startedAt time.Time) (bool, error)

	// FinalizeJob sets the terminal status if the job is not terminal and all pages are accounted for.
	// It returns false when another writer already finalized the job.
	FinalizeJob(ctx context.Context, id uuid.UUID, status JobStatus, at time.Time) (bool, error)

	// CancelJob moves a non-terminal job to cancelled. Returns ErrJobTerminal otherwise.
	CancelJob(ctx context.Context, id uuid.UUID, at time.Time) (*GenerationJob, error)

	// ListReconcileCandidates returns non-terminal jobs with no pending page work whose
	// last terminal page write happened before settledBefore.
	ListReconcileCandidates(ctx context.Context, settledBefore time.Time, limit int) ([]GenerationJob, error)
}

// PageStore handles page claiming and terminal writes.
type PageStore interface {
	// ClaimPage atomically transitions a queued page, or a processing page claimed before
	// staleBefore, to processing for workerID and increments its attempts.
	ClaimPage(ctx context.Context, pageID uuid.UUID, workerID string, now, staleBefore time.Time) (ClaimResult, *JobPage, error)

	// TouchClaim refreshes claimed_at while workerID still holds the page.
	TouchClaim(ctx context.Context, pageID uuid.UUID, workerID string, now time.Time) error

	// CompletePage and FailPage return ErrClaimLost unless the page is processing under workerID.
	CompletePage(ctx context.Context, pageID uuid.UUID, workerID string, result PageResult) error
	FailPage(ctx context.Context, pageID uuid.UUID, workerID string, message string, at time.Time) error

	// ResetPage moves a failed page back to queued. Returns ErrInvalidTransition otherwise.
	ResetPage(ctx context.Context, pageID uuid.UUID, at time.Time) (*JobPage, error)

	GetPage(ctx context.Context, id uuid.UUID) (*JobPage, error)
	ListPages(ctx context.Context, jobID uuid.UUID, status PageStatus, limit, offset int) ([]JobPage, error)
	CountPagesByStatus(ctx context.Context, jobID uuid.UUID) (PageCounts, error)

	MarkPagesDispatched(ctx context.Context, pageIDs []uuid.UUID, at time.Time) error

	// ListStaleClaims returns processing pages claimed before the given time.
	ListStaleClaims(ctx context.Context, claimedBefore time.Time, limit int) ([]JobPage, error)

	// ListUndispatchedPages returns queued pages never dispatched and created before
	// createdBefore, or last dispatched before dispatchedBefore.
	ListUndispatchedPages(ctx context.Context, createdBefore, dispatchedBefore time.Time, limit int) ([]JobPage, error)
}

// WorkerStore records worker liveness.
type WorkerStore interface {
	UpsertWorker(ctx context.Context, w *Worker) error
	RecordWorkerOutcome(ctx context.Context, workerID string, completed bool) error
}

// Store is the full Work Item Store.
type Store interface {
	CatalogStore
	JobStore
	PageStore
	WorkerStore
	Ping(ctx context.Context) error
}
