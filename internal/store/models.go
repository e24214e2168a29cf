// Package store contains the database layer for pagegen.
package store

import (
	"time"

	"pagegen/internal/pagetype"

	"github.com/google/uuid"
)

// JobStatus represents the state of a generation job.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// Terminal reports whether no further transition may leave s.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// PageStatus represents the state of a single page work item.
type PageStatus string

const (
	PageStatusQueued     PageStatus = "queued"
	PageStatusProcessing PageStatus = "processing"
	PageStatusCompleted  PageStatus = "completed"
	PageStatusFailed     PageStatus = "failed"
)

func (s PageStatus) Terminal() bool {
	return s == PageStatusCompleted || s == PageStatusFailed
}

// GenerationJob is one request to generate every page of a page type for a business.
// Version is bumped on every write and guards counter compare-and-swap.
type GenerationJob struct {
	ID             uuid.UUID
	BusinessID     uuid.UUID
	PageType       pagetype.PageType
	Status         JobStatus
	TotalPages     int
	CompletedPages int
	FailedPages    int
	Version        int64
	CreatedAt      time.Time
	StartedAt      *time.Time
	CompletedAt    *time.Time
	UpdatedAt      time.Time
}

// Accounted is the number of pages that reached a terminal state.
func (j *GenerationJob) Accounted() int {
	return j.CompletedPages + j.FailedPages
}

// JobPage is one (content item, location) pair of a job.
// Keyword fields are nil for service pages, service fields are nil otherwise.
type JobPage struct {
	ID              uuid.UUID
	JobID           uuid.UUID
	BusinessID      uuid.UUID
	KeywordSlug     *string
	KeywordText     *string
	KeywordLanguage *string
	ServiceSlug     *string
	ServiceName     *string
	LocationID      uuid.UUID
	LocationSlug    string
	LocationName    string
	URLPath         string
	Status          PageStatus
	WorkerID        *string
	Attempts        int
	// AttemptsAtReset is Attempts at the last operator retry; the attempt ceiling counts from it.
	AttemptsAtReset int
	ClaimedAt       *time.Time
	CompletedAt     *time.Time
	DispatchedAt    *time.Time

	Content              *string
	ErrorMessage         *string
	SectionCount         *int
	ModelName            *string
	PromptVersion        *string
	GenerationDurationMs *int64
	WordCount            *int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// PageResult carries the fields written on a successful terminal transition.
type PageResult struct {
	Content              string
	SectionCount         int
	ModelName            string
	PromptVersion        string
	GenerationDurationMs int64
	WordCount            int
	CompletedAt          time.Time
}

// PageCounts is the live breakdown of a job's pages by status.
type PageCounts struct {
	Queued     int
	Processing int
	Completed  int
	Failed     int
}

func (c PageCounts) Total() int {
	return c.Queued + c.Processing + c.Completed + c.Failed
}

// ClaimResult is the outcome of the page claim protocol.
type ClaimResult string

const (
	ClaimResultClaimed        ClaimResult = "claimed"
	ClaimResultAlreadyClaimed ClaimResult = "already_claimed"
	ClaimResultNotFound       ClaimResult = "not_found"
)

// WorkerStatus is the liveness state a worker reports about itself.
type WorkerStatus string

const (
	WorkerStatusActive  WorkerStatus = "active"
	WorkerStatusIdle    WorkerStatus = "idle"
	WorkerStatusOffline WorkerStatus = "offline"
)

// Worker is the observability record of a worker process.
type Worker struct {
	ID             string
	Status         WorkerStatus
	LastHeartbeat  time.Time
	CurrentPageID  *uuid.UUID
	PagesCompleted int
	PagesFailed    int
	StartedAt      time.Time
}

// Webhook events fired on job finalization.
const (
	EventJobCompleted = "job.completed"
	EventJobFailed    = "job.failed"
)

// WebhookSubscription is owned by the CRUD layer and read-only here.
type WebhookSubscription struct {
	ID        uuid.UUID
	URL       string
	Events    []string
	CreatedAt time.Time
}

// Business is the profile pages are generated for.
type Business struct {
	ID       uuid.UUID
	Name     string
	Phone    string
	Website  string
	Industry string
	City     string
	State    string
}

// Keyword is a search phrase the business wants pages for.
type Keyword struct {
	ID       uuid.UUID
	Slug     string
	Text     string
	Language string // "en" or "es"
}

// Location is a service area or physical location of a business.
type Location struct {
	ID     uuid.UUID
	Kind   pagetype.LocationAxis
	Slug   string
	Name   string
	City   string
	State  string
	Active bool
}

// Service is one of the business's declared offerings.
type Service struct {
	ID   uuid.UUID
	Slug string
	Name string
}

// PromptTemplate is the active template for a page type.
// BusinessID is nil for the global default.
type PromptTemplate struct {
	ID         uuid.UUID
	BusinessID *uuid.UUID
	PageType   pagetype.PageType
	Version    string
	Body       string
	Active     bool
}
