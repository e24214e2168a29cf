// Package api contains shared JSON request/response structs.
// This package is shared between the CLI and Controller.
package api

import "time"

// CreateJobRequest is the request body for starting a generation job.
type CreateJobRequest struct {
	// PageType accepts the canonical names and their aliases, e.g. "keyword-location".
	PageType string `json:"page_type"`
}

// JobResponse represents a generation job in API responses.
type JobResponse struct {
	ID             string     `json:"id"`
	BusinessID     string     `json:"business_id"`
	PageType       string     `json:"page_type"`
	Status         string     `json:"status"`
	TotalPages     int        `json:"total_pages"`
	CompletedPages int        `json:"completed_pages"`
	FailedPages    int        `json:"failed_pages"`
	CreatedAt      time.Time  `json:"created_at"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`

	// UndispatchedPages lists pages whose dispatch message could not be sent.
	// The sweeper republishes them.
	UndispatchedPages []string `json:"undispatched_pages,omitempty"`
}

// PageCounts is the live breakdown of a job's pages.
type PageCounts struct {
	Queued     int `json:"queued"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}

// JobDetailResponse is the response body for job status queries.
type JobDetailResponse struct {
	JobResponse
	Pages PageCounts `json:"pages"`
}

// PageResponse represents a page work item in API responses.
type PageResponse struct {
	ID                   string     `json:"id"`
	JobID                string     `json:"job_id"`
	URLPath              string     `json:"url_path"`
	Status               string     `json:"status"`
	Keyword              *string    `json:"keyword,omitempty"`
	Language             *string    `json:"language,omitempty"`
	Service              *string    `json:"service,omitempty"`
	Location             string     `json:"location"`
	Attempts             int        `json:"attempts"`
	WorkerID             *string    `json:"worker_id,omitempty"`
	ClaimedAt            *time.Time `json:"claimed_at,omitempty"`
	CompletedAt          *time.Time `json:"completed_at,omitempty"`
	Content              *string    `json:"content,omitempty"`
	ErrorMessage         *string    `json:"error_message,omitempty"`
	WordCount            *int       `json:"word_count,omitempty"`
	SectionCount         *int       `json:"section_count,omitempty"`
	ModelName            *string    `json:"model_name,omitempty"`
	PromptVersion        *string    `json:"prompt_version,omitempty"`
	GenerationDurationMs *int64     `json:"generation_duration_ms,omitempty"`
}

// PageListResponse is one page of a job's work items.
type PageListResponse struct {
	Pages  []PageResponse `json:"pages"`
	Limit  int            `json:"limit"`
	Offset int            `json:"offset"`
}

// PreviewPage is a page that CreateJob would produce.
type PreviewPage struct {
	URLPath  string  `json:"url_path"`
	Keyword  *string `json:"keyword,omitempty"`
	Language *string `json:"language,omitempty"`
	Service  *string `json:"service,omitempty"`
	Location string  `json:"location"`
}

// PreviewResponse is the response body for a dry-run fan-out.
type PreviewResponse struct {
	PageType string        `json:"page_type"`
	Total    int           `json:"total"`
	Limit    int           `json:"limit"`
	Offset   int           `json:"offset"`
	Pages    []PreviewPage `json:"pages"`
}

// WebhookPayload is the body POSTed to subscribers when a job finalizes.
type WebhookPayload struct {
	Event          string    `json:"event"`
	JobID          string    `json:"job_id"`
	BusinessID     string    `json:"business_id"`
	PageType       string    `json:"page_type"`
	Status         string    `json:"status"`
	TotalPages     int       `json:"total_pages"`
	CompletedPages int       `json:"completed_pages"`
	FailedPages    int       `json:"failed_pages"`
	Timestamp      time.Time `json:"timestamp"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}
