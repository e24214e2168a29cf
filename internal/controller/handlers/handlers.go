// Package handlers contains HTTP handlers for the controller API.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"pagegen/internal/logger"
	"pagegen/internal/orchestrator"
	"pagegen/internal/pagetype"
	"pagegen/internal/store"
	"pagegen/pkg/api"

	"github.com/google/uuid"
)

// Orchestrator is the write side of the API.
type Orchestrator interface {
	CreateJob(ctx context.Context, businessID uuid.UUID, rawPageType string) (*orchestrator.CreateResult, error)
	Preview(ctx context.Context, businessID uuid.UUID, rawPageType string, opts orchestrator.PreviewOptions) (*orchestrator.PreviewResult, error)
	CancelJob(ctx context.Context, jobID uuid.UUID) (*store.GenerationJob, error)
	RetryPage(ctx context.Context, jobID, pageID uuid.UUID) (*store.JobPage, error)
}

// ReadStore is the read model the handlers query directly.
type ReadStore interface {
	Ping(ctx context.Context) error
	GetJob(ctx context.Context, id uuid.UUID) (*store.GenerationJob, error)
	ListPages(ctx context.Context, jobID uuid.UUID, status store.PageStatus, limit, offset int) ([]store.JobPage, error)
	CountPagesByStatus(ctx context.Context, jobID uuid.UUID) (store.PageCounts, error)
}

// Handlers holds all HTTP handlers and their dependencies.
type Handlers struct {
	orch  Orchestrator
	store ReadStore
	log   *slog.Logger

	checks []namedCheck
}

// New creates a new Handlers instance.
func New(o Orchestrator, s ReadStore, log *slog.Logger) *Handlers {
	if log == nil {
		log = slog.Default()
	}
	return &Handlers{orch: o, store: s, log: log}
}

// A helper function to write standard JSON responses.
func (h *Handlers) respondJson(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}

// A helper function to return consistent error messages.
func (h *Handlers) httpError(w http.ResponseWriter, message string, code int) {
	h.respondJson(w, code, api.ErrorResponse{
		Error: message,
		Code:  strconv.Itoa(code),
	})
}

// pipelineError maps domain errors to status codes. Unexpected errors are logged and hidden.
func (h *Handlers) pipelineError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, pagetype.ErrInvalidPageType),
		errors.Is(err, orchestrator.ErrNoPages):
		h.httpError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, orchestrator.ErrUnknownBusiness):
		h.httpError(w, "Business not found", http.StatusNotFound)
	case errors.Is(err, store.ErrNotFound):
		h.httpError(w, "Not found", http.StatusNotFound)
	case errors.Is(err, store.ErrJobTerminal),
		errors.Is(err, store.ErrInvalidTransition),
		errors.Is(err, store.ErrConflict):
		h.httpError(w, err.Error(), http.StatusConflict)
	default:
		logger.FromContext(r.Context(), h.log).Error("request failed", "path", r.URL.Path, "error", err)
		h.httpError(w, "Internal server error", http.StatusInternalServerError)
	}
}

// pathUUID parses a path parameter, writing a 400 when it is not a uuid.
func (h *Handlers) pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		h.httpError(w, "Invalid "+name, http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

// queryInt reads a non-negative integer query parameter.
func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.New("invalid " + name)
	}
	return n, nil
}

func toJobResponse(j *store.GenerationJob) api.JobResponse {
	return api.JobResponse{
		ID:             j.ID.String(),
		BusinessID:     j.BusinessID.String(),
		PageType:       j.PageType.String(),
		Status:         string(j.Status),
		TotalPages:     j.TotalPages,
		CompletedPages: j.CompletedPages,
		FailedPages:    j.FailedPages,
		CreatedAt:      j.CreatedAt,
		StartedAt:      j.StartedAt,
		CompletedAt:    j.CompletedAt,
	}
}

func toPageResponse(p *store.JobPage) api.PageResponse {
	return api.PageResponse{
		ID:                   p.ID.String(),
		JobID:                p.JobID.String(),
		URLPath:              p.URLPath,
		Status:               string(p.Status),
		Keyword:              p.KeywordText,
		Language:             p.KeywordLanguage,
		Service:              p.ServiceName,
		Location:             p.LocationName,
		Attempts:             p.Attempts,
		WorkerID:             p.WorkerID,
		ClaimedAt:            p.ClaimedAt,
		CompletedAt:          p.CompletedAt,
		Content:              p.Content,
		ErrorMessage:         p.ErrorMessage,
		WordCount:            p.WordCount,
		SectionCount:         p.SectionCount,
		ModelName:            p.ModelName,
		PromptVersion:        p.PromptVersion,
		GenerationDurationMs: p.GenerationDurationMs,
	}
}

func toPreviewPage(p store.JobPage) api.PreviewPage {
	return api.PreviewPage{
		URLPath:  p.URLPath,
		Keyword:  p.KeywordText,
		Language: p.KeywordLanguage,
		Service:  p.ServiceName,
		Location: p.LocationName,
	}
}
