package handlers

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"time"

	"pagegen/internal/orchestrator"
	"pagegen/internal/pagetype"
	"pagegen/internal/store"

	"github.com/google/uuid"
)

// Mock Orchestrator
type mockOrchestrator struct {
	createResp  *orchestrator.CreateResult
	createErr   error
	previewResp *orchestrator.PreviewResult
	previewErr  error
	cancelResp  *store.GenerationJob
	cancelErr   error
	retryResp   *store.JobPage
	retryErr    error

	// Spies
	capturedPageType string
	capturedPreview  orchestrator.PreviewOptions
	capturedJobID    uuid.UUID
	capturedPageID   uuid.UUID
}

func (m *mockOrchestrator) CreateJob(ctx context.Context, businessID uuid.UUID, rawPageType string) (*orchestrator.CreateResult, error) {
	m.capturedPageType = rawPageType
	if m.createErr != nil {
		return nil, m.createErr
	}
	if m.createResp != nil {
		return m.createResp, nil
	}
	return &orchestrator.CreateResult{Job: sampleJob(businessID)}, nil
}

func (m *mockOrchestrator) Preview(ctx context.Context, businessID uuid.UUID, rawPageType string, opts orchestrator.PreviewOptions) (*orchestrator.PreviewResult, error) {
	m.capturedPageType = rawPageType
	m.capturedPreview = opts
	if m.previewErr != nil {
		return nil, m.previewErr
	}
	if m.previewResp != nil {
		return m.previewResp, nil
	}
	return &orchestrator.PreviewResult{PageType: pagetype.KeywordServiceArea, Limit: 50}, nil
}

func (m *mockOrchestrator) CancelJob(ctx context.Context, jobID uuid.UUID) (*store.GenerationJob, error) {
	m.capturedJobID = jobID
	if m.cancelErr != nil {
		return nil, m.cancelErr
	}
	if m.cancelResp != nil {
		return m.cancelResp, nil
	}
	job := sampleJob(uuid.New())
	job.ID = jobID
	job.Status = store.JobStatusCancelled
	return job, nil
}

func (m *mockOrchestrator) RetryPage(ctx context.Context, jobID, pageID uuid.UUID) (*store.JobPage, error) {
	m.capturedJobID = jobID
	m.capturedPageID = pageID
	if m.retryErr != nil {
		return nil, m.retryErr
	}
	if m.retryResp != nil {
		return m.retryResp, nil
	}
	return &store.JobPage{ID: pageID, JobID: jobID, Status: store.PageStatusQueued, URLPath: "/drain-cleaning/austin"}, nil
}

// Mock Store
type mockStore struct {
	pingErr       error
	getJobResp    *store.GenerationJob
	getJobErr     error
	countsResp    store.PageCounts
	countsErr     error
	listPagesResp []store.JobPage
	listPagesErr  error

	// Spies
	capturedStatus store.PageStatus
	capturedLimit  int
	capturedOffset int
	listCalled     bool
}

func (m *mockStore) Ping(ctx context.Context) error { return m.pingErr }

func (m *mockStore) GetJob(ctx context.Context, id uuid.UUID) (*store.GenerationJob, error) {
	if m.getJobErr != nil {
		return nil, m.getJobErr
	}
	if m.getJobResp != nil {
		return m.getJobResp, nil
	}
	job := sampleJob(uuid.New())
	job.ID = id
	return job, nil
}

func (m *mockStore) ListPages(ctx context.Context, jobID uuid.UUID, status store.PageStatus, limit, offset int) ([]store.JobPage, error) {
	m.listCalled = true
	m.capturedStatus = status
	m.capturedLimit = limit
	m.capturedOffset = offset
	return m.listPagesResp, m.listPagesErr
}

func (m *mockStore) CountPagesByStatus(ctx context.Context, jobID uuid.UUID) (store.PageCounts, error) {
	return m.countsResp, m.countsErr
}

func sampleJob(businessID uuid.UUID) *store.GenerationJob {
	return &store.GenerationJob{
		ID:         uuid.New(),
		BusinessID: businessID,
		PageType:   pagetype.KeywordServiceArea,
		Status:     store.JobStatusPending,
		TotalPages: 6,
		CreatedAt:  time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func testHandlers(o *mockOrchestrator, s *mockStore) *Handlers {
	return New(o, s, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// serve routes the request through a mux so path values are populated.
func serve(pattern string, handler http.HandlerFunc, req *http.Request) *httptest.ResponseRecorder {
	mux := http.NewServeMux()
	mux.HandleFunc(pattern, handler)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	return rr
}
