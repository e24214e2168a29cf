package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"pagegen/internal/orchestrator"
	"pagegen/internal/pagetype"
	"pagegen/internal/store"
	"pagegen/pkg/api"

	"github.com/google/uuid"
)

func TestCreateJob(t *testing.T) {
	businessID := uuid.New()
	validBody, _ := json.Marshal(api.CreateJobRequest{PageType: "keyword-service-area"})

	tests := []struct {
		name           string
		path           string
		body           []byte
		mockSetup      func(*mockOrchestrator)
		expectedStatus int
		expectedInBody string
	}{
		{
			name:           "Success",
			body:           validBody,
			expectedStatus: http.StatusCreated,
			expectedInBody: `"status":"pending"`,
		},
		{
			name: "Reports undispatched pages",
			body: validBody,
			mockSetup: func(m *mockOrchestrator) {
				m.createResp = &orchestrator.CreateResult{
					Job:          sampleJob(businessID),
					Undispatched: []uuid.UUID{uuid.MustParse("3f2b8a4e-0000-4000-8000-000000000001")},
				}
			},
			expectedStatus: http.StatusCreated,
			expectedInBody: "3f2b8a4e-0000-4000-8000-000000000001",
		},
		{
			name:           "Invalid business id",
			path:           "/businesses/not-a-uuid/jobs",
			body:           validBody,
			expectedStatus: http.StatusBadRequest,
			expectedInBody: "Invalid id",
		},
		{
			name:           "Invalid JSON",
			body:           []byte(`{invalid-json}`),
			expectedStatus: http.StatusBadRequest,
			expectedInBody: "Invalid request body",
		},
		{
			name:           "Missing page type",
			body:           []byte(`{}`),
			expectedStatus: http.StatusBadRequest,
			expectedInBody: "page_type is required",
		},
		{
			name: "Unknown page type",
			body: validBody,
			mockSetup: func(m *mockOrchestrator) {
				m.createErr = fmt.Errorf("%w: %q", pagetype.ErrInvalidPageType, "keyword-planet")
			},
			expectedStatus: http.StatusBadRequest,
			expectedInBody: "invalid page type",
		},
		{
			name:           "Unknown business",
			body:           validBody,
			mockSetup:      func(m *mockOrchestrator) { m.createErr = orchestrator.ErrUnknownBusiness },
			expectedStatus: http.StatusNotFound,
			expectedInBody: "Business not found",
		},
		{
			name:           "Empty fan-out",
			body:           validBody,
			mockSetup:      func(m *mockOrchestrator) { m.createErr = orchestrator.ErrNoPages },
			expectedStatus: http.StatusBadRequest,
			expectedInBody: orchestrator.ErrNoPages.Error(),
		},
		{
			name:           "Store failure",
			body:           validBody,
			mockSetup:      func(m *mockOrchestrator) { m.createErr = errors.New("insert failed") },
			expectedStatus: http.StatusInternalServerError,
			expectedInBody: "Internal server error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			orch := &mockOrchestrator{}
			if tt.mockSetup != nil {
				tt.mockSetup(orch)
			}
			h := testHandlers(orch, &mockStore{})

			path := tt.path
			if path == "" {
				path = "/businesses/" + businessID.String() + "/jobs"
			}
			req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(tt.body))
			rr := serve("POST /businesses/{id}/jobs", h.CreateJob, req)

			if rr.Code != tt.expectedStatus {
				t.Errorf("expected status %d, got %d", tt.expectedStatus, rr.Code)
			}
			if !strings.Contains(rr.Body.String(), tt.expectedInBody) {
				t.Errorf("expected body to contain %q, got %q", tt.expectedInBody, rr.Body.String())
			}
		})
	}
}

func TestCreateJob_PassesRawPageType(t *testing.T) {
	orch := &mockOrchestrator{}
	h := testHandlers(orch, &mockStore{})

	req := httptest.NewRequest(http.MethodPost, "/businesses/"+uuid.NewString()+"/jobs",
		strings.NewReader(`{"page_type":"location-keyword"}`))
	rr := serve("POST /businesses/{id}/jobs", h.CreateJob, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rr.Code)
	}
	if orch.capturedPageType != "location-keyword" {
		t.Errorf("expected alias to be passed through, got %q", orch.capturedPageType)
	}
}

func TestPreviewJob(t *testing.T) {
	keyword := "drain cleaning"
	tests := []struct {
		name           string
		query          string
		mockSetup      func(*mockOrchestrator)
		expectedStatus int
		expectedInBody string
		expectedOpts   *orchestrator.PreviewOptions
	}{
		{
			name:  "Success",
			query: "?page_type=keyword-service-area&search=drain&limit=10&offset=5",
			mockSetup: func(m *mockOrchestrator) {
				m.previewResp = &orchestrator.PreviewResult{
					PageType: pagetype.KeywordServiceArea,
					Total:    1,
					Limit:    10,
					Offset:   5,
					Pages: []store.JobPage{{
						URLPath:      "/drain-cleaning/austin",
						KeywordText:  &keyword,
						LocationName: "Austin",
					}},
				}
			},
			expectedStatus: http.StatusOK,
			expectedInBody: "/drain-cleaning/austin",
			expectedOpts:   &orchestrator.PreviewOptions{Search: "drain", Limit: 10, Offset: 5},
		},
		{
			name:           "Empty preview returns empty list",
			query:          "?page_type=blog-location",
			expectedStatus: http.StatusOK,
			expectedInBody: `"pages":[]`,
		},
		{
			name:           "Missing page type",
			query:          "",
			expectedStatus: http.StatusBadRequest,
			expectedInBody: "page_type is required",
		},
		{
			name:           "Invalid limit",
			query:          "?page_type=blog-location&limit=abc",
			expectedStatus: http.StatusBadRequest,
			expectedInBody: "invalid limit",
		},
		{
			name:           "Negative offset",
			query:          "?page_type=blog-location&offset=-1",
			expectedStatus: http.StatusBadRequest,
			expectedInBody: "invalid offset",
		},
		{
			name:           "Unknown business",
			query:          "?page_type=blog-location",
			mockSetup:      func(m *mockOrchestrator) { m.previewErr = orchestrator.ErrUnknownBusiness },
			expectedStatus: http.StatusNotFound,
			expectedInBody: "Business not found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			orch := &mockOrchestrator{}
			if tt.mockSetup != nil {
				tt.mockSetup(orch)
			}
			h := testHandlers(orch, &mockStore{})

			req := httptest.NewRequest(http.MethodGet, "/businesses/"+uuid.NewString()+"/jobs/preview"+tt.query, nil)
			rr := serve("GET /businesses/{id}/jobs/preview", h.PreviewJob, req)

			if rr.Code != tt.expectedStatus {
				t.Errorf("expected status %d, got %d", tt.expectedStatus, rr.Code)
			}
			if !strings.Contains(rr.Body.String(), tt.expectedInBody) {
				t.Errorf("expected body to contain %q, got %q", tt.expectedInBody, rr.Body.String())
			}
			if tt.expectedOpts != nil && orch.capturedPreview != *tt.expectedOpts {
				t.Errorf("expected options %+v, got %+v", *tt.expectedOpts, orch.capturedPreview)
			}
		})
	}
}

func TestGetJob(t *testing.T) {
	jobID := uuid.New()

	tests := []struct {
		name           string
		path           string
		mockSetup      func(*mockStore)
		expectedStatus int
		expectedInBody string
	}{
		{
			name: "Success with live counts",
			mockSetup: func(m *mockStore) {
				m.countsResp = store.PageCounts{Queued: 2, Processing: 1, Completed: 2, Failed: 1}
			},
			expectedStatus: http.StatusOK,
			expectedInBody: `"pages":{"queued":2,"processing":1,"completed":2,"failed":1}`,
		},
		{
			name:           "Invalid id",
			path:           "/jobs/nope",
			expectedStatus: http.StatusBadRequest,
			expectedInBody: "Invalid id",
		},
		{
			name:           "Not found",
			mockSetup:      func(m *mockStore) { m.getJobErr = store.ErrNotFound },
			expectedStatus: http.StatusNotFound,
			expectedInBody: "Not found",
		},
		{
			name:           "Count failure",
			mockSetup:      func(m *mockStore) { m.countsErr = errors.New("connection reset") },
			expectedStatus: http.StatusInternalServerError,
			expectedInBody: "Internal server error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &mockStore{}
			if tt.mockSetup != nil {
				tt.mockSetup(s)
			}
			h := testHandlers(&mockOrchestrator{}, s)

			path := tt.path
			if path == "" {
				path = "/jobs/" + jobID.String()
			}
			rr := serve("GET /jobs/{id}", h.GetJob, httptest.NewRequest(http.MethodGet, path, nil))

			if rr.Code != tt.expectedStatus {
				t.Errorf("expected status %d, got %d", tt.expectedStatus, rr.Code)
			}
			if !strings.Contains(rr.Body.String(), tt.expectedInBody) {
				t.Errorf("expected body to contain %q, got %q", tt.expectedInBody, rr.Body.String())
			}
		})
	}
}

func TestCancelJob(t *testing.T) {
	tests := []struct {
		name           string
		mockSetup      func(*mockOrchestrator)
		expectedStatus int
		expectedInBody string
	}{
		{
			name:           "Success",
			expectedStatus: http.StatusOK,
			expectedInBody: `"status":"cancelled"`,
		},
		{
			name:           "Already terminal",
			mockSetup:      func(m *mockOrchestrator) { m.cancelErr = store.ErrJobTerminal },
			expectedStatus: http.StatusConflict,
			expectedInBody: store.ErrJobTerminal.Error(),
		},
		{
			name:           "Not found",
			mockSetup:      func(m *mockOrchestrator) { m.cancelErr = store.ErrNotFound },
			expectedStatus: http.StatusNotFound,
			expectedInBody: "Not found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			orch := &mockOrchestrator{}
			if tt.mockSetup != nil {
				tt.mockSetup(orch)
			}
			h := testHandlers(orch, &mockStore{})

			jobID := uuid.New()
			req := httptest.NewRequest(http.MethodPost, "/jobs/"+jobID.String()+"/cancel", nil)
			rr := serve("POST /jobs/{id}/cancel", h.CancelJob, req)

			if rr.Code != tt.expectedStatus {
				t.Errorf("expected status %d, got %d", tt.expectedStatus, rr.Code)
			}
			if !strings.Contains(rr.Body.String(), tt.expectedInBody) {
				t.Errorf("expected body to contain %q, got %q", tt.expectedInBody, rr.Body.String())
			}
			if orch.capturedJobID != jobID {
				t.Errorf("expected job id %s, got %s", jobID, orch.capturedJobID)
			}
		})
	}
}
