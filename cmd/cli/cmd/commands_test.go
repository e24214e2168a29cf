package cmd

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"pagegen/pkg/api"

	"github.com/spf13/viper"
)

func strPtr(s string) *string { return &s }

func TestPreviewCommand(t *testing.T) {
	resetViper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/businesses/biz-1/jobs/preview" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("page_type") != "service-location" || q.Get("search") != "water" || q.Get("limit") != "5" {
			t.Errorf("unexpected query: %s", r.URL.RawQuery)
		}

		json.NewEncoder(w).Encode(api.PreviewResponse{
			PageType: "service-location",
			Total:    7,
			Limit:    5,
			Pages: []api.PreviewPage{
				{URLPath: "/services/water-heaters/downtown", Service: strPtr("Water Heaters"), Location: "Downtown"},
			},
		})
	}))
	defer server.Close()

	viper.Set("url", server.URL)

	output := execute(t, "preview", "biz-1", "--page-type", "service-location", "--search", "water", "--limit", "5")
	if !strings.Contains(output, "/services/water-heaters/downtown") || !strings.Contains(output, "Water Heaters") {
		t.Errorf("expected preview row, got: %s", output)
	}
	if !strings.Contains(output, "Showing 1-1 of 7 pages") {
		t.Errorf("expected paging footer, got: %s", output)
	}
}

func TestPreviewCommand_RequiresType(t *testing.T) {
	resetViper()
	viper.Set("url", "http://127.0.0.1:1")

	output := execute(t, "preview", "biz-1", "--page-type", "")
	if !strings.Contains(output, "--page-type is required") {
		t.Errorf("expected validation message, got: %s", output)
	}
}

func TestPagesCommand(t *testing.T) {
	resetViper()

	words := 412
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/jobs/job-1/pages" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("status"); got != "failed" {
			t.Errorf("expected status=failed, got %q", got)
		}

		json.NewEncoder(w).Encode(api.PageListResponse{
			Pages: []api.PageResponse{
				{ID: "page-1", URLPath: "/drain-cleaning/austin", Status: "completed", Attempts: 1, WordCount: &words},
				{ID: "page-2", URLPath: "/drain-cleaning/dallas", Status: "failed", Attempts: 5,
					ErrorMessage: strPtr(strings.Repeat("generation backend returned 503 ", 4))},
			},
			Limit: 100,
		})
	}))
	defer server.Close()

	viper.Set("url", server.URL)

	output := execute(t, "pages", "job-1", "--status", "failed", "--offset", "0")
	if !strings.Contains(output, "PAGE ID") || !strings.Contains(output, "412") {
		t.Errorf("expected page table, got: %s", output)
	}
	if !strings.Contains(output, "...") {
		t.Errorf("expected long error to be truncated, got: %s", output)
	}
}

func TestPagesCommand_Empty(t *testing.T) {
	resetViper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(api.PageListResponse{Pages: []api.PageResponse{}})
	}))
	defer server.Close()

	viper.Set("url", server.URL)

	output := execute(t, "pages", "job-1", "--status", "", "--offset", "0")
	if !strings.Contains(output, "No pages found.") {
		t.Errorf("expected empty message, got: %s", output)
	}
}

func TestCancelCommand(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       interface{}
		wantOutput string
	}{
		{
			name:       "Success",
			status:     http.StatusOK,
			body:       api.JobResponse{ID: "job-1", Status: "cancelled", TotalPages: 10, CompletedPages: 3, FailedPages: 1},
			wantOutput: "Job job-1 cancelled (4/10 pages accounted for)",
		},
		{
			name:       "Already terminal",
			status:     http.StatusConflict,
			body:       api.ErrorResponse{Error: "job is in a terminal state", Code: "409"},
			wantOutput: "Error (409): job is in a terminal state",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetViper()

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodPost || r.URL.Path != "/jobs/job-1/cancel" {
					t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
				}
				w.WriteHeader(tt.status)
				json.NewEncoder(w).Encode(tt.body)
			}))
			defer server.Close()

			viper.Set("url", server.URL)

			output := execute(t, "cancel", "job-1")
			if !strings.Contains(output, tt.wantOutput) {
				t.Errorf("expected %q, got: %s", tt.wantOutput, output)
			}
		})
	}
}

func TestRetryCommand(t *testing.T) {
	resetViper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/jobs/job-1/pages/page-2/retry" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		json.NewEncoder(w).Encode(api.PageResponse{ID: "page-2", URLPath: "/drain-cleaning/dallas", Status: "queued"})
	}))
	defer server.Close()

	viper.Set("url", server.URL)

	output := execute(t, "retry", "job-1", "page-2")
	if !strings.Contains(output, "Page page-2 requeued (/drain-cleaning/dallas)") {
		t.Errorf("expected retry confirmation, got: %s", output)
	}
}

func TestAPIError_NonJSONBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("upstream down"))
	}))
	defer server.Close()

	_, err := NewJobClient(server.URL).GetJob("job-1")
	apiErr, ok := err.(*APIError)
	if !ok {
		t.Fatalf("expected *APIError, got %T (%v)", err, err)
	}
	if apiErr.StatusCode != http.StatusBadGateway || apiErr.Message != "upstream down" {
		t.Errorf("unexpected error %+v", apiErr)
	}
}
