package cmd

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"pagegen/pkg/api"

	"github.com/spf13/viper"
)

func TestStatusCommand_Success(t *testing.T) {
	resetViper()

	started := time.Now().Add(-10 * time.Minute)
	finished := time.Now().Add(-9 * time.Minute)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("expected GET method, got %s", r.Method)
		}
		if r.URL.Path != "/jobs/job-123" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}

		resp := api.JobDetailResponse{
			JobResponse: api.JobResponse{
				ID:             "job-123",
				PageType:       "keyword-service-area",
				Status:         "completed",
				TotalPages:     6,
				CompletedPages: 5,
				FailedPages:    1,
				CreatedAt:      started,
				StartedAt:      &started,
				CompletedAt:    &finished,
			},
			Pages: api.PageCounts{Completed: 5, Failed: 1},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	viper.Set("url", server.URL)

	output := execute(t, "status", "job-123", "--watch=false")
	for _, want := range []string{"job-123", "completed", "6/6", "5 completed", "1 failed", "1m 0s"} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in output, got: %s", want, output)
		}
	}
}

func TestStatusCommand_NotFound(t *testing.T) {
	resetViper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(api.ErrorResponse{Error: "Not found", Code: "404"})
	}))
	defer server.Close()

	viper.Set("url", server.URL)

	output := execute(t, "status", "missing", "--watch=false")
	if !strings.Contains(output, "Error (404): Not found") {
		t.Errorf("expected not found error, got: %s", output)
	}
}

func TestStatusCommand_WatchUntilTerminal(t *testing.T) {
	resetViper()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		status := "processing"
		if calls.Add(1) >= 3 {
			status = "failed"
		}
		json.NewEncoder(w).Encode(api.JobDetailResponse{JobResponse: api.JobResponse{ID: "job-1", Status: status, TotalPages: 2}})
	}))
	defer server.Close()

	viper.Set("url", server.URL)

	output := execute(t, "status", "job-1", "--watch", "--interval", "1ms")
	if got := calls.Load(); got != 3 {
		t.Errorf("expected 3 polls, got %d", got)
	}
	if !strings.Contains(output, "failed") {
		t.Errorf("expected final status in output, got: %s", output)
	}
}

func TestProgressBar(t *testing.T) {
	tests := []struct {
		done, total int
		want        string
	}{
		{0, 4, "[....]"},
		{2, 4, "[##..]"},
		{4, 4, "[####]"},
		{9, 4, "[####]"},
		{0, 0, "[    ]"},
	}
	for _, tt := range tests {
		if got := progressBar(tt.done, tt.total, 4); got != tt.want {
			t.Errorf("progressBar(%d, %d) = %q, want %q", tt.done, tt.total, got, tt.want)
		}
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{500 * time.Millisecond, "500ms"},
		{1500 * time.Millisecond, "1.5s"},
		{90 * time.Second, "1m 30s"},
		{2*time.Hour + 5*time.Minute, "2h 5m"},
	}
	for _, tt := range tests {
		if got := formatDuration(tt.d); got != tt.want {
			t.Errorf("formatDuration(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}
