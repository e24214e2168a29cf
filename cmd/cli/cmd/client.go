package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"pagegen/pkg/api"
)

// JobClient handles API calls to the pagegen controller.
type JobClient struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewJobClient creates a new client with the given base URL.
func NewJobClient(baseURL string) *JobClient {
	return &JobClient{
		BaseURL: baseURL,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// APIError represents an error response from the API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}

// do sends a JSON request and decodes a JSON response into out.
func (c *JobClient) do(method, path string, query url.Values, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(bodyBytes)
	}

	endpoint := c.BaseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	httpReq, err := http.NewRequest(method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Add("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		msg := string(respBody)
		var apiErr api.ErrorResponse
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error != "" {
			msg = apiErr.Error
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

func pageQuery(limit, offset int) url.Values {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		q.Set("offset", strconv.Itoa(offset))
	}
	return q
}

// CreateJob sends POST /businesses/{id}/jobs.
func (c *JobClient) CreateJob(businessID, pageType string) (*api.JobResponse, error) {
	var result api.JobResponse
	err := c.do(http.MethodPost, "/businesses/"+url.PathEscape(businessID)+"/jobs", nil,
		api.CreateJobRequest{PageType: pageType}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// PreviewJob sends GET /businesses/{id}/jobs/preview.
func (c *JobClient) PreviewJob(businessID, pageType, search string, limit, offset int) (*api.PreviewResponse, error) {
	q := pageQuery(limit, offset)
	q.Set("page_type", pageType)
	if search != "" {
		q.Set("search", search)
	}

	var result api.PreviewResponse
	if err := c.do(http.MethodGet, "/businesses/"+url.PathEscape(businessID)+"/jobs/preview", q, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetJob sends GET /jobs/{id}.
func (c *JobClient) GetJob(jobID string) (*api.JobDetailResponse, error) {
	var result api.JobDetailResponse
	if err := c.do(http.MethodGet, "/jobs/"+url.PathEscape(jobID), nil, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListPages sends GET /jobs/{id}/pages.
func (c *JobClient) ListPages(jobID, status string, limit, offset int) (*api.PageListResponse, error) {
	q := pageQuery(limit, offset)
	if status != "" {
		q.Set("status", status)
	}

	var result api.PageListResponse
	if err := c.do(http.MethodGet, "/jobs/"+url.PathEscape(jobID)+"/pages", q, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// CancelJob sends POST /jobs/{id}/cancel.
func (c *JobClient) CancelJob(jobID string) (*api.JobResponse, error) {
	var result api.JobResponse
	if err := c.do(http.MethodPost, "/jobs/"+url.PathEscape(jobID)+"/cancel", nil, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// RetryPage sends POST /jobs/{id}/pages/{pageID}/retry.
func (c *JobClient) RetryPage(jobID, pageID string) (*api.PageResponse, error) {
	var result api.PageResponse
	path := "/jobs/" + url.PathEscape(jobID) + "/pages/" + url.PathEscape(pageID) + "/retry"
	if err := c.do(http.MethodPost, path, nil, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}
