package handlers

import (
	"encoding/json"
	"net/http"

	"pagegen/internal/orchestrator"
	"pagegen/pkg/api"
)

// CreateJob handles POST /businesses/{id}/jobs.
// The job is created even when some page messages could not be sent; those
// pages are listed in undispatched_pages and recovered by the sweeper.
func (h *Handlers) CreateJob(w http.ResponseWriter, r *http.Request) {
	businessID, ok := h.pathUUID(w, r, "id")
	if !ok {
		return
	}

	var req api.CreateJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.httpError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.PageType == "" {
		h.httpError(w, "page_type is required", http.StatusBadRequest)
		return
	}

	res, err := h.orch.CreateJob(r.Context(), businessID, req.PageType)
	if err != nil {
		h.pipelineError(w, r, err)
		return
	}

	resp := toJobResponse(res.Job)
	for _, id := range res.Undispatched {
		resp.UndispatchedPages = append(resp.UndispatchedPages, id.String())
	}
	h.respondJson(w, http.StatusCreated, resp)
}

// PreviewJob handles GET /businesses/{id}/jobs/preview.
// It computes the pages a job would have without writing anything.
func (h *Handlers) PreviewJob(w http.ResponseWriter, r *http.Request) {
	businessID, ok := h.pathUUID(w, r, "id")
	if !ok {
		return
	}

	q := r.URL.Query()
	pageType := q.Get("page_type")
	if pageType == "" {
		h.httpError(w, "page_type is required", http.StatusBadRequest)
		return
	}
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		h.httpError(w, err.Error(), http.StatusBadRequest)
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		h.httpError(w, err.Error(), http.StatusBadRequest)
		return
	}

	res, err := h.orch.Preview(r.Context(), businessID, pageType, orchestrator.PreviewOptions{
		Search: q.Get("search"),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		h.pipelineError(w, r, err)
		return
	}

	resp := api.PreviewResponse{
		PageType: res.PageType.String(),
		Total:    res.Total,
		Limit:    res.Limit,
		Offset:   res.Offset,
		Pages:    make([]api.PreviewPage, 0, len(res.Pages)),
	}
	for _, p := range res.Pages {
		resp.Pages = append(resp.Pages, toPreviewPage(p))
	}
	h.respondJson(w, http.StatusOK, resp)
}

// GetJob handles GET /jobs/{id}.
// Page counts are a fresh aggregation, so they can be ahead of the stored counters.
func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := h.pathUUID(w, r, "id")
	if !ok {
		return
	}

	job, err := h.store.GetJob(r.Context(), jobID)
	if err != nil {
		h.pipelineError(w, r, err)
		return
	}
	counts, err := h.store.CountPagesByStatus(r.Context(), jobID)
	if err != nil {
		h.pipelineError(w, r, err)
		return
	}

	h.respondJson(w, http.StatusOK, api.JobDetailResponse{
		JobResponse: toJobResponse(job),
		Pages: api.PageCounts{
			Queued:     counts.Queued,
			Processing: counts.Processing,
			Completed:  counts.Completed,
			Failed:     counts.Failed,
		},
	})
}

// CancelJob handles POST /jobs/{id}/cancel.
func (h *Handlers) CancelJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := h.pathUUID(w, r, "id")
	if !ok {
		return
	}

	job, err := h.orch.CancelJob(r.Context(), jobID)
	if err != nil {
		h.pipelineError(w, r, err)
		return
	}
	h.respondJson(w, http.StatusOK, toJobResponse(job))
}
