package handlers

import (
	"net/http"

	"pagegen/internal/store"
	"pagegen/pkg/api"
)

const (
	defaultPageLimit = 100
	maxPageLimit     = 500
)

// ListPages handles GET /jobs/{id}/pages.
func (h *Handlers) ListPages(w http.ResponseWriter, r *http.Request) {
	jobID, ok := h.pathUUID(w, r, "id")
	if !ok {
		return
	}

	status := store.PageStatus(r.URL.Query().Get("status"))
	switch status {
	case "", store.PageStatusQueued, store.PageStatusProcessing, store.PageStatusCompleted, store.PageStatusFailed:
	default:
		h.httpError(w, "Invalid status filter", http.StatusBadRequest)
		return
	}

	limit, err := queryInt(r, "limit", defaultPageLimit)
	if err != nil {
		h.httpError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if limit == 0 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		h.httpError(w, err.Error(), http.StatusBadRequest)
		return
	}

	// 404 for unknown jobs rather than an empty list.
	if _, err := h.store.GetJob(r.Context(), jobID); err != nil {
		h.pipelineError(w, r, err)
		return
	}

	pages, err := h.store.ListPages(r.Context(), jobID, status, limit, offset)
	if err != nil {
		h.pipelineError(w, r, err)
		return
	}

	resp := api.PageListResponse{
		Pages:  make([]api.PageResponse, 0, len(pages)),
		Limit:  limit,
		Offset: offset,
	}
	for i := range pages {
		resp.Pages = append(resp.Pages, toPageResponse(&pages[i]))
	}
	h.respondJson(w, http.StatusOK, resp)
}

// RetryPage handles POST /jobs/{id}/pages/{pageID}/retry.
// Only failed pages of jobs that are still open can be retried.
func (h *Handlers) RetryPage(w http.ResponseWriter, r *http.Request) {
	jobID, ok := h.pathUUID(w, r, "id")
	if !ok {
		return
	}
	pageID, ok := h.pathUUID(w, r, "pageID")
	if !ok {
		return
	}

	page, err := h.orch.RetryPage(r.Context(), jobID, pageID)
	if err != nil {
		h.pipelineError(w, r, err)
		return
	}
	h.respondJson(w, http.StatusOK, toPageResponse(page))
}
