package memstore

import (
	"context"
	"sort"
	"time"

	"pagegen/internal/store"

	"github.com/google/uuid"
)

func (s *Store) ClaimPage(ctx context.Context, pageID uuid.UUID, workerID string, now, staleBefore time.Time) (store.ClaimResult, *store.JobPage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.pages[pageID]
	if !ok {
		return store.ClaimResultNotFound, nil, nil
	}
	stale := p.Status == store.PageStatusProcessing && p.ClaimedAt != nil && p.ClaimedAt.Before(staleBefore)
	if p.Status != store.PageStatusQueued && !stale {
		return store.ClaimResultAlreadyClaimed, nil, nil
	}

	w := workerID
	p.Status = store.PageStatusProcessing
	p.WorkerID = &w
	p.ClaimedAt = &now
	p.Attempts++
	p.UpdatedAt = now
	cp := *p
	return store.ClaimResultClaimed, &cp, nil
}

// held returns the page if workerID currently holds its claim. Callers hold s.mu.
func (s *Store) held(pageID uuid.UUID, workerID string) (*store.JobPage, error) {
	p, ok := s.pages[pageID]
	if !ok || p.Status != store.PageStatusProcessing || p.WorkerID == nil || *p.WorkerID != workerID {
		return nil, store.ErrClaimLost
	}
	return p, nil
}

func (s *Store) TouchClaim(ctx context.Context, pageID uuid.UUID, workerID string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, err := s.held(pageID, workerID)
	if err != nil {
		return err
	}
	p.ClaimedAt = &now
	p.UpdatedAt = now
	return nil
}

func (s *Store) CompletePage(ctx context.Context, pageID uuid.UUID, workerID string, r store.PageResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, err := s.held(pageID, workerID)
	if err != nil {
		return err
	}
	at := r.CompletedAt
	p.Status = store.PageStatusCompleted
	p.Content = &r.Content
	p.SectionCount = &r.SectionCount
	p.ModelName = &r.ModelName
	p.PromptVersion = &r.PromptVersion
	p.GenerationDurationMs = &r.GenerationDurationMs
	p.WordCount = &r.WordCount
	p.CompletedAt = &at
	p.ErrorMessage = nil
	p.UpdatedAt = at
	return nil
}

func (s *Store) FailPage(ctx context.Context, pageID uuid.UUID, workerID string, message string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, err := s.held(pageID, workerID)
	if err != nil {
		return err
	}
	p.Status = store.PageStatusFailed
	p.ErrorMessage = &message
	p.CompletedAt = &at
	p.UpdatedAt = at
	return nil
}

func (s *Store) ResetPage(ctx context.Context, pageID uuid.UUID, at time.Time) (*store.JobPage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pages[pageID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if p.Status != store.PageStatusFailed {
		return nil, store.ErrInvalidTransition
	}
	p.Status = store.PageStatusQueued
	p.WorkerID = nil
	p.ClaimedAt = nil
	p.CompletedAt = nil
	p.DispatchedAt = nil
	p.ErrorMessage = nil
	p.AttemptsAtReset = p.Attempts
	p.UpdatedAt = at
	cp := *p
	return &cp, nil
}

func (s *Store) GetPage(ctx context.Context, id uuid.UUID) (*store.JobPage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pages[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *Store) ListPages(ctx context.Context, jobID uuid.UUID, status store.PageStatus, limit, offset int) ([]store.JobPage, error) {
	s.mu.Lock()
	var all []store.JobPage
	for _, p := range s.pages {
		if p.JobID == jobID && (status == "" || p.Status == status) {
			all = append(all, *p)
		}
	}
	s.mu.Unlock()

	sort.Slice(all, func(i, j int) bool { return all[i].URLPath < all[j].URLPath })
	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	if offset >= len(all) {
		return nil, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], nil
}

func (s *Store) CountPagesByStatus(ctx context.Context, jobID uuid.UUID) (store.PageCounts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var c store.PageCounts
	for _, p := range s.pages {
		if p.JobID != jobID {
			continue
		}
		switch p.Status {
		case store.PageStatusQueued:
			c.Queued++
		case store.PageStatusProcessing:
			c.Processing++
		case store.PageStatusCompleted:
			c.Completed++
		case store.PageStatusFailed:
			c.Failed++
		}
	}
	return c, nil
}

func (s *Store) MarkPagesDispatched(ctx context.Context, pageIDs []uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range pageIDs {
		if p, ok := s.pages[id]; ok {
			t := at
			p.DispatchedAt = &t
		}
	}
	return nil
}

func (s *Store) ListStaleClaims(ctx context.Context, claimedBefore time.Time, limit int) ([]store.JobPage, error) {
	return s.filterPages(limit, func(p *store.JobPage) bool {
		return p.Status == store.PageStatusProcessing && p.ClaimedAt != nil && p.ClaimedAt.Before(claimedBefore)
	}), nil
}

func (s *Store) ListUndispatchedPages(ctx context.Context, createdBefore, dispatchedBefore time.Time, limit int) ([]store.JobPage, error) {
	return s.filterPages(limit, func(p *store.JobPage) bool {
		if p.Status != store.PageStatusQueued {
			return false
		}
		if p.DispatchedAt == nil {
			return p.CreatedAt.Before(createdBefore)
		}
		return p.DispatchedAt.Before(dispatchedBefore)
	}), nil
}

func (s *Store) filterPages(limit int, keep func(p *store.JobPage) bool) []store.JobPage {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.JobPage
	for _, p := range s.pages {
		if keep(p) {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].URLPath < out[j].URLPath
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func sortJobs(jobs []store.GenerationJob) {
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].CreatedAt.Before(jobs[j].CreatedAt) })
}
