package memstore

import (
	"context"
	"fmt"
	"time"

	"pagegen/internal/store"

	"github.com/google/uuid"
)

func (s *Store) CreateJobWithPages(ctx context.Context, job *store.GenerationJob, pages []store.JobPage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.Status == "" {
		job.Status = store.JobStatusPending
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = job.CreatedAt
	job.TotalPages = len(pages)

	seen := make(map[string]bool, len(pages))
	for i := range pages {
		if seen[pages[i].URLPath] {
			return fmt.Errorf("duplicate url_path %q in job", pages[i].URLPath)
		}
		seen[pages[i].URLPath] = true
	}

	stored := *job
	s.jobs[job.ID] = &stored
	for i := range pages {
		p := &pages[i]
		if p.ID == uuid.Nil {
			p.ID = uuid.New()
		}
		p.JobID = job.ID
		p.BusinessID = job.BusinessID
		p.Status = store.PageStatusQueued
		p.CreatedAt = job.CreatedAt
		p.UpdatedAt = job.CreatedAt
		cp := *p
		s.pages[p.ID] = &cp
	}
	return nil
}

func (s *Store) GetJob(ctx context.Context, id uuid.UUID) (*store.GenerationJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (s *Store) MarkJobStarted(ctx context.Context, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok || j.Status != store.JobStatusPending {
		return nil
	}
	j.Status = store.JobStatusProcessing
	if j.StartedAt == nil {
		j.StartedAt = &at
	}
	j.Version++
	j.UpdatedAt = at
	return nil
}

func (s *Store) CompareAndSwapJobCounters(ctx context.Context, id uuid.UUID, expectedVersion int64, completed, failed int, startedAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok || j.Version != expectedVersion {
		return false, nil
	}
	if completed < 0 || failed < 0 || completed+failed > j.TotalPages {
		return false, fmt.Errorf("%w: job %s", store.ErrCounterOverflow, id)
	}
	j.CompletedPages = completed
	j.FailedPages = failed
	if j.StartedAt == nil {
		j.StartedAt = &startedAt
	}
	j.Version++
	j.UpdatedAt = startedAt
	return true, nil
}

func (s *Store) FinalizeJob(ctx context.Context, id uuid.UUID, status store.JobStatus, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok || j.Status.Terminal() || j.Accounted() != j.TotalPages {
		return false, nil
	}
	j.Status = status
	j.CompletedAt = &at
	j.UpdatedAt = at
	j.Version++
	return true, nil
}

func (s *Store) CancelJob(ctx context.Context, id uuid.UUID, at time.Time) (*store.GenerationJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if j.Status.Terminal() {
		return nil, store.ErrJobTerminal
	}
	j.Status = store.JobStatusCancelled
	j.CompletedAt = &at
	j.UpdatedAt = at
	j.Version++
	cp := *j
	return &cp, nil
}

func (s *Store) ListReconcileCandidates(ctx context.Context, settledBefore time.Time, limit int) ([]store.GenerationJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	settled := make(map[uuid.UUID]bool)
	for id, j := range s.jobs {
		if !j.Status.Terminal() {
			settled[id] = true
		}
	}
	for _, p := range s.pages {
		if !settled[p.JobID] {
			continue
		}
		if !p.Status.Terminal() || !p.UpdatedAt.Before(settledBefore) {
			settled[p.JobID] = false
		}
	}

	var out []store.GenerationJob
	for id, ok := range settled {
		if ok {
			out = append(out, *s.jobs[id])
		}
	}
	sortJobs(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
