package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"pagegen/internal/store"

	"github.com/google/uuid"
)

const jobColumns = `id, business_id, page_type, status, total_pages, completed_pages, failed_pages,
	version, created_at, started_at, completed_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*store.GenerationJob, error) {
	var j store.GenerationJob
	err := row.Scan(
		&j.ID, &j.BusinessID, &j.PageType, &j.Status,
		&j.TotalPages, &j.CompletedPages, &j.FailedPages,
		&j.Version, &j.CreatedAt, &j.StartedAt, &j.CompletedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &j, nil
}

// CreateJobWithPages inserts the job row and every page row in one transaction.
func (s *Store) CreateJobWithPages(ctx context.Context, job *store.GenerationJob, pages []store.JobPage) error {
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

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO generation_jobs (id, business_id, page_type, status, total_pages, completed_pages, failed_pages, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 0, 0, 0, $6, $6)
	`, job.ID, job.BusinessID, job.PageType, job.Status, job.TotalPages, job.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert job: %w", err)
	}

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

		_, err = tx.ExecContext(ctx, `
			INSERT INTO job_pages (id, job_id, business_id, keyword_slug, keyword_text, keyword_language,
				service_slug, service_name, location_id, location_slug, location_name, url_path, status,
				created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $14)
		`, p.ID, p.JobID, p.BusinessID, p.KeywordSlug, p.KeywordText, p.KeywordLanguage,
			p.ServiceSlug, p.ServiceName, p.LocationID, p.LocationSlug, p.LocationName, p.URLPath, p.Status,
			p.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert page %s: %w", p.URLPath, err)
		}
	}

	return tx.Commit()
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, id uuid.UUID) (*store.GenerationJob, error) {
	job, err := scanJob(s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM generation_jobs WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job %s: %w", id, err)
	}
	return job, nil
}

func (s *Store) MarkJobStarted(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE generation_jobs
		SET status = $2, started_at = COALESCE(started_at, $3), version = version + 1, updated_at = $3
		WHERE id = $1 AND status = $4
	`, id, store.JobStatusProcessing, at, store.JobStatusPending)
	return err
}

func (s *Store) CompareAndSwapJobCounters(ctx context.Context, id uuid.UUID, expectedVersion int64, completed, failed int, startedAt time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE generation_jobs
		SET completed_pages = $3, failed_pages = $4, started_at = COALESCE(started_at, $5),
			version = version + 1, updated_at = $5
		WHERE id = $1 AND version = $2
	`, id, expectedVersion, completed, failed, startedAt)
	if err != nil {
		return false, fmt.Errorf("failed to update counters of job %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// FinalizeJob is the single guarded write that ends a job. Only one caller can observe true.
func (s *Store) FinalizeJob(ctx context.Context, id uuid.UUID, status store.JobStatus, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE generation_jobs
		SET status = $2, completed_at = $3, updated_at = $3, version = version + 1
		WHERE id = $1
			AND status IN ('pending', 'processing')
			AND completed_pages + failed_pages = total_pages
	`, id, status, at)
	if err != nil {
		return false, fmt.Errorf("failed to finalize job %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *Store) CancelJob(ctx context.Context, id uuid.UUID, at time.Time) (*store.GenerationJob, error) {
	job, err := scanJob(s.db.QueryRowContext(ctx, `
		UPDATE generation_jobs
		SET status = $2, completed_at = $3, updated_at = $3, version = version + 1
		WHERE id = $1 AND status IN ('pending', 'processing')
		RETURNING `+jobColumns, id, store.JobStatusCancelled, at))
	if err == nil {
		return job, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to cancel job %s: %w", id, err)
	}

	if _, err := s.GetJob(ctx, id); err != nil {
		return nil, err
	}
	return nil, store.ErrJobTerminal
}

func (s *Store) ListReconcileCandidates(ctx context.Context, settledBefore time.Time, limit int) ([]store.GenerationJob, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+jobColumns+`
		FROM generation_jobs j
		WHERE j.status IN ('pending', 'processing')
			AND NOT EXISTS (
				SELECT 1 FROM job_pages p
				WHERE p.job_id = j.id
					AND (p.status IN ('queued', 'processing') OR p.updated_at >= $1)
			)
		ORDER BY j.created_at ASC
		LIMIT $2
	`, settledBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list reconcile candidates: %w", err)
	}
	defer rows.Close()

	var jobs []store.GenerationJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}
