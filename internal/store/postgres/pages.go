package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"pagegen/internal/store"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

const pageColumns = `id, job_id, business_id, keyword_slug, keyword_text, keyword_language,
	service_slug, service_name, location_id, location_slug, location_name, url_path, status,
	worker_id, attempts, attempts_at_reset, claimed_at, completed_at, dispatched_at, content, error_message,
	section_count, model_name, prompt_version, generation_duration_ms, word_count,
	created_at, updated_at`

func scanPage(row rowScanner) (*store.JobPage, error) {
	var p store.JobPage
	err := row.Scan(
		&p.ID, &p.JobID, &p.BusinessID, &p.KeywordSlug, &p.KeywordText, &p.KeywordLanguage,
		&p.ServiceSlug, &p.ServiceName, &p.LocationID, &p.LocationSlug, &p.LocationName, &p.URLPath, &p.Status,
		&p.WorkerID, &p.Attempts, &p.AttemptsAtReset, &p.ClaimedAt, &p.CompletedAt, &p.DispatchedAt, &p.Content, &p.ErrorMessage,
		&p.SectionCount, &p.ModelName, &p.PromptVersion, &p.GenerationDurationMs, &p.WordCount,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func scanPages(rows *sql.Rows) ([]store.JobPage, error) {
	defer rows.Close()
	var pages []store.JobPage
	for rows.Next() {
		p, err := scanPage(rows)
		if err != nil {
			return nil, err
		}
		pages = append(pages, *p)
	}
	return pages, rows.Err()
}

// ClaimPage performs the claim as a single conditional UPDATE. When no row matches,
// an existence check tells a duplicate delivery apart from a missing page.
func (s *Store) ClaimPage(ctx context.Context, pageID uuid.UUID, workerID string, now, staleBefore time.Time) (store.ClaimResult, *store.JobPage, error) {
	page, err := scanPage(s.db.QueryRowContext(ctx, `
		UPDATE job_pages
		SET status = 'processing', worker_id = $2, claimed_at = $3, attempts = attempts + 1, updated_at = $3
		WHERE id = $1
			AND (status = 'queued' OR (status = 'processing' AND claimed_at < $4))
		RETURNING `+pageColumns, pageID, workerID, now, staleBefore))
	if err == nil {
		return store.ClaimResultClaimed, page, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", nil, fmt.Errorf("failed to claim page %s: %w", pageID, err)
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM job_pages WHERE id = $1)`, pageID).Scan(&exists); err != nil {
		return "", nil, fmt.Errorf("failed to check page %s: %w", pageID, err)
	}
	if !exists {
		return store.ClaimResultNotFound, nil, nil
	}
	return store.ClaimResultAlreadyClaimed, nil, nil
}

func (s *Store) TouchClaim(ctx context.Context, pageID uuid.UUID, workerID string, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE job_pages SET claimed_at = $3, updated_at = $3
		WHERE id = $1 AND worker_id = $2 AND status = 'processing'
	`, pageID, workerID, now)
	return claimGuard(res, err)
}

func (s *Store) CompletePage(ctx context.Context, pageID uuid.UUID, workerID string, r store.PageResult) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE job_pages
		SET status = 'completed', content = $3, section_count = $4, model_name = $5, prompt_version = $6,
			generation_duration_ms = $7, word_count = $8, completed_at = $9, error_message = NULL, updated_at = $9
		WHERE id = $1 AND worker_id = $2 AND status = 'processing'
	`, pageID, workerID, r.Content, r.SectionCount, r.ModelName, r.PromptVersion,
		r.GenerationDurationMs, r.WordCount, r.CompletedAt)
	return claimGuard(res, err)
}

func (s *Store) FailPage(ctx context.Context, pageID uuid.UUID, workerID string, message string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE job_pages
		SET status = 'failed', error_message = $3, completed_at = $4, updated_at = $4
		WHERE id = $1 AND worker_id = $2 AND status = 'processing'
	`, pageID, workerID, message, at)
	return claimGuard(res, err)
}

func claimGuard(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrClaimLost
	}
	return nil
}

// ResetPage puts a failed page back in the queue. attempts keeps counting; the
// ceiling restarts from attempts_at_reset.
func (s *Store) ResetPage(ctx context.Context, pageID uuid.UUID, at time.Time) (*store.JobPage, error) {
	page, err := scanPage(s.db.QueryRowContext(ctx, `
		UPDATE job_pages
		SET status = 'queued', worker_id = NULL, claimed_at = NULL, completed_at = NULL,
			dispatched_at = NULL, error_message = NULL, attempts_at_reset = attempts, updated_at = $2
		WHERE id = $1 AND status = 'failed'
		RETURNING `+pageColumns, pageID, at))
	if err == nil {
		return page, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to reset page %s: %w", pageID, err)
	}
	if _, err := s.GetPage(ctx, pageID); err != nil {
		return nil, err
	}
	return nil, store.ErrInvalidTransition
}

func (s *Store) GetPage(ctx context.Context, id uuid.UUID) (*store.JobPage, error) {
	page, err := scanPage(s.db.QueryRowContext(ctx, `SELECT `+pageColumns+` FROM job_pages WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get page %s: %w", id, err)
	}
	return page, nil
}

// ListPages returns a job's pages ordered by URL path. An empty status lists all of them.
func (s *Store) ListPages(ctx context.Context, jobID uuid.UUID, status store.PageStatus, limit, offset int) ([]store.JobPage, error) {
	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	query := `SELECT ` + pageColumns + ` FROM job_pages WHERE job_id = $1`
	args := []interface{}{jobID}
	if status != "" {
		query += ` AND status = $2`
		args = append(args, status)
	}
	query += fmt.Sprintf(` ORDER BY url_path ASC LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list pages of job %s: %w", jobID, err)
	}
	return scanPages(rows)
}

func (s *Store) CountPagesByStatus(ctx context.Context, jobID uuid.UUID) (store.PageCounts, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM job_pages WHERE job_id = $1 GROUP BY status
	`, jobID)
	if err != nil {
		return store.PageCounts{}, fmt.Errorf("failed to count pages of job %s: %w", jobID, err)
	}
	defer rows.Close()

	var counts store.PageCounts
	for rows.Next() {
		var status store.PageStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return store.PageCounts{}, err
		}
		switch status {
		case store.PageStatusQueued:
			counts.Queued = n
		case store.PageStatusProcessing:
			counts.Processing = n
		case store.PageStatusCompleted:
			counts.Completed = n
		case store.PageStatusFailed:
			counts.Failed = n
		}
	}
	return counts, rows.Err()
}

func (s *Store) MarkPagesDispatched(ctx context.Context, pageIDs []uuid.UUID, at time.Time) error {
	if len(pageIDs) == 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE job_pages SET dispatched_at = $2 WHERE id = ANY($1)
	`, pq.Array(pageIDs), at)
	return err
}

func (s *Store) ListStaleClaims(ctx context.Context, claimedBefore time.Time, limit int) ([]store.JobPage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+pageColumns+`
		FROM job_pages
		WHERE status = 'processing' AND claimed_at < $1
		ORDER BY claimed_at ASC
		LIMIT $2
	`, claimedBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale claims: %w", err)
	}
	return scanPages(rows)
}

func (s *Store) ListUndispatchedPages(ctx context.Context, createdBefore, dispatchedBefore time.Time, limit int) ([]store.JobPage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+pageColumns+`
		FROM job_pages
		WHERE status = 'queued'
			AND ((dispatched_at IS NULL AND created_at < $1) OR dispatched_at < $2)
		ORDER BY created_at ASC
		LIMIT $3
	`, createdBefore, dispatchedBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list undispatched pages: %w", err)
	}
	return scanPages(rows)
}
