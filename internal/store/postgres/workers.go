package postgres

import (
	"context"
	"fmt"

	"pagegen/internal/store"
)

// UpsertWorker records a heartbeat. Counters are only changed by RecordWorkerOutcome.
func (s *Store) UpsertWorker(ctx context.Context, w *store.Worker) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workers (id, status, last_heartbeat, current_page_id, started_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE
		SET status = EXCLUDED.status, last_heartbeat = EXCLUDED.last_heartbeat,
			current_page_id = EXCLUDED.current_page_id
	`, w.ID, w.Status, w.LastHeartbeat, w.CurrentPageID, w.StartedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert worker %s: %w", w.ID, err)
	}
	return nil
}

func (s *Store) RecordWorkerOutcome(ctx context.Context, workerID string, completed bool) error {
	column := "pages_failed"
	if completed {
		column = "pages_completed"
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE workers SET `+column+` = `+column+` + 1 WHERE id = $1`, workerID)
	return err
}
