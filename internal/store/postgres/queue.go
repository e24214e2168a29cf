package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"pagegen/internal/queue"

	"github.com/lib/pq"
)

// VisibilityTimeout is how long a received message stays hidden before redelivery.
const VisibilityTimeout = 5 * time.Minute

var (
	_ queue.Publisher = (*Store)(nil)
	_ queue.Receiver  = (*Store)(nil)
)

// PublishBatch inserts the batch into page_queue in a single statement,
// so either every message is accepted or every message fails.
func (s *Store) PublishBatch(ctx context.Context, batch []queue.Envelope) []error {
	if len(batch) == 0 {
		return nil
	}
	if len(batch) > queue.MaxBatchSize {
		return queue.FailAll(len(batch), queue.ErrBatchTooLarge)
	}

	values := make([]string, 0, len(batch))
	args := make([]interface{}, 0, len(batch)*3)
	for i, env := range batch {
		body, err := env.Message.Encode()
		if err != nil {
			return queue.FailAll(len(batch), err)
		}
		headers := env.Headers
		if headers == nil {
			headers = map[string]string{}
		}
		hdr, err := json.Marshal(headers)
		if err != nil {
			return queue.FailAll(len(batch), err)
		}
		n := i * 3
		values = append(values, fmt.Sprintf("($%d, $%d, $%d)", n+1, n+2, n+3))
		args = append(args, env.Message.PageID, body, hdr)
	}

	query := `INSERT INTO page_queue (page_id, body, headers) VALUES ` + strings.Join(values, ", ")
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return queue.FailAll(len(batch), fmt.Errorf("failed to publish batch: %w", err))
	}
	return make([]error, len(batch))
}

// Receive claims up to max visible messages using SELECT ... FOR UPDATE SKIP LOCKED
// and hides them for the visibility timeout.
func (s *Store) Receive(ctx context.Context, max int) ([]*queue.Delivery, error) {
	if max <= 0 {
		max = 1
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT id, body, headers, receive_count
		FROM page_queue
		WHERE visible_after <= NOW()
		ORDER BY id ASC
		FOR UPDATE SKIP LOCKED
		LIMIT $1
	`, max)
	if err != nil {
		return nil, fmt.Errorf("receive query failed: %w", err)
	}
	defer rows.Close()

	type received struct {
		id      int64
		body    []byte
		headers map[string]string
		attempt int
	}
	var batch []received
	var ids []int64
	for rows.Next() {
		var r received
		var hdr []byte
		if err := rows.Scan(&r.id, &r.body, &hdr, &r.attempt); err != nil {
			return nil, fmt.Errorf("receive scan failed: %w", err)
		}
		if len(hdr) > 0 {
			if err := json.Unmarshal(hdr, &r.headers); err != nil {
				return nil, fmt.Errorf("decode headers of message %d: %w", r.id, err)
			}
		}
		r.attempt++
		batch = append(batch, r)
		ids = append(ids, r.id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("receive rows error: %w", err)
	}

	if len(batch) == 0 {
		return nil, nil
	}

	visibility := s.visibility
	if visibility <= 0 {
		visibility = VisibilityTimeout
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE page_queue
		SET visible_after = NOW() + ($1 * INTERVAL '1 second'), receive_count = receive_count + 1
		WHERE id = ANY($2)
	`, visibility.Seconds(), pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("receive visibility update failed: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	out := make([]*queue.Delivery, 0, len(batch))
	for _, r := range batch {
		id := r.id
		out = append(out, queue.NewDelivery(r.body, r.headers, r.attempt,
			func(ctx context.Context) error { return s.ack(ctx, id) },
			func(ctx context.Context) error { return s.nack(ctx, id) },
		))
	}
	return out, nil
}

func (s *Store) ack(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM page_queue WHERE id = $1`, id)
	return err
}

func (s *Store) nack(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE page_queue SET visible_after = NOW() WHERE id = $1`, id)
	return err
}

// Count returns the number of messages waiting in page_queue, visible or not.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM page_queue`).Scan(&n)
	return n, err
}
