package queue

import (
	"context"
	"errors"
	"sync"
)

// ErrQueueClosed is returned when publishing to a closed memory queue.
var ErrQueueClosed = errors.New("queue is closed")

// Memory is an in-process queue for single-binary development runs and tests.
// Nacked messages are appended back to the tail.
type Memory struct {
	mu       sync.Mutex
	items    []memItem
	inFlight int
	closed   bool
}

type memItem struct {
	body     []byte
	headers  map[string]string
	attempts int
}

func NewMemory() *Memory {
	return &Memory{}
}

func (q *Memory) PublishBatch(ctx context.Context, batch []Envelope) []error {
	if len(batch) > MaxBatchSize {
		return FailAll(len(batch), ErrBatchTooLarge)
	}

	errs := make([]error, len(batch))
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, env := range batch {
		if q.closed {
			errs[i] = ErrQueueClosed
			continue
		}
		body, err := env.Message.Encode()
		if err != nil {
			errs[i] = err
			continue
		}
		q.items = append(q.items, memItem{body: body, headers: env.Headers})
	}
	return errs
}

func (q *Memory) Receive(ctx context.Context, max int) ([]*Delivery, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if max <= 0 {
		max = 1
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	n := min(max, len(q.items))
	if n == 0 {
		return nil, nil
	}
	taken := q.items[:n]
	q.items = append([]memItem(nil), q.items[n:]...)
	q.inFlight += n

	deliveries := make([]*Delivery, 0, n)
	for _, it := range taken {
		it.attempts++
		item := it
		var once sync.Once
		settle := func(requeue bool) {
			once.Do(func() {
				q.mu.Lock()
				defer q.mu.Unlock()
				q.inFlight--
				if requeue && !q.closed {
					q.items = append(q.items, item)
				}
			})
		}
		deliveries = append(deliveries, NewDelivery(item.body, item.headers, item.attempts,
			func(context.Context) error { settle(false); return nil },
			func(context.Context) error { settle(true); return nil },
		))
	}
	return deliveries, nil
}

// Len returns the number of messages waiting to be received.
func (q *Memory) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// InFlight returns the number of received but unsettled deliveries.
func (q *Memory) InFlight() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.inFlight
}

func (q *Memory) Count(ctx context.Context) (int64, error) {
	return int64(q.Len()), nil
}

// Close rejects further publishes and drops pending messages.
func (q *Memory) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.items = nil
}
