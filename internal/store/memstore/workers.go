package memstore

import (
	"context"

	"pagegen/internal/store"
)

func (s *Store) UpsertWorker(ctx context.Context, w *store.Worker) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.workers[w.ID]
	if !ok {
		cp := *w
		s.workers[w.ID] = &cp
		return nil
	}
	cur.Status = w.Status
	cur.LastHeartbeat = w.LastHeartbeat
	cur.CurrentPageID = w.CurrentPageID
	return nil
}

func (s *Store) RecordWorkerOutcome(ctx context.Context, workerID string, completed bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.workers[workerID]
	if !ok {
		w = &store.Worker{ID: workerID, Status: store.WorkerStatusActive}
		s.workers[workerID] = w
	}
	if completed {
		w.PagesCompleted++
	} else {
		w.PagesFailed++
	}
	return nil
}

// Worker returns a copy of the liveness record, for tests and debugging.
func (s *Store) Worker(id string) (store.Worker, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.workers[id]
	if !ok {
		return store.Worker{}, false
	}
	return *w, true
}
