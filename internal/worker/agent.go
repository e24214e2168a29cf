// Package worker consumes page dispatch messages and generates page content.
package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"pagegen/internal/queue"
	"pagegen/internal/store"

	"github.com/google/uuid"
)

// AgentConfig holds configuration for the worker agent.
type AgentConfig struct {
	ID                string
	Concurrency       int
	PollInterval      time.Duration
	MaxBackoff        time.Duration // Maximum backoff when queue is empty (default: 30s)
	HeartbeatInterval time.Duration // Interval between liveness upserts (default: 1m)
}

// Handler processes and settles one delivery.
type Handler interface {
	Handle(ctx context.Context, d *queue.Delivery)
}

// LivenessStore records the worker row.
type LivenessStore interface {
	UpsertWorker(ctx context.Context, w *store.Worker) error
}

// inFlightReporter is implemented by handlers that can tell which pages they hold.
type inFlightReporter interface {
	InFlight() []uuid.UUID
}

// Agent is the main worker agent that runs the pull-loop for page messages.
type Agent struct {
	receiver  queue.Receiver
	handler   Handler
	liveness  LivenessStore
	config    AgentConfig
	log       *slog.Logger
	startedAt time.Time
	done      chan struct{}
}

// NewAgent creates a new worker agent. liveness may be nil.
func NewAgent(r queue.Receiver, h Handler, liveness LivenessStore, config AgentConfig, log *slog.Logger) *Agent {
	if config.Concurrency <= 0 {
		config.Concurrency = 1
	}

	if config.PollInterval <= 0 {
		config.PollInterval = 1 * time.Second
	}

	if config.MaxBackoff <= 0 {
		config.MaxBackoff = 30 * time.Second
	}

	if config.HeartbeatInterval <= 0 {
		config.HeartbeatInterval = time.Minute
	}

	if log == nil {
		log = slog.Default()
	}

	return &Agent{
		receiver: r,
		handler:  h,
		liveness: liveness,
		config:   config,
		log:      log.With("worker_id", config.ID),
		done:     make(chan struct{}),
	}
}

// Run starts the main pull-loop. It blocks until the context is cancelled.
// On cancellation it stops receiving new messages and lets in-flight pages finish.
func (a *Agent) Run(ctx context.Context) error {
	a.log.Info("worker agent starting", "concurrency", a.config.Concurrency)
	a.startedAt = time.Now().UTC()
	a.reportLiveness(ctx, store.WorkerStatusIdle)

	sem := make(chan struct{}, a.config.Concurrency)
	var wg sync.WaitGroup

	// In-flight pages outlive the poll context so a shutdown drains instead of aborting.
	workCtx := context.WithoutCancel(ctx)

	heartbeatCtx, stopHeartbeat := context.WithCancel(ctx)
	defer stopHeartbeat()
	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)
		a.runHeartbeat(heartbeatCtx, sem)
	}()

	pollNow := make(chan struct{}, 1)

	// Current backoff duration (increases on empty queue, resets on work found)
	currentBackoff := a.config.PollInterval

	triggerPoll := func() {
		select {
		case pollNow <- struct{}{}:
		default:
		}
	}

	triggerPoll()

	for {
		select {
		case <-ctx.Done():
			a.log.Info("context cancelled, waiting for in-flight pages to finish")
			wg.Wait()
			stopHeartbeat()
			<-heartbeatDone
			a.shutdown()
			close(a.done)
			return ctx.Err()

		case <-time.After(currentBackoff):
			triggerPoll()

		case <-pollNow:
			availableSlots := a.config.Concurrency - len(sem)
			if availableSlots <= 0 {
				continue
			}

			deliveries, err := a.receiver.Receive(ctx, availableSlots)
			if err != nil {
				if ctx.Err() == nil {
					a.log.Warn("receive failed", "error", err)
				}
				continue
			}

			if len(deliveries) == 0 {
				// Empty queue - increase backoff (exponential, capped at MaxBackoff)
				currentBackoff = currentBackoff * 2
				if currentBackoff > a.config.MaxBackoff {
					currentBackoff = a.config.MaxBackoff
				}
				continue
			}

			currentBackoff = a.config.PollInterval
			a.log.Debug("received page messages", "count", len(deliveries))

			for _, d := range deliveries {
				sem <- struct{}{}

				wg.Add(1)
				go func(d *queue.Delivery) {
					defer wg.Done()
					defer func() {
						<-sem
						triggerPoll()
					}()
					a.handler.Handle(workCtx, d)
				}(d)
			}

			if len(deliveries) < availableSlots {
				triggerPoll()
			}
		}
	}
}

// Done returns a channel that is closed when the agent has fully stopped.
func (a *Agent) Done() <-chan struct{} {
	return a.done
}

func (a *Agent) runHeartbeat(ctx context.Context, sem chan struct{}) {
	ticker := time.NewTicker(a.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			status := store.WorkerStatusIdle
			if len(sem) > 0 {
				status = store.WorkerStatusActive
			}
			a.reportLiveness(ctx, status)
		}
	}
}

func (a *Agent) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	a.reportLiveness(ctx, store.WorkerStatusOffline)
	a.log.Info("worker agent stopped")
}

func (a *Agent) reportLiveness(ctx context.Context, status store.WorkerStatus) {
	if a.liveness == nil {
		return
	}
	w := &store.Worker{
		ID:            a.config.ID,
		Status:        status,
		LastHeartbeat: time.Now().UTC(),
		StartedAt:     a.startedAt,
	}
	if r, ok := a.handler.(inFlightReporter); ok && status != store.WorkerStatusOffline {
		if ids := r.InFlight(); len(ids) > 0 {
			current := ids[0]
			w.CurrentPageID = &current
		}
	}
	if err := a.liveness.UpsertWorker(ctx, w); err != nil {
		a.log.Warn("worker heartbeat failed", "status", status, "error", err)
	}
}
