package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"pagegen/internal/generation"
	"pagegen/internal/logger"
	"pagegen/internal/observability"
	"pagegen/internal/prompt"
	"pagegen/internal/queue"
	"pagegen/internal/store"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Page failure messages written by the engine itself.
const (
	ErrMsgNoTemplate       = "no active prompt template"
	ErrMsgJobCancelled     = "job cancelled"
	ErrMsgMaxAttempts      = "max attempts exceeded"
	ErrMsgBusinessNotFound = "business not found"
)

// Store is the subset of the Work Item Store the engine reads and writes.
type Store interface {
	store.CatalogStore
	store.CounterStore
	MarkJobStarted(ctx context.Context, id uuid.UUID, at time.Time) error
	ClaimPage(ctx context.Context, pageID uuid.UUID, workerID string, now, staleBefore time.Time) (store.ClaimResult, *store.JobPage, error)
	TouchClaim(ctx context.Context, pageID uuid.UUID, workerID string, now time.Time) error
	CompletePage(ctx context.Context, pageID uuid.UUID, workerID string, result store.PageResult) error
	FailPage(ctx context.Context, pageID uuid.UUID, workerID string, message string, at time.Time) error
	RecordWorkerOutcome(ctx context.Context, workerID string, completed bool) error
}

// Finalizer is invoked after every counter increment.
type Finalizer interface {
	AfterIncrement(ctx context.Context, job *store.GenerationJob) (bool, error)
}

// EngineConfig holds the per-page execution settings.
type EngineConfig struct {
	WorkerID          string
	MaxAttempts       int
	ClaimStaleAfter   time.Duration // A processing page older than this may be reclaimed (default: 10m)
	HeartbeatInterval time.Duration // Interval between claimed_at refreshes while generating (default: 1m)
	GenerationTimeout time.Duration // Upper bound on one backend call (default: 2m)
}

// Engine drives one page message from claim to terminal write.
type Engine struct {
	store     Store
	generator generation.Generator
	finalizer Finalizer
	config    EngineConfig
	metrics   *observability.Pipeline
	log       *slog.Logger
	now       func() time.Time

	mu       sync.Mutex
	inFlight map[uuid.UUID]struct{}
}

func NewEngine(s Store, gen generation.Generator, fin Finalizer, cfg EngineConfig, metrics *observability.Pipeline, log *slog.Logger) *Engine {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.ClaimStaleAfter <= 0 {
		cfg.ClaimStaleAfter = 10 * time.Minute
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = time.Minute
	}
	if cfg.GenerationTimeout <= 0 {
		cfg.GenerationTimeout = 2 * time.Minute
	}
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		store:     s,
		generator: gen,
		finalizer: fin,
		config:    cfg,
		metrics:   metrics,
		log:       log,
		now:       time.Now,
		inFlight:  make(map[uuid.UUID]struct{}),
	}
}

// Handle processes a delivery and settles it. Pipeline outcomes, including duplicate
// deliveries and lost claims, are acked; only store errors nack the message.
func (e *Engine) Handle(ctx context.Context, d *queue.Delivery) {
	msg, err := queue.Decode(d.Body)
	if err != nil {
		e.log.Warn("dropping undecodable page message", "error", err)
		e.settle(ctx, d, true)
		return
	}

	ctx = observability.ExtractHeaders(ctx, d.Headers)
	if err := e.Process(ctx, msg); err != nil {
		e.log.Error("page processing failed", "job_id", msg.JobID, "page_id", msg.PageID, "attempt", d.Attempt, "error", err)
		e.settle(ctx, d, false)
		return
	}
	e.settle(ctx, d, true)
}

func (e *Engine) settle(ctx context.Context, d *queue.Delivery, ack bool) {
	var err error
	if ack {
		err = d.Ack(ctx)
	} else {
		err = d.Nack(ctx)
	}
	if err != nil {
		e.log.Warn("failed to settle delivery", "ack", ack, "error", err)
	}
}

// InFlight returns the pages this engine currently holds.
func (e *Engine) InFlight() []uuid.UUID {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make([]uuid.UUID, 0, len(e.inFlight))
	for id := range e.inFlight {
		ids = append(ids, id)
	}
	return ids
}

func (e *Engine) track(pageID uuid.UUID, held bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if held {
		e.inFlight[pageID] = struct{}{}
	} else {
		delete(e.inFlight, pageID)
	}
}

// outcome is the terminal result of one attempt.
type outcome struct {
	result  *store.PageResult
	message string
	reason  string
}

// Process runs the page state machine for one message. The returned error is always
// a store or infrastructure failure.
func (e *Engine) Process(ctx context.Context, msg queue.Message) error {
	ctx, span := observability.Tracer().Start(ctx, "process_page",
		trace.WithAttributes(
			attribute.String("job.id", msg.JobID.String()),
			attribute.String("page.id", msg.PageID.String()),
			attribute.String("business.id", msg.BusinessID.String()),
			attribute.String("worker.id", e.config.WorkerID),
		),
		trace.WithSpanKind(trace.SpanKindConsumer),
	)
	defer span.End()

	log := logger.WithPage(e.log, msg.JobID.String(), msg.PageID.String(), e.config.WorkerID)

	now := e.now().UTC()
	res, page, err := e.store.ClaimPage(ctx, msg.PageID, e.config.WorkerID, now, now.Add(-e.config.ClaimStaleAfter))
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("claim page: %w", err)
	}
	if res != store.ClaimResultClaimed {
		e.metrics.ClaimConflict(ctx)
		span.SetAttributes(attribute.String("claim.result", string(res)))
		log.Debug("page not claimed", "result", res)
		return nil
	}

	e.metrics.PageClaimed(ctx)
	e.track(page.ID, true)
	defer e.track(page.ID, false)
	log.Info("page claimed", "attempts", page.Attempts, "url_path", page.URLPath)
	span.SetAttributes(attribute.Int("page.attempts", page.Attempts))

	if err := e.store.MarkJobStarted(ctx, page.JobID, now); err != nil {
		log.Warn("failed to mark job started", "error", err)
	}

	out, err := e.execute(ctx, page)
	if err != nil {
		span.RecordError(err)
		return err
	}
	if out.result == nil {
		span.SetStatus(codes.Error, out.message)
	}
	return e.finish(ctx, log, page, out)
}

// execute decides the attempt's outcome. It never writes page state.
func (e *Engine) execute(ctx context.Context, page *store.JobPage) (outcome, error) {
	if page.Attempts-page.AttemptsAtReset > e.config.MaxAttempts {
		return outcome{message: ErrMsgMaxAttempts, reason: "max_attempts"}, nil
	}

	job, err := e.store.GetJob(ctx, page.JobID)
	if err != nil {
		return outcome{}, fmt.Errorf("load job: %w", err)
	}
	if job.Status == store.JobStatusCancelled {
		return outcome{message: ErrMsgJobCancelled, reason: "cancelled"}, nil
	}

	tpl, err := e.store.GetActivePromptTemplate(ctx, page.BusinessID, job.PageType)
	if errors.Is(err, store.ErrNotFound) {
		return outcome{message: ErrMsgNoTemplate, reason: "no_template"}, nil
	}
	if err != nil {
		return outcome{}, fmt.Errorf("load prompt template: %w", err)
	}

	business, err := e.store.GetBusiness(ctx, page.BusinessID)
	if errors.Is(err, store.ErrNotFound) {
		return outcome{message: ErrMsgBusinessNotFound, reason: "no_business"}, nil
	}
	if err != nil {
		return outcome{}, fmt.Errorf("load business: %w", err)
	}

	answers, err := e.store.GetQuestionnaire(ctx, page.BusinessID)
	if err != nil {
		return outcome{}, fmt.Errorf("load questionnaire: %w", err)
	}

	loc, err := e.store.GetLocation(ctx, page.LocationID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return outcome{}, fmt.Errorf("load location: %w", err)
	}

	text, err := prompt.Build(tpl, prompt.Input{
		Business:      *business,
		Page:          *page,
		Location:      loc,
		PageType:      job.PageType,
		Questionnaire: answers,
	})
	if err != nil {
		return outcome{message: err.Error(), reason: "prompt"}, nil
	}

	lang := "en"
	if page.KeywordLanguage != nil && *page.KeywordLanguage != "" {
		lang = *page.KeywordLanguage
	}

	start := time.Now()
	resp, err := e.generate(ctx, page.ID, generation.Request{
		Prompt:   text,
		PageType: job.PageType.String(),
		Language: lang,
	})
	elapsed := time.Since(start)
	if err != nil {
		return outcome{message: err.Error(), reason: "generation"}, nil
	}

	return outcome{result: pageResult(resp, tpl.Version, elapsed)}, nil
}

// pageResult prefers what the backend measured and fills the rest from the content.
func pageResult(resp *generation.Response, promptVersion string, elapsed time.Duration) *store.PageResult {
	words, sections, took := resp.WordCount, resp.SectionCount, resp.Duration
	if words == 0 {
		words = generation.WordCount(resp.Content)
	}
	if sections == 0 {
		sections = generation.SectionCount(resp.Content)
	}
	if took <= 0 {
		took = elapsed
	}
	return &store.PageResult{
		Content:              resp.Content,
		SectionCount:         sections,
		ModelName:            resp.Model,
		PromptVersion:        promptVersion,
		GenerationDurationMs: took.Milliseconds(),
		WordCount:            words,
	}
}

// generate calls the backend while refreshing the claim. A lost claim cancels the call.
func (e *Engine) generate(ctx context.Context, pageID uuid.UUID, req generation.Request) (*generation.Response, error) {
	genCtx, cancel := context.WithTimeout(ctx, e.config.GenerationTimeout)
	defer cancel()

	heartbeatCtx, stopHeartbeat := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		e.runHeartbeat(heartbeatCtx, pageID, cancel)
	}()
	defer func() {
		stopHeartbeat()
		wg.Wait()
	}()

	resp, err := e.generator.Generate(genCtx, req)
	if err != nil {
		if errors.Is(genCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("generation timed out after %v", e.config.GenerationTimeout)
		}
		return nil, err
	}
	if resp == nil || resp.Content == "" {
		return nil, errors.New("generation backend returned empty content")
	}
	return resp, nil
}

// runHeartbeat refreshes claimed_at so a slow generation is not treated as a crashed worker.
func (e *Engine) runHeartbeat(ctx context.Context, pageID uuid.UUID, onLost context.CancelFunc) {
	ticker := time.NewTicker(e.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := e.store.TouchClaim(ctx, pageID, e.config.WorkerID, e.now().UTC())
			if errors.Is(err, store.ErrClaimLost) {
				e.log.Warn("claim lost during generation", "page_id", pageID, "worker_id", e.config.WorkerID)
				onLost()
				return
			}
			if err != nil {
				e.log.Warn("claim heartbeat failed", "page_id", pageID, "error", err)
			}
		}
	}
}

// finish writes the terminal page state, then the counter, then finalization.
func (e *Engine) finish(ctx context.Context, log *slog.Logger, page *store.JobPage, out outcome) error {
	at := e.now().UTC()
	completed := out.result != nil

	var err error
	if completed {
		out.result.CompletedAt = at
		err = e.store.CompletePage(ctx, page.ID, e.config.WorkerID, *out.result)
	} else {
		err = e.store.FailPage(ctx, page.ID, e.config.WorkerID, out.message, at)
	}
	if errors.Is(err, store.ErrClaimLost) {
		log.Debug("terminal write lost to a newer claim")
		return nil
	}
	if err != nil {
		return fmt.Errorf("write terminal page state: %w", err)
	}

	field := store.CounterFailed
	if completed {
		field = store.CounterCompleted
		e.metrics.PageCompleted(ctx, out.result.ModelName, time.Duration(out.result.GenerationDurationMs)*time.Millisecond)
		log.Info("page completed", "words", out.result.WordCount, "duration_ms", out.result.GenerationDurationMs)
	} else {
		e.metrics.PageFailed(ctx, out.reason)
		log.Info("page failed", "error_message", out.message)
	}

	// From here on the page is terminal and a redelivery would be dropped at claim time,
	// so failures are logged and left to the sweeper's counter reconciliation.
	job, err := store.IncrementJobCounter(ctx, e.store, page.JobID, field, at)
	if err != nil {
		log.Error("failed to increment job counter", "field", field, "error", err)
	} else if e.finalizer != nil {
		if _, err := e.finalizer.AfterIncrement(ctx, job); err != nil {
			log.Error("failed to finalize job", "error", err)
		}
	}

	if err := e.store.RecordWorkerOutcome(ctx, e.config.WorkerID, completed); err != nil {
		log.Warn("failed to record worker outcome", "error", err)
	}
	return nil
}
