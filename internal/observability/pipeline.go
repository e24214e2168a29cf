package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Pipeline holds the instruments recorded by the orchestrator, workers and sweeper.
// A nil *Pipeline records nothing.
type Pipeline struct {
	pagesClaimed        metric.Int64Counter
	claimConflicts      metric.Int64Counter
	pagesCompleted      metric.Int64Counter
	pagesFailed         metric.Int64Counter
	generationDuration  metric.Float64Histogram
	jobsFinalized       metric.Int64Counter
	webhooksDelivered   metric.Int64Counter
	dispatchFailed      metric.Int64Counter
	sweeperRedispatched metric.Int64Counter
	meter               metric.Meter
}

// NewPipeline creates the instruments on the global meter provider.
func NewPipeline() (*Pipeline, error) {
	return NewPipelineWithMeter(otel.Meter(TracerName))
}

func NewPipelineWithMeter(meter metric.Meter) (*Pipeline, error) {
	p := &Pipeline{meter: meter}
	var err error

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&p.pagesClaimed, "pagegen.pages.claimed", "Pages claimed by a worker"},
		{&p.claimConflicts, "pagegen.pages.claim_conflicts", "Deliveries that found the page already claimed"},
		{&p.pagesCompleted, "pagegen.pages.completed", "Pages generated successfully"},
		{&p.pagesFailed, "pagegen.pages.failed", "Pages that reached the failed state"},
		{&p.jobsFinalized, "pagegen.jobs.finalized", "Jobs moved to a terminal state"},
		{&p.webhooksDelivered, "pagegen.webhooks.delivered", "Webhook deliveries by outcome"},
		{&p.dispatchFailed, "pagegen.dispatch.failed", "Page messages that could not be published"},
		{&p.sweeperRedispatched, "pagegen.sweeper.redispatched", "Pages republished by the sweeper"},
	}
	for _, c := range counters {
		*c.dst, err = meter.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, fmt.Errorf("create counter %s: %w", c.name, err)
		}
	}

	p.generationDuration, err = meter.Float64Histogram("pagegen.generation.duration",
		metric.WithDescription("Content generation latency"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create generation histogram: %w", err)
	}
	return p, nil
}

// ObserveQueueDepth registers a gauge reading the number of waiting dispatch messages.
func (p *Pipeline) ObserveQueueDepth(depth func(ctx context.Context) (int64, error)) error {
	if p == nil {
		return nil
	}
	_, err := p.meter.Int64ObservableGauge("pagegen.queue.depth",
		metric.WithDescription("Dispatch messages waiting in the queue"),
		metric.WithInt64Callback(func(ctx context.Context, o metric.Int64Observer) error {
			n, err := depth(ctx)
			if err != nil {
				return err
			}
			o.Observe(n)
			return nil
		}),
	)
	return err
}

func (p *Pipeline) PageClaimed(ctx context.Context) {
	if p == nil {
		return
	}
	p.pagesClaimed.Add(ctx, 1)
}

func (p *Pipeline) ClaimConflict(ctx context.Context) {
	if p == nil {
		return
	}
	p.claimConflicts.Add(ctx, 1)
}

func (p *Pipeline) PageCompleted(ctx context.Context, model string, d time.Duration) {
	if p == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("model", model))
	p.pagesCompleted.Add(ctx, 1, attrs)
	p.generationDuration.Record(ctx, d.Seconds(), attrs)
}

// PageFailed records a failure. reason should be a short fixed label, not the error text.
func (p *Pipeline) PageFailed(ctx context.Context, reason string) {
	if p == nil {
		return
	}
	p.pagesFailed.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func (p *Pipeline) JobFinalized(ctx context.Context, status string) {
	if p == nil {
		return
	}
	p.jobsFinalized.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

func (p *Pipeline) WebhookDelivered(ctx context.Context, ok bool) {
	if p == nil {
		return
	}
	p.webhooksDelivered.Add(ctx, 1, metric.WithAttributes(attribute.Bool("success", ok)))
}

func (p *Pipeline) DispatchFailed(ctx context.Context, n int) {
	if p == nil || n <= 0 {
		return
	}
	p.dispatchFailed.Add(ctx, int64(n))
}

func (p *Pipeline) SweeperRedispatched(ctx context.Context, reason string, n int) {
	if p == nil || n <= 0 {
		return
	}
	p.sweeperRedispatched.Add(ctx, int64(n), metric.WithAttributes(attribute.String("reason", reason)))
}
