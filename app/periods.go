package app

import (
	"context"

	"github.com/artpar/meterbill/adapters/metrics"
	"github.com/artpar/meterbill/domain/period"
	"github.com/artpar/meterbill/domain/pricing"
	"github.com/artpar/meterbill/domain/tenant"
	"github.com/artpar/meterbill/ports"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// PeriodSegmenter turns a tenant's plan history into billing periods.
type PeriodSegmenter struct {
	clock   ports.Clock
	logger  zerolog.Logger
	metrics *metrics.Collector
	tracer  trace.Tracer
}

// SegmenterDeps contains dependencies for PeriodSegmenter.
type SegmenterDeps struct {
	Clock   ports.Clock
	Logger  zerolog.Logger
	Metrics *metrics.Collector // optional
	Tracer  trace.Tracer       // optional
}

// NewPeriodSegmenter creates a new period segmenter.
func NewPeriodSegmenter(deps SegmenterDeps) *PeriodSegmenter {
	return &PeriodSegmenter{
		clock:   deps.Clock,
		logger:  deps.Logger,
		metrics: deps.Metrics,
		tracer:  tracerOrNoop(deps.Tracer),
	}
}

// Segment returns the billing periods of every plan the tenant has been on,
// most recent first. Plans with a yearly unit are cut into years, all others
// into months, on the JST calendar starting at the plan's application time.
//
// The last plan runs until the billing context's current period end, or
// until now when that is unset. Each distinct plan is looked up once.
func (s *PeriodSegmenter) Segment(ctx context.Context, tenantID string, history []tenant.PlanHistoryEntry, bc tenant.BillingContext, lookup ports.PlanLookup) ([]period.Segment, error) {
	ctx, span := s.tracer.Start(ctx, "PeriodSegmenter.Segment", trace.WithAttributes(
		attribute.String("tenant_id", tenantID),
		attribute.Int("history", len(history)),
	))
	segments, err := s.segment(ctx, history, bc, lookup)
	s.metrics.ObserveSegmentation(err, len(segments))
	span.SetAttributes(attribute.Int("segments", len(segments)))
	endSpan(span, err)

	if err != nil {
		s.logger.Warn().Err(err).
			Str("tenant_id", tenantID).
			Msg("plan period segmentation failed")
		return nil, err
	}

	s.logger.Debug().
		Str("tenant_id", tenantID).
		Int("history", len(history)).
		Int("segments", len(segments)).
		Msg("segmented plan periods")
	return segments, nil
}

func (s *PeriodSegmenter) segment(ctx context.Context, history []tenant.PlanHistoryEntry, bc tenant.BillingContext, lookup ports.PlanLookup) ([]period.Segment, error) {
	segments := []period.Segment{}
	if len(history) == 0 {
		return segments, nil
	}

	final := bc.CurrentPlanPeriodEnd
	if final <= 0 {
		final = s.clock.Now().Unix()
	}

	plans := make(map[string]pricing.Plan)
	for _, span := range period.Spans(tenant.SortHistory(history), final) {
		if err := ctx.Err(); err != nil {
			return nil, cancelled(err)
		}

		plan, ok := plans[span.PlanID]
		if !ok {
			var err error
			plan, err = lookup(ctx, span.PlanID)
			s.metrics.ObservePlanLookup(err)
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return nil, cancelled(ctxErr)
				}
				return nil, ports.NewLookupError("plan", span.PlanID, err)
			}
			plans[span.PlanID] = plan
		}

		g := period.GranularityFor(pricing.PlanHasYearlyUnit(plan))
		segments = append(segments, period.Split(span.PlanID, span.Start, span.End, g)...)
	}

	period.SortDescending(segments)
	return segments, nil
}
