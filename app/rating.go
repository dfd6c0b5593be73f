// Package app provides application services that orchestrate domain logic.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/artpar/meterbill/adapters/metrics"
	"github.com/artpar/meterbill/domain/billing"
	"github.com/artpar/meterbill/domain/pricing"
	"github.com/artpar/meterbill/domain/usage"
	"github.com/artpar/meterbill/ports"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

var (
	// ErrInvalidPlanDefinition is returned when a metered unit has no
	// metering unit name and the engine is configured to fail on it.
	ErrInvalidPlanDefinition = errors.New("invalid plan definition")

	// ErrCancelled is returned when the caller's context ends mid-call.
	// The context's own error is wrapped alongside it.
	ErrCancelled = errors.New("cancelled")

	// ErrInvalidArgument is returned for malformed caller input.
	ErrInvalidArgument = errors.New("invalid argument")
)

func cancelled(err error) error {
	return fmt.Errorf("%w: %w", ErrCancelled, err)
}

// InvalidUnitPolicy decides what happens to metered units without a
// metering unit name.
type InvalidUnitPolicy string

const (
	InvalidUnitSkip InvalidUnitPolicy = "skip" // Leave the unit out, keep rating
	InvalidUnitFail InvalidUnitPolicy = "fail" // Fail the whole rating
)

// DefaultRatingConcurrency bounds parallel unit processing when unset.
const DefaultRatingConcurrency = 8

// RatingEngine computes the charges of a pricing plan for a period.
type RatingEngine struct {
	usage       ports.UsageSource
	logger      zerolog.Logger
	metrics     *metrics.Collector
	tracer      trace.Tracer
	concurrency int
	policy      InvalidUnitPolicy
}

// RatingDeps contains dependencies for RatingEngine.
type RatingDeps struct {
	Usage   ports.UsageSource
	Logger  zerolog.Logger
	Metrics *metrics.Collector // optional
	Tracer  trace.Tracer       // optional
}

// RatingConfig contains configuration for RatingEngine.
type RatingConfig struct {
	Concurrency       int               // max units rated in parallel, 0 = default
	InvalidUnitPolicy InvalidUnitPolicy // "" = skip
}

// NewRatingEngine creates a new rating engine.
func NewRatingEngine(deps RatingDeps, cfg RatingConfig) *RatingEngine {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultRatingConcurrency
	}
	if cfg.InvalidUnitPolicy != InvalidUnitFail {
		cfg.InvalidUnitPolicy = InvalidUnitSkip
	}

	return &RatingEngine{
		usage:       deps.Usage,
		logger:      deps.Logger,
		metrics:     deps.Metrics,
		tracer:      tracerOrNoop(deps.Tracer),
		concurrency: cfg.Concurrency,
		policy:      cfg.InvalidUnitPolicy,
	}
}

// Policy returns the engine's invalid unit policy.
func (e *RatingEngine) Policy() InvalidUnitPolicy {
	return e.policy
}

// plannedUnit is a unit in traversal order with its menu.
type plannedUnit struct {
	menu string
	unit pricing.Unit
	skip bool
}

// Rate computes one line item per unit of the plan, in menu then unit order,
// and the totals per currency ascending by currency code.
//
// Usage for each distinct metering unit name is fetched at most once per
// call. A failing usage source fails the call; missing samples count as zero.
func (e *RatingEngine) Rate(ctx context.Context, tenantID string, start, end time.Time, plan pricing.Plan) (billing.Result, error) {
	ctx, span := e.tracer.Start(ctx, "RatingEngine.Rate", trace.WithAttributes(
		attribute.String("tenant_id", tenantID),
		attribute.String("plan_id", plan.ID),
	))
	began := time.Now()
	result, err := e.rate(ctx, tenantID, start, end, plan)
	e.metrics.ObserveRating(err, time.Since(began))
	span.SetAttributes(attribute.Int("line_items", len(result.LineItems)))
	endSpan(span, err)

	if err != nil {
		e.logger.Warn().Err(err).
			Str("tenant_id", tenantID).
			Str("plan_id", plan.ID).
			Msg("rating failed")
		return billing.Result{}, err
	}

	e.logger.Debug().
		Str("tenant_id", tenantID).
		Str("plan_id", plan.ID).
		Int("line_items", len(result.LineItems)).
		Int("currencies", len(result.Totals)).
		Dur("took", time.Since(began)).
		Msg("rated plan")
	return result, nil
}

func (e *RatingEngine) rate(ctx context.Context, tenantID string, start, end time.Time, plan pricing.Plan) (billing.Result, error) {
	if err := ctx.Err(); err != nil {
		return billing.Result{}, cancelled(err)
	}

	units, err := e.flatten(plan)
	if err != nil {
		return billing.Result{}, err
	}

	cache := newUsageCache(e.metrics, func(ctx context.Context, name string) ([]usage.Count, error) {
		ctx, span := e.tracer.Start(ctx, "usage.lookup", trace.WithAttributes(
			attribute.String("metering_unit_name", name),
		))
		counts, err := e.usage.GetUsageCounts(ctx, tenantID, name, start, end)
		endSpan(span, err)
		return counts, err
	})

	items := make([]billing.LineItem, len(units))
	totals := billing.NewTotals()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)

	for i, pu := range units {
		if pu.skip {
			continue
		}
		g.Go(func() error {
			item, err := rateUnit(gctx, cache, pu)
			if err != nil {
				return err
			}
			items[i] = item
			totals.Add(item.Currency, item.PeriodAmount)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return billing.Result{}, cancelled(ctxErr)
		}
		return billing.Result{}, err
	}

	lineItems := make([]billing.LineItem, 0, len(units))
	for i, pu := range units {
		if !pu.skip {
			lineItems = append(lineItems, items[i])
		}
	}

	return billing.Result{
		LineItems: lineItems,
		Totals:    totals.Sorted(),
	}, nil
}

// flatten lists the plan's units into traversal order and applies the invalid unit
// policy before any usage is fetched.
func (e *RatingEngine) flatten(p pricing.Plan) ([]plannedUnit, error) {
	var units []plannedUnit
	for _, m := range p.Menus {
		for _, u := range m.Units {
			if u == nil {
				continue
			}
			pu := plannedUnit{menu: m.DisplayName, unit: u}

			if pricing.IsMetered(u) && pricing.MeteringUnitName(u) == "" {
				if e.policy == InvalidUnitFail {
					return nil, fmt.Errorf("%w: %s unit %q in menu %q has no metering unit name",
						ErrInvalidPlanDefinition, u.Type(), u.Base().DisplayName, m.DisplayName)
				}
				e.logger.Warn().
					Str("plan_id", p.ID).
					Str("menu", m.DisplayName).
					Str("unit", u.Base().DisplayName).
					Msg("skipping metered unit without metering unit name")
				e.metrics.IncSkippedUnit(p.ID)
				pu.skip = true
			}

			units = append(units, pu)
		}
	}
	return units, nil
}

func rateUnit(ctx context.Context, cache *usageCache, pu plannedUnit) (billing.LineItem, error) {
	u := pu.unit
	name := pricing.MeteringUnitName(u)

	var count int64
	if pricing.IsMetered(u) {
		counts, err := cache.get(ctx, name)
		if err != nil {
			return billing.LineItem{}, err
		}
		count = usage.Aggregate(counts, pricing.AggregationOf(u))
	}

	return billing.LineItem{
		MeteringUnitName:       name,
		UnitType:               u.Type(),
		MenuDisplayName:        pu.menu,
		PeriodCount:            count,
		Currency:               pricing.CurrencyOf(u),
		PeriodAmount:           pricing.Amount(u, count),
		PricingUnitDisplayName: u.Base().DisplayName,
	}, nil
}

// usageCache memoizes usage lookups by metering unit name for one rating.
// Each name is fetched exactly once, however many units share it.
type usageCache struct {
	fetch   func(ctx context.Context, name string) ([]usage.Count, error)
	metrics *metrics.Collector
	values  sync.Map // map[string][]usage.Count
	group   singleflight.Group
}

func newUsageCache(m *metrics.Collector, fetch func(ctx context.Context, name string) ([]usage.Count, error)) *usageCache {
	return &usageCache{fetch: fetch, metrics: m}
}

func (c *usageCache) get(ctx context.Context, name string) ([]usage.Count, error) {
	if v, ok := c.values.Load(name); ok {
		c.metrics.IncUsageCacheHit()
		return v.([]usage.Count), nil
	}

	v, err, _ := c.group.Do(name, func() (interface{}, error) {
		// A call that finished between Load and Do has already stored its result.
		if v, ok := c.values.Load(name); ok {
			c.metrics.IncUsageCacheHit()
			return v, nil
		}

		counts, err := c.fetch(ctx, name)
		c.metrics.ObserveUsageLookup(err)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, cancelled(ctxErr)
			}
			return nil, ports.NewLookupError("usage", name, err)
		}

		c.values.Store(name, counts)
		return counts, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]usage.Count), nil
}
