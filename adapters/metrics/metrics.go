// Package metrics provides Prometheus metrics collection for meterbill.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector holds all Prometheus metrics for meterbill.
// A nil *Collector is valid and records nothing.
type Collector struct {
	// Rating metrics
	RatingsTotal   *prometheus.CounterVec
	RatingDuration prometheus.Histogram
	UsageLookups   *prometheus.CounterVec
	UsageCacheHits prometheus.Counter
	SkippedUnits   *prometheus.CounterVec

	// Period metrics
	SegmentationsTotal *prometheus.CounterVec
	SegmentsEmitted    prometheus.Counter
	PlanLookups        *prometheus.CounterVec

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Config metrics
	ConfigReloads      prometheus.Counter
	ConfigReloadErrors prometheus.Counter
	ConfigLastReload   prometheus.Gauge
}

// New creates a collector registered with the default registry.
func New() *Collector {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a new metrics collector with a custom registry.
// Useful for testing to avoid global state.
func NewWithRegistry(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		RatingsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "meterbill",
				Name:      "ratings_total",
				Help:      "Total number of plan ratings by result",
			},
			[]string{"result"},
		),
		RatingDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "meterbill",
				Name:      "rating_duration_seconds",
				Help:      "Time to rate a plan including usage lookups",
				Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
		),
		UsageLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "meterbill",
				Name:      "usage_lookups_total",
				Help:      "Usage source lookups by result",
			},
			[]string{"result"},
		),
		UsageCacheHits: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "meterbill",
				Name:      "usage_cache_hits_total",
				Help:      "Usage lookups served from the per-rating cache",
			},
		),
		SkippedUnits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "meterbill",
				Name:      "skipped_units_total",
				Help:      "Metered units without a metering unit name, by plan",
			},
			[]string{"plan_id"},
		),
		SegmentationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "meterbill",
				Name:      "segmentations_total",
				Help:      "Total number of plan period segmentations by result",
			},
			[]string{"result"},
		),
		SegmentsEmitted: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "meterbill",
				Name:      "segments_emitted_total",
				Help:      "Total number of billing segments produced",
			},
		),
		PlanLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "meterbill",
				Name:      "plan_lookups_total",
				Help:      "Plan source lookups by result",
			},
			[]string{"result"},
		),
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "meterbill",
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed",
			},
			[]string{"method", "route", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "meterbill",
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "route"},
		),
		ConfigReloads: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "meterbill",
				Name:      "config_reloads_total",
				Help:      "Total number of successful config reloads",
			},
		),
		ConfigReloadErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "meterbill",
				Name:      "config_reload_errors_total",
				Help:      "Total number of config reload errors",
			},
		),
		ConfigLastReload: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "meterbill",
				Name:      "config_last_reload_timestamp",
				Help:      "Unix timestamp of last successful config reload",
			},
		),
	}
}

// ObserveRating records one Rate call.
func (c *Collector) ObserveRating(err error, d time.Duration) {
	if c == nil {
		return
	}
	c.RatingsTotal.WithLabelValues(resultLabel(err)).Inc()
	c.RatingDuration.Observe(d.Seconds())
}

// ObserveUsageLookup records one call to the usage source.
func (c *Collector) ObserveUsageLookup(err error) {
	if c == nil {
		return
	}
	c.UsageLookups.WithLabelValues(resultLabel(err)).Inc()
}

// IncUsageCacheHit records a usage lookup answered from cache.
func (c *Collector) IncUsageCacheHit() {
	if c == nil {
		return
	}
	c.UsageCacheHits.Inc()
}

// IncSkippedUnit records a unit left out of a rating.
func (c *Collector) IncSkippedUnit(planID string) {
	if c == nil {
		return
	}
	c.SkippedUnits.WithLabelValues(planID).Inc()
}

// ObserveSegmentation records one Segment call and its output size.
func (c *Collector) ObserveSegmentation(err error, segments int) {
	if c == nil {
		return
	}
	c.SegmentationsTotal.WithLabelValues(resultLabel(err)).Inc()
	c.SegmentsEmitted.Add(float64(segments))
}

// ObservePlanLookup records one call to the plan source.
func (c *Collector) ObservePlanLookup(err error) {
	if c == nil {
		return
	}
	c.PlanLookups.WithLabelValues(resultLabel(err)).Inc()
}

// ObserveRequest records one HTTP request.
func (c *Collector) ObserveRequest(method, route string, status int, d time.Duration) {
	if c == nil {
		return
	}
	c.RequestsTotal.WithLabelValues(method, route, StatusClass(status)).Inc()
	c.RequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// ObserveConfigReload records a config reload attempt.
func (c *Collector) ObserveConfigReload(err error, at time.Time) {
	if c == nil {
		return
	}
	if err != nil {
		c.ConfigReloadErrors.Inc()
		return
	}
	c.ConfigReloads.Inc()
	c.ConfigLastReload.Set(float64(at.Unix()))
}

// StatusClass reduces a status code to its class ("2xx", "4xx", ...).
func StatusClass(status int) string {
	if status < 100 || status > 599 {
		return "unknown"
	}
	return strconv.Itoa(status/100) + "xx"
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
