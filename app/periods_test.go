package app_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/artpar/meterbill/adapters/clock"
	"github.com/artpar/meterbill/adapters/memory"
	"github.com/artpar/meterbill/app"
	"github.com/artpar/meterbill/domain/period"
	"github.com/artpar/meterbill/domain/pricing"
	"github.com/artpar/meterbill/domain/tenant"
	"github.com/artpar/meterbill/ports"
	"github.com/rs/zerolog"
)

const day = 24 * 60 * 60

func jst(y int, m time.Month, dd int) int64 {
	return time.Date(y, m, dd, 0, 0, 0, 0, period.JST).Unix()
}

func monthlyPlan(id string) pricing.Plan {
	return pricing.Plan{ID: id, Menus: []pricing.Menu{{Units: []pricing.Unit{
		pricing.FixedUnit{UnitBase: pricing.UnitBase{RecurringInterval: pricing.IntervalMonth}, Amount: d(1000)},
	}}}}
}

func yearlyPlan(id string) pricing.Plan {
	return pricing.Plan{ID: id, Menus: []pricing.Menu{{Units: []pricing.Unit{
		pricing.FixedUnit{UnitBase: pricing.UnitBase{RecurringInterval: pricing.IntervalYear}, Amount: d(10000)},
	}}}}
}

func newSegmenter(now time.Time) *app.PeriodSegmenter {
	return app.NewPeriodSegmenter(app.SegmenterDeps{
		Clock:  clock.NewManual(now),
		Logger: zerolog.Nop(),
	})
}

func checkCoverage(t *testing.T, segs []period.Segment, start, end int64) {
	t.Helper()
	if len(segs) == 0 {
		t.Fatal("no segments")
	}
	for i := 1; i < len(segs); i++ {
		if segs[i].Start >= segs[i-1].Start {
			t.Errorf("segments not descending at %d", i)
		}
		if segs[i].End != segs[i-1].Start-1 {
			t.Errorf("segment %d ends at %d, next starts at %d", i, segs[i].End, segs[i-1].Start)
		}
	}
	if segs[len(segs)-1].Start != start || segs[0].End != end {
		t.Errorf("coverage = [%d, %d], want [%d, %d]", segs[len(segs)-1].Start, segs[0].End, start, end)
	}
}

func TestSegment_SingleMonthlyPlan(t *testing.T) {
	start := jst(2024, 1, 1)
	end := start + 95*day
	plans := memory.NewPlanStore(monthlyPlan("p1"))

	segs, err := newSegmenter(time.Now()).Segment(context.Background(), "t1",
		[]tenant.PlanHistoryEntry{{PlanID: "p1", AppliedAt: start}},
		tenant.BillingContext{CurrentPlanPeriodEnd: end},
		plans.GetPlan)
	if err != nil {
		t.Fatalf("Segment error: %v", err)
	}

	if len(segs) != 4 {
		t.Fatalf("got %d segments, want 4", len(segs))
	}
	checkCoverage(t, segs, start, end)
	for _, s := range segs {
		if s.PlanID != "p1" {
			t.Errorf("segment %+v attributed to wrong plan", s)
		}
	}
}

func TestSegment_PlanChange(t *testing.T) {
	t0 := jst(2024, 1, 1)
	t1 := jst(2024, 3, 15)
	end := jst(2024, 5, 1) - 1
	plans := memory.NewPlanStore(monthlyPlan("p1"), monthlyPlan("p2"))

	segs, err := newSegmenter(time.Now()).Segment(context.Background(), "t1",
		[]tenant.PlanHistoryEntry{
			{PlanID: "p2", AppliedAt: t1},
			{PlanID: "p1", AppliedAt: t0},
		},
		tenant.BillingContext{CurrentPlanPeriodEnd: end},
		plans.GetPlan)
	if err != nil {
		t.Fatalf("Segment error: %v", err)
	}
	checkCoverage(t, segs, t0, end)

	for _, s := range segs {
		switch s.PlanID {
		case "p1":
			if s.Start < t0 || s.End > t1-1 {
				t.Errorf("p1 segment %+v crosses the plan change", s)
			}
		case "p2":
			if s.Start < t1 || s.End > end {
				t.Errorf("p2 segment %+v outside its plan span", s)
			}
		default:
			t.Errorf("unexpected plan %q", s.PlanID)
		}
	}
}

func TestSegment_YearlyPlan(t *testing.T) {
	start := jst(2023, 4, 1)
	end := jst(2025, 4, 1) - 1
	plans := memory.NewPlanStore(yearlyPlan("annual"))

	segs, err := newSegmenter(time.Now()).Segment(context.Background(), "t1",
		[]tenant.PlanHistoryEntry{{PlanID: "annual", AppliedAt: start}},
		tenant.BillingContext{CurrentPlanPeriodEnd: end},
		plans.GetPlan)
	if err != nil {
		t.Fatalf("Segment error: %v", err)
	}

	if len(segs) != 2 {
		t.Fatalf("got %d segments, want 2", len(segs))
	}
	checkCoverage(t, segs, start, end)
	if segs[1].End != jst(2024, 4, 1)-1 {
		t.Errorf("first year ends at %s", time.Unix(segs[1].End, 0).In(period.JST))
	}
}

func TestSegment_OpenEndedUsesClock(t *testing.T) {
	start := jst(2024, 1, 1)
	now := time.Unix(jst(2024, 2, 10), 0)
	plans := memory.NewPlanStore(monthlyPlan("p1"))

	segs, err := newSegmenter(now).Segment(context.Background(), "t1",
		[]tenant.PlanHistoryEntry{{PlanID: "p1", AppliedAt: start}},
		tenant.BillingContext{},
		plans.GetPlan)
	if err != nil {
		t.Fatalf("Segment error: %v", err)
	}

	checkCoverage(t, segs, start, now.Unix())
}

func TestSegment_SameTimestampEntry(t *testing.T) {
	at := jst(2024, 1, 1)
	plans := memory.NewPlanStore(monthlyPlan("p1"), monthlyPlan("p2"))

	segs, err := newSegmenter(time.Now()).Segment(context.Background(), "t1",
		[]tenant.PlanHistoryEntry{
			{PlanID: "p1", AppliedAt: at},
			{PlanID: "p2", AppliedAt: at},
		},
		tenant.BillingContext{CurrentPlanPeriodEnd: at + 10*day},
		plans.GetPlan)
	if err != nil {
		t.Fatalf("Segment error: %v", err)
	}

	for _, s := range segs {
		if s.PlanID == "p1" {
			t.Errorf("superseded entry produced segment %+v", s)
		}
	}
	if len(segs) != 1 {
		t.Errorf("got %d segments, want 1", len(segs))
	}
}

func TestSegment_EmptyHistory(t *testing.T) {
	segs, err := newSegmenter(time.Now()).Segment(context.Background(), "t1", nil, tenant.BillingContext{}, memory.NewPlanStore().GetPlan)
	if err != nil {
		t.Fatalf("Segment error: %v", err)
	}
	if segs == nil || len(segs) != 0 {
		t.Errorf("segs = %#v, want empty non-nil slice", segs)
	}
}

func TestSegment_SkipsEmptyPlanID(t *testing.T) {
	t0 := jst(2024, 1, 1)
	t1 := jst(2024, 2, 1)
	t2 := jst(2024, 3, 1)
	plans := memory.NewPlanStore(monthlyPlan("p1"), monthlyPlan("p2"))

	segs, err := newSegmenter(time.Now()).Segment(context.Background(), "t1",
		[]tenant.PlanHistoryEntry{
			{PlanID: "p1", AppliedAt: t0},
			{PlanID: "", AppliedAt: t1},
			{PlanID: "p2", AppliedAt: t2},
		},
		tenant.BillingContext{CurrentPlanPeriodEnd: jst(2024, 4, 1) - 1},
		plans.GetPlan)
	if err != nil {
		t.Fatalf("Segment error: %v", err)
	}

	for _, s := range segs {
		if s.Start >= t1 && s.Start < t2 {
			t.Errorf("segment %+v falls in the plan-less gap", s)
		}
	}
	if len(segs) != 2 {
		t.Errorf("got %d segments, want 2", len(segs))
	}
}

func TestSegment_PlanLookupOncePerPlan(t *testing.T) {
	plans := memory.NewPlanStore(monthlyPlan("p1"), monthlyPlan("p2"))

	_, err := newSegmenter(time.Now()).Segment(context.Background(), "t1",
		[]tenant.PlanHistoryEntry{
			{PlanID: "p1", AppliedAt: jst(2024, 1, 1)},
			{PlanID: "p2", AppliedAt: jst(2024, 2, 1)},
			{PlanID: "p1", AppliedAt: jst(2024, 3, 1)},
		},
		tenant.BillingContext{CurrentPlanPeriodEnd: jst(2024, 4, 1) - 1},
		plans.GetPlan)
	if err != nil {
		t.Fatalf("Segment error: %v", err)
	}
	if plans.Lookups("p1") != 1 || plans.Lookups("p2") != 1 {
		t.Errorf("lookups p1=%d p2=%d, want 1 each", plans.Lookups("p1"), plans.Lookups("p2"))
	}
}

func TestSegment_PlanLookupFailure(t *testing.T) {
	_, err := newSegmenter(time.Now()).Segment(context.Background(), "t1",
		[]tenant.PlanHistoryEntry{{PlanID: "gone", AppliedAt: jst(2024, 1, 1)}},
		tenant.BillingContext{CurrentPlanPeriodEnd: jst(2024, 2, 1)},
		memory.NewPlanStore().GetPlan)

	if !errors.Is(err, ports.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	var le *ports.LookupError
	if !errors.As(err, &le) || le.Source != "plan" || le.Key != "gone" {
		t.Errorf("err = %#v, want plan LookupError", err)
	}
}

func TestSegment_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newSegmenter(time.Now()).Segment(ctx, "t1",
		[]tenant.PlanHistoryEntry{{PlanID: "p1", AppliedAt: jst(2024, 1, 1)}},
		tenant.BillingContext{CurrentPlanPeriodEnd: jst(2024, 2, 1)},
		memory.NewPlanStore(monthlyPlan("p1")).GetPlan)

	if !errors.Is(err, app.ErrCancelled) {
		t.Errorf("err = %v, want ErrCancelled", err)
	}
}
