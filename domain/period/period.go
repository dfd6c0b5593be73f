// Package period splits plan history into calendar billing periods.
// All functions are pure - no side effects.
package period

import (
	"sort"
	"time"

	"github.com/artpar/meterbill/domain/tenant"
)

// JST is the reference zone all period boundaries and labels are computed in.
var JST = time.FixedZone("JST", 9*60*60)

// LabelLayout formats segment boundaries in labels.
const LabelLayout = "2006年01月02日 15:04:05"

// Granularity is the length of one billing period.
type Granularity string

const (
	Month Granularity = "month"
	Year  Granularity = "year"
)

// GranularityFor returns Year for plans with a yearly unit, Month otherwise.
func GranularityFor(yearly bool) Granularity {
	if yearly {
		return Year
	}
	return Month
}

// Segment is one billing period attributed to a plan (value type).
type Segment struct {
	Label  string
	PlanID string
	Start  int64 // epoch seconds, inclusive
	End    int64 // epoch seconds, inclusive
}

// Span is the interval during which one history entry's plan was in force.
type Span struct {
	PlanID string
	Start  int64
	End    int64
}

// Spans turns ascending plan history into plan intervals. Each entry runs
// until one second before the next entry is applied; the last runs until
// final. Entries without a plan are skipped but still bound their predecessor.
// Negative timestamps are treated as zero.
// This is a PURE function.
func Spans(sorted []tenant.PlanHistoryEntry, final int64) []Span {
	spans := make([]Span, 0, len(sorted))
	for i, h := range sorted {
		if h.PlanID == "" {
			continue
		}

		end := final
		if i+1 < len(sorted) {
			end = nonNegative(sorted[i+1].AppliedAt) - 1
		}

		spans = append(spans, Span{
			PlanID: h.PlanID,
			Start:  nonNegative(h.AppliedAt),
			End:    end,
		})
	}
	return spans
}

// Split cuts [start, end] into consecutive periods of one granularity unit,
// stepping through the JST calendar from start. The last period is clipped
// to end. Empty or inverted ranges yield no periods.
// This is a PURE function.
func Split(planID string, start, end int64, g Granularity) []Segment {
	cur := time.Unix(start, 0).In(JST)
	last := time.Unix(end, 0).In(JST)

	var segments []Segment
	for !cur.After(last) {
		segEnd := Step(cur, g).Add(-time.Second)
		if segEnd.After(last) {
			segEnd = last
		}
		if !segEnd.After(cur) {
			break
		}

		segments = append(segments, Segment{
			Label:  Label(cur, segEnd),
			PlanID: planID,
			Start:  cur.Unix(),
			End:    segEnd.Unix(),
		})

		if segEnd.Equal(last) {
			break
		}
		cur = segEnd.Add(time.Second)
	}
	return segments
}

// Step advances t by one granularity unit on its calendar. The day of month
// is clamped to the target month's length (Jan 31 + 1 month = Feb 28/29).
// This is a PURE function.
func Step(t time.Time, g Granularity) time.Time {
	if g == Year {
		return addMonths(t, 12)
	}
	return addMonths(t, 1)
}

func addMonths(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	hh, mm, ss := t.Clock()

	months := int(m) - 1 + n
	ty := y + months/12
	tm := time.Month(months%12 + 1)

	if last := daysIn(ty, tm); d > last {
		d = last
	}
	return time.Date(ty, tm, d, hh, mm, ss, t.Nanosecond(), t.Location())
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// Label renders a period as "<start> ～ <end>" in JST.
// This is a PURE function.
func Label(start, end time.Time) string {
	return start.In(JST).Format(LabelLayout) + " ～ " + end.In(JST).Format(LabelLayout)
}

// SortDescending orders segments by start, most recent first.
func SortDescending(segments []Segment) {
	sort.SliceStable(segments, func(i, j int) bool {
		return segments[i].Start > segments[j].Start
	})
}

func nonNegative(v int64) int64 {
	if v > 0 {
		return v
	}
	return 0
}
