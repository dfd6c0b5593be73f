package usage

import (
	"sort"
	"time"

	"github.com/artpar/meterbill/domain/pricing"
)

// Aggregate collapses samples into a single count.
// Max takes the largest sample, anything else sums. No samples count as zero.
// This is a PURE function.
func Aggregate(counts []Count, agg pricing.Aggregation) int64 {
	if len(counts) == 0 {
		return 0
	}

	if agg == pricing.AggregateMax {
		peak := counts[0].Count
		for _, c := range counts[1:] {
			if c.Count > peak {
				peak = c.Count
			}
		}
		return peak
	}

	var sum int64
	for _, c := range counts {
		sum += c.Count
	}
	return sum
}

// Daily sums samples per JST calendar day. Each result is keyed by its day
// start and the result is ordered oldest first.
// This is a PURE function.
func Daily(samples []Count) []Count {
	if len(samples) == 0 {
		return nil
	}

	sums := make(map[int64]int64)
	for _, s := range samples {
		sums[DayBucket(time.Unix(s.Timestamp, 0))] += s.Count
	}

	days := make([]Count, 0, len(sums))
	for day, n := range sums {
		days = append(days, Count{Timestamp: day, Count: n})
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Timestamp < days[j].Timestamp })
	return days
}
