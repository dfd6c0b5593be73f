// Package usage provides metering count types and aggregation functions.
// All functions are pure - no side effects.
package usage

import (
	"fmt"
	"time"

	"github.com/artpar/meterbill/domain/period"
)

// Count is one metering sample (value type). Usage sources report daily
// counts keyed by the JST day start; metering updates report the counter at
// the instant written.
type Count struct {
	Timestamp int64 // epoch seconds
	Count     int64
}

// UpdateMethod determines how a metering count update is applied.
type UpdateMethod string

const (
	MethodAdd    UpdateMethod = "add"    // Add to the current count
	MethodSub    UpdateMethod = "sub"    // Subtract from the current count
	MethodDirect UpdateMethod = "direct" // Replace the current count
)

// CountUpdate is a request to change a metering counter.
type CountUpdate struct {
	Method UpdateMethod
	Count  int64
}

// ValidateUpdate checks a count update.
// This is a PURE function.
func ValidateUpdate(u CountUpdate) error {
	switch u.Method {
	case MethodAdd, MethodSub, MethodDirect:
	default:
		return fmt.Errorf("invalid method %q: must be one of add, sub, direct", u.Method)
	}
	if u.Count < 0 {
		return fmt.Errorf("count must be >= 0, got %d", u.Count)
	}
	return nil
}

// Apply returns the counter value after applying the update to current.
// Subtraction never goes below zero.
// This is a PURE function.
func Apply(current int64, u CountUpdate) int64 {
	switch u.Method {
	case MethodAdd:
		return current + u.Count
	case MethodSub:
		if u.Count > current {
			return 0
		}
		return current - u.Count
	case MethodDirect:
		return u.Count
	}
	return current
}

// DayBucket returns the start of the JST calendar day containing ts, the
// key usage sources report daily counts under.
// This is a PURE function.
func DayBucket(ts time.Time) int64 {
	t := ts.In(period.JST)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, period.JST).Unix()
}
