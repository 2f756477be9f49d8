// ABOUTME: Conversion of wire-level millisecond timeouts to durations
// ABOUTME: Saturates instead of overflowing for very large values

package coord

import (
	"math"
	"time"
)

// MillisToDuration converts ms to a Duration, saturating at the largest
// representable Duration. Non-positive and NaN inputs map to zero so
// callers fail fast rather than wait forever.
func MillisToDuration(ms float64) time.Duration {
	if math.IsNaN(ms) || ms <= 0 {
		return 0
	}
	ns := ms * float64(time.Millisecond)
	if ns >= math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(ns)
}
