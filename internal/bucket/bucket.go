// Package bucket maps window-relative time and price delta onto the
// discrete cell coordinates used by the probability matrix.
package bucket

// TimeBucketCount is the number of 15-second sub-intervals in a 900-second
// window. Fixed at 60 rather than the coarser 30-bucket/30-second variant:
// see DESIGN.md for the resolution tradeoff.
const TimeBucketCount = 60

const secondsPerBucket = 900 / TimeBucketCount

// deltaCutpoints defines the upper edge (in USD) of every non-negative
// DeltaBucket, in increasing order; negative buckets mirror them by sign.
// $5-wide near zero, widening outward, open-ended tails.
var deltaCutpoints = [...]float64{
	5, 10, 15, 20, 25, 30, 40, 50, 65, 80, 100, 125, 150, 200, 300, 500,
}

// NegativeDeltaBucketCount and PositiveDeltaBucketCount give the canonical
// 17-negative / 16-non-negative partition. The negative side gets one
// finite cell per cutpoint plus a separate open-ended tail beyond the last
// one (17 cells); the non-negative side folds its open-ended tail into the
// outermost cutpoint's cell instead of keeping it separate (16 cells), per
// the spec's asymmetric split.
const (
	NegativeDeltaBucketCount = len(deltaCutpoints) + 1
	PositiveDeltaBucketCount = len(deltaCutpoints)
	DeltaBucketCount         = NegativeDeltaBucketCount + PositiveDeltaBucketCount
)

// ZeroDeltaBucket is the index of the bucket covering delta == 0.
const ZeroDeltaBucket = NegativeDeltaBucketCount

// Coordinate is a single (TimeBucket, DeltaBucket) cell address.
type Coordinate struct {
	TimeBucket    int
	DeltaBucket   int
	OutOfRange    bool
	OutOfRangeLow bool // clipped on the time axis below 0
}

// TimeBucketFor maps seconds_into_window (expected [0,900)) to a TimeBucket
// index, clipping out-of-range inputs to the outermost bucket.
func TimeBucketFor(secondsIntoWindow float64) (tb int, outOfRange bool) {
	if secondsIntoWindow < 0 {
		return 0, true
	}
	if secondsIntoWindow >= 900 {
		return TimeBucketCount - 1, true
	}
	tb = int(secondsIntoWindow) / secondsPerBucket
	if tb >= TimeBucketCount {
		tb = TimeBucketCount - 1
	}
	return tb, false
}

// DeltaBucketFor maps a signed USD delta to a DeltaBucket index, clipping
// extreme deltas to the outermost bucket and flagging out_of_range.
func DeltaBucketFor(delta float64) (db int, outOfRange bool) {
	if delta >= 0 {
		last := len(deltaCutpoints) - 1
		for i := 0; i < last; i++ {
			if delta <= deltaCutpoints[i] {
				return ZeroDeltaBucket + i, false
			}
		}
		// The outermost non-negative cell absorbs the open-ended tail
		// rather than keeping it as its own cell (17-negative/16-non-negative).
		return ZeroDeltaBucket + last, delta > deltaCutpoints[last]
	}
	abs := -delta
	for i, cut := range deltaCutpoints {
		if abs <= cut {
			return ZeroDeltaBucket - 1 - i, false
		}
	}
	return 0, true
}

// Locate buckets (secondsIntoWindow, delta) into a Coordinate. Total and
// deterministic for any real input; out-of-range inputs clip rather than
// error.
func Locate(secondsIntoWindow, delta float64) Coordinate {
	tb, tOut := TimeBucketFor(secondsIntoWindow)
	db, dOut := DeltaBucketFor(delta)
	return Coordinate{
		TimeBucket:    tb,
		DeltaBucket:   db,
		OutOfRange:    tOut || dOut,
		OutOfRangeLow: secondsIntoWindow < 0,
	}
}
