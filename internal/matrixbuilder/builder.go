package matrixbuilder

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/web3guy0/btc15m/internal/bucket"
	"github.com/web3guy0/btc15m/internal/candles"
)

const windowSeconds = 15 * 60

// Report summarizes a build run.
type Report struct {
	WindowsBuilt      int
	WindowsDisqualified int
	CandlesConsumed   int
}

// window accumulates the candles belonging to one 15-minute window while
// grouping, before being folded into the matrix.
type window struct {
	start   time.Time
	candles []candles.Candle
}

// Build folds an ordered sequence of 1-second candles into a Matrix. Input
// must be sorted by timestamp; candles are grouped by window-start
// (floor-to-15-min) and any window whose 900 seconds are not fully covered
// is discarded rather than extrapolated.
func Build(input []candles.Candle) (*Matrix, Report) {
	m := &Matrix{CreatedAt: now(), BucketingSchemeID: "v1-60x33"}
	var report Report
	report.CandlesConsumed = len(input)

	windows := groupByWindow(input)

	for _, w := range windows {
		if !isComplete(w) {
			report.WindowsDisqualified++
			continue
		}
		foldWindow(m, w)
		report.WindowsBuilt++
		if m.DataSpanStart.IsZero() || w.start.Before(m.DataSpanStart) {
			m.DataSpanStart = w.start
		}
		end := w.start.Add(windowSeconds * time.Second)
		if end.After(m.DataSpanEnd) {
			m.DataSpanEnd = end
		}
	}

	m.TotalWindowsObserved = report.WindowsBuilt
	m.recomputeAll()

	log.Info().
		Int("windows_built", report.WindowsBuilt).
		Int("windows_disqualified", report.WindowsDisqualified).
		Int("candles_consumed", report.CandlesConsumed).
		Msg("matrix build complete")

	return m, report
}

func groupByWindow(input []candles.Candle) []window {
	byStart := make(map[int64]*window)
	var order []int64

	for _, c := range input {
		start := c.Timestamp.Truncate(windowSeconds * time.Second).Unix()
		w, ok := byStart[start]
		if !ok {
			w = &window{start: time.Unix(start, 0).UTC()}
			byStart[start] = w
			order = append(order, start)
		}
		w.candles = append(w.candles, c)
	}

	out := make([]window, 0, len(order))
	for _, start := range order {
		out = append(out, *byStart[start])
	}
	return out
}

// isComplete requires one candle per second across the full 900-second
// window; missing candles in the middle disqualify the window rather than
// being extrapolated.
func isComplete(w window) bool {
	if len(w.candles) != windowSeconds {
		return false
	}
	for i, c := range w.candles {
		expected := w.start.Add(time.Duration(i) * time.Second)
		if !c.Timestamp.Equal(expected) {
			return false
		}
	}
	return true
}

func foldWindow(m *Matrix, w window) {
	openPrice := w.candles[0].Open
	closePrice := w.candles[len(w.candles)-1].Close

	outcome := OutcomeUp
	if closePrice < openPrice {
		outcome = OutcomeDown
	} else if closePrice == openPrice {
		outcome = TieBreakDirection
	}

	for i, c := range w.candles {
		secondsIntoWindow := float64(i)
		delta := c.Close - openPrice
		coord := bucket.Locate(secondsIntoWindow, delta)

		cell := m.Cell(coord.TimeBucket, coord.DeltaBucket)
		if outcome == OutcomeUp {
			cell.CountUp++
		} else {
			cell.CountDown++
		}
	}
}

// now is overridden in tests needing deterministic timestamps; production
// code always uses wall-clock time.
var now = time.Now
