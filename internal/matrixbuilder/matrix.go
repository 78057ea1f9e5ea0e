// Package matrixbuilder folds historical BTC candles into the dense
// probability matrix the live bot queries at decision time.
package matrixbuilder

import (
	"time"

	"github.com/web3guy0/btc15m/internal/bucket"
	"github.com/web3guy0/btc15m/internal/stats"
)

// Outcome is the direction a window ended.
type Outcome string

const (
	OutcomeUp   Outcome = "UP"
	OutcomeDown Outcome = "DOWN"
)

// TieBreakDirection is the fixed convention applied when close == open:
// classified as DOWN, identically offline (here) and online.
const TieBreakDirection = OutcomeDown

// Cell is one (TimeBucket, DeltaBucket) coordinate's accumulated counts and
// derived statistics.
type Cell struct {
	CountUp   int
	CountDown int

	PUp           float64
	WilsonLower   float64
	WilsonUpper   float64
	PosteriorMean float64
	Confidence    stats.Confidence
}

// N is the total sample size backing this cell.
func (c Cell) N() int {
	return c.CountUp + c.CountDown
}

// Recompute derives PUp, Wilson bounds, posterior mean and confidence from
// the raw counts. Exported so callers populating a Cell's counts directly
// (tests, or an incremental-update path) can refresh its derived fields
// without re-running a full build.
func (c *Cell) Recompute() {
	c.recompute()
}

// recompute derives PUp, Wilson bounds, posterior mean and confidence from
// the raw counts. Called after all counts for a build are in.
func (c *Cell) recompute() {
	n := c.N()
	if n == 0 {
		c.PUp = 0.5
		c.WilsonLower = 0
		c.WilsonUpper = 1
		c.PosteriorMean = stats.PosteriorMean(0, 0, stats.DefaultAlpha0, stats.DefaultBeta0)
		c.Confidence = stats.Unreliable
		return
	}
	c.PUp = float64(c.CountUp) / float64(n)
	w := stats.Wilson(c.CountUp, n, stats.DefaultZ)
	c.WilsonLower = w.Lower
	c.WilsonUpper = w.Upper
	c.PosteriorMean = stats.PosteriorMean(c.CountUp, n, stats.DefaultAlpha0, stats.DefaultBeta0)
	c.Confidence = stats.ClassifyConfidence(n)
}

// Matrix is the dense grid of cells plus build metadata.
type Matrix struct {
	Cells [bucket.TimeBucketCount][bucket.DeltaBucketCount]Cell

	TotalWindowsObserved int
	DataSpanStart        time.Time
	DataSpanEnd          time.Time
	CreatedAt            time.Time
	BucketingSchemeID    string
}

// Cell returns the cell at coordinate (t,d), or the outermost clipped cell
// if out of range.
func (m *Matrix) Cell(t, d int) *Cell {
	if t < 0 {
		t = 0
	}
	if t >= bucket.TimeBucketCount {
		t = bucket.TimeBucketCount - 1
	}
	if d < 0 {
		d = 0
	}
	if d >= bucket.DeltaBucketCount {
		d = bucket.DeltaBucketCount - 1
	}
	return &m.Cells[t][d]
}

func (m *Matrix) recomputeAll() {
	for t := range m.Cells {
		for d := range m.Cells[t] {
			m.Cells[t][d].recompute()
		}
	}
}
