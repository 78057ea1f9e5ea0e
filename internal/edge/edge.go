// Package edge computes mispricing edge and a bet/no-bet recommendation
// from a probability matrix cell and a live market quote: inputs flow into
// a structured decision with a human-readable reason, with hard
// floor/ceiling checks ahead of sizing.
package edge

import (
	"fmt"
	"math"

	"github.com/web3guy0/btc15m/internal/matrixbuilder"
	"github.com/web3guy0/btc15m/internal/stats"
)

// Direction is the side a recommendation concerns.
type Direction string

const (
	Up   Direction = "UP"
	Down Direction = "DOWN"
)

// MinEdge is the default minimum edge required to bet, keyed by
// confidence. Unreliable cells never clear a threshold - they are excluded
// from the map entirely, so look-ups must check ok. Evaluate falls back to
// this package default when callers pass a nil thresholds map; callers
// wiring the configurable edge.min_strong/min_moderate/min_weak options
// build one with Thresholds instead.
var MinEdge = map[stats.Confidence]float64{
	stats.Strong:   0.05,
	stats.Moderate: 0.07,
	stats.Weak:     0.15,
}

// Thresholds builds a per-confidence minimum-edge map from the configured
// edge.min_strong/min_moderate/min_weak values, for passing to Evaluate.
func Thresholds(strong, moderate, weak float64) map[stats.Confidence]float64 {
	return map[stats.Confidence]float64{
		stats.Strong:   strong,
		stats.Moderate: moderate,
		stats.Weak:     weak,
	}
}

// Recommendation is the output of a single edge evaluation.
type Recommendation struct {
	ShouldBet          bool
	Direction          Direction
	Edge               float64
	Confidence         stats.Confidence
	OurProbability     float64
	MarketProbability  float64
	EVPerUnit          float64
	Reason             string
}

// Evaluate computes the edge for betting `direction` on cell at the given
// market_price (in [0,1]) for that direction. thresholds is the
// per-confidence minimum edge to clear before betting; a nil map falls
// back to the package default MinEdge.
func Evaluate(cell *matrixbuilder.Cell, direction Direction, marketPrice float64, thresholds map[stats.Confidence]float64) Recommendation {
	if thresholds == nil {
		thresholds = MinEdge
	}
	pDirection := directionalProbability(cell, direction)
	confidence := cell.Confidence

	var edgeVal float64
	if marketPrice > 0 {
		edgeVal = (pDirection - marketPrice) / marketPrice
	} else {
		edgeVal = math.Inf(1)
	}

	ev := pDirection*(1-marketPrice)/nonZero(marketPrice) - (1 - pDirection)

	rec := Recommendation{
		Direction:         direction,
		Edge:              edgeVal,
		Confidence:        confidence,
		OurProbability:    pDirection,
		MarketProbability: marketPrice,
		EVPerUnit:         ev,
	}

	if confidence == stats.Unreliable {
		rec.Reason = fmt.Sprintf("cell unreliable (n=%d), never bet", cell.N())
		return rec
	}

	minEdge, ok := thresholds[confidence]
	if !ok {
		rec.Reason = "no edge threshold configured for confidence level"
		return rec
	}

	if marketPrice <= 0 {
		rec.Reason = "market_price is zero; edge undefined, no bet"
		return rec
	}

	if edgeVal+1e-9 < minEdge {
		rec.Reason = fmt.Sprintf("edge %.4f below %s minimum %.4f", edgeVal, confidence, minEdge)
		return rec
	}

	rec.ShouldBet = true
	rec.Reason = fmt.Sprintf("edge %.4f clears %s minimum %.4f", edgeVal, confidence, minEdge)
	return rec
}

// directionalProbability returns the conservative Wilson-lower-bound
// probability for the requested direction.
func directionalProbability(cell *matrixbuilder.Cell, direction Direction) float64 {
	if direction == Up {
		return cell.WilsonLower
	}
	return 1 - cell.WilsonUpper
}

func nonZero(v float64) float64 {
	if v == 0 {
		return 1e-9
	}
	return v
}

// PickBest chooses between two recommendations that both clear their
// thresholds: higher edge wins; on a further tie, prefer the direction
// aligned with momentumSign (-1, 0, +1 for delta's sign).
func PickBest(up, down Recommendation, momentumSign int) Recommendation {
	if !up.ShouldBet {
		return down
	}
	if !down.ShouldBet {
		return up
	}
	if up.Edge > down.Edge+1e-9 {
		return up
	}
	if down.Edge > up.Edge+1e-9 {
		return down
	}
	if momentumSign > 0 {
		return up
	}
	if momentumSign < 0 {
		return down
	}
	return up
}
