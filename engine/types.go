// Package engine implements the Evaluation Engine (spec.md §4.H): scoring
// a batch of candidate "nexts" against the current Futures Population,
// either with a local worker pool or by dispatching to distributed
// helpers with local fallback. It owns the Next/Future data model so that
// both the local and distributed evaluators, and every caller in
// package search, share one vocabulary.
package engine

import "playfun/movie"

// Origin identifies where a candidate Next came from (spec.md §3).
type Origin int

const (
	OriginMotif Origin = iota
	OriginFuture
	OriginBackfill
)

func (o Origin) String() string {
	switch o {
	case OriginMotif:
		return "motif"
	case OriginFuture:
		return "future"
	case OriginBackfill:
		return "backfill"
	default:
		return "unknown"
	}
}

// Next is a short input sequence considered for immediate commit
// (spec.md §3).
type Next struct {
	Inputs []movie.Frame
	Origin Origin
	// OriginID is the motif id when Origin == OriginMotif, the future
	// index when Origin == OriginFuture, and unused for OriginBackfill.
	OriginID    int
	Explanation string
}

// Future is a longer input plan used to forecast the value of committing
// a Next (spec.md §3).
type Future struct {
	Inputs         []movie.Frame
	Weighted       bool
	DesiredLength  int
	TerminalMemory []byte
}

// Result is what the Evaluation Engine reports for one Next, scored
// against the entire Futures Population (spec.md §4.H: "Outputs per
// next: immediate, futsum, worst_future, best_future, per-future scores
// vector").
type Result struct {
	Immediate    float64
	FutureTotals []float64 // T_f per future, in future-index order
	FutSum       float64
	WorstFuture  int
	BestFuture   int
	PostState    []byte
	PostMemory   []byte
}

// Score is next_score(N) = immediate(N) + sum_f T_f (spec.md §4.G).
func (r Result) Score() float64 {
	return r.Immediate + r.FutSum
}

// SumFutureTotals adds up FutureTotals in index order. Spec.md §5
// requires a fixed, index-ordered summation so that floating point
// reduction does not depend on worker completion order; every caller
// that needs FutSum should go through this rather than re-deriving it
// some other way.
func SumFutureTotals(totals []float64) float64 {
	var sum float64
	for _, t := range totals {
		sum += t
	}
	return sum
}

// WorstBest returns the indices of the minimum and maximum entries of
// totals, breaking ties toward the lowest index (stable, deterministic).
func WorstBest(totals []float64) (worst, best int) {
	for i, t := range totals {
		if i == 0 || t < totals[worst] {
			worst = i
		}
		if i == 0 || t > totals[best] {
			best = i
		}
	}
	return worst, best
}
