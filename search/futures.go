// Package search implements the control loop living above the
// Evaluation Engine: the Nexts Generator, the Futures Population, the
// Selector/Committer, and the Backtracker (spec.md §4.F-§4.J). It owns
// the RNG and the Motif Store on behalf of the whole engine (spec.md §3
// "Ownership").
package search

import (
	"github.com/golang/glog"

	"playfun/config"
	"playfun/engine"
	"playfun/motif"
	"playfun/movie"
	"playfun/rng"
)

// futureRecord is a single future plus the metadata the population
// mutates alongside it: one record type per future so the "aligned
// parallel arrays must be swap-erased in lockstep" pitfall (spec.md §9)
// is structurally impossible — there is only ever one slice to mutate.
type futureRecord struct {
	engine.Future
	lastTotal float64
}

// Population owns the current futures set and the two adaptive control
// values spec.md §4.G describes: the per-future desired_length (carried
// on each record) and nfutures_, the population's target size.
type Population struct {
	cfg      config.Tunables
	nfutures float64 // fractional running value; spec.md §4.G scales it by +-5% per round
	records  []futureRecord
	seen     map[uint64]bool
}

// NewPopulation returns an empty Population targeting the given initial
// nfutures_ (typically config.Tunables.MinFutures, or a persisted value
// clamped via persistence.ClampNFutures).
func NewPopulation(cfg config.Tunables, nfutures int) *Population {
	return &Population{
		cfg:      cfg,
		nfutures: float64(nfutures),
		seen:     make(map[uint64]bool),
	}
}

// NFutures returns the current target size, rounded to the nearest int.
func (p *Population) NFutures() int {
	return int(p.nfutures + 0.5)
}

// Futures returns the current population's Future values, for passing to
// the Evaluation Engine.
func (p *Population) Futures() []engine.Future {
	out := make([]engine.Future, len(p.records))
	for i, r := range p.records {
		out[i] = r.Future
	}
	return out
}

// Populate grows the population up to NFutures(), drawing fresh futures
// from motifs (spec.md §4.G "Populate to target size").
func (p *Population) Populate(r *rng.RNG, motifs *motif.Store) {
	target := p.NFutures()
	attempts := 0
	for len(p.records) < target && attempts < target*8+16 {
		attempts++
		fut := p.sampleFuture(r, motifs)
		h := hashFrames(fut.Inputs)
		if p.seen[h] {
			continue // "avoid exact duplicates when cheap": skip, try again
		}
		p.seen[h] = true
		p.records = append(p.records, futureRecord{Future: fut})
	}
}

func (p *Population) sampleFuture(r *rng.RNG, motifs *motif.Store) engine.Future {
	lo, hi := p.cfg.MinFutureLength, p.cfg.MaxFutureLength
	if hi < lo {
		hi = lo
	}
	desired := lo
	if hi > lo {
		desired = lo + r.Intn(hi-lo+1)
	}
	weighted := r.NextF64Unit() < 0.5

	var inputs []movie.Frame
	for len(inputs) < desired {
		_, m := motifs.Sample(r, weighted)
		inputs = append(inputs, m.Inputs...)
	}
	inputs = inputs[:desired]

	return engine.Future{Inputs: inputs, Weighted: weighted, DesiredLength: desired}
}

// ApplyScores implements the rest of spec.md §4.G: per-future length
// adaptation, working-set adaptation, pruning of the weakest futures,
// and mutation of the best. totals must be exactly len(p.records) long,
// in the same order as Futures() returned them for the round just
// scored.
func (p *Population) ApplyScores(r *rng.RNG, totals []float64) {
	if len(totals) != len(p.records) {
		glog.Warningf("search: ApplyScores totals length %d != population length %d, skipping", len(totals), len(p.records))
		return
	}

	p.adaptLengths(totals)
	p.adaptWorkingSet(totals)
	p.prune()
	p.mutateBest(r)
}

func (p *Population) adaptLengths(totals []float64) {
	step := p.cfg.DesiredLengthStepFrac
	if step <= 0 {
		step = 0.10
	}
	for i := range p.records {
		p.records[i].lastTotal = totals[i]
		length := p.records[i].DesiredLength
		var next int
		if totals[i] > 0 {
			next = growLength(length, step)
		} else {
			next = shrinkLength(length, step)
		}
		next = clampInt(next, p.cfg.MinFutureLength, p.cfg.MaxFutureLength)
		p.records[i].DesiredLength = next
	}
}

func growLength(length int, step float64) int {
	grown := int(float64(length)*(1+step) + 0.5)
	if grown <= length {
		grown = length + 1
	}
	return grown
}

func shrinkLength(length int, step float64) int {
	shrunk := int(float64(length)*(1-step) + 0.5)
	if shrunk >= length {
		shrunk = length - 1
	}
	return shrunk
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// adaptWorkingSet implements "let p = |{f : T_f > 0}| / nfutures_. If
// p < 0.4, nfutures_ *= 1.05 (capped at MAX_FUTURES). If p > 0.6,
// nfutures_ *= 0.95 (floored at MIN_FUTURES)." (spec.md §4.G).
func (p *Population) adaptWorkingSet(totals []float64) {
	if len(totals) == 0 || p.nfutures <= 0 {
		return
	}
	var positive int
	for _, t := range totals {
		if t > 0 {
			positive++
		}
	}
	frac := float64(positive) / p.nfutures

	step := p.cfg.NfuturesStepFrac
	if step <= 0 {
		step = 0.05
	}
	switch {
	case frac < 0.4:
		p.nfutures = minF(p.nfutures*(1+step), float64(p.cfg.MaxFutures))
	case frac > 0.6:
		p.nfutures = maxF(p.nfutures*(1-step), float64(p.cfg.MinFutures))
	}
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func maxF(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

// prune drops the DROPFUTURES+MUTATEFUTURES futures with the lowest
// lastTotal, ties broken toward the lowest index (spec.md §4.G, §8
// scenario 3). Because each record carries its own total, the "aligned
// array" invariant holds automatically: there is nothing else to keep in
// lockstep.
func (p *Population) prune() {
	n := p.cfg.DropFutures + p.cfg.MutateFutures
	if n <= 0 || n >= len(p.records) {
		return
	}

	order := make([]int, len(p.records))
	for i := range order {
		order[i] = i
	}
	// Stable selection of the n lowest totals, ties toward lower index:
	// a straightforward partial selection sort is plenty for the small
	// n (DROPFUTURES+MUTATEFUTURES) this is ever called with.
	for k := 0; k < n; k++ {
		min := k
		for i := k + 1; i < len(order); i++ {
			ti, tm := p.records[order[i]].lastTotal, p.records[order[min]].lastTotal
			if ti < tm || (ti == tm && order[i] < order[min]) {
				min = i
			}
		}
		order[k], order[min] = order[min], order[k]
	}
	drop := make(map[int]bool, n)
	for _, idx := range order[:n] {
		drop[idx] = true
	}

	kept := p.records[:0:0]
	for i, rec := range p.records {
		if !drop[i] {
			kept = append(kept, rec)
		}
	}
	p.records = kept
}

// mutateBest duplicates the single highest-lastTotal future
// MUTATEFUTURES times, applying each of the four independent mutations
// of spec.md §4.G with independent probability to each clone.
func (p *Population) mutateBest(r *rng.RNG) {
	if len(p.records) == 0 || p.cfg.MutateFutures <= 0 {
		return
	}

	best := 0
	for i, rec := range p.records {
		if rec.lastTotal > p.records[best].lastTotal {
			best = i
		}
	}
	source := p.records[best]

	for k := 0; k < p.cfg.MutateFutures; k++ {
		clone := cloneRecord(source)
		if r.NextF64Unit() < 0.5 {
			clone.Weighted = !clone.Weighted
		}
		if r.NextF64Unit() < 0.5 && len(clone.Inputs) > 1 {
			minLen := 1
			newLen := minLen + r.Intn(len(clone.Inputs))
			clone.Inputs = clone.Inputs[:newLen]
			clone.DesiredLength = newLen
		}
		if r.NextF64Unit() < 0.5 {
			dualized := make([]movie.Frame, len(clone.Inputs))
			for i, f := range clone.Inputs {
				dualized[i] = movie.Dualize(f)
			}
			clone.Inputs = dualized
		}
		if r.NextF64Unit() < 0.5 && len(clone.Inputs) > 1 {
			start := r.Intn(len(clone.Inputs))
			maxSpan := len(clone.Inputs) - start
			span := 1 + r.Intn(maxSpan)
			movie.ReverseSpan(clone.Inputs, start, span)
		}
		clone.lastTotal = 0
		p.records = append(p.records, clone)
	}
}

func cloneRecord(r futureRecord) futureRecord {
	inputs := make([]movie.Frame, len(r.Inputs))
	for i, f := range r.Inputs {
		inputs[i] = f.Clone()
	}
	out := r
	out.Inputs = inputs
	return out
}

func hashFrames(frames []movie.Frame) uint64 {
	var h uint64 = 1469598103934665603 // FNV-1a offset basis
	const prime = 1099511628211
	for _, f := range frames {
		for _, b := range f {
			h ^= uint64(b)
			h *= prime
		}
		h ^= 0xff
		h *= prime
	}
	return h
}
