// Package motif implements the Motif Store (spec.md §4.C): sampling and
// bounded reweighting of short, weighted input sequences mined from
// example play.
package motif

import (
	"playfun/movie"
	"playfun/rng"
)

// Motif is a weighted input sequence (spec.md §3).
type Motif struct {
	Inputs []movie.Frame
	Weight float64
}

// maxClipIterations bounds the iterative clipping in Reweight so a
// pathological configuration (e.g. MinFrac close to MaxFrac with very few
// motifs) can never loop indefinitely; spec.md §4.C only requires
// "bounded iterations".
const maxClipIterations = 32

// Store holds the mined motifs and the bounds governing their weights.
// Alpha, MinFrac and MaxFrac are the MOTIF_ALPHA/MOTIF_MIN_FRAC/
// MOTIF_MAX_FRAC tunables of spec.md §6.
type Store struct {
	motifs  []Motif
	Alpha   float64
	MinFrac float64
	MaxFrac float64
}

// New returns a Store over the given motifs. The weights are normalized
// (clipped) immediately so the store's invariant holds from construction.
func New(motifs []Motif, alpha, minFrac, maxFrac float64) *Store {
	s := &Store{motifs: motifs, Alpha: alpha, MinFrac: minFrac, MaxFrac: maxFrac}
	s.clip()
	return s
}

// Len returns the number of motifs in the store.
func (s *Store) Len() int {
	return len(s.motifs)
}

// Get returns a copy of the motif at the given id.
func (s *Store) Get(id int) Motif {
	return s.motifs[id]
}

// TotalWeight returns the sum of all motif weights (W in spec.md §3/§4.C).
func (s *Store) TotalWeight() float64 {
	var total float64
	for _, m := range s.motifs {
		total += m.Weight
	}
	return total
}

// Sample draws a motif id, weighted by current motif weight if weighted
// is true, otherwise uniformly. Draws are made entirely from the passed
// RNG, so a fixed RNG state reproduces the same draw (spec.md §4.C).
func (s *Store) Sample(r *rng.RNG, weighted bool) (id int, m Motif) {
	if len(s.motifs) == 0 {
		panic("motif: Sample called on an empty store")
	}

	if !weighted {
		id = r.Intn(len(s.motifs))
		return id, s.motifs[id]
	}

	total := s.TotalWeight()
	target := r.NextF64Unit() * total
	var acc float64
	for i, mo := range s.motifs {
		acc += mo.Weight
		if target < acc {
			return i, mo
		}
	}
	// Floating point rounding can leave target fractionally past the last
	// cumulative sum; fall back to the final motif rather than panicking.
	last := len(s.motifs) - 1
	return last, s.motifs[last]
}

// Reweight nudges a motif's weight based on the normalized immediate
// magnitude its commit produced, then re-clips every motif's weight into
// [MinFrac*W, MaxFrac*W] (spec.md §4.C). A positive delta divides the
// weight by Alpha, in (0,1), so the weight grows (the motif gets sampled
// more often going forward); a negative delta multiplies by Alpha, so the
// weight shrinks.
func (s *Store) Reweight(id int, deltaNorm float64) {
	if deltaNorm > 0 {
		s.motifs[id].Weight /= s.Alpha
	} else if deltaNorm < 0 {
		s.motifs[id].Weight *= s.Alpha
	}
	s.clip()
}

// clip iteratively rescales every motif's weight into
// [MinFrac*W, MaxFrac*W], where W is the current total. Because clamping
// one motif changes W, which in turn changes every other motif's legal
// range, this repeats until no weight moves or the iteration bound is
// reached (spec.md §4.C: "Clipping is iterative until stable").
func (s *Store) clip() {
	if len(s.motifs) == 0 {
		return
	}
	for iter := 0; iter < maxClipIterations; iter++ {
		total := s.TotalWeight()
		lo := s.MinFrac * total
		hi := s.MaxFrac * total
		changed := false
		for i := range s.motifs {
			w := s.motifs[i].Weight
			switch {
			case w < lo:
				s.motifs[i].Weight = lo
				changed = true
			case w > hi:
				s.motifs[i].Weight = hi
				changed = true
			}
		}
		if !changed {
			return
		}
	}
}
