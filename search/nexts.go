package search

import (
	"fmt"

	"playfun/config"
	"playfun/engine"
	"playfun/motif"
	"playfun/movie"
	"playfun/rng"
)

// GenerateNexts implements the Nexts Generator (spec.md §4.F): prefixes
// of the current futures plus weighted motif backfill, deduplicated by
// input-bytes hash, subsampled to [MIN_NEXTS, MAX_NEXTS] with an
// RNG-shuffled partition between futures-derived and backfill candidates.
func GenerateNexts(r *rng.RNG, motifs *motif.Store, cfg config.Tunables, futures []engine.Future) []engine.Next {
	nextLen := cfg.NextLen
	if nextLen <= 0 {
		nextLen = 10
	}

	fromFutures := candidatesFromFutures(futures, nextLen)
	backfill := candidatesFromBackfill(r, motifs, cfg.BackfillCount, nextLen)

	// Deduplicate across both partitions: a backfill candidate whose bytes
	// match a futures-derived one is dropped.
	fromFutures = dedupeNexts(fromFutures)
	combined := dedupeNexts(append(append([]engine.Next{}, fromFutures...), backfill...))
	backfill = combined[len(fromFutures):]

	rng.Shuffle(r, fromFutures)
	rng.Shuffle(r, backfill)

	return subsample(fromFutures, backfill, cfg.MinNexts, cfg.MaxNexts)
}

func candidatesFromFutures(futures []engine.Future, nextLen int) []engine.Next {
	var out []engine.Next
	for i, f := range futures {
		n := nextLen
		if n > len(f.Inputs) {
			n = len(f.Inputs)
		}
		if n == 0 {
			continue
		}
		inputs := make([]movie.Frame, n)
		for j := 0; j < n; j++ {
			inputs[j] = f.Inputs[j].Clone()
		}
		out = append(out, engine.Next{
			Inputs:      inputs,
			Origin:      engine.OriginFuture,
			OriginID:    i,
			Explanation: fmt.Sprintf("ftr-%d", i),
		})
	}
	return out
}

func candidatesFromBackfill(r *rng.RNG, motifs *motif.Store, count, nextLen int) []engine.Next {
	if count <= 0 || motifs.Len() == 0 {
		return nil
	}
	out := make([]engine.Next, 0, count)
	for k := 0; k < count; k++ {
		id, m := motifs.Sample(r, true)
		n := nextLen
		if n > len(m.Inputs) {
			n = len(m.Inputs)
		}
		inputs := make([]movie.Frame, n)
		for j := 0; j < n; j++ {
			inputs[j] = m.Inputs[j].Clone()
		}
		out = append(out, engine.Next{
			Inputs:      inputs,
			Origin:      engine.OriginMotif,
			OriginID:    id,
			Explanation: "backfill",
		})
	}
	return out
}

func dedupeNexts(nexts []engine.Next) []engine.Next {
	seen := make(map[uint64]bool, len(nexts))
	out := nexts[:0:0]
	for _, n := range nexts {
		h := hashFrames(n.Inputs)
		if seen[h] {
			continue
		}
		seen[h] = true
		out = append(out, n)
	}
	return out
}

// subsample implements spec.md §4.F step 3: take ceil(K/2) from the
// futures-derived partition, fill the remainder from backfill, and if
// still short, top up from futures-derived. K is clamped to
// [minNexts, maxNexts] by the available candidate count.
func subsample(fromFutures, backfill []engine.Next, minNexts, maxNexts int) []engine.Next {
	total := len(fromFutures) + len(backfill)
	k := total
	if k > maxNexts {
		k = maxNexts
	}
	if k < minNexts {
		k = minNexts
	}
	if k > total {
		k = total
	}

	half := (k + 1) / 2
	out := make([]engine.Next, 0, k)

	take := half
	if take > len(fromFutures) {
		take = len(fromFutures)
	}
	out = append(out, fromFutures[:take]...)
	fromFutures = fromFutures[take:]

	remaining := k - len(out)
	take = remaining
	if take > len(backfill) {
		take = len(backfill)
	}
	out = append(out, backfill[:take]...)

	remaining = k - len(out)
	if remaining > 0 {
		take = remaining
		if take > len(fromFutures) {
			take = len(fromFutures)
		}
		out = append(out, fromFutures[:take]...)
	}

	return out
}
