package search

import (
	"context"
	"fmt"

	"playfun/config"
	"playfun/emulator"
	"playfun/integrator"
	"playfun/motif"
	"playfun/movie"
	"playfun/objective"
	"playfun/rng"
)

// maxChopIterations bounds CHOP's inner acceptance loop (spec.md §4.J
// only requires "iterate until no improvement", not an unbounded one).
const maxChopIterations = 16

// TryImprove implements the Backtracker (spec.md §4.J): select a span
// back to the last checkpoint, generate replacement candidates, run the
// acceptance test against each, and replay the best accepted one in
// place of the original span. Returns false when there is nothing
// eligible to backtrack into, or no candidate passed acceptance — the
// caller simply resumes the normal round loop either way.
func (e *Engine) TryImprove(ctx context.Context) (bool, error) {
	cp := e.lastCheckpoint
	current := e.Movie.Movenum()
	if cp.Savestate == nil ||
		cp.Movenum > current-int32(e.Cfg.MinBacktrackDistance) ||
		cp.Movenum < e.watermark {
		return false, nil
	}

	improveme := spanFrom(e.Movie.Inputs(), cp.Movenum, current)
	if len(improveme) == 0 {
		return false, nil
	}

	resumeState, err := e.Master.Save()
	if err != nil {
		return false, fmt.Errorf("search: backtrack save master state: %w", err)
	}

	endIntegral, endMemory, err := integrator.ScoreIntegral(e.Master, e.Objectives, cp.Savestate, improveme)
	if err != nil {
		return false, fmt.Errorf("search: backtrack end integral: %w", err)
	}

	candidates := generateCandidates(e.RNG, e.Motifs, e.Cfg, e.Master, e.Objectives, cp.Savestate, improveme)

	type accepted struct {
		inputs []movie.Frame
		score  float64
	}
	var winners []accepted

	for _, cand := range candidates {
		newIntegral, newMemory, err := integrator.ScoreIntegral(e.Master, e.Objectives, cp.Savestate, cand)
		if err != nil {
			return false, fmt.Errorf("search: backtrack candidate integral: %w", err)
		}
		nMinusE := e.Objectives.EvaluateMagnitude(endMemory, newMemory)

		if newIntegral >= endIntegral && newIntegral > 0 && nMinusE > 0 {
			winners = append(winners, accepted{
				inputs: cand,
				score:  (newIntegral - endIntegral) + nMinusE,
			})
		}
	}

	if len(winners) == 0 {
		// Scoring ran on the master; put it back where the movie ends.
		if err := e.Master.Load(resumeState); err != nil {
			return false, fmt.Errorf("search: backtrack restore master state: %w", err)
		}
		e.ResetBacktrackClock()
		if e.Stats != nil {
			e.Stats.RecordBacktrack(false)
		}
		return false, nil
	}

	best := winners[0]
	for _, w := range winners[1:] {
		if w.score > best.score {
			best = w
		}
	}

	if err := e.Master.Load(cp.Savestate); err != nil {
		return false, fmt.Errorf("search: backtrack load checkpoint: %w", err)
	}
	e.Movie.TruncateToFrame(cp.Movenum)

	if _, _, err := integrator.ScoreIntegral(e.Master, e.Objectives, cp.Savestate, best.inputs); err != nil {
		return false, fmt.Errorf("search: backtrack replay: %w", err)
	}

	mem := e.Master.Memory()
	e.Movie.Commit(best.inputs, "backtrack", mem)
	e.ResetBacktrackClock()
	if e.Stats != nil {
		e.Stats.RecordBacktrack(true)
	}

	return true, nil
}

func spanFrom(inputs []movie.Frame, start, end int32) []movie.Frame {
	if start < 0 {
		start = 0
	}
	if end > int32(len(inputs)) {
		end = int32(len(inputs))
	}
	if start >= end {
		return nil
	}
	return inputs[start:end]
}

// generateCandidates produces the RANDOM/OPPOSITES/ABLATION/CHOP
// candidate families of spec.md §4.J, deduplicated by input-bytes hash.
// master/objectives/start exist only to give CHOP's inner acceptance
// loop something to score against; the other families need no scoring
// context of their own.
func generateCandidates(
	r *rng.RNG,
	motifs *motif.Store,
	cfg config.Tunables,
	master emulator.Emulator,
	objectives *objective.Evaluator,
	start []byte,
	span []movie.Frame,
) [][]movie.Frame {
	var out [][]movie.Frame
	out = append(out, randomCandidate(r, motifs, len(span)))
	out = append(out, oppositesCandidates(r, span, cfg.OppositesRandomSpans)...)
	out = append(out, ablationCandidate(r, span, cfg.AblationMaskProb))
	out = append(out, chopCandidate(r, master, objectives, start, span))

	return dedupeFrames(out)
}

func randomCandidate(r *rng.RNG, motifs *motif.Store, length int) []movie.Frame {
	if length == 0 || motifs.Len() == 0 {
		return nil
	}
	var out []movie.Frame
	for len(out) < length {
		_, m := motifs.Sample(r, true)
		out = append(out, m.Inputs...)
	}
	return cloneFrames(out[:length])
}

// oppositesCandidates implements spec.md §4.J OPPOSITES: dualize-whole,
// reverse-whole, dualize+reverse-whole, plus a configurable number of
// random-span dualize/reverse variants (the Open Question decision
// recorded in DESIGN.md/SPEC_FULL.md §13: a fixed base trio plus
// OPPOSITES_RANDOM_SPANS tunable random spans).
func oppositesCandidates(r *rng.RNG, span []movie.Frame, randomSpans int) [][]movie.Frame {
	if len(span) == 0 {
		return nil
	}

	dualizedWhole := dualizeAll(span)
	reversedWhole := cloneFrames(span)
	movie.ReverseSpan(reversedWhole, 0, len(reversedWhole))
	dualizedReversedWhole := dualizeAll(reversedWhole)

	out := [][]movie.Frame{dualizedWhole, reversedWhole, dualizedReversedWhole}

	for k := 0; k < randomSpans; k++ {
		cand := cloneFrames(span)
		start := r.Intn(len(cand))
		maxSpan := len(cand) - start
		length := 1 + r.Intn(maxSpan)

		doReverse := r.NextF64Unit() < 0.5
		doDualize := r.NextF64Unit() < 0.5
		if doReverse {
			movie.ReverseSpan(cand, start, length)
		}
		if doDualize {
			for i := start; i < start+length; i++ {
				cand[i] = movie.Dualize(cand[i])
			}
		}
		out = append(out, cand)
	}

	return out
}

func dualizeAll(span []movie.Frame) []movie.Frame {
	out := make([]movie.Frame, len(span))
	for i, f := range span {
		out[i] = movie.Dualize(f)
	}
	return out
}

// ablationCandidate implements spec.md §4.J ABLATION: mask out subsets
// of buttons with probability p_mask per button bit, excluding the
// no-op full mask (a mask that zeroes nothing).
func ablationCandidate(r *rng.RNG, span []movie.Frame, pMask float64) []movie.Frame {
	if len(span) == 0 {
		return nil
	}
	out := cloneFrames(span)
	var maskedAny bool
	for i, f := range out {
		var masked movie.Frame
		for _, b := range f {
			var keep byte
			for bit := 0; bit < 8; bit++ {
				mask := byte(1) << uint(bit)
				if b&mask == 0 {
					continue
				}
				if r.NextF64Unit() < pMask {
					maskedAny = true
					continue // drop this button
				}
				keep |= mask
			}
			masked = append(masked, keep)
		}
		out[i] = masked
	}
	if !maskedAny {
		return nil // no-op full mask excluded per spec.md §4.J
	}
	return out
}

// chopCandidate implements spec.md §4.J CHOP: delete a random span,
// re-scoring the result against an inner acceptance test and repeating
// against the surviving (shorter) span each time, until a chop lowers the
// integral below that of the span it replaced or maxChopIterations is
// reached ("delete random spans ... Iterate until no improvement in an
// inner acceptance test"); a chop that leaves the integral equal is kept.
// Returns nil if no chop was ever kept, so a no-op candidate never
// reaches the outer acceptance test in TryImprove.
func chopCandidate(
	r *rng.RNG,
	master emulator.Emulator,
	objectives *objective.Evaluator,
	start []byte,
	span []movie.Frame,
) []movie.Frame {
	if len(span) < 2 {
		return nil
	}

	current := cloneFrames(span)
	currentIntegral, _, err := integrator.ScoreIntegral(master, objectives, start, current)
	if err != nil {
		return nil
	}

	improved := false
	for i := 0; i < maxChopIterations; i++ {
		cand := chopOnce(r, current)
		if cand == nil {
			break
		}
		candIntegral, _, err := integrator.ScoreIntegral(master, objectives, start, cand)
		if err != nil || candIntegral < currentIntegral {
			break
		}
		current = cand
		currentIntegral = candIntegral
		improved = true
	}

	if !improved {
		return nil
	}
	return current
}

// chopOnce deletes one random span with length floor(L * U^2),
// U ~ Uniform[0,1) (biased toward short deletes).
func chopOnce(r *rng.RNG, span []movie.Frame) []movie.Frame {
	if len(span) < 2 {
		return nil
	}
	u := r.NextF64Unit()
	chopLen := int(float64(len(span)) * u * u)
	if chopLen <= 0 {
		chopLen = 1
	}
	if chopLen >= len(span) {
		chopLen = len(span) - 1
	}
	start := r.Intn(len(span) - chopLen + 1)

	out := make([]movie.Frame, 0, len(span)-chopLen)
	out = append(out, span[:start]...)
	out = append(out, span[start+chopLen:]...)
	return cloneFrames(out)
}

func cloneFrames(frames []movie.Frame) []movie.Frame {
	out := make([]movie.Frame, len(frames))
	for i, f := range frames {
		out[i] = f.Clone()
	}
	return out
}

func dedupeFrames(candidates [][]movie.Frame) [][]movie.Frame {
	seen := make(map[uint64]bool, len(candidates))
	out := candidates[:0:0]
	for _, c := range candidates {
		if c == nil {
			continue
		}
		h := hashFrames(c)
		if seen[h] {
			continue
		}
		seen[h] = true
		out = append(out, c)
	}
	return out
}
