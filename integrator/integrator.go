// Package integrator implements the Path Integrator (spec.md §4.E): the
// primitive that replays an input sequence from a savestate and
// accumulates the Objective Evaluator's per-step magnitude along the
// way. Both the Evaluation Engine's per-future scoring and the
// Backtracker's acceptance test are built on ScoreIntegral.
package integrator

import (
	"playfun/emulator"
	"playfun/movie"
	"playfun/objective"
)

// ScoreIntegral loads start into emu, then steps through inputs one at a
// time, summing the Objective Evaluator's magnitude between each
// consecutive pair of memory snapshots. It returns the running sum and
// the final memory snapshot. ScoreIntegral is pure given (start, inputs)
// and a deterministic emulator (spec.md §4.E): it never shares emu with
// another goroutine, so callers running many integrals concurrently must
// each hold their own Emulator instance.
func ScoreIntegral(
	emu emulator.Emulator,
	eval *objective.Evaluator,
	start []byte,
	inputs []movie.Frame,
) (sum float64, finalMemory []byte, err error) {
	if err = emu.Load(start); err != nil {
		return 0, nil, err
	}

	prev := emu.Memory()
	for _, in := range inputs {
		next, stepErr := emu.Step(in)
		if stepErr != nil {
			return 0, nil, &emulator.StepFailure{Cause: stepErr}
		}
		sum += eval.EvaluateMagnitude(prev, next)
		prev = next
	}

	return sum, prev, nil
}
