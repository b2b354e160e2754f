// Package emulator declares the narrow contract the search engine drives
// an emulator through (spec.md §4.D). The emulator itself — ROM loading,
// CPU/PPU emulation, input devices — is explicitly out of this system's
// scope (spec.md §1); this package only states the interface the rest of
// the engine is written against, plus the errors a conforming
// implementation may report.
package emulator

import (
	"errors"

	"playfun/movie"
)

// Emulator is deterministic given (savestate, input): Step(u) always
// produces the same memory for the same starting state and input.
// Implementations are not required to be safe for concurrent use —
// spec.md §5 requires every concurrent worker to hold its own instance,
// loaded from an independent copy of the savestate it starts from.
type Emulator interface {
	// Save serializes the current emulator state into an opaque blob.
	Save() ([]byte, error)
	// Load restores a previously Saved state. Load(Save(s)) must leave the
	// emulator behaviorally identical to s (spec.md §3's round-trip
	// guarantee).
	Load(state []byte) error
	// Step advances the emulator by one input frame and returns the
	// resulting memory snapshot.
	Step(input movie.Frame) (memory []byte, err error)
	// Memory returns the current memory snapshot without stepping.
	Memory() []byte
}

// Factory constructs a fresh, unloaded Emulator instance. The Evaluation
// Engine (spec.md §4.H) calls Factory once per worker so that no mutable
// emulator state is ever shared across a thread or branch boundary.
type Factory func() (Emulator, error)

// ErrStepFailed wraps an EmulatorStepFailure (spec.md §7): the contract
// requires Step to be deterministic and to succeed, so any error from it
// is fatal, never recovered.
var ErrStepFailed = errors.New("emulator: step failed")

// StepFailure annotates ErrStepFailed with the underlying cause.
type StepFailure struct {
	Cause error
}

func (e *StepFailure) Error() string {
	return "emulator: step failed: " + e.Cause.Error()
}

func (e *StepFailure) Unwrap() error {
	return e.Cause
}

func (e *StepFailure) Is(target error) bool {
	return target == ErrStepFailed
}

// RunSequence loads start into emu and steps it through every input in
// inputs, returning the final memory. It is the common primitive the
// Path Integrator (spec.md §4.E) and the Evaluation Engine's worker loop
// (spec.md §4.H) both build on: a worker clones current state, then
// steps it forward once per candidate's inputs.
func RunSequence(emu Emulator, start []byte, inputs []movie.Frame) (finalMemory []byte, err error) {
	if err = emu.Load(start); err != nil {
		return nil, err
	}
	mem := emu.Memory()
	for _, in := range inputs {
		mem, err = emu.Step(in)
		if err != nil {
			return nil, &StepFailure{Cause: err}
		}
	}
	return mem, nil
}
