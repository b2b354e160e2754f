// Package fake implements emulator.Emulator deterministically, without any
// real ROM or CPU emulation, so the search core's tests can exercise the
// Path Integrator, Nexts Generator, Futures Population, Evaluation Engine,
// and Backtracker without depending on an actual NES-class emulator
// (explicitly out of scope, spec.md §1).
package fake

import (
	"playfun/emulator"
	"playfun/movie"
)

// Machine is a tiny deterministic "emulator": memory is a fixed-size byte
// vector, and Step(u) sums the input's bytes (mod 256) into a delta and
// adds delta/(i+1) to cell i, at least 1 when delta is non-zero, wrapping
// modulo 256. This is enough to give objectives something
// meaningful to measure (e.g. byte 0 as a monotonic "score" driven by
// button presses) while remaining trivially reproducible.
type Machine struct {
	mem []byte
}

// New returns a Machine with the given memory size, all zeroed.
func New(size int) *Machine {
	return &Machine{mem: make([]byte, size)}
}

// Factory returns an emulator.Factory producing fresh zeroed Machines of
// the given size, for use by the Evaluation Engine's worker pool.
func Factory(size int) emulator.Factory {
	return func() (emulator.Emulator, error) {
		return New(size), nil
	}
}

func (m *Machine) Save() ([]byte, error) {
	out := make([]byte, len(m.mem))
	copy(out, m.mem)
	return out, nil
}

func (m *Machine) Load(state []byte) error {
	m.mem = make([]byte, len(state))
	copy(m.mem, state)
	return nil
}

func (m *Machine) Step(input movie.Frame) ([]byte, error) {
	var delta byte
	for _, b := range input {
		delta += b
	}
	for i := range m.mem {
		// Every cell advances by the input, but higher cells advance more
		// slowly, so objectives over different byte indices see distinct
		// trajectories instead of a uniformly moving memory.
		step := delta / byte(i+1)
		if step == 0 && delta != 0 {
			step = 1
		}
		m.mem[i] += step
	}
	return m.Memory(), nil
}

func (m *Machine) Memory() []byte {
	out := make([]byte, len(m.mem))
	copy(out, m.mem)
	return out
}
