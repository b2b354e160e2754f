// Package rng implements a seedable, serializable pseudorandom stream.
// Every draw the search engine makes — motif sampling, future population,
// candidate shuffling, backtrack span selection — flows through a single
// instance of this generator so that a saved/restored state reproduces the
// exact remaining output stream (see persistence.Snapshot).
package rng

import "fmt"

// boxSize is the size of the permutation table, matching the classic
// stream-cipher construction this generator borrows its mixing schedule
// from: a 256-byte S-box walked by two independent indices.
const boxSize = 256

// RNG is a stream-cipher-style byte generator. Two RNGs with byte-identical
// State() produce identical infinite output streams; this is the only
// correctness property callers may rely on.
type RNG struct {
	box  [boxSize]byte
	i, j byte
}

// New seeds a fresh RNG from an arbitrary-length key, the way ArcFour's
// key-scheduling algorithm initializes its S-box.
func New(seed []byte) *RNG {
	r := &RNG{}
	for i := 0; i < boxSize; i++ {
		r.box[i] = byte(i)
	}
	if len(seed) == 0 {
		seed = []byte{0}
	}
	var j byte
	for i := 0; i < boxSize; i++ {
		j = j + r.box[i] + seed[i%len(seed)]
		r.box[i], r.box[j] = r.box[j], r.box[i]
	}
	return r
}

// nextByte advances the two indices and swaps, then returns the box entry
// at the sum of the two swapped entries — the standard PRGA step.
func (r *RNG) nextByte() byte {
	r.i++
	r.j += r.box[r.i]
	r.box[r.i], r.box[r.j] = r.box[r.j], r.box[r.i]
	return r.box[r.box[r.i]+r.box[r.j]]
}

// NextU32 returns the next 4 bytes of keystream as a big-endian uint32.
func (r *RNG) NextU32() uint32 {
	var v uint32
	for i := 0; i < 4; i++ {
		v = (v << 8) | uint32(r.nextByte())
	}
	return v
}

// NextF64Unit returns a float64 in [0, 1), built from 53 bits of
// keystream so the full double mantissa is covered.
func (r *RNG) NextF64Unit() float64 {
	hi := uint64(r.NextU32())
	lo := uint64(r.NextU32())
	bits := (hi<<32 | lo) >> 11
	return float64(bits) / float64(uint64(1)<<53)
}

// Intn returns a pseudorandom int in [0, n). Panics if n <= 0.
func (r *RNG) Intn(n int) int {
	if n <= 0 {
		panic(fmt.Sprintf("rng: Intn called with non-positive n=%d", n))
	}
	return int(r.NextF64Unit() * float64(n))
}

// Shuffle permutes the slice in place using the Fisher-Yates algorithm,
// drawing exchange indices from the stream.
func Shuffle[T any](r *RNG, seq []T) {
	for i := len(seq) - 1; i > 0; i-- {
		j := r.Intn(i + 1)
		seq[i], seq[j] = seq[j], seq[i]
	}
}

// State returns a serializable snapshot of the generator: the permutation
// table followed by the two indices. Restoring this byte-exact state
// reproduces the uninterrupted output stream (see persistence.Snapshot,
// spec.md §4.K).
func (r *RNG) State() []byte {
	out := make([]byte, boxSize+2)
	copy(out, r.box[:])
	out[boxSize] = r.i
	out[boxSize+1] = r.j
	return out
}

// SetState restores a generator to a previously captured State(). It
// returns an error if the byte slice is not exactly a box plus two indices.
func SetState(state []byte) (*RNG, error) {
	if len(state) != boxSize+2 {
		return nil, fmt.Errorf("rng: invalid state length %d, want %d", len(state), boxSize+2)
	}
	r := &RNG{}
	copy(r.box[:], state[:boxSize])
	r.i = state[boxSize]
	r.j = state[boxSize+1]
	return r, nil
}
