// Package stats holds the running counters the search loop updates every
// round: best score seen so far, rounds completed, and backtracks
// attempted/accepted. These are read far more often than they are
// written (a status line or /healthz handler polling them while the
// round loop runs on its own goroutine), so AtomicFloat64 avoids taking
// a lock per round just to record one float.
package stats

import (
	"math"
	"sync/atomic"
	"unsafe"
)

// AtomicFloat64 encapsulates a float64 for lock-free atomic operations.
// float64 has no native atomic instructions, so this reinterprets the
// bit pattern as a uint64 and relies on atomic.LoadUint64/
// CompareAndSwapUint64 over that same memory. Keep any unsafe.Pointer
// derived from it scoped to a single expression: the garbage collector
// may relocate the underlying value between statements, which would
// leave a longer-lived pointer referring to stale memory.
type AtomicFloat64 struct {
	val float64
}

// NewAtomicFloat64 wraps val for atomic access.
func NewAtomicFloat64(val float64) *AtomicFloat64 {
	return &AtomicFloat64{val: val}
}

// AtomicRead returns the current value, synchronized with main memory.
func (af *AtomicFloat64) AtomicRead() float64 {
	bits := atomic.LoadUint64((*uint64)(unsafe.Pointer(&af.val)))
	return math.Float64frombits(bits)
}

// AtomicAdd adds addend to the current value via compare-and-swap,
// retrying internally since only the caller's own add can fail the
// race, never a state it should silently discard.
func (af *AtomicFloat64) AtomicAdd(addend float64) float64 {
	for {
		old := af.AtomicRead()
		newVal := old + addend
		if atomic.CompareAndSwapUint64(
			(*uint64)(unsafe.Pointer(&af.val)),
			math.Float64bits(old),
			math.Float64bits(newVal),
		) {
			return newVal
		}
	}
}

// AtomicSetIfGreater raises the stored value to v if v is larger,
// retrying until either it wins the swap or a concurrent writer already
// pushed the value above v. Returns true if it changed the value.
func (af *AtomicFloat64) AtomicSetIfGreater(v float64) bool {
	for {
		old := af.AtomicRead()
		if v <= old {
			return false
		}
		if atomic.CompareAndSwapUint64(
			(*uint64)(unsafe.Pointer(&af.val)),
			math.Float64bits(old),
			math.Float64bits(v),
		) {
			return true
		}
	}
}

// Telemetry is the running-totals the search round loop exposes for
// observability: best score committed so far, total rounds run, and
// backtrack attempt/acceptance counts (spec.md §4.I/§4.J). All fields
// are safe to read from a goroutine other than the one driving the
// round loop.
type Telemetry struct {
	BestScore           *AtomicFloat64
	rounds              uint64
	backtracksAttempted uint64
	backtracksAccepted  uint64
}

// NewTelemetry returns a zeroed Telemetry with BestScore starting at
// negative infinity, so the first recorded round always raises it.
func NewTelemetry() *Telemetry {
	return &Telemetry{BestScore: NewAtomicFloat64(math.Inf(-1))}
}

// RecordRound folds one round's Result.Score() into the running best and
// increments the round counter.
func (t *Telemetry) RecordRound(score float64) {
	t.BestScore.AtomicSetIfGreater(score)
	atomic.AddUint64(&t.rounds, 1)
}

// RecordBacktrack increments the attempt counter, and the acceptance
// counter too if the attempt was accepted.
func (t *Telemetry) RecordBacktrack(accepted bool) {
	atomic.AddUint64(&t.backtracksAttempted, 1)
	if accepted {
		atomic.AddUint64(&t.backtracksAccepted, 1)
	}
}

// Snapshot is a point-in-time, non-atomic read of every counter,
// convenient for logging or a status endpoint.
type Snapshot struct {
	BestScore           float64
	Rounds              uint64
	BacktracksAttempted uint64
	BacktracksAccepted  uint64
}

// Snapshot reads every counter. The individual reads are each atomic but
// not mutually consistent with one another, which is fine for a status
// line: spec.md defines no cross-field invariant between them.
func (t *Telemetry) Snapshot() Snapshot {
	return Snapshot{
		BestScore:           t.BestScore.AtomicRead(),
		Rounds:              atomic.LoadUint64(&t.rounds),
		BacktracksAttempted: atomic.LoadUint64(&t.backtracksAttempted),
		BacktracksAccepted:  atomic.LoadUint64(&t.backtracksAccepted),
	}
}
