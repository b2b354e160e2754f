package engine

import (
	"context"
	"fmt"

	channerics "github.com/niceyeti/channerics/channels"

	"playfun/emulator"
	"playfun/integrator"
	"playfun/objective"
)

// job pairs a candidate Next with its original index, so that results can
// be placed back into an index-ordered slice regardless of which worker
// finishes first (spec.md §5: "per-round results are collected in
// input-index order ... making the final choice deterministic ...
// regardless of worker completion order").
type job struct {
	index int
	next  Next
}

type indexedResult struct {
	index  int
	result Result
	err    error
}

// LocalEngine evaluates nexts with a worker pool of emulator instances,
// one per worker, each loaded from an independent copy of the current
// savestate (spec.md §4.H "Local mode"). It never shares mutable state
// across workers: the RNG and motif store stay out of this package
// entirely, and every worker's emulator.Emulator is private to it.
type LocalEngine struct {
	Factory    emulator.Factory
	Objectives *objective.Evaluator
	Workers    int
}

// NewLocalEngine returns a LocalEngine with a sane default worker count
// if workers <= 0.
func NewLocalEngine(factory emulator.Factory, objectives *objective.Evaluator, workers int) *LocalEngine {
	if workers <= 0 {
		workers = 1
	}
	return &LocalEngine{Factory: factory, Objectives: objectives, Workers: workers}
}

// Evaluate scores every next in nexts against every future in futures,
// starting from currentState, and returns one Result per next in the
// same order as nexts.
func (e *LocalEngine) Evaluate(
	ctx context.Context,
	currentState []byte,
	preMemory []byte,
	nexts []Next,
	futures []Future,
) ([]Result, error) {
	if len(nexts) == 0 {
		return nil, nil
	}

	jobs := make(chan job, len(nexts))
	for i, n := range nexts {
		jobs <- job{index: i, next: n}
	}
	close(jobs)

	done := ctx.Done()
	workerChans := make([]<-chan indexedResult, 0, e.Workers)
	for w := 0; w < e.Workers; w++ {
		workerChans = append(workerChans, e.worker(done, jobs, currentState, preMemory, futures))
	}

	results := make([]Result, len(nexts))
	var firstErr error
	for ir := range channerics.Merge(done, workerChans...) {
		if ir.err != nil {
			if firstErr == nil {
				firstErr = ir.err
			}
			continue
		}
		results[ir.index] = ir.result
	}

	if firstErr != nil {
		return nil, firstErr
	}
	return results, nil
}

// worker consumes jobs and emits one indexedResult per job. Each worker
// owns exactly one emulator instance for its entire lifetime, reloaded
// from currentState at the start of every job — this is the "clone
// current state" of spec.md §4.H without paying a fresh Factory() call
// per candidate.
func (e *LocalEngine) worker(
	done <-chan struct{},
	jobs <-chan job,
	currentState []byte,
	preMemory []byte,
	futures []Future,
) <-chan indexedResult {
	out := make(chan indexedResult)

	go func() {
		defer close(out)

		emu, err := e.Factory()
		if err != nil {
			select {
			case out <- indexedResult{err: fmt.Errorf("engine: worker factory: %w", err)}:
			case <-done:
			}
			return
		}

		for j := range jobs {
			select {
			case <-done:
				return
			default:
			}

			res, err := e.evaluateOne(emu, currentState, preMemory, j.next, futures)
			select {
			case out <- indexedResult{index: j.index, result: res, err: err}:
			case <-done:
				return
			}
		}
	}()

	return out
}

// evaluateOne implements the per-next body of spec.md §4.H / §4.G
// "Scoring": step through the next's inputs to get (post_state,
// post_memory, immediate), then run the Path Integrator over every
// future from post_state, in future-index order (fixed summation order,
// spec.md §5).
func (e *LocalEngine) evaluateOne(
	emu emulator.Emulator,
	currentState []byte,
	preMemory []byte,
	n Next,
	futures []Future,
) (Result, error) {
	if err := emu.Load(currentState); err != nil {
		return Result{}, err
	}

	mem := preMemory
	var immediate float64
	for _, in := range n.Inputs {
		next, err := emu.Step(in)
		if err != nil {
			return Result{}, &emulator.StepFailure{Cause: err}
		}
		immediate += e.Objectives.EvaluateMagnitude(mem, next)
		mem = next
	}

	postState, err := emu.Save()
	if err != nil {
		return Result{}, err
	}
	postMemory := mem

	totals := make([]float64, len(futures))
	for i, f := range futures {
		integral, termMemory, ferr := integrator.ScoreIntegral(emu, e.Objectives, postState, f.Inputs)
		if ferr != nil {
			return Result{}, ferr
		}
		pos, neg := e.Objectives.DeltaMagnitude(postMemory, termMemory)
		totals[i] = integral + pos + neg
	}

	worst, best := WorstBest(totals)
	return Result{
		Immediate:    immediate,
		FutureTotals: totals,
		FutSum:       SumFutureTotals(totals),
		WorstFuture:  worst,
		BestFuture:   best,
		PostState:    postState,
		PostMemory:   postMemory,
	}, nil
}
