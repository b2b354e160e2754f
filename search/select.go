package search

import (
	"context"
	"fmt"

	"playfun/config"
	"playfun/emulator"
	"playfun/engine"
	"playfun/motif"
	"playfun/movie"
	"playfun/objective"
	"playfun/rng"
	"playfun/stats"
)

// Evaluator is the subset of engine.LocalEngine/DistributedEngine the
// round loop needs, so search never depends on which evaluation mode is
// in play (spec.md §4.H: "correctness never depends on helpers").
type Evaluator interface {
	Evaluate(ctx context.Context, currentState, preMemory []byte, nexts []engine.Next, futures []engine.Future) ([]engine.Result, error)
}

// Engine is the whole search loop's mutable state: the owned RNG, motif
// store, futures population, movie, master emulator, and the round/
// backtrack bookkeeping of spec.md §4.J. It is the tree root spec.md §9
// describes ("ownership is a tree rooted at the engine").
type Engine struct {
	RNG        *rng.RNG
	Motifs     *motif.Store
	Population *Population
	Movie      *movie.Movie
	Master     emulator.Emulator
	Evaluator  Evaluator
	Objectives *objective.Evaluator
	Cfg        config.Tunables

	// Stats is optional: a caller that wants running counters (best
	// score, round/backtrack tallies) sets it after NewEngine; nil
	// leaves telemetry off with no behavior change.
	Stats *stats.Telemetry

	watermark            int32
	lastCheckpoint       movie.Checkpoint
	sinceCheckpoint      int
	negativeStreak       int
	roundsSinceBacktrack int
}

// NewEngine wires together one round loop. watermark is the movenum
// floor below which backtracking is forbidden (spec.md glossary).
func NewEngine(
	r *rng.RNG,
	motifs *motif.Store,
	population *Population,
	mv *movie.Movie,
	master emulator.Emulator,
	evaluator Evaluator,
	objectives *objective.Evaluator,
	cfg config.Tunables,
	watermark int32,
) *Engine {
	return &Engine{
		RNG:        r,
		Motifs:     motifs,
		Population: population,
		Movie:      mv,
		Master:     master,
		Evaluator:  evaluator,
		Objectives: objectives,
		Cfg:        cfg,
		watermark:  watermark,
	}
}

// Round runs one G->F->H->I cycle: populate the futures set, generate
// nexts, evaluate them, select and commit the winner, then feed the
// winner's per-future totals back into the population's adaptation step.
func (e *Engine) Round(ctx context.Context) (engine.Result, error) {
	e.Population.Populate(e.RNG, e.Motifs)
	futures := e.Population.Futures()

	nexts := GenerateNexts(e.RNG, e.Motifs, e.Cfg, futures)
	if len(nexts) == 0 {
		return engine.Result{}, fmt.Errorf("search: no candidate nexts generated")
	}

	currentState, err := e.Master.Save()
	if err != nil {
		return engine.Result{}, fmt.Errorf("search: save master state: %w", err)
	}
	preMemory := e.Master.Memory()

	results, err := e.Evaluator.Evaluate(ctx, currentState, preMemory, nexts, futures)
	if err != nil {
		return engine.Result{}, fmt.Errorf("search: evaluate: %w", err)
	}

	bestIdx := bestResult(results)
	chosen := nexts[bestIdx]
	result := results[bestIdx]

	if err := e.commit(chosen, result); err != nil {
		return engine.Result{}, err
	}

	e.Population.ApplyScores(e.RNG, result.FutureTotals)
	e.trackStuck(result)

	if e.Stats != nil {
		e.Stats.RecordRound(result.Score())
	}

	return result, nil
}

// bestResult returns the index maximizing Result.Score(), ties toward
// the lowest index (spec.md §4.I: "Pick the next N* maximizing
// next_score").
func bestResult(results []engine.Result) int {
	best := 0
	for i := 1; i < len(results); i++ {
		if results[i].Score() > results[best].Score() {
			best = i
		}
	}
	return best
}

// commit applies a chosen Next to the master emulator and the movie,
// reweighting its originating motif if any (spec.md §4.I). It always
// re-steps n.Inputs on the master itself rather than trusting
// result.PostState/PostMemory: a Next scored by a distributed helper
// carries neither (the helper protocol's Response is just
// {immediate, per_future}, spec.md §6), so relying on them would make
// correctness depend on which evaluator scored the winner. Spec.md §4.I
// says it plainly: "apply each input of N* to the master emulator."
func (e *Engine) commit(n engine.Next, result engine.Result) error {
	var mem []byte
	for _, in := range n.Inputs {
		next, err := e.Master.Step(in)
		if err != nil {
			return fmt.Errorf("search: commit step: %w", err)
		}
		mem = next
	}

	e.Movie.Commit(n.Inputs, n.Explanation, mem)

	if n.Origin == engine.OriginMotif {
		normalized := result.Immediate / float64(maxInt(1, len(n.Inputs)))
		e.Motifs.Reweight(n.OriginID, normalized)
	}

	e.sinceCheckpoint++
	if e.sinceCheckpoint >= e.Cfg.CheckpointEvery {
		e.lastCheckpoint = e.Checkpoint()
		e.sinceCheckpoint = 0
	}

	return nil
}

// Checkpoint returns a checkpoint of the master's current state at the
// movie's current movenum (spec.md §4.I, §4.K).
func (e *Engine) Checkpoint() movie.Checkpoint {
	state, err := e.Master.Save()
	if err != nil {
		return e.lastCheckpoint
	}
	return movie.Checkpoint{Movenum: e.Movie.Movenum(), Savestate: state}
}

// LastCheckpoint returns the most recently recorded checkpoint.
func (e *Engine) LastCheckpoint() movie.Checkpoint {
	return e.lastCheckpoint
}

// Watermark returns the configured backtrack floor.
func (e *Engine) Watermark() int32 {
	return e.watermark
}

func (e *Engine) trackStuck(result engine.Result) {
	if result.Score() < 0 {
		e.negativeStreak++
	} else {
		e.negativeStreak = 0
	}
	e.roundsSinceBacktrack++
}

// ShouldBacktrack implements spec.md §4.J's stuck-detection trigger:
// either the negative-score streak crossed the stuck threshold, or the
// fixed periodic interval elapsed.
func (e *Engine) ShouldBacktrack() bool {
	threshold := float64(e.Cfg.TryBacktrackEvery) * e.Cfg.StuckThresholdFrac
	if float64(e.negativeStreak) >= threshold && threshold > 0 {
		return true
	}
	if e.Cfg.TryBacktrackEvery > 0 && e.roundsSinceBacktrack >= e.Cfg.TryBacktrackEvery {
		return true
	}
	return false
}

// ResetBacktrackClock is called after a backtrack attempt, successful or
// not, so the periodic trigger and stuck streak restart cleanly.
func (e *Engine) ResetBacktrackClock() {
	e.negativeStreak = 0
	e.roundsSinceBacktrack = 0
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
