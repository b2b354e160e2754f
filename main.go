/*
Playfun drives an emulator toward a learned notion of "doing well" at a
game, given (a) a set of weighted objectives over memory bytes and (b) a
set of motifs — short weighted input sequences — both mined elsewhere
(learnfun, motif discovery; out of scope here). It is the "playing" half
of a learn/play pair: candidate generation, futures-ensemble scoring,
adaptive population control, motif reweighting, backtracking with local
improvement, and deterministic checkpoint/resume. The emulator itself,
the ROM, and the input device are external collaborators, not this
program's concern — only emulator.Factory's narrow contract is.
*/
package main

import (
	"bufio"
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/golang/glog"
	"github.com/spf13/afero"

	"playfun/config"
	"playfun/emulator"
	"playfun/emulator/fake"
	"playfun/engine"
	"playfun/engine/helper"
	"playfun/motif"
	"playfun/movie"
	"playfun/objective"
	"playfun/persistence"
	"playfun/rng"
	"playfun/search"
	"playfun/stats"
)

var (
	configPath     *string
	objectivesPath *string
	motifsPath     *string
	statePath      *string
	game           *string
	watermark      *int
	nworkers       *int
	helperMode     *bool
	helperAddr     *string
	memSize        *int
)

// TODO: per 12-factor rules these should be taken from env as well as
// flags; KISS for now.
func init() {
	configPath = flag.String("config", "", "path to a YAML tunables file (defaults used if absent)")
	objectivesPath = flag.String("objectives", "", "path to the objectives file (required)")
	motifsPath = flag.String("motifs", "", "path to a motifs seed file (ignored if a snapshot is loaded)")
	statePath = flag.String("state", "./pfstate.bin", "path to the pfstate snapshot")
	game = flag.String("game", "", "game identifier recorded in/validated against the snapshot")
	watermark = flag.Int("watermark", 0, "movenum floor below which backtracking is forbidden")
	nworkers = flag.Int("nworkers", runtime.NumCPU(), "local Evaluation Engine worker count")
	helperMode = flag.Bool("helper", false, "run as a distributed Evaluation Engine helper instead of the search loop")
	helperAddr = flag.String("helper-addr", ":9191", "listen address in -helper mode")
	memSize = flag.Int("memsize", 2048, "emulator memory size (development/demo fake.Machine only)")
}

func main() {
	flag.Parse()
	defer glog.Flush()

	if err := run(); err != nil {
		glog.Errorf("playfun: %v", err)
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	fs := afero.NewOsFs()

	cfg, err := config.Load(fs, *configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if *nworkers > 0 {
		cfg.Workers = *nworkers
	}

	// Standing in for the real emulator external collaborator (spec.md
	// §1): fake.Machine is the only Emulator this repo can exercise
	// without a ROM, CPU, and PPU implementation.
	factory := fake.Factory(*memSize)

	if *helperMode {
		return runHelper(factory)
	}

	if *objectivesPath == "" {
		return fmt.Errorf("-objectives is required outside -helper mode")
	}
	eval, err := loadObjectives(fs, *objectivesPath)
	if err != nil {
		return fmt.Errorf("objectives: %w", err) // ObjectivesParseError is fatal at startup, spec.md §7
	}

	ctx, cancel, err := cfg.WithDeadline(context.Background())
	if err != nil {
		return fmt.Errorf("deadline: %w", err)
	}
	defer cancel()

	se, err := bootstrap(fs, cfg, factory, eval)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	se.Stats = stats.NewTelemetry()

	return runLoop(ctx, fs, se)
}

func runHelper(factory emulator.Factory) error {
	// Helper mode needs only an emulator factory and the objectives it
	// will score with; it never touches the movie, motif store, or RNG
	// (spec.md §4.H: helpers are stateless workers).
	eval, err := loadObjectives(afero.NewOsFs(), *objectivesPath)
	if err != nil {
		return fmt.Errorf("objectives: %w", err)
	}
	srv := &helper.Server{
		Addr:       *helperAddr,
		Factory:    factory,
		Objectives: eval,
	}
	glog.Infof("playfun: helper listening on %s", srv.Addr)
	return srv.ListenAndServe()
}

func loadObjectives(fs afero.Fs, path string) (*objective.Evaluator, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	objectives, err := objective.ParseObjectives(f)
	if err != nil {
		return nil, err
	}
	return objective.New(objectives), nil
}

// bootstrap restores a snapshot if present and valid, or warms up cold:
// a fresh motif store from -motifs, an empty movie, a freshly-seeded
// RNG, and nfutures_ = MIN_FUTURES (spec.md §4.K, §7 CorruptSnapshot
// policy: log, discard, warm-up from cold — never fatal).
func bootstrap(
	fs afero.Fs,
	cfg config.Tunables,
	factory emulator.Factory,
	eval *objective.Evaluator,
) (*search.Engine, error) {
	snap, loadErr := persistence.Load(fs, *statePath)
	cold := loadErr != nil
	if loadErr != nil {
		glog.Warningf("playfun: no usable snapshot at %s (%v); warming up from cold", *statePath, loadErr)
	} else if snap.Game != "" && *game != "" && snap.Game != *game {
		glog.Warningf("playfun: snapshot game %q does not match -game %q; warming up from cold", snap.Game, *game)
		cold = true
	}

	master, err := factory()
	if err != nil {
		return nil, fmt.Errorf("emulator factory: %w", err)
	}

	if cold {
		return bootstrapCold(cfg, factory, master, eval)
	}
	return bootstrapFromSnapshot(snap, cfg, factory, master, eval)
}

func newEvaluator(cfg config.Tunables, factory emulator.Factory, eval *objective.Evaluator) search.Evaluator {
	localEngine := engine.NewLocalEngine(factory, eval, cfg.Workers)
	if len(cfg.HelperAddrs) == 0 {
		return localEngine
	}
	return &engine.DistributedEngine{
		HelperAddrs:    cfg.HelperAddrs,
		Fallback:       localEngine,
		Objectives:     eval,
		RequestTimeout: 5 * time.Second,
		DialTimeout:    2 * time.Second,
	}
}

func bootstrapCold(
	cfg config.Tunables,
	factory emulator.Factory,
	master emulator.Emulator,
	eval *objective.Evaluator,
) (*search.Engine, error) {
	seedMotifs, err := loadSeedMotifs(afero.NewOsFs(), *motifsPath)
	if err != nil {
		return nil, fmt.Errorf("motifs: %w", err)
	}
	motifStore := motif.New(seedMotifs, cfg.MotifAlpha, cfg.MotifMinFrac, cfg.MotifMaxFrac)

	r := rng.New([]byte(time.Now().Format(time.RFC3339Nano)))
	pop := search.NewPopulation(cfg, cfg.MinFutures)
	mv := movie.New()

	ev := newEvaluator(cfg, factory, eval)
	return search.NewEngine(r, motifStore, pop, mv, master, ev, eval, cfg, int32(*watermark)), nil
}

func bootstrapFromSnapshot(
	snap persistence.Snapshot,
	cfg config.Tunables,
	factory emulator.Factory,
	master emulator.Emulator,
	eval *objective.Evaluator,
) (*search.Engine, error) {
	motifStore := motif.New(snap.Motifs, cfg.MotifAlpha, cfg.MotifMinFrac, cfg.MotifMaxFrac)

	r, err := persistence.RestoreRNG(snap.RNGState)
	if err != nil {
		return nil, fmt.Errorf("restoring rng state: %w", err)
	}

	nfutures := persistence.ClampNFutures(snap.NFutures, cfg.MinFutures, cfg.MaxFutures)
	pop := search.NewPopulation(cfg, nfutures)

	if snap.Checkpoint.Savestate != nil {
		if err := master.Load(snap.Checkpoint.Savestate); err != nil {
			return nil, fmt.Errorf("loading checkpoint savestate: %w", err)
		}
		if err := replayTail(master, snap); err != nil {
			return nil, fmt.Errorf("replaying tail since checkpoint: %w", err)
		}
	}

	ev := newEvaluator(cfg, factory, eval)
	se := search.NewEngine(r, motifStore, pop, snap.Movie, master, ev, eval, cfg, int32(*watermark))
	return se, nil
}

// replayTail steps master through every frame committed after the
// snapshot's checkpoint, so the master emulator's live state matches the
// tail end of the restored movie rather than just the checkpoint.
func replayTail(master emulator.Emulator, snap persistence.Snapshot) error {
	inputs := snap.Movie.Inputs()
	start := snap.Checkpoint.Movenum
	if int(start) > len(inputs) {
		start = int32(len(inputs))
	}
	for _, f := range inputs[start:] {
		if _, err := master.Step(f); err != nil {
			return err
		}
	}
	return nil
}

// loadSeedMotifs reads a cold-start motif seed file: one motif per
// non-blank, non-'#'-prefixed line, "weight hexbyte,hexbyte,...". No
// wire format for mined motifs is defined upstream of this program
// (motif discovery is out of scope, spec.md §1), so this is deliberately
// a minimal, ad-hoc seed format rather than a load-bearing one.
func loadSeedMotifs(fs afero.Fs, path string) ([]motif.Motif, error) {
	if path == "" {
		return []motif.Motif{{Inputs: []movie.Frame{{0}}, Weight: 1.0}}, nil
	}

	f, err := fs.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []motif.Motif
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.SplitN(line, " ", 2)
		if len(fields) != 2 {
			return nil, fmt.Errorf("motif seed line %q: want \"weight hex,hex,...\"", line)
		}
		weight, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			return nil, fmt.Errorf("motif seed line %q: %w", line, err)
		}
		var inputs []movie.Frame
		for _, tok := range strings.Split(fields[1], ",") {
			b, err := hex.DecodeString(strings.TrimSpace(tok))
			if err != nil {
				return nil, fmt.Errorf("motif seed line %q: %w", line, err)
			}
			inputs = append(inputs, movie.Frame(b))
		}
		out = append(out, motif.Motif{Inputs: inputs, Weight: weight})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("motif seed file %s: no motifs parsed", path)
	}
	return out, nil
}

func runLoop(ctx context.Context, fs afero.Fs, se *search.Engine) error {
	round := 0
	lastPersistedMovenum := int32(-1)
	for {
		select {
		case <-ctx.Done():
			return persistSnapshot(fs, se)
		default:
		}

		if _, err := se.Round(ctx); err != nil {
			return fmt.Errorf("round %d: %w", round, err)
		}
		round++

		if se.ShouldBacktrack() {
			if _, err := se.TryImprove(ctx); err != nil {
				glog.Warningf("playfun: TryImprove failed, continuing: %v", err)
			}
		}

		if cp := se.LastCheckpoint(); cp.Savestate != nil && cp.Movenum != lastPersistedMovenum {
			if err := persistSnapshot(fs, se); err != nil {
				glog.Warningf("playfun: checkpoint persist failed: %v", err)
			}
			lastPersistedMovenum = cp.Movenum
			if se.Stats != nil {
				snap := se.Stats.Snapshot()
				glog.Infof("playfun: checkpoint at movenum=%d rounds=%d best=%.2f backtracks=%d/%d",
					cp.Movenum, snap.Rounds, snap.BestScore, snap.BacktracksAccepted, snap.BacktracksAttempted)
			}
		}
	}
}

func persistSnapshot(fs afero.Fs, se *search.Engine) error {
	snap := persistence.Snapshot{
		Game:       derefString(game),
		Watermark:  se.Watermark(),
		Movie:      se.Movie,
		Checkpoint: se.LastCheckpoint(),
		Motifs:     motifsOf(se.Motifs),
		NFutures:   uint32(se.Population.NFutures()),
		RNGState:   se.RNG.State(),
	}
	return persistence.Save(fs, *statePath, snap)
}

func motifsOf(store *motif.Store) []motif.Motif {
	out := make([]motif.Motif, store.Len())
	for i := range out {
		out[i] = store.Get(i)
	}
	return out
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
