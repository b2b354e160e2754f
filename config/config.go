// Package config loads the tunables of spec.md §6 from a YAML file via
// viper, with an afero filesystem so tests never touch disk. Grounded on
// reinforcement.FromYaml/TrainingConfig, generalized from that type's
// generic HyperParams list to the fixed set of named tunables this
// engine actually has.
package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/viper"
)

// Tunables holds every configuration key of spec.md §6, plus the
// deadline knob carried over from TrainingConfig.WithTrainingDeadline.
type Tunables struct {
	MinNexts   int `mapstructure:"MIN_NEXTS"`
	MaxNexts   int `mapstructure:"MAX_NEXTS"`
	MinFutures int `mapstructure:"MIN_FUTURES"`
	MaxFutures int `mapstructure:"MAX_FUTURES"`

	MinFutureLength int `mapstructure:"MINFUTURELENGTH"`
	MaxFutureLength int `mapstructure:"MAXFUTURELENGTH"`

	NfuturesStepFrac      float64 `mapstructure:"NFUTURES_STEP_FRAC"`
	DesiredLengthStepFrac float64 `mapstructure:"DESIRED_LENGTH_STEP_FRAC"`

	DropFutures     int `mapstructure:"DROPFUTURES"`
	MutateFutures   int `mapstructure:"MUTATEFUTURES"`
	BackfillCount   int `mapstructure:"BACKFILL_COUNT"`
	NextLen         int `mapstructure:"NEXT_LEN"`
	CheckpointEvery int `mapstructure:"CHECKPOINT_EVERY"`

	TryBacktrackEvery    int     `mapstructure:"TRY_BACKTRACK_EVERY"`
	MinBacktrackDistance int     `mapstructure:"MIN_BACKTRACK_DISTANCE"`
	StuckThresholdFrac   float64 `mapstructure:"STUCK_THRESHOLD_FRAC"`
	AblationMaskProb     float64 `mapstructure:"ABLATION_MASK_PROB"`
	OppositesRandomSpans int     `mapstructure:"OPPOSITES_RANDOM_SPANS"`

	MotifAlpha   float64 `mapstructure:"MOTIF_ALPHA"`
	MotifMinFrac float64 `mapstructure:"MOTIF_MIN_FRAC"`
	MotifMaxFrac float64 `mapstructure:"MOTIF_MAX_FRAC"`

	// Deadline, parsed as a Go duration string (e.g. "2h"), mirrors
	// TrainingConfig's trainingDeadline["duration"]. Empty means no
	// deadline.
	Deadline string `mapstructure:"DEADLINE"`

	// HelperAddrs is the configured list of distributed helper
	// addresses to dial (spec.md §6: "Helper discovery is out of
	// scope; the master probes a configured ... list"). An empty list
	// means local-only evaluation.
	HelperAddrs []string `mapstructure:"HELPER_ADDRS"`
	Workers     int      `mapstructure:"WORKERS"`
}

// Defaults returns the tunables this engine runs with when no config
// file is present or a key is missing, so a bare invocation still runs
// (reinforcement.FromYaml has no equivalent: TrainingConfig has no
// required keys either, but ours fills in concrete numeric defaults
// rather than leaving zero values).
func Defaults() Tunables {
	return Tunables{
		MinNexts:   4,
		MaxNexts:   16,
		MinFutures: 16,
		MaxFutures: 128,

		MinFutureLength: 8,
		MaxFutureLength: 64,

		NfuturesStepFrac:      0.05,
		DesiredLengthStepFrac: 0.10,

		DropFutures:     2,
		MutateFutures:   2,
		BackfillCount:   4,
		NextLen:         10,
		CheckpointEvery: 500,

		TryBacktrackEvery:    200,
		MinBacktrackDistance: 50,
		StuckThresholdFrac:   0.5,
		AblationMaskProb:     0.3,
		OppositesRandomSpans: 2,

		MotifAlpha:   0.9,
		MotifMinFrac: 0.01,
		MotifMaxFrac: 0.5,

		Workers: 1,
	}
}

// Load reads path through the given afero filesystem, overlaying its
// values onto Defaults(). A missing file is not an error: it is treated
// the same as an empty config, per spec.md §7 ("warm-up from cold" is
// the snapshot-layer analogue; config simply has nothing to override).
func Load(fs afero.Fs, path string) (Tunables, error) {
	cfg := Defaults()
	if path == "" {
		return cfg, nil
	}

	exists, err := afero.Exists(fs, path)
	if err != nil {
		return cfg, fmt.Errorf("config: stat %s: %w", path, err)
	}
	if !exists {
		return cfg, nil
	}

	vp := viper.New()
	vp.SetFs(fs)
	vp.SetConfigFile(filepath.Base(path))
	vp.SetConfigType("yaml")
	vp.AddConfigPath(filepath.Dir(path))

	if err := vp.ReadInConfig(); err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := vp.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("config: unmarshal %s: %w", path, err)
	}

	return cfg, nil
}

// WithDeadline returns a context bound by Deadline, if set. Ported from
// TrainingConfig.WithTrainingDeadline, generalized to a plain string
// field instead of a map lookup since this config has exactly one
// deadline knob.
func (t Tunables) WithDeadline(ctx context.Context) (context.Context, context.CancelFunc, error) {
	if t.Deadline == "" {
		innerCtx, cancel := context.WithCancel(ctx)
		return innerCtx, cancel, nil
	}

	duration, err := time.ParseDuration(t.Deadline)
	if err != nil {
		return nil, nil, fmt.Errorf("config: bad deadline %q: %w", t.Deadline, err)
	}
	innerCtx, cancel := context.WithTimeout(ctx, duration)
	return innerCtx, cancel, nil
}
