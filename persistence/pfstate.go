// Package persistence implements the binary pfstate snapshot format
// (spec.md §6, §4.K): magic, game name, watermark, movie, subtitles,
// memories, latest checkpoint, motif weights, nfutures_, and RNG state,
// all little-endian. It depends only on movie, motif, and rng, so the
// search package's control-flow decisions never leak into the wire
// format.
package persistence

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/afero"

	"playfun/motif"
	"playfun/movie"
	"playfun/rng"
)

var magic = [4]byte{'P', 'F', 'S', 'T'}

// ErrCorruptSnapshot is the spec.md §7 CorruptSnapshot condition for bad
// magic or truncated data. Decoding does not compare the game string;
// that check is left to the caller. Callers must treat this as
// recoverable — log, discard, warm-up from cold — never fatal.
var ErrCorruptSnapshot = errors.New("persistence: corrupt snapshot")

// Snapshot is everything pfstate round-trips. Motifs is the raw,
// unclipped weight/inputs list: persistence has no opinion on
// MOTIF_ALPHA/MIN_FRAC/MAX_FRAC, so callers rebuild a *motif.Store with
// their configured bounds from this list rather than persistence
// constructing one itself.
type Snapshot struct {
	Game       string
	Watermark  int32
	Movie      *movie.Movie
	Checkpoint movie.Checkpoint
	Motifs     []motif.Motif
	NFutures   uint32
	RNGState   []byte
}

// Save writes snap to path through fs, in full, or not at all: it
// buffers the encoded snapshot in memory and writes it with a single
// afero.WriteFile call, so a write failure partway through never leaves
// a truncated file behind for the next Load to choke on.
func Save(fs afero.Fs, path string, snap Snapshot) error {
	var buf bytes.Buffer
	if err := encode(&buf, snap); err != nil {
		return fmt.Errorf("persistence: encode: %w", err)
	}
	if err := afero.WriteFile(fs, path, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("persistence: write %s: %w", path, err)
	}
	return nil
}

// Load reads and decodes path through fs. A missing file is reported via
// os.ErrNotExist (wrapped); callers distinguish "nothing to load yet"
// (cold start) from a genuinely corrupt file via errors.Is against
// ErrCorruptSnapshot.
func Load(fs afero.Fs, path string) (Snapshot, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return Snapshot{}, err
	}

	snap, err := decode(bytes.NewReader(data))
	if err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

func encode(w io.Writer, snap Snapshot) error {
	if _, err := w.Write(magic[:]); err != nil {
		return err
	}
	if err := writeString(w, snap.Game); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, snap.Watermark); err != nil {
		return err
	}

	rawInputs := movie.FlattenInputs(snap.Movie.Inputs())
	if err := writeBytes(w, rawInputs); err != nil {
		return err
	}

	subtitles := snap.Movie.Subtitles()
	if err := binary.Write(w, binary.LittleEndian, uint32(len(subtitles))); err != nil {
		return err
	}
	for _, s := range subtitles {
		if err := writeString(w, s); err != nil {
			return err
		}
	}

	memories := snap.Movie.Memories()
	if err := binary.Write(w, binary.LittleEndian, uint32(len(memories))); err != nil {
		return err
	}
	for _, m := range memories {
		if err := writeBytes(w, m); err != nil {
			return err
		}
	}

	if err := binary.Write(w, binary.LittleEndian, snap.Checkpoint.Movenum); err != nil {
		return err
	}
	if err := writeBytes(w, snap.Checkpoint.Savestate); err != nil {
		return err
	}

	if err := binary.Write(w, binary.LittleEndian, uint32(len(snap.Motifs))); err != nil {
		return err
	}
	for _, m := range snap.Motifs {
		if err := binary.Write(w, binary.LittleEndian, m.Weight); err != nil {
			return err
		}
		if err := writeBytes(w, movie.FlattenInputs(m.Inputs)); err != nil {
			return err
		}
	}

	if err := binary.Write(w, binary.LittleEndian, snap.NFutures); err != nil {
		return err
	}

	return writeBytes(w, snap.RNGState)
}

func decode(r io.Reader) (Snapshot, error) {
	var got [4]byte
	if _, err := io.ReadFull(r, got[:]); err != nil {
		return Snapshot{}, fmt.Errorf("%w: reading magic: %v", ErrCorruptSnapshot, err)
	}
	if got != magic {
		return Snapshot{}, fmt.Errorf("%w: bad magic %v", ErrCorruptSnapshot, got)
	}

	game, err := readString(r)
	if err != nil {
		return Snapshot{}, corrupt("game string", err)
	}

	var watermark int32
	if err := binary.Read(r, binary.LittleEndian, &watermark); err != nil {
		return Snapshot{}, corrupt("watermark", err)
	}

	rawInputs, err := readBytes(r)
	if err != nil {
		return Snapshot{}, corrupt("movie inputs", err)
	}

	var numSubtitles uint32
	if err := binary.Read(r, binary.LittleEndian, &numSubtitles); err != nil {
		return Snapshot{}, corrupt("subtitle count", err)
	}
	subtitles := make([]string, numSubtitles)
	for i := range subtitles {
		s, err := readString(r)
		if err != nil {
			return Snapshot{}, corrupt("subtitle", err)
		}
		subtitles[i] = s
	}

	var numMemories uint32
	if err := binary.Read(r, binary.LittleEndian, &numMemories); err != nil {
		return Snapshot{}, corrupt("memory count", err)
	}
	memories := make([][]byte, numMemories)
	for i := range memories {
		m, err := readBytes(r)
		if err != nil {
			return Snapshot{}, corrupt("memory", err)
		}
		memories[i] = m
	}

	var checkpointMovenum int32
	if err := binary.Read(r, binary.LittleEndian, &checkpointMovenum); err != nil {
		return Snapshot{}, corrupt("checkpoint movenum", err)
	}
	savestate, err := readBytes(r)
	if err != nil {
		return Snapshot{}, corrupt("checkpoint savestate", err)
	}

	var numMotifs uint32
	if err := binary.Read(r, binary.LittleEndian, &numMotifs); err != nil {
		return Snapshot{}, corrupt("motif count", err)
	}
	motifs := make([]motif.Motif, numMotifs)
	for i := range motifs {
		var weight float64
		if err := binary.Read(r, binary.LittleEndian, &weight); err != nil {
			return Snapshot{}, corrupt("motif weight", err)
		}
		raw, err := readBytes(r)
		if err != nil {
			return Snapshot{}, corrupt("motif inputs", err)
		}
		motifs[i] = motif.Motif{Weight: weight, Inputs: movie.SplitFrames(raw, 1)}
	}

	var nfutures uint32
	if err := binary.Read(r, binary.LittleEndian, &nfutures); err != nil {
		return Snapshot{}, corrupt("nfutures", err)
	}

	rngState, err := readBytes(r)
	if err != nil {
		return Snapshot{}, corrupt("rng state", err)
	}

	frameWidth := 1
	mv := movie.LoadFlat(rawInputs, frameWidth, subtitles, memories)

	return Snapshot{
		Game:       game,
		Watermark:  watermark,
		Movie:      mv,
		Checkpoint: movie.Checkpoint{Movenum: checkpointMovenum, Savestate: savestate},
		Motifs:     motifs,
		NFutures:   nfutures,
		RNGState:   rngState,
	}, nil
}

func corrupt(field string, cause error) error {
	return fmt.Errorf("%w: %s: %v", ErrCorruptSnapshot, field, cause)
}

func writeString(w io.Writer, s string) error {
	return writeBytes(w, []byte(s))
}

func readString(r io.Reader) (string, error) {
	b, err := readBytes(r)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func writeBytes(w io.Writer, b []byte) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

func readBytes(r io.Reader) ([]byte, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}

// ClampNFutures enforces spec.md §4.K: "nfutures_ is clamped to
// [MIN_FUTURES, MAX_FUTURES] on load".
func ClampNFutures(n uint32, min, max int) int {
	v := int(n)
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// RestoreRNG rebuilds an *rng.RNG from a snapshot's byte-exact state
// (spec.md §4.K: "The RNG state is restored byte-exact so subsequent
// draws reproduce the uninterrupted run").
func RestoreRNG(state []byte) (*rng.RNG, error) {
	return rng.SetState(state)
}
