package persistence_test

import (
	"errors"
	"testing"

	"github.com/spf13/afero"

	. "github.com/smartystreets/goconvey/convey"

	"playfun/motif"
	"playfun/movie"
	"playfun/persistence"
	"playfun/rng"
)

func buildSnapshot() persistence.Snapshot {
	mv := movie.New()
	mv.Commit([]movie.Frame{{1}, {2}, {3}}, "opening", []byte{9, 9})
	mv.Commit([]movie.Frame{{4}, {5}}, "second", []byte{7, 7})

	r := rng.New([]byte("seed"))
	r.NextU32() // advance the stream so state isn't the fresh-seed state

	return persistence.Snapshot{
		Game:      "testgame",
		Watermark: 42,
		Movie:     mv,
		Checkpoint: movie.Checkpoint{
			Movenum:   3,
			Savestate: []byte{1, 2, 3, 4},
		},
		Motifs: []motif.Motif{
			{Inputs: []movie.Frame{{1}, {0}}, Weight: 5.0},
			{Inputs: []movie.Frame{{2}}, Weight: 1.0},
		},
		NFutures: 32,
		RNGState: r.State(),
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	Convey("Given a snapshot saved to an in-memory filesystem", t, func() {
		fs := afero.NewMemMapFs()
		snap := buildSnapshot()
		So(persistence.Save(fs, "/state/pfstate.bin", snap), ShouldBeNil)

		Convey("Load reconstructs every field byte-exact", func() {
			got, err := persistence.Load(fs, "/state/pfstate.bin")
			So(err, ShouldBeNil)

			So(got.Game, ShouldEqual, snap.Game)
			So(got.Watermark, ShouldEqual, snap.Watermark)
			So(got.NFutures, ShouldEqual, snap.NFutures)
			So(got.RNGState, ShouldResemble, snap.RNGState)
			So(got.Checkpoint, ShouldResemble, snap.Checkpoint)

			So(got.Movie.Movenum(), ShouldEqual, snap.Movie.Movenum())
			So(got.Movie.Inputs(), ShouldResemble, snap.Movie.Inputs())

			So(len(got.Motifs), ShouldEqual, len(snap.Motifs))
			for i := range snap.Motifs {
				So(got.Motifs[i].Weight, ShouldEqual, snap.Motifs[i].Weight)
				So(got.Motifs[i].Inputs, ShouldResemble, snap.Motifs[i].Inputs)
			}
		})

		Convey("The restored RNG reproduces the same subsequent stream as the original", func() {
			got, err := persistence.Load(fs, "/state/pfstate.bin")
			So(err, ShouldBeNil)

			restored, err := persistence.RestoreRNG(got.RNGState)
			So(err, ShouldBeNil)

			reference, err := persistence.RestoreRNG(snap.RNGState)
			So(err, ShouldBeNil)

			for i := 0; i < 10; i++ {
				So(restored.NextU32(), ShouldEqual, reference.NextU32())
			}
		})
	})

	Convey("Loading a file with a bad magic returns ErrCorruptSnapshot", t, func() {
		fs := afero.NewMemMapFs()
		So(afero.WriteFile(fs, "/bad.bin", []byte("NOPE0000"), 0644), ShouldBeNil)

		_, err := persistence.Load(fs, "/bad.bin")
		So(err, ShouldNotBeNil)
		So(errors.Is(err, persistence.ErrCorruptSnapshot), ShouldBeTrue)
	})

	Convey("Loading a truncated file returns an error rather than panicking", t, func() {
		fs := afero.NewMemMapFs()
		snap := buildSnapshot()
		So(persistence.Save(fs, "/full.bin", snap), ShouldBeNil)

		full, err := afero.ReadFile(fs, "/full.bin")
		So(err, ShouldBeNil)
		So(afero.WriteFile(fs, "/truncated.bin", full[:len(full)/2], 0644), ShouldBeNil)

		_, err = persistence.Load(fs, "/truncated.bin")
		So(err, ShouldNotBeNil)
	})
}

func TestClampNFutures(t *testing.T) {
	Convey("ClampNFutures bounds a stored value into [min, max]", t, func() {
		So(persistence.ClampNFutures(5, 16, 128), ShouldEqual, 16)
		So(persistence.ClampNFutures(200, 16, 128), ShouldEqual, 128)
		So(persistence.ClampNFutures(64, 16, 128), ShouldEqual, 64)
	})
}
