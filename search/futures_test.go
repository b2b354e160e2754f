package search_test

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"playfun/config"
	"playfun/motif"
	"playfun/movie"
	"playfun/rng"
	"playfun/search"
)

func testMotifs() *motif.Store {
	return motif.New([]motif.Motif{
		{Inputs: []movie.Frame{{1}, {2}, {3}, {4}}, Weight: 1.0},
		{Inputs: []movie.Frame{{5}, {6}}, Weight: 1.0},
	}, 0.9, 0.01, 0.9)
}

func TestPopulationPopulate(t *testing.T) {
	Convey("Given a Population targeting 6 futures", t, func() {
		cfg := config.Defaults()
		cfg.MinFutureLength = 3
		cfg.MaxFutureLength = 5
		pop := search.NewPopulation(cfg, 6)
		r := rng.New([]byte("seed-a"))
		motifs := testMotifs()

		Convey("Populate grows the population to exactly nfutures_", func() {
			pop.Populate(r, motifs)
			So(len(pop.Futures()), ShouldEqual, 6)
		})

		Convey("Every populated future's input length lies in [MinFutureLength, MaxFutureLength]", func() {
			pop.Populate(r, motifs)
			for _, f := range pop.Futures() {
				So(len(f.Inputs), ShouldBeGreaterThanOrEqualTo, cfg.MinFutureLength)
				So(len(f.Inputs), ShouldBeLessThanOrEqualTo, cfg.MaxFutureLength)
				So(f.DesiredLength, ShouldEqual, len(f.Inputs))
			}
		})
	})
}

func TestPopulationApplyScores(t *testing.T) {
	Convey("Given a populated Population and a totals vector", t, func() {
		cfg := config.Defaults()
		cfg.MinFutureLength = 4
		cfg.MaxFutureLength = 8
		cfg.DropFutures = 1
		cfg.MutateFutures = 1
		pop := search.NewPopulation(cfg, 5)
		r := rng.New([]byte("seed-b"))
		motifs := testMotifs()
		pop.Populate(r, motifs)

		before := len(pop.Futures())
		totals := make([]float64, before)
		totals[0] = -5 // guaranteed lowest: will be pruned first

		Convey("ApplyScores prunes DROPFUTURES+MUTATEFUTURES and adds MUTATEFUTURES mutants of the best, shrinking the population by DROPFUTURES", func() {
			pop.ApplyScores(r, totals)
			So(len(pop.Futures()), ShouldEqual, before-cfg.DropFutures)
		})

		Convey("ApplyScores with a mismatched totals length is a no-op", func() {
			pop.ApplyScores(r, totals[:len(totals)-1])
			So(len(pop.Futures()), ShouldEqual, before)
		})
	})
}

func TestPopulationWorkingSetAdaptation(t *testing.T) {
	Convey("Given a Population with nfutures_ below MaxFutures", t, func() {
		cfg := config.Defaults()
		cfg.MinFutureLength = 4
		cfg.MaxFutureLength = 8
		cfg.DropFutures = 0
		cfg.MutateFutures = 0
		cfg.MinFutures = 4
		cfg.MaxFutures = 100
		cfg.NfuturesStepFrac = 0.05
		pop := search.NewPopulation(cfg, 10)
		r := rng.New([]byte("seed-c"))
		motifs := testMotifs()
		pop.Populate(r, motifs)

		Convey("All-zero (non-positive) totals (p=0 < 0.4) grow nfutures_", func() {
			totals := make([]float64, len(pop.Futures()))
			before := pop.NFutures()
			pop.ApplyScores(r, totals)
			So(pop.NFutures(), ShouldBeGreaterThanOrEqualTo, before)
		})

		Convey("All-positive totals (p=1 > 0.6) shrink nfutures_", func() {
			totals := make([]float64, len(pop.Futures()))
			for i := range totals {
				totals[i] = 1.0
			}
			before := pop.NFutures()
			pop.ApplyScores(r, totals)
			So(pop.NFutures(), ShouldBeLessThanOrEqualTo, before)
		})
	})
}
