package engine_test

import (
	"context"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"playfun/emulator/fake"
	"playfun/engine"
	"playfun/movie"
	"playfun/objective"
)

func TestLocalEngineEvaluate(t *testing.T) {
	Convey("Given a LocalEngine over a fake machine and a single-byte-0 objective", t, func() {
		eval := objective.New([]objective.Objective{
			{Weight: 1.0, Tokens: []objective.Token{objective.NewToken(0, false, false)}},
		})
		factory := fake.Factory(4)
		seed, _ := factory()
		start, _ := seed.Save()
		preMemory := seed.Memory()

		nexts := []engine.Next{
			{Inputs: []movie.Frame{{1, 0, 0, 0}}, Origin: engine.OriginMotif},
			{Inputs: []movie.Frame{{2, 0, 0, 0}}, Origin: engine.OriginFuture},
			{Inputs: []movie.Frame{{3, 0, 0, 0}}, Origin: engine.OriginBackfill},
		}
		futures := []engine.Future{
			{Inputs: []movie.Frame{{1, 0, 0, 0}, {1, 0, 0, 0}}},
			{Inputs: []movie.Frame{{0, 0, 0, 0}}},
		}

		Convey("Evaluate returns one Result per Next in input order, with Workers == 1", func() {
			le := engine.NewLocalEngine(factory, eval, 1)
			results, err := le.Evaluate(context.Background(), start, preMemory, nexts, futures)
			So(err, ShouldBeNil)
			So(len(results), ShouldEqual, len(nexts))
			for _, r := range results {
				So(len(r.FutureTotals), ShouldEqual, len(futures))
			}
		})

		Convey("Results are index-ordered and identical regardless of worker count", func() {
			le1 := engine.NewLocalEngine(factory, eval, 1)
			r1, err1 := le1.Evaluate(context.Background(), start, preMemory, nexts, futures)
			So(err1, ShouldBeNil)

			le4 := engine.NewLocalEngine(factory, eval, 4)
			r4, err4 := le4.Evaluate(context.Background(), start, preMemory, nexts, futures)
			So(err4, ShouldBeNil)

			So(len(r4), ShouldEqual, len(r1))
			for i := range r1 {
				So(r4[i].Immediate, ShouldEqual, r1[i].Immediate)
				So(r4[i].FutSum, ShouldEqual, r1[i].FutSum)
				So(r4[i].FutureTotals, ShouldResemble, r1[i].FutureTotals)
			}
		})

		Convey("Score is immediate plus FutSum", func() {
			le := engine.NewLocalEngine(factory, eval, 2)
			results, err := le.Evaluate(context.Background(), start, preMemory, nexts, futures)
			So(err, ShouldBeNil)
			for _, r := range results {
				So(r.Score(), ShouldEqual, r.Immediate+r.FutSum)
			}
		})

		Convey("A larger immediate input (more byte-0 advance) scores a larger immediate contribution", func() {
			le := engine.NewLocalEngine(factory, eval, 1)
			small := []engine.Next{{Inputs: []movie.Frame{{1, 0, 0, 0}}}}
			big := []engine.Next{{Inputs: []movie.Frame{{9, 0, 0, 0}}}}

			rSmall, err := le.Evaluate(context.Background(), start, preMemory, small, nil)
			So(err, ShouldBeNil)
			rBig, err := le.Evaluate(context.Background(), start, preMemory, big, nil)
			So(err, ShouldBeNil)

			So(rBig[0].Immediate, ShouldBeGreaterThan, rSmall[0].Immediate)
		})

		Convey("WorstFuture and BestFuture index the minimum and maximum totals", func() {
			le := engine.NewLocalEngine(factory, eval, 1)
			results, err := le.Evaluate(context.Background(), start, preMemory, nexts, futures)
			So(err, ShouldBeNil)
			for _, r := range results {
				worst, best := engine.WorstBest(r.FutureTotals)
				So(r.WorstFuture, ShouldEqual, worst)
				So(r.BestFuture, ShouldEqual, best)
			}
		})

		Convey("Evaluate on an empty nexts slice returns no results and no error", func() {
			le := engine.NewLocalEngine(factory, eval, 1)
			results, err := le.Evaluate(context.Background(), start, preMemory, nil, futures)
			So(err, ShouldBeNil)
			So(results, ShouldBeNil)
		})
	})
}

func TestSumFutureTotalsAndWorstBest(t *testing.T) {
	Convey("SumFutureTotals sums in index order", t, func() {
		So(engine.SumFutureTotals([]float64{1, 2, 3}), ShouldEqual, 6)
		So(engine.SumFutureTotals(nil), ShouldEqual, 0)
	})

	Convey("WorstBest breaks ties toward the lowest index", t, func() {
		worst, best := engine.WorstBest([]float64{5, 5, 1, 9, 9})
		So(worst, ShouldEqual, 2)
		So(best, ShouldEqual, 3)
	})
}
