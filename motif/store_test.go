package motif

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"playfun/movie"
	"playfun/rng"
)

func twoMotifs(w0, w1 float64) []Motif {
	return []Motif{
		{Inputs: []movie.Frame{{1}}, Weight: w0},
		{Inputs: []movie.Frame{{2}}, Weight: w1},
	}
}

func TestMotifClipping(t *testing.T) {
	Convey("Given two motifs with weights [9,1] and MaxFrac=0.5 (spec scenario 6)", t, func() {
		s := New(twoMotifs(9, 1), 0.5, 0.01, 0.5)

		Convey("The max weight never exceeds half the total", func() {
			total := s.TotalWeight()
			for i := 0; i < s.Len(); i++ {
				So(s.Get(i).Weight, ShouldBeLessThanOrEqualTo, 0.5*total+1e-9)
			}
		})
	})
}

func TestMotifReweight(t *testing.T) {
	Convey("Given a store of three evenly weighted motifs", t, func() {
		s := New([]Motif{
			{Inputs: []movie.Frame{{1}}, Weight: 1},
			{Inputs: []movie.Frame{{2}}, Weight: 1},
			{Inputs: []movie.Frame{{3}}, Weight: 1},
		}, 0.5, 0.01, 0.9)

		Convey("A positive delta divides the motif's weight by Alpha, growing it", func() {
			before := s.Get(0).Weight
			s.Reweight(0, 1.0)
			So(s.Get(0).Weight, ShouldBeGreaterThan, before)
		})

		Convey("A negative delta multiplies the motif's weight by Alpha, shrinking it", func() {
			before := s.Get(0).Weight
			s.Reweight(0, -1.0)
			So(s.Get(0).Weight, ShouldBeLessThan, before)
		})

		Convey("A zero delta leaves the weight unchanged", func() {
			before := s.Get(0).Weight
			s.Reweight(0, 0)
			So(s.Get(0).Weight, ShouldEqual, before)
		})

		Convey("After repeated reweighting, every weight stays within bounds", func() {
			for i := 0; i < 200; i++ {
				s.Reweight(i%s.Len(), 1.0)
			}
			total := s.TotalWeight()
			for i := 0; i < s.Len(); i++ {
				w := s.Get(i).Weight
				So(w, ShouldBeGreaterThanOrEqualTo, s.MinFrac*total-1e-9)
				So(w, ShouldBeLessThanOrEqualTo, s.MaxFrac*total+1e-9)
			}
		})
	})
}

func TestMotifSample(t *testing.T) {
	Convey("Given a store and a seeded RNG", t, func() {
		s := New([]Motif{
			{Inputs: []movie.Frame{{1}}, Weight: 1},
			{Inputs: []movie.Frame{{2}}, Weight: 1},
			{Inputs: []movie.Frame{{3}}, Weight: 1},
		}, 0.5, 0.01, 0.9)

		Convey("Uniform sampling is reproducible given identical RNG state", func() {
			r1 := rng.New([]byte("seed"))
			r2 := rng.New([]byte("seed"))

			id1, _ := s.Sample(r1, false)
			id2, _ := s.Sample(r2, false)
			So(id1, ShouldEqual, id2)
		})

		Convey("Weighted sampling always returns a valid id", func() {
			r := rng.New([]byte("weighted-seed"))
			for i := 0; i < 100; i++ {
				id, _ := s.Sample(r, true)
				So(id, ShouldBeGreaterThanOrEqualTo, 0)
				So(id, ShouldBeLessThan, s.Len())
			}
		})
	})
}
