package integrator_test

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"playfun/emulator/fake"
	"playfun/integrator"
	"playfun/movie"
	"playfun/objective"
)

func TestScoreIntegral(t *testing.T) {
	Convey("Given a fake machine and an evaluator over byte 0", t, func() {
		eval := objective.New([]objective.Objective{
			{Weight: 1.0, Tokens: []objective.Token{objective.NewToken(0, false, false)}},
		})
		emu := fake.New(4)
		start, _ := emu.Save()

		Convey("The integral equals the sum of per-step magnitudes", func() {
			inputs := []movie.Frame{{1}, {1}, {1}}
			sum, final, err := integrator.ScoreIntegral(emu, eval, start, inputs)
			So(err, ShouldBeNil)
			So(len(final), ShouldEqual, 4)

			// Replay manually to compute the expected sum the same way.
			verify := fake.New(4)
			_ = verify.Load(start)
			prev := verify.Memory()
			var expected float64
			for _, in := range inputs {
				next, _ := verify.Step(in)
				expected += eval.EvaluateMagnitude(prev, next)
				prev = next
			}
			So(sum, ShouldEqual, expected)
		})

		Convey("An empty input sequence integrates to zero", func() {
			sum, final, err := integrator.ScoreIntegral(emu, eval, start, nil)
			So(err, ShouldBeNil)
			So(sum, ShouldEqual, 0)
			So(final, ShouldResemble, start)
		})

		Convey("ScoreIntegral is pure: repeating it from the same start yields the same result", func() {
			inputs := []movie.Frame{{3}, {2}}
			sum1, final1, _ := integrator.ScoreIntegral(emu, eval, start, inputs)
			sum2, final2, _ := integrator.ScoreIntegral(emu, eval, start, inputs)
			So(sum1, ShouldEqual, sum2)
			So(final1, ShouldResemble, final2)
		})
	})
}
