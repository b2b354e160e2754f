package emulator_test

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"playfun/emulator"
	"playfun/emulator/fake"
	"playfun/movie"
)

func TestRunSequence(t *testing.T) {
	Convey("Given a fake machine and a starting savestate", t, func() {
		emu := fake.New(4)
		start, err := emu.Save()
		So(err, ShouldBeNil)

		Convey("RunSequence is deterministic for a fixed (start, inputs)", func() {
			inputs := []movie.Frame{{1}, {2}, {3}}
			m1, err1 := emulator.RunSequence(emu, start, inputs)
			So(err1, ShouldBeNil)

			emu2 := fake.New(4)
			m2, err2 := emulator.RunSequence(emu2, start, inputs)
			So(err2, ShouldBeNil)

			So(m1, ShouldResemble, m2)
		})

		Convey("Save then Load reproduces behaviorally identical state", func() {
			_, _ = emu.Step(movie.Frame{5})
			saved, err := emu.Save()
			So(err, ShouldBeNil)

			fresh := fake.New(4)
			So(fresh.Load(saved), ShouldBeNil)
			So(fresh.Memory(), ShouldResemble, emu.Memory())

			m1, _ := emu.Step(movie.Frame{2})
			m2, _ := fresh.Step(movie.Frame{2})
			So(m1, ShouldResemble, m2)
		})
	})
}
