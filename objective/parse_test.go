package objective

import (
	"strings"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestParseObjectives(t *testing.T) {
	Convey("Given a well-formed objectives file with comments and blank lines", t, func() {
		text := `
# lives objective, decreasing-is-good on byte 5
# weight tok1 tok2
1.5 1073741829 42

# score objective, plain legacy token (no flags)
2.0 7
`
		objs, err := ParseObjectives(strings.NewReader(text))

		Convey("It parses without error", func() {
			So(err, ShouldBeNil)
			So(len(objs), ShouldEqual, 2)
		})

		Convey("Weights and token counts are preserved", func() {
			So(objs[0].Weight, ShouldEqual, 1.5)
			So(len(objs[0].Tokens), ShouldEqual, 2)
			So(objs[1].Weight, ShouldEqual, 2.0)
			So(len(objs[1].Tokens), ShouldEqual, 1)
		})

		Convey("A legacy token with no flag bits still yields its plain index", func() {
			So(objs[1].Tokens[0].Index(), ShouldEqual, 7)
			So(objs[1].Tokens[0].Signed(), ShouldBeFalse)
			So(objs[1].Tokens[0].Decreasing(), ShouldBeFalse)
		})
	})

	Convey("Given a line with a stray bit 31 set", t, func() {
		// 1<<31 | 9 = 2147483657
		text := "1.0 2147483657"
		objs, err := ParseObjectives(strings.NewReader(text))

		Convey("Bit 31 is masked out rather than rejected", func() {
			So(err, ShouldBeNil)
			So(objs[0].Tokens[0].Index(), ShouldEqual, 9)
		})
	})

	Convey("Given a line missing its tokens", t, func() {
		_, err := ParseObjectives(strings.NewReader("1.0"))

		Convey("Parsing fails with a ParseError naming the line", func() {
			So(err, ShouldNotBeNil)
			var pe *ParseError
			So(err, ShouldHaveSameTypeAs, pe)
		})
	})

	Convey("Given a line with a non-numeric weight", t, func() {
		_, err := ParseObjectives(strings.NewReader("notaweight 1 2"))

		Convey("Parsing fails", func() {
			So(err, ShouldNotBeNil)
		})
	})
}
