package config_test

import (
	"context"
	"testing"
	"time"

	"github.com/spf13/afero"

	. "github.com/smartystreets/goconvey/convey"

	"playfun/config"
)

func TestLoad(t *testing.T) {
	Convey("Given an in-memory filesystem with no config file", t, func() {
		fs := afero.NewMemMapFs()

		Convey("Load returns Defaults() unmodified", func() {
			cfg, err := config.Load(fs, "/does/not/exist.yaml")
			So(err, ShouldBeNil)
			So(cfg, ShouldResemble, config.Defaults())
		})

		Convey("Load with an empty path also returns Defaults()", func() {
			cfg, err := config.Load(fs, "")
			So(err, ShouldBeNil)
			So(cfg, ShouldResemble, config.Defaults())
		})
	})

	Convey("Given an in-memory filesystem with a partial config file", t, func() {
		fs := afero.NewMemMapFs()
		yamlBody := "MIN_NEXTS: 7\nMOTIF_ALPHA: 0.75\nHELPER_ADDRS:\n  - \"10.0.0.1:9000\"\n"
		So(afero.WriteFile(fs, "/cfg/playfun.yaml", []byte(yamlBody), 0644), ShouldBeNil)

		Convey("Load overlays provided keys onto the defaults", func() {
			cfg, err := config.Load(fs, "/cfg/playfun.yaml")
			So(err, ShouldBeNil)
			So(cfg.MinNexts, ShouldEqual, 7)
			So(cfg.MotifAlpha, ShouldEqual, 0.75)
			So(cfg.HelperAddrs, ShouldResemble, []string{"10.0.0.1:9000"})

			Convey("Unmentioned keys retain their default values", func() {
				defaults := config.Defaults()
				So(cfg.MaxNexts, ShouldEqual, defaults.MaxNexts)
				So(cfg.MotifMaxFrac, ShouldEqual, defaults.MotifMaxFrac)
			})
		})
	})
}

func TestWithDeadline(t *testing.T) {
	Convey("Given Tunables with no deadline", t, func() {
		cfg := config.Defaults()

		Convey("WithDeadline returns a context with no deadline set", func() {
			ctx, cancel, err := cfg.WithDeadline(context.Background())
			defer cancel()
			So(err, ShouldBeNil)
			_, hasDeadline := ctx.Deadline()
			So(hasDeadline, ShouldBeFalse)
		})
	})

	Convey("Given Tunables with a parseable deadline", t, func() {
		cfg := config.Defaults()
		cfg.Deadline = "1h"

		Convey("WithDeadline returns a context bounded roughly one hour out", func() {
			ctx, cancel, err := cfg.WithDeadline(context.Background())
			defer cancel()
			So(err, ShouldBeNil)
			deadline, hasDeadline := ctx.Deadline()
			So(hasDeadline, ShouldBeTrue)
			So(time.Until(deadline), ShouldBeBetween, 59*time.Minute, 61*time.Minute)
		})
	})

	Convey("Given Tunables with an unparseable deadline", t, func() {
		cfg := config.Defaults()
		cfg.Deadline = "not-a-duration"

		Convey("WithDeadline returns an error", func() {
			_, _, err := cfg.WithDeadline(context.Background())
			So(err, ShouldNotBeNil)
		})
	})
}
