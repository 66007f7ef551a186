package session_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/okian/errquotient/internal/domain/model"
	"github.com/okian/errquotient/internal/domain/session"
	. "github.com/smartystreets/goconvey/convey"
)

func TestParseTimestamp(t *testing.T) {
	Convey("Given timestamp variants", t, func() {
		want := time.Date(2024, 5, 1, 10, 0, 0, 123000000, time.UTC)

		Convey("Then equivalent spellings parse to the same instant", func() {
			for _, in := range []string{
				"2024-05-01T10:00:00.123Z",
				"2024-05-01T10:00:00.123+00:00",
				"2024-05-01T10:00:00.123",
				"2024-05-01 10:00:00.123",
				"2024-05-01T17:00:00.123+07:00",
				"2024-05-01T17:00:00.123+0700",
				"2024-05-01T05:00:00.123-05",
				"2024-05-01T10:00:00.1230000009Z",
			} {
				got, err := session.ParseTimestamp(in)
				So(err, ShouldBeNil)
				So(got.Equal(want), ShouldBeTrue)
				So(got.Location(), ShouldEqual, time.UTC)
			}
		})

		Convey("Then fractions are truncated to microseconds", func() {
			got, err := session.ParseTimestamp("2024-05-01T10:00:00.1234567Z")
			So(err, ShouldBeNil)
			So(got.Nanosecond(), ShouldEqual, 123456000)
		})

		Convey("Then whole seconds and date-only values parse", func() {
			got, err := session.ParseTimestamp("2024-05-01T10:00:00Z")
			So(err, ShouldBeNil)
			So(got, ShouldEqual, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC))

			got, err = session.ParseTimestamp("2024-05-01")
			So(err, ShouldBeNil)
			So(got, ShouldEqual, time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC))
		})

		Convey("Then garbage is rejected with ErrInvalidTimestamp", func() {
			for _, in := range []string{"", "yesterday", "2024-13-01T10:00:00Z", "2024-05-01X10:00:00", "2024-05-01T25:00:00Z"} {
				_, err := session.ParseTimestamp(in)
				So(errors.Is(err, session.ErrInvalidTimestamp), ShouldBeTrue)
			}
		})
	})
}

func ev(id, at string) model.ErrorEvent {
	return model.ErrorEvent{ID: id, UserID: "u1", RawMessage: "msg " + id, OccurredAt: at}
}

func ids(s session.Session) []string {
	out := make([]string, 0, s.Len())
	for _, e := range s.Events {
		out = append(out, e.Event.ID)
	}
	return out
}

func TestSegment(t *testing.T) {
	Convey("Given a segmenter with the default gap", t, func() {
		seg := session.New()
		ctx := context.Background()

		So(seg.MaxGap(), ShouldEqual, 30*time.Minute)

		Convey("When events arrive out of order with one long gap", func() {
			events := []model.ErrorEvent{
				ev("c", "2024-05-01T11:00:00Z"),
				ev("a", "2024-05-01T10:00:00Z"),
				ev("b", "2024-05-01T10:05:00Z"),
				ev("d", "2024-05-01T11:10:00Z"),
			}
			sessions := seg.Segment(ctx, events)

			Convey("Then sessions are sorted and split on the gap", func() {
				So(len(sessions), ShouldEqual, 2)
				So(ids(sessions[0]), ShouldResemble, []string{"a", "b"})
				So(ids(sessions[1]), ShouldResemble, []string{"c", "d"})
				So(sessions[0].Start(), ShouldEqual, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC))
				So(sessions[1].End(), ShouldEqual, time.Date(2024, 5, 1, 11, 10, 0, 0, time.UTC))
			})

			Convey("Then the gap between sessions exceeds the threshold", func() {
				So(sessions[1].Start().Sub(sessions[0].End()), ShouldBeGreaterThan, seg.MaxGap())
			})
		})

		Convey("When the gap is exactly the threshold", func() {
			sessions := seg.Segment(ctx, []model.ErrorEvent{
				ev("a", "2024-05-01T10:00:00Z"),
				ev("b", "2024-05-01T10:30:00Z"),
			})

			Convey("Then the events stay in one session", func() {
				So(len(sessions), ShouldEqual, 1)
				So(sessions[0].Len(), ShouldEqual, 2)
			})
		})

		Convey("When events are 40 minutes apart", func() {
			sessions := seg.Segment(ctx, []model.ErrorEvent{
				ev("a", "2024-05-01T10:00:00Z"),
				ev("b", "2024-05-01T10:40:00Z"),
			})

			Convey("Then two single-event sessions result", func() {
				So(len(sessions), ShouldEqual, 2)
				So(sessions[0].Len(), ShouldEqual, 1)
				So(sessions[1].Len(), ShouldEqual, 1)
			})
		})

		Convey("When some timestamps are unparseable", func() {
			sessions := seg.Segment(ctx, []model.ErrorEvent{
				ev("a", "2024-05-01T10:00:00Z"),
				ev("bad", "not a time"),
				ev("b", "2024-05-01T10:10:00.5"),
			})

			Convey("Then they are dropped and the rest is partitioned", func() {
				So(len(sessions), ShouldEqual, 1)
				So(ids(sessions[0]), ShouldResemble, []string{"a", "b"})
			})
		})

		Convey("When equal timestamps occur", func() {
			sessions := seg.Segment(ctx, []model.ErrorEvent{
				ev("x", "2024-05-01T10:00:00Z"),
				ev("y", "2024-05-01T10:00:00Z"),
				ev("z", "2024-05-01T10:00:00Z"),
			})

			Convey("Then input order is preserved", func() {
				So(ids(sessions[0]), ShouldResemble, []string{"x", "y", "z"})
			})
		})

		Convey("When there are no usable events", func() {
			So(seg.Segment(ctx, nil), ShouldBeEmpty)
			So(seg.Segment(ctx, []model.ErrorEvent{ev("bad", "")}), ShouldBeEmpty)
		})
	})

	Convey("Given a custom gap", t, func() {
		seg := session.New(session.WithMaxGap(5*time.Minute), session.WithMaxGap(-1))
		sessions := seg.Segment(context.Background(), []model.ErrorEvent{
			ev("a", "2024-05-01T10:00:00Z"),
			ev("b", "2024-05-01T10:06:00Z"),
		})
		So(len(sessions), ShouldEqual, 2)
	})
}

func TestSegmentPartitions(t *testing.T) {
	Convey("Given a long irregular stream", t, func() {
		base := time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)
		offsets := []int{0, 3, 50, 51, 52, 120, 151, 152, 400, 429, 460}
		var events []model.ErrorEvent
		for i := len(offsets) - 1; i >= 0; i-- {
			at := base.Add(time.Duration(offsets[i]) * time.Minute).Format(time.RFC3339)
			events = append(events, ev(at, at))
		}

		sessions := session.New().Segment(context.Background(), events)

		Convey("Then the sessions cover every event exactly once, in order", func() {
			total := 0
			var prev time.Time
			for i, s := range sessions {
				So(s.Len(), ShouldBeGreaterThan, 0)
				for _, e := range s.Events {
					So(e.At.Before(prev), ShouldBeFalse)
					prev = e.At
				}
				if i > 0 {
					So(s.Start().Sub(sessions[i-1].End()), ShouldBeGreaterThan, 30*time.Minute)
				}
				total += s.Len()
			}
			So(total, ShouldEqual, len(events))
			So(len(sessions), ShouldEqual, 6)
		})
	})
}
