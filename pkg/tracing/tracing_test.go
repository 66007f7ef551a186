package tracing

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	. "github.com/smartystreets/goconvey/convey"
)

func TestInit(t *testing.T) {
	Convey("Given tracing configurations", t, func() {
		ctx := context.Background()

		Convey("When the exporter is none", func() {
			shutdown, err := Init(ctx, Config{Exporter: "none"})

			Convey("Then a no-op shutdown is returned", func() {
				So(err, ShouldBeNil)
				So(shutdown(ctx), ShouldBeNil)
			})
		})

		Convey("When the exporter is unknown", func() {
			_, err := Init(ctx, Config{Exporter: "jaeger"})

			Convey("Then ErrUnknownExporter is returned", func() {
				So(errors.Is(err, ErrUnknownExporter), ShouldBeTrue)
			})
		})

		Convey("When the exporter is stdout", func() {
			prev := otel.GetTracerProvider()
			defer otel.SetTracerProvider(prev)

			var buf bytes.Buffer
			shutdown, err := Init(ctx, Config{Exporter: "stdout", Writer: &buf})
			So(err, ShouldBeNil)

			_, span := Start(ctx, "test", "op", attribute.String("user_id", "u1"))
			End(span, nil)
			So(shutdown(ctx), ShouldBeNil)

			Convey("Then finished spans are written on shutdown", func() {
				So(buf.String(), ShouldContainSubstring, `"Name":"op"`)
			})
		})
	})
}

func TestEnd(t *testing.T) {
	Convey("Given a recording provider", t, func() {
		prev := otel.GetTracerProvider()
		defer otel.SetTracerProvider(prev)

		rec := tracetest.NewSpanRecorder()
		otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec)))

		Convey("When a span ends with an error", func() {
			_, span := Start(context.Background(), "pipeline", "ProcessUser")
			End(span, errors.New("store down"))

			Convey("Then the span carries an error status", func() {
				spans := rec.Ended()
				So(len(spans), ShouldEqual, 1)
				So(spans[0].Status().Code, ShouldEqual, codes.Error)
				So(spans[0].Status().Description, ShouldEqual, "store down")
				So(spans[0].InstrumentationScope().Name, ShouldEqual, "errquotient/pipeline")
			})
		})
	})
}
