package errparse_test

import (
	"testing"

	"github.com/okian/errquotient/internal/domain/errparse"
	"github.com/okian/errquotient/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

func TestParse(t *testing.T) {
	Convey("Given javac style messages", t, func() {
		Convey("When the message has a locator and a known category", func() {
			res := errparse.Parse("Main.java:12: error: cannot find symbol\n  symbol: variable x")

			Convey("Then type and line are both extracted", func() {
				So(res.HasType, ShouldBeTrue)
				So(res.Type, ShouldEqual, model.CannotFindSymbol)
				So(res.HasLine, ShouldBeTrue)
				So(res.Line, ShouldEqual, 12)
			})
		})

		Convey("When the message is upper-cased", func() {
			typ, ok := errparse.Classify("Exception in thread main java.lang.RUNTIMEEXCEPTION")
			So(ok, ShouldBeTrue)
			So(typ, ShouldEqual, model.RuntimeException)
		})

		Convey("When the locator is missing", func() {
			res := errparse.Parse("error: statement must end with ; expected here")

			Convey("Then the type is still found without a line", func() {
				So(res.Type, ShouldEqual, model.SemicolonExpected)
				So(res.HasLine, ShouldBeFalse)
			})
		})

		Convey("When two categories overlap", func() {
			// constructor X cannot be applied also matches method_application_error.
			typ, _ := errparse.Classify("A.java:3: error: constructor Foo in class Foo cannot be applied to given types;")

			Convey("Then the earlier rule wins", func() {
				So(typ, ShouldEqual, model.Constructor)
			})
		})

		Convey("When a later rule is the only match", func() {
			typ, _ := errparse.Classify("A.java:9: error: method add in class Calc cannot be applied to given types;")
			So(typ, ShouldEqual, model.MethodApplicationError)

			typ, _ = errparse.Classify("A.java:9: error: illegal start of expression")
			So(typ, ShouldEqual, model.BracketExpected)

			typ, _ = errparse.Classify("A.java:9: error: missing return statement")
			So(typ, ShouldEqual, model.MissingReturn)
		})

		Convey("When nothing matches", func() {
			res := errparse.Parse("B.java:4: error: unreachable statement")

			Convey("Then no type is returned but the line is", func() {
				So(res.HasType, ShouldBeFalse)
				So(res.Type, ShouldEqual, model.ErrorType(""))
				So(res.Line, ShouldEqual, 4)
			})
		})

		Convey("When the message is blank", func() {
			So(errparse.Parse("   \n\t"), ShouldResemble, errparse.Result{})
		})
	})
}

func TestRules(t *testing.T) {
	Convey("Given the scoring table", t, func() {
		rules := errparse.Rules()

		Convey("Then it has fourteen categories in fixed priority order", func() {
			So(len(rules), ShouldEqual, 14)
			So(rules[0].Type, ShouldEqual, model.CannotFindSymbol)
			So(rules[3].Type, ShouldEqual, model.Constructor)
			So(rules[13].Type, ShouldEqual, model.MethodApplicationError)
		})

		Convey("Then mutating the copy does not affect classification", func() {
			rules[0] = rules[13]
			typ, _ := errparse.Classify("cannot find symbol")
			So(typ, ShouldEqual, model.CannotFindSymbol)
		})
	})
}

func TestCounted(t *testing.T) {
	Convey("Given a message matching several counted patterns", t, func() {
		c := errparse.Counted("x.java:1: error: cannot find symbol; <identifier> expected")

		Convey("Then every matching column is set to one", func() {
			So(c.Get(model.CannotFindSymbol), ShouldEqual, 1)
			So(c.Get(model.IdentifierExpected), ShouldEqual, 1)
			So(c.Total(), ShouldEqual, 2)
		})
	})

	Convey("Given a message outside the counted set", t, func() {
		So(errparse.Counted("incompatible types: int cannot be converted").Total(), ShouldEqual, 0)
		So(errparse.Counted("").Total(), ShouldEqual, 0)
	})
}
