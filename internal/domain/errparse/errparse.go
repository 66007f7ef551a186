// Package errparse classifies raw compiler error messages.
package errparse

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/okian/errquotient/internal/domain/model"
)

// Rule pairs an error type with the pattern that detects it.
// Patterns are matched against the lower-cased message.
type Rule struct {
	Type    model.ErrorType
	Pattern *regexp.Regexp
}

// scoringRules is evaluated top to bottom; the first match wins, so the
// order is the tie-break between overlapping categories.
var scoringRules = []Rule{
	{model.CannotFindSymbol, regexp.MustCompile(`cannot find symbol`)},
	{model.SemicolonExpected, regexp.MustCompile(`; expected`)},
	{model.RuntimeException, regexp.MustCompile(`runtimeexception`)},
	{model.Constructor, regexp.MustCompile(`constructor.*cannot be applied`)},
	{model.IdentifierExpected, regexp.MustCompile(`<identifier> expected`)},
	{model.IllegalStartOfType, regexp.MustCompile(`illegal start of type`)},
	{model.BracketExpected, regexp.MustCompile(`[{(] expected|illegal start of expression`)},
	{model.ClassOrInterfaceExpected, regexp.MustCompile(`class or interface expected`)},
	{model.DotClassExpected, regexp.MustCompile(`\.class expected`)},
	{model.NotAStatement, regexp.MustCompile(`not a statement`)},
	{model.MissingReturn, regexp.MustCompile(`missing return statement|missing return value`)},
	{model.IncompatibleTypes, regexp.MustCompile(`incompatible types`)},
	{model.PrivateAccessViolation, regexp.MustCompile(`has private access`)},
	{model.MethodApplicationError, regexp.MustCompile(`cannot be applied to|actual and formal argument lists differ`)},
}

// countedRules has one entry per model.CountedTypes column, same order.
var countedRules = func() [model.NumCountedTypes]Rule {
	var out [model.NumCountedTypes]Rule
	for i, t := range model.CountedTypes {
		for _, r := range scoringRules {
			if r.Type == t {
				out[i] = r
			}
		}
	}
	return out
}()

var lineRe = regexp.MustCompile(`(?m)^(.*?):(\d+): error: (.*)`)

// Rules returns a copy of the scoring table in priority order.
func Rules() []Rule {
	out := make([]Rule, len(scoringRules))
	copy(out, scoringRules)
	return out
}

// Result is the outcome of parsing one message.
type Result struct {
	Type    model.ErrorType
	Line    int
	HasType bool
	HasLine bool
}

// Parse classifies msg with the first matching scoring rule and extracts
// the source line when the message has the "<file>:<line>: error:" shape.
// The line is informational and never affects the type.
func Parse(msg string) Result {
	var res Result
	if strings.TrimSpace(msg) == "" {
		return res
	}

	if m := lineRe.FindStringSubmatch(msg); m != nil {
		if n, err := strconv.Atoi(m[2]); err == nil {
			res.Line, res.HasLine = n, true
		}
	}

	lowered := strings.ToLower(msg)
	for _, r := range scoringRules {
		if r.Pattern.MatchString(lowered) {
			res.Type, res.HasType = r.Type, true
			break
		}
	}
	return res
}

// Classify returns only the scoring type of msg.
func Classify(msg string) (model.ErrorType, bool) {
	r := Parse(msg)
	return r.Type, r.HasType
}

// Counted returns, for one event, 1 in every counted column whose pattern
// matches msg. Columns are independent of the scoring priority.
func Counted(msg string) model.ErrorCounts {
	var c model.ErrorCounts
	if strings.TrimSpace(msg) == "" {
		return c
	}
	lowered := strings.ToLower(msg)
	for i, r := range countedRules {
		if r.Pattern.MatchString(lowered) {
			c[i] = 1
		}
	}
	return c
}
