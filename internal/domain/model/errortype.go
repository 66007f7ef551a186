package model

import (
	"encoding/json"
	"fmt"
)

// ErrorType is a coarse compiler error category.
type ErrorType string

// Scoring categories.
const (
	CannotFindSymbol         ErrorType = "cannot_find_symbol"
	SemicolonExpected        ErrorType = "semicolon_expected"
	RuntimeException         ErrorType = "runtime_exception"
	Constructor              ErrorType = "constructor"
	IdentifierExpected       ErrorType = "identifier_expected"
	IllegalStartOfType       ErrorType = "illegal_start_of_type"
	BracketExpected          ErrorType = "bracket_expected"
	ClassOrInterfaceExpected ErrorType = "class_or_interface_expected"
	DotClassExpected         ErrorType = "dot_class_expected"
	NotAStatement            ErrorType = "not_a_statement"
	MissingReturn            ErrorType = "missing_return"
	IncompatibleTypes        ErrorType = "incompatible_types"
	PrivateAccessViolation   ErrorType = "private_access_violation"
	MethodApplicationError   ErrorType = "method_application_error"
)

// NumCountedTypes is the size of the fixed counted-type set.
const NumCountedTypes = 6

// CountedTypes lists the categories tallied into ErrorCounts, in column order.
var CountedTypes = [NumCountedTypes]ErrorType{
	CannotFindSymbol,
	SemicolonExpected,
	RuntimeException,
	Constructor,
	IdentifierExpected,
	IllegalStartOfType,
}

// ErrorCounts holds one counter per counted type, indexed like CountedTypes.
// It serialises as an object keyed by type name.
type ErrorCounts [NumCountedTypes]int

// Add returns the element-wise sum of c and o.
func (c ErrorCounts) Add(o ErrorCounts) ErrorCounts {
	for i := range c {
		c[i] += o[i]
	}
	return c
}

// Get returns the count for t, or 0 if t is not a counted type.
func (c ErrorCounts) Get(t ErrorType) int {
	for i, ct := range CountedTypes {
		if ct == t {
			return c[i]
		}
	}
	return 0
}

// Total sums all counters.
func (c ErrorCounts) Total() int {
	n := 0
	for _, v := range c {
		n += v
	}
	return n
}

// Map returns the counts keyed by type name.
func (c ErrorCounts) Map() map[string]int {
	m := make(map[string]int, NumCountedTypes)
	for i, t := range CountedTypes {
		m[string(t)] = c[i]
	}
	return m
}

// MarshalJSON implements json.Marshaler.
func (c ErrorCounts) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.Map())
}

// UnmarshalJSON implements json.Unmarshaler. Missing keys count as zero.
func (c *ErrorCounts) UnmarshalJSON(b []byte) error {
	var m map[string]int
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	var out ErrorCounts
	for k, v := range m {
		idx := -1
		for i, t := range CountedTypes {
			if string(t) == k {
				idx = i
				break
			}
		}
		if idx < 0 {
			return fmt.Errorf("unknown counted error type %q", k)
		}
		out[idx] = v
	}
	*c = out
	return nil
}
