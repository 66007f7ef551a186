package model

import "fmt"

// Performance is the ordinal performance class derived from a cluster.
type Performance string

const (
	PerformanceHigh   Performance = "HIGH"
	PerformanceMedium Performance = "MEDIUM"
	PerformanceLow    Performance = "LOW"
)

// Ordinal labels, ascending by mean feature value of their cluster.
const (
	LabelHigh   = 1
	LabelMedium = 2
	LabelLow    = 3
)

// performanceByLabel is indexed by ordinal label.
var performanceByLabel = [...]Performance{LabelHigh: PerformanceHigh, LabelMedium: PerformanceMedium, LabelLow: PerformanceLow}

// PerformanceForLabel maps an ordinal label 1..3 to its performance.
func PerformanceForLabel(label int) (Performance, error) {
	if label < LabelHigh || label > LabelLow {
		return "", fmt.Errorf("ordinal label %d out of range", label)
	}
	return performanceByLabel[label], nil
}

// Valid reports whether p is one of the three known classes.
func (p Performance) Valid() bool {
	switch p {
	case PerformanceHigh, PerformanceMedium, PerformanceLow:
		return true
	}
	return false
}

// Ptr returns a pointer to a copy of p.
func (p Performance) Ptr() *Performance { return &p }

// IntPtr returns a pointer to a copy of v.
func IntPtr(v int) *int { return &v }
