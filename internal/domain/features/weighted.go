package features

import (
	"github.com/okian/errquotient/internal/domain/errparse"
	"github.com/okian/errquotient/internal/domain/model"
)

// Weights is the fixed per-type weight table of the weighted schema.
// Structural mistakes weigh less than type and semantic errors.
var Weights = map[model.ErrorType]float64{
	model.SemicolonExpected:        0.5,
	model.BracketExpected:          0.5,
	model.IdentifierExpected:       0.7,
	model.IllegalStartOfType:       0.7,
	model.ClassOrInterfaceExpected: 0.8,
	model.DotClassExpected:         0.8,
	model.NotAStatement:            0.8,
	model.CannotFindSymbol:         1.0,
	model.MissingReturn:            1.0,
	model.IncompatibleTypes:        1.2,
	model.PrivateAccessViolation:   1.2,
	model.Constructor:              1.3,
	model.MethodApplicationError:   1.3,
	model.RuntimeException:         1.5,
}

// WeightedFeatures is the legacy weighted error-count layout.
type WeightedFeatures struct {
	Counts               map[model.ErrorType]int `json:"counts"`
	WeightedScore        float64                 `json:"weighted_score"`
	TotalErrorTypes      int                     `json:"total_error_types"`
	ErrorSubmissionRatio float64                 `json:"error_submission_ratio"`
}

// AggregateWeighted counts scoring types across every snapshot, weights
// them, and relates the number of distinct types to submissions.
// The ratio is 0 when totalSubmissions is 0.
func AggregateWeighted(snapshots []string, totalSubmissions int) WeightedFeatures {
	f := WeightedFeatures{Counts: make(map[model.ErrorType]int, len(Weights))}
	for _, r := range errparse.Rules() {
		f.Counts[r.Type] = 0
	}
	for _, snap := range snapshots {
		if t, ok := errparse.Classify(snap); ok {
			f.Counts[t]++
		}
	}
	for t, n := range f.Counts {
		if n == 0 {
			continue
		}
		f.TotalErrorTypes++
		f.WeightedScore += float64(n) * Weights[t]
	}
	if totalSubmissions > 0 {
		f.ErrorSubmissionRatio = float64(f.TotalErrorTypes) / float64(totalSubmissions)
	}
	return f
}
