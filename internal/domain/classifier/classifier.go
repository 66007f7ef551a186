// Package classifier standardises user features, partitions them into three
// clusters and maps clusters to ordinal performance labels.
package classifier

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/okian/errquotient/internal/domain/model"
	"github.com/okian/errquotient/pkg/tracing"
)

// K is the fixed number of clusters.
const K = 3

// Snapshot is an immutable model version. Maps are keyed by the cluster
// index produced by the fit; Labels values are ordinal 1..3.
type Snapshot struct {
	Version      int                       `json:"version"`
	K            int                       `json:"k"`
	FeatureNames []string                  `json:"feature_names"`
	Scaler       *Scaler                   `json:"scaler,omitempty"`
	Centers      [][]float64               `json:"centers,omitempty"`
	Performance  map[int]model.Performance `json:"performance"`
	Labels       map[int]int               `json:"labels"`
	Inertia      float64                   `json:"inertia"`
	TrainedAt    time.Time                 `json:"trained_at"`
}

// Default returns the unfit model with the identity label mapping.
func Default() *Snapshot {
	return &Snapshot{
		K:            K,
		FeatureNames: []string{"average_eq_score"},
		Performance:  map[int]model.Performance{0: model.PerformanceHigh, 1: model.PerformanceMedium, 2: model.PerformanceLow},
		Labels:       map[int]int{0: model.LabelHigh, 1: model.LabelMedium, 2: model.LabelLow},
	}
}

// Fitted reports whether the snapshot holds trained parameters.
func (s *Snapshot) Fitted() bool {
	return s.Scaler != nil && len(s.Centers) == s.K
}

// Predict assigns features to the nearest center. An unfit snapshot
// answers (MEDIUM, 2) so callers degrade to a neutral class.
func (s *Snapshot) Predict(features []float64) (model.Performance, int, error) {
	if !s.Fitted() {
		return model.PerformanceMedium, model.LabelMedium, nil
	}
	if len(features) != len(s.Scaler.Mean) {
		return "", 0, fmt.Errorf("%w: got %d values, want %d", ErrFeatureShape, len(features), len(s.Scaler.Mean))
	}
	for _, v := range features {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return "", 0, fmt.Errorf("%w: non-finite value", ErrFeatureShape)
		}
	}
	c := nearest(s.Centers, s.Scaler.Transform(features))
	perf, ok := s.Performance[c]
	if !ok {
		perf = model.PerformanceMedium
	}
	label, ok := s.Labels[c]
	if !ok {
		label = model.LabelMedium
	}
	return perf, label, nil
}

// Validate checks the invariants a loaded snapshot must satisfy.
func (s *Snapshot) Validate() error {
	if s.K != K {
		return fmt.Errorf("model has %d clusters, want %d", s.K, K)
	}
	if len(s.Performance) != K || len(s.Labels) != K {
		return fmt.Errorf("model label maps are incomplete")
	}
	seen := map[int]bool{}
	for c := 0; c < K; c++ {
		label, ok := s.Labels[c]
		if !ok || label < model.LabelHigh || label > model.LabelLow || seen[label] {
			return fmt.Errorf("model label map is not a bijection onto 1..3")
		}
		seen[label] = true
		want, _ := model.PerformanceForLabel(label)
		if s.Performance[c] != want {
			return fmt.Errorf("model performance map disagrees with labels for cluster %d", c)
		}
	}
	if s.Scaler == nil && len(s.Centers) == 0 {
		return nil
	}
	if s.Scaler == nil || len(s.Centers) != K || len(s.Scaler.Mean) == 0 || len(s.Scaler.Mean) != len(s.Scaler.Scale) {
		return fmt.Errorf("model parameters are incomplete")
	}
	for _, c := range s.Centers {
		if len(c) != len(s.Scaler.Mean) {
			return fmt.Errorf("model center arity mismatch")
		}
	}
	return nil
}

// Assignment is the label a fit gives one user.
type Assignment struct {
	UserID      string
	Cluster     int // ordinal label 1..3
	Performance model.Performance
	Features    []float64
}

// Fit trains a new snapshot over rows. Rows need a non-empty finite feature
// vector of the common arity and at least one session; fewer than three such
// rows yields ErrInsufficientData. Clusters are ordered by the mean of the
// first feature in original units, lowest first: that cluster is 1/HIGH.
func Fit(ctx context.Context, rows []model.FeatureRow, opts ...FitOption) (snap *Snapshot, assignments []Assignment, err error) {
	cfg := defaultFitConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	ctx, span := tracing.Start(ctx, "classifier", "Fit", attribute.Int("rows.offered", len(rows)))
	defer func() { tracing.End(span, err) }()

	valid := validRows(rows)
	span.SetAttributes(attribute.Int("rows.valid", len(valid)))
	if len(valid) < K {
		return nil, nil, fmt.Errorf("%w: %d valid rows, need %d", ErrInsufficientData, len(valid), K)
	}

	X := make([][]float64, len(valid))
	for i, r := range valid {
		X[i] = r.Features
	}
	scaler := FitScaler(X)
	Z := make([][]float64, len(X))
	for i, x := range X {
		Z[i] = scaler.Transform(x)
	}
	if distinctPoints(Z) < K {
		return nil, nil, fmt.Errorf("%w: fewer than %d distinct points", ErrDegenerateFit, K)
	}

	km, err := kmeans(ctx, Z, K, cfg)
	if err != nil {
		return nil, nil, err
	}

	sums := make([]float64, K)
	counts := make([]int, K)
	for i, c := range km.assign {
		sums[c] += X[i][0]
		counts[c]++
	}
	order := make([]int, K)
	for c := range order {
		if counts[c] == 0 {
			return nil, nil, fmt.Errorf("%w: cluster %d is empty", ErrDegenerateFit, c)
		}
		order[c] = c
	}
	sort.SliceStable(order, func(a, b int) bool {
		return sums[order[a]]/float64(counts[order[a]]) < sums[order[b]]/float64(counts[order[b]])
	})

	snap = &Snapshot{
		Version:      cfg.version,
		K:            K,
		FeatureNames: cfg.featureNames,
		Scaler:       &scaler,
		Centers:      km.centers,
		Performance:  make(map[int]model.Performance, K),
		Labels:       make(map[int]int, K),
		Inertia:      km.inertia,
		TrainedAt:    cfg.now().UTC(),
	}
	for rank, c := range order {
		label := rank + 1
		snap.Labels[c] = label
		snap.Performance[c], _ = model.PerformanceForLabel(label)
	}

	assignments = make([]Assignment, len(valid))
	for i, r := range valid {
		c := km.assign[i]
		assignments[i] = Assignment{
			UserID:      r.UserID,
			Cluster:     snap.Labels[c],
			Performance: snap.Performance[c],
			Features:    r.Features,
		}
	}
	return snap, assignments, nil
}

func validRows(rows []model.FeatureRow) []model.FeatureRow {
	arity := 0
	out := make([]model.FeatureRow, 0, len(rows))
	for _, r := range rows {
		if len(r.Features) == 0 || r.TotalSessions <= 0 || !finite(r.Features) {
			continue
		}
		if arity == 0 {
			arity = len(r.Features)
		}
		if len(r.Features) != arity {
			continue
		}
		out = append(out, r)
	}
	return out
}

func finite(x []float64) bool {
	for _, v := range x {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func distinctPoints(Z [][]float64) int {
	n := 0
	for i := range Z {
		dup := false
		for j := 0; j < i; j++ {
			if sqDist(Z[i], Z[j]) == 0 {
				dup = true
				break
			}
		}
		if !dup {
			n++
			if n >= K {
				return n
			}
		}
	}
	return n
}
