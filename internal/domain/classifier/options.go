package classifier

import "time"

// Fit defaults.
const (
	DefaultNInit     = 10
	DefaultSeed      = 42
	DefaultMaxIter   = 300
	DefaultTolerance = 1e-4
)

type fitConfig struct {
	nInit        int
	seed         int64
	maxIter      int
	tol          float64
	featureNames []string
	version      int
	now          func() time.Time
}

func defaultFitConfig() fitConfig {
	return fitConfig{
		nInit:        DefaultNInit,
		seed:         DefaultSeed,
		maxIter:      DefaultMaxIter,
		tol:          DefaultTolerance,
		featureNames: []string{"average_eq_score"},
		version:      1,
		now:          time.Now,
	}
}

// FitOption configures Fit.
type FitOption func(*fitConfig)

// WithNInit sets the number of k-means++ restarts.
func WithNInit(n int) FitOption {
	return func(c *fitConfig) {
		if n > 0 {
			c.nInit = n
		}
	}
}

// WithSeed sets the random seed of the initialisation.
func WithSeed(seed int64) FitOption {
	return func(c *fitConfig) { c.seed = seed }
}

// WithMaxIter caps Lloyd iterations per restart.
func WithMaxIter(n int) FitOption {
	return func(c *fitConfig) {
		if n > 0 {
			c.maxIter = n
		}
	}
}

// WithTolerance sets the relative convergence tolerance.
func WithTolerance(tol float64) FitOption {
	return func(c *fitConfig) {
		if tol >= 0 {
			c.tol = tol
		}
	}
}

// WithFeatureNames records the column names in the snapshot.
func WithFeatureNames(names []string) FitOption {
	return func(c *fitConfig) {
		if len(names) > 0 {
			c.featureNames = append([]string(nil), names...)
		}
	}
}

// WithVersion stamps the snapshot version, usually previous+1.
func WithVersion(v int) FitOption {
	return func(c *fitConfig) {
		if v > 0 {
			c.version = v
		}
	}
}

// WithClock overrides the time source of TrainedAt.
func WithClock(now func() time.Time) FitOption {
	return func(c *fitConfig) {
		if now != nil {
			c.now = now
		}
	}
}
