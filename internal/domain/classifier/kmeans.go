package classifier

import (
	"context"
	"math"
	"math/rand"
)

type kmeansResult struct {
	centers [][]float64
	assign  []int
	inertia float64
}

// kmeans runs nInit seeded k-means++ initialisations followed by Lloyd
// iterations and keeps the run with the lowest inertia.
func kmeans(ctx context.Context, X [][]float64, k int, cfg fitConfig) (kmeansResult, error) {
	rng := rand.New(rand.NewSource(cfg.seed)) //nolint:gosec // deterministic seeding, not security sensitive
	tol := cfg.tol * meanVariance(X)

	best := kmeansResult{inertia: math.Inf(1)}
	for run := 0; run < cfg.nInit; run++ {
		if err := ctx.Err(); err != nil {
			return kmeansResult{}, err
		}
		res := lloyd(X, seedPlusPlus(X, k, rng), cfg.maxIter, tol)
		if res.inertia < best.inertia {
			best = res
		}
	}
	return best, nil
}

// seedPlusPlus picks k initial centers: the first uniformly, the rest with
// probability proportional to the squared distance to the nearest chosen one.
func seedPlusPlus(X [][]float64, k int, rng *rand.Rand) [][]float64 {
	centers := make([][]float64, 0, k)
	centers = append(centers, clone(X[rng.Intn(len(X))]))

	dist := make([]float64, len(X))
	for i, x := range X {
		dist[i] = sqDist(x, centers[0])
	}
	for len(centers) < k {
		var total float64
		for _, d := range dist {
			total += d
		}
		idx := 0
		if total > 0 {
			r := rng.Float64() * total
			for i, d := range dist {
				r -= d
				if r < 0 {
					idx = i
					break
				}
				idx = i
			}
		} else {
			idx = rng.Intn(len(X))
		}
		c := clone(X[idx])
		centers = append(centers, c)
		for i, x := range X {
			if d := sqDist(x, c); d < dist[i] {
				dist[i] = d
			}
		}
	}
	return centers
}

func lloyd(X [][]float64, centers [][]float64, maxIter int, tol float64) kmeansResult {
	k, d := len(centers), len(X[0])
	assign := make([]int, len(X))
	for iter := 0; iter < maxIter; iter++ {
		for i, x := range X {
			assign[i] = nearest(centers, x)
		}

		next := make([][]float64, k)
		counts := make([]int, k)
		for c := range next {
			next[c] = make([]float64, d)
		}
		for i, x := range X {
			c := assign[i]
			counts[c]++
			for j, v := range x {
				next[c][j] += v
			}
		}
		for c := range next {
			if counts[c] == 0 {
				continue
			}
			for j := range next[c] {
				next[c][j] /= float64(counts[c])
			}
		}
		relocateEmpty(X, next, assign, counts)

		var shift float64
		for c := range centers {
			shift += sqDist(centers[c], next[c])
		}
		centers = next
		if shift <= tol {
			break
		}
	}

	var inertia float64
	for i, x := range X {
		assign[i] = nearest(centers, x)
		inertia += sqDist(x, centers[assign[i]])
	}
	return kmeansResult{centers: centers, assign: assign, inertia: inertia}
}

// relocateEmpty moves each empty center onto the point farthest from its
// own center, taken from a cluster that can spare it.
func relocateEmpty(X [][]float64, centers [][]float64, assign, counts []int) {
	for c := range centers {
		if counts[c] != 0 {
			continue
		}
		far, farDist := -1, -1.0
		for i, x := range X {
			if counts[assign[i]] < 2 {
				continue
			}
			if dd := sqDist(x, centers[assign[i]]); dd > farDist {
				far, farDist = i, dd
			}
		}
		if far < 0 {
			return
		}
		counts[assign[far]]--
		assign[far] = c
		counts[c] = 1
		centers[c] = clone(X[far])
	}
}

func nearest(centers [][]float64, x []float64) int {
	best, bestDist := 0, math.Inf(1)
	for c, center := range centers {
		if d := sqDist(x, center); d < bestDist {
			best, bestDist = c, d
		}
	}
	return best
}

func meanVariance(X [][]float64) float64 {
	s := FitScaler(X)
	var v float64
	for j := range s.Mean {
		var acc float64
		for _, x := range X {
			dv := x[j] - s.Mean[j]
			acc += dv * dv
		}
		v += acc / float64(len(X))
	}
	return v / float64(len(s.Mean))
}

func clone(x []float64) []float64 {
	return append([]float64(nil), x...)
}
