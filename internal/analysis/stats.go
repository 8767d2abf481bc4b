package analysis

import (
	"math"
	"sort"

	"github.com/rotisserie/eris"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/coder895/car-market-analyzer/internal/model"
)

// discreteMedian returns the element at index len/2 of the sorted sample.
// For even-length samples this is the upper-middle element, not the average
// of the two middle elements. Chart output relies on every reported median
// being an actually observed price.
func discreteMedian(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	return sorted[len(sorted)/2]
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return stat.Mean(values, nil)
}

// sampleStdDev returns the sample standard deviation, or 0 for fewer than
// two values.
func sampleStdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	return stat.StdDev(values, nil)
}

func minMax(values []float64) (float64, float64) {
	if len(values) == 0 {
		return 0, 0
	}
	lo, hi := values[0], values[0]
	for _, v := range values[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return lo, hi
}

// overallStats summarizes a raw price sample.
func overallStats(prices []float64) model.OverallStats {
	if len(prices) == 0 {
		return model.OverallStats{}
	}
	lo, hi := minMax(prices)
	return model.OverallStats{
		Count:  len(prices),
		Avg:    mean(prices),
		Median: discreteMedian(prices),
		Min:    lo,
		Max:    hi,
		StdDev: sampleStdDev(prices),
	}
}

// sampleMode returns the most frequent value, but only when the sample has
// enough repetition for a mode to mean anything: the distinct-value count
// must be below half the sample size. Ties resolve to the smallest value.
func sampleMode(values []float64) *float64 {
	if len(values) < 2 {
		return nil
	}
	freq := make(map[float64]int, len(values))
	for _, v := range values {
		freq[v]++
	}
	if len(freq)*2 >= len(values) {
		return nil
	}

	var best float64
	bestCount := 0
	for v, n := range freq {
		if n > bestCount || (n == bestCount && v < best) {
			best, bestCount = v, n
		}
	}
	return &best
}

// linearRegression fits ordinary least squares of ys on xs and derives the
// goodness-of-fit numbers callers surface alongside the slope. Degenerate
// input (fewer than 3 points, or zero x-variance) is an error the caller is
// expected to swallow by omitting the regression block.
func linearRegression(xs, ys []float64) (model.Regression, error) {
	n := len(xs)
	if n != len(ys) {
		return model.Regression{}, eris.New("analysis: mismatched sample lengths")
	}
	if n < 3 {
		return model.Regression{}, eris.New("analysis: too few points for regression")
	}

	xMean := mean(xs)
	var sxx float64
	for _, x := range xs {
		sxx += (x - xMean) * (x - xMean)
	}
	if sxx == 0 {
		return model.Regression{}, eris.New("analysis: degenerate x values")
	}

	intercept, slope := stat.LinearRegression(xs, ys, nil, false)
	r2 := stat.RSquared(xs, ys, nil, intercept, slope)

	// Residual variance drives the slope standard error and the t-test
	// p-value for H0: slope = 0.
	var sse float64
	for i := range xs {
		resid := ys[i] - (intercept + slope*xs[i])
		sse += resid * resid
	}
	dof := float64(n - 2)
	stdErr := math.Sqrt(sse / dof / sxx)

	var pValue float64
	switch {
	case stdErr == 0:
		// Perfect fit: the slope is either exactly zero or exactly
		// determined.
		if slope == 0 {
			pValue = 1
		}
	default:
		t := math.Abs(slope / stdErr)
		dist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: dof}
		pValue = 2 * (1 - dist.CDF(t))
	}

	return model.Regression{
		Slope:     slope,
		Intercept: intercept,
		RSquared:  r2,
		PValue:    pValue,
		StdErr:    stdErr,
	}, nil
}
