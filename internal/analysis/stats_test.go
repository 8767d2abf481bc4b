package analysis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiscreteMedian(t *testing.T) {
	// Odd length: middle element.
	assert.Equal(t, 3.0, discreteMedian([]float64{5, 1, 3, 2, 4}))
	// Even length: element at index len/2, not the average of the two
	// middle elements.
	assert.Equal(t, 3.0, discreteMedian([]float64{4, 2, 1, 3}))
	assert.Equal(t, 0.0, discreteMedian(nil))
}

func TestOverallStats(t *testing.T) {
	stats := overallStats([]float64{10000, 12000, 14000})
	assert.Equal(t, 3, stats.Count)
	assert.Equal(t, 12000.0, stats.Avg)
	assert.Equal(t, 12000.0, stats.Median)
	assert.Equal(t, 10000.0, stats.Min)
	assert.Equal(t, 14000.0, stats.Max)
	assert.InDelta(t, 2000.0, stats.StdDev, 0.001)
}

func TestSampleMode(t *testing.T) {
	// Enough repetition: mode is meaningful.
	m := sampleMode([]float64{10, 10, 10, 10, 20})
	require.NotNil(t, m)
	assert.Equal(t, 10.0, *m)

	// Near-unique values: mode withheld.
	assert.Nil(t, sampleMode([]float64{1, 2, 3, 4, 5}))
	assert.Nil(t, sampleMode([]float64{7}))
}

func TestLinearRegressionPerfectFit(t *testing.T) {
	reg, err := linearRegression([]float64{0, 1, 2}, []float64{10000, 12000, 14000})
	require.NoError(t, err)
	assert.InDelta(t, 2000.0, reg.Slope, 1e-9)
	assert.InDelta(t, 10000.0, reg.Intercept, 1e-9)
	assert.InDelta(t, 1.0, reg.RSquared, 1e-9)
	assert.Zero(t, reg.PValue)
}

func TestLinearRegressionNoisy(t *testing.T) {
	xs := []float64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}
	ys := []float64{10, 12.1, 13.9, 16.2, 17.8, 20.1, 21.9, 24.2, 25.8, 28.1}

	reg, err := linearRegression(xs, ys)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, reg.Slope, 0.05)
	assert.Greater(t, reg.RSquared, 0.99)
	assert.Less(t, reg.PValue, 0.05)
	assert.Positive(t, reg.StdErr)
}

func TestLinearRegressionDegenerate(t *testing.T) {
	_, err := linearRegression([]float64{1, 2}, []float64{3, 4})
	require.Error(t, err)

	_, err = linearRegression([]float64{5, 5, 5}, []float64{1, 2, 3})
	require.Error(t, err)

	_, err = linearRegression([]float64{1, 2, 3}, []float64{1, 2})
	require.Error(t, err)
}
