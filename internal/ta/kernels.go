// Package ta implements the numeric kernels and technical indicators the
// feature engine is built on. All functions are pure: they operate on
// positionally-aligned float64 series and never touch the clock.
package ta

import (
	"math"
	"sort"
)

// SMA returns the arithmetic mean of series[i-n+1 .. i].
// The caller must guarantee i >= n-1.
func SMA(series []float64, n, i int) float64 {
	sum := 0.0
	for j := i - n + 1; j <= i; j++ {
		sum += series[j]
	}
	return sum / float64(n)
}

// EMA returns the full-series exponential moving average with smoothing
// factor k = 2/(n+1), seeded with series[0]. The result has the same
// length as the input.
func EMA(series []float64, n int) []float64 {
	out := make([]float64, len(series))
	if len(series) == 0 {
		return out
	}
	k := 2.0 / float64(n+1)
	out[0] = series[0]
	for i := 1; i < len(series); i++ {
		out[i] = series[i]*k + out[i-1]*(1-k)
	}
	return out
}

// Stdev returns the sample standard deviation (n-1 denominator) of
// series[i-n+1 .. i]. The caller must guarantee i >= n-1 and n >= 2.
func Stdev(series []float64, n, i int) float64 {
	mean := SMA(series, n, i)
	sumSq := 0.0
	for j := i - n + 1; j <= i; j++ {
		diff := series[j] - mean
		sumSq += diff * diff
	}
	return math.Sqrt(sumSq / float64(n-1))
}

// ZScore returns (x-mean)/sd, or 0 when sd is not positive. Flat windows
// produce 0 rather than a division by zero.
func ZScore(x, mean, sd float64) float64 {
	if sd > 0 {
		return (x - mean) / sd
	}
	return 0
}

// Slope returns the least-squares linear regression slope over the
// trailing k points of series. Returns 0 when fewer than k points are
// available or the denominator is zero.
func Slope(series []float64, k int) float64 {
	if k < 2 || len(series) < k {
		return 0
	}
	window := series[len(series)-k:]

	// x = 0..k-1
	var sumX, sumY, sumXY, sumXX float64
	for x, y := range window {
		fx := float64(x)
		sumX += fx
		sumY += y
		sumXY += fx * y
		sumXX += fx * fx
	}
	n := float64(k)
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0
	}
	return (n*sumXY - sumX*sumY) / denom
}

// PercentileRank returns the fraction of sample values strictly less than
// value, expressed 0-100. A value exceeding every sample ranks 100.
// Ties rank at the first sorted index whose value >= value.
func PercentileRank(value float64, sample []float64) float64 {
	if len(sample) == 0 {
		return 0
	}
	sorted := make([]float64, len(sample))
	copy(sorted, sample)
	sort.Float64s(sorted)

	idx := sort.SearchFloat64s(sorted, value)
	return float64(idx) / float64(len(sorted)) * 100
}
