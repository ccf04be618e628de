// Copyright (C) 2026 Harmony Education Labs (oss@harmonyedu.org)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package signals provides pure numeric helpers for time-series style
// data: summary statistics, deviation scoring, moving averages, trend
// detection, percentiles, and range normalization.
//
// No domain interpretation happens at this layer. Callers attach meaning
// to the numbers; this package only computes them.
package signals

import (
	"errors"
	"math"
	"sort"
)

// Sentinel errors for invalid arguments. These are programming errors at
// the call site, not runtime conditions.
var (
	ErrEmptyInput      = errors.New("input values are empty")
	ErrPercentileRange = errors.New("percentile must be between 0 and 100")
	ErrWindowSize      = errors.New("window size must be positive")
)

// Trend classifies the direction of a series.
type Trend string

const (
	TrendIncreasing Trend = "increasing"
	TrendDecreasing Trend = "decreasing"
	TrendStable     Trend = "stable"
	TrendUnknown    Trend = "" // series too short to classify
)

// trendThreshold is the fraction of step-to-step differences that must
// share a sign before the series counts as trending.
const trendThreshold = 0.7

// Stats is a statistical summary of a series.
type Stats struct {
	Mean       float64
	Median     float64
	StdDev     float64
	Min        float64
	Max        float64
	SampleSize int
}

// CalculateStats computes summary statistics for the series.
//
// StdDev is the sample standard deviation (n-1 denominator); a series of
// length one has StdDev 0. An empty series returns ErrEmptyInput.
func CalculateStats(values []float64) (Stats, error) {
	if len(values) == 0 {
		return Stats{}, ErrEmptyInput
	}

	s := Stats{
		Mean:       mean(values),
		Median:     median(values),
		Min:        values[0],
		Max:        values[0],
		SampleSize: len(values),
	}
	for _, v := range values[1:] {
		s.Min = math.Min(s.Min, v)
		s.Max = math.Max(s.Max, v)
	}
	if len(values) > 1 {
		s.StdDev = sampleStdDev(values, s.Mean)
	}
	return s, nil
}

// DetectDeviation reports whether current deviates from the baseline by
// at least thresholdStdDevs sample standard deviations, along with the
// z-score.
//
// Fewer than two baseline values cannot establish a deviation: the result
// is (false, 0). A zero-variance baseline yields a zero z-score but still
// flags any value different from the baseline mean as significant.
func DetectDeviation(current float64, baseline []float64, thresholdStdDevs float64) (bool, float64) {
	if len(baseline) < 2 {
		return false, 0
	}

	baselineMean := mean(baseline)
	baselineStd := sampleStdDev(baseline, baselineMean)
	if baselineStd == 0 {
		return current != baselineMean, 0
	}

	zScore := (current - baselineMean) / baselineStd
	return math.Abs(zScore) >= thresholdStdDevs, zScore
}

// MovingAverage computes the simple moving average over windows of the
// given size. A series shorter than the window produces an empty result;
// otherwise the result has len(values)-windowSize+1 elements.
func MovingAverage(values []float64, windowSize int) ([]float64, error) {
	if windowSize <= 0 {
		return nil, ErrWindowSize
	}
	if len(values) < windowSize {
		return nil, nil
	}

	out := make([]float64, 0, len(values)-windowSize+1)
	for i := 0; i+windowSize <= len(values); i++ {
		out = append(out, mean(values[i:i+windowSize]))
	}
	return out, nil
}

// DetectTrend classifies the series direction. At least 70% of the
// step-to-step differences must be positive for TrendIncreasing, or
// negative for TrendDecreasing; anything else is TrendStable. A series
// shorter than minLength returns TrendUnknown.
func DetectTrend(values []float64, minLength int) Trend {
	if minLength < 2 {
		minLength = 2
	}
	if len(values) < minLength {
		return TrendUnknown
	}

	positive, negative := 0, 0
	for i := 0; i < len(values)-1; i++ {
		switch diff := values[i+1] - values[i]; {
		case diff > 0:
			positive++
		case diff < 0:
			negative++
		}
	}

	threshold := float64(len(values)-1) * trendThreshold
	switch {
	case float64(positive) >= threshold:
		return TrendIncreasing
	case float64(negative) >= threshold:
		return TrendDecreasing
	default:
		return TrendStable
	}
}

// CalculatePercentile returns the value at the given percentile (0-100),
// interpolating linearly between adjacent ranks.
func CalculatePercentile(values []float64, percentile float64) (float64, error) {
	if len(values) == 0 {
		return 0, ErrEmptyInput
	}
	if percentile < 0 || percentile > 100 {
		return 0, ErrPercentileRange
	}

	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	index := (percentile / 100) * float64(len(sorted)-1)
	lower := int(math.Floor(index))
	if float64(lower) == index {
		return sorted[lower], nil
	}
	fraction := index - float64(lower)
	return sorted[lower] + fraction*(sorted[lower+1]-sorted[lower]), nil
}

// NormalizeValues rescales the series linearly into [targetMin, targetMax].
// A constant series maps every value to the midpoint of the target range.
// An empty series returns nil.
func NormalizeValues(values []float64, targetMin, targetMax float64) []float64 {
	if len(values) == 0 {
		return nil
	}

	minVal, maxVal := values[0], values[0]
	for _, v := range values[1:] {
		minVal = math.Min(minVal, v)
		maxVal = math.Max(maxVal, v)
	}

	out := make([]float64, len(values))
	if minVal == maxVal {
		midpoint := (targetMin + targetMax) / 2
		for i := range out {
			out[i] = midpoint
		}
		return out
	}

	span := targetMax - targetMin
	for i, v := range values {
		scaled := (v - minVal) / (maxVal - minVal)
		out[i] = targetMin + scaled*span
	}
	return out
}

func mean(values []float64) float64 {
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// median averages the two middle elements for even-length series.
func median(values []float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}

// sampleStdDev uses the n-1 denominator; callers guarantee len > 1.
func sampleStdDev(values []float64, m float64) float64 {
	sum := 0.0
	for _, v := range values {
		d := v - m
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(values)-1))
}
