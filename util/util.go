// Package util contains small numeric helpers shared across the
// acquisition pipeline.
package util

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// Clamp limits min <= input <= max.
func Clamp(input, min, max float64) float64 {
	if input < min {
		return min
	}
	if input > max {
		return max
	}
	return input
}

// Limiter represents a basic set of min,max limits.
type Limiter struct {
	Min float64
	Max float64
}

// Clamp limits min <= input <= max.
func (l Limiter) Clamp(input float64) float64 {
	return Clamp(input, l.Min, l.Max)
}

// Check verifies min <= input <= max.
func (l Limiter) Check(input float64) bool {
	return input >= l.Min && input <= l.Max
}

// ClosestIndex returns the index of the closest element in values to test.
func ClosestIndex(values []float64, test float64) int {
	lowestIdx := 0
	lowestDiff := math.Inf(1)
	for idx := 0; idx < len(values); idx++ {
		diff := math.Abs(values[idx] - test)
		if diff < lowestDiff {
			lowestIdx = idx
			lowestDiff = diff
		}
	}
	return lowestIdx
}

// MergeErrors converts many errors into a single newline-separated one,
// returning nil if all inputs are nil.
func MergeErrors(errs []error) error {
	var strs []string
	for _, err := range errs {
		if err != nil {
			strs = append(strs, err.Error())
		}
	}
	if len(strs) == 0 {
		return nil
	}
	return errString(strings.Join(strs, "\n"))
}

type errString string

func (e errString) Error() string { return string(e) }

// SecsToDuration converts floating point seconds to a time.Duration.
func SecsToDuration(secs float64) time.Duration {
	return time.Duration(secs * float64(time.Second))
}

// Float64SliceToCSV converts a slice of float64 to CSV-formatted text
// using the given strconv format byte and precision.
func Float64SliceToCSV(fs []float64, format byte, prec int) string {
	s := make([]string, len(fs))
	for i, v := range fs {
		s[i] = strconv.FormatFloat(v, format, prec, 64)
	}
	return strings.Join(s, ",")
}
