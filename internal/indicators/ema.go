// Package indicators computes full-series technical indicators over closing prices.
// Undefined positions (warm-up) are reported as NaN.
package indicators

import (
	"errors"
	"math"
)

// ErrInvalidPeriod is returned for non-positive or inconsistent periods.
var ErrInvalidPeriod = errors.New("indicator period must be positive")

// Defined reports whether v is a usable indicator value.
func Defined(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// EMA returns the exponential moving average with alpha = 2/(period+1).
// The recursion starts at the first defined input (leading NaNs are skipped)
// and positions before the period-th defined input are NaN.
func EMA(values []float64, period int) ([]float64, error) {
	if period <= 0 {
		return nil, ErrInvalidPeriod
	}
	out := make([]float64, len(values))
	alpha := 2.0 / float64(period+1)

	var (
		prev   float64
		seen   int
		seeded bool
	)
	for i, v := range values {
		if math.IsNaN(v) {
			out[i] = math.NaN()
			continue
		}
		if !seeded {
			prev = v
			seeded = true
		} else {
			prev = alpha*v + (1-alpha)*prev
		}
		seen++
		if seen < period {
			out[i] = math.NaN()
			continue
		}
		out[i] = prev
	}
	return out, nil
}
