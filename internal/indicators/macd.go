package indicators

import (
	"fmt"
	"math"
)

// MACDSeries holds the three MACD lines aligned with the input.
type MACDSeries struct {
	MACD      []float64
	Signal    []float64
	Histogram []float64
}

// MACD computes EMA(fast) - EMA(slow) and its EMA signal line. The MACD line
// is defined from index slow-1 and the signal from slow+signal-2.
func MACD(closes []float64, fast, slow, signal int) (MACDSeries, error) {
	if fast <= 0 || slow <= 0 || signal <= 0 {
		return MACDSeries{}, ErrInvalidPeriod
	}
	if fast >= slow {
		return MACDSeries{}, fmt.Errorf("%w: fast %d must be below slow %d", ErrInvalidPeriod, fast, slow)
	}

	emaFast, err := EMA(closes, fast)
	if err != nil {
		return MACDSeries{}, err
	}
	emaSlow, err := EMA(closes, slow)
	if err != nil {
		return MACDSeries{}, err
	}

	line := make([]float64, len(closes))
	for i := range closes {
		line[i] = emaFast[i] - emaSlow[i] // NaN propagates through the warm-up
	}
	sig, err := EMA(line, signal)
	if err != nil {
		return MACDSeries{}, err
	}

	hist := make([]float64, len(closes))
	for i := range closes {
		if math.IsNaN(line[i]) || math.IsNaN(sig[i]) {
			hist[i] = math.NaN()
			continue
		}
		hist[i] = line[i] - sig[i]
	}
	return MACDSeries{MACD: line, Signal: sig, Histogram: hist}, nil
}
