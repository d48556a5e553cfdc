package indicators

import "math"

// RSI computes the relative strength index using EMA-smoothed gains and losses.
// The first period positions are NaN; an average loss of zero yields 100.
func RSI(closes []float64, period int) ([]float64, error) {
	if period <= 0 {
		return nil, ErrInvalidPeriod
	}
	out := make([]float64, len(closes))
	if len(closes) < period+1 {
		for i := range out {
			out[i] = math.NaN()
		}
		return out, nil
	}

	gains := make([]float64, len(closes))
	losses := make([]float64, len(closes))
	for i := 1; i < len(closes); i++ {
		d := closes[i] - closes[i-1]
		if d > 0 {
			gains[i] = d
		} else if d < 0 {
			losses[i] = -d
		}
	}

	avgGain, err := EMA(gains, period)
	if err != nil {
		return nil, err
	}
	avgLoss, err := EMA(losses, period)
	if err != nil {
		return nil, err
	}

	for i := range out {
		if i < period || math.IsNaN(avgGain[i]) || math.IsNaN(avgLoss[i]) {
			out[i] = math.NaN()
			continue
		}
		if avgLoss[i] == 0 {
			out[i] = 100
			continue
		}
		rs := avgGain[i] / avgLoss[i]
		out[i] = 100 - 100/(1+rs)
	}
	return out, nil
}
