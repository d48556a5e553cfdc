package indicators

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEMASeedsFromFirstValue(t *testing.T) {
	out, err := EMA([]float64{1, 2, 3, 4}, 3)
	require.NoError(t, err)

	// alpha = 0.5: 1, 1.5, 2.25, 3.125
	assert.True(t, math.IsNaN(out[0]))
	assert.True(t, math.IsNaN(out[1]))
	assert.InDelta(t, 2.25, out[2], 1e-12)
	assert.InDelta(t, 3.125, out[3], 1e-12)
}

func TestEMASkipsLeadingNaN(t *testing.T) {
	nan := math.NaN()
	out, err := EMA([]float64{nan, nan, 4, 6, 8}, 2)
	require.NoError(t, err)

	// alpha = 2/3, seeded at 4: 4, 5.333.., 7.111..
	assert.True(t, math.IsNaN(out[2]))
	assert.InDelta(t, 16.0/3, out[3], 1e-12)
	assert.InDelta(t, 64.0/9, out[4], 1e-12)
}

func TestEMARejectsBadPeriod(t *testing.T) {
	_, err := EMA([]float64{1}, 0)
	assert.ErrorIs(t, err, ErrInvalidPeriod)
}

func TestRSIMonotonicRiseIsHundred(t *testing.T) {
	closes := []float64{1, 2, 3, 4, 5, 6, 7, 8}
	out, err := RSI(closes, 3)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		assert.True(t, math.IsNaN(out[i]), "index %d should be warm-up", i)
	}
	for i := 3; i < len(out); i++ {
		assert.Equal(t, 100.0, out[i])
	}
}

func TestRSIMixedMoves(t *testing.T) {
	closes := []float64{10, 11, 10, 12}
	out, err := RSI(closes, 2)
	require.NoError(t, err)

	// gains 0,1,0,2 losses 0,0,1,0 with alpha 2/3
	// gain ema: 0, 2/3, 2/9, 38/27 ; loss ema: 0, 0, 2/3, 2/9
	rs := (38.0 / 27) / (2.0 / 9)
	assert.InDelta(t, 100-100/(1+rs), out[3], 1e-9)
	assert.InDelta(t, 100-100/(1+(2.0/9)/(2.0/3)), out[2], 1e-9)
}

func TestRSIShortInputIsUndefined(t *testing.T) {
	out, err := RSI([]float64{1, 2}, 5)
	require.NoError(t, err)
	for _, v := range out {
		assert.False(t, Defined(v))
	}
}

func TestMACDWarmUp(t *testing.T) {
	closes := make([]float64, 40)
	for i := range closes {
		closes[i] = 100 + float64(i%7) - float64(i%3)
	}
	m, err := MACD(closes, 3, 6, 4)
	require.NoError(t, err)

	firstMACD, firstSignal := -1, -1
	for i := range closes {
		if firstMACD < 0 && Defined(m.MACD[i]) {
			firstMACD = i
		}
		if firstSignal < 0 && Defined(m.Signal[i]) {
			firstSignal = i
		}
	}
	assert.Equal(t, 5, firstMACD)
	assert.Equal(t, 6+4-2, firstSignal)
	assert.InDelta(t, m.MACD[20]-m.Signal[20], m.Histogram[20], 1e-12)
}

func TestMACDRejectsFastAboveSlow(t *testing.T) {
	_, err := MACD([]float64{1, 2, 3}, 5, 5, 2)
	assert.ErrorIs(t, err, ErrInvalidPeriod)
}
