package grid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArithmeticLevels(t *testing.T) {
	levels, err := Levels(100, 120, 5, Arithmetic)
	require.NoError(t, err)
	assert.Equal(t, []float64{100, 105, 110, 115, 120}, levels)
}

func TestGeometricLevelsKeepRatio(t *testing.T) {
	levels, err := Levels(100, 400, 3, Geometric)
	require.NoError(t, err)
	require.Len(t, levels, 3)
	assert.InDelta(t, 100, levels[0], 1e-9)
	assert.InDelta(t, 200, levels[1], 1e-9)
	assert.InDelta(t, 400, levels[2], 1e-9)

	levels, err = Levels(10, 1000, 7, Geometric)
	require.NoError(t, err)
	ratio := levels[1] / levels[0]
	for i := 2; i < len(levels); i++ {
		assert.InDelta(t, ratio, levels[i]/levels[i-1], 1e-9)
	}
}

func TestSingleLevel(t *testing.T) {
	levels, err := Levels(100, 120, 1, Arithmetic)
	require.NoError(t, err)
	assert.Equal(t, []float64{110}, levels)

	levels, err = Levels(100, 400, 1, Geometric)
	require.NoError(t, err)
	assert.InDelta(t, 200, levels[0], 1e-9)
}

func TestLevelsStrictlyIncreasing(t *testing.T) {
	for _, mode := range []Mode{Arithmetic, Geometric} {
		levels, err := Levels(0.5, 0.6, 50, mode)
		require.NoError(t, err)
		for i := 1; i < len(levels); i++ {
			assert.Greater(t, levels[i], levels[i-1])
		}
		assert.InDelta(t, 0.5, levels[0], 1e-12)
		assert.InDelta(t, 0.6, levels[len(levels)-1], 1e-12)
	}
}

func TestLevelsRejectInvalid(t *testing.T) {
	tests := []struct {
		name  string
		lower float64
		upper float64
		n     int
		mode  Mode
	}{
		{"reversed bounds", 120, 100, 5, Arithmetic},
		{"equal bounds", 100, 100, 5, Arithmetic},
		{"zero levels", 100, 120, 0, Arithmetic},
		{"geometric non-positive lower", -1, 10, 3, Geometric},
		{"unknown mode", 100, 120, 3, Mode("fibonacci")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Levels(tt.lower, tt.upper, tt.n, tt.mode)
			assert.ErrorIs(t, err, ErrInvalidGrid)
		})
	}
}

func TestBuyOrdersSplitInvestment(t *testing.T) {
	levels := []float64{100, 105, 110, 115, 120}
	orders := BuyOrders(levels, 112, 1000)
	require.Len(t, orders, 3)

	var spent float64
	for i, want := range []float64{100, 105, 110} {
		assert.Equal(t, want, orders[i].Price)
		assert.InDelta(t, 1000.0/3, orders[i].Price*orders[i].Qty, 1e-9)
		spent += orders[i].Price * orders[i].Qty
	}
	assert.InDelta(t, 1000, spent, 1e-9)
}

func TestBuyOrdersNoneBelow(t *testing.T) {
	assert.Empty(t, BuyOrders([]float64{100, 110}, 100, 1000))
	assert.Empty(t, BuyOrders([]float64{100, 110}, 90, 1000))
}

func TestSellOrdersSplitBase(t *testing.T) {
	orders := SellOrders([]float64{100, 105, 110, 115, 120}, 112, 0.3)
	require.Len(t, orders, 2)
	assert.Equal(t, 115.0, orders[0].Price)
	assert.InDelta(t, 0.15, orders[1].Qty, 1e-12)
}

func TestAdjacentLevels(t *testing.T) {
	levels := []float64{100, 105, 110, 115, 120}

	up, ok := Above(levels, 105)
	assert.True(t, ok)
	assert.Equal(t, 110.0, up)

	down, ok := Below(levels, 110)
	assert.True(t, ok)
	assert.Equal(t, 105.0, down)

	_, ok = Above(levels, 120)
	assert.False(t, ok, "no counter sell above the top level")

	_, ok = Below(levels, 100)
	assert.False(t, ok, "no counter buy below the bottom level")

	up, ok = Above(levels, 107.3)
	assert.True(t, ok)
	assert.Equal(t, 110.0, up)
}
