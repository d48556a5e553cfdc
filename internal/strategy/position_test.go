package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"strategy-runner/pkg/exchanges/common"
)

func TestPositionBlendsEntryOnBuys(t *testing.T) {
	var p position
	p.apply(common.SideBuy, 1, 100)
	p.apply(common.SideBuy, 1, 110)

	assert.InDelta(t, 2, p.size, 1e-12)
	require.NotNil(t, p.entryPrice())
	assert.InDelta(t, 105, *p.entryPrice(), 1e-12)
	assert.Equal(t, 2, p.trades)
	assert.Zero(t, p.realized)
}

func TestPositionRealizesOnSell(t *testing.T) {
	var p position
	p.apply(common.SideBuy, 2, 100)
	pnl := p.apply(common.SideSell, 0.5, 120)

	assert.InDelta(t, 10, pnl, 1e-12)
	assert.InDelta(t, 1.5, p.size, 1e-12)
	assert.InDelta(t, 100, *p.entryPrice(), 1e-12)

	p.apply(common.SideSell, 1.5, 90)
	assert.InDelta(t, -5, p.realized, 1e-12)
	assert.Zero(t, p.size)
	assert.Nil(t, p.entryPrice())
	assert.Equal(t, 3, p.trades)
}

func TestPositionClearsDust(t *testing.T) {
	var p position
	p.apply(common.SideBuy, 0.3, 10)
	p.apply(common.SideSell, 0.1, 10)
	p.apply(common.SideSell, 0.2, 10)

	assert.Zero(t, p.size)
	assert.Nil(t, p.entryPrice())
}

func TestPositionShortRoundTrip(t *testing.T) {
	var p position
	p.apply(common.SideSell, 1, 115)
	assert.InDelta(t, -1, p.size, 1e-12)

	pnl := p.apply(common.SideBuy, 1, 110)
	assert.InDelta(t, 5, pnl, 1e-12)
	assert.Zero(t, p.size)
}

func TestPositionFlipOpensAtFillPrice(t *testing.T) {
	var p position
	p.apply(common.SideBuy, 1, 100)
	p.apply(common.SideSell, 3, 110)

	assert.InDelta(t, -2, p.size, 1e-12)
	assert.InDelta(t, 10, p.realized, 1e-12)
	assert.InDelta(t, 110, *p.entryPrice(), 1e-12)
}

func TestPositionUnrealized(t *testing.T) {
	var p position
	assert.Zero(t, p.unrealized(100))
	p.apply(common.SideBuy, 2, 100)
	assert.InDelta(t, 20, p.unrealized(110), 1e-12)
}

func TestParseInterval(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"15m", "15m0s", true},
		{"1h", "1h0m0s", true},
		{"4h", "4h0m0s", true},
		{"1d", "24h0m0s", true},
		{"1w", "168h0m0s", true},
		{"30", "30m0s", true},
		{"", "1h0m0s", false},
		{"fortnight", "1h0m0s", false},
		{"0h", "1h0m0s", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			d, ok := ParseInterval(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, d.String())
		})
	}
}
