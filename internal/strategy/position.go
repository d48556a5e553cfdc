package strategy

import (
	"math"

	"strategy-runner/pkg/exchanges/common"
)

const positionEpsilon = 1e-9

// position is the signed base quantity held by one instance plus its PnL.
type position struct {
	size     float64
	entry    float64
	hasEntry bool
	realized float64
	trades   int
}

// apply books one fill and returns the PnL it realized.
func (p *position) apply(side common.Side, qty, price float64) float64 {
	if qty <= 0 {
		return 0
	}
	signed := qty
	if side == common.SideSell {
		signed = -qty
	}
	p.trades++

	// Opening or adding.
	if p.size == 0 || (p.size > 0) == (signed > 0) {
		held := math.Abs(p.size)
		if p.hasEntry && held > 0 {
			p.entry = (held*p.entry + qty*price) / (held + qty)
		} else {
			p.entry = price
		}
		p.hasEntry = true
		p.size += signed
		return 0
	}

	closeQty := math.Min(qty, math.Abs(p.size))
	var pnl float64
	if p.size > 0 {
		pnl = (price - p.entry) * closeQty
	} else {
		pnl = (p.entry - price) * closeQty
	}
	p.realized += pnl
	p.size += signed

	switch {
	case math.Abs(p.size) < positionEpsilon:
		p.size = 0
		p.entry = 0
		p.hasEntry = false
	case qty-closeQty > positionEpsilon:
		// flipped through zero; the remainder opens at this price
		p.entry = price
	}
	return pnl
}

func (p position) unrealized(mark float64) float64 {
	if !p.hasEntry || p.size == 0 || mark <= 0 {
		return 0
	}
	return (mark - p.entry) * p.size
}

func (p position) entryPrice() *float64 {
	if !p.hasEntry {
		return nil
	}
	e := p.entry
	return &e
}
