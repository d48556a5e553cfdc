// Package grid holds the price-ladder math shared by the live grid strategy
// and the backtester.
package grid

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// Mode selects the spacing between levels.
type Mode string

const (
	Arithmetic Mode = "arithmetic"
	Geometric  Mode = "geometric"
)

// ErrInvalidGrid is returned for bounds, counts or modes that cannot form a ladder.
var ErrInvalidGrid = errors.New("invalid grid")

// ParseMode accepts the two supported mode names.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case Arithmetic, Geometric:
		return Mode(s), nil
	}
	return "", fmt.Errorf("%w: unsupported mode %q", ErrInvalidGrid, s)
}

// Levels returns strictly increasing price levels spanning [lower, upper].
// A single level is the midpoint (arithmetic) or geometric mean (geometric).
func Levels(lower, upper float64, n int, mode Mode) ([]float64, error) {
	if lower >= upper {
		return nil, fmt.Errorf("%w: lower %.8g must be below upper %.8g", ErrInvalidGrid, lower, upper)
	}
	if n <= 0 {
		return nil, fmt.Errorf("%w: level count must be positive", ErrInvalidGrid)
	}

	levels := make([]float64, 0, n)
	switch mode {
	case Arithmetic:
		if n == 1 {
			levels = append(levels, (lower+upper)/2)
			break
		}
		step := (upper - lower) / float64(n-1)
		for i := 0; i < n; i++ {
			levels = append(levels, lower+float64(i)*step)
		}
	case Geometric:
		if lower <= 0 {
			return nil, fmt.Errorf("%w: geometric grid needs lower > 0", ErrInvalidGrid)
		}
		if n == 1 {
			levels = append(levels, math.Sqrt(lower*upper))
			break
		}
		ratio := math.Pow(upper/lower, 1/float64(n-1))
		for i := 0; i < n; i++ {
			levels = append(levels, lower*math.Pow(ratio, float64(i)))
		}
	default:
		return nil, fmt.Errorf("%w: unsupported mode %q", ErrInvalidGrid, mode)
	}

	return dedupe(levels), nil
}

func dedupe(levels []float64) []float64 {
	sort.Float64s(levels)
	out := levels[:0]
	for i, l := range levels {
		if i > 0 && l == out[len(out)-1] {
			continue
		}
		out = append(out, l)
	}
	return out
}

// Order is a sized limit order at one level.
type Order struct {
	Price float64
	Qty   float64
}

// BuyOrders splits investment equally in quote value across every level strictly
// below price. The result is empty when no level is below price.
func BuyOrders(levels []float64, price, investment float64) []Order {
	var below []float64
	for _, l := range levels {
		if l < price {
			below = append(below, l)
		}
	}
	if len(below) == 0 || investment <= 0 {
		return nil
	}
	value := investment / float64(len(below))
	out := make([]Order, 0, len(below))
	for _, l := range below {
		out = append(out, Order{Price: l, Qty: value / l})
	}
	return out
}

// SellOrders splits a base quantity equally across every level strictly above price.
func SellOrders(levels []float64, price, baseQty float64) []Order {
	var above []float64
	for _, l := range levels {
		if l > price {
			above = append(above, l)
		}
	}
	if len(above) == 0 || baseQty <= 0 {
		return nil
	}
	each := baseQty / float64(len(above))
	out := make([]Order, 0, len(above))
	for _, l := range above {
		out = append(out, Order{Price: l, Qty: each})
	}
	return out
}

// Above returns the first level strictly above price.
func Above(levels []float64, price float64) (float64, bool) {
	i := sort.Search(len(levels), func(i int) bool { return levels[i] > price })
	if i == len(levels) {
		return 0, false
	}
	return levels[i], true
}

// Below returns the last level strictly below price.
func Below(levels []float64, price float64) (float64, bool) {
	i := sort.Search(len(levels), func(i int) bool { return levels[i] >= price })
	if i == 0 {
		return 0, false
	}
	return levels[i-1], true
}
