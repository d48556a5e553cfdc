package strategy

import (
	"strconv"
	"strings"
	"time"
)

const defaultCandleInterval = time.Hour

// ParseInterval converts a candle interval such as "15m", "1h", "1d" or "1w"
// into a duration. A bare number is read as minutes. ok is false when the
// input cannot be parsed, in which case one hour is returned.
func ParseInterval(s string) (d time.Duration, ok bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultCandleInterval, false
	}
	unit := time.Minute
	num := s
	switch s[len(s)-1] {
	case 'm':
		num = s[:len(s)-1]
	case 'h':
		unit, num = time.Hour, s[:len(s)-1]
	case 'd':
		unit, num = 24*time.Hour, s[:len(s)-1]
	case 'w':
		unit, num = 7*24*time.Hour, s[:len(s)-1]
	}
	n, err := strconv.Atoi(num)
	if err != nil || n <= 0 {
		return defaultCandleInterval, false
	}
	return time.Duration(n) * unit, true
}
