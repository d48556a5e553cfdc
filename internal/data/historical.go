package data

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"strategy-runner/pkg/exchanges/common"
)

// PageSize is the largest kline page Binance serves.
const PageSize = 1000

// HistoricalDataService fetches historical bars page by page.
type HistoricalDataService struct {
	src common.KlineSource
	log *zap.Logger
}

// NewHistoricalDataService wraps a kline source.
func NewHistoricalDataService(src common.KlineSource, log *zap.Logger) *HistoricalDataService {
	if log == nil {
		log = zap.NewNop()
	}
	return &HistoricalDataService{src: src, log: log.With(zap.String("component", "historical"))}
}

// GetKlines returns every bar opening in [start, end), oldest first.
func (s *HistoricalDataService) GetKlines(ctx context.Context, symbol, interval string, start, end time.Time) ([]common.Kline, error) {
	if !end.After(start) {
		return nil, fmt.Errorf("end %s must be after start %s", end.Format(time.RFC3339), start.Format(time.RFC3339))
	}

	var out []common.Kline
	cursor := start
	for cursor.Before(end) {
		page, err := s.src.GetKlines(ctx, symbol, interval, cursor, end, PageSize)
		if err != nil {
			return nil, fmt.Errorf("fetch klines from %s: %w", cursor.Format(time.RFC3339), err)
		}
		next := cursor
		for _, k := range page {
			if k.OpenTime.Before(cursor) || !k.OpenTime.Before(end) {
				continue
			}
			if len(out) > 0 && !k.OpenTime.After(out[len(out)-1].OpenTime) {
				continue
			}
			out = append(out, k)
			next = k.OpenTime.Add(time.Millisecond)
		}
		if len(page) < PageSize || !next.After(cursor) {
			break
		}
		cursor = next
		s.log.Debug("kline page fetched", zap.String("symbol", symbol), zap.Int("total", len(out)))
	}
	if len(out) == 0 {
		return nil, ErrNoData
	}
	return out, nil
}

// ErrNoData is returned when the range holds no bars.
var ErrNoData = errors.New("no historical data in range")
