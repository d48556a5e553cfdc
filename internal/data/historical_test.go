package data

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"strategy-runner/pkg/exchanges/common"
)

// fakeSource serves hourly bars and counts requests.
type fakeSource struct {
	first time.Time
	count int
	calls int
}

func (f *fakeSource) GetKlines(_ context.Context, _, _ string, start, end time.Time, limit int) ([]common.Kline, error) {
	f.calls++
	var out []common.Kline
	for i := 0; i < f.count && len(out) < limit; i++ {
		t := f.first.Add(time.Duration(i) * time.Hour)
		if t.Before(start) || !t.Before(end) {
			continue
		}
		out = append(out, common.Kline{OpenTime: t, Close: float64(i)})
	}
	return out, nil
}

func TestGetKlinesPages(t *testing.T) {
	first := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	src := &fakeSource{first: first, count: 2500}
	svc := NewHistoricalDataService(src, nil)

	bars, err := svc.GetKlines(context.Background(), "BTCUSDT", "1h", first, first.Add(3000*time.Hour))
	require.NoError(t, err)
	require.Len(t, bars, 2500)
	assert.Equal(t, 3, src.calls)
	for i := 1; i < len(bars); i++ {
		assert.True(t, bars[i].OpenTime.After(bars[i-1].OpenTime))
	}
}

func TestGetKlinesRespectsEnd(t *testing.T) {
	first := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	svc := NewHistoricalDataService(&fakeSource{first: first, count: 100}, nil)

	bars, err := svc.GetKlines(context.Background(), "BTCUSDT", "1h", first.Add(10*time.Hour), first.Add(20*time.Hour))
	require.NoError(t, err)
	require.Len(t, bars, 10)
	assert.Equal(t, 10.0, bars[0].Close)
}

func TestGetKlinesErrors(t *testing.T) {
	first := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	svc := NewHistoricalDataService(&fakeSource{first: first, count: 10}, nil)

	_, err := svc.GetKlines(context.Background(), "BTCUSDT", "1h", first, first)
	assert.Error(t, err)

	_, err = svc.GetKlines(context.Background(), "BTCUSDT", "1h", first.Add(100*time.Hour), first.Add(200*time.Hour))
	assert.ErrorIs(t, err, ErrNoData)
}
