package strategy

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"strategy-runner/pkg/db"
)

const sampleStrategies = `
strategies:
  - id: grid-btc
    name: BTC grid
    type: grid
    symbol: btcusdt
    is_active: true
    parameters:
      lower_bound: 60000
      upper_bound: 70000
      num_grids: 10
      grid_mode: geometric
      investment_amount: 1000
  - id: dca-eth
    type: dca
    symbol: ETHUSDT
    owner_id: alice
    parameters:
      purchase_amount_quote: 50
      purchase_interval_seconds: 86400
`

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "strategies.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfig(t *testing.T) {
	cfgs, err := LoadConfig(writeFile(t, sampleStrategies))
	require.NoError(t, err)
	require.Len(t, cfgs, 2)

	assert.Equal(t, KindGrid, cfgs[0].Kind)
	assert.Equal(t, "BTCUSDT", cfgs[0].Symbol)
	assert.True(t, cfgs[0].Active)

	assert.Equal(t, KindAccumulation, cfgs[1].Kind)
	assert.Equal(t, "dca-eth", cfgs[1].Name)
	assert.Equal(t, "alice", cfgs[1].OwnerID)
	assert.False(t, cfgs[1].Active)

	p, err := DecodeGridParams(cfgs[0].Params)
	require.NoError(t, err)
	assert.Equal(t, "geometric", p.GridMode)
	assert.Equal(t, 30, p.PollSeconds)
}

func TestLoadConfigRejectsBadEntries(t *testing.T) {
	tests := map[string]string{
		"unknown type": `
strategies:
  - id: a
    type: arbitrage
    symbol: BTCUSDT
`,
		"invalid params": `
strategies:
  - id: a
    type: accumulation
    symbol: BTCUSDT
    parameters:
      purchase_amount_quote: 0
`,
		"duplicate id": `
strategies:
  - id: a
    type: dca
    symbol: BTCUSDT
    parameters: {purchase_amount_quote: 5}
  - id: a
    type: dca
    symbol: BTCUSDT
    parameters: {purchase_amount_quote: 5}
`,
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := LoadConfig(writeFile(t, body))
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestSyncConfigToDBRoundTrip(t *testing.T) {
	ctx := context.Background()
	d, err := db.Open(ctx, ":memory:")
	require.NoError(t, err)
	defer d.Close()

	cfgs, err := LoadConfig(writeFile(t, sampleStrategies))
	require.NoError(t, err)
	require.NoError(t, SyncConfigToDB(ctx, d, cfgs))
	require.NoError(t, SyncConfigToDB(ctx, d, cfgs))

	rows, err := d.ListStrategyInstances(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	byID := map[string]Config{}
	for _, r := range rows {
		cfg, err := FromRecord(r)
		require.NoError(t, err)
		byID[cfg.ID] = cfg
	}
	assert.Equal(t, KindAccumulation, byID["dca-eth"].Kind)
	assert.Equal(t, "alice", byID["dca-eth"].OwnerID)
	assert.JSONEq(t, string(cfgs[0].Params), string(byID["grid-btc"].Params))
}
