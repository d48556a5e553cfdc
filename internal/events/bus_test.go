package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribeFiltersTopics(t *testing.T) {
	bus := NewBus()
	trades, unsubTrades := bus.Subscribe(4, EventTradeRecorded)
	all, unsubAll := bus.Subscribe(4)
	defer unsubTrades()
	defer unsubAll()

	bus.Publish(EventStrategyStarted, Lifecycle{StrategyID: "a"})
	bus.Publish(EventTradeRecorded, "fill")

	got := <-trades
	assert.Equal(t, EventTradeRecorded, got.Type)
	assert.Equal(t, "fill", got.Data)
	assert.Len(t, trades, 0)

	require.Len(t, all, 2)
	first := <-all
	assert.Equal(t, EventStrategyStarted, first.Type)
}

func TestPublishDropsWhenFull(t *testing.T) {
	bus := NewBus()
	_, unsub := bus.Subscribe(1)
	defer unsub()

	bus.Publish(EventSnapshot, 1)
	bus.Publish(EventSnapshot, 2)
	assert.Equal(t, int64(1), bus.Dropped())
}

func TestUnsubscribeClosesOnce(t *testing.T) {
	bus := NewBus()
	ch, unsub := bus.Subscribe(1)
	unsub()
	unsub()

	_, open := <-ch
	assert.False(t, open)
	bus.Publish(EventSnapshot, 1)
}

func TestNilBusPublishIsNoop(t *testing.T) {
	var bus *Bus
	bus.Publish(EventSnapshot, 1)
}
