package events

// Event enumerates topics published inside the runner.
type Event string

const (
	EventStrategyStarted Event = "strategy.started"
	EventStrategyStopped Event = "strategy.stopped"
	EventStrategyFailed  Event = "strategy.failed"
	EventParamsUpdated   Event = "strategy.params_updated"
	EventTradeRecorded   Event = "trade.recorded"
	EventSnapshot        Event = "snapshot.recorded"
)

// Lifecycle is the payload of strategy.* events.
type Lifecycle struct {
	StrategyID string `json:"strategy_id"`
	Kind       string `json:"kind"`
	Symbol     string `json:"symbol"`
	Reason     string `json:"reason,omitempty"`
}
