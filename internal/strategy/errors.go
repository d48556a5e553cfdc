package strategy

import "errors"

var (
	// ErrInvalidConfig covers unknown kinds and parameters that fail validation.
	ErrInvalidConfig = errors.New("invalid strategy configuration")
	// ErrGatewayUnavailable is returned by Start when the venue does not answer a ping.
	ErrGatewayUnavailable = errors.New("gateway unavailable")
	// ErrInactive is returned by Start when the instance is not marked active.
	ErrInactive = errors.New("strategy is not active")
	// ErrStopping is returned by Start while an abandoned loop has not returned yet.
	ErrStopping = errors.New("strategy is still stopping")
	// ErrNotFound is returned for unknown strategy ids.
	ErrNotFound = errors.New("strategy not found")
)
