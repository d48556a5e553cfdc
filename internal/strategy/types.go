package strategy

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"strategy-runner/internal/recorder"
	"strategy-runner/pkg/exchanges/common"
)

// Kind is the closed set of strategy variants.
type Kind string

const (
	KindGrid         Kind = "grid"
	KindMomentum     Kind = "momentum"
	KindAccumulation Kind = "accumulation"
)

// ParseKind accepts the kind names plus the "dca" alias.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "grid":
		return KindGrid, nil
	case "momentum":
		return KindMomentum, nil
	case "accumulation", "dca":
		return KindAccumulation, nil
	}
	return "", fmt.Errorf("%w: unsupported strategy type %q", ErrInvalidConfig, s)
}

// Config identifies one strategy instance and carries its raw parameters.
type Config struct {
	ID      string          `json:"id"`
	Name    string          `json:"name"`
	Kind    Kind            `json:"kind"`
	Symbol  string          `json:"symbol"`
	OwnerID string          `json:"owner_id,omitempty"`
	Params  json.RawMessage `json:"params"`
	Active  bool            `json:"active"`
}

// Status is the on-demand view of an instance.
type Status struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Kind        Kind       `json:"kind"`
	Symbol      string     `json:"symbol"`
	Active      bool       `json:"active"`
	Running     bool       `json:"running"`
	Params      any        `json:"params"`
	Position    float64    `json:"position"`
	EntryPrice  *float64   `json:"entry_price"`
	RealizedPnL float64    `json:"realized_pnl"`
	Trades      int        `json:"trades"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
}

// Strategy is implemented by every strategy kind.
type Strategy interface {
	ID() string
	Kind() Kind
	Config() Config
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	UpdateConfig(partial map[string]any) error
	Status() Status
	// Done is closed once the last control loop has returned.
	Done() <-chan struct{}
}

// Options tune loop timing; zero values take defaults.
type Options struct {
	StopGrace        time.Duration    // graceful join before aborting in-flight I/O
	AbortWait        time.Duration    // extra wait after aborting before abandoning the loop
	SleepSlice       time.Duration    // max uninterrupted sleep
	SnapshotInterval time.Duration    // zero disables snapshots
	Now              func() time.Time // clock
}

func (o Options) withDefaults() Options {
	if o.StopGrace <= 0 {
		o.StopGrace = 12 * time.Second
	}
	if o.AbortWait <= 0 {
		o.AbortWait = 2 * time.Second
	}
	if o.SleepSlice <= 0 {
		o.SleepSlice = 5 * time.Second
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Deps are the collaborators every instance needs.
type Deps struct {
	Gateway  common.Gateway
	Recorder recorder.Recorder
	Logger   *zap.Logger
	Options  Options
	// OnExit is called once whenever a control loop ends; err is nil on a clean stop.
	OnExit func(id string, err error)
}
