package supervisor

import (
	"context"
	"encoding/json"
	"errors"

	"strategy-runner/internal/strategy"
	"strategy-runner/pkg/db"
)

// ConfigSource is where strategy definitions live.
type ConfigSource interface {
	List(ctx context.Context) ([]strategy.Config, error)
	Get(ctx context.Context, id string) (strategy.Config, error)
	SaveParams(ctx context.Context, id string, params json.RawMessage) error
}

// DBSource reads definitions from the strategy_instances table.
type DBSource struct {
	db *db.Database
}

func NewDBSource(d *db.Database) *DBSource { return &DBSource{db: d} }

func (s *DBSource) List(ctx context.Context) ([]strategy.Config, error) {
	rows, err := s.db.ListStrategyInstances(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]strategy.Config, 0, len(rows))
	for _, r := range rows {
		cfg, err := strategy.FromRecord(r)
		if err != nil {
			return nil, err
		}
		out = append(out, cfg)
	}
	return out, nil
}

func (s *DBSource) Get(ctx context.Context, id string) (strategy.Config, error) {
	r, err := s.db.GetStrategyInstance(ctx, id)
	if errors.Is(err, db.ErrNotFound) {
		return strategy.Config{}, strategy.ErrNotFound
	}
	if err != nil {
		return strategy.Config{}, err
	}
	return strategy.FromRecord(*r)
}

func (s *DBSource) SaveParams(ctx context.Context, id string, params json.RawMessage) error {
	err := s.db.UpdateStrategyParameters(ctx, id, string(params))
	if errors.Is(err, db.ErrNotFound) {
		return strategy.ErrNotFound
	}
	return err
}
