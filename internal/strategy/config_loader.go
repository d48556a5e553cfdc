package strategy

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"strategy-runner/pkg/db"
)

// FileEntry is one strategy definition in the YAML file.
type FileEntry struct {
	ID         string         `yaml:"id"`
	Name       string         `yaml:"name"`
	Type       string         `yaml:"type"`
	Symbol     string         `yaml:"symbol"`
	OwnerID    string         `yaml:"owner_id"`
	Parameters map[string]any `yaml:"parameters"`
	IsActive   bool           `yaml:"is_active"`
}

// ConfigFile represents the top-level YAML structure.
type ConfigFile struct {
	Strategies []FileEntry `yaml:"strategies"`
}

// LoadConfig reads and validates strategies from a YAML file.
func LoadConfig(path string) ([]Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var file ConfigFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	seen := make(map[string]bool, len(file.Strategies))
	out := make([]Config, 0, len(file.Strategies))
	for i, e := range file.Strategies {
		cfg, err := e.toConfig()
		if err != nil {
			return nil, fmt.Errorf("strategy #%d (%s): %w", i+1, e.ID, err)
		}
		if seen[cfg.ID] {
			return nil, fmt.Errorf("%w: duplicate strategy id %q", ErrInvalidConfig, cfg.ID)
		}
		seen[cfg.ID] = true
		out = append(out, cfg)
	}
	return out, nil
}

func (e FileEntry) toConfig() (Config, error) {
	if e.ID == "" {
		return Config{}, fmt.Errorf("%w: id is required", ErrInvalidConfig)
	}
	kind, err := ParseKind(e.Type)
	if err != nil {
		return Config{}, err
	}
	raw, err := json.Marshal(e.Parameters)
	if err != nil {
		return Config{}, fmt.Errorf("%w: encode parameters: %v", ErrInvalidConfig, err)
	}
	cfg := Config{
		ID:      e.ID,
		Name:    e.Name,
		Kind:    kind,
		Symbol:  normalizeSymbol(e.Symbol),
		OwnerID: e.OwnerID,
		Params:  raw,
		Active:  e.IsActive,
	}
	if cfg.Name == "" {
		cfg.Name = cfg.ID
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// SyncConfigToDB upserts strategies from the file into the database.
func SyncConfigToDB(ctx context.Context, d *db.Database, configs []Config) error {
	for _, cfg := range configs {
		if err := d.UpsertStrategyInstance(ctx, ToRecord(cfg)); err != nil {
			return fmt.Errorf("failed to upsert strategy %s: %w", cfg.ID, err)
		}
	}
	return nil
}

// ToRecord converts a config into its database row.
func ToRecord(cfg Config) db.StrategyInstance {
	params := string(cfg.Params)
	if params == "" {
		params = "{}"
	}
	return db.StrategyInstance{
		ID:           cfg.ID,
		Name:         cfg.Name,
		StrategyType: string(cfg.Kind),
		Symbol:       cfg.Symbol,
		Parameters:   params,
		UserID:       cfg.OwnerID,
		IsActive:     cfg.Active,
	}
}

// FromRecord converts a database row into a validated config.
func FromRecord(r db.StrategyInstance) (Config, error) {
	kind, err := ParseKind(r.StrategyType)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		ID:      r.ID,
		Name:    r.Name,
		Kind:    kind,
		Symbol:  normalizeSymbol(r.Symbol),
		OwnerID: r.UserID,
		Params:  json.RawMessage(r.Parameters),
		Active:  r.IsActive,
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
