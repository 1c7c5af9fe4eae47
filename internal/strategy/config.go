// Package strategy runs graph strategies against the live market feed and
// hands their decisions to the trade engine.
package strategy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"signal-core/internal/graph"
	"signal-core/pkg/db"
)

// ErrInvalidConfig marks a strategy entry that cannot be loaded.
var ErrInvalidConfig = errors.New("invalid strategy config")

// Config is one strategy entry. Either Graph is given explicitly or Type
// names a built-in template expanded with Parameters.
type Config struct {
	ID          string            `yaml:"id" json:"id"`
	Name        string            `yaml:"name" json:"name"`
	Type        string            `yaml:"type,omitempty" json:"type,omitempty"`
	Symbol      string            `yaml:"symbol" json:"symbol"`
	Interval    string            `yaml:"interval" json:"interval"`
	Parameters  map[string]any    `yaml:"parameters,omitempty" json:"parameters,omitempty"`
	Graph       *graph.Definition `yaml:"graph,omitempty" json:"graph,omitempty"`
	FeePct      *float64          `yaml:"fee_pct,omitempty" json:"fee_pct,omitempty"`
	SlippagePct *float64          `yaml:"slippage_pct,omitempty" json:"slippage_pct,omitempty"`
	// Intrabar evaluates on every tick instead of only on closed candles.
	Intrabar bool `yaml:"intrabar,omitempty" json:"intrabar,omitempty"`
	IsActive bool `yaml:"is_active" json:"is_active"`
}

// ConfigFile represents the top-level YAML structure.
type ConfigFile struct {
	Strategies []Config `yaml:"strategies"`
}

// Definition returns the graph for c, expanding a template if needed.
func (c Config) Definition() (graph.Definition, error) {
	if c.Graph != nil {
		return *c.Graph, nil
	}
	if c.Type == "" {
		return graph.Definition{}, fmt.Errorf("%w: strategy %s has neither graph nor type", ErrInvalidConfig, c.ID)
	}
	return Expand(c.Type, c.Parameters)
}

// Validate checks identity fields and compiles the graph.
func (c Config) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidConfig)
	}
	if c.Symbol == "" {
		return fmt.Errorf("%w: strategy %s has no symbol", ErrInvalidConfig, c.ID)
	}
	def, err := c.Definition()
	if err != nil {
		return err
	}
	if _, err := graph.Compile(def); err != nil {
		return fmt.Errorf("%w: strategy %s: %w", ErrInvalidConfig, c.ID, err)
	}
	return nil
}

// LoadConfig reads strategies from a YAML file.
func LoadConfig(path string) ([]Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseConfig(data)
}

// ParseConfig decodes and validates a strategies document.
func ParseConfig(data []byte) ([]Config, error) {
	var file ConfigFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("decode strategies: %w", err)
	}
	seen := make(map[string]bool, len(file.Strategies))
	for _, c := range file.Strategies {
		if err := c.Validate(); err != nil {
			return nil, err
		}
		if seen[c.ID] {
			return nil, fmt.Errorf("%w: duplicate id %s", ErrInvalidConfig, c.ID)
		}
		seen[c.ID] = true
	}
	return file.Strategies, nil
}

// SyncConfigToDB upserts strategies from config into the database. The
// stored definition is always the expanded graph.
func SyncConfigToDB(ctx context.Context, d *db.Database, configs []Config, feePct, slippagePct float64) error {
	for _, cfg := range configs {
		def, err := cfg.Definition()
		if err != nil {
			return err
		}
		raw, err := json.Marshal(def)
		if err != nil {
			return fmt.Errorf("failed to marshal graph for strategy %s: %w", cfg.ID, err)
		}
		fee, slip := cfg.costs(feePct, slippagePct)
		err = d.UpsertStrategy(ctx, db.StrategyInstance{
			ID:          cfg.ID,
			Name:        cfg.Name,
			Symbol:      cfg.Symbol,
			Interval:    cfg.Interval,
			Definition:  string(raw),
			FeePct:      fee,
			SlippagePct: slip,
			IsActive:    cfg.IsActive,
		})
		if err != nil {
			return fmt.Errorf("failed to upsert strategy %s: %w", cfg.ID, err)
		}
	}
	return nil
}

// FromRecord rebuilds a Config from a stored strategy.
func FromRecord(rec db.StrategyInstance) (Config, error) {
	var def graph.Definition
	if err := json.Unmarshal([]byte(rec.Definition), &def); err != nil {
		return Config{}, fmt.Errorf("%w: strategy %s definition: %w", ErrInvalidConfig, rec.ID, err)
	}
	fee, slip := rec.FeePct, rec.SlippagePct
	return Config{
		ID:          rec.ID,
		Name:        rec.Name,
		Symbol:      rec.Symbol,
		Interval:    rec.Interval,
		Graph:       &def,
		FeePct:      &fee,
		SlippagePct: &slip,
		IsActive:    rec.IsActive,
	}, nil
}

// costs returns the per-strategy fee and slippage, falling back to defaults.
func (c Config) costs(feePct, slippagePct float64) (float64, float64) {
	if c.FeePct != nil {
		feePct = *c.FeePct
	}
	if c.SlippagePct != nil {
		slippagePct = *c.SlippagePct
	}
	return feePct, slippagePct
}
