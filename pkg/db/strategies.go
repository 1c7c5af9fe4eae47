package db

import (
	"context"
	"fmt"
)

// StrategyInstance is a persisted graph strategy. Definition holds the
// graph as JSON.
type StrategyInstance struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Symbol      string    `json:"symbol"`
	Interval    string    `json:"interval"`
	Definition  string    `json:"definition"`
	FeePct      float64   `json:"fee_pct"`
	SlippagePct float64   `json:"slippage_pct"`
	IsActive    bool      `json:"is_active"`
	UpdatedAt   string    `json:"updated_at"`
}

// UpsertStrategy inserts or replaces a strategy definition.
func (d *Database) UpsertStrategy(ctx context.Context, s StrategyInstance) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO strategy_instances (id, name, symbol, interval, definition, fee_pct, slippage_pct, is_active, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			symbol = excluded.symbol,
			interval = excluded.interval,
			definition = excluded.definition,
			fee_pct = excluded.fee_pct,
			slippage_pct = excluded.slippage_pct,
			is_active = excluded.is_active,
			updated_at = CURRENT_TIMESTAMP
	`, s.ID, s.Name, s.Symbol, s.Interval, s.Definition, s.FeePct, s.SlippagePct, s.IsActive)
	if err != nil {
		return fmt.Errorf("upsert strategy %s: %w", s.ID, err)
	}
	return nil
}

// ListStrategies returns strategies ordered by id.
func (d *Database) ListStrategies(ctx context.Context, activeOnly bool) ([]StrategyInstance, error) {
	query := `
		SELECT id, name, symbol, interval, definition, fee_pct, slippage_pct, is_active, updated_at
		FROM strategy_instances`
	if activeOnly {
		query += ` WHERE is_active = 1`
	}
	query += ` ORDER BY id`

	rows, err := d.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query strategies: %w", err)
	}
	defer rows.Close()

	var res []StrategyInstance
	for rows.Next() {
		var s StrategyInstance
		if err := rows.Scan(&s.ID, &s.Name, &s.Symbol, &s.Interval, &s.Definition, &s.FeePct, &s.SlippagePct, &s.IsActive, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan strategy: %w", err)
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// SetStrategyActive toggles a strategy.
func (d *Database) SetStrategyActive(ctx context.Context, id string, active bool) error {
	res, err := d.DB.ExecContext(ctx, `
		UPDATE strategy_instances SET is_active = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?
	`, active, id)
	if err != nil {
		return fmt.Errorf("update strategy %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
