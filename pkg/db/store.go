package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"signal-core/internal/trade"
)

// Store persists positions and the trade log in SQLite.
type Store struct {
	db *sql.DB
}

var _ trade.Store = (*Store)(nil)

// NewStore wraps a migrated database.
func NewStore(d *Database) *Store {
	return &Store{db: d.DB}
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) GetPosition(ctx context.Context, strategyID string) (trade.Position, error) {
	var (
		p     trade.Position
		side  string
		entry int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT strategy_id, symbol, side, entry_price, entry_time
		FROM positions WHERE strategy_id = ?
	`, strategyID).Scan(&p.StrategyID, &p.Symbol, &side, &p.EntryPrice, &entry)
	if errors.Is(err, sql.ErrNoRows) {
		return trade.Position{}, trade.ErrNotFound
	}
	if err != nil {
		return trade.Position{}, fmt.Errorf("query position: %w", err)
	}
	p.Side = trade.Side(side)
	p.EntryTime = fromNanos(entry)
	return p, nil
}

func (s *Store) PutPosition(ctx context.Context, p trade.Position) error {
	return putPosition(ctx, s.db, p)
}

func putPosition(ctx context.Context, ex execer, p trade.Position) error {
	_, err := ex.ExecContext(ctx, `
		INSERT INTO positions (strategy_id, symbol, side, entry_price, entry_time, updated_at)
		VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(strategy_id) DO UPDATE SET
			symbol = excluded.symbol,
			side = excluded.side,
			entry_price = excluded.entry_price,
			entry_time = excluded.entry_time,
			updated_at = CURRENT_TIMESTAMP
	`, p.StrategyID, p.Symbol, string(p.Side), p.EntryPrice, toNanos(p.EntryTime))
	if err != nil {
		return fmt.Errorf("upsert position: %w", err)
	}
	return nil
}

func (s *Store) DeletePosition(ctx context.Context, strategyID string) error {
	return deletePosition(ctx, s.db, strategyID)
}

func deletePosition(ctx context.Context, ex execer, strategyID string) error {
	if _, err := ex.ExecContext(ctx, `DELETE FROM positions WHERE strategy_id = ?`, strategyID); err != nil {
		return fmt.Errorf("delete position: %w", err)
	}
	return nil
}

func (s *Store) ListPositions(ctx context.Context) ([]trade.Position, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT strategy_id, symbol, side, entry_price, entry_time
		FROM positions ORDER BY strategy_id
	`)
	if err != nil {
		return nil, fmt.Errorf("query positions: %w", err)
	}
	defer rows.Close()

	positions := []trade.Position{}
	for rows.Next() {
		var (
			p     trade.Position
			side  string
			entry int64
		)
		if err := rows.Scan(&p.StrategyID, &p.Symbol, &side, &p.EntryPrice, &entry); err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		p.Side = trade.Side(side)
		p.EntryTime = fromNanos(entry)
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

func (s *Store) AppendTrade(ctx context.Context, t *trade.CompletedTrade) error {
	return appendTrade(ctx, s.db, t)
}

func appendTrade(ctx context.Context, ex execer, t *trade.CompletedTrade) error {
	res, err := ex.ExecContext(ctx, `
		INSERT INTO completed_trades (
			id, strategy_id, symbol, open_side, entry_price, exit_price,
			entry_time, exit_time, gross_pct, fee_pct_total, net_pct
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID, t.StrategyID, t.Symbol, string(t.OpenSide), t.EntryPrice, t.ExitPrice,
		toNanos(t.EntryTime), toNanos(t.ExitTime), t.GrossPct, t.FeePctTotal, t.NetPct)
	if err != nil {
		return fmt.Errorf("insert trade: %w", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("trade sequence: %w", err)
	}
	t.Seq = seq
	return nil
}

func (s *Store) ListTrades(ctx context.Context, f trade.TradeFilter) ([]trade.CompletedTrade, error) {
	query := `
		SELECT seq, id, strategy_id, symbol, open_side, entry_price, exit_price,
			entry_time, exit_time, gross_pct, fee_pct_total, net_pct
		FROM completed_trades`
	var args []any
	if f.StrategyID != "" {
		query += ` WHERE strategy_id = ?`
		args = append(args, f.StrategyID)
	}
	if f.Limit > 0 {
		// newest N, returned oldest first
		query = `SELECT * FROM (` + query + ` ORDER BY seq DESC LIMIT ?) ORDER BY seq ASC`
		args = append(args, f.Limit)
	} else {
		query += ` ORDER BY seq ASC`
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer rows.Close()

	trades := []trade.CompletedTrade{}
	for rows.Next() {
		var (
			t           trade.CompletedTrade
			side        string
			entry, exit int64
		)
		if err := rows.Scan(&t.Seq, &t.ID, &t.StrategyID, &t.Symbol, &side, &t.EntryPrice, &t.ExitPrice,
			&entry, &exit, &t.GrossPct, &t.FeePctTotal, &t.NetPct); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		t.OpenSide = trade.Side(side)
		t.EntryTime = fromNanos(entry)
		t.ExitTime = fromNanos(exit)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// Flip appends the closed trade and replaces the position in one transaction.
func (s *Store) Flip(ctx context.Context, closed *trade.CompletedTrade, next *trade.Position) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin flip: %w", err)
	}
	defer tx.Rollback()

	if closed != nil {
		if err := appendTrade(ctx, tx, closed); err != nil {
			return err
		}
		if next == nil {
			if err := deletePosition(ctx, tx, closed.StrategyID); err != nil {
				return err
			}
		}
	}
	if next != nil {
		if err := putPosition(ctx, tx, *next); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit flip: %w", err)
	}
	return nil
}

// Clear wipes positions and trades.
func (s *Store) Clear(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin clear: %w", err)
	}
	defer tx.Rollback()
	for _, stmt := range []string{
		`DELETE FROM positions`,
		`DELETE FROM completed_trades`,
		`DELETE FROM sqlite_sequence WHERE name = 'completed_trades'`,
	} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("clear state: %w", err)
		}
	}
	return tx.Commit()
}
