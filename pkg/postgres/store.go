package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"signal-core/internal/trade"
)

// ErrDuplicateTrade is returned when a trade id is appended twice.
var ErrDuplicateTrade = errors.New("duplicate trade id")

// Store implements trade.Store on Postgres.
type Store struct {
	pool *Pool
}

var _ trade.Store = (*Store)(nil)

// NewStore creates a store over a migrated pool.
func NewStore(pool *Pool) *Store {
	return &Store{pool: pool}
}

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (s *Store) GetPosition(ctx context.Context, strategyID string) (trade.Position, error) {
	var (
		p    trade.Position
		side string
	)
	err := s.pool.QueryRow(ctx, `
		SELECT strategy_id, symbol, side, entry_price, entry_time
		FROM positions WHERE strategy_id = $1
	`, strategyID).Scan(&p.StrategyID, &p.Symbol, &side, &p.EntryPrice, &p.EntryTime)
	if isNotFoundError(err) {
		return trade.Position{}, trade.ErrNotFound
	}
	if err != nil {
		return trade.Position{}, fmt.Errorf("query position: %w", err)
	}
	p.Side = trade.Side(side)
	p.EntryTime = p.EntryTime.UTC()
	return p, nil
}

func (s *Store) PutPosition(ctx context.Context, p trade.Position) error {
	return putPosition(ctx, s.pool, p)
}

func putPosition(ctx context.Context, q querier, p trade.Position) error {
	_, err := q.Exec(ctx, `
		INSERT INTO positions (strategy_id, symbol, side, entry_price, entry_time, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (strategy_id) DO UPDATE SET
			symbol = EXCLUDED.symbol,
			side = EXCLUDED.side,
			entry_price = EXCLUDED.entry_price,
			entry_time = EXCLUDED.entry_time,
			updated_at = now()
	`, p.StrategyID, p.Symbol, string(p.Side), p.EntryPrice, p.EntryTime)
	if err != nil {
		return fmt.Errorf("upsert position: %w", err)
	}
	return nil
}

func (s *Store) DeletePosition(ctx context.Context, strategyID string) error {
	return deletePosition(ctx, s.pool, strategyID)
}

func deletePosition(ctx context.Context, q querier, strategyID string) error {
	if _, err := q.Exec(ctx, `DELETE FROM positions WHERE strategy_id = $1`, strategyID); err != nil {
		return fmt.Errorf("delete position: %w", err)
	}
	return nil
}

func (s *Store) ListPositions(ctx context.Context) ([]trade.Position, error) {
	rows, err := s.pool.Query(ctx, `
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
			p    trade.Position
			side string
		)
		if err := rows.Scan(&p.StrategyID, &p.Symbol, &side, &p.EntryPrice, &p.EntryTime); err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		p.Side = trade.Side(side)
		p.EntryTime = p.EntryTime.UTC()
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

func (s *Store) AppendTrade(ctx context.Context, t *trade.CompletedTrade) error {
	return appendTrade(ctx, s.pool, t)
}

func appendTrade(ctx context.Context, q querier, t *trade.CompletedTrade) error {
	err := q.QueryRow(ctx, `
		INSERT INTO completed_trades (
			id, strategy_id, symbol, open_side, entry_price, exit_price,
			entry_time, exit_time, gross_pct, fee_pct_total, net_pct
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING seq
	`, t.ID, t.StrategyID, t.Symbol, string(t.OpenSide), t.EntryPrice, t.ExitPrice,
		t.EntryTime, t.ExitTime, t.GrossPct, t.FeePctTotal, t.NetPct).Scan(&t.Seq)
	if isDuplicateKeyError(err) {
		return fmt.Errorf("insert trade %s: %w", t.ID, ErrDuplicateTrade)
	}
	if err != nil {
		return fmt.Errorf("insert trade: %w", err)
	}
	return nil
}

func (s *Store) ListTrades(ctx context.Context, f trade.TradeFilter) ([]trade.CompletedTrade, error) {
	query := `
		SELECT seq, id, strategy_id, symbol, open_side, entry_price, exit_price,
			entry_time, exit_time, gross_pct, fee_pct_total, net_pct
		FROM completed_trades
		WHERE ($1 = '' OR strategy_id = $1)`
	args := []any{f.StrategyID}
	if f.Limit > 0 {
		query = `SELECT * FROM (` + query + ` ORDER BY seq DESC LIMIT $2) newest ORDER BY seq ASC`
		args = append(args, f.Limit)
	} else {
		query += ` ORDER BY seq ASC`
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer rows.Close()

	trades := []trade.CompletedTrade{}
	for rows.Next() {
		var (
			t           trade.CompletedTrade
			side        string
			entry, exit time.Time
		)
		if err := rows.Scan(&t.Seq, &t.ID, &t.StrategyID, &t.Symbol, &side, &t.EntryPrice, &t.ExitPrice,
			&entry, &exit, &t.GrossPct, &t.FeePctTotal, &t.NetPct); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		t.OpenSide = trade.Side(side)
		t.EntryTime = entry.UTC()
		t.ExitTime = exit.UTC()
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// Flip appends the closed trade and replaces the position in one transaction.
func (s *Store) Flip(ctx context.Context, closed *trade.CompletedTrade, next *trade.Position) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
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
			return putPosition(ctx, tx, *next)
		}
		return nil
	})
}

// Clear wipes positions and trades.
func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `TRUNCATE positions, completed_trades RESTART IDENTITY`); err != nil {
		return fmt.Errorf("clear state: %w", err)
	}
	return nil
}
