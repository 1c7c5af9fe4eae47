package clickhouse

import (
	"context"
	"fmt"
	"time"

	"signal-core/internal/market"
)

const barsDDL = `
CREATE TABLE IF NOT EXISTS bars (
    symbol LowCardinality(String),
    timeframe LowCardinality(String),
    ts_ms UInt64,
    open Float64,
    high Float64,
    low Float64,
    close Float64,
    volume Float64
) ENGINE = ReplacingMergeTree
ORDER BY (symbol, timeframe, ts_ms)
`

// BarStore serves market.Bars out of the bars table.
type BarStore struct {
	conn *Conn
}

// NewBarStore creates a BarStore.
func NewBarStore(conn *Conn) *BarStore {
	return &BarStore{conn: conn}
}

// EnsureSchema creates the bars table.
func (s *BarStore) EnsureSchema(ctx context.Context) error {
	if err := s.conn.Exec(ctx, barsDDL); err != nil {
		return fmt.Errorf("create bars table: %w", err)
	}
	return nil
}

// Insert appends bars in one batch. Rows with the same key collapse on merge.
func (s *BarStore) Insert(ctx context.Context, symbol, timeframe string, bars market.Bars) error {
	bars = bars.Normalize()
	if bars.Len() == 0 {
		return nil
	}
	if len(bars.Timestamp) == 0 {
		return fmt.Errorf("insert bars: timestamps are required")
	}
	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO bars (symbol, timeframe, ts_ms, open, high, low, close, volume)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}
	for i := 0; i < bars.Len(); i++ {
		if err := batch.Append(symbol, timeframe, uint64(bars.Timestamp[i]),
			bars.Open[i], bars.High[i], bars.Low[i], bars.Close[i], bars.Volume[i]); err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// Load returns bars for symbol and timeframe within [from, to], oldest
// first. A zero to means no upper bound.
func (s *BarStore) Load(ctx context.Context, symbol, timeframe string, from, to time.Time) (market.Bars, error) {
	end := uint64(1<<63 - 1)
	if !to.IsZero() {
		end = uint64(to.UnixMilli())
	}
	var start uint64
	if !from.IsZero() && from.UnixMilli() > 0 {
		start = uint64(from.UnixMilli())
	}

	rows, err := s.conn.Query(ctx, `
		SELECT ts_ms, open, high, low, close, volume
		FROM bars FINAL
		WHERE symbol = ? AND timeframe = ? AND ts_ms >= ? AND ts_ms <= ?
		ORDER BY ts_ms ASC
	`, symbol, timeframe, start, end)
	if err != nil {
		return market.Bars{}, fmt.Errorf("query bars: %w", err)
	}
	defer rows.Close()

	return scanBars(rows)
}

// chRows is the part of driver.Rows the scanner uses.
type chRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanBars(rows chRows) (market.Bars, error) {
	var bars market.Bars
	for rows.Next() {
		var (
			ts            uint64
			o, h, l, c, v float64
		)
		if err := rows.Scan(&ts, &o, &h, &l, &c, &v); err != nil {
			return market.Bars{}, fmt.Errorf("scan bar row: %w", err)
		}
		bars.Timestamp = append(bars.Timestamp, int64(ts))
		bars.Open = append(bars.Open, o)
		bars.High = append(bars.High, h)
		bars.Low = append(bars.Low, l)
		bars.Close = append(bars.Close, c)
		bars.Volume = append(bars.Volume, v)
	}
	if err := rows.Err(); err != nil {
		return market.Bars{}, fmt.Errorf("iterate bar rows: %w", err)
	}
	return bars, nil
}
