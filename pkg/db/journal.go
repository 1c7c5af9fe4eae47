package db

import (
	"context"
	"errors"
	"fmt"

	"signal-core/internal/persistence"
	"signal-core/internal/trade"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

// Journal writes signal journal entries through a batch writer.
type Journal struct {
	db     *Database
	writer *persistence.BatchWriter
}

var _ trade.Journal = (*Journal)(nil)

// NewJournal records through writer, which must target d.
func NewJournal(d *Database, writer *persistence.BatchWriter) *Journal {
	return &Journal{db: d, writer: writer}
}

// Record queues the entry; it never blocks on the database.
func (j *Journal) Record(e trade.JournalEntry) {
	j.writer.WriteQuery(`
		INSERT INTO signal_journal (
			id, strategy_id, symbol, signal, price, fee_pct, slippage_pct,
			source, action, reason, signal_time, received_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.StrategyID, e.Symbol, e.Signal, e.Price, e.FeePct, e.SlippagePct,
		e.Source, string(e.Action), e.Reason, toNanos(e.SignalTime), toNanos(e.ReceivedAt))
}

// List returns the newest entries first, optionally for one strategy.
func (j *Journal) List(ctx context.Context, strategyID string, limit int) ([]trade.JournalEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT id, strategy_id, symbol, signal, price, fee_pct, slippage_pct,
			source, action, reason, signal_time, received_at
		FROM signal_journal`
	args := []any{}
	if strategyID != "" {
		query += ` WHERE strategy_id = ?`
		args = append(args, strategyID)
	}
	query += ` ORDER BY received_at DESC, rowid DESC LIMIT ?`
	args = append(args, limit)

	rows, err := j.db.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query journal: %w", err)
	}
	defer rows.Close()

	entries := []trade.JournalEntry{}
	for rows.Next() {
		var (
			e                    trade.JournalEntry
			action               string
			signalAt, receivedAt int64
		)
		if err := rows.Scan(&e.ID, &e.StrategyID, &e.Symbol, &e.Signal, &e.Price, &e.FeePct, &e.SlippagePct,
			&e.Source, &action, &e.Reason, &signalAt, &receivedAt); err != nil {
			return nil, fmt.Errorf("scan journal: %w", err)
		}
		e.Action = trade.Action(action)
		e.SignalTime = fromNanos(signalAt)
		e.ReceivedAt = fromNanos(receivedAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Flush forces pending entries to disk.
func (j *Journal) Flush() error {
	return j.writer.Flush()
}
