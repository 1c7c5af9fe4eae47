// Package persistence batches fire-and-forget writes off the hot path.
package persistence

import (
	"context"
	"database/sql"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

const execTimeout = 5 * time.Second

// WriteOp is one statement queued for the next batch.
type WriteOp struct {
	Query string
	Args  []any
}

// BatchWriter buffers writes and flushes them in one transaction when the
// buffer fills or the interval elapses.
type BatchWriter struct {
	db       *sql.DB
	log      zerolog.Logger
	maxSize  int
	interval time.Duration

	mu     sync.Mutex
	buffer []WriteOp

	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
	closed    atomic.Bool

	writes    atomic.Uint64
	batches   atomic.Uint64
	errors    atomic.Uint64
	lastBatch atomic.Int64
	lastFlush atomic.Int64
}

// Stats reports batch activity.
type Stats struct {
	TotalWrites   uint64    `json:"total_writes"`
	TotalBatches  uint64    `json:"total_batches"`
	TotalErrors   uint64    `json:"total_errors"`
	LastBatchSize int       `json:"last_batch_size"`
	LastFlushTime time.Time `json:"last_flush_time"`
	Pending       int       `json:"pending"`
}

// NewBatchWriter starts a writer flushing at most maxSize ops per batch.
func NewBatchWriter(db *sql.DB, log zerolog.Logger, maxSize int, interval time.Duration) *BatchWriter {
	if maxSize <= 0 {
		maxSize = 50
	}
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	bw := &BatchWriter{
		db:       db,
		log:      log,
		maxSize:  maxSize,
		interval: interval,
		buffer:   make([]WriteOp, 0, maxSize),
		done:     make(chan struct{}),
	}
	bw.wg.Add(1)
	go bw.loop()
	return bw
}

// Write queues op. After Close the op is executed immediately.
func (bw *BatchWriter) Write(op WriteOp) {
	if bw.closed.Load() {
		_ = bw.execute([]WriteOp{op})
		return
	}
	bw.mu.Lock()
	bw.buffer = append(bw.buffer, op)
	full := len(bw.buffer) >= bw.maxSize
	bw.mu.Unlock()

	if full {
		_ = bw.Flush()
	}
}

// WriteQuery queues a single statement.
func (bw *BatchWriter) WriteQuery(query string, args ...any) {
	bw.Write(WriteOp{Query: query, Args: args})
}

// Flush writes everything buffered so far.
func (bw *BatchWriter) Flush() error {
	bw.mu.Lock()
	if len(bw.buffer) == 0 {
		bw.mu.Unlock()
		return nil
	}
	ops := bw.buffer
	bw.buffer = make([]WriteOp, 0, bw.maxSize)
	bw.mu.Unlock()

	return bw.execute(ops)
}

func (bw *BatchWriter) execute(ops []WriteOp) error {
	bw.writes.Add(uint64(len(ops)))
	bw.batches.Add(1)
	bw.lastBatch.Store(int64(len(ops)))
	bw.lastFlush.Store(time.Now().UnixNano())

	ctx, cancel := context.WithTimeout(context.Background(), execTimeout)
	defer cancel()

	tx, err := bw.db.BeginTx(ctx, nil)
	if err != nil {
		bw.errors.Add(1)
		bw.log.Error().Err(err).Msg("batch writer: begin transaction")
		return err
	}
	for _, op := range ops {
		if _, err := tx.ExecContext(ctx, op.Query, op.Args...); err != nil {
			_ = tx.Rollback()
			bw.errors.Add(1)
			bw.log.Error().Err(err).Int("ops", len(ops)).Msg("batch writer: statement failed, batch rolled back")
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		bw.errors.Add(1)
		bw.log.Error().Err(err).Msg("batch writer: commit")
		return err
	}
	bw.log.Debug().Int("ops", len(ops)).Msg("batch writer flushed")
	return nil
}

func (bw *BatchWriter) loop() {
	defer bw.wg.Done()
	ticker := time.NewTicker(bw.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_ = bw.Flush()
		case <-bw.done:
			_ = bw.Flush()
			return
		}
	}
}

// Pending returns the number of buffered ops.
func (bw *BatchWriter) Pending() int {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	return len(bw.buffer)
}

// Stats returns a snapshot of the counters.
func (bw *BatchWriter) Stats() Stats {
	s := Stats{
		TotalWrites:   bw.writes.Load(),
		TotalBatches:  bw.batches.Load(),
		TotalErrors:   bw.errors.Load(),
		LastBatchSize: int(bw.lastBatch.Load()),
		Pending:       bw.Pending(),
	}
	if ns := bw.lastFlush.Load(); ns > 0 {
		s.LastFlushTime = time.Unix(0, ns).UTC()
	}
	return s
}

// Close flushes what is left and stops the background loop.
func (bw *BatchWriter) Close() error {
	bw.closeOnce.Do(func() {
		bw.closed.Store(true)
		close(bw.done)
	})
	bw.wg.Wait()
	return nil
}
