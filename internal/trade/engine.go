package trade

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"signal-core/internal/analytics"
	"signal-core/internal/decision"
	"signal-core/internal/events"
)

// Engine applies decisions to per-strategy positions. Each strategy id is
// serialized by its own lock; different ids proceed in parallel.
type Engine struct {
	store   Store
	log     zerolog.Logger
	bus     *events.Bus
	journal Journal
	metrics Metrics
	now     func() time.Time

	locks *keyedMutex
	// resetMu is held shared by every transition and exclusively by Reset.
	resetMu sync.RWMutex

	cacheMu  sync.Mutex
	cache    *analytics.Overview
	cacheGen uint64
	gen      uint64
}

// Option configures an Engine.
type Option func(*Engine)

// WithBus publishes position and trade events on bus.
func WithBus(bus *events.Bus) Option {
	return func(e *Engine) { e.bus = bus }
}

// WithJournal records every processed signal.
func WithJournal(j Journal) Option {
	return func(e *Engine) { e.journal = j }
}

// WithMetrics reports processing latency.
func WithMetrics(m Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithClock overrides the time source used for missing signal timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine builds an engine over store.
func NewEngine(store Store, log zerolog.Logger, opts ...Option) *Engine {
	e := &Engine{
		store: store,
		log:   log,
		now:   time.Now,
		locks: newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Process applies one signal. Validation failures and ignored signals are
// reported in the Result; the error is reserved for store failures.
func (e *Engine) Process(ctx context.Context, in decision.Input) (Result, error) {
	start := time.Now()
	res, err := e.process(ctx, in)
	if err != nil {
		e.log.Error().Err(err).Str("strategy_id", in.StrategyID).Msg("signal processing failed")
		return res, err
	}
	if e.metrics != nil {
		e.metrics.ObserveSignal(res.Action, time.Since(start).Seconds())
	}
	e.record(in, res)
	return res, nil
}

func (e *Engine) process(ctx context.Context, in decision.Input) (Result, error) {
	d, reason := in.Validate()
	if reason != "" {
		return Result{Accepted: false, Action: ActionRejected, Reason: reason}, nil
	}
	if d == decision.Hold {
		return Result{Accepted: true, Action: ActionIgnored, Reason: ReasonHold}, nil
	}
	if in.Time.IsZero() {
		in.Time = e.now().UTC()
	}

	e.resetMu.RLock()
	defer e.resetMu.RUnlock()
	unlock := e.locks.Lock(in.StrategyID)
	defer unlock()

	current, err := e.store.GetPosition(ctx, in.StrategyID)
	switch {
	case errors.Is(err, ErrNotFound):
		return e.open(ctx, in, SideFor(d))
	case err != nil:
		return Result{}, fmt.Errorf("load position %s: %w", in.StrategyID, err)
	}

	next := SideFor(d)
	if current.Side == next {
		return Result{Accepted: true, Action: ActionIgnored, Reason: ReasonDuplicateSignal}, nil
	}

	closed := e.closeTrade(current, in)
	pos := Position{
		StrategyID: in.StrategyID,
		Symbol:     symbolOf(in, current),
		Side:       next,
		EntryPrice: in.Price,
		EntryTime:  in.Time,
	}
	if err := e.store.Flip(ctx, &closed, &pos); err != nil {
		return Result{}, fmt.Errorf("flip position %s: %w", in.StrategyID, err)
	}
	e.invalidate()
	e.publishTrade(closed)
	e.publishChange(current.Side, pos.Side, pos, ActionClosedAndOpened)

	return Result{
		Accepted:       true,
		Action:         ActionClosedAndOpened,
		Opened:         &Opened{Side: pos.Side, EntryPrice: pos.EntryPrice},
		CompletedTrade: &closed,
	}, nil
}

func (e *Engine) open(ctx context.Context, in decision.Input, side Side) (Result, error) {
	pos := Position{
		StrategyID: in.StrategyID,
		Symbol:     in.Symbol,
		Side:       side,
		EntryPrice: in.Price,
		EntryTime:  in.Time,
	}
	if err := e.store.PutPosition(ctx, pos); err != nil {
		return Result{}, fmt.Errorf("open position %s: %w", in.StrategyID, err)
	}
	e.publishChange(Flat, side, pos, ActionOpened)
	return Result{
		Accepted: true,
		Action:   ActionOpened,
		Opened:   &Opened{Side: side, EntryPrice: in.Price},
	}, nil
}

func (e *Engine) closeTrade(p Position, in decision.Input) CompletedTrade {
	gross := GrossPct(p.Side, p.EntryPrice, in.Price)
	fee := FeePctTotal(in.FeePct, in.SlippagePct)
	return CompletedTrade{
		ID:          uuid.NewString(),
		StrategyID:  p.StrategyID,
		Symbol:      symbolOf(in, p),
		OpenSide:    p.Side,
		EntryPrice:  p.EntryPrice,
		ExitPrice:   in.Price,
		EntryTime:   p.EntryTime,
		ExitTime:    in.Time,
		GrossPct:    gross,
		FeePctTotal: fee,
		NetPct:      NetPct(gross, fee),
	}
}

func symbolOf(in decision.Input, p Position) string {
	if in.Symbol != "" {
		return in.Symbol
	}
	return p.Symbol
}

// ClosePosition flattens a strategy at price without reopening.
func (e *Engine) ClosePosition(ctx context.Context, strategyID string, price, feePct, slippagePct float64) (Result, error) {
	in := decision.Input{
		StrategyID:  strategyID,
		Signal:      string(decision.Hold),
		Price:       price,
		FeePct:      feePct,
		SlippagePct: slippagePct,
		Time:        e.now().UTC(),
		Source:      "manual_close",
	}
	if _, reason := in.Validate(); reason != "" {
		return Result{Accepted: false, Action: ActionRejected, Reason: reason}, nil
	}

	e.resetMu.RLock()
	defer e.resetMu.RUnlock()
	unlock := e.locks.Lock(strategyID)
	defer unlock()

	current, err := e.store.GetPosition(ctx, strategyID)
	if errors.Is(err, ErrNotFound) {
		return Result{Accepted: true, Action: ActionIgnored, Reason: ReasonNoPosition}, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("load position %s: %w", strategyID, err)
	}

	closed := e.closeTrade(current, in)
	if err := e.store.Flip(ctx, &closed, nil); err != nil {
		return Result{}, fmt.Errorf("close position %s: %w", strategyID, err)
	}
	e.invalidate()
	e.publishTrade(closed)
	e.publishChange(current.Side, Flat, Position{StrategyID: strategyID, Symbol: current.Symbol, EntryPrice: price, EntryTime: in.Time}, ActionClosed)

	res := Result{Accepted: true, Action: ActionClosed, CompletedTrade: &closed}
	e.record(in, res)
	return res, nil
}

// Position returns the open position of a strategy.
func (e *Engine) Position(ctx context.Context, strategyID string) (Position, bool, error) {
	p, err := e.store.GetPosition(ctx, strategyID)
	if errors.Is(err, ErrNotFound) {
		return Position{}, false, nil
	}
	if err != nil {
		return Position{}, false, err
	}
	return p, true, nil
}

// Positions lists open positions.
func (e *Engine) Positions(ctx context.Context) ([]Position, error) {
	return e.store.ListPositions(ctx)
}

// Trades lists completed trades in order.
func (e *Engine) Trades(ctx context.Context, f TradeFilter) ([]CompletedTrade, error) {
	return e.store.ListTrades(ctx, f)
}

// Analytics returns the overview over the full trade log, cached until the
// next trade is appended or the state is reset.
func (e *Engine) Analytics(ctx context.Context) (analytics.Overview, error) {
	e.cacheMu.Lock()
	if e.cache != nil && e.cacheGen == e.gen {
		o := *e.cache
		e.cacheMu.Unlock()
		return o, nil
	}
	gen := e.gen
	e.cacheMu.Unlock()

	trades, err := e.store.ListTrades(ctx, TradeFilter{})
	if err != nil {
		return analytics.Overview{}, fmt.Errorf("list trades: %w", err)
	}
	o := analytics.NewOverview(Records(trades))

	e.cacheMu.Lock()
	if e.gen == gen {
		e.cache = &o
		e.cacheGen = gen
	}
	e.cacheMu.Unlock()
	return o, nil
}

// Reset clears every position and trade. It waits for in-flight signals.
func (e *Engine) Reset(ctx context.Context) error {
	e.resetMu.Lock()
	defer e.resetMu.Unlock()
	if err := e.store.Clear(ctx); err != nil {
		return fmt.Errorf("clear state: %w", err)
	}
	e.invalidate()
	e.log.Info().Msg("trade state cleared")
	return nil
}

func (e *Engine) invalidate() {
	e.cacheMu.Lock()
	e.gen++
	e.cache = nil
	e.cacheMu.Unlock()
}

func (e *Engine) publishTrade(t CompletedTrade) {
	e.log.Info().
		Str("strategy_id", t.StrategyID).
		Str("side", string(t.OpenSide)).
		Float64("entry", t.EntryPrice).
		Float64("exit", t.ExitPrice).
		Float64("net_pct", t.NetPct).
		Msg("trade completed")
	if e.bus != nil {
		e.bus.Publish(events.EventTradeCompleted, t)
	}
}

func (e *Engine) publishChange(from, to Side, p Position, action Action) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(events.EventPositionChange, PositionChange{
		StrategyID: p.StrategyID,
		Symbol:     p.Symbol,
		From:       from,
		To:         to,
		Price:      p.EntryPrice,
		Time:       p.EntryTime,
		Action:     action,
	})
}

func (e *Engine) record(in decision.Input, res Result) {
	if e.bus != nil {
		e.bus.Publish(events.EventSignalProcessed, SignalOutcome{Input: in, Result: res})
	}
	if e.journal == nil {
		return
	}
	signalTime := in.Time
	if signalTime.IsZero() {
		signalTime = e.now().UTC()
	}
	e.journal.Record(JournalEntry{
		ID:          uuid.NewString(),
		StrategyID:  in.StrategyID,
		Symbol:      in.Symbol,
		Signal:      in.Signal,
		Price:       in.Price,
		FeePct:      in.FeePct,
		SlippagePct: in.SlippagePct,
		Source:      in.Source,
		Action:      res.Action,
		Reason:      res.Reason,
		SignalTime:  signalTime,
		ReceivedAt:  e.now().UTC(),
	})
}
