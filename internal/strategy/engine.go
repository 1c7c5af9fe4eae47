package strategy

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"signal-core/internal/decision"
	"signal-core/internal/events"
	"signal-core/internal/graph"
	"signal-core/internal/indicators"
	"signal-core/internal/market"
	"signal-core/internal/trade"
)

// ErrUnknownStrategy is returned for ids that are not loaded.
var ErrUnknownStrategy = errors.New("unknown strategy")

// SourceStrategy tags inputs produced by graph evaluation.
const SourceStrategy = "strategy"

// Processor consumes decisions; *trade.Engine satisfies it.
type Processor interface {
	Process(ctx context.Context, in decision.Input) (trade.Result, error)
}

// HistoryLoader provides warm-up bars.
type HistoryLoader interface {
	Load(ctx context.Context, symbol, timeframe string, from, to time.Time) (market.Bars, error)
}

// EvalObserver receives graph evaluation timings.
type EvalObserver interface {
	ObserveEvaluation(d time.Duration)
}

// Signal is published on the bus for every evaluation that produced a
// decision other than HOLD.
type Signal struct {
	StrategyID string            `json:"strategy_id"`
	Symbol     string            `json:"symbol"`
	Decision   decision.Decision `json:"decision"`
	Price      float64           `json:"price"`
	Time       time.Time         `json:"time"`
}

// Status describes a loaded strategy.
type Status struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	Symbol       string            `json:"symbol"`
	Interval     string            `json:"interval"`
	Active       bool              `json:"active"`
	Paused       bool              `json:"paused"`
	Intrabar     bool              `json:"intrabar"`
	Nodes        []string          `json:"nodes"`
	Evaluations  uint64            `json:"evaluations"`
	LastDecision decision.Decision `json:"last_decision,omitempty"`
	LastEval     time.Time         `json:"last_eval,omitempty"`
}

type instance struct {
	cfg          Config
	stream       *graph.Stream
	paused       bool
	evaluations  uint64
	lastDecision decision.Decision
	lastEval     time.Time
}

// Engine evaluates every active strategy on each tick of its symbol.
type Engine struct {
	mu         sync.RWMutex
	strategies map[string]*instance

	ind      *indicators.Engine
	proc     Processor
	bus      *events.Bus
	log      zerolog.Logger
	observer EvalObserver

	feePct, slippagePct float64
	interval            string
}

// Option configures an Engine.
type Option func(*Engine)

// WithDefaultCosts sets fee and slippage for strategies that do not set their own.
func WithDefaultCosts(feePct, slippagePct float64) Option {
	return func(e *Engine) {
		e.feePct = feePct
		e.slippagePct = slippagePct
	}
}

// WithDefaultInterval sets the interval for strategies and ticks that carry none.
func WithDefaultInterval(interval string) Option {
	return func(e *Engine) { e.interval = interval }
}

// WithObserver reports evaluation timings.
func WithObserver(o EvalObserver) Option {
	return func(e *Engine) { e.observer = o }
}

// NewEngine builds an engine feeding decisions into proc.
func NewEngine(ind *indicators.Engine, proc Processor, bus *events.Bus, log zerolog.Logger, opts ...Option) *Engine {
	e := &Engine{
		strategies: make(map[string]*instance),
		ind:        ind,
		proc:       proc,
		bus:        bus,
		log:        log,
		interval:   market.DefaultInterval,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) stream(symbol, interval string) market.Subscription {
	if interval == "" {
		interval = e.interval
	}
	return market.Subscription{Symbol: symbol, Interval: interval}.Normalize()
}

// Load replaces the loaded set with the active configs.
func (e *Engine) Load(configs []Config) error {
	next := make(map[string]*instance, len(configs))
	for _, cfg := range configs {
		if !cfg.IsActive {
			continue
		}
		inst, err := e.build(cfg)
		if err != nil {
			return err
		}
		next[cfg.ID] = inst
	}
	e.mu.Lock()
	e.strategies = next
	e.mu.Unlock()
	e.log.Info().Int("count", len(next)).Msg("strategies loaded")
	return nil
}

func (e *Engine) build(cfg Config) (*instance, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	sub := e.stream(cfg.Symbol, cfg.Interval)
	cfg.Symbol, cfg.Interval = sub.Symbol, sub.Interval
	def, _ := cfg.Definition()
	g, err := graph.Compile(def)
	if err != nil {
		return nil, fmt.Errorf("compile strategy %s: %w", cfg.ID, err)
	}
	return &instance{cfg: cfg, stream: graph.NewStream(cfg.ID, g, e.bus)}, nil
}

// Add loads or replaces one strategy.
func (e *Engine) Add(cfg Config) error {
	inst, err := e.build(cfg)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.strategies[cfg.ID] = inst
	e.mu.Unlock()
	return nil
}

// Remove unloads a strategy.
func (e *Engine) Remove(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.strategies[id]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownStrategy, id)
	}
	delete(e.strategies, id)
	return nil
}

// SetPaused pauses or resumes evaluation for a strategy.
func (e *Engine) SetPaused(id string, paused bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	inst, ok := e.strategies[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownStrategy, id)
	}
	inst.paused = paused
	return nil
}

// Subscriptions returns the distinct symbol and interval streams the loaded
// strategies evaluate on.
func (e *Engine) Subscriptions() []market.Subscription {
	e.mu.RLock()
	subs := make([]market.Subscription, 0, len(e.strategies))
	for _, inst := range e.strategies {
		subs = append(subs, market.Subscription{Symbol: inst.cfg.Symbol, Interval: inst.cfg.Interval})
	}
	e.mu.RUnlock()
	return market.MergeSubscriptions(subs)
}

// Status lists loaded strategies ordered by id.
func (e *Engine) Status() []Status {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Status, 0, len(e.strategies))
	for _, inst := range e.strategies {
		out = append(out, Status{
			ID:           inst.cfg.ID,
			Name:         inst.cfg.Name,
			Symbol:       inst.cfg.Symbol,
			Interval:     inst.cfg.Interval,
			Active:       inst.cfg.IsActive,
			Paused:       inst.paused,
			Intrabar:     inst.cfg.Intrabar,
			Nodes:        inst.stream.Graph().Nodes(),
			Evaluations:  inst.evaluations,
			LastDecision: inst.lastDecision,
			LastEval:     inst.lastEval,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Warmup seeds up to bars candles of history for every loaded stream. The
// lookback is measured in each stream's own interval. Load failures are
// logged and skipped.
func (e *Engine) Warmup(ctx context.Context, loader HistoryLoader, bars int) {
	now := time.Now()
	for _, sub := range e.Subscriptions() {
		lookback := time.Duration(bars) * market.IntervalDuration(sub.Interval)
		history, err := loader.Load(ctx, sub.Symbol, sub.Interval, now.Add(-lookback), now)
		if err != nil {
			e.log.Warn().Err(err).Str("stream", sub.String()).Msg("warm-up history unavailable")
			continue
		}
		e.ind.Seed(sub, history)
		e.log.Info().Str("stream", sub.String()).Int("bars", history.Len()).Msg("warmed up")
	}
}

// Start subscribes to price ticks. Ticks are handled one at a time, so
// decisions reach the processor in arrival order. The returned function
// stops the subscription and waits for the in-flight tick.
func (e *Engine) Start(ctx context.Context) func() {
	return e.bus.Handle(events.EventPriceTick, "strategy.engine", 1024, func(payload any) error {
		tick, ok := payload.(market.Tick)
		if !ok {
			return nil
		}
		return e.HandleTick(ctx, tick)
	})
}

// HandleTick updates indicator state and evaluates the strategies on the
// tick's symbol and interval.
func (e *Engine) HandleTick(ctx context.Context, tick market.Tick) error {
	sub := e.stream(tick.Symbol, tick.Interval)
	tick.Symbol, tick.Interval = sub.Symbol, sub.Interval
	snap := e.ind.Update(tick)

	e.mu.Lock()
	var work []decision.Input
	for _, inst := range e.strategies {
		if inst.paused || inst.cfg.Symbol != sub.Symbol || inst.cfg.Interval != sub.Interval {
			continue
		}
		if !tick.Final && !inst.cfg.Intrabar {
			continue
		}
		start := time.Now()
		res := inst.stream.Evaluate(snap)
		if e.observer != nil {
			e.observer.ObserveEvaluation(time.Since(start))
		}
		inst.evaluations++
		inst.lastDecision = res.Decision
		inst.lastEval = snap.Time
		if res.Decision == decision.Hold {
			continue
		}
		fee, slip := inst.cfg.costs(e.feePct, e.slippagePct)
		work = append(work, decision.Input{
			StrategyID:  inst.cfg.ID,
			Symbol:      tick.Symbol,
			Signal:      string(res.Decision),
			Price:       snap.Close,
			Time:        snap.Time,
			FeePct:      fee,
			SlippagePct: slip,
			Source:      SourceStrategy,
		})
	}
	e.mu.Unlock()

	sort.Slice(work, func(i, j int) bool { return work[i].StrategyID < work[j].StrategyID })

	var errs []error
	for _, in := range work {
		if e.bus != nil {
			e.bus.Publish(events.EventStrategySignal, Signal{
				StrategyID: in.StrategyID,
				Symbol:     in.Symbol,
				Decision:   decision.Decision(in.Signal),
				Price:      in.Price,
				Time:       in.Time,
			})
		}
		res, err := e.proc.Process(ctx, in)
		if err != nil {
			errs = append(errs, fmt.Errorf("strategy %s: %w", in.StrategyID, err))
			continue
		}
		if res.Action != trade.ActionIgnored {
			e.log.Info().
				Str("strategy_id", in.StrategyID).
				Str("signal", in.Signal).
				Float64("price", in.Price).
				Str("action", string(res.Action)).
				Msg("strategy decision applied")
		}
	}
	return errors.Join(errs...)
}
