package strategy

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signal-core/internal/decision"
	"signal-core/internal/events"
	"signal-core/internal/graph"
	"signal-core/internal/indicators"
	"signal-core/internal/market"
	"signal-core/internal/trade"
	"signal-core/pkg/db"
)

const strategiesYAML = `
strategies:
  - id: level
    name: Level breakout
    symbol: btcusdt
    interval: 1m
    is_active: true
    graph:
      nodes:
        - {id: px, type: price}
        - {id: above, type: compare, params: {operator: ">", value: 100}}
        - {id: below, type: compare, params: {operator: "<", value: 100}}
        - {id: buy, type: signal, params: {direction: BUY}}
        - {id: sell, type: signal, params: {direction: SELL}}
      connections:
        - {source: {node: px}, target: {node: above, port: a}}
        - {source: {node: px}, target: {node: below, port: a}}
        - {source: {node: above}, target: {node: buy, port: trigger}}
        - {source: {node: below}, target: {node: sell, port: trigger}}
  - id: cross
    name: MA cross
    type: ma_cross
    symbol: ETHUSDT
    interval: 5m
    parameters: {fast: 2, slow: 4}
    fee_pct: 0.2
    is_active: true
  - id: idle
    name: Disabled RSI
    type: rsi
    symbol: BTCUSDT
    interval: 1m
    is_active: false
`

type recorder struct {
	mu     sync.Mutex
	inputs []decision.Input
}

func (r *recorder) Process(_ context.Context, in decision.Input) (trade.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inputs = append(r.inputs, in)
	return trade.Result{Accepted: true, Action: trade.ActionOpened}, nil
}

func (r *recorder) all() []decision.Input {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]decision.Input(nil), r.inputs...)
}

var t0 = time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

func tick(symbol string, i int, close float64, final bool) market.Tick {
	return market.Tick{
		Symbol: symbol,
		Bar:    market.Bar{Time: t0.Add(time.Duration(i) * time.Minute), Open: close, High: close, Low: close, Close: close, Volume: 1},
		Final:  final,
	}
}

func loadEngine(t *testing.T, proc Processor, bus *events.Bus) *Engine {
	t.Helper()
	configs, err := ParseConfig([]byte(strategiesYAML))
	require.NoError(t, err)
	e := NewEngine(indicators.NewEngine(100), proc, bus, zerolog.Nop(), WithDefaultCosts(0.1, 0.05))
	require.NoError(t, e.Load(configs))
	return e
}

func TestParseConfig(t *testing.T) {
	configs, err := ParseConfig([]byte(strategiesYAML))
	require.NoError(t, err)
	require.Len(t, configs, 3)
	assert.NotNil(t, configs[0].Graph)
	assert.Equal(t, "ma_cross", configs[1].Type)
	require.NotNil(t, configs[1].FeePct)
	assert.Equal(t, 0.2, *configs[1].FeePct)

	_, err = ParseConfig([]byte(`
strategies:
  - {id: a, symbol: X, type: rsi}
  - {id: a, symbol: X, type: rsi}
`))
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = ParseConfig([]byte(`
strategies:
  - {id: a, symbol: X, type: unknown}
`))
	assert.Error(t, err)

	_, err = ParseConfig([]byte(`
strategies:
  - id: a
    symbol: X
    graph:
      nodes: [{id: n, type: sma, params: {period: 3}}]
`))
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.ErrorIs(t, err, graph.ErrNoOutput)
}

func TestTemplatesCompile(t *testing.T) {
	for _, name := range Templates() {
		def, err := Expand(name, nil)
		require.NoError(t, err, name)
		_, err = graph.Compile(def)
		require.NoError(t, err, name)
	}
}

func TestMACrossTemplateSignals(t *testing.T) {
	def, err := Expand("ma_cross", map[string]any{"fast": 1, "slow": 3})
	require.NoError(t, err)
	g, err := graph.Compile(def)
	require.NoError(t, err)

	var bars market.Bars
	var got []decision.Decision
	for i, c := range []float64{10, 10, 10, 9, 12, 12, 8} {
		bars = bars.Append(market.Bar{Time: t0.Add(time.Duration(i) * time.Minute), Close: c, Open: c, High: c, Low: c}, 0)
		got = append(got, g.Evaluate(bars.Snapshot("X", bars.Len()-1)).Decision)
	}
	// fast crosses above slow at 12, below at 8
	assert.Equal(t, decision.Buy, got[4])
	assert.Equal(t, decision.Sell, got[6])
	assert.Equal(t, decision.Hold, got[5])
}

func TestHandleTickSubmitsDecisions(t *testing.T) {
	rec := &recorder{}
	e := loadEngine(t, rec, events.NewBus())
	ctx := context.Background()

	require.NoError(t, e.HandleTick(ctx, tick("BTCUSDT", 0, 99, true)))
	// open candle: not evaluated
	require.NoError(t, e.HandleTick(ctx, tick("BTCUSDT", 1, 105, false)))
	require.NoError(t, e.HandleTick(ctx, tick("btcusdt", 1, 101, true)))
	// exactly at the level: HOLD, nothing submitted
	require.NoError(t, e.HandleTick(ctx, tick("BTCUSDT", 2, 100, true)))

	inputs := rec.all()
	require.Len(t, inputs, 2)
	assert.Equal(t, "SELL", inputs[0].Signal)
	assert.Equal(t, 99.0, inputs[0].Price)
	assert.Equal(t, "BUY", inputs[1].Signal)
	assert.Equal(t, 101.0, inputs[1].Price)
	assert.Equal(t, "BTCUSDT", inputs[1].Symbol)
	assert.Equal(t, 0.1, inputs[1].FeePct)
	assert.Equal(t, 0.05, inputs[1].SlippagePct)
	assert.Equal(t, SourceStrategy, inputs[1].Source)
	assert.True(t, t0.Add(time.Minute).Equal(inputs[1].Time))

	status := e.Status()
	require.Len(t, status, 2, "inactive strategies are not loaded")
	assert.Equal(t, "cross", status[0].ID)
	assert.Equal(t, uint64(3), status[1].Evaluations)
	assert.Equal(t, decision.Hold, status[1].LastDecision)
	assert.Equal(t, []market.Subscription{
		{Symbol: "BTCUSDT", Interval: "1m"},
		{Symbol: "ETHUSDT", Interval: "5m"},
	}, e.Subscriptions())
}

func TestPauseAndRemove(t *testing.T) {
	rec := &recorder{}
	e := loadEngine(t, rec, events.NewBus())
	ctx := context.Background()

	require.NoError(t, e.SetPaused("level", true))
	require.NoError(t, e.HandleTick(ctx, tick("BTCUSDT", 0, 99, true)))
	assert.Empty(t, rec.all())

	require.NoError(t, e.SetPaused("level", false))
	require.NoError(t, e.HandleTick(ctx, tick("BTCUSDT", 1, 99, true)))
	assert.Len(t, rec.all(), 1)

	assert.ErrorIs(t, e.SetPaused("missing", true), ErrUnknownStrategy)
	require.NoError(t, e.Remove("level"))
	assert.ErrorIs(t, e.Remove("level"), ErrUnknownStrategy)
}

func TestStartDrivesTradeEngine(t *testing.T) {
	bus := events.NewBus()
	engine := trade.NewEngine(trade.NewMemoryStore(), zerolog.Nop(), trade.WithBus(bus))
	e := loadEngine(t, engine, bus)

	signals, unsub := bus.Subscribe(events.EventStrategySignal, 8)
	defer unsub()

	stop := e.Start(context.Background())
	bus.Publish(events.EventPriceTick, tick("BTCUSDT", 0, 99, true))
	bus.Publish(events.EventPriceTick, tick("BTCUSDT", 1, 101, true))
	stop()

	ctx := context.Background()
	trades, err := engine.Trades(ctx, trade.TradeFilter{StrategyID: "level"})
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, trade.Short, trades[0].OpenSide)
	assert.InDelta(t, 0.15, trades[0].FeePctTotal, 1e-12)

	p, ok, err := engine.Position(ctx, "level")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, trade.Long, p.Side)

	sig := (<-signals).(Signal)
	assert.Equal(t, decision.Sell, sig.Decision)
}

func TestStrategiesOnlySeeTheirInterval(t *testing.T) {
	configs, err := ParseConfig([]byte(`
strategies:
  - {id: fast, symbol: BTCUSDT, interval: 1m, type: rsi, is_active: true}
  - {id: slow, symbol: BTCUSDT, interval: 5m, type: rsi, is_active: true}
`))
	require.NoError(t, err)
	ind := indicators.NewEngine(100)
	e := NewEngine(ind, &recorder{}, events.NewBus(), zerolog.Nop())
	require.NoError(t, e.Load(configs))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, e.HandleTick(ctx, tick("BTCUSDT", i, 100, true)))
	}
	slow := tick("BTCUSDT", 0, 100, true)
	slow.Interval = "5m"
	require.NoError(t, e.HandleTick(ctx, slow))

	status := e.Status()
	require.Len(t, status, 2)
	assert.Equal(t, uint64(3), status[0].Evaluations, "fast")
	assert.Equal(t, uint64(1), status[1].Evaluations, "slow")

	fast, ok := ind.Snapshot(market.Subscription{Symbol: "BTCUSDT", Interval: "1m"})
	require.True(t, ok)
	assert.Equal(t, 3, fast.History.Len())
}

type failingProcessor struct{}

func (failingProcessor) Process(context.Context, decision.Input) (trade.Result, error) {
	return trade.Result{}, errors.New("store down")
}

func TestHandleTickReportsProcessorErrors(t *testing.T) {
	e := loadEngine(t, failingProcessor{}, events.NewBus())
	err := e.HandleTick(context.Background(), tick("BTCUSDT", 0, 99, true))
	assert.ErrorContains(t, err, "store down")
}

type stubLoader struct {
	calls     []string
	lookbacks map[string]time.Duration
}

func (s *stubLoader) Load(_ context.Context, symbol, timeframe string, from, to time.Time) (market.Bars, error) {
	s.calls = append(s.calls, symbol+"/"+timeframe)
	if s.lookbacks == nil {
		s.lookbacks = map[string]time.Duration{}
	}
	s.lookbacks[symbol] = to.Sub(from)
	if symbol == "ETHUSDT" {
		return market.Bars{}, errors.New("no data")
	}
	var b market.Bars
	for i := 0; i < 5; i++ {
		b = b.Append(market.Bar{Time: t0.Add(time.Duration(i-5) * time.Minute), Close: 50}, 0)
	}
	return b, nil
}

func TestWarmupSeedsHistory(t *testing.T) {
	configs, err := ParseConfig([]byte(strategiesYAML))
	require.NoError(t, err)
	ind := indicators.NewEngine(100)
	e := NewEngine(ind, &recorder{}, events.NewBus(), zerolog.Nop())
	require.NoError(t, e.Load(configs))

	loader := &stubLoader{}
	e.Warmup(context.Background(), loader, 60)
	assert.ElementsMatch(t, []string{"BTCUSDT/1m", "ETHUSDT/5m"}, loader.calls)
	assert.Equal(t, time.Hour, loader.lookbacks["BTCUSDT"])
	assert.Equal(t, 5*time.Hour, loader.lookbacks["ETHUSDT"])

	snap, ok := ind.Snapshot(market.Subscription{Symbol: "BTCUSDT", Interval: "1m"})
	require.True(t, ok)
	assert.Equal(t, 5, snap.History.Len())
	_, ok = ind.Snapshot(market.Subscription{Symbol: "BTCUSDT", Interval: "5m"})
	assert.False(t, ok)
	_, ok = ind.Snapshot(market.Subscription{Symbol: "ETHUSDT", Interval: "5m"})
	assert.False(t, ok)
}

func TestSyncConfigToDBRoundTrip(t *testing.T) {
	ctx := context.Background()
	d, err := db.Open(":memory:")
	require.NoError(t, err)
	defer d.Close()

	configs, err := ParseConfig([]byte(strategiesYAML))
	require.NoError(t, err)
	require.NoError(t, SyncConfigToDB(ctx, d, configs, 0.1, 0.05))

	records, err := d.ListStrategies(ctx, true)
	require.NoError(t, err)
	require.Len(t, records, 2)

	byID := map[string]Config{}
	for _, rec := range records {
		cfg, err := FromRecord(rec)
		require.NoError(t, err)
		require.NoError(t, cfg.Validate())
		byID[cfg.ID] = cfg
	}
	assert.Equal(t, 0.2, *byID["cross"].FeePct)
	assert.Equal(t, 0.05, *byID["cross"].SlippagePct)
	assert.Len(t, byID["cross"].Graph.Nodes, 6)
}

func TestBundledStrategiesFile(t *testing.T) {
	configs, err := LoadConfig("../../strategies.yaml")
	require.NoError(t, err)
	require.Len(t, configs, 4)
	for _, c := range configs {
		def, err := c.Definition()
		require.NoError(t, err, c.ID)
		_, err = graph.Compile(def)
		require.NoError(t, err, c.ID)
	}
}
