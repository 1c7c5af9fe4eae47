package trade

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signal-core/internal/decision"
	"signal-core/internal/events"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func newTestEngine(opts ...Option) (*Engine, *MemoryStore) {
	store := NewMemoryStore()
	return NewEngine(store, zerolog.Nop(), opts...), store
}

func sig(id, s string, price float64, minute int) decision.Input {
	return decision.Input{StrategyID: id, Signal: s, Price: price, Time: t0.Add(time.Duration(minute) * time.Minute)}
}

func process(t *testing.T, e *Engine, in decision.Input) Result {
	t.Helper()
	res, err := e.Process(context.Background(), in)
	require.NoError(t, err)
	return res
}

func TestPnLScenario(t *testing.T) {
	assert.InDelta(t, 3.5714, GrossPct(Long, 420, 435), 1e-4)
	assert.InDelta(t, 1.6092, GrossPct(Short, 435, 428), 1e-4)
	assert.Equal(t, 0.0, GrossPct(Flat, 435, 428))

	e, _ := newTestEngine()
	process(t, e, decision.Input{StrategyID: "s", Signal: "BUY", Price: 420, Time: t0})
	res := process(t, e, decision.Input{StrategyID: "s", Signal: "SELL", Price: 435, Time: t0.Add(time.Hour), FeePct: 0.1, SlippagePct: 0.05})
	require.NotNil(t, res.CompletedTrade)
	ct := res.CompletedTrade
	assert.Equal(t, Long, ct.OpenSide)
	assert.InDelta(t, 3.5714, ct.GrossPct, 1e-4)
	assert.InDelta(t, 0.15, ct.FeePctTotal, 1e-12)
	assert.InDelta(t, ct.GrossPct-0.15, ct.NetPct, 1e-12)

	res = process(t, e, decision.Input{StrategyID: "s", Signal: "BUY", Price: 428, Time: t0.Add(2 * time.Hour)})
	assert.Equal(t, Short, res.CompletedTrade.OpenSide)
	assert.InDelta(t, 1.6092, res.CompletedTrade.GrossPct, 1e-4)
	assert.Equal(t, res.CompletedTrade.GrossPct, res.CompletedTrade.NetPct)
}

func TestAlternatingSignalsProduceKMinusOneTrades(t *testing.T) {
	for _, k := range []int{2, 3, 7, 20} {
		t.Run(fmt.Sprint(k), func(t *testing.T) {
			e, _ := newTestEngine()
			for i := 0; i < k; i++ {
				s := "BUY"
				if i%2 == 1 {
					s = "SELL"
				}
				process(t, e, sig("alt", s, 100+float64(i), i))
			}
			trades, err := e.Trades(context.Background(), TradeFilter{})
			require.NoError(t, err)
			require.Len(t, trades, k-1)
			for i, tr := range trades {
				want := Long
				if i%2 == 1 {
					want = Short
				}
				assert.Equal(t, want, tr.OpenSide)
				assert.Equal(t, int64(i+1), tr.Seq)
			}
		})
	}
}

func TestDuplicateSignalIgnored(t *testing.T) {
	e, _ := newTestEngine()
	ctx := context.Background()
	process(t, e, sig("s", "BUY", 100, 0))
	before, _, err := e.Position(ctx, "s")
	require.NoError(t, err)

	res := process(t, e, sig("s", "BUY", 120, 1))
	assert.True(t, res.Accepted)
	assert.Equal(t, ActionIgnored, res.Action)
	assert.Equal(t, ReasonDuplicateSignal, res.Reason)
	assert.Nil(t, res.CompletedTrade)

	after, ok, err := e.Position(ctx, "s")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, before, after)
	trades, _ := e.Trades(ctx, TradeFilter{})
	assert.Empty(t, trades)
}

func TestHoldAndRejections(t *testing.T) {
	e, store := newTestEngine()

	res := process(t, e, sig("s", "HOLD", 100, 0))
	assert.Equal(t, ActionIgnored, res.Action)
	assert.Equal(t, ReasonHold, res.Reason)

	tests := []struct {
		in     decision.Input
		reason string
	}{
		{sig("s", "LONG", 100, 0), decision.ReasonInvalidSignal},
		{sig("s", "BUY", 0, 0), decision.ReasonInvalidPrice},
		{sig("s", "BUY", -5, 0), decision.ReasonInvalidPrice},
		{sig("", "BUY", 100, 0), decision.ReasonMissingStrategyID},
		{decision.Input{StrategyID: "s", Signal: "BUY", Price: 1, FeePct: -1}, decision.ReasonInvalidFee},
	}
	for _, tt := range tests {
		res := process(t, e, tt.in)
		assert.False(t, res.Accepted)
		assert.Equal(t, ActionRejected, res.Action)
		assert.Equal(t, tt.reason, res.Reason)
	}
	positions, _ := store.ListPositions(context.Background())
	assert.Empty(t, positions)
}

func TestOpenReportsPosition(t *testing.T) {
	e, _ := newTestEngine()
	res := process(t, e, sig("s", "SELL", 250, 0))
	assert.Equal(t, ActionOpened, res.Action)
	require.NotNil(t, res.Opened)
	assert.Equal(t, Opened{Side: Short, EntryPrice: 250}, *res.Opened)
}

func TestMissingTimestampUsesClock(t *testing.T) {
	fixed := t0.Add(42 * time.Minute)
	e, _ := newTestEngine(WithClock(func() time.Time { return fixed }))
	process(t, e, decision.Input{StrategyID: "s", Signal: "BUY", Price: 10})
	p, ok, err := e.Position(context.Background(), "s")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, fixed, p.EntryTime)
}

func TestStrategyIsolationUnderConcurrency(t *testing.T) {
	e, _ := newTestEngine()
	ctx := context.Background()

	const perStrategy = 200
	ids := []string{"A", "B", "C", "D"}
	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			r := rand.New(rand.NewPCG(uint64(len(id)), uint64(id[0])))
			for i := 0; i < perStrategy; i++ {
				s := "BUY"
				if r.IntN(2) == 0 {
					s = "SELL"
				}
				_, err := e.Process(ctx, sig(id, s, 50+r.Float64()*10, i))
				assert.NoError(t, err)
			}
		}(id)
	}
	wg.Wait()

	for _, id := range ids {
		trades, err := e.Trades(ctx, TradeFilter{StrategyID: id})
		require.NoError(t, err)
		for i, tr := range trades {
			assert.Equal(t, id, tr.StrategyID)
			if i > 0 {
				// each trade opens where the previous one closed
				assert.Equal(t, trades[i-1].ExitPrice, tr.EntryPrice)
				assert.NotEqual(t, trades[i-1].OpenSide, tr.OpenSide)
			}
		}
		p, ok, err := e.Position(ctx, id)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, id, p.StrategyID)
		if len(trades) > 0 {
			assert.Equal(t, trades[len(trades)-1].ExitPrice, p.EntryPrice)
		}
	}
	assert.Equal(t, 0, e.locks.size())
}

func TestSignalsForOneStrategyLeaveOthersUntouched(t *testing.T) {
	e, _ := newTestEngine()
	ctx := context.Background()
	process(t, e, sig("B", "SELL", 10, 0))
	before, _, _ := e.Position(ctx, "B")

	for i, s := range []string{"BUY", "SELL", "BUY", "BUY", "HOLD", "SELL"} {
		process(t, e, sig("A", s, float64(20+i), i))
	}
	after, ok, _ := e.Position(ctx, "B")
	require.True(t, ok)
	assert.Equal(t, before, after)
	bTrades, _ := e.Trades(ctx, TradeFilter{StrategyID: "B"})
	assert.Empty(t, bTrades)
}

func TestAnalyticsCacheInvalidation(t *testing.T) {
	e, _ := newTestEngine()
	ctx := context.Background()

	o, err := e.Analytics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, o.Metrics.TradeCount)

	process(t, e, sig("s", "BUY", 100, 0))
	process(t, e, sig("s", "SELL", 110, 1))
	o, err = e.Analytics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, o.Metrics.TradeCount)
	assert.True(t, o.Metrics.ProfitFactor.Infinite())

	process(t, e, sig("s", "BUY", 120, 2))
	o, _ = e.Analytics(ctx)
	assert.Equal(t, 2, o.Metrics.TradeCount)
	assert.Equal(t, 2, o.ByStrategy["s"].TradeCount)

	require.NoError(t, e.Reset(ctx))
	o, _ = e.Analytics(ctx)
	assert.Equal(t, 0, o.Metrics.TradeCount)
	positions, _ := e.Positions(ctx)
	assert.Empty(t, positions)
}

func TestClosePosition(t *testing.T) {
	e, _ := newTestEngine()
	ctx := context.Background()

	res, err := e.ClosePosition(ctx, "s", 100, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, ReasonNoPosition, res.Reason)

	process(t, e, sig("s", "BUY", 100, 0))
	res, err = e.ClosePosition(ctx, "s", 105, 0.1, 0)
	require.NoError(t, err)
	assert.Equal(t, ActionClosed, res.Action)
	require.NotNil(t, res.CompletedTrade)
	assert.InDelta(t, 4.9, res.CompletedTrade.NetPct, 1e-9)

	_, ok, _ := e.Position(ctx, "s")
	assert.False(t, ok)

	res, err = e.ClosePosition(ctx, "s", 0, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, ActionRejected, res.Action)
}

type recordingJournal struct {
	mu      sync.Mutex
	entries []JournalEntry
}

func (j *recordingJournal) Record(e JournalEntry) {
	j.mu.Lock()
	j.entries = append(j.entries, e)
	j.mu.Unlock()
}

type countingMetrics struct {
	mu     sync.Mutex
	counts map[Action]int
}

func (m *countingMetrics) ObserveSignal(a Action, _ float64) {
	m.mu.Lock()
	m.counts[a]++
	m.mu.Unlock()
}

func TestEventsJournalAndMetrics(t *testing.T) {
	bus := events.NewBus()
	changes, unsub := bus.Subscribe(events.EventPositionChange, 8)
	defer unsub()
	completed, unsub2 := bus.Subscribe(events.EventTradeCompleted, 8)
	defer unsub2()

	j := &recordingJournal{}
	m := &countingMetrics{counts: map[Action]int{}}
	e, _ := newTestEngine(WithBus(bus), WithJournal(j), WithMetrics(m))

	process(t, e, sig("s", "BUY", 100, 0))
	process(t, e, sig("s", "SELL", 90, 1))
	process(t, e, sig("s", "NOPE", 90, 2))

	first := (<-changes).(PositionChange)
	assert.Equal(t, Flat, first.From)
	assert.Equal(t, Long, first.To)
	second := (<-changes).(PositionChange)
	assert.Equal(t, Long, second.From)
	assert.Equal(t, Short, second.To)

	tr := (<-completed).(CompletedTrade)
	assert.InDelta(t, -10.0, tr.GrossPct, 1e-9)

	require.Len(t, j.entries, 3)
	assert.Equal(t, ActionRejected, j.entries[2].Action)
	assert.Equal(t, 1, m.counts[ActionOpened])
	assert.Equal(t, 1, m.counts[ActionClosedAndOpened])
	assert.Equal(t, 1, m.counts[ActionRejected])
}
