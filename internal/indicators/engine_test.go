package indicators

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signal-core/internal/market"
)

func tick(symbol string, minute int, close float64) market.Tick {
	return market.Tick{
		Symbol:   symbol,
		Interval: "1m",
		Bar: market.Bar{
			Time:   time.Unix(int64(minute)*60, 0).UTC(),
			Open:   close,
			High:   close,
			Low:    close,
			Close:  close,
			Volume: 1,
		},
	}
}

func TestEngineKeepsBoundedWindow(t *testing.T) {
	e := NewEngine(3)
	var snap market.Snapshot
	for i := 0; i < 5; i++ {
		snap = e.Update(tick("BTC", i, float64(i)))
	}
	assert.Equal(t, 3, snap.History.Len())
	assert.Equal(t, []float64{2, 3, 4}, snap.History.Close)
	assert.Equal(t, 4.0, snap.Close)
}

func TestEngineReplacesOpenBar(t *testing.T) {
	e := NewEngine(10)
	e.Update(tick("BTC", 0, 1))
	first := e.Update(tick("BTC", 1, 2))
	second := e.Update(tick("BTC", 1, 3))

	assert.Equal(t, 2, second.History.Len())
	assert.Equal(t, 3.0, second.Close)
	// earlier snapshots are not mutated
	assert.Equal(t, 2.0, first.History.Close[1])
}

func sub(symbol, interval string) market.Subscription {
	return market.Subscription{Symbol: symbol, Interval: interval}
}

func TestEngineSymbolsIsolated(t *testing.T) {
	e := NewEngine(10)
	e.Seed(sub("eth", "1m"), market.Bars{Open: []float64{1}, High: []float64{1}, Low: []float64{1}, Close: []float64{1}, Volume: []float64{1}})

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			e.Update(tick("BTC", i, float64(i)))
		}(i)
	}
	wg.Wait()

	btc, ok := e.Snapshot(sub("BTC", "1m"))
	require.True(t, ok)
	assert.Equal(t, 4, btc.History.Len())
	assert.Equal(t, "BTC", btc.Symbol)
	eth, ok := e.Snapshot(sub("ETH", ""))
	require.True(t, ok)
	assert.Equal(t, 1, eth.History.Len())
	assert.Equal(t, []market.Subscription{sub("BTC", "1m"), sub("ETH", "1m")}, e.Streams())

	_, ok = e.Snapshot(sub("SOL", "1m"))
	assert.False(t, ok)
}

func TestEngineIntervalsIsolated(t *testing.T) {
	e := NewEngine(10)
	e.Update(tick("BTC", 0, 1))
	e.Update(tick("BTC", 1, 2))
	five := tick("BTC", 0, 10)
	five.Interval = "5m"
	snap := e.Update(five)

	assert.Equal(t, 1, snap.History.Len())
	assert.Equal(t, 10.0, snap.Close)
	one, ok := e.Snapshot(sub("BTC", "1m"))
	require.True(t, ok)
	assert.Equal(t, []float64{1, 2}, one.History.Close)
}
