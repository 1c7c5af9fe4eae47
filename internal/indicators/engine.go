package indicators

import (
	"sync"

	"signal-core/internal/market"
)

const defaultWindow = 500

// Engine maintains a bounded bar window per symbol and interval for live
// evaluation.
type Engine struct {
	mu     sync.Mutex
	bars   map[market.Subscription]market.Bars
	window int
}

// NewEngine builds an engine keeping at most window bars per stream.
func NewEngine(window int) *Engine {
	if window <= 0 {
		window = defaultWindow
	}
	return &Engine{
		bars:   make(map[market.Subscription]market.Bars),
		window: window,
	}
}

// Seed replaces the stored history for sub, keeping the newest bars.
func (e *Engine) Seed(sub market.Subscription, history market.Bars) {
	history = history.Clone()
	if n := history.Len(); n > e.window {
		history = sliceFrom(history, n-e.window)
	}
	e.mu.Lock()
	e.bars[sub.Normalize()] = history
	e.mu.Unlock()
}

// Update ingests a tick and returns the snapshot ending at it. A tick with
// the same open time as the last bar updates that bar in place.
func (e *Engine) Update(tick market.Tick) market.Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	sub := tick.Subscription()
	arr := e.bars[sub]
	n := arr.Len()
	ts := tick.Bar.Time.UnixMilli()
	if n > 0 && len(arr.Timestamp) == n && arr.Timestamp[n-1] == ts {
		arr = arr.Clone()
		arr.Open[n-1] = tick.Bar.Open
		arr.High[n-1] = tick.Bar.High
		arr.Low[n-1] = tick.Bar.Low
		arr.Close[n-1] = tick.Bar.Close
		arr.Volume[n-1] = tick.Bar.Volume
	} else {
		arr = arr.Append(tick.Bar, e.window)
	}
	e.bars[sub] = arr

	return arr.Snapshot(sub.Symbol, arr.Len()-1)
}

// Snapshot returns the latest snapshot for sub.
func (e *Engine) Snapshot(sub market.Subscription) (market.Snapshot, bool) {
	sub = sub.Normalize()
	e.mu.Lock()
	defer e.mu.Unlock()
	arr, ok := e.bars[sub]
	if !ok || arr.Len() == 0 {
		return market.Snapshot{}, false
	}
	return arr.Snapshot(sub.Symbol, arr.Len()-1), true
}

// Streams lists the streams with history.
func (e *Engine) Streams() []market.Subscription {
	e.mu.Lock()
	subs := make([]market.Subscription, 0, len(e.bars))
	for sub := range e.bars {
		subs = append(subs, sub)
	}
	e.mu.Unlock()
	return market.MergeSubscriptions(subs)
}

func sliceFrom(b market.Bars, from int) market.Bars {
	out := market.Bars{
		Open:   b.Open[from:],
		High:   b.High[from:],
		Low:    b.Low[from:],
		Close:  b.Close[from:],
		Volume: b.Volume[from:],
	}
	if len(b.Timestamp) > 0 {
		out.Timestamp = b.Timestamp[from:]
	}
	return out
}
