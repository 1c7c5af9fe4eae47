package market

import (
	"context"
	"math/rand/v2"
	"time"
)

// MockSource generates a synthetic random walk for local development.
type MockSource struct {
	Subscriptions []Subscription
	StartPrice    float64
	Step          float64
	// Interval is the wall-clock emission period.
	Interval time.Duration
}

func (m *MockSource) Name() string { return "mock" }

// Stream emits one bar per subscription every interval until ctx is done.
func (m *MockSource) Stream(ctx context.Context, emit func(Tick)) error {
	subs := MergeSubscriptions(m.Subscriptions)
	if len(subs) == 0 {
		subs = []Subscription{{Symbol: "BTCUSDT", Interval: DefaultInterval}}
	}
	price := m.StartPrice
	if price == 0 {
		price = 100.0
	}
	step := m.Step
	if step == 0 {
		step = 0.5
	}
	interval := m.Interval
	if interval == 0 {
		interval = time.Second
	}

	prices := make(map[Subscription]float64, len(subs))
	for _, sub := range subs {
		prices[sub] = price
	}

	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-t.C:
			for _, sub := range subs {
				open := prices[sub]
				next := open + (rand.Float64()*2-1)*step
				if next <= 0 {
					next = open
				}
				prices[sub] = next
				emit(Tick{
					Symbol:   sub.Symbol,
					Interval: sub.Interval,
					Bar: Bar{
						Time:   now.UTC(),
						Open:   open,
						High:   max(open, next),
						Low:    min(open, next),
						Close:  next,
						Volume: 1 + rand.Float64()*10,
					},
					Final: true,
				})
			}
		}
	}
}
