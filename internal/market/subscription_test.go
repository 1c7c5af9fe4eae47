package market

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIntervalDuration(t *testing.T) {
	cases := map[string]time.Duration{
		"1m":  time.Minute,
		"15m": 15 * time.Minute,
		"4h":  4 * time.Hour,
		"1d":  24 * time.Hour,
		"1w":  7 * 24 * time.Hour,
		"":    time.Minute,
		"xm":  time.Minute,
		"5y":  time.Minute,
	}
	for in, want := range cases {
		assert.Equal(t, want, IntervalDuration(in), in)
	}
}

func TestMergeSubscriptions(t *testing.T) {
	got := MergeSubscriptions(
		[]Subscription{{Symbol: "ethusdt", Interval: "5m"}, {Symbol: "BTCUSDT"}},
		[]Subscription{{Symbol: "BTCUSDT", Interval: "1m"}, {Symbol: ""}, {Symbol: "ETHUSDT", Interval: "1m"}},
	)
	assert.Equal(t, []Subscription{
		{Symbol: "BTCUSDT", Interval: "1m"},
		{Symbol: "ETHUSDT", Interval: "1m"},
		{Symbol: "ETHUSDT", Interval: "5m"},
	}, got)
	assert.Equal(t, "ETHUSDT@5m", got[2].String())
}
