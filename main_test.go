package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"signal-core/internal/market"
)

func TestFeedSubscriptions(t *testing.T) {
	got := market.MergeSubscriptions(
		feedSubscriptions([]string{"BTCUSDT", "ethusdt", ""}, "1m"),
		[]market.Subscription{{Symbol: "ETHUSDT", Interval: "1m"}, {Symbol: "ETHUSDT", Interval: "4h"}},
	)
	assert.Equal(t, []market.Subscription{
		{Symbol: "BTCUSDT", Interval: "1m"},
		{Symbol: "ETHUSDT", Interval: "1m"},
		{Symbol: "ETHUSDT", Interval: "4h"},
	}, got)
}
