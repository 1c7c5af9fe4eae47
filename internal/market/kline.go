package market

import (
	"encoding/json"
	"errors"
	"strconv"
	"time"
)

// Tick is one price update pushed by a feed.
type Tick struct {
	Symbol   string `json:"symbol"`
	Interval string `json:"interval,omitempty"`
	Bar      Bar    `json:"bar"`
	// Final is set when the candle closed with this update.
	Final bool `json:"final"`
}

var errNoKline = errors.New("message carries no kline payload")

type klinePayload struct {
	StartTime int64  `json:"t"`
	Symbol    string `json:"s"`
	Interval  string `json:"i"`
	Open      any    `json:"o"`
	Close     any    `json:"c"`
	High      any    `json:"h"`
	Low       any    `json:"l"`
	Volume    any    `json:"v"`
	Closed    bool   `json:"x"`
}

type klineEvent struct {
	Symbol string        `json:"s"`
	Kline  *klinePayload `json:"k"`
}

// ParseKline decodes a kline stream message, either raw or wrapped in a
// combined-stream envelope.
func ParseKline(msg []byte) (Tick, error) {
	var raw struct {
		klineEvent
		Data *klineEvent `json:"data"`
	}
	if err := json.Unmarshal(msg, &raw); err != nil {
		return Tick{}, err
	}
	ev := raw.klineEvent
	if raw.Data != nil {
		ev = *raw.Data
	}
	if ev.Kline == nil {
		return Tick{}, errNoKline
	}
	k := ev.Kline
	symbol := k.Symbol
	if symbol == "" {
		symbol = ev.Symbol
	}
	return Tick{
		Symbol:   symbol,
		Interval: k.Interval,
		Bar: Bar{
			Time:   time.UnixMilli(k.StartTime).UTC(),
			Open:   toFloat(k.Open),
			High:   toFloat(k.High),
			Low:    toFloat(k.Low),
			Close:  toFloat(k.Close),
			Volume: toFloat(k.Volume),
		},
		Final: k.Closed,
	}, nil
}

// Subscription is the stream the tick belongs to.
func (t Tick) Subscription() Subscription {
	return Subscription{Symbol: t.Symbol, Interval: t.Interval}.Normalize()
}

func toFloat(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case string:
		f, _ := strconv.ParseFloat(t, 64)
		return f
	case json.Number:
		f, _ := t.Float64()
		return f
	}
	return 0
}
