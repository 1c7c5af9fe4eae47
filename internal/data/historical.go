// Package data loads historical bars from the exchange REST API.
package data

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"signal-core/internal/market"
	"signal-core/pkg/market/binance"
)

const maxKlinesPerRequest = 1000

// HistoricalDataService pages through klines and returns closed bars.
type HistoricalDataService struct {
	client *binance.MarketDataClient
	log    zerolog.Logger
	now    func() time.Time
}

// NewHistoricalDataService creates a new service instance.
func NewHistoricalDataService(client *binance.MarketDataClient, log zerolog.Logger) *HistoricalDataService {
	return &HistoricalDataService{client: client, log: log, now: time.Now}
}

// Load returns the closed bars of symbol opening within [from, to].
func (s *HistoricalDataService) Load(ctx context.Context, symbol, timeframe string, from, to time.Time) (market.Bars, error) {
	var bars market.Bars
	nowMs := s.now().UnixMilli()
	start := from
	for {
		klines, err := s.client.Klines(ctx, symbol, timeframe, start, to, maxKlinesPerRequest)
		if err != nil {
			return market.Bars{}, err
		}
		for _, k := range klines {
			if k.CloseTime >= nowMs {
				continue // still forming
			}
			bars = bars.Append(market.Bar{
				Time:   time.UnixMilli(k.OpenTime).UTC(),
				Open:   k.Open,
				High:   k.High,
				Low:    k.Low,
				Close:  k.Close,
				Volume: k.Volume,
			}, 0)
		}
		if len(klines) < maxKlinesPerRequest {
			break
		}
		start = time.UnixMilli(klines[len(klines)-1].OpenTime + 1)
		if !to.IsZero() && start.After(to) {
			break
		}
	}
	s.log.Debug().Str("symbol", symbol).Int("bars", bars.Len()).Msg("history loaded")
	return bars, nil
}
