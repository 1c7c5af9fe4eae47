package indicators

import "math"

// MACDResult holds the three MACD lines.
type MACDResult struct {
	MACD      []float64
	Signal    []float64
	Histogram []float64
}

// MACD computes fast EMA minus slow EMA, its signal EMA and the histogram.
func MACD(values []float64, fast, slow, signal int) MACDResult {
	fastEMA := EMA(values, fast)
	slowEMA := EMA(values, slow)

	line := undefinedSeries(len(values))
	for i := range values {
		if IsDefined(fastEMA[i]) && IsDefined(slowEMA[i]) {
			line[i] = fastEMA[i] - slowEMA[i]
		}
	}

	sig := emaFrom(line, signal, firstDefined(line))
	hist := undefinedSeries(len(values))
	for i := range values {
		if IsDefined(line[i]) && IsDefined(sig[i]) {
			hist[i] = line[i] - sig[i]
		}
	}
	return MACDResult{MACD: line, Signal: sig, Histogram: hist}
}

// BandsResult holds Bollinger bands.
type BandsResult struct {
	Upper  []float64
	Middle []float64
	Lower  []float64
}

// Bollinger computes an SMA middle band with bands k population standard
// deviations away.
func Bollinger(values []float64, period int, k float64) BandsResult {
	res := BandsResult{
		Upper:  undefinedSeries(len(values)),
		Middle: SMA(values, period),
		Lower:  undefinedSeries(len(values)),
	}
	for i, mean := range res.Middle {
		if !IsDefined(mean) {
			continue
		}
		variance := 0.0
		for _, v := range values[i-period+1 : i+1] {
			d := v - mean
			variance += d * d
		}
		std := math.Sqrt(variance / float64(period))
		res.Upper[i] = mean + k*std
		res.Lower[i] = mean - k*std
	}
	return res
}
