package indicators

import "math"

// StochasticResult holds the smoothed %K and %D lines.
type StochasticResult struct {
	K []float64
	D []float64
}

// Stochastic computes the stochastic oscillator. Raw %K is 50 when the
// window has no range.
func Stochastic(highs, lows, closes []float64, period, smoothK, smoothD int) StochasticResult {
	n := minLen(highs, lows, closes)
	raw := undefinedSeries(n)
	if period > 0 {
		for i := period - 1; i < n; i++ {
			hh, ll := math.Inf(-1), math.Inf(1)
			for j := i - period + 1; j <= i; j++ {
				hh = math.Max(hh, highs[j])
				ll = math.Min(ll, lows[j])
			}
			if hh == ll {
				raw[i] = 50
				continue
			}
			raw[i] = 100 * (closes[i] - ll) / (hh - ll)
		}
	}

	k := raw
	if smoothK > 1 {
		k = SMA(raw, smoothK)
	}
	d := k
	if smoothD > 1 {
		d = SMA(k, smoothD)
	}
	return StochasticResult{K: k, D: d}
}

// ATR computes the Wilder-smoothed average true range.
func ATR(highs, lows, closes []float64, period int) []float64 {
	n := minLen(highs, lows, closes)
	out := undefinedSeries(n)
	if period <= 0 || n < period {
		return out
	}

	tr := make([]float64, n)
	tr[0] = highs[0] - lows[0]
	for i := 1; i < n; i++ {
		tr[i] = math.Max(highs[i]-lows[i], math.Max(math.Abs(highs[i]-closes[i-1]), math.Abs(lows[i]-closes[i-1])))
	}

	atr := 0.0
	for _, v := range tr[:period] {
		atr += v
	}
	atr /= float64(period)
	out[period-1] = atr

	p := float64(period)
	for i := period; i < n; i++ {
		atr = (atr*(p-1) + tr[i]) / p
		out[i] = atr
	}
	return out
}

func minLen(series ...[]float64) int {
	if len(series) == 0 {
		return 0
	}
	n := len(series[0])
	for _, s := range series[1:] {
		n = min(n, len(s))
	}
	return n
}
