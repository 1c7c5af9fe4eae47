package indicators

// OBV is on-balance volume starting from zero.
func OBV(closes, volumes []float64) []float64 {
	n := minLen(closes, volumes)
	out := make([]float64, n)
	for i := 1; i < n; i++ {
		switch {
		case closes[i] > closes[i-1]:
			out[i] = out[i-1] + volumes[i]
		case closes[i] < closes[i-1]:
			out[i] = out[i-1] - volumes[i]
		default:
			out[i] = out[i-1]
		}
	}
	return out
}

// VWAP is the cumulative volume weighted average price. Negative volume is
// treated as zero and bars with an undefined price or volume are skipped;
// entries stay undefined until some volume has traded.
func VWAP(prices, volumes []float64) []float64 {
	n := minLen(prices, volumes)
	out := undefinedSeries(n)
	pv, vol := 0.0, 0.0
	for i := 0; i < n; i++ {
		if !IsDefined(prices[i]) || !IsDefined(volumes[i]) {
			if vol > 0 {
				out[i] = pv / vol
			}
			continue
		}
		v := max(volumes[i], 0)
		pv += prices[i] * v
		vol += v
		if vol > 0 {
			out[i] = pv / vol
		}
	}
	return out
}

// VolumeSpike flags bars whose volume exceeds multiplier times the mean of
// the preceding period bars.
func VolumeSpike(volumes []float64, period int, multiplier float64) []bool {
	out := make([]bool, len(volumes))
	if period <= 0 {
		return out
	}
	sum := 0.0
	for i, v := range volumes {
		if i >= period {
			out[i] = v > multiplier*(sum/float64(period))
			sum -= volumes[i-period]
		}
		sum += v
	}
	return out
}
