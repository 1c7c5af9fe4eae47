package indicators

// RSI computes the Relative Strength Index with Wilder smoothing. The first
// value lands period bars after the first defined price.
func RSI(prices []float64, period int) []float64 {
	out := undefinedSeries(len(prices))
	start := firstDefined(prices)
	if period <= 0 || len(prices)-start < period+1 {
		return out
	}

	avgGain, avgLoss := 0.0, 0.0
	for i := start + 1; i <= start+period; i++ {
		gain, loss := split(prices[i] - prices[i-1])
		avgGain += gain
		avgLoss += loss
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)
	out[start+period] = rsiValue(avgGain, avgLoss)

	p := float64(period)
	for i := start + period + 1; i < len(prices); i++ {
		gain, loss := split(prices[i] - prices[i-1])
		avgGain = (avgGain*(p-1) + gain) / p
		avgLoss = (avgLoss*(p-1) + loss) / p
		out[i] = rsiValue(avgGain, avgLoss)
	}
	return out
}

func split(change float64) (gain, loss float64) {
	if change > 0 {
		return change, 0
	}
	return 0, -change
}

func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs))
}
