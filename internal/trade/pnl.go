package trade

// GrossPct is the percentage return of a round trip before costs. A SHORT
// earns (1 - exit/entry) * 100, the move measured against the entry price.
func GrossPct(side Side, entry, exit float64) float64 {
	if entry <= 0 {
		return 0
	}
	switch side {
	case Long:
		return (exit/entry - 1) * 100
	case Short:
		return (1 - exit/entry) * 100
	}
	return 0
}

// NetPct subtracts the total cost percentage from gross.
func NetPct(gross, feePctTotal float64) float64 {
	return gross - feePctTotal
}

// FeePctTotal combines commission and slippage percentages.
func FeePctTotal(feePct, slippagePct float64) float64 {
	return feePct + slippagePct
}
