package indicators

import "math"

// Bias is the direction of a detected trendline.
type Bias string

const (
	BiasUp   Bias = "up"
	BiasDown Bias = "down"
	BiasFlat Bias = "flat"
)

// TrendlineResult describes the support and resistance lines fitted through
// the pivots of the lookback window, evaluated at the last bar.
type TrendlineResult struct {
	Bias              Bias
	Support           float64
	Resistance        float64
	SupportSlope      float64
	ResistanceSlope   float64
	SupportTouches    int
	ResistanceTouches int
	PivotHighs        []int
	PivotLows         []int
	// BreakoutUp is set when the last close is above resistance, BreakoutDown
	// when it is below support.
	BreakoutUp   bool
	BreakoutDown bool
}

type line struct {
	slope, intercept float64
	ok               bool
}

func (l line) at(x float64) float64 { return l.slope*x + l.intercept }

// Trendline detects pivot highs and lows over the last lookback bars, fits a
// least-squares line through each set and reports the trend bias.
func Trendline(highs, lows, closes []float64, lookback, pivotWindow, minTouches int, tolerancePct float64) TrendlineResult {
	res := TrendlineResult{Bias: BiasFlat, Support: Undefined, Resistance: Undefined}
	n := minLen(highs, lows, closes)
	if n == 0 {
		return res
	}
	if pivotWindow < 1 {
		pivotWindow = 1
	}
	if minTouches < 2 {
		minTouches = 2
	}
	start := 0
	if lookback > 0 && n > lookback {
		start = n - lookback
	}

	for i := start + pivotWindow; i < n-pivotWindow; i++ {
		if isPivot(highs, i, pivotWindow, func(a, b float64) bool { return a > b }) {
			res.PivotHighs = append(res.PivotHighs, i)
		}
		if isPivot(lows, i, pivotWindow, func(a, b float64) bool { return a < b }) {
			res.PivotLows = append(res.PivotLows, i)
		}
	}

	last := float64(n - 1)
	support := fit(lows, res.PivotLows)
	resistance := fit(highs, res.PivotHighs)
	if support.ok {
		res.Support = support.at(last)
		res.SupportSlope = support.slope
		res.SupportTouches = touches(lows, res.PivotLows, support, tolerancePct)
		res.BreakoutDown = closes[n-1] < res.Support
	}
	if resistance.ok {
		res.Resistance = resistance.at(last)
		res.ResistanceSlope = resistance.slope
		res.ResistanceTouches = touches(highs, res.PivotHighs, resistance, tolerancePct)
		res.BreakoutUp = closes[n-1] > res.Resistance
	}

	var chosen line
	switch {
	case support.ok && res.SupportTouches >= minTouches:
		chosen = support
	case resistance.ok && res.ResistanceTouches >= minTouches:
		chosen = resistance
	default:
		return res
	}

	level := math.Abs(chosen.at(last))
	if level == 0 {
		return res
	}
	// total drift of the line across the window, as a percentage of its level
	drift := chosen.slope * (last - float64(start)) / level * 100
	switch {
	case math.Abs(drift) < tolerancePct:
		res.Bias = BiasFlat
	case drift > 0:
		res.Bias = BiasUp
	default:
		res.Bias = BiasDown
	}
	return res
}

func isPivot(values []float64, i, w int, beats func(a, b float64) bool) bool {
	for j := i - w; j <= i+w; j++ {
		if j != i && !beats(values[i], values[j]) {
			return false
		}
	}
	return true
}

func fit(values []float64, idx []int) line {
	if len(idx) < 2 {
		return line{}
	}
	var sx, sy, sxx, sxy float64
	for _, i := range idx {
		x, y := float64(i), values[i]
		sx += x
		sy += y
		sxx += x * x
		sxy += x * y
	}
	n := float64(len(idx))
	den := n*sxx - sx*sx
	if den == 0 {
		return line{}
	}
	slope := (n*sxy - sx*sy) / den
	return line{slope: slope, intercept: (sy - slope*sx) / n, ok: true}
}

func touches(values []float64, idx []int, l line, tolerancePct float64) int {
	count := 0
	for _, i := range idx {
		expected := l.at(float64(i))
		if expected == 0 {
			continue
		}
		if math.Abs(values[i]-expected)/math.Abs(expected)*100 <= tolerancePct {
			count++
		}
	}
	return count
}
