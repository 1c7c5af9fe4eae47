package graph

import (
	"fmt"
	"math"

	"signal-core/internal/decision"
	"signal-core/internal/indicators"
	"signal-core/internal/market"
)

const equalEpsilon = 1e-9

type evalContext struct {
	params params
	inputs map[string]Value
	snap   market.Snapshot
}

// source returns the series an indicator runs over: the connected "source"
// input when present, otherwise the configured price field.
func (c evalContext) source() []float64 {
	if v, ok := c.inputs["source"]; ok {
		if v.series != nil {
			return v.series
		}
		return nil
	}
	field, _ := market.ParseField(c.params.text("source", "close"))
	return c.snap.History.Series(field)
}

type nodeType struct {
	kind     Kind
	validate func(params) error
	eval     func(evalContext) map[string]Value
}

func single(v Value) map[string]Value {
	return map[string]Value{defaultPort: v}
}

var registry = map[string]*nodeType{
	"price":    {kind: KindInput, validate: validateField, eval: evalPrice},
	"constant": {kind: KindInput, validate: validateConstant, eval: evalConstant},

	"sma":          {kind: KindIndicator, validate: positive("period"), eval: evalMovingAverage(indicators.SMA)},
	"ema":          {kind: KindIndicator, validate: positive("period"), eval: evalMovingAverage(indicators.EMA)},
	"rsi":          {kind: KindIndicator, validate: positive("period"), eval: evalRSI},
	"macd":         {kind: KindIndicator, validate: positive("fast", "slow", "signal"), eval: evalMACD},
	"bollinger":    {kind: KindIndicator, validate: positive("period", "k"), eval: evalBollinger},
	"stochastic":   {kind: KindIndicator, validate: positive("period", "smooth_k", "smooth_d"), eval: evalStochastic},
	"atr":          {kind: KindIndicator, validate: positive("period"), eval: evalATR},
	"obv":          {kind: KindIndicator, eval: evalOBV},
	"vwap":         {kind: KindIndicator, eval: evalVWAP},
	"volume_spike": {kind: KindIndicator, validate: positive("period", "multiplier"), eval: evalVolumeSpike},
	"trendline":    {kind: KindIndicator, validate: positive("lookback", "pivot_window", "min_touches"), eval: evalTrendline},

	"and": {kind: KindGate, eval: evalAnd},
	"or":  {kind: KindGate, eval: evalOr},
	"not": {kind: KindGate, eval: evalNot},

	"compare":   {kind: KindComparator, validate: validateOperator, eval: evalCompare},
	"crossover": {kind: KindComparator, validate: validateCross, eval: evalCrossover},

	"signal": {kind: KindOutput, validate: validateDirection, eval: evalSignal},
}

// Types lists the registered node types.
func Types() []string {
	out := make([]string, 0, len(registry))
	for t := range registry {
		out = append(out, t)
	}
	return out
}

func validateField(p params) error {
	if _, ok := market.ParseField(p.text("field", "close")); !ok {
		return fmt.Errorf("unknown price field %q", p.text("field", ""))
	}
	return nil
}

func validateConstant(p params) error {
	if !p.has("value") {
		return fmt.Errorf("constant requires a value")
	}
	return nil
}

func validateOperator(p params) error {
	switch p.text("operator", ">") {
	case ">", "<", ">=", "<=", "==":
		return nil
	}
	return fmt.Errorf("unknown operator %q", p.text("operator", ""))
}

func validateCross(p params) error {
	switch p.text("direction", "up") {
	case "up", "down":
		return nil
	}
	return fmt.Errorf("crossover direction must be up or down")
}

func validateDirection(p params) error {
	d := direction(p)
	if d != decision.Buy && d != decision.Sell {
		return fmt.Errorf("signal direction must be BUY or SELL")
	}
	return nil
}

func evalPrice(c evalContext) map[string]Value {
	field, _ := market.ParseField(c.params.text("field", "close"))
	series := c.snap.History.Series(field)
	if len(series) == 0 {
		return single(Number(c.snap.Value(field)))
	}
	return single(seriesValue(series))
}

func evalConstant(c evalContext) map[string]Value {
	switch v := c.params["value"].(type) {
	case bool:
		return single(Boolean(v))
	default:
		return single(Number(c.params.num("value", math.NaN())))
	}
}

func evalMovingAverage(fn func([]float64, int) []float64) func(evalContext) map[string]Value {
	return func(c evalContext) map[string]Value {
		return single(seriesValue(fn(c.source(), c.params.integer("period", 20))))
	}
}

func evalRSI(c evalContext) map[string]Value {
	return single(seriesValue(indicators.RSI(c.source(), c.params.integer("period", 14))))
}

func evalMACD(c evalContext) map[string]Value {
	res := indicators.MACD(c.source(), c.params.integer("fast", 12), c.params.integer("slow", 26), c.params.integer("signal", 9))
	line := seriesValue(res.MACD)
	return map[string]Value{
		defaultPort: line,
		"macd":      line,
		"signal":    seriesValue(res.Signal),
		"histogram": seriesValue(res.Histogram),
	}
}

func evalBollinger(c evalContext) map[string]Value {
	res := indicators.Bollinger(c.source(), c.params.integer("period", 20), c.params.num("k", 2))
	middle := seriesValue(res.Middle)
	return map[string]Value{
		defaultPort: middle,
		"upper":     seriesValue(res.Upper),
		"middle":    middle,
		"lower":     seriesValue(res.Lower),
	}
}

func evalStochastic(c evalContext) map[string]Value {
	h := c.snap.History
	res := indicators.Stochastic(h.High, h.Low, h.Close,
		c.params.integer("period", 14), c.params.integer("smooth_k", 3), c.params.integer("smooth_d", 3))
	k := seriesValue(res.K)
	return map[string]Value{defaultPort: k, "k": k, "d": seriesValue(res.D)}
}

func evalATR(c evalContext) map[string]Value {
	h := c.snap.History
	return single(seriesValue(indicators.ATR(h.High, h.Low, h.Close, c.params.integer("period", 14))))
}

func evalOBV(c evalContext) map[string]Value {
	h := c.snap.History
	return single(seriesValue(indicators.OBV(h.Close, h.Volume)))
}

func evalVWAP(c evalContext) map[string]Value {
	return single(seriesValue(indicators.VWAP(c.source(), c.snap.History.Volume)))
}

func evalVolumeSpike(c evalContext) map[string]Value {
	flags := indicators.VolumeSpike(c.snap.History.Volume, c.params.integer("period", 20), c.params.num("multiplier", 2))
	if len(flags) == 0 {
		return single(Undefined)
	}
	return single(Boolean(flags[len(flags)-1]))
}

func evalTrendline(c evalContext) map[string]Value {
	h := c.snap.History
	if h.Len() == 0 {
		return single(Undefined)
	}
	res := indicators.Trendline(h.High, h.Low, h.Close,
		c.params.integer("lookback", 50), c.params.integer("pivot_window", 2),
		c.params.integer("min_touches", 2), c.params.num("tolerance_pct", 1))
	support := Number(res.Support)
	return map[string]Value{
		defaultPort:     support,
		"support":       support,
		"resistance":    Number(res.Resistance),
		"up":            Boolean(res.Bias == indicators.BiasUp),
		"down":          Boolean(res.Bias == indicators.BiasDown),
		"flat":          Boolean(res.Bias == indicators.BiasFlat),
		"breakout_up":   Boolean(res.BreakoutUp),
		"breakout_down": Boolean(res.BreakoutDown),
	}
}

func evalAnd(c evalContext) map[string]Value {
	if len(c.inputs) == 0 {
		return single(Undefined)
	}
	for _, v := range c.inputs {
		if !v.Truthy() {
			return single(Boolean(false))
		}
	}
	return single(Boolean(true))
}

func evalOr(c evalContext) map[string]Value {
	if len(c.inputs) == 0 {
		return single(Undefined)
	}
	for _, v := range c.inputs {
		if v.Truthy() {
			return single(Boolean(true))
		}
	}
	return single(Boolean(false))
}

func evalNot(c evalContext) map[string]Value {
	v, ok := c.inputs["in"]
	if !ok {
		v = c.inputs["a"]
	}
	if !v.Defined() {
		return single(Undefined)
	}
	return single(Boolean(!v.Truthy()))
}

// operands returns a and b, substituting the "value" param for a missing b.
func operands(c evalContext) (a, b Value) {
	a = c.inputs["a"]
	b, ok := c.inputs["b"]
	if !ok && c.params.has("value") {
		b = Number(c.params.num("value", math.NaN()))
	}
	return a, b
}

func compare(op string, a, b float64) bool {
	switch op {
	case "<":
		return a < b
	case ">=":
		return a >= b
	case "<=":
		return a <= b
	case "==":
		return math.Abs(a-b) <= equalEpsilon
	default:
		return a > b
	}
}

func evalCompare(c evalContext) map[string]Value {
	a, b := operands(c)
	x, okA := a.Float()
	y, okB := b.Float()
	if !okA || !okB {
		return single(Undefined)
	}
	return single(Boolean(compare(c.params.text("operator", ">"), x, y)))
}

// evalCrossover fires when a moves from one side of b to the other between
// the previous bar and the current one.
func evalCrossover(c evalContext) map[string]Value {
	a, b := operands(c)
	x, okA := a.Float()
	y, okB := b.Float()
	px, okPA := a.previous()
	py, okPB := b.previous()
	if !okA || !okB || !okPA || !okPB {
		return single(Undefined)
	}
	if c.params.text("direction", "up") == "down" {
		return single(Boolean(px >= py && x < y))
	}
	return single(Boolean(px <= py && x > y))
}

func evalSignal(c evalContext) map[string]Value {
	v, ok := c.inputs["trigger"]
	if !ok {
		v = c.inputs["in"]
	}
	return single(Boolean(v.Truthy()))
}
