package strategy

import (
	"fmt"
	"sort"

	"signal-core/internal/graph"
)

// A template expands a named strategy type plus parameters into a graph.
type template func(p map[string]any) graph.Definition

var templates = map[string]template{
	"ma_cross":  maCross,
	"rsi":       rsiReversion,
	"bollinger": bollingerReversion,
}

// Templates lists the built-in strategy types.
func Templates() []string {
	out := make([]string, 0, len(templates))
	for name := range templates {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Expand builds the graph for a template type.
func Expand(kind string, p map[string]any) (graph.Definition, error) {
	t, ok := templates[kind]
	if !ok {
		return graph.Definition{}, fmt.Errorf("unknown strategy type %q", kind)
	}
	return t(p), nil
}

func param(p map[string]any, key string, def float64) float64 {
	switch v := p[key].(type) {
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case float64:
		return v
	}
	return def
}

func node(id, typ string, params map[string]any) graph.Node {
	return graph.Node{ID: id, Type: typ, Params: params}
}

func wire(src, srcPort, dst, dstPort string) graph.Connection {
	return graph.Connection{
		Source: graph.Port{Node: src, Port: srcPort},
		Target: graph.Port{Node: dst, Port: dstPort},
	}
}

// maCross buys when the fast SMA crosses above the slow one and sells on
// the opposite cross.
func maCross(p map[string]any) graph.Definition {
	fast := param(p, "fast", 9)
	slow := param(p, "slow", 21)
	return graph.Definition{
		Nodes: []graph.Node{
			node("fast", "sma", map[string]any{"period": fast}),
			node("slow", "sma", map[string]any{"period": slow}),
			node("cross_up", "crossover", map[string]any{"direction": "up"}),
			node("cross_down", "crossover", map[string]any{"direction": "down"}),
			node("buy", "signal", map[string]any{"direction": "BUY"}),
			node("sell", "signal", map[string]any{"direction": "SELL"}),
		},
		Connections: []graph.Connection{
			wire("fast", "", "cross_up", "a"),
			wire("slow", "", "cross_up", "b"),
			wire("fast", "", "cross_down", "a"),
			wire("slow", "", "cross_down", "b"),
			wire("cross_up", "", "buy", "trigger"),
			wire("cross_down", "", "sell", "trigger"),
		},
	}
}

// rsiReversion buys oversold and sells overbought.
func rsiReversion(p map[string]any) graph.Definition {
	return graph.Definition{
		Nodes: []graph.Node{
			node("rsi", "rsi", map[string]any{"period": param(p, "period", 14)}),
			node("oversold", "compare", map[string]any{"operator": "<", "value": param(p, "oversold", 30)}),
			node("overbought", "compare", map[string]any{"operator": ">", "value": param(p, "overbought", 70)}),
			node("buy", "signal", map[string]any{"direction": "BUY"}),
			node("sell", "signal", map[string]any{"direction": "SELL"}),
		},
		Connections: []graph.Connection{
			wire("rsi", "", "oversold", "a"),
			wire("rsi", "", "overbought", "a"),
			wire("oversold", "", "buy", "trigger"),
			wire("overbought", "", "sell", "trigger"),
		},
	}
}

// bollingerReversion buys below the lower band and sells above the upper.
func bollingerReversion(p map[string]any) graph.Definition {
	return graph.Definition{
		Nodes: []graph.Node{
			node("price", "price", map[string]any{"field": "close"}),
			node("bands", "bollinger", map[string]any{"period": param(p, "period", 20), "k": param(p, "std_dev", 2)}),
			node("below", "compare", map[string]any{"operator": "<"}),
			node("above", "compare", map[string]any{"operator": ">"}),
			node("buy", "signal", map[string]any{"direction": "BUY"}),
			node("sell", "signal", map[string]any{"direction": "SELL"}),
		},
		Connections: []graph.Connection{
			wire("price", "", "below", "a"),
			wire("bands", "lower", "below", "b"),
			wire("price", "", "above", "a"),
			wire("bands", "upper", "above", "b"),
			wire("below", "", "buy", "trigger"),
			wire("above", "", "sell", "trigger"),
		},
	}
}
