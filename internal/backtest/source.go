package backtest

import (
	"signal-core/internal/decision"
	"signal-core/internal/graph"
	"signal-core/internal/market"
)

// DecisionSource decides at one bar given the history visible at that bar.
type DecisionSource interface {
	Decide(snap market.Snapshot) decision.Decision
}

// GraphSource evaluates a compiled strategy graph.
type GraphSource struct {
	Graph *graph.Graph
}

func (s GraphSource) Decide(snap market.Snapshot) decision.Decision {
	return s.Graph.Evaluate(snap).Decision
}

// DecisionFunc adapts a plain function.
type DecisionFunc func(snap market.Snapshot) decision.Decision

func (f DecisionFunc) Decide(snap market.Snapshot) decision.Decision { return f(snap) }

// LegacySource adapts a condition evaluator that answers CONFIRMED or
// REJECTED.
type LegacySource func(snap market.Snapshot) string

func (f LegacySource) Decide(snap market.Snapshot) decision.Decision {
	return decision.FromLegacy(f(snap))
}
