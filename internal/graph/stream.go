package graph

import (
	"time"

	"signal-core/internal/events"
	"signal-core/internal/market"
)

// NodeEvent carries the outputs of one node after an evaluation.
type NodeEvent struct {
	StrategyID string           `json:"strategy_id"`
	Symbol     string           `json:"symbol"`
	NodeID     string           `json:"node_id"`
	Type       string           `json:"type"`
	Outputs    map[string]Value `json:"outputs"`
	Time       time.Time        `json:"time"`
}

// Stream evaluates a graph and publishes every node's outputs on the bus,
// so consumers can observe intermediate values as they are produced.
type Stream struct {
	strategyID string
	graph      *Graph
	bus        *events.Bus
}

// NewStream binds g to a strategy id and a bus.
func NewStream(strategyID string, g *Graph, bus *events.Bus) *Stream {
	return &Stream{strategyID: strategyID, graph: g, bus: bus}
}

// Graph returns the underlying compiled graph.
func (s *Stream) Graph() *Graph { return s.graph }

// Evaluate runs the graph on snap, publishing a NodeEvent per node.
func (s *Stream) Evaluate(snap market.Snapshot) Result {
	if s.bus == nil || s.bus.Subscribers(events.EventNodeValue) == 0 {
		return s.graph.Evaluate(snap)
	}
	return s.graph.evaluate(snap, func(n *compiledNode, out map[string]Value) {
		s.bus.Publish(events.EventNodeValue, NodeEvent{
			StrategyID: s.strategyID,
			Symbol:     snap.Symbol,
			NodeID:     n.ID,
			Type:       n.Type,
			Outputs:    out,
			Time:       snap.Time,
		})
	})
}
