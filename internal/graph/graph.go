// Package graph compiles strategy definitions into a DAG of indicator,
// gate, comparator and signal nodes and evaluates them against a market
// snapshot.
package graph

import (
	"errors"
	"fmt"
	"sort"

	"signal-core/internal/decision"
	"signal-core/internal/market"
)

var (
	ErrCycle          = errors.New("graph contains a cycle")
	ErrUnknownNode    = errors.New("connection references unknown node")
	ErrUnknownType    = errors.New("unknown node type")
	ErrDuplicateNode  = errors.New("duplicate node id")
	ErrDuplicateInput = errors.New("input port connected more than once")
	ErrNoOutput       = errors.New("graph has no signal output node")
)

// Kind groups node types.
type Kind string

const (
	KindInput      Kind = "input"
	KindIndicator  Kind = "indicator"
	KindGate       Kind = "gate"
	KindComparator Kind = "comparator"
	KindOutput     Kind = "output"
)

// Node is one vertex of a strategy definition.
type Node struct {
	ID     string         `json:"id" yaml:"id"`
	Kind   Kind           `json:"kind,omitempty" yaml:"kind,omitempty"`
	Type   string         `json:"type" yaml:"type"`
	Params map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
}

// Port addresses an input or output of a node. An empty port name means "value".
type Port struct {
	Node string `json:"node" yaml:"node"`
	Port string `json:"port,omitempty" yaml:"port,omitempty"`
}

// Connection wires a source output into a target input.
type Connection struct {
	Source Port `json:"source" yaml:"source"`
	Target Port `json:"target" yaml:"target"`
}

// Definition is the serializable form of a strategy graph.
type Definition struct {
	Nodes       []Node       `json:"nodes" yaml:"nodes"`
	Connections []Connection `json:"connections" yaml:"connections"`
}

// Result is the outcome of one evaluation.
type Result struct {
	Decision decision.Decision           `json:"decision"`
	Values   map[string]map[string]Value `json:"values"`
}

type compiledNode struct {
	Node
	typ    *nodeType
	inputs map[string]Port
}

// Graph is a validated, topologically ordered definition. It holds no
// mutable state and is safe for concurrent evaluation.
type Graph struct {
	order []*compiledNode
}

const defaultPort = "value"

func portName(p string) string {
	if p == "" {
		return defaultPort
	}
	return p
}

// Compile validates def and orders its nodes.
func Compile(def Definition) (*Graph, error) {
	nodes := make(map[string]*compiledNode, len(def.Nodes))
	outputs := 0
	for _, n := range def.Nodes {
		if n.ID == "" {
			return nil, fmt.Errorf("node of type %q has no id", n.Type)
		}
		if _, dup := nodes[n.ID]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateNode, n.ID)
		}
		typ, ok := registry[n.Type]
		if !ok {
			return nil, fmt.Errorf("%w: %q (node %s)", ErrUnknownType, n.Type, n.ID)
		}
		if n.Kind == "" {
			n.Kind = typ.kind
		} else if n.Kind != typ.kind {
			return nil, fmt.Errorf("node %s: type %q is a %s node, not %s", n.ID, n.Type, typ.kind, n.Kind)
		}
		if typ.validate != nil {
			if err := typ.validate(params(n.Params)); err != nil {
				return nil, fmt.Errorf("node %s: %w", n.ID, err)
			}
		}
		if n.Kind == KindOutput {
			outputs++
		}
		nodes[n.ID] = &compiledNode{Node: n, typ: typ, inputs: map[string]Port{}}
	}
	if outputs == 0 {
		return nil, ErrNoOutput
	}

	indegree := make(map[string]int, len(nodes))
	edges := make(map[string][]string, len(nodes))
	for _, c := range def.Connections {
		src, ok := nodes[c.Source.Node]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownNode, c.Source.Node)
		}
		dst, ok := nodes[c.Target.Node]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownNode, c.Target.Node)
		}
		port := portName(c.Target.Port)
		if _, dup := dst.inputs[port]; dup {
			return nil, fmt.Errorf("%w: %s.%s", ErrDuplicateInput, dst.ID, port)
		}
		dst.inputs[port] = Port{Node: src.ID, Port: portName(c.Source.Port)}
		edges[src.ID] = append(edges[src.ID], dst.ID)
		indegree[dst.ID]++
	}

	// Kahn's algorithm; ids are sorted so the order is deterministic.
	var ready []string
	for id := range nodes {
		if indegree[id] == 0 {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)

	order := make([]*compiledNode, 0, len(nodes))
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		order = append(order, nodes[id])

		var next []string
		for _, to := range edges[id] {
			indegree[to]--
			if indegree[to] == 0 {
				next = append(next, to)
			}
		}
		sort.Strings(next)
		ready = append(ready, next...)
	}
	if len(order) != len(nodes) {
		return nil, ErrCycle
	}
	return &Graph{order: order}, nil
}

// Nodes returns the node ids in evaluation order.
func (g *Graph) Nodes() []string {
	ids := make([]string, len(g.order))
	for i, n := range g.order {
		ids[i] = n.ID
	}
	return ids
}

// Evaluate runs every node against snap and derives the decision.
func (g *Graph) Evaluate(snap market.Snapshot) Result {
	return g.evaluate(snap, nil)
}

func (g *Graph) evaluate(snap market.Snapshot, visit func(n *compiledNode, out map[string]Value)) Result {
	values := make(map[string]map[string]Value, len(g.order))
	var buy, sell bool

	for _, n := range g.order {
		in := make(map[string]Value, len(n.inputs))
		for port, src := range n.inputs {
			in[port] = values[src.Node][src.Port]
		}
		out := n.typ.eval(evalContext{params: params(n.Params), inputs: in, snap: snap})
		values[n.ID] = out
		if visit != nil {
			visit(n, out)
		}

		if n.Kind == KindOutput && out[defaultPort].Truthy() {
			switch direction(params(n.Params)) {
			case decision.Buy:
				buy = true
			case decision.Sell:
				sell = true
			}
		}
	}

	d := decision.Hold
	switch {
	case buy && !sell:
		d = decision.Buy
	case sell && !buy:
		d = decision.Sell
	}
	return Result{Decision: d, Values: values}
}
