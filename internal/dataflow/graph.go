// Package dataflow implements the operator graph execution engine
// (§3.6, §4.9): a DAG of operators connected by named channels,
// stepped a bounded number of activations at a time.
package dataflow

import (
	"sort"

	"github.com/aikernel/core/internal/kerrors"
)

// Operator is one node in the graph: an id, a scheduling priority, and
// its input/output channel sets (§3.6).
type Operator struct {
	ID       string
	Priority int
	Inputs   []string
	Outputs  []string
}

// Graph is a directed acyclic graph of operators (§3.6, §4.9).
type Graph struct {
	numOperators int
	operators    map[string]*Operator
	order        []string // insertion order, for deterministic iteration

	// channelProducers maps a channel name to the operator id that
	// writes it, used both for cycle detection and for driving start().
	channelProducers map[string]string
	channelReady     map[string]bool // has this channel been produced this run

	activations int
}

// Create allocates a graph sized for up to numOperators operators
// (§4.9 "create(num_operators)").
func Create(numOperators int) *Graph {
	return &Graph{
		numOperators:     numOperators,
		operators:        make(map[string]*Operator),
		channelProducers: make(map[string]string),
		channelReady:     make(map[string]bool),
	}
}

// Destroy releases the graph's state (§4.9 "destroy()").
func (g *Graph) Destroy() {
	g.operators = nil
	g.order = nil
	g.channelProducers = nil
	g.channelReady = nil
}

// AddOperator inserts an operator, rejecting a duplicate id, a graph
// already at capacity, or an edge set that would introduce a cycle
// (§4.9).
func (g *Graph) AddOperator(id string, inputs, outputs []string, priority int) error {
	if _, exists := g.operators[id]; exists {
		return kerrors.InvalidArgument(kerrors.New("dataflow: duplicate operator id: " + id))
	}
	if len(g.operators) >= g.numOperators {
		return kerrors.ResourceExhausted(kerrors.New("dataflow: graph at capacity"))
	}

	op := &Operator{ID: id, Priority: priority, Inputs: inputs, Outputs: outputs}
	g.operators[id] = op
	g.order = append(g.order, id)
	for _, ch := range outputs {
		g.channelProducers[ch] = id
	}

	if g.hasCycle() {
		delete(g.operators, id)
		g.order = g.order[:len(g.order)-1]
		for _, ch := range outputs {
			delete(g.channelProducers, ch)
		}
		return kerrors.InvalidArgument(kerrors.New("dataflow: operator " + id + " introduces a cycle"))
	}
	return nil
}

// hasCycle runs recursive DFS with a visited set and a recursion stack
// over the producer-consumer edges implied by shared channel names.
func (g *Graph) hasCycle() bool {
	visited := make(map[string]bool)
	onStack := make(map[string]bool)

	var visit func(id string) bool
	visit = func(id string) bool {
		visited[id] = true
		onStack[id] = true
		op := g.operators[id]
		for _, in := range op.Inputs {
			producer, ok := g.channelProducers[in]
			if !ok || producer == id {
				continue
			}
			if onStack[producer] {
				return true
			}
			if !visited[producer] && visit(producer) {
				return true
			}
		}
		onStack[id] = false
		return false
	}

	for _, id := range g.order {
		if !visited[id] {
			if visit(id) {
				return true
			}
		}
	}
	return false
}

// topoOrder returns operators in dependency order (producers before
// consumers), tie-broken by priority then insertion order.
func (g *Graph) topoOrder() []string {
	inDegree := make(map[string]int)
	for _, id := range g.order {
		inDegree[id] = 0
	}
	for _, id := range g.order {
		op := g.operators[id]
		for _, in := range op.Inputs {
			if producer, ok := g.channelProducers[in]; ok && producer != id {
				inDegree[id]++
			}
		}
	}

	var ready []string
	for _, id := range g.order {
		if inDegree[id] == 0 {
			ready = append(ready, id)
		}
	}

	pos := make(map[string]int, len(g.order))
	for i, id := range g.order {
		pos[id] = i
	}

	var out []string
	done := make(map[string]bool)
	for len(out) < len(g.order) {
		sort.Slice(ready, func(i, j int) bool {
			oi, oj := g.operators[ready[i]], g.operators[ready[j]]
			if oi.Priority != oj.Priority {
				return oi.Priority < oj.Priority
			}
			return pos[ready[i]] < pos[ready[j]]
		})
		if len(ready) == 0 {
			break
		}
		next := ready[0]
		ready = ready[1:]
		out = append(out, next)
		done[next] = true

		for _, id := range g.order {
			if done[id] || inDegree[id] == 0 {
				continue
			}
			op := g.operators[id]
			satisfied := true
			for _, in := range op.Inputs {
				producer, ok := g.channelProducers[in]
				if ok && producer != id && !done[producer] {
					satisfied = false
					break
				}
			}
			if satisfied {
				alreadyQueued := false
				for _, r := range ready {
					if r == id {
						alreadyQueued = true
						break
					}
				}
				if !alreadyQueued {
					ready = append(ready, id)
				}
			}
		}
	}
	return out
}

// StartResult reports how many activations ran and whether the graph
// completed (every operator ran) within the step budget.
type StartResult struct {
	Activations int
	Completed   bool
}

// Start advances execution by at most `steps` operator activations, in
// priority/topological order (§4.9 "start(steps)"). A call continues
// the current run where the previous call stopped; once a run has
// completed, the next call begins a new run from the first operator.
func (g *Graph) Start(steps int) StartResult {
	order := g.topoOrder()
	if g.activations >= len(order) {
		g.activations = 0
		g.channelReady = make(map[string]bool)
	}
	ran := 0
	for _, id := range order[g.activations:] {
		if ran >= steps {
			return StartResult{Activations: ran, Completed: false}
		}
		for _, ch := range g.operators[id].Outputs {
			g.channelReady[ch] = true
		}
		ran++
		g.activations++
	}
	return StartResult{Activations: ran, Completed: true}
}

// OperatorCount returns the number of operators currently in the graph.
func (g *Graph) OperatorCount() int { return len(g.operators) }
