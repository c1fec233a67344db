// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package graph traces computations into a Graph of Nodes, and executes them on host tensors.
//
// The main elements in the package are:
//
//   - Graph: a computation graph, built by calling the graph functions (Add, ReduceSum, Stack,
//     CustomCall, etc.) on its Nodes. Once built, it is compiled with Graph.Compile and executed
//     with Graph.Run by a simple interpreter.
//
//   - Node: represents the result of an operation ("op" for short). Each node has a fixed shape
//     that is known in "graph building time".
//
//   - Exec: wraps a GraphFn and builds (and caches) one Graph per combination of input shapes.
//     This is the usual way of executing a computation.
//
//   - Transformations: VJP and Gradient (reverse-mode autodiff), JVP (forward-mode autodiff) and
//     Vmap (vectorization over a new axis). They work on any graph, including nodes created by
//     CustomCall, for which the CustomOp provides the corresponding rules.
//
// ## Error Handling
//
// Errors during graph building are reported by panicking with an error (with a stack trace) -- see
// package github.com/gomlx/exceptions. Exec.Exec converts those panics to returned errors, including
// the errors returned by host functions of custom operations during execution, which are returned unchanged.
package graph

import (
	"fmt"
	"strings"
	"time"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/linop/pkg/core/shapes"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// GraphFn is the signature of a function that builds a computation: it takes the graph and its
// input nodes and returns the output nodes.
type GraphFn func(g *Graph, inputs []*Node) []*Node

// Graph with the operations and dependencies needed to run a computation.
//
// Graph building is not concurrency safe. After compilation, Run can be called concurrently.
type Graph struct {
	name       string
	nodes      []*Node
	parameters []*Node
	traced     bool

	compiled bool
	outputs  []*Node

	// needed marks the nodes needed to compute the outputs, indexed by NodeId. Set at Compile.
	needed []bool
}

// NewGraph creates an empty Graph, ready to have nodes added to it.
func NewGraph(name string) *Graph {
	return &Graph{name: name, traced: DefaultConfig.Traced}
}

// Name of the graph.
func (g *Graph) Name() string { return g.name }

// SetTraced sets whether the execution of each node is logged, see Config.Traced.
func (g *Graph) SetTraced(traced bool) *Graph {
	g.traced = traced
	return g
}

// IsCompiled returns whether the graph has been compiled, after which no nodes can be added.
func (g *Graph) IsCompiled() bool { return g.compiled }

// AssertBuilding panics if the graph has already been compiled.
func (g *Graph) AssertBuilding() {
	if g == nil {
		exceptions.Panicf("the Graph is nil")
	}
	if g.compiled {
		exceptions.Panicf("Graph %q has already been compiled, one cannot further add nodes to it", g.name)
	}
}

// AssertCompiled panics if the graph has not been compiled yet.
func (g *Graph) AssertCompiled() {
	if g == nil {
		exceptions.Panicf("the Graph is nil")
	}
	if !g.compiled {
		exceptions.Panicf("Graph %q not compiled yet", g.name)
	}
}

// registerNode in the graph, assigning it an id.
func (g *Graph) registerNode(node *Node) {
	g.AssertBuilding()
	node.id = NodeId(len(g.nodes))
	g.nodes = append(g.nodes, node)
}

// NumNodes returns the number of nodes in the graph.
func (g *Graph) NumNodes() int { return len(g.nodes) }

// Nodes returns all nodes in the graph, in topological (creation) order. The returned slice shouldn't be changed.
func (g *Graph) Nodes() []*Node { return g.nodes }

// NodeById returns the node with the given id.
func (g *Graph) NodeById(id NodeId) *Node {
	if id < 0 || int(id) >= len(g.nodes) {
		exceptions.Panicf("node id %d out-of-range for graph %q with %d nodes", id, g.name, len(g.nodes))
	}
	return g.nodes[id]
}

// NumParameters returns the number of parameters created for this graph.
func (g *Graph) NumParameters() int { return len(g.parameters) }

// ParameterByIndex returns the ii-th parameter, in the order they were created.
func (g *Graph) ParameterByIndex(ii int) *Node { return g.parameters[ii] }

// Parameter registers an input parameter for a computation Graph (e.g: a feature used as input).
// The parameter values are fed to Run in the order they were created.
func (g *Graph) Parameter(name string, shape shapes.Shape) *Node {
	g.AssertBuilding()
	if !shape.Ok() {
		exceptions.Panicf("Graph.Parameter(%q): invalid shape", name)
	}
	for _, param := range g.parameters {
		if param.ParameterName() == name {
			exceptions.Panicf("Graph.Parameter(%q): a parameter with that name already exists", name)
		}
	}
	inputs := &nodeInputsParameter{name: name, index: len(g.parameters)}
	node := newNode(g, inputs, nil, shape)
	g.parameters = append(g.parameters, node)
	return node
}

// Compile the graph to compute the given outputs. After compilation the graph can be executed with Run,
// and no more nodes can be added.
func (g *Graph) Compile(outputs ...*Node) {
	g.AssertBuilding()
	if len(outputs) == 0 {
		exceptions.Panicf("Graph.Compile(%q): no outputs given", g.name)
	}
	var start time.Time
	if klog.V(1).Enabled() {
		start = time.Now()
	}
	for ii, output := range outputs {
		if output == nil || output.graph != g {
			exceptions.Panicf("Graph.Compile(%q): output #%d is nil or belongs to a different graph", g.name, ii)
		}
		if output.IsMultiOutput() {
			exceptions.Panicf("Graph.Compile(%q): output #%d is a multi-output node, use its split nodes", g.name, ii)
		}
	}
	g.outputs = outputs
	g.needed = make([]bool, len(g.nodes))
	var markNeeded func(node *Node)
	markNeeded = func(node *Node) {
		if g.needed[node.id] {
			return
		}
		g.needed[node.id] = true
		for _, input := range node.inputNodes {
			markNeeded(input)
		}
	}
	for _, output := range outputs {
		markNeeded(output)
	}
	g.compiled = true
	if klog.V(1).Enabled() {
		numNeeded := 0
		for _, needed := range g.needed {
			if needed {
				numNeeded++
			}
		}
		klog.Infof("Graph %q compiled: %d nodes (%d used) in %s", g.name, len(g.nodes), numNeeded, time.Since(start))
	}
}

// Outputs returns the outputs the graph was compiled with.
func (g *Graph) Outputs() []*Node { return g.outputs }

// validateBuildingGraphFromInputs checks that all inputs are from the same graph, and that the graph
// is still building. It returns the graph.
func validateBuildingGraphFromInputs(inputs ...*Node) (g *Graph) {
	if len(inputs) == 0 {
		exceptions.Panicf("no input nodes provided, at least one is required")
	}
	for ii, input := range inputs {
		if input == nil {
			exceptions.Panicf("input node #%d is nil", ii)
		}
		if input.IsMultiOutput() {
			exceptions.Panicf("input node #%d is a multi-output node, use its split nodes instead", ii)
		}
		if g == nil {
			g = input.graph
			g.AssertBuilding()
		} else if input.graph != g {
			panic(errors.Errorf("combining nodes from different graphs not allowed: input #0 is from graph %q, input #%d is from graph %q",
				g.name, ii, input.graph.name))
		}
	}
	return
}

// String converts the Graph to a multiline string with a description of the full graph.
func (g *Graph) String() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("Graph %q: %d nodes, %d parameters", g.name, len(g.nodes), len(g.parameters)))
	for _, node := range g.nodes {
		parts = append(parts, "\t"+node.String())
	}
	if g.compiled {
		parts = append(parts, fmt.Sprintf("\toutputs: %s", nodeIdsString(g.outputs)))
	}
	return strings.Join(parts, "\n")
}
