// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/linop/pkg/core/shapes"
	"github.com/gomlx/linop/pkg/core/tensors"
)

//go:generate go tool enumer -type=NodeType -trimprefix=NodeType nodetype.go

// NodeId is a unique NodeId within a Graph. Ids are assigned in creation order, so they are
// also a topological order of the graph.
type NodeId int

// InvalidNodeId indicates a node that failed to be created.
const InvalidNodeId = NodeId(-1)

// Node represents the result of an operation in the computation graph.
// It is created by the graph functions (Add, ReduceSum, CustomCall, etc.) and only has meaning
// within the Graph that created it.
//
// Nodes can have multiple outputs (e.g. a CustomCall with more than one result), in which case
// they are "split" into one node per output with SplitNode, and only the split nodes are returned
// to the user.
type Node struct {
	graph        *Graph
	id           NodeId
	outputShapes []shapes.Shape

	// inputNodes are the nodes whose values are needed to compute this node, in order.
	inputNodes []*Node

	// inputs holds the static parameters of the node, specific to its NodeType.
	inputs NodeInputs
}

// NodeInputs represents the inputs (and static parameters) of a node, specific to its NodeType.
type NodeInputs interface {
	// Type of the node these inputs are for.
	Type() NodeType

	// String prints a descriptive representation of the inputs.
	String() string
}

// Type identify the operation performed by the node.
func (n *Node) Type() NodeType {
	if n == nil || n.inputs == nil {
		return NodeTypeInvalid
	}
	return n.inputs.Type()
}

// Graph that holds this Node.
func (n *Node) Graph() *Graph {
	if n == nil {
		return nil
	}
	return n.graph
}

// Id is the unique id of this node within the Graph.
func (n *Node) Id() NodeId {
	return n.id
}

// NumOutputs returns the number of outputs of the node. For most nodes it is 1.
func (n *Node) NumOutputs() int {
	return len(n.outputShapes)
}

// IsMultiOutput returns whether the node yields more than one output. Multi-output nodes are
// not exposed to the user, only their split nodes.
func (n *Node) IsMultiOutput() bool {
	return len(n.outputShapes) != 1
}

// OutputShapes returns the shapes of all outputs of the node.
func (n *Node) OutputShapes() []shapes.Shape {
	return n.outputShapes
}

// Shape of the Node's output. It panics for multi-output nodes.
func (n *Node) Shape() shapes.Shape {
	if n == nil {
		return shapes.Invalid()
	}
	if n.IsMultiOutput() {
		exceptions.Panicf("Node.Shape() called on a multi-output node %s, use OutputShapes() instead", n)
	}
	return n.outputShapes[0]
}

// DType returns the DType of the node's shape.
func (n *Node) DType() dtypes.DType {
	return n.Shape().DType
}

// Rank returns the rank of the node's shape.
func (n *Node) Rank() int {
	return n.Shape().Rank()
}

// IsScalar returns whether the node's shape is a scalar.
func (n *Node) IsScalar() bool {
	return n.Shape().IsScalar()
}

// Inputs are the other nodes that are direct inputNodes to the node.
func (n *Node) Inputs() []*Node { return n.inputNodes }

// ParameterName returns the name of a parameter node. It panics if the node is not a parameter.
func (n *Node) ParameterName() string {
	params, ok := n.inputs.(*nodeInputsParameter)
	if !ok {
		exceptions.Panicf("node %s is not a parameter", n)
	}
	return params.name
}

// ConstantValue returns the tensor of a constant node. It panics if the node is not a constant.
func (n *Node) ConstantValue() *tensors.Tensor {
	params, ok := n.inputs.(*nodeInputsConstant)
	if !ok {
		exceptions.Panicf("node %s is not a constant", n)
	}
	return params.tensor
}

// String implements the fmt.Stringer interface.
func (n *Node) String() (str string) {
	if n == nil {
		return "Node(nil)"
	}
	if n.inputs == nil {
		return "Node(Invalid)"
	}
	var shapeStr string
	if n.IsMultiOutput() {
		parts := make([]string, 0, len(n.outputShapes))
		for _, shape := range n.outputShapes {
			parts = append(parts, shape.String())
		}
		shapeStr = "(" + strings.Join(parts, ", ") + ")"
	} else {
		shapeStr = fmt.Sprintf("%s (%s)", n.outputShapes[0], humanize.Bytes(uint64(n.outputShapes[0].Memory())))
	}
	return fmt.Sprintf("#%d %s(%s) -> %s", n.id, n.Type(), n.inputs, shapeStr)
}

// nodeIdsString prints the ids of the given nodes, used by NodeInputs.String implementations.
func nodeIdsString(nodes []*Node) string {
	parts := make([]string, len(nodes))
	for ii, node := range nodes {
		parts[ii] = fmt.Sprintf("#%d", node.Id())
	}
	return strings.Join(parts, ", ")
}

// newNode creates a node in the graph g with the given inputs, and registers it.
func newNode(g *Graph, inputs NodeInputs, inputNodes []*Node, outputShapes ...shapes.Shape) *Node {
	node := &Node{
		graph:        g,
		outputShapes: outputShapes,
		inputNodes:   inputNodes,
		inputs:       inputs,
	}
	g.registerNode(node)
	return node
}
