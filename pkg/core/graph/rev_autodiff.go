// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"slices"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/linop/pkg/support/xslices"
)

// This file implements reverse-mode automatic differentiation, using AccumulatedVJP (Vector Jacobian Product).
// There are many sources discussing this topic, some below:
//
// Jax Autodiff Cookbook: https://jax.readthedocs.io/en/latest/notebooks/autodiff_cookbook.html
// What is Automatic Differentiation ? (YouTube video), https://www.youtube.com/watch?v=wG_nF1awSSY&t=864s
//
// Overall in this file we assume the following conventions:
//
// * root nodes: the outputs being differentiated, each with a given cotangent.
// * selected nodes: the nodes with respect to which we want the cotangents (the "wrt" nodes).
// * VJP / Adjoint: VJP stands for "Vector Jacobian Product", and it's the accumulated cotangent of the
//      roots with respect to the current node being processed. The final results are the VJPs on the
//      selected nodes. They are generated in reverse order, from the roots back to their inputs.
// * "new nodes": new nodes that being created on the fly to calculate the adjoints. They are not included in the
//      reverse graph.
//
// All operations in the graph are linear in each input, except Mul. No conjugation is applied to complex values:
// the VJP of a linear operation is its (plain) transpose.

// VJPRule calculates the VJP of each input of node, given the VJP of each of its outputs.
// It returns one VJP per input, nil for inputs that don't receive any.
type VJPRule func(node *Node, vjpOutputs []*Node) []*Node

// VJPRegistration maps each NodeType to its VJPRule.
var VJPRegistration map[NodeType]VJPRule

func init() {
	VJPRegistration = map[NodeType]VJPRule{
		NodeTypeAdd:                addVJP,
		NodeTypeSub:                subVJP,
		NodeTypeMul:                mulVJP,
		NodeTypeNeg:                negVJP,
		NodeTypeReduceSum:          reduceSumVJP,
		NodeTypeExpandAndBroadcast: expandAndBroadcastVJP,
		NodeTypeTranspose:          transposeVJP,
		NodeTypeTakeAt:             takeAtVJP,
		NodeTypeStack:              stackVJP,
		NodeTypeCustomCall:         customCallVJP,
	}
}

// reverseGraph stores information of the Graph in reverse order.
type reverseGraph struct {
	Graph *Graph
	Roots []*Node

	ReverseNodes []*reverseNode
	NumConsumers []int
}

type reverseNode struct {
	Node *Node

	// Consumers is the list of nodes that utilize the output of this node. That is, the nodes whose inputNodes
	// include this node.
	Consumers []*reverseNode

	// Selected indicates whether this is one of the nodes for which we want the VJP.
	Selected bool

	// Included is true for nodes to which a root node has a dependency. Nodes not included are irrelevant.
	Included bool

	// Useful is true when this node is in the path to one of the selected nodes.
	// For nodes not marked as useful, we don't need to generate the VJP values (aka adjoints).
	Useful bool

	// AccumulatedVJP is the sum of the VJPs back-propagated by all its consumers. Once all of them are included,
	// this node is ready to push its VJP to its inputNodes.
	AccumulatedVJP *Node

	// VJPsForMultiOutputs holds the individual VJPs for a multi-outputs nodes: they are only collapsed to a VJP when
	// all the VJPs for the outputs have been calculated.
	VJPsForMultiOutputs []*Node
}

// Gradient creates new nodes for the gradients of the output with respect to each node in gradientNodes.
// The output must be a non-complex scalar.
func Gradient(output *Node, gradientNodes ...*Node) []*Node {
	outputShape := output.Shape()
	if outputShape.Rank() > 0 || outputShape.DType.IsComplex() {
		exceptions.Panicf("only gradients of a non-complex scalar with respect to tensors are accepted, "+
			"got output shaped %s, use VJP instead", output.Shape())
	}
	return VJP([]*Node{output}, []*Node{OnesLike(output)}, gradientNodes)
}

// VJP returns the vector-Jacobian product of the outputs with respect to each of the wrt nodes: given
// one cotangent per output (with the same shape), it returns the cotangent of each wrt node.
//
// wrt nodes with no path to the outputs get zero cotangents.
func VJP(outputs, cotangents, wrt []*Node) []*Node {
	if len(outputs) == 0 || len(outputs) != len(cotangents) {
		exceptions.Panicf("VJP requires one cotangent per output, got %d outputs and %d cotangents", len(outputs), len(cotangents))
	}
	allNodes := slices.Concat(outputs, cotangents, wrt)
	g := validateBuildingGraphFromInputs(allNodes...)
	for ii, output := range outputs {
		if !cotangents[ii].Shape().Equal(output.Shape()) {
			exceptions.Panicf("VJP: cotangent #%d shaped %s doesn't match output shaped %s", ii, cotangents[ii].Shape(), output.Shape())
		}
	}

	rg := newReverseGraph(g, outputs, wrt)
	maxRootId := outputs[0].Id()
	for ii, output := range outputs {
		rOutput := rg.ReverseNodes[output.Id()]
		if rOutput.AccumulatedVJP == nil {
			rOutput.AccumulatedVJP = cotangents[ii]
		} else {
			rOutput.AccumulatedVJP = Add(rOutput.AccumulatedVJP, cotangents[ii])
		}
		maxRootId = max(maxRootId, output.Id())
	}

	// Whether we need the VJP for the node.
	needVJPForNode := func(node *Node) bool {
		rNode := rg.ReverseNodes[node.Id()]
		return rNode.Included && rNode.Useful
	}

	// Loop from the last root backwards, back propagating the VJPs. Notice that the nodes are ordered according to
	// the DAG, meaning that by the time g.nodes[ii] is reached, all nodes consuming its outputs will already have been
	// accounted for, and their VJPs summed up.
	for nodeIdx := maxRootId; nodeIdx >= 0; nodeIdx-- {
		node := g.nodes[nodeIdx]
		rNode := rg.ReverseNodes[nodeIdx]
		if !needVJPForNode(node) {
			continue
		}
		needInputs := false
		for _, input := range node.Inputs() {
			if needVJPForNode(input) {
				needInputs = true
				break
			}
		}
		if !needInputs {
			continue
		}

		// Special case for multiple-outputs: their vjp need to be aggregated differently.
		if node.IsMultiOutput() {
			hasVJP := slices.ContainsFunc(rNode.VJPsForMultiOutputs, func(vjp *Node) bool { return vjp != nil })
			if !hasVJP {
				continue
			}
			// Fill missing VJPs with zeros.
			for ii, shape := range node.outputShapes {
				if rNode.VJPsForMultiOutputs[ii] == nil {
					rNode.VJPsForMultiOutputs[ii] = Zeros(g, shape)
				}
			}
		} else if rNode.AccumulatedVJP == nil {
			continue
		}

		if splitInputs, ok := node.inputs.(*nodeInputsSplitNode); ok {
			// SplitNode pushes its VJP to the specific output of the multi-output node.
			rInput := rg.ReverseNodes[splitInputs.multiOutputNode.Id()]
			if rInput.VJPsForMultiOutputs[splitInputs.index] == nil {
				rInput.VJPsForMultiOutputs[splitInputs.index] = rNode.AccumulatedVJP
			} else {
				rInput.VJPsForMultiOutputs[splitInputs.index] = Add(rInput.VJPsForMultiOutputs[splitInputs.index], rNode.AccumulatedVJP)
			}
			continue
		}

		vjpFn, found := VJPRegistration[node.Type()]
		if !found {
			exceptions.Panicf("graph has node %s, for which no VJP is defined, cannot back-propagate", node)
		}
		vjpsForOutputs := rNode.VJPsForMultiOutputs
		if !node.IsMultiOutput() {
			vjpsForOutputs = []*Node{rNode.AccumulatedVJP}
		}
		inputsVJPs := vjpFn(node, vjpsForOutputs)
		if len(inputsVJPs) != len(node.Inputs()) {
			exceptions.Panicf("VJP(%s) returned %d VJPs, but it has %d inputNodes", node, len(inputsVJPs), len(node.Inputs()))
		}
		for ii, input := range node.Inputs() {
			vjp := inputsVJPs[ii]
			if vjp == nil {
				continue
			}
			if !vjp.Shape().Equal(input.Shape()) {
				exceptions.Panicf("invalid VJP calculation for node %s: input #%d (out of %d) shaped %s got a VJP shaped %s",
					node, ii, len(node.Inputs()), input.Shape(), vjp.Shape())
			}
			rInput := rg.ReverseNodes[input.Id()]
			if rInput.AccumulatedVJP == nil {
				rInput.AccumulatedVJP = vjp
			} else {
				rInput.AccumulatedVJP = Add(rInput.AccumulatedVJP, vjp)
			}
		}
	}

	results := make([]*Node, len(wrt))
	for ii, node := range wrt {
		rNode := rg.ReverseNodes[node.Id()]
		if rNode.AccumulatedVJP == nil {
			results[ii] = ZerosLike(node)
		} else {
			results[ii] = rNode.AccumulatedVJP
		}
	}
	return results
}

func newReverseGraph(g *Graph, roots []*Node, selectedNodes []*Node) *reverseGraph {
	numNodes := len(g.nodes)
	rg := &reverseGraph{
		Graph:        g,
		Roots:        roots,
		ReverseNodes: make([]*reverseNode, numNodes),
		NumConsumers: make([]int, numNodes),
	}

	// Stitch reverse "consumer" links to graph.
	for ii, node := range g.nodes {
		rNode := &reverseNode{Node: node}
		rg.ReverseNodes[ii] = rNode
		if node.IsMultiOutput() {
			rNode.VJPsForMultiOutputs = make([]*Node, node.NumOutputs())
		}
		for _, input := range node.inputNodes {
			rg.NumConsumers[input.Id()]++
		}
	}
	for ii, node := range g.nodes {
		rNode := rg.ReverseNodes[ii]
		rNode.Consumers = make([]*reverseNode, 0, rg.NumConsumers[ii])
		for _, input := range node.inputNodes {
			rInput := rg.ReverseNodes[input.Id()]
			rInput.Consumers = append(rInput.Consumers, rNode)
		}
	}

	for _, root := range roots {
		recursivePathFromRoot(rg, root)
	}
	for _, selected := range selectedNodes {
		rNode := rg.ReverseNodes[selected.Id()]
		rNode.Selected = true
		recursiveMarkAsUseful(rg, rNode)
	}
	return rg
}

// recursivePathFromRoot mark nodes and its inputNodes recursively as Included.
func recursivePathFromRoot(rg *reverseGraph, node *Node) {
	rNode := rg.ReverseNodes[node.Id()]
	if rNode.Included {
		return
	}
	rNode.Included = true
	for _, input := range node.inputNodes {
		recursivePathFromRoot(rg, input)
	}
}

func recursiveMarkAsUseful(rg *reverseGraph, rNode *reverseNode) {
	if !rNode.Included || rNode.Useful {
		return
	}
	rNode.Useful = true
	for _, consumer := range rNode.Consumers {
		recursiveMarkAsUseful(rg, consumer)
	}
}

func addVJP(_ *Node, v []*Node) []*Node {
	return []*Node{v[0], v[0]}
}

func subVJP(_ *Node, v []*Node) []*Node {
	return []*Node{v[0], Neg(v[0])}
}

func mulVJP(node *Node, v []*Node) []*Node {
	lhs, rhs := node.inputNodes[0], node.inputNodes[1]
	return []*Node{Mul(v[0], rhs), Mul(v[0], lhs)}
}

func negVJP(_ *Node, v []*Node) []*Node {
	return []*Node{Neg(v[0])}
}

func reduceSumVJP(node *Node, v []*Node) []*Node {
	inputs := node.inputs.(*nodeInputsReduceSum)
	return []*Node{ExpandAndBroadcast(v[0], inputs.x.Shape().Dimensions, inputs.axes)}
}

func expandAndBroadcastVJP(node *Node, v []*Node) []*Node {
	inputs := node.inputs.(*nodeInputsExpandAndBroadcast)
	return []*Node{ReduceSum(v[0], inputs.expandedAxes...)}
}

func transposeVJP(node *Node, v []*Node) []*Node {
	permutation := node.inputs.(*nodeInputsTranspose).permutation
	inverse := make([]int, len(permutation))
	for ii, axis := range permutation {
		inverse[axis] = ii
	}
	return []*Node{TransposeAllAxes(v[0], inverse...)}
}

// takeAtVJP places the VJP at the index taken, with zeros everywhere else.
func takeAtVJP(node *Node, v []*Node) []*Node {
	inputs := node.inputs.(*nodeInputsTakeAt)
	dim := inputs.x.Shape().Dimensions[inputs.axis]
	zeros := ZerosLike(v[0])
	parts := xslices.SliceWithValue(dim, zeros)
	parts[inputs.index] = v[0]
	return []*Node{Stack(parts, inputs.axis)}
}

func stackVJP(node *Node, v []*Node) []*Node {
	inputs := node.inputs.(*nodeInputsStack)
	vjps := make([]*Node, len(inputs.operands))
	for ii := range vjps {
		vjps[ii] = TakeAt(v[0], inputs.axis, ii)
	}
	return vjps
}

// customCallVJP delegates to the CustomOp, and panics with its error, if any.
func customCallVJP(node *Node, v []*Node) []*Node {
	inputs := node.inputs.(*nodeInputsCustomCall)
	vjps, err := inputs.op.VJP(node, inputs.operands, v)
	if err != nil {
		panic(err)
	}
	return vjps
}
