// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"slices"

	"github.com/gomlx/exceptions"
)

// JVPRule calculates the tangents of the outputs of node, given the tangents of each of its inputs.
// Input tangents are never nil: inputs that don't depend on the primals get zero tangents.
type JVPRule func(node *Node, tangents []*Node) []*Node

// JVPRegistration maps each NodeType to its JVPRule. CustomCall nodes are handled by their CustomOp.
var JVPRegistration map[NodeType]JVPRule

func init() {
	JVPRegistration = map[NodeType]JVPRule{
		NodeTypeAdd:                linearJVP,
		NodeTypeSub:                linearJVP,
		NodeTypeMul:                mulJVP,
		NodeTypeNeg:                linearJVP,
		NodeTypeReduceSum:          linearJVP,
		NodeTypeExpandAndBroadcast: linearJVP,
		NodeTypeTranspose:          linearJVP,
		NodeTypeTakeAt:             linearJVP,
		NodeTypeStack:              linearJVP,
	}
}

// JVP returns the Jacobian-vector product (forward-mode autodiff) of the outputs with respect to the
// primals: given one tangent per primal (with the same shape), it returns the tangent of each output.
//
// Outputs that don't depend on the primals get zero tangents.
func JVP(outputs, primals, tangents []*Node) []*Node {
	if len(primals) != len(tangents) {
		exceptions.Panicf("JVP requires one tangent per primal, got %d primals and %d tangents", len(primals), len(tangents))
	}
	g := validateBuildingGraphFromInputs(slices.Concat(outputs, primals, tangents)...)
	numNodes := g.NumNodes()
	nodeTangents := make([][]*Node, numNodes)
	for ii, primal := range primals {
		if !tangents[ii].Shape().Equal(primal.Shape()) {
			exceptions.Panicf("JVP: tangent #%d shaped %s doesn't match primal shaped %s", ii, tangents[ii].Shape(), primal.Shape())
		}
		if nodeTangents[primal.id] != nil {
			nodeTangents[primal.id][0] = Add(nodeTangents[primal.id][0], tangents[ii])
		} else {
			nodeTangents[primal.id] = []*Node{tangents[ii]}
		}
	}

	// Only nodes the outputs depend on are visited.
	included := make([]bool, numNodes)
	var markIncluded func(node *Node)
	markIncluded = func(node *Node) {
		if included[node.id] {
			return
		}
		included[node.id] = true
		for _, input := range node.inputNodes {
			markIncluded(input)
		}
	}
	maxOutputId := NodeId(0)
	for _, output := range outputs {
		markIncluded(output)
		maxOutputId = max(maxOutputId, output.id)
	}

	for nodeIdx := NodeId(0); nodeIdx <= maxOutputId; nodeIdx++ {
		node := g.nodes[nodeIdx]
		if !included[nodeIdx] || nodeTangents[nodeIdx] != nil {
			continue
		}
		if splitInputs, ok := node.inputs.(*nodeInputsSplitNode); ok {
			if multiTangents := nodeTangents[splitInputs.multiOutputNode.id]; multiTangents != nil {
				nodeTangents[nodeIdx] = []*Node{multiTangents[splitInputs.index]}
			}
			continue
		}
		inputTangents := make([]*Node, len(node.inputNodes))
		hasTangent := false
		for ii, input := range node.inputNodes {
			if t := nodeTangents[input.id]; t != nil {
				inputTangents[ii] = t[0]
				hasTangent = true
			}
		}
		if !hasTangent {
			continue
		}

		var outputTangents []*Node
		if customInputs, ok := node.inputs.(*nodeInputsCustomCall); ok {
			var err error
			outputTangents, err = customInputs.op.JVP(node, customInputs.operands, inputTangents)
			if err != nil {
				panic(err)
			}
		} else {
			jvpFn, found := JVPRegistration[node.Type()]
			if !found {
				exceptions.Panicf("graph has node %s, for which no JVP is defined", node)
			}
			for ii, input := range node.inputNodes {
				if inputTangents[ii] == nil {
					inputTangents[ii] = ZerosLike(input)
				}
			}
			outputTangents = jvpFn(node, inputTangents)
		}
		if len(outputTangents) != node.NumOutputs() {
			exceptions.Panicf("JVP(%s) returned %d tangents, but the node has %d outputs", node, len(outputTangents), node.NumOutputs())
		}
		for ii, shape := range node.outputShapes {
			if outputTangents[ii] == nil {
				outputTangents[ii] = Zeros(g, shape)
			} else if !outputTangents[ii].Shape().Equal(shape) {
				exceptions.Panicf("invalid JVP calculation for node %s: output #%d shaped %s got a tangent shaped %s",
					node, ii, shape, outputTangents[ii].Shape())
			}
		}
		nodeTangents[nodeIdx] = outputTangents
	}

	results := make([]*Node, len(outputs))
	for ii, output := range outputs {
		if t := nodeTangents[output.id]; t != nil {
			results[ii] = t[0]
		} else {
			results[ii] = ZerosLike(output)
		}
	}
	return results
}

// JVPFn returns a GraphFn that calculates fn and its JVP. The returned function takes as inputs the
// primals followed by one tangent per primal, and returns the outputs of fn followed by their tangents.
func JVPFn(fn GraphFn) GraphFn {
	return func(g *Graph, inputs []*Node) []*Node {
		if len(inputs)%2 != 0 {
			exceptions.Panicf("JVPFn: inputs must be primals followed by one tangent per primal, got %d inputs", len(inputs))
		}
		numPrimals := len(inputs) / 2
		primals, tangents := inputs[:numPrimals], inputs[numPrimals:]
		outputs := fn(g, primals)
		return slices.Concat(outputs, JVP(outputs, primals, tangents))
	}
}

// VJPFn returns a GraphFn that calculates the VJP of fn. The returned function takes as inputs the
// numPrimals inputs of fn followed by one cotangent per output of fn, and returns the cotangents of the
// inputs of fn.
func VJPFn(fn GraphFn, numPrimals int) GraphFn {
	return func(g *Graph, inputs []*Node) []*Node {
		if len(inputs) < numPrimals {
			exceptions.Panicf("VJPFn: expected at least %d inputs, got %d", numPrimals, len(inputs))
		}
		primals, cotangents := inputs[:numPrimals], inputs[numPrimals:]
		outputs := fn(g, primals)
		if len(outputs) != len(cotangents) {
			exceptions.Panicf("VJPFn: function returned %d outputs, but %d cotangents were given", len(outputs), len(cotangents))
		}
		return VJP(outputs, cotangents, primals)
	}
}

// linearJVP re-emits the operation on the tangents: valid for operations linear in all their inputs.
func linearJVP(node *Node, tangents []*Node) []*Node {
	return node.inputs.(rebuilder).rebuild(tangents)
}

func mulJVP(node *Node, tangents []*Node) []*Node {
	lhs, rhs := node.inputNodes[0], node.inputNodes[1]
	return []*Node{Add(Mul(tangents[0], rhs), Mul(lhs, tangents[1]))}
}
