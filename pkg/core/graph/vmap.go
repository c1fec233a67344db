// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"fmt"
	"slices"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/linop/pkg/core/shapes"
)

// NotBatched marks an input (or an intermediary value) of a vectorized function that has no batch axis.
const NotBatched = -1

// BatchRule re-emits node for operands batched along the given axes (NotBatched for operands without
// a batch axis, at least one operand is batched), where batch axes have dimension batchSize.
// It returns the outputs and the batch axis of each output.
type BatchRule func(node *Node, operands []*Node, axes []int, batchSize int) (outputs []*Node, outputAxes []int)

// BatchRegistration maps each NodeType to its BatchRule.
var BatchRegistration map[NodeType]BatchRule

func init() {
	BatchRegistration = map[NodeType]BatchRule{
		NodeTypeAdd:                binaryBatch,
		NodeTypeSub:                binaryBatch,
		NodeTypeMul:                binaryBatch,
		NodeTypeNeg:                negBatch,
		NodeTypeReduceSum:          reduceSumBatch,
		NodeTypeExpandAndBroadcast: expandAndBroadcastBatch,
		NodeTypeTranspose:          transposeBatch,
		NodeTypeTakeAt:             takeAtBatch,
		NodeTypeStack:              stackBatch,
		NodeTypeCustomCall:         customCallBatch,
	}
}

// Vmap vectorizes fn: the returned GraphFn takes inputs with an extra batch axis, given by inAxes, and
// returns the outputs of fn for each element of the batch, stacked along a new axis 0.
//
// inAxes holds the batch axis of each input, or NotBatched for inputs shared by all elements of the batch.
// A single value applies to all inputs, and if none is given the batch axis of every input is 0.
// All batched inputs must have the same dimension along their batch axis.
//
// fn is traced once with the unbatched inputs, and its operations are re-emitted batched. Vmap can be nested.
func Vmap(fn GraphFn, inAxes ...int) GraphFn {
	return func(g *Graph, inputs []*Node) []*Node {
		axes := make([]int, len(inputs))
		switch len(inAxes) {
		case 0:
		case 1:
			for ii := range axes {
				axes[ii] = inAxes[0]
			}
		case len(inputs):
			copy(axes, inAxes)
		default:
			exceptions.Panicf("Vmap: %d input axes given for %d inputs", len(inAxes), len(inputs))
		}

		batchSize := NotBatched
		for ii, input := range inputs {
			if axes[ii] == NotBatched {
				continue
			}
			axes[ii] = shapes.AdjustAxis(axes[ii], input.Rank())
			dim := input.Shape().Dimensions[axes[ii]]
			if batchSize == NotBatched {
				batchSize = dim
			} else if dim != batchSize {
				exceptions.Panicf("Vmap: input #%d has batch dimension %d, but previous inputs have batch dimension %d", ii, dim, batchSize)
			}
		}
		if batchSize == NotBatched {
			exceptions.Panicf("Vmap: at least one input must be batched")
		}

		// Trace fn on the unbatched shapes.
		scratch := NewGraph(fmt.Sprintf("%s/vmap", g.Name()))
		scratchInputs := make([]*Node, len(inputs))
		for ii, input := range inputs {
			shape := input.Shape()
			if axes[ii] != NotBatched {
				shape = shape.RemoveAxis(axes[ii])
			}
			scratchInputs[ii] = scratch.Parameter(fmt.Sprintf("vmap#%d", ii), shape)
		}
		scratchOutputs := fn(scratch, scratchInputs)
		return replayBatched(g, scratch, scratchOutputs, inputs, axes, batchSize)
	}
}

// replayBatched re-emits the nodes of scratch needed by its outputs into g, batched.
// The batched outputs are returned with the batch axis moved to 0.
func replayBatched(g *Graph, scratch *Graph, scratchOutputs, inputs []*Node, inputAxes []int, batchSize int) []*Node {
	numNodes := scratch.NumNodes()
	reachable := make([]bool, numNodes)
	var markReachable func(node *Node)
	markReachable = func(node *Node) {
		if reachable[node.id] {
			return
		}
		reachable[node.id] = true
		for _, input := range node.inputNodes {
			markReachable(input)
		}
	}
	for _, output := range scratchOutputs {
		if output.graph != scratch {
			exceptions.Panicf("Vmap: vectorized function returned a node from a different graph")
		}
		markReachable(output)
	}

	mapped := make([][]*Node, numNodes)
	mappedAxes := make([][]int, numNodes)
	for _, node := range scratch.nodes {
		if !reachable[node.id] {
			continue
		}
		switch ni := node.inputs.(type) {
		case *nodeInputsParameter:
			mapped[node.id] = []*Node{inputs[ni.index]}
			mappedAxes[node.id] = []int{inputAxes[ni.index]}
		case *nodeInputsConstant:
			mapped[node.id] = []*Node{ConstTensor(g, ni.tensor)}
			mappedAxes[node.id] = []int{NotBatched}
		case *nodeInputsSplitNode:
			multiId := ni.multiOutputNode.id
			mapped[node.id] = []*Node{mapped[multiId][ni.index]}
			mappedAxes[node.id] = []int{mappedAxes[multiId][ni.index]}
		default:
			operands := make([]*Node, len(node.inputNodes))
			operandAxes := make([]int, len(node.inputNodes))
			isBatched := false
			for ii, input := range node.inputNodes {
				operands[ii] = mapped[input.id][0]
				operandAxes[ii] = mappedAxes[input.id][0]
				isBatched = isBatched || operandAxes[ii] != NotBatched
			}
			var outputs []*Node
			var outputAxes []int
			if !isBatched {
				outputs = node.inputs.(rebuilder).rebuild(operands)
				outputAxes = slices.Repeat([]int{NotBatched}, len(outputs))
			} else {
				rule, found := BatchRegistration[node.Type()]
				if !found {
					exceptions.Panicf("Vmap: no batching rule for node %s", node)
				}
				outputs, outputAxes = rule(node, operands, operandAxes, batchSize)
			}
			if len(outputs) != node.NumOutputs() || len(outputAxes) != len(outputs) {
				exceptions.Panicf("Vmap: batching node %s returned %d outputs (and %d axes), wanted %d",
					node, len(outputs), len(outputAxes), node.NumOutputs())
			}
			mapped[node.id] = outputs
			mappedAxes[node.id] = outputAxes
		}
	}

	results := make([]*Node, len(scratchOutputs))
	for ii, output := range scratchOutputs {
		result, axis := mapped[output.id][0], mappedAxes[output.id][0]
		if axis == NotBatched {
			results[ii] = BroadcastAlongAxis(result, 0, batchSize)
		} else {
			results[ii] = MoveAxis(result, axis, 0)
		}
	}
	return results
}

// batchToFront returns x with its batch axis moved to 0, or broadcast along a new axis 0 if it is not batched.
func batchToFront(x *Node, axis, batchSize int) *Node {
	if axis == NotBatched {
		return BroadcastAlongAxis(x, 0, batchSize)
	}
	return MoveAxis(x, axis, 0)
}

// shiftAxes returns the axes incremented by one, to account for a batch axis at 0.
func shiftAxes(axes []int) []int {
	shifted := make([]int, len(axes))
	for ii, axis := range axes {
		shifted[ii] = axis + 1
	}
	return shifted
}

func binaryBatch(node *Node, operands []*Node, axes []int, batchSize int) ([]*Node, []int) {
	lhs, rhs := operands[0], operands[1]
	lhsAxis, rhsAxis := axes[0], axes[1]
	switch {
	case lhsAxis == NotBatched:
		lhs = BroadcastAlongAxis(lhs, rhsAxis, batchSize)
		lhsAxis = rhsAxis
	case rhsAxis == NotBatched:
		rhs = BroadcastAlongAxis(rhs, lhsAxis, batchSize)
	case lhsAxis != rhsAxis:
		rhs = MoveAxis(rhs, rhsAxis, lhsAxis)
	}
	return []*Node{binaryOp(node.Type(), lhs, rhs)}, []int{lhsAxis}
}

func negBatch(_ *Node, operands []*Node, axes []int, _ int) ([]*Node, []int) {
	return []*Node{Neg(operands[0])}, []int{axes[0]}
}

func reduceSumBatch(node *Node, operands []*Node, axes []int, batchSize int) ([]*Node, []int) {
	reduceAxes := node.inputs.(*nodeInputsReduceSum).axes
	x := batchToFront(operands[0], axes[0], batchSize)
	return []*Node{ReduceSum(x, shiftAxes(reduceAxes)...)}, []int{0}
}

func expandAndBroadcastBatch(node *Node, operands []*Node, axes []int, batchSize int) ([]*Node, []int) {
	inputs := node.inputs.(*nodeInputsExpandAndBroadcast)
	x := batchToFront(operands[0], axes[0], batchSize)
	dimensions := append([]int{batchSize}, inputs.dimensions...)
	return []*Node{ExpandAndBroadcast(x, dimensions, shiftAxes(inputs.expandedAxes))}, []int{0}
}

func transposeBatch(node *Node, operands []*Node, axes []int, batchSize int) ([]*Node, []int) {
	permutation := node.inputs.(*nodeInputsTranspose).permutation
	x := batchToFront(operands[0], axes[0], batchSize)
	return []*Node{TransposeAllAxes(x, append([]int{0}, shiftAxes(permutation)...)...)}, []int{0}
}

func takeAtBatch(node *Node, operands []*Node, axes []int, batchSize int) ([]*Node, []int) {
	inputs := node.inputs.(*nodeInputsTakeAt)
	x := batchToFront(operands[0], axes[0], batchSize)
	return []*Node{TakeAt(x, inputs.axis+1, inputs.index)}, []int{0}
}

func stackBatch(node *Node, operands []*Node, axes []int, batchSize int) ([]*Node, []int) {
	stackAxis := node.inputs.(*nodeInputsStack).axis
	batched := make([]*Node, len(operands))
	for ii, operand := range operands {
		batched[ii] = batchToFront(operand, axes[ii], batchSize)
	}
	return []*Node{Stack(batched, stackAxis+1)}, []int{0}
}

// customCallBatch delegates to the CustomOp, and panics with its error, if any.
func customCallBatch(node *Node, operands []*Node, axes []int, batchSize int) ([]*Node, []int) {
	op := node.inputs.(*nodeInputsCustomCall).op
	outputs, outputAxes, err := op.Batch(operands[0].Graph(), operands, axes, batchSize)
	if err != nil {
		panic(err)
	}
	return outputs, outputAxes
}
