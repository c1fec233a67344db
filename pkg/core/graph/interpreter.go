// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"time"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/linop/pkg/core/shapes"
	"github.com/gomlx/linop/pkg/core/tensors"
	"github.com/x448/float16"
	"k8s.io/klog/v2"
)

// kernelFn executes a node, given the values of its input nodes, and returns its outputs.
type kernelFn func(node *Node, operands []*tensors.Tensor) []*tensors.Tensor

// nodeKernels maps each NodeType to its executor. Parameter, Constant and SplitNode are handled by Run.
var nodeKernels map[NodeType]kernelFn

func init() {
	nodeKernels = map[NodeType]kernelFn{
		NodeTypeAdd:                execBinary,
		NodeTypeSub:                execBinary,
		NodeTypeMul:                execBinary,
		NodeTypeNeg:                execNeg,
		NodeTypeReduceSum:          execReduceSum,
		NodeTypeExpandAndBroadcast: execExpandAndBroadcast,
		NodeTypeTranspose:          execTranspose,
		NodeTypeTakeAt:             execTakeAt,
		NodeTypeStack:              execStack,
		NodeTypeCustomCall:         execCustomCall,
	}
}

// Run executes the compiled graph with the given inputs, one per parameter in the order they were created,
// and returns the values of the outputs.
//
// It panics with the error returned by a custom operation's host function, unchanged, or with
// an error describing invalid inputs. See Exec for a version that returns errors.
func (g *Graph) Run(inputs ...*tensors.Tensor) []*tensors.Tensor {
	g.AssertCompiled()
	if len(inputs) != len(g.parameters) {
		exceptions.Panicf("Graph %q takes %d parameters, but %d inputs were given", g.name, len(g.parameters), len(inputs))
	}
	for ii, param := range g.parameters {
		inputs[ii].AssertValid()
		if !inputs[ii].Shape().Equal(param.Shape()) {
			exceptions.Panicf("Graph %q parameter #%d (%q) has shape %s, but input has shape %s",
				g.name, ii, param.ParameterName(), param.Shape(), inputs[ii].Shape())
		}
	}
	var start time.Time
	if klog.V(1).Enabled() {
		start = time.Now()
	}

	values := make([][]*tensors.Tensor, len(g.nodes))
	for _, node := range g.nodes {
		if !g.needed[node.id] {
			continue
		}
		switch ni := node.inputs.(type) {
		case *nodeInputsParameter:
			values[node.id] = []*tensors.Tensor{inputs[ni.index]}
		case *nodeInputsConstant:
			values[node.id] = []*tensors.Tensor{ni.tensor}
		case *nodeInputsSplitNode:
			values[node.id] = []*tensors.Tensor{values[ni.multiOutputNode.id][ni.index]}
		default:
			kernel, found := nodeKernels[node.Type()]
			if !found {
				exceptions.Panicf("Graph %q: no executor for node %s", g.name, node)
			}
			operands := make([]*tensors.Tensor, len(node.inputNodes))
			for ii, input := range node.inputNodes {
				operands[ii] = values[input.id][0]
			}
			values[node.id] = kernel(node, operands)
		}
		if g.traced && !node.IsMultiOutput() {
			klog.Infof("%s: %s", node, values[node.id][0])
		}
	}

	outputs := make([]*tensors.Tensor, len(g.outputs))
	for ii, output := range g.outputs {
		value := values[output.id][0]
		switch output.Type() {
		case NodeTypeParameter, NodeTypeConstant:
			// Outputs own their values: parameters and constants are shared with the caller and graph.
			value = value.LocalClone()
		}
		outputs[ii] = value
	}
	if klog.V(1).Enabled() {
		klog.Infof("Graph %q executed in %s", g.name, time.Since(start))
	}
	return outputs
}

func releaseViews(views ...*tensors.View) {
	for _, view := range views {
		view.Release()
	}
}

func execCustomCall(node *Node, operands []*tensors.Tensor) []*tensors.Tensor {
	op := node.inputs.(*nodeInputsCustomCall).op
	outputs := make([]*tensors.Tensor, len(node.outputShapes))
	outputViews := make([]*tensors.View, len(node.outputShapes))
	for ii, shape := range node.outputShapes {
		outputs[ii] = tensors.FromShape(shape)
		outputViews[ii] = outputs[ii].MutableView()
	}
	operandViews := make([]*tensors.View, len(operands))
	for ii, operand := range operands {
		operandViews[ii] = operand.ReadOnlyView()
	}
	if klog.V(2).Enabled() {
		klog.Infof("executing custom call %s", node)
	}
	err := func() error {
		defer releaseViews(outputViews...)
		defer releaseViews(operandViews...)
		return op.Execute(outputViews, operandViews)
	}()
	if err != nil {
		panic(err)
	}
	return outputs
}

// elementSize returns the number of bytes of one element of the dtype of shape.
func elementSize(shape shapes.Shape) int {
	return int(shape.DType.Memory())
}

// execTranspose permutes the axes, moving bytes: it works for every dtype.
func execTranspose(node *Node, operands []*tensors.Tensor) []*tensors.Tensor {
	permutation := node.inputs.(*nodeInputsTranspose).permutation
	inputStrides := operands[0].Shape().Strides()
	return moveBytes(node, operands, func(outputIndices []int) (operandIdx, flatIdx int) {
		for axis, idx := range outputIndices {
			flatIdx += idx * inputStrides[permutation[axis]]
		}
		return
	})
}

func execTakeAt(node *Node, operands []*tensors.Tensor) []*tensors.Tensor {
	inputs := node.inputs.(*nodeInputsTakeAt)
	inputStrides := operands[0].Shape().Strides()
	return moveBytes(node, operands, func(outputIndices []int) (operandIdx, flatIdx int) {
		flatIdx = inputs.index * inputStrides[inputs.axis]
		for axis, idx := range outputIndices {
			if axis >= inputs.axis {
				flatIdx += idx * inputStrides[axis+1]
			} else {
				flatIdx += idx * inputStrides[axis]
			}
		}
		return
	})
}

func execStack(node *Node, operands []*tensors.Tensor) []*tensors.Tensor {
	stackAxis := node.inputs.(*nodeInputsStack).axis
	operandStrides := operands[0].Shape().Strides()
	return moveBytes(node, operands, func(outputIndices []int) (operandIdx, flatIdx int) {
		for axis, idx := range outputIndices {
			switch {
			case axis < stackAxis:
				flatIdx += idx * operandStrides[axis]
			case axis == stackAxis:
				operandIdx = idx
			default:
				flatIdx += idx * operandStrides[axis-1]
			}
		}
		return
	})
}

func execExpandAndBroadcast(node *Node, operands []*tensors.Tensor) []*tensors.Tensor {
	expandedAxes := node.inputs.(*nodeInputsExpandAndBroadcast).expandedAxes
	isExpanded := make([]bool, node.Rank())
	for _, axis := range expandedAxes {
		isExpanded[axis] = true
	}
	inputStrides := operands[0].Shape().Strides()
	return moveBytes(node, operands, func(outputIndices []int) (operandIdx, flatIdx int) {
		inputAxis := 0
		for axis, idx := range outputIndices {
			if isExpanded[axis] {
				continue
			}
			flatIdx += idx * inputStrides[inputAxis]
			inputAxis++
		}
		return
	})
}

// moveBytes creates the output of node by copying, for each output element, the element of the operand
// selected by sourceFn, given the output indices.
func moveBytes(node *Node, operands []*tensors.Tensor, sourceFn func(outputIndices []int) (operandIdx, flatIdx int)) []*tensors.Tensor {
	outputShape := node.Shape()
	output := tensors.FromShape(outputShape)
	outputView := output.MutableView()
	operandViews := make([]*tensors.View, len(operands))
	operandBytes := make([][]byte, len(operands))
	for ii, operand := range operands {
		operandViews[ii] = operand.ReadOnlyView()
		operandBytes[ii] = operandViews[ii].Bytes()
	}
	defer releaseViews(operandViews...)
	defer releaseViews(outputView)

	elemSize := elementSize(outputShape)
	outputBytes := outputView.MutableBytes()
	for outputFlatIdx, outputIndices := range outputShape.Iter() {
		operandIdx, flatIdx := sourceFn(outputIndices)
		copy(outputBytes[outputFlatIdx*elemSize:(outputFlatIdx+1)*elemSize],
			operandBytes[operandIdx][flatIdx*elemSize:(flatIdx+1)*elemSize])
	}
	return []*tensors.Tensor{output}
}

// numeric types supported by the arithmetic kernels. Float16 is computed in float32.
type numeric interface {
	~float32 | ~float64 | ~complex64 | ~complex128 | ~int32 | ~int64 | ~uint8
}

func binaryKernel[T numeric](opType NodeType, lhs, rhs, output []T) {
	switch opType {
	case NodeTypeAdd:
		for ii := range output {
			output[ii] = lhs[ii] + rhs[ii]
		}
	case NodeTypeSub:
		for ii := range output {
			output[ii] = lhs[ii] - rhs[ii]
		}
	case NodeTypeMul:
		for ii := range output {
			output[ii] = lhs[ii] * rhs[ii]
		}
	}
}

func negKernel[T numeric](input, output []T) {
	for ii, v := range input {
		output[ii] = -v
	}
}

func float16ToFloat32(flat []float16.Float16) []float32 {
	converted := make([]float32, len(flat))
	for ii, v := range flat {
		converted[ii] = v.Float32()
	}
	return converted
}

func float32ToFloat16(from []float32, to []float16.Float16) {
	for ii, v := range from {
		to[ii] = float16.Fromfloat32(v)
	}
}

func execBinary(node *Node, operands []*tensors.Tensor) []*tensors.Tensor {
	opType := node.Type()
	output := tensors.FromShape(node.Shape())
	lhs, rhs, out := operands[0].ReadOnlyView(), operands[1].ReadOnlyView(), output.MutableView()
	defer releaseViews(lhs, rhs, out)
	switch outFlat := out.MutableFlat().(type) {
	case []float32:
		binaryKernel(opType, lhs.Flat().([]float32), rhs.Flat().([]float32), outFlat)
	case []float64:
		binaryKernel(opType, lhs.Flat().([]float64), rhs.Flat().([]float64), outFlat)
	case []complex64:
		binaryKernel(opType, lhs.Flat().([]complex64), rhs.Flat().([]complex64), outFlat)
	case []complex128:
		binaryKernel(opType, lhs.Flat().([]complex128), rhs.Flat().([]complex128), outFlat)
	case []int32:
		binaryKernel(opType, lhs.Flat().([]int32), rhs.Flat().([]int32), outFlat)
	case []int64:
		binaryKernel(opType, lhs.Flat().([]int64), rhs.Flat().([]int64), outFlat)
	case []uint8:
		binaryKernel(opType, lhs.Flat().([]uint8), rhs.Flat().([]uint8), outFlat)
	case []float16.Float16:
		result := make([]float32, len(outFlat))
		binaryKernel(opType, float16ToFloat32(lhs.Flat().([]float16.Float16)), float16ToFloat32(rhs.Flat().([]float16.Float16)), result)
		float32ToFloat16(result, outFlat)
	default:
		exceptions.Panicf("%s not implemented for dtype %s", opType, node.DType())
	}
	return []*tensors.Tensor{output}
}

func execNeg(node *Node, operands []*tensors.Tensor) []*tensors.Tensor {
	output := tensors.FromShape(node.Shape())
	input, out := operands[0].ReadOnlyView(), output.MutableView()
	defer releaseViews(input, out)
	switch outFlat := out.MutableFlat().(type) {
	case []float32:
		negKernel(input.Flat().([]float32), outFlat)
	case []float64:
		negKernel(input.Flat().([]float64), outFlat)
	case []complex64:
		negKernel(input.Flat().([]complex64), outFlat)
	case []complex128:
		negKernel(input.Flat().([]complex128), outFlat)
	case []int32:
		negKernel(input.Flat().([]int32), outFlat)
	case []int64:
		negKernel(input.Flat().([]int64), outFlat)
	case []float16.Float16:
		result := make([]float32, len(outFlat))
		negKernel(float16ToFloat32(input.Flat().([]float16.Float16)), result)
		float32ToFloat16(result, outFlat)
	default:
		exceptions.Panicf("Neg not implemented for dtype %s", node.DType())
	}
	return []*tensors.Tensor{output}
}

// reduceSumKernel accumulates each input element into the output element of its non-reduced indices.
func reduceSumKernel[T numeric](input []T, inputShape shapes.Shape, isReduced []bool, output []T, outputStrides []int) {
	for inputFlatIdx, indices := range inputShape.Iter() {
		outputFlatIdx := 0
		outputAxis := 0
		for axis, idx := range indices {
			if isReduced[axis] {
				continue
			}
			outputFlatIdx += idx * outputStrides[outputAxis]
			outputAxis++
		}
		output[outputFlatIdx] += input[inputFlatIdx]
	}
}

func execReduceSum(node *Node, operands []*tensors.Tensor) []*tensors.Tensor {
	inputShape := operands[0].Shape()
	isReduced := make([]bool, inputShape.Rank())
	for _, axis := range node.inputs.(*nodeInputsReduceSum).axes {
		isReduced[axis] = true
	}
	outputStrides := node.Shape().Strides()
	output := tensors.FromShape(node.Shape())
	input, out := operands[0].ReadOnlyView(), output.MutableView()
	defer releaseViews(input, out)
	switch outFlat := out.MutableFlat().(type) {
	case []float32:
		reduceSumKernel(input.Flat().([]float32), inputShape, isReduced, outFlat, outputStrides)
	case []float64:
		reduceSumKernel(input.Flat().([]float64), inputShape, isReduced, outFlat, outputStrides)
	case []complex64:
		reduceSumKernel(input.Flat().([]complex64), inputShape, isReduced, outFlat, outputStrides)
	case []complex128:
		reduceSumKernel(input.Flat().([]complex128), inputShape, isReduced, outFlat, outputStrides)
	case []int32:
		reduceSumKernel(input.Flat().([]int32), inputShape, isReduced, outFlat, outputStrides)
	case []int64:
		reduceSumKernel(input.Flat().([]int64), inputShape, isReduced, outFlat, outputStrides)
	case []uint8:
		reduceSumKernel(input.Flat().([]uint8), inputShape, isReduced, outFlat, outputStrides)
	case []float16.Float16:
		result := make([]float32, len(outFlat))
		reduceSumKernel(float16ToFloat32(input.Flat().([]float16.Float16)), inputShape, isReduced, result, outputStrides)
		float32ToFloat16(result, outFlat)
	default:
		exceptions.Panicf("ReduceSum not implemented for dtype %s", node.DType())
	}
	return []*tensors.Tensor{output}
}
