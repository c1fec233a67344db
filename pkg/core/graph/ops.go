// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"fmt"
	"slices"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/linop/pkg/core/shapes"
	"github.com/gomlx/linop/pkg/core/tensors"
	"github.com/gomlx/linop/pkg/support/xslices"
	"github.com/x448/float16"
)

// nodeInputsParameter holds the inputs used for the call to Graph.Parameter.
type nodeInputsParameter struct {
	name  string
	index int
}

func (ni *nodeInputsParameter) Type() NodeType { return NodeTypeParameter }
func (ni *nodeInputsParameter) String() string {
	return fmt.Sprintf("%q, index=%d", ni.name, ni.index)
}
func (ni *nodeInputsParameter) rebuild([]*Node) []*Node {
	exceptions.Panicf("Parameter nodes cannot be rebuilt")
	return nil
}

// nodeInputsConstant holds the inputs used for the call to ConstTensor.
type nodeInputsConstant struct {
	tensor *tensors.Tensor
}

func (ni *nodeInputsConstant) Type() NodeType { return NodeTypeConstant }
func (ni *nodeInputsConstant) String() string {
	if ni.tensor.Size() <= 4 {
		return fmt.Sprintf("%v", ni.tensor.Value())
	}
	return "..."
}
func (ni *nodeInputsConstant) rebuild([]*Node) []*Node {
	exceptions.Panicf("Constant nodes cannot be rebuilt")
	return nil
}

// nodeInputsSplitNode holds the inputs of a node that extracts one output of a multi-output node.
type nodeInputsSplitNode struct {
	multiOutputNode *Node
	index           int
}

func (ni *nodeInputsSplitNode) Type() NodeType { return NodeTypeSplitNode }
func (ni *nodeInputsSplitNode) String() string {
	return fmt.Sprintf("#%d, index=%d", ni.multiOutputNode.Id(), ni.index)
}
func (ni *nodeInputsSplitNode) rebuild([]*Node) []*Node {
	exceptions.Panicf("SplitNode nodes cannot be rebuilt")
	return nil
}

// nodeInputsBinary holds the inputs of the element-wise binary operations Add, Sub and Mul.
type nodeInputsBinary struct {
	opType   NodeType
	lhs, rhs *Node
}

func (ni *nodeInputsBinary) Type() NodeType { return ni.opType }
func (ni *nodeInputsBinary) String() string {
	return fmt.Sprintf("#%d, #%d", ni.lhs.Id(), ni.rhs.Id())
}
func (ni *nodeInputsBinary) rebuild(operands []*Node) []*Node {
	return []*Node{binaryOp(ni.opType, operands[0], operands[1])}
}

// nodeInputsNeg holds the inputs used for the call to Neg.
type nodeInputsNeg struct {
	x *Node
}

func (ni *nodeInputsNeg) Type() NodeType { return NodeTypeNeg }
func (ni *nodeInputsNeg) String() string { return fmt.Sprintf("#%d", ni.x.Id()) }
func (ni *nodeInputsNeg) rebuild(operands []*Node) []*Node {
	return []*Node{Neg(operands[0])}
}

// nodeInputsReduceSum holds the inputs used for the call to ReduceSum.
type nodeInputsReduceSum struct {
	x    *Node
	axes []int
}

func (ni *nodeInputsReduceSum) Type() NodeType { return NodeTypeReduceSum }
func (ni *nodeInputsReduceSum) String() string {
	return fmt.Sprintf("#%d, axes=%v", ni.x.Id(), ni.axes)
}
func (ni *nodeInputsReduceSum) rebuild(operands []*Node) []*Node {
	return []*Node{ReduceSum(operands[0], ni.axes...)}
}

// nodeInputsExpandAndBroadcast holds the inputs used for the call to ExpandAndBroadcast.
type nodeInputsExpandAndBroadcast struct {
	x                        *Node
	dimensions, expandedAxes []int
}

func (ni *nodeInputsExpandAndBroadcast) Type() NodeType { return NodeTypeExpandAndBroadcast }
func (ni *nodeInputsExpandAndBroadcast) String() string {
	return fmt.Sprintf("#%d, dimensions=%v, expandedAxes=%v", ni.x.Id(), ni.dimensions, ni.expandedAxes)
}
func (ni *nodeInputsExpandAndBroadcast) rebuild(operands []*Node) []*Node {
	return []*Node{ExpandAndBroadcast(operands[0], ni.dimensions, ni.expandedAxes)}
}

// nodeInputsTranspose holds the inputs used for the call to TransposeAllAxes.
type nodeInputsTranspose struct {
	x           *Node
	permutation []int
}

func (ni *nodeInputsTranspose) Type() NodeType { return NodeTypeTranspose }
func (ni *nodeInputsTranspose) String() string {
	return fmt.Sprintf("#%d, permutation=%v", ni.x.Id(), ni.permutation)
}
func (ni *nodeInputsTranspose) rebuild(operands []*Node) []*Node {
	return []*Node{TransposeAllAxes(operands[0], ni.permutation...)}
}

// nodeInputsTakeAt holds the inputs used for the call to TakeAt.
type nodeInputsTakeAt struct {
	x           *Node
	axis, index int
}

func (ni *nodeInputsTakeAt) Type() NodeType { return NodeTypeTakeAt }
func (ni *nodeInputsTakeAt) String() string {
	return fmt.Sprintf("#%d, axis=%d, index=%d", ni.x.Id(), ni.axis, ni.index)
}
func (ni *nodeInputsTakeAt) rebuild(operands []*Node) []*Node {
	return []*Node{TakeAt(operands[0], ni.axis, ni.index)}
}

// nodeInputsStack holds the inputs used for the call to Stack.
type nodeInputsStack struct {
	operands []*Node
	axis     int
}

func (ni *nodeInputsStack) Type() NodeType { return NodeTypeStack }
func (ni *nodeInputsStack) String() string {
	return fmt.Sprintf("[%s], axis=%d", nodeIdsString(ni.operands), ni.axis)
}
func (ni *nodeInputsStack) rebuild(operands []*Node) []*Node {
	return []*Node{Stack(operands, ni.axis)}
}

// rebuilder is implemented by the inputs of every node that can be re-created with new operands
// (of possibly different shapes), used by Vmap for nodes without batched operands.
type rebuilder interface {
	rebuild(operands []*Node) []*Node
}

// ConstTensor returns a newly created constant node for the tensor x.
//
// The tensor is owned by the graph from now on, and shouldn't be changed.
func ConstTensor(g *Graph, x *tensors.Tensor) *Node {
	g.AssertBuilding()
	x.AssertValid()
	return newNode(g, &nodeInputsConstant{tensor: x}, nil, x.Shape())
}

// Const creates a constant in the graph with the given value: a scalar or a multidimensional slice,
// converted with tensors.FromValue.
func Const(g *Graph, value any) *Node {
	return ConstTensor(g, tensors.FromValue(value))
}

// Scalar returns a constant scalar with the given value converted to dtype.
func Scalar(g *Graph, dtype dtypes.DType, value float64) *Node {
	return ConstTensor(g, scalarTensor(dtype, value))
}

// scalarTensor creates a scalar tensor of the given dtype from a float64 value.
func scalarTensor(dtype dtypes.DType, value float64) *tensors.Tensor {
	switch dtype {
	case dtypes.Float32:
		return tensors.FromScalar(float32(value))
	case dtypes.Float64:
		return tensors.FromScalar(value)
	case dtypes.Float16:
		return tensors.FromScalar(float16.Fromfloat32(float32(value)))
	case dtypes.Complex64:
		return tensors.FromScalar(complex(float32(value), 0))
	case dtypes.Complex128:
		return tensors.FromScalar(complex(value, 0))
	case dtypes.Int32:
		return tensors.FromScalar(int32(value))
	case dtypes.Int64:
		return tensors.FromScalar(int64(value))
	case dtypes.Uint8:
		return tensors.FromScalar(uint8(value))
	}
	exceptions.Panicf("scalar constants of dtype %s not supported", dtype)
	return nil
}

// Zeros creates a computation with the same shape as the input, but with the value 0.
func Zeros(g *Graph, shape shapes.Shape) *Node {
	return BroadcastToDims(Scalar(g, shape.DType, 0), shape.Dimensions...)
}

// Ones creates a computation with the same shape as the input, but with the value 1.
func Ones(g *Graph, shape shapes.Shape) *Node {
	return BroadcastToDims(Scalar(g, shape.DType, 1), shape.Dimensions...)
}

// ZerosLike returns a tensor with the same shape of x, filled with 0's.
func ZerosLike(x *Node) *Node {
	return Zeros(x.Graph(), x.Shape())
}

// OnesLike returns a tensor with the same shape of x, filled with 1's.
func OnesLike(x *Node) *Node {
	return Ones(x.Graph(), x.Shape())
}

// Add adds the two nodes element-wise. Their shapes must match, or one of them must be a scalar,
// in which case it is broadcast to the shape of the other.
func Add(lhs, rhs *Node) *Node {
	return binaryOp(NodeTypeAdd, lhs, rhs)
}

// Sub subtracts rhs from lhs element-wise. See Add for the shape requirements.
func Sub(lhs, rhs *Node) *Node {
	return binaryOp(NodeTypeSub, lhs, rhs)
}

// Mul multiplies the two nodes element-wise. See Add for the shape requirements.
func Mul(lhs, rhs *Node) *Node {
	return binaryOp(NodeTypeMul, lhs, rhs)
}

func binaryOp(opType NodeType, lhs, rhs *Node) *Node {
	g := validateBuildingGraphFromInputs(lhs, rhs)
	if lhs.DType() != rhs.DType() {
		exceptions.Panicf("%s(%s, %s): dtypes don't match", opType, lhs.Shape(), rhs.Shape())
	}
	if !lhs.Shape().Equal(rhs.Shape()) {
		switch {
		case rhs.IsScalar():
			rhs = BroadcastToDims(rhs, lhs.Shape().Dimensions...)
		case lhs.IsScalar():
			lhs = BroadcastToDims(lhs, rhs.Shape().Dimensions...)
		default:
			exceptions.Panicf("%s(%s, %s): shapes don't match", opType, lhs.Shape(), rhs.Shape())
		}
	}
	return newNode(g, &nodeInputsBinary{opType: opType, lhs: lhs, rhs: rhs}, []*Node{lhs, rhs}, lhs.Shape())
}

// Neg returns the element-wise negation of x.
func Neg(x *Node) *Node {
	g := validateBuildingGraphFromInputs(x)
	return newNode(g, &nodeInputsNeg{x: x}, []*Node{x}, x.Shape())
}

// ReduceSum reduces x by summing over the given axes, which are removed from the output.
// Negative axes count from the end. If no axes are given, it reduces over all axes.
func ReduceSum(x *Node, reduceAxes ...int) *Node {
	g := validateBuildingGraphFromInputs(x)
	rank := x.Rank()
	var axes []int
	if len(reduceAxes) == 0 {
		axes = xslices.Iota(0, rank)
	} else {
		axes = make([]int, 0, len(reduceAxes))
		for _, axis := range reduceAxes {
			adjusted := shapes.AdjustAxis(axis, rank)
			if slices.Contains(axes, adjusted) {
				exceptions.Panicf("ReduceSum(%s, axes=%v): axis %d given more than once", x.Shape(), reduceAxes, axis)
			}
			axes = append(axes, adjusted)
		}
		slices.Sort(axes)
	}
	if len(axes) == 0 {
		return x
	}
	outputShape := x.Shape()
	for ii := len(axes) - 1; ii >= 0; ii-- {
		outputShape = outputShape.RemoveAxis(axes[ii])
	}
	return newNode(g, &nodeInputsReduceSum{x: x, axes: axes}, []*Node{x}, outputShape)
}

// ReduceAllSum reduces all dimensions to a scalar by summing.
func ReduceAllSum(x *Node) *Node {
	return ReduceSum(x)
}

// ExpandAndBroadcast inserts new axes into x (at the expandedAxes positions of the output) and broadcast
// the values along them.
//
// The output has the given dimensions: its rank is x.Rank()+len(expandedAxes), and the dimensions of the
// non-expanded axes must match the ones of x, in order.
func ExpandAndBroadcast(x *Node, dimensions []int, expandedAxes []int) *Node {
	g := validateBuildingGraphFromInputs(x)
	if len(expandedAxes) == 0 {
		if !slices.Equal(dimensions, x.Shape().Dimensions) {
			exceptions.Panicf("ExpandAndBroadcast(%s, dimensions=%v): no axes to expand, but dimensions differ", x.Shape(), dimensions)
		}
		return x
	}
	outputRank := len(dimensions)
	if outputRank != x.Rank()+len(expandedAxes) {
		exceptions.Panicf("ExpandAndBroadcast(%s, dimensions=%v, expandedAxes=%v): output rank must be x.Rank()+len(expandedAxes)",
			x.Shape(), dimensions, expandedAxes)
	}
	axes := slices.Clone(expandedAxes)
	for ii, axis := range axes {
		axes[ii] = shapes.AdjustAxis(axis, outputRank)
	}
	slices.Sort(axes)
	if len(slices.Compact(slices.Clone(axes))) != len(axes) {
		exceptions.Panicf("ExpandAndBroadcast(%s, expandedAxes=%v): repeated axes", x.Shape(), expandedAxes)
	}
	inputAxis := 0
	for outputAxis, dim := range dimensions {
		if slices.Contains(axes, outputAxis) {
			continue
		}
		if x.Shape().Dimensions[inputAxis] != dim {
			exceptions.Panicf("ExpandAndBroadcast(%s, dimensions=%v, expandedAxes=%v): output axis %d has dimension %d, but input axis %d has dimension %d",
				x.Shape(), dimensions, expandedAxes, outputAxis, dim, inputAxis, x.Shape().Dimensions[inputAxis])
		}
		inputAxis++
	}
	outputShape := shapes.Make(x.DType(), dimensions...)
	inputs := &nodeInputsExpandAndBroadcast{x: x, dimensions: slices.Clone(dimensions), expandedAxes: axes}
	return newNode(g, inputs, []*Node{x}, outputShape)
}

// BroadcastToDims broadcasts a scalar x to the given dimensions.
func BroadcastToDims(x *Node, dimensions ...int) *Node {
	if !x.IsScalar() {
		exceptions.Panicf("BroadcastToDims(%s): only scalars can be broadcast, use ExpandAndBroadcast instead", x.Shape())
	}
	if len(dimensions) == 0 {
		return x
	}
	return ExpandAndBroadcast(x, dimensions, xslices.Iota(0, len(dimensions)))
}

// BroadcastAlongAxis inserts a new axis of dimension dim at the given position, broadcasting x along it.
func BroadcastAlongAxis(x *Node, axis, dim int) *Node {
	return ExpandAndBroadcast(x, x.Shape().InsertAxis(axis, dim).Dimensions, []int{axis})
}

// TransposeAllAxes allows one to transpose any or all dimensions.
// It permutes the operand axes with the given permutation, so ∀ i in 0..rank: input.Dimensions[permutation[i]] == output.Dimensions[i].
func TransposeAllAxes(x *Node, permutation ...int) *Node {
	g := validateBuildingGraphFromInputs(x)
	rank := x.Rank()
	if len(permutation) != rank {
		exceptions.Panicf("TransposeAllAxes(%s, %v): permutation must have one element per axis", x.Shape(), permutation)
	}
	used := make([]bool, rank)
	isIdentity := true
	for ii, axis := range permutation {
		if axis < 0 || axis >= rank || used[axis] {
			exceptions.Panicf("TransposeAllAxes(%s, %v): invalid permutation", x.Shape(), permutation)
		}
		used[axis] = true
		isIdentity = isIdentity && axis == ii
	}
	if isIdentity {
		return x
	}
	outputShape := x.Shape().Clone()
	for ii, axis := range permutation {
		outputShape.Dimensions[ii] = x.Shape().Dimensions[axis]
	}
	inputs := &nodeInputsTranspose{x: x, permutation: slices.Clone(permutation)}
	return newNode(g, inputs, []*Node{x}, outputShape)
}

// MoveAxis moves the axis fromAxis of x to the position toAxis, shifting the axes in between.
// Negative axes count from the end.
func MoveAxis(x *Node, fromAxis, toAxis int) *Node {
	rank := x.Rank()
	fromAxis = shapes.AdjustAxis(fromAxis, rank)
	toAxis = shapes.AdjustAxis(toAxis, rank)
	if fromAxis == toAxis {
		return x
	}
	permutation := make([]int, 0, rank)
	for axis := range rank {
		if axis != fromAxis {
			permutation = append(permutation, axis)
		}
	}
	permutation = slices.Insert(permutation, toAxis, fromAxis)
	return TransposeAllAxes(x, permutation...)
}

// TakeAt returns the slice of x at the given index of axis, with the axis removed.
// E.g.: TakeAt(x, 0, 2) is the equivalent of x[2] in most languages.
func TakeAt(x *Node, axis, index int) *Node {
	g := validateBuildingGraphFromInputs(x)
	axis = shapes.AdjustAxis(axis, x.Rank())
	dim := x.Shape().Dimensions[axis]
	if index < 0 || index >= dim {
		exceptions.Panicf("TakeAt(%s, axis=%d, index=%d): index out-of-bounds", x.Shape(), axis, index)
	}
	inputs := &nodeInputsTakeAt{x: x, axis: axis, index: index}
	return newNode(g, inputs, []*Node{x}, x.Shape().RemoveAxis(axis))
}

// Stack puts together the operands (which must all have the same shape) along a new axis, inserted
// at the position axis (0 <= axis <= rank). The new axis has dimension len(operands).
func Stack(operands []*Node, axis int) *Node {
	g := validateBuildingGraphFromInputs(operands...)
	shape := operands[0].Shape()
	for ii, operand := range operands {
		if !operand.Shape().Equal(shape) {
			exceptions.Panicf("Stack(axis=%d): operand #%d has shape %s, but operand #0 has shape %s", axis, ii, operand.Shape(), shape)
		}
	}
	if axis < 0 || axis > shape.Rank() {
		exceptions.Panicf("Stack(axis=%d): axis out-of-bounds for operands of shape %s", axis, shape)
	}
	inputs := &nodeInputsStack{operands: slices.Clone(operands), axis: axis}
	return newNode(g, inputs, slices.Clone(operands), shape.InsertAxis(axis, len(operands)))
}

// splitNode splits a multi-output node into one node per output. For single output nodes, it returns
// the node itself.
func splitNode(multiOutputNode *Node) []*Node {
	if !multiOutputNode.IsMultiOutput() {
		return []*Node{multiOutputNode}
	}
	g := multiOutputNode.graph
	splits := make([]*Node, len(multiOutputNode.outputShapes))
	for ii, shape := range multiOutputNode.outputShapes {
		inputs := &nodeInputsSplitNode{multiOutputNode: multiOutputNode, index: ii}
		splits[ii] = newNode(g, inputs, []*Node{multiOutputNode}, shape)
	}
	return splits
}
