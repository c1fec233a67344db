// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"fmt"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/linop/pkg/core/shapes"
	"github.com/gomlx/linop/pkg/core/tensors"
	"github.com/pkg/errors"
)

// CustomOp is an operation defined outside the graph package, executed by a host function.
//
// Besides execution, it provides the rules used by the graph transformations: VJP (reverse-mode autodiff),
// JVP (forward-mode autodiff) and Batch (used by Vmap).
//
// Errors returned by any of the methods are raised (panicked) unchanged by the graph building functions,
// and returned unchanged by Exec.
type CustomOp interface {
	// Name of the operation, used for logging and error messages.
	Name() string

	// OutputShapes returns the shapes of the outputs for the given operand shapes.
	// It is called once, when the node is created.
	OutputShapes(operands []shapes.Shape) ([]shapes.Shape, error)

	// Execute computes the outputs, pre-allocated with the shapes returned by OutputShapes,
	// from the operands. The views are only valid during the call.
	Execute(outputs, operands []*tensors.View) error

	// VJP returns the cotangents of each operand, given the cotangents of each output.
	// A nil cotangent for an operand means it doesn't receive any gradient.
	VJP(node *Node, operands, cotangents []*Node) ([]*Node, error)

	// JVP returns the tangents of each output, given the primal operands and their tangents.
	// Tangents for operands that don't depend on the differentiated inputs are nil.
	JVP(node *Node, operands, tangents []*Node) ([]*Node, error)

	// Batch re-emits the operation for operands batched along the given axes (NotBatched for the
	// operands without a batch axis), where every batch axis has dimension batchSize.
	// It returns the outputs and the batch axis of each output.
	Batch(g *Graph, operands []*Node, axes []int, batchSize int) (outputs []*Node, outputAxes []int, err error)
}

// nodeInputsCustomCall holds the inputs used for the call to CustomCall.
type nodeInputsCustomCall struct {
	op       CustomOp
	operands []*Node
}

func (ni *nodeInputsCustomCall) Type() NodeType { return NodeTypeCustomCall }
func (ni *nodeInputsCustomCall) String() string {
	return fmt.Sprintf("%s(%s)", ni.op.Name(), nodeIdsString(ni.operands))
}
func (ni *nodeInputsCustomCall) rebuild(operands []*Node) []*Node {
	return CustomCall(ni.op, operands...)
}

// CustomCall adds a node executing the custom operation op on the given operands, and returns its outputs.
//
// It panics with the error returned by op.OutputShapes, if any.
func CustomCall(op CustomOp, operands ...*Node) []*Node {
	if len(operands) == 0 {
		exceptions.Panicf("CustomCall(%s): at least one operand is required", op.Name())
	}
	g := validateBuildingGraphFromInputs(operands...)
	operandShapes := make([]shapes.Shape, len(operands))
	for ii, operand := range operands {
		operandShapes[ii] = operand.Shape()
	}
	outputShapes, err := op.OutputShapes(operandShapes)
	if err != nil {
		panic(err)
	}
	if len(outputShapes) == 0 {
		panic(errors.Errorf("CustomCall(%s): operation has no outputs", op.Name()))
	}
	for ii, shape := range outputShapes {
		if !shape.Ok() {
			panic(errors.Errorf("CustomCall(%s): output #%d has an invalid shape", op.Name(), ii))
		}
	}
	inputs := &nodeInputsCustomCall{op: op, operands: operands}
	node := newNode(g, inputs, operands, outputShapes...)
	if !node.IsMultiOutput() {
		return []*Node{node}
	}
	return splitNode(node)
}

// CustomOp returns the custom operation of a CustomCall node, or of the CustomCall node split by a
// SplitNode. It returns nil for other nodes.
func (n *Node) CustomOp() CustomOp {
	switch inputs := n.inputs.(type) {
	case *nodeInputsCustomCall:
		return inputs.op
	case *nodeInputsSplitNode:
		return inputs.multiOutputNode.CustomOp()
	}
	return nil
}
