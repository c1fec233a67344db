// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph_test

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	. "github.com/gomlx/linop/pkg/core/graph"
	"github.com/gomlx/linop/pkg/core/shapes"
	"github.com/gomlx/linop/pkg/core/tensors"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errScaleFailed = errors.New("scale failed")

// scaleOp is a CustomOp that returns (factor*x, -factor*x) for a float64 x.
type scaleOp struct {
	factor float64
	fail   bool
}

var _ CustomOp = (*scaleOp)(nil)

func (op *scaleOp) Name() string { return "scale" }

func (op *scaleOp) OutputShapes(operands []shapes.Shape) ([]shapes.Shape, error) {
	if len(operands) != 1 || operands[0].DType != dtypes.Float64 {
		return nil, errors.Errorf("scale takes one float64 operand, got %v", operands)
	}
	return []shapes.Shape{operands[0], operands[0]}, nil
}

func (op *scaleOp) Execute(outputs, operands []*tensors.View) error {
	if op.fail {
		return errScaleFailed
	}
	x := tensors.ViewFlat[float64](operands[0])
	pos, neg := tensors.MutableViewFlat[float64](outputs[0]), tensors.MutableViewFlat[float64](outputs[1])
	for ii, v := range x {
		pos[ii] = op.factor * v
		neg[ii] = -op.factor * v
	}
	return nil
}

func (op *scaleOp) VJP(node *Node, _, cotangents []*Node) ([]*Node, error) {
	factor := Scalar(node.Graph(), dtypes.Float64, op.factor)
	return []*Node{Mul(Sub(cotangents[0], cotangents[1]), factor)}, nil
}

func (op *scaleOp) JVP(_ *Node, _, tangents []*Node) ([]*Node, error) {
	return CustomCall(op, tangents[0]), nil
}

func (op *scaleOp) Batch(_ *Graph, operands []*Node, axes []int, _ int) ([]*Node, []int, error) {
	return CustomCall(op, operands[0]), []int{axes[0], axes[0]}, nil
}

func TestCustomCall(t *testing.T) {
	op := &scaleOp{factor: 2}
	outputs, err := NewExec(func(g *Graph, inputs []*Node) []*Node {
		results := CustomCall(op, inputs[0])
		assert.Equal(t, op, results[0].CustomOp())
		return results
	}).Exec([]float64{1, 2})
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 4}, outputs[0].Value())
	assert.Equal(t, []float64{-2, -4}, outputs[1].Value())

	// Errors from the shape function at graph building time.
	_, err = NewExec(func(g *Graph, inputs []*Node) []*Node {
		return CustomCall(op, inputs[0])
	}).Exec([]float32{1, 2})
	require.Error(t, err)

	// Errors from the host function are returned unchanged.
	_, err = NewExec(func(g *Graph, inputs []*Node) []*Node {
		return CustomCall(&scaleOp{factor: 2, fail: true}, inputs[0])
	}).Exec([]float64{1, 2})
	require.ErrorIs(t, err, errScaleFailed)
	assert.Equal(t, errScaleFailed, err)
}

func TestCustomCallTransformations(t *testing.T) {
	op := &scaleOp{factor: 3}
	x := []float64{1, 2}

	// Only the first output is used: the VJP of the second is zero-filled.
	outputs, err := NewExec(func(g *Graph, inputs []*Node) []*Node {
		results := CustomCall(op, inputs[0])
		return Gradient(ReduceAllSum(results[0]), inputs[0])
	}).Exec(x)
	require.NoError(t, err)
	assert.Equal(t, []float64{3, 3}, outputs[0].Value())

	outputs, err = NewExec(JVPFn(func(g *Graph, inputs []*Node) []*Node {
		return CustomCall(op, inputs[0])
	})).Exec(x, []float64{1, 0})
	require.NoError(t, err)
	require.Len(t, outputs, 4)
	assert.Equal(t, []float64{3, 0}, outputs[2].Value())
	assert.Equal(t, []float64{-3, 0}, outputs[3].Value())

	outputs, err = NewExec(Vmap(func(g *Graph, inputs []*Node) []*Node {
		return CustomCall(op, inputs[0])
	}, 1)).Exec([][]float64{{1, 2}, {3, 4}})
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{3, 9}, {6, 12}}, outputs[0].Value())
	assert.Equal(t, [][]float64{{-3, -9}, {-6, -12}}, outputs[1].Value())
}
