// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package linop_test

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/linop/pkg/core/graph"
	"github.com/gomlx/linop/pkg/core/shapes"
	"github.com/gomlx/linop/pkg/core/tensors"
	"github.com/gomlx/linop/pkg/linop"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scaleForward multiplies its only operand by kwargs["factor"] (default 1). It is its own transpose.
func scaleForward(outputs, operands []*tensors.View, blob []byte) error {
	kwargs, err := linop.DecodeKwargs(blob)
	if err != nil {
		return err
	}
	factor := 1.0
	if f, found := kwargs["factor"]; found {
		factor = f.(float64)
	}
	x := tensors.ViewFlat[float64](operands[0])
	y := tensors.MutableViewFlat[float64](outputs[0])
	for ii, v := range x {
		y[ii] = factor * v
	}
	return nil
}

// elementwiseAbstract returns one output per operand, shaped as the operand.
// Batched outputs take the newest batch axis of their operand.
func elementwiseAbstract(operands []shapes.Shape, kwargs linop.Kwargs) ([]linop.Abstract, error) {
	batchAxes := linop.BatchAxes(kwargs)
	outputs := make([]linop.Abstract, len(operands))
	for ii, operand := range operands {
		if operand.DType != dtypes.Float64 {
			return nil, errors.Errorf("operand #%d must be float64, got %s", ii, operand)
		}
		outputs[ii] = linop.Batched(operand, linop.LastBatchAxis(batchAxes, ii))
	}
	return outputs, nil
}

func newScaleOp(t *testing.T, registry *linop.Registry, canBatch bool) *linop.LinearOp {
	op, err := registry.MakeLinearOp(scaleForward, scaleForward, elementwiseAbstract, elementwiseAbstract).
		CanBatch(canBatch).
		Done()
	require.NoError(t, err)
	return op
}

// weightedForward multiplies each non-fixed operand by the fixed operand w: (w, x, y) -> (w*x, w*y).
// Its transpose is itself.
func weightedForward(outputs, operands []*tensors.View, _ []byte) error {
	w := tensors.ViewFlat[float64](operands[0])
	for ii, output := range outputs {
		x := tensors.ViewFlat[float64](operands[ii+1])
		y := tensors.MutableViewFlat[float64](output)
		for jj := range y {
			y[jj] = w[jj] * x[jj]
		}
	}
	return nil
}

// weightedAbstract requires all operands to have the same shape and batch axes, and returns one output per
// non-fixed operand.
func weightedAbstract(operands []shapes.Shape, kwargs linop.Kwargs) ([]linop.Abstract, error) {
	if err := linop.RequireSameBatchAxes(kwargs, 0, 1, 2); err != nil {
		return nil, err
	}
	for ii, operand := range operands {
		if !operand.Equal(operands[0]) {
			return nil, errors.Errorf("operand #%d shaped %s doesn't match w shaped %s", ii, operand, operands[0])
		}
	}
	outputs, err := elementwiseAbstract(operands, kwargs)
	if err != nil {
		return nil, err
	}
	return outputs[1:], nil
}

func newWeightedOp(t *testing.T, registry *linop.Registry, canBatch bool) *linop.LinearOp {
	op, err := registry.MakeLinearOp(weightedForward, weightedForward, weightedAbstract, weightedAbstract).
		FirstNArgsFixed(1).
		CanBatch(canBatch).
		Name("weighted").
		Done()
	require.NoError(t, err)
	return op
}

func TestMakeLinearOp(t *testing.T) {
	registry := linop.NewRegistry()
	op := newScaleOp(t, registry, false)
	assert.Equal(t, "linop_test.scaleForward", op.Name())
	assert.Equal(t, 0, op.NumFixed())
	assert.False(t, op.CanBatch())
	assert.Same(t, registry, op.Registry())
	assert.Contains(t, string(op.Token()), "linop_test.scaleForward#")

	weighted := newWeightedOp(t, registry, true)
	assert.Equal(t, "weighted", weighted.Name())
	assert.Equal(t, 1, weighted.NumFixed())
	assert.True(t, weighted.CanBatch())
	assert.NotEqual(t, op.Token(), weighted.Token())
	assert.Equal(t, 2, registry.Len())

	_, err := registry.MakeLinearOp(nil, scaleForward, elementwiseAbstract, elementwiseAbstract).Done()
	require.Error(t, err)
	_, err = registry.MakeLinearOp(scaleForward, scaleForward, elementwiseAbstract, nil).Done()
	require.Error(t, err)
	_, err = registry.MakeLinearOp(scaleForward, scaleForward, elementwiseAbstract, elementwiseAbstract).
		FirstNArgsFixed(-1).Done()
	require.Error(t, err)
	assert.Equal(t, 2, registry.Len())
}

func TestCall(t *testing.T) {
	registry := linop.NewRegistry()
	scale := newScaleOp(t, registry, false)
	weighted := newWeightedOp(t, registry, false)

	outputs, err := graph.NewExec(func(g *graph.Graph, inputs []*graph.Node) []*graph.Node {
		scaled := scale.CallWithKwargs(linop.Kwargs{"factor": 3.0}, inputs[0])
		require.Len(t, scaled, 1)
		weightedOutputs := weighted.Call(inputs[1], inputs[0], scaled[0])
		require.Len(t, weightedOutputs, 2)
		return append(scaled, weightedOutputs...)
	}).Exec([]float64{1, 2, 3}, []float64{2, 0, -1})
	require.NoError(t, err)
	assert.Equal(t, []float64{3, 6, 9}, outputs[0].Value())
	assert.Equal(t, []float64{2, 0, -3}, outputs[1].Value())
	assert.Equal(t, []float64{6, 0, -9}, outputs[2].Value())

	// Default kwargs.
	outputs, err = graph.NewExec(func(g *graph.Graph, inputs []*graph.Node) []*graph.Node {
		return scale.Call(inputs[0])
	}).Exec([][]float64{{1, 2}, {3, 4}})
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{1, 2}, {3, 4}}, outputs[0].Value())

	// Errors at graph building time.
	_, err = graph.NewExec(func(g *graph.Graph, inputs []*graph.Node) []*graph.Node {
		return scale.Call(inputs[0])
	}).Exec([]float32{1, 2})
	require.Error(t, err, "abstract evaluation should reject float32")
	assert.Contains(t, err.Error(), "scaleForward")

	_, err = graph.NewExec(func(g *graph.Graph, inputs []*graph.Node) []*graph.Node {
		return weighted.Call(inputs[0])
	}).Exec([]float64{1, 2})
	require.Error(t, err, "a non-fixed operand is required")

	_, err = graph.NewExec(func(g *graph.Graph, inputs []*graph.Node) []*graph.Node {
		return scale.CallWithKwargs(linop.Kwargs{linop.BatchAxesKey: [][]int{{0}}}, inputs[0])
	}).Exec([]float64{1, 2})
	require.Error(t, err, "batch axes key is reserved")
}

func TestAbstractMatchesExecution(t *testing.T) {
	registry := linop.NewRegistry()
	weighted := newWeightedOp(t, registry, false)
	w := tensors.FromValue([][]float64{{1, 2, 3}, {4, 5, 6}})
	fn := weighted.Partial(nil, w)

	var abstractShapes []shapes.Shape
	outputs, err := graph.NewExec(func(g *graph.Graph, inputs []*graph.Node) []*graph.Node {
		results := fn(g, inputs)
		for _, result := range results {
			abstractShapes = append(abstractShapes, result.Shape())
		}
		return results
	}).Exec([][]float64{{1, 1, 1}, {2, 2, 2}}, [][]float64{{0, 1, 0}, {1, 0, 1}})
	require.NoError(t, err)
	require.Len(t, outputs, 2)
	for ii, output := range outputs {
		assert.True(t, abstractShapes[ii].Equal(output.Shape()))
	}
	assert.Equal(t, [][]float64{{1, 2, 3}, {8, 10, 12}}, outputs[0].Value())
	assert.Equal(t, [][]float64{{0, 2, 0}, {4, 0, 6}}, outputs[1].Value())

	// Partial requires all fixed operands.
	require.Panics(t, func() { weighted.Partial(nil) })
}

func TestHostErrors(t *testing.T) {
	registry := linop.NewRegistry()
	errHost := errors.New("host function failed")
	failing, err := registry.MakeLinearOp(
		func(outputs, operands []*tensors.View, _ []byte) error { return errHost },
		scaleForward, elementwiseAbstract, elementwiseAbstract).Name("failing").Done()
	require.NoError(t, err)
	_, err = graph.NewExec(func(g *graph.Graph, inputs []*graph.Node) []*graph.Node {
		return failing.Call(inputs[0])
	}).Exec([]float64{1, 2})
	require.Error(t, err)
	assert.Equal(t, errHost, err, "host errors must be returned unchanged")

	lazy, err := registry.MakeLinearOp(
		func(outputs, operands []*tensors.View, _ []byte) error { return nil },
		scaleForward, elementwiseAbstract, elementwiseAbstract).Name("lazy").Done()
	require.NoError(t, err)
	_, err = graph.NewExec(func(g *graph.Graph, inputs []*graph.Node) []*graph.Node {
		return lazy.Call(inputs[0])
	}).Exec([]float64{1, 2})
	require.ErrorIs(t, err, linop.ErrContractViolation)
	assert.Contains(t, err.Error(), "lazy")
}

// shiftForward rotates a uint8 vector one position to the left, and shiftTranspose to the right.
func shiftForward(outputs, operands []*tensors.View, _ []byte) error {
	x, y := tensors.ViewFlat[uint8](operands[0]), tensors.MutableViewFlat[uint8](outputs[0])
	for ii := range y {
		y[ii] = x[(ii+1)%len(x)]
	}
	return nil
}

func shiftTranspose(outputs, operands []*tensors.View, _ []byte) error {
	x, y := tensors.ViewFlat[uint8](operands[0]), tensors.MutableViewFlat[uint8](outputs[0])
	for ii := range y {
		y[ii] = x[(ii+len(x)-1)%len(x)]
	}
	return nil
}

func uint8Abstract(operands []shapes.Shape, _ linop.Kwargs) ([]linop.Abstract, error) {
	if len(operands) != 1 || operands[0].DType != dtypes.Uint8 || operands[0].Rank() != 1 {
		return nil, errors.Errorf("shift takes one uint8 vector, got %v", operands)
	}
	return []linop.Abstract{linop.Unbatched(operands[0])}, nil
}

func TestUint8Operands(t *testing.T) {
	shift, err := linop.NewRegistry().MakeLinearOp(shiftForward, shiftTranspose, uint8Abstract, uint8Abstract).Done()
	require.NoError(t, err)
	fn := func(g *graph.Graph, inputs []*graph.Node) []*graph.Node {
		return shift.Call(inputs[0])
	}
	x := []uint8{1, 2, 3, 250}

	outputs, err := graph.NewExec(fn).Exec(x)
	require.NoError(t, err)
	assert.Equal(t, []uint8{2, 3, 250, 1}, outputs[0].Value())

	// Reverse mode runs the transpose on the cotangents.
	outputs, err = graph.NewExec(graph.VJPFn(fn, 1)).Exec(x, []uint8{10, 20, 30, 40})
	require.NoError(t, err)
	assert.Equal(t, []uint8{40, 10, 20, 30}, outputs[0].Value())

	// Forward mode runs the operation itself on the tangents.
	outputs, err = graph.NewExec(graph.JVPFn(fn)).Exec(x, []uint8{1, 0, 0, 0})
	require.NoError(t, err)
	require.Len(t, outputs, 2)
	assert.Equal(t, []uint8{0, 0, 0, 1}, outputs[1].Value())

	_, err = graph.NewExec(fn).Exec([]float64{1, 2})
	require.Error(t, err)
}
