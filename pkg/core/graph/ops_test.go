// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph_test

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	. "github.com/gomlx/linop/pkg/core/graph"
	"github.com/gomlx/linop/pkg/core/graph/graphtest"
	"github.com/gomlx/linop/pkg/core/shapes"
	"github.com/gomlx/linop/pkg/core/tensors"
	"github.com/gomlx/linop/pkg/support/xslices"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"
)

// iotaTensor returns a float64 tensor of the given dimensions with values 0, 1, 2, ...
func iotaTensor(dimensions ...int) *tensors.Tensor {
	size := shapes.Make(dtypes.Float64, dimensions...).Size()
	return tensors.FromFlatDataAndDimensions(xslices.Iota(0.0, size), dimensions...)
}

func TestConstant(t *testing.T) {
	g := NewGraph("TestConstant")
	n := Const(g, 5)
	assert.Equal(t, dtypes.Int64, n.DType())
	assert.True(t, n.IsScalar())

	n = Const(g, [][]float32{{1.2, 1.3}, {2.4, 2.5}, {2.6, 2.7}})
	assert.Equal(t, dtypes.Float32, n.DType())
	assert.Equal(t, []int{3, 2}, n.Shape().Dimensions)

	zeros := Zeros(g, shapes.Make(dtypes.Float64, 2, 2))
	ones := OnesLike(zeros)
	scalar := Scalar(g, dtypes.Complex64, 3)
	outputs := compileAndRun(t, g, []*Node{zeros, ones, scalar})
	assert.Equal(t, [][]float64{{0, 0}, {0, 0}}, outputs[0].Value())
	assert.Equal(t, [][]float64{{1, 1}, {1, 1}}, outputs[1].Value())
	assert.Equal(t, complex64(3), outputs[2].Value())
}

func TestAdd(t *testing.T) {
	{
		// Test scalars.
		g := NewGraph("scalar graph")
		n := Add(Const(g, 5), Const(g, 7))
		assert.True(t, n.Shape().Equal(shapes.Make(dtypes.Int64)))
		got := compileAndRun(t, g, []*Node{n})[0]
		assert.Equal(t, int64(12), tensors.ToScalar[int64](got))
	}
	{
		// Test multi-dimension arrays.
		g := NewGraph("[2, 2] Graph")
		x := Const(g, [][]float32{{1.1, 1.2}, {1.3, 1.4}})
		y := Const(g, [][]float32{{10, 10}, {20, 20}})
		n := Add(x, y)
		require.True(t, n.Shape().Equal(shapes.Make(dtypes.Float32, 2, 2)))
		got := compileAndRun(t, g, []*Node{n})[0]
		want := tensors.FromValue([][]float32{{11.1, 11.2}, {21.3, 21.4}})
		assert.Truef(t, want.InDelta(got, 1e-5), "got %s, wanted %s", got, want)
	}
	{
		// Scalars are broadcast.
		g := NewGraph("broadcast")
		x := Const(g, []float64{1, 2, 3})
		n := Add(x, Scalar(g, dtypes.Float64, 10))
		got := compileAndRun(t, g, []*Node{n})[0]
		assert.Equal(t, []float64{11, 12, 13}, got.Value())
	}
	{
		g := NewGraph("mismatch")
		x := Const(g, []float64{1, 2, 3})
		require.Panics(t, func() { Add(x, Const(g, []float64{1, 2})) })
		require.Panics(t, func() { Add(x, Const(g, []float32{1, 2, 3})) })
	}
}

func TestBinaryOps(t *testing.T) {
	g := NewGraph("TestBinaryOps")
	x := Const(g, []float64{1, 2, 3})
	y := Const(g, []float64{4, 5, 6})
	c0 := Const(g, []complex128{1 + 2i, 3})
	c1 := Const(g, []complex128{1i, 2 - 1i})
	h0 := Const(g, []float16.Float16{float16.Fromfloat32(1.5)})
	h1 := Const(g, []float16.Float16{float16.Fromfloat32(2.25)})
	outputs := compileAndRun(t, g, []*Node{Sub(x, y), Mul(x, y), Neg(x), Mul(c0, c1), Add(h0, h1)})
	assert.Equal(t, []float64{-3, -3, -3}, outputs[0].Value())
	assert.Equal(t, []float64{4, 10, 18}, outputs[1].Value())
	assert.Equal(t, []float64{-1, -2, -3}, outputs[2].Value())
	assert.Equal(t, []complex128{-2 + 1i, 6 - 3i}, outputs[3].Value())
	assert.Equal(t, []float16.Float16{float16.Fromfloat32(3.75)}, outputs[4].Value())
}

func TestReduceSum(t *testing.T) {
	g := NewGraph("TestReduceSum")
	x := Const(g, [][]float64{{1, 2, 3}, {4, 5, 6}})
	outputs := compileAndRun(t, g, []*Node{
		ReduceSum(x, 0),
		ReduceSum(x, 1),
		ReduceSum(x, -1),
		ReduceAllSum(x),
	})
	assert.Equal(t, []float64{5, 7, 9}, outputs[0].Value())
	assert.Equal(t, []float64{6, 15}, outputs[1].Value())
	assert.Equal(t, []float64{6, 15}, outputs[2].Value())
	assert.Equal(t, 21.0, outputs[3].Value())

	g = NewGraph("repeated axes")
	x = Const(g, [][]float64{{1, 2, 3}, {4, 5, 6}})
	require.Panics(t, func() { ReduceSum(x, 1, -1) })
}

func TestExpandAndBroadcast(t *testing.T) {
	g := NewGraph("TestExpandAndBroadcast")
	x := Const(g, []float64{1, 2})
	outputs := compileAndRun(t, g, []*Node{
		ExpandAndBroadcast(x, []int{3, 2}, []int{0}),
		ExpandAndBroadcast(x, []int{2, 3}, []int{1}),
		BroadcastAlongAxis(x, 1, 2),
	})
	assert.Equal(t, [][]float64{{1, 2}, {1, 2}, {1, 2}}, outputs[0].Value())
	assert.Equal(t, [][]float64{{1, 1, 1}, {2, 2, 2}}, outputs[1].Value())
	assert.Equal(t, [][]float64{{1, 1}, {2, 2}}, outputs[2].Value())

	g = NewGraph("invalid")
	x = Const(g, []float64{1, 2})
	require.Panics(t, func() { ExpandAndBroadcast(x, []int{3, 3}, []int{0}) })
	require.Panics(t, func() { ExpandAndBroadcast(x, []int{3, 2}, []int{0, 1}) })
}

func TestTranspose(t *testing.T) {
	g := NewGraph("TestTranspose")
	x := Const(g, [][]float64{{1, 2, 3}, {4, 5, 6}})
	x3 := ConstTensor(g, iotaTensor(2, 3, 4))
	moved := MoveAxis(x3, 2, 0)
	require.Equal(t, []int{4, 2, 3}, moved.Shape().Dimensions)
	assert.Same(t, x, TransposeAllAxes(x, 0, 1))
	outputs := compileAndRun(t, g, []*Node{TransposeAllAxes(x, 1, 0), moved})
	assert.Equal(t, [][]float64{{1, 4}, {2, 5}, {3, 6}}, outputs[0].Value())
	got := outputs[1].Value().([][][]float64)
	for k := range 4 {
		for i := range 2 {
			for j := range 3 {
				assert.Equal(t, float64(i*12+j*4+k), got[k][i][j])
			}
		}
	}
}

func TestTakeAtAndStack(t *testing.T) {
	g := NewGraph("TestTakeAtAndStack")
	x := Const(g, [][]float64{{1, 2, 3}, {4, 5, 6}})
	a := Const(g, []float64{1, 2})
	b := Const(g, []float64{3, 4})
	outputs := compileAndRun(t, g, []*Node{
		TakeAt(x, 0, 1),
		TakeAt(x, 1, 2),
		Stack([]*Node{a, b}, 0),
		Stack([]*Node{a, b}, 1),
	})
	assert.Equal(t, []float64{4, 5, 6}, outputs[0].Value())
	assert.Equal(t, []float64{3, 6}, outputs[1].Value())
	assert.Equal(t, [][]float64{{1, 2}, {3, 4}}, outputs[2].Value())
	assert.Equal(t, [][]float64{{1, 3}, {2, 4}}, outputs[3].Value())

	g = NewGraph("invalid")
	x = Const(g, []float64{1, 2})
	require.Panics(t, func() { TakeAt(x, 0, 2) })
	require.Panics(t, func() { Stack([]*Node{x, Const(g, []float64{1, 2, 3})}, 0) })
	require.Panics(t, func() { Stack([]*Node{x}, 2) })
}

func TestGraphFns(t *testing.T) {
	graphtest.RunTestGraphFn(t, "Sub(Neg(x), y)", func(g *Graph) (inputs, outputs []*Node) {
		x := Const(g, []float64{1, 2})
		y := Const(g, []float64{3, 4})
		inputs = []*Node{x, y}
		outputs = []*Node{Sub(Neg(x), y)}
		return
	}, []any{[]float64{-4, -6}}, -1)

	graphtest.RunTestGraphFn(t, "ReduceSum(Broadcast(x))", func(g *Graph) (inputs, outputs []*Node) {
		x := Const(g, []float32{0.1, 0.2})
		inputs = []*Node{x}
		outputs = []*Node{ReduceSum(ExpandAndBroadcast(x, []int{3, 2}, []int{0}), 0)}
		return
	}, []any{[]float32{0.3, 0.6}}, 1e-6)
}
