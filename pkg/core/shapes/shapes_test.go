// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package shapes

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/require"
)

func TestShape(t *testing.T) {
	invalidShape := Invalid()
	require.False(t, invalidShape.Ok())

	shape0 := Make(dtypes.Float64)
	require.True(t, shape0.Ok())
	require.True(t, shape0.IsScalar())
	require.Equal(t, 0, shape0.Rank())
	require.Len(t, shape0.Dimensions, 0)
	require.Equal(t, 1, shape0.Size())
	require.Equal(t, 8, int(shape0.Memory()))

	shape1 := Make(dtypes.Complex128, 4, 3, 2)
	require.True(t, shape1.Ok())
	require.False(t, shape1.IsScalar())
	require.Equal(t, 3, shape1.Rank())
	require.Equal(t, 4*3*2, shape1.Size())
	require.Equal(t, 16*4*3*2, int(shape1.Memory()))
	require.Equal(t, "(Complex128)[4 3 2]", shape1.String())

	require.Panics(t, func() { _ = Make(dtypes.Float32, 3, 0) })
	require.Equal(t, dtypes.Float32, Scalar[float32]().DType)
}

func TestDim(t *testing.T) {
	shape := Make(dtypes.Float32, 4, 3, 2)
	require.Equal(t, 4, shape.Dim(0))
	require.Equal(t, 3, shape.Dim(1))
	require.Equal(t, 2, shape.Dim(2))
	require.Equal(t, 4, shape.Dim(-3))
	require.Equal(t, 2, shape.Dim(-1))
	require.Panics(t, func() { _ = shape.Dim(3) })
	require.Panics(t, func() { _ = shape.Dim(-4) })
}

func TestAxisManipulation(t *testing.T) {
	shape := Make(dtypes.Float32, 4, 3)
	require.Equal(t, []int{5, 4, 3}, shape.InsertAxis(0, 5).Dimensions)
	require.Equal(t, []int{4, 5, 3}, shape.InsertAxis(1, 5).Dimensions)
	require.Equal(t, []int{4, 3, 5}, shape.InsertAxis(2, 5).Dimensions)
	require.Panics(t, func() { _ = shape.InsertAxis(3, 5) })
	require.Equal(t, []int{4, 3}, shape.Dimensions, "InsertAxis must not change the original shape")

	require.Equal(t, []int{3}, shape.RemoveAxis(0).Dimensions)
	require.Equal(t, []int{4}, shape.RemoveAxis(-1).Dimensions)
	require.True(t, shape.RemoveAxis(0).RemoveAxis(0).IsScalar())

	require.Equal(t, []int{12, 4, 1}, Make(dtypes.Int32, 2, 3, 4).Strides())
	require.Nil(t, Make(dtypes.Int32).Strides())
	require.True(t, shape.WithDType(dtypes.Float64).EqualDimensions(shape))
	require.False(t, shape.WithDType(dtypes.Float64).Equal(shape))
}

func TestIter(t *testing.T) {
	shape := Make(dtypes.Float32, 2, 3)
	var got [][]int
	for flatIdx, indices := range shape.Iter() {
		require.Equal(t, len(got), flatIdx)
		got = append(got, []int{indices[0], indices[1]})
	}
	require.Equal(t, [][]int{{0, 0}, {0, 1}, {0, 2}, {1, 0}, {1, 1}, {1, 2}}, got)

	count := 0
	for flatIdx, indices := range Make(dtypes.Float32).Iter() {
		require.Equal(t, 0, flatIdx)
		require.Len(t, indices, 0)
		count++
	}
	require.Equal(t, 1, count)
}
