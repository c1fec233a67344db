// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tensors

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/linop/pkg/core/shapes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromValue(t *testing.T) {
	tensor := FromValue([][]float32{{1, 2, 3}, {4, 5, 6}})
	require.True(t, tensor.Shape().Equal(shapes.Make(dtypes.Float32, 2, 3)))
	assert.Equal(t, []float32{1, 2, 3, 4, 5, 6}, CopyFlatData[float32](tensor))
	assert.Equal(t, [][]float32{{1, 2, 3}, {4, 5, 6}}, tensor.Value())

	scalar := FromValue(complex(1.0, -2.0))
	require.True(t, scalar.IsScalar())
	assert.Equal(t, complex(1.0, -2.0), ToScalar[complex128](scalar))

	ints := FromValue([]int{7, 8})
	assert.Equal(t, dtypes.Int64, ints.DType())
	assert.Equal(t, []int64{7, 8}, CopyFlatData[int64](ints))

	require.Panics(t, func() { _ = FromValue([][]float32{{1, 2}, {3}}) })
	require.Panics(t, func() { _ = CopyFlatData[float64](tensor) })
}

func TestEqualAndInDelta(t *testing.T) {
	a := FromFlatDataAndDimensions([]complex128{1, 2i, 3}, 3)
	b := a.LocalClone()
	require.True(t, a.Equal(b))
	MutableFlatData(b, func(flat []complex128) { flat[1] += 1e-9 })
	require.False(t, a.Equal(b))
	require.True(t, a.InDelta(b, 1e-6))
	require.False(t, a.InDelta(b, 1e-12))
	require.False(t, a.Equal(FromScalarAndDimensions(complex128(1), 2)))
}

func TestView(t *testing.T) {
	tensor := FromScalarAndDimensions(float64(1), 2, 2)
	input := tensor.ReadOnlyView()
	require.True(t, input.IsReadOnly())
	require.Equal(t, []float64{1, 1, 1, 1}, ViewFlat[float64](input))
	require.Panics(t, func() { _ = MutableViewFlat[float64](input) })
	require.Panics(t, func() { _ = ViewFlat[float32](input) })
	require.Len(t, input.Bytes(), 4*8)
	require.False(t, input.Written())

	output := tensor.MutableView()
	flat := MutableViewFlat[float64](output)
	flat[3] = 5
	require.True(t, output.Written())
	require.Equal(t, []float64{1, 1, 1, 5}, CopyFlatData[float64](tensor))
	// Read-only views share the tensor storage, they are not copies.
	require.Equal(t, 5.0, ViewFlat[float64](input)[3])

	output.Release()
	input.Release()
	require.True(t, output.IsReleased())
	require.Panics(t, func() { _ = output.MutableFlat() })
	require.Panics(t, func() { _ = input.Flat() })
}

func TestFinalize(t *testing.T) {
	tensor := FromScalar(float32(3))
	require.True(t, tensor.Ok())
	assert.Equal(t, "(Float32): 3", tensor.String())
	tensor.FinalizeAll()
	require.False(t, tensor.Ok())
	require.Panics(t, func() { tensor.AssertValid() })
}
