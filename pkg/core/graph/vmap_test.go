// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph_test

import (
	"testing"

	. "github.com/gomlx/linop/pkg/core/graph"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVmap(t *testing.T) {
	// dot(x, w) for each x of the batch.
	dot := func(g *Graph, inputs []*Node) []*Node {
		return []*Node{ReduceSum(Mul(inputs[0], inputs[1]), 0)}
	}
	w := []float64{1, 1, 2}

	outputs, err := NewExec(Vmap(dot, 0, NotBatched)).Exec([][]float64{{1, 2, 3}, {4, 5, 6}}, w)
	require.NoError(t, err)
	assert.Equal(t, []float64{9, 21}, outputs[0].Value())

	// Same with the batch along axis 1.
	outputs, err = NewExec(Vmap(dot, 1, NotBatched)).Exec([][]float64{{1, 4}, {2, 5}, {3, 6}}, w)
	require.NoError(t, err)
	assert.Equal(t, []float64{9, 21}, outputs[0].Value())

	// Both inputs batched, along different axes.
	outputs, err = NewExec(Vmap(dot, 0, 1)).Exec(
		[][]float64{{1, 2, 3}, {4, 5, 6}},
		[][]float64{{1, 0}, {1, 0}, {2, 1}})
	require.NoError(t, err)
	assert.Equal(t, []float64{9, 6}, outputs[0].Value())
}

func TestVmapDataMovement(t *testing.T) {
	// Swap the rows of a 2x2 matrix, and return an unbatched constant.
	swap := func(g *Graph, inputs []*Node) []*Node {
		x := inputs[0]
		swapped := Stack([]*Node{TakeAt(x, 0, 1), TakeAt(x, 0, 0)}, 0)
		return []*Node{TransposeAllAxes(swapped, 1, 0), Const(g, []float64{7, 8})}
	}
	outputs, err := NewExec(Vmap(swap)).Exec([][][]float64{{{1, 2}, {3, 4}}, {{5, 6}, {7, 8}}})
	require.NoError(t, err)
	assert.Equal(t, [][][]float64{{{3, 1}, {4, 2}}, {{7, 5}, {8, 6}}}, outputs[0].Value())
	assert.Equal(t, [][]float64{{7, 8}, {7, 8}}, outputs[1].Value())

	// Broadcast of a batched value, and of a scalar.
	broadcast := func(g *Graph, inputs []*Node) []*Node {
		return []*Node{Add(ExpandAndBroadcast(inputs[0], []int{2, 3}, []int{1}), Const(g, 1.0))}
	}
	outputs, err = NewExec(Vmap(broadcast)).Exec([][]float64{{1, 2}, {3, 4}})
	require.NoError(t, err)
	assert.Equal(t, [][][]float64{{{2, 2, 2}, {3, 3, 3}}, {{4, 4, 4}, {5, 5, 5}}}, outputs[0].Value())
}

func TestVmapNested(t *testing.T) {
	sum := func(g *Graph, inputs []*Node) []*Node {
		return []*Node{ReduceAllSum(inputs[0])}
	}
	outputs, err := NewExec(Vmap(Vmap(sum))).Exec(iotaTensor(2, 3, 4))
	require.NoError(t, err)
	got := outputs[0].Value().([][]float64)
	for i := range 2 {
		for j := range 3 {
			assert.Equal(t, float64(4*(i*12+j*4)+6), got[i][j])
		}
	}
}

func TestVmapErrors(t *testing.T) {
	identity := func(g *Graph, inputs []*Node) []*Node { return inputs }
	_, err := NewExec(Vmap(identity)).Exec([]float64{1, 2}, []float64{1, 2, 3})
	require.Error(t, err, "batch dimensions don't match")
	_, err = NewExec(Vmap(identity, NotBatched)).Exec([]float64{1, 2})
	require.Error(t, err, "no batched inputs")
	_, err = NewExec(Vmap(identity, 0, 0, 0)).Exec([]float64{1, 2})
	require.Error(t, err, "too many axes")
}
