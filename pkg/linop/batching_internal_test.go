// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package linop

import (
	"testing"

	"github.com/gomlx/linop/pkg/core/graph"
	"github.com/stretchr/testify/assert"
)

func TestAccumulateBatchAxes(t *testing.T) {
	// First batching: no previous axes.
	got := accumulateBatchAxes(nil, []int{0, graph.NotBatched, 2}, 3)
	assert.Equal(t, [][]int{{0}, {}, {2}}, got)

	// Second batching: previous axes at or after the new axis are shifted.
	got = accumulateBatchAxes(got, []int{0, 1, 3}, 3)
	assert.Equal(t, [][]int{{1, 0}, {1}, {2, 3}}, got)

	// Not batched again: previous axes are kept.
	got = accumulateBatchAxes(got, []int{graph.NotBatched, graph.NotBatched, 0}, 3)
	assert.Equal(t, [][]int{{1, 0}, {1}, {3, 4, 0}}, got)
}
