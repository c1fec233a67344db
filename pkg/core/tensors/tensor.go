// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package tensors implements a `Tensor`, a representation of a multi-dimensional array stored on the host,
// and `View`, a non-owning window over a tensor's storage handed to host functions during graph execution.
//
// Tensors are the inputs and outputs of graph executions (see graph.Exec), and are the values the
// interpreter passes between nodes. Their storage is a flat Go slice of the type corresponding to the
// DType (e.g. []float32 for dtypes.Float32), in row-major order.
package tensors

import (
	"sync"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/linop/pkg/core/shapes"
)

// Tensor represents a multidimensional array (of rank 0 to N) of values of the same DType.
//
// It is safe for concurrent use: accessors to the flat data hold the tensor lock while the access function runs.
type Tensor struct {
	mu    sync.Mutex
	shape shapes.Shape

	// flat holds the slice with the actual data, in row-major order.
	flat any
}

func newTensor(shape shapes.Shape) *Tensor {
	return &Tensor{shape: shape}
}

// Shape of Local, includes DType.
func (t *Tensor) Shape() shapes.Shape { return t.shape }

// DType returns the DType of the tensor's shape.
// It is a shortcut to `Tensor.Shape().DType`.
func (t *Tensor) DType() dtypes.DType {
	return t.shape.DType
}

// Rank returns the rank of the tensor's shape.
// It is a shortcut to `Tensor.Shape().Rank()`.
func (t *Tensor) Rank() int { return t.shape.Rank() }

// IsScalar returns whether the tensor represents a scalar value.
func (t *Tensor) IsScalar() bool { return t.shape.IsScalar() }

// Size returns the number of elements in the tensor.
func (t *Tensor) Size() int { return t.shape.Size() }

// Memory returns the number of bytes used to store the tensor data.
func (t *Tensor) Memory() uintptr { return t.shape.Memory() }

// Ok returns whether the Tensor is in a valid state: it is not nil, and it hasn't been finalized.
func (t *Tensor) Ok() bool {
	return t != nil && t.flat != nil
}

// AssertValid panics if the tensor is nil, or if it has been finalized.
func (t *Tensor) AssertValid() {
	if t == nil {
		exceptions.Panicf("tensor is nil")
	}
	if t.flat == nil {
		exceptions.Panicf("tensor shaped %s has been finalized, its data is no longer available", t.shape)
	}
	if !t.shape.Ok() {
		exceptions.Panicf("tensor has invalid shape")
	}
}

// FinalizeAll immediately frees the data of the tensor. The tensor becomes invalid after this call.
func (t *Tensor) FinalizeAll() {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.flat = nil
}
