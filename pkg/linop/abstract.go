// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package linop

import (
	"slices"

	"github.com/gomlx/linop/pkg/core/shapes"
	"github.com/pkg/errors"
)

// NoBatchAxis is the BatchAxis of an Abstract value without a batch axis.
const NoBatchAxis = -1

// Abstract describes an output of an operation ahead of execution: its shape (with dtype) and,
// for batched calls, the axis along which the newest batch dimension lies.
type Abstract struct {
	Shape     shapes.Shape
	BatchAxis int
}

// Unbatched returns the Abstract value of an output without a batch axis.
func Unbatched(shape shapes.Shape) Abstract {
	return Abstract{Shape: shape, BatchAxis: NoBatchAxis}
}

// Batched returns the Abstract value of an output whose newest batch axis is axis.
func Batched(shape shapes.Shape, axis int) Abstract {
	return Abstract{Shape: shape, BatchAxis: axis}
}

// AbstractFunc returns the abstract outputs of an operation, given the shapes of all its operands
// (fixed operands included) and its kwargs.
//
// For batched calls, kwargs holds the accumulated batch axes of each operand under BatchAxesKey
// (see BatchAxes), the operand shapes include the batch axes, and each output must report the axis
// of its newest batch dimension.
//
// The kwargs are a private copy: the function may change them freely.
type AbstractFunc func(operands []shapes.Shape, kwargs Kwargs) ([]Abstract, error)

// validateAbstract checks the values returned by an AbstractFunc.
func validateAbstract(abstract []Abstract) error {
	if len(abstract) == 0 {
		return errors.Wrap(ErrContractViolation, "abstract evaluation returned no outputs")
	}
	for ii, value := range abstract {
		if !value.Shape.Ok() {
			return errors.Wrapf(ErrContractViolation, "abstract evaluation returned an invalid shape for output #%d", ii)
		}
		if value.BatchAxis != NoBatchAxis && (value.BatchAxis < 0 || value.BatchAxis >= value.Shape.Rank()) {
			return errors.Wrapf(ErrContractViolation, "abstract evaluation returned batch axis %d for output #%d of shape %s",
				value.BatchAxis, ii, value.Shape)
		}
	}
	return nil
}

// RequireBatchedTogether is a helper for AbstractFunc implementations of operations whose operands
// co-vary: if the call is batched, all the operands listed in operandIdx must have been batched
// the same number of times.
//
// It returns an error wrapping ErrUnsupportedBatching if only some of them are batched.
func RequireBatchedTogether(kwargs Kwargs, operandIdx ...int) error {
	batchAxes := BatchAxes(kwargs)
	if batchAxes == nil {
		return nil
	}
	numAxes := -1
	for _, idx := range operandIdx {
		if idx < 0 || idx >= len(batchAxes) {
			return errors.Wrapf(ErrContractViolation, "operand #%d has no batch axes entry (%d entries)", idx, len(batchAxes))
		}
		n := len(batchAxes[idx])
		if n == 0 || (numAxes != -1 && n != numAxes) {
			return errors.Wrapf(ErrUnsupportedBatching, "batching along only one input axis not implemented (batch axes %v)", batchAxes)
		}
		numAxes = n
	}
	return nil
}

// RequireSameBatchAxes is like RequireBatchedTogether, but also requires the listed operands to have been
// batched along the same axes, as needed by elementwise operations.
func RequireSameBatchAxes(kwargs Kwargs, operandIdx ...int) error {
	if err := RequireBatchedTogether(kwargs, operandIdx...); err != nil {
		return err
	}
	batchAxes := BatchAxes(kwargs)
	if batchAxes == nil || len(operandIdx) == 0 {
		return nil
	}
	for _, idx := range operandIdx[1:] {
		if !slices.Equal(batchAxes[idx], batchAxes[operandIdx[0]]) {
			return errors.Wrapf(ErrUnsupportedBatching, "operands #%d and #%d are batched along different axes (batch axes %v)",
				operandIdx[0], idx, batchAxes)
		}
	}
	return nil
}

// NonBatchAxes returns the axes of an operand of the given rank that are not batch axes, in increasing order.
func NonBatchAxes(rank int, batchAxes []int) []int {
	axes := make([]int, 0, rank)
	for axis := range rank {
		if !slices.Contains(batchAxes, axis) {
			axes = append(axes, axis)
		}
	}
	return axes
}

// UnbatchedShape returns the shape of an operand with its batch axes removed.
// Batch axes out of bounds for the shape return an error wrapping ErrContractViolation.
func UnbatchedShape(shape shapes.Shape, batchAxes []int) (shapes.Shape, error) {
	sorted := slices.Sorted(slices.Values(batchAxes))
	for ii := len(sorted) - 1; ii >= 0; ii-- {
		axis := sorted[ii]
		if axis < 0 || axis >= shape.Rank() || (ii > 0 && sorted[ii-1] == axis) {
			return shapes.Invalid(), errors.Wrapf(ErrContractViolation, "invalid batch axes %v for shape %s", batchAxes, shape)
		}
		shape = shape.RemoveAxis(axis)
	}
	return shape, nil
}

// LastBatchAxis returns the newest batch axis of the operand, or NoBatchAxis if it is not batched.
func LastBatchAxis(batchAxes [][]int, operandIdx int) int {
	if operandIdx >= len(batchAxes) || len(batchAxes[operandIdx]) == 0 {
		return NoBatchAxis
	}
	return batchAxes[operandIdx][len(batchAxes[operandIdx])-1]
}
