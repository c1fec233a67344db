// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package linop

import (
	"slices"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/linop/pkg/core/graph"
	"github.com/gomlx/linop/pkg/core/shapes"
	"github.com/gomlx/linop/pkg/support/xslices"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Batch implements graph.CustomOp, used by graph.Vmap.
//
// If the operation can batch, it is called once on the batched operands, with the accumulated batch axes
// in its kwargs. Otherwise, the batch is sliced, the operation called once per element of the batch, and
// the results stacked.
//
// In both cases the abstract evaluation is given the batched operands, so it can reject unsupported batching.
func (c *call) Batch(_ *graph.Graph, operands []*graph.Node, axes []int, batchSize int) (
	outputs []*graph.Node, outputAxes []int, err error) {
	if !slices.ContainsFunc(axes, func(axis int) bool { return axis != graph.NotBatched }) {
		outputs, err = c.emit(operands)
		if err != nil {
			return nil, nil, err
		}
		return outputs, xslices.SliceWithValue(len(outputs), graph.NotBatched), nil
	}
	if !c.op.canBatch {
		for ii := range c.op.numFixed {
			if axes[ii] != graph.NotBatched {
				return nil, nil, errors.Wrapf(ErrUnsupportedBatching,
					"%s: fixed operand #%d is batched, but the operation can't batch", c.Name(), ii)
			}
		}
	}

	operandShapes := xslices.Map(operands, func(operand *graph.Node) shapes.Shape { return operand.Shape() })
	batchAxes := accumulateBatchAxes(c.batchAxes, axes, len(operands))
	batched, err := c.derive(c.transposed, batchAxes, nil)
	if err != nil {
		return nil, nil, err
	}
	abstract, err := batched.abstractEval(operandShapes)
	if err != nil {
		return nil, nil, err
	}
	outputAxes = make([]int, len(abstract))
	for ii, value := range abstract {
		if value.BatchAxis == NoBatchAxis {
			return nil, nil, errors.Wrapf(ErrContractViolation,
				"%s: batched abstract evaluation returned no batch axis for output #%d", c.Name(), ii)
		}
		if value.Shape.Dim(value.BatchAxis) != batchSize {
			return nil, nil, errors.Wrapf(ErrContractViolation,
				"%s: batched abstract evaluation returned output #%d shaped %s, with batch axis %d, but batch size is %d",
				c.Name(), ii, value.Shape, value.BatchAxis, batchSize)
		}
		outputAxes[ii] = value.BatchAxis
	}

	if c.op.canBatch {
		klog.V(1).Infof("linop: batching %s natively, batch axes %v", c.Name(), batchAxes)
		var prevOutAxes [][]int
		if c.outBatchAxes != nil {
			prevOutAxes = c.outBatchAxes
		} else {
			prevOutAxes = make([][]int, len(abstract))
		}
		batched.outBatchAxes = accumulateBatchAxes(prevOutAxes, outputAxes, len(abstract))
		outputs, err = batched.emit(operands)
		if err != nil {
			return nil, nil, err
		}
		return outputs, outputAxes, nil
	}

	klog.V(1).Infof("linop: batching %s with a loop over %d elements", c.Name(), batchSize)
	outputs, err = c.batchLoop(operands, axes, batchSize, outputAxes)
	if err != nil {
		return nil, nil, err
	}
	for ii, output := range outputs {
		if !output.Shape().Equal(abstract[ii].Shape) {
			return nil, nil, errors.Wrapf(ErrContractViolation,
				"%s: looping over the batch produced output #%d shaped %s, but batched abstract evaluation returned %s",
				c.Name(), ii, output.Shape(), abstract[ii].Shape)
		}
	}
	return outputs, outputAxes, nil
}

// batchLoop emits the unbatched call once per element of the batch, and stacks the results along outputAxes.
func (c *call) batchLoop(operands []*graph.Node, axes []int, batchSize int, outputAxes []int) (
	outputs []*graph.Node, err error) {
	results := make([][]*graph.Node, len(outputAxes))
	for idx := range batchSize {
		sliced := make([]*graph.Node, len(operands))
		for ii, operand := range operands {
			if axes[ii] == graph.NotBatched {
				sliced[ii] = operand
			} else {
				sliced[ii] = graph.TakeAt(operand, axes[ii], idx)
			}
		}
		elementCall, err := c.derive(c.transposed, c.batchAxes, c.outBatchAxes)
		if err != nil {
			return nil, err
		}
		elementOutputs, err := elementCall.emit(sliced)
		if err != nil {
			return nil, err
		}
		if len(elementOutputs) != len(outputAxes) {
			return nil, errors.Wrapf(ErrContractViolation, "%s returned %d outputs unbatched, but %d batched",
				c.Name(), len(elementOutputs), len(outputAxes))
		}
		for ii, output := range elementOutputs {
			results[ii] = append(results[ii], output)
		}
	}
	outputs = make([]*graph.Node, len(outputAxes))
	err = exceptions.TryCatch[error](func() {
		for ii, axis := range outputAxes {
			outputs[ii] = graph.Stack(results[ii], axis)
		}
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "%s: failed to stack batched outputs", c.Name())
	}
	return outputs, nil
}

// accumulateBatchAxes returns the batch axes of each of the numValues values after a new batch axis is
// inserted at newAxes[ii] (or not, if it is graph.NotBatched): previous axes at or after the new axis
// are shifted by one, and the new axis is appended.
func accumulateBatchAxes(prevAxes [][]int, newAxes []int, numValues int) [][]int {
	accumulated := make([][]int, numValues)
	for ii := range numValues {
		var prev []int
		if ii < len(prevAxes) {
			prev = prevAxes[ii]
		}
		newAxis := newAxes[ii]
		current := make([]int, 0, len(prev)+1)
		for _, axis := range prev {
			if newAxis != graph.NotBatched && axis >= newAxis {
				axis++
			}
			current = append(current, axis)
		}
		if newAxis != graph.NotBatched {
			current = append(current, newAxis)
		}
		accumulated[ii] = current
	}
	return accumulated
}
