// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package linop

import (
	"slices"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/linop/pkg/core/graph"
	"github.com/gomlx/linop/pkg/core/shapes"
	"github.com/gomlx/linop/pkg/core/tensors"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// call is one use of a LinearOp in a graph, forward or transposed, possibly batched.
// It implements graph.CustomOp.
//
// Each call owns its encoded kwargs: transposed and batched versions are new calls.
type call struct {
	op         *LinearOp
	transposed bool

	// kwargs given by the user, without the batch axes.
	kwargs Kwargs

	// batchAxes holds the accumulated batch axes of each operand, nil if the call is not batched.
	batchAxes [][]int

	// outBatchAxes holds the accumulated batch axes of each output, nil if the call is not batched.
	outBatchAxes [][]int

	// blob is the encoded kwargs, including the batch axes.
	blob []byte
}

var _ graph.CustomOp = (*call)(nil)

func newCall(op *LinearOp, transposed bool, kwargs Kwargs, batchAxes, outBatchAxes [][]int) (*call, error) {
	c := &call{
		op:           op,
		transposed:   transposed,
		kwargs:       kwargs,
		batchAxes:    batchAxes,
		outBatchAxes: outBatchAxes,
	}
	var err error
	c.blob, err = EncodeKwargs(c.fullKwargs())
	if err != nil {
		return nil, errors.WithMessagef(err, "%s", c.Name())
	}
	return c, nil
}

// fullKwargs returns a copy of the user kwargs plus the batch axes, if batched.
func (c *call) fullKwargs() Kwargs {
	kwargs := c.kwargs.Clone()
	if c.batchAxes != nil {
		kwargs[BatchAxesKey] = cloneAxes(c.batchAxes)
	}
	return kwargs
}

// Name implements graph.CustomOp.
func (c *call) Name() string {
	if c.transposed {
		return c.op.name + "_T"
	}
	return c.op.name
}

func (c *call) abstractFn() AbstractFunc {
	if c.transposed {
		return c.op.transposeAbstract
	}
	return c.op.forwardAbstract
}

// abstractEval runs the abstract function for the given operand shapes, and validates its results.
func (c *call) abstractEval(operands []shapes.Shape) ([]Abstract, error) {
	abstract, err := c.abstractFn()(slices.Clone(operands), c.fullKwargs())
	if err != nil {
		return nil, errors.WithMessagef(err, "%s: abstract evaluation failed", c.Name())
	}
	if err = validateAbstract(abstract); err != nil {
		return nil, errors.WithMessagef(err, "%s", c.Name())
	}
	return abstract, nil
}

// OutputShapes implements graph.CustomOp.
func (c *call) OutputShapes(operands []shapes.Shape) ([]shapes.Shape, error) {
	if len(operands) <= c.op.numFixed {
		return nil, errors.Wrapf(ErrContractViolation, "%s: got %d operands, but %d are fixed", c.Name(), len(operands), c.op.numFixed)
	}
	if c.batchAxes != nil && len(c.batchAxes) != len(operands) {
		return nil, errors.Wrapf(ErrContractViolation, "%s: got %d operands, but batch axes for %d",
			c.Name(), len(operands), len(c.batchAxes))
	}
	abstract, err := c.abstractEval(operands)
	if err != nil {
		return nil, err
	}
	outputShapes := make([]shapes.Shape, len(abstract))
	for ii, value := range abstract {
		outputShapes[ii] = value.Shape
	}
	return outputShapes, nil
}

// Execute implements graph.CustomOp: it resolves the host function and calls it.
// Errors from the host function are returned unchanged.
func (c *call) Execute(outputs, operands []*tensors.View) error {
	forward, transpose, err := c.op.registry.Lookup(c.op.token)
	if err != nil {
		return errors.WithMessagef(err, "%s", c.Name())
	}
	hostFn := forward
	if c.transposed {
		hostFn = transpose
	}
	if klog.V(2).Enabled() {
		klog.Infof("linop: executing %s with %d operands, %d outputs and %s of kwargs",
			c.Name(), len(operands), len(outputs), humanize.Bytes(uint64(len(c.blob))))
	}
	if err = hostFn(outputs, operands, c.blob); err != nil {
		return err
	}
	for ii, output := range outputs {
		if !output.Written() {
			return errors.Wrapf(ErrContractViolation, "%s didn't write output #%d (shape %s)", c.Name(), ii, output.Shape())
		}
	}
	return nil
}

// derive returns a new call of the same operation, with the given direction and batch axes.
func (c *call) derive(transposed bool, batchAxes, outBatchAxes [][]int) (*call, error) {
	return newCall(c.op, transposed, c.kwargs, batchAxes, outBatchAxes)
}

// emit adds the call to the graph, returning errors instead of panicking.
func (c *call) emit(operands []*graph.Node) (outputs []*graph.Node, err error) {
	err = exceptions.TryCatch[error](func() {
		outputs = graph.CustomCall(c, operands...)
	})
	return
}

// VJP implements graph.CustomOp: the cotangents of the non-fixed operands are given by the transposed
// call on the fixed operands and the cotangents of the outputs. Fixed operands receive no gradient.
//
// The transposed call of a transposed call is the forward call.
func (c *call) VJP(_ *graph.Node, operands, cotangents []*graph.Node) ([]*graph.Node, error) {
	numFixed := c.op.numFixed
	var batchAxes, outBatchAxes [][]int
	if c.batchAxes != nil {
		batchAxes = slices.Concat(c.batchAxes[:numFixed], c.outBatchAxes)
		outBatchAxes = c.batchAxes[numFixed:]
	}
	transposed, err := c.derive(!c.transposed, batchAxes, outBatchAxes)
	if err != nil {
		return nil, err
	}
	outputs, err := transposed.emit(slices.Concat(operands[:numFixed], cotangents))
	if err != nil {
		return nil, err
	}
	traced := operands[numFixed:]
	if len(outputs) != len(traced) {
		return nil, errors.Wrapf(ErrContractViolation, "%s returned %d values, but %s has %d non-fixed operands",
			transposed.Name(), len(outputs), c.Name(), len(traced))
	}
	vjps := make([]*graph.Node, len(operands))
	for ii, output := range outputs {
		if !output.Shape().Equal(traced[ii].Shape()) {
			return nil, errors.Wrapf(ErrContractViolation, "%s returned shape %s for value #%d, but %s operand #%d has shape %s",
				transposed.Name(), output.Shape(), ii, c.Name(), numFixed+ii, traced[ii].Shape())
		}
		vjps[numFixed+ii] = output
	}
	return vjps, nil
}

// JVP implements graph.CustomOp: since the operation is linear in its non-fixed operands, the tangents of
// the outputs are given by the same call on the fixed operands and the tangents of the non-fixed ones.
func (c *call) JVP(node *graph.Node, operands, tangents []*graph.Node) ([]*graph.Node, error) {
	numFixed := c.op.numFixed
	traced := operands[numFixed:]
	tracedTangents := make([]*graph.Node, len(traced))
	hasTangent := false
	for ii, operand := range traced {
		tangent := tangents[numFixed+ii]
		if tangent == nil {
			tangent = graph.ZerosLike(operand)
		} else {
			hasTangent = true
		}
		tracedTangents[ii] = tangent
	}
	if !hasTangent {
		// Only fixed operands have tangents: outputs get zero tangents.
		return make([]*graph.Node, node.NumOutputs()), nil
	}
	tangentCall, err := c.derive(c.transposed, c.batchAxes, c.outBatchAxes)
	if err != nil {
		return nil, err
	}
	return tangentCall.emit(slices.Concat(operands[:numFixed], tracedTangents))
}

func cloneAxes(axes [][]int) [][]int {
	if axes == nil {
		return nil
	}
	cloned := make([][]int, len(axes))
	for ii, a := range axes {
		cloned[ii] = slices.Clone(a)
	}
	return cloned
}
