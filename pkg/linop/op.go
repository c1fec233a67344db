// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package linop

import (
	"path"
	"reflect"
	"runtime"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/linop/pkg/core/graph"
	"github.com/gomlx/linop/pkg/core/tensors"
	"github.com/pkg/errors"
)

// HostFunc computes the outputs of an operation on the host.
//
// The outputs are pre-allocated with the shapes returned by the abstract evaluation, and must all be
// written (see tensors.MutableViewFlat). The operands are read-only views: mutable access panics, but
// tensors.ViewFlat returns the operand's own storage, so a host function writing to it silently changes
// the operand (including constants bound by LinearOp.Partial). Views are only valid during the call.
// kwargs is the blob created by EncodeKwargs, see DecodeKwargs.
//
// Returned errors are returned unchanged by the graph execution.
type HostFunc func(outputs, operands []*tensors.View, kwargs []byte) error

// Builder configures a LinearOp. Create it with Registry.MakeLinearOp, and finish it with Done.
type Builder struct {
	registry                           *Registry
	forward, transpose                 HostFunc
	forwardAbstract, transposeAbstract AbstractFunc
	name                               string
	numFixed                           int
	canBatch                           bool
}

// MakeLinearOp starts the creation of an operation linear in its (non-fixed) operands, given its forward
// host function, its transpose and the abstract evaluation functions of both.
//
// The transpose takes the fixed operands followed by one cotangent per output of the forward function,
// and returns one value per non-fixed operand of the forward function, with the same shapes.
//
// Call Done to register it and get the LinearOp.
func (r *Registry) MakeLinearOp(forward, transpose HostFunc, forwardAbstract, transposeAbstract AbstractFunc) *Builder {
	return &Builder{
		registry:          r,
		forward:           forward,
		transpose:         transpose,
		forwardAbstract:   forwardAbstract,
		transposeAbstract: transposeAbstract,
	}
}

// FirstNArgsFixed marks the first n operands as fixed: the operation need not be linear in them, they
// receive no gradient, and they are passed unchanged to the transpose. Default is 0.
func (b *Builder) FirstNArgsFixed(n int) *Builder {
	b.numFixed = n
	return b
}

// CanBatch indicates the host functions handle batched operands natively, using the batch axes given
// in the kwargs (see BatchAxes). Otherwise batched calls are executed as a loop over the batch.
// Default is false.
func (b *Builder) CanBatch(canBatch bool) *Builder {
	b.canBatch = canBatch
	return b
}

// Name sets the name of the operation, used in logs and error messages.
// The default is the name of the forward function.
func (b *Builder) Name(name string) *Builder {
	b.name = name
	return b
}

// Done validates the configuration and registers the host functions.
func (b *Builder) Done() (*LinearOp, error) {
	if b.registry == nil {
		return nil, errors.New("linop: MakeLinearOp requires a Registry")
	}
	if b.forward == nil || b.transpose == nil {
		return nil, errors.New("linop: MakeLinearOp requires both the forward and transpose host functions")
	}
	if b.forwardAbstract == nil || b.transposeAbstract == nil {
		return nil, errors.New("linop: MakeLinearOp requires both the forward and transpose abstract functions")
	}
	if b.numFixed < 0 {
		return nil, errors.Errorf("linop: FirstNArgsFixed(%d) must be >= 0", b.numFixed)
	}
	name := b.name
	if name == "" {
		name = funcName(b.forward)
	}
	op := &LinearOp{
		registry:          b.registry,
		name:              name,
		forwardAbstract:   b.forwardAbstract,
		transposeAbstract: b.transposeAbstract,
		numFixed:          b.numFixed,
		canBatch:          b.canBatch,
	}
	op.token = b.registry.register(name, b.forward, b.transpose)
	return op, nil
}

// funcName returns the short name (package.Function) of fn.
func funcName(fn any) string {
	f := runtime.FuncForPC(reflect.ValueOf(fn).Pointer())
	if f == nil {
		return "linop"
	}
	return path.Base(f.Name())
}

// LinearOp is an operation executed by host functions, linear in its non-fixed operands, that can be
// used in a graph like any other operation: it can be differentiated in both modes (graph.VJP,
// graph.JVP) and vectorized (graph.Vmap).
//
// It is immutable and safe for concurrent use.
type LinearOp struct {
	registry                           *Registry
	token                              Token
	name                               string
	forwardAbstract, transposeAbstract AbstractFunc
	numFixed                           int
	canBatch                           bool
}

// Name of the operation.
func (op *LinearOp) Name() string { return op.name }

// Token under which the host functions are registered.
func (op *LinearOp) Token() Token { return op.token }

// Registry where the host functions are registered.
func (op *LinearOp) Registry() *Registry { return op.registry }

// NumFixed returns the number of leading fixed operands.
func (op *LinearOp) NumFixed() int { return op.numFixed }

// CanBatch returns whether the host functions handle batched operands natively.
func (op *LinearOp) CanBatch() bool { return op.canBatch }

// Call adds the operation on the given operands (fixed operands first) to their graph, and returns its outputs.
// It panics on errors, like other graph building functions.
func (op *LinearOp) Call(operands ...*graph.Node) []*graph.Node {
	return op.CallWithKwargs(nil, operands...)
}

// CallWithKwargs is like Call, but also passes the given kwargs to the abstract and host functions.
// The kwargs are encoded (see EncodeKwargs) once, here. The key BatchAxesKey is reserved.
func (op *LinearOp) CallWithKwargs(kwargs Kwargs, operands ...*graph.Node) []*graph.Node {
	if len(operands) <= op.numFixed {
		exceptions.Panicf("%s: got %d operands, but %d are fixed: at least one non-fixed operand is required",
			op.name, len(operands), op.numFixed)
	}
	if _, found := kwargs[BatchAxesKey]; found {
		exceptions.Panicf("%s: kwargs key %q is reserved", op.name, BatchAxesKey)
	}
	c, err := newCall(op, false, kwargs, nil, nil)
	if err != nil {
		panic(err)
	}
	return graph.CustomCall(c, operands...)
}

// Partial returns a graph.GraphFn that calls the operation with the given fixed operands, bound as
// constants, followed by its inputs.
func (op *LinearOp) Partial(kwargs Kwargs, fixed ...*tensors.Tensor) graph.GraphFn {
	if len(fixed) != op.numFixed {
		exceptions.Panicf("%s.Partial: got %d fixed operands, wanted %d", op.name, len(fixed), op.numFixed)
	}
	return func(g *graph.Graph, inputs []*graph.Node) []*graph.Node {
		operands := make([]*graph.Node, 0, len(fixed)+len(inputs))
		for _, t := range fixed {
			operands = append(operands, graph.ConstTensor(g, t))
		}
		operands = append(operands, inputs...)
		return op.CallWithKwargs(kwargs, operands...)
	}
}
