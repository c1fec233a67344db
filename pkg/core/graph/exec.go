// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"fmt"
	"reflect"
	"runtime"
	"slices"
	"sync"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/linop/pkg/core/shapes"
	"github.com/gomlx/linop/pkg/core/tensors"
	"github.com/pkg/errors"
)

// Exec creates and executes computation graphs built by a GraphFn, as needed.
//
// One graph is built (traced) and compiled for each combination of input shapes, and cached for the
// following calls. Example:
//
//	sumExec := graph.NewExec(func(g *graph.Graph, inputs []*graph.Node) []*graph.Node {
//		return []*graph.Node{graph.ReduceAllSum(graph.Add(inputs[0], inputs[1]))}
//	})
//	outputs, err := sumExec.Exec([]float32{1, 2}, []float32{3, 4})
//
// It is safe for concurrent use.
type Exec struct {
	name    string
	graphFn GraphFn

	// maxCacheSize: if more than these different graph instantiations are
	// created, Exec starts returning errors.
	maxCacheSize int

	// Protects cache structure.
	cacheMu sync.Mutex
	cache   []*execCacheEntry
}

// execCacheEntry: no hashing, just a simple list. This is faster for smaller tables.
type execCacheEntry struct {
	argsShapes []shapes.Shape
	graph      *Graph
}

// NewExec constructs an Exec object that uses graphFn to build computation graphs.
func NewExec(graphFn GraphFn) *Exec {
	funcName := runtime.FuncForPC(reflect.ValueOf(graphFn).Pointer()).Name()
	return &Exec{
		name:         fmt.Sprintf("Exec:%s", funcName),
		graphFn:      graphFn,
		maxCacheSize: DefaultConfig.MaxCacheSize,
	}
}

// SetName sets the name of Exec, used to name the graphs it creates.
func (e *Exec) SetName(name string) *Exec {
	e.name = name
	return e
}

// Name returns the Exec name, a string used as prefix for Graph construction.
func (e *Exec) Name() string {
	return e.name
}

// SetMaxCache sets the maximum size of the cache. Set it to <= 0 to disable the limit.
func (e *Exec) SetMaxCache(maxCacheSize int) *Exec {
	e.cacheMu.Lock()
	defer e.cacheMu.Unlock()
	e.maxCacheSize = maxCacheSize
	return e
}

// CacheSize returns the number of graphs currently cached.
func (e *Exec) CacheSize() int {
	e.cacheMu.Lock()
	defer e.cacheMu.Unlock()
	return len(e.cache)
}

// Exec builds (or reuses from cache) the graph for the shapes of the inputs and executes it.
//
// Inputs can be *tensors.Tensor or any value accepted by tensors.FromValue.
// Errors during the building of the graph or its execution are returned, in particular the errors
// returned by host functions of custom operations are returned unchanged.
func (e *Exec) Exec(inputs ...any) (outputs []*tensors.Tensor, err error) {
	err = exceptions.TryCatch[error](func() {
		tensorInputs := make([]*tensors.Tensor, len(inputs))
		argsShapes := make([]shapes.Shape, len(inputs))
		for ii, input := range inputs {
			tensorInputs[ii] = tensors.FromValue(input)
			argsShapes[ii] = tensorInputs[ii].Shape()
		}
		entry := e.findCacheEntry(argsShapes)
		outputs = entry.graph.Run(tensorInputs...)
	})
	if err != nil {
		outputs = nil
	}
	return
}

// MustExec is like Exec, but panics in case of errors.
func (e *Exec) MustExec(inputs ...any) []*tensors.Tensor {
	outputs, err := e.Exec(inputs...)
	if err != nil {
		panic(err)
	}
	return outputs
}

// findCacheEntry returns the graph for the given arguments shapes, creating and compiling one if
// no cache entry exists.
func (e *Exec) findCacheEntry(argsShapes []shapes.Shape) *execCacheEntry {
	e.cacheMu.Lock()
	defer e.cacheMu.Unlock()
	for _, entry := range e.cache {
		if slices.EqualFunc(argsShapes, entry.argsShapes, shapes.Shape.Equal) {
			return entry
		}
	}
	return e.createAndCacheGraph(argsShapes)
}

// createAndCacheGraph creates and compiles the graph for the arguments with the given
// shapes. Should be called with cacheMu locked.
func (e *Exec) createAndCacheGraph(argsShapes []shapes.Shape) *execCacheEntry {
	if e.maxCacheSize > 0 && len(e.cache) >= e.maxCacheSize {
		panic(errors.Errorf("%s: maximum cache size of %d reached, cannot create another graph for input shapes %v",
			e.name, e.maxCacheSize, argsShapes))
	}
	g := NewGraph(fmt.Sprintf("%s#%d", e.name, len(e.cache)))
	params := make([]*Node, len(argsShapes))
	for ii, shape := range argsShapes {
		params[ii] = g.Parameter(fmt.Sprintf("arg#%d", ii), shape)
	}
	outputs := e.graphFn(g, params)
	g.Compile(outputs...)
	entry := &execCacheEntry{argsShapes: slices.Clone(argsShapes), graph: g}
	e.cache = append(e.cache, entry)
	return entry
}
