// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package graphtest holds test utilities for packages that depend on the graph package.
package graphtest

import (
	"fmt"
	"math"
	"math/rand"
	"slices"
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/linop/pkg/core/graph"
	"github.com/gomlx/linop/pkg/core/shapes"
	"github.com/gomlx/linop/pkg/core/tensors"
	"github.com/gomlx/linop/pkg/support/xslices"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/diff/fd"
)

// TestGraphFn should build its own inputs, and return both inputs and outputs
type TestGraphFn func(g *graph.Graph) (inputs, outputs []*graph.Node)

// RunTestGraphFn tests a graph building function graphFn by executing it and comparing
// its output(s) to the values in want, reporting back any errors in t.
//
// delta is the margin of value on the difference of output and want values that are acceptable.
// Values of delta <= 0 means only exact equality is accepted.
func RunTestGraphFn(t *testing.T, testName string, graphFn TestGraphFn, want []any, delta float64) {
	t.Run(testName, func(t *testing.T) {
		wantTensors := xslices.Map(want, func(value any) *tensors.Tensor {
			if s, ok := value.(shapes.Shape); ok {
				return tensors.FromShape(s)
			}
			return tensors.FromValue(value)
		})

		var numInputs, numOutputs int
		wrapperFn := func(g *graph.Graph, _ []*graph.Node) []*graph.Node {
			i, o := graphFn(g)
			numInputs, numOutputs = len(i), len(o)
			return append(i, o...)
		}
		inputsAndOutputs, err := graph.NewExec(wrapperFn).Exec()
		require.NoErrorf(t, err, "%s: failed to execute graph", testName)
		inputs, outputs := inputsAndOutputs[:numInputs], inputsAndOutputs[numInputs:]
		fmt.Printf("\n%s:\n", testName)
		for ii, input := range inputs {
			fmt.Printf("\tInput %d: %s\n", ii, input)
		}
		if numInputs > 0 {
			fmt.Printf("\t======\n")
		}
		for ii, output := range outputs {
			fmt.Printf("\tOutput %d: %s\n", ii, output)
		}
		require.Equalf(t, len(want), numOutputs, "%s: number of wanted results different from number of outputs", testName)
		for ii, output := range outputs {
			if delta <= 0 {
				require.Truef(t, wantTensors[ii].Equal(output), "%s: output #%d %s doesn't match wanted value %v",
					testName, ii, output, want[ii])
			} else {
				require.Truef(t, wantTensors[ii].InDelta(output, delta), "%s: output #%d %s doesn't match wanted value %v",
					testName, ii, output, want[ii])
			}
		}
	})
}

// CheckGrads checks the forward-mode (JVP) and reverse-mode (VJP) derivatives of fn at the given float64
// inputs against central finite differences with step eps.
//
// The derivatives are checked along a random tangent direction of the inputs, projected on a random
// cotangent of the outputs: <cotangent, JVP(tangent)> and <VJP(cotangent), tangent> must match the
// numeric derivative of <cotangent, fn(inputs + h*tangent)> within tol*(1+|numeric|).
//
// If order > 1, the derivatives of the JVP and VJP functions themselves are checked recursively.
func CheckGrads(t *testing.T, fn graph.GraphFn, inputs []*tensors.Tensor, order int, eps, tol float64) {
	t.Helper()
	for ii, input := range inputs {
		require.Equalf(t, dtypes.Float64, input.DType(), "CheckGrads only supports float64 inputs, input #%d is %s", ii, input.Shape())
	}
	rng := rand.New(rand.NewSource(int64(42 + order)))
	numInputs := len(inputs)
	fnExec := graph.NewExec(fn)
	outputs, err := fnExec.Exec(toAny(inputs)...)
	require.NoError(t, err)
	tangents := xslices.Map(inputs, func(x *tensors.Tensor) *tensors.Tensor { return randomLike(rng, x) })
	cotangents := xslices.Map(outputs, func(y *tensors.Tensor) *tensors.Tensor { return randomLike(rng, y) })

	numeric := fd.Derivative(func(h float64) float64 {
		perturbed := make([]*tensors.Tensor, numInputs)
		for ii, x := range inputs {
			perturbed[ii] = axpy(h, tangents[ii], x)
		}
		return dotAll(cotangents, fnExec.MustExec(toAny(perturbed)...))
	}, 0, &fd.Settings{Formula: fd.Central, Step: eps})
	allowed := tol * (1 + math.Abs(numeric))

	jvpOutputs, err := graph.NewExec(graph.JVPFn(fn)).Exec(toAny(slices.Concat(inputs, tangents))...)
	require.NoError(t, err)
	jvpDot := dotAll(cotangents, jvpOutputs[len(outputs):])
	require.InDeltaf(t, numeric, jvpDot, allowed, "JVP doesn't match numeric derivative (order %d)", order)

	vjpOutputs, err := graph.NewExec(graph.VJPFn(fn, numInputs)).Exec(toAny(slices.Concat(inputs, cotangents))...)
	require.NoError(t, err)
	vjpDot := dotAll(vjpOutputs, tangents)
	require.InDeltaf(t, numeric, vjpDot, allowed, "VJP doesn't match numeric derivative (order %d)", order)

	if order > 1 {
		CheckGrads(t, graph.JVPFn(fn), slices.Concat(inputs, tangents), order-1, eps, tol)
		CheckGrads(t, graph.VJPFn(fn, numInputs), slices.Concat(inputs, cotangents), order-1, eps, tol)
	}
}

func toAny(values []*tensors.Tensor) []any {
	return xslices.Map(values, func(t *tensors.Tensor) any { return t })
}

// randomLike returns a float64 tensor shaped like x with normally distributed values.
func randomLike(rng *rand.Rand, x *tensors.Tensor) *tensors.Tensor {
	flat := make([]float64, x.Size())
	for ii := range flat {
		flat[ii] = rng.NormFloat64()
	}
	return tensors.FromFlatDataAndDimensions(flat, x.Shape().Dimensions...)
}

// axpy returns a*x + y.
func axpy(a float64, x, y *tensors.Tensor) *tensors.Tensor {
	xFlat, yFlat := tensors.CopyFlatData[float64](x), tensors.CopyFlatData[float64](y)
	for ii := range yFlat {
		yFlat[ii] += a * xFlat[ii]
	}
	return tensors.FromFlatDataAndDimensions(yFlat, y.Shape().Dimensions...)
}

// dotAll returns the sum of the inner products of each pair of tensors.
func dotAll(lhs, rhs []*tensors.Tensor) (sum float64) {
	for ii := range lhs {
		lhsFlat, rhsFlat := tensors.CopyFlatData[float64](lhs[ii]), tensors.CopyFlatData[float64](rhs[ii])
		for jj := range lhsFlat {
			sum += lhsFlat[jj] * rhsFlat[jj]
		}
	}
	return
}
