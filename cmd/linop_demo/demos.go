// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"math"
	"math/cmplx"
	"math/rand"
	"time"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/linop/examples/linfft"
	"github.com/gomlx/linop/examples/linsum"
	"github.com/gomlx/linop/pkg/core/graph"
	"github.com/gomlx/linop/pkg/core/shapes"
	"github.com/gomlx/linop/pkg/core/tensors"
	"github.com/gomlx/linop/pkg/linop"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// maxAllowedError above which a result is reported as failed.
const maxAllowedError = 1e-9

// config of the demos.
type config struct {
	Size, Batch, Repeats, Workers int
	Seed                          int64
}

// result of one demo graph.
type result struct {
	Op, Mode string
	Shape    shapes.Shape
	Elapsed  time.Duration
	MaxErr   float64
}

func (r result) failed() bool { return r.MaxErr > maxAllowedError || math.IsNaN(r.MaxErr) }

// ops holds the linear operations used by the demos.
type ops struct {
	Sum, ScaledProduct, FFT, BatchedFFT *linop.LinearOp
}

// newOps creates all the demo operations in the registry.
func newOps(registry *linop.Registry) (o ops, err error) {
	if o.Sum, err = linsum.NewSum(registry); err != nil {
		return
	}
	if o.ScaledProduct, err = linsum.NewScaledProduct(registry); err != nil {
		return
	}
	if o.FFT, err = linfft.New(registry, false); err != nil {
		return
	}
	o.BatchedFFT, err = linfft.New(registry, true)
	return
}

// demoNames in the order they are run by "all".
var demoNames = []string{"sum", "product", "fft"}

// runDemos runs the named demo, or all of them if name is "all".
func runDemos(o ops, name string, cfg config) ([]result, error) {
	names := []string{name}
	if name == "all" {
		names = demoNames
	}
	var results []result
	for _, name := range names {
		var (
			demoResults []result
			err         error
		)
		switch name {
		case "sum":
			demoResults, err = runSum(o.Sum, cfg)
		case "product":
			demoResults, err = runScaledProduct(o.ScaledProduct, cfg)
		case "fft":
			demoResults, err = runFFT(o.FFT, o.BatchedFFT, cfg)
		default:
			return nil, errors.Errorf("unknown demo %q, valid values are %q or \"all\"", name, demoNames)
		}
		if err != nil {
			return nil, errors.WithMessagef(err, "demo %q failed", name)
		}
		results = append(results, demoResults...)
	}
	return results, nil
}

// timeExec executes the graph once to build it, and then returns the mean time of cfg.Repeats executions.
func timeExec(exec *graph.Exec, repeats int, inputs ...any) ([]*tensors.Tensor, time.Duration, error) {
	outputs, err := exec.Exec(inputs...)
	if err != nil {
		return nil, 0, err
	}
	repeats = max(repeats, 1)
	start := time.Now()
	for range repeats {
		if outputs, err = exec.Exec(inputs...); err != nil {
			return nil, 0, err
		}
	}
	elapsed := time.Since(start) / time.Duration(repeats)
	klog.V(1).Infof("%s: %s per execution", exec.Name(), elapsed)
	return outputs, elapsed, nil
}

func randomFloats(rng *rand.Rand, dimensions ...int) []float64 {
	flat := make([]float64, shapes.Make(dtypes.Float64, dimensions...).Size())
	for ii := range flat {
		flat[ii] = rng.NormFloat64()
	}
	return flat
}

func randomComplex(rng *rand.Rand, dimensions ...int) []complex128 {
	flat := make([]complex128, shapes.Make(dtypes.Complex128, dimensions...).Size())
	for ii := range flat {
		flat[ii] = complex(rng.NormFloat64(), rng.NormFloat64())
	}
	return flat
}

func maxAbsDiff(want, got []float64) (maxDiff float64) {
	if len(want) != len(got) {
		return math.Inf(1)
	}
	for ii := range want {
		maxDiff = max(maxDiff, math.Abs(want[ii]-got[ii]))
	}
	return
}

func maxComplexDiff(want, got []complex128) (maxDiff float64) {
	if len(want) != len(got) {
		return math.Inf(1)
	}
	for ii := range want {
		maxDiff = max(maxDiff, cmplx.Abs(want[ii]-got[ii]))
	}
	return
}

func callFn(op *linop.LinearOp, kwargs linop.Kwargs) graph.GraphFn {
	return func(g *graph.Graph, inputs []*graph.Node) []*graph.Node {
		return op.CallWithKwargs(kwargs, inputs...)
	}
}

// runSum calls Sum directly on the whole operands, and vectorized over the batch, which Sum executes in a loop.
func runSum(sum *linop.LinearOp, cfg config) ([]result, error) {
	rng := rand.New(rand.NewSource(cfg.Seed))
	dims := []int{cfg.Batch, cfg.Size}
	xFlat, yFlat := randomFloats(rng, dims...), randomFloats(rng, dims...)
	want := make([]float64, len(xFlat))
	for ii := range want {
		want[ii] = xFlat[ii] + yFlat[ii]
	}
	x, y := tensors.FromFlatDataAndDimensions(xFlat, dims...), tensors.FromFlatDataAndDimensions(yFlat, dims...)

	var results []result
	for _, mode := range []struct {
		name string
		fn   graph.GraphFn
	}{
		{"direct", callFn(sum, nil)},
		{"vmap/loop", graph.Vmap(callFn(sum, nil), 0)},
	} {
		outputs, elapsed, err := timeExec(graph.NewExec(mode.fn).SetName("sum/"+mode.name), cfg.Repeats, x, y)
		if err != nil {
			return nil, err
		}
		maxErr := max(maxAbsDiff(want, tensors.CopyFlatData[float64](outputs[0])),
			maxAbsDiff(want, tensors.CopyFlatData[float64](outputs[1])))
		results = append(results, result{Op: sum.Name(), Mode: mode.name, Shape: x.Shape(), Elapsed: elapsed, MaxErr: maxErr})
	}
	return results, nil
}

// runScaledProduct calls ScaledProduct directly, vectorized (natively), and its gradient, which uses the transpose.
func runScaledProduct(product *linop.LinearOp, cfg config) ([]result, error) {
	rng := rand.New(rand.NewSource(cfg.Seed + 1))
	dims := []int{cfg.Batch, cfg.Size}
	xFlat, yFlat := randomFloats(rng, dims...), randomFloats(rng, dims...)
	wantForward := make([]float64, len(xFlat))
	wantGrad := make([]float64, len(xFlat))
	for ii := range xFlat {
		wantForward[ii] = xFlat[ii] * xFlat[ii] * yFlat[ii]
		wantGrad[ii] = xFlat[ii]*xFlat[ii] + xFlat[ii]
	}
	x, y := tensors.FromFlatDataAndDimensions(xFlat, dims...), tensors.FromFlatDataAndDimensions(yFlat, dims...)

	gradFn := func(g *graph.Graph, inputs []*graph.Node) []*graph.Node {
		outputs := product.Call(inputs...)
		return graph.Gradient(graph.ReduceAllSum(graph.Add(outputs[0], outputs[1])), inputs[1])
	}
	var results []result
	for _, mode := range []struct {
		name string
		fn   graph.GraphFn
		want []float64
	}{
		{"direct", callFn(product, nil), wantForward},
		{"vmap/native", graph.Vmap(callFn(product, nil), 0), wantForward},
		{"gradient", gradFn, wantGrad},
	} {
		outputs, elapsed, err := timeExec(graph.NewExec(mode.fn).SetName("product/"+mode.name), cfg.Repeats, x, y)
		if err != nil {
			return nil, err
		}
		maxErr := maxAbsDiff(mode.want, tensors.CopyFlatData[float64](outputs[0]))
		results = append(results, result{Op: product.Name(), Mode: mode.name, Shape: x.Shape(), Elapsed: elapsed, MaxErr: maxErr})
	}
	return results, nil
}

// energyError returns the relative error of Parseval's identity: with the 1/N normalization the
// energy of the transform times N must match the energy of the input.
func energyError(input, transformed []complex128, n int) float64 {
	var inputEnergy, transformedEnergy float64
	for ii := range input {
		inputEnergy += real(input[ii] * cmplx.Conj(input[ii]))
		transformedEnergy += real(transformed[ii] * cmplx.Conj(transformed[ii]))
	}
	transformedEnergy *= float64(n)
	return math.Abs(inputEnergy-transformedEnergy) / max(inputEnergy, 1)
}

// runFFT transforms a batch of square matrices with the FFT executed in a loop and natively batched.
// The native results must match the loop ones.
func runFFT(loopFFT, nativeFFT *linop.LinearOp, cfg config) ([]result, error) {
	rng := rand.New(rand.NewSource(cfg.Seed + 2))
	dims := []int{cfg.Batch, cfg.Size, cfg.Size}
	xFlat, yFlat := randomComplex(rng, dims...), randomComplex(rng, dims...)
	x, y := tensors.FromFlatDataAndDimensions(xFlat, dims...), tensors.FromFlatDataAndDimensions(yFlat, dims...)
	n := cfg.Size * cfg.Size

	var (
		results []result
		loopOut []complex128
	)
	for _, mode := range []struct {
		name string
		op   *linop.LinearOp
	}{
		{"vmap/loop", loopFFT},
		{"vmap/native", nativeFFT},
	} {
		fn := graph.Vmap(callFn(mode.op, linfft.Kwargs(cfg.Workers)), 0)
		outputs, elapsed, err := timeExec(graph.NewExec(fn).SetName("fft/"+mode.name), cfg.Repeats, x, y)
		if err != nil {
			return nil, err
		}
		xOut, yOut := tensors.CopyFlatData[complex128](outputs[0]), tensors.CopyFlatData[complex128](outputs[1])
		maxErr := max(energyError(xFlat, xOut, n), energyError(yFlat, yOut, n))
		if loopOut == nil {
			loopOut = xOut
		} else {
			maxErr = max(maxErr, maxComplexDiff(loopOut, xOut))
		}
		results = append(results, result{Op: mode.op.Name(), Mode: mode.name, Shape: x.Shape(), Elapsed: elapsed, MaxErr: maxErr})
	}
	return results, nil
}
