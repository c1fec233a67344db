// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"io"
	"testing"

	"github.com/gomlx/linop/pkg/linop"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testConfig = config{Size: 4, Batch: 3, Repeats: 1, Workers: 1, Seed: 7}

func TestRunDemos(t *testing.T) {
	o := must.M1(newOps(linop.NewRegistry()))
	results, err := runDemos(o, "all", testConfig)
	require.NoError(t, err)
	require.Len(t, results, 7)
	for _, r := range results {
		assert.Falsef(t, r.failed(), "%s (%s) failed: max error %g", r.Op, r.Mode, r.MaxErr)
	}
	assert.Equal(t, "Sum", results[0].Op)
	assert.Equal(t, "ScaledProduct", results[2].Op)
	assert.Equal(t, "gradient", results[4].Mode)
	assert.Equal(t, "FFT", results[5].Op)
	assert.Equal(t, "BatchedFFT", results[6].Op)
	assert.Equal(t, []int{3, 4, 4}, results[6].Shape.Dimensions)

	rendered := report(results)
	assert.Contains(t, rendered, "ScaledProduct")
	assert.Contains(t, rendered, "vmap/native")

	results, err = runDemos(o, "fft", testConfig)
	require.NoError(t, err)
	require.Len(t, results, 2)

	_, err = runDemos(o, "invalid", testConfig)
	require.ErrorContains(t, err, "unknown demo")
}

func TestSweepWorkers(t *testing.T) {
	o := must.M1(newOps(linop.NewRegistry()))
	points, err := sweepWorkers(o, testConfig, []int{1, 2}, io.Discard)
	require.NoError(t, err)
	require.Len(t, points, 2)
	for ii, p := range points {
		assert.Equal(t, ii+1, p.Workers)
		assert.LessOrEqual(t, p.MaxErr, maxAllowedError)
	}
	assert.Contains(t, sweepReport(points), "Speedup")

	_, err = sweepWorkers(o, testConfig, []int{0}, io.Discard)
	require.Error(t, err)
}
