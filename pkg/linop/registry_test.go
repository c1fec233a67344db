// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package linop_test

import (
	"sync"
	"testing"

	"github.com/gomlx/linop/pkg/core/graph"
	"github.com/gomlx/linop/pkg/linop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry(t *testing.T) {
	registry := linop.NewRegistry()
	assert.Equal(t, 0, registry.Len())
	_, _, err := registry.Lookup("unknown")
	require.ErrorIs(t, err, linop.ErrUnknownToken)
	require.ErrorIs(t, err, linop.ErrContractViolation)

	ops := make([]*linop.LinearOp, 3)
	for ii := range ops {
		ops[ii] = newScaleOp(t, registry, false)
	}
	tokens := registry.Tokens()
	require.Len(t, tokens, 3)
	for _, op := range ops {
		assert.Contains(t, tokens, op.Token())
		forward, transpose, err := registry.Lookup(op.Token())
		require.NoError(t, err)
		assert.NotNil(t, forward)
		assert.NotNil(t, transpose)
	}

	assert.True(t, registry.Unregister(ops[0].Token()))
	assert.False(t, registry.Unregister(ops[0].Token()))
	assert.Equal(t, 2, registry.Len())
	_, _, err = registry.Lookup(ops[0].Token())
	require.ErrorIs(t, err, linop.ErrUnknownToken)
}

func TestRegistryConcurrentLookups(t *testing.T) {
	registry := linop.NewRegistry()
	op := newScaleOp(t, registry, false)
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				_, _, err := registry.Lookup(op.Token())
				assert.NoError(t, err)
			}
		}()
	}
	for range 10 {
		other := newScaleOp(t, registry, false)
		registry.Unregister(other.Token())
	}
	wg.Wait()
	assert.Equal(t, 1, registry.Len())
}

func TestExecuteUnregistered(t *testing.T) {
	registry := linop.NewRegistry()
	op := newScaleOp(t, registry, false)
	scaleExec := graph.NewExec(func(g *graph.Graph, inputs []*graph.Node) []*graph.Node {
		return op.Call(inputs[0])
	})
	outputs, err := scaleExec.Exec([]float64{1, 2})
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2}, outputs[0].Value())

	// The cached graph still references the token, but it can no longer be resolved.
	require.True(t, registry.Unregister(op.Token()))
	_, err = scaleExec.Exec([]float64{1, 2})
	require.ErrorIs(t, err, linop.ErrUnknownToken)
	require.ErrorIs(t, err, linop.ErrContractViolation)
}
