// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package linop_test

import (
	"testing"

	"github.com/gomlx/linop/pkg/linop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fftPlan struct {
	Axes    []int
	Inverse bool
}

func init() {
	linop.RegisterKwargsType(fftPlan{})
}

func TestKwargsRoundTrip(t *testing.T) {
	for _, kwargs := range []linop.Kwargs{
		{},
		{"workers": 4},
		{
			"factor":     2.5,
			"name":       "fft",
			"inverse":    true,
			"axes":       []int{0, 2},
			"weights":    []float64{0.5, 0.25},
			"labels":     []string{"a", "b"},
			"batch_axes": [][]int{{1}, {0, 2}},
			"nested":     map[string]any{"depth": 3, "ratio": 0.5},
			"plan":       fftPlan{Axes: []int{1}, Inverse: true},
			"bytes":      []byte{1, 2, 3},
			"complex":    complex(1, -1),
		},
		// Empty slices must not decode as nil.
		{"axes": []int{}},
		{"batch_axes": [][]int{{0}, {}}},
		{
			"labels": []string{},
			"bytes":  []byte{},
			"list":   []any{[]int{}, 1, [][]float64{{}, {1}}},
			"nested": map[string]any{"axes": []int{}, "batch_axes": [][]int{{}, {}}},
		},
	} {
		blob, err := linop.EncodeKwargs(kwargs)
		require.NoError(t, err)
		decoded, err := linop.DecodeKwargs(blob)
		require.NoError(t, err)
		assert.Equal(t, kwargs, decoded)
	}

	// nil kwargs decode to an empty, non-nil, map.
	blob, err := linop.EncodeKwargs(nil)
	require.NoError(t, err)
	decoded := linop.MustDecodeKwargs(blob)
	require.NotNil(t, decoded)
	assert.Empty(t, decoded)
}

func TestKwargsMalformed(t *testing.T) {
	blob, err := linop.EncodeKwargs(linop.Kwargs{"workers": 4})
	require.NoError(t, err)

	wrongVersion := append([]byte(nil), blob...)
	wrongVersion[4] = 7
	for name, malformed := range map[string][]byte{
		"empty":       nil,
		"short":       []byte("LOK"),
		"magic":       append([]byte("XXXX"), blob[4:]...),
		"version":     wrongVersion,
		"truncated":   blob[:len(blob)-3],
		"garbage":     append([]byte("LOKW\x02"), 0xff, 0xfe, 0x00, 0x13),
		"header only": blob[:5],
	} {
		t.Run(name, func(t *testing.T) {
			_, err := linop.DecodeKwargs(malformed)
			require.ErrorIs(t, err, linop.ErrMalformedKwargs)
			require.Panics(t, func() { linop.MustDecodeKwargs(malformed) })
		})
	}

	_, err = linop.EncodeKwargs(linop.Kwargs{"unregistered": struct{ X int }{1}})
	require.Error(t, err)
}

func TestKwargsAccessors(t *testing.T) {
	kwargs := linop.Kwargs{"workers": 4, "name": "fft", linop.BatchAxesKey: [][]int{{0}, {}}}
	workers, err := kwargs.Int("workers", 1)
	require.NoError(t, err)
	assert.Equal(t, 4, workers)
	workers, err = kwargs.Int("missing", 1)
	require.NoError(t, err)
	assert.Equal(t, 1, workers)
	_, err = kwargs.Int("name", 1)
	require.ErrorIs(t, err, linop.ErrMalformedKwargs)

	assert.Equal(t, [][]int{{0}, {}}, linop.BatchAxes(kwargs))
	assert.Nil(t, linop.BatchAxes(linop.Kwargs{}))

	cloned := kwargs.Clone()
	cloned["workers"] = 8
	assert.Equal(t, 4, kwargs["workers"])
	assert.NotNil(t, linop.Kwargs(nil).Clone())
}
