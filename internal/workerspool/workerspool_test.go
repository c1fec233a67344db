// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package workerspool

import (
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_WaitToStart(t *testing.T) {
	const maxParallelism = 3
	pool := New(maxParallelism)
	var running, maxRunning atomic.Int32
	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		pool.WaitToStart(func() {
			defer wg.Done()
			current := running.Add(1)
			for {
				prev := maxRunning.Load()
				if current <= prev || maxRunning.CompareAndSwap(prev, current) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			running.Add(-1)
		})
	}
	wg.Wait()
	assert.LessOrEqual(t, int(maxRunning.Load()), maxParallelism)
	assert.Positive(t, maxRunning.Load())

	// No parallelism: tasks run inline.
	pool = New(0)
	assert.False(t, pool.IsEnabled())
	var count atomic.Int32
	pool.WaitToStart(func() { count.Add(1) })
	assert.Equal(t, int32(1), count.Load())
	assert.False(t, pool.StartIfAvailable(func() { count.Add(1) }))
	assert.Equal(t, int32(1), count.Load())
}

func TestPool_StartIfAvailable(t *testing.T) {
	pool := New(1)
	release := make(chan struct{})
	started := make(chan struct{})
	require.True(t, pool.StartIfAvailable(func() {
		close(started)
		<-release
	}))
	<-started
	assert.False(t, pool.StartIfAvailable(func() {}))
	close(release)

	// Unlimited.
	pool = New(-1)
	assert.True(t, pool.IsUnlimited())
	done := make(chan struct{})
	require.True(t, pool.StartIfAvailable(func() { close(done) }))
	<-done
}

func TestPool_Parallel(t *testing.T) {
	for _, maxParallelism := range []int{-1, 0, 1, 4, runtime.NumCPU()} {
		pool := New(maxParallelism)
		for _, n := range []int{0, 1, 7, 100} {
			seen := make([]int32, n)
			pool.Parallel(n, 2, func(start, end int) {
				for ii := start; ii < end; ii++ {
					atomic.AddInt32(&seen[ii], 1)
				}
			})
			for ii, count := range seen {
				require.Equalf(t, int32(1), count, "maxParallelism=%d, n=%d: element %d visited %d times",
					maxParallelism, n, ii, count)
			}
		}
	}
}
