// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package kernel

import (
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gogpu/texmeta/device"
)

type slowCompiler struct {
	calls atomic.Int32
	mem   *device.Memory
}

func (s *slowCompiler) CompileKernel(key device.KernelKey, src string) (device.Kernel, error) {
	s.calls.Add(1)
	time.Sleep(10 * time.Millisecond)
	return s.mem.CompileKernel(key, src)
}

func TestCacheCompilesOnce(t *testing.T) {
	comp := &slowCompiler{mem: device.NewMemory()}
	c := NewCache(comp)
	key := device.KernelKey{Kind: device.KernelClearDwords, DWPerThread: 4, WaveSize: 64}

	var wg sync.WaitGroup
	kernels := make([]device.Kernel, 16)
	for i := range kernels {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			k, err := c.Kernel(key)
			assert.NoError(t, err)
			kernels[i] = k
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), comp.calls.Load())
	for _, k := range kernels {
		assert.Equal(t, key, k.Key())
	}
	assert.Equal(t, 1, c.Len())
}

func TestCacheDoesNotCacheFailures(t *testing.T) {
	mem := device.NewMemory()
	c := NewCache(mem)
	key := device.KernelKey{Kind: device.KernelDCCRetile}

	mem.FailKernel(device.KernelDCCRetile, true)
	_, err := c.Kernel(key)
	require.ErrorIs(t, err, ErrCompile)
	assert.ErrorIs(t, err, device.ErrKernelUnavailable)
	assert.Zero(t, c.Len())

	mem.FailKernel(device.KernelDCCRetile, false)
	k, err := c.Kernel(key)
	require.NoError(t, err)
	assert.Equal(t, key, k.Key())

	assert.Len(t, c.Purge(), 1)
	assert.Zero(t, c.Len())
}

func TestSource(t *testing.T) {
	src, err := Source(device.KernelKey{Kind: device.KernelClearDwords, DWPerThread: 2, WaveSize: 32})
	require.NoError(t, err)
	assert.Contains(t, src, "DW_PER_THREAD: u32 = 2u")
	assert.Contains(t, src, "@workgroup_size(32)")
	assert.NotContains(t, src, "{{")

	for kind := device.KernelClearDwords; kind <= device.KernelClearRenderTarget1DArray; kind++ {
		key := device.KernelKey{Kind: kind, DWPerThread: 4, Samples: 4}
		src, err := Source(key)
		require.NoError(t, err, kind.String())
		assert.True(t, strings.Contains(src, "fn main"), kind.String())
		assert.NotContains(t, src, "{{", kind.String())
	}

	arr, err := Source(device.KernelKey{Kind: device.KernelCopyImage1DArray})
	require.NoError(t, err)
	assert.Contains(t, arr, "if (true)")
}

func TestSourceRejects(t *testing.T) {
	for _, key := range []device.KernelKey{
		{Kind: device.KernelClearDwords, DWPerThread: 3},
		{Kind: device.KernelFMASKExpand, Samples: 1},
		{Kind: device.KernelKind(99)},
	} {
		_, err := Source(key)
		assert.ErrorIs(t, err, ErrCompile, key.String())
	}
}
