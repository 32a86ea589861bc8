// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package kernel provides the compute kernels of the clear and copy paths
// and a per-device cache that compiles each variant once.
package kernel

import (
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/gogpu/texmeta/device"
)

// ErrCompile is returned when a kernel variant cannot be produced.
var ErrCompile = errors.New("kernel: compile failed")

// Cache memoizes compiled kernels per key.
//
// Concurrent first requests for the same key compile once. Failures are not
// cached, so a later request retries. Cache is safe for concurrent use.
type Cache struct {
	compiler device.Compiler
	kernels  sync.Map // device.KernelKey -> device.Kernel
	group    singleflight.Group
}

var _ device.KernelProvider = (*Cache)(nil)

// NewCache returns a cache compiling through c.
func NewCache(c device.Compiler) *Cache {
	return &Cache{compiler: c}
}

// Kernel returns the compiled kernel for key.
func (c *Cache) Kernel(key device.KernelKey) (device.Kernel, error) {
	if k, ok := c.kernels.Load(key); ok {
		return k.(device.Kernel), nil
	}
	v, err, _ := c.group.Do(key.String(), func() (any, error) {
		if k, ok := c.kernels.Load(key); ok {
			return k, nil
		}
		src, err := Source(key)
		if err != nil {
			return nil, err
		}
		k, err := c.compiler.CompileKernel(key, src)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrCompile, key, err)
		}
		c.kernels.Store(key, k)
		return k, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(device.Kernel), nil
}

// Len returns the number of cached kernels.
func (c *Cache) Len() int {
	n := 0
	c.kernels.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// Purge drops every cached kernel and returns them.
func (c *Cache) Purge() []device.Kernel {
	var out []device.Kernel
	c.kernels.Range(func(k, v any) bool {
		out = append(out, v.(device.Kernel))
		c.kernels.Delete(k)
		return true
	})
	return out
}
