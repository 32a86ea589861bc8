// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package halgpu

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/naga"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/texmeta/device"
)

// Kernel is a compiled compute pipeline.
type Kernel struct {
	key      device.KernelKey
	storage  []bool // writable per storage binding
	module   hal.ShaderModule
	bgLayout hal.BindGroupLayout
	layout   hal.PipelineLayout
	pipeline hal.ComputePipeline
}

func (k *Kernel) Key() device.KernelKey { return k.key }

// storageBindings returns the writability of the storage bindings of a
// kernel kind. The params uniform follows them.
func storageBindings(kind device.KernelKind) []bool {
	switch kind {
	case device.KernelCopyDwords, device.KernelCopyImage2D, device.KernelCopyImage1DArray, kindCopyBytes:
		return []bool{true, false}
	case device.KernelDCCDecompress:
		return []bool{true, true}
	case device.KernelDCCRetile:
		return []bool{false, true, false}
	default:
		return []bool{true}
	}
}

func bindGroupLayoutEntries(storage []bool) []gputypes.BindGroupLayoutEntry {
	entries := make([]gputypes.BindGroupLayoutEntry, 0, len(storage)+1)
	for i, rw := range storage {
		typ := gputypes.BufferBindingTypeReadOnlyStorage
		if rw {
			typ = gputypes.BufferBindingTypeStorage
		}
		entries = append(entries, gputypes.BindGroupLayoutEntry{
			Binding:    uint32(i),
			Visibility: gputypes.ShaderStageCompute,
			Buffer:     &gputypes.BufferBindingLayout{Type: typ},
		})
	}
	return append(entries, gputypes.BindGroupLayoutEntry{
		Binding:    uint32(len(storage)),
		Visibility: gputypes.ShaderStageCompute,
		Buffer:     &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeUniform},
	})
}

// CompileKernel builds a compute pipeline from WGSL source.
func (d *Device) CompileKernel(key device.KernelKey, source string) (device.Kernel, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, device.ErrClosed
	}
	k, err := d.compile(key, source)
	if err != nil {
		return nil, err
	}
	d.kernels = append(d.kernels, k)
	return k, nil
}

func (d *Device) compile(key device.KernelKey, source string) (*Kernel, error) {
	label := "texmeta_" + key.String()
	src := hal.ShaderSource{WGSL: source}
	if d.spirv {
		code, err := compileSPIRV(source)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", device.ErrKernelUnavailable, key, err)
		}
		src = hal.ShaderSource{SPIRV: code}
	}

	k := &Kernel{key: key, storage: storageBindings(key.Kind)}
	var err error
	k.module, err = d.device.CreateShaderModule(&hal.ShaderModuleDescriptor{Label: label, Source: src})
	if err != nil {
		return nil, fmt.Errorf("%w: create shader module for %s: %w", device.ErrKernelUnavailable, key, err)
	}
	k.bgLayout, err = d.device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label:   label + "_bgl",
		Entries: bindGroupLayoutEntries(k.storage),
	})
	if err != nil {
		k.destroy(d.device)
		return nil, fmt.Errorf("%w: create bind group layout for %s: %w", device.ErrKernelUnavailable, key, err)
	}
	k.layout, err = d.device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            label + "_pl",
		BindGroupLayouts: []hal.BindGroupLayout{k.bgLayout},
	})
	if err != nil {
		k.destroy(d.device)
		return nil, fmt.Errorf("%w: create pipeline layout for %s: %w", device.ErrKernelUnavailable, key, err)
	}
	k.pipeline, err = d.device.CreateComputePipeline(&hal.ComputePipelineDescriptor{
		Label:  label,
		Layout: k.layout,
		Compute: hal.ComputeState{
			Module:     k.module,
			EntryPoint: "main",
		},
	})
	if err != nil {
		k.destroy(d.device)
		return nil, fmt.Errorf("%w: create compute pipeline for %s: %w", device.ErrKernelUnavailable, key, err)
	}

	slogger().Debug("halgpu: kernel compiled", "kernel", key.String(), "spirv", d.spirv, "bytes", len(source))
	return k, nil
}

// destroy releases the hal objects in reverse creation order.
func (k *Kernel) destroy(dev hal.Device) {
	if k.pipeline != nil {
		dev.DestroyComputePipeline(k.pipeline)
		k.pipeline = nil
	}
	if k.layout != nil {
		dev.DestroyPipelineLayout(k.layout)
		k.layout = nil
	}
	if k.bgLayout != nil {
		dev.DestroyBindGroupLayout(k.bgLayout)
		k.bgLayout = nil
	}
	if k.module != nil {
		dev.DestroyShaderModule(k.module)
		k.module = nil
	}
}

// compileSPIRV translates WGSL to little-endian SPIR-V words.
func compileSPIRV(wgsl string) ([]uint32, error) {
	b, err := naga.Compile(wgsl)
	if err != nil {
		return nil, err
	}
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("spir-v length %d is not a multiple of 4", len(b))
	}
	code := make([]uint32, len(b)/4)
	for i := range code {
		code[i] = uint32(b[i*4]) | uint32(b[i*4+1])<<8 | uint32(b[i*4+2])<<16 | uint32(b[i*4+3])<<24
	}
	return code, nil
}
