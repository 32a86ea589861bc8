// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package halgpu runs the metadata core on a gogpu/wgpu hal device.
//
// Buffers are storage buffers. Kernels are WGSL compute pipelines,
// optionally translated to SPIR-V through naga. Copies, fills and writes
// are recorded into one command encoder per Flush so they keep their order
// relative to dispatches. Pipeline statistics queries are not exposed by
// hal, so the separate DCC heuristic stays disabled on this backend.
//
// Importing the package registers the "hal" backend.
package halgpu

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/texmeta/backend"
	"github.com/gogpu/texmeta/device"
)

// Errors returned by the hal backend.
var (
	// ErrNilDevice is returned when no hal device or queue is supplied.
	ErrNilDevice = errors.New("halgpu: nil device")

	// ErrNoHAL is returned when a provider does not expose hal types.
	ErrNoHAL = errors.New("halgpu: provider does not expose HAL types")

	// ErrForeignBuffer is returned for buffers another device allocated.
	ErrForeignBuffer = errors.New("halgpu: foreign buffer")
)

// fenceTimeout bounds every wait for GPU completion.
const fenceTimeout = 5 * time.Second

// minBufferSize is the smallest buffer hal accepts for a binding.
const minBufferSize = 4

func init() {
	backend.Register(backend.BackendHAL, func() (device.Device, error) {
		return New()
	})
}

// Option configures a Device.
type Option func(*Device)

// WithSPIRV compiles kernels to SPIR-V with naga instead of handing WGSL
// to the driver.
func WithSPIRV() Option {
	return func(d *Device) { d.spirv = true }
}

// Device implements device.Device on hal.
type Device struct {
	mu sync.Mutex

	instance hal.Instance
	device   hal.Device
	queue    hal.Queue
	// external devices belong to the provider and are not destroyed.
	external bool
	spirv    bool

	nextID    atomic.Uint64
	buffers   map[uint64]*Buffer
	kernels   []*Kernel
	copyBytes *Kernel
	fences    []hal.Fence
	closed    bool
}

// Buffer is a hal storage buffer.
type Buffer struct {
	id     uint64
	size   uint64
	domain device.Domain
	raw    hal.Buffer
}

func (b *Buffer) ID() uint64            { return b.id }
func (b *Buffer) Size() uint64          { return b.size }
func (b *Buffer) Domain() device.Domain { return b.domain }

// Raw returns the hal buffer.
func (b *Buffer) Raw() hal.Buffer { return b.raw }

// New opens a standalone Vulkan device, preferring discrete and
// integrated GPUs.
func New(opts ...Option) (*Device, error) {
	be, ok := hal.GetBackend(gputypes.BackendVulkan)
	if !ok {
		return nil, fmt.Errorf("halgpu: vulkan backend not available")
	}
	instance, err := be.CreateInstance(&hal.InstanceDescriptor{Flags: 0})
	if err != nil {
		return nil, fmt.Errorf("halgpu: create instance: %w", err)
	}

	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		instance.Destroy()
		return nil, fmt.Errorf("halgpu: no GPU adapters found")
	}
	selected := &adapters[0]
	for i := range adapters {
		if adapters[i].Info.DeviceType == gputypes.DeviceTypeDiscreteGPU ||
			adapters[i].Info.DeviceType == gputypes.DeviceTypeIntegratedGPU {
			selected = &adapters[i]
			break
		}
	}

	openDev, err := selected.Adapter.Open(gputypes.Features(0), gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		return nil, fmt.Errorf("halgpu: open device: %w", err)
	}

	d := newDevice(openDev.Device, openDev.Queue, opts)
	d.instance = instance
	slogger().Info("halgpu: device opened", "adapter", selected.Info.Name)
	return d, nil
}

// NewFromProvider shares the device of provider. The provider must expose
// HalDevice() and HalQueue() returning hal types. Close leaves the shared
// device alive.
func NewFromProvider(provider gpucontext.DeviceProvider, opts ...Option) (*Device, error) {
	if provider == nil {
		return nil, ErrNilDevice
	}
	type halProvider interface {
		HalDevice() any
		HalQueue() any
	}
	hp, ok := provider.(halProvider)
	if !ok {
		return nil, ErrNoHAL
	}
	dev, ok := hp.HalDevice().(hal.Device)
	if !ok || dev == nil {
		return nil, fmt.Errorf("%w: HalDevice is not hal.Device", ErrNoHAL)
	}
	queue, ok := hp.HalQueue().(hal.Queue)
	if !ok || queue == nil {
		return nil, fmt.Errorf("%w: HalQueue is not hal.Queue", ErrNoHAL)
	}
	d := newDevice(dev, queue, opts)
	d.external = true
	return d, nil
}

// NewWithDevice wraps an open hal device and queue. Close destroys the
// device.
func NewWithDevice(dev hal.Device, queue hal.Queue, opts ...Option) (*Device, error) {
	if dev == nil || queue == nil {
		return nil, ErrNilDevice
	}
	return newDevice(dev, queue, opts), nil
}

func newDevice(dev hal.Device, queue hal.Queue, opts []Option) *Device {
	d := &Device{
		device:  dev,
		queue:   queue,
		buffers: make(map[uint64]*Buffer),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// HalDevice returns the underlying hal device.
func (d *Device) HalDevice() hal.Device { return d.device }

// Allocate creates a storage buffer. Sizes are rounded up to whole dwords
// since hal copies and bindings work in dwords.
func (d *Device) Allocate(desc device.Desc) (device.Buffer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, device.ErrClosed
	}

	size := max(alignUp(desc.Size, 4), minBufferSize)
	raw, err := d.device.CreateBuffer(&hal.BufferDescriptor{
		Label: desc.Label,
		Size:  size,
		Usage: gputypes.BufferUsageStorage | gputypes.BufferUsageCopySrc | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", device.ErrOutOfMemory, desc.Label, err)
	}
	b := &Buffer{id: d.nextID.Add(1), size: desc.Size, domain: desc.Domain, raw: raw}
	d.buffers[b.id] = b
	slogger().Debug("halgpu: buffer allocated", "label", desc.Label, "size", size, "domain", desc.Domain)
	return b, nil
}

// Free destroys a buffer allocated by d.
func (d *Device) Free(buf device.Buffer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.buffers[buf.ID()]
	if !ok {
		return
	}
	delete(d.buffers, b.id)
	d.device.DestroyBuffer(b.raw)
}

// Live returns the number of allocated buffers.
func (d *Device) Live() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.buffers)
}

func (d *Device) lookup(buf device.Buffer) (*Buffer, error) {
	if buf == nil {
		return nil, fmt.Errorf("%w: nil", ErrForeignBuffer)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.buffers[buf.ID()]
	if !ok || b != buf {
		return nil, fmt.Errorf("%w: %d", ErrForeignBuffer, buf.ID())
	}
	return b, nil
}

// NewPipelineStatsQuery always fails. hal has no statistics queries.
func (d *Device) NewPipelineStatsQuery() (device.Query, error) {
	return nil, device.ErrQueryUnavailable
}

func (d *Device) Begin(device.Query) {}
func (d *Device) End(device.Query)   {}

func (d *Device) Result(device.Query, bool) (device.PipelineStats, bool) {
	return device.PipelineStats{}, false
}

func (d *Device) Destroy(device.Query) {}

// Close frees every buffer and kernel. A standalone device is destroyed
// with its instance.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true

	for _, k := range d.kernels {
		k.destroy(d.device)
	}
	d.kernels = nil
	d.copyBytes = nil
	for _, f := range d.fences {
		d.device.DestroyFence(f)
	}
	d.fences = nil
	for id, b := range d.buffers {
		d.device.DestroyBuffer(b.raw)
		delete(d.buffers, id)
	}
	if !d.external {
		d.device.Destroy()
	}
	if d.instance != nil {
		d.instance.Destroy()
		d.instance = nil
	}
	return nil
}

func alignUp(v, a uint64) uint64 {
	return (v + a - 1) &^ (a - 1)
}
