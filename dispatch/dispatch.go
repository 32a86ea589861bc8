// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package dispatch records buffer and image clears and copies, choosing
// between CP DMA, compute kernels, byte writes and full blits.
//
// A Dispatcher never fails to perform an operation: when a faster path is
// ineligible or its kernel cannot be built, it falls back to the next more
// general one. Misuse, such as a zero-sized clear or a 12-byte pattern with
// a size that is not a multiple of 12, panics.
package dispatch

import (
	"fmt"

	"github.com/gogpu/texmeta/caps"
	"github.com/gogpu/texmeta/coherency"
	"github.com/gogpu/texmeta/config"
	"github.com/gogpu/texmeta/device"
)

// Path is the mechanism that executed (part of) an operation.
type Path uint8

const (
	PathCPDMA Path = iota
	PathCompute
	PathCompute12
	PathByteWrite
	PathBlit
)

var pathNames = [...]string{"cp-dma", "compute", "compute-12", "byte-write", "blit"}

// String returns the path name.
func (p Path) String() string {
	if int(p) < len(pathNames) {
		return pathNames[p]
	}
	return fmt.Sprintf("path(%d)", uint8(p))
}

// Op modifies the synchronisation around an operation.
type Op uint8

const (
	// SyncBefore waits for prior work and makes it visible to the operation.
	SyncBefore Op = 1 << iota
	// SyncAfter makes the result visible to work recorded later.
	SyncAfter
	// WaitForIdle records a partial flush right after the operation.
	WaitForIdle

	// SyncBoth is the usual choice for standalone operations.
	SyncBoth = SyncBefore | SyncAfter
)

// Dispatcher records clears and copies into one command stream. It is not
// safe for concurrent use.
type Dispatcher struct {
	caps    caps.Caps
	policy  config.Policy
	sink    device.Sink
	kernels device.KernelProvider

	pending coherency.Flags
	l2Dirty map[uint64]bool
}

// New returns a dispatcher recording into sink.
func New(c caps.Caps, p config.Policy, sink device.Sink, kernels device.KernelProvider) *Dispatcher {
	return &Dispatcher{
		caps:    c,
		policy:  p,
		sink:    sink,
		kernels: kernels,
		l2Dirty: make(map[uint64]bool),
	}
}

// Caps returns the capabilities the dispatcher decides with.
func (d *Dispatcher) Caps() caps.Caps { return d.caps }

// Sink returns the command stream.
func (d *Dispatcher) Sink() device.Sink { return d.sink }

// AddFlags merges flags into the pending flush set. They are emitted before
// the next dispatch or by EmitPending.
func (d *Dispatcher) AddFlags(f coherency.Flags) { d.pending |= f }

// Pending returns the flush operations not yet recorded.
func (d *Dispatcher) Pending() coherency.Flags { return d.pending }

// EmitPending records the pending flush set as one barrier.
func (d *Dispatcher) EmitPending() {
	if d.pending == 0 {
		return
	}
	slogger().Debug("dispatch: barrier", "flags", d.pending)
	d.sink.RecordBarrier(d.pending)
	d.pending = 0
}

// WaitForIdle records a barrier that waits for every compute and pixel
// shader before it.
func (d *Dispatcher) WaitForIdle() {
	d.pending |= coherency.CSPartialFlush | coherency.PSPartialFlush
	d.EmitPending()
}

// L2Dirty reports whether buf has writes retained in L2.
func (d *Dispatcher) L2Dirty(buf device.Buffer) bool { return d.l2Dirty[buf.ID()] }

// CleanL2 forgets the L2 state of buf, after the caller wrote L2 back.
func (d *Dispatcher) CleanL2(buf device.Buffer) { delete(d.l2Dirty, buf.ID()) }

func (d *Dispatcher) markL2(buf device.Buffer, p coherency.CachePolicy) {
	if p != coherency.PolicyBypass {
		d.l2Dirty[buf.ID()] = true
	}
}

func (d *Dispatcher) cachePolicy(domain coherency.Domain, size uint64) coherency.CachePolicy {
	return coherency.CachePolicyFor(d.caps, domain, size, d.policy.StreamThreshold)
}

// before merges the flushes a shader operation needs and emits them.
func (d *Dispatcher) before(op Op, f coherency.Flags) {
	if op&SyncBefore != 0 {
		d.pending |= f | coherency.CSPartialFlush | coherency.PSPartialFlush
	}
	d.EmitPending()
}

func (d *Dispatcher) after(op Op, p coherency.CachePolicy) {
	if op&SyncAfter != 0 {
		d.pending |= coherency.CSPartialFlush
		if p == coherency.PolicyBypass {
			d.pending |= coherency.WBL2
		}
	}
	if op&WaitForIdle != 0 {
		d.WaitForIdle()
	}
}

func (d *Dispatcher) kernel(key device.KernelKey) (device.Kernel, error) {
	if key.WaveSize == 0 {
		key.WaveSize = d.caps.WaveSize
	}
	k, err := d.kernels.Kernel(key)
	if err != nil {
		slogger().Warn("dispatch: kernel unavailable, falling back", "kernel", key, "err", err)
		return nil, err
	}
	return k, nil
}

func divRoundUp(a, b uint64) uint64 { return (a + b - 1) / b }
