// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package resource

import (
	"fmt"

	"github.com/gogpu/texmeta/device"
	"github.com/gogpu/texmeta/layout"
)

// CanDiscardCMASK reports whether CMASK exists and is not needed for MSAA.
func (t *Texture) CanDiscardCMASK() bool {
	return t.HasCMASK() && t.layout.Samples <= 1
}

// DiscardCMASK removes a single-sample CMASK buffer. It reports whether
// anything changed; repeated calls are no-ops.
func (t *Texture) DiscardCMASK() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.CanDiscardCMASK() {
		return false
	}
	if b := t.aux[AuxCMASK]; b.Tag == TagOwns {
		t.alloc.Free(b.Buffer)
	}
	t.aux[AuxCMASK] = AuxBinding{}
	t.layout = t.layout.WithoutCMASK()
	return true
}

// AllocSeparateCMASK allocates a single-sample CMASK outside the base
// allocation. It is a no-op when CMASK already exists.
func (t *Texture) AllocSeparateCMASK() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.HasCMASK() {
		return nil
	}
	if t.layout.CMASK.Size == 0 || t.layout.Samples > 1 {
		return fmt.Errorf("%w: no cmask for %s", ErrInvalidLayout, t.layout.Format)
	}
	buf, err := t.alloc.Allocate(device.Desc{
		Size:      t.layout.CMASK.Size,
		Alignment: t.layout.CMASK.Alignment,
		Domain:    device.DomainVRAM,
		Label:     "separate-cmask",
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrAllocation, err)
	}
	t.aux[AuxCMASK] = AuxBinding{Tag: TagOwns, Buffer: buf, Size: t.layout.CMASK.Size}
	return nil
}

// CanDisableDCC reports whether inline DCC exists and no other process may
// write the texture through it.
func (t *Texture) CanDisableDCC() bool {
	if !t.aux[AuxDCC].Present() {
		return false
	}
	return !t.Shared || t.ExternalUsage&UsageFramebufferWrite == 0
}

// DiscardDCC removes DCC and zeroes every DCC field of the layout. It
// reports whether anything changed; repeated calls are no-ops. A separate
// DCC buffer must be detached first.
func (t *Texture) DiscardDCC() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.CanDisableDCC() {
		return false
	}
	if t.aux[AuxSeparateDCC].Present() {
		panic("resource: discard of DCC with a separate buffer attached")
	}
	for _, a := range []Aux{AuxDCC, AuxDisplayDCC, AuxRetileMap} {
		if b := t.aux[a]; b.Tag == TagOwns {
			t.alloc.Free(b.Buffer)
		}
		t.aux[a] = AuxBinding{}
	}
	t.layout = t.layout.WithoutDCC()
	t.DisplayableDCCDirty = false
	return true
}

// AttachSeparateDCC makes buf the DCC buffer of the texture.
func (t *Texture) AttachSeparateDCC(buf device.Buffer) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.aux[AuxSeparateDCC].Present() {
		panic("resource: separate DCC already attached")
	}
	t.aux[AuxSeparateDCC] = AuxBinding{Tag: TagOwns, Buffer: buf, Size: buf.Size()}
	t.SeparateDCCDirty = true
}

// DetachSeparateDCC removes the separate DCC buffer and keeps it in a
// one-slot cache, freeing whatever the cache held before.
func (t *Texture) DetachSeparateDCC() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	b := t.aux[AuxSeparateDCC]
	if !b.Present() {
		return false
	}
	if t.lastSeparateDCC != nil {
		t.alloc.Free(t.lastSeparateDCC)
	}
	t.lastSeparateDCC = b.Buffer
	t.aux[AuxSeparateDCC] = AuxBinding{}
	t.SeparateDCCDirty = false
	return true
}

// TakeLastSeparateDCC removes and returns the cached separate DCC buffer.
func (t *Texture) TakeLastSeparateDCC() (device.Buffer, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	buf := t.lastSeparateDCC
	t.lastSeparateDCC = nil
	return buf, buf != nil
}

// HasCachedSeparateDCC reports whether the one-slot cache is filled.
func (t *Texture) HasCachedSeparateDCC() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastSeparateDCC != nil
}

// MarkDirty records that level holds compressed data needing a
// decompression before texture reads.
func (t *Texture) MarkDirty(level uint32) { t.DirtyLevels |= 1 << level }

// ClearDirty drops the decompression obligation of levels
// [first, last].
func (t *Texture) ClearDirty(first, last uint32) {
	for l := first; l <= last; l++ {
		t.DirtyLevels &^= 1 << l
	}
}

// IsDirty reports whether any level in [first, last] is dirty.
func (t *Texture) IsDirty(first, last uint32) bool {
	for l := first; l <= last; l++ {
		if t.DirtyLevels&(1<<l) != 0 {
			return true
		}
	}
	return false
}

// Offset returns the byte offset of box at level in the base allocation,
// the row stride and the layer stride. A nil box returns the level start.
func (t *Texture) Offset(level uint32, box *layout.Box) (offset, stride, layerStride uint64) {
	l := &t.layout
	bpe := uint64(l.Bpe)

	if len(l.Legacy) > 0 {
		lv := &l.Legacy[level]
		stride = uint64(lv.NBlkX) * bpe
		layerStride = lv.SliceSizeDW * 4
		if box == nil {
			return t.planeOffset + lv.Offset, stride, layerStride
		}
		offset = lv.Offset + uint64(box.Z)*layerStride +
			(uint64(box.Y/l.BlkH)*uint64(lv.NBlkX)+uint64(box.X/l.BlkW))*bpe
		return t.planeOffset + offset, stride, layerStride
	}

	// Each slice holds every level.
	m := &l.Modern
	stride = uint64(m.Pitch) * bpe
	layerStride = m.SliceSize
	if box == nil {
		return t.planeOffset + m.SurfOffset + m.LevelOffset[level], stride, layerStride
	}
	offset = m.SurfOffset + uint64(box.Z)*m.SliceSize + m.LevelOffset[level] +
		(uint64(box.Y/l.BlkH)*uint64(m.Pitch)+uint64(box.X/l.BlkW))*bpe
	return t.planeOffset + offset, stride, layerStride
}

// SwapStorage exchanges the storage of t and from: layout, allocation,
// metadata buffers and compression state. The handle and reference count of
// each texture stay in place, so releasing from afterwards frees the storage
// t had before.
func (t *Texture) SwapStorage(from *Texture) {
	if t == from {
		return
	}
	first, second := t, from
	if second.id < first.id {
		first, second = second, first
	}
	first.mu.Lock()
	defer first.mu.Unlock()
	second.mu.Lock()
	defer second.mu.Unlock()

	t.layout, from.layout = from.layout, t.layout
	t.backing, from.backing = from.backing, t.backing
	t.firstPlane, from.firstPlane = from.firstPlane, t.firstPlane
	t.planeOffset, from.planeOffset = from.planeOffset, t.planeOffset
	t.planes, from.planes = from.planes, t.planes
	t.aux, from.aux = from.aux, t.aux
	t.lastSeparateDCC, from.lastSeparateDCC = from.lastSeparateDCC, t.lastSeparateDCC
	t.DirtyLevels, from.DirtyLevels = from.DirtyLevels, t.DirtyLevels
	t.ColorClearValue, from.ColorClearValue = from.ColorClearValue, t.ColorClearValue
	t.ClearValueDiffers, from.ClearValueDiffers = from.ClearValueDiffers, t.ClearValueDiffers
	t.FMASKDecompressNeeded, from.FMASKDecompressNeeded = from.FMASKDecompressNeeded, t.FMASKDecompressNeeded
	t.TCCompatibleHTILE, from.TCCompatibleHTILE = from.TCCompatibleHTILE, t.TCCompatibleHTILE
	t.DepthCleared, from.DepthCleared = from.DepthCleared, t.DepthCleared
	t.StencilCleared, from.StencilCleared = from.StencilCleared, t.StencilCleared
	t.DisplayableDCCDirty, from.DisplayableDCCDirty = from.DisplayableDCCDirty, t.DisplayableDCCDirty
}
