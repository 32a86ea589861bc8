// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package resource implements GPU textures with optional compression
// metadata buffers.
//
// A Texture owns its base allocation, or aliases the allocation of the first
// plane of a multi-plane image. Each metadata buffer is tracked by an
// AuxBinding that records whether the texture owns a separate allocation,
// aliases a range of the base allocation, or has no such buffer.
//
// Compression state (dirty levels, clear values, statistics counters) is
// mutated by the command stream that uses the texture and is not locked.
// Changes of storage and of metadata presence hold the texture mutex.
package resource

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gogpu/texmeta/device"
	"github.com/gogpu/texmeta/layout"
)

// Resource errors.
var (
	// ErrAllocation is returned when a buffer cannot be allocated.
	ErrAllocation = errors.New("resource: allocation failed")

	// ErrInvalidLayout is returned for layouts that fail validation.
	ErrInvalidLayout = errors.New("resource: invalid layout")

	// ErrDestroyed is returned by operations on a released texture.
	ErrDestroyed = errors.New("resource: texture destroyed")
)

// Tag is the ownership state of a metadata buffer.
type Tag uint8

const (
	// TagAbsent means the buffer does not exist.
	TagAbsent Tag = iota
	// TagOwns means the texture owns a separate allocation.
	TagOwns
	// TagAliases means the buffer is a range of the base allocation.
	TagAliases
)

// String returns the tag name.
func (t Tag) String() string {
	switch t {
	case TagAbsent:
		return "absent"
	case TagOwns:
		return "owns"
	case TagAliases:
		return "aliases"
	default:
		return fmt.Sprintf("tag(%d)", uint8(t))
	}
}

// AuxBinding locates one metadata buffer.
type AuxBinding struct {
	Tag    Tag
	Buffer device.Buffer
	Offset uint64
	Size   uint64
}

// Present reports whether the buffer exists.
func (b AuxBinding) Present() bool { return b.Tag != TagAbsent }

// Aux names a metadata buffer.
type Aux uint8

const (
	AuxCMASK Aux = iota
	AuxDCC
	AuxSeparateDCC
	AuxFMASK
	AuxHTILE
	AuxDisplayDCC
	AuxRetileMap
	auxCount
)

var auxNames = [auxCount]string{"cmask", "dcc", "separate-dcc", "fmask", "htile", "display-dcc", "retile-map"}

// String returns the buffer name.
func (a Aux) String() string {
	if a < auxCount {
		return auxNames[a]
	}
	return fmt.Sprintf("aux(%d)", uint8(a))
}

// Flags are creation flags of a texture.
type Flags uint32

const (
	// FlagShared marks a texture whose storage is visible to another process.
	FlagShared Flags = 1 << iota
	// FlagExplicitFlush marks a shared texture whose consumer flushes it
	// explicitly before use.
	FlagExplicitFlush
	// FlagEncrypted places the texture in protected memory.
	FlagEncrypted
	// FlagGTT places the texture in host-visible memory.
	FlagGTT
	// FlagUnmappable requests memory the CPU never maps.
	FlagUnmappable
)

// Usage is how an external process uses an exported texture.
type Usage uint32

const (
	UsageFramebufferWrite Usage = 1 << iota
	UsageExplicitFlush
	UsageShaderWrite
)

// Bind is how the texture is bound in this process.
type Bind uint32

const (
	BindRenderTarget Bind = 1 << iota
	BindDepthStencil
	BindSampler
	BindScanout
	BindShared
	BindLinear
)

var nextID atomic.Uint64

// Backing is a reference-counted base allocation.
type Backing struct {
	buf   device.Buffer
	alloc device.Allocator
	refs  atomic.Int32
}

func newBacking(alloc device.Allocator, buf device.Buffer) *Backing {
	b := &Backing{buf: buf, alloc: alloc}
	b.refs.Store(1)
	return b
}

// Buffer returns the allocation.
func (b *Backing) Buffer() device.Buffer { return b.buf }

// Refs returns the current reference count.
func (b *Backing) Refs() int32 { return b.refs.Load() }

func (b *Backing) retain() { b.refs.Add(1) }

func (b *Backing) release() {
	switch n := b.refs.Add(-1); {
	case n == 0:
		b.alloc.Free(b.buf)
	case n < 0:
		panic("resource: backing released too many times")
	}
}

// Texture is one GPU image.
type Texture struct {
	mu    sync.Mutex
	id    uint64
	alloc device.Allocator
	refs  atomic.Int32

	layout      layout.Layout
	backing     *Backing
	firstPlane  bool
	planeOffset uint64
	planes      int
	flags       Flags

	aux             [auxCount]AuxBinding
	lastSeparateDCC device.Buffer

	// DirtyLevels has a bit per level whose compressed contents must be
	// decompressed before the level is read as a texture.
	DirtyLevels uint32

	// ColorClearValue is the packed fast-clear colour.
	ColorClearValue [2]uint32
	// DepthClearValue and StencilClearValue are the HTILE clear values of
	// level 0.
	DepthClearValue   float32
	StencilClearValue uint8
	DepthCleared      bool
	StencilCleared    bool

	// ClearValueDiffers is set when the metadata clear encoding differs
	// between levels or samples.
	ClearValueDiffers bool

	// FMASKDecompressNeeded is set after a fast clear reset CMASK of an
	// MSAA surface.
	FMASKDecompressNeeded bool

	// SlowClears counts clears that missed the fast path while statistics
	// were gathered. DrawRatio estimates full-screen draws per frame.
	SlowClears uint32
	DrawRatio  uint32

	DCCGatherStatistics bool
	SeparateDCCDirty    bool
	DisplayableDCCDirty bool

	// TCCompatibleHTILE is the current HTILE mode.
	TCCompatibleHTILE bool

	Shared        bool
	ExternalUsage Usage
	Bind          Bind

	NumLevel0Transfers uint32
}

// New allocates a texture for l and binds every metadata region of l that
// lives in the base allocation.
func New(alloc device.Allocator, l layout.Layout, flags Flags) (*Texture, error) {
	ts, err := NewPlanes(alloc, []layout.Layout{l}, flags)
	if err != nil {
		return nil, err
	}
	return ts[0], nil
}

// NewPlanes allocates one backing for every plane. The first plane owns the
// backing and the others alias it. Either every plane is created or none.
func NewPlanes(alloc device.Allocator, layouts []layout.Layout, flags Flags) ([]*Texture, error) {
	if len(layouts) == 0 {
		return nil, fmt.Errorf("%w: no planes", ErrInvalidLayout)
	}
	offsets := make([]uint64, len(layouts))
	var size, align uint64
	for i := range layouts {
		l := &layouts[i]
		if err := l.Validate(); err != nil {
			return nil, fmt.Errorf("%w: plane %d: %w", ErrInvalidLayout, i, err)
		}
		align = max(align, l.Alignment)
		size = alignUp(size, l.Alignment)
		offsets[i] = size
		size += l.TotalSize
	}

	desc := device.Desc{
		Size:      alignUp(size, align),
		Alignment: align,
		Domain:    device.DomainVRAM,
		Label:     fmt.Sprintf("texture-%s", layouts[0].Format),
	}
	if flags&FlagGTT != 0 {
		desc.Domain = device.DomainGTT
	}
	if flags&FlagEncrypted != 0 {
		desc.Flags |= device.AllocEncrypted
	}
	if flags&FlagUnmappable != 0 {
		desc.Flags |= device.AllocUnmappable
	}
	buf, err := alloc.Allocate(desc)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAllocation, err)
	}

	backing := newBacking(alloc, buf)
	out := make([]*Texture, len(layouts))
	for i := range layouts {
		if i > 0 {
			backing.retain()
		}
		t := &Texture{
			id:          nextID.Add(1),
			alloc:       alloc,
			layout:      layouts[i],
			backing:     backing,
			firstPlane:  i == 0,
			planeOffset: offsets[i],
			planes:      len(layouts),
			flags:       flags,
			Shared:      flags&FlagShared != 0,
		}
		t.refs.Store(1)
		t.TCCompatibleHTILE = t.layout.TCCompatibleHTILE
		t.bindInline()
		out[i] = t
	}
	return out, nil
}

func (t *Texture) bindInline() {
	bind := func(a Aux, r layout.Region) {
		if r.Present() {
			t.aux[a] = AuxBinding{Tag: TagAliases, Buffer: t.backing.buf, Offset: t.planeOffset + r.Offset, Size: r.Size}
		}
	}
	l := &t.layout
	bind(AuxCMASK, l.CMASK)
	bind(AuxDCC, l.DCC)
	bind(AuxFMASK, l.FMASK)
	bind(AuxHTILE, l.HTILE)
	bind(AuxDisplayDCC, l.DisplayDCC)
	bind(AuxRetileMap, l.DCCRetileMap)
}

// ID returns the stable handle of the texture.
func (t *Texture) ID() uint64 { return t.id }

// Layout returns the current layout. It must not be modified.
func (t *Texture) Layout() *layout.Layout { return &t.layout }

// Buffer returns the base allocation. It panics once the texture is
// destroyed; callers that may hold a released texture check Destroyed.
func (t *Texture) Buffer() device.Buffer {
	if t.backing == nil {
		panic(fmt.Sprintf("resource: buffer of destroyed texture %d", t.id))
	}
	return t.backing.buf
}

// Backing returns the shared base allocation.
func (t *Texture) Backing() *Backing { return t.backing }

// PlaneOffset returns the byte offset of this plane in the base allocation.
func (t *Texture) PlaneOffset() uint64 { return t.planeOffset }

// IsFirstPlane reports whether the texture owns the base allocation.
func (t *Texture) IsFirstPlane() bool { return t.firstPlane }

// Planes returns the plane count of the image.
func (t *Texture) Planes() int { return t.planes }

// Flags returns the creation flags.
func (t *Texture) Flags() Flags { return t.flags }

// Aux returns the binding of a metadata buffer.
func (t *Texture) Aux(a Aux) AuxBinding { return t.aux[a] }

// HasCMASK reports whether a CMASK buffer exists.
func (t *Texture) HasCMASK() bool { return t.aux[AuxCMASK].Present() }

// HasDCC reports whether DCC is usable, inline or separate.
func (t *Texture) HasDCC() bool {
	return t.aux[AuxDCC].Present() || t.aux[AuxSeparateDCC].Present()
}

// DCC returns the active DCC binding, preferring a separate buffer.
func (t *Texture) DCC() AuxBinding {
	if t.aux[AuxSeparateDCC].Present() {
		return t.aux[AuxSeparateDCC]
	}
	return t.aux[AuxDCC]
}

// HasHTILE reports whether an HTILE buffer exists.
func (t *Texture) HasHTILE() bool { return t.aux[AuxHTILE].Present() }

// HasFMASK reports whether an FMASK buffer exists.
func (t *Texture) HasFMASK() bool { return t.aux[AuxFMASK].Present() }

// HTILEEnabled reports whether level has HTILE.
func (t *Texture) HTILEEnabled(level uint32) bool {
	return t.HasHTILE() && level == 0
}

// DCCEnabled reports whether level has DCC.
func (t *Texture) DCCEnabled(level uint32) bool {
	if t.aux[AuxSeparateDCC].Present() {
		return level == 0
	}
	return t.aux[AuxDCC].Present() && t.layout.HasDCCLevel(level)
}

// Refs returns the reference count.
func (t *Texture) Refs() int32 { return t.refs.Load() }

// Retain adds a reference.
func (t *Texture) Retain() *Texture {
	if t.refs.Add(1) <= 1 {
		panic("resource: retain of released texture")
	}
	return t
}

// Release drops a reference. The last release frees every owned buffer
// and drops this plane's reference on the base allocation.
func (t *Texture) Release() {
	n := t.refs.Add(-1)
	if n > 0 {
		return
	}
	if n < 0 {
		panic("resource: texture released too many times")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.destroyLocked()
}

func (t *Texture) destroyLocked() {
	for a := range t.aux {
		if t.aux[a].Tag == TagOwns {
			t.alloc.Free(t.aux[a].Buffer)
		}
		t.aux[a] = AuxBinding{}
	}
	if t.lastSeparateDCC != nil {
		t.alloc.Free(t.lastSeparateDCC)
		t.lastSeparateDCC = nil
	}
	if t.backing != nil {
		t.backing.release()
		t.backing = nil
	}
}

// Destroyed reports whether the last reference was released.
func (t *Texture) Destroyed() bool { return t.refs.Load() <= 0 }

// IsLinear reports whether the texture is not tiled.
func (t *Texture) IsLinear() bool { return t.layout.IsLinear() }

func alignUp(v, a uint64) uint64 {
	if a == 0 {
		return v
	}
	return (v + a - 1) / a * a
}
