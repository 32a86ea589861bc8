// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package layout holds the byte layout of a surface and its auxiliary
// metadata buffers.
//
// A Layout is immutable once computed. Operations that drop metadata return
// modified copies.
package layout

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/gogpu/texmeta/format"
)

// Layout errors.
var (
	// ErrInvalid is returned when a layout violates its size or alignment rules.
	ErrInvalid = errors.New("layout: invalid layout")

	// ErrUnsupported is returned when parameters cannot be laid out.
	ErrUnsupported = errors.New("layout: unsupported parameters")
)

// Target is the texture dimensionality.
type Target uint8

const (
	Target1D Target = iota
	Target1DArray
	Target2D
	Target2DArray
	Target3D
)

// String returns the target name.
func (t Target) String() string {
	switch t {
	case Target1D:
		return "1d"
	case Target1DArray:
		return "1d-array"
	case Target2D:
		return "2d"
	case Target2DArray:
		return "2d-array"
	case Target3D:
		return "3d"
	default:
		return fmt.Sprintf("target(%d)", uint8(t))
	}
}

// Is1D reports whether t is a 1D or 1D array target.
func (t Target) Is1D() bool { return t == Target1D || t == Target1DArray }

// Mode is the tiling mode of a surface or level.
type Mode uint8

const (
	ModeLinear Mode = iota
	Mode1D
	Mode2D
)

// String returns the mode name.
func (m Mode) String() string {
	switch m {
	case ModeLinear:
		return "linear"
	case Mode1D:
		return "1d-tiled"
	case Mode2D:
		return "2d-tiled"
	default:
		return fmt.Sprintf("mode(%d)", uint8(m))
	}
}

// Region is the placement of one auxiliary buffer.
//
// Inline regions live inside the base allocation at Offset. Regions with a
// non-zero Size that are not inline describe a buffer that may be allocated
// separately later (separate CMASK, separate DCC).
type Region struct {
	Offset    uint64
	Size      uint64
	Alignment uint64
	Inline    bool
}

// Present reports whether the region is placed in the base allocation.
func (r Region) Present() bool { return r.Inline && r.Size != 0 }

// End returns the first byte after the region.
func (r Region) End() uint64 { return r.Offset + r.Size }

// LegacyLevel is the per-level layout of the legacy addressing scheme,
// where each level is an array of slices.
type LegacyLevel struct {
	Offset      uint64
	NBlkX       uint32
	NBlkY       uint32
	SliceSizeDW uint64
	Mode        Mode

	// DCCOffset is relative to the DCC region.
	DCCOffset        uint64
	DCCFastClearSize uint64
}

// Modern is the uniform addressing scheme, where each slice holds every
// level.
type Modern struct {
	SurfOffset  uint64
	Pitch       uint32 // in blocks
	SliceSize   uint64
	LevelOffset []uint64
}

// Layout is the byte layout of a surface.
type Layout struct {
	Target    Target
	Format    format.Format
	Bpe       uint32
	BlkW      uint32
	BlkH      uint32
	Width     uint32
	Height    uint32
	Depth     uint32
	Layers    uint32
	LastLevel uint32
	Samples   uint32
	Mode      Mode

	DCC          Region
	DisplayDCC   Region
	DCCRetileMap Region
	CMASK        Region
	HTILE        Region
	FMASK        Region

	// NumDCCLevels is the number of leading mip levels with DCC.
	NumDCCLevels uint32

	// TCCompatibleHTILE lets the texture unit read compressed depth.
	TCCompatibleHTILE bool

	// HTILEStencilDisabled is set for depth-only HTILE.
	HTILEStencilDisabled bool

	Modern Modern
	Legacy []LegacyLevel

	TotalSize uint64
	Alignment uint64
}

// IsLinear reports whether the surface is not tiled.
func (l *Layout) IsLinear() bool { return l.Mode == ModeLinear }

// IsDepth reports whether the surface holds depth or stencil.
func (l *Layout) IsDepth() bool { return l.Format.IsDepthOrStencil() }

// Levels returns the number of mip levels.
func (l *Layout) Levels() uint32 { return l.LastLevel + 1 }

// LevelMode returns the tiling mode of a level.
func (l *Layout) LevelMode(level uint32) Mode {
	if int(level) < len(l.Legacy) {
		return l.Legacy[level].Mode
	}
	return l.Mode
}

// Minify returns the extent of a dimension at a level.
func Minify(v, level uint32) uint32 {
	v >>= level
	if v == 0 {
		return 1
	}
	return v
}

// LevelExtent returns the width, height and layer count of a level.
func (l *Layout) LevelExtent(level uint32) (w, h, layers uint32) {
	w = Minify(l.Width, level)
	h = Minify(l.Height, level)
	if l.Target == Target3D {
		return w, h, Minify(l.Depth, level)
	}
	return w, h, l.Layers
}

// MaxLayer returns the last layer index of a level.
func (l *Layout) MaxLayer(level uint32) uint32 {
	_, _, n := l.LevelExtent(level)
	return n - 1
}

// HasDCCLevel reports whether level has DCC in this layout.
func (l *Layout) HasDCCLevel(level uint32) bool {
	return l.DCC.Size != 0 && level < l.NumDCCLevels
}

// Regions returns every inline region with its name.
func (l *Layout) Regions() map[string]Region {
	m := make(map[string]Region, 6)
	add := func(name string, r Region) {
		if r.Present() {
			m[name] = r
		}
	}
	add("dcc", l.DCC)
	add("display-dcc", l.DisplayDCC)
	add("dcc-retile", l.DCCRetileMap)
	add("cmask", l.CMASK)
	add("htile", l.HTILE)
	add("fmask", l.FMASK)
	return m
}

// BaseSize returns the bytes occupied by the pixel data.
func (l *Layout) BaseSize() uint64 {
	if len(l.Legacy) > 0 {
		last := l.Legacy[len(l.Legacy)-1]
		_, _, layers := l.LevelExtent(uint32(len(l.Legacy) - 1))
		return last.Offset + last.SliceSizeDW*4*uint64(layers)
	}
	n := uint64(l.Layers)
	if l.Target == Target3D {
		n = uint64(l.Depth)
	}
	return l.Modern.SurfOffset + l.Modern.SliceSize*n
}

// Validate checks that every inline region is aligned, inside TotalSize and
// disjoint from the pixel data and from every other region.
func (l *Layout) Validate() error {
	if l.Alignment == 0 || l.TotalSize%l.Alignment != 0 {
		return fmt.Errorf("%w: total size %d not aligned to %d", ErrInvalid, l.TotalSize, l.Alignment)
	}
	base := l.BaseSize()
	if base > l.TotalSize {
		return fmt.Errorf("%w: pixel data %d exceeds total size %d", ErrInvalid, base, l.TotalSize)
	}

	regions := l.Regions()
	names := make([]string, 0, len(regions))
	for name, r := range regions {
		if r.Alignment != 0 && r.Offset%r.Alignment != 0 {
			return fmt.Errorf("%w: %s offset %d not aligned to %d", ErrInvalid, name, r.Offset, r.Alignment)
		}
		if r.End() > l.TotalSize {
			return fmt.Errorf("%w: %s ends at %d past total size %d", ErrInvalid, name, r.End(), l.TotalSize)
		}
		if r.Offset < base {
			return fmt.Errorf("%w: %s overlaps pixel data", ErrInvalid, name)
		}
		names = append(names, name)
	}
	for i := 0; i < len(names); i++ {
		for j := i + 1; j < len(names); j++ {
			a, b := regions[names[i]], regions[names[j]]
			if a.Offset < b.End() && b.Offset < a.End() {
				return fmt.Errorf("%w: %s overlaps %s", ErrInvalid, names[i], names[j])
			}
		}
	}
	return nil
}

// WithoutDCC returns a copy with every DCC field zeroed.
func (l Layout) WithoutDCC() Layout {
	l.DCC = Region{}
	l.DisplayDCC = Region{}
	l.DCCRetileMap = Region{}
	l.NumDCCLevels = 0
	if len(l.Legacy) > 0 {
		levels := make([]LegacyLevel, len(l.Legacy))
		copy(levels, l.Legacy)
		for i := range levels {
			levels[i].DCCOffset = 0
			levels[i].DCCFastClearSize = 0
		}
		l.Legacy = levels
	}
	return l
}

// WithoutCMASK returns a copy with the CMASK region zeroed.
func (l Layout) WithoutCMASK() Layout {
	l.CMASK = Region{}
	return l
}

// Box is a pixel region of one level. Z selects the first layer or slice.
type Box struct {
	X, Y, Z              uint32
	Width, Height, Depth uint32
}

// FullBox returns the box covering every pixel and layer of a level.
func (l *Layout) FullBox(level uint32) Box {
	w, h, n := l.LevelExtent(level)
	return Box{Width: w, Height: h, Depth: n}
}

// Addressing is the linear addressing of one mip level.
type Addressing struct {
	// Offset is the byte offset of layer 0 from the pixel data start.
	Offset uint64
	// Pitch is the byte distance between rows of blocks.
	Pitch uint32
	// LayerStride is the byte distance between layers or slices.
	LayerStride uint64
}

// LevelAddressing returns how the blocks of level are laid out.
func (l *Layout) LevelAddressing(level uint32) Addressing {
	if len(l.Legacy) > 0 {
		lv := l.Legacy[min(int(level), len(l.Legacy)-1)]
		return Addressing{
			Offset:      lv.Offset,
			Pitch:       lv.NBlkX * l.Bpe,
			LayerStride: lv.SliceSizeDW * 4,
		}
	}
	a := Addressing{
		Offset:      l.Modern.SurfOffset,
		Pitch:       l.Modern.Pitch * l.Bpe,
		LayerStride: l.Modern.SliceSize,
	}
	if int(level) < len(l.Modern.LevelOffset) {
		a.Offset += l.Modern.LevelOffset[level]
	}
	return a
}

// RetileMap returns the contents of the DCC retile map: one little-endian
// (source byte, destination byte) pair per DCC key. The reference
// calculator lays out both DCC buffers in the same key order, so every
// pair is an identity mapping.
func (l *Layout) RetileMap() []byte {
	if l.DCCRetileMap.Size == 0 {
		return nil
	}
	keys := min(l.DCC.Size, l.DCCRetileMap.Size/8)
	out := make([]byte, 0, keys*8)
	for k := range keys {
		out = binary.LittleEndian.AppendUint32(out, uint32(k))
		out = binary.LittleEndian.AppendUint32(out, uint32(k))
	}
	return out
}
