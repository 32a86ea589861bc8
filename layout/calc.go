// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package layout

import (
	"fmt"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/texmeta/caps"
	"github.com/gogpu/texmeta/format"
)

// Hint requests a tiling mode.
type Hint uint8

const (
	// HintAuto lets the calculator pick the tiling mode.
	HintAuto Hint = iota
	// HintLinear forces a linear layout where the format allows it.
	HintLinear
)

// Flags adjust which auxiliary buffers a layout carries.
type Flags uint32

const (
	// FlagScanout marks a surface that may be displayed.
	FlagScanout Flags = 1 << iota
	// FlagShared marks a surface exported to another process.
	FlagShared
	// FlagNoDCC disables DCC.
	FlagNoDCC
	// FlagNoHTILE disables HTILE.
	FlagNoHTILE
	// FlagTCCompatibleHTILE requests shader-readable compressed depth.
	FlagTCCompatibleHTILE
)

// Params are the logical parameters of an image.
type Params struct {
	Format    format.Format
	Size      gputypes.Extent3D
	Target    Target
	LastLevel uint32
	Samples   uint32
	Hint      Hint
	Flags     Flags
}

const (
	// DCCBlockBytes is the number of pixel bytes covered by one DCC byte.
	DCCBlockBytes = 256

	baseAlign   = 256
	tiledAlign  = 64 << 10
	dccAlign    = 4096
	metaAlign   = 256
	minDCCLevel = 16
)

// Calculator computes layouts for one hardware generation.
type Calculator struct {
	caps caps.Caps
}

// NewCalculator returns a calculator for c.
func NewCalculator(c caps.Caps) *Calculator {
	return &Calculator{caps: c}
}

// ChooseMode picks the tiling mode for p.
func (c *Calculator) ChooseMode(p Params) Mode {
	desc := format.Describe(p.Format)
	if desc.Colorspace == format.ColorspaceZS || p.Samples > 1 || desc.Layout == format.LayoutCompressed {
		return Mode2D
	}
	if p.Hint == HintLinear || p.Target.Is1D() || p.Size.Height <= 2 {
		return ModeLinear
	}
	if !c.caps.ModernAddressing && (p.Size.Width <= 16 || p.Size.Height <= 16) {
		return Mode1D
	}
	return Mode2D
}

// Compute lays out the base image and every auxiliary buffer for p.
func (c *Calculator) Compute(p Params) (Layout, error) {
	if !p.Format.Valid() {
		return Layout{}, fmt.Errorf("%w: format %s", ErrUnsupported, p.Format)
	}
	if p.Size.Width == 0 || p.Size.Height == 0 {
		return Layout{}, fmt.Errorf("%w: empty extent", ErrUnsupported)
	}
	samples := p.Samples
	if samples == 0 {
		samples = 1
	}
	if samples&(samples-1) != 0 || samples > 8 {
		return Layout{}, fmt.Errorf("%w: %d samples", ErrUnsupported, samples)
	}
	if samples > 1 && (p.LastLevel > 0 || p.Target == Target3D) {
		return Layout{}, fmt.Errorf("%w: multisampled %s with %d levels", ErrUnsupported, p.Target, p.LastLevel+1)
	}

	desc := format.Describe(p.Format)
	l := Layout{
		Target:    p.Target,
		Format:    p.Format,
		Bpe:       desc.BlockBytes(),
		BlkW:      desc.BlockW,
		BlkH:      desc.BlockH,
		Width:     p.Size.Width,
		Height:    p.Size.Height,
		Depth:     1,
		Layers:    1,
		LastLevel: p.LastLevel,
		Samples:   samples,
		Mode:      c.ChooseMode(p),
	}
	switch p.Target {
	case Target3D:
		l.Depth = max(p.Size.DepthOrArrayLayers, 1)
	case Target1DArray, Target2DArray:
		l.Layers = max(p.Size.DepthOrArrayLayers, 1)
	}
	if p.Target.Is1D() {
		l.Height = 1
	}

	if c.caps.ModernAddressing {
		c.layoutModern(&l)
	} else {
		c.layoutLegacy(&l)
	}
	end := l.BaseSize()

	place := func(r *Region, size, align uint64) {
		if size == 0 {
			return
		}
		end = alignUp(end, align)
		*r = Region{Offset: end, Size: size, Alignment: align, Inline: true}
		end += size
	}

	isDepth := desc.Colorspace == format.ColorspaceZS
	tiled := l.Mode != ModeLinear

	if !isDepth && samples > 1 {
		place(&l.FMASK, fmaskSize(&l), metaAlign)
		place(&l.CMASK, cmaskSize(&l), metaAlign)
	} else if !isDepth && tiled && l.Bpe <= 8 {
		// Single-sample CMASK is allocated on demand.
		l.CMASK = Region{Size: cmaskSize(&l), Alignment: metaAlign}
	}

	if isDepth && tiled && p.Flags&FlagNoHTILE == 0 {
		place(&l.HTILE, htileSize(&l), metaAlign)
		l.HTILEStencilDisabled = !p.Format.HasStencil()
		l.TCCompatibleHTILE = p.Flags&FlagTCCompatibleHTILE != 0 && c.caps.Gen >= caps.GFX8
	}

	if c.dccAllowed(&l, desc, p) {
		size := c.dccLevels(&l)
		switch {
		case p.Flags&FlagShared != 0 && c.caps.SeparateDCC:
			// Shared surfaces get DCC only through the usage heuristic.
			l.DCC = Region{Size: size, Alignment: dccAlign}
		default:
			place(&l.DCC, size, dccAlign)
		}
		if p.Flags&FlagScanout != 0 && c.caps.NeedsDisplayDCCRetile && l.DCC.Present() {
			place(&l.DisplayDCC, size, dccAlign)
			place(&l.DCCRetileMap, retileMapSize(size), metaAlign)
		}
	}
	if l.DCC.Size == 0 {
		l.NumDCCLevels = 0
	}

	l.Alignment = baseAlign
	if tiled {
		l.Alignment = tiledAlign
	}
	l.TotalSize = alignUp(end, l.Alignment)
	return l, nil
}

func (c *Calculator) dccAllowed(l *Layout, desc *format.Description, p Params) bool {
	if !c.caps.HasDCC() || p.Flags&FlagNoDCC != 0 || l.Mode == ModeLinear {
		return false
	}
	if desc.Colorspace == format.ColorspaceZS || desc.Layout != format.LayoutPlain {
		return false
	}
	if l.Bpe > 16 || l.Target == Target3D {
		return false
	}
	// Displayable surfaces cannot be mipmapped.
	if p.Flags&FlagScanout != 0 && p.LastLevel > 0 {
		return false
	}
	return true
}

// dccLevels assigns DCC to the leading levels that are large enough and
// returns the DCC size.
func (c *Calculator) dccLevels(l *Layout) uint64 {
	var size uint64
	l.NumDCCLevels = 0
	for level := uint32(0); level <= l.LastLevel; level++ {
		w, h, layers := l.LevelExtent(level)
		if w < minDCCLevel || h < minDCCLevel {
			break
		}
		if len(l.Legacy) > 0 {
			lv := &l.Legacy[level]
			if lv.Mode != Mode2D {
				break
			}
			slice := lv.SliceSizeDW * 4 / DCCBlockBytes
			lv.DCCOffset = size
			// Legacy MSAA DCC cannot be fast cleared.
			if l.Samples < 4 {
				lv.DCCFastClearSize = slice
			}
			size += slice * uint64(layers)
		}
		l.NumDCCLevels++
	}
	if len(l.Legacy) == 0 && l.NumDCCLevels > 0 {
		n := uint64(l.Layers)
		size = l.Modern.SliceSize * n / DCCBlockBytes
	}
	if l.NumDCCLevels == 0 {
		return 0
	}
	return alignUp(size, dccAlign)
}

func (c *Calculator) pitchAlign(l *Layout, mode Mode) uint32 {
	switch mode {
	case ModeLinear:
		return max(baseAlign/l.Bpe, 1)
	case Mode1D:
		return 8
	default:
		return 64
	}
}

func heightAlign(mode Mode) uint32 {
	switch mode {
	case ModeLinear:
		return 1
	case Mode1D:
		return 8
	default:
		return 64
	}
}

func (c *Calculator) layoutModern(l *Layout) {
	w0 := divRoundUp(l.Width, l.BlkW)
	l.Modern.Pitch = uint32(alignUp(uint64(w0), uint64(c.pitchAlign(l, l.Mode))))
	l.Modern.LevelOffset = make([]uint64, l.LastLevel+1)

	var off uint64
	for level := uint32(0); level <= l.LastLevel; level++ {
		_, h, _ := l.LevelExtent(level)
		rows := alignUp(uint64(divRoundUp(h, l.BlkH)), uint64(heightAlign(l.Mode)))
		l.Modern.LevelOffset[level] = off
		off += alignUp(uint64(l.Modern.Pitch)*rows*uint64(l.Bpe)*uint64(l.Samples), baseAlign)
	}
	l.Modern.SliceSize = off
}

func (c *Calculator) layoutLegacy(l *Layout) {
	l.Legacy = make([]LegacyLevel, l.LastLevel+1)
	var off uint64
	for level := uint32(0); level <= l.LastLevel; level++ {
		w, h, layers := l.LevelExtent(level)
		mode := l.Mode
		// Small levels of a 2D tiled surface drop to 1D tiling.
		if mode == Mode2D && level > 0 && (w < 64 || h < 64) {
			mode = Mode1D
		}
		lv := LegacyLevel{Offset: off, Mode: mode}
		lv.NBlkX = uint32(alignUp(uint64(divRoundUp(w, l.BlkW)), uint64(c.pitchAlign(l, mode))))
		lv.NBlkY = uint32(alignUp(uint64(divRoundUp(h, l.BlkH)), uint64(heightAlign(mode))))
		slice := alignUp(uint64(lv.NBlkX)*uint64(lv.NBlkY)*uint64(l.Bpe)*uint64(l.Samples), baseAlign)
		lv.SliceSizeDW = slice / 4
		l.Legacy[level] = lv
		off += slice * uint64(layers)
	}
}

func pixelTiles(l *Layout) uint64 {
	w, h := l.Width, l.Height
	return uint64(divRoundUp(w, 8)) * uint64(divRoundUp(h, 8)) * uint64(l.Layers)
}

// cmaskSize is one nibble per 8x8 tile.
func cmaskSize(l *Layout) uint64 {
	return alignUp((pixelTiles(l)+1)/2, metaAlign)
}

// htileSize is one dword per 8x8 tile of level 0.
func htileSize(l *Layout) uint64 {
	return alignUp(pixelTiles(l)*4, metaAlign)
}

// retileMapSize holds a (source, destination) dword pair per DCC key.
func retileMapSize(dccSize uint64) uint64 {
	return alignUp(dccSize*8, metaAlign)
}

// fmaskSize stores one byte per pixel for 2x and 4x and a dword for 8x.
func fmaskSize(l *Layout) uint64 {
	per := uint64(1)
	if l.Samples == 8 {
		per = 4
	}
	return alignUp(uint64(l.Width)*uint64(l.Height)*uint64(l.Layers)*per, metaAlign)
}

func divRoundUp(v, d uint32) uint32 {
	return (v + d - 1) / d
}

func alignUp(v, a uint64) uint64 {
	return (v + a - 1) / a * a
}
