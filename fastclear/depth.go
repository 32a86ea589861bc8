// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package fastclear

import (
	"math"

	"github.com/gogpu/texmeta/caps"
	"github.com/gogpu/texmeta/resource"
)

// HTILE fill values.
const (
	// HTILEInitExpanded is the initial HTILE value of expanded depth.
	HTILEInitExpanded uint32 = 0x0000030F
	// HTILEZSPattern re-initialises HTILE of a depth and stencil surface.
	HTILEZSPattern uint32 = 0xFFFFF30F
	// HTILEZPattern re-initialises HTILE of a depth-only surface.
	HTILEZPattern uint32 = 0xFFFC000F
)

// HTILEInitValue returns the value HTILE is filled with at creation.
func HTILEInitValue(c caps.Caps, tex *resource.Texture) uint32 {
	if c.HTILEInitExpanded || tex.TCCompatibleHTILE {
		return HTILEInitExpanded
	}
	return 0
}

func stencilInHTILE(tex *resource.Texture) bool {
	l := tex.Layout()
	return l.Format.HasStencil() && !l.HTILEStencilDisabled
}

// CanFastClearDepth reports whether the depth of level can be cleared to
// depth through HTILE.
func CanFastClearDepth(tex *resource.Texture, level uint32, depth float32) bool {
	if !tex.HTILEEnabled(level) || !tex.Layout().Format.HasDepth() {
		return false
	}
	// TC-compatible HTILE only encodes 0 and 1.
	return !tex.TCCompatibleHTILE || depth == 0 || depth == 1
}

// CanFastClearStencil reports whether the stencil of level can be cleared
// to stencil through HTILE.
func CanFastClearStencil(tex *resource.Texture, level uint32, stencil uint8) bool {
	if !tex.HTILEEnabled(level) || !stencilInHTILE(tex) {
		return false
	}
	return !tex.TCCompatibleHTILE || stencil == 0
}

// HTILEModeSentinel returns the pattern HTILE is filled with when the
// texture switches between TC-compatible and unrestricted HTILE.
func HTILEModeSentinel(c caps.Caps, tex *resource.Texture) uint32 {
	if c.HTILEAlwaysZSPattern || stencilInHTILE(tex) {
		return HTILEZSPattern
	}
	return HTILEZPattern
}

// ModeSwitch describes an HTILE mode change.
type ModeSwitch struct {
	// Needed is set when the clear requires a mode change.
	Needed bool
	// TCCompatible is the new mode.
	TCCompatible bool
	// Fill covers the whole HTILE buffer with the mode sentinel.
	Fill MetaClear
}

// CheckHTILEMode decides whether clearing depth and stencil must switch the
// HTILE mode first. Leaving TC-compatible mode lets the clear use any
// value; returning to it is possible once a clear writes only 0 or 1 to
// every plane HTILE covers.
func CheckHTILEMode(c caps.Caps, tex *resource.Texture, clearDepth, clearStencil bool, depth float32, stencil uint8) ModeSwitch {
	if !c.CanToggleTCCompatibleHTILE || !tex.HasHTILE() || !tex.Layout().TCCompatibleHTILE {
		return ModeSwitch{}
	}

	restricted := (!clearDepth || depth == 0 || depth == 1) && (!clearStencil || stencil == 0)
	switch {
	case tex.TCCompatibleHTILE && !restricted:
		return modeSwitch(c, tex, false)
	case !tex.TCCompatibleHTILE && restricted && clearDepth:
		// Both planes must be cleared together to re-enter the mode.
		if stencilInHTILE(tex) && !clearStencil {
			return ModeSwitch{}
		}
		return modeSwitch(c, tex, true)
	}
	return ModeSwitch{}
}

func modeSwitch(c caps.Caps, tex *resource.Texture, tc bool) ModeSwitch {
	b := tex.Aux(resource.AuxHTILE)
	return ModeSwitch{
		Needed:       true,
		TCCompatible: tc,
		Fill: MetaClear{
			Aux:    resource.AuxHTILE,
			Buffer: b.Buffer,
			Offset: b.Offset,
			Size:   b.Size,
			Value:  HTILEModeSentinel(c, tex),
		},
	}
}

// HTILEClearWord returns the HTILE dword of a tile fast cleared to depth.
// Depth is quantized to 14 bits with min and max Z equal. Both stencil
// results are set.
func HTILEClearWord(tex *resource.Texture, depth float32) uint32 {
	const maxZ = 0x3FFF
	z := uint32(math.Round(float64(depth) * maxZ))

	if !stencilInHTILE(tex) {
		// | max z 31:18 | min z 17:4 | zmask 3:0 |
		return (z&0x3FFF)<<18 | (z&0x3FFF)<<4
	}
	// | z range 31:12 | smem 9:8 | sr1 sr0 7:4 | zmask 3:0 |
	zrange := z << 6
	const sresults = 0xF
	return (zrange&0xFFFFF)<<12 | sresults<<4
}
