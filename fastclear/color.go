// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package fastclear

import (
	"fmt"

	"github.com/gogpu/texmeta/caps"
	"github.com/gogpu/texmeta/device"
	"github.com/gogpu/texmeta/format"
	"github.com/gogpu/texmeta/layout"
	"github.com/gogpu/texmeta/resource"
)

// Metadata fill values.
const (
	// CMASKCleared marks every tile as fast cleared.
	CMASKCleared uint32 = 0x00000000
	// CMASKExpanded marks every tile as fully compressed with no clear
	// pending.
	CMASKExpanded uint32 = 0xCCCCCCCC
)

// DefaultTooSmallArea is the largest single-sample pixel count for which a
// clear needing an eliminate pass is done slowly.
const DefaultTooSmallArea = 512 * 512

// Method is how a colour clear is performed.
type Method uint8

const (
	// MethodSlow falls back to a full clear.
	MethodSlow Method = iota
	// MethodDCC writes a DCC clear code.
	MethodDCC
	// MethodCMASK clears CMASK.
	MethodCMASK
)

// String returns the method name.
func (m Method) String() string {
	switch m {
	case MethodSlow:
		return "slow"
	case MethodDCC:
		return "dcc"
	case MethodCMASK:
		return "cmask"
	default:
		return fmt.Sprintf("method(%d)", uint8(m))
	}
}

// Reason explains why a colour clear is not fast.
type Reason uint8

const (
	ReasonNone Reason = iota
	ReasonRenderCondition
	ReasonLevel
	ReasonMipmapped
	ReasonPartialLayers
	ReasonLinear
	ReasonSharedNoFlush
	Reason1DTiling
	ReasonDCCParams
	ReasonTooSmall
	ReasonMSAACMASK
	ReasonDCCLevel
	ReasonBpe
	ReasonCMASKBroken
	ReasonEncrypted
	ReasonNoCMASK
)

var reasonNames = [...]string{
	"none",
	"render-condition",
	"level",
	"mipmapped",
	"partial-layers",
	"linear",
	"shared-without-flush",
	"1d-tiling",
	"dcc-params",
	"too-small",
	"msaa-cmask",
	"dcc-level",
	"bpe",
	"cmask-broken",
	"encrypted",
	"no-cmask",
}

// String returns the reason name.
func (r Reason) String() string {
	if int(r) < len(reasonNames) {
		return reasonNames[r]
	}
	return fmt.Sprintf("reason(%d)", uint8(r))
}

// MetaClear is a fill of a metadata buffer range.
type MetaClear struct {
	Aux    resource.Aux
	Buffer device.Buffer
	Offset uint64
	Size   uint64
	Value  uint32
}

// ColorTarget is a colour surface bound for a clear.
type ColorTarget struct {
	Texture    *resource.Texture
	Level      uint32
	FirstLayer uint32
	LastLayer  uint32
	// Format is the view format. Invalid means the texture format.
	Format format.Format
}

func (t ColorTarget) viewFormat() format.Format {
	if t.Format.Valid() {
		return t.Format
	}
	return t.Texture.Layout().Format
}

// Options are the per-call inputs of CheckColor.
type Options struct {
	// TooSmallArea overrides DefaultTooSmallArea when non-zero.
	TooSmallArea uint64
	// RenderCondition is set while conditional rendering is active.
	RenderCondition bool
}

// Decision is the outcome of CheckColor.
type Decision struct {
	Method Method
	Reason Reason
	Code   Code

	EliminateNeeded       bool
	FMASKDecompressNeeded bool

	// AllocCMASK asks the caller to allocate a separate CMASK and clear it
	// to CMASKCleared.
	AllocCMASK bool

	// Clears lists the metadata fills to execute in order.
	Clears []MetaClear
}

// Fast reports whether the clear is done through metadata.
func (d Decision) Fast() bool { return d.Method != MethodSlow }

func reject(r Reason) Decision { return Decision{Method: MethodSlow, Reason: r} }

// TooSmall reports whether the surface is below the area where an
// eliminate pass costs more than a fast clear saves.
func TooSmall(tex *resource.Texture, area uint64) bool {
	if area == 0 {
		area = DefaultTooSmallArea
	}
	l := tex.Layout()
	return l.Samples <= 1 && uint64(l.Width)*uint64(l.Height) <= area
}

// CheckColor decides how to clear target to color.
func CheckColor(c caps.Caps, target ColorTarget, color format.ClearColor, opts Options) Decision {
	tex := target.Texture
	l := tex.Layout()

	switch {
	case opts.RenderCondition:
		return reject(ReasonRenderCondition)
	case target.Level > 0:
		return reject(ReasonLevel)
	case !c.MipmappedDCCFastClear && l.LastLevel > 0:
		return reject(ReasonMipmapped)
	case target.FirstLayer != 0 || target.LastLayer != l.MaxLayer(target.Level):
		return reject(ReasonPartialLayers)
	case l.IsLinear():
		return reject(ReasonLinear)
	case tex.Shared && tex.ExternalUsage&resource.UsageExplicitFlush == 0:
		return reject(ReasonSharedNoFlush)
	case !c.ModernAddressing && l.LevelMode(0) == layout.Mode1D && !c.HTILECMASK1DTiling:
		return reject(Reason1DTiling)
	}

	tooSmall := TooSmall(tex, opts.TooSmallArea)

	if tex.DCCEnabled(0) {
		return checkDCC(c, target, color, tooSmall)
	}

	switch {
	case tooSmall:
		return reject(ReasonTooSmall)
	case l.Bpe > 8:
		return reject(ReasonBpe)
	case c.CMASKFastClearBroken:
		return reject(ReasonCMASKBroken)
	case tex.Flags()&resource.FlagEncrypted != 0:
		return reject(ReasonEncrypted)
	}

	d := Decision{Method: MethodCMASK, Code: ClearAllZero, EliminateNeeded: true}
	if !tex.HasCMASK() {
		if l.CMASK.Size == 0 || l.Samples > 1 {
			return reject(ReasonNoCMASK)
		}
		d.AllocCMASK = true
		return d
	}
	d.Clears = append(d.Clears, CMASKClear(tex, CMASKCleared))
	return d
}

func checkDCC(c caps.Caps, target ColorTarget, color format.ClearColor, tooSmall bool) Decision {
	tex := target.Texture
	l := tex.Layout()

	res := DCCClearParams(c, l.Format, target.viewFormat(), color)
	switch {
	case !res.Allowed:
		return reject(ReasonDCCParams)
	case res.EliminateNeeded && tooSmall:
		return reject(ReasonTooSmall)
	case l.Samples >= 2 && tex.HasCMASK() && res.EliminateNeeded:
		return reject(ReasonMSAACMASK)
	}

	clear, ok := DCCLevelClear(c, tex, 0, uint32(res.Code))
	if !ok {
		return reject(ReasonDCCLevel)
	}

	d := Decision{
		Method:          MethodDCC,
		Code:            res.Code,
		EliminateNeeded: res.EliminateNeeded,
		Clears:          []MetaClear{clear},
	}
	if l.Samples >= 2 && tex.HasCMASK() {
		d.Clears = append(d.Clears, CMASKClear(tex, CMASKExpanded))
		d.FMASKDecompressNeeded = true
	}
	return d
}

// DCCLevelClear returns the DCC fill that sets level to value. It reports
// false when the level cannot be cleared through DCC.
func DCCLevelClear(c caps.Caps, tex *resource.Texture, level uint32, value uint32) (MetaClear, bool) {
	l := tex.Layout()
	dcc := tex.DCC()
	aux := resource.AuxDCC
	if tex.Aux(resource.AuxSeparateDCC).Present() {
		aux = resource.AuxSeparateDCC
	}
	mc := MetaClear{Aux: aux, Buffer: dcc.Buffer, Offset: dcc.Offset, Value: value}

	if !c.LegacyDCCLevels {
		// Level clears and 4x+ MSAA need a dedicated kernel.
		if l.LastLevel > 0 || l.Samples >= 4 {
			return MetaClear{}, false
		}
		mc.Size = l.DCC.Size
		return mc, true
	}

	_, _, layers := l.LevelExtent(level)
	lv := l.Legacy[level]
	if lv.DCCFastClearSize == 0 {
		return MetaClear{}, false
	}
	// Layered 4x+ MSAA would need one clear per layer.
	if l.Samples >= 4 && layers > 1 {
		return MetaClear{}, false
	}
	mc.Offset += lv.DCCOffset
	mc.Size = lv.DCCFastClearSize * uint64(layers)
	return mc, true
}

// CMASKClear returns the fill that sets the whole CMASK to value.
func CMASKClear(tex *resource.Texture, value uint32) MetaClear {
	b := tex.Aux(resource.AuxCMASK)
	return MetaClear{Aux: resource.AuxCMASK, Buffer: b.Buffer, Offset: b.Offset, Size: b.Size, Value: value}
}

// ClearColorRegisters returns the clear colour words programmed for a fast
// cleared surface. 128-bit surfaces hold R (equal to G and B) and A.
func ClearColorRegisters(tex *resource.Texture, view format.Format, color format.ClearColor) [2]uint32 {
	if tex.Layout().Bpe == 16 {
		return [2]uint32{color.Bits[0], color.Bits[3]}
	}
	if !view.Valid() {
		view = tex.Layout().Format
	}
	words, _ := format.PackColor(view, color)
	return words
}

// SetClearColor stores the clear colour words of a fast clear and reports
// whether they changed.
func SetClearColor(tex *resource.Texture, view format.Format, color format.ClearColor) bool {
	words := ClearColorRegisters(tex, view, color)
	if words == tex.ColorClearValue {
		return false
	}
	tex.ColorClearValue = words
	return true
}

// NeedsClearColor reports whether a fast clear must program the clear
// colour registers.
func NeedsClearColor(c caps.Caps, d Decision) bool {
	return !(c.DCCConstantEncode && !d.EliminateNeeded)
}
