// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package fastclear decides whether a clear can be performed by writing
// metadata only, and which metadata values to write.
//
// The functions here do not record commands. They inspect textures and
// return decisions that the caller executes.
package fastclear

import (
	"fmt"

	"github.com/gogpu/texmeta/caps"
	"github.com/gogpu/texmeta/format"
)

// Code is a 32-bit DCC clear code. Every byte of DCC covering a cleared
// block is set to the same key, so each code repeats one byte.
type Code uint32

const (
	ClearAllZero   Code = 0x00000000 // 0000
	ClearAlphaOnly Code = 0x40404040 // 0001
	ClearColorOnly Code = 0x80808080 // 1110
	ClearAllOne    Code = 0xC0C0C0C0 // 1111
	ClearReg       Code = 0x20202020
	Uncompressed   Code = 0xFFFFFFFF
)

// String returns the code name.
func (c Code) String() string {
	switch c {
	case ClearAllZero:
		return "0000"
	case ClearAlphaOnly:
		return "0001"
	case ClearColorOnly:
		return "1110"
	case ClearAllOne:
		return "1111"
	case ClearReg:
		return "reg"
	case Uncompressed:
		return "uncompressed"
	default:
		return fmt.Sprintf("code(%#08x)", uint32(c))
	}
}

// Result is the outcome of DCC clear code selection.
type Result struct {
	// Allowed is false when DCC cannot represent the clear at all.
	Allowed bool
	// EliminateNeeded is set when the surface must be decompressed before
	// it is read as a texture.
	EliminateNeeded bool
	Code            Code
}

// DCCClearParams selects the DCC clear code for clearing a surface of base
// format through a view of format view.
func DCCClearParams(c caps.Caps, base, view format.Format, color format.ClearColor) Result {
	desc := format.Describe(format.SimplifyCB(view))

	// 128-bit fast clear stores one value for R, G and B.
	if desc.BlockBits == 128 && (color.Bits[0] != color.Bits[1] || color.Bits[0] != color.Bits[2]) {
		return Result{Allowed: false, EliminateNeeded: true, Code: ClearReg}
	}

	slow := Result{Allowed: true, EliminateNeeded: true, Code: ClearReg}
	if desc.Layout != format.LayoutPlain {
		return slow
	}

	baseMSB := format.AlphaIsOnMSB(c, base)
	surfMSB := format.AlphaIsOnMSB(c, view)

	// Formats with three channels have no alpha.
	alphaChannel := -1
	switch {
	case desc.NrChannels == 3:
	case surfMSB:
		alphaChannel = int(desc.NrChannels) - 1
	default:
		alphaChannel = 0
	}

	var (
		values     [4]bool
		colorValue bool
		alphaValue bool
		hasColor   bool
		hasAlpha   bool
	)
	for i := 0; i < 4; i++ {
		if desc.Swizzle[i] >= format.Swizzle0 {
			continue
		}
		ch := desc.Channels[i]
		switch {
		case ch.PureInteger && ch.Type == format.TypeSigned:
			maxv := int32(1)<<(ch.Size-1) - 1
			v := color.I(i)
			values[i] = v != 0
			if v != 0 && min(v, maxv) != maxv {
				return slow
			}
		case ch.PureInteger && ch.Type == format.TypeUnsigned:
			maxv := uint32(1)<<ch.Size - 1
			v := color.U(i)
			values[i] = v != 0
			if v != 0 && min(v, maxv) != maxv {
				return slow
			}
		default:
			f := color.F(i)
			values[i] = f != 0
			if f != 0 && f != 1 {
				return slow
			}
		}

		if int(desc.Swizzle[i]) == alphaChannel {
			alphaValue = values[i]
			hasAlpha = true
		} else {
			colorValue = values[i]
			hasColor = true
		}
	}

	if !hasAlpha {
		alphaValue = colorValue
	} else if !hasColor {
		colorValue = alphaValue
	}

	// Reinterpreting through a view that moves alpha changes which bits the
	// code affects.
	if colorValue != alphaValue && baseMSB != surfMSB {
		return slow
	}

	for i := 0; i < 4; i++ {
		if desc.Swizzle[i] <= format.SwizzleW && int(desc.Swizzle[i]) != alphaChannel && values[i] != colorValue {
			return slow
		}
	}

	res := Result{Allowed: true}
	switch {
	case colorValue && alphaValue:
		res.Code = ClearAllOne
	case colorValue:
		res.Code = ClearColorOnly
	case alphaValue:
		res.Code = ClearAlphaOnly
	default:
		res.Code = ClearAllZero
	}
	return res
}
