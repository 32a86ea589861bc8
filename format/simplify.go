// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package format

import "github.com/gogpu/texmeta/caps"

// Linear returns the linear (non-sRGB) equivalent of f.
func Linear(f Format) Format {
	switch f {
	case RGBA8Srgb:
		return RGBA8Unorm
	case BGRA8Srgb:
		return BGRA8Unorm
	case L8Srgb:
		return L8Unorm
	default:
		return f
	}
}

// LuminanceToRed maps luminance formats to their red equivalents.
func LuminanceToRed(f Format) Format {
	switch f {
	case L8Unorm:
		return R8Unorm
	case L8A8Unorm:
		return R8A8Unorm
	default:
		return f
	}
}

// IntensityToRed maps intensity formats to their red equivalents.
func IntensityToRed(f Format) Format {
	if f == I8Unorm {
		return R8Unorm
	}
	return f
}

// SimplifyCB reduces f to the format the color backend actually writes.
func SimplifyCB(f Format) Format {
	return IntensityToRed(LuminanceToRed(Linear(f)))
}

// Swap is the color backend component swap mode.
type Swap uint8

const (
	SwapStd Swap = iota
	SwapAlt
	SwapStdRev
	SwapAltRev
	SwapInvalid
)

// String returns the swap mode name.
func (s Swap) String() string {
	switch s {
	case SwapStd:
		return "std"
	case SwapAlt:
		return "alt"
	case SwapStdRev:
		return "std_rev"
	case SwapAltRev:
		return "alt_rev"
	default:
		return "invalid"
	}
}

// ColorSwap returns the component swap the color backend uses for f.
func ColorSwap(f Format) Swap {
	d := Describe(f)
	if d.Layout != LayoutPlain {
		return SwapInvalid
	}
	has := func(ch int, s Swizzle) bool { return d.Swizzle[ch] == s }

	switch d.NrChannels {
	case 1:
		switch {
		case has(0, SwizzleX):
			return SwapStd
		case has(3, SwizzleX):
			return SwapAltRev
		}
	case 2:
		switch {
		case has(0, SwizzleX) && has(1, SwizzleY),
			has(0, SwizzleX) && has(1, SwizzleNone),
			has(0, SwizzleNone) && has(1, SwizzleY):
			return SwapStd
		case has(0, SwizzleY) && has(1, SwizzleX),
			has(0, SwizzleY) && has(1, SwizzleNone),
			has(0, SwizzleNone) && has(1, SwizzleX):
			return SwapStdRev
		case has(0, SwizzleX) && has(3, SwizzleY):
			return SwapAlt
		case has(0, SwizzleY) && has(3, SwizzleX):
			return SwapAltRev
		}
	case 3:
		switch {
		case has(0, SwizzleX):
			return SwapStd
		case has(0, SwizzleZ):
			return SwapStdRev
		}
	case 4:
		// The first and last channels may be constants.
		switch {
		case has(1, SwizzleY) && has(2, SwizzleZ):
			return SwapStd
		case has(1, SwizzleZ) && has(2, SwizzleY):
			return SwapStdRev
		case has(1, SwizzleY) && has(2, SwizzleX):
			return SwapAlt
		case has(1, SwizzleZ) && has(2, SwizzleW):
			return SwapAltRev
		}
	}
	return SwapInvalid
}

// AlphaIsOnMSB reports whether the alpha channel of f lands in the most
// significant position of the color backend export. DCC clear codes are
// bit-position dependent, so the answer matters when a surface is viewed
// with a different format than it was created with.
func AlphaIsOnMSB(c caps.Caps, f Format) bool {
	f = SimplifyCB(f)
	d := Describe(f)
	swap := ColorSwap(f)

	if d.NrChannels == 1 {
		return (swap == SwapAltRev) != c.OneChannelAlphaSwapInverted
	}
	return swap != SwapStdRev && swap != SwapAltRev
}
