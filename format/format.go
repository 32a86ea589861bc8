// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package format describes pixel formats the way the color and depth
// backends see them: block size, channel layout and swizzle.
package format

import "fmt"

// Format identifies a pixel format.
type Format uint16

// Supported formats. Channel order in the name is memory order, lowest
// bits first.
const (
	Invalid Format = iota

	RGBA8Unorm
	RGBA8Snorm
	RGBA8Uint
	RGBA8Sint
	RGBA8Srgb
	BGRA8Unorm
	BGRA8Srgb
	RGBX8Unorm
	BGRX8Unorm
	ARGB8Unorm
	ABGR8Unorm

	A8Unorm
	R8Unorm
	R8Uint
	R8Sint
	L8Unorm
	L8Srgb
	I8Unorm
	L8A8Unorm
	R8A8Unorm
	RG8Unorm

	R16Float
	R16Uint
	RG16Float
	RGBA16Float
	RGBA16Unorm
	RGBA16Uint
	RGBA16Sint

	R32Float
	R32Uint
	R32Sint
	RG32Float
	RGB32Float
	RGBA32Float
	RGBA32Uint
	RGBA32Sint

	RGB10A2Unorm
	B5G6R5Unorm
	R11G11B10Float
	RGB9E5Float

	YUYV
	BC1Unorm

	Z16Unorm
	Z32Float
	Z24UnormS8Uint
	S8Uint

	formatCount
)

// Layout classifies how pixels are stored.
type Layout uint8

const (
	LayoutPlain Layout = iota
	LayoutSubsampled
	LayoutCompressed
	LayoutOther
)

// Type is the numeric type of one channel.
type Type uint8

const (
	TypeVoid Type = iota
	TypeUnsigned
	TypeSigned
	TypeFloat
)

// Swizzle selects the source of an output channel.
type Swizzle uint8

const (
	SwizzleX Swizzle = iota
	SwizzleY
	SwizzleZ
	SwizzleW
	Swizzle0
	Swizzle1
	SwizzleNone
)

// Colorspace of the format.
type Colorspace uint8

const (
	ColorspaceRGB Colorspace = iota
	ColorspaceSRGB
	ColorspaceZS
	ColorspaceYUV
)

// Channel describes one physical channel in memory order.
type Channel struct {
	Type        Type
	Normalized  bool
	PureInteger bool
	Size        uint8
}

// Description is the static description of a format.
type Description struct {
	Name       string
	Layout     Layout
	BlockBits  uint32
	BlockW     uint32
	BlockH     uint32
	NrChannels int
	Channels   [4]Channel
	Swizzle    [4]Swizzle
	Colorspace Colorspace
	IsArray    bool
}

// BlockBytes returns the size of one block in bytes.
func (d *Description) BlockBytes() uint32 { return d.BlockBits / 8 }

func unorm(n uint8) Channel { return Channel{Type: TypeUnsigned, Normalized: true, Size: n} }
func snorm(n uint8) Channel { return Channel{Type: TypeSigned, Normalized: true, Size: n} }
func uint_(n uint8) Channel { return Channel{Type: TypeUnsigned, PureInteger: true, Size: n} }
func sint(n uint8) Channel  { return Channel{Type: TypeSigned, PureInteger: true, Size: n} }
func float(n uint8) Channel { return Channel{Type: TypeFloat, Size: n} }
func void(n uint8) Channel  { return Channel{Type: TypeVoid, Size: n} }

var (
	swXYZW = [4]Swizzle{SwizzleX, SwizzleY, SwizzleZ, SwizzleW}
	swZYXW = [4]Swizzle{SwizzleZ, SwizzleY, SwizzleX, SwizzleW}
	swXYZ1 = [4]Swizzle{SwizzleX, SwizzleY, SwizzleZ, Swizzle1}
	swZYX1 = [4]Swizzle{SwizzleZ, SwizzleY, SwizzleX, Swizzle1}
	swX001 = [4]Swizzle{SwizzleX, Swizzle0, Swizzle0, Swizzle1}
	swXY01 = [4]Swizzle{SwizzleX, SwizzleY, Swizzle0, Swizzle1}
)

func plain(name string, bits uint32, cs Colorspace, array bool, sw [4]Swizzle, ch ...Channel) Description {
	d := Description{
		Name:       name,
		Layout:     LayoutPlain,
		BlockBits:  bits,
		BlockW:     1,
		BlockH:     1,
		NrChannels: len(ch),
		Swizzle:    sw,
		Colorspace: cs,
		IsArray:    array,
	}
	copy(d.Channels[:], ch)
	return d
}

var table = [formatCount]Description{
	Invalid: {Name: "invalid", Layout: LayoutOther, Swizzle: [4]Swizzle{SwizzleNone, SwizzleNone, SwizzleNone, SwizzleNone}},

	RGBA8Unorm: plain("rgba8_unorm", 32, ColorspaceRGB, true, swXYZW, unorm(8), unorm(8), unorm(8), unorm(8)),
	RGBA8Snorm: plain("rgba8_snorm", 32, ColorspaceRGB, true, swXYZW, snorm(8), snorm(8), snorm(8), snorm(8)),
	RGBA8Uint:  plain("rgba8_uint", 32, ColorspaceRGB, true, swXYZW, uint_(8), uint_(8), uint_(8), uint_(8)),
	RGBA8Sint:  plain("rgba8_sint", 32, ColorspaceRGB, true, swXYZW, sint(8), sint(8), sint(8), sint(8)),
	RGBA8Srgb:  plain("rgba8_srgb", 32, ColorspaceSRGB, true, swXYZW, unorm(8), unorm(8), unorm(8), unorm(8)),
	BGRA8Unorm: plain("bgra8_unorm", 32, ColorspaceRGB, true, swZYXW, unorm(8), unorm(8), unorm(8), unorm(8)),
	BGRA8Srgb:  plain("bgra8_srgb", 32, ColorspaceSRGB, true, swZYXW, unorm(8), unorm(8), unorm(8), unorm(8)),
	RGBX8Unorm: plain("rgbx8_unorm", 32, ColorspaceRGB, true, swXYZ1, unorm(8), unorm(8), unorm(8), void(8)),
	BGRX8Unorm: plain("bgrx8_unorm", 32, ColorspaceRGB, true, swZYX1, unorm(8), unorm(8), unorm(8), void(8)),
	ARGB8Unorm: plain("argb8_unorm", 32, ColorspaceRGB, true,
		[4]Swizzle{SwizzleY, SwizzleZ, SwizzleW, SwizzleX}, unorm(8), unorm(8), unorm(8), unorm(8)),
	ABGR8Unorm: plain("abgr8_unorm", 32, ColorspaceRGB, true,
		[4]Swizzle{SwizzleW, SwizzleZ, SwizzleY, SwizzleX}, unorm(8), unorm(8), unorm(8), unorm(8)),

	A8Unorm: plain("a8_unorm", 8, ColorspaceRGB, true,
		[4]Swizzle{Swizzle0, Swizzle0, Swizzle0, SwizzleX}, unorm(8)),
	R8Unorm: plain("r8_unorm", 8, ColorspaceRGB, true, swX001, unorm(8)),
	R8Uint:  plain("r8_uint", 8, ColorspaceRGB, true, swX001, uint_(8)),
	R8Sint:  plain("r8_sint", 8, ColorspaceRGB, true, swX001, sint(8)),
	L8Unorm: plain("l8_unorm", 8, ColorspaceRGB, true,
		[4]Swizzle{SwizzleX, SwizzleX, SwizzleX, Swizzle1}, unorm(8)),
	L8Srgb: plain("l8_srgb", 8, ColorspaceSRGB, true,
		[4]Swizzle{SwizzleX, SwizzleX, SwizzleX, Swizzle1}, unorm(8)),
	I8Unorm: plain("i8_unorm", 8, ColorspaceRGB, true,
		[4]Swizzle{SwizzleX, SwizzleX, SwizzleX, SwizzleX}, unorm(8)),
	L8A8Unorm: plain("l8a8_unorm", 16, ColorspaceRGB, true,
		[4]Swizzle{SwizzleX, SwizzleX, SwizzleX, SwizzleY}, unorm(8), unorm(8)),
	R8A8Unorm: plain("r8a8_unorm", 16, ColorspaceRGB, true,
		[4]Swizzle{SwizzleX, Swizzle0, Swizzle0, SwizzleY}, unorm(8), unorm(8)),
	RG8Unorm: plain("rg8_unorm", 16, ColorspaceRGB, true, swXY01, unorm(8), unorm(8)),

	R16Float:    plain("r16_float", 16, ColorspaceRGB, true, swX001, float(16)),
	R16Uint:     plain("r16_uint", 16, ColorspaceRGB, true, swX001, uint_(16)),
	RG16Float:   plain("rg16_float", 32, ColorspaceRGB, true, swXY01, float(16), float(16)),
	RGBA16Float: plain("rgba16_float", 64, ColorspaceRGB, true, swXYZW, float(16), float(16), float(16), float(16)),
	RGBA16Unorm: plain("rgba16_unorm", 64, ColorspaceRGB, true, swXYZW, unorm(16), unorm(16), unorm(16), unorm(16)),
	RGBA16Uint:  plain("rgba16_uint", 64, ColorspaceRGB, true, swXYZW, uint_(16), uint_(16), uint_(16), uint_(16)),
	RGBA16Sint:  plain("rgba16_sint", 64, ColorspaceRGB, true, swXYZW, sint(16), sint(16), sint(16), sint(16)),

	R32Float:    plain("r32_float", 32, ColorspaceRGB, true, swX001, float(32)),
	R32Uint:     plain("r32_uint", 32, ColorspaceRGB, true, swX001, uint_(32)),
	R32Sint:     plain("r32_sint", 32, ColorspaceRGB, true, swX001, sint(32)),
	RG32Float:   plain("rg32_float", 64, ColorspaceRGB, true, swXY01, float(32), float(32)),
	RGB32Float:  plain("rgb32_float", 96, ColorspaceRGB, true, swXYZ1, float(32), float(32), float(32)),
	RGBA32Float: plain("rgba32_float", 128, ColorspaceRGB, true, swXYZW, float(32), float(32), float(32), float(32)),
	RGBA32Uint:  plain("rgba32_uint", 128, ColorspaceRGB, true, swXYZW, uint_(32), uint_(32), uint_(32), uint_(32)),
	RGBA32Sint:  plain("rgba32_sint", 128, ColorspaceRGB, true, swXYZW, sint(32), sint(32), sint(32), sint(32)),

	RGB10A2Unorm: plain("rgb10a2_unorm", 32, ColorspaceRGB, false, swXYZW, unorm(10), unorm(10), unorm(10), unorm(2)),
	B5G6R5Unorm:  plain("b5g6r5_unorm", 16, ColorspaceRGB, false, swZYX1, unorm(5), unorm(6), unorm(5)),
	R11G11B10Float: {
		Name: "r11g11b10_float", Layout: LayoutOther, BlockBits: 32, BlockW: 1, BlockH: 1,
		NrChannels: 3, Channels: [4]Channel{float(11), float(11), float(10)}, Swizzle: swXYZ1,
	},
	RGB9E5Float: {
		Name: "rgb9e5_float", Layout: LayoutOther, BlockBits: 32, BlockW: 1, BlockH: 1,
		NrChannels: 3, Channels: [4]Channel{float(9), float(9), float(9)}, Swizzle: swXYZ1,
	},

	YUYV: {
		Name: "yuyv", Layout: LayoutSubsampled, BlockBits: 32, BlockW: 2, BlockH: 1,
		NrChannels: 3, Channels: [4]Channel{unorm(8), unorm(8), unorm(8)}, Swizzle: swXYZ1,
		Colorspace: ColorspaceYUV,
	},
	BC1Unorm: {
		Name: "bc1_unorm", Layout: LayoutCompressed, BlockBits: 64, BlockW: 4, BlockH: 4,
		NrChannels: 4, Channels: [4]Channel{unorm(8), unorm(8), unorm(8), unorm(8)}, Swizzle: swXYZW,
	},

	Z16Unorm: plain("z16_unorm", 16, ColorspaceZS, false,
		[4]Swizzle{SwizzleX, SwizzleNone, SwizzleNone, SwizzleNone}, unorm(16)),
	Z32Float: plain("z32_float", 32, ColorspaceZS, false,
		[4]Swizzle{SwizzleX, SwizzleNone, SwizzleNone, SwizzleNone}, float(32)),
	Z24UnormS8Uint: plain("z24_unorm_s8_uint", 32, ColorspaceZS, false,
		[4]Swizzle{SwizzleX, SwizzleY, SwizzleNone, SwizzleNone}, unorm(24), uint_(8)),
	S8Uint: plain("s8_uint", 8, ColorspaceZS, false,
		[4]Swizzle{SwizzleNone, SwizzleX, SwizzleNone, SwizzleNone}, uint_(8)),
}

// Describe returns the description of f. Unknown formats describe as Invalid.
func Describe(f Format) *Description {
	if f >= formatCount {
		return &table[Invalid]
	}
	return &table[f]
}

// String returns the format name.
func (f Format) String() string {
	if f >= formatCount {
		return fmt.Sprintf("format(%d)", uint16(f))
	}
	return table[f].Name
}

// Valid reports whether f names a known format.
func (f Format) Valid() bool { return f > Invalid && f < formatCount }

// BlockBytes returns the bytes per block (bpe).
func (f Format) BlockBytes() uint32 { return Describe(f).BlockBytes() }

// IsDepthOrStencil reports whether f is a depth and/or stencil format.
func (f Format) IsDepthOrStencil() bool { return Describe(f).Colorspace == ColorspaceZS }

// HasDepth reports whether f carries a depth component.
func (f Format) HasDepth() bool {
	return f.IsDepthOrStencil() && Describe(f).Swizzle[0] != SwizzleNone
}

// HasStencil reports whether f carries a stencil component.
func (f Format) HasStencil() bool {
	return f.IsDepthOrStencil() && Describe(f).Swizzle[1] != SwizzleNone
}

// IsPureUint reports whether every present channel is an unsigned integer.
func (f Format) IsPureUint() bool { return f.allChannels(TypeUnsigned, true) }

// IsPureSint reports whether every present channel is a signed integer.
func (f Format) IsPureSint() bool { return f.allChannels(TypeSigned, true) }

func (f Format) allChannels(t Type, pure bool) bool {
	d := Describe(f)
	if d.NrChannels == 0 {
		return false
	}
	for i := 0; i < d.NrChannels; i++ {
		ch := d.Channels[i]
		if ch.Type == TypeVoid {
			continue
		}
		if ch.Type != t || ch.PureInteger != pure {
			return false
		}
	}
	return true
}
