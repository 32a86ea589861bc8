// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package format

import (
	"math"

	"github.com/x448/float16"
)

// ClearColor holds a clear value as raw 32-bit words. The same bits are
// read as float32, int32 or uint32 depending on the target channel type.
type ClearColor struct {
	Bits [4]uint32
}

// Float returns a clear color from float channels.
func Float(r, g, b, a float32) ClearColor {
	return ClearColor{Bits: [4]uint32{
		math.Float32bits(r), math.Float32bits(g), math.Float32bits(b), math.Float32bits(a),
	}}
}

// Uint returns a clear color from unsigned integer channels.
func Uint(r, g, b, a uint32) ClearColor {
	return ClearColor{Bits: [4]uint32{r, g, b, a}}
}

// Int returns a clear color from signed integer channels.
func Int(r, g, b, a int32) ClearColor {
	return ClearColor{Bits: [4]uint32{uint32(r), uint32(g), uint32(b), uint32(a)}}
}

// F returns channel i as float32.
func (c ClearColor) F(i int) float32 { return math.Float32frombits(c.Bits[i]) }

// I returns channel i as int32.
func (c ClearColor) I(i int) int32 { return int32(c.Bits[i]) }

// U returns channel i as uint32.
func (c ClearColor) U(i int) uint32 { return c.Bits[i] }

// PackColor encodes c as a pixel of format f and returns the first two
// dwords. ok is false when f cannot be packed (compressed, subsampled or
// shared-exponent formats).
func PackColor(f Format, c ClearColor) (words [2]uint32, ok bool) {
	d := Describe(f)
	if d.BlockBits == 0 || d.BlockBits > 128 {
		return words, false
	}

	var out [4]uint32
	switch {
	case f == R11G11B10Float:
		out[0] = uint32(f11(c.F(0))) | uint32(f11(c.F(1)))<<11 | uint32(f10(c.F(2)))<<22
	case d.Layout != LayoutPlain:
		return words, false
	default:
		// Bit offset of each physical channel.
		var offset [4]uint32
		var bit uint32
		for i := 0; i < d.NrChannels; i++ {
			offset[i] = bit
			bit += uint32(d.Channels[i].Size)
		}
		var written [4]bool
		for i := 0; i < 4; i++ {
			sw := d.Swizzle[i]
			if sw > SwizzleW || int(sw) >= d.NrChannels || written[sw] {
				continue
			}
			written[sw] = true
			ch := d.Channels[sw]
			v := encodeChannel(ch, d.Colorspace == ColorspaceSRGB && i < 3, c, i)
			putBits(&out, offset[sw], uint32(ch.Size), v)
		}
	}
	return [2]uint32{out[0], out[1]}, true
}

func putBits(out *[4]uint32, offset, size uint32, v uint64) {
	for size > 0 {
		word := offset / 32
		shift := offset % 32
		n := 32 - shift
		if n > size {
			n = size
		}
		mask := uint64(1)<<n - 1
		out[word] |= uint32((v & mask) << shift)
		v >>= n
		offset += n
		size -= n
	}
}

func encodeChannel(ch Channel, srgb bool, c ClearColor, i int) uint64 {
	size := uint32(ch.Size)
	switch {
	case ch.Type == TypeFloat && size == 16:
		return uint64(float16.Fromfloat32(c.F(i)).Bits())
	case ch.Type == TypeFloat && size == 32:
		return uint64(c.Bits[i])
	case ch.PureInteger && ch.Type == TypeUnsigned:
		maxv := uint64(1)<<size - 1
		v := uint64(c.U(i))
		if v > maxv {
			v = maxv
		}
		return v
	case ch.PureInteger && ch.Type == TypeSigned:
		maxv := int64(1)<<(size-1) - 1
		minv := -maxv - 1
		v := int64(c.I(i))
		if v > maxv {
			v = maxv
		} else if v < minv {
			v = minv
		}
		return uint64(v) & (uint64(1)<<size - 1)
	case ch.Type == TypeUnsigned:
		f := clamp(c.F(i), 0, 1)
		if srgb {
			f = linearToSRGB(f)
		}
		return uint64(math.Round(float64(f) * float64(uint64(1)<<size-1)))
	case ch.Type == TypeSigned:
		f := clamp(c.F(i), -1, 1)
		v := int64(math.Round(float64(f) * float64(int64(1)<<(size-1)-1)))
		return uint64(v) & (uint64(1)<<size - 1)
	default:
		return 0
	}
}

func clamp(f, lo, hi float32) float32 {
	if f != f || f < lo {
		return lo
	}
	if f > hi {
		return hi
	}
	return f
}

func linearToSRGB(f float32) float32 {
	if f <= 0.0031308 {
		return f * 12.92
	}
	return float32(1.055*math.Pow(float64(f), 1.0/2.4) - 0.055)
}

// f11 and f10 drop the sign and low mantissa bits of a half float.
func f11(f float32) uint16 {
	if f <= 0 || f != f {
		return 0
	}
	return (float16.Fromfloat32(f).Bits() >> 4) & 0x7ff
}

func f10(f float32) uint16 {
	if f <= 0 || f != f {
		return 0
	}
	return (float16.Fromfloat32(f).Bits() >> 5) & 0x3ff
}
