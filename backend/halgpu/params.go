// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package halgpu

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/gogpu/texmeta/device"
)

// kindCopyBytes is the byte-granular copy used for unaligned copies and
// writes. It never leaves this package.
const kindCopyBytes device.KernelKind = 0xF0

// copyBytesGroup is the workgroup width of the byte copy kernel.
const copyBytesGroup = 64

// packParams lays out the params uniform of a dispatch. Bindings cover
// whole buffers, so binding offsets travel in the uniform as dwords.
func packParams(d device.Dispatch) ([]byte, error) {
	var w paramWriter
	kind := d.Kernel.Key().Kind
	switch kind {
	case device.KernelClearDwords, device.KernelClear12Bytes, device.KernelFMASKExpand:
		if err := need(d, 1); err != nil {
			return nil, err
		}
		dst := d.Bindings[0]
		w.words(d.UserData[:]...)
		w.dwords(dst.Offset, 0, dst.Size)
		w.words(0)
	case device.KernelCopyDwords:
		if err := need(d, 2); err != nil {
			return nil, err
		}
		dst, src := d.Bindings[0], d.Bindings[1]
		w.words(d.UserData[:]...)
		w.dwords(dst.Offset, src.Offset, dst.Size)
		w.words(0)
	case device.KernelDCCDecompress:
		if err := need(d, 2); err != nil {
			return nil, err
		}
		surf, dcc := d.Bindings[0], d.Bindings[1]
		w.words(d.UserData[:]...)
		w.dwords(surf.Offset, dcc.Offset)
		w.bytes(dcc.Size)
		w.words(0)
	case device.KernelDCCRetile:
		if err := need(d, 3); err != nil {
			return nil, err
		}
		w.dwords(d.Bindings[0].Offset, d.Bindings[1].Offset, d.Bindings[2].Offset)
		// One (source, destination) pair of dwords per key.
		w.bytes(d.Bindings[2].Size / 8)
	case device.KernelCopyImage2D, device.KernelCopyImage1DArray:
		if err := need(d, 2); err != nil {
			return nil, err
		}
		a := d.Image
		if a == nil || a.TexelBytes == 0 || a.TexelBytes%4 != 0 {
			return nil, fmt.Errorf("halgpu: %s: texel size unsupported", kind)
		}
		array1D := kind == device.KernelCopyImage1DArray
		dr, sr := device.RowsOf(a.DstBox, array1D), device.RowsOf(a.SrcBox, array1D)
		srcBase := d.Bindings[1].Offset + texelByte(a.SrcAddr.Offset, a.SrcAddr.LayerStride, a.SrcAddr.Pitch, a.TexelBytes, sr)
		dstBase := d.Bindings[0].Offset + texelByte(a.DstAddr.Offset, a.DstAddr.LayerStride, a.DstAddr.Pitch, a.TexelBytes, dr)
		w.dwords(srcBase)
		w.words(a.SrcAddr.Pitch / a.TexelBytes)
		w.dwords(a.SrcAddr.LayerStride, dstBase)
		w.words(a.DstAddr.Pitch / a.TexelBytes)
		w.dwords(a.DstAddr.LayerStride)
		w.words(a.TexelBytes/4, dr.Width, dr.Height, dr.Layers, 0, 0)
	case device.KernelClearRenderTarget2D, device.KernelClearRenderTarget1DArray:
		if err := need(d, 1); err != nil {
			return nil, err
		}
		a := d.Image
		if a == nil || a.TexelBytes == 0 || a.TexelBytes%4 != 0 {
			return nil, fmt.Errorf("halgpu: %s: texel size unsupported", kind)
		}
		r := device.RowsOf(a.DstBox, kind == device.KernelClearRenderTarget1DArray)
		w.words(d.UserData[:]...)
		w.dwords(d.Bindings[0].Offset + a.DstAddr.Offset)
		w.words(a.DstAddr.Pitch / a.TexelBytes)
		w.dwords(a.DstAddr.LayerStride)
		w.words(a.TexelBytes/4, r.X, r.Y, r.Width, r.Height, r.Z, r.Layers, 0, 0)
	case kindCopyBytes:
		// UserData carries dst byte, src byte and size.
		w.words(d.UserData[0], d.UserData[1], d.UserData[2], d.UserData[0]/4)
	default:
		return nil, fmt.Errorf("halgpu: no params layout for %s", kind)
	}
	if w.err != nil {
		return nil, fmt.Errorf("halgpu: %s: %w", kind, w.err)
	}
	return w.buf, nil
}

func need(d device.Dispatch, n int) error {
	if len(d.Bindings) < n {
		return fmt.Errorf("halgpu: %s wants %d bindings, got %d", d.Kernel.Key().Kind, n, len(d.Bindings))
	}
	return nil
}

// texelByte returns the byte offset of the first texel of r.
func texelByte(base, layerStride uint64, pitch, texel uint32, r device.Rows) uint64 {
	return base + uint64(r.Z)*layerStride + uint64(r.Y)*uint64(pitch) + uint64(r.X)*uint64(texel)
}

// paramWriter appends little-endian u32 fields and records the first
// value that does not fit.
type paramWriter struct {
	buf []byte
	err error
}

func (w *paramWriter) words(v ...uint32) {
	for _, x := range v {
		w.buf = binary.LittleEndian.AppendUint32(w.buf, x)
	}
}

// bytes appends 64-bit counts as u32.
func (w *paramWriter) bytes(v ...uint64) {
	for _, x := range v {
		if x > math.MaxUint32 {
			if w.err == nil {
				w.err = fmt.Errorf("value %d overflows u32", x)
			}
			x = 0
		}
		w.words(uint32(x))
	}
}

// dwords appends byte offsets and sizes converted to dwords.
func (w *paramWriter) dwords(v ...uint64) {
	for _, x := range v {
		if x%4 != 0 && w.err == nil {
			w.err = fmt.Errorf("byte offset %d is not dword aligned", x)
		}
		w.bytes(x / 4)
	}
}
