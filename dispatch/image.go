// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package dispatch

import (
	"errors"
	"fmt"

	"github.com/gogpu/texmeta/coherency"
	"github.com/gogpu/texmeta/device"
	"github.com/gogpu/texmeta/format"
	"github.com/gogpu/texmeta/layout"
	"github.com/gogpu/texmeta/resource"
)

// ErrNoRetile is returned by RetileDCC when the texture has no displayable
// DCC or the retile kernel is unavailable.
var ErrNoRetile = errors.New("dispatch: DCC retile unavailable")

// imageGroup is the workgroup edge of the 2D image kernels.
const imageGroup = 8

func imageGrid(box layout.Box) [3]uint32 {
	return [3]uint32{
		uint32(divRoundUp(uint64(box.Width), imageGroup)),
		uint32(divRoundUp(uint64(box.Height), imageGroup)),
		max(box.Depth, 1),
	}
}

func pixelBinding(tex *resource.Texture, write bool) device.Binding {
	l := tex.Layout()
	return device.Binding{Buffer: tex.Buffer(), Offset: tex.PlaneOffset(), Size: l.BaseSize(), Write: write}
}

func auxBinding(b resource.AuxBinding, write bool) device.Binding {
	return device.Binding{Buffer: b.Buffer, Offset: b.Offset, Size: b.Size, Write: write}
}

// shaderImageOK reports whether an image kernel may access level of tex.
func (d *Dispatcher) shaderImageOK(tex *resource.Texture, level uint32, write bool) bool {
	l := tex.Layout()
	if l.Samples > 1 || l.BlkW > 1 || l.BlkH > 1 || l.IsDepth() || l.Bpe%4 != 0 {
		return false
	}
	// Image stores would leave DCC stale.
	return !write || !tex.DCCEnabled(level) || d.caps.ComputeImageStoreDCC
}

// CopyImage copies srcBox of src level srcLevel to dstBox of dst level
// dstLevel. Both boxes have the same extent. Single-sample uncompressed
// formats of equal block size use a compute kernel; everything else is a
// blit.
func (d *Dispatcher) CopyImage(dst *resource.Texture, dstLevel uint32, dstBox layout.Box, src *resource.Texture, srcLevel uint32, srcBox layout.Box) Path {
	if dstBox.Width != srcBox.Width || dstBox.Height != srcBox.Height || dstBox.Depth != srcBox.Depth {
		panic(fmt.Sprintf("dispatch: copy box mismatch %+v vs %+v", dstBox, srcBox))
	}
	if dstBox.Width == 0 || dstBox.Height == 0 {
		panic("dispatch: empty image copy")
	}

	if dst.Layout().Bpe == src.Layout().Bpe &&
		d.shaderImageOK(dst, dstLevel, true) && d.shaderImageOK(src, srcLevel, false) {
		kind := device.KernelCopyImage2D
		if dst.Layout().Target == layout.Target1DArray {
			kind = device.KernelCopyImage1DArray
		}
		if k, err := d.kernel(device.KernelKey{Kind: kind}); err == nil {
			d.before(SyncBefore, coherency.InvSCache|coherency.InvVCache)
			d.sink.RecordDispatch(device.Dispatch{
				Kernel:   k,
				Grid:     imageGrid(dstBox),
				Block:    [3]uint32{imageGroup, imageGroup, 1},
				Bindings: []device.Binding{pixelBinding(dst, true), pixelBinding(src, false)},
				Policy:   coherency.PolicyLRU,
				Image: &device.ImageArgs{
					Dst: dst.ID(), Src: src.ID(),
					DstLevel: dstLevel, SrcLevel: srcLevel,
					DstBox: dstBox, SrcBox: srcBox,
					DstAddr:    dst.Layout().LevelAddressing(dstLevel),
					SrcAddr:    src.Layout().LevelAddressing(srcLevel),
					TexelBytes: dst.Layout().Bpe,
				},
			})
			d.markL2(dst.Buffer(), coherency.PolicyLRU)
			d.after(SyncAfter, coherency.PolicyLRU)
			return PathCompute
		}
	}

	d.EmitPending()
	d.sink.RecordBlit(device.Blit{
		Op: device.BlitCopy, Dst: dst.ID(), Src: src.ID(),
		DstLevel: dstLevel, SrcLevel: srcLevel, Box: dstBox,
	})
	return PathBlit
}

// ClearRenderTarget clears box of level to color without going through
// fast clear metadata.
func (d *Dispatcher) ClearRenderTarget(tex *resource.Texture, level uint32, box layout.Box, color format.ClearColor) Path {
	l := tex.Layout()
	data, packed := clearPixel(l.Format, color)
	if d.caps.ComputeClearRenderTarget && packed && d.shaderImageOK(tex, level, true) {
		kind := device.KernelClearRenderTarget2D
		if l.Target == layout.Target1DArray {
			kind = device.KernelClearRenderTarget1DArray
		}
		if k, err := d.kernel(device.KernelKey{Kind: kind}); err == nil {
			d.before(SyncBefore, coherency.FlushAndInvCB)
			d.sink.RecordDispatch(device.Dispatch{
				Kernel:   k,
				Grid:     imageGrid(box),
				Block:    [3]uint32{imageGroup, imageGroup, 1},
				Bindings: []device.Binding{pixelBinding(tex, true)},
				UserData: data,
				Policy:   coherency.PolicyLRU,
				Image: &device.ImageArgs{
					Dst: tex.ID(), DstLevel: level, DstBox: box,
					DstAddr: l.LevelAddressing(level), TexelBytes: l.Bpe,
				},
			})
			d.markL2(tex.Buffer(), coherency.PolicyLRU)
			d.after(SyncAfter, coherency.PolicyLRU)
			return PathCompute
		}
	}

	d.EmitPending()
	d.sink.RecordBlit(device.Blit{Op: device.BlitClear, Dst: tex.ID(), DstLevel: level, Box: box, Color: color.Bits})
	return PathBlit
}

// clearPixel returns the raw pixel of color in f.
func clearPixel(f format.Format, color format.ClearColor) ([4]uint32, bool) {
	if f.BlockBytes() == 16 {
		return color.Bits, true
	}
	w, ok := format.PackColor(f, color)
	return [4]uint32{w[0], w[1]}, ok
}

// DecompressDCC rewrites levels [first, last] of tex uncompressed. On
// parts with a compute decompressor every cleared block receives the
// stored clear color and its key becomes uncompressed. Otherwise a
// decompress blit is recorded.
func (d *Dispatcher) DecompressDCC(tex *resource.Texture, first, last uint32) Path {
	if !tex.HasDCC() {
		panic("dispatch: DCC decompress of a texture without DCC")
	}
	dcc := tex.DCC()
	if d.caps.ComputeDCCDecompress && tex.Layout().Samples <= 1 {
		if k, err := d.kernel(device.KernelKey{Kind: device.KernelDCCDecompress}); err == nil {
			c := tex.ColorClearValue
			p := d.cachePolicy(coherency.DomainCBMeta, dcc.Size)
			d.before(SyncBefore, coherency.FlushAndInvCB|coherency.InvVCache)
			d.sink.RecordDispatch(device.Dispatch{
				Kernel: k,
				// One thread per DCC key.
				Grid:     d.linearGrid(dcc.Size, 1),
				Block:    [3]uint32{d.caps.WaveSize, 1, 1},
				Bindings: []device.Binding{pixelBinding(tex, true), auxBinding(dcc, true)},
				UserData: [4]uint32{c[0], c[1], c[0], c[1]},
				Policy:   p,
				Image:    &device.ImageArgs{Dst: tex.ID(), DstLevel: first, SrcLevel: last},
			})
			d.markL2(tex.Buffer(), p)
			d.markL2(dcc.Buffer, p)
			d.after(SyncAfter, p)
			return PathCompute
		}
	}

	d.EmitPending()
	d.sink.RecordBlit(device.Blit{Op: device.BlitDCCDecompress, Dst: tex.ID(), FirstLevel: first, LastLevel: last})
	return PathBlit
}

// RetileDCC copies the DCC of tex into its displayable DCC through the
// retile map.
func (d *Dispatcher) RetileDCC(tex *resource.Texture) error {
	disp, rmap := tex.Aux(resource.AuxDisplayDCC), tex.Aux(resource.AuxRetileMap)
	if !tex.HasDCC() || !disp.Present() || !rmap.Present() {
		return fmt.Errorf("%w: texture %d has no displayable DCC", ErrNoRetile, tex.ID())
	}
	k, err := d.kernel(device.KernelKey{Kind: device.KernelDCCRetile})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrNoRetile, err)
	}
	p := d.cachePolicy(coherency.DomainCBMeta, disp.Size)
	d.before(SyncBefore, coherency.FlushFlags(coherency.DomainCBMeta, p)|coherency.InvVCache)
	d.sink.RecordDispatch(device.Dispatch{
		Kernel: k,
		// Each map entry is two dwords: source and destination offset.
		Grid:  d.linearGrid(rmap.Size/8, 1),
		Block: [3]uint32{d.caps.WaveSize, 1, 1},
		Bindings: []device.Binding{
			auxBinding(tex.DCC(), false),
			auxBinding(disp, true),
			auxBinding(rmap, false),
		},
		Policy: p,
	})
	d.markL2(disp.Buffer, p)
	d.after(SyncAfter, p)
	return nil
}

// FMASKIdentity returns the FMASK dword in which every sample points at
// its own fragment.
func FMASKIdentity(samples uint32) uint32 {
	switch samples {
	case 2:
		return 0x02020202
	case 4:
		return 0xE4E4E4E4
	case 8:
		return 0x76543210
	default:
		panic(fmt.Sprintf("dispatch: no FMASK for %d samples", samples))
	}
}

// ExpandFMASK resets the FMASK of tex to the identity mapping once every
// sample holds its own color. Without the expand kernel an FMASK
// decompress blit is recorded.
func (d *Dispatcher) ExpandFMASK(tex *resource.Texture) Path {
	fm := tex.Aux(resource.AuxFMASK)
	if !fm.Present() {
		panic("dispatch: FMASK expand of a texture without FMASK")
	}
	samples := tex.Layout().Samples
	if k, err := d.kernel(device.KernelKey{Kind: device.KernelFMASKExpand, Samples: samples}); err == nil {
		p := d.cachePolicy(coherency.DomainCBMeta, fm.Size)
		d.before(SyncBefore, coherency.FlushAndInvCB|coherency.InvVCache)
		d.sink.RecordDispatch(device.Dispatch{
			Kernel:   k,
			Grid:     d.linearGrid(fm.Size/4, 1),
			Block:    [3]uint32{d.caps.WaveSize, 1, 1},
			Bindings: []device.Binding{auxBinding(fm, true)},
			UserData: [4]uint32{FMASKIdentity(samples)},
			Policy:   p,
			Image:    &device.ImageArgs{Dst: tex.ID()},
		})
		d.markL2(fm.Buffer, p)
		d.after(SyncAfter, p)
		return PathCompute
	}

	d.EmitPending()
	d.sink.RecordBlit(device.Blit{Op: device.BlitFMASKDecompress, Dst: tex.ID()})
	return PathBlit
}
