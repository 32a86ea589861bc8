// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package dispatch

import (
	"encoding/binary"
	"fmt"

	"github.com/gogpu/texmeta/coherency"
	"github.com/gogpu/texmeta/device"
)

// NormalizeFill returns the fill pattern a clear actually uses for value.
//
// Patterns of 8 or more bytes whose dwords are all equal collapse to one
// dword, and 1- and 2-byte patterns are replicated up to a dword. The
// result is 4, 8, 12 or 16 bytes long and tiles to the same byte sequence
// as value.
func NormalizeFill(value []byte) []byte {
	switch n := len(value); n {
	case 1:
		return []byte{value[0], value[0], value[0], value[0]}
	case 2:
		return []byte{value[0], value[1], value[0], value[1]}
	case 4:
		return append([]byte(nil), value...)
	case 8, 12, 16:
		first := binary.LittleEndian.Uint32(value)
		for i := 4; i < n; i += 4 {
			if binary.LittleEndian.Uint32(value[i:]) != first {
				return append([]byte(nil), value...)
			}
		}
		return append([]byte(nil), value[:4]...)
	default:
		panic(fmt.Sprintf("dispatch: unsupported clear value size %d", n))
	}
}

// rotate returns p shifted left by n bytes, so a pattern that tiled from
// offset o tiles from o+n.
func rotate(p []byte, n int) []byte {
	n %= len(p)
	out := make([]byte, 0, len(p))
	out = append(out, p[n:]...)
	return append(out, p[:n]...)
}

// tile repeats p to n bytes.
func tile(p []byte, n uint64) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = p[i%len(p)]
	}
	return out
}

func words(p []byte) []uint32 {
	w := make([]uint32, len(p)/4)
	for i := range w {
		w[i] = binary.LittleEndian.Uint32(p[i*4:])
	}
	return w
}

// ClearBuffer fills [offset, offset+size) of dst with value repeated. The
// value is 1, 2, 4, 8, 12 or 16 bytes. coher names the client that reads
// the result. The returned paths list what executed the clear, in order.
func (d *Dispatcher) ClearBuffer(dst device.Buffer, offset, size uint64, value []byte, coher coherency.Domain, op Op) []Path {
	if size == 0 {
		panic("dispatch: zero-sized buffer clear")
	}
	if offset+size > dst.Size() {
		panic(fmt.Sprintf("dispatch: clear [%d, %d) outside buffer of %d bytes", offset, offset+size, dst.Size()))
	}
	pat := NormalizeFill(value)

	if len(pat) == 12 {
		if offset%4 != 0 || size%12 != 0 {
			panic(fmt.Sprintf("dispatch: 12-byte clear needs a dword offset and a size multiple of 12, got offset=%d size=%d", offset, size))
		}
		w := words(pat)
		if err := d.Clear12Bytes(dst, offset, size, [3]uint32{w[0], w[1], w[2]}, coher, op); err == nil {
			return []Path{PathCompute12}
		}
		d.ByteWrite(dst, offset, tile(pat, size))
		return []Path{PathByteWrite}
	}

	var paths []Path

	// Bytes before the first dword boundary never reach DMA or compute.
	if head := (4 - offset%4) % 4; head != 0 {
		head = min(head, size)
		d.ByteWrite(dst, offset, tile(pat, head))
		paths = append(paths, PathByteWrite)
		pat = rotate(pat, int(head))
		offset += head
		size -= head
	}

	if aligned := size &^ 3; aligned != 0 {
		thr := d.policy.ClearThreshold(dst.Domain() == device.DomainVRAM)
		useCompute := len(pat) > 4 || (!d.caps.ClearPreferDMA && aligned > thr)
		switch {
		case useCompute && d.ComputeClear(dst, offset, aligned, words(pat), coher, op) == nil:
			paths = append(paths, PathCompute)
		case len(pat) == 4:
			d.CPDMAClear(dst, offset, aligned, binary.LittleEndian.Uint32(pat), coher, op)
			paths = append(paths, PathCPDMA)
		default:
			d.ByteWrite(dst, offset, tile(pat, aligned))
			paths = append(paths, PathByteWrite)
		}
		pat = rotate(pat, int(aligned%uint64(len(pat))))
		offset += aligned
		size -= aligned
	}

	if size != 0 {
		d.ByteWrite(dst, offset, tile(pat, size))
		paths = append(paths, PathByteWrite)
	}
	slogger().Debug("dispatch: clear buffer", "buffer", dst.ID(), "paths", paths)
	return paths
}

// CopyBuffer copies size bytes from src to dst. Compute is used only
// between VRAM buffers of a part with dedicated VRAM, above the copy
// threshold, with dword alignment. Everything else goes through CP DMA.
func (d *Dispatcher) CopyBuffer(dst device.Buffer, dstOffset uint64, src device.Buffer, srcOffset, size uint64, coher coherency.Domain, op Op) Path {
	if size == 0 {
		panic("dispatch: zero-sized buffer copy")
	}
	if dstOffset+size > dst.Size() || srcOffset+size > src.Size() {
		panic(fmt.Sprintf("dispatch: copy of %d bytes out of bounds", size))
	}

	if d.caps.HasDedicatedVRAM &&
		dst.Domain() == device.DomainVRAM && src.Domain() == device.DomainVRAM &&
		size > d.policy.Compute.CopyThreshold &&
		dstOffset%4 == 0 && srcOffset%4 == 0 && size%4 == 0 {
		if d.ComputeCopy(dst, dstOffset, src, srcOffset, size, coher, op) == nil {
			return PathCompute
		}
	}
	d.CPDMACopy(dst, dstOffset, src, srcOffset, size, coher, op)
	return PathCPDMA
}

// userData replicates a 1, 2 or 4 dword pattern over the four user data
// slots of a clear kernel.
func userData(pattern []uint32) [4]uint32 {
	var ud [4]uint32
	for i := range ud {
		ud[i] = pattern[i%len(pattern)]
	}
	return ud
}

// ComputeClear clears a dword aligned range with the dword clear kernel.
// It returns an error when the kernel cannot be built.
func (d *Dispatcher) ComputeClear(dst device.Buffer, offset, size uint64, pattern []uint32, coher coherency.Domain, op Op) error {
	if offset%4 != 0 || size%4 != 0 {
		panic(fmt.Sprintf("dispatch: unaligned compute clear offset=%d size=%d", offset, size))
	}
	switch len(pattern) {
	case 1, 2, 4:
	default:
		panic(fmt.Sprintf("dispatch: compute clear pattern of %d dwords", len(pattern)))
	}
	dw := d.caps.ComputeClearDWPerThread
	k, err := d.kernel(device.KernelKey{Kind: device.KernelClearDwords, DWPerThread: dw})
	if err != nil {
		return err
	}
	p := d.cachePolicy(coher, size)
	d.before(op, coherency.FlushFlags(coher, p))
	d.sink.RecordDispatch(device.Dispatch{
		Kernel:   k,
		Grid:     d.linearGrid(size/4, uint64(dw)),
		Block:    [3]uint32{d.caps.WaveSize, 1, 1},
		Bindings: []device.Binding{{Buffer: dst, Offset: offset, Size: size, Write: true}},
		UserData: userData(pattern),
		Policy:   p,
	})
	d.markL2(dst, p)
	d.after(op, p)
	return nil
}

// ComputeCopy copies a dword aligned range with the dword copy kernel.
func (d *Dispatcher) ComputeCopy(dst device.Buffer, dstOffset uint64, src device.Buffer, srcOffset, size uint64, coher coherency.Domain, op Op) error {
	if dstOffset%4 != 0 || srcOffset%4 != 0 || size%4 != 0 {
		panic(fmt.Sprintf("dispatch: unaligned compute copy dst=%d src=%d size=%d", dstOffset, srcOffset, size))
	}
	dw := d.caps.ComputeCopyDWPerThread
	k, err := d.kernel(device.KernelKey{Kind: device.KernelCopyDwords, DWPerThread: dw})
	if err != nil {
		return err
	}
	p := d.cachePolicy(coher, size)
	d.before(op, coherency.FlushFlags(coher, p))
	d.sink.RecordDispatch(device.Dispatch{
		Kernel: k,
		Grid:   d.linearGrid(size/4, uint64(dw)),
		Block:  [3]uint32{d.caps.WaveSize, 1, 1},
		Bindings: []device.Binding{
			{Buffer: dst, Offset: dstOffset, Size: size, Write: true},
			{Buffer: src, Offset: srcOffset, Size: size},
		},
		Policy: p,
	})
	d.markL2(dst, p)
	d.after(op, p)
	return nil
}

// Clear12Bytes clears with a 12-byte pattern using the dedicated kernel,
// one element per thread.
func (d *Dispatcher) Clear12Bytes(dst device.Buffer, offset, size uint64, pattern [3]uint32, coher coherency.Domain, op Op) error {
	if offset%4 != 0 || size%12 != 0 {
		panic(fmt.Sprintf("dispatch: 12-byte clear offset=%d size=%d", offset, size))
	}
	k, err := d.kernel(device.KernelKey{Kind: device.KernelClear12Bytes})
	if err != nil {
		return err
	}
	p := d.cachePolicy(coher, size)
	d.before(op, coherency.FlushFlags(coher, p))
	d.sink.RecordDispatch(device.Dispatch{
		Kernel:   k,
		Grid:     d.linearGrid(size/12, 1),
		Block:    [3]uint32{d.caps.WaveSize, 1, 1},
		Bindings: []device.Binding{{Buffer: dst, Offset: offset, Size: size, Write: true}},
		UserData: [4]uint32{pattern[0], pattern[1], pattern[2]},
		Policy:   p,
	})
	d.markL2(dst, p)
	d.after(op, p)
	return nil
}

// linearGrid returns the workgroup count covering n elements with per
// elements per thread.
func (d *Dispatcher) linearGrid(n, per uint64) [3]uint32 {
	return [3]uint32{uint32(divRoundUp(n, per*uint64(d.caps.WaveSize))), 1, 1}
}

// CPDMAChunk returns the largest byte count of one CP DMA packet.
func (d *Dispatcher) CPDMAChunk() uint64 { return d.caps.CPDMAMaxBytes &^ 31 }

// CPDMAClear fills a dword aligned range with value through CP DMA, split
// into packets of at most CPDMAChunk bytes.
func (d *Dispatcher) CPDMAClear(dst device.Buffer, offset, size uint64, value uint32, coher coherency.Domain, op Op) {
	if offset%4 != 0 || size%4 != 0 {
		panic(fmt.Sprintf("dispatch: unaligned CP DMA clear offset=%d size=%d", offset, size))
	}
	p := d.cachePolicy(coher, size)
	if op&SyncBefore != 0 {
		d.pending |= coherency.FlushFlags(coher, p)
	}
	d.EmitPending()
	chunk := d.CPDMAChunk()
	for size != 0 {
		n := min(size, chunk)
		d.sink.RecordFill(device.Fill{Dst: dst, Offset: offset, Size: n, Value: value, Policy: p})
		offset += n
		size -= n
	}
	d.markL2(dst, p)
	if op&WaitForIdle != 0 {
		d.WaitForIdle()
	}
}

// CPDMACopy copies through CP DMA in packets of at most CPDMAChunk bytes.
func (d *Dispatcher) CPDMACopy(dst device.Buffer, dstOffset uint64, src device.Buffer, srcOffset, size uint64, coher coherency.Domain, op Op) {
	p := d.cachePolicy(coher, size)
	if op&SyncBefore != 0 {
		d.pending |= coherency.FlushFlags(coher, p)
	}
	d.EmitPending()
	chunk := d.CPDMAChunk()
	for size != 0 {
		n := min(size, chunk)
		d.sink.RecordCopy(device.Copy{Dst: dst, DstOffset: dstOffset, Src: src, SrcOffset: srcOffset, Size: n, Policy: p})
		dstOffset += n
		srcOffset += n
		size -= n
	}
	d.markL2(dst, p)
	if op&WaitForIdle != 0 {
		d.WaitForIdle()
	}
}

// ByteWrite writes data at any alignment.
func (d *Dispatcher) ByteWrite(dst device.Buffer, offset uint64, data []byte) {
	d.EmitPending()
	d.sink.RecordWrite(device.Write{Dst: dst, Offset: offset, Data: data})
}
