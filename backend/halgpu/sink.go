// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package halgpu

import (
	_ "embed"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/texmeta/coherency"
	"github.com/gogpu/texmeta/device"
)

//go:embed shaders/copy_bytes.wgsl
var copyBytesSource string

// batch is one submitted command buffer and the resources it uses.
type batch struct {
	value      uint64
	cmdBuf     hal.CommandBuffer
	bindGroups []hal.BindGroup
	transient  []hal.Buffer
}

// Sink records commands into a hal command encoder. Commands the hal
// backend cannot execute, such as render-backend clears and blits, are
// counted and skipped.
type Sink struct {
	dev   *Device
	label string

	encoder hal.CommandEncoder
	cur     batch
	err     error

	fence    hal.Fence
	value    uint64
	inflight []batch

	barriers int
	skipped  int
}

// NewSink opens a command stream.
func (d *Device) NewSink(label string) device.Sink {
	return &Sink{dev: d, label: label}
}

// Barriers returns the number of barriers recorded.
func (s *Sink) Barriers() int { return s.barriers }

// Skipped returns the number of commands that were not executed.
func (s *Sink) Skipped() int { return s.skipped }

func (s *Sink) fail(err error) {
	if s.err == nil {
		s.err = err
	}
	slogger().Warn("halgpu: command dropped", "sink", s.label, "err", err)
}

// begin returns the open encoder, starting one when needed.
func (s *Sink) begin() (hal.CommandEncoder, error) {
	if s.encoder != nil {
		return s.encoder, nil
	}
	enc, err := s.dev.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: s.label})
	if err != nil {
		return nil, fmt.Errorf("halgpu: create command encoder: %w", err)
	}
	if err := enc.BeginEncoding(s.label); err != nil {
		return nil, fmt.Errorf("halgpu: begin encoding: %w", err)
	}
	s.encoder = enc
	return enc, nil
}

// upload creates a transient buffer holding data.
func (s *Sink) upload(label string, data []byte, usage gputypes.BufferUsage) (hal.Buffer, error) {
	size := max(alignUp(uint64(len(data)), 4), minBufferSize)
	buf, err := s.dev.device.CreateBuffer(&hal.BufferDescriptor{
		Label: label,
		Size:  size,
		Usage: usage | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("halgpu: create %s buffer: %w", label, err)
	}
	s.cur.transient = append(s.cur.transient, buf)
	if pad := int(size) - len(data); pad > 0 {
		data = append(append([]byte(nil), data...), make([]byte, pad)...)
	}
	s.dev.queue.WriteBuffer(buf, 0, data)
	return buf, nil
}

// RecordBarrier logs the flags. Each dispatch and copy is its own pass.
func (s *Sink) RecordBarrier(flags coherency.Flags) {
	s.barriers++
	slogger().Debug("halgpu: barrier", "sink", s.label, "flags", flags)
}

// RecordDispatch encodes a compute pass.
func (s *Sink) RecordDispatch(d device.Dispatch) {
	k, ok := d.Kernel.(*Kernel)
	if !ok {
		s.fail(fmt.Errorf("halgpu: kernel %v was not compiled by this device", d.Kernel))
		return
	}
	if err := s.dispatch(k, d); err != nil {
		s.fail(err)
	}
}

func (s *Sink) dispatch(k *Kernel, d device.Dispatch) error {
	params, err := packParams(d)
	if err != nil {
		return err
	}
	if len(d.Bindings) < len(k.storage) {
		return fmt.Errorf("halgpu: %s wants %d bindings, got %d", k.key, len(k.storage), len(d.Bindings))
	}

	entries := make([]gputypes.BindGroupEntry, 0, len(k.storage)+1)
	for i := range k.storage {
		b, err := s.dev.lookup(d.Bindings[i].Buffer)
		if err != nil {
			return err
		}
		entries = append(entries, bufferEntry(uint32(i), b.raw))
	}
	uniform, err := s.upload("params", params, gputypes.BufferUsageUniform)
	if err != nil {
		return err
	}
	entries = append(entries, bufferEntry(uint32(len(k.storage)), uniform))

	bg, err := s.dev.device.CreateBindGroup(&hal.BindGroupDescriptor{
		Label:   k.key.String() + "_bg",
		Layout:  k.bgLayout,
		Entries: entries,
	})
	if err != nil {
		return fmt.Errorf("halgpu: create bind group for %s: %w", k.key, err)
	}
	s.cur.bindGroups = append(s.cur.bindGroups, bg)

	enc, err := s.begin()
	if err != nil {
		return err
	}
	pass := enc.BeginComputePass(&hal.ComputePassDescriptor{Label: k.key.String()})
	pass.SetPipeline(k.pipeline)
	pass.SetBindGroup(0, bg, nil)
	pass.Dispatch(d.Grid[0], max(d.Grid[1], 1), max(d.Grid[2], 1))
	pass.End()

	slogger().Debug("halgpu: dispatched", "kernel", k.key.String(), "grid", d.Grid)
	return nil
}

func bufferEntry(binding uint32, buf hal.Buffer) gputypes.BindGroupEntry {
	return gputypes.BindGroupEntry{
		Binding: binding,
		Resource: gputypes.BufferBinding{
			Buffer: buf.NativeHandle(),
			Offset: 0,
			Size:   0, // whole buffer
		},
	}
}

// RecordCopy encodes a buffer copy. Ranges hal cannot copy directly go
// through the byte copy kernel.
func (s *Sink) RecordCopy(c device.Copy) {
	dst, err := s.dev.lookup(c.Dst)
	if err != nil {
		s.fail(err)
		return
	}
	src, err := s.dev.lookup(c.Src)
	if err != nil {
		s.fail(err)
		return
	}
	if err := s.copyRange(dst, c.DstOffset, src, c.SrcOffset, c.Size); err != nil {
		s.fail(err)
	}
}

// RecordFill encodes a dword fill as an upload and copy.
func (s *Sink) RecordFill(f device.Fill) {
	dst, err := s.dev.lookup(f.Dst)
	if err != nil {
		s.fail(err)
		return
	}
	if f.Offset%4 != 0 || f.Size%4 != 0 {
		s.fail(fmt.Errorf("halgpu: unaligned fill [%d, +%d)", f.Offset, f.Size))
		return
	}
	data := make([]byte, f.Size)
	for i := uint64(0); i < f.Size; i += 4 {
		binary.LittleEndian.PutUint32(data[i:], f.Value)
	}
	if err := s.write(dst, f.Offset, data); err != nil {
		s.fail(err)
	}
}

// RecordWrite encodes a byte write as an upload and copy.
func (s *Sink) RecordWrite(w device.Write) {
	dst, err := s.dev.lookup(w.Dst)
	if err != nil {
		s.fail(err)
		return
	}
	if err := s.write(dst, w.Offset, w.Data); err != nil {
		s.fail(err)
	}
}

func (s *Sink) write(dst *Buffer, offset uint64, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	staging, err := s.upload("staging", data, gputypes.BufferUsageCopySrc|gputypes.BufferUsageStorage)
	if err != nil {
		return err
	}
	return s.copyRaw(dst.raw, offset, staging, 0, uint64(len(data)))
}

func (s *Sink) copyRange(dst *Buffer, dstOff uint64, src *Buffer, srcOff, size uint64) error {
	if size == 0 {
		return nil
	}
	return s.copyRaw(dst.raw, dstOff, src.raw, srcOff, size)
}

func (s *Sink) copyRaw(dst hal.Buffer, dstOff uint64, src hal.Buffer, srcOff, size uint64) error {
	if dstOff%4 == 0 && srcOff%4 == 0 && size%4 == 0 {
		enc, err := s.begin()
		if err != nil {
			return err
		}
		enc.CopyBufferToBuffer(src, dst, []hal.BufferCopy{{
			SrcOffset: srcOff,
			DstOffset: dstOff,
			Size:      size,
		}})
		return nil
	}
	return s.copyBytes(dst, dstOff, src, srcOff, size)
}

// copyBytes dispatches the byte copy kernel over [dstOff, dstOff+size).
func (s *Sink) copyBytes(dst hal.Buffer, dstOff uint64, src hal.Buffer, srcOff, size uint64) error {
	k, err := s.dev.copyBytesKernel()
	if err != nil {
		return err
	}
	if dstOff+size > 1<<32 || srcOff+size > 1<<32 {
		return fmt.Errorf("halgpu: byte copy beyond 4 GiB")
	}
	params := binary.LittleEndian.AppendUint32(nil, uint32(dstOff))
	params = binary.LittleEndian.AppendUint32(params, uint32(srcOff))
	params = binary.LittleEndian.AppendUint32(params, uint32(size))
	params = binary.LittleEndian.AppendUint32(params, uint32(dstOff/4))
	uniform, err := s.upload("params", params, gputypes.BufferUsageUniform)
	if err != nil {
		return err
	}
	bg, err := s.dev.device.CreateBindGroup(&hal.BindGroupDescriptor{
		Label:  "copy_bytes_bg",
		Layout: k.bgLayout,
		Entries: []gputypes.BindGroupEntry{
			bufferEntry(0, dst), bufferEntry(1, src), bufferEntry(2, uniform),
		},
	})
	if err != nil {
		return fmt.Errorf("halgpu: create bind group for byte copy: %w", err)
	}
	s.cur.bindGroups = append(s.cur.bindGroups, bg)

	enc, err := s.begin()
	if err != nil {
		return err
	}
	dwords := (alignUp(dstOff+size, 4) - dstOff&^3) / 4
	pass := enc.BeginComputePass(&hal.ComputePassDescriptor{Label: "copy_bytes"})
	pass.SetPipeline(k.pipeline)
	pass.SetBindGroup(0, bg, nil)
	pass.Dispatch(uint32((dwords+copyBytesGroup-1)/copyBytesGroup), 1, 1)
	pass.End()
	return nil
}

// copyBytesKernel compiles the byte copy kernel on first use.
func (d *Device) copyBytesKernel() (*Kernel, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.copyBytes != nil {
		return d.copyBytes, nil
	}
	if d.closed {
		return nil, device.ErrClosed
	}
	k, err := d.compile(device.KernelKey{Kind: kindCopyBytes}, copyBytesSource)
	if err != nil {
		return nil, err
	}
	d.copyBytes = k
	d.kernels = append(d.kernels, k)
	return k, nil
}

// RecordFixedFunctionClear skips the clear. hal exposes no render backend
// clear state.
func (s *Sink) RecordFixedFunctionClear(c device.FFClear) {
	s.skipped++
	slogger().Debug("halgpu: fixed-function clear skipped", "sink", s.label, "texture", c.Texture, "level", c.Level)
}

// RecordBlit skips the blit.
func (s *Sink) RecordBlit(b device.Blit) {
	s.skipped++
	slogger().Debug("halgpu: blit skipped", "sink", s.label, "op", b.Op.String(), "dst", b.Dst)
}

// Flush submits the recorded commands. With wait set it blocks until the
// GPU has finished every batch of this sink and releases their resources.
// The first recording error since the previous Flush is returned.
func (s *Sink) Flush(wait bool) error {
	err := s.err
	s.err = nil

	if s.encoder != nil {
		if subErr := s.submit(); subErr != nil {
			err = errors.Join(err, subErr)
		}
	}
	if wait && len(s.inflight) > 0 {
		if waitErr := s.wait(); waitErr != nil {
			err = errors.Join(err, waitErr)
		}
	}
	return err
}

func (s *Sink) submit() error {
	enc := s.encoder
	s.encoder = nil
	cmdBuf, err := enc.EndEncoding()
	if err != nil {
		s.release(s.cur)
		s.cur = batch{}
		return fmt.Errorf("halgpu: end encoding: %w", err)
	}
	if s.fence == nil {
		s.fence, err = s.dev.device.CreateFence()
		if err != nil {
			s.dev.device.FreeCommandBuffer(cmdBuf)
			s.release(s.cur)
			s.cur = batch{}
			return fmt.Errorf("halgpu: create fence: %w", err)
		}
		s.dev.mu.Lock()
		s.dev.fences = append(s.dev.fences, s.fence)
		s.dev.mu.Unlock()
	}

	s.value++
	b := s.cur
	b.value = s.value
	b.cmdBuf = cmdBuf
	s.cur = batch{}
	s.inflight = append(s.inflight, b)

	if err := s.dev.queue.Submit([]hal.CommandBuffer{cmdBuf}, s.fence, s.value); err != nil {
		return fmt.Errorf("halgpu: submit: %w", err)
	}
	slogger().Debug("halgpu: submitted", "sink", s.label, "value", s.value)
	return nil
}

func (s *Sink) wait() error {
	ok, err := s.dev.device.Wait(s.fence, s.value, fenceTimeout)
	if err != nil {
		return fmt.Errorf("halgpu: wait for GPU: %w", err)
	}
	if !ok {
		return fmt.Errorf("halgpu: GPU timeout after %v", fenceTimeout)
	}
	for _, b := range s.inflight {
		s.release(b)
	}
	s.inflight = s.inflight[:0]
	return nil
}

func (s *Sink) release(b batch) {
	dev := s.dev.device
	if b.cmdBuf != nil {
		dev.FreeCommandBuffer(b.cmdBuf)
	}
	for _, g := range b.bindGroups {
		dev.DestroyBindGroup(g)
	}
	for _, buf := range b.transient {
		dev.DestroyBuffer(buf)
	}
}
