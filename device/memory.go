// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package device

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/gogpu/texmeta/coherency"
	"github.com/gogpu/texmeta/layout"
)

// CommandKind identifies a recorded command.
type CommandKind uint8

const (
	CmdBarrier CommandKind = iota
	CmdDispatch
	CmdCopy
	CmdFill
	CmdWrite
	CmdFFClear
	CmdBlit
	CmdFlush
)

var commandKindNames = [...]string{
	"barrier", "dispatch", "copy", "fill", "write", "ff-clear", "blit", "flush",
}

// String returns the command name.
func (k CommandKind) String() string {
	if int(k) < len(commandKindNames) {
		return commandKindNames[k]
	}
	return fmt.Sprintf("cmd(%d)", uint8(k))
}

// Command is one entry of the Memory command log.
type Command struct {
	Kind     CommandKind
	Sink     string
	Barrier  coherency.Flags
	Dispatch Dispatch
	Copy     Copy
	Fill     Fill
	Write    Write
	FFClear  FFClear
	Blit     Blit
	Wait     bool
}

// Memory implements Device on host memory.
//
// Commands execute when they are recorded, so buffer contents are visible
// through Read immediately. Memory is safe for concurrent use.
type Memory struct {
	mu      sync.Mutex
	nextID  uint64
	buffers map[uint64]*memBuffer
	log     []Command
	closed  bool

	failAfter   int
	failKernels map[KernelKind]bool
	compiled    map[KernelKey]int

	queries     map[uint64]*memQuery
	stats       PipelineStats
	pendingRead bool
}

type memBuffer struct {
	id     uint64
	domain Domain
	flags  AllocFlags
	label  string
	data   []byte
}

func (b *memBuffer) ID() uint64     { return b.id }
func (b *memBuffer) Size() uint64   { return uint64(len(b.data)) }
func (b *memBuffer) Domain() Domain { return b.domain }

type memKernel struct{ key KernelKey }

func (k memKernel) Key() KernelKey { return k.key }

type memQuery struct {
	id     uint64
	active bool
	ended  bool
	ready  bool
	stats  PipelineStats
}

func (q *memQuery) ID() uint64 { return q.id }

// NewMemory returns an empty host-memory device.
func NewMemory() *Memory {
	return &Memory{
		buffers:     make(map[uint64]*memBuffer),
		failAfter:   -1,
		failKernels: make(map[KernelKind]bool),
		compiled:    make(map[KernelKey]int),
		queries:     make(map[uint64]*memQuery),
	}
}

// Allocate creates a zero-filled buffer.
func (m *Memory) Allocate(desc Desc) (Buffer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}
	if desc.Size == 0 {
		return nil, fmt.Errorf("%w: zero-sized buffer %q", ErrOutOfMemory, desc.Label)
	}
	if m.failAfter == 0 {
		return nil, fmt.Errorf("%w: %d bytes for %q", ErrOutOfMemory, desc.Size, desc.Label)
	}
	if m.failAfter > 0 {
		m.failAfter--
	}
	m.nextID++
	b := &memBuffer{
		id:     m.nextID,
		domain: desc.Domain,
		flags:  desc.Flags,
		label:  desc.Label,
		data:   make([]byte, desc.Size),
	}
	m.buffers[b.id] = b
	return b, nil
}

// Free releases a buffer. Freeing an unknown buffer is a no-op.
func (m *Memory) Free(buf Buffer) {
	if buf == nil {
		return
	}
	m.mu.Lock()
	delete(m.buffers, buf.ID())
	m.mu.Unlock()
}

// FailAllocationsAfter makes allocation fail after n more successes.
// A negative n disables failure injection.
func (m *Memory) FailAllocationsAfter(n int) {
	m.mu.Lock()
	m.failAfter = n
	m.mu.Unlock()
}

// FailKernel makes compilation of kind fail.
func (m *Memory) FailKernel(kind KernelKind, fail bool) {
	m.mu.Lock()
	m.failKernels[kind] = fail
	m.mu.Unlock()
}

// Live returns the number of allocated buffers.
func (m *Memory) Live() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.buffers)
}

// Read returns a copy of n bytes of buf starting at offset.
func (m *Memory) Read(buf Buffer, offset, n uint64) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := m.lookup(buf)
	out := make([]byte, n)
	copy(out, b.data[offset:offset+n])
	return out
}

// ReadDwords returns n little-endian dwords of buf starting at offset.
func (m *Memory) ReadDwords(buf Buffer, offset uint64, n int) []uint32 {
	raw := m.Read(buf, offset, uint64(n)*4)
	out := make([]uint32, n)
	for i := range out {
		out[i] = binary.LittleEndian.Uint32(raw[i*4:])
	}
	return out
}

// Commands returns a copy of the command log.
func (m *Memory) Commands() []Command {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Command, len(m.log))
	copy(out, m.log)
	return out
}

// CommandsOf returns the logged commands of one kind.
func (m *Memory) CommandsOf(kind CommandKind) []Command {
	var out []Command
	for _, c := range m.Commands() {
		if c.Kind == kind {
			out = append(out, c)
		}
	}
	return out
}

// ResetLog clears the command log.
func (m *Memory) ResetLog() {
	m.mu.Lock()
	m.log = m.log[:0]
	m.mu.Unlock()
}

// Compiled returns how many times key was compiled.
func (m *Memory) Compiled(key KernelKey) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.compiled[key]
}

// CompileKernel accepts any non-empty source.
func (m *Memory) CompileKernel(key KernelKey, source string) (Kernel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failKernels[key.Kind] || source == "" {
		return nil, fmt.Errorf("%w: %s", ErrKernelUnavailable, key)
	}
	m.compiled[key]++
	return memKernel{key: key}, nil
}

// SetPipelineStats sets the counters captured by queries that end from now
// on.
func (m *Memory) SetPipelineStats(s PipelineStats) {
	m.mu.Lock()
	m.stats = s
	m.mu.Unlock()
}

// AddPSInvocations advances the pixel shader invocation counter.
func (m *Memory) AddPSInvocations(n uint64) {
	m.mu.Lock()
	m.stats.PSInvocations += n
	m.mu.Unlock()
}

// DelayQueryResults makes results of ended queries unavailable until a
// waiting Result call.
func (m *Memory) DelayQueryResults(delay bool) {
	m.mu.Lock()
	m.pendingRead = delay
	m.mu.Unlock()
}

// NewPipelineStatsQuery creates a query.
func (m *Memory) NewPipelineStatsQuery() (Query, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	m.nextID++
	q := &memQuery{id: m.nextID}
	m.queries[q.id] = q
	return q, nil
}

// Begin starts counting. The counters are relative to the begin point.
func (m *Memory) Begin(q Query) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mq := m.query(q)
	mq.active, mq.ended, mq.ready = true, false, false
	mq.stats = m.stats
}

// End stops counting.
func (m *Memory) End(q Query) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mq := m.query(q)
	if !mq.active {
		panic(fmt.Sprintf("device: end of inactive query %d", mq.id))
	}
	mq.active, mq.ended = false, true
	mq.ready = !m.pendingRead
	mq.stats = PipelineStats{
		VSInvocations: m.stats.VSInvocations - mq.stats.VSInvocations,
		PSInvocations: m.stats.PSInvocations - mq.stats.PSInvocations,
		CSInvocations: m.stats.CSInvocations - mq.stats.CSInvocations,
	}
}

// Result returns the counters of an ended query.
func (m *Memory) Result(q Query, wait bool) (PipelineStats, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mq := m.query(q)
	if !mq.ended {
		return PipelineStats{}, false
	}
	if !mq.ready && !wait {
		return PipelineStats{}, false
	}
	mq.ready = true
	return mq.stats, true
}

// Destroy deletes a query.
func (m *Memory) Destroy(q Query) {
	if q == nil {
		return
	}
	m.mu.Lock()
	delete(m.queries, q.ID())
	m.mu.Unlock()
}

// LiveQueries returns the number of undestroyed queries.
func (m *Memory) LiveQueries() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queries)
}

// NewSink opens a command stream that executes into m.
func (m *Memory) NewSink(label string) Sink {
	return &memSink{mem: m, label: label}
}

// Close frees every buffer and query.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	clear(m.buffers)
	clear(m.queries)
	return nil
}

func (m *Memory) lookup(buf Buffer) *memBuffer {
	if buf == nil {
		panic("device: nil buffer")
	}
	b, ok := m.buffers[buf.ID()]
	if !ok {
		panic(fmt.Sprintf("device: buffer %d is not live", buf.ID()))
	}
	return b
}

func (m *Memory) query(q Query) *memQuery {
	mq, ok := m.queries[q.ID()]
	if !ok {
		panic(fmt.Sprintf("device: query %d is not live", q.ID()))
	}
	return mq
}

func (m *Memory) record(c Command) {
	m.log = append(m.log, c)
}

// span returns the bytes of [offset, offset+size) in buf.
func (m *Memory) span(buf Buffer, offset, size uint64) []byte {
	b := m.lookup(buf)
	if offset+size > uint64(len(b.data)) {
		panic(fmt.Sprintf("device: range [%d, %d) outside buffer %d of %d bytes",
			offset, offset+size, b.id, len(b.data)))
	}
	return b.data[offset : offset+size]
}

func (m *Memory) execDispatch(d Dispatch) {
	if d.Kernel == nil {
		panic("device: dispatch without kernel")
	}
	switch d.Kernel.Key().Kind {
	case KernelClearDwords:
		dst := d.Bindings[0]
		fillPattern(m.span(dst.Buffer, dst.Offset, dst.Size), d.UserData[:], 16)
	case KernelClear12Bytes:
		dst := d.Bindings[0]
		fillPattern(m.span(dst.Buffer, dst.Offset, dst.Size), d.UserData[:3], 12)
	case KernelCopyDwords:
		dst, src := d.Bindings[0], d.Bindings[1]
		copy(m.span(dst.Buffer, dst.Offset, dst.Size), m.span(src.Buffer, src.Offset, dst.Size))
	case KernelDCCDecompress:
		surf, dcc := d.Bindings[0], d.Bindings[1]
		pixels := m.span(surf.Buffer, surf.Offset, surf.Size)
		keys := m.span(dcc.Buffer, dcc.Offset, dcc.Size)
		for i, k := range keys {
			if k == 0xFF {
				continue
			}
			if lo := i * 256; lo < len(pixels) {
				fillPattern(pixels[lo:min(lo+256, len(pixels))], d.UserData[:], 16)
			}
			keys[i] = 0xFF
		}
	case KernelFMASKExpand:
		fm := d.Bindings[0]
		fillPattern(m.span(fm.Buffer, fm.Offset, fm.Size), d.UserData[:1], 4)
	case KernelCopyImage2D, KernelCopyImage1DArray:
		a := d.Image
		dst, src := d.Bindings[0], d.Bindings[1]
		dpix := m.span(dst.Buffer, dst.Offset, dst.Size)
		spix := m.span(src.Buffer, src.Offset, src.Size)
		array1D := d.Kernel.Key().Kind == KernelCopyImage1DArray
		dr, sr := RowsOf(a.DstBox, array1D), RowsOf(a.SrcBox, array1D)
		for layer := range dr.Layers {
			for row := range dr.Height {
				do := texelOffset(a.DstAddr, a.TexelBytes, dr.Z+layer, dr.Y+row, dr.X)
				so := texelOffset(a.SrcAddr, a.TexelBytes, sr.Z+layer, sr.Y+row, sr.X)
				n := uint64(dr.Width) * uint64(a.TexelBytes)
				copy(dpix[do:do+n], spix[so:so+n])
			}
		}
	case KernelClearRenderTarget2D, KernelClearRenderTarget1DArray:
		a := d.Image
		dst := d.Bindings[0]
		pix := m.span(dst.Buffer, dst.Offset, dst.Size)
		r := RowsOf(a.DstBox, d.Kernel.Key().Kind == KernelClearRenderTarget1DArray)
		for layer := range r.Layers {
			for row := range r.Height {
				o := texelOffset(a.DstAddr, a.TexelBytes, r.Z+layer, r.Y+row, r.X)
				fillPattern(pix[o:o+uint64(r.Width)*uint64(a.TexelBytes)], d.UserData[:], int(a.TexelBytes))
			}
		}
	case KernelDCCRetile:
		src, disp, rmap := d.Bindings[0], d.Bindings[1], d.Bindings[2]
		keys := m.span(src.Buffer, src.Offset, src.Size)
		out := m.span(disp.Buffer, disp.Offset, disp.Size)
		pairs := m.span(rmap.Buffer, rmap.Offset, rmap.Size)
		for i := 0; i+8 <= len(pairs); i += 8 {
			from := binary.LittleEndian.Uint32(pairs[i:])
			to := binary.LittleEndian.Uint32(pairs[i+4:])
			if int(from) < len(keys) && int(to) < len(out) {
				out[to] = keys[from]
			}
		}
	}
}

func texelOffset(a layout.Addressing, texel, layer, row, x uint32) uint64 {
	return a.Offset + uint64(layer)*a.LayerStride + uint64(row)*uint64(a.Pitch) + uint64(x)*uint64(texel)
}

func fillPattern(dst []byte, words []uint32, period int) {
	var pat [16]byte
	for i, w := range words {
		binary.LittleEndian.PutUint32(pat[i*4:], w)
	}
	for i := range dst {
		dst[i] = pat[i%period]
	}
}

type memSink struct {
	mem   *Memory
	label string
}

func (s *memSink) RecordBarrier(flags coherency.Flags) {
	s.mem.mu.Lock()
	defer s.mem.mu.Unlock()
	s.mem.record(Command{Kind: CmdBarrier, Sink: s.label, Barrier: flags})
}

func (s *memSink) RecordDispatch(d Dispatch) {
	s.mem.mu.Lock()
	defer s.mem.mu.Unlock()
	s.mem.execDispatch(d)
	d.Bindings = append([]Binding(nil), d.Bindings...)
	s.mem.record(Command{Kind: CmdDispatch, Sink: s.label, Dispatch: d})
}

func (s *memSink) RecordCopy(c Copy) {
	s.mem.mu.Lock()
	defer s.mem.mu.Unlock()
	src := s.mem.span(c.Src, c.SrcOffset, c.Size)
	copy(s.mem.span(c.Dst, c.DstOffset, c.Size), src)
	s.mem.record(Command{Kind: CmdCopy, Sink: s.label, Copy: c})
}

func (s *memSink) RecordFill(f Fill) {
	if f.Offset%4 != 0 || f.Size%4 != 0 {
		panic(fmt.Sprintf("device: unaligned fill offset=%d size=%d", f.Offset, f.Size))
	}
	s.mem.mu.Lock()
	defer s.mem.mu.Unlock()
	fillPattern(s.mem.span(f.Dst, f.Offset, f.Size), []uint32{f.Value}, 4)
	s.mem.record(Command{Kind: CmdFill, Sink: s.label, Fill: f})
}

func (s *memSink) RecordWrite(w Write) {
	s.mem.mu.Lock()
	defer s.mem.mu.Unlock()
	copy(s.mem.span(w.Dst, w.Offset, uint64(len(w.Data))), w.Data)
	w.Data = append([]byte(nil), w.Data...)
	s.mem.record(Command{Kind: CmdWrite, Sink: s.label, Write: w})
}

func (s *memSink) RecordFixedFunctionClear(c FFClear) {
	s.mem.mu.Lock()
	defer s.mem.mu.Unlock()
	s.mem.record(Command{Kind: CmdFFClear, Sink: s.label, FFClear: c})
}

func (s *memSink) RecordBlit(b Blit) {
	s.mem.mu.Lock()
	defer s.mem.mu.Unlock()
	s.mem.record(Command{Kind: CmdBlit, Sink: s.label, Blit: b})
}

func (s *memSink) Flush(wait bool) error {
	s.mem.mu.Lock()
	defer s.mem.mu.Unlock()
	if s.mem.closed {
		return ErrClosed
	}
	s.mem.record(Command{Kind: CmdFlush, Sink: s.label, Wait: wait})
	return nil
}
