// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package device declares the services the metadata core consumes: buffer
// allocation, command recording, kernel compilation and pipeline statistics
// queries.
//
// Memory implements every service on host memory. It executes fills,
// copies, writes and the dword clear and copy kernels in software so callers
// can inspect the bytes a GPU would have produced.
package device

import (
	"errors"
	"fmt"

	"github.com/gogpu/texmeta/coherency"
	"github.com/gogpu/texmeta/layout"
)

// Device errors.
var (
	// ErrOutOfMemory is returned when an allocation cannot be satisfied.
	ErrOutOfMemory = errors.New("device: out of memory")

	// ErrKernelUnavailable is returned when a kernel cannot be built.
	ErrKernelUnavailable = errors.New("device: kernel unavailable")

	// ErrQueryUnavailable is returned when a query cannot be created.
	ErrQueryUnavailable = errors.New("device: query unavailable")

	// ErrClosed is returned by operations on a closed device.
	ErrClosed = errors.New("device: closed")
)

// Domain is the memory heap of a buffer.
type Domain uint8

const (
	DomainVRAM Domain = iota
	DomainGTT
)

// String returns the domain name.
func (d Domain) String() string {
	switch d {
	case DomainVRAM:
		return "vram"
	case DomainGTT:
		return "gtt"
	default:
		return fmt.Sprintf("domain(%d)", uint8(d))
	}
}

// AllocFlags modify an allocation.
type AllocFlags uint32

const (
	// AllocUnmappable requests memory the CPU never maps.
	AllocUnmappable AllocFlags = 1 << iota
	// AllocEncrypted requests protected memory.
	AllocEncrypted
)

// Desc describes a buffer allocation.
type Desc struct {
	Size      uint64
	Alignment uint64
	Domain    Domain
	Flags     AllocFlags
	Label     string
}

// Buffer is an allocated GPU buffer.
type Buffer interface {
	ID() uint64
	Size() uint64
	Domain() Domain
}

// Allocator creates and frees buffers.
type Allocator interface {
	Allocate(desc Desc) (Buffer, error)
	Free(buf Buffer)
}

// KernelKind enumerates the compute kernels the core dispatches.
type KernelKind uint8

const (
	KernelClearDwords KernelKind = iota
	KernelCopyDwords
	KernelClear12Bytes
	KernelCopyImage2D
	KernelCopyImage1DArray
	KernelDCCDecompress
	KernelDCCRetile
	KernelFMASKExpand
	KernelClearRenderTarget2D
	KernelClearRenderTarget1DArray
	kernelKindCount
)

var kernelKindNames = [kernelKindCount]string{
	"clear-dwords",
	"copy-dwords",
	"clear-12-bytes",
	"copy-image-2d",
	"copy-image-1d-array",
	"dcc-decompress",
	"dcc-retile",
	"fmask-expand",
	"clear-rt-2d",
	"clear-rt-1d-array",
}

// String returns the kernel kind name.
func (k KernelKind) String() string {
	if k < kernelKindCount {
		return kernelKindNames[k]
	}
	return fmt.Sprintf("kernel(%d)", uint8(k))
}

// KernelKey identifies one compiled kernel variant.
type KernelKey struct {
	Kind KernelKind
	// DWPerThread is the dwords each thread clears or copies.
	DWPerThread uint32
	// Samples selects the FMASK expand variant.
	Samples uint32
	// WaveSize is the workgroup width.
	WaveSize uint32
}

// String returns a short description for logs.
func (k KernelKey) String() string {
	s := k.Kind.String()
	if k.DWPerThread != 0 {
		s += fmt.Sprintf("/dw%d", k.DWPerThread)
	}
	if k.Samples != 0 {
		s += fmt.Sprintf("/s%d", k.Samples)
	}
	if k.WaveSize != 0 {
		s += fmt.Sprintf("/w%d", k.WaveSize)
	}
	return s
}

// Kernel is a dispatchable program.
type Kernel interface {
	Key() KernelKey
}

// KernelProvider returns compiled kernels.
type KernelProvider interface {
	Kernel(key KernelKey) (Kernel, error)
}

// Compiler builds a kernel from source.
type Compiler interface {
	CompileKernel(key KernelKey, source string) (Kernel, error)
}

// Binding attaches a buffer range to a kernel slot.
type Binding struct {
	Buffer Buffer
	Offset uint64
	Size   uint64
	Write  bool
}

// Dispatch is a recorded compute dispatch.
type Dispatch struct {
	Kernel   Kernel
	Grid     [3]uint32
	Block    [3]uint32
	Bindings []Binding
	UserData [4]uint32
	Policy   coherency.CachePolicy
	// Image carries the pixel region for image kernels.
	Image *ImageArgs
}

// ImageArgs are the image operands of an image kernel.
type ImageArgs struct {
	Dst, Src           uint64
	DstLevel, SrcLevel uint32
	DstBox             layout.Box
	SrcBox             layout.Box
	// DstAddr and SrcAddr locate the levels inside the bound pixel data.
	DstAddr, SrcAddr layout.Addressing
	TexelBytes       uint32
}

// Rows is the texel range an image kernel walks.
type Rows struct {
	X, Y, Z               uint32
	Width, Height, Layers uint32
}

// RowsOf maps a box to the rows of an image kernel. 1D arrays carry the
// first layer and layer count in Y and Height.
func RowsOf(b layout.Box, array1D bool) Rows {
	if array1D {
		return Rows{X: b.X, Z: b.Y, Width: b.Width, Height: 1, Layers: b.Height}
	}
	return Rows{X: b.X, Y: b.Y, Z: b.Z, Width: b.Width, Height: b.Height, Layers: max(b.Depth, 1)}
}

// Copy is a CP DMA copy.
type Copy struct {
	Dst       Buffer
	DstOffset uint64
	Src       Buffer
	SrcOffset uint64
	Size      uint64
	Policy    coherency.CachePolicy
}

// Fill is a CP DMA fill with a repeating dword.
type Fill struct {
	Dst    Buffer
	Offset uint64
	Size   uint64
	Value  uint32
	Policy coherency.CachePolicy
}

// Write is a byte-granular buffer write.
type Write struct {
	Dst    Buffer
	Offset uint64
	Data   []byte
}

// ClearBuffers selects the attachments of a fixed-function clear.
type ClearBuffers uint8

const (
	ClearColor ClearBuffers = 1 << iota
	ClearDepth
	ClearStencil
)

// FFClear is a fixed-function clear through the render backends.
type FFClear struct {
	Texture    uint64
	Level      uint32
	FirstLayer uint32
	LastLayer  uint32
	Buffers    ClearBuffers
	Color      [4]uint32
	Depth      float32
	Stencil    uint8
}

// BlitOp is a full-pipeline operation on an image.
type BlitOp uint8

const (
	BlitEliminateFastClear BlitOp = iota
	BlitFMASKDecompress
	BlitDCCDecompress
	BlitDepthDecompress
	BlitClear
	BlitCopy
)

var blitOpNames = [...]string{
	"eliminate-fast-clear",
	"fmask-decompress",
	"dcc-decompress",
	"depth-decompress",
	"clear",
	"copy",
}

// String returns the operation name.
func (o BlitOp) String() string {
	if int(o) < len(blitOpNames) {
		return blitOpNames[o]
	}
	return fmt.Sprintf("blit(%d)", uint8(o))
}

// Blit is a recorded full-pipeline operation.
type Blit struct {
	Op         BlitOp
	Dst        uint64
	Src        uint64
	DstLevel   uint32
	SrcLevel   uint32
	FirstLevel uint32
	LastLevel  uint32
	Box        layout.Box
	Color      [4]uint32
}

// Sink records commands into one command stream.
type Sink interface {
	RecordBarrier(flags coherency.Flags)
	RecordDispatch(d Dispatch)
	RecordCopy(c Copy)
	RecordFill(f Fill)
	RecordWrite(w Write)
	RecordFixedFunctionClear(c FFClear)
	RecordBlit(b Blit)
	// Flush submits the recorded commands. With wait set it returns after
	// the GPU has executed them.
	Flush(wait bool) error
}

// Query is a pipeline statistics query.
type Query interface {
	ID() uint64
}

// PipelineStats are the counters of a pipeline statistics query.
type PipelineStats struct {
	VSInvocations uint64
	PSInvocations uint64
	CSInvocations uint64
}

// QueryService creates and reads pipeline statistics queries.
type QueryService interface {
	NewPipelineStatsQuery() (Query, error)
	Begin(q Query)
	End(q Query)
	// Result returns the counters of an ended query. Without wait it
	// reports false when the result is not available yet.
	Result(q Query, wait bool) (PipelineStats, bool)
	Destroy(q Query)
}

// Device is a complete set of services.
type Device interface {
	Allocator
	QueryService
	Compiler
	// NewSink opens a command stream.
	NewSink(label string) Sink
	Close() error
}
