package texmeta

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gogpu/texmeta/caps"
	"github.com/gogpu/texmeta/coherency"
	"github.com/gogpu/texmeta/device"
	"github.com/gogpu/texmeta/dispatch"
	"github.com/gogpu/texmeta/fastclear"
	"github.com/gogpu/texmeta/format"
	"github.com/gogpu/texmeta/layout"
	"github.com/gogpu/texmeta/resource"
)

func newContext(t *testing.T, s *Screen) *Context {
	t.Helper()
	c := s.NewContext("main")
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func whole(tex *resource.Texture) fastclear.ColorTarget {
	return fastclear.ColorTarget{Texture: tex, LastLayer: tex.Layout().MaxLayer(0)}
}

func fillsOf(mem *device.Memory, value uint32) int {
	n := 0
	for _, cmd := range mem.CommandsOf(device.CmdFill) {
		if cmd.Fill.Value == value {
			n++
		}
	}
	for _, cmd := range mem.CommandsOf(device.CmdDispatch) {
		if cmd.Dispatch.Kernel.Key().Kind == device.KernelClearDwords && cmd.Dispatch.UserData[0] == value {
			n++
		}
	}
	return n
}

func TestClearColorDCCCodes(t *testing.T) {
	s, mem := newScreen(t, caps.For(caps.GFX9))
	ctx := newContext(t, s)
	tex := createTexture(t, s, TextureDesc{Params: params2D(format.RGBA8Unorm, 1024, 1024)})
	comp := s.CompressedColorTextureCounter()

	dec := ctx.ClearColor([]fastclear.ColorTarget{whole(tex)}, format.Float(1, 1, 1, 1))
	require.Len(t, dec, 1)
	require.Equal(t, fastclear.MethodDCC, dec[0].Method)
	assert.Equal(t, fastclear.ClearAllOne, dec[0].Code)
	assert.Equal(t, []uint32{0xC0C0C0C0}, auxDwords(mem, tex, resource.AuxDCC, 0, 1))
	assert.Zero(t, tex.DirtyLevels)
	assert.Equal(t, [2]uint32{0xFFFFFFFF, 0}, tex.ColorClearValue)
	assert.Equal(t, comp, s.CompressedColorTextureCounter())
	assert.Empty(t, mem.CommandsOf(device.CmdFFClear))
}

func TestClearColorEliminateAndDecompress(t *testing.T) {
	s, mem := newScreen(t, caps.For(caps.GFX9))
	ctx := newContext(t, s)
	tex := createTexture(t, s, TextureDesc{Params: params2D(format.RGBA8Unorm, 1024, 1024)})
	comp := s.CompressedColorTextureCounter()

	dec := ctx.ClearColor([]fastclear.ColorTarget{whole(tex)}, format.Float(0.2, 0.3, 0.4, 0.5))
	require.Equal(t, fastclear.MethodDCC, dec[0].Method)
	assert.Equal(t, fastclear.ClearReg, dec[0].Code)
	assert.True(t, tex.IsDirty(0, 0))
	assert.Equal(t, comp+1, s.CompressedColorTextureCounter())
	assert.Equal(t, []uint32{0x20202020}, auxDwords(mem, tex, resource.AuxDCC, 0, 1))

	// A second clear of a dirty level does not count again.
	ctx.ClearColor([]fastclear.ColorTarget{whole(tex)}, format.Float(0.2, 0.3, 0.4, 0.5))
	assert.Equal(t, comp+1, s.CompressedColorTextureCounter())

	ctx.DecompressColor(tex, 0, 0)
	assert.False(t, tex.IsDirty(0, 0))
	assert.Equal(t, []uint32{0xFFFFFFFF}, auxDwords(mem, tex, resource.AuxDCC, 0, 1))
	off, _, _ := tex.Offset(0, nil)
	assert.Equal(t, tex.ColorClearValue[0], binary.LittleEndian.Uint32(mem.Read(tex.Buffer(), off, 4)))
}

func TestClearColorSlowPaths(t *testing.T) {
	s, mem := newScreen(t, caps.For(caps.GFX9))
	ctx := newContext(t, s)
	small := createTexture(t, s, TextureDesc{Params: params2D(format.RGBA8Unorm, 256, 256)})
	large := createTexture(t, s, TextureDesc{Params: params2D(format.RGBA8Unorm, 1024, 1024)})

	dec := ctx.ClearColor([]fastclear.ColorTarget{whole(small), whole(large)}, format.Float(0.2, 0.3, 0.4, 0.5))
	assert.Equal(t, fastclear.ReasonTooSmall, dec[0].Reason)
	assert.Equal(t, fastclear.MethodDCC, dec[1].Method)

	ctx.SetRenderCondition(true)
	dec = ctx.ClearColor([]fastclear.ColorTarget{whole(large)}, format.Float(0, 0, 0, 0))
	assert.Equal(t, fastclear.ReasonRenderCondition, dec[0].Reason)
	ctx.SetRenderCondition(false)

	ff := mem.CommandsOf(device.CmdFFClear)
	require.Len(t, ff, 2)
	assert.Equal(t, small.ID(), ff[0].FFClear.Texture)
	assert.Equal(t, device.ClearColor, ff[0].FFClear.Buffers)
	assert.Equal(t, format.Float(0.2, 0.3, 0.4, 0.5).Bits, ff[0].FFClear.Color)
	assert.Equal(t, large.ID(), ff[1].FFClear.Texture)
}

func TestClearColorAllocatesCMASK(t *testing.T) {
	s, mem := newScreen(t, caps.For(caps.GFX9))
	ctx := newContext(t, s)
	p := params2D(format.RGBA8Unorm, 1024, 1024)
	p.Flags = layout.FlagNoDCC
	tex := createTexture(t, s, TextureDesc{Params: p})
	require.False(t, tex.HasCMASK())
	comp := s.CompressedColorTextureCounter()

	dec := ctx.ClearColor([]fastclear.ColorTarget{whole(tex)}, format.Float(0.2, 0.3, 0.4, 0.5))
	require.Equal(t, fastclear.MethodCMASK, dec[0].Method)
	require.True(t, tex.HasCMASK())
	assert.Equal(t, resource.TagOwns, tex.Aux(resource.AuxCMASK).Tag)
	assert.Equal(t, []uint32{fastclear.CMASKCleared}, auxDwords(mem, tex, resource.AuxCMASK, 0, 1))
	assert.True(t, tex.IsDirty(0, 0))
	assert.Equal(t, comp+2, s.CompressedColorTextureCounter())

	ctx.DecompressColor(tex, 0, 0)
	blits := mem.CommandsOf(device.CmdBlit)
	require.Len(t, blits, 1)
	assert.Equal(t, device.BlitEliminateFastClear, blits[0].Blit.Op)
	assert.False(t, tex.IsDirty(0, 0))
}

func TestClearColorSeparateDCC(t *testing.T) {
	c := caps.For(caps.GFX9)
	c.SeparateDCC = true
	s, _ := newScreen(t, c)
	ctx := newContext(t, s)
	tex := createTexture(t, s, TextureDesc{
		Params:        params2D(format.RGBA8Unorm, 1024, 1024),
		Bind:          resource.BindShared,
		ExternalUsage: resource.UsageExplicitFlush,
	})
	require.False(t, tex.HasDCC())
	require.NotZero(t, tex.Layout().DCC.Size)

	// Slow clears raise the usage score up to the threshold.
	ctx.SetRenderCondition(true)
	for range s.Policy().DCC.SeparateThreshold {
		ctx.ClearColor([]fastclear.ColorTarget{whole(tex)}, format.Float(0, 0, 0, 0))
	}
	ctx.SetRenderCondition(false)
	require.True(t, tex.DCCGatherStatistics)
	require.False(t, tex.HasDCC())
	assert.Equal(t, s.Policy().DCC.SeparateThreshold, tex.SlowClears)

	comp := s.CompressedColorTextureCounter()
	dec := ctx.ClearColor([]fastclear.ColorTarget{whole(tex)}, format.Float(0, 0, 0, 0))
	require.True(t, tex.Aux(resource.AuxSeparateDCC).Present())
	assert.Equal(t, fastclear.MethodDCC, dec[0].Method)
	assert.Equal(t, comp+1, s.CompressedColorTextureCounter())
	assert.True(t, tex.SeparateDCCDirty)
	assert.True(t, ctx.Stats().Tracks(tex))

	require.NoError(t, ctx.FlushResource(tex))
	assert.False(t, tex.SeparateDCCDirty)
	assert.Zero(t, tex.SlowClears)
}

func TestNewContextStats(t *testing.T) {
	legacy, _ := newScreen(t, caps.For(caps.GFX8))
	ctx := newContext(t, legacy)
	require.NotNil(t, ctx.Stats())

	tex := createTexture(t, legacy, TextureDesc{
		Params:        params2D(format.RGBA8Unorm, 1024, 1024),
		Bind:          resource.BindShared,
		ExternalUsage: resource.UsageExplicitFlush,
	})
	assert.False(t, tex.HasDCC())
	ctx.ClearColor([]fastclear.ColorTarget{whole(tex)}, format.Float(0, 0, 0, 0))
	assert.True(t, tex.DCCGatherStatistics)
	assert.True(t, ctx.Stats().Tracks(tex))

	modern, _ := newScreen(t, caps.For(caps.GFX9))
	assert.Nil(t, newContext(t, modern).Stats())
}

func TestClearDepthStencilModeSwitch(t *testing.T) {
	s, mem := newScreen(t, caps.For(caps.GFX9))
	ctx := newContext(t, s)
	p := params2D(format.Z24UnormS8Uint, 256, 256)
	p.Flags = layout.FlagTCCompatibleHTILE
	tex := createTexture(t, s, TextureDesc{Params: p, Bind: resource.BindDepthStencil})
	require.True(t, tex.TCCompatibleHTILE)
	target := DepthTarget{Texture: tex}
	both := device.ClearDepth | device.ClearStencil
	dirty := s.DirtyTextureCounter()

	fast := ctx.ClearDepthStencil(target, both, 0.5, 0)
	assert.Equal(t, both, fast)
	assert.False(t, tex.TCCompatibleHTILE)
	assert.Equal(t, dirty+1, s.DirtyTextureCounter())
	assert.Equal(t, 1, fillsOf(mem, fastclear.HTILEZSPattern))
	assert.Equal(t, []uint32{fastclear.HTILEClearWord(tex, 0.5)}, auxDwords(mem, tex, resource.AuxHTILE, 0, 1))
	assert.True(t, tex.DepthCleared)
	assert.True(t, tex.IsDirty(0, 0))

	// Clearing both planes to 0/1 returns to TC-compatible mode.
	fast = ctx.ClearDepthStencil(target, both, 1, 0)
	assert.Equal(t, both, fast)
	assert.True(t, tex.TCCompatibleHTILE)
	assert.Equal(t, dirty+2, s.DirtyTextureCounter())
	assert.Equal(t, 2, fillsOf(mem, fastclear.HTILEZSPattern))
	assert.Empty(t, mem.CommandsOf(device.CmdFFClear))
}

func TestClearDepthStencilFallback(t *testing.T) {
	s, mem := newScreen(t, caps.For(caps.GFX9))
	ctx := newContext(t, s)
	tex := createTexture(t, s, TextureDesc{Params: params2D(format.Z24UnormS8Uint, 256, 256)})

	// Stencil shares HTILE, so a depth-only clear cannot rewrite it.
	fast := ctx.ClearDepthStencil(DepthTarget{Texture: tex}, device.ClearDepth, 0.5, 0)
	assert.Zero(t, fast)
	ff := mem.CommandsOf(device.CmdFFClear)
	require.Len(t, ff, 1)
	assert.Equal(t, device.ClearDepth, ff[0].FFClear.Buffers)

	depthOnly := createTexture(t, s, TextureDesc{Params: params2D(format.Z32Float, 256, 256)})
	fast = ctx.ClearDepthStencil(DepthTarget{Texture: depthOnly}, device.ClearDepth|device.ClearStencil, 0.25, 0)
	assert.Equal(t, device.ClearDepth, fast)
	assert.Equal(t, []uint32{fastclear.HTILEClearWord(depthOnly, 0.25)}, auxDwords(mem, depthOnly, resource.AuxHTILE, 0, 1))
	assert.Len(t, mem.CommandsOf(device.CmdFFClear), 1)
}

func TestFlushResourceRetilesDisplayDCC(t *testing.T) {
	s, mem := newScreen(t, caps.For(caps.GFX9))
	ctx := newContext(t, s)
	tex := createTexture(t, s, TextureDesc{Params: params2D(format.RGBA8Unorm, 256, 256), Bind: resource.BindScanout})

	ctx.ClearColor([]fastclear.ColorTarget{whole(tex)}, format.Float(1, 1, 1, 1))
	require.True(t, tex.DisplayableDCCDirty)

	require.NoError(t, ctx.FlushResource(tex))
	assert.False(t, tex.DisplayableDCCDirty)
	assert.Equal(t, []uint32{0xC0C0C0C0}, auxDwords(mem, tex, resource.AuxDisplayDCC, 0, 1))

	// Nothing left to do.
	n := len(mem.CommandsOf(device.CmdDispatch))
	require.NoError(t, ctx.FlushResource(tex))
	assert.Len(t, mem.CommandsOf(device.CmdDispatch), n)
}

func TestDisableDCC(t *testing.T) {
	s, mem := newScreen(t, caps.For(caps.GFX9))
	ctx := newContext(t, s)
	tex := createTexture(t, s, TextureDesc{Params: params2D(format.RGBA8Unorm, 1024, 1024)})
	ctx.ClearColor([]fastclear.ColorTarget{whole(tex)}, format.Float(0.2, 0.3, 0.4, 0.5))
	dirty := s.DirtyTextureCounter()

	require.True(t, ctx.DisableDCC(tex))
	assert.False(t, tex.HasDCC())
	assert.Zero(t, tex.Layout().DCC.Size)
	assert.False(t, tex.IsDirty(0, 0))
	assert.Equal(t, dirty+1, s.DirtyTextureCounter())
	assert.NotEmpty(t, mem.CommandsOf(device.CmdFlush))

	assert.False(t, ctx.DisableDCC(tex))
}

func TestDisableDCCConstantEncodedClear(t *testing.T) {
	s, mem := newScreen(t, caps.For(caps.GFX10))
	ctx := newContext(t, s)
	tex := createTexture(t, s, TextureDesc{Params: params2D(format.RGBA8Unorm, 1024, 1024)})

	dec := ctx.ClearColor([]fastclear.ColorTarget{whole(tex)}, format.Float(1, 1, 1, 1))
	require.Equal(t, fastclear.MethodDCC, dec[0].Method)
	require.Equal(t, fastclear.ClearAllOne, dec[0].Code)
	require.False(t, dec[0].EliminateNeeded)
	assert.Equal(t, [2]uint32{0xFFFFFFFF, 0}, tex.ColorClearValue)

	require.True(t, ctx.DisableDCC(tex))
	off, _, _ := tex.Offset(0, nil)
	size := tex.Layout().Modern.SliceSize
	assert.Equal(t, uint32(0xFFFFFFFF), binary.LittleEndian.Uint32(mem.Read(tex.Buffer(), off, 4)))
	assert.Equal(t, uint32(0xFFFFFFFF), binary.LittleEndian.Uint32(mem.Read(tex.Buffer(), off+size/2, 4)))
}

func TestExportHandle(t *testing.T) {
	s, _ := newScreen(t, caps.For(caps.GFX9))
	ctx := newContext(t, s)

	tex := createTexture(t, s, TextureDesc{Params: params2D(format.RGBA8Unorm, 1024, 1024)})
	h, err := ctx.ExportHandle(tex, resource.UsageFramebufferWrite)
	require.NoError(t, err)
	assert.Equal(t, tex.ID(), h.Texture)
	assert.Equal(t, tex.Buffer().ID(), h.Buffer)
	assert.Equal(t, uint64(1024*4), h.Stride)
	assert.True(t, tex.Shared)
	assert.False(t, tex.HasDCC())
	assert.False(t, tex.CanDisableDCC())

	// A consumer that flushes explicitly keeps DCC.
	kept := createTexture(t, s, TextureDesc{Params: params2D(format.RGBA8Unorm, 1024, 1024)})
	h, err = ctx.ExportHandle(kept, resource.UsageExplicitFlush)
	require.NoError(t, err)
	assert.True(t, kept.HasDCC())
	assert.Equal(t, resource.UsageExplicitFlush, h.Usage)

	// Re-exporting to a consumer that never flushes drops the flag.
	h, err = ctx.ExportHandle(kept, resource.UsageShaderWrite)
	require.NoError(t, err)
	assert.Equal(t, resource.UsageShaderWrite, h.Usage)
}

func TestNoteTransferRelayout(t *testing.T) {
	s, mem := newScreen(t, caps.For(caps.GFX9).APU())
	ctx := newContext(t, s)
	tex := createTexture(t, s, TextureDesc{Params: params2D(format.RGBA8Unorm, 256, 256)})
	box := tex.Layout().FullBox(0)

	off, _, _ := tex.Offset(0, nil)
	ctx.Dispatcher().ByteWrite(tex.Buffer(), off, []byte{9, 8, 7, 6})

	limit := s.Policy().RelayoutTransfers
	for i := uint32(1); i < limit; i++ {
		moved, err := ctx.NoteTransfer(tex, 0, box, false)
		require.NoError(t, err)
		require.False(t, moved, "transfer %d", i)
	}
	// Small and non-zero level transfers do not count.
	moved, err := ctx.NoteTransfer(tex, 1, box, false)
	require.NoError(t, err)
	assert.False(t, moved)
	moved, err = ctx.NoteTransfer(tex, 0, layout.Box{Width: 2, Height: 2}, false)
	require.NoError(t, err)
	assert.False(t, moved)

	moved, err = ctx.NoteTransfer(tex, 0, box, false)
	require.NoError(t, err)
	require.True(t, moved)
	assert.True(t, tex.IsLinear())
	assert.Equal(t, limit, tex.NumLevel0Transfers)

	off, _, _ = tex.Offset(0, nil)
	assert.Equal(t, []byte{9, 8, 7, 6}, mem.Read(tex.Buffer(), off, 4))
}

func TestNoteTransferDedicatedVRAM(t *testing.T) {
	s, _ := newScreen(t, caps.For(caps.GFX9))
	ctx := newContext(t, s)
	tex := createTexture(t, s, TextureDesc{Params: params2D(format.RGBA8Unorm, 256, 256)})

	for range 2 * s.Policy().RelayoutTransfers {
		moved, err := ctx.NoteTransfer(tex, 0, tex.Layout().FullBox(0), true)
		require.NoError(t, err)
		require.False(t, moved)
	}
	assert.False(t, tex.IsLinear())
}

func TestBindFramebufferRevalidation(t *testing.T) {
	s, _ := newScreen(t, caps.For(caps.GFX9))
	ctx := newContext(t, s)
	other := newContext(t, s)
	tex := createTexture(t, s, TextureDesc{Params: params2D(format.RGBA8Unorm, 256, 256), Bind: resource.BindScanout})

	assert.False(t, ctx.NeedsRevalidation())
	ctx.BindFramebuffer([]*resource.Texture{tex})
	assert.True(t, tex.DisplayableDCCDirty)

	require.True(t, other.DisableDCC(tex))
	assert.True(t, ctx.NeedsRevalidation())
	assert.False(t, ctx.NeedsRevalidation())
	ctx.BindFramebuffer(nil)
}

func TestBufferPassThrough(t *testing.T) {
	s, mem := newScreen(t, caps.For(caps.GFX9))
	ctx := newContext(t, s)
	dst, err := mem.Allocate(device.Desc{Size: 64, Domain: device.DomainVRAM})
	require.NoError(t, err)
	src, err := mem.Allocate(device.Desc{Size: 64, Domain: device.DomainVRAM})
	require.NoError(t, err)

	paths := ctx.ClearBuffer(src, 0, 64, []byte{0xAB}, coherency.DomainShader)
	assert.Equal(t, []dispatch.Path{dispatch.PathCPDMA}, paths)
	assert.Equal(t, dispatch.PathCPDMA, ctx.CopyBuffer(dst, 0, src, 0, 64))
	assert.Equal(t, []byte{0xAB, 0xAB, 0xAB, 0xAB}, mem.Read(dst, 60, 4))

	require.NoError(t, ctx.Flush(true))
	flushes := mem.CommandsOf(device.CmdFlush)
	assert.True(t, flushes[len(flushes)-1].Wait)
}
