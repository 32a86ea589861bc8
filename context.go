package texmeta

import (
	"fmt"

	"github.com/gogpu/texmeta/coherency"
	"github.com/gogpu/texmeta/dccstats"
	"github.com/gogpu/texmeta/device"
	"github.com/gogpu/texmeta/dispatch"
	"github.com/gogpu/texmeta/fastclear"
	"github.com/gogpu/texmeta/format"
	"github.com/gogpu/texmeta/layout"
	"github.com/gogpu/texmeta/resource"
)

// DepthTarget is a depth/stencil surface bound for a clear.
type DepthTarget struct {
	Texture    *resource.Texture
	Level      uint32
	FirstLayer uint32
	LastLayer  uint32
}

// Handle describes an exported texture.
type Handle struct {
	Texture uint64
	Buffer  uint64
	Offset  uint64
	Stride  uint64
	Usage   resource.Usage
}

// Context is one logical command stream. It is not safe for concurrent
// use; create one Context per goroutine.
type Context struct {
	screen *Screen
	d      *dispatch.Dispatcher
	stats  *dccstats.Tracker

	renderCond  bool
	framebuffer []*resource.Texture

	seenDirty      uint32
	seenCompressed uint32
}

// NewContext opens a command stream named label.
func (s *Screen) NewContext(label string) *Context {
	c := &Context{
		screen:         s,
		d:              dispatch.New(s.caps, s.policy, s.dev.NewSink(label), s.kernels),
		seenDirty:      s.DirtyTextureCounter(),
		seenCompressed: s.CompressedColorTextureCounter(),
	}
	if s.caps.SeparateDCC {
		c.stats = dccstats.NewTracker(s.dev, s.dev, s.policy.DCC)
	}
	return c
}

// Screen returns the screen the context belongs to.
func (c *Context) Screen() *Screen { return c.screen }

// Dispatcher returns the clear and copy dispatcher of the stream.
func (c *Context) Dispatcher() *dispatch.Dispatcher { return c.d }

// Stats returns the separate DCC tracker, or nil when the generation has
// no separate DCC.
func (c *Context) Stats() *dccstats.Tracker { return c.stats }

// NeedsRevalidation reports whether another context changed texture
// storage or compression state since the last call. Bound descriptors
// must be rebuilt when it returns true.
func (c *Context) NeedsRevalidation() bool {
	dirty, comp := c.screen.DirtyTextureCounter(), c.screen.CompressedColorTextureCounter()
	changed := dirty != c.seenDirty || comp != c.seenCompressed
	c.seenDirty, c.seenCompressed = dirty, comp
	return changed
}

// SetRenderCondition records whether conditional rendering is active.
// Fast clears are refused while it is.
func (c *Context) SetRenderCondition(active bool) { c.renderCond = active }

// ClearColor clears every target to color, through metadata where
// possible. The returned decisions line up with targets.
func (c *Context) ClearColor(targets []fastclear.ColorTarget, color format.ClearColor) []fastclear.Decision {
	out := make([]fastclear.Decision, len(targets))
	for i, t := range targets {
		tex := t.Texture
		c.trySeparateDCC(tex)

		dec := fastclear.CheckColor(c.screen.caps, t, color, fastclear.Options{
			TooSmallArea:    c.screen.policy.TooSmallArea,
			RenderCondition: c.renderCond,
		})
		if dec.Fast() {
			if err := c.fastClear(t, &dec, color); err != nil {
				slogger().Debug("texmeta: fast clear abandoned", "texture", tex.ID(), "err", err)
				dec = fastclear.Decision{Method: fastclear.MethodSlow, Reason: fastclear.ReasonNoCMASK}
			}
		}
		if !dec.Fast() {
			if c.stats != nil {
				c.stats.NoteSlowClear(tex)
			}
			c.slowClear(t, color)
		}
		slogger().Debug("texmeta: clear color",
			"texture", tex.ID(), "method", dec.Method, "reason", dec.Reason, "code", dec.Code)
		out[i] = dec
	}
	return out
}

func (c *Context) trySeparateDCC(tex *resource.Texture) {
	if c.stats == nil || tex.Aux(resource.AuxDCC).Present() {
		return
	}
	had := tex.Aux(resource.AuxSeparateDCC).Present()
	if c.stats.TryEnable(tex) && !had {
		c.screen.markCompressed()
	}
}

func (c *Context) fastClear(t fastclear.ColorTarget, dec *fastclear.Decision, color format.ClearColor) error {
	tex := t.Texture
	if dec.AllocCMASK {
		if err := tex.AllocSeparateCMASK(); err != nil {
			return err
		}
		dec.Clears = append(dec.Clears, fastclear.CMASKClear(tex, fastclear.CMASKCleared))
		c.screen.markCompressed()
	}
	for _, mc := range dec.Clears {
		c.d.ClearBuffer(mc.Buffer, mc.Offset, mc.Size, dword(mc.Value), coherency.DomainCBMeta, dispatch.SyncBoth)
	}

	if dec.FMASKDecompressNeeded {
		tex.FMASKDecompressNeeded = true
	}
	if dec.EliminateNeeded && !tex.IsDirty(t.Level, t.Level) {
		tex.MarkDirty(t.Level)
		c.screen.markCompressed()
	}
	// Decompression expands cleared blocks from the stored words,
	// constant-encoded clears included.
	if fastclear.SetClearColor(tex, t.Format, color) {
		slogger().Debug("texmeta: clear color stored",
			"texture", tex.ID(), "registers", fastclear.NeedsClearColor(c.screen.caps, *dec))
	}
	c.markMetadataWritten(tex)
	return nil
}

func (c *Context) slowClear(t fastclear.ColorTarget, color format.ClearColor) {
	c.d.EmitPending()
	c.d.Sink().RecordFixedFunctionClear(device.FFClear{
		Texture:    t.Texture.ID(),
		Level:      t.Level,
		FirstLayer: t.FirstLayer,
		LastLayer:  t.LastLayer,
		Buffers:    device.ClearColor,
		Color:      color.Bits,
	})
	c.markMetadataWritten(t.Texture)
}

// markMetadataWritten records that DCC changed after a render backend
// write.
func (c *Context) markMetadataWritten(tex *resource.Texture) {
	if tex.Aux(resource.AuxSeparateDCC).Present() {
		tex.SeparateDCCDirty = true
	}
	if tex.Aux(resource.AuxDisplayDCC).Present() {
		tex.DisplayableDCCDirty = true
	}
}

// ClearRenderTarget clears box of level to color without fast clear
// metadata.
func (c *Context) ClearRenderTarget(tex *resource.Texture, level uint32, box layout.Box, color format.ClearColor) dispatch.Path {
	return c.d.ClearRenderTarget(tex, level, box, color)
}

// ClearDepthStencil clears the selected planes of target. Planes that can
// be cleared through HTILE are, the rest go through the render backends.
// It returns the planes that were fast cleared.
func (c *Context) ClearDepthStencil(target DepthTarget, buffers device.ClearBuffers, depth float32, stencil uint8) device.ClearBuffers {
	tex := target.Texture
	l := tex.Layout()
	clearDepth := buffers&device.ClearDepth != 0 && l.Format.HasDepth()
	clearStencil := buffers&device.ClearStencil != 0 && l.Format.HasStencil()

	var fast device.ClearBuffers
	whole := target.Level == 0 && target.FirstLayer == 0 && target.LastLayer == l.MaxLayer(0)
	if tex.HasHTILE() && whole && !c.renderCond {
		if ms := fastclear.CheckHTILEMode(c.screen.caps, tex, clearDepth, clearStencil, depth, stencil); ms.Needed {
			c.d.ClearBuffer(ms.Fill.Buffer, ms.Fill.Offset, ms.Fill.Size, dword(ms.Fill.Value), coherency.DomainDBMeta, dispatch.SyncBoth)
			tex.TCCompatibleHTILE = ms.TCCompatible
			c.screen.markDirty()
			slogger().Debug("texmeta: HTILE mode switch", "texture", tex.ID(), "tcCompatible", ms.TCCompatible)
		}

		stencilInHTILE := l.Format.HasStencil() && !l.HTILEStencilDisabled
		fastZ := clearDepth && fastclear.CanFastClearDepth(tex, 0, depth)
		fastS := clearStencil && fastclear.CanFastClearStencil(tex, 0, stencil)
		// A stencil plane sharing HTILE is rewritten with the depth.
		if fastZ && (!stencilInHTILE || fastS) {
			h := tex.Aux(resource.AuxHTILE)
			c.d.ClearBuffer(h.Buffer, h.Offset, h.Size, dword(fastclear.HTILEClearWord(tex, depth)), coherency.DomainDBMeta, dispatch.SyncBoth)
			tex.DepthClearValue, tex.DepthCleared = depth, true
			fast |= device.ClearDepth
			if fastS {
				tex.StencilClearValue, tex.StencilCleared = stencil, true
				fast |= device.ClearStencil
			}
			if !tex.TCCompatibleHTILE {
				tex.MarkDirty(0)
			}
		}
	}

	var rest device.ClearBuffers
	if clearDepth && fast&device.ClearDepth == 0 {
		rest |= device.ClearDepth
	}
	if clearStencil && fast&device.ClearStencil == 0 {
		rest |= device.ClearStencil
	}
	if rest != 0 {
		c.d.EmitPending()
		c.d.Sink().RecordFixedFunctionClear(device.FFClear{
			Texture:    tex.ID(),
			Level:      target.Level,
			FirstLayer: target.FirstLayer,
			LastLayer:  target.LastLayer,
			Buffers:    rest,
			Depth:      depth,
			Stencil:    stencil,
		})
	}
	slogger().Debug("texmeta: clear depth/stencil", "texture", tex.ID(), "fast", fast, "slow", rest)
	return fast
}

// DecompressColor resolves fast clears and FMASK compression of levels
// [first, last] so the texture unit can read them.
func (c *Context) DecompressColor(tex *resource.Texture, first, last uint32) {
	if tex.Layout().IsDepth() {
		return
	}
	if tex.IsDirty(first, last) {
		switch {
		case tex.HasDCC():
			c.d.DecompressDCC(tex, first, last)
		case tex.HasCMASK():
			c.d.EmitPending()
			c.d.Sink().RecordBlit(device.Blit{
				Op: device.BlitEliminateFastClear, Dst: tex.ID(), FirstLevel: first, LastLevel: last,
			})
		}
		tex.ClearDirty(first, last)
	}
	if tex.FMASKDecompressNeeded && tex.HasFMASK() {
		c.d.ExpandFMASK(tex)
		tex.FMASKDecompressNeeded = false
	}
}

// FlushResource makes tex presentable: fast clears are resolved,
// displayable DCC is retiled and separate DCC statistics are processed.
func (c *Context) FlushResource(tex *resource.Texture) error {
	if tex.Layout().IsDepth() {
		return nil
	}
	if tex.Aux(resource.AuxSeparateDCC).Present() && !tex.SeparateDCCDirty {
		return nil
	}

	var err error
	if tex.HasCMASK() || tex.HasDCC() {
		c.DecompressColor(tex, 0, tex.Layout().LastLevel)
		if tex.Aux(resource.AuxDisplayDCC).Present() && tex.DisplayableDCCDirty {
			if rerr := c.d.RetileDCC(tex); rerr != nil {
				err = rerr
			} else {
				tex.DisplayableDCCDirty = false
			}
		}
	}

	if c.stats != nil && tex.DCCGatherStatistics && tex.SeparateDCCDirty {
		tex.SeparateDCCDirty = false
		if c.stats.ProcessAndResetStats(tex) {
			c.screen.markDirty()
		}
	}
	return err
}

// DisableDCC decompresses and removes the DCC of tex. It reports false
// when an external consumer may still write through DCC.
func (c *Context) DisableDCC(tex *resource.Texture) bool {
	if !tex.CanDisableDCC() {
		return false
	}
	l := tex.Layout()
	last := l.LastLevel
	if n := l.NumDCCLevels; n > 0 && n-1 < last {
		last = n - 1
	}
	c.d.DecompressDCC(tex, 0, last)
	tex.ClearDirty(0, last)
	if err := c.Flush(false); err != nil {
		slogger().Warn("texmeta: flush before DCC discard failed", "texture", tex.ID(), "err", err)
	}
	if !tex.DiscardDCC() {
		return false
	}
	c.screen.markDirty()
	slogger().Debug("texmeta: DCC disabled", "texture", tex.ID())
	return true
}

// ExportHandle shares tex with another process that uses it as usage.
// Metadata the consumer cannot interpret is resolved and discarded.
func (c *Context) ExportHandle(tex *resource.Texture, usage resource.Usage) (Handle, error) {
	if tex.Destroyed() {
		return Handle{}, resource.ErrDestroyed
	}
	l := tex.Layout()

	if !tex.Shared {
		explicit := usage&resource.UsageExplicitFlush != 0
		if tex.Aux(resource.AuxDCC).Present() && (!explicit || usage&resource.UsageShaderWrite != 0) {
			c.DisableDCC(tex)
		}
		if tex.CanDiscardCMASK() {
			c.DecompressColor(tex, 0, l.LastLevel)
			tex.DiscardCMASK()
			c.screen.markDirty()
		}
		if !explicit {
			if err := c.FlushResource(tex); err != nil {
				return Handle{}, fmt.Errorf("texmeta: export: %w", err)
			}
		}
		tex.Shared = true
		tex.Bind |= resource.BindShared
		tex.ExternalUsage = usage
	} else {
		if tex.ExternalUsage&resource.UsageExplicitFlush != 0 && usage&resource.UsageExplicitFlush == 0 {
			// The new consumer never flushes, so resolve everything now.
			if err := c.FlushResource(tex); err != nil {
				return Handle{}, fmt.Errorf("texmeta: export: %w", err)
			}
			tex.ExternalUsage &^= resource.UsageExplicitFlush
		}
		tex.ExternalUsage |= usage &^ resource.UsageExplicitFlush
	}

	if err := c.Flush(false); err != nil {
		return Handle{}, fmt.Errorf("texmeta: export: %w", err)
	}
	off, stride, _ := tex.Offset(0, nil)
	return Handle{
		Texture: tex.ID(),
		Buffer:  tex.Buffer().ID(),
		Offset:  off,
		Stride:  stride,
		Usage:   tex.ExternalUsage,
	}, nil
}

// NoteTransfer records a CPU transfer of box of level. On parts without
// dedicated VRAM a tiled texture that keeps being uploaded is moved to a
// linear layout. It reports whether the texture was reallocated.
func (c *Context) NoteTransfer(tex *resource.Texture, level uint32, box layout.Box, write bool) (bool, error) {
	s := c.screen
	if s.caps.HasDedicatedVRAM || level != 0 || box.Width < 4 || box.Height < 4 {
		return false, nil
	}
	tex.NumLevel0Transfers++
	if tex.NumLevel0Transfers != s.policy.RelayoutTransfers || tex.IsLinear() {
		return false, nil
	}
	full := tex.Layout().FullBox(0)
	whole := box.X == 0 && box.Y == 0 && box.Width == full.Width && box.Height == full.Height &&
		tex.Layout().LastLevel == 0 && full.Depth <= 1
	return s.ReallocateInPlace(c, tex, resource.BindLinear, write && whole)
}

// BindFramebuffer binds the colour targets of subsequent draws.
// Statistics queries follow the bound textures. The textures must stay
// alive while bound.
func (c *Context) BindFramebuffer(targets []*resource.Texture) {
	for _, tex := range c.framebuffer {
		if c.stats != nil && tex.DCCGatherStatistics {
			c.stats.StopQuery(tex)
		}
	}
	c.framebuffer = append(c.framebuffer[:0], targets...)
	for _, tex := range c.framebuffer {
		if c.stats != nil && tex.DCCGatherStatistics {
			c.stats.StartQuery(tex)
		}
		c.markMetadataWritten(tex)
	}
}

// ClearBuffer fills [offset, offset+size) of dst with value repeated.
func (c *Context) ClearBuffer(dst device.Buffer, offset, size uint64, value []byte, coher coherency.Domain) []dispatch.Path {
	return c.d.ClearBuffer(dst, offset, size, value, coher, dispatch.SyncBoth)
}

// CopyBuffer copies size bytes from src to dst.
func (c *Context) CopyBuffer(dst device.Buffer, dstOffset uint64, src device.Buffer, srcOffset, size uint64) dispatch.Path {
	return c.d.CopyBuffer(dst, dstOffset, src, srcOffset, size, coherency.DomainShader, dispatch.SyncBoth)
}

// Flush submits the recorded commands. With wait set it returns after the
// GPU executed them.
func (c *Context) Flush(wait bool) error {
	c.d.EmitPending()
	return c.d.Sink().Flush(wait)
}

// Close stops every statistics query and flushes the stream.
func (c *Context) Close() error {
	c.BindFramebuffer(nil)
	if c.stats != nil {
		c.stats.Close()
	}
	if err := c.Flush(true); err != nil {
		return fmt.Errorf("texmeta: close: %w", err)
	}
	return nil
}
