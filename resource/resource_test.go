// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package resource

import (
	"fmt"
	"testing"

	"github.com/gogpu/gputypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gogpu/texmeta/caps"
	"github.com/gogpu/texmeta/device"
	"github.com/gogpu/texmeta/format"
	"github.com/gogpu/texmeta/layout"
)

func computeLayout(t *testing.T, gen caps.Gen, p layout.Params) layout.Layout {
	t.Helper()
	if p.Target == 0 {
		p.Target = layout.Target2D
	}
	l, err := layout.NewCalculator(caps.For(gen)).Compute(p)
	require.NoError(t, err)
	return l
}

func colorParams(w, h uint32) layout.Params {
	return layout.Params{
		Format: format.RGBA8Unorm,
		Size:   gputypes.Extent3D{Width: w, Height: h, DepthOrArrayLayers: 1},
		Target: layout.Target2D,
	}
}

func TestNewBindsInlineMetadata(t *testing.T) {
	mem := device.NewMemory()
	p := colorParams(256, 256)
	p.Samples = 4
	l := computeLayout(t, caps.GFX9, p)

	tex, err := New(mem, l, 0)
	require.NoError(t, err)
	defer tex.Release()

	assert.Equal(t, 1, mem.Live())
	assert.Equal(t, l.TotalSize, tex.Buffer().Size())
	for _, a := range []Aux{AuxCMASK, AuxFMASK, AuxDCC} {
		b := tex.Aux(a)
		assert.Equal(t, TagAliases, b.Tag, a.String())
		assert.Equal(t, tex.Buffer(), b.Buffer, a.String())
	}
	assert.Equal(t, l.CMASK.Offset, tex.Aux(AuxCMASK).Offset)
	assert.False(t, tex.Aux(AuxHTILE).Present())
	assert.True(t, tex.IsFirstPlane())
}

func TestNewFailures(t *testing.T) {
	mem := device.NewMemory()
	l := computeLayout(t, caps.GFX9, colorParams(64, 64))

	mem.FailAllocationsAfter(0)
	_, err := New(mem, l, 0)
	assert.ErrorIs(t, err, ErrAllocation)
	assert.ErrorIs(t, err, device.ErrOutOfMemory)
	assert.Zero(t, mem.Live())

	mem.FailAllocationsAfter(-1)
	bad := l
	bad.TotalSize = 1
	_, err = New(mem, bad, 0)
	assert.ErrorIs(t, err, ErrInvalidLayout)
	assert.Zero(t, mem.Live())
}

func TestPlanesShareBacking(t *testing.T) {
	mem := device.NewMemory()
	luma := computeLayout(t, caps.GFX10, layout.Params{Format: format.R8Unorm, Size: gputypes.Extent3D{Width: 64, Height: 64}})
	chroma := computeLayout(t, caps.GFX10, layout.Params{Format: format.RG8Unorm, Size: gputypes.Extent3D{Width: 32, Height: 32}})

	planes, err := NewPlanes(mem, []layout.Layout{luma, chroma}, 0)
	require.NoError(t, err)
	require.Len(t, planes, 2)

	assert.True(t, planes[0].IsFirstPlane())
	assert.False(t, planes[1].IsFirstPlane())
	assert.Same(t, planes[0].Backing(), planes[1].Backing())
	assert.Equal(t, int32(2), planes[0].Backing().Refs())
	assert.Equal(t, luma.TotalSize, planes[1].PlaneOffset())
	assert.Equal(t, 2, planes[1].Planes())

	planes[0].Release()
	assert.Equal(t, 1, mem.Live())
	planes[1].Release()
	assert.Zero(t, mem.Live())
}

func TestDiscardDCCIdempotent(t *testing.T) {
	mem := device.NewMemory()
	tex, err := New(mem, computeLayout(t, caps.GFX9, colorParams(256, 256)), 0)
	require.NoError(t, err)
	defer tex.Release()

	require.True(t, tex.CanDisableDCC())
	assert.True(t, tex.DiscardDCC())
	once := *tex.Layout()
	onceAux := tex.Aux(AuxDCC)

	assert.False(t, tex.DiscardDCC())
	assert.Equal(t, once, *tex.Layout())
	assert.Equal(t, onceAux, tex.Aux(AuxDCC))
	assert.Zero(t, tex.Layout().DCC)
	assert.Zero(t, tex.Layout().NumDCCLevels)
	assert.False(t, tex.HasDCC())
}

func TestCannotDisableExternallyWrittenDCC(t *testing.T) {
	mem := device.NewMemory()
	tex, err := New(mem, computeLayout(t, caps.GFX9, colorParams(256, 256)), FlagShared)
	require.NoError(t, err)
	defer tex.Release()

	tex.ExternalUsage = UsageFramebufferWrite
	assert.False(t, tex.CanDisableDCC())
	assert.False(t, tex.DiscardDCC())
	assert.True(t, tex.HasDCC())

	tex.ExternalUsage = UsageExplicitFlush
	assert.True(t, tex.DiscardDCC())
}

func TestCMASKLifecycle(t *testing.T) {
	mem := device.NewMemory()
	tex, err := New(mem, computeLayout(t, caps.GFX8, colorParams(256, 256)), 0)
	require.NoError(t, err)

	assert.False(t, tex.HasCMASK())
	assert.False(t, tex.DiscardCMASK())

	require.NoError(t, tex.AllocSeparateCMASK())
	assert.Equal(t, TagOwns, tex.Aux(AuxCMASK).Tag)
	assert.Equal(t, 2, mem.Live())
	require.NoError(t, tex.AllocSeparateCMASK())
	assert.Equal(t, 2, mem.Live())

	assert.True(t, tex.DiscardCMASK())
	assert.False(t, tex.DiscardCMASK())
	assert.Equal(t, 1, mem.Live())
	assert.Zero(t, tex.Layout().CMASK)

	tex.Release()
	assert.Zero(t, mem.Live())
}

func TestMSAACMASKNotDiscarded(t *testing.T) {
	mem := device.NewMemory()
	p := colorParams(64, 64)
	p.Samples = 2
	tex, err := New(mem, computeLayout(t, caps.GFX9, p), 0)
	require.NoError(t, err)
	defer tex.Release()

	assert.True(t, tex.HasCMASK())
	assert.False(t, tex.DiscardCMASK())
	assert.True(t, tex.HasCMASK())
}

func TestSeparateDCCCache(t *testing.T) {
	mem := device.NewMemory()
	c := caps.For(caps.GFX8)
	c.SeparateDCC = true
	p := colorParams(512, 512)
	p.Flags = layout.FlagShared
	l, err := layout.NewCalculator(c).Compute(p)
	require.NoError(t, err)

	tex, err := New(mem, l, FlagShared|FlagExplicitFlush)
	require.NoError(t, err)
	assert.False(t, tex.HasDCC())

	buf, err := mem.Allocate(device.Desc{Size: l.DCC.Size})
	require.NoError(t, err)
	tex.AttachSeparateDCC(buf)
	assert.True(t, tex.HasDCC())
	assert.True(t, tex.DCCEnabled(0))
	assert.Equal(t, buf, tex.DCC().Buffer)

	assert.True(t, tex.DetachSeparateDCC())
	assert.False(t, tex.DetachSeparateDCC())
	assert.True(t, tex.HasCachedSeparateDCC())
	assert.Equal(t, 2, mem.Live(), "cached, not freed")

	cached, ok := tex.TakeLastSeparateDCC()
	require.True(t, ok)
	assert.Equal(t, buf, cached)
	tex.AttachSeparateDCC(cached)
	tex.DetachSeparateDCC()

	tex.Release()
	assert.Zero(t, mem.Live())
}

func TestOffsetModern(t *testing.T) {
	mem := device.NewMemory()
	tex, err := New(mem, computeLayout(t, caps.GFX9, colorParams(256, 256)), 0)
	require.NoError(t, err)
	defer tex.Release()

	off, stride, layer := tex.Offset(0, &layout.Box{X: 16, Y: 2})
	assert.Equal(t, uint64((2*256+16)*4), off)
	assert.Equal(t, uint64(1024), stride)
	assert.Equal(t, uint64(256*256*4), layer)

	off, _, _ = tex.Offset(0, nil)
	assert.Zero(t, off)
}

func TestOffsetLegacy(t *testing.T) {
	mem := device.NewMemory()
	p := colorParams(256, 256)
	p.LastLevel = 1
	tex, err := New(mem, computeLayout(t, caps.GFX8, p), 0)
	require.NoError(t, err)
	defer tex.Release()

	off, stride, layer := tex.Offset(1, nil)
	assert.Equal(t, uint64(256*256*4), off)
	assert.Equal(t, uint64(512), stride)
	assert.Equal(t, uint64(128*128*4), layer)

	off, _, _ = tex.Offset(1, &layout.Box{X: 1, Y: 1})
	assert.Equal(t, uint64(256*256*4+(128+1)*4), off)
}

func TestSwapStorage(t *testing.T) {
	mem := device.NewMemory()
	tiled, err := New(mem, computeLayout(t, caps.GFX9, colorParams(64, 64)), 0)
	require.NoError(t, err)
	p := colorParams(64, 64)
	p.Hint = layout.HintLinear
	linear, err := New(mem, computeLayout(t, caps.GFX9, p), 0)
	require.NoError(t, err)

	id := tiled.ID()
	oldBuf := tiled.Buffer()
	tiled.MarkDirty(0)

	tiled.SwapStorage(linear)
	assert.Equal(t, id, tiled.ID())
	assert.True(t, tiled.IsLinear())
	assert.NotEqual(t, oldBuf, tiled.Buffer())
	assert.Zero(t, tiled.DirtyLevels)
	assert.Equal(t, oldBuf, linear.Buffer())

	linear.Release()
	assert.Equal(t, 1, mem.Live())
	tiled.Release()
	assert.Zero(t, mem.Live())
}

func TestDirtyLevels(t *testing.T) {
	var tex Texture
	tex.MarkDirty(0)
	tex.MarkDirty(3)
	assert.True(t, tex.IsDirty(1, 3))
	assert.False(t, tex.IsDirty(1, 2))
	tex.ClearDirty(0, 3)
	assert.Zero(t, tex.DirtyLevels)
}

func TestReleaseTwicePanics(t *testing.T) {
	mem := device.NewMemory()
	tex, err := New(mem, computeLayout(t, caps.GFX9, colorParams(16, 16)), 0)
	require.NoError(t, err)
	tex.Release()
	assert.True(t, tex.Destroyed())
	assert.Panics(t, func() { tex.Release() })
	assert.PanicsWithValue(t, fmt.Sprintf("resource: buffer of destroyed texture %d", tex.ID()), func() { tex.Buffer() })
}
