// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package layout

import (
	"errors"
	"testing"

	"github.com/gogpu/gputypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gogpu/texmeta/caps"
	"github.com/gogpu/texmeta/format"
)

func extent(w, h, d uint32) gputypes.Extent3D {
	return gputypes.Extent3D{Width: w, Height: h, DepthOrArrayLayers: d}
}

func TestComputeModernColor(t *testing.T) {
	calc := NewCalculator(caps.For(caps.GFX9))
	l, err := calc.Compute(Params{
		Format:  format.RGBA8Unorm,
		Size:    extent(256, 256, 1),
		Target:  Target2D,
		Samples: 1,
	})
	require.NoError(t, err)
	require.NoError(t, l.Validate())

	assert.Equal(t, Mode2D, l.Mode)
	assert.Equal(t, uint32(256), l.Modern.Pitch)
	assert.Equal(t, uint64(256*256*4), l.Modern.SliceSize)
	assert.True(t, l.DCC.Present())
	assert.Equal(t, uint32(1), l.NumDCCLevels)
	assert.Equal(t, uint64(4096), l.DCC.Size)
	assert.False(t, l.CMASK.Present(), "single-sample CMASK is not inline")
	assert.NotZero(t, l.CMASK.Size)
	assert.False(t, l.FMASK.Present())
	assert.Zero(t, l.TotalSize%l.Alignment)
}

func TestComputeLegacyMipmapped(t *testing.T) {
	calc := NewCalculator(caps.For(caps.GFX8))
	l, err := calc.Compute(Params{
		Format:    format.RGBA8Unorm,
		Size:      extent(256, 256, 1),
		Target:    Target2D,
		LastLevel: 5,
	})
	require.NoError(t, err)
	require.NoError(t, l.Validate())
	require.Len(t, l.Legacy, 6)

	// 256, 128, 64 stay 2D tiled; 32 drops to 1D.
	assert.Equal(t, uint32(3), l.NumDCCLevels)
	assert.Equal(t, Mode1D, l.Legacy[3].Mode)
	for level := uint32(0); level < l.NumDCCLevels; level++ {
		assert.NotZero(t, l.Legacy[level].DCCFastClearSize, "level %d", level)
	}
	assert.Zero(t, l.Legacy[3].DCCFastClearSize)
	assert.True(t, l.HasDCCLevel(2))
	assert.False(t, l.HasDCCLevel(3))
}

func TestComputeMSAA(t *testing.T) {
	calc := NewCalculator(caps.For(caps.GFX8))
	l, err := calc.Compute(Params{
		Format:  format.RGBA8Unorm,
		Size:    extent(128, 128, 1),
		Target:  Target2D,
		Samples: 4,
	})
	require.NoError(t, err)
	require.NoError(t, l.Validate())

	assert.True(t, l.FMASK.Present())
	assert.True(t, l.CMASK.Present())
	assert.True(t, l.DCC.Present())
	assert.Zero(t, l.Legacy[0].DCCFastClearSize)
}

func TestComputeDepth(t *testing.T) {
	calc := NewCalculator(caps.For(caps.GFX9))

	zs, err := calc.Compute(Params{Format: format.Z24UnormS8Uint, Size: extent(64, 64, 1), Target: Target2D})
	require.NoError(t, err)
	assert.True(t, zs.HTILE.Present())
	assert.False(t, zs.HTILEStencilDisabled)
	assert.False(t, zs.DCC.Present())
	assert.Zero(t, zs.CMASK.Size)

	z, err := calc.Compute(Params{
		Format: format.Z32Float,
		Size:   extent(64, 64, 1),
		Target: Target2D,
		Flags:  FlagTCCompatibleHTILE,
	})
	require.NoError(t, err)
	assert.True(t, z.HTILEStencilDisabled)
	assert.True(t, z.TCCompatibleHTILE)

	none, err := calc.Compute(Params{Format: format.Z32Float, Size: extent(64, 64, 1), Target: Target2D, Flags: FlagNoHTILE})
	require.NoError(t, err)
	assert.False(t, none.HTILE.Present())
}

func TestComputeLinear(t *testing.T) {
	calc := NewCalculator(caps.For(caps.GFX10))
	l, err := calc.Compute(Params{
		Format: format.BGRA8Unorm,
		Size:   extent(100, 50, 1),
		Target: Target2D,
		Hint:   HintLinear,
	})
	require.NoError(t, err)
	require.NoError(t, l.Validate())

	assert.True(t, l.IsLinear())
	assert.Equal(t, uint32(128), l.Modern.Pitch)
	assert.Zero(t, l.DCC.Size)
	assert.Zero(t, l.CMASK.Size)
	assert.Equal(t, uint64(256), l.Alignment)
}

func TestComputeScanoutRetile(t *testing.T) {
	calc := NewCalculator(caps.For(caps.GFX9))
	l, err := calc.Compute(Params{
		Format: format.BGRA8Unorm,
		Size:   extent(1920, 1080, 1),
		Target: Target2D,
		Flags:  FlagScanout,
	})
	require.NoError(t, err)
	require.NoError(t, l.Validate())

	assert.True(t, l.DisplayDCC.Present())
	assert.True(t, l.DCCRetileMap.Present())
	assert.Len(t, l.Regions(), 3)
}

func TestComputeSharedSeparateDCC(t *testing.T) {
	c := caps.For(caps.GFX8)
	c.SeparateDCC = true
	l, err := NewCalculator(c).Compute(Params{
		Format: format.BGRA8Unorm,
		Size:   extent(1024, 768, 1),
		Target: Target2D,
		Flags:  FlagShared | FlagScanout,
	})
	require.NoError(t, err)
	assert.False(t, l.DCC.Present())
	assert.NotZero(t, l.DCC.Size)
}

func TestComputeRejects(t *testing.T) {
	calc := NewCalculator(caps.For(caps.GFX9))
	for _, p := range []Params{
		{Format: format.Invalid, Size: extent(4, 4, 1)},
		{Format: format.RGBA8Unorm, Size: extent(0, 4, 1)},
		{Format: format.RGBA8Unorm, Size: extent(4, 4, 1), Samples: 3},
		{Format: format.RGBA8Unorm, Size: extent(4, 4, 1), Samples: 4, LastLevel: 1},
	} {
		_, err := calc.Compute(p)
		assert.True(t, errors.Is(err, ErrUnsupported), "%+v", p)
	}
}

func TestValidate(t *testing.T) {
	l := Layout{
		Format:    format.RGBA8Unorm,
		Width:     16,
		Height:    16,
		Layers:    1,
		Modern:    Modern{SliceSize: 1024, LevelOffset: []uint64{0}},
		CMASK:     Region{Offset: 1024, Size: 512, Alignment: 256, Inline: true},
		DCC:       Region{Offset: 1280, Size: 256, Alignment: 256, Inline: true},
		TotalSize: 4096,
		Alignment: 256,
	}
	assert.ErrorIs(t, l.Validate(), ErrInvalid, "overlap")

	l.DCC.Offset = 1536
	assert.NoError(t, l.Validate())

	l.DCC.Offset = 1600
	assert.ErrorIs(t, l.Validate(), ErrInvalid, "misaligned")

	l.DCC.Offset = 3840 + 256
	assert.ErrorIs(t, l.Validate(), ErrInvalid, "past end")

	l.DCC.Offset = 512
	assert.ErrorIs(t, l.Validate(), ErrInvalid, "inside pixel data")
}

func TestWithoutDCC(t *testing.T) {
	calc := NewCalculator(caps.For(caps.GFX8))
	l, err := calc.Compute(Params{Format: format.RGBA8Unorm, Size: extent(256, 256, 1), Target: Target2D, LastLevel: 1})
	require.NoError(t, err)

	stripped := l.WithoutDCC()
	assert.Zero(t, stripped.DCC)
	assert.Zero(t, stripped.NumDCCLevels)
	assert.Zero(t, stripped.Legacy[0].DCCFastClearSize)
	assert.NotZero(t, l.Legacy[0].DCCFastClearSize, "original untouched")
	assert.Equal(t, stripped, stripped.WithoutDCC())

	assert.Zero(t, l.WithoutCMASK().CMASK)
}

func TestLevelExtent(t *testing.T) {
	l := Layout{Target: Target3D, Width: 64, Height: 32, Depth: 8, Layers: 1}
	w, h, d := l.LevelExtent(3)
	assert.Equal(t, []uint32{8, 4, 1}, []uint32{w, h, d})
	w, h, d = l.LevelExtent(6)
	assert.Equal(t, []uint32{1, 1, 1}, []uint32{w, h, d})
}

func TestLevelAddressing(t *testing.T) {
	modern, err := NewCalculator(caps.For(caps.GFX9)).Compute(Params{
		Format:    format.RGBA8Unorm,
		Size:      extent(256, 256, 4),
		Target:    Target2DArray,
		LastLevel: 2,
	})
	require.NoError(t, err)

	a0 := modern.LevelAddressing(0)
	assert.Equal(t, modern.Modern.SurfOffset, a0.Offset)
	assert.Equal(t, uint32(256*4), a0.Pitch)
	assert.Equal(t, modern.Modern.SliceSize, a0.LayerStride)
	a1 := modern.LevelAddressing(1)
	assert.Equal(t, modern.Modern.SurfOffset+modern.Modern.LevelOffset[1], a1.Offset)
	assert.Equal(t, a0.Pitch, a1.Pitch, "levels share the pitch")

	legacy, err := NewCalculator(caps.For(caps.GFX8)).Compute(Params{
		Format:    format.RGBA8Unorm,
		Size:      extent(256, 256, 1),
		Target:    Target2D,
		LastLevel: 3,
	})
	require.NoError(t, err)
	a2 := legacy.LevelAddressing(2)
	assert.Equal(t, legacy.Legacy[2].Offset, a2.Offset)
	assert.Equal(t, legacy.Legacy[2].NBlkX*4, a2.Pitch)
	assert.Equal(t, legacy.Legacy[2].SliceSizeDW*4, a2.LayerStride)
}

func TestRetileMap(t *testing.T) {
	l, err := NewCalculator(caps.For(caps.GFX9)).Compute(Params{
		Format: format.BGRA8Unorm,
		Size:   extent(256, 256, 1),
		Target: Target2D,
		Flags:  FlagScanout,
	})
	require.NoError(t, err)
	m := l.RetileMap()
	require.Len(t, m, int(l.DCC.Size)*8)
	assert.LessOrEqual(t, uint64(len(m)), l.DCCRetileMap.Size)
	assert.Equal(t, []byte{5, 0, 0, 0, 5, 0, 0, 0}, m[40:48])

	plain := Layout{}
	assert.Nil(t, plain.RetileMap())
}
