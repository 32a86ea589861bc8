// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package fastclear

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/gogpu/texmeta/caps"
	"github.com/gogpu/texmeta/format"
)

func TestDCCClearParamsCodeTable(t *testing.T) {
	c := caps.For(caps.GFX9)
	tests := []struct {
		color, alpha float32
		want         Code
	}{
		{0, 0, ClearAllZero},
		{0, 1, ClearAlphaOnly},
		{1, 0, ClearColorOnly},
		{1, 1, ClearAllOne},
	}
	for _, tt := range tests {
		for _, f := range []format.Format{format.RGBA8Unorm, format.BGRA8Unorm, format.RGBA16Float, format.RGB10A2Unorm} {
			res := DCCClearParams(c, f, f, format.Float(tt.color, tt.color, tt.color, tt.alpha))
			assert.True(t, res.Allowed, "%s %v", f, tt)
			assert.False(t, res.EliminateNeeded, "%s %v", f, tt)
			assert.Equal(t, tt.want, res.Code, "%s %v", f, tt)
		}
	}
}

func TestDCCClearParamsNeedsEliminate(t *testing.T) {
	c := caps.For(caps.GFX9)
	tests := []struct {
		name  string
		base  format.Format
		view  format.Format
		color format.ClearColor
	}{
		{"arbitrary floats", format.RGBA8Unorm, format.RGBA8Unorm, format.Float(0.2, 0.3, 0.4, 0.5)},
		{"colour channels disagree", format.RGBA8Unorm, format.RGBA8Unorm, format.Float(1, 0, 1, 1)},
		{"uint not max", format.RGBA8Uint, format.RGBA8Uint, format.Uint(1, 1, 1, 1)},
		{"sint negative", format.RGBA8Sint, format.RGBA8Sint, format.Int(-1, -1, -1, -1)},
		{"non-plain view", format.R11G11B10Float, format.R11G11B10Float, format.Float(0, 0, 0, 0)},
		{"alpha moves across views", format.RGBA8Unorm, format.ARGB8Unorm, format.Float(1, 1, 1, 0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := DCCClearParams(c, tt.base, tt.view, tt.color)
			assert.True(t, res.Allowed)
			assert.True(t, res.EliminateNeeded)
			assert.Equal(t, ClearReg, res.Code)
		})
	}
}

func TestDCCClearParamsIntegers(t *testing.T) {
	c := caps.For(caps.GFX10)

	res := DCCClearParams(c, format.RGBA8Uint, format.RGBA8Uint, format.Uint(255, 255, 255, 0))
	assert.Equal(t, Result{Allowed: true, Code: ClearColorOnly}, res)

	// Values above the channel maximum clamp to it.
	res = DCCClearParams(c, format.RGBA8Uint, format.RGBA8Uint, format.Uint(1000, 1000, 1000, 1000))
	assert.Equal(t, Result{Allowed: true, Code: ClearAllOne}, res)

	res = DCCClearParams(c, format.RGBA8Sint, format.RGBA8Sint, format.Int(127, 127, 127, 127))
	assert.Equal(t, Result{Allowed: true, Code: ClearAllOne}, res)

	res = DCCClearParams(c, format.RGBA32Uint, format.RGBA32Uint, format.Uint(math.MaxUint32, math.MaxUint32, math.MaxUint32, 0))
	assert.Equal(t, Result{Allowed: true, Code: ClearColorOnly}, res)
}

func TestDCCClearParamsNoAlpha(t *testing.T) {
	c := caps.For(caps.GFX9)

	// The X channel is ignored, so alpha follows colour.
	res := DCCClearParams(c, format.RGBX8Unorm, format.RGBX8Unorm, format.Float(1, 1, 1, 0))
	assert.Equal(t, Result{Allowed: true, Code: ClearAllOne}, res)

	res = DCCClearParams(c, format.RGB32Float, format.RGB32Float, format.Float(0, 0, 0, 1))
	assert.Equal(t, Result{Allowed: true, Code: ClearAllZero}, res)
}

func TestDCCClearParamsSameViewSwizzle(t *testing.T) {
	c := caps.For(caps.GFX9)
	res := DCCClearParams(c, format.ARGB8Unorm, format.ARGB8Unorm, format.Float(1, 1, 1, 0))
	assert.Equal(t, Result{Allowed: true, Code: ClearColorOnly}, res)
}

func TestDCCClearParams128Bit(t *testing.T) {
	c := caps.For(caps.GFX9)
	colors := []format.ClearColor{
		format.Float(1, 1, 0.5, 1),
		format.Float(0, 1, 0, 0),
		format.Float(0.25, 0.5, 0.25, 1),
		format.Uint(1, 2, 1, 0),
	}
	for _, col := range colors {
		for _, f := range []format.Format{format.RGBA32Float, format.RGBA32Uint, format.RGBA32Sint} {
			res := DCCClearParams(c, f, f, col)
			assert.False(t, res.Allowed, "%s %v", f, col)
			assert.True(t, res.EliminateNeeded, "%s %v", f, col)
			assert.Equal(t, ClearReg, res.Code)
		}
	}

	res := DCCClearParams(c, format.RGBA32Float, format.RGBA32Float, format.Float(1, 1, 1, 0))
	assert.Equal(t, Result{Allowed: true, Code: ClearColorOnly}, res)
}

func TestCodeString(t *testing.T) {
	assert.Equal(t, "0001", ClearAlphaOnly.String())
	assert.Equal(t, "reg", ClearReg.String())
	assert.Equal(t, "code(0x00000001)", Code(1).String())
}
