// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package caps describes what a GPU generation can do.
//
// Every generation-dependent decision in texmeta reads a [Caps] value that is
// resolved once when a screen is created. Nothing outside this package compares
// generation numbers directly.
package caps

import "fmt"

// Gen identifies a hardware generation.
type Gen uint8

// Hardware generations, oldest first.
const (
	GFX6 Gen = iota + 6
	GFX7
	GFX8
	GFX9
	GFX10
	GFX10_3
	GFX11
)

// String returns the generation name.
func (g Gen) String() string {
	switch g {
	case GFX6:
		return "gfx6"
	case GFX7:
		return "gfx7"
	case GFX8:
		return "gfx8"
	case GFX9:
		return "gfx9"
	case GFX10:
		return "gfx10"
	case GFX10_3:
		return "gfx10.3"
	case GFX11:
		return "gfx11"
	default:
		return fmt.Sprintf("gen(%d)", uint8(g))
	}
}

// CoherencyTier groups generations by how color and depth writes become
// visible to shader reads through L2.
type CoherencyTier uint8

const (
	// TierLegacy always needs a full L2 invalidate.
	TierLegacy CoherencyTier = iota
	// TierMetadataAware keeps single-sample color coherent with shaders but
	// needs L2 metadata invalidation when shaders read DCC or CMASK.
	TierMetadataAware
	// TierModern is coherent unless the render backends bypass TCC.
	TierModern
)

// String returns the tier name.
func (t CoherencyTier) String() string {
	switch t {
	case TierLegacy:
		return "legacy"
	case TierMetadataAware:
		return "metadata-aware"
	case TierModern:
		return "modern"
	default:
		return fmt.Sprintf("tier(%d)", uint8(t))
	}
}

// Caps is the resolved capability table of one device.
type Caps struct {
	Gen Gen

	// HasDedicatedVRAM is false on APUs.
	HasDedicatedVRAM bool

	// CoherencyTier selects the L2 rules for CB/DB to shader visibility.
	CoherencyTier CoherencyTier

	// TCCRBNonCoherent reports that render backends are not coherent with
	// the texture cache (some modern parts).
	TCCRBNonCoherent bool

	// MetadataL2Bypass makes CB/DB metadata and CP traffic bypass L2.
	MetadataL2Bypass bool

	// ShaderL2Bypass makes shader-coherent transfers bypass L2.
	ShaderL2Bypass bool

	// ModernAddressing selects the uniform per-level offset table instead of
	// the legacy per-level struct array.
	ModernAddressing bool

	// LegacyDCCLevels means DCC is laid out per mip level with an individual
	// fast-clear size per level.
	LegacyDCCLevels bool

	// MipmappedDCCFastClear allows DCC fast clears on textures with more
	// than one mip level.
	MipmappedDCCFastClear bool

	// HTILECMASK1DTiling allows HTILE and CMASK on 1D-tiled surfaces.
	HTILECMASK1DTiling bool

	// DCCConstantEncode means DCC clear codes 0 and 1 do not need the clear
	// color registers.
	DCCConstantEncode bool

	// CMASKFastClearBroken disables CMASK-only fast clears (RB+ parts).
	CMASKFastClearBroken bool

	// SeparateDCC enables the statistics-driven displayable DCC heuristic.
	SeparateDCC bool

	// OneChannelAlphaSwapInverted flips the alpha-on-MSB answer for
	// single-channel formats.
	OneChannelAlphaSwapInverted bool

	// HTILEInitExpanded initializes HTILE to the expanded pattern.
	HTILEInitExpanded bool

	// HTILEAlwaysZSPattern always uses the Z+S HTILE mode switch pattern.
	HTILEAlwaysZSPattern bool

	// CanToggleTCCompatibleHTILE allows leaving TC-compatible HTILE to fast
	// clear depth to arbitrary values.
	CanToggleTCCompatibleHTILE bool

	// DCCPipeAligned reports DCC that shaders can read without an L2 flush.
	DCCPipeAligned bool

	// NeedsDisplayDCCRetile reports that displayable surfaces keep a second
	// DCC copy which must be retiled before presentation.
	NeedsDisplayDCCRetile bool

	// ClearPreferDMA keeps single-word buffer clears on CP DMA regardless of
	// size. Compute launch overhead dominates on these parts.
	ClearPreferDMA bool

	// ComputeClearRenderTarget allows compute clears of render targets.
	ComputeClearRenderTarget bool

	// ComputeDCCDecompress decompresses DCC with a compute kernel instead
	// of a fixed-function pass.
	ComputeDCCDecompress bool

	// ComputeImageStoreDCC means compute image stores keep DCC valid, so
	// image kernels may write DCC-compressed levels.
	ComputeImageStoreDCC bool

	// WaveSize is the compute wave size.
	WaveSize uint32

	// ComputeClearDWPerThread and ComputeCopyDWPerThread are the dwords
	// each compute thread writes.
	ComputeClearDWPerThread uint32
	ComputeCopyDWPerThread  uint32

	// CPDMAMaxBytes is the largest byte count of one CP DMA packet.
	CPDMAMaxBytes uint64
}

// For returns the capability table of a generation.
func For(g Gen) Caps {
	c := Caps{
		Gen:                        g,
		HasDedicatedVRAM:           true,
		WaveSize:                   64,
		ComputeClearDWPerThread:    4,
		ComputeCopyDWPerThread:     4,
		ComputeClearRenderTarget:   true,
		CanToggleTCCompatibleHTILE: true,
	}

	switch {
	case g <= GFX8:
		c.CoherencyTier = TierLegacy
		c.LegacyDCCLevels = true
		c.MipmappedDCCFastClear = true
		c.CPDMAMaxBytes = 1<<21 - 1
		c.ClearPreferDMA = g <= GFX7
		c.ShaderL2Bypass = g == GFX6
		c.HTILECMASK1DTiling = g >= GFX8
		c.SeparateDCC = g == GFX8
	case g == GFX9:
		c.CoherencyTier = TierMetadataAware
		c.ModernAddressing = true
		c.MetadataL2Bypass = true
		c.CPDMAMaxBytes = 1<<26 - 1
		c.HTILEInitExpanded = true
		c.NeedsDisplayDCCRetile = true
		c.ComputeDCCDecompress = true
		c.HTILECMASK1DTiling = true
	default:
		c.CoherencyTier = TierModern
		c.ModernAddressing = true
		c.MetadataL2Bypass = true
		c.CPDMAMaxBytes = 1<<26 - 1
		c.HTILEInitExpanded = true
		c.HTILEAlwaysZSPattern = g >= GFX10_3
		c.DCCConstantEncode = true
		c.DCCPipeAligned = true
		c.NeedsDisplayDCCRetile = true
		c.ComputeDCCDecompress = true
		c.OneChannelAlphaSwapInverted = g >= GFX10_3
		c.HTILECMASK1DTiling = true
		c.ComputeImageStoreDCC = true
		c.WaveSize = 32
	}
	return c
}

// APU returns c adjusted for a part without dedicated VRAM.
func (c Caps) APU() Caps {
	c.HasDedicatedVRAM = false
	return c
}

// HasDCC reports whether the generation supports delta color compression.
func (c Caps) HasDCC() bool { return c.Gen >= GFX8 }

// String returns a short description for logs.
func (c Caps) String() string {
	return fmt.Sprintf("%s[%s vram=%t]", c.Gen, c.CoherencyTier, c.HasDedicatedVRAM)
}
