// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package config holds the tuned constants that steer path selection.
//
// The defaults come from measurements on real hardware. A deployment can
// override any of them from a TOML or YAML file:
//
//	[compute]
//	clear_threshold_vram = 65536
//
// Zero fields in an override keep the base value.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jinzhu/copier"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// ErrUnknownFormat is returned by Load for files that are neither TOML nor YAML.
var ErrUnknownFormat = errors.New("config: unknown file format")

// Compute holds the compute-versus-DMA size thresholds in bytes. Transfers
// strictly larger than a threshold use compute.
type Compute struct {
	ClearThresholdVRAM uint64 `toml:"clear_threshold_vram" yaml:"clear_threshold_vram"`
	ClearThresholdGTT  uint64 `toml:"clear_threshold_gtt" yaml:"clear_threshold_gtt"`
	CopyThreshold      uint64 `toml:"copy_threshold" yaml:"copy_threshold"`
}

// DCC holds the separate DCC heuristic parameters.
type DCC struct {
	// SeparateThreshold is the drawRatio+slowClears score enabling separate DCC.
	SeparateThreshold uint32 `toml:"separate_threshold" yaml:"separate_threshold"`
	// StatsSlots is the capacity of the per-context statistics table.
	StatsSlots int `toml:"stats_slots" yaml:"stats_slots"`
}

// Policy is the full set of tuned constants.
type Policy struct {
	// TooSmallArea is the pixel area at or below which a fast clear that
	// needs an eliminate pass is refused.
	TooSmallArea uint64 `toml:"too_small_area" yaml:"too_small_area"`

	// StreamThreshold is the transfer size above which shader traffic
	// streams past L2.
	StreamThreshold uint64 `toml:"stream_threshold" yaml:"stream_threshold"`

	// RelayoutTransfers is the number of level 0 CPU uploads after which a
	// tiled texture on an APU is reallocated linear.
	RelayoutTransfers uint32 `toml:"relayout_transfers" yaml:"relayout_transfers"`

	Compute Compute `toml:"compute" yaml:"compute"`
	DCC     DCC     `toml:"dcc" yaml:"dcc"`
}

// Default returns the tuned defaults.
func Default() Policy {
	return Policy{
		TooSmallArea:      512 * 512,
		StreamThreshold:   256 << 10,
		RelayoutTransfers: 10,
		Compute: Compute{
			ClearThresholdVRAM: 32 << 10,
			ClearThresholdGTT:  1 << 20,
			CopyThreshold:      32 << 10,
		},
		DCC: DCC{
			SeparateThreshold: 5,
			StatsSlots:        5,
		},
	}
}

// Merge returns base with every non-zero field of override applied.
func Merge(base, override Policy) (Policy, error) {
	out := base
	if err := copier.CopyWithOption(&out, &override, copier.Option{IgnoreEmpty: true, DeepCopy: true}); err != nil {
		return Policy{}, fmt.Errorf("config: merge: %w", err)
	}
	return out, nil
}

// Load reads an override file and merges it over the defaults. The format
// is chosen by extension: .toml, .yaml or .yml.
func Load(path string) (Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("config: %w", err)
	}
	return Decode(data, filepath.Ext(path))
}

// Decode parses data in the format named by ext and merges it over the
// defaults.
func Decode(data []byte, ext string) (Policy, error) {
	var p Policy
	switch strings.ToLower(strings.TrimPrefix(ext, ".")) {
	case "toml":
		if err := toml.Unmarshal(data, &p); err != nil {
			return Policy{}, fmt.Errorf("config: toml: %w", err)
		}
	case "yaml", "yml":
		if err := yaml.Unmarshal(data, &p); err != nil {
			return Policy{}, fmt.Errorf("config: yaml: %w", err)
		}
	default:
		return Policy{}, fmt.Errorf("%w: %q", ErrUnknownFormat, ext)
	}
	return Merge(Default(), p)
}

// ClearThreshold returns the compute clear threshold of a memory domain.
func (p Policy) ClearThreshold(vram bool) uint64 {
	if vram {
		return p.Compute.ClearThresholdVRAM
	}
	return p.Compute.ClearThresholdGTT
}
