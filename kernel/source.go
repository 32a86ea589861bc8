// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package kernel

import (
	_ "embed"
	"fmt"
	"strconv"
	"strings"

	"github.com/gogpu/texmeta/device"
)

// Embedded WGSL kernel templates.

//go:embed shaders/clear_dwords.wgsl
var clearDwordsSource string

//go:embed shaders/copy_dwords.wgsl
var copyDwordsSource string

//go:embed shaders/clear_12bytes.wgsl
var clear12BytesSource string

//go:embed shaders/copy_image.wgsl
var copyImageSource string

//go:embed shaders/clear_render_target.wgsl
var clearRenderTargetSource string

//go:embed shaders/dcc_decompress.wgsl
var dccDecompressSource string

//go:embed shaders/dcc_retile.wgsl
var dccRetileSource string

//go:embed shaders/fmask_expand.wgsl
var fmaskExpandSource string

// DefaultWaveSize is used when a key leaves WaveSize unset.
const DefaultWaveSize = 64

// Source returns the WGSL source of a kernel variant.
func Source(key device.KernelKey) (string, error) {
	wave := key.WaveSize
	if wave == 0 {
		wave = DefaultWaveSize
	}

	var tmpl string
	array1D := "false"
	switch key.Kind {
	case device.KernelClearDwords, device.KernelCopyDwords:
		switch key.DWPerThread {
		case 1, 2, 4:
		default:
			return "", fmt.Errorf("%w: %s: %d dwords per thread", ErrCompile, key.Kind, key.DWPerThread)
		}
		tmpl = clearDwordsSource
		if key.Kind == device.KernelCopyDwords {
			tmpl = copyDwordsSource
		}
	case device.KernelClear12Bytes:
		tmpl = clear12BytesSource
	case device.KernelCopyImage2D:
		tmpl = copyImageSource
	case device.KernelCopyImage1DArray:
		tmpl, array1D = copyImageSource, "true"
	case device.KernelClearRenderTarget2D:
		tmpl = clearRenderTargetSource
	case device.KernelClearRenderTarget1DArray:
		tmpl, array1D = clearRenderTargetSource, "true"
	case device.KernelDCCDecompress:
		tmpl = dccDecompressSource
	case device.KernelDCCRetile:
		tmpl = dccRetileSource
	case device.KernelFMASKExpand:
		switch key.Samples {
		case 2, 4, 8:
		default:
			return "", fmt.Errorf("%w: %s: %d samples", ErrCompile, key.Kind, key.Samples)
		}
		tmpl = fmaskExpandSource
	default:
		return "", fmt.Errorf("%w: unknown kernel %s", ErrCompile, key.Kind)
	}

	r := strings.NewReplacer(
		"{{DW_PER_THREAD}}", strconv.FormatUint(uint64(key.DWPerThread), 10),
		"{{WAVE_SIZE}}", strconv.FormatUint(uint64(wave), 10),
		"{{SAMPLES}}", strconv.FormatUint(uint64(key.Samples), 10),
		"{{ARRAY_1D}}", array1D,
	)
	return r.Replace(tmpl), nil
}
