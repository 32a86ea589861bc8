// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package format

import "github.com/gogpu/gputypes"

// FromTextureFormat maps a WebGPU texture format to a Format.
func FromTextureFormat(tf gputypes.TextureFormat) (Format, bool) {
	switch tf {
	case gputypes.TextureFormatRGBA8Unorm:
		return RGBA8Unorm, true
	case gputypes.TextureFormatBGRA8Unorm:
		return BGRA8Unorm, true
	case gputypes.TextureFormatR8Unorm:
		return R8Unorm, true
	case gputypes.TextureFormatDepth24PlusStencil8:
		return Z24UnormS8Uint, true
	default:
		return Invalid, false
	}
}

// TextureFormat maps f back to a WebGPU texture format.
// It returns gputypes.TextureFormatUndefined when there is no equivalent.
func TextureFormat(f Format) gputypes.TextureFormat {
	switch f {
	case RGBA8Unorm:
		return gputypes.TextureFormatRGBA8Unorm
	case BGRA8Unorm:
		return gputypes.TextureFormatBGRA8Unorm
	case R8Unorm:
		return gputypes.TextureFormatR8Unorm
	case Z24UnormS8Uint:
		return gputypes.TextureFormatDepth24PlusStencil8
	default:
		return gputypes.TextureFormatUndefined
	}
}
