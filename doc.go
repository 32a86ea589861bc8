// Package texmeta manages GPU textures together with their compression
// metadata: delta color compression (DCC), displayable DCC, CMASK, HTILE
// and FMASK.
//
// # Overview
//
// A Screen holds what every command stream shares: the capability table of
// the hardware generation, the tuned policy constants, the kernel cache and
// an aux context that initializes the metadata of new textures. A Context
// is one logical command stream. It decides how clears are performed
// (through metadata or the render backends), resolves metadata before
// textures are sampled, presented or exported, and picks the cheapest
// engine for buffer clears and copies.
//
// # Quick Start
//
//	dev := device.NewMemory()
//	s, err := texmeta.NewScreen(dev, texmeta.WithCaps(caps.For(caps.GFX10)))
//	if err != nil {
//	    return err
//	}
//	defer s.Close()
//
//	tex, err := s.CreateTexture(texmeta.TextureDesc{Params: layout.Params{
//	    Format: format.RGBA8Unorm,
//	    Size:   gputypes.Extent3D{Width: 1920, Height: 1080, DepthOrArrayLayers: 1},
//	    Target: layout.Target2D,
//	}})
//	if err != nil {
//	    return err
//	}
//	defer tex.Release()
//
//	ctx := s.NewContext("main")
//	defer ctx.Close()
//	ctx.ClearColor([]fastclear.ColorTarget{{Texture: tex}}, format.Float(0, 0, 0, 1))
//	ctx.FlushResource(tex)
//	ctx.Flush(false)
//
// # Backends
//
// Device services come from the backend registry. The memory backend runs
// every command on host memory and is what the tests use. The hal backend
// (backend/halgpu) runs on gogpu/wgpu and registers itself when imported:
//
//	import _ "github.com/gogpu/texmeta/backend/halgpu"
//
//	dev, name, err := backend.Default()
//
// # Architecture
//
// The library is organized into:
//   - caps, format, layout: hardware capabilities, pixel formats, surface layouts
//   - resource: textures and the ownership of their metadata buffers
//   - fastclear: fast clear eligibility and clear codes
//   - dispatch, coherency: clear and copy engines, cache flushes
//   - dccstats: the separate DCC usage heuristic
//   - device, kernel, backend: device services and compute kernels
//   - config: tuned constants, loadable from TOML or YAML
//
// # Logging
//
// texmeta is silent by default. See SetLogger.
package texmeta
