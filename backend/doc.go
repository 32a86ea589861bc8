// Package backend provides a pluggable device registry.
//
// Backends register a Factory from init() and are selected at runtime.
// The memory backend is registered on import:
//
//	import "github.com/gogpu/texmeta/backend"
//
// The GPU backend registers itself when its package is imported:
//
//	import _ "github.com/gogpu/texmeta/backend/halgpu"
//
// # Backend Selection
//
// Use Default() to open the best available device, or Open() to request
// a specific backend by name:
//
//	dev, name, err := backend.Default()
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer dev.Close()
//
//	dev, err = backend.Open(backend.BackendMemory)
//
// # Available Backends
//
//   - "hal": compute, copies and fills on gogpu/wgpu hal (Vulkan)
//   - "memory": host-memory device that executes commands in software
package backend
