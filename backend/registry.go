// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package backend

import (
	"fmt"
	"sort"
	"sync"

	"github.com/gogpu/texmeta/device"
)

var (
	registryMu sync.RWMutex
	factories  = make(map[string]Factory)
	// Priority order for Default: real hardware first, memory as fallback.
	backendPriority = []string{BackendHAL, BackendMemory}
)

// Register registers a device factory with the given name. A factory
// registered under an existing name replaces it.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	factories[name] = factory
}

// Unregister removes a factory from the registry.
func Unregister(name string) {
	registryMu.Lock()
	defer registryMu.Unlock()
	delete(factories, name)
}

// Available returns the registered backend names in sorted order.
func Available() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsRegistered checks if a backend with the given name is registered.
func IsRegistered(name string) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := factories[name]
	return ok
}

// Open opens a device from the named backend.
func Open(name string) (device.Device, error) {
	registryMu.RLock()
	factory, ok := factories[name]
	registryMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, name)
	}
	return factory()
}

// Default opens a device from the best available backend. Backends that
// fail to open are skipped.
func Default() (device.Device, string, error) {
	registryMu.RLock()
	ordered := make([]string, 0, len(factories))
	seen := make(map[string]bool, len(factories))
	for _, name := range backendPriority {
		if _, ok := factories[name]; ok {
			ordered = append(ordered, name)
			seen[name] = true
		}
	}
	rest := make([]string, 0, len(factories))
	for name := range factories {
		if !seen[name] {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	ordered = append(ordered, rest...)
	snapshot := make([]Factory, len(ordered))
	for i, name := range ordered {
		snapshot[i] = factories[name]
	}
	registryMu.RUnlock()

	for i, factory := range snapshot {
		dev, err := factory()
		if err != nil {
			slogger().Debug("backend: open failed", "backend", ordered[i], "err", err)
			continue
		}
		if dev != nil {
			return dev, ordered[i], nil
		}
	}
	return nil, "", ErrBackendNotAvailable
}

// MustDefault returns the default device or panics.
func MustDefault() device.Device {
	dev, _, err := Default()
	if err != nil {
		panic("backend: no backend available")
	}
	return dev
}
