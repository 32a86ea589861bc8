// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package backend

import (
	"errors"

	"github.com/gogpu/texmeta/device"
)

// Backend name constants.
const (
	// BackendMemory is the host-memory device. It is always available.
	BackendMemory = "memory"
	// BackendHAL is the GPU device on gogpu/wgpu hal.
	BackendHAL = "hal"
)

// Common backend errors.
var (
	// ErrBackendNotAvailable is returned when no registered backend can
	// open a device.
	ErrBackendNotAvailable = errors.New("backend: not available")

	// ErrUnknownBackend is returned by Open for a name nobody registered.
	ErrUnknownBackend = errors.New("backend: unknown backend")
)

// Factory opens a device.
type Factory func() (device.Device, error)

func init() {
	Register(BackendMemory, func() (device.Device, error) {
		return device.NewMemory(), nil
	})
}
