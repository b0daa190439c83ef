// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package gpuctx owns the graphics context bound to a drawable surface.
//
// The [Manager] mediates the context lifecycle as an explicit state
// machine:
//
//	Uninitialized -> Active -> Lost -> Active (restored)
//	                   |         |
//	                   +---------+--> Disposed
//
// Context loss is an unsolicited, platform-initiated invalidation: GPU
// handles created under the old context are meaningless under a new one,
// so the manager never re-uploads textures automatically. It notifies
// dependents exactly once per loss and waits for an explicit
// [Manager.Reinitialize] after they have torn their resources down.
//
// The [Device] interface is the narrow GPU surface the rest of the
// pipeline uses: texture creation, pixel upload, destruction. Three
// implementations exist:
//
//   - the wgpu HAL device ([OpenDevice]), a standalone device on the first
//     usable adapter,
//   - [HostDevice], wrapping textures created by a host application that
//     already owns a GPU context (the gogpu pattern: the library receives
//     the device, it does not create one),
//   - [MemDevice], a memory-backed device for the software fallback path
//     and for tests.
package gpuctx
