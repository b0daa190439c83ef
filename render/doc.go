// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package render draws cached page textures into viewer targets.
//
// The PageRenderer sits between the texture cache and the screen. A
// render request for a page either draws what is resident, draws the
// closest stand-in while the real content decodes, or clears the
// viewport and schedules the decode. It never waits: page turns stay
// responsive even when every decode worker is busy.
//
// Three draw paths exist, picked by the active device: host presentation
// (textures composed by the embedding surface), GPU compute blit with
// readback, and pure software scaling for the fallback device.
package render
