// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package docview

import (
	"github.com/gogpu/gpucontext"

	"github.com/gogpu/docview/gpuctx"
	"github.com/gogpu/docview/texcache"
)

// Option configures an Engine.
type Option func(*Engine)

// WithMemoryLimit fixes the texture cache budget in bytes, overriding
// the memory-derived default. Later UpdateMemoryStats calls do not
// move a fixed budget.
func WithMemoryLimit(bytes int64) Option {
	return func(e *Engine) {
		if bytes > 0 {
			e.caps.setBudget(bytes)
		}
	}
}

// WithPreloadWindow sets how many pages around the current one are
// decoded ahead of time. The default is 2 ahead and 1 behind.
func WithPreloadWindow(ahead, behind int) Option {
	return func(e *Engine) {
		e.window.Ahead = ahead
		e.window.Behind = behind
	}
}

// WithHalfResolutionPreload decodes preloaded neighbors at half
// resolution. They upgrade to full resolution when rendered.
func WithHalfResolutionPreload() Option {
	return func(e *Engine) { e.window.LowResolution = true }
}

// WithForceFallback skips the GPU probe and runs the pipeline on the
// software device.
func WithForceFallback() Option {
	return func(e *Engine) { e.forceFallback = true }
}

// WithScaleTiers overrides the zoom levels scales quantize to.
func WithScaleTiers(tiers []float64) Option {
	return func(e *Engine) { e.tiers = tiers }
}

// WithDeviceOpener overrides how the GPU device is opened. Mostly
// useful in tests.
func WithDeviceOpener(open gpuctx.DeviceOpener) Option {
	return func(e *Engine) { e.opener = open }
}

// WithPresenter draws cached textures through the host's compositor
// instead of reading them back into the caller's pixel buffer.
func WithPresenter(dc gpucontext.TextureDrawer) Option {
	return func(e *Engine) { e.presenter = dc }
}

// WithPreloadConcurrency bounds how many background decodes run at
// once. The default is 2.
func WithPreloadConcurrency(n int64) Option {
	return func(e *Engine) { e.preloadConc = n }
}

// WithWindowPages sets how many decoded bitmaps are retained for
// cheap re-upload after a context loss. Negative disables retention.
func WithWindowPages(n int) Option {
	return func(e *Engine) { e.windowPages = n }
}

// PreloadWindow configures the pages decoded around the current one.
type PreloadWindow = texcache.PreloadWindow
