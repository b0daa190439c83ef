// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package render

import "image"

// Viewport is the destination rectangle for a page draw, in target pixels.
// The page texture is scaled to fill it, preserving whatever aspect ratio
// the caller baked into the rectangle.
type Viewport struct {
	X, Y          int
	Width, Height int
}

// RenderTarget is where page output goes.
//
// Targets may be CPU-backed (Pixels returns the framebuffer) or GPU-backed
// (Pixels returns nil and the renderer presents through the GPU path).
type RenderTarget interface {
	// Width returns the target width in pixels.
	Width() int

	// Height returns the target height in pixels.
	Height() int

	// Pixels returns direct access to RGBA pixel data, or nil for
	// GPU-only targets.
	Pixels() []byte

	// Stride returns the number of bytes per row.
	Stride() int
}

// PixmapTarget is a CPU-backed render target using *image.RGBA. It serves
// the software fallback path and tests.
type PixmapTarget struct {
	img *image.RGBA
}

// NewPixmapTarget creates a CPU-backed render target.
func NewPixmapTarget(width, height int) *PixmapTarget {
	return &PixmapTarget{
		img: image.NewRGBA(image.Rect(0, 0, width, height)),
	}
}

// NewPixmapTargetFromImage wraps an existing *image.RGBA as a render
// target. The image is used directly without copying.
func NewPixmapTargetFromImage(img *image.RGBA) *PixmapTarget {
	return &PixmapTarget{img: img}
}

// Width returns the target width in pixels.
func (t *PixmapTarget) Width() int {
	return t.img.Bounds().Dx()
}

// Height returns the target height in pixels.
func (t *PixmapTarget) Height() int {
	return t.img.Bounds().Dy()
}

// Pixels returns the raw RGBA pixel data.
func (t *PixmapTarget) Pixels() []byte {
	return t.img.Pix
}

// Stride returns the number of bytes per row.
func (t *PixmapTarget) Stride() int {
	return t.img.Stride
}

// Image returns the underlying image.
func (t *PixmapTarget) Image() *image.RGBA {
	return t.img
}
