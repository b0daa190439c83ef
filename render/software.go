// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package render

import (
	"image"
	"image/color"

	"golang.org/x/image/draw"

	"github.com/gogpu/docview/gpuctx"
	"github.com/gogpu/docview/texcache"
)

// pixelSource is implemented by devices whose textures are CPU-resident,
// such as the software fallback device.
type pixelSource interface {
	Pixels(id gpuctx.TextureID) ([]byte, int, int)
}

// softwareBlitter scales CPU-resident textures into CPU targets. This is
// the whole draw path when the GPU is unavailable.
type softwareBlitter struct {
	src pixelSource
}

func (b *softwareBlitter) blit(target RenderTarget, v texcache.EntryView, vp Viewport) error {
	px := target.Pixels()
	if px == nil {
		return ErrNoDrawPath
	}
	data, w, h := b.src.Pixels(v.Texture)
	if data == nil {
		return gpuctx.ErrUnknownTexture
	}
	src := &image.RGBA{Pix: data, Stride: w * 4, Rect: image.Rect(0, 0, w, h)}
	dst := targetImage(target)
	rect := clipViewport(target, vp)
	if rect.Empty() {
		return nil
	}
	draw.ApproxBiLinear.Scale(dst, rect, src, src.Rect, draw.Src, nil)
	return nil
}

// targetImage wraps a CPU target's pixels as an image without copying.
func targetImage(target RenderTarget) *image.RGBA {
	return &image.RGBA{
		Pix:    target.Pixels(),
		Stride: target.Stride(),
		Rect:   image.Rect(0, 0, target.Width(), target.Height()),
	}
}

func clipViewport(target RenderTarget, vp Viewport) image.Rectangle {
	r := image.Rect(vp.X, vp.Y, vp.X+vp.Width, vp.Y+vp.Height)
	return r.Intersect(image.Rect(0, 0, target.Width(), target.Height()))
}

// clearViewport fills the viewport with the page background so a miss
// shows blank paper rather than stale content.
func clearViewport(target RenderTarget, vp Viewport) {
	if target.Pixels() == nil {
		return
	}
	rect := clipViewport(target, vp)
	if rect.Empty() {
		return
	}
	draw.Draw(targetImage(target), rect, image.NewUniform(color.White), image.Point{}, draw.Src)
}
