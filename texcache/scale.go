package texcache

import (
	"image"

	"golang.org/x/image/draw"
)

// halveRGBA returns bm scaled to half its dimensions.
func halveRGBA(bm *image.RGBA) *image.RGBA {
	b := bm.Bounds()
	w := max(b.Dx()/2, 1)
	h := max(b.Dy()/2, 1)
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), bm, b, draw.Src, nil)
	return dst
}

// shrinkRGBA scales bm so its longest side is at most maxDim, preserving
// aspect ratio. Bitmaps already within the bound are returned unchanged.
func shrinkRGBA(bm *image.RGBA, maxDim int) *image.RGBA {
	b := bm.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= maxDim && h <= maxDim {
		return bm
	}
	if w >= h {
		h = max(h*maxDim/w, 1)
		w = maxDim
	} else {
		w = max(w*maxDim/h, 1)
		h = maxDim
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), bm, b, draw.Src, nil)
	return dst
}
