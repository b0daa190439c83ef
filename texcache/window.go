package texcache

import (
	"image"

	lru "github.com/hashicorp/golang-lru/v2"
)

// maxWindowBitmapBytes caps the size of a single bitmap kept in the reuse
// window. Oversized decodes (poster pages at high zoom) are served but not
// retained; caching a handful of them would evict everything else.
const maxWindowBitmapBytes = 64 << 20

// windowKey identifies one decoded bitmap. The tier participates because
// different tiers decode at different scales.
type windowKey struct {
	key  Key
	tier Tier
}

// bitmapWindow is a small LRU of recently decoded CPU bitmaps. It sits in
// front of the decoder so that a texture lost to eviction or context loss
// can be re-uploaded without paying for a second decode. Entries are plain
// heap memory and are not charged against the texture budget.
type bitmapWindow struct {
	cache *lru.Cache[windowKey, *image.RGBA]
}

func newBitmapWindow(size int) *bitmapWindow {
	if size <= 0 {
		return nil
	}
	c, err := lru.New[windowKey, *image.RGBA](size)
	if err != nil {
		return nil
	}
	return &bitmapWindow{cache: c}
}

func (w *bitmapWindow) get(key Key, tier Tier) (*image.RGBA, bool) {
	if w == nil {
		return nil, false
	}
	return w.cache.Get(windowKey{key, tier})
}

func (w *bitmapWindow) put(key Key, tier Tier, bm *image.RGBA) {
	if w == nil || bm == nil {
		return
	}
	if len(bm.Pix) > maxWindowBitmapBytes {
		return
	}
	w.cache.Add(windowKey{key, tier}, bm)
}

func (w *bitmapWindow) purge() {
	if w == nil {
		return
	}
	w.cache.Purge()
}
