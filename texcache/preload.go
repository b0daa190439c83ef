package texcache

import (
	"context"
	"errors"
	"fmt"
	"image"
)

// PreloadWindow describes how far around the current page the cache
// decodes ahead of need.
type PreloadWindow struct {
	// Ahead is the number of following pages to preload.
	Ahead int

	// Behind is the number of preceding pages to preload.
	Behind int

	// LowResolution preloads neighbors at half resolution. They draw as
	// interim content on page turn and upgrade on demand.
	LowResolution bool
}

// RequestPopulate queues an asynchronous decode-and-upload for key at the
// given tier. It never blocks: if the key is already resident at an equal
// or better tier, or the same request is in flight, it is a no-op.
// Requests made here jump the preload queue; they serve a page the user
// is looking at right now.
func (c *Cache) RequestPopulate(key Key, tier Tier) {
	c.requestAsync(key, tier, 0, false)
}

// SchedulePreload records the viewer's position and queues background
// decodes for the pages around it. The current key and its window become
// the pin set: they survive eviction until the next call moves the window.
// A new call supersedes any previous one; preloads still queued for the
// old position are discarded before decoding.
func (c *Cache) SchedulePreload(current Key, w PreloadWindow) {
	gen := c.preloadGen.Add(1)

	if w.Ahead < 0 {
		w.Ahead = 0
	}
	if w.Behind < 0 {
		w.Behind = 0
	}
	keys := make([]Key, 0, w.Ahead+w.Behind)
	for i := 1; i <= w.Ahead; i++ {
		k := current
		k.Page += i
		keys = append(keys, k)
	}
	for i := 1; i <= w.Behind; i++ {
		k := current
		k.Page -= i
		if k.Page < 0 {
			continue
		}
		keys = append(keys, k)
	}

	pins := make(map[Key]struct{}, len(keys)+1)
	pins[current] = struct{}{}
	for _, k := range keys {
		pins[k] = struct{}{}
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.setPinnedLocked(pins)
	c.mu.Unlock()

	tier := TierFull
	if w.LowResolution {
		tier = TierHalf
	}
	for _, k := range keys {
		c.requestAsync(k, tier, gen, true)
	}
}

// requestAsync spawns a decode-and-populate goroutine unless the work is
// redundant. gen, when non-zero, ties the work to a preload generation;
// limited routes it through the preload concurrency gate.
func (c *Cache) requestAsync(key Key, tier Tier, gen uint64, limited bool) {
	wk := windowKey{key, tier}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if e, ok := c.entries[key]; ok && e.tier >= tier {
		c.mu.Unlock()
		return
	}
	if _, ok := c.inflight[wk]; ok {
		c.mu.Unlock()
		return
	}
	c.inflight[wk] = struct{}{}
	epoch := c.epoch.Load()
	ctx := c.baseCtx
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer func() {
			c.mu.Lock()
			delete(c.inflight, wk)
			c.mu.Unlock()
		}()

		if limited {
			if err := c.sem.Acquire(ctx, 1); err != nil {
				return
			}
			defer c.sem.Release(1)
			if gen != c.preloadGen.Load() {
				// The viewer moved on while this sat in the queue.
				return
			}
		}

		bm, err := c.decodeBitmap(ctx, key, tier)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				slogger().Debug("page decode failed", "key", key.String(), "tier", tier, "error", err)
			}
			return
		}
		if _, err := c.populate(key, tier, bm, epoch, gen); err != nil && !errors.Is(err, ErrStale) && !errors.Is(err, ErrClosed) {
			slogger().Warn("texture populate failed", "key", key.String(), "tier", tier, "error", err)
		}
	}()
}

// decodeBitmap produces the bitmap for key at tier, consulting the reuse
// window first and coalescing concurrent decodes of the same page.
func (c *Cache) decodeBitmap(ctx context.Context, key Key, tier Tier) (*image.RGBA, error) {
	if bm, ok := c.window.get(key, tier); ok {
		return bm, nil
	}
	sfKey := fmt.Sprintf("%x/%d/%g/%d/%d", uint64(key.Document), key.Page, key.Scale, key.Rotation, tier)
	v, err, _ := c.group.Do(sfKey, func() (any, error) {
		bm, err := c.decoder.DecodePage(ctx, key.Document, key.Page, key.Scale.Scale()*tier.decodeScale(), key.Rotation)
		if err != nil {
			return nil, err
		}
		c.window.put(key, tier, bm)
		return bm, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*image.RGBA), nil
}
