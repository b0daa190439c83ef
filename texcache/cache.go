package texcache

import (
	"container/list"
	"context"
	"errors"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/gogpu/docview/gpuctx"
)

var (
	// ErrNilDevice is returned by New when no device is configured.
	ErrNilDevice = errors.New("texcache: nil device")

	// ErrNilDecoder is returned by New when no decoder is configured.
	ErrNilDecoder = errors.New("texcache: nil decoder")

	// ErrClosed is returned by operations on a closed cache.
	ErrClosed = errors.New("texcache: cache is closed")

	// ErrEmptyBitmap is returned by Populate for a nil or zero-size bitmap.
	ErrEmptyBitmap = errors.New("texcache: empty bitmap")

	// ErrStale reports that a populate lost a race with an invalidation or
	// a newer preload generation and its result was discarded. Callers
	// treat it as informational, not a failure.
	ErrStale = errors.New("texcache: populate superseded")
)

// placeholderMaxDim bounds the longest side of a placeholder texture.
const placeholderMaxDim = 64

// defaultPreloadConcurrency bounds concurrent background decodes.
const defaultPreloadConcurrency = 2

// defaultWindowPages is the size of the decoded-bitmap reuse window.
const defaultWindowPages = 16

// Config configures a Cache.
type Config struct {
	// Device receives texture uploads. Required.
	Device gpuctx.Device

	// Decoder produces page bitmaps for asynchronous population. Required.
	Decoder PageDecoder

	// LimitBytes is the texture memory budget. Required, must be > 0.
	LimitBytes uint64

	// ScaleTiers overrides DefaultScaleTiers when non-empty.
	ScaleTiers []float64

	// PreloadConcurrency bounds concurrent background decodes.
	// Zero means defaultPreloadConcurrency.
	PreloadConcurrency int64

	// WindowPages is the number of decoded bitmaps retained for
	// re-upload after eviction or context loss. Zero means
	// defaultWindowPages; negative disables the window.
	WindowPages int
}

// EntryView is a snapshot of one cache entry, returned by Get. The texture
// it names stays valid until the next cache mutation; callers draw from it
// immediately and do not retain it across frames.
type EntryView struct {
	Key       Key
	Texture   gpuctx.TextureID
	Tier      Tier
	Width     int
	Height    int
	SizeBytes uint64
}

// Stats is a point-in-time snapshot of cache state and counters.
type Stats struct {
	EntryCount   int
	CurrentBytes uint64
	LimitBytes   uint64
	Hits         uint64
	Misses       uint64
	Evictions    uint64

	// OverBudget counts times the budget could not be met even after
	// evicting everything evictable. Non-zero values mean the limit is
	// too small for the pinned working set.
	OverBudget uint64
}

// HitRate returns the fraction of Get calls that hit, or 0 with no lookups.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

type entry struct {
	key        Key
	texture    gpuctx.TextureID
	tier       Tier
	width      int
	height     int
	sizeBytes  uint64
	lastAccess time.Time
	insertSeq  uint64
	elem       *list.Element
}

// Cache is a memory-budgeted cache of page textures keyed by
// (document, page, scale tier, rotation). All methods are safe for
// concurrent use.
//
// The cache enforces its byte budget at admission: an upload reserves its
// bytes before touching the device and commits or releases them after, so
// the sum of resident and reserved bytes never exceeds the limit outside
// the explicitly advisory over-budget paths.
type Cache struct {
	mu           sync.Mutex
	device       gpuctx.Device
	limitBytes   uint64
	currentBytes uint64
	reserved     uint64
	entries      map[Key]*entry
	lru          *list.List // front = most recent
	pinned       map[Key]struct{}
	inflight     map[windowKey]struct{}
	insertSeq    uint64
	closed       bool

	decoder PageDecoder
	tiers   []float64
	window  *bitmapWindow
	group   singleflight.Group
	sem     *semaphore.Weighted

	epoch      atomic.Uint64
	preloadGen atomic.Uint64
	hits       atomic.Uint64
	misses     atomic.Uint64
	evictions  atomic.Uint64
	overBudget atomic.Uint64

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a Cache from cfg.
func New(cfg Config) (*Cache, error) {
	if cfg.Device == nil {
		return nil, ErrNilDevice
	}
	if cfg.Decoder == nil {
		return nil, ErrNilDecoder
	}
	if cfg.LimitBytes == 0 {
		return nil, errors.New("texcache: zero memory limit")
	}
	conc := cfg.PreloadConcurrency
	if conc <= 0 {
		conc = defaultPreloadConcurrency
	}
	windowPages := cfg.WindowPages
	if windowPages == 0 {
		windowPages = defaultWindowPages
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Cache{
		device:     cfg.Device,
		limitBytes: cfg.LimitBytes,
		entries:    make(map[Key]*entry),
		lru:        list.New(),
		pinned:     make(map[Key]struct{}),
		inflight:   make(map[windowKey]struct{}),
		decoder:    cfg.Decoder,
		tiers:      cfg.ScaleTiers,
		window:     newBitmapWindow(windowPages),
		sem:        semaphore.NewWeighted(conc),
		baseCtx:    ctx,
		cancel:     cancel,
	}
	return c, nil
}

// Quantize maps a continuous scale onto the cache's tier set.
func (c *Cache) Quantize(scale float64) ScaleTier {
	return QuantizeScale(scale, c.tiers)
}

// Get looks up a key and, on a hit, marks it most recently used. The
// returned view is valid until the next cache mutation.
func (c *Cache) Get(key Key) (EntryView, bool) {
	c.mu.Lock()
	e, ok := c.entries[key]
	if !ok {
		c.mu.Unlock()
		c.misses.Add(1)
		return EntryView{}, false
	}
	e.lastAccess = time.Now()
	c.lru.MoveToFront(e.elem)
	v := EntryView{
		Key:       e.key,
		Texture:   e.texture,
		Tier:      e.tier,
		Width:     e.width,
		Height:    e.height,
		SizeBytes: e.sizeBytes,
	}
	c.mu.Unlock()
	c.hits.Add(1)
	return v, true
}

// Populate uploads bm as the texture for key at the given tier. If the key
// already holds an equal or higher tier the call is a no-op. Under memory
// pressure the bitmap is degraded a tier at a time (full to half to
// placeholder) until it fits; the achieved tier is returned.
func (c *Cache) Populate(key Key, tier Tier, bm *image.RGBA) (Tier, error) {
	return c.populate(key, tier, bm, c.epoch.Load(), 0)
}

// populate is the common insert path. epoch is the loss epoch captured when
// the work was requested; if it no longer matches, the result belongs to a
// dead context and is discarded. gen, when non-zero, is a preload
// generation checked the same way.
func (c *Cache) populate(key Key, tier Tier, bm *image.RGBA, epoch, gen uint64) (Tier, error) {
	if bm == nil || bm.Bounds().Dx() <= 0 || bm.Bounds().Dy() <= 0 {
		return 0, ErrEmptyBitmap
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return 0, ErrClosed
	}
	if e, ok := c.entries[key]; ok && e.tier >= tier {
		t := e.tier
		c.mu.Unlock()
		return t, nil
	}
	c.mu.Unlock()

	for t := tier; ; t-- {
		switch t {
		case TierHalf:
			if tier != TierHalf {
				bm = halveRGBA(bm)
			}
		case TierPlaceholder:
			bm = shrinkRGBA(bm, placeholderMaxDim)
		}
		achieved, retry, err := c.tryInsert(key, t, bm, epoch, gen)
		if err == nil || !retry {
			return achieved, err
		}
		if t == TierPlaceholder {
			// Placeholders are free; failing to insert one is a real error.
			return 0, err
		}
		if errors.Is(err, errNoRoom) {
			if t-1 == TierPlaceholder {
				c.overBudget.Add(1)
				slogger().Warn("texture over budget, falling back to placeholder",
					"key", key.String(), "limit", c.limit())
			} else {
				slogger().Debug("degrading texture tier under memory pressure",
					"key", key.String(), "from", t, "to", t-1)
			}
		}
	}
}

// errNoRoom is an internal signal that eviction could not free enough
// bytes for the requested tier.
var errNoRoom = errors.New("texcache: cannot fit within budget")

// tryInsert attempts one reserve/upload/commit cycle at a fixed tier.
// retry reports whether a lower tier is worth attempting.
func (c *Cache) tryInsert(key Key, tier Tier, bm *image.RGBA, epoch, gen uint64) (achieved Tier, retry bool, err error) {
	w := bm.Bounds().Dx()
	h := bm.Bounds().Dy()
	var need uint64
	if tier != TierPlaceholder {
		need = uint64(w) * uint64(h) * 4
	}

	// Phase one: reserve.
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return 0, false, ErrClosed
	}
	if epoch != c.epoch.Load() || (gen != 0 && gen != c.preloadGen.Load()) {
		c.mu.Unlock()
		return 0, false, ErrStale
	}
	if e, ok := c.entries[key]; ok && e.tier >= tier {
		t := e.tier
		c.mu.Unlock()
		return t, false, nil
	}
	if need > 0 && !c.evictToFitLocked(need) {
		c.mu.Unlock()
		return 0, true, errNoRoom
	}
	c.reserved += need
	dev := c.device
	c.mu.Unlock()

	tex, err := dev.CreateTexture(w, h, gpuctx.FormatRGBA8)
	if err == nil {
		err = dev.WriteTexture(tex, bm.Pix, bm.Stride)
		if err != nil {
			dev.DestroyTexture(tex)
		}
	}
	if err != nil {
		c.mu.Lock()
		c.reserved -= need
		c.mu.Unlock()
		return 0, errors.Is(err, gpuctx.ErrTextureTooLarge), err
	}

	// Phase two: commit, unless superseded while uploading.
	c.mu.Lock()
	stale := c.closed || epoch != c.epoch.Load() || (gen != 0 && gen != c.preloadGen.Load())
	if !stale {
		if e, ok := c.entries[key]; ok {
			if e.tier >= tier {
				// A concurrent populate won with a better tier.
				c.reserved -= need
				t := e.tier
				c.mu.Unlock()
				dev.DestroyTexture(tex)
				return t, false, nil
			}
			c.removeLocked(e)
		}
		c.reserved -= need
		c.currentBytes += need
		c.insertSeq++
		e := &entry{
			key:        key,
			texture:    tex,
			tier:       tier,
			width:      w,
			height:     h,
			sizeBytes:  need,
			lastAccess: time.Now(),
			insertSeq:  c.insertSeq,
		}
		e.elem = c.lru.PushFront(e)
		c.entries[key] = e
	} else {
		c.reserved -= need
	}
	c.mu.Unlock()

	if stale {
		dev.DestroyTexture(tex)
		return 0, false, ErrStale
	}
	slogger().Debug("texture cached", "key", key.String(), "tier", tier, "bytes", need)
	return tier, false, nil
}

// evictToFitLocked evicts least-recently-used unpinned entries until need
// more bytes fit within the budget. Placeholders and pinned entries are
// never victims. Reports whether the bytes now fit.
func (c *Cache) evictToFitLocked(need uint64) bool {
	if need > c.limitBytes {
		return false
	}
	for c.currentBytes+c.reserved+need > c.limitBytes {
		v := c.victimLocked()
		if v == nil {
			return false
		}
		slogger().Debug("evicting texture", "key", v.key.String(), "tier", v.tier, "bytes", v.sizeBytes)
		c.removeLocked(v)
		c.evictions.Add(1)
	}
	return true
}

// victimLocked picks the eviction victim: the least recently used unpinned
// non-placeholder entry. Entries sharing that access time are broken by
// lower tier first, then by older insertion.
func (c *Cache) victimLocked() *entry {
	var victim *entry
	for el := c.lru.Back(); el != nil; el = el.Prev() {
		e := el.Value.(*entry)
		if e.tier == TierPlaceholder {
			continue
		}
		if _, ok := c.pinned[e.key]; ok {
			continue
		}
		if victim == nil {
			victim = e
			continue
		}
		if !e.lastAccess.Equal(victim.lastAccess) {
			break
		}
		if e.tier < victim.tier || (e.tier == victim.tier && e.insertSeq < victim.insertSeq) {
			victim = e
		}
	}
	return victim
}

func (c *Cache) removeLocked(e *entry) {
	delete(c.entries, e.key)
	c.lru.Remove(e.elem)
	c.currentBytes -= e.sizeBytes
	c.device.DestroyTexture(e.texture)
}

// setPinnedLocked replaces the pin set. Pinned entries survive eviction;
// the set is the current page plus its preload window.
func (c *Cache) setPinnedLocked(keys map[Key]struct{}) {
	c.pinned = keys
}

// Peek returns the entry for key without touching recency or the
// hit/miss counters. Used for opportunistic stand-in lookups that should
// not distort cache behavior.
func (c *Cache) Peek(key Key) (EntryView, bool) {
	c.mu.Lock()
	e, ok := c.entries[key]
	if !ok {
		c.mu.Unlock()
		return EntryView{}, false
	}
	v := EntryView{
		Key:       e.key,
		Texture:   e.texture,
		Tier:      e.tier,
		Width:     e.width,
		Height:    e.height,
		SizeBytes: e.sizeBytes,
	}
	c.mu.Unlock()
	return v, true
}

// Tiers returns the scale tier set in effect.
func (c *Cache) Tiers() []float64 {
	if len(c.tiers) == 0 {
		return DefaultScaleTiers
	}
	return c.tiers
}

// Contains reports whether key is resident at or above the given tier,
// without touching recency.
func (c *Cache) Contains(key Key, tier Tier) bool {
	c.mu.Lock()
	e, ok := c.entries[key]
	resident := ok && e.tier >= tier
	c.mu.Unlock()
	return resident
}

// Clear destroys every cached texture and decoded bitmap. Called on
// document close; counters survive, content does not.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.epoch.Add(1)
	c.dropAllLocked()
	c.mu.Unlock()
	c.window.purge()
}

// InvalidateForContextLoss drops every entry after a GPU context loss.
// The underlying textures died with the context, so entries are removed
// without trusting the old device beyond a best-effort destroy. Decoded
// bitmaps are CPU memory and survive; pages re-upload from the reuse
// window without re-decoding.
func (c *Cache) InvalidateForContextLoss() {
	c.mu.Lock()
	c.epoch.Add(1)
	n := len(c.entries)
	c.dropAllLocked()
	c.mu.Unlock()
	slogger().Info("texture cache invalidated for context loss", "dropped", n)
}

func (c *Cache) dropAllLocked() {
	for _, e := range c.entries {
		c.device.DestroyTexture(e.texture)
	}
	c.entries = make(map[Key]*entry)
	c.lru.Init()
	c.currentBytes = 0
	c.pinned = make(map[Key]struct{})
}

// SetDevice retargets the cache at a fresh device after context
// restoration. Everything resident belongs to the old device — including
// entries committed by populations that slipped in between the loss
// invalidation and the restore — so the swap is itself an epoch boundary:
// entries are dropped, and in-flight work captured under the old device
// is discarded at commit. Decoded bitmaps survive for cheap re-upload.
func (c *Cache) SetDevice(dev gpuctx.Device) {
	c.mu.Lock()
	c.epoch.Add(1)
	c.dropAllLocked()
	c.device = dev
	c.mu.Unlock()
}

// SetLimit changes the memory budget, evicting as needed to honor it.
// If the pinned working set alone exceeds the new limit the cache stays
// over budget and records the fact rather than dropping pinned content.
func (c *Cache) SetLimit(bytes uint64) {
	c.mu.Lock()
	c.limitBytes = bytes
	for c.currentBytes+c.reserved > c.limitBytes {
		v := c.victimLocked()
		if v == nil {
			c.overBudget.Add(1)
			slogger().Warn("cache over budget after limit change",
				"current", c.currentBytes, "limit", c.limitBytes)
			break
		}
		c.removeLocked(v)
		c.evictions.Add(1)
	}
	c.mu.Unlock()
}

func (c *Cache) limit() uint64 {
	c.mu.Lock()
	l := c.limitBytes
	c.mu.Unlock()
	return l
}

// Stats returns a snapshot of cache state.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	s := Stats{
		EntryCount:   len(c.entries),
		CurrentBytes: c.currentBytes,
		LimitBytes:   c.limitBytes,
	}
	c.mu.Unlock()
	s.Hits = c.hits.Load()
	s.Misses = c.misses.Load()
	s.Evictions = c.evictions.Load()
	s.OverBudget = c.overBudget.Load()
	return s
}

// Close cancels in-flight decodes, waits for them, and destroys all
// cached textures. The cache is unusable afterwards.
func (c *Cache) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()

	c.mu.Lock()
	c.dropAllLocked()
	c.mu.Unlock()
	c.window.purge()
}
