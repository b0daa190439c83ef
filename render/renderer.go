// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package render

import (
	"errors"
	"sync"

	"github.com/gogpu/gpucontext"

	"github.com/gogpu/docview/gpuctx"
	"github.com/gogpu/docview/texcache"
)

var (
	// ErrDisposed is returned by RenderPage after Dispose.
	ErrDisposed = errors.New("render: renderer is disposed")

	// ErrNilTarget is returned by RenderPage for a nil target.
	ErrNilTarget = errors.New("render: nil target")

	// ErrNoDrawPath reports that the active device offers no way to get
	// texture content into the given target.
	ErrNoDrawPath = errors.New("render: no draw path for device and target")
)

// Outcome reports what RenderPage put on screen.
type Outcome uint8

const (
	// OutcomeStopped means nothing was drawn: the GPU context is lost or
	// the renderer is shut down. Callers wait for restoration.
	OutcomeStopped Outcome = iota

	// OutcomeMissScheduled means no content for the page is resident yet.
	// The viewport was cleared and a decode is on its way.
	OutcomeMissScheduled

	// OutcomeDrawnInterim means a stand-in was drawn (a lower resolution
	// tier or a neighboring zoom level) while the requested rendering
	// decodes in the background.
	OutcomeDrawnInterim

	// OutcomeDrawnFull means the page was drawn at the requested tier.
	OutcomeDrawnFull
)

func (o Outcome) String() string {
	switch o {
	case OutcomeStopped:
		return "stopped"
	case OutcomeMissScheduled:
		return "miss-scheduled"
	case OutcomeDrawnInterim:
		return "drawn-interim"
	case OutcomeDrawnFull:
		return "drawn-full"
	}
	return "unknown"
}

// Drawn reports whether any page content reached the target.
func (o Outcome) Drawn() bool {
	return o == OutcomeDrawnInterim || o == OutcomeDrawnFull
}

// Option configures a PageRenderer.
type Option func(*PageRenderer)

// WithPreloadWindow sets how far around the current page the renderer
// asks the cache to decode ahead.
func WithPreloadWindow(w texcache.PreloadWindow) Option {
	return func(r *PageRenderer) { r.window = w }
}

// WithPresenter routes GPU texture draws through the host surface. The
// drawer comes from the embedding application's presentation context.
func WithPresenter(dc gpucontext.TextureDrawer) Option {
	return func(r *PageRenderer) { r.presenter = dc }
}

// PageRenderer turns page render requests into draws from the texture
// cache. It never waits for a decode: a request either draws resident
// content (at the requested tier or a stand-in) or schedules background
// population and returns.
//
// Methods are safe for concurrent use, though hosts typically call
// RenderPage from a single frame loop.
type PageRenderer struct {
	mgr   *gpuctx.Manager
	cache *texcache.Cache

	window    texcache.PreloadWindow
	presenter gpucontext.TextureDrawer

	mu       sync.Mutex
	blit     blitter
	blitDev  gpuctx.Device
	lastDoc  texcache.DocumentID
	lastPage int
	tracking bool
	disposed bool
}

// New creates a PageRenderer drawing from cache under mgr's context.
func New(mgr *gpuctx.Manager, cache *texcache.Cache, opts ...Option) *PageRenderer {
	r := &PageRenderer{
		mgr:    mgr,
		cache:  cache,
		window: texcache.PreloadWindow{Ahead: 2, Behind: 1},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Initialize builds the draw path for the manager's current device up
// front, so a device that opens but cannot serve a draw path (shader
// compilation, pipeline objects) surfaces at setup time and the caller
// can fall back, instead of failing on every frame. RenderPage still
// rebuilds the path itself when restoration swaps devices.
func (r *PageRenderer) Initialize() error {
	dev, err := r.mgr.Device()
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.disposed {
		return ErrDisposed
	}
	if r.blit != nil && r.blitDev == dev {
		return nil
	}
	b, err := r.blitFor(dev)
	if err != nil {
		return err
	}
	if d, ok := r.blit.(interface{ destroy() }); ok {
		d.destroy()
	}
	r.blit = b
	r.blitDev = dev
	return nil
}

// RenderPage draws the page identified by key into vp on target.
//
// Resident content draws immediately. On a miss the renderer draws the
// best stand-in it can find (a lower tier of the same key, or another
// zoom level of the same page scaled to fit), queues the real decode,
// and reports what happened. It never blocks on decode work.
func (r *PageRenderer) RenderPage(target RenderTarget, key texcache.Key, vp Viewport) (Outcome, error) {
	if target == nil {
		return OutcomeStopped, ErrNilTarget
	}
	r.mu.Lock()
	if r.disposed {
		r.mu.Unlock()
		return OutcomeStopped, ErrDisposed
	}
	moved := !r.tracking || r.lastDoc != key.Document || r.lastPage != key.Page
	r.lastDoc = key.Document
	r.lastPage = key.Page
	r.tracking = true
	r.mu.Unlock()

	switch r.mgr.State() {
	case gpuctx.StateLost:
		// Draws stop until the host restores the context.
		return OutcomeStopped, nil
	case gpuctx.StateDisposed, gpuctx.StateUninitialized:
		return OutcomeStopped, gpuctx.ErrNotInitialized
	}

	dev, err := r.mgr.Device()
	if err != nil {
		return OutcomeStopped, err
	}

	if moved {
		r.cache.SchedulePreload(key, r.window)
	}

	if v, ok := r.cache.Get(key); ok {
		if err := r.draw(dev, target, v, vp); err != nil {
			return OutcomeStopped, err
		}
		if v.Tier >= texcache.TierFull {
			return OutcomeDrawnFull, nil
		}
		r.cache.RequestPopulate(key, texcache.TierFull)
		return OutcomeDrawnInterim, nil
	}

	r.cache.RequestPopulate(key, texcache.TierFull)
	slogger().Debug("page miss, decode scheduled", "key", key.String())

	// Look for another zoom level of the same page to stretch while the
	// requested one decodes.
	if v, ok := r.bestAlternate(key); ok {
		if err := r.draw(dev, target, v, vp); err != nil {
			return OutcomeStopped, err
		}
		return OutcomeDrawnInterim, nil
	}

	clearViewport(target, vp)
	return OutcomeMissScheduled, nil
}

// bestAlternate finds a resident entry for the same page at a different
// scale tier, preferring the scale nearest the requested one.
func (r *PageRenderer) bestAlternate(key texcache.Key) (texcache.EntryView, bool) {
	var best texcache.EntryView
	var bestDist float64
	found := false
	for _, s := range r.cache.Tiers() {
		alt := key
		alt.Scale = texcache.ScaleTier(s)
		if alt == key {
			continue
		}
		v, ok := r.cache.Peek(alt)
		if !ok || v.Tier == texcache.TierPlaceholder {
			continue
		}
		d := s - key.Scale.Scale()
		if d < 0 {
			d = -d
		}
		if !found || d < bestDist {
			best = v
			bestDist = d
			found = true
		}
	}
	return best, found
}

// draw routes the view to the blit path matching the active device,
// rebuilding the path when the device changed (context restoration swaps
// devices under us).
func (r *PageRenderer) draw(dev gpuctx.Device, target RenderTarget, v texcache.EntryView, vp Viewport) error {
	r.mu.Lock()
	if r.blit == nil || r.blitDev != dev {
		b, err := r.blitFor(dev)
		if err != nil {
			r.mu.Unlock()
			return err
		}
		r.blit = b
		r.blitDev = dev
	}
	b := r.blit
	r.mu.Unlock()
	return b.blit(target, v, vp)
}

// blitter draws one cached texture into a target viewport.
type blitter interface {
	blit(target RenderTarget, v texcache.EntryView, vp Viewport) error
}

func (r *PageRenderer) blitFor(dev gpuctx.Device) (blitter, error) {
	if r.presenter != nil {
		if src, ok := dev.(hostTextureSource); ok {
			return &presentBlitter{dc: r.presenter, src: src}, nil
		}
	}
	if src, ok := dev.(pixelSource); ok {
		return &softwareBlitter{src: src}, nil
	}
	if b, err := newGPUBlitter(dev); err == nil && b != nil {
		return b, nil
	}
	return nil, ErrNoDrawPath
}

// Dispose stops the renderer. The manager and cache are owned by the
// caller and are left alone.
func (r *PageRenderer) Dispose() {
	r.mu.Lock()
	if !r.disposed {
		r.disposed = true
		if d, ok := r.blit.(interface{ destroy() }); ok {
			d.destroy()
		}
		r.blit = nil
		r.blitDev = nil
	}
	r.mu.Unlock()
}

// hostTextureSource is implemented by devices whose textures live in the
// host presentation context.
type hostTextureSource interface {
	Texture(id gpuctx.TextureID) gpucontext.Texture
}

// presentBlitter hands textures to the host surface for composition.
type presentBlitter struct {
	dc  gpucontext.TextureDrawer
	src hostTextureSource
}

func (b *presentBlitter) blit(_ RenderTarget, v texcache.EntryView, vp Viewport) error {
	tex := b.src.Texture(v.Texture)
	if tex == nil {
		// Reserved but never uploaded, or destroyed under us.
		return gpuctx.ErrUnknownTexture
	}
	return b.dc.DrawTexture(tex, float32(vp.X), float32(vp.Y))
}
