// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package docview

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gogpu/gpucontext"

	"github.com/gogpu/docview/gpuctx"
	"github.com/gogpu/docview/render"
	"github.com/gogpu/docview/texcache"
)

// Aliases for the types callers pass across the package boundary, so
// embedding applications can work against docview alone.
type (
	// Key identifies a cached page rendering.
	Key = texcache.Key
	// DocumentID is a stable identity for an open document.
	DocumentID = texcache.DocumentID
	// ScaleTier is a quantized zoom level.
	ScaleTier = texcache.ScaleTier
	// Quadrant is a page rotation in 90 degree steps.
	Quadrant = texcache.Quadrant
	// PageDecoder rasterizes document pages into bitmaps.
	PageDecoder = texcache.PageDecoder
	// Viewport is the target rectangle a page draws into.
	Viewport = render.Viewport
	// RenderTarget receives drawn page content.
	RenderTarget = render.RenderTarget
	// Outcome describes what a RenderPage call produced.
	Outcome = render.Outcome
	// Callbacks receive context lifecycle notifications.
	Callbacks = gpuctx.Callbacks
)

// Outcome values, re-exported from render.
const (
	OutcomeStopped       = render.OutcomeStopped
	OutcomeMissScheduled = render.OutcomeMissScheduled
	OutcomeDrawnInterim  = render.OutcomeDrawnInterim
	OutcomeDrawnFull     = render.OutcomeDrawnFull
)

// IdentifyDocument derives a DocumentID from a stable identity string,
// typically the document's absolute path or URL.
func IdentifyDocument(identity string) DocumentID {
	return texcache.IdentifyDocument(identity)
}

var (
	// ErrNilDecoder is returned by NewEngine without a page decoder.
	ErrNilDecoder = errors.New("docview: nil page decoder")

	// ErrNotInitialized is returned by operations before Init.
	ErrNotInitialized = errors.New("docview: engine not initialized")

	// ErrAlreadyInitialized is returned by a second Init.
	ErrAlreadyInitialized = errors.New("docview: engine already initialized")

	// ErrDisposed is returned by operations after Dispose.
	ErrDisposed = errors.New("docview: engine disposed")
)

// Engine assembles the page rendering pipeline: a context manager, a
// texture cache fed by the decoder, and a renderer. Construct with
// NewEngine, bind to a surface with Init, and call RenderPage each
// frame.
//
// Engine methods are safe for concurrent use. Lifecycle callbacks run
// synchronously on the goroutine that triggered them and must not call
// back into the Engine.
type Engine struct {
	decoder PageDecoder
	caps    Capabilities

	// Configuration, fixed after NewEngine.
	window        texcache.PreloadWindow
	tiers         []float64
	forceFallback bool
	opener        gpuctx.DeviceOpener
	presenter     gpucontext.TextureDrawer
	preloadConc   int64
	windowPages   int

	mu       sync.RWMutex
	surface  gpuctx.Surface
	cb       Callbacks // as passed to Init
	wcb      Callbacks // wrapped with cache invalidation
	mgr      *gpuctx.Manager
	cache    *texcache.Cache
	renderer *render.PageRenderer

	initialized bool
	disposed    bool
}

// NewEngine creates an unbound engine. Nothing touches the GPU until
// Init.
func NewEngine(decoder PageDecoder, opts ...Option) (*Engine, error) {
	if decoder == nil {
		return nil, ErrNilDecoder
	}
	e := &Engine{
		decoder: decoder,
		window:  texcache.PreloadWindow{Ahead: 2, Behind: 1},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// softwareOpener opens the in-memory device the fallback path runs on.
func softwareOpener() (gpuctx.Device, error) {
	return gpuctx.NewMemDevice(0), nil
}

// Init probes the GPU, binds the surface, and builds the cache and
// renderer. The probe runs once per engine: if no usable adapter or
// device exists, or the device cannot serve a draw path, cb.OnFallback
// fires and the pipeline runs on the software device instead. Init
// never fails because of a missing GPU.
func (e *Engine) Init(surface gpuctx.Surface, cb Callbacks) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.disposed {
		return ErrDisposed
	}
	if e.initialized {
		return ErrAlreadyInitialized
	}
	e.surface = surface
	e.cb = cb
	e.wcb = Callbacks{
		OnContextLost: func(reason string) {
			// Drop device-resident textures before the host reacts;
			// decoded bitmaps are retained for cheap re-upload.
			e.mu.RLock()
			cache := e.cache
			e.mu.RUnlock()
			if cache != nil {
				cache.InvalidateForContextLoss()
			}
			if cb.OnContextLost != nil {
				cb.OnContextLost(reason)
			}
		},
		OnContextRestored: cb.OnContextRestored,
		OnFallback:        cb.OnFallback,
	}

	if e.forceFallback {
		e.caps.resolve(DecisionFallback, gpuctx.CapabilityState{
			Reason: "fallback forced by configuration",
		})
		if cb.OnFallback != nil {
			cb.OnFallback("fallback forced by configuration")
		}
	} else {
		opener := e.opener
		if opener == nil && e.presenter != nil {
			// The host owns the context; wrap its texture creator
			// instead of opening a device of our own.
			opener = func() (gpuctx.Device, error) {
				return gpuctx.NewHostDevice(e.presenter.TextureCreator(), nil)
			}
		}
		var mgrOpts []gpuctx.ManagerOption
		if opener != nil {
			mgrOpts = append(mgrOpts, gpuctx.WithDeviceOpener(opener))
		}
		mgr := gpuctx.NewManager(mgrOpts...)
		caps, err := mgr.Initialize(surface, e.wcb)
		if err != nil {
			return err
		}
		if caps.Available {
			e.caps.resolve(DecisionGPU, caps)
			e.mgr = mgr
		} else {
			// A failed probe leaves the manager uninitialized and the
			// surface unbound; the software manager takes over below.
			e.caps.resolve(DecisionFallback, caps)
		}
	}

	if e.mgr == nil {
		mgr := gpuctx.NewManager(gpuctx.WithDeviceOpener(softwareOpener))
		if _, err := mgr.Initialize(surface, e.wcb); err != nil {
			return err
		}
		e.mgr = mgr
	}

	dev, err := e.mgr.Device()
	if err != nil {
		return err
	}
	cache, err := texcache.New(texcache.Config{
		Device:             dev,
		Decoder:            e.decoder,
		LimitBytes:         uint64(e.caps.CacheMemoryLimitBytes()),
		ScaleTiers:         e.tiers,
		PreloadConcurrency: e.preloadConc,
		WindowPages:        e.windowPages,
	})
	if err != nil {
		e.mgr.Dispose()
		e.mgr = nil
		return err
	}
	e.cache = cache
	e.renderer = render.New(e.mgr, e.cache, e.renderOptions()...)

	// A device can open and still offer no way to draw. That counts as
	// a failed probe: demote and finish on the software device.
	if err := e.renderer.Initialize(); err != nil {
		if !e.caps.ShouldUseGPU() {
			e.teardownLocked()
			return err
		}
		reason := fmt.Sprintf("gpu draw path unavailable: %v", err)
		e.caps.demote(reason)
		if cb.OnFallback != nil {
			cb.OnFallback(reason)
		}
		if err := e.rebuildOnSoftware(); err != nil {
			e.teardownLocked()
			return err
		}
	}
	e.initialized = true
	return nil
}

// renderOptions builds the renderer configuration from engine options.
func (e *Engine) renderOptions() []render.Option {
	opts := []render.Option{render.WithPreloadWindow(e.window)}
	if e.presenter != nil {
		opts = append(opts, render.WithPresenter(e.presenter))
	}
	return opts
}

// rebuildOnSoftware replaces the context manager with one on the
// software device and rebuilds the renderer around it, keeping the
// cache. Called with e.mu held for writing once the GPU path is gone
// for good.
func (e *Engine) rebuildOnSoftware() error {
	if e.mgr != nil {
		// Unbinds the surface so the software manager can take it.
		e.mgr.Dispose()
		e.mgr = nil
	}
	mgr := gpuctx.NewManager(gpuctx.WithDeviceOpener(softwareOpener))
	if _, err := mgr.Initialize(e.surface, e.wcb); err != nil {
		return err
	}
	e.mgr = mgr
	dev, err := mgr.Device()
	if err != nil {
		return err
	}
	e.cache.SetDevice(dev)
	if e.renderer != nil {
		e.renderer.Dispose()
	}
	e.renderer = render.New(e.mgr, e.cache, e.renderOptions()...)
	return e.renderer.Initialize()
}

// teardownLocked releases the pipeline in dependency order: renderer,
// then the cache and its background work, then the context.
func (e *Engine) teardownLocked() {
	if e.renderer != nil {
		e.renderer.Dispose()
		e.renderer = nil
	}
	if e.cache != nil {
		e.cache.Close()
		e.cache = nil
	}
	if e.mgr != nil {
		e.mgr.Dispose()
		e.mgr = nil
	}
}

// RenderPage draws the cached rendering of key into vp on target. It
// never blocks on decoding: a miss schedules background population and
// draws an interim stand-in if one is resident. Moving to a new page
// also schedules the preload window around it.
func (e *Engine) RenderPage(target RenderTarget, key Key, vp Viewport) (Outcome, error) {
	e.mu.RLock()
	r, disposed, initialized := e.renderer, e.disposed, e.initialized
	e.mu.RUnlock()
	if disposed {
		return OutcomeStopped, ErrDisposed
	}
	if !initialized {
		return OutcomeStopped, ErrNotInitialized
	}
	return r.RenderPage(target, key, vp)
}

// Quantize snaps an arbitrary zoom factor onto the configured tiers.
func (e *Engine) Quantize(scale float64) ScaleTier {
	e.mu.RLock()
	cache := e.cache
	e.mu.RUnlock()
	if cache != nil {
		return cache.Quantize(scale)
	}
	tiers := e.tiers
	if len(tiers) == 0 {
		tiers = texcache.DefaultScaleTiers
	}
	return texcache.QuantizeScale(scale, tiers)
}

// Preload decodes the configured window of pages around current
// without drawing anything. RenderPage does this on page changes; hosts
// with their own scroll prediction can call it directly.
func (e *Engine) Preload(current Key) error {
	e.mu.RLock()
	cache, disposed, initialized := e.cache, e.disposed, e.initialized
	e.mu.RUnlock()
	if disposed {
		return ErrDisposed
	}
	if !initialized {
		return ErrNotInitialized
	}
	cache.SchedulePreload(current, e.window)
	return nil
}

// Clear drops every cached texture, typically on a document switch.
// Retained decode bitmaps are dropped too; subsequent requests re-decode.
func (e *Engine) Clear() {
	e.mu.RLock()
	cache := e.cache
	e.mu.RUnlock()
	if cache != nil {
		cache.Clear()
	}
}

// HandleContextLoss reports a lost graphics context. Device-resident
// textures are dropped and rendering returns OutcomeStopped until
// Reinitialize succeeds.
func (e *Engine) HandleContextLoss(reason string) {
	e.mu.RLock()
	mgr := e.mgr
	e.mu.RUnlock()
	if mgr != nil {
		mgr.HandleContextLoss(reason)
	}
}

// Reinitialize restores a lost context and points the cache at the new
// device. Retained bitmaps re-upload without re-decoding as pages are
// requested again. When the GPU does not come back, the pipeline moves
// to the software device and rendering resumes there; the engine does
// not stay stopped because restoration failed.
func (e *Engine) Reinitialize() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.disposed {
		return ErrDisposed
	}
	if !e.initialized {
		return ErrNotInitialized
	}
	caps, err := e.mgr.Reinitialize()
	if err != nil {
		return err
	}
	if !caps.Available {
		// The manager has fired OnFallback; finish the restoration on
		// the software device and report it restored.
		e.caps.demote(caps.Reason)
		if err := e.rebuildOnSoftware(); err != nil {
			return err
		}
		if e.cb.OnContextRestored != nil {
			e.cb.OnContextRestored()
		}
		return nil
	}
	e.caps.refreshReport(caps)
	dev, err := e.mgr.Device()
	if err != nil {
		return err
	}
	e.cache.SetDevice(dev)
	if err := e.renderer.Initialize(); err != nil {
		reason := fmt.Sprintf("gpu draw path unavailable after restore: %v", err)
		e.caps.demote(reason)
		if e.cb.OnFallback != nil {
			e.cb.OnFallback(reason)
		}
		return e.rebuildOnSoftware()
	}
	return nil
}

// UpdateMemoryStats recomputes the cache budget from a fresh host
// memory snapshot and applies it. Budgets fixed with WithMemoryLimit
// do not move.
func (e *Engine) UpdateMemoryStats(ms MemoryStats) {
	limit, changed := e.caps.updateMemory(ms)
	if !changed {
		return
	}
	e.mu.RLock()
	cache := e.cache
	e.mu.RUnlock()
	if cache != nil {
		cache.SetLimit(uint64(limit))
	}
}

// Capabilities returns the probe outcome and budget. Valid after Init.
func (e *Engine) Capabilities() *Capabilities { return &e.caps }

// Stats is a point-in-time snapshot of the pipeline.
type Stats struct {
	// Decision is the GPU-versus-fallback choice.
	Decision Decision
	// Capability is the probe detail behind the decision.
	Capability gpuctx.CapabilityState
	// Cache is the texture cache snapshot.
	Cache texcache.Stats
}

// Stats snapshots the pipeline state.
func (e *Engine) Stats() Stats {
	s := Stats{
		Decision:   e.caps.Decision(),
		Capability: e.caps.Report(),
	}
	e.mu.RLock()
	cache := e.cache
	e.mu.RUnlock()
	if cache != nil {
		s.Cache = cache.Stats()
	}
	return s
}

// Dispose tears the pipeline down: renderer first, then the cache and
// its background work, then the context. Idempotent.
func (e *Engine) Dispose() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.disposed {
		return
	}
	e.disposed = true
	e.teardownLocked()
}
