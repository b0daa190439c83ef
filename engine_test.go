// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package docview

import (
	"context"
	"errors"
	"image"
	"image/color"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gogpu/gpucontext"

	"github.com/gogpu/docview/gpuctx"
	"github.com/gogpu/docview/render"
)

// engineSurface is a pointer type so each test gets a distinct surface
// identity in the context registry.
type engineSurface struct{ w, h int }

func (s *engineSurface) Size() (int, int) { return s.w, s.h }

// engineDecoder renders solid-color pages sized 100x100 at scale 1.
type engineDecoder struct {
	mu      sync.Mutex
	decoded map[int]int
}

func (d *engineDecoder) DecodePage(_ context.Context, _ DocumentID, page int, scale float64, _ Quadrant) (*image.RGBA, error) {
	d.mu.Lock()
	if d.decoded == nil {
		d.decoded = make(map[int]int)
	}
	d.decoded[page]++
	d.mu.Unlock()

	dim := int(math.Round(100 * scale))
	bm := image.NewRGBA(image.Rect(0, 0, dim, dim))
	fill := color.RGBA{R: 200, G: 10, B: 10, A: 255}
	for y := 0; y < dim; y++ {
		for x := 0; x < dim; x++ {
			bm.SetRGBA(x, y, fill)
		}
	}
	return bm, nil
}

func (d *engineDecoder) decodeCount(page int) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.decoded[page]
}

func memOpener() (gpuctx.Device, error) {
	return gpuctx.NewMemDevice(0), nil
}

func newTestEngine(t *testing.T, opts ...Option) (*Engine, *engineDecoder) {
	t.Helper()
	dec := &engineDecoder{}
	opts = append([]Option{WithDeviceOpener(memOpener)}, opts...)
	eng, err := NewEngine(dec, opts...)
	require.NoError(t, err)
	require.NoError(t, eng.Init(&engineSurface{w: 800, h: 600}, Callbacks{}))
	t.Cleanup(eng.Dispose)
	return eng, dec
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met within deadline")
}

func TestNewEngineNilDecoder(t *testing.T) {
	_, err := NewEngine(nil)
	assert.ErrorIs(t, err, ErrNilDecoder)
}

func TestEngineLifecycleErrors(t *testing.T) {
	eng, err := NewEngine(&engineDecoder{}, WithDeviceOpener(memOpener))
	require.NoError(t, err)

	target := render.NewPixmapTarget(200, 200)
	_, err = eng.RenderPage(target, Key{}, Viewport{Width: 100, Height: 100})
	assert.ErrorIs(t, err, ErrNotInitialized)
	assert.ErrorIs(t, eng.Preload(Key{}), ErrNotInitialized)
	assert.ErrorIs(t, eng.Reinitialize(), ErrNotInitialized)

	require.NoError(t, eng.Init(&engineSurface{w: 800, h: 600}, Callbacks{}))
	assert.ErrorIs(t, eng.Init(&engineSurface{w: 800, h: 600}, Callbacks{}), ErrAlreadyInitialized)

	eng.Dispose()
	eng.Dispose() // idempotent
	_, err = eng.RenderPage(target, Key{}, Viewport{Width: 100, Height: 100})
	assert.ErrorIs(t, err, ErrDisposed)
	assert.ErrorIs(t, eng.Init(&engineSurface{w: 800, h: 600}, Callbacks{}), ErrDisposed)
}

func TestEngineProbeSuccess(t *testing.T) {
	eng, _ := newTestEngine(t)
	assert.Equal(t, DecisionGPU, eng.Stats().Decision)
	assert.True(t, eng.Capabilities().ShouldUseGPU())
	assert.Equal(t, "mem", eng.Capabilities().Report().DeviceName)
}

func TestEngineFallbackAfterFailedProbe(t *testing.T) {
	var fallbacks atomic.Int32
	dec := &engineDecoder{}
	eng, err := NewEngine(dec, WithDeviceOpener(func() (gpuctx.Device, error) {
		return nil, errors.New("no adapter")
	}))
	require.NoError(t, err)
	err = eng.Init(&engineSurface{w: 800, h: 600}, Callbacks{
		OnFallback: func(string) { fallbacks.Add(1) },
	})
	require.NoError(t, err)
	t.Cleanup(eng.Dispose)

	assert.Equal(t, int32(1), fallbacks.Load())
	assert.Equal(t, DecisionFallback, eng.Stats().Decision)
	assert.False(t, eng.Capabilities().ShouldUseGPU())
	assert.NotEmpty(t, eng.Capabilities().Report().Reason)

	// The software path still renders.
	key := Key{Document: IdentifyDocument("fallback.pdf"), Scale: eng.Quantize(1.0)}
	target := render.NewPixmapTarget(200, 200)
	vp := Viewport{Width: 100, Height: 100}
	outcome, err := eng.RenderPage(target, key, vp)
	require.NoError(t, err)
	assert.Equal(t, OutcomeMissScheduled, outcome)
	waitUntil(t, func() bool {
		o, err := eng.RenderPage(target, key, vp)
		return err == nil && o == OutcomeDrawnFull
	})
	assert.Equal(t, uint8(200), target.Image().RGBAAt(50, 50).R)
}

func TestEngineForceFallback(t *testing.T) {
	var opened, fallbacks atomic.Int32
	dec := &engineDecoder{}
	eng, err := NewEngine(dec,
		WithForceFallback(),
		WithDeviceOpener(func() (gpuctx.Device, error) {
			opened.Add(1)
			return gpuctx.NewMemDevice(0), nil
		}))
	require.NoError(t, err)
	err = eng.Init(&engineSurface{w: 800, h: 600}, Callbacks{
		OnFallback: func(string) { fallbacks.Add(1) },
	})
	require.NoError(t, err)
	t.Cleanup(eng.Dispose)

	// Forcing the fallback skips the probe entirely.
	assert.Equal(t, int32(0), opened.Load())
	assert.Equal(t, int32(1), fallbacks.Load())
	assert.Equal(t, DecisionFallback, eng.Stats().Decision)
}

func TestEngineMemoryLimit(t *testing.T) {
	eng, _ := newTestEngine(t, WithMemoryLimit(64<<20))
	assert.Equal(t, uint64(64<<20), eng.Stats().Cache.LimitBytes)

	// A fixed limit ignores memory snapshots.
	eng.UpdateMemoryStats(MemoryStats{AvailableBytes: 8 << 30})
	assert.Equal(t, uint64(64<<20), eng.Stats().Cache.LimitBytes)
}

func TestEngineMemoryStatsDriveBudget(t *testing.T) {
	eng, _ := newTestEngine(t)
	assert.Equal(t, uint64(defaultCacheBytes), eng.Stats().Cache.LimitBytes)

	eng.UpdateMemoryStats(MemoryStats{AvailableBytes: 2 << 30})
	assert.Equal(t, uint64(512<<20), eng.Stats().Cache.LimitBytes)

	eng.UpdateMemoryStats(MemoryStats{AvailableBytes: 64 << 30})
	assert.Equal(t, uint64(maxCacheBytes), eng.Stats().Cache.LimitBytes)
}

func TestEngineRenderAndPreload(t *testing.T) {
	eng, dec := newTestEngine(t)
	doc := IdentifyDocument("report.pdf")
	key := Key{Document: doc, Page: 5, Scale: eng.Quantize(1.0)}
	target := render.NewPixmapTarget(400, 300)
	vp := Viewport{X: 10, Y: 10, Width: 100, Height: 100}

	outcome, err := eng.RenderPage(target, key, vp)
	require.NoError(t, err)
	assert.Equal(t, OutcomeMissScheduled, outcome)

	waitUntil(t, func() bool {
		o, err := eng.RenderPage(target, key, vp)
		return err == nil && o == OutcomeDrawnFull
	})
	assert.Equal(t, uint8(200), target.Image().RGBAAt(50, 50).R)

	// Moving to the page scheduled its neighbors: 2 ahead, 1 behind.
	waitUntil(t, func() bool {
		return dec.decodeCount(6) > 0 && dec.decodeCount(7) > 0 && dec.decodeCount(4) > 0
	})
	waitUntil(t, func() bool { return eng.Stats().Cache.EntryCount >= 4 })
	assert.Greater(t, eng.Stats().Cache.CurrentBytes, uint64(0))
}

func TestEnginePreloadWithoutRender(t *testing.T) {
	eng, dec := newTestEngine(t, WithPreloadWindow(1, 0))
	key := Key{Document: IdentifyDocument("a.pdf"), Page: 3, Scale: eng.Quantize(1.0)}
	require.NoError(t, eng.Preload(key))
	waitUntil(t, func() bool { return dec.decodeCount(4) > 0 })
	assert.Equal(t, 0, dec.decodeCount(3))
}

func TestEngineLossAndRestore(t *testing.T) {
	var lost, restored atomic.Int32
	dec := &engineDecoder{}
	eng, err := NewEngine(dec, WithDeviceOpener(memOpener))
	require.NoError(t, err)
	err = eng.Init(&engineSurface{w: 800, h: 600}, Callbacks{
		OnContextLost:     func(string) { lost.Add(1) },
		OnContextRestored: func() { restored.Add(1) },
	})
	require.NoError(t, err)
	t.Cleanup(eng.Dispose)

	key := Key{Document: IdentifyDocument("b.pdf"), Scale: eng.Quantize(1.0)}
	target := render.NewPixmapTarget(200, 200)
	vp := Viewport{Width: 100, Height: 100}
	_, err = eng.RenderPage(target, key, vp)
	require.NoError(t, err)
	waitUntil(t, func() bool {
		o, err := eng.RenderPage(target, key, vp)
		return err == nil && o == OutcomeDrawnFull
	})
	require.Equal(t, 1, dec.decodeCount(0))

	eng.HandleContextLoss("device removed")
	assert.Equal(t, int32(1), lost.Load())
	outcome, err := eng.RenderPage(target, key, vp)
	require.NoError(t, err)
	assert.Equal(t, OutcomeStopped, outcome)

	require.NoError(t, eng.Reinitialize())
	assert.Equal(t, int32(1), restored.Load())

	// The retained bitmap re-uploads without decoding the page again.
	waitUntil(t, func() bool {
		o, err := eng.RenderPage(target, key, vp)
		return err == nil && o == OutcomeDrawnFull
	})
	assert.Equal(t, 1, dec.decodeCount(0))
}

func TestEngineClear(t *testing.T) {
	eng, dec := newTestEngine(t, WithPreloadWindow(0, 0))
	key := Key{Document: IdentifyDocument("c.pdf"), Scale: eng.Quantize(1.0)}
	target := render.NewPixmapTarget(200, 200)
	vp := Viewport{Width: 100, Height: 100}
	_, err := eng.RenderPage(target, key, vp)
	require.NoError(t, err)
	waitUntil(t, func() bool {
		o, err := eng.RenderPage(target, key, vp)
		return err == nil && o == OutcomeDrawnFull
	})

	eng.Clear()
	assert.Equal(t, 0, eng.Stats().Cache.EntryCount)

	// Clear drops the decoded bitmaps too, so the page decodes again.
	outcome, err := eng.RenderPage(target, key, vp)
	require.NoError(t, err)
	assert.Equal(t, OutcomeMissScheduled, outcome)
	waitUntil(t, func() bool { return dec.decodeCount(0) == 2 })
}

func TestEngineFallbackWhenRestoreFails(t *testing.T) {
	var opens, fallbacks, restored atomic.Int32
	dec := &engineDecoder{}
	eng, err := NewEngine(dec, WithDeviceOpener(func() (gpuctx.Device, error) {
		if opens.Add(1) > 1 {
			return nil, errors.New("adapter gone")
		}
		return gpuctx.NewMemDevice(0), nil
	}))
	require.NoError(t, err)
	err = eng.Init(&engineSurface{w: 800, h: 600}, Callbacks{
		OnFallback:        func(string) { fallbacks.Add(1) },
		OnContextRestored: func() { restored.Add(1) },
	})
	require.NoError(t, err)
	t.Cleanup(eng.Dispose)
	require.Equal(t, DecisionGPU, eng.Stats().Decision)

	key := Key{Document: IdentifyDocument("restore.pdf"), Scale: eng.Quantize(1.0)}
	target := render.NewPixmapTarget(200, 200)
	vp := Viewport{Width: 100, Height: 100}
	_, err = eng.RenderPage(target, key, vp)
	require.NoError(t, err)
	waitUntil(t, func() bool {
		o, err := eng.RenderPage(target, key, vp)
		return err == nil && o == OutcomeDrawnFull
	})
	require.Equal(t, 1, dec.decodeCount(0))

	// The GPU does not come back. The pipeline must end up rendering on
	// the software device rather than stay stopped.
	eng.HandleContextLoss("device removed")
	require.NoError(t, eng.Reinitialize())

	assert.Equal(t, DecisionFallback, eng.Stats().Decision)
	assert.False(t, eng.Capabilities().ShouldUseGPU())
	assert.Equal(t, int32(1), fallbacks.Load())
	assert.Equal(t, int32(1), restored.Load())

	waitUntil(t, func() bool {
		o, err := eng.RenderPage(target, key, vp)
		return err == nil && o == OutcomeDrawnFull
	})
	assert.Equal(t, uint8(200), target.Image().RGBAAt(50, 50).R)
	// The retained bitmap re-uploaded without decoding the page again.
	assert.Equal(t, 1, dec.decodeCount(0))
}

// blindDevice opens fine but offers no way to read or draw its textures.
type blindDevice struct{}

func (blindDevice) Name() string                { return "blind" }
func (blindDevice) Limits() gpuctx.DeviceLimits { return gpuctx.DeviceLimits{MaxTextureDimension: 4096} }
func (blindDevice) CreateTexture(width, height int, format gpuctx.TextureFormat) (gpuctx.TextureID, error) {
	return 1, nil
}
func (blindDevice) WriteTexture(gpuctx.TextureID, []byte, int) error { return nil }
func (blindDevice) DestroyTexture(gpuctx.TextureID)                  {}
func (blindDevice) Close()                                           {}

func TestEngineFallbackWhenNoDrawPath(t *testing.T) {
	var fallbacks atomic.Int32
	dec := &engineDecoder{}
	eng, err := NewEngine(dec, WithDeviceOpener(func() (gpuctx.Device, error) {
		return blindDevice{}, nil
	}))
	require.NoError(t, err)
	err = eng.Init(&engineSurface{w: 800, h: 600}, Callbacks{
		OnFallback: func(string) { fallbacks.Add(1) },
	})
	require.NoError(t, err)
	t.Cleanup(eng.Dispose)

	// The device opened but cannot serve a draw path; that counts as a
	// failed probe and the pipeline runs on the software device.
	assert.Equal(t, int32(1), fallbacks.Load())
	assert.Equal(t, DecisionFallback, eng.Stats().Decision)
	assert.NotEmpty(t, eng.Capabilities().Report().Reason)

	key := Key{Document: IdentifyDocument("blind.pdf"), Scale: eng.Quantize(1.0)}
	target := render.NewPixmapTarget(200, 200)
	vp := Viewport{Width: 100, Height: 100}
	_, err = eng.RenderPage(target, key, vp)
	require.NoError(t, err)
	waitUntil(t, func() bool {
		o, err := eng.RenderPage(target, key, vp)
		return err == nil && o == OutcomeDrawnFull
	})
	assert.Equal(t, uint8(200), target.Image().RGBAAt(50, 50).R)
}

type hostTestTexture struct{ w, h int }

func (s *hostTestTexture) Width() int  { return s.w }
func (s *hostTestTexture) Height() int { return s.h }

type hostTestCreator struct{}

func (hostTestCreator) NewTextureFromRGBA(width, height int, data []byte) (gpucontext.Texture, error) {
	return &hostTestTexture{w: width, h: height}, nil
}

// hostTestDrawer records draw calls the way a host presentation context
// would receive them.
type hostTestDrawer struct {
	mu    sync.Mutex
	draws int
	last  gpucontext.Texture
	x, y  float32
}

func (d *hostTestDrawer) DrawTexture(tex gpucontext.Texture, x, y float32) error {
	d.mu.Lock()
	d.draws++
	d.last, d.x, d.y = tex, x, y
	d.mu.Unlock()
	return nil
}

func (d *hostTestDrawer) TextureCreator() gpucontext.TextureCreator { return hostTestCreator{} }

func (d *hostTestDrawer) drawCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.draws
}

func TestEnginePresenterPath(t *testing.T) {
	drawer := &hostTestDrawer{}
	dec := &engineDecoder{}
	eng, err := NewEngine(dec, WithPresenter(drawer))
	require.NoError(t, err)
	require.NoError(t, eng.Init(&engineSurface{w: 800, h: 600}, Callbacks{}))
	t.Cleanup(eng.Dispose)

	// The presenter's creator backs the device; textures live with the host.
	assert.Equal(t, DecisionGPU, eng.Stats().Decision)
	assert.Equal(t, "host", eng.Capabilities().Report().DeviceName)

	key := Key{Document: IdentifyDocument("host.pdf"), Scale: eng.Quantize(1.0)}
	target := render.NewPixmapTarget(400, 300)
	vp := Viewport{X: 30, Y: 40, Width: 100, Height: 100}
	_, err = eng.RenderPage(target, key, vp)
	require.NoError(t, err)
	waitUntil(t, func() bool {
		o, err := eng.RenderPage(target, key, vp)
		return err == nil && o == OutcomeDrawnFull
	})

	require.Greater(t, drawer.drawCount(), 0)
	drawer.mu.Lock()
	defer drawer.mu.Unlock()
	assert.Equal(t, float32(30), drawer.x)
	assert.Equal(t, float32(40), drawer.y)
	assert.Equal(t, 100, drawer.last.Width())
	assert.Equal(t, 100, drawer.last.Height())
}

func TestEngineConcurrentRenderDuringRestore(t *testing.T) {
	eng, _ := newTestEngine(t)
	key := Key{Document: IdentifyDocument("conc.pdf"), Scale: eng.Quantize(1.0)}
	vp := Viewport{Width: 100, Height: 100}

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			target := render.NewPixmapTarget(200, 200)
			for {
				select {
				case <-stop:
					return
				default:
				}
				_, _ = eng.RenderPage(target, key, vp)
				_ = eng.Stats()
				eng.UpdateMemoryStats(MemoryStats{AvailableBytes: 2 << 30})
			}
		}()
	}
	for i := 0; i < 20; i++ {
		eng.HandleContextLoss("driver reset")
		require.NoError(t, eng.Reinitialize())
	}
	close(stop)
	wg.Wait()

	target := render.NewPixmapTarget(200, 200)
	waitUntil(t, func() bool {
		o, err := eng.RenderPage(target, key, vp)
		return err == nil && o == OutcomeDrawnFull
	})
}

func TestEngineQuantize(t *testing.T) {
	eng, err := NewEngine(&engineDecoder{}, WithScaleTiers([]float64{0.5, 1, 2}))
	require.NoError(t, err)

	// Works before Init from the configured tiers.
	assert.Equal(t, ScaleTier(1), eng.Quantize(1.1))
	assert.Equal(t, ScaleTier(2), eng.Quantize(1.7))

	require.NoError(t, eng.Init(&engineSurface{w: 800, h: 600}, Callbacks{}))
	t.Cleanup(eng.Dispose)
	assert.Equal(t, ScaleTier(0.5), eng.Quantize(0.4))
}
