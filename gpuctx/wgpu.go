//go:build !nogpu

// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpuctx

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	types "github.com/gogpu/gputypes"
)

// HAL device errors.
var (
	// ErrNoBackend is returned when no wgpu HAL backend is available.
	ErrNoBackend = errors.New("gpuctx: no wgpu backend available")

	// ErrNoAdapter is returned when no GPU adapter is found.
	ErrNoAdapter = errors.New("gpuctx: no GPU adapters found")
)

// halTexture tracks a HAL texture together with the metadata needed to
// set up uploads (the HAL write call needs explicit extents and strides).
type halTexture struct {
	tex    hal.Texture
	width  int
	height int
	format TextureFormat
}

// halDevice is the wgpu-backed Device. It opens a standalone device on the
// first available adapter, preferring discrete over integrated GPUs.
type halDevice struct {
	mu       sync.Mutex
	instance hal.Instance
	device   hal.Device
	queue    hal.Queue
	name     string
	limits   DeviceLimits

	textures map[TextureID]*halTexture
	nextID   TextureID
	closed   bool
}

// OpenDevice opens a graphics device through the wgpu HAL. This is the
// default DeviceOpener used by Manager.
func OpenDevice() (Device, error) {
	backend, ok := hal.GetBackend(gputypes.BackendVulkan)
	if !ok {
		return nil, ErrNoBackend
	}
	instance, err := backend.CreateInstance(&hal.InstanceDescriptor{Flags: 0})
	if err != nil {
		return nil, fmt.Errorf("gpuctx: create instance: %w", err)
	}

	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		return nil, ErrNoAdapter
	}

	var selected *hal.ExposedAdapter
	for i := range adapters {
		if adapters[i].Info.DeviceType == gputypes.DeviceTypeDiscreteGPU ||
			adapters[i].Info.DeviceType == gputypes.DeviceTypeIntegratedGPU {
			selected = &adapters[i]
			break
		}
	}
	if selected == nil {
		selected = &adapters[0]
	}

	limits := gputypes.DefaultLimits()
	openDev, err := selected.Adapter.Open(gputypes.Features(0), limits)
	if err != nil {
		return nil, fmt.Errorf("gpuctx: open device: %w", err)
	}

	slogger().Info("gpuctx: opened GPU device", "adapter", selected.Info.Name)
	return &halDevice{
		instance: instance,
		device:   openDev.Device,
		queue:    openDev.Queue,
		name:     selected.Info.Name,
		limits:   DeviceLimits{MaxTextureDimension: int(limits.MaxTextureDimension2D)},
		textures: make(map[TextureID]*halTexture),
		nextID:   1,
	}, nil
}

// Name returns the adapter name.
func (d *halDevice) Name() string { return d.name }

// Limits returns the device limits negotiated at open time.
func (d *halDevice) Limits() DeviceLimits { return d.limits }

// CreateTexture creates a 2D HAL texture sized for sampled page content.
func (d *halDevice) CreateTexture(width, height int, format TextureFormat) (TextureID, error) {
	if width <= 0 || height <= 0 {
		return InvalidTexture, fmt.Errorf("%w: %dx%d", ErrInvalidTextureSize, width, height)
	}
	if width > d.limits.MaxTextureDimension || height > d.limits.MaxTextureDimension {
		return InvalidTexture, fmt.Errorf("%w: %dx%d > %d",
			ErrTextureTooLarge, width, height, d.limits.MaxTextureDimension)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return InvalidTexture, ErrDeviceClosed
	}

	desc := &hal.TextureDescriptor{
		Label: "docview-page",
		Size: hal.Extent3D{
			Width:              uint32(width),
			Height:             uint32(height),
			DepthOrArrayLayers: 1,
		},
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     types.TextureDimension2D,
		Format:        halFormat(format),
		Usage:         types.TextureUsageCopyDst | types.TextureUsageCopySrc | types.TextureUsageTextureBinding,
	}

	tex, err := d.device.CreateTexture(desc)
	if err != nil {
		return InvalidTexture, fmt.Errorf("gpuctx: create texture: %w", err)
	}

	id := d.nextID
	d.nextID++
	d.textures[id] = &halTexture{tex: tex, width: width, height: height, format: format}
	return id, nil
}

// WriteTexture uploads pixel data to a texture through the queue.
func (d *halDevice) WriteTexture(id TextureID, data []byte, bytesPerRow int) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrDeviceClosed
	}
	tex, ok := d.textures[id]
	d.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownTexture, id)
	}

	dst := &hal.ImageCopyTexture{
		Texture:  tex.tex,
		MipLevel: 0,
		Origin:   hal.Origin3D{X: 0, Y: 0, Z: 0},
		Aspect:   types.TextureAspectAll,
	}
	layout := &hal.ImageDataLayout{
		Offset:       0,
		BytesPerRow:  uint32(bytesPerRow),
		RowsPerImage: uint32(tex.height),
	}
	size := &hal.Extent3D{
		Width:              uint32(tex.width),
		Height:             uint32(tex.height),
		DepthOrArrayLayers: 1,
	}

	d.queue.WriteTexture(dst, data, layout, size)
	return nil
}

// DestroyTexture releases a HAL texture. Unknown IDs are ignored.
func (d *halDevice) DestroyTexture(id TextureID) {
	d.mu.Lock()
	tex, ok := d.textures[id]
	if ok {
		delete(d.textures, id)
	}
	d.mu.Unlock()

	if ok {
		d.device.DestroyTexture(tex.tex)
	}
}

// HAL exposes the underlying HAL device and queue so the renderer can
// build its pipeline objects against the same device.
func (d *halDevice) HAL() (hal.Device, hal.Queue) {
	return d.device, d.queue
}

// HALTexture returns the HAL handle behind a texture ID, for command
// encoding (copies, barriers) by the renderer.
func (d *halDevice) HALTexture(id TextureID) (hal.Texture, bool) {
	d.mu.Lock()
	tex, ok := d.textures[id]
	d.mu.Unlock()
	if !ok {
		return nil, false
	}
	return tex.tex, true
}

// Close destroys every tracked texture and releases the device.
func (d *halDevice) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	textures := d.textures
	d.textures = make(map[TextureID]*halTexture)
	d.closed = true
	d.mu.Unlock()

	for _, tex := range textures {
		d.device.DestroyTexture(tex.tex)
	}
}

// halFormat converts a pipeline format to the HAL format.
func halFormat(format TextureFormat) types.TextureFormat {
	switch format {
	case FormatRGBA8:
		return types.TextureFormatRGBA8Unorm
	case FormatBGRA8:
		return types.TextureFormatBGRA8Unorm
	case FormatR8:
		return types.TextureFormatR8Unorm
	default:
		return types.TextureFormatRGBA8Unorm
	}
}
