// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpuctx

import (
	"fmt"
	"sync"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
)

// textureDestroyer matches the Destroy method of host textures.
type textureDestroyer interface {
	Destroy()
}

// HostDevice is a Device backed by a host application's GPU resources,
// reached through gpucontext.TextureCreator (the draw context of a gogpu
// application exposes one via AsTextureDrawer().TextureCreator()). The
// host keeps ownership of the underlying context and its lifetime.
//
// Textures are created lazily: CreateTexture reserves an ID and dimensions,
// and the first WriteTexture materializes the host texture from the pixel
// data. Re-uploads prefer in-place updates when the host texture supports
// them and otherwise replace the texture, destroying the old one.
type HostDevice struct {
	mu       sync.Mutex
	creator  gpucontext.TextureCreator
	provider gpucontext.DeviceProvider
	limits   DeviceLimits

	textures map[TextureID]*hostTexture
	nextID   TextureID
	closed   bool
}

// hostTexture tracks a host texture plus its creation parameters.
type hostTexture struct {
	tex    gpucontext.Texture // nil until first upload
	width  int
	height int
}

// NewHostDevice wraps a host texture creator as a Device. The provider is
// optional; when present it is used for surface-format diagnostics only —
// the host keeps ownership of the underlying gpucontext.Device.
func NewHostDevice(creator gpucontext.TextureCreator, provider gpucontext.DeviceProvider) (*HostDevice, error) {
	if creator == nil {
		return nil, fmt.Errorf("gpuctx: nil texture creator")
	}
	d := &HostDevice{
		creator:  creator,
		provider: provider,
		// Hosts do not expose limits; use a typical GPU limit.
		limits:   DeviceLimits{MaxTextureDimension: 8192},
		textures: make(map[TextureID]*hostTexture),
		nextID:   1,
	}
	return d, nil
}

// Name identifies the device for diagnostics.
func (d *HostDevice) Name() string {
	if d.provider != nil {
		return fmt.Sprintf("host (%v)", d.provider.SurfaceFormat())
	}
	return "host"
}

// Limits returns the assumed host limits.
func (d *HostDevice) Limits() DeviceLimits { return d.limits }

// SurfaceFormat returns the host's preferred surface format, or RGBA8
// when no provider is attached.
func (d *HostDevice) SurfaceFormat() gputypes.TextureFormat {
	if d.provider != nil {
		return d.provider.SurfaceFormat()
	}
	return gputypes.TextureFormatRGBA8Unorm
}

// CreateTexture reserves a texture ID. The host texture itself is created
// on first WriteTexture, because hosts create textures from pixel data.
func (d *HostDevice) CreateTexture(width, height int, format TextureFormat) (TextureID, error) {
	if width <= 0 || height <= 0 {
		return InvalidTexture, fmt.Errorf("%w: %dx%d", ErrInvalidTextureSize, width, height)
	}
	if width > d.limits.MaxTextureDimension || height > d.limits.MaxTextureDimension {
		return InvalidTexture, fmt.Errorf("%w: %dx%d > %d",
			ErrTextureTooLarge, width, height, d.limits.MaxTextureDimension)
	}
	_ = format // hosts take RGBA; the decoder already produces it

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return InvalidTexture, ErrDeviceClosed
	}
	id := d.nextID
	d.nextID++
	d.textures[id] = &hostTexture{width: width, height: height}
	return id, nil
}

// WriteTexture uploads pixels, materializing or replacing the host texture.
func (d *HostDevice) WriteTexture(id TextureID, data []byte, bytesPerRow int) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrDeviceClosed
	}
	entry, ok := d.textures[id]
	d.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownTexture, id)
	}
	if bytesPerRow != entry.width*4 {
		return fmt.Errorf("gpuctx: host upload requires tightly packed RGBA rows")
	}

	if up, ok := entry.tex.(gpucontext.TextureUpdater); ok {
		if err := up.UpdateData(data); err == nil {
			return nil
		}
		// In-place update refused; replace the texture below.
	}

	tex, err := d.creator.NewTextureFromRGBA(entry.width, entry.height, data)
	if err != nil {
		return fmt.Errorf("gpuctx: host texture creation: %w", err)
	}

	d.mu.Lock()
	old := entry.tex
	entry.tex = tex
	d.mu.Unlock()

	// Safe to destroy now: NewTextureFromRGBA waits for prior GPU work.
	if destroyer, ok := old.(textureDestroyer); ok {
		destroyer.Destroy()
	}
	return nil
}

// DestroyTexture releases a host texture. Unknown IDs are ignored.
func (d *HostDevice) DestroyTexture(id TextureID) {
	d.mu.Lock()
	entry, ok := d.textures[id]
	if ok {
		delete(d.textures, id)
	}
	d.mu.Unlock()

	if ok {
		if destroyer, ok := entry.tex.(textureDestroyer); ok {
			destroyer.Destroy()
		}
	}
}

// Texture returns the host texture for drawing, or nil when the ID is
// unknown or not yet uploaded. The renderer passes the result to the
// host's DrawTexture for the current frame only.
func (d *HostDevice) Texture(id TextureID) gpucontext.Texture {
	d.mu.Lock()
	defer d.mu.Unlock()
	entry, ok := d.textures[id]
	if !ok {
		return nil
	}
	return entry.tex
}

// Close destroys all tracked host textures. The host's device itself is
// left untouched; docview does not own it.
func (d *HostDevice) Close() {
	d.mu.Lock()
	textures := d.textures
	d.textures = make(map[TextureID]*hostTexture)
	d.closed = true
	d.mu.Unlock()

	for _, entry := range textures {
		if destroyer, ok := entry.tex.(textureDestroyer); ok {
			destroyer.Destroy()
		}
	}
}
