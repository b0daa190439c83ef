// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpuctx

import (
	"fmt"
	"sync"
)

// memTexture tracks a single MemDevice texture.
type memTexture struct {
	width  int
	height int
	format TextureFormat
	data   []byte
}

// MemDevice is a Device backed by ordinary memory. It serves two roles:
// the texture store for the software fallback path (the cache and renderer
// run unchanged, pixels stay CPU-resident), and the device used throughout
// the test suite.
//
// MemDevice is safe for concurrent use.
type MemDevice struct {
	mu       sync.RWMutex
	textures map[TextureID]*memTexture
	nextID   TextureID
	limits   DeviceLimits
	closed   bool

	// writes counts WriteTexture calls, for tests.
	writes int
}

// NewMemDevice creates a memory-backed device with the given texture limit.
// A maxDim <= 0 selects a limit large enough for any document page.
func NewMemDevice(maxDim int) *MemDevice {
	if maxDim <= 0 {
		maxDim = 16384
	}
	return &MemDevice{
		textures: make(map[TextureID]*memTexture),
		nextID:   1,
		limits:   DeviceLimits{MaxTextureDimension: maxDim},
	}
}

// Name returns "mem".
func (d *MemDevice) Name() string { return "mem" }

// Limits returns the configured limits.
func (d *MemDevice) Limits() DeviceLimits {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.limits
}

// CreateTexture allocates a logical texture.
func (d *MemDevice) CreateTexture(width, height int, format TextureFormat) (TextureID, error) {
	if width <= 0 || height <= 0 {
		return InvalidTexture, fmt.Errorf("%w: %dx%d", ErrInvalidTextureSize, width, height)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return InvalidTexture, ErrDeviceClosed
	}
	if width > d.limits.MaxTextureDimension || height > d.limits.MaxTextureDimension {
		return InvalidTexture, fmt.Errorf("%w: %dx%d > %d",
			ErrTextureTooLarge, width, height, d.limits.MaxTextureDimension)
	}

	id := d.nextID
	d.nextID++
	d.textures[id] = &memTexture{
		width:  width,
		height: height,
		format: format,
		data:   make([]byte, width*height*format.BytesPerPixel()),
	}
	return id, nil
}

// WriteTexture copies pixel rows into the texture's backing store.
func (d *MemDevice) WriteTexture(id TextureID, data []byte, bytesPerRow int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrDeviceClosed
	}
	tex, ok := d.textures[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownTexture, id)
	}

	rowBytes := tex.width * tex.format.BytesPerPixel()
	for y := 0; y < tex.height; y++ {
		src := y * bytesPerRow
		if src+rowBytes > len(data) {
			break
		}
		copy(tex.data[y*rowBytes:(y+1)*rowBytes], data[src:src+rowBytes])
	}
	d.writes++
	return nil
}

// DestroyTexture releases a texture. Unknown IDs are ignored.
func (d *MemDevice) DestroyTexture(id TextureID) {
	d.mu.Lock()
	delete(d.textures, id)
	d.mu.Unlock()
}

// Pixels returns the backing pixel data of a texture, or nil when the ID
// is unknown. The software renderer reads resident pages through this.
// The returned slice is shared with the device; callers must treat it as
// read-only and must not retain it across frames.
func (d *MemDevice) Pixels(id TextureID) ([]byte, int, int) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	tex, ok := d.textures[id]
	if !ok {
		return nil, 0, 0
	}
	return tex.data, tex.width, tex.height
}

// TextureCount returns the number of live textures.
func (d *MemDevice) TextureCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.textures)
}

// WriteCount returns the number of WriteTexture calls so far.
func (d *MemDevice) WriteCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.writes
}

// Close releases all textures.
func (d *MemDevice) Close() {
	d.mu.Lock()
	d.textures = make(map[TextureID]*memTexture)
	d.closed = true
	d.mu.Unlock()
}
