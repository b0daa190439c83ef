// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpuctx

import (
	"errors"
	"fmt"
)

// Device errors.
var (
	// ErrInvalidTextureSize is returned when texture dimensions are invalid.
	ErrInvalidTextureSize = errors.New("gpuctx: invalid texture size")

	// ErrTextureTooLarge is returned when a requested texture exceeds the
	// device's maximum texture dimension.
	ErrTextureTooLarge = errors.New("gpuctx: texture exceeds device limit")

	// ErrUnknownTexture is returned when a texture ID is not tracked by the device.
	ErrUnknownTexture = errors.New("gpuctx: unknown texture")

	// ErrDeviceClosed is returned when operating on a closed device.
	ErrDeviceClosed = errors.New("gpuctx: device is closed")
)

// TextureID is an opaque handle to a device texture.
// IDs are never reused within a device's lifetime, so a stale ID held after
// destruction can be detected rather than silently aliasing a new texture.
type TextureID uint64

// InvalidTexture is the zero value, representing no texture.
const InvalidTexture TextureID = 0

// TextureFormat represents the pixel format of a device texture.
type TextureFormat uint8

const (
	// FormatRGBA8 is the standard RGBA format with 8 bits per channel.
	FormatRGBA8 TextureFormat = iota

	// FormatBGRA8 is BGRA format, often used for surface presentation.
	FormatBGRA8

	// FormatR8 is single-channel 8-bit format, used for masks and placeholders.
	FormatR8
)

// String returns a human-readable name for the format.
func (f TextureFormat) String() string {
	switch f {
	case FormatRGBA8:
		return "RGBA8"
	case FormatBGRA8:
		return "BGRA8"
	case FormatR8:
		return "R8"
	default:
		return fmt.Sprintf("Unknown(%d)", f)
	}
}

// BytesPerPixel returns the number of bytes per pixel for the format.
func (f TextureFormat) BytesPerPixel() int {
	switch f {
	case FormatRGBA8, FormatBGRA8:
		return 4
	case FormatR8:
		return 1
	default:
		return 4
	}
}

// DeviceLimits describes the capability limits of a device.
type DeviceLimits struct {
	// MaxTextureDimension is the maximum width or height of a 2D texture.
	MaxTextureDimension int
}

// Device is the narrow GPU surface the page pipeline needs: texture
// creation, pixel upload, and destruction. Everything else (pipelines,
// presentation) stays with the renderer and the host application.
//
// Implementations must be safe for concurrent use; texture population
// happens off the draw loop.
type Device interface {
	// Name returns the device identifier (e.g. the adapter name, "mem").
	Name() string

	// Limits returns the device capability limits.
	Limits() DeviceLimits

	// CreateTexture creates an uninitialized 2D texture.
	CreateTexture(width, height int, format TextureFormat) (TextureID, error)

	// WriteTexture uploads pixel data to a texture created by this device.
	// data is tightly packed rows of bytesPerRow bytes each.
	WriteTexture(id TextureID, data []byte, bytesPerRow int) error

	// DestroyTexture releases a texture. Destroying an unknown or already
	// destroyed ID is a no-op.
	DestroyTexture(id TextureID)

	// Close releases the device and every texture still tracked by it.
	Close()
}

// MinRequiredTextureDimension is the smallest maximum-texture-dimension a
// device must report for the GPU path to be considered usable. Document
// pages at common zoom levels do not fit under smaller limits.
const MinRequiredTextureDimension = 2048
