//go:build nogpu

// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpuctx

import "errors"

// ErrNoBackend is returned when the build excludes GPU support.
var ErrNoBackend = errors.New("gpuctx: built without GPU support (nogpu)")

// OpenDevice always fails under the nogpu build tag. The manager reports
// the capability as unavailable and the host takes the software path.
func OpenDevice() (Device, error) {
	return nil, ErrNoBackend
}
