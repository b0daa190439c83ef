// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

//go:build nogpu

package render

import "github.com/gogpu/docview/gpuctx"

func newGPUBlitter(gpuctx.Device) (blitter, error) {
	return nil, nil
}
