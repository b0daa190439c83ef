// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package docview

import (
	"log/slog"

	"github.com/gogpu/docview/gpuctx"
	"github.com/gogpu/docview/render"
	"github.com/gogpu/docview/texcache"
)

// SetLogger routes the pipeline's structured logging to logger. It
// fans out to every subpackage; pass nil to silence all of them again.
func SetLogger(logger *slog.Logger) {
	gpuctx.SetLogger(logger)
	texcache.SetLogger(logger)
	render.SetLogger(logger)
}
