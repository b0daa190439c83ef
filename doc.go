// Package docview is a GPU-accelerated page rendering pipeline for
// document viewers.
//
// The pipeline keeps rendered pages as GPU textures under a memory
// budget, so scrolling and zooming redraw from cache instead of
// re-rasterizing. Four pieces cooperate:
//
//   - gpuctx.Manager owns the graphics context lifecycle: capability
//     detection, context loss and restoration, disposal.
//   - texcache.Cache holds page textures keyed by (document, page,
//     scale tier, rotation), evicting least-recently-used pages when
//     the budget fills and decoding ahead of the reading position.
//   - render.PageRenderer draws cached content into the viewer target,
//     substituting lower tiers or neighboring zoom levels while the
//     requested rendering decodes. It never blocks a frame on a decode.
//   - Capabilities records the probe-once GPU-versus-software decision
//     and derives the cache memory budget from host memory statistics.
//
// Engine wires the four together for hosts that want the package-level
// behavior without assembling the parts:
//
//	eng, err := docview.NewEngine(decoder)
//	if err != nil { ... }
//	if err := eng.Init(surface, docview.Callbacks{}); err != nil { ... }
//	defer eng.Dispose()
//
//	key := docview.Key{Document: docview.IdentifyDocument(path), Page: 0, Scale: eng.Quantize(zoom)}
//	outcome, err := eng.RenderPage(target, key, viewport)
//
// When no usable GPU exists the same pipeline runs on a memory-backed
// device with software scaling; callers observe nothing but the
// capability report.
package docview
