// Package texcache caches rendered page textures under a byte budget.
//
// Entries are keyed by (document, page, scale tier, rotation). Continuous
// zoom factors are quantized onto a fixed ladder of scale tiers so that
// near-identical requests share one texture. Within a key, content exists
// at one of three resolution tiers (placeholder, half, full); a populate
// never downgrades the tier a key already holds.
//
// The budget is enforced at admission with two-phase accounting: bytes
// are reserved before the GPU upload and committed or released after, so
// concurrent uploads cannot overshoot the limit between them. Eviction is
// least-recently-used over unpinned entries; the current page and its
// preload window are pinned and never evicted.
//
// Decoding runs off the caller's thread. RequestPopulate and
// SchedulePreload queue work and return immediately; results enter the
// cache when ready, or are discarded if a context loss or a newer scroll
// position superseded them in the meantime.
package texcache
