package texcache

import (
	"context"
	"image"
)

// PageDecoder produces page bitmaps for the cache to upload. Implementations
// wrap the host application's document engine (PDF, DjVu, image stacks).
//
// DecodePage renders the given page at the given scale and rotation and
// returns a tightly-packed RGBA bitmap. It must honor ctx cancellation:
// decodes for abandoned preloads are cancelled and their work discarded.
// Implementations must be safe for concurrent use; the cache decodes
// several pages at once.
type PageDecoder interface {
	DecodePage(ctx context.Context, doc DocumentID, page int, scale float64, rotation Quadrant) (*image.RGBA, error)
}
