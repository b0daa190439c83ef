package texcache

import (
	"fmt"
	"math"

	"github.com/dgryski/go-farm"
)

// DocumentID identifies an open document. IDs are stable for the lifetime
// of a process but carry no meaning across runs; nothing here is persisted.
type DocumentID uint64

// IdentifyDocument derives a DocumentID from a document identity string
// (usually the resolved file path). The same identity always hashes to the
// same ID, so re-opening a document hits its still-resident textures.
func IdentifyDocument(identity string) DocumentID {
	return DocumentID(farm.Hash64([]byte(identity)))
}

// Quadrant is a page rotation in 90-degree increments. Rotation is stored
// as a discrete quadrant, not a continuous angle: continuous values would
// give almost every request a distinct cache key and defeat caching.
type Quadrant uint8

const (
	// Rotate0 is the upright orientation.
	Rotate0 Quadrant = iota

	// Rotate90 is a quarter turn clockwise.
	Rotate90

	// Rotate180 is upside down.
	Rotate180

	// Rotate270 is a quarter turn counter-clockwise.
	Rotate270
)

// QuadrantFromDegrees snaps an angle in degrees to the nearest quadrant.
// Negative angles and angles beyond a full turn are normalized first.
func QuadrantFromDegrees(degrees int) Quadrant {
	deg := degrees % 360
	if deg < 0 {
		deg += 360
	}
	return Quadrant(((deg + 45) / 90) % 4)
}

// Degrees returns the rotation in degrees.
func (q Quadrant) Degrees() int { return int(q) * 90 }

// String returns the rotation in degrees, e.g. "90°".
func (q Quadrant) String() string { return fmt.Sprintf("%d°", q.Degrees()) }

// ScaleTier is a render scale quantized to one of the cache's fixed tiers.
// Requests differing only in sub-pixel scale quantize to the same tier, so
// they share one cache entry instead of thrashing.
type ScaleTier float32

// Scale returns the tier's scale factor.
func (s ScaleTier) Scale() float64 { return float64(s) }

// DefaultScaleTiers is the default set of zoom levels the cache quantizes
// to. Hosts with a different zoom ladder override it via configuration.
var DefaultScaleTiers = []float64{0.25, 0.5, 0.75, 1.0, 1.25, 1.5, 2.0, 3.0, 4.0}

// QuantizeScale maps a continuous render scale to the nearest tier.
// An empty tier set falls back to DefaultScaleTiers.
func QuantizeScale(scale float64, tiers []float64) ScaleTier {
	if len(tiers) == 0 {
		tiers = DefaultScaleTiers
	}
	best := tiers[0]
	bestDist := math.Abs(scale - best)
	for _, t := range tiers[1:] {
		if d := math.Abs(scale - t); d < bestDist {
			best = t
			bestDist = d
		}
	}
	return ScaleTier(best)
}

// Key identifies one cached page rendering. Equality and hashing are
// structural; Key is a comparable value type usable as a map key.
type Key struct {
	// Document is the owning document.
	Document DocumentID

	// Page is the zero-based page index.
	Page int

	// Scale is the quantized render scale.
	Scale ScaleTier

	// Rotation is the page rotation quadrant.
	Rotation Quadrant
}

// String formats the key for logs.
func (k Key) String() string {
	return fmt.Sprintf("doc=%x page=%d scale=%g rot=%s", uint64(k.Document), k.Page, k.Scale, k.Rotation)
}
