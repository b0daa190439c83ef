package texcache

// Tier is the resolution tier of a cached texture. Tiers are ordered:
// a higher tier is a better rendering of the same key, and a populate
// never replaces an entry with a lower tier than the one it holds.
type Tier uint8

const (
	// TierPlaceholder is a tiny stand-in drawn while real content decodes.
	// Placeholder textures are not charged against the memory budget and
	// are never evicted to make room.
	TierPlaceholder Tier = iota

	// TierHalf holds the page at half the requested resolution. Used as an
	// interim under memory pressure and for low-resolution preloading.
	TierHalf

	// TierFull holds the page at the requested resolution.
	TierFull
)

func (t Tier) String() string {
	switch t {
	case TierPlaceholder:
		return "placeholder"
	case TierHalf:
		return "half"
	case TierFull:
		return "full"
	}
	return "unknown"
}

// decodeScale returns the factor applied to the key's scale when decoding
// for this tier.
func (t Tier) decodeScale() float64 {
	switch t {
	case TierHalf:
		return 0.5
	case TierPlaceholder:
		return 0.125
	}
	return 1.0
}
