package texcache

import "testing"

func TestQuantizeScale(t *testing.T) {
	tests := []struct {
		name  string
		scale float64
		want  ScaleTier
	}{
		{"exact tier", 1.0, 1.0},
		{"just above one", 1.001, 1.0},
		{"slightly higher", 1.004, 1.0},
		{"midpoint rounds near", 1.1, 1.0},
		{"closer to next", 1.2, 1.25},
		{"below lowest", 0.1, 0.25},
		{"above highest", 10.0, 4.0},
		{"between halves", 0.6, 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := QuantizeScale(tt.scale, nil); got != tt.want {
				t.Errorf("QuantizeScale(%v) = %v, want %v", tt.scale, got, tt.want)
			}
		})
	}
}

func TestQuantizeScaleCollapsesNearbyRequests(t *testing.T) {
	a := QuantizeScale(1.001, nil)
	b := QuantizeScale(1.004, nil)
	if a != b {
		t.Errorf("nearby scales quantized to different tiers: %v vs %v", a, b)
	}
}

func TestQuantizeScaleCustomTiers(t *testing.T) {
	tiers := []float64{1.0, 2.0}
	if got := QuantizeScale(1.6, tiers); got != 2.0 {
		t.Errorf("QuantizeScale(1.6) = %v, want 2", got)
	}
}

func TestQuadrantFromDegrees(t *testing.T) {
	tests := []struct {
		degrees int
		want    Quadrant
	}{
		{0, Rotate0},
		{90, Rotate90},
		{180, Rotate180},
		{270, Rotate270},
		{360, Rotate0},
		{450, Rotate90},
		{-90, Rotate270},
		{-45, Rotate0},
		{44, Rotate0},
		{46, Rotate90},
	}
	for _, tt := range tests {
		if got := QuadrantFromDegrees(tt.degrees); got != tt.want {
			t.Errorf("QuadrantFromDegrees(%d) = %v, want %v", tt.degrees, got, tt.want)
		}
	}
}

func TestIdentifyDocument(t *testing.T) {
	a := IdentifyDocument("/docs/report.pdf")
	b := IdentifyDocument("/docs/report.pdf")
	c := IdentifyDocument("/docs/other.pdf")
	if a != b {
		t.Error("same identity produced different IDs")
	}
	if a == c {
		t.Error("distinct identities collided")
	}
}

func TestKeyComparable(t *testing.T) {
	k1 := Key{Document: 1, Page: 3, Scale: 1.0, Rotation: Rotate90}
	k2 := Key{Document: 1, Page: 3, Scale: 1.0, Rotation: Rotate90}
	if k1 != k2 {
		t.Error("identical keys compare unequal")
	}
	m := map[Key]int{k1: 7}
	if m[k2] != 7 {
		t.Error("key not usable as map key")
	}
}
