package interp

import (
	"math"
	"testing"

	"go.ngs.io/forecast-verify/internal/domain"
)

// cellField builds a 2 × 2 reference on the given axes.
func cellField(t *testing.T, lat, lon, values []float64) *domain.Field2D {
	t.Helper()
	f, err := domain.NewField2D(lat, lon, values, nil)
	if err != nil {
		t.Fatalf("NewField2D: %v", err)
	}
	return f
}

// TestBracket_Weights tests fractional positions on ascending and descending axes.
func TestBracket_Weights(t *testing.T) {
	tests := []struct {
		name   string
		axis   []float64
		x      float64
		i0, i1 int
		w      float64
	}{
		{"ascending quarter", []float64{0, 4, 8}, 1, 0, 1, 0.25},
		{"ascending second cell", []float64{0, 4, 8}, 7, 1, 2, 0.75},
		{"descending quarter", []float64{60, 56, 52}, 59, 0, 1, 0.25},
		{"descending second cell", []float64{60, 56, 52}, 53, 1, 2, 0.75},
		{"last point", []float64{60, 56, 52}, 52, 1, 2, 1},
		{"snaps onto grid point", []float64{0, 4, 8}, 4 + 1e-12, 1, 2, 0},
	}

	for _, tt := range tests {
		s := bracket(tt.axis, tt.x)
		if !s.ok {
			t.Errorf("%s: expected a span for %v", tt.name, tt.x)
			continue
		}
		if s.i0 != tt.i0 || s.i1 != tt.i1 || math.Abs(s.w-tt.w) > 1e-12 {
			t.Errorf("%s: expected (%d, %d, %.2f), got (%d, %d, %.2f)",
				tt.name, tt.i0, tt.i1, tt.w, s.i0, s.i1, s.w)
		}
	}

	if s := bracket([]float64{60, 56, 52}, 61); s.ok {
		t.Errorf("61 lies outside a 52..60 axis, got span %+v", s)
	}
}

// TestStencil_WeightsSumToOne tests the partition of unity at interior points.
func TestStencil_WeightsSumToOne(t *testing.T) {
	for _, w := range [][2]float64{{0, 0}, {0.5, 0.5}, {0.25, 0.9}, {1, 0.3}} {
		s := newStencil(span{i0: 0, i1: 1, w: w[0], ok: true}, span{i0: 0, i1: 1, w: w[1], ok: true})
		sum := s.w[0][0] + s.w[0][1] + s.w[1][0] + s.w[1][1]
		if math.Abs(sum-1) > 1e-12 {
			t.Errorf("weights for %v sum to %.15f", w, sum)
		}
	}
}

// TestStencil_DescendingCellCentre tests the centre of a north-to-south cell.
func TestStencil_DescendingCellCentre(t *testing.T) {
	// Rows are 52N then 50N; values 1 3 / 5 7.
	ref := cellField(t, []float64{52, 50}, []float64{10, 12}, []float64{1, 3, 5, 7})

	y := bracket(ref.Lat, 51)
	x := bracket(ref.Lon, 11)
	v, ok := newStencil(y, x).apply(ref)
	if !ok {
		t.Fatal("centre point should be valid")
	}
	if math.Abs(v-4) > 1e-9 {
		t.Errorf("Centre point: expected 4.0, got %.10f", v)
	}
}

// TestStencil_Corners tests that targets on reference points return them exactly.
func TestStencil_Corners(t *testing.T) {
	ref := cellField(t, []float64{52, 50}, []float64{10, 12}, []float64{1, 3, 5, 7})

	tests := []struct {
		lat, lon float64
		expected float64
	}{
		{52, 10, 1},
		{52, 12, 3},
		{50, 10, 5},
		{50, 12, 7},
	}
	for _, tt := range tests {
		v, ok := newStencil(bracket(ref.Lat, tt.lat), bracket(ref.Lon, tt.lon)).apply(ref)
		if !ok || v != tt.expected {
			t.Errorf("(%v, %v): expected (%v, true), got (%v, %v)", tt.lat, tt.lon, tt.expected, v, ok)
		}
	}
}

// TestStencil_Mask tests that only weighted corners can invalidate a point.
func TestStencil_Mask(t *testing.T) {
	ref := cellField(t, []float64{0, 1}, []float64{0, 1}, []float64{2, 4, math.NaN(), 8})

	// On the southern edge the NaN row carries no weight.
	v, ok := newStencil(bracket(ref.Lat, 0), bracket(ref.Lon, 0.5)).apply(ref)
	if !ok || math.Abs(v-3) > 1e-9 {
		t.Errorf("southern edge: expected (3, true), got (%v, %v)", v, ok)
	}

	if _, ok := newStencil(bracket(ref.Lat, 0.5), bracket(ref.Lon, 0.5)).apply(ref); ok {
		t.Error("interior point weighs the NaN corner and must be invalid")
	}
}
