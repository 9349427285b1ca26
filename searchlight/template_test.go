package searchlight

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/allefeld/cvcrossmanova/domain/core"
)

// TestTemplateSizes tests offset counts for known radii on an isotropic
// grid. The counts are the number of integer points with squared norm at
// most r squared.
func TestTemplateSizes(t *testing.T) {
	cases := []struct {
		radius float64
		size   int
	}{
		{0, 1},               // center only
		{1, 7},               // center plus face neighbors
		{math.Sqrt2, 19},     // adds the 12 edge neighbors
		{math.Sqrt(3), 27},   // adds the 8 vertex neighbors
		{2, 33},              // adds the 6 distance-2 face neighbors
		{2.2, 33},            // no integer point between 2 and sqrt(5)
		{math.Sqrt(5), 57},   // adds the 24 (2,1,0)-type neighbors
	}
	for _, c := range cases {
		tmpl, err := NewTemplate(c.radius, nil)
		if err != nil {
			t.Fatalf("NewTemplate(%g) failed: %v", c.radius, err)
		}
		if tmpl.Size() != c.size {
			t.Errorf("radius %g: size = %d, want %d", c.radius, tmpl.Size(), c.size)
		}
	}
}

// TestTemplateBoundaryInclusive tests that offsets exactly on the radius
// belong to the neighborhood.
func TestTemplateBoundaryInclusive(t *testing.T) {
	tmpl, err := NewTemplate(2, nil)
	if err != nil {
		t.Fatalf("NewTemplate failed: %v", err)
	}
	found := false
	for _, o := range tmpl.Offsets {
		if o.D == [3]int{2, 0, 0} {
			found = true
			if o.Distance != 2 {
				t.Errorf("Distance of (2,0,0) = %g, want 2", o.Distance)
			}
		}
		if o.Distance > 2 {
			t.Errorf("Offset %v at distance %g exceeds the radius", o.D, o.Distance)
		}
	}
	if !found {
		t.Error("Offset (2,0,0) at distance exactly 2 missing from radius-2 template")
	}
}

// TestTemplateOrderDeterministic tests the row-major enumeration order
// and the center flag.
func TestTemplateOrderDeterministic(t *testing.T) {
	tmpl, err := NewTemplate(1, nil)
	if err != nil {
		t.Fatalf("NewTemplate failed: %v", err)
	}
	want := [][3]int{
		{-1, 0, 0},
		{0, -1, 0},
		{0, 0, -1},
		{0, 0, 0},
		{0, 0, 1},
		{0, 1, 0},
		{1, 0, 0},
	}
	if len(tmpl.Offsets) != len(want) {
		t.Fatalf("Size = %d, want %d", len(tmpl.Offsets), len(want))
	}
	for i, o := range tmpl.Offsets {
		if o.D != want[i] {
			t.Errorf("Offsets[%d] = %v, want %v", i, o.D, want[i])
		}
		if o.Center != (want[i] == [3]int{0, 0, 0}) {
			t.Errorf("Offsets[%d].Center = %t at %v", i, o.Center, o.D)
		}
	}
}

// TestTemplateAnisotropic tests an axis-scaling transform. With slices
// 2.5 times thicker than the in-plane spacing, a radius of 2.5 reaches
// two cells in plane but only one across slices.
func TestTemplateAnisotropic(t *testing.T) {
	transform := mat.NewDense(3, 3, []float64{
		1, 0, 0,
		0, 1, 0,
		0, 0, 2.5,
	})
	tmpl, err := NewTemplate(2.5, transform)
	if err != nil {
		t.Fatalf("NewTemplate failed: %v", err)
	}

	// In plane: integer points with dx^2+dy^2 <= 6.25, which is 21.
	// Across slices: only (0,0,+-1) at physical distance exactly 2.5.
	if tmpl.Size() != 23 {
		t.Errorf("Size = %d, want 23", tmpl.Size())
	}
	maxAbs := [3]int{}
	for _, o := range tmpl.Offsets {
		for i := 0; i < 3; i++ {
			if a := abs(o.D[i]); a > maxAbs[i] {
				maxAbs[i] = a
			}
		}
	}
	if maxAbs != [3]int{2, 2, 1} {
		t.Errorf("Extents = %v, want [2 2 1]", maxAbs)
	}
	for _, o := range tmpl.Offsets {
		if o.D == [3]int{0, 0, 1} && o.Distance != 2.5 {
			t.Errorf("Distance of (0,0,1) = %g, want 2.5", o.Distance)
		}
	}
}

// TestTemplateAnisotropicMatchesScaledGrid tests that a uniform scaling
// transform behaves like dividing the radius.
func TestTemplateAnisotropicMatchesScaledGrid(t *testing.T) {
	transform := mat.NewDense(3, 3, []float64{
		2, 0, 0,
		0, 2, 0,
		0, 0, 2,
	})
	scaled, err := NewTemplate(4, transform)
	if err != nil {
		t.Fatalf("NewTemplate with transform failed: %v", err)
	}
	plain, err := NewTemplate(2, nil)
	if err != nil {
		t.Fatalf("NewTemplate failed: %v", err)
	}
	if scaled.Size() != plain.Size() {
		t.Fatalf("Scaled size = %d, plain size = %d", scaled.Size(), plain.Size())
	}
	for i := range plain.Offsets {
		if scaled.Offsets[i].D != plain.Offsets[i].D {
			t.Errorf("Offsets[%d] = %v, want %v", i, scaled.Offsets[i].D, plain.Offsets[i].D)
		}
		if scaled.Offsets[i].Distance != 2*plain.Offsets[i].Distance {
			t.Errorf("Offsets[%d] distance = %g, want %g",
				i, scaled.Offsets[i].Distance, 2*plain.Offsets[i].Distance)
		}
	}
}

// TestTemplateParameterErrors tests radius and transform validation.
func TestTemplateParameterErrors(t *testing.T) {
	cases := []struct {
		name      string
		radius    float64
		transform *mat.Dense
	}{
		{"negative radius", -1, nil},
		{"nan radius", math.NaN(), nil},
		{"inf radius", math.Inf(1), nil},
		{"wrong shape", 1, mat.NewDense(2, 2, []float64{1, 0, 0, 1})},
		{"singular", 1, mat.NewDense(3, 3, []float64{
			1, 0, 0,
			0, 1, 0,
			1, 1, 0,
		})},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := NewTemplate(c.radius, c.transform)
			if err == nil {
				t.Fatal("Expected an error")
			}
			if !core.IsConstructionError(err) {
				t.Errorf("Error %v is not a construction error", err)
			}
		})
	}
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
