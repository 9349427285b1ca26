package glm

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/allefeld/cvcrossmanova/domain/core"
)

const tol = 1e-10

func maxAbsDiff(a, b mat.Matrix) float64 {
	var diff mat.Dense
	diff.Sub(a, b)
	max := 0.0
	r, c := diff.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			if v := math.Abs(diff.At(i, j)); v > max {
				max = v
			}
		}
	}
	return max
}

// TestFitRecoversKnownCoefficients tests the noiseless full-rank case
func TestFitRecoversKnownCoefficients(t *testing.T) {
	x := mat.NewDense(6, 2, []float64{
		1, 1,
		1, 2,
		1, 3,
		1, 4,
		1, 5,
		1, 6,
	})
	bTrue := mat.NewDense(2, 2, []float64{
		2, -1,
		0.5, 3,
	})
	var y mat.Dense
	y.Mul(x, bTrue)

	s, err := NewSession(&y, x, 0)
	if err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}
	m, err := Fit(s)
	if err != nil {
		t.Fatalf("Fit failed: %v", err)
	}

	if d := maxAbsDiff(m.B, bTrue); d > tol {
		t.Errorf("Recovered coefficients deviate by %g", d)
	}
	var zero mat.Dense
	zero.Scale(0, m.Xi)
	if d := maxAbsDiff(m.Xi, &zero); d > tol {
		t.Errorf("Residuals should vanish for noiseless data, max %g", d)
	}
	if m.Rank != 2 {
		t.Errorf("Expected rank 2, got %d", m.Rank)
	}
	if m.DF != 4 {
		t.Errorf("Expected derived dof 4, got %g", m.DF)
	}
}

// TestFitRankDeficientDesign tests the pseudo-inverse path with a
// condition-indicator design plus a constant column (a deliberately
// rank-deficient layout common in session designs)
func TestFitRankDeficientDesign(t *testing.T) {
	// Two condition indicators plus a constant equal to their sum
	x := mat.NewDense(8, 3, []float64{
		1, 0, 1,
		0, 1, 1,
		1, 0, 1,
		0, 1, 1,
		1, 0, 1,
		0, 1, 1,
		1, 0, 1,
		0, 1, 1,
	})
	bTrue := mat.NewDense(3, 1, []float64{1.5, -0.5, 2})
	var y mat.Dense
	y.Mul(x, bTrue)

	s, err := NewSession(&y, x, 0)
	if err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}
	m, err := Fit(s)
	if err != nil {
		t.Fatalf("Fit failed on rank-deficient design: %v", err)
	}

	if m.Rank != 2 {
		t.Fatalf("Expected rank 2, got %d", m.Rank)
	}
	if m.DF != 6 {
		t.Errorf("Expected derived dof 8-2=6, got %g", m.DF)
	}

	// The minimum-norm solution still reproduces consistent data exactly
	var fitted mat.Dense
	fitted.Mul(x, m.B)
	if d := maxAbsDiff(&fitted, &y); d > tol {
		t.Errorf("Fitted values deviate from consistent data by %g", d)
	}

	basis := m.RowBasis()
	br, bc := basis.Dims()
	if br != 3 || bc != 2 {
		t.Errorf("Expected 3x2 row-space basis, got %dx%d", br, bc)
	}
}

// TestFitResidualOrthogonality tests that residuals are orthogonal to the
// design columns regardless of the data
func TestFitResidualOrthogonality(t *testing.T) {
	x := mat.NewDense(5, 2, []float64{
		1, 0.3,
		1, -1.2,
		1, 2.7,
		1, 0.9,
		1, -0.4,
	})
	y := mat.NewDense(5, 2, []float64{
		0.7, -1.1,
		2.3, 0.4,
		-0.9, 1.8,
		1.2, -2.6,
		0.1, 0.5,
	})

	s, err := NewSession(y, x, 0)
	if err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}
	m, err := Fit(s)
	if err != nil {
		t.Fatalf("Fit failed: %v", err)
	}

	var xtXi mat.Dense
	xtXi.Mul(x.T(), m.Xi)
	var zero mat.Dense
	zero.Scale(0, &xtXi)
	if d := maxAbsDiff(&xtXi, &zero); d > tol {
		t.Errorf("Residuals not orthogonal to design, max %g", d)
	}
}

// TestFitExternalDF tests that supplied (possibly fractional) dof wins
func TestFitExternalDF(t *testing.T) {
	x := mat.NewDense(4, 1, []float64{1, 1, 1, 1})
	y := mat.NewDense(4, 1, []float64{1, 2, 3, 4})

	s, err := NewSession(y, x, 2.5)
	if err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}
	m, err := Fit(s)
	if err != nil {
		t.Fatalf("Fit failed: %v", err)
	}
	if m.DF != 2.5 {
		t.Errorf("Expected external dof 2.5, got %g", m.DF)
	}
}

// TestNewSessionValidation tests construction errors
func TestNewSessionValidation(t *testing.T) {
	y44 := mat.NewDense(4, 4, nil)
	x42 := mat.NewDense(4, 2, nil)
	x32 := mat.NewDense(3, 2, nil)

	tests := []struct {
		name string
		y    *mat.Dense
		x    *mat.Dense
		df   float64
	}{
		{"nil data", nil, x42, 0},
		{"nil design", y44, nil, 0},
		{"row mismatch", y44, x32, 0},
		{"negative dof", y44, x42, -1},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if _, err := NewSession(test.y, test.x, test.df); err == nil {
				t.Error("Expected construction error, got nil")
			}
		})
	}
}

// TestModelSetInvariants tests the shared-variable-count invariant
func TestModelSetInvariants(t *testing.T) {
	mkSession := func(p int) *Session {
		x := mat.NewDense(4, 1, []float64{1, 1, 1, 1})
		y := mat.NewDense(4, p, make([]float64, 4*p))
		s, err := NewSession(y, x, 0)
		if err != nil {
			t.Fatalf("NewSession failed: %v", err)
		}
		return s
	}

	t.Run("matching sessions", func(t *testing.T) {
		ms, err := FitAll([]*Session{mkSession(3), mkSession(3)})
		if err != nil {
			t.Fatalf("FitAll failed: %v", err)
		}
		if ms.Len() != 2 || ms.Vars() != 3 {
			t.Errorf("Expected 2 sessions with 3 variables, got %d/%d", ms.Len(), ms.Vars())
		}
		if ms.SumDF() != 6 {
			t.Errorf("Expected combined dof 6, got %g", ms.SumDF())
		}
	})

	t.Run("variable count mismatch", func(t *testing.T) {
		_, err := FitAll([]*Session{mkSession(3), mkSession(2)})
		if err == nil {
			t.Fatal("Expected variable count mismatch error")
		}
		if !core.IsConstructionError(err) {
			t.Errorf("Expected a construction error, got %v", err)
		}
	})

	t.Run("empty set", func(t *testing.T) {
		if _, err := NewModelSet(nil); err == nil {
			t.Error("Expected error for empty model set")
		}
	})
}
