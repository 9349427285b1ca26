package manova

import (
	"math/rand/v2"
	"testing"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/allefeld/cvcrossmanova/domain/analysis"
	"github.com/allefeld/cvcrossmanova/domain/glm"
)

func noisySessions(t *testing.T, m, n int, scales []float64, seed uint64) []*glm.Session {
	t.Helper()
	norm := distuv.Normal{Mu: 0, Sigma: 1, Src: rand.NewPCG(seed, seed)}
	p := len(scales)
	sessions := make([]*glm.Session, m)
	for k := range sessions {
		cols := make([][]float64, p)
		for j := range cols {
			cols[j] = make([]float64, n)
			for i := range cols[j] {
				cols[j][i] = scales[j] * norm.Rand()
			}
		}
		sessions[k] = constantSession(t, cols...)
	}
	return sessions
}

func lambdaEngine(t *testing.T, sessions []*glm.Session) *Engine {
	t.Helper()
	models, err := glm.FitAll(sessions)
	if err != nil {
		t.Fatalf("FitAll failed: %v", err)
	}
	c := mat.NewDense(1, 1, []float64{1})
	a, err := analysis.NewDistinctness(c, len(sessions))
	if err != nil {
		t.Fatalf("NewDistinctness failed: %v", err)
	}
	eng, err := NewEngine(models, []*analysis.Analysis{a}, DefaultOptions())
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	return eng
}

// TestOptimizeRegularizationAnisotropic tests that well-estimated
// anisotropic covariance rejects shrinkage toward the scaled identity
func TestOptimizeRegularizationAnisotropic(t *testing.T) {
	// Variances 16 and 0.0625 with generous dof: the proper estimate is
	// already accurate, and the identity target misrepresents the shape.
	sessions := noisySessions(t, 4, 400, []float64{4, 0.25}, 7)
	eng := lambdaEngine(t, sessions)

	lambda, err := eng.OptimizeRegularization([]int{0, 1})
	if err != nil {
		t.Fatalf("OptimizeRegularization failed: %v", err)
	}
	if lambda < 0 || lambda > 1 {
		t.Fatalf("Lambda %.4f outside [0,1]", lambda)
	}
	if lambda > 0.2 {
		t.Errorf("Anisotropic covariance should keep lambda small, got %.4f", lambda)
	}
}

// TestOptimizeRegularizationIdentityTruth tests that shrinkage wins when
// the target matches the population covariance
func TestOptimizeRegularizationIdentityTruth(t *testing.T) {
	// Six variables with true identity covariance: any departure of the
	// proper estimate from the identity is pure noise, so the scaled
	// identity target is favored.
	sessions := noisySessions(t, 4, 60, []float64{1, 1, 1, 1, 1, 1}, 11)
	eng := lambdaEngine(t, sessions)

	lambda, err := eng.OptimizeRegularization([]int{0, 1, 2, 3, 4, 5})
	if err != nil {
		t.Fatalf("OptimizeRegularization failed: %v", err)
	}
	if lambda < 0 || lambda > 1 {
		t.Fatalf("Lambda %.4f outside [0,1]", lambda)
	}
	if lambda < 0.2 {
		t.Errorf("Identity-truth covariance should favor shrinkage, got %.4f", lambda)
	}
}

// TestOptimizeRegularizationDeterminism tests repeatability
func TestOptimizeRegularizationDeterminism(t *testing.T) {
	sessions := noisySessions(t, 3, 80, []float64{2, 0.5}, 3)
	eng := lambdaEngine(t, sessions)

	l1, err := eng.OptimizeRegularization([]int{0, 1})
	if err != nil {
		t.Fatalf("First optimization failed: %v", err)
	}
	l2, err := eng.OptimizeRegularization([]int{0, 1})
	if err != nil {
		t.Fatalf("Second optimization failed: %v", err)
	}
	if l1 != l2 {
		t.Errorf("Optimization not deterministic: %.6f vs %.6f", l1, l2)
	}
}

// TestOptimizeRegularizationErrors tests dof and session-count guards
func TestOptimizeRegularizationErrors(t *testing.T) {
	t.Run("insufficient per-session dof", func(t *testing.T) {
		// dof 2 per session cannot support 2 variables
		sessions := noisySessions(t, 4, 3, []float64{1, 1}, 5)
		eng := lambdaEngine(t, sessions)
		if _, err := eng.OptimizeRegularization([]int{0, 1}); err == nil {
			t.Error("Expected dof error")
		}
	})

	t.Run("invalid subset", func(t *testing.T) {
		sessions := noisySessions(t, 3, 40, []float64{1, 1}, 9)
		eng := lambdaEngine(t, sessions)
		if _, err := eng.OptimizeRegularization([]int{0, 5}); err == nil {
			t.Error("Expected subset range error")
		}
	})
}
