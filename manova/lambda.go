package manova

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/allefeld/cvcrossmanova/domain/core"
)

// lambdaTol is the interval width at which the golden-section search stops.
const lambdaTol = 1e-4

// OptimizeRegularization chooses a shrinkage strength by leave-one-session-
// out cross-validation: for each held-out session, its unbiased error
// covariance is whitened by the regularized estimate built from the other
// sessions, and lambda minimizes the mean squared deviation of that product
// from the identity. The result is a diagnostic upper estimate computed
// from less than the full sample; it is never applied automatically.
func (e *Engine) OptimizeRegularization(vars []int) (float64, error) {
	m := e.models.Len()
	if m < 2 {
		return 0, core.NewParameterError("sessions", "regularization optimization requires at least 2 sessions")
	}
	p := len(vars)
	total := e.models.Vars()
	if p == 0 {
		return 0, core.NewParameterError("variables", "subset must be non-empty")
	}
	for _, v := range vars {
		if v < 0 || v >= total {
			return 0, core.NewParameterError("variables", fmt.Sprintf("index %d outside [0,%d)", v, total))
		}
	}

	// Per-session residual outer products over the subset.
	grams := make([]*mat.SymDense, m)
	dfs := make([]float64, m)
	sumDF := 0.0
	for k := 0; k < m; k++ {
		mod := e.models.Model(k)
		if mod.DF-float64(p)-1 <= 0 {
			return 0, core.NewDFError(mod.DF, p)
		}
		g := mat.NewSymDense(p, nil)
		xi := mod.Xi
		for i := 0; i < p; i++ {
			ci := xi.ColView(vars[i])
			for j := i; j < p; j++ {
				g.SetSym(i, j, mat.Dot(ci, xi.ColView(vars[j])))
			}
		}
		grams[k] = g
		dfs[k] = mod.DF
		sumDF += mod.DF
	}

	// Lambda-independent pieces per held-out session: the held-out unbiased
	// estimate and the remaining sessions' pooled sum, dof and target scale.
	held := make([]*mat.Dense, m)
	restS := make([]*mat.SymDense, m)
	restDenom := make([]float64, m)
	restTarget := make([]float64, m)
	for k := 0; k < m; k++ {
		heldDenom := dfs[k] - float64(p) - 1
		h := mat.NewDense(p, p, nil)
		for i := 0; i < p; i++ {
			for j := 0; j < p; j++ {
				h.Set(i, j, grams[k].At(i, j)/heldDenom)
			}
		}
		held[k] = h

		restDF := sumDF - dfs[k]
		restDenom[k] = restDF - float64(p) - 1
		if restDenom[k] <= 0 {
			return 0, core.NewDFError(restDF, p)
		}
		rs := mat.NewSymDense(p, nil)
		meanDiag := 0.0
		for i := 0; i < p; i++ {
			for j := i; j < p; j++ {
				rs.SetSym(i, j, sumAt(grams, i, j)-grams[k].At(i, j))
			}
			meanDiag += rs.At(i, i)
		}
		restS[k] = rs
		restTarget[k] = meanDiag / float64(p) / (restDF - 2)
	}

	objective := func(lambda float64) float64 {
		msd := 0.0
		sigmaReg := mat.NewSymDense(p, nil)
		var lTri mat.TriDense
		for k := 0; k < m; k++ {
			for i := 0; i < p; i++ {
				for j := i; j < p; j++ {
					v := (1 - lambda) * restS[k].At(i, j) / restDenom[k]
					if i == j {
						v += lambda * restTarget[k]
					}
					sigmaReg.SetSym(i, j, v)
				}
			}
			var chol mat.Cholesky
			if ok := chol.Factorize(sigmaReg); !ok {
				return math.Inf(1)
			}
			chol.LTo(&lTri)

			// D = L^-1 H L^-T via two triangular solves.
			var z mat.Dense
			if err := z.Solve(&lTri, held[k]); err != nil {
				return math.Inf(1)
			}
			var d mat.Dense
			if err := d.Solve(&lTri, z.T()); err != nil {
				return math.Inf(1)
			}

			dev := 0.0
			for i := 0; i < p; i++ {
				for j := 0; j < p; j++ {
					v := d.At(i, j)
					if i == j {
						v -= 1
					}
					dev += v * v
				}
			}
			msd += dev / float64(p*p)
		}
		return msd / float64(m)
	}

	return goldenSection(objective, 0, 1, lambdaTol), nil
}

func sumAt(grams []*mat.SymDense, i, j int) float64 {
	s := 0.0
	for _, g := range grams {
		s += g.At(i, j)
	}
	return s
}

// goldenSection minimizes f over [lo,hi] down to the given interval width.
// f may return +Inf to mark infeasible points.
func goldenSection(f func(float64) float64, lo, hi, tol float64) float64 {
	const invPhi = 0.6180339887498949

	a, b := lo, hi
	c := b - invPhi*(b-a)
	d := a + invPhi*(b-a)
	fc, fd := f(c), f(d)

	for b-a > tol {
		if fc < fd {
			b, d, fd = d, c, fc
			c = b - invPhi*(b-a)
			fc = f(c)
		} else {
			a, c, fc = c, d, fd
			d = a + invPhi*(b-a)
			fd = f(d)
		}
	}
	return (a + b) / 2
}
