package manova

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/allefeld/cvcrossmanova/domain/core"
)

// Result holds one RunAnalyses evaluation: per analysis, a value per sign
// permutation with the neutral estimate at index 0. Cond is the condition
// number of the regularized covariance. Advisories are the deduplicated
// quality findings of this call. Values may legitimately be negative: the
// statistic is an unbiased estimator, not a bounded quantity, and callers
// must not clip it.
type Result struct {
	Values     [][]float64
	Cond       float64
	Advisories []core.Advisory
}

// RunAnalyses evaluates every analysis over the given subset of dependent
// variables (indices into the shared variable axis).
//
// The covariance of the subset's residuals is pooled across sessions into
// an unbiased estimate, blended with a scaled-identity shrinkage target,
// and factorized; parameter estimates are whitened with the inverse
// Cholesky factor; per fold and permutation, signed training and validation
// effect averages are contracted through the validation design inner
// product. The averaging happens before the multiplication; reordering the
// two changes the estimator.
func (e *Engine) RunAnalyses(vars []int) (*Result, error) {
	p := len(vars)
	total := e.models.Vars()
	if p == 0 {
		return nil, core.NewParameterError("variables", "subset must be non-empty")
	}
	seen := make(map[int]struct{}, p)
	for _, v := range vars {
		if v < 0 || v >= total {
			return nil, core.NewParameterError("variables", fmt.Sprintf("index %d outside [0,%d)", v, total))
		}
		if _, dup := seen[v]; dup {
			return nil, core.NewParameterError("variables", fmt.Sprintf("index %d appears twice", v))
		}
		seen[v] = struct{}{}
	}

	sumDF := e.models.SumDF()
	denom := sumDF - float64(p) - 1
	if denom <= 0 {
		return nil, core.NewDFError(sumDF, p)
	}

	// Pooled residual outer products over the subset.
	s := mat.NewSymDense(p, nil)
	for k := 0; k < e.models.Len(); k++ {
		xi := e.models.Model(k).Xi
		for i := 0; i < p; i++ {
			ci := xi.ColView(vars[i])
			for j := i; j < p; j++ {
				s.SetSym(i, j, s.At(i, j)+mat.Dot(ci, xi.ColView(vars[j])))
			}
		}
	}

	// Unbiased estimate blended with the scaled-identity target. The target
	// divisor is sumDF-2: under the 1-dimensional identity model the
	// degrees-of-freedom correction drops from p+1 to 2.
	meanDiag := 0.0
	for i := 0; i < p; i++ {
		meanDiag += s.At(i, i)
	}
	meanDiag /= float64(p)
	target := meanDiag / (sumDF - 2)

	lambda := e.opts.Lambda
	sigmaReg := mat.NewSymDense(p, nil)
	for i := 0; i < p; i++ {
		for j := i; j < p; j++ {
			v := (1 - lambda) * s.At(i, j) / denom
			if i == j {
				v += lambda * target
			}
			sigmaReg.SetSym(i, j, v)
		}
	}

	var chol mat.Cholesky
	if ok := chol.Factorize(sigmaReg); !ok {
		return nil, core.NewCholeskyError(p, lambda)
	}
	cond := chol.Cond()
	log := core.NewAdvisoryLog()
	if cond > e.opts.CondThreshold {
		// Position-independent wording so a searchlight reports this once.
		log.Addf(core.AdvIllConditioned,
			"regularized covariance condition number exceeds %.0f; consider increasing lambda",
			e.opts.CondThreshold)
	}

	// Whiten each session's subset parameters: B_w = B R^-1 with
	// sigmaReg = R^T R, computed as a triangular solve against L = R^T.
	var lTri mat.TriDense
	chol.LTo(&lTri)
	whitened := make([]*mat.Dense, e.models.Len())
	for k := range whitened {
		mod := e.models.Model(k)
		bsub := takeCols(mod.B, vars)
		var z mat.Dense
		if err := z.Solve(&lTri, bsub.T()); err != nil {
			return nil, fmt.Errorf("manova: whitening solve failed: %w", err)
		}
		w := mat.NewDense(mod.Q, p, nil)
		w.Copy(z.T())
		whitened[k] = w
	}

	values := make([][]float64, len(e.plans))
	for ai, plan := range e.plans {
		values[ai] = runPlan(plan, whitened, p)
	}

	return &Result{Values: values, Cond: cond, Advisories: log.List()}, nil
}

// runPlan evaluates one analysis over the whitened parameters.
func runPlan(plan *analysisPlan, whitened []*mat.Dense, p int) []float64 {
	m := len(whitened)
	rb := len(plan.regsB)

	// Per-session effect matrices; training goes through the cross
	// operator, validation through the CB projector.
	te := make([]*mat.Dense, m)
	ve := make([]*mat.Dense, m)
	for k := 0; k < m; k++ {
		if plan.usedTrain[k] {
			bt := takeRows(whitened[k], plan.regsA)
			t := mat.NewDense(rb, p, nil)
			t.Mul(plan.crossOp, bt)
			te[k] = t
		}
		if plan.usedVal[k] {
			bv := takeRows(whitened[k], plan.regsB)
			v := mat.NewDense(rb, p, nil)
			v.Mul(plan.valOp, bv)
			ve[k] = v
		}
	}

	perms := plan.a.Perms
	nPerms := plan.a.NumPerms()
	acc := make([]float64, nPerms)

	tbar := mat.NewDense(rb, p, nil)
	vbar := mat.NewDense(rb, p, nil)
	tmp := mat.NewDense(rb, p, nil)
	g := mat.NewDense(rb, rb, nil)
	prod := mat.NewDense(rb, rb, nil)

	for l := range plan.trains {
		for pi := 0; pi < nPerms; pi++ {
			tbar.Zero()
			for _, k := range plan.trains[l] {
				tmp.Scale(perms.At(pi, k), te[k])
				tbar.Add(tbar, tmp)
			}
			tbar.Scale(1/float64(len(plan.trains[l])), tbar)

			vbar.Zero()
			for _, k := range plan.vals[l] {
				tmp.Scale(perms.At(pi, k), ve[k])
				vbar.Add(vbar, tmp)
			}
			vbar.Scale(1/float64(len(plan.vals[l])), vbar)

			// tr(T^T M V) as sum(M o T V^T); the contraction runs over the
			// already-averaged matrices.
			g.Mul(tbar, vbar.T())
			prod.MulElem(plan.foldM[l], g)
			acc[pi] += mat.Sum(prod)
		}
	}

	for pi := range acc {
		acc[pi] /= float64(len(plan.trains))
	}
	return acc
}
