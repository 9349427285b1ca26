// Package manova implements the cross-validated MANOVA statistic engine.
// Given fitted session models and a set of analyses, it estimates a
// regularized error covariance over a variable subset, whitens parameter
// estimates, and evaluates the cross-validated statistic per analysis and
// sign permutation.
package manova

import (
	"math"
	"strconv"

	"gonum.org/v1/gonum/mat"

	"github.com/allefeld/cvcrossmanova/domain/analysis"
	"github.com/allefeld/cvcrossmanova/domain/core"
	"github.com/allefeld/cvcrossmanova/domain/glm"
	"github.com/allefeld/cvcrossmanova/internal/matutil"
)

// DefaultCondThreshold is the condition number above which the regularized
// covariance draws an ill-conditioning advisory.
const DefaultCondThreshold = 1000.0

// estimTolFactor scales machine epsilon into the estimability tolerance.
const estimTolFactor = 1e3

// Options configure an engine.
type Options struct {
	// Lambda blends the unbiased covariance estimate (0) with the scaled
	// identity shrinkage target (1).
	Lambda float64
	// CondThreshold triggers the ill-conditioning advisory. Values <= 0
	// select DefaultCondThreshold.
	CondThreshold float64
	// CheckEstimability projects every contrast through each used session
	// design's row space at construction time.
	CheckEstimability bool
}

// DefaultOptions returns the reference configuration: no shrinkage,
// condition threshold 1000, estimability checks on.
func DefaultOptions() Options {
	return Options{Lambda: 0, CondThreshold: DefaultCondThreshold, CheckEstimability: true}
}

// Engine is immutable once constructed: session models, analyses and
// options are frozen, and RunAnalyses is a pure function over them.
type Engine struct {
	models   *glm.ModelSet
	analyses []*analysis.Analysis
	opts     Options

	plans      []*analysisPlan
	advisories []core.Advisory
}

// analysisPlan caches the variable-independent parts of one analysis:
// contrast restrictions, the cross and validation operators, fold session
// lists, and the per-fold averaged validation design inner products.
type analysisPlan struct {
	a     *analysis.Analysis
	regsA []int
	regsB []int

	crossOp *mat.Dense // CB_res * pinv(CA_res), rb x ra
	valOp   *mat.Dense // CB_res * pinv(CB_res), rb x rb

	trains [][]int
	vals   [][]int
	foldM  []*mat.Dense // per fold mean of X_k[:,regsB]^T X_k[:,regsB] / n_k

	usedTrain []bool
	usedVal   []bool
}

// NewEngine validates session counts and contrast/design compatibility,
// precomputes per-analysis restriction operators, and optionally checks
// contrast estimability. Estimability findings are advisories available
// via Advisories; shape violations are fatal.
func NewEngine(models *glm.ModelSet, analyses []*analysis.Analysis, opts Options) (*Engine, error) {
	if models == nil || models.Len() == 0 {
		return nil, core.NewParameterError("engine", "requires a non-empty model set")
	}
	if len(analyses) == 0 {
		return nil, core.NewParameterError("engine", "requires at least one analysis")
	}
	if opts.Lambda < 0 || opts.Lambda > 1 {
		return nil, core.NewParameterError("lambda", "must lie in [0,1]")
	}
	if opts.CondThreshold <= 0 {
		opts.CondThreshold = DefaultCondThreshold
	}

	m := models.Len()
	log := core.NewAdvisoryLog()
	e := &Engine{models: models, analyses: analyses, opts: opts}

	for ai, a := range analyses {
		if a.M() != m {
			return nil, core.NewSessionCountError(analysisLabel(ai), m, a.M())
		}
		plan, err := e.buildPlan(ai, a)
		if err != nil {
			return nil, err
		}
		e.plans = append(e.plans, plan)
		if opts.CheckEstimability {
			e.checkEstimability(ai, plan, log)
		}
	}

	e.advisories = log.List()
	return e, nil
}

// Advisories returns construction-time findings (estimability and the
// like), deduplicated and in first-seen order.
func (e *Engine) Advisories() []core.Advisory {
	out := make([]core.Advisory, len(e.advisories))
	copy(out, e.advisories)
	return out
}

// Models returns the fitted session models the engine computes over.
func (e *Engine) Models() *glm.ModelSet { return e.models }

// Analyses returns the analyses the engine evaluates.
func (e *Engine) Analyses() []*analysis.Analysis { return e.analyses }

// Lambda returns the configured shrinkage strength.
func (e *Engine) Lambda() float64 { return e.opts.Lambda }

// Options returns the effective engine options after defaulting.
func (e *Engine) Options() Options { return e.opts }

func (e *Engine) buildPlan(ai int, a *analysis.Analysis) (*analysisPlan, error) {
	regsA := a.InvolvedRegressorsA()
	regsB := a.InvolvedRegressorsB()
	if len(regsA) == 0 {
		return nil, core.NewParameterError("contrast", analysisLabel(ai)+" training contrast has no nonzero rows")
	}
	if len(regsB) == 0 {
		return nil, core.NewParameterError("contrast", analysisLabel(ai)+" validation contrast has no nonzero rows")
	}

	m := e.models.Len()
	plan := &analysisPlan{
		a:         a,
		regsA:     regsA,
		regsB:     regsB,
		usedTrain: make([]bool, m),
		usedVal:   make([]bool, m),
	}
	for k := 0; k < m; k++ {
		plan.usedTrain[k] = a.UsedAsTraining(k)
		plan.usedVal[k] = a.UsedAsValidation(k)
	}

	// The restricted contrasts must fit inside every design they apply to.
	maxA := regsA[len(regsA)-1]
	maxB := regsB[len(regsB)-1]
	for k := 0; k < m; k++ {
		mod := e.models.Model(k)
		if plan.usedTrain[k] && maxA >= mod.Q {
			return nil, core.NewRegressorRangeError(ai, maxA, k, mod.Q)
		}
		if plan.usedVal[k] && maxB >= mod.Q {
			return nil, core.NewRegressorRangeError(ai, maxB, k, mod.Q)
		}
	}

	caRes := takeRows(a.CA, regsA)
	cbRes := takeRows(a.CB, regsB)

	pinvA, err := matutil.Pinv(caRes)
	if err != nil {
		return nil, err
	}
	var crossOp mat.Dense
	crossOp.Mul(cbRes, pinvA)
	plan.crossOp = &crossOp

	pinvB, err := matutil.Pinv(cbRes)
	if err != nil {
		return nil, err
	}
	var valOp mat.Dense
	valOp.Mul(cbRes, pinvB)
	plan.valOp = &valOp

	// Per-session validation design inner products, then per-fold means.
	rb := len(regsB)
	sessM := make(map[int]*mat.Dense, m)
	for k := 0; k < m; k++ {
		if !plan.usedVal[k] {
			continue
		}
		mod := e.models.Model(k)
		xv := takeCols(mod.X, regsB)
		g := mat.NewDense(rb, rb, nil)
		g.Mul(xv.T(), xv)
		g.Scale(1/float64(mod.N), g)
		sessM[k] = g
	}

	folds := a.L()
	plan.trains = make([][]int, folds)
	plan.vals = make([][]int, folds)
	plan.foldM = make([]*mat.Dense, folds)
	for l := 0; l < folds; l++ {
		plan.trains[l] = a.TrainingSessions(l)
		plan.vals[l] = a.ValidationSessions(l)

		mean := mat.NewDense(rb, rb, nil)
		for _, k := range plan.vals[l] {
			mean.Add(mean, sessM[k])
		}
		mean.Scale(1/float64(len(plan.vals[l])), mean)
		plan.foldM[l] = mean
	}

	return plan, nil
}

// checkEstimability verifies each contrast column lies in the row space of
// every design it is applied to, via the cached orthonormal row bases.
func (e *Engine) checkEstimability(ai int, plan *analysisPlan, log *core.AdvisoryLog) {
	eps := math.Nextafter(1, 2) - 1
	for k := 0; k < e.models.Len(); k++ {
		mod := e.models.Model(k)
		tol := estimTolFactor * eps * math.Sqrt(float64(mod.Q))
		if plan.usedTrain[k] {
			reportInestimable(log, ai, k, "training", plan.a.CA, mod, tol)
		}
		if plan.usedVal[k] {
			reportInestimable(log, ai, k, "validation", plan.a.CB, mod, tol)
		}
	}
}

func reportInestimable(log *core.AdvisoryLog, ai, k int, side string, c *mat.Dense, mod *glm.Model, tol float64) {
	_, cols := c.Dims()
	for j := 0; j < cols; j++ {
		rel := rowSpaceResidual(c, j, mod)
		if rel > tol {
			log.Addf(core.AdvInestimableContrast,
				"%s %s contrast column %d is not estimable in session %d (relative residual %.2g)",
				analysisLabel(ai), side, j, k, rel)
		}
	}
}

// rowSpaceResidual projects contrast column j through the orthogonal
// projector onto the row space of the session design and returns the
// relative residual norm. Zero columns report zero.
func rowSpaceResidual(c *mat.Dense, j int, mod *glm.Model) float64 {
	rows, _ := c.Dims()
	v := mat.NewVecDense(mod.Q, nil)
	for i := 0; i < rows && i < mod.Q; i++ {
		v.SetVec(i, c.At(i, j))
	}
	norm := mat.Norm(v, 2)
	if norm == 0 {
		return 0
	}

	basis := mod.RowBasis()
	var coef mat.VecDense
	coef.MulVec(basis.T(), v)
	var back mat.VecDense
	back.MulVec(basis, &coef)
	var resid mat.VecDense
	resid.SubVec(v, &back)
	return mat.Norm(&resid, 2) / norm
}

func analysisLabel(ai int) string {
	return "analysis " + strconv.Itoa(ai)
}

// takeRows copies the listed rows of m into a new dense matrix.
func takeRows(m *mat.Dense, rows []int) *mat.Dense {
	_, c := m.Dims()
	out := mat.NewDense(len(rows), c, nil)
	for i, r := range rows {
		for j := 0; j < c; j++ {
			out.Set(i, j, m.At(r, j))
		}
	}
	return out
}

// takeCols copies the listed columns of m into a new dense matrix.
func takeCols(m *mat.Dense, cols []int) *mat.Dense {
	r, _ := m.Dims()
	out := mat.NewDense(r, len(cols), nil)
	for j, c := range cols {
		for i := 0; i < r; i++ {
			out.Set(i, j, m.At(i, c))
		}
	}
	return out
}
