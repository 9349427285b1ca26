// Package glm fits per-session general linear models. Each session pairs a
// data matrix with a design matrix; the fit produces parameter estimates and
// residuals that the statistic engine consumes.
package glm

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/allefeld/cvcrossmanova/domain/core"
)

// rankTol is the relative singular-value cutoff for rank determination.
const rankTol = 1e-12

// Session holds one acquisition run's data matrix Y (observations x
// dependent variables), design matrix X (observations x regressors), and
// residual degrees of freedom. DF may be fractional when observations were
// filtered; DF == 0 means "derive as observations - rank(X)" at fit time.
type Session struct {
	Y  *mat.Dense
	X  *mat.Dense
	DF float64
}

// NewSession validates and builds a session.
func NewSession(y, x *mat.Dense, df float64) (*Session, error) {
	if y == nil || x == nil {
		return nil, core.NewParameterError("session", "requires both data and design matrices")
	}
	yr, yc := y.Dims()
	xr, xc := x.Dims()
	if yr != xr {
		return nil, core.NewRowMismatchError(yr, xr)
	}
	if yr == 0 || yc == 0 || xc == 0 {
		return nil, core.NewParameterError("session", "matrices must be non-empty")
	}
	if df < 0 {
		return nil, core.NewParameterError("degrees of freedom", fmt.Sprintf("must be nonnegative, got %g", df))
	}
	return &Session{Y: y, X: x, DF: df}, nil
}

// Model is a fitted session: parameter estimates, residuals, and the design
// information later stages need (validation inner products, estimability).
type Model struct {
	B    *mat.Dense // regressors x variables, minimum-norm least squares estimate
	Xi   *mat.Dense // observations x variables, residuals Y - X*B
	X    *mat.Dense
	N    int
	Q    int
	P    int
	DF   float64
	Rank int

	rowBasis *mat.Dense // orthonormal basis of the design row space, regressors x rank
}

// RowBasis returns an orthonormal basis of the design matrix row space,
// shaped regressors x rank. Used for contrast estimability checks.
func (m *Model) RowBasis() *mat.Dense {
	return m.rowBasis
}

// Fit computes the ordinary least squares solution B = pinv(X)*Y and the
// residual Xi = Y - X*B. Rank-deficient designs are supported: the SVD-based
// solve returns the minimum-norm solution. Pure function; callers cache the
// result per session.
func Fit(s *Session) (*Model, error) {
	n, q := s.X.Dims()
	_, p := s.Y.Dims()

	var svd mat.SVD
	if ok := svd.Factorize(s.X, mat.SVDThin); !ok {
		return nil, fmt.Errorf("glm: SVD of design matrix (%dx%d) failed to converge", n, q)
	}
	rank := svd.Rank(rankTol)
	if rank == 0 {
		return nil, core.NewParameterError("design matrix", "has rank zero")
	}

	var b mat.Dense
	svd.SolveTo(&b, s.Y, rank)

	var fitted mat.Dense
	fitted.Mul(s.X, &b)
	var xi mat.Dense
	xi.Sub(s.Y, &fitted)

	df := s.DF
	if df == 0 {
		df = float64(n - rank)
	}
	if df <= 0 {
		return nil, core.NewDFError(df, 0)
	}

	var v mat.Dense
	svd.VTo(&v)
	basis := v.Slice(0, q, 0, rank).(*mat.Dense)

	return &Model{
		B:        &b,
		Xi:       &xi,
		X:        s.X,
		N:        n,
		Q:        q,
		P:        p,
		DF:       df,
		Rank:     rank,
		rowBasis: basis,
	}, nil
}
