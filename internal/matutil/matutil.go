// Package matutil holds small dense-matrix helpers shared by the analysis
// and statistic-engine packages.
package matutil

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// rankTol is the relative singular-value cutoff for rank decisions.
const rankTol = 1e-12

// Pinv computes the Moore-Penrose pseudo-inverse via a thin SVD with
// rank-truncated singular values. The zero matrix yields a zero result.
func Pinv(a mat.Matrix) (*mat.Dense, error) {
	r, c := a.Dims()

	var svd mat.SVD
	if ok := svd.Factorize(a, mat.SVDThin); !ok {
		return nil, fmt.Errorf("matutil: SVD of %dx%d matrix failed to converge", r, c)
	}
	s := svd.Values(nil)

	rank := 0
	for _, v := range s {
		if v > rankTol*s[0] {
			rank++
		}
	}
	if rank == 0 {
		return mat.NewDense(c, r, nil), nil
	}

	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	// V_r * diag(1/s_r) * U_r^T
	scaled := mat.NewDense(c, rank, nil)
	for j := 0; j < rank; j++ {
		for i := 0; i < c; i++ {
			scaled.Set(i, j, v.At(i, j)/s[j])
		}
	}
	ur := u.Slice(0, r, 0, rank)

	var p mat.Dense
	p.Mul(scaled, ur.T())
	return &p, nil
}

// Rank returns the numerical rank of a matrix.
func Rank(a mat.Matrix) (int, error) {
	r, c := a.Dims()
	var svd mat.SVD
	if ok := svd.Factorize(a, mat.SVDThin); !ok {
		return 0, fmt.Errorf("matutil: SVD of %dx%d matrix failed to converge", r, c)
	}
	return svd.Rank(rankTol), nil
}

// Eye returns the n x n identity matrix.
func Eye(n int) *mat.Dense {
	m := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		m.Set(i, i, 1)
	}
	return m
}
