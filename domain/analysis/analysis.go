// Package analysis encodes what a cross-validated statistic is computed
// over: a training contrast, a validation contrast, the fold membership of
// sessions, and a reduced set of sign permutations for null inference.
package analysis

import (
	"math"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/allefeld/cvcrossmanova/domain/core"
	"github.com/allefeld/cvcrossmanova/internal/matutil"
)

// varianceTol bounds how far the cross operator's normalized variance may
// deviate from 1 before an advisory is raised.
const varianceTol = 1e-14

// Analysis is an immutable description of one cross-validated statistic.
// CA maps training regressors to subcontrasts, CB validation regressors to
// the same subcontrasts. SessionsA and SessionsB assign sessions to the
// training and validation side of each fold. Perms holds sign permutations
// (rows) over sessions (columns); row 0 is always the neutral all-ones row.
// Fields are exported for read access; treat a constructed Analysis as
// frozen and use WithPermutations to derive an enriched copy.
type Analysis struct {
	CA        *mat.Dense
	CB        *mat.Dense
	SessionsA [][]bool
	SessionsB [][]bool
	Perms     *mat.Dense
}

// New validates shapes and builds an analysis with only the neutral
// permutation.
func New(ca, cb *mat.Dense, sessionsA, sessionsB [][]bool) (*Analysis, error) {
	if ca == nil || cb == nil {
		return nil, core.NewParameterError("analysis", "requires both training and validation contrasts")
	}
	caRows, caCols := ca.Dims()
	cbRows, cbCols := cb.Dims()
	if caRows == 0 || cbRows == 0 || caCols == 0 {
		return nil, core.NewParameterError("contrast", "must be non-empty")
	}
	if caCols != cbCols {
		return nil, core.NewSubcontrastError(caCols, cbCols)
	}

	if len(sessionsA) == 0 {
		return nil, core.NewParameterError("folds", "require at least one fold")
	}
	if len(sessionsB) != len(sessionsA) {
		return nil, core.NewParameterError("folds", "training and validation membership must have the same fold count")
	}
	m := len(sessionsA[0])
	if m == 0 {
		return nil, core.NewParameterError("folds", "require at least one session")
	}
	for l := range sessionsA {
		if len(sessionsA[l]) != m || len(sessionsB[l]) != m {
			return nil, core.NewParameterError("folds", "membership rows must all have the same session count")
		}
		if countTrue(sessionsA[l]) == 0 {
			return nil, core.NewParameterError("folds", "fold "+strconv.Itoa(l)+" has no training sessions")
		}
		if countTrue(sessionsB[l]) == 0 {
			return nil, core.NewParameterError("folds", "fold "+strconv.Itoa(l)+" has no validation sessions")
		}
	}

	neutral := mat.NewDense(1, m, nil)
	for k := 0; k < m; k++ {
		neutral.Set(0, k, 1)
	}

	return &Analysis{
		CA:        ca,
		CB:        cb,
		SessionsA: sessionsA,
		SessionsB: sessionsB,
		Perms:     neutral,
	}, nil
}

// NewLeaveOneOut builds an analysis on leave-one-session-out folds over m
// sessions: fold l trains on every session except l and validates on l.
func NewLeaveOneOut(ca, cb *mat.Dense, m int) (*Analysis, error) {
	if m < 2 {
		return nil, core.NewParameterError("sessions", "leave-one-session-out requires at least 2 sessions")
	}
	sessionsA := make([][]bool, m)
	sessionsB := make([][]bool, m)
	for l := 0; l < m; l++ {
		sessionsA[l] = make([]bool, m)
		sessionsB[l] = make([]bool, m)
		for k := 0; k < m; k++ {
			sessionsA[l][k] = k != l
			sessionsB[l][k] = k == l
		}
	}
	return New(ca, cb, sessionsA, sessionsB)
}

// NewDistinctness builds the pattern-distinctness special case: identical
// training and validation contrasts on leave-one-session-out folds.
func NewDistinctness(c *mat.Dense, m int) (*Analysis, error) {
	return NewLeaveOneOut(c, c, m)
}

func countTrue(row []bool) int {
	n := 0
	for _, b := range row {
		if b {
			n++
		}
	}
	return n
}

// M returns the session count.
func (a *Analysis) M() int { return len(a.SessionsA[0]) }

// L returns the fold count.
func (a *Analysis) L() int { return len(a.SessionsA) }

// NumPerms returns the number of retained sign permutations.
func (a *Analysis) NumPerms() int {
	r, _ := a.Perms.Dims()
	return r
}

// TrainingSessions returns the ascending indices of fold l's training set.
func (a *Analysis) TrainingSessions(l int) []int {
	return indicesOf(a.SessionsA[l])
}

// ValidationSessions returns the ascending indices of fold l's validation set.
func (a *Analysis) ValidationSessions(l int) []int {
	return indicesOf(a.SessionsB[l])
}

// InvolvedSessions returns the ascending indices of sessions appearing on
// either side of fold l.
func (a *Analysis) InvolvedSessions(l int) []int {
	m := a.M()
	out := make([]int, 0, m)
	for k := 0; k < m; k++ {
		if a.SessionsA[l][k] || a.SessionsB[l][k] {
			out = append(out, k)
		}
	}
	return out
}

// UsedAsTraining reports whether session k trains in any fold.
func (a *Analysis) UsedAsTraining(k int) bool {
	for l := range a.SessionsA {
		if a.SessionsA[l][k] {
			return true
		}
	}
	return false
}

// UsedAsValidation reports whether session k validates in any fold.
func (a *Analysis) UsedAsValidation(k int) bool {
	for l := range a.SessionsB {
		if a.SessionsB[l][k] {
			return true
		}
	}
	return false
}

func indicesOf(row []bool) []int {
	out := make([]int, 0, len(row))
	for k, b := range row {
		if b {
			out = append(out, k)
		}
	}
	return out
}

// InvolvedRegressorsA returns the rows of CA with any nonzero entry.
func (a *Analysis) InvolvedRegressorsA() []int {
	return nonzeroRows(a.CA)
}

// InvolvedRegressorsB returns the rows of CB with any nonzero entry.
func (a *Analysis) InvolvedRegressorsB() []int {
	return nonzeroRows(a.CB)
}

func nonzeroRows(c *mat.Dense) []int {
	r, cols := c.Dims()
	out := make([]int, 0, r)
	for i := 0; i < r; i++ {
		for j := 0; j < cols; j++ {
			if c.At(i, j) != 0 {
				out = append(out, i)
				break
			}
		}
	}
	return out
}

// Characterization summarizes the geometry of an analysis's contrast pair.
type Characterization struct {
	RankA       int
	RankB       int
	CrossRank   int
	CrossNormSq float64
	NormVar     float64
	Advisories  []core.Advisory
}

// Characterize computes contrast ranks and cross-operator diagnostics.
// Findings are advisories, never errors: the statistic stays computable,
// it just may not mean what a cross-decoding interpretation assumes.
func (a *Analysis) Characterize() (Characterization, error) {
	var ch Characterization

	rankA, err := matutil.Rank(a.CA)
	if err != nil {
		return ch, err
	}
	rankB, err := matutil.Rank(a.CB)
	if err != nil {
		return ch, err
	}

	pinvA, err := matutil.Pinv(a.CA)
	if err != nil {
		return ch, err
	}
	var cross mat.Dense
	cross.Mul(a.CB, pinvA)

	crossRank, err := matutil.Rank(&cross)
	if err != nil {
		return ch, err
	}
	frob := mat.Norm(&cross, 2)

	ch.RankA = rankA
	ch.RankB = rankB
	ch.CrossRank = crossRank
	ch.CrossNormSq = frob * frob
	if rankA > 0 {
		ch.NormVar = ch.CrossNormSq / float64(rankA)
	}

	log := core.NewAdvisoryLog()
	if rankA != rankB {
		log.Addf(core.AdvContrastRankMismatch,
			"training contrast rank %d differs from validation contrast rank %d", rankA, rankB)
	}
	minRank := rankA
	if rankB < minRank {
		minRank = rankB
	}
	if crossRank < minRank {
		log.Addf(core.AdvCrossRankDeficient,
			"cross operator rank %d below contrast rank %d", crossRank, minRank)
	}
	if math.Abs(ch.NormVar-1) > varianceTol {
		log.Addf(core.AdvVarianceNotPreserved,
			"cross operator normalized variance %g deviates from 1", ch.NormVar)
	}
	ch.Advisories = log.List()

	return ch, nil
}

// CanonicalString encodes the full analysis state, including retained
// permutations, for parameter fingerprinting.
func (a *Analysis) CanonicalString() string {
	var sb strings.Builder
	sb.WriteString("CA:")
	writeMatrix(&sb, a.CA)
	sb.WriteString(";CB:")
	writeMatrix(&sb, a.CB)
	sb.WriteString(";folds:")
	for l := range a.SessionsA {
		for k := range a.SessionsA[l] {
			sb.WriteByte(boolByte(a.SessionsA[l][k]))
		}
		sb.WriteByte('/')
		for k := range a.SessionsB[l] {
			sb.WriteByte(boolByte(a.SessionsB[l][k]))
		}
		sb.WriteByte('|')
	}
	sb.WriteString(";perms:")
	writeMatrix(&sb, a.Perms)
	return sb.String()
}

func writeMatrix(sb *strings.Builder, m *mat.Dense) {
	r, c := m.Dims()
	sb.WriteString(strconv.Itoa(r))
	sb.WriteByte('x')
	sb.WriteString(strconv.Itoa(c))
	sb.WriteByte('[')
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			sb.WriteString(strconv.FormatFloat(m.At(i, j), 'g', -1, 64))
			sb.WriteByte(',')
		}
	}
	sb.WriteByte(']')
}

func boolByte(b bool) byte {
	if b {
		return '1'
	}
	return '0'
}
