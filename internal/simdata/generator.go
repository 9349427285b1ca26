// Package simdata generates reference datasets with known population
// statistics, used by the end-to-end tests and the simulate command.
//
// Each dataset has four experimental conditions plus a constant regressor.
// Two activation patterns u and w are planted as condition differences:
// conditions 1/2 differ by u, conditions 3/4 differ by w. The training
// contrast separates conditions 1 and 2, the validation contrast separates
// conditions 3 and 4, so the cross statistic estimates u' inv(Sigma) w / 8.
package simdata

import (
	"encoding/csv"
	"fmt"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strconv"

	"github.com/xuri/excelize/v2"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/allefeld/cvcrossmanova/domain/glm"
)

// Scenario selects the planted pattern geometry and noise covariance.
type Scenario string

const (
	// ScenarioStability plants the same pattern in both contrasts with
	// unit noise. Population value: 0.125.
	ScenarioStability Scenario = "stability"

	// ScenarioOrthogonal plants orthogonal patterns with unit noise.
	// Population value: 0.
	ScenarioOrthogonal Scenario = "orthogonal"

	// ScenarioCovariance plants orthogonal patterns with noise
	// correlation 0.5 between the two variables. The whitening step
	// makes the patterns negatively aligned. Population value: -1/12.
	ScenarioCovariance Scenario = "covariance"
)

const conditions = 4

type Config struct {
	Scenario      Scenario
	Sessions      int
	ObsPerSession int // must be a multiple of the 4 conditions
	Seed          uint64
}

func DefaultConfig() Config {
	return Config{
		Scenario:      ScenarioStability,
		Sessions:      4,
		ObsPerSession: 4000,
		Seed:          42,
	}
}

// Dataset holds the generated sessions together with the contrast pair
// that recovers the planted statistic.
type Dataset struct {
	Sessions []*glm.Session
	CA       *mat.Dense // 5x1, conditions 1 vs 2
	CB       *mat.Dense // 5x1, conditions 3 vs 4

	// TrueValue is the population value of the cross statistic for the
	// configured scenario.
	TrueValue float64
}

func Generate(cfg Config) (*Dataset, error) {
	if cfg.Sessions < 2 {
		return nil, fmt.Errorf("sessions must be >= 2")
	}
	if cfg.ObsPerSession <= 0 || cfg.ObsPerSession%conditions != 0 {
		return nil, fmt.Errorf("observations per session must be a positive multiple of %d", conditions)
	}

	u, w, rho, err := scenarioParams(cfg.Scenario)
	if err != nil {
		return nil, err
	}

	// True coefficients: condition rows carry half the pattern with
	// alternating sign, the constant row carries a nonzero baseline.
	baseline := []float64{10, 20}
	q := conditions + 1
	b := mat.NewDense(q, 2, nil)
	for j := 0; j < 2; j++ {
		b.Set(0, j, u[j]/2)
		b.Set(1, j, -u[j]/2)
		b.Set(2, j, w[j]/2)
		b.Set(3, j, -w[j]/2)
		b.Set(4, j, baseline[j])
	}

	norm := distuv.Normal{Mu: 0, Sigma: 1, Src: rand.NewPCG(cfg.Seed, cfg.Seed)}
	colOff := rho
	colScale := math.Sqrt(1 - rho*rho)

	n := cfg.ObsPerSession
	sessions := make([]*glm.Session, cfg.Sessions)
	for k := range sessions {
		x := mat.NewDense(n, q, nil)
		y := mat.NewDense(n, 2, nil)
		for i := 0; i < n; i++ {
			cond := i % conditions
			x.Set(i, cond, 1)
			x.Set(i, conditions, 1)

			e1 := norm.Rand()
			e2 := colOff*e1 + colScale*norm.Rand()
			y.Set(i, 0, b.At(cond, 0)+b.At(conditions, 0)+e1)
			y.Set(i, 1, b.At(cond, 1)+b.At(conditions, 1)+e2)
		}
		s, err := glm.NewSession(y, x, 0)
		if err != nil {
			return nil, err
		}
		sessions[k] = s
	}

	return &Dataset{
		Sessions:  sessions,
		CA:        mat.NewDense(q, 1, []float64{1, -1, 0, 0, 0}),
		CB:        mat.NewDense(q, 1, []float64{0, 0, 1, -1, 0}),
		TrueValue: trueValue(u, w, rho),
	}, nil
}

func scenarioParams(s Scenario) (u, w []float64, rho float64, err error) {
	switch s {
	case ScenarioStability:
		return []float64{1, 0}, []float64{1, 0}, 0, nil
	case ScenarioOrthogonal:
		return []float64{1, 0}, []float64{0, 1}, 0, nil
	case ScenarioCovariance:
		return []float64{1, 0}, []float64{0, 1}, 0.5, nil
	default:
		return nil, nil, 0, fmt.Errorf("unknown scenario %q", s)
	}
}

// trueValue evaluates u' inv(Sigma) w / 8 for the 2x2 unit-variance
// covariance with off-diagonal rho.
func trueValue(u, w []float64, rho float64) float64 {
	det := 1 - rho*rho
	inv00, inv11 := 1/det, 1/det
	inv01 := -rho / det
	return (u[0]*(inv00*w[0]+inv01*w[1]) + u[1]*(inv01*w[0]+inv11*w[1])) / 8
}

// WriteCSV writes one data and one design file per session into dir,
// named session-<k>-data.csv and session-<k>-design.csv. Values are
// written at full precision so loading them back is lossless.
func WriteCSV(dir string, ds *Dataset) error {
	for k, s := range ds.Sessions {
		dataPath := filepath.Join(dir, fmt.Sprintf("session-%d-data.csv", k+1))
		if err := writeMatrixCSV(dataPath, "var", s.Y); err != nil {
			return err
		}
		designPath := filepath.Join(dir, fmt.Sprintf("session-%d-design.csv", k+1))
		if err := writeMatrixCSV(designPath, "reg", s.X); err != nil {
			return err
		}
	}
	return nil
}

func writeMatrixCSV(path, prefix string, m *mat.Dense) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	rows, cols := m.Dims()
	header := make([]string, cols)
	for j := range header {
		header[j] = fmt.Sprintf("%s_%d", prefix, j+1)
	}
	if err := w.Write(header); err != nil {
		return err
	}
	record := make([]string, cols)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			record[j] = strconv.FormatFloat(m.At(i, j), 'g', -1, 64)
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	return w.Error()
}

// WriteXLSX writes the same per-session files as WriteCSV in xlsx format.
func WriteXLSX(dir string, ds *Dataset) error {
	for k, s := range ds.Sessions {
		dataPath := filepath.Join(dir, fmt.Sprintf("session-%d-data.xlsx", k+1))
		if err := writeMatrixXLSX(dataPath, "var", s.Y); err != nil {
			return err
		}
		designPath := filepath.Join(dir, fmt.Sprintf("session-%d-design.xlsx", k+1))
		if err := writeMatrixXLSX(designPath, "reg", s.X); err != nil {
			return err
		}
	}
	return nil
}

func writeMatrixXLSX(path, prefix string, m *mat.Dense) error {
	f := excelize.NewFile()
	defer f.Close()

	sheet := "Sheet1"
	rows, cols := m.Dims()
	for j := 0; j < cols; j++ {
		cell, err := excelize.CoordinatesToCellName(j+1, 1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheet, cell, fmt.Sprintf("%s_%d", prefix, j+1)); err != nil {
			return err
		}
	}
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			cell, err := excelize.CoordinatesToCellName(j+1, i+2)
			if err != nil {
				return err
			}
			if err := f.SetCellValue(sheet, cell, m.At(i, j)); err != nil {
				return err
			}
		}
	}
	return f.SaveAs(path)
}
