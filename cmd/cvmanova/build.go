package main

import (
	"gonum.org/v1/gonum/mat"

	"github.com/allefeld/cvcrossmanova/adapters/tabular"
	"github.com/allefeld/cvcrossmanova/app"
	"github.com/allefeld/cvcrossmanova/internal/config"
	"github.com/allefeld/cvcrossmanova/searchlight"
)

// sessionFiles maps the configured sessions onto tabular file pairs.
func sessionFiles(cfg *config.Config) []tabular.SessionFile {
	files := make([]tabular.SessionFile, len(cfg.Sessions))
	for k, s := range cfg.Sessions {
		files[k] = tabular.SessionFile{Data: s.Data, Design: s.Design, DF: s.DF}
	}
	return files
}

// analysisSpecs converts the configured analyses into service specs. The
// configuration has already been validated, so each entry carries either a
// self contrast or a training/validation pair.
func analysisSpecs(cfg *config.Config) []app.AnalysisSpec {
	specs := make([]app.AnalysisSpec, len(cfg.Analyses))
	for i, a := range cfg.Analyses {
		spec := app.AnalysisSpec{Name: a.Name}
		if len(a.Contrast) > 0 {
			spec.CA = denseFrom(a.Contrast)
		} else {
			spec.CA = denseFrom(a.Training)
			spec.CB = denseFrom(a.Validation)
		}
		if a.Folds == "explicit" {
			spec.TrainingSessions = a.TrainingSessions
			spec.ValidationSessions = a.ValidationSessions
		}
		specs[i] = spec
	}
	return specs
}

func denseFrom(rows [][]float64) *mat.Dense {
	m := mat.NewDense(len(rows), len(rows[0]), nil)
	for i, row := range rows {
		for j, v := range row {
			m.Set(i, j, v)
		}
	}
	return m
}

func permutationSpec(cfg *config.Config) app.PermutationSpec {
	return app.PermutationSpec{
		Enabled: cfg.Permutations.Enabled,
		Max:     cfg.Permutations.Max,
		Seed:    cfg.Permutations.Seed,
	}
}

// buildMask loads the configured mask file, or spans the full grid when no
// mask is given.
func buildMask(cfg *config.Config) (*searchlight.Mask, error) {
	sl := cfg.Searchlight
	if sl.Mask != "" {
		return tabular.LoadMask(sl.Mask, sl.Dims)
	}
	return searchlight.FullMask(sl.Dims)
}

// buildTransform turns the nine row-major transform entries into a 3x3
// matrix, or returns nil for the identity default.
func buildTransform(cfg *config.Config) *mat.Dense {
	if len(cfg.Searchlight.Transform) != 9 {
		return nil
	}
	return mat.NewDense(3, 3, cfg.Searchlight.Transform)
}
