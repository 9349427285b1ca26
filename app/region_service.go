// Package app wires session loading, model fitting and the statistic
// engine into the two user-facing operations: a region evaluation over
// one variable subset, and a searchlight sweep over a masked grid.
package app

import (
	"context"
	"fmt"
	"log"
	"math/rand/v2"
	"strconv"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/allefeld/cvcrossmanova/domain/analysis"
	"github.com/allefeld/cvcrossmanova/domain/core"
	"github.com/allefeld/cvcrossmanova/domain/glm"
	"github.com/allefeld/cvcrossmanova/manova"
	"github.com/allefeld/cvcrossmanova/ports"
)

// AnalysisSpec describes one analysis to evaluate. CB nil means
// self-validation with CA on both sides. Nil fold matrices request
// leave-one-session-out folding.
type AnalysisSpec struct {
	Name string
	CA   *mat.Dense
	CB   *mat.Dense

	TrainingSessions   [][]bool
	ValidationSessions [][]bool
}

// Label returns the analysis name, or a positional fallback.
func (s AnalysisSpec) Label(i int) string {
	if s.Name != "" {
		return s.Name
	}
	return "analysis " + strconv.Itoa(i)
}

// PermutationSpec enables seeded sign-permutation enrichment.
type PermutationSpec struct {
	Enabled bool
	Max     int
	Seed    uint64
}

// buildAnalyses translates specs into domain analyses for m sessions.
func buildAnalyses(specs []AnalysisSpec, m int, perms PermutationSpec) ([]*analysis.Analysis, error) {
	if len(specs) == 0 {
		return nil, core.NewParameterError("analyses", "requires at least one analysis")
	}
	out := make([]*analysis.Analysis, len(specs))
	for i, spec := range specs {
		if spec.CA == nil {
			return nil, core.NewParameterError(spec.Label(i), "missing contrast")
		}
		var a *analysis.Analysis
		var err error
		switch {
		case spec.TrainingSessions != nil || spec.ValidationSessions != nil:
			cb := spec.CB
			if cb == nil {
				cb = spec.CA
			}
			a, err = analysis.New(spec.CA, cb, spec.TrainingSessions, spec.ValidationSessions)
		case spec.CB == nil:
			a, err = analysis.NewDistinctness(spec.CA, m)
		default:
			a, err = analysis.NewLeaveOneOut(spec.CA, spec.CB, m)
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", spec.Label(i), err)
		}

		if perms.Enabled {
			max := perms.Max
			if max <= 0 {
				max = analysis.DefaultMaxPerms
			}
			rng := rand.New(rand.NewPCG(perms.Seed, perms.Seed))
			a, err = a.WithPermutations(max, rng)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", spec.Label(i), err)
			}
		}
		out[i] = a
	}
	return out, nil
}

// RegionService evaluates analyses over one fixed variable subset.
type RegionService struct {
	source ports.SessionSourcePort
}

// NewRegionService creates a region service.
func NewRegionService(source ports.SessionSourcePort) *RegionService {
	return &RegionService{source: source}
}

// RegionRequest defines the inputs for a region evaluation. An empty
// Variables slice selects every variable.
type RegionRequest struct {
	Analyses     []AnalysisSpec
	Variables    []int
	Permutations PermutationSpec

	Lambda         float64
	CondThreshold  float64
	OptimizeLambda bool
}

// RegionAnalysisValues holds one analysis's values per permutation,
// neutral first.
type RegionAnalysisValues struct {
	Name   string    `json:"name"`
	Values []float64 `json:"values"`
}

// RegionResult contains the complete output of a region evaluation.
// OptimizedLambda is a diagnostic: it is reported when requested but
// never applied to the run itself.
type RegionResult struct {
	RunID           core.RunID             `json:"run_id"`
	Analyses        []RegionAnalysisValues `json:"analyses"`
	Cond            float64                `json:"cond"`
	OptimizedLambda *float64               `json:"optimized_lambda,omitempty"`
	Advisories      []core.Advisory        `json:"advisories,omitempty"`
	RuntimeMs       int64                  `json:"runtime_ms"`
}

// Run loads sessions, fits the models and evaluates every analysis over
// the requested subset.
func (s *RegionService) Run(ctx context.Context, req RegionRequest) (*RegionResult, error) {
	startTime := time.Now()
	runID := core.NewRunID()

	sessions, _, err := s.source.LoadSessions(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading sessions: %w", err)
	}
	models, err := glm.FitAll(sessions)
	if err != nil {
		return nil, fmt.Errorf("fitting sessions: %w", err)
	}

	analyses, err := buildAnalyses(req.Analyses, models.Len(), req.Permutations)
	if err != nil {
		return nil, err
	}
	engine, err := manova.NewEngine(models, analyses, manova.Options{
		Lambda:            req.Lambda,
		CondThreshold:     req.CondThreshold,
		CheckEstimability: true,
	})
	if err != nil {
		return nil, err
	}

	vars := req.Variables
	if len(vars) == 0 {
		vars = make([]int, models.Vars())
		for i := range vars {
			vars[i] = i
		}
	}
	log.Printf("[Region] Run %s: %d sessions, %d analyses, %d of %d variables",
		runID, models.Len(), len(analyses), len(vars), models.Vars())

	res, err := engine.RunAnalyses(vars)
	if err != nil {
		return nil, fmt.Errorf("evaluating analyses: %w", err)
	}

	advisories := core.NewAdvisoryLog()
	for _, adv := range engine.Advisories() {
		advisories.Add(adv)
	}
	for _, adv := range res.Advisories {
		advisories.Add(adv)
	}

	result := &RegionResult{
		RunID:      runID,
		Cond:       res.Cond,
		Advisories: advisories.List(),
	}
	for i, spec := range req.Analyses {
		vals := make([]float64, len(res.Values[i]))
		copy(vals, res.Values[i])
		result.Analyses = append(result.Analyses, RegionAnalysisValues{
			Name:   spec.Label(i),
			Values: vals,
		})
	}

	if req.OptimizeLambda {
		lam, err := engine.OptimizeRegularization(vars)
		if err != nil {
			return nil, fmt.Errorf("optimizing regularization: %w", err)
		}
		result.OptimizedLambda = &lam
	}

	result.RuntimeMs = time.Since(startTime).Milliseconds()
	log.Printf("[Region] Run %s complete in %dms (condition number %.4g)",
		runID, result.RuntimeMs, res.Cond)
	return result, nil
}
