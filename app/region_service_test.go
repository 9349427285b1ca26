package app

import (
	"context"
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/allefeld/cvcrossmanova/domain/glm"
	"github.com/allefeld/cvcrossmanova/internal/simdata"
)

// memorySource serves pre-built sessions through the session port.
type memorySource struct {
	sessions []*glm.Session
	prov     string
}

func (s *memorySource) LoadSessions(ctx context.Context) ([]*glm.Session, string, error) {
	return s.sessions, s.prov, nil
}

func stabilitySource(t *testing.T, sessions, obs int) (*memorySource, *simdata.Dataset) {
	t.Helper()
	cfg := simdata.DefaultConfig()
	cfg.Sessions = sessions
	cfg.ObsPerSession = obs
	ds, err := simdata.Generate(cfg)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	return &memorySource{sessions: ds.Sessions, prov: "simulated"}, ds
}

// TestRegionServiceScenario tests the full pipeline against the planted
// simulation value.
func TestRegionServiceScenario(t *testing.T) {
	source, ds := stabilitySource(t, 4, 4000)
	svc := NewRegionService(source)

	res, err := svc.Run(context.Background(), RegionRequest{
		Analyses: []AnalysisSpec{{Name: "stability", CA: ds.CA, CB: ds.CB}},
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.RunID == "" {
		t.Error("Result should carry a run id")
	}
	if len(res.Analyses) != 1 || res.Analyses[0].Name != "stability" {
		t.Fatalf("Analyses = %+v", res.Analyses)
	}
	got := res.Analyses[0].Values[0]
	if math.Abs(got-ds.TrueValue) > 0.06 {
		t.Errorf("Estimate = %g, want within 0.06 of %g", got, ds.TrueValue)
	}
	if res.Cond <= 0 || math.IsNaN(res.Cond) {
		t.Errorf("Cond = %g", res.Cond)
	}
	if res.OptimizedLambda != nil {
		t.Error("OptimizedLambda should be absent unless requested")
	}
}

// TestRegionServicePermutations tests seeded enrichment: value count,
// neutral-first ordering and determinism across runs.
func TestRegionServicePermutations(t *testing.T) {
	source, ds := stabilitySource(t, 4, 400)
	svc := NewRegionService(source)

	req := RegionRequest{
		Analyses:     []AnalysisSpec{{CA: ds.CA, CB: ds.CB}},
		Permutations: PermutationSpec{Enabled: true, Max: 50, Seed: 7},
	}
	first, err := svc.Run(context.Background(), req)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	// Four sessions give eight sign classes after reduction.
	if len(first.Analyses[0].Values) != 8 {
		t.Fatalf("Got %d values, want 8", len(first.Analyses[0].Values))
	}
	if first.Analyses[0].Name != "analysis 0" {
		t.Errorf("Name = %q, want positional fallback", first.Analyses[0].Name)
	}

	plain, err := svc.Run(context.Background(), RegionRequest{
		Analyses: []AnalysisSpec{{CA: ds.CA, CB: ds.CB}},
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if first.Analyses[0].Values[0] != plain.Analyses[0].Values[0] {
		t.Error("Neutral value should not depend on enrichment")
	}

	second, err := svc.Run(context.Background(), req)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	for i, v := range first.Analyses[0].Values {
		if second.Analyses[0].Values[i] != v {
			t.Fatalf("Values differ at %d: %g vs %g", i, v, second.Analyses[0].Values[i])
		}
	}
}

// TestRegionServiceSubsetAndOptimize tests explicit variable subsets and
// the diagnostic lambda estimate.
func TestRegionServiceSubsetAndOptimize(t *testing.T) {
	source, ds := stabilitySource(t, 4, 400)
	svc := NewRegionService(source)

	res, err := svc.Run(context.Background(), RegionRequest{
		Analyses:       []AnalysisSpec{{CA: ds.CA, CB: ds.CB}},
		Variables:      []int{0},
		OptimizeLambda: true,
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.OptimizedLambda == nil {
		t.Fatal("OptimizedLambda should be reported when requested")
	}
	if *res.OptimizedLambda < 0 || *res.OptimizedLambda > 1 {
		t.Errorf("OptimizedLambda = %g, want within [0,1]", *res.OptimizedLambda)
	}
}

// TestRegionServiceValidation tests request validation failure modes.
func TestRegionServiceValidation(t *testing.T) {
	source, ds := stabilitySource(t, 3, 40)
	svc := NewRegionService(source)
	ctx := context.Background()

	if _, err := svc.Run(ctx, RegionRequest{}); err == nil {
		t.Error("Expected an error for an empty analysis list")
	}
	if _, err := svc.Run(ctx, RegionRequest{Analyses: []AnalysisSpec{{Name: "void"}}}); err == nil {
		t.Error("Expected an error for a missing contrast")
	}

	// Explicit folds sized for the wrong session count.
	_, err := svc.Run(ctx, RegionRequest{
		Analyses: []AnalysisSpec{{
			CA:                 ds.CA,
			TrainingSessions:   [][]bool{{true, false}},
			ValidationSessions: [][]bool{{false, true}},
		}},
	})
	if err == nil {
		t.Error("Expected an error for fold matrices of the wrong width")
	}

	// Contrast weighting a regressor beyond the five-column design.
	wide := mat.NewDense(7, 1, []float64{0, 0, 0, 0, 0, 0, 1})
	if _, err := svc.Run(ctx, RegionRequest{Analyses: []AnalysisSpec{{CA: wide}}}); err == nil {
		t.Error("Expected an error for a contrast outside the design")
	}
}
