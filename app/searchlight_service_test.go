package app

import (
	"context"
	"math"
	"math/rand/v2"
	"testing"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/allefeld/cvcrossmanova/adapters/checkpoint"
	"github.com/allefeld/cvcrossmanova/domain/glm"
	"github.com/allefeld/cvcrossmanova/searchlight"
)

func lineMask(t *testing.T, n int) *searchlight.Mask {
	t.Helper()
	m, err := searchlight.FullMask([3]int{n, 1, 1})
	if err != nil {
		t.Fatalf("FullMask failed: %v", err)
	}
	return m
}

// TestSearchlightServiceRun tests the sweep pipeline end to end on
// simulated sessions with a two-cell grid.
func TestSearchlightServiceRun(t *testing.T) {
	source, ds := stabilitySource(t, 3, 400)
	store := checkpoint.NewMemoryStore()
	svc := NewSearchlightService(source, store)

	res, err := svc.Run(context.Background(), SearchlightRequest{
		Analyses: []AnalysisSpec{{Name: "stability", CA: ds.CA, CB: ds.CB}},
		Mask:     lineMask(t, 2),
		Radius:   1,
		Workers:  2,
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.RunID == "" {
		t.Error("Result should carry a run id")
	}
	if store.Len() != 0 {
		t.Errorf("Store holds %d checkpoints after completion", store.Len())
	}

	if len(res.Maps.Values) != 1 || len(res.Maps.Values[0]) != 1 {
		t.Fatalf("Values shape [%d][%d]", len(res.Maps.Values), len(res.Maps.Values[0]))
	}
	neutral := res.Maps.Values[0][0]
	if len(neutral) != 2 {
		t.Fatalf("Neutral map has %d positions, want 2", len(neutral))
	}
	// Radius 1 on a two-cell line joins both cells at each center.
	if res.Maps.Counts[0] != 2 || res.Maps.Counts[1] != 2 {
		t.Errorf("Counts = %v, want [2 2]", res.Maps.Counts)
	}
	if neutral[0] != neutral[1] {
		t.Errorf("Identical neighborhoods should produce identical values: %g vs %g", neutral[0], neutral[1])
	}

	if len(res.Summaries) != 1 {
		t.Fatalf("Summaries = %+v", res.Summaries)
	}
	s := res.Summaries[0]
	if s.Name != "stability" || s.Valid != 2 || s.Failed != 0 {
		t.Errorf("Summary = %+v", s)
	}
	if s.Min > s.Median || s.Median > s.Max || s.Max < s.P95-1e-12 {
		t.Errorf("Summary order violated: %+v", s)
	}
	if s.Mean != neutral[0] {
		t.Errorf("Mean = %g, want %g for a constant map", s.Mean, neutral[0])
	}
}

// degenerateSource builds sessions whose two variables carry identical
// data, so any neighborhood spanning both is singular without shrinkage.
func degenerateSource(t *testing.T) *memorySource {
	t.Helper()
	const m, n = 3, 8
	sessions := make([]*glm.Session, m)
	for k := 0; k < m; k++ {
		noise := distuv.Normal{Mu: 0, Sigma: 1, Src: rand.NewPCG(uint64(7+k), uint64(7+k))}
		y := mat.NewDense(n, 2, nil)
		for i := 0; i < n; i++ {
			v := noise.Rand()
			y.Set(i, 0, v)
			y.Set(i, 1, v)
		}
		x := mat.NewDense(n, 2, nil)
		for i := 0; i < n; i++ {
			x.Set(i, i*2/n, 1)
		}
		s, err := glm.NewSession(y, x, 0)
		if err != nil {
			t.Fatalf("NewSession failed: %v", err)
		}
		sessions[k] = s
	}
	return &memorySource{sessions: sessions, prov: "degenerate"}
}

// TestSearchlightServiceAllPositionsFailed tests summaries and failure
// records when every neighborhood is singular.
func TestSearchlightServiceAllPositionsFailed(t *testing.T) {
	svc := NewSearchlightService(degenerateSource(t), nil)
	contrast := mat.NewDense(2, 1, []float64{1, -1})

	res, err := svc.Run(context.Background(), SearchlightRequest{
		Analyses: []AnalysisSpec{{CA: contrast}},
		Mask:     lineMask(t, 2),
		Radius:   1,
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(res.Maps.Failures) != 2 {
		t.Fatalf("Failures = %+v, want both positions", res.Maps.Failures)
	}
	for _, v := range res.Maps.Values[0][0] {
		if !math.IsNaN(v) {
			t.Errorf("Value %g should be NaN", v)
		}
	}
	s := res.Summaries[0]
	if s.Valid != 0 || s.Failed != 2 {
		t.Errorf("Summary = %+v, want 0 valid and 2 failed", s)
	}
	if s.Mean != 0 || s.Max != 0 {
		t.Errorf("Summary moments should stay zero with no data: %+v", s)
	}
}

// TestSearchlightServiceValidation tests request-level failure modes.
func TestSearchlightServiceValidation(t *testing.T) {
	source, ds := stabilitySource(t, 3, 40)
	svc := NewSearchlightService(source, nil)
	ctx := context.Background()

	_, err := svc.Run(ctx, SearchlightRequest{
		Analyses: []AnalysisSpec{{CA: ds.CA, CB: ds.CB}},
		Radius:   1,
	})
	if err == nil {
		t.Error("Expected an error for a missing mask")
	}

	_, err = svc.Run(ctx, SearchlightRequest{
		Analyses: []AnalysisSpec{{CA: ds.CA, CB: ds.CB}},
		Mask:     lineMask(t, 5),
		Radius:   1,
	})
	if err == nil {
		t.Error("Expected an error when the mask size disagrees with the variable count")
	}
}
