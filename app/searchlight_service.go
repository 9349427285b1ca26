package app

import (
	"context"
	"fmt"
	"log"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/allefeld/cvcrossmanova/domain/core"
	"github.com/allefeld/cvcrossmanova/domain/glm"
	"github.com/allefeld/cvcrossmanova/domain/sweep"
	"github.com/allefeld/cvcrossmanova/internal/profiling"
	"github.com/allefeld/cvcrossmanova/manova"
	"github.com/allefeld/cvcrossmanova/ports"
	"github.com/allefeld/cvcrossmanova/searchlight"
)

// SearchlightService sweeps a neighborhood template over a masked grid.
type SearchlightService struct {
	source ports.SessionSourcePort
	store  ports.CheckpointPort
}

// NewSearchlightService creates a searchlight service. A nil store
// disables checkpointing.
func NewSearchlightService(source ports.SessionSourcePort, store ports.CheckpointPort) *SearchlightService {
	return &SearchlightService{source: source, store: store}
}

// SearchlightRequest defines the inputs for one sweep.
type SearchlightRequest struct {
	Analyses     []AnalysisSpec
	Permutations PermutationSpec

	Lambda        float64
	CondThreshold float64

	Mask      *searchlight.Mask
	Radius    float64
	Transform *mat.Dense

	ChunkSize          int
	Workers            int
	CheckpointInterval time.Duration
	Progress           func(done, total int)
}

// MapSummary describes one analysis's neutral map over the positions
// that produced a value.
type MapSummary struct {
	Name string `json:"name"`
	profiling.Distribution
}

// SearchlightResult contains the complete output of a sweep. Advisories
// and per-position failures travel inside Maps.
type SearchlightResult struct {
	RunID     core.RunID   `json:"run_id"`
	Maps      *sweep.Maps  `json:"maps"`
	Summaries []MapSummary `json:"summaries"`
	RuntimeMs int64        `json:"runtime_ms"`
}

// Run loads sessions, fits the models and sweeps every analysis over
// the mask. Cancelling ctx leaves a checkpoint behind; rerunning the
// same request resumes from it.
func (s *SearchlightService) Run(ctx context.Context, req SearchlightRequest) (*SearchlightResult, error) {
	startTime := time.Now()

	sessions, provenance, err := s.source.LoadSessions(ctx)
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

	runner, err := searchlight.NewRunner(engine, req.Mask, searchlight.Options{
		Radius:             req.Radius,
		Transform:          req.Transform,
		ChunkSize:          req.ChunkSize,
		Workers:            req.Workers,
		CheckpointInterval: req.CheckpointInterval,
		Store:              s.store,
		Provenance:         provenance,
		Progress:           req.Progress,
	})
	if err != nil {
		return nil, err
	}
	log.Printf("[Searchlight] Run over %d positions with %d analyses, radius %g",
		req.Mask.NumVars(), len(analyses), req.Radius)

	maps, err := runner.Run(ctx)
	if err != nil {
		return nil, err
	}

	result := &SearchlightResult{RunID: maps.RunID, Maps: maps}
	for i, spec := range req.Analyses {
		dist, err := profiling.Describe(maps.Values[i][0])
		if err != nil {
			return nil, fmt.Errorf("summarizing %s: %w", spec.Label(i), err)
		}
		result.Summaries = append(result.Summaries, MapSummary{Name: spec.Label(i), Distribution: dist})
	}

	result.RuntimeMs = time.Since(startTime).Milliseconds()
	log.Printf("[Searchlight] Run %s complete in %dms (%d failed positions)",
		maps.RunID, result.RuntimeMs, len(maps.Failures))
	return result, nil
}
