package searchlight

import (
	"context"
	"fmt"
	"log"
	"math"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"

	"github.com/allefeld/cvcrossmanova/domain/core"
	"github.com/allefeld/cvcrossmanova/domain/sweep"
	"github.com/allefeld/cvcrossmanova/manova"
	"github.com/allefeld/cvcrossmanova/ports"
)

const (
	// DefaultChunkSize is the number of center positions per resumption
	// unit. It enters the parameter hash, so changing it invalidates
	// existing checkpoints.
	DefaultChunkSize = 64

	// DefaultCheckpointInterval is the wall-clock period between
	// checkpoint saves. Intervals are wall-clock rather than
	// iteration-count because runtime per position is data dependent.
	DefaultCheckpointInterval = 30 * time.Second
)

// Options configures a sweep. Store may be nil, which disables
// checkpointing entirely. Provenance should fingerprint the session
// source so that resuming over different data is refused.
type Options struct {
	Radius             float64
	Transform          *mat.Dense // 3x3 index-to-physical, nil for identity
	ChunkSize          int
	Workers            int
	CheckpointInterval time.Duration
	Store              ports.CheckpointPort
	Provenance         string

	// Progress, when set, is called after each merged chunk with the
	// completed and total chunk counts.
	Progress func(done, total int)
}

// Runner sweeps the template over every mask position. The engine and
// analyses are read-only during a run; each position writes to disjoint
// output slots, so positions are computed by a bounded worker pool while
// a single collector goroutine owns the checkpoint.
type Runner struct {
	engine *manova.Engine
	mask   *Mask
	tmpl   *Template
	opts   Options

	hash     core.SweepParamsHash
	permsPer []int
}

// NewRunner builds the template, validates that the mask covers exactly
// the engine's dependent variables, and derives the parameter hash from
// everything that affects the output.
func NewRunner(engine *manova.Engine, mask *Mask, opts Options) (*Runner, error) {
	if engine == nil {
		return nil, core.NewParameterError("runner", "requires a statistic engine")
	}
	if mask == nil {
		return nil, core.NewParameterError("runner", "requires a mask")
	}
	if mask.NumVars() != engine.Models().Vars() {
		return nil, core.NewParameterError("mask",
			fmt.Sprintf("covers %d positions but the sessions observe %d variables", mask.NumVars(), engine.Models().Vars()))
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.CheckpointInterval <= 0 {
		opts.CheckpointInterval = DefaultCheckpointInterval
	}

	tmpl, err := NewTemplate(opts.Radius, opts.Transform)
	if err != nil {
		return nil, err
	}

	r := &Runner{engine: engine, mask: mask, tmpl: tmpl, opts: opts}
	for _, a := range engine.Analyses() {
		r.permsPer = append(r.permsPer, a.NumPerms())
	}
	r.hash = core.NewSweepParamsHash([]byte(r.paramsPayload()))
	return r, nil
}

// Hash returns the sweep parameter hash.
func (r *Runner) Hash() core.SweepParamsHash { return r.hash }

// Template returns the built neighborhood template.
func (r *Runner) Template() *Template { return r.tmpl }

// chunkResult carries one computed chunk from a worker to the collector.
type chunkResult struct {
	chunk      int
	start      int
	values     [][][]float64 // [analysis][permutation][local position]
	counts     []int
	failures   []sweep.PositionFailure
	advisories []core.Advisory
}

// Run executes the sweep. On cancellation the current checkpoint is
// saved before returning, so a later call with identical parameters
// resumes instead of restarting. On completion the checkpoint is
// cleared. Advisories are collected per run and deduplicated; they are
// not persisted across resumptions.
func (r *Runner) Run(ctx context.Context) (*sweep.Maps, error) {
	positions := r.mask.NumVars()
	chunks := sweep.ChunkCount(positions, r.opts.ChunkSize)

	cp, err := r.loadOrCreate(ctx, positions)
	if err != nil {
		return nil, err
	}

	var pending []int
	for c, done := range cp.Done {
		if !done {
			pending = append(pending, c)
		}
	}
	log.Printf("[Searchlight] Sweep %s: %d positions, %d/%d chunks pending, %d workers, template size %d",
		r.hash.Short(12), positions, len(pending), chunks, r.opts.Workers, r.tmpl.Size())

	advisories := core.NewAdvisoryLog()
	for _, a := range r.engine.Advisories() {
		advisories.Add(a)
	}

	if len(pending) > 0 {
		if err := r.compute(ctx, cp, pending, advisories); err != nil {
			return nil, err
		}
	}

	if r.opts.Store != nil {
		if err := r.opts.Store.Clear(context.WithoutCancel(ctx), r.hash); err != nil {
			log.Printf("[Searchlight] Failed to clear checkpoint %s: %v", r.hash.Short(12), err)
		}
	}
	log.Printf("[Searchlight] Sweep %s complete: %d positions, %d failures",
		r.hash.Short(12), positions, len(cp.Failures))

	return &sweep.Maps{
		RunID:      cp.RunID,
		Values:     cp.Values,
		Counts:     cp.Counts,
		Failures:   cp.Failures,
		Advisories: advisories.List(),
	}, nil
}

// compute fans pending chunks out to workers and folds results into the
// checkpoint. Only the collector touches the checkpoint, which keeps
// saves serialized.
func (r *Runner) compute(ctx context.Context, cp *sweep.Checkpoint, pending []int, advisories *core.AdvisoryLog) error {
	// The explicit cancel releases blocked workers if the collector
	// bails out on a failed save.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, workCtx := errgroup.WithContext(ctx)
	jobs := make(chan int)
	results := make(chan *chunkResult, r.opts.Workers)

	g.Go(func() error {
		defer close(jobs)
		for _, c := range pending {
			select {
			case jobs <- c:
			case <-workCtx.Done():
				return workCtx.Err()
			}
		}
		return nil
	})

	for w := 0; w < r.opts.Workers; w++ {
		g.Go(func() error {
			for c := range jobs {
				res, err := r.computeChunk(workCtx, c)
				if err != nil {
					return err
				}
				select {
				case results <- res:
				case <-workCtx.Done():
					return workCtx.Err()
				}
			}
			return nil
		})
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- g.Wait()
		close(results)
	}()

	lastSave := time.Now()
	for res := range results {
		r.merge(cp, res, advisories)
		if r.opts.Progress != nil {
			r.opts.Progress(cp.DoneCount(), len(cp.Done))
		}
		if r.opts.Store != nil && time.Since(lastSave) >= r.opts.CheckpointInterval {
			if err := r.opts.Store.Save(context.WithoutCancel(ctx), cp); err != nil {
				return fmt.Errorf("checkpoint save: %w", err)
			}
			lastSave = time.Now()
		}
	}

	if err := <-waitErr; err != nil {
		if r.opts.Store != nil {
			if saveErr := r.opts.Store.Save(context.WithoutCancel(ctx), cp); saveErr != nil {
				log.Printf("[Searchlight] Failed to save checkpoint %s on interruption: %v", r.hash.Short(12), saveErr)
			} else {
				log.Printf("[Searchlight] Interrupted; checkpoint %s holds %d/%d chunks",
					r.hash.Short(12), cp.DoneCount(), len(cp.Done))
			}
		}
		return err
	}
	return nil
}

// computeChunk evaluates every position of one chunk. Numerical failures
// are recorded per position and leave NaN in the value slots; any other
// engine error aborts the run.
func (r *Runner) computeChunk(ctx context.Context, chunk int) (*chunkResult, error) {
	positions := r.mask.NumVars()
	start := chunk * r.opts.ChunkSize
	end := min(start+r.opts.ChunkSize, positions)
	size := end - start

	res := &chunkResult{chunk: chunk, start: start, counts: make([]int, size)}
	res.values = make([][][]float64, len(r.permsPer))
	for a, perms := range r.permsPer {
		res.values[a] = make([][]float64, perms)
		for p := range res.values[a] {
			res.values[a][p] = nanSlice(size)
		}
	}

	for pos := start; pos < end; pos++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		center := r.mask.Position(pos)
		vars := r.mask.Neighborhood(r.tmpl, center)
		res.counts[pos-start] = len(vars)

		out, err := r.engine.RunAnalyses(vars)
		if err != nil {
			if core.IsNumericalError(err) {
				res.failures = append(res.failures, sweep.PositionFailure{
					Position: pos,
					Center:   center,
					Message:  err.Error(),
				})
				continue
			}
			return nil, fmt.Errorf("position %v: %w", center, err)
		}
		for a := range out.Values {
			for p, v := range out.Values[a] {
				res.values[a][p][pos-start] = v
			}
		}
		res.advisories = append(res.advisories, out.Advisories...)
	}
	return res, nil
}

func (r *Runner) merge(cp *sweep.Checkpoint, res *chunkResult, advisories *core.AdvisoryLog) {
	for a := range res.values {
		for p := range res.values[a] {
			copy(cp.Values[a][p][res.start:], res.values[a][p])
		}
	}
	copy(cp.Counts[res.start:], res.counts)
	cp.Failures = append(cp.Failures, res.failures...)
	for _, adv := range res.advisories {
		advisories.Add(adv)
	}
	cp.Done[res.chunk] = true
	cp.UpdatedAt = time.Now().UTC()
}

// loadOrCreate fetches an existing checkpoint for the parameter hash and
// verifies its shape, or allocates a fresh one.
func (r *Runner) loadOrCreate(ctx context.Context, positions int) (*sweep.Checkpoint, error) {
	if r.opts.Store != nil {
		cp, err := r.opts.Store.Load(ctx, r.hash)
		if err != nil {
			return nil, err
		}
		if cp != nil {
			if err := r.validateCheckpoint(cp, positions); err != nil {
				return nil, err
			}
			log.Printf("[Searchlight] Resuming sweep %s from checkpoint: %d/%d chunks done",
				r.hash.Short(12), cp.DoneCount(), len(cp.Done))
			return cp, nil
		}
	}
	return sweep.NewCheckpoint(r.hash, core.NewRunID(), r.permsPer, positions, r.opts.ChunkSize), nil
}

func (r *Runner) validateCheckpoint(cp *sweep.Checkpoint, positions int) error {
	if cp.ParamsHash != r.hash {
		return core.NewCheckpointMismatchError(r.hash.Short(12), cp.ParamsHash.Short(12))
	}
	if cp.ChunkSize != r.opts.ChunkSize || cp.Positions() != positions ||
		len(cp.Done) != sweep.ChunkCount(positions, r.opts.ChunkSize) {
		return core.NewCheckpointMismatchError(
			fmt.Sprintf("%d positions in chunks of %d", positions, r.opts.ChunkSize),
			fmt.Sprintf("%d positions in chunks of %d", cp.Positions(), cp.ChunkSize))
	}
	if len(cp.Values) != len(r.permsPer) {
		return core.NewCheckpointMismatchError(
			fmt.Sprintf("%d analyses", len(r.permsPer)),
			fmt.Sprintf("%d analyses", len(cp.Values)))
	}
	for a, perms := range r.permsPer {
		if len(cp.Values[a]) != perms {
			return core.NewCheckpointMismatchError(
				fmt.Sprintf("analysis %d with %d permutations", a, perms),
				fmt.Sprintf("%d permutations", len(cp.Values[a])))
		}
	}
	return nil
}

// paramsPayload canonically encodes every parameter that affects the
// sweep output. Permutation sets are part of each analysis encoding, so
// a different subsampling seed yields a different hash.
func (r *Runner) paramsPayload() string {
	var b strings.Builder
	b.WriteString("cvcrossmanova-sweep-v1\n")
	b.WriteString("provenance:")
	b.WriteString(r.opts.Provenance)
	b.WriteByte('\n')

	models := r.engine.Models()
	fmt.Fprintf(&b, "sessions:%d\n", models.Len())
	for k := 0; k < models.Len(); k++ {
		m := models.Model(k)
		fmt.Fprintf(&b, "session %d:%dx%d df=%s\n", k, m.N, m.Q,
			strconv.FormatFloat(m.DF, 'g', -1, 64))
	}

	opts := r.engine.Options()
	fmt.Fprintf(&b, "lambda:%s\n", strconv.FormatFloat(opts.Lambda, 'g', -1, 64))
	fmt.Fprintf(&b, "cond-threshold:%s\n", strconv.FormatFloat(opts.CondThreshold, 'g', -1, 64))
	fmt.Fprintf(&b, "estimability:%t\n", opts.CheckEstimability)

	for i, a := range r.engine.Analyses() {
		fmt.Fprintf(&b, "analysis %d:%s\n", i, a.CanonicalString())
	}

	fmt.Fprintf(&b, "radius:%s\n", strconv.FormatFloat(r.tmpl.Radius, 'g', -1, 64))
	if r.tmpl.Transform == nil {
		b.WriteString("transform:identity\n")
	} else {
		b.WriteString("transform:")
		for i := 0; i < 3; i++ {
			for j := 0; j < 3; j++ {
				b.WriteString(strconv.FormatFloat(r.tmpl.Transform.At(i, j), 'g', -1, 64))
				b.WriteByte(' ')
			}
		}
		b.WriteByte('\n')
	}

	fmt.Fprintf(&b, "mask:%dx%dx%d\n", r.mask.Dims[0], r.mask.Dims[1], r.mask.Dims[2])
	for v := 0; v < r.mask.NumVars(); v++ {
		p := r.mask.Position(v)
		fmt.Fprintf(&b, "%d %d %d\n", p[0], p[1], p[2])
	}

	fmt.Fprintf(&b, "chunk:%d\n", r.opts.ChunkSize)
	return b.String()
}

func nanSlice(n int) []float64 {
	s := make([]float64, n)
	for i := range s {
		s[i] = math.NaN()
	}
	return s
}
