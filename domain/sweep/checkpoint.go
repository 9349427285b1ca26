// Package sweep holds the value types shared between the searchlight
// scheduler and checkpoint persistence.
package sweep

import (
	"math"
	"time"

	"github.com/allefeld/cvcrossmanova/domain/core"
)

// PositionFailure records a mask position whose statistics could not be
// computed. The sweep stores NaN at the position and continues.
type PositionFailure struct {
	Position int    `json:"position"` // linear index into the mask ordering
	Center   [3]int `json:"center"`   // grid coordinates of the center
	Message  string `json:"message"`
}

// Checkpoint is a resumable snapshot of a sweep. Positions are grouped
// into fixed-size chunks; a chunk is marked done only after every one of
// its positions has been computed, so resumption recomputes at most one
// partial chunk per worker. Values hold NaN at positions not yet computed
// or recorded as failures.
type Checkpoint struct {
	ParamsHash core.SweepParamsHash `json:"params_hash"`
	RunID      core.RunID           `json:"run_id"`
	ChunkSize  int                  `json:"chunk_size"`
	Done       []bool               `json:"done"`
	Values     [][][]float64        `json:"values"` // [analysis][permutation][position]
	Counts     []int                `json:"counts"` // variables per position
	Failures   []PositionFailure    `json:"failures"`
	CreatedAt  time.Time            `json:"created_at"`
	UpdatedAt  time.Time            `json:"updated_at"`
}

// ChunkCount returns the number of fixed-size chunks covering positions.
func ChunkCount(positions, chunkSize int) int {
	return (positions + chunkSize - 1) / chunkSize
}

// NewCheckpoint allocates an empty snapshot: all values NaN, no chunk done.
func NewCheckpoint(hash core.SweepParamsHash, runID core.RunID, permsPerAnalysis []int, positions, chunkSize int) *Checkpoint {
	values := make([][][]float64, len(permsPerAnalysis))
	for a, perms := range permsPerAnalysis {
		values[a] = make([][]float64, perms)
		for r := range values[a] {
			row := make([]float64, positions)
			for i := range row {
				row[i] = math.NaN()
			}
			values[a][r] = row
		}
	}
	now := time.Now().UTC()
	return &Checkpoint{
		ParamsHash: hash,
		RunID:      runID,
		ChunkSize:  chunkSize,
		Done:       make([]bool, ChunkCount(positions, chunkSize)),
		Values:     values,
		Counts:     make([]int, positions),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// Positions returns the number of mask positions covered.
func (c *Checkpoint) Positions() int {
	return len(c.Counts)
}

// DoneCount returns the number of completed chunks.
func (c *Checkpoint) DoneCount() int {
	n := 0
	for _, d := range c.Done {
		if d {
			n++
		}
	}
	return n
}

// Complete reports whether every chunk has been computed.
func (c *Checkpoint) Complete() bool {
	return c.DoneCount() == len(c.Done)
}

// Progress returns the completed fraction of chunks in [0,1].
func (c *Checkpoint) Progress() float64 {
	if len(c.Done) == 0 {
		return 1
	}
	return float64(c.DoneCount()) / float64(len(c.Done))
}

// Maps is the final deliverable of a sweep: one value map per analysis
// and permutation over the mask positions, in mask order. Advisories are
// collected over the run that produced the maps; they are not persisted
// across resumptions.
type Maps struct {
	RunID      core.RunID        `json:"run_id"`
	Values     [][][]float64     `json:"values"` // [analysis][permutation][position]
	Counts     []int             `json:"counts"`
	Failures   []PositionFailure `json:"failures"`
	Advisories []core.Advisory   `json:"advisories,omitempty"`
}
