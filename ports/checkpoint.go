package ports

import (
	"context"

	"github.com/allefeld/cvcrossmanova/domain/core"
	"github.com/allefeld/cvcrossmanova/domain/sweep"
)

// CheckpointPort persists sweep progress between runs. Snapshots are
// addressed by the sweep parameter hash, so a store never resumes a run
// whose configuration has drifted.
type CheckpointPort interface {
	// Load returns the snapshot for the given parameter hash, or
	// (nil, nil) when none exists.
	Load(ctx context.Context, hash core.SweepParamsHash) (*sweep.Checkpoint, error)

	// Save writes the snapshot, replacing any previous one for the
	// same parameter hash.
	Save(ctx context.Context, cp *sweep.Checkpoint) error

	// Clear removes the snapshot for the given parameter hash, if any.
	Clear(ctx context.Context, hash core.SweepParamsHash) error
}
