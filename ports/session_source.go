package ports

import (
	"context"

	"github.com/allefeld/cvcrossmanova/domain/glm"
)

// SessionSourcePort loads session data and design matrices from external
// storage. The returned provenance string fingerprints the source files
// and feeds the sweep parameter hash.
type SessionSourcePort interface {
	LoadSessions(ctx context.Context) ([]*glm.Session, string, error)
}
