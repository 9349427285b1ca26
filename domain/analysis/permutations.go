package analysis

import (
	"math/rand/v2"
	"sort"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/allefeld/cvcrossmanova/domain/core"
)

// DefaultMaxPerms caps how many unique sign permutations are retained.
const DefaultMaxPerms = 1000

// MaxSessions bounds the 2^m permutation enumeration.
const MaxSessions = 21

// WithPermutations returns a copy of the analysis whose Perms field holds
// the reduced, non-redundant set of sign permutations.
//
// All 2^m global sign vectors are enumerated, neutral first. Two vectors are
// equivalent when, in every fold, their restrictions to that fold's involved
// sessions agree up to a global flip; the flip is removed by normalizing each
// restriction with its lowest-indexed entry, so only relative sign patterns
// remain. One representative per equivalence class is kept, in first-seen
// order. If more than maxPerms classes survive, the neutral permutation is
// kept and maxPerms-1 of the rest are sampled uniformly without replacement,
// re-sorted to their original relative order. rng is only consulted on that
// sampling path, so results are reproducible for a fixed seed.
func (a *Analysis) WithPermutations(maxPerms int, rng *rand.Rand) (*Analysis, error) {
	m := a.M()
	if m > MaxSessions {
		return nil, core.NewPermutationLimitError(m, MaxSessions)
	}
	if maxPerms < 1 {
		return nil, core.NewParameterError("maxPerms", "must be at least 1")
	}

	folds := a.L()
	involved := make([][]int, folds)
	for l := 0; l < folds; l++ {
		involved[l] = a.InvolvedSessions(l)
	}

	total := 1 << uint(m)
	signs := make([]int8, m)
	seen := make(map[string]struct{}, total)
	kept := make([]int, 0, total)

	var sb strings.Builder
	for i := 0; i < total; i++ {
		for j := 0; j < m; j++ {
			if i&(1<<uint(j)) == 0 {
				signs[j] = 1
			} else {
				signs[j] = -1
			}
		}

		sb.Reset()
		for _, inv := range involved {
			first := signs[inv[0]]
			for _, k := range inv {
				if signs[k] == first {
					sb.WriteByte('+')
				} else {
					sb.WriteByte('-')
				}
			}
			sb.WriteByte('|')
		}
		sig := sb.String()

		if _, ok := seen[sig]; ok {
			continue
		}
		seen[sig] = struct{}{}
		kept = append(kept, i)
	}

	if len(kept) > maxPerms {
		if rng == nil {
			return nil, core.NewParameterError("rng", "required when unique permutations exceed the cap")
		}
		rest := kept[1:]
		order := rng.Perm(len(rest))[:maxPerms-1]
		sort.Ints(order)

		sampled := make([]int, 0, maxPerms)
		sampled = append(sampled, kept[0])
		for _, idx := range order {
			sampled = append(sampled, rest[idx])
		}
		kept = sampled
	}

	perms := mat.NewDense(len(kept), m, nil)
	for r, i := range kept {
		for j := 0; j < m; j++ {
			if i&(1<<uint(j)) == 0 {
				perms.Set(r, j, 1)
			} else {
				perms.Set(r, j, -1)
			}
		}
	}

	out := *a
	out.Perms = perms
	return &out, nil
}
