package processor

import (
	"github.com/aiostreams/aiostreams/pkg/stream"
)

// DedupeMode selects how duplicate logical streams (same info hash and
// file index) are folded.
type DedupeMode string

const (
	// DedupeConservative keeps one entry per service for a duplicate
	// group. Once the group has a cached entry, every uncached entry is
	// dropped; a p2p entry survives only as the group's sole source.
	DedupeConservative DedupeMode = "conservative"
	// DedupeAggressive keeps exactly one entry per group: the
	// best-ranked cached one, or the best-ranked entry overall when
	// nothing is cached.
	DedupeAggressive DedupeMode = "aggressive"
	// DedupeKeepAll disables cross-group elimination.
	DedupeKeepAll DedupeMode = "keep_all"
)

// Dedupe folds duplicates according to the mode. The input is assumed
// sorted; within a group the earlier (better-ranked) entry wins, so the
// output order is a subsequence of the input order. Candidates without
// a dedupe key are never folded.
func Dedupe(streams []stream.Stream, mode DedupeMode) []stream.Stream {
	if mode == DedupeKeepAll || mode == "" {
		return streams
	}

	type group struct {
		hasCached   bool
		hasNonP2P   bool
		keptService map[string]bool
		keptP2P     bool
		keptAny     bool
	}
	groups := map[string]*group{}
	for _, st := range streams {
		key := st.DedupeKey()
		if key == "" {
			continue
		}
		g := groups[key]
		if g == nil {
			g = &group{keptService: map[string]bool{}}
			groups[key] = g
		}
		if st.Service.Cached {
			g.hasCached = true
		}
		if st.Type != stream.TypeP2P {
			g.hasNonP2P = true
		}
	}

	out := streams[:0]
	for _, st := range streams {
		key := st.DedupeKey()
		if key == "" {
			out = append(out, st)
			continue
		}
		g := groups[key]

		if st.Type == stream.TypeP2P {
			// p2p only survives as the last resort for its hash
			if g.hasNonP2P || g.keptP2P {
				continue
			}
			g.keptP2P = true
			out = append(out, st)
			continue
		}

		// Both modes prefer cached over uncached across the whole
		// group, no matter which service holds the cached copy.
		if g.hasCached && !st.Service.Cached {
			continue
		}
		if mode == DedupeAggressive {
			// The input is sorted, so the first surviving entry is the
			// best-ranked one.
			if g.keptAny {
				continue
			}
			g.keptAny = true
			out = append(out, st)
			continue
		}
		if g.keptService[st.Service.ID] {
			continue
		}
		g.keptService[st.Service.ID] = true
		out = append(out, st)
	}
	return out
}
