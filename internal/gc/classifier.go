package gc

import (
	"time"

	"github.com/packgc/packgc/internal/packfile"
)

// Classification is the Pack Catalog Classifier's output (spec §4.2):
// packs to rewrite and packs to prune unread.
type Classification struct {
	PacksBefore         []packfile.Descriptor
	ExpiredGarbagePacks []packfile.Descriptor
}

// Classify partitions packs given the current wall-clock time and
// policy thresholds. Running it twice on the same inputs yields
// identical partitions (spec §8, invariant 5) since it is a pure
// function of its arguments.
func Classify(packs []packfile.Descriptor, now int64, loc *time.Location, policy *Policy) Classification {
	recentGC := mostRecentGC(packs)
	coalesceLimit := policy.CoalesceGarbageLimit()
	ttl := policy.GarbageTTLMillis()

	var c Classification
	for _, p := range packs {
		if p.SourceClass != packfile.SourceUnreachableGarbage {
			c.PacksBefore = append(c.PacksBefore, p)
			continue
		}

		lm := p.LastModified.UnixMilli()
		if expired(lm, recentGC, ttl, now) {
			c.ExpiredGarbagePacks = append(c.ExpiredGarbagePacks, p)
			continue
		}

		if coalesceable(p.PackSize, lm, ttl, now, coalesceLimit, loc) {
			c.PacksBefore = append(c.PacksBefore, p)
			continue
		}

		// Retained: neither pruned nor rewritten this run.
	}

	return c
}
