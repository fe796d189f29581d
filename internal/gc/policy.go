package gc

import (
	"time"

	"github.com/packgc/packgc/internal/packfile"
)

// Policy holds the tunables the catalog classifier reads (spec §6
// Configuration table). Exposed as setters to match the adapted
// interface's configuration style.
type Policy struct {
	coalesceGarbageLimit int64
	garbageTTLMillis     int64
}

// DefaultPolicy matches the spec's defaults: 50 MiB coalesce limit, 24h TTL.
func DefaultPolicy() *Policy {
	return &Policy{
		coalesceGarbageLimit: 50 * 1024 * 1024,
		garbageTTLMillis:     24 * 60 * 60 * 1000,
	}
}

func (p *Policy) SetCoalesceGarbageLimit(bytes int64) { p.coalesceGarbageLimit = bytes }
func (p *Policy) SetGarbageTTLMillis(ms int64)        { p.garbageTTLMillis = ms }
func (p *Policy) CoalesceGarbageLimit() int64         { return p.coalesceGarbageLimit }
func (p *Policy) GarbageTTLMillis() int64             { return p.garbageTTLMillis }

// mostRecentGC is the max last_modified over packs whose source is GC or
// GC_REST; 0 if none (spec §4.2 Auxiliary).
func mostRecentGC(packs []packfile.Descriptor) int64 {
	var max int64
	for _, p := range packs {
		if p.SourceClass != packfile.SourceGC && p.SourceClass != packfile.SourceGCRest {
			continue
		}
		lm := p.LastModified.UnixMilli()
		if lm > max {
			max = lm
		}
	}
	return max
}

// expired reports whether an UNREACHABLE_GARBAGE pack at lastModified
// (ms) is eligible for unread deletion, given recentGC and now (ms).
//
// All three must hold (spec §4.2): the pack predates the most recent GC
// run (so a successor run already observed and copied any reachable
// object it held), the TTL is enabled, and the TTL window has elapsed.
// mostRecentGC == 0 (no prior GC) makes the first condition unsatisfiable
// for any non-negative lastModified, so nothing can ever expire before a
// first GC has run — this is the open question in spec §9 resolved in
// favor of the literal signed-arithmetic reading.
func expired(lastModified, recentGC, ttlMillis, now int64) bool {
	return lastModified < recentGC && ttlMillis > 0 && now-lastModified >= ttlMillis
}

// coalesceable implements the five-step predicate from spec §4.2 for an
// UNREACHABLE_GARBAGE pack of size S with last-modified t.
func coalesceable(size, lastModified, ttlMillis, now, coalesceLimit int64, loc *time.Location) bool {
	if size >= coalesceLimit {
		return false
	}
	if ttlMillis == 0 {
		return true
	}

	dt := dayStart(lastModified, loc)
	dn := dayStart(now, loc)
	if dt != dn {
		return false
	}

	const oneDayMillis = 24 * 60 * 60 * 1000
	if ttlMillis > oneDayMillis {
		return true
	}

	w := ttlMillis / 3
	if w == 0 {
		return false
	}

	bucket := func(x, d int64) int64 { return (x - d) / w }
	return bucket(lastModified, dt) == bucket(now, dn)
}
