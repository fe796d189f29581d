// Package refdb is the oracle over named references the GC engine reads
// once at the start of a run: a snapshot of ref tips, classified into the
// disjoint sets the graph packer drives from.
package refdb

import (
	"context"
	"fmt"
	"strings"

	"github.com/packgc/packgc/internal/oid"
)

// Ref is a named pointer, optionally symbolic (indirecting to another
// ref name) or peeled (a tag's ultimate non-tag target).
type Ref struct {
	Name      string
	Target    oid.OID
	Peeled    oid.OID
	PeeledSet bool
	Symbolic  bool
	SymTarget string
}

// IsNull reports whether the ref's target is the zero OID — the ref-db
// represents a deleted or never-set ref this way rather than omitting it.
func (r Ref) IsNull() bool {
	return !r.Symbolic && r.Target.IsZero()
}

const (
	headsPrefix = "refs/heads/"
	tagsPrefix  = "refs/tags/"
)

// DB is the external ref oracle: a snapshot of ref tips, plus the
// ref-tree predicate used to classify transactional refs. The GC core
// never writes through this interface.
type DB interface {
	// Refresh re-reads the backing store so a subsequent GetRefs/GetAdditionalRefs
	// call observes the latest state. CollectRefs calls this once per
	// invocation, before any enumeration; a run invokes CollectRefs at its
	// start, and objdb.Store.CommitPack invokes it again for its race check.
	Refresh(ctx context.Context) error
	// GetRefs returns every ref under refs/heads and refs/tags.
	GetRefs(ctx context.Context) ([]Ref, error)
	// GetAdditionalRefs returns refs outside the heads/tags namespace —
	// ref-tree refs and anything else a caller has registered.
	GetAdditionalRefs(ctx context.Context) ([]Ref, error)
	// IsRefTree reports whether name denotes a transactional ref-tree ref
	// (managed as a tree rather than a direct object pointer).
	IsRefTree(name string) bool
}

// Partition is the four disjoint OID sets the ref collector produces.
// See spec §3: allHeads, nonHeads, txnHeads are pairwise disjoint;
// tagTargets = peeled ∪ allHeads.
type Partition struct {
	AllHeads   map[oid.OID]struct{}
	NonHeads   map[oid.OID]struct{}
	TxnHeads   map[oid.OID]struct{}
	TagTargets map[oid.OID]struct{}
}

func newPartition() *Partition {
	return &Partition{
		AllHeads:   make(map[oid.OID]struct{}),
		NonHeads:   make(map[oid.OID]struct{}),
		TxnHeads:   make(map[oid.OID]struct{}),
		TagTargets: make(map[oid.OID]struct{}),
	}
}

// CollectRefs reads the ref-db once and returns the run's ref partition.
// Any ref-db I/O error aborts before any pack is written.
func CollectRefs(ctx context.Context, db DB) (*Partition, error) {
	if err := db.Refresh(ctx); err != nil {
		return nil, fmt.Errorf("refdb: refresh: %w", err)
	}

	refs, err := db.GetRefs(ctx)
	if err != nil {
		return nil, fmt.Errorf("refdb: get refs: %w", err)
	}

	additional, err := db.GetAdditionalRefs(ctx)
	if err != nil {
		return nil, fmt.Errorf("refdb: get additional refs: %w", err)
	}

	p := newPartition()

	classify := func(r Ref) {
		if r.Symbolic || r.IsNull() {
			return
		}

		switch {
		case strings.HasPrefix(r.Name, headsPrefix) || strings.HasPrefix(r.Name, tagsPrefix):
			p.AllHeads[r.Target] = struct{}{}
		case db.IsRefTree(r.Name):
			p.TxnHeads[r.Target] = struct{}{}
		default:
			p.NonHeads[r.Target] = struct{}{}
		}

		if r.PeeledSet {
			p.TagTargets[r.Peeled] = struct{}{}
		}
	}

	for _, r := range refs {
		classify(r)
	}
	for _, r := range additional {
		classify(r)
	}

	for o := range p.AllHeads {
		p.TagTargets[o] = struct{}{}
	}

	return p, nil
}
