// Package objdb is the object database abstraction the GC engine drives:
// pack enumeration, pack allocation, companion-file streaming, and the
// atomic commit/rollback of a pack-set swap.
package objdb

import (
	"context"
	"io"

	"github.com/packgc/packgc/internal/oid"
	"github.com/packgc/packgc/internal/packfile"
)

// Reader exposes the accessors the garbage phase needs from an existing
// pack without holding its full body in memory: forward index, reverse
// index (next-offset), and a per-offset object-type query.
type Reader interface {
	// ForwardIndex returns every OID this pack holds mapped to its offset.
	ForwardIndex(ctx context.Context) (map[oid.OID]int64, error)
	// ObjectType returns the persisted type of the object at offset.
	ObjectType(ctx context.Context, offset int64) (oid.Kind, error)
	// NextOffset returns the offset immediately following the object at
	// offset. The trailing sentinel is PackSize-20 (see spec §6's
	// pack-file layout: 12-byte header, variable body, 20-byte trailer).
	NextOffset(ctx context.Context, offset int64) (int64, error)
	io.Closer
}

// RefSnapshot is an opaque fingerprint of the ref-db state a run started
// with, carried unchanged through to CommitPack so the obj-db can detect
// whether a racing writer moved a ref out from under the run.
type RefSnapshot string

// DB is the external object database boundary: pack enumeration, reader
// and writer acquisition, and the atomic commit/rollback of a pack-set
// swap. See spec §6 "Boundary with external collaborators".
type DB interface {
	// GetPacks returns every pack descriptor currently in the catalog.
	GetPacks(ctx context.Context) ([]packfile.Descriptor, error)
	// NewReader opens a Reader over an existing pack's companion files.
	NewReader(ctx context.Context, desc packfile.Descriptor) (Reader, error)
	// NewPack allocates a fresh descriptor for a not-yet-written pack of
	// the given source class, seeded with an estimated size.
	NewPack(ctx context.Context, source packfile.SourceClass, estimatedSize int64) (packfile.Descriptor, error)
	// WriteFile opens an output stream for one companion file extension
	// of desc (PackExt, IndexExt, or a bitmap extension).
	WriteFile(ctx context.Context, desc packfile.Descriptor, ext string) (io.WriteCloser, error)
	// CommitPack atomically publishes add as new catalog entries and
	// removes prune. It returns false, nil if a race was detected (the
	// ref-db moved since snapshot was taken) rather than returning an
	// error; the caller's loop is expected to rerun pack().
	CommitPack(ctx context.Context, snapshot RefSnapshot, add, prune []packfile.Descriptor) (bool, error)
	// RollbackPack discards the on-disk artifacts of packs that were
	// allocated but never committed.
	RollbackPack(ctx context.Context, add []packfile.Descriptor) error
	// ClearCache invalidates any cached pack readers so a subsequent
	// GetPacks/NewReader call observes the post-commit catalog.
	ClearCache(ctx context.Context)
}
