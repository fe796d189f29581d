package objdb

import (
	"bytes"
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"io"
	"sort"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/packgc/packgc/internal/cache"
	"github.com/packgc/packgc/internal/drivers"
	"github.com/packgc/packgc/internal/oid"
	"github.com/packgc/packgc/internal/packfile"
	"github.com/packgc/packgc/internal/refdb"
)

// packsTable is created by the service owning this store's migrations;
// Store only ever selects, inserts, and deletes rows in it.
const packsTable = "packgc_packs"

// Store is the backend-backed obj-db: pack bytes live in a driver
// container, catalog rows live in Postgres, and the shared block cache
// is consulted as a leaf service on every new pack.
type Store struct {
	db        *sql.DB
	driver    drivers.Driver
	container string
	cache     cache.BlockCache
	logger    *zap.Logger
	transfer  *drivers.ChunkedTransfer
	refDB     refdb.DB
}

// NewStore wires a Postgres-backed catalog to a storage driver holding
// pack bytes under container. blockCache may be any cache.BlockCache —
// cache.NewLRU for an item-count bound, cache.NewSizedLRU for a byte bound.
// refDB is consulted by CommitPack to re-read the live ref state at commit
// time for race detection (spec §4.4); it may be nil, in which case
// CommitPack skips the race check entirely (test doubles that never move
// refs under the run).
func NewStore(db *sql.DB, driver drivers.Driver, container string, blockCache cache.BlockCache, refDB refdb.DB, logger *zap.Logger) *Store {
	return &Store{
		db:        db,
		driver:    driver,
		container: container,
		cache:     blockCache,
		logger:    logger,
		transfer:  drivers.NewChunkedTransfer(0, logger),
		refDB:     refDB,
	}
}

func (s *Store) GetPacks(ctx context.Context) ([]packfile.Descriptor, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT id, source_class, index_version, object_count, pack_size, created_at, last_modified
		 FROM %s ORDER BY created_at`, packsTable))
	if err != nil {
		return nil, fmt.Errorf("objdb: list packs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []packfile.Descriptor
	for rows.Next() {
		var d packfile.Descriptor
		var source string
		if err := rows.Scan(&d.ID, &source, &d.IndexVersion, &d.ObjectCount, &d.PackSize, &d.CreatedAt, &d.LastModified); err != nil {
			return nil, fmt.Errorf("objdb: scan pack row: %w", err)
		}
		d.SourceClass = packfile.SourceClass(source)
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Store) NewReader(ctx context.Context, desc packfile.Descriptor) (Reader, error) {
	rc, err := s.driver.Get(ctx, s.container, desc.IndexFilename())
	if err != nil {
		return nil, fmt.Errorf("objdb: open index for %s: %w", desc.ID, err)
	}
	return newPackReader(desc, rc)
}

// ResolveObject scans the catalog for the pack holding id and returns its
// bytes and persisted kind. This stands in for the rev-walk/staging-area
// object source the graph packer driver normally depends on (spec §1,
// rev-walk is out of scope); it is a correct but O(packs) fallback usable
// until a real staging-area resolver is wired in front of it.
func (s *Store) ResolveObject(ctx context.Context, id oid.OID) ([]byte, oid.Kind, error) {
	packs, err := s.GetPacks(ctx)
	if err != nil {
		return nil, oid.KindUnknown, fmt.Errorf("objdb: resolve object %s: %w", id, err)
	}

	for _, d := range packs {
		reader, err := s.NewReader(ctx, d)
		if err != nil {
			return nil, oid.KindUnknown, fmt.Errorf("objdb: resolve object %s: open reader for %s: %w", id, d.ID, err)
		}
		fwd, err := reader.ForwardIndex(ctx)
		if err != nil {
			_ = reader.Close()
			return nil, oid.KindUnknown, fmt.Errorf("objdb: resolve object %s: forward index of %s: %w", id, d.ID, err)
		}
		offset, ok := fwd[id]
		if !ok {
			_ = reader.Close()
			continue
		}
		kind, err := reader.ObjectType(ctx, offset)
		if err != nil {
			_ = reader.Close()
			return nil, oid.KindUnknown, fmt.Errorf("objdb: resolve object %s: type in %s: %w", id, d.ID, err)
		}
		next, err := reader.NextOffset(ctx, offset)
		_ = reader.Close()
		if err != nil {
			return nil, oid.KindUnknown, fmt.Errorf("objdb: resolve object %s: next offset in %s: %w", id, d.ID, err)
		}

		rc, err := s.driver.Get(ctx, s.container, d.PackFilename())
		if err != nil {
			return nil, oid.KindUnknown, fmt.Errorf("objdb: resolve object %s: open pack %s: %w", id, d.ID, err)
		}
		var buf bytes.Buffer
		_, err = s.transfer.ChunkedWrite(&buf, rc)
		_ = rc.Close()
		if err != nil {
			return nil, oid.KindUnknown, fmt.Errorf("objdb: resolve object %s: read pack %s: %w", id, d.ID, err)
		}
		body := buf.Bytes()
		if offset < 0 || next > int64(len(body)) || offset > next {
			return nil, oid.KindUnknown, fmt.Errorf("objdb: resolve object %s: offsets [%d,%d) outside pack %s of size %d", id, offset, next, d.ID, len(body))
		}
		return body[offset:next], kind, nil
	}

	return nil, oid.KindUnknown, fmt.Errorf("objdb: object %s not found in any pack", id)
}

// NewPack allocates a fresh descriptor; the catalog row is only inserted
// by CommitPack. The descriptor ID is a fresh UUID, so concurrent
// allocations do not collide, and no lock or witness file is taken here
// or when WriteFile later writes the pack body.
func (s *Store) NewPack(ctx context.Context, source packfile.SourceClass, estimatedSize int64) (packfile.Descriptor, error) {
	if !source.Valid() {
		return packfile.Descriptor{}, fmt.Errorf("objdb: invalid source class %q", source)
	}
	return packfile.Descriptor{
		ID:           uuid.New().String(),
		SourceClass:  source,
		IndexVersion: packfile.RequiredIndexVersion,
		PackSize:     estimatedSize,
	}, nil
}

func (s *Store) WriteFile(ctx context.Context, desc packfile.Descriptor, ext string) (io.WriteCloser, error) {
	name := desc.ID + ext
	pr, pw := io.Pipe()
	go func() {
		err := s.driver.Put(ctx, s.container, name, pr)
		_ = pr.CloseWithError(err)
	}()
	return pw, nil
}

// CommitPack publishes add and removes prune inside one SQL transaction,
// re-checking the snapshot's fingerprint against a live re-query of the
// ref-db (spec §4.4 "Race detection"). A mismatch means a racing writer
// moved, added, or removed a ref after the run's snapshot was taken, and
// the whole attempt is rejected without touching the catalog; the
// caller's loop reruns pack() as spec'd.
func (s *Store) CommitPack(ctx context.Context, snapshot RefSnapshot, add, prune []packfile.Descriptor) (bool, error) {
	if s.refDB != nil {
		partition, err := refdb.CollectRefs(ctx, s.refDB)
		if err != nil {
			return false, fmt.Errorf("objdb: re-collect refs for commit race check: %w", err)
		}
		live := Fingerprint(partition.AllHeads, partition.NonHeads, partition.TxnHeads)
		if live != snapshot {
			s.logger.Warn("commit race detected, ref snapshot stale",
				zap.String("expected", string(snapshot)), zap.String("current", string(live)))
			return false, nil
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("objdb: begin commit tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, d := range add {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(
			`INSERT INTO %s (id, source_class, index_version, object_count, pack_size, created_at, last_modified)
			 VALUES ($1,$2,$3,$4,$5,$6,$7)`, packsTable),
			d.ID, string(d.SourceClass), d.IndexVersion, d.ObjectCount, d.PackSize, d.CreatedAt, d.LastModified); err != nil {
			return false, fmt.Errorf("objdb: insert pack %s: %w", d.ID, err)
		}
	}

	for _, d := range prune {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, packsTable), d.ID); err != nil {
			return false, fmt.Errorf("objdb: delete pack %s: %w", d.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("objdb: commit tx: %w", err)
	}

	for _, d := range prune {
		s.deleteArtifacts(ctx, d)
	}

	return true, nil
}

// RollbackPack discards the on-disk artifacts of packs allocated during a
// failed run. Best-effort: a failure here is logged, not propagated, so
// it never masks the original error that triggered rollback (§7).
func (s *Store) RollbackPack(ctx context.Context, add []packfile.Descriptor) error {
	for _, d := range add {
		s.deleteArtifacts(ctx, d)
	}
	return nil
}

func (s *Store) deleteArtifacts(ctx context.Context, d packfile.Descriptor) {
	for _, name := range d.Companions() {
		if err := s.driver.Delete(ctx, s.container, name); err != nil {
			s.logger.Warn("failed to remove pack artifact during cleanup",
				zap.String("pack", d.ID), zap.String("file", name), zap.Error(err))
		}
	}
}

func (s *Store) ClearCache(ctx context.Context) {
	if s.cache != nil {
		s.cache.Clear()
	}
}

// PreWarm loads a newly written pack's index into the shared block
// cache, matching the graph packer driver's per-phase step 6.
func (s *Store) PreWarm(ctx context.Context, desc packfile.Descriptor) error {
	if s.cache == nil {
		return nil
	}
	rc, err := s.driver.Get(ctx, s.container, desc.IndexFilename())
	if err != nil {
		return fmt.Errorf("objdb: prewarm read %s: %w", desc.ID, err)
	}
	defer func() { _ = rc.Close() }()
	return s.cache.Put(ctx, s.container, desc.IndexFilename(), rc, desc.PackSize)
}

// Fingerprint computes a stable RefSnapshot over the actual OID membership
// of a ref partition — not merely set sizes, so that a same-size ref move
// (one OID swapped for another within a class) still changes the hash.
// The commit coordinator carries the run-start snapshot through to
// CommitPack unchanged; CommitPack recomputes this same hash over a live
// re-read of the ref-db to detect a race.
func Fingerprint(allHeads, nonHeads, txnHeads map[oid.OID]struct{}) RefSnapshot {
	h := sha256.New()
	writeSet := func(tag byte, set map[oid.OID]struct{}) {
		ids := make([]string, 0, len(set))
		for id := range set {
			ids = append(ids, id.String())
		}
		sort.Strings(ids)
		h.Write([]byte{tag, 0})
		for _, id := range ids {
			h.Write([]byte(id))
			h.Write([]byte{0})
		}
	}
	writeSet('H', allHeads)
	writeSet('N', nonHeads)
	writeSet('T', txnHeads)
	return RefSnapshot(hex.EncodeToString(h.Sum(nil)))
}
