package objdb

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/packgc/packgc/internal/cache"
	"github.com/packgc/packgc/internal/database"
	"github.com/packgc/packgc/internal/drivers"
	"github.com/packgc/packgc/internal/oid"
	"github.com/packgc/packgc/internal/packfile"
	"github.com/packgc/packgc/internal/packwriter"
	"github.com/packgc/packgc/internal/refdb"
)

// TestStore_ResolveObject exercises the catalog-scan fallback against a real
// Postgres catalog and a local-disk driver; it is skipped whenever Postgres is
// not reachable, matching database.TestPostgres_Connect's skip-if-unreachable
// pattern.
func TestStore_ResolveObject(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping database tests in short mode")
	}

	pg, err := database.NewPostgres(database.Config{
		Host: "localhost", Port: 5432, Database: "packgc_dev", User: "packgc", Password: "packgc_dev",
	})
	if err != nil {
		t.Fatalf("construct database: %v", err)
	}
	defer func() { _ = pg.Close() }()

	ctx := context.Background()
	if err := pg.Ping(ctx); err != nil {
		t.Skipf("postgres not reachable, skipping: %v", err)
	}
	db := pg.DB()

	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS packgc_packs (
		id TEXT PRIMARY KEY, source_class TEXT, index_version INT,
		object_count BIGINT, pack_size BIGINT, created_at TIMESTAMPTZ, last_modified TIMESTAMPTZ)`); err != nil {
		t.Fatalf("create catalog table: %v", err)
	}
	t.Cleanup(func() { _, _ = db.ExecContext(ctx, `DELETE FROM packgc_packs WHERE id = 'resolve-test-pack'`) })

	logger := zap.NewNop()
	driver := drivers.NewLocalDriver(t.TempDir(), logger)
	store := NewStore(db, driver, "objects", cache.NewLRU(0), nil, logger)

	id, err := oid.Parse("0000000000000000000000000000000000000000000000000000000000000001")
	if err != nil {
		t.Fatalf("parse oid: %v", err)
	}

	desc := packfile.Descriptor{
		ID: "resolve-test-pack", SourceClass: packfile.SourceInsert,
		IndexVersion: packfile.RequiredIndexVersion, CreatedAt: time.Now(), LastModified: time.Now(),
	}

	w := packwriter.New(packwriter.Options{IndexVersion: packfile.RequiredIndexVersion}, nil, nil)
	w.AddObject(id, oid.KindBlob, []byte("resolve me"))

	packOut, err := store.WriteFile(ctx, desc, packfile.PackExt)
	if err != nil {
		t.Fatalf("write pack: %v", err)
	}
	size, err := w.WritePack(ctx, packOut)
	if err != nil {
		t.Fatalf("write pack body: %v", err)
	}
	if err := packOut.Close(); err != nil {
		t.Fatalf("close pack: %v", err)
	}
	desc.PackSize = size
	desc.ObjectCount = int64(w.ObjectCount())

	idxOut, err := store.WriteFile(ctx, desc, packfile.IndexExt)
	if err != nil {
		t.Fatalf("write index: %v", err)
	}
	if _, err := w.WriteIndex(ctx, idxOut); err != nil {
		t.Fatalf("write index body: %v", err)
	}
	if err := idxOut.Close(); err != nil {
		t.Fatalf("close index: %v", err)
	}

	if _, err := db.ExecContext(ctx,
		`INSERT INTO packgc_packs (id, source_class, index_version, object_count, pack_size, created_at, last_modified)
		 VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		desc.ID, string(desc.SourceClass), desc.IndexVersion, desc.ObjectCount, desc.PackSize, desc.CreatedAt, desc.LastModified); err != nil {
		t.Fatalf("insert catalog row: %v", err)
	}

	data, kind, err := store.ResolveObject(ctx, id)
	if err != nil {
		t.Fatalf("ResolveObject: %v", err)
	}
	if kind != oid.KindBlob {
		t.Errorf("kind = %v, want blob", kind)
	}
	if string(data) != "resolve me" {
		t.Errorf("data = %q, want %q", data, "resolve me")
	}

	missing, err := oid.Parse("ffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff")
	if err != nil {
		t.Fatalf("parse oid: %v", err)
	}
	if _, _, err := store.ResolveObject(ctx, missing); err == nil {
		t.Error("expected error resolving an object not present in any pack")
	}
}

// TestStore_CommitPack_DetectsRace exercises CommitPack's race check against
// a real packgc_refs table: a snapshot fingerprinted before a ref moves must
// be rejected when re-checked against the post-move live state, and a fresh
// fingerprint taken after the move must be accepted.
func TestStore_CommitPack_DetectsRace(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping database tests in short mode")
	}

	pg, err := database.NewPostgres(database.Config{
		Host: "localhost", Port: 5432, Database: "packgc_dev", User: "packgc", Password: "packgc_dev",
	})
	if err != nil {
		t.Fatalf("construct database: %v", err)
	}
	defer func() { _ = pg.Close() }()

	ctx := context.Background()
	if err := pg.Ping(ctx); err != nil {
		t.Skipf("postgres not reachable, skipping: %v", err)
	}
	db := pg.DB()

	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS packgc_packs (
		id TEXT PRIMARY KEY, source_class TEXT, index_version INT,
		object_count BIGINT, pack_size BIGINT, created_at TIMESTAMPTZ, last_modified TIMESTAMPTZ)`); err != nil {
		t.Fatalf("create catalog table: %v", err)
	}
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS packgc_refs (
		name TEXT PRIMARY KEY, target TEXT, peeled TEXT, peeled_set BOOLEAN,
		symbolic BOOLEAN, sym_target TEXT)`); err != nil {
		t.Fatalf("create refs table: %v", err)
	}
	t.Cleanup(func() {
		_, _ = db.ExecContext(ctx, `DELETE FROM packgc_packs WHERE id LIKE 'race-test-%'`)
		_, _ = db.ExecContext(ctx, `DELETE FROM packgc_refs WHERE name = 'refs/heads/race'`)
	})

	c1 := "0000000000000000000000000000000000000000000000000000000000000011"
	c2 := "0000000000000000000000000000000000000000000000000000000000000022"

	upsertRef := func(target string) {
		t.Helper()
		if _, err := db.ExecContext(ctx,
			`INSERT INTO packgc_refs (name, target, peeled, peeled_set, symbolic, sym_target)
			 VALUES ('refs/heads/race', $1, '', false, false, '')
			 ON CONFLICT (name) DO UPDATE SET target = EXCLUDED.target`, target); err != nil {
			t.Fatalf("upsert ref: %v", err)
		}
	}
	upsertRef(c1)

	logger := zap.NewNop()
	driver := drivers.NewLocalDriver(t.TempDir(), logger)
	refDB := refdb.NewPostgres(db, "refs/meta/")
	store := NewStore(db, driver, "objects", cache.NewLRU(0), refDB, logger)

	startPartition, err := refdb.CollectRefs(ctx, refDB)
	if err != nil {
		t.Fatalf("collect refs: %v", err)
	}
	staleSnapshot := Fingerprint(startPartition.AllHeads, startPartition.NonHeads, startPartition.TxnHeads)

	// Simulate a racing writer moving the ref after the run's snapshot was
	// taken but before commit.
	upsertRef(c2)

	ok, err := store.CommitPack(ctx, staleSnapshot, nil, nil)
	if err != nil {
		t.Fatalf("CommitPack: %v", err)
	}
	if ok {
		t.Error("CommitPack succeeded against a stale snapshot, want race detected")
	}

	freshPartition, err := refdb.CollectRefs(ctx, refDB)
	if err != nil {
		t.Fatalf("collect refs: %v", err)
	}
	freshSnapshot := Fingerprint(freshPartition.AllHeads, freshPartition.NonHeads, freshPartition.TxnHeads)

	ok, err = store.CommitPack(ctx, freshSnapshot, nil, nil)
	if err != nil {
		t.Fatalf("CommitPack: %v", err)
	}
	if !ok {
		t.Error("CommitPack failed against a fresh snapshot matching live ref state")
	}
}
