package packwriter

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/packgc/packgc/internal/chunking"
	"github.com/packgc/packgc/internal/oid"
)

func mustOID(t *testing.T, hex string) oid.OID {
	t.Helper()
	id, err := oid.Parse(hex)
	if err != nil {
		t.Fatalf("parse oid %q: %v", hex, err)
	}
	return id
}

func TestWriter_WritePack_NoChunker(t *testing.T) {
	w := New(HeadsOptions(2), nil, nil)
	id := mustOID(t, "0000000000000000000000000000000000000000000000000000000000000001")
	w.AddObject(id, oid.KindBlob, []byte("hello"))

	var buf bytes.Buffer
	n, err := w.WritePack(context.Background(), &buf)
	if err != nil {
		t.Fatalf("WritePack: %v", err)
	}
	if n != int64(buf.Len()) {
		t.Errorf("reported %d bytes written, buffer holds %d", n, buf.Len())
	}
	if w.Stats().ChunkCount != 0 {
		t.Errorf("ChunkCount = %d, want 0 with no chunker configured", w.Stats().ChunkCount)
	}
}

func TestWriter_WritePack_ChunkerPopulatesChunkCount(t *testing.T) {
	chunker, err := chunking.NewFastCDCChunker(64, 128, 256)
	if err != nil {
		t.Fatalf("construct chunker: %v", err)
	}

	w := New(GarbageOptions(2), chunker, nil)
	id1 := mustOID(t, "0000000000000000000000000000000000000000000000000000000000000001")
	id2 := mustOID(t, "0000000000000000000000000000000000000000000000000000000000000002")

	big := bytes.Repeat([]byte("packgc-chunk-test-data "), 64)
	w.AddObject(id1, oid.KindBlob, big)
	w.AddObject(id2, oid.KindBlob, []byte("tiny"))

	var buf bytes.Buffer
	if _, err := w.WritePack(context.Background(), &buf); err != nil {
		t.Fatalf("WritePack: %v", err)
	}

	stats := w.Stats()
	if stats.ChunkCount == 0 {
		t.Error("ChunkCount = 0, want at least one chunk per object")
	}
	if stats.ObjectCount != 2 {
		t.Errorf("ObjectCount = %d, want 2", stats.ObjectCount)
	}
}

func TestWriter_AddObject_Deduplicates(t *testing.T) {
	w := New(HeadsOptions(2), nil, nil)
	id := mustOID(t, "0000000000000000000000000000000000000000000000000000000000000001")
	w.AddObject(id, oid.KindBlob, []byte("first"))
	w.AddObject(id, oid.KindBlob, []byte("second"))

	if w.ObjectCount() != 1 {
		t.Fatalf("ObjectCount = %d, want 1 after duplicate AddObject", w.ObjectCount())
	}
	if _, dup := w.ObjectSet()[id]; !dup {
		t.Error("expected id to be present in ObjectSet")
	}
}

func TestWriter_Prepare_SkipsHaveAndExcluded(t *testing.T) {
	w := New(HeadsOptions(2), nil, nil)

	want := mustOID(t, "0000000000000000000000000000000000000000000000000000000000000001")
	have := mustOID(t, "0000000000000000000000000000000000000000000000000000000000000002")
	excluded := mustOID(t, "0000000000000000000000000000000000000000000000000000000000000003")

	w.Exclude(map[oid.OID]struct{}{excluded: {}})

	src := func(ctx context.Context, id oid.OID) ([]byte, oid.Kind, error) {
		return []byte(id.String()), oid.KindBlob, nil
	}

	err := w.Prepare(context.Background(),
		map[oid.OID]struct{}{want: {}, have: {}, excluded: {}},
		map[oid.OID]struct{}{have: {}},
		src)
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}

	if w.ObjectCount() != 1 {
		t.Fatalf("ObjectCount = %d, want 1 (only want-minus-have-minus-excluded)", w.ObjectCount())
	}
	if _, ok := w.ObjectSet()[want]; !ok {
		t.Error("want object missing from ObjectSet")
	}
}

func TestWriter_Prepare_IncludesTagTargetsNotInWant(t *testing.T) {
	w := New(HeadsOptions(2), nil, nil)

	want := mustOID(t, "0000000000000000000000000000000000000000000000000000000000000001")
	tagTarget := mustOID(t, "0000000000000000000000000000000000000000000000000000000000000004")
	excludedTagTarget := mustOID(t, "0000000000000000000000000000000000000000000000000000000000000005")

	w.Exclude(map[oid.OID]struct{}{excludedTagTarget: {}})
	w.SetTagTargets(map[oid.OID]struct{}{tagTarget: {}, excludedTagTarget: {}})

	src := func(ctx context.Context, id oid.OID) ([]byte, oid.Kind, error) {
		return []byte(id.String()), oid.KindCommit, nil
	}

	err := w.Prepare(context.Background(), map[oid.OID]struct{}{want: {}}, nil, src)
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}

	if _, ok := w.ObjectSet()[tagTarget]; !ok {
		t.Error("peeled tag target missing from ObjectSet, want it included alongside want")
	}
	if _, ok := w.ObjectSet()[excludedTagTarget]; ok {
		t.Error("an already-excluded tag target must not be re-added")
	}
	if w.ObjectCount() != 2 {
		t.Errorf("ObjectCount = %d, want 2 (want + unexcluded tag target)", w.ObjectCount())
	}
}

func TestWriter_WriteIndex_OffsetsFollowHeader(t *testing.T) {
	w := New(HeadsOptions(2), nil, nil)
	id := mustOID(t, "0000000000000000000000000000000000000000000000000000000000000001")
	w.AddObject(id, oid.KindBlob, []byte("hello"))

	var pack bytes.Buffer
	if _, err := w.WritePack(context.Background(), &pack); err != nil {
		t.Fatalf("WritePack: %v", err)
	}

	var idx bytes.Buffer
	if _, err := w.WriteIndex(context.Background(), &idx); err != nil {
		t.Fatalf("WriteIndex: %v", err)
	}

	var decoded struct {
		Version  int   `json:"version"`
		PackSize int64 `json:"pack_size"`
		Entries  []struct {
			OID    string `json:"oid"`
			Offset int64  `json:"offset"`
		} `json:"entries"`
	}
	if err := json.Unmarshal(idx.Bytes(), &decoded); err != nil {
		t.Fatalf("unmarshal index: %v", err)
	}

	if len(decoded.Entries) != 1 {
		t.Fatalf("Entries = %d, want 1", len(decoded.Entries))
	}
	if decoded.Entries[0].Offset != 12 {
		t.Errorf("first object offset = %d, want 12 (header size)", decoded.Entries[0].Offset)
	}
	if decoded.PackSize != int64(pack.Len()) {
		t.Errorf("PackSize = %d, want %d", decoded.PackSize, pack.Len())
	}
}
