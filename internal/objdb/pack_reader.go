package objdb

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/packgc/packgc/internal/oid"
	"github.com/packgc/packgc/internal/packfile"
)

// indexEntry is one object's forward-index record: its OID, the byte
// offset of its body in the pack, and its persisted type.
type indexEntry struct {
	OID    string   `json:"oid"`
	Offset int64    `json:"offset"`
	Kind   oid.Kind `json:"kind"`
}

// indexFile is the on-disk index format version 2: a header carrying the
// owning pack's total size (so the reverse-index sentinel can be
// computed as packSize-20, per spec §6) plus sorted-by-offset entries.
type indexFile struct {
	Version  int          `json:"version"`
	PackSize int64        `json:"pack_size"`
	Entries  []indexEntry `json:"entries"`
}

type packReader struct {
	desc  packfile.Descriptor
	index indexFile
}

func newPackReader(desc packfile.Descriptor, rc io.ReadCloser) (*packReader, error) {
	defer func() { _ = rc.Close() }()

	var idx indexFile
	if err := json.NewDecoder(rc).Decode(&idx); err != nil {
		return nil, fmt.Errorf("objdb: decode index for %s: %w", desc.ID, err)
	}
	if idx.Version != packfile.RequiredIndexVersion {
		return nil, fmt.Errorf("objdb: pack %s has index version %d, want %d",
			desc.ID, idx.Version, packfile.RequiredIndexVersion)
	}
	sort.Slice(idx.Entries, func(i, j int) bool { return idx.Entries[i].Offset < idx.Entries[j].Offset })

	return &packReader{desc: desc, index: idx}, nil
}

func (r *packReader) ForwardIndex(ctx context.Context) (map[oid.OID]int64, error) {
	out := make(map[oid.OID]int64, len(r.index.Entries))
	for _, e := range r.index.Entries {
		o, err := oid.Parse(e.OID)
		if err != nil {
			return nil, fmt.Errorf("objdb: bad oid in index of %s: %w", r.desc.ID, err)
		}
		out[o] = e.Offset
	}
	return out, nil
}

func (r *packReader) ObjectType(ctx context.Context, offset int64) (oid.Kind, error) {
	for _, e := range r.index.Entries {
		if e.Offset == offset {
			return e.Kind, nil
		}
	}
	return oid.KindUnknown, fmt.Errorf("objdb: no object at offset %d in pack %s", offset, r.desc.ID)
}

// NextOffset returns the offset immediately following the object at
// offset. The trailing sentinel is pack_size-20, matching the 20-byte
// trailer every pack carries (spec §6).
func (r *packReader) NextOffset(ctx context.Context, offset int64) (int64, error) {
	for i, e := range r.index.Entries {
		if e.Offset != offset {
			continue
		}
		if i+1 < len(r.index.Entries) {
			return r.index.Entries[i+1].Offset, nil
		}
		return r.index.PackSize - 20, nil
	}
	return 0, fmt.Errorf("objdb: no object at offset %d in pack %s", offset, r.desc.ID)
}

func (r *packReader) Close() error {
	return nil
}
