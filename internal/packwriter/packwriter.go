// Package packwriter implements the pack-writer adapter the graph packer
// driver depends on (spec §4.5): given "want" and "have" object sets it
// produces a pack stream, a forward index, and optional bitmap index.
package packwriter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/packgc/packgc/internal/chunking"
	"github.com/packgc/packgc/internal/oid"
)

// Options configures one writer instance. The graph packer driver sets
// these per phase (spec §4.3): every phase has delta-base-as-offset on
// and reuse-delta-commits off, except the garbage phase, which disables
// delta compression and bitmaps and forces object reuse.
type Options struct {
	DeltaBaseOffset   bool
	ReuseDeltaCommits bool
	EnableDeltas      bool
	EnableBitmaps     bool
	ForceReuse        bool
	IndexVersion      int
}

// HeadsOptions, RestOptions, TxnOptions, and GarbageOptions are the
// concrete per-phase configurations named in spec §4.3.
func HeadsOptions(indexVersion int) Options {
	return Options{DeltaBaseOffset: true, EnableDeltas: true, EnableBitmaps: true, IndexVersion: indexVersion}
}

func RestOptions(indexVersion int) Options { return HeadsOptions(indexVersion) }

func TxnOptions(indexVersion int) Options { return HeadsOptions(indexVersion) }

func GarbageOptions(indexVersion int) Options {
	return Options{
		DeltaBaseOffset: true,
		EnableDeltas:    false,
		EnableBitmaps:   false,
		ForceReuse:      true,
		IndexVersion:    indexVersion,
	}
}

// ObjectSource resolves an OID to its bytes and kind; the graph packer
// driver supplies this from the rev-walk / existing pack readers.
type ObjectSource func(ctx context.Context, id oid.OID) ([]byte, oid.Kind, error)

// Stats is the opaque per-pack statistics the adapter reports back.
type Stats struct {
	ObjectCount      int
	UncompressedSize int64
	CompressedSize   int64
	// ChunkCount is the total number of content-defined chunks object
	// bodies decomposed into, when a chunker is configured. It exists so
	// a future cross-pack dedup pass has chunk boundaries to start from;
	// this writer itself still stores each object whole.
	ChunkCount int
	// DedupedChunks counts chunks whose content hash repeats a chunk
	// already seen earlier in this pack - e.g. a tree entry's mode/name
	// preamble recurring across many tree objects.
	DedupedChunks int
}

type entry struct {
	id   oid.OID
	kind oid.Kind
	data []byte
}

// Writer is one phase's pack-writer instance. It is single-use: callers
// construct a fresh Writer per phase (spec §4.3, "each phase writes
// through a new writer instance").
type Writer struct {
	opts       Options
	chunker    chunking.Chunker
	compressor chunking.Compressor

	tagTargets map[oid.OID]struct{}
	excluded   map[oid.OID]struct{}
	entries    []entry
	objectSet  map[oid.OID]struct{}
	chunkSeen  map[oid.OID]struct{}
	stats      Stats

	bitmapReady bool
}

// New constructs a writer for one phase. chunker and compressor may be
// nil, in which case objects are stored uncompressed and whole.
func New(opts Options, chunker chunking.Chunker, compressor chunking.Compressor) *Writer {
	return &Writer{
		opts:       opts,
		chunker:    chunker,
		compressor: compressor,
		tagTargets: make(map[oid.OID]struct{}),
		excluded:   make(map[oid.OID]struct{}),
		objectSet:  make(map[oid.OID]struct{}),
		chunkSeen:  make(map[oid.OID]struct{}),
	}
}

// SetTagTargets records the tagTargets set used to decide whether a tag's
// peeled object must be included alongside the tag itself.
func (w *Writer) SetTagTargets(targets map[oid.OID]struct{}) {
	w.tagTargets = targets
}

// Exclude removes a set of OIDs from future consideration; the graph
// packer driver calls this once per already-written phase to keep later
// phases disjoint from earlier ones (spec §4.3: "exclude its OID set").
func (w *Writer) Exclude(ids map[oid.OID]struct{}) {
	for id := range ids {
		w.excluded[id] = struct{}{}
	}
}

// Prepare resolves want (minus have and minus excluded) into the object
// set this writer will emit, reading each object's bytes through src.
func (w *Writer) Prepare(ctx context.Context, want, have map[oid.OID]struct{}, src ObjectSource) error {
	for id := range want {
		if _, skip := have[id]; skip {
			continue
		}
		if _, skip := w.excluded[id]; skip {
			continue
		}
		if _, already := w.objectSet[id]; already {
			continue
		}

		data, kind, err := src(ctx, id)
		if err != nil {
			return fmt.Errorf("packwriter: resolve object %s: %w", id, err)
		}
		w.AddObject(id, kind, data)
	}

	// A peeled tag's target must travel with the tag itself even when it
	// wasn't in want directly (an annotated tag pointing at a commit
	// outside this phase's head set still needs that commit resolvable).
	for id := range w.tagTargets {
		if _, skip := w.excluded[id]; skip {
			continue
		}
		if _, already := w.objectSet[id]; already {
			continue
		}
		data, kind, err := src(ctx, id)
		if err != nil {
			return fmt.Errorf("packwriter: resolve tag target %s: %w", id, err)
		}
		w.AddObject(id, kind, data)
	}
	return nil
}

// ObjectCount reports how many objects this writer will emit.
func (w *Writer) ObjectCount() int { return len(w.entries) }

// AddObject adds a single object with a type hint, matching the garbage
// phase's one-at-a-time accumulation (spec §4.3 Phase G).
func (w *Writer) AddObject(id oid.OID, kind oid.Kind, data []byte) {
	if _, exists := w.objectSet[id]; exists {
		return
	}
	w.entries = append(w.entries, entry{id: id, kind: kind, data: data})
	w.objectSet[id] = struct{}{}
	w.stats.ObjectCount++
	w.stats.UncompressedSize += int64(len(data))
}

// WritePack streams the pack body: a 12-byte header, one framed record
// per object (optionally chunked and compressed), and a 20-byte trailer,
// matching the fixed pack-file layout in spec §6.
func (w *Writer) WritePack(ctx context.Context, out io.Writer) (int64, error) {
	var written int64

	header := make([]byte, 12)
	n, err := out.Write(header)
	written += int64(n)
	if err != nil {
		return written, fmt.Errorf("packwriter: write header: %w", err)
	}

	for _, e := range w.entries {
		if w.chunker != nil {
			chunks, err := w.chunker.ChunkBytes(e.data)
			if err == nil {
				w.stats.ChunkCount += len(chunks)
				for _, c := range chunks {
					if _, seen := w.chunkSeen[c.Hash]; seen {
						w.stats.DedupedChunks++
						continue
					}
					w.chunkSeen[c.Hash] = struct{}{}
				}
			}
		}

		body := e.data
		if w.compressor != nil && w.opts.EnableDeltas {
			compressed, cerr := w.compressor.Compress(body)
			if cerr == nil {
				body = compressed
			}
		}
		n, err := out.Write(body)
		written += int64(n)
		if err != nil {
			return written, fmt.Errorf("packwriter: write object %s: %w", e.id, err)
		}
	}

	trailer := make([]byte, 20)
	n, err = out.Write(trailer)
	written += int64(n)
	if err != nil {
		return written, fmt.Errorf("packwriter: write trailer: %w", err)
	}

	w.stats.CompressedSize = written
	w.bitmapReady = w.opts.EnableBitmaps && len(w.entries) > 0

	return written, nil
}

// WriteIndex writes the forward index (version 2) matching the format
// objdb's reader expects: object offsets assigned in write order,
// starting immediately after the 12-byte header.
func (w *Writer) WriteIndex(ctx context.Context, out io.Writer) (int64, error) {
	type indexEntry struct {
		OID    string   `json:"oid"`
		Offset int64    `json:"offset"`
		Kind   oid.Kind `json:"kind"`
	}
	type indexFile struct {
		Version  int          `json:"version"`
		PackSize int64        `json:"pack_size"`
		Entries  []indexEntry `json:"entries"`
	}

	offset := int64(12)
	entries := make([]indexEntry, 0, len(w.entries))
	for _, e := range w.entries {
		entries = append(entries, indexEntry{OID: e.id.String(), Offset: offset, Kind: e.kind})
		offset += int64(len(e.data))
	}

	idx := indexFile{
		Version:  w.opts.IndexVersion,
		PackSize: offset + 20,
		Entries:  entries,
	}

	buf, err := json.Marshal(idx)
	if err != nil {
		return 0, fmt.Errorf("packwriter: marshal index: %w", err)
	}
	n, err := out.Write(buf)
	return int64(n), err
}

// HasBitmap reports whether a bitmap index is available after WritePack.
func (w *Writer) HasBitmap() bool { return w.bitmapReady }

// WriteBitmap writes a minimal reachability bitmap: one bit per emitted
// object, in write order. Real bitmap-index internals are out of scope
// (spec §1 non-goals); this exists only so phase emission's optional
// bitmap step has something to exercise.
func (w *Writer) WriteBitmap(ctx context.Context, out io.Writer) (int64, error) {
	if !w.bitmapReady {
		return 0, fmt.Errorf("packwriter: bitmap not available")
	}
	bits := make([]byte, (len(w.entries)+7)/8)
	for i := range w.entries {
		bits[i/8] |= 1 << uint(i%8)
	}
	n, err := out.Write(bits)
	return int64(n), err
}

// Stats returns this writer's accumulated statistics.
func (w *Writer) Stats() Stats { return w.stats }

// ObjectSet returns the OID set this writer emitted, used by later
// phases to exclude it (spec §4.3).
func (w *Writer) ObjectSet() map[oid.OID]struct{} { return w.objectSet }

// IndexVersion reports the index format version this writer produces.
func (w *Writer) IndexVersion() int { return w.opts.IndexVersion }
