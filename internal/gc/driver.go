package gc

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/packgc/packgc/internal/chunking"
	"github.com/packgc/packgc/internal/common"
	"github.com/packgc/packgc/internal/objdb"
	"github.com/packgc/packgc/internal/oid"
	"github.com/packgc/packgc/internal/packfile"
	"github.com/packgc/packgc/internal/packwriter"
	"github.com/packgc/packgc/internal/refdb"
)

// RevWalk is the out-of-scope reachability-traversal collaborator (spec
// §1): the driver consults it only to ask whether an object is already
// known reachable, never to perform the traversal itself.
type RevWalk interface {
	Holds(id oid.OID) bool
}

// ObjectGraph is an optional capability of the object source wired into
// the driver: given an object id, it reports the ids the object directly
// references (a commit's tree, a tree's entries). When present, each
// phase expands its "want" set to the full transitive closure reachable
// from its tips before handing it to the pack-writer adapter — mirroring
// what the real external pack writer does internally when given tips
// (spec §4.5 treats the writer itself as a black box; this is the graph
// walk that black box performs). Nil is a valid ObjectGraph: every phase
// then packs exactly its literal want set, unexpanded.
type ObjectGraph interface {
	Children(ctx context.Context, id oid.OID) ([]oid.OID, error)
}

// ProgressMonitor is invoked once per source-pack index entry considered
// during phase G, at object granularity (spec §5: "Progress is reported
// through a progress-monitor callback which the core invokes at object
// granularity during the garbage phase"). processed is the cumulative
// count of entries considered so far across all of packs_before. May be
// nil.
type ProgressMonitor func(processed int)

// preWarmer is satisfied by obj-db implementations that maintain a
// shared block cache (spec §4.3 step 6). Optional: drivers without a
// cache simply skip the pre-warm step.
type preWarmer interface {
	PreWarm(ctx context.Context, desc packfile.Descriptor) error
}

// RunResult is everything one pack() invocation produced, mirroring
// spec §6 "Outputs (per run)".
type RunResult struct {
	NewPacks     []packfile.Descriptor
	PruneList    []packfile.Descriptor
	Stats        []packwriter.Stats
	Success      bool
	RaceDetected bool
}

// Driver is the Graph Packer Driver (spec §4.3): it drives the pack
// writer up to four times and hands the result to the commit/rollback
// coordinator.
type Driver struct {
	db         objdb.DB
	source     packwriter.ObjectSource
	graph      ObjectGraph
	revWalk    RevWalk
	progress   ProgressMonitor
	chunker    chunking.Chunker
	compressor chunking.Compressor
	logger     *zap.Logger
}

// NewDriver constructs a graph packer driver. chunker, compressor, graph,
// and progress may all be nil; src resolves an OID to its bytes and kind
// (backed by existing pack readers and/or a staging area for
// not-yet-packed objects).
func NewDriver(db objdb.DB, src packwriter.ObjectSource, graph ObjectGraph, rw RevWalk, progress ProgressMonitor, chunker chunking.Chunker, compressor chunking.Compressor, logger *zap.Logger) *Driver {
	return &Driver{db: db, source: src, graph: graph, revWalk: rw, progress: progress, chunker: chunker, compressor: compressor, logger: logger}
}

// expandReachable walks d.graph from roots, following Children edges, and
// returns the full set reached. With a nil graph it returns roots
// unchanged — every phase then packs exactly its literal want set.
func (d *Driver) expandReachable(ctx context.Context, roots map[oid.OID]struct{}) (map[oid.OID]struct{}, error) {
	if d.graph == nil {
		return roots, nil
	}

	seen := make(map[oid.OID]struct{}, len(roots))
	queue := make([]oid.OID, 0, len(roots))
	for id := range roots {
		seen[id] = struct{}{}
		queue = append(queue, id)
	}

	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		id := queue[0]
		queue = queue[1:]
		children, err := d.graph.Children(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("gc: expand reachable from %s: %w", id, err)
		}
		for _, c := range children {
			if _, ok := seen[c]; ok {
				continue
			}
			seen[c] = struct{}{}
			queue = append(queue, c)
		}
	}
	return seen, nil
}

// estimateSize sums PACK-extension sizes of packs in the given source
// classes, plus the 32-byte header+trailer overhead noted in spec §4.3
// Phase H/R.
func estimateSize(packs []packfile.Descriptor, classes map[packfile.SourceClass]bool) int64 {
	var total int64
	for _, p := range packs {
		if classes[p.SourceClass] {
			total += p.PackSize
		}
	}
	total += 32
	return total
}

var headsRestEstimateClasses = map[packfile.SourceClass]bool{
	packfile.SourceInsert:  true,
	packfile.SourceReceive: true,
	packfile.SourceCompact: true,
	packfile.SourceGC:      true,
}

// emit runs the six-step per-phase emission protocol from spec §4.3:
// allocate, write pack, write index, optionally write bitmap, stamp
// stats and last_modified, pre-warm the cache.
func (d *Driver) emit(ctx context.Context, source packfile.SourceClass, estimatedSize int64, w *packwriter.Writer, startTimeMillis int64) (packfile.Descriptor, packwriter.Stats, error) {
	desc, err := d.db.NewPack(ctx, source, estimatedSize)
	if err != nil {
		return packfile.Descriptor{}, packwriter.Stats{}, fmt.Errorf("gc: allocate %s pack: %w", source, err)
	}

	packOut, err := d.db.WriteFile(ctx, desc, packfile.PackExt)
	if err != nil {
		return desc, packwriter.Stats{}, fmt.Errorf("gc: open pack stream for %s: %w", desc.ID, err)
	}
	size, err := w.WritePack(ctx, packOut)
	closeErr := packOut.Close()
	if err != nil {
		return desc, packwriter.Stats{}, fmt.Errorf("gc: write pack %s: %w", desc.ID, err)
	}
	if closeErr != nil {
		return desc, packwriter.Stats{}, fmt.Errorf("gc: close pack stream %s: %w", desc.ID, closeErr)
	}
	desc.PackSize = size

	idxOut, err := d.db.WriteFile(ctx, desc, packfile.IndexExt)
	if err != nil {
		return desc, packwriter.Stats{}, fmt.Errorf("gc: open index stream for %s: %w", desc.ID, err)
	}
	_, err = w.WriteIndex(ctx, idxOut)
	closeErr = idxOut.Close()
	if err != nil {
		return desc, packwriter.Stats{}, fmt.Errorf("gc: write index %s: %w", desc.ID, err)
	}
	if closeErr != nil {
		return desc, packwriter.Stats{}, fmt.Errorf("gc: close index stream %s: %w", desc.ID, closeErr)
	}
	desc.IndexVersion = w.IndexVersion()

	if w.HasBitmap() {
		bmOut, err := d.db.WriteFile(ctx, desc, ".bitmap")
		if err != nil {
			return desc, packwriter.Stats{}, fmt.Errorf("gc: open bitmap stream for %s: %w", desc.ID, err)
		}
		_, err = w.WriteBitmap(ctx, bmOut)
		closeErr = bmOut.Close()
		if err != nil {
			return desc, packwriter.Stats{}, fmt.Errorf("gc: write bitmap %s: %w", desc.ID, err)
		}
		if closeErr != nil {
			return desc, packwriter.Stats{}, fmt.Errorf("gc: close bitmap stream %s: %w", desc.ID, closeErr)
		}
	}

	stats := w.Stats()
	desc.ObjectCount = int64(stats.ObjectCount)
	desc.LastModified = time.UnixMilli(startTimeMillis)
	desc.CreatedAt = desc.LastModified

	if pw, ok := d.db.(preWarmer); ok {
		if err := pw.PreWarm(ctx, desc); err != nil {
			d.logger.Warn("pre-warm failed, continuing", zap.String("pack", desc.ID), zap.Error(err))
		}
	}

	return desc, stats, nil
}

// Run drives phases H, R, T, G in strict order, excluding each earlier
// phase's OID set from later phases (spec §5 ordering guarantees).
func (d *Driver) Run(ctx context.Context, partition *refdb.Partition, packsBefore []packfile.Descriptor, indexVersion int, startTimeMillis int64) (descs []packfile.Descriptor, _ []packwriter.Stats, err error) {
	var newDescs []packfile.Descriptor
	var allStats []packwriter.Stats
	written := make(map[oid.OID]struct{})

	// On error, hand back every pack emitted so far so the caller's
	// rollback can discard it.
	defer func() {
		if err != nil && descs == nil {
			descs = newDescs
		}
	}()

	excludeWritten := func(w *packwriter.Writer) {
		w.Exclude(written)
	}
	recordWritten := func(set map[oid.OID]struct{}) {
		for id := range set {
			written[id] = struct{}{}
		}
	}

	// Phase H — Heads pack (source GC).
	if err := ctx.Err(); err != nil {
		return nil, nil, fmt.Errorf("gc: cancelled before phase H: %w", err)
	}
	if len(partition.AllHeads) > 0 {
		want, err := d.expandReachable(ctx, partition.AllHeads)
		if err != nil {
			return nil, nil, fmt.Errorf("gc: phase H expand reachable: %w", err)
		}
		w := packwriter.New(packwriter.HeadsOptions(indexVersion), d.chunker, d.compressor)
		w.SetTagTargets(partition.TagTargets)
		if err := w.Prepare(ctx, want, nil, d.source); err != nil {
			return nil, nil, fmt.Errorf("gc: phase H prepare: %w", err)
		}
		if w.ObjectCount() > 0 {
			est := estimateSize(packsBefore, headsRestEstimateClasses)
			desc, stats, err := d.emit(ctx, packfile.SourceGC, est, w, startTimeMillis)
			if err != nil {
				return append(newDescs, desc), nil, fmt.Errorf("gc: phase H: %w", err)
			}
			newDescs = append(newDescs, desc)
			allStats = append(allStats, stats)
			recordWritten(w.ObjectSet())
		}
	}

	// Phase R — Non-heads pack (source GC_REST).
	if err := ctx.Err(); err != nil {
		return nil, nil, fmt.Errorf("gc: cancelled before phase R: %w", err)
	}
	if len(partition.NonHeads) > 0 {
		want, err := d.expandReachable(ctx, partition.NonHeads)
		if err != nil {
			return nil, nil, fmt.Errorf("gc: phase R expand reachable: %w", err)
		}
		w := packwriter.New(packwriter.RestOptions(indexVersion), d.chunker, d.compressor)
		excludeWritten(w)
		if err := w.Prepare(ctx, want, partition.AllHeads, d.source); err != nil {
			return nil, nil, fmt.Errorf("gc: phase R prepare: %w", err)
		}
		if w.ObjectCount() > 0 {
			est := estimateSize(packsBefore, headsRestEstimateClasses)
			desc, stats, err := d.emit(ctx, packfile.SourceGCRest, est, w, startTimeMillis)
			if err != nil {
				return append(newDescs, desc), nil, fmt.Errorf("gc: phase R: %w", err)
			}
			newDescs = append(newDescs, desc)
			allStats = append(allStats, stats)
			recordWritten(w.ObjectSet())
		}
	}

	// Phase T — Ref-tree pack (source GC_TXN).
	if err := ctx.Err(); err != nil {
		return nil, nil, fmt.Errorf("gc: cancelled before phase T: %w", err)
	}
	if len(partition.TxnHeads) > 0 {
		want, err := d.expandReachable(ctx, partition.TxnHeads)
		if err != nil {
			return nil, nil, fmt.Errorf("gc: phase T expand reachable: %w", err)
		}
		w := packwriter.New(packwriter.TxnOptions(indexVersion), d.chunker, d.compressor)
		excludeWritten(w)
		if err := w.Prepare(ctx, want, nil, d.source); err != nil {
			return nil, nil, fmt.Errorf("gc: phase T prepare: %w", err)
		}
		if w.ObjectCount() > 0 {
			desc, stats, err := d.emit(ctx, packfile.SourceGCTxn, 0, w, startTimeMillis)
			if err != nil {
				return append(newDescs, desc), nil, fmt.Errorf("gc: phase T: %w", err)
			}
			newDescs = append(newDescs, desc)
			allStats = append(allStats, stats)
			recordWritten(w.ObjectSet())
		}
	}

	// Phase G — Coalesced garbage pack (source UNREACHABLE_GARBAGE).
	if err := ctx.Err(); err != nil {
		return nil, nil, fmt.Errorf("gc: cancelled before phase G: %w", err)
	}
	d.logger.Info("phase G starting", zap.String("run_id", common.GetRunID(ctx)), zap.Int("packs_before", len(packsBefore)))

	w := packwriter.New(packwriter.GarbageOptions(indexVersion), d.chunker, d.compressor)
	var estimate int64
	var processed int
	for _, p := range packsBefore {
		reader, err := d.db.NewReader(ctx, p)
		if err != nil {
			return nil, nil, fmt.Errorf("gc: phase G open reader for %s: %w", p.ID, err)
		}
		fwd, err := reader.ForwardIndex(ctx)
		if err != nil {
			_ = reader.Close()
			return nil, nil, fmt.Errorf("gc: phase G forward index for %s: %w", p.ID, err)
		}
		for id, offset := range fwd {
			// Spec §5: the core polls cancellation between objects in
			// the garbage phase; on cancellation the rollback path
			// applies (the caller sees this error and rolls back).
			if err := ctx.Err(); err != nil {
				_ = reader.Close()
				return nil, nil, fmt.Errorf("gc: cancelled during phase G: %w", err)
			}

			processed++
			if d.progress != nil {
				d.progress(processed)
			}

			if d.revWalk != nil && d.revWalk.Holds(id) {
				continue
			}
			if _, dup := written[id]; dup {
				continue
			}
			kind, err := reader.ObjectType(ctx, offset)
			if err != nil {
				_ = reader.Close()
				return nil, nil, fmt.Errorf("gc: phase G object type for %s@%d: %w", p.ID, offset, err)
			}
			data, _, err := d.source(ctx, id)
			if err != nil {
				_ = reader.Close()
				return nil, nil, fmt.Errorf("gc: phase G resolve object %s: %w", id, err)
			}
			w.AddObject(id, kind, data)

			next, err := reader.NextOffset(ctx, offset)
			if err == nil {
				estimate += next - offset
			}
		}
		_ = reader.Close()
	}

	d.logger.Info("phase G complete", zap.String("run_id", common.GetRunID(ctx)), zap.Int("objects_considered", processed))

	if w.ObjectCount() > 0 {
		desc, stats, err := d.emit(ctx, packfile.SourceUnreachableGarbage, estimate, w, startTimeMillis)
		if err != nil {
			return append(newDescs, desc), nil, fmt.Errorf("gc: phase G: %w", err)
		}
		newDescs = append(newDescs, desc)
		allStats = append(allStats, stats)
	}

	return newDescs, allStats, nil
}
