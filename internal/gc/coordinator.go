// Package gc implements the garbage collection and repack engine: the
// ref set collector, pack catalog classifier, garbage policy, graph
// packer driver, and the commit/rollback coordinator that ties them
// together into one pack() invocation.
package gc

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/packgc/packgc/internal/common"
	"github.com/packgc/packgc/internal/objdb"
	"github.com/packgc/packgc/internal/packfile"
	"github.com/packgc/packgc/internal/refdb"
)

// Engine ties the ref-db, obj-db, graph packer driver, and garbage
// policy into a single pack() operation (spec §4.4).
type Engine struct {
	refDB        refdb.DB
	objDB        objdb.DB
	driver       *Driver
	policy       *Policy
	indexVersion int
	clock        Clock
	metrics      *Metrics
	logger       *zap.Logger
}

// New constructs an Engine. indexVersion must equal
// packfile.RequiredIndexVersion; violating it is a fatal precondition
// failure caught at construction time rather than mid-run (spec §7).
func New(refDB refdb.DB, objDB objdb.DB, driver *Driver, policy *Policy, indexVersion int, clock Clock, metrics *Metrics, logger *zap.Logger) (*Engine, error) {
	if indexVersion != packfile.RequiredIndexVersion {
		return nil, fmt.Errorf("gc: packConfig.indexVersion = %d, must equal %d", indexVersion, packfile.RequiredIndexVersion)
	}
	if clock == nil {
		clock = SystemClock{}
	}
	return &Engine{
		refDB:        refDB,
		objDB:        objDB,
		driver:       driver,
		policy:       policy,
		indexVersion: indexVersion,
		clock:        clock,
		metrics:      metrics,
		logger:       logger,
	}, nil
}

// Pack runs one GC invocation end to end: collect refs, classify the
// catalog, drive the four pack phases, and atomically commit or roll
// back. The returned RunResult.Success is false (with nil error) when a
// race was detected at commit and the caller's loop should rerun.
func (e *Engine) Pack(ctx context.Context) (*RunResult, error) {
	runID := uuid.New().String()
	ctx = common.WithRunID(ctx, runID)
	wallStart := time.Now()
	startMillis := e.clock.NowMillis()

	logger := e.logger.With(zap.String("run_id", runID))

	partition, err := refdb.CollectRefs(ctx, e.refDB)
	if err != nil {
		e.metrics.observeRun("ref_collect_error", time.Since(wallStart).Seconds())
		return nil, fmt.Errorf("gc: ref collection failed, aborting before any pack written: %w", err)
	}

	packs, err := e.objDB.GetPacks(ctx)
	if err != nil {
		e.metrics.observeRun("catalog_error", time.Since(wallStart).Seconds())
		return nil, fmt.Errorf("gc: list packs: %w", err)
	}

	classification := Classify(packs, startMillis, e.clock.Location(), e.policy)
	prune := append(append([]packfile.Descriptor{}, classification.PacksBefore...), classification.ExpiredGarbagePacks...)
	snapshot := objdb.Fingerprint(partition.AllHeads, partition.NonHeads, partition.TxnHeads)

	// Spec §4.4: if packs_before is empty but expired garbage is
	// non-empty, commit an empty additions list and return success
	// without running any phase.
	if len(classification.PacksBefore) == 0 && len(classification.ExpiredGarbagePacks) > 0 {
		ok, err := e.objDB.CommitPack(ctx, snapshot, nil, classification.ExpiredGarbagePacks)
		if err != nil {
			e.metrics.observeRun("commit_error", time.Since(wallStart).Seconds())
			return nil, fmt.Errorf("gc: commit expired-only prune: %w", err)
		}
		e.metrics.observeRun(outcomeLabel(ok), time.Since(wallStart).Seconds())
		if ok {
			e.metrics.observePrune(len(classification.ExpiredGarbagePacks), sumSize(classification.ExpiredGarbagePacks))
		}
		return &RunResult{
			PruneList:    classification.ExpiredGarbagePacks,
			Success:      ok,
			RaceDetected: !ok,
		}, nil
	}

	newDescs, stats, err := e.driver.Run(ctx, partition, classification.PacksBefore, e.indexVersion, startMillis)
	if err != nil {
		logger.Error("phase failed, rolling back new packs", zap.Error(err))
		if rbErr := e.objDB.RollbackPack(ctx, newDescs); rbErr != nil {
			logger.Warn("rollback itself failed, original error still authoritative", zap.Error(rbErr))
		}
		e.metrics.observeRun("phase_error", time.Since(wallStart).Seconds())
		return nil, fmt.Errorf("gc: graph packer driver: %w", err)
	}

	ok, err := e.objDB.CommitPack(ctx, snapshot, newDescs, prune)
	if err != nil {
		logger.Error("commit failed, rolling back new packs", zap.Error(err))
		if rbErr := e.objDB.RollbackPack(ctx, newDescs); rbErr != nil {
			logger.Warn("rollback itself failed, original error still authoritative", zap.Error(rbErr))
		}
		e.metrics.observeRun("commit_error", time.Since(wallStart).Seconds())
		return nil, fmt.Errorf("gc: commit: %w", err)
	}

	if !ok {
		logger.Warn("race detected at commit, rolling back new packs for caller retry")
		if rbErr := e.objDB.RollbackPack(ctx, newDescs); rbErr != nil {
			logger.Warn("rollback after race failed", zap.Error(rbErr))
		}
		e.metrics.observeRun("race", time.Since(wallStart).Seconds())
		return &RunResult{RaceDetected: true}, nil
	}

	e.objDB.ClearCache(ctx)

	for _, d := range newDescs {
		e.metrics.observePackWritten(string(d.SourceClass), int(d.ObjectCount))
	}
	e.metrics.observePrune(len(prune), sumSize(prune))
	e.metrics.observeRun("success", time.Since(wallStart).Seconds())

	return &RunResult{
		NewPacks: newDescs,
		PruneList: prune,
		Stats:    stats,
		Success:  true,
	}, nil
}

func outcomeLabel(ok bool) string {
	if ok {
		return "success"
	}
	return "race"
}

func sumSize(packs []packfile.Descriptor) int64 {
	var total int64
	for _, p := range packs {
		total += p.PackSize
	}
	return total
}
