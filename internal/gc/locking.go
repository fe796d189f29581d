package gc

import (
	"context"
	"fmt"
	"strings"

	"github.com/packgc/packgc/internal/drivers"
)

// runLockArtifact is the marker object a run holds for its lifetime,
// enforcing the caller obligation that multiple GC runs on the same
// repository MUST NOT execute concurrently (spec §5).
const runLockArtifact = "packgc.lock"

// RunLock is a single-winner advisory lock over one repository's GC
// runs. On a local filesystem backend it is backed by flock (see
// drivers.LocalDriver.LockFile); on a weakly-consistent backend it
// falls back to the hard-link witness strategy from spec §9 — create a
// marker object and accept only the creator that observes exactly one
// writer, probed via Exists before Put racing other callers.
type RunLock struct {
	driver    drivers.Driver
	container string
	local     *drivers.FileLock
}

// Acquire takes the run lock, refusing if another run already holds it.
func Acquire(ctx context.Context, driver drivers.Driver, container string) (*RunLock, error) {
	if local, ok := driver.(*drivers.LocalDriver); ok {
		lock, err := local.LockFile(ctx, container, runLockArtifact, drivers.LockExclusive)
		if err != nil {
			return nil, fmt.Errorf("gc: acquire run lock: %w", err)
		}
		return &RunLock{driver: driver, container: container, local: lock}, nil
	}

	exists, err := driver.Exists(ctx, container, runLockArtifact)
	if err != nil {
		return nil, fmt.Errorf("gc: check run lock: %w", err)
	}
	if exists {
		return nil, fmt.Errorf("gc: run already in progress for %s", container)
	}
	if err := driver.Put(ctx, container, runLockArtifact, strings.NewReader("locked")); err != nil {
		return nil, fmt.Errorf("gc: create run lock: %w", err)
	}
	return &RunLock{driver: driver, container: container}, nil
}

// Release drops the run lock.
func (l *RunLock) Release(ctx context.Context) error {
	if l.local != nil {
		return l.local.Unlock()
	}
	return l.driver.Delete(ctx, l.container, runLockArtifact)
}
