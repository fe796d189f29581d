package drivers

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// LocalDriver stores pack bodies and index files under a base directory,
// one sub-directory per container (the container names objdb.Store uses
// are "packs" and friends). It is the default backend when no object
// storage backend is configured, and the secondary leg of a FallbackDriver
// otherwise.
type LocalDriver struct {
	basePath string
	mu       sync.RWMutex
	logger   *zap.Logger
}

// NewLocalDriver creates a new local filesystem driver
func NewLocalDriver(basePath string, logger *zap.Logger) *LocalDriver {
	return &LocalDriver{
		basePath: basePath,
		logger:   logger,
	}
}

// Name returns the driver name
func (d *LocalDriver) Name() string {
	return "local"
}

// Get retrieves a pack artifact from a container
func (d *LocalDriver) Get(ctx context.Context, container, artifact string) (io.ReadCloser, error) {
	fullPath := filepath.Join(d.basePath, container, artifact)

	d.logger.Debug("LocalDriver.Get",
		zap.String("container", container),
		zap.String("artifact", artifact),
		zap.String("fullPath", fullPath))

	return os.Open(fullPath)
}

// Put stores a pack artifact in a container
func (d *LocalDriver) Put(ctx context.Context, container, artifact string, data io.Reader) error {
	containerPath := filepath.Join(d.basePath, container)
	if err := os.MkdirAll(containerPath, 0750); err != nil {
		return fmt.Errorf("create container: %w", err)
	}

	fullPath := filepath.Join(d.basePath, container, artifact)

	parentDir := filepath.Dir(fullPath)
	if err := os.MkdirAll(parentDir, 0750); err != nil {
		return fmt.Errorf("create parent directory: %w", err)
	}

	file, err := os.Create(fullPath)
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}

	defer func() {
		if err := file.Close(); err != nil {
			d.logger.Error("failed to close file",
				zap.String("path", fullPath),
				zap.Error(err))
		}
	}()

	_, err = io.Copy(file, data)
	if err != nil {
		return fmt.Errorf("failed to copy data: %w", err)
	}

	return nil
}

// Delete removes a pack artifact from a container. Called on rollback
// (objdb.Store.RollbackPack) and on prune after a successful commit.
func (d *LocalDriver) Delete(ctx context.Context, container, artifact string) error {
	fullPath := filepath.Join(d.basePath, container, artifact)
	return os.Remove(fullPath)
}

// List lists pack artifacts in a container whose names start with prefix
func (d *LocalDriver) List(ctx context.Context, container string, prefix string) ([]string, error) {
	containerPath := filepath.Join(d.basePath, container)
	var artifacts []string

	err := filepath.Walk(containerPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if !info.IsDir() {
			if rel, err := filepath.Rel(containerPath, path); err == nil && strings.HasPrefix(rel, prefix) {
				artifacts = append(artifacts, rel)
			}
		}
		return nil
	})

	if err != nil {
		return nil, fmt.Errorf("failed to walk directory: %w", err)
	}

	return artifacts, nil
}

// Exists reports whether an artifact is present in a container.
func (d *LocalDriver) Exists(ctx context.Context, container, artifact string) (bool, error) {
	fullPath := filepath.Join(d.basePath, container, artifact)
	_, err := os.Stat(fullPath)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("stat failed: %w", err)
}

// HealthCheck verifies the base directory is reachable. The admin
// surface's /healthz does not register it; it checks the database only.
func (d *LocalDriver) HealthCheck(ctx context.Context) error {
	_, err := os.Stat(d.basePath)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}
