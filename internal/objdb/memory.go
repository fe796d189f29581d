package objdb

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"

	"github.com/packgc/packgc/internal/packfile"
)

// Memory is an in-process obj-db, used in tests to exercise the graph
// packer driver and commit/rollback coordinator without a real backend.
type Memory struct {
	mu        sync.Mutex
	packs     map[string]packfile.Descriptor
	bodies    map[string][]byte
	fp        RefSnapshot
	clears    int
}

// NewMemory constructs an empty in-memory obj-db.
func NewMemory() *Memory {
	return &Memory{
		packs:  make(map[string]packfile.Descriptor),
		bodies: make(map[string][]byte),
	}
}

func (m *Memory) GetPacks(ctx context.Context) ([]packfile.Descriptor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]packfile.Descriptor, 0, len(m.packs))
	for _, d := range m.packs {
		out = append(out, d)
	}
	return out, nil
}

func (m *Memory) NewReader(ctx context.Context, desc packfile.Descriptor) (Reader, error) {
	m.mu.Lock()
	body, ok := m.bodies[desc.ID+packfile.IndexExt]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("objdb/memory: no index for pack %s", desc.ID)
	}
	return newPackReader(desc, io.NopCloser(newByteReader(body)))
}

func (m *Memory) NewPack(ctx context.Context, source packfile.SourceClass, estimatedSize int64) (packfile.Descriptor, error) {
	if !source.Valid() {
		return packfile.Descriptor{}, fmt.Errorf("objdb/memory: invalid source class %q", source)
	}
	return packfile.Descriptor{
		ID:           uuid.New().String(),
		SourceClass:  source,
		IndexVersion: packfile.RequiredIndexVersion,
		PackSize:     estimatedSize,
	}, nil
}

func (m *Memory) WriteFile(ctx context.Context, desc packfile.Descriptor, ext string) (io.WriteCloser, error) {
	return &memWriteCloser{m: m, key: desc.ID + ext}, nil
}

func (m *Memory) CommitPack(ctx context.Context, snapshot RefSnapshot, add, prune []packfile.Descriptor) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.fp != "" && m.fp != snapshot {
		return false, nil
	}
	m.fp = snapshot

	for _, d := range add {
		m.packs[d.ID] = d
	}
	for _, d := range prune {
		delete(m.packs, d.ID)
		delete(m.bodies, d.ID+packfile.PackExt)
		delete(m.bodies, d.ID+packfile.IndexExt)
	}
	return true, nil
}

func (m *Memory) RollbackPack(ctx context.Context, add []packfile.Descriptor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range add {
		delete(m.bodies, d.ID+packfile.PackExt)
		delete(m.bodies, d.ID+packfile.IndexExt)
	}
	return nil
}

func (m *Memory) ClearCache(ctx context.Context) {
	m.mu.Lock()
	m.clears++
	m.mu.Unlock()
}

type memWriteCloser struct {
	m   *Memory
	key string
	buf []byte
}

func (w *memWriteCloser) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	return len(p), nil
}

func (w *memWriteCloser) Close() error {
	w.m.mu.Lock()
	defer w.m.mu.Unlock()
	w.m.bodies[w.key] = w.buf
	return nil
}

// byteReader adapts a byte slice to io.Reader without pulling in bytes
// package dependents beyond this file.
type byteReader struct {
	data []byte
	pos  int
}

func newByteReader(data []byte) *byteReader { return &byteReader{data: data} }

func (r *byteReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}
	n := copy(p, r.data[r.pos:])
	r.pos += n
	return n, nil
}
