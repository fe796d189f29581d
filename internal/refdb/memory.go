package refdb

import (
	"context"
	"strings"
	"sync"
)

// Memory is an in-process ref-db, useful for tests and small
// single-node deployments where refs don't warrant a separate store.
type Memory struct {
	mu         sync.RWMutex
	refs       map[string]Ref
	refTreeFn  func(name string) bool
}

// NewMemory constructs an empty in-memory ref-db. isRefTree classifies
// ref names as ref-tree refs; pass nil to treat everything under
// refs/meta/ as a ref-tree ref (a reasonable default for tests).
func NewMemory(isRefTree func(name string) bool) *Memory {
	if isRefTree == nil {
		isRefTree = func(name string) bool { return strings.HasPrefix(name, "refs/meta/") }
	}
	return &Memory{refs: make(map[string]Ref), refTreeFn: isRefTree}
}

// Set installs or replaces a ref.
func (m *Memory) Set(r Ref) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refs[r.Name] = r
}

// Delete removes a ref.
func (m *Memory) Delete(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.refs, name)
}

func (m *Memory) Refresh(ctx context.Context) error { return nil }

func (m *Memory) GetRefs(ctx context.Context) ([]Ref, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Ref
	for _, r := range m.refs {
		if strings.HasPrefix(r.Name, headsPrefix) || strings.HasPrefix(r.Name, tagsPrefix) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *Memory) GetAdditionalRefs(ctx context.Context) ([]Ref, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Ref
	for _, r := range m.refs {
		if !strings.HasPrefix(r.Name, headsPrefix) && !strings.HasPrefix(r.Name, tagsPrefix) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *Memory) IsRefTree(name string) bool {
	return m.refTreeFn(name)
}
