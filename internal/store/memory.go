package store

import (
	"context"
	"fmt"
)

// MemoryStore is an in-memory Store fake for tests, mirroring the shape of
// remote.Fake: it records calls and simulates the commit-suppression
// contract without touching disk or exec'ing git.
type MemoryStore struct {
	Files   map[string][]byte
	URLs    map[string]string
	Tags    map[string]Tags
	Commits []string
	Remotes map[string]string

	rules    TrackingRules
	dirty    bool
	lastHash map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		Files:    make(map[string][]byte),
		URLs:     make(map[string]string),
		Tags:     make(map[string]Tags),
		Remotes:  make(map[string]string),
		lastHash: make(map[string]string),
	}
}

func (m *MemoryStore) Init(ctx context.Context, rules TrackingRules) error {
	m.rules = rules
	return nil
}

func (m *MemoryStore) AtomicWrite(ctx context.Context, relPath string, data []byte) error {
	cp := make([]byte, len(data))
	copy(cp, data)
	if existing, ok := m.Files[relPath]; !ok || string(existing) != string(cp) {
		m.dirty = true
	}
	m.Files[relPath] = cp
	return nil
}

func (m *MemoryStore) RegisterURL(ctx context.Context, relPath, url string, tags Tags) error {
	m.URLs[relPath] = url
	m.Tags[relPath] = tags
	m.dirty = true
	return nil
}

func (m *MemoryStore) Move(ctx context.Context, oldPath, newPath string) error {
	data, ok := m.Files[oldPath]
	if !ok {
		if url, ok := m.URLs[oldPath]; ok {
			m.URLs[newPath] = url
			delete(m.URLs, oldPath)
			m.dirty = true
			return nil
		}
		return fmt.Errorf("store: %s not found", oldPath)
	}
	m.Files[newPath] = data
	delete(m.Files, oldPath)
	m.dirty = true
	return nil
}

func (m *MemoryStore) AddAll(ctx context.Context) error { return nil }

// Commit simulates the real store's timestamp-only suppression: content
// normalized per its format (JSON fields, TSV columns) is compared against
// the last committed snapshot for that path, independent of byte-for-byte
// equality.
func (m *MemoryStore) Commit(ctx context.Context, message string) (bool, error) {
	meaningful := false
	for path, data := range m.Files {
		cmpValue := string(data)
		if normalize := normalizerFor(path); normalize != nil {
			if norm, err := normalize(data); err == nil {
				cmpValue = string(norm)
			}
		}
		if m.lastHash[path] != cmpValue {
			meaningful = true
		}
		m.lastHash[path] = cmpValue
	}
	if !meaningful && !m.dirty {
		return false, nil
	}
	if !meaningful {
		m.dirty = false
		return false, nil
	}
	m.Commits = append(m.Commits, message)
	m.dirty = false
	return true, nil
}

func (m *MemoryStore) UncommittedChanges(ctx context.Context) (bool, error) {
	return m.dirty, nil
}

func (m *MemoryStore) ConfigureIndirectRemote(ctx context.Context, name, kind string, params map[string]string) error {
	m.Remotes[name] = kind
	return nil
}

func (m *MemoryStore) Root() string { return "memory://store" }

var _ Store = (*MemoryStore)(nil)
