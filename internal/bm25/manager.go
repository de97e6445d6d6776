package bm25

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
	"golang.org/x/sync/errgroup"

	"github.com/kbserve/retrieval-core/internal/telemetry"
)

// ChunkRecord is the minimal view of a chunk the manager needs in order to
// (re)build a sparse index; repository.Repository implementations satisfy
// ChunkSource by adapting their own chunk listing call.
type ChunkRecord struct {
	ChunkID string
	Content string
}

// ChunkSource supplies every chunk belonging to a knowledge base, used when
// an on-disk index is missing, stale, or corrupt and must be rebuilt from
// the system of record rather than trusted incrementally.
type ChunkSource interface {
	ListChunks(ctx context.Context, kbID string) ([]ChunkRecord, error)
}

// Manager owns one Index per knowledge base, persisting each to its own
// file under dir and guarding concurrent access with a per-KB RWMutex plus
// a gofrs/flock file lock so a second process (or a crash-recovered
// reconciliation pass) never reads a half-written file.
type Manager struct {
	dir string

	mu      sync.Mutex // guards the locks/indexes maps themselves
	locks   map[string]*sync.RWMutex
	indexes map[string]*Index

	// Metrics, if set, records a flush outcome per KB. Nil is a safe no-op.
	Metrics *telemetry.Metrics
}

// NewManager creates a manager that persists indexes under dir, creating
// it if necessary.
func NewManager(dir string) (*Manager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("bm25: create index dir: %w", err)
	}
	return &Manager{
		dir:     dir,
		locks:   make(map[string]*sync.RWMutex),
		indexes: make(map[string]*Index),
	}, nil
}

func (m *Manager) lockFor(kbID string) *sync.RWMutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[kbID]
	if !ok {
		l = &sync.RWMutex{}
		m.locks[kbID] = l
	}
	return l
}

// getIndex returns the loaded index for kbID, if any. Safe for concurrent
// use with every other accessor of m.indexes.
func (m *Manager) getIndex(kbID string) (*Index, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx, ok := m.indexes[kbID]
	return idx, ok
}

// setIndex installs idx as the loaded index for kbID. Safe for concurrent
// use with every other accessor of m.indexes.
func (m *Manager) setIndex(kbID string, idx *Index) {
	m.mu.Lock()
	m.indexes[kbID] = idx
	m.mu.Unlock()
}

func (m *Manager) path(kbID string) string {
	return filepath.Join(m.dir, kbID+".idx")
}

func (m *Manager) flockPath(kbID string) string {
	return filepath.Join(m.dir, kbID+".idx.lock")
}

// GetOrBuild returns the in-memory index for kbID, loading it from disk if
// present and current, or rebuilding it from source otherwise (missing
// file, tokenizer version drift, or a corrupt file).
func (m *Manager) GetOrBuild(ctx context.Context, kbID string, source ChunkSource) (*Index, error) {
	lock := m.lockFor(kbID)
	lock.Lock()
	defer lock.Unlock()

	if idx, ok := m.getIndex(kbID); ok {
		return idx, nil
	}

	fl := flock.New(m.flockPath(kbID))
	if err := fl.Lock(); err != nil {
		return nil, fmt.Errorf("bm25: acquire lock for %s: %w", kbID, err)
	}
	defer fl.Unlock()

	idx, err := LoadFile(m.path(kbID), kbID)
	switch {
	case err == nil && idx.TokenizerVersion == TokenizerVersion:
		m.setIndex(kbID, idx)
		return idx, nil
	case err == nil:
		// Stale tokenizer version: fall through to rebuild.
	case os.IsNotExist(err):
		// No persisted index yet: fall through to rebuild.
	default:
		// Corrupt or unreadable: fall through to rebuild rather than fail.
	}

	idx, err = m.rebuildLocked(ctx, kbID, source)
	if err != nil {
		return nil, err
	}
	m.setIndex(kbID, idx)
	return idx, nil
}

func (m *Manager) rebuildLocked(ctx context.Context, kbID string, source ChunkSource) (*Index, error) {
	chunks, err := source.ListChunks(ctx, kbID)
	if err != nil {
		return nil, fmt.Errorf("bm25: rebuild %s: list chunks: %w", kbID, err)
	}
	idx := NewIndex(kbID)
	for _, c := range chunks {
		idx.Upsert(c.ChunkID, c.Content)
	}
	idx.dirty = true
	if err := SaveFile(m.path(kbID), idx); err != nil {
		return nil, fmt.Errorf("bm25: rebuild %s: persist: %w", kbID, err)
	}
	idx.markClean()
	return idx, nil
}

// Upsert re-indexes a single chunk in an already-built KB index.
func (m *Manager) Upsert(kbID, chunkID, content string) error {
	lock := m.lockFor(kbID)
	lock.RLock()
	idx, ok := m.getIndex(kbID)
	lock.RUnlock()
	if !ok {
		return fmt.Errorf("bm25: index for kb %s not loaded", kbID)
	}
	idx.Upsert(chunkID, content)
	return nil
}

// Delete removes a single chunk from an already-built KB index.
func (m *Manager) Delete(kbID, chunkID string) error {
	lock := m.lockFor(kbID)
	lock.RLock()
	idx, ok := m.getIndex(kbID)
	lock.RUnlock()
	if !ok {
		return fmt.Errorf("bm25: index for kb %s not loaded", kbID)
	}
	idx.Delete(chunkID)
	return nil
}

// Search scores query against the KB's loaded index.
func (m *Manager) Search(kbID, query string, topK int) ([]Hit, error) {
	lock := m.lockFor(kbID)
	lock.RLock()
	idx, ok := m.getIndex(kbID)
	lock.RUnlock()
	if !ok {
		return nil, fmt.Errorf("bm25: index for kb %s not loaded", kbID)
	}
	return idx.Search(query, topK), nil
}

// Flush persists a KB's index to disk if it has unwritten mutations.
func (m *Manager) Flush(kbID string) error {
	lock := m.lockFor(kbID)
	lock.Lock()
	defer lock.Unlock()

	idx, ok := m.getIndex(kbID)
	if !ok || !idx.Dirty() {
		return nil
	}

	fl := flock.New(m.flockPath(kbID))
	if err := fl.Lock(); err != nil {
		m.Metrics.RecordBM25Flush(kbID, "error")
		return fmt.Errorf("bm25: acquire lock for %s: %w", kbID, err)
	}
	defer fl.Unlock()

	if err := SaveFile(m.path(kbID), idx); err != nil {
		m.Metrics.RecordBM25Flush(kbID, "error")
		return fmt.Errorf("bm25: flush %s: %w", kbID, err)
	}
	idx.markClean()
	m.Metrics.RecordBM25Flush(kbID, "ok")
	return nil
}

// FlushAll flushes every currently loaded index.
func (m *Manager) FlushAll() error {
	m.mu.Lock()
	kbIDs := make([]string, 0, len(m.indexes))
	for kbID := range m.indexes {
		kbIDs = append(kbIDs, kbID)
	}
	m.mu.Unlock()

	var firstErr error
	for _, kbID := range kbIDs {
		if err := m.Flush(kbID); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// IndexStats summarizes one knowledge base's loaded index for the
// registry's status snapshot.
type IndexStats struct {
	Size  int
	Dirty bool
}

// Snapshot reports size and dirty state for every currently loaded
// index, without forcing a load of indexes not yet touched.
func (m *Manager) Snapshot() map[string]IndexStats {
	m.mu.Lock()
	kbIDs := make([]string, 0, len(m.indexes))
	idxs := make([]*Index, 0, len(m.indexes))
	for kbID, idx := range m.indexes {
		kbIDs = append(kbIDs, kbID)
		idxs = append(idxs, idx)
	}
	m.mu.Unlock()

	out := make(map[string]IndexStats, len(kbIDs))
	for i, kbID := range kbIDs {
		out[kbID] = IndexStats{Size: idxs[i].N(), Dirty: idxs[i].Dirty()}
	}
	return out
}

// RebuildAll rebuilds every named knowledge base's index from source in
// parallel, used by the reconciliation pass after detecting drift or a
// bulk tokenizer upgrade.
func (m *Manager) RebuildAll(ctx context.Context, kbIDs []string, source ChunkSource) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, kbID := range kbIDs {
		kbID := kbID
		g.Go(func() error {
			lock := m.lockFor(kbID)
			lock.Lock()
			defer lock.Unlock()

			fl := flock.New(m.flockPath(kbID))
			if err := fl.Lock(); err != nil {
				return fmt.Errorf("bm25: acquire lock for %s: %w", kbID, err)
			}
			defer fl.Unlock()

			idx, err := m.rebuildLocked(ctx, kbID, source)
			if err != nil {
				return err
			}
			m.setIndex(kbID, idx)
			return nil
		})
	}
	return g.Wait()
}
