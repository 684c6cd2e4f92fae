// Package index holds the dual index manager: writes go to the vector store
// (source of truth) and mark the derived keyword snapshot stale; a refresh
// rebuilds the snapshot off to the side and publishes it atomically.
package index

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/kirillkom/docquery/internal/core/domain"
	"github.com/kirillkom/docquery/internal/core/ports"
	"github.com/kirillkom/docquery/internal/index/keyword"
)

type Manager struct {
	vectors ports.VectorStore
	logger  *slog.Logger

	snapshot   atomic.Pointer[keyword.Snapshot]
	generation atomic.Uint64
	stale      atomic.Bool

	// Serializes rebuilds; readers never take it.
	refreshMu sync.Mutex
}

func NewManager(vectors ports.VectorStore, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{vectors: vectors, logger: logger}
}

func (m *Manager) Insert(ctx context.Context, chunks []domain.Chunk, vectors [][]float32) error {
	if len(chunks) == 0 {
		return nil
	}
	if len(chunks) != len(vectors) {
		return domain.WrapError(domain.ErrInvalidInput, "index insert",
			fmt.Errorf("chunks/vectors mismatch: %d/%d", len(chunks), len(vectors)))
	}
	if err := m.vectors.Upsert(ctx, chunks, vectors); err != nil {
		return domain.WrapError(domain.ErrIndexWrite, "index insert", err)
	}
	m.stale.Store(true)
	return nil
}

func (m *Manager) DeleteByDocument(ctx context.Context, documentID string) error {
	if err := m.vectors.DeleteByDocument(ctx, documentID); err != nil {
		return domain.WrapError(domain.ErrIndexWrite, "index delete", err)
	}
	m.stale.Store(true)
	return nil
}

// RefreshKeyword rebuilds the sparse snapshot from the full current chunk set.
// An empty chunk set leaves the keyword index absent rather than publishing an
// empty snapshot.
func (m *Manager) RefreshKeyword(ctx context.Context) error {
	m.refreshMu.Lock()
	defer m.refreshMu.Unlock()

	chunks, err := m.vectors.ListAll(ctx)
	if err != nil {
		return domain.WrapError(domain.ErrIndexWrite, "keyword refresh", err)
	}

	if len(chunks) == 0 {
		m.snapshot.Store(nil)
		m.stale.Store(false)
		m.logger.Info("keyword_index_absent", "reason", "empty chunk set")
		return nil
	}

	gen := m.generation.Add(1)
	snap := keyword.Build(chunks, gen)
	m.snapshot.Store(snap)
	m.stale.Store(false)
	m.logger.Info("keyword_index_refreshed", "generation", gen, "chunks", snap.Size())
	return nil
}

func (m *Manager) SearchVector(ctx context.Context, queryVector []float32, topK int) ([]domain.Candidate, error) {
	return m.vectors.Search(ctx, queryVector, topK)
}

// SearchKeyword reads the current snapshot lock-free. ok=false means the
// keyword index is absent and the caller must degrade to vector-only ranking.
func (m *Manager) SearchKeyword(query string, topK int) ([]domain.Candidate, bool) {
	snap := m.snapshot.Load()
	if snap == nil {
		return nil, false
	}
	return snap.Search(query, topK), true
}

// Stale reports whether writes have landed since the last refresh.
func (m *Manager) Stale() bool { return m.stale.Load() }
