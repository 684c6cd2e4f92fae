package ports

import (
	"context"
	"io"
	"time"

	"github.com/kirillkom/docquery/internal/core/domain"
)

// VectorStore owns the dense index and is the source of truth for the chunk
// set. The keyword index is derived from ListAll.
type VectorStore interface {
	Upsert(ctx context.Context, chunks []domain.Chunk, vectors [][]float32) error
	DeleteByDocument(ctx context.Context, documentID string) error
	Search(ctx context.Context, queryVector []float32, topK int) ([]domain.Candidate, error)
	ListAll(ctx context.Context) ([]domain.Chunk, error)
}

// Embedder builds vectors for chunk and query text.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Generator is the external text-completion service. Stream delivers tokens
// through emit and stops on context cancellation or an emit error; it returns
// the full text produced so far.
type Generator interface {
	Complete(ctx context.Context, prompt string) (string, error)
	Stream(ctx context.Context, prompt string, emit func(token string) error) (string, error)
	ContextWindow(ctx context.Context) (int, error)
	Warm(ctx context.Context) error
}

// RerankerModel scores (query, passage) pairs with a cross-encoder style
// relevance model. Each passage is scored independently; the returned slice
// is index-aligned with passages.
type RerankerModel interface {
	Score(ctx context.Context, query string, passages []string) ([]float64, error)
}

// SessionStore is a TTL-backed key-value store for conversation state.
// Get returns (nil, nil) for an absent or expired session.
type SessionStore interface {
	Get(ctx context.Context, sessionID string) (*domain.Session, error)
	Save(ctx context.Context, session *domain.Session, ttl time.Duration) error
	Delete(ctx context.Context, sessionID string) error
}

// DocumentRepository persists document state and batch membership.
type DocumentRepository interface {
	Create(ctx context.Context, doc *domain.Document) error
	GetByID(ctx context.Context, id string) (*domain.Document, error)
	UpdateStatus(ctx context.Context, id string, status domain.DocumentStatus, errMessage string) error
	SetChunkCount(ctx context.Context, id string, chunkCount int) error
	ListByBatch(ctx context.Context, batchID string) ([]domain.Document, error)
	Delete(ctx context.Context, id string) error
}

// ObjectStorage stores source documents.
type ObjectStorage interface {
	Save(ctx context.Context, key string, data io.Reader) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Remove(ctx context.Context, key string) error
}

// MessageQueue dispatches ingestion jobs to background workers.
type MessageQueue interface {
	PublishIngestTask(ctx context.Context, job domain.IngestJob) error
	SubscribeIngestTasks(ctx context.Context, handler func(context.Context, domain.IngestJob) error) error
}

// TextExtractor extracts plain text from a stored document.
type TextExtractor interface {
	Extract(ctx context.Context, doc *domain.Document) (string, error)
}

// Chunker splits extracted text into chunks with stable ids.
type Chunker interface {
	Split(documentID, text string, metadata map[string]any) []domain.Chunk
}

// TokenCounter approximates the generation model's token accounting for the
// history budget.
type TokenCounter interface {
	Count(text string) int
}

// DualIndex is the combined dense + sparse retrieval surface. SearchKeyword
// reports ok=false while the keyword index is absent, which is a valid
// degraded state and not an error.
type DualIndex interface {
	Insert(ctx context.Context, chunks []domain.Chunk, vectors [][]float32) error
	DeleteByDocument(ctx context.Context, documentID string) error
	RefreshKeyword(ctx context.Context) error
	SearchVector(ctx context.Context, queryVector []float32, topK int) ([]domain.Candidate, error)
	SearchKeyword(query string, topK int) ([]domain.Candidate, bool)
}
