package ports

import (
	"context"
	"io"

	"github.com/kirillkom/docquery/internal/core/domain"
)

// UploadFile is one file of an ingestion request.
type UploadFile struct {
	Name     string
	MimeType string
	Size     int64
	Metadata map[string]any
	Body     io.Reader
}

// QueryService answers questions over the indexed collection.
type QueryService interface {
	Answer(ctx context.Context, question, sessionID string) (*domain.Answer, error)
	AnswerStream(ctx context.Context, question, sessionID string, emit func(token string) error) (*domain.Answer, error)
}

// DocumentIngestor accepts uploads and dispatches background ingestion.
type DocumentIngestor interface {
	Upload(ctx context.Context, files []UploadFile) (batchID string, err error)
}

// BatchReader reports per-task ingestion progress.
type BatchReader interface {
	GetBatch(ctx context.Context, batchID string) ([]domain.IngestTask, error)
}

// DocumentDeleter removes a document's chunks from both indexes. Idempotent.
type DocumentDeleter interface {
	Delete(ctx context.Context, documentID string) error
}

// SessionClearer drops a session's history immediately, independent of TTL.
type SessionClearer interface {
	Clear(ctx context.Context, sessionID string) error
}

// DocumentProcessor runs one background ingestion task.
type DocumentProcessor interface {
	ProcessTask(ctx context.Context, job domain.IngestJob) error
}
