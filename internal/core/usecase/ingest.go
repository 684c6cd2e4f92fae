package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/docquery/internal/core/domain"
	"github.com/kirillkom/docquery/internal/core/ports"
)

// IngestUseCase accepts uploads, persists the raw files and document rows,
// and dispatches one background ingestion job per document. Failures are
// isolated per file: one broken upload does not sink the batch.
type IngestUseCase struct {
	repo    ports.DocumentRepository
	storage ports.ObjectStorage
	queue   ports.MessageQueue
	logger  *slog.Logger
}

func NewIngestUseCase(repo ports.DocumentRepository, storage ports.ObjectStorage, queue ports.MessageQueue, logger *slog.Logger) *IngestUseCase {
	if logger == nil {
		logger = slog.Default()
	}
	return &IngestUseCase{repo: repo, storage: storage, queue: queue, logger: logger}
}

func (uc *IngestUseCase) Upload(ctx context.Context, files []ports.UploadFile) (string, error) {
	if len(files) == 0 {
		return "", domain.WrapError(domain.ErrInvalidInput, "upload batch", fmt.Errorf("at least one file is required"))
	}

	batchID := uuid.NewString()
	accepted := 0
	for _, file := range files {
		if err := uc.uploadOne(ctx, batchID, file); err != nil {
			uc.logger.Warn("upload_file_failed", "batch_id", batchID, "file", file.Name, "error", err)
			continue
		}
		accepted++
	}
	if accepted == 0 {
		return "", fmt.Errorf("upload batch %s: no file accepted", batchID)
	}
	return batchID, nil
}

func (uc *IngestUseCase) uploadOne(ctx context.Context, batchID string, file ports.UploadFile) error {
	id := uuid.NewString()
	storageKey := fmt.Sprintf("%s_%s", id, sanitizeFileName(file.Name))
	now := time.Now().UTC()

	if err := uc.storage.Save(ctx, storageKey, file.Body); err != nil {
		return fmt.Errorf("save to object storage: %w", err)
	}

	doc := &domain.Document{
		ID:          id,
		BatchID:     batchID,
		FileName:    file.Name,
		MimeType:    file.MimeType,
		Size:        file.Size,
		StoragePath: storageKey,
		Metadata:    domain.FlattenMetadata(file.Metadata),
		Status:      domain.StatusUploaded,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := uc.repo.Create(ctx, doc); err != nil {
		return fmt.Errorf("create document row: %w", err)
	}

	job := domain.IngestJob{BatchID: batchID, DocumentID: id, EnqueuedAt: now}
	if err := uc.queue.PublishIngestTask(ctx, job); err != nil {
		return fmt.Errorf("publish ingest task: %w", err)
	}
	return nil
}

func sanitizeFileName(name string) string {
	base := filepath.Base(name)
	base = strings.ReplaceAll(base, " ", "_")
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, base)
	if base == "" || base == "." {
		return "document.bin"
	}
	return base
}
