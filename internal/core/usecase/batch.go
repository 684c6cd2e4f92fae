package usecase

import (
	"context"
	"fmt"

	"github.com/kirillkom/docquery/internal/core/domain"
	"github.com/kirillkom/docquery/internal/core/ports"
)

// BatchUseCase exposes per-task ingestion progress for one upload batch.
type BatchUseCase struct {
	repo ports.DocumentRepository
}

func NewBatchUseCase(repo ports.DocumentRepository) *BatchUseCase {
	return &BatchUseCase{repo: repo}
}

func (uc *BatchUseCase) GetBatch(ctx context.Context, batchID string) ([]domain.IngestTask, error) {
	docs, err := uc.repo.ListByBatch(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("list batch documents: %w", err)
	}
	if len(docs) == 0 {
		return nil, domain.WrapError(domain.ErrBatchNotFound, "get batch", fmt.Errorf("batch %s", batchID))
	}

	tasks := make([]domain.IngestTask, 0, len(docs))
	for _, doc := range docs {
		tasks = append(tasks, domain.IngestTask{
			DocumentID: doc.ID,
			FileName:   doc.FileName,
			Status:     domain.TaskStatusFor(doc.Status),
			ChunkCount: doc.ChunkCount,
			Error:      doc.Error,
			UpdatedAt:  doc.UpdatedAt,
		})
	}
	return tasks, nil
}
