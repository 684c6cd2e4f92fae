package usecase

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kirillkom/docquery/internal/core/domain"
	"github.com/kirillkom/docquery/internal/core/ports"
)

// DeleteUseCase removes a document's chunks from both indexes, its stored
// source file, and its metadata row. Deleting an unknown id succeeds with
// zero effect.
type DeleteUseCase struct {
	repo    ports.DocumentRepository
	storage ports.ObjectStorage
	index   ports.DualIndex
	logger  *slog.Logger
}

func NewDeleteUseCase(repo ports.DocumentRepository, storage ports.ObjectStorage, index ports.DualIndex, logger *slog.Logger) *DeleteUseCase {
	if logger == nil {
		logger = slog.Default()
	}
	return &DeleteUseCase{repo: repo, storage: storage, index: index, logger: logger}
}

func (uc *DeleteUseCase) Delete(ctx context.Context, documentID string) error {
	if err := uc.index.DeleteByDocument(ctx, documentID); err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}
	// The keyword index is stale now; rebuild so term statistics forget the
	// document instead of waiting for the next ingest batch.
	if err := uc.index.RefreshKeyword(ctx); err != nil {
		return fmt.Errorf("refresh keyword index: %w", err)
	}

	doc, err := uc.repo.GetByID(ctx, documentID)
	if err != nil {
		if domain.IsKind(err, domain.ErrDocumentNotFound) {
			return nil
		}
		return fmt.Errorf("fetch document: %w", err)
	}

	if err := uc.storage.Remove(ctx, doc.StoragePath); err != nil {
		uc.logger.Warn("source_file_remove_failed", "document_id", documentID, "error", err)
	}
	if err := uc.repo.Delete(ctx, documentID); err != nil {
		return fmt.Errorf("delete document row: %w", err)
	}
	uc.logger.Info("document_deleted", "document_id", documentID)
	return nil
}
