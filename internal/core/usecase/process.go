package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kirillkom/docquery/internal/core/domain"
	"github.com/kirillkom/docquery/internal/core/ports"
)

// ProcessUseCase is the background ingestion pipeline for one document:
// extract, chunk, enrich, embed, index. Re-running it for the same document
// first drops the document's existing chunks, so retries never duplicate.
type ProcessUseCase struct {
	repo      ports.DocumentRepository
	extractor ports.TextExtractor
	chunker   ports.Chunker
	enricher  *PassageEnricher
	embedder  ports.Embedder
	index     ports.DualIndex
	logger    *slog.Logger
}

func NewProcessUseCase(
	repo ports.DocumentRepository,
	extractor ports.TextExtractor,
	chunker ports.Chunker,
	enricher *PassageEnricher,
	embedder ports.Embedder,
	index ports.DualIndex,
	logger *slog.Logger,
) *ProcessUseCase {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProcessUseCase{
		repo:      repo,
		extractor: extractor,
		chunker:   chunker,
		enricher:  enricher,
		embedder:  embedder,
		index:     index,
		logger:    logger,
	}
}

func (uc *ProcessUseCase) ProcessTask(ctx context.Context, job domain.IngestJob) error {
	if err := uc.repo.UpdateStatus(ctx, job.DocumentID, domain.StatusProcessing, ""); err != nil {
		return fmt.Errorf("set status=processing: %w", err)
	}

	chunkCount, err := uc.pipeline(ctx, job.DocumentID)
	if err != nil {
		if failErr := uc.repo.UpdateStatus(ctx, job.DocumentID, domain.StatusFailed, err.Error()); failErr != nil {
			return fmt.Errorf("%w; mark failed status: %v", err, failErr)
		}
		return err
	}

	if err := uc.repo.SetChunkCount(ctx, job.DocumentID, chunkCount); err != nil {
		return fmt.Errorf("save chunk count: %w", err)
	}
	if err := uc.repo.UpdateStatus(ctx, job.DocumentID, domain.StatusReady, ""); err != nil {
		return fmt.Errorf("set status=ready: %w", err)
	}
	return nil
}

func (uc *ProcessUseCase) pipeline(ctx context.Context, documentID string) (int, error) {
	doc, err := uc.repo.GetByID(ctx, documentID)
	if err != nil {
		return 0, fmt.Errorf("fetch document by id: %w", err)
	}

	text, err := uc.extractor.Extract(ctx, doc)
	if err != nil {
		return 0, domain.WrapError(domain.ErrParse, "extract text", err)
	}
	if text == "" {
		return 0, domain.WrapError(domain.ErrParse, "extract text", errors.New("empty extracted text"))
	}

	chunks := uc.chunker.Split(doc.ID, text, doc.Metadata)
	if len(chunks) == 0 {
		return 0, domain.WrapError(domain.ErrParse, "chunk document", errors.New("chunking produced zero chunks"))
	}

	for i := range chunks {
		chunks[i] = uc.enricher.Enrich(ctx, chunks[i], doc.FileName)
	}

	texts := make([]string, len(chunks))
	for i, chunk := range chunks {
		texts[i] = chunk.Text
	}
	vectors, err := uc.embedder.Embed(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("embed chunks: %w", err)
	}
	if len(vectors) != len(chunks) {
		return 0, domain.WrapError(domain.ErrInvalidInput, "embed chunks",
			fmt.Errorf("vectors/chunks mismatch: %d/%d", len(vectors), len(chunks)))
	}

	// Drop any chunks from a previous attempt so retries stay idempotent.
	if err := uc.index.DeleteByDocument(ctx, doc.ID); err != nil {
		return 0, err
	}
	if err := uc.index.Insert(ctx, chunks, vectors); err != nil {
		return 0, err
	}

	uc.logger.Info("document_indexed", "document_id", doc.ID, "chunks", len(chunks))
	return len(chunks), nil
}
