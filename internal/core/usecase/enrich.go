package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kirillkom/docquery/internal/core/domain"
	"github.com/kirillkom/docquery/internal/core/ports"
)

const enrichTimeout = 30 * time.Second

// PassageEnricher prepends a short generated description of what a passage is
// part of before it gets indexed. Enrichment is a quality enhancement only:
// any failure falls back to the unmodified chunk with a warning.
type PassageEnricher struct {
	generator  ports.Generator
	logger     *slog.Logger
	enabled    bool
	onFallback func()
}

func NewPassageEnricher(generator ports.Generator, logger *slog.Logger, enabled bool) *PassageEnricher {
	if logger == nil {
		logger = slog.Default()
	}
	return &PassageEnricher{generator: generator, logger: logger, enabled: enabled}
}

// SetFallbackHook registers a callback fired whenever a chunk is indexed
// without a generated prefix. Used for metrics; may stay unset.
func (e *PassageEnricher) SetFallbackHook(fn func()) {
	e.onFallback = fn
}

func (e *PassageEnricher) fallback() {
	if e.onFallback != nil {
		e.onFallback()
	}
}

func (e *PassageEnricher) Enrich(ctx context.Context, chunk domain.Chunk, documentName string) domain.Chunk {
	if !e.enabled {
		return chunk
	}

	enrichCtx, cancel := context.WithTimeout(ctx, enrichTimeout)
	defer cancel()

	description, err := e.generator.Complete(enrichCtx, buildEnrichPrompt(chunk.OriginalText, documentName))
	if err != nil {
		e.logger.Warn("enrichment_fallback", "chunk_id", chunk.ID, "error",
			domain.WrapError(domain.ErrEnrichment, "enrich passage", err))
		e.fallback()
		return chunk
	}
	description = strings.TrimSpace(description)
	if description == "" {
		e.logger.Warn("enrichment_fallback", "chunk_id", chunk.ID, "reason", "empty response")
		e.fallback()
		return chunk
	}

	chunk.Text = description + "\n\n" + chunk.OriginalText
	return chunk
}

func buildEnrichPrompt(passage, documentName string) string {
	return fmt.Sprintf(`The following passage comes from the document %q.
Write 1-2 sentences describing what this passage is part of and what it discusses.
Return only the description, no preamble.

Passage:
%s`, documentName, passage)
}
