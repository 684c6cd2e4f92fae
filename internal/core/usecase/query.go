package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kirillkom/docquery/internal/core/domain"
	"github.com/kirillkom/docquery/internal/core/ports"
)

const (
	defaultHybridCandidates = 30
	sourceExcerptRunes      = 240
)

type QueryConfig struct {
	HybridCandidates int
	Fusion           FusionConfig
}

func (c QueryConfig) normalize() QueryConfig {
	if c.HybridCandidates <= 0 {
		c.HybridCandidates = defaultHybridCandidates
	}
	c.Fusion = c.Fusion.normalize()
	return c
}

// RetrievalObserver receives degradation events from the answer pipeline.
// All methods are fire-and-forget.
type RetrievalObserver interface {
	KeywordAbsent()
	RerankFallback()
	CondensedQuery()
}

// QueryUseCase composes the answer pipeline: condense, hybrid retrieve, fuse,
// rerank, generate, persist. Every stage except generation degrades
// gracefully instead of failing the request.
type QueryUseCase struct {
	conversations *ConversationManager
	embedder      ports.Embedder
	index         ports.DualIndex
	reranker      *Reranker
	generator     ports.Generator
	logger        *slog.Logger
	cfg           QueryConfig
	observer      RetrievalObserver
}

func NewQueryUseCase(
	conversations *ConversationManager,
	embedder ports.Embedder,
	index ports.DualIndex,
	reranker *Reranker,
	generator ports.Generator,
	logger *slog.Logger,
	cfg QueryConfig,
) *QueryUseCase {
	if logger == nil {
		logger = slog.Default()
	}
	return &QueryUseCase{
		conversations: conversations,
		embedder:      embedder,
		index:         index,
		reranker:      reranker,
		generator:     generator,
		logger:        logger,
		cfg:           cfg.normalize(),
	}
}

// SetObserver attaches a degradation-event sink. May stay unset.
func (uc *QueryUseCase) SetObserver(obs RetrievalObserver) {
	uc.observer = obs
}

func (uc *QueryUseCase) Answer(ctx context.Context, question, sessionID string) (*domain.Answer, error) {
	return uc.answer(ctx, question, sessionID, nil)
}

// AnswerStream behaves like Answer but delivers tokens through emit as they
// arrive. On cancellation the partial output is discarded and the session is
// left untouched.
func (uc *QueryUseCase) AnswerStream(ctx context.Context, question, sessionID string, emit func(token string) error) (*domain.Answer, error) {
	return uc.answer(ctx, question, sessionID, emit)
}

func (uc *QueryUseCase) answer(ctx context.Context, question, sessionID string, emit func(token string) error) (*domain.Answer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "answer query", fmt.Errorf("question is required"))
	}

	sessionID = uc.conversations.EnsureSessionID(sessionID)
	release := uc.conversations.Acquire(sessionID)
	defer release()

	session := uc.conversations.Load(ctx, sessionID)
	standalone := uc.conversations.Condense(ctx, session, question)
	if uc.observer != nil && len(session.Messages) > 0 && standalone != question {
		uc.observer.CondensedQuery()
	}

	ranked := uc.retrieve(ctx, standalone)
	if len(ranked) == 0 {
		uc.logger.Warn("answer_without_context", "session_id", sessionID, "query", standalone)
	}

	prompt := buildAnswerPrompt(question, session.Messages, ranked)

	var answerText string
	var err error
	if emit != nil {
		answerText, err = uc.generator.Stream(ctx, prompt, emit)
	} else {
		answerText, err = uc.generator.Complete(ctx, prompt)
	}
	if err != nil {
		// Cancellation discards the partial output; nothing is persisted so
		// the history never contains a half-written turn.
		return nil, domain.WrapError(domain.ErrGeneration, "generate answer", err)
	}

	uc.conversations.AppendTurn(ctx, session, question, answerText)

	return &domain.Answer{
		Text:      answerText,
		Sources:   collectSources(ranked),
		SessionID: sessionID,
	}, nil
}

// retrieve runs both retrievers, fuses, and reranks. Any failure inside
// shrinks the result instead of propagating: worst case is an empty list.
func (uc *QueryUseCase) retrieve(ctx context.Context, query string) []domain.RankedCandidate {
	var vectorList []domain.Candidate
	queryVector, err := uc.embedder.EmbedQuery(ctx, query)
	if err != nil {
		uc.logger.Warn("query_embedding_failed", "error", err)
	} else {
		vectorList, err = uc.index.SearchVector(ctx, queryVector, uc.cfg.HybridCandidates)
		if err != nil {
			uc.logger.Warn("vector_search_failed", "error", err)
			vectorList = nil
		}
	}

	keywordList, keywordOK := uc.index.SearchKeyword(query, uc.cfg.HybridCandidates)
	if !keywordOK {
		uc.logger.Debug("keyword_index_absent", "query", query)
		if uc.observer != nil {
			uc.observer.KeywordAbsent()
		}
	}

	fused := FuseRRF(vectorList, keywordList, uc.cfg.Fusion)
	if len(fused) == 0 {
		return nil
	}

	ranked, err := uc.reranker.Rerank(ctx, query, fused)
	if err != nil {
		uc.logger.Warn("rerank_fallback", "error", err)
		if uc.observer != nil {
			uc.observer.RerankFallback()
		}
		return fallbackRanked(fused, uc.reranker.TopN())
	}
	return ranked
}

// fallbackRanked passes the fused ordering through unchanged when the rerank
// model is unavailable: degraded precision, not a failed query.
func fallbackRanked(fused []domain.FusedCandidate, topN int) []domain.RankedCandidate {
	if len(fused) > topN {
		fused = fused[:topN]
	}
	out := make([]domain.RankedCandidate, len(fused))
	for i, cand := range fused {
		out[i] = domain.RankedCandidate{
			Chunk:          cand.Chunk,
			FusionScore:    cand.FusionScore,
			RelevanceScore: cand.FusionScore,
		}
	}
	return out
}

// collectSources deduplicates by document while preserving the reranked order.
func collectSources(ranked []domain.RankedCandidate) []domain.Source {
	out := make([]domain.Source, 0, len(ranked))
	seen := make(map[string]struct{}, len(ranked))
	for _, cand := range ranked {
		if _, ok := seen[cand.Chunk.DocumentID]; ok {
			continue
		}
		seen[cand.Chunk.DocumentID] = struct{}{}
		out = append(out, domain.Source{
			DocumentID: cand.Chunk.DocumentID,
			Excerpt:    excerptOf(cand.Chunk.OriginalText),
			Score:      cand.RelevanceScore,
		})
	}
	return out
}

func excerptOf(text string) string {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) <= sourceExcerptRunes {
		return string(runes)
	}
	return string(runes[:sourceExcerptRunes]) + "…"
}

func buildAnswerPrompt(question string, history []domain.Message, ranked []domain.RankedCandidate) string {
	var b strings.Builder
	b.WriteString("You are an assistant answering questions over a private document collection.\n")

	if len(ranked) > 0 {
		b.WriteString("Use the following passages to answer. Cite only what they support.\n\nPassages:\n")
		for i, cand := range ranked {
			fmt.Fprintf(&b, "[%d] %s\n", i+1, strings.TrimSpace(cand.Chunk.Text))
		}
	} else {
		b.WriteString("No relevant passages were found; answer from general knowledge and say so.\n")
	}

	if len(history) > 0 {
		b.WriteString("\nConversation so far:\n")
		for _, msg := range history {
			fmt.Fprintf(&b, "%s: %s\n", msg.Role, strings.TrimSpace(msg.Content))
		}
	}

	fmt.Fprintf(&b, "\nQuestion: %s\nAnswer:", question)
	return b.String()
}
