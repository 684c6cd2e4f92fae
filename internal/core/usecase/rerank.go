package usecase

import (
	"context"
	"fmt"
	"sort"

	"github.com/kirillkom/docquery/internal/core/domain"
	"github.com/kirillkom/docquery/internal/core/ports"
)

// Reranker refines a fused candidate list with a cross-encoder relevance
// model and keeps the top-n by score. Raw cross-encoder scores are only
// meaningful as a relative ordering, so selection is always top-n, never a
// score threshold.
type Reranker struct {
	model ports.RerankerModel
	topN  int
}

// NewReranker builds the adapter. When topN is unset it defaults to half the
// fusion top_k, with a floor of one.
func NewReranker(model ports.RerankerModel, topN, fusionTopK int) *Reranker {
	if topN <= 0 {
		topN = fusionTopK / 2
	}
	if topN <= 0 {
		topN = 5
	}
	return &Reranker{model: model, topN: topN}
}

func (r *Reranker) TopN() int { return r.topN }

// Rerank scores every (query, passage) pair and returns the topN candidates
// sorted by descending relevance. An empty input returns an empty output
// without invoking the model.
func (r *Reranker) Rerank(ctx context.Context, query string, fused []domain.FusedCandidate) ([]domain.RankedCandidate, error) {
	if len(fused) == 0 {
		return nil, nil
	}
	if r.model == nil {
		return nil, domain.WrapError(domain.ErrRerank, "rerank candidates", fmt.Errorf("no reranker model configured"))
	}

	passages := make([]string, len(fused))
	for i, cand := range fused {
		passages[i] = cand.Chunk.Text
	}

	scores, err := r.model.Score(ctx, query, passages)
	if err != nil {
		return nil, domain.WrapError(domain.ErrRerank, "rerank candidates", err)
	}
	if len(scores) != len(fused) {
		return nil, domain.WrapError(domain.ErrRerank, "rerank candidates",
			errScoreCountMismatch(len(scores), len(fused)))
	}

	ranked := make([]domain.RankedCandidate, len(fused))
	for i, cand := range fused {
		ranked[i] = domain.RankedCandidate{
			Chunk:          cand.Chunk,
			FusionScore:    cand.FusionScore,
			RelevanceScore: scores[i],
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].RelevanceScore != ranked[j].RelevanceScore {
			return ranked[i].RelevanceScore > ranked[j].RelevanceScore
		}
		return ranked[i].Chunk.ID < ranked[j].Chunk.ID
	})

	if len(ranked) > r.topN {
		ranked = ranked[:r.topN]
	}
	return ranked, nil
}

func errScoreCountMismatch(got, want int) error {
	return fmt.Errorf("scores/passages mismatch: %d/%d", got, want)
}
