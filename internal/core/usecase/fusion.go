package usecase

import (
	"sort"

	"github.com/kirillkom/docquery/internal/core/domain"
)

const (
	defaultFusionK    = 60
	defaultFusionTopK = 10
)

type FusionConfig struct {
	K    int
	TopK int
}

func (c FusionConfig) normalize() FusionConfig {
	if c.K <= 0 {
		c.K = defaultFusionK
	}
	if c.TopK <= 0 {
		c.TopK = defaultFusionTopK
	}
	return c
}

// FuseRRF merges two independently ranked candidate lists with Reciprocal
// Rank Fusion: every distinct chunk scores the sum of 1/(rank+k) over the
// lists it appears in, with 0-indexed ranks. Ties break by the chunk's best
// rank across lists, then by chunk id. When the keyword list is empty the
// output is the vector list in its original order, truncated to top_k.
func FuseRRF(vector, keyword []domain.Candidate, cfg FusionConfig) []domain.FusedCandidate {
	cfg = cfg.normalize()

	type accum struct {
		chunk    domain.Chunk
		score    float64
		bestRank int
	}

	acc := make(map[string]*accum, len(vector)+len(keyword))
	addList := func(list []domain.Candidate) {
		for _, cand := range list {
			entry, ok := acc[cand.Chunk.ID]
			if !ok {
				entry = &accum{chunk: cand.Chunk, bestRank: cand.Rank}
				acc[cand.Chunk.ID] = entry
			}
			if cand.Chunk.Text != "" && entry.chunk.Text == "" {
				entry.chunk = cand.Chunk
			}
			entry.score += 1.0 / float64(cand.Rank+cfg.K)
			if cand.Rank < entry.bestRank {
				entry.bestRank = cand.Rank
			}
		}
	}
	addList(vector)
	addList(keyword)

	out := make([]domain.FusedCandidate, 0, len(acc))
	for _, entry := range acc {
		out = append(out, domain.FusedCandidate{
			Chunk:       entry.chunk,
			FusionScore: entry.score,
			BestRank:    entry.bestRank,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].FusionScore != out[j].FusionScore {
			return out[i].FusionScore > out[j].FusionScore
		}
		if out[i].BestRank != out[j].BestRank {
			return out[i].BestRank < out[j].BestRank
		}
		return out[i].Chunk.ID < out[j].Chunk.ID
	})

	if len(out) > cfg.TopK {
		out = out[:cfg.TopK]
	}
	return out
}
