// Package keyword implements the sparse half of the dual index: an immutable
// BM25 snapshot built from the full chunk set. Snapshots are never mutated
// after Build; the index manager publishes a new generation with an atomic
// pointer swap.
package keyword

import (
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/kirillkom/docquery/internal/core/domain"
)

const (
	bm25K1 = 1.2
	bm25B  = 0.75
)

type posting struct {
	chunkID string
	tf      int
}

type Snapshot struct {
	generation uint64
	postings   map[string][]posting
	docLen     map[string]int
	chunks     map[string]domain.Chunk
	avgDocLen  float64
}

// Build constructs a snapshot from a consistent view of the chunk set.
// Chunks with empty text are skipped.
func Build(chunks []domain.Chunk, generation uint64) *Snapshot {
	s := &Snapshot{
		generation: generation,
		postings:   make(map[string][]posting),
		docLen:     make(map[string]int, len(chunks)),
		chunks:     make(map[string]domain.Chunk, len(chunks)),
	}

	totalLen := 0
	for _, chunk := range chunks {
		tokens := Tokenize(chunk.Text)
		if len(tokens) == 0 {
			continue
		}
		if _, seen := s.chunks[chunk.ID]; seen {
			continue
		}
		s.chunks[chunk.ID] = chunk
		s.docLen[chunk.ID] = len(tokens)
		totalLen += len(tokens)

		tf := make(map[string]int, len(tokens))
		for _, token := range tokens {
			tf[token]++
		}
		for token, freq := range tf {
			s.postings[token] = append(s.postings[token], posting{chunkID: chunk.ID, tf: freq})
		}
	}

	if len(s.docLen) > 0 {
		s.avgDocLen = float64(totalLen) / float64(len(s.docLen))
	}
	return s
}

func (s *Snapshot) Generation() uint64 { return s.generation }

func (s *Snapshot) Size() int { return len(s.chunks) }

// Search ranks chunks by BM25 against the query terms. Ranks in the returned
// candidates are 0-indexed; ties are broken by chunk id for determinism.
func (s *Snapshot) Search(query string, topK int) []domain.Candidate {
	if topK <= 0 || len(s.chunks) == 0 {
		return nil
	}

	scores := make(map[string]float64)
	totalDocs := float64(len(s.chunks))
	for _, token := range Tokenize(query) {
		plist, ok := s.postings[token]
		if !ok {
			continue
		}
		df := float64(len(plist))
		idf := math.Log(1.0 + (totalDocs-df+0.5)/(df+0.5))
		for _, p := range plist {
			dl := float64(s.docLen[p.chunkID])
			tf := float64(p.tf)
			norm := tf + bm25K1*(1.0-bm25B+bm25B*dl/s.avgDocLen)
			scores[p.chunkID] += idf * tf * (bm25K1 + 1.0) / norm
		}
	}
	if len(scores) == 0 {
		return nil
	}

	ids := make([]string, 0, len(scores))
	for id := range scores {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if scores[ids[i]] != scores[ids[j]] {
			return scores[ids[i]] > scores[ids[j]]
		}
		return ids[i] < ids[j]
	})
	if len(ids) > topK {
		ids = ids[:topK]
	}

	out := make([]domain.Candidate, 0, len(ids))
	for rank, id := range ids {
		out = append(out, domain.Candidate{
			Chunk:  s.chunks[id],
			Rank:   rank,
			Source: domain.SourceKeyword,
			Score:  scores[id],
		})
	}
	return out
}

// Tokenize lowercases and splits on any non-alphanumeric rune.
func Tokenize(s string) []string {
	if s == "" {
		return nil
	}
	out := make([]string, 0, 24)
	var b strings.Builder
	for _, r := range s {
		r = unicode.ToLower(r)
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			continue
		}
		if b.Len() > 0 {
			out = append(out, b.String())
			b.Reset()
		}
	}
	if b.Len() > 0 {
		out = append(out, b.String())
	}
	return out
}
